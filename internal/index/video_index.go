// Package index builds and represents the Video Index: per-sample byte
// offsets and sizes, keyframe positions, codec extradata, and dimensions
// for the video track of an MP4 file. The index is the unit of persistence
// for random-access playback and is immutable once constructed.
package index

// VideoIndex describes every sample of a video track. Instances are
// constructed by the Builder or by Deserialize and are read-only after
// construction.
type VideoIndex struct {
	timescale       uint32
	duration        uint64
	frameWidth      uint32
	frameHeight     uint32
	format          string
	sampleOffsets   []uint64
	sampleSizes     []uint64
	keyframeIndices []uint64
	metadataBytes   []byte
}

// NewVideoIndex constructs a VideoIndex. Keyframe indices are normalized
// so that the first sample is always a random-access point when the track
// is non-empty.
func NewVideoIndex(timescale uint32, duration uint64, width, height uint32,
	format string, sampleOffsets, sampleSizes, keyframeIndices []uint64,
	metadata []byte) *VideoIndex {
	if len(sampleOffsets) > 0 && (len(keyframeIndices) == 0 || keyframeIndices[0] != 0) {
		keyframeIndices = append([]uint64{0}, keyframeIndices...)
	}
	return &VideoIndex{
		timescale:       timescale,
		duration:        duration,
		frameWidth:      width,
		frameHeight:     height,
		format:          format,
		sampleOffsets:   sampleOffsets,
		sampleSizes:     sampleSizes,
		keyframeIndices: keyframeIndices,
		metadataBytes:   metadata,
	}
}

// Timescale returns the media timescale in units per second.
func (v *VideoIndex) Timescale() uint32 { return v.timescale }

// Duration returns the track duration in timescale units.
func (v *VideoIndex) Duration() uint64 { return v.duration }

// FrameWidth returns the coded frame width in pixels.
func (v *VideoIndex) FrameWidth() uint32 { return v.frameWidth }

// FrameHeight returns the coded frame height in pixels.
func (v *VideoIndex) FrameHeight() uint32 { return v.frameHeight }

// Format returns the codec tag (avc1, h264, hev1, hevc, h265).
func (v *VideoIndex) Format() string { return v.format }

// SampleOffsets returns the absolute byte offset of each sample.
// The returned slice must not be modified.
func (v *VideoIndex) SampleOffsets() []uint64 { return v.sampleOffsets }

// SampleSizes returns the byte length of each sample.
// The returned slice must not be modified.
func (v *VideoIndex) SampleSizes() []uint64 { return v.sampleSizes }

// KeyframeIndices returns the strictly increasing sample indices that are
// random-access points. The returned slice must not be modified.
func (v *VideoIndex) KeyframeIndices() []uint64 { return v.keyframeIndices }

// MetadataBytes returns the codec-private extradata (the avcC or hvcC
// record payload). The returned slice must not be modified.
func (v *VideoIndex) MetadataBytes() []byte { return v.metadataBytes }

// Frames returns the number of samples in the track.
func (v *VideoIndex) Frames() uint64 { return uint64(len(v.sampleOffsets)) }

// Package decoder drives an underlying video codec to deliver exactly the
// caller's requested frames, in order, from keyframe-aligned decode
// segments. The DecoderAutomata pairs a feeder goroutine that pushes
// encoded packets with the caller's retriever that pulls decoded frames.
package decoder

import (
	"fmt"
)

// DeviceType distinguishes host and GPU decode targets.
type DeviceType int

const (
	// DeviceCPU decodes on the host.
	DeviceCPU DeviceType = iota
	// DeviceGPU decodes on a GPU device.
	DeviceGPU
)

// DeviceHandle identifies the device a decoder runs on.
type DeviceHandle struct {
	Type DeviceType
	ID   int32
}

// CPUDevice is the default host device.
var CPUDevice = DeviceHandle{Type: DeviceCPU, ID: 0}

// Kind selects a decoder implementation.
type Kind string

const (
	// KindAuto probes the host and picks hardware decode when available.
	KindAuto Kind = "auto"
	// KindSoftware uses the libavcodec software decoder.
	KindSoftware Kind = "software"
	// KindNvidia uses the NVDEC hardware decoder.
	KindNvidia Kind = "nvidia"
)

// FrameInfo describes the stream a decoder is configured for.
type FrameInfo struct {
	Width  uint32
	Height uint32
	Format string
}

// VideoDecoder is the uniform contract over the software and hardware
// decoders. Implementations are single-caller; the automaton serializes
// access.
type VideoDecoder interface {
	// Configure prepares the decoder for a stream. extradata is the
	// avcC/hvcC record from the Video Index; implementations must copy
	// it rather than alias the caller's buffer.
	Configure(info FrameInfo, extradata []byte) error

	// Feed pushes one encoded sample. An empty packet signals end of
	// stream. discontinuity tells the decoder to reset for a seek.
	Feed(packet []byte, keyframe, discontinuity bool) error

	// DiscardFrame drops one decoded frame from the output queue, if any.
	DiscardFrame() error

	// GetFrame pops one decoded frame, converts it to RGB24, and writes
	// it into buf, which must hold width*height*3 bytes.
	GetFrame(buf []byte) error

	// DecodedFramesBuffered returns the number of frames ready to pop.
	DecodedFramesBuffered() int

	// Flush drains residual frames out of the codec pipeline into the
	// output queue.
	Flush() error

	// WaitUntilFramesCopied blocks until asynchronous frame copies into
	// caller buffers have completed.
	WaitUntilFramesCopied() error

	// Close releases codec resources.
	Close() error
}

// EncodedData is one decode segment: a contiguous, keyframe-aligned run
// of samples plus the subset of frames the caller wants back. The first
// byte of EncodedVideo corresponds to SampleOffsets[0]; sample offsets
// keep their original absolute file values.
type EncodedData struct {
	EncodedVideo []byte
	Width        uint32
	Height       uint32

	// Format is the codec tag of the stream (avc1, h264, hev1, hevc,
	// h265), carried so the decoder can be configured per segment list.
	Format string

	// StartKeyframe is the first sample (a keyframe); EndKeyframe is the
	// exclusive upper bound, itself a keyframe index or the frame count.
	StartKeyframe uint64
	EndKeyframe   uint64

	// SampleOffsets and SampleSizes cover [StartKeyframe, EndKeyframe).
	SampleOffsets []uint64
	SampleSizes   []uint64

	// Keyframes lists the keyframe indices within the segment, sentinel
	// terminated with EndKeyframe.
	Keyframes []uint64

	// ValidFrames is the strictly increasing subset of
	// [StartKeyframe, EndKeyframe) to return to the caller.
	ValidFrames []uint64
}

// validate checks the caller-facing contract of a segment.
func (d *EncodedData) validate() error {
	if len(d.ValidFrames) == 0 {
		return fmt.Errorf("decoder: segment has no valid frames")
	}
	if len(d.SampleOffsets) != len(d.SampleSizes) {
		return fmt.Errorf("decoder: segment has %d sample offsets but %d sizes",
			len(d.SampleOffsets), len(d.SampleSizes))
	}
	if uint64(len(d.SampleOffsets)) != d.EndKeyframe-d.StartKeyframe {
		return fmt.Errorf("decoder: segment covers %d samples but spans [%d, %d)",
			len(d.SampleOffsets), d.StartKeyframe, d.EndKeyframe)
	}
	if len(d.Keyframes) == 0 || d.Keyframes[0] != d.StartKeyframe {
		return fmt.Errorf("decoder: segment must start at a keyframe")
	}
	if d.Keyframes[len(d.Keyframes)-1] != d.EndKeyframe {
		return fmt.Errorf("decoder: segment keyframes must end with the %d sentinel", d.EndKeyframe)
	}
	if n := len(d.SampleOffsets); n > 0 {
		span := d.SampleOffsets[n-1] + d.SampleSizes[n-1] - d.SampleOffsets[0]
		if uint64(len(d.EncodedVideo)) < span {
			return fmt.Errorf("decoder: segment buffer holds %d bytes but samples span %d",
				len(d.EncodedVideo), span)
		}
	}
	prev := int64(-1)
	for _, f := range d.ValidFrames {
		if f < d.StartKeyframe || f >= d.EndKeyframe {
			return fmt.Errorf("decoder: valid frame %d outside segment [%d, %d)",
				f, d.StartKeyframe, d.EndKeyframe)
		}
		if int64(f) <= prev {
			return fmt.Errorf("decoder: valid frames must be strictly increasing")
		}
		prev = int64(f)
	}
	return nil
}

// Package hwang provides random-access, stride-aware playback over
// H.264/HEVC video stored in MP4 containers. A resumable index builder
// streams an MP4 file in chunks and produces a compact Video Index; the
// decoder automata then delivers exactly the caller's requested frames,
// in order, decoding each keyframe-aligned segment once.
package hwang

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/scanner-research/hwang/internal/decoder"
	"github.com/scanner-research/hwang/internal/decoder/nvidia"
	"github.com/scanner-research/hwang/internal/decoder/software"
	"github.com/scanner-research/hwang/internal/hwdetect"
	"github.com/scanner-research/hwang/internal/index"
)

// VideoIndex is the immutable per-sample index of a video track.
type VideoIndex = index.VideoIndex

// NewVideoIndex constructs a VideoIndex from its parts.
var NewVideoIndex = index.NewVideoIndex

// DeserializeVideoIndex decodes a serialized Video Index.
func DeserializeVideoIndex(data []byte) (*VideoIndex, error) {
	return index.Deserialize(data)
}

// MP4IndexBuilder is the resumable, bounded-memory MP4 parser.
type MP4IndexBuilder = index.Builder

// NewMP4IndexBuilder creates a builder for a file of the given size.
func NewMP4IndexBuilder(fileSize uint64, logger *slog.Logger) *MP4IndexBuilder {
	return index.NewBuilder(fileSize, logger)
}

// VideoIntervals is the slicer's output: parallel decode intervals and
// the desired frames within each.
type VideoIntervals = index.VideoIntervals

// SampleInterval is one half-open keyframe-aligned run of samples.
type SampleInterval = index.SampleInterval

// SliceIntoVideoIntervals converts desired frame indices into decode
// segments consistent with the index's keyframe structure.
func SliceIntoVideoIntervals(vi *VideoIndex, rows []uint64) (VideoIntervals, error) {
	return index.SliceIntoVideoIntervals(vi, rows)
}

// Decoder-facing types re-exported for callers.
type (
	// EncodedData is one decode segment handed to the automata.
	EncodedData = decoder.EncodedData
	// DecoderAutomata orchestrates feeding and retrieval around a codec.
	DecoderAutomata = decoder.DecoderAutomata
	// DeviceHandle identifies the decode device.
	DeviceHandle = decoder.DeviceHandle
	// DecoderKind selects the decoder implementation.
	DecoderKind = decoder.Kind
	// VideoDecoder is the adapter contract over concrete codecs.
	VideoDecoder = decoder.VideoDecoder
	// FrameInfo describes a configured stream.
	FrameInfo = decoder.FrameInfo
)

// Decoder kinds.
const (
	DecoderAuto     = decoder.KindAuto
	DecoderSoftware = decoder.KindSoftware
	DecoderNvidia   = decoder.KindNvidia
)

// CPUDevice is the default host decode device.
var CPUDevice = decoder.CPUDevice

// NewDecoderAutomata builds a decoder of the requested kind on the given
// device and wraps it in an automata. Kind DecoderAuto picks NVDEC when
// an NVIDIA GPU is present and software decoding otherwise.
func NewDecoderAutomata(device DeviceHandle, numDevices int32, kind DecoderKind, logger *slog.Logger) (*DecoderAutomata, error) {
	if logger == nil {
		logger = slog.Default()
	}
	detector := hwdetect.NewDetector(logger)

	if kind == DecoderAuto {
		if detector.Detect(context.Background()).HasNvidia() {
			kind = DecoderNvidia
		} else {
			kind = DecoderSoftware
		}
		logger.Debug("decoder kind selected", slog.String("kind", string(kind)))
	}

	var dec VideoDecoder
	var err error
	switch kind {
	case DecoderSoftware:
		dec, err = software.New(device.ID, detector.DecodeThreads(context.Background()), logger)
	case DecoderNvidia:
		dec, err = nvidia.New(device.ID, logger)
	default:
		return nil, fmt.Errorf("hwang: unknown decoder kind %q", kind)
	}
	if err != nil {
		return nil, err
	}
	return decoder.NewAutomata(device, numDevices, dec, logger), nil
}

// SegmentsForIntervals materializes decode segments from a sliced
// request, reading each segment's byte range from r.
func SegmentsForIntervals(vi *VideoIndex, intervals VideoIntervals, r io.ReaderAt) ([]EncodedData, error) {
	offsets := vi.SampleOffsets()
	sizes := vi.SampleSizes()
	keyframes := vi.KeyframeIndices()

	segments := make([]EncodedData, 0, len(intervals.SampleIndexIntervals))
	for i, interval := range intervals.SampleIndexIntervals {
		if interval.End <= interval.Start || interval.End > vi.Frames() {
			return nil, fmt.Errorf("hwang: invalid sample interval [%d, %d)", interval.Start, interval.End)
		}
		segOffsets := offsets[interval.Start:interval.End]
		segSizes := sizes[interval.Start:interval.End]

		byteStart := segOffsets[0]
		byteEnd := segOffsets[len(segOffsets)-1] + segSizes[len(segSizes)-1]
		buf := make([]byte, byteEnd-byteStart)
		if _, err := r.ReadAt(buf, int64(byteStart)); err != nil {
			return nil, fmt.Errorf("hwang: reading segment %d: %w", i, err)
		}

		var segKeyframes []uint64
		for _, kf := range keyframes {
			if kf >= interval.Start && kf < interval.End {
				segKeyframes = append(segKeyframes, kf)
			}
		}
		segKeyframes = append(segKeyframes, interval.End)

		segments = append(segments, EncodedData{
			EncodedVideo:  buf,
			Width:         vi.FrameWidth(),
			Height:        vi.FrameHeight(),
			Format:        vi.Format(),
			StartKeyframe: interval.Start,
			EndKeyframe:   interval.End,
			SampleOffsets: segOffsets,
			SampleSizes:   segSizes,
			Keyframes:     segKeyframes,
			ValidFrames:   intervals.ValidFrames[i],
		})
	}
	return segments, nil
}

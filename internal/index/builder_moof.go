package index

import (
	"log/slog"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"

	"github.com/scanner-research/hwang/internal/mp4"
)

// parseMoof appends the samples declared by one movie fragment. moofStart
// is the absolute file offset of the moof box, which anchors the
// default-base-is-moof and relative base-offset modes.
func (b *Builder) parseMoof(box []byte, moofStart uint64) bool {
	_, _, headerSize, err := mp4.ReadHeader(box)
	if err != nil {
		return b.fail("%v", err)
	}
	moof := box[headerSize:]

	var sampleOffsets []uint64
	var sampleSizes []uint64
	var keyframeIndicators []bool

	firstTraf := true
	prevTrafOffset := uint64(0)

	s := mp4.NewScanner(moof)
	for {
		traf, err := s.Next()
		if err != nil {
			return b.fail("%v", err)
		}
		if traf == nil {
			break
		}
		if traf.Type != "traf" {
			continue
		}

		tfhdBox, err := mp4.FindFirst(traf.Payload, "tfhd")
		if err != nil {
			return b.fail("Could not find 'tfhd'")
		}
		tfhd, err := mp4.ParseTfhd(tfhdBox.Payload)
		if err != nil {
			return b.fail("%v", err)
		}

		var baseDataOffset uint64
		switch tfhd.BaseOffsetKind {
		case mp4.BaseOffsetProvided:
			baseDataOffset = tfhd.BaseDataOffset
		case mp4.BaseOffsetMoof:
			baseDataOffset = moofStart
		case mp4.BaseOffsetRelative:
			if firstTraf {
				baseDataOffset = moofStart
			} else {
				baseDataOffset = prevTrafOffset
			}
		}

		trex, ok := b.findTrex(tfhd.TrackID)
		if !ok {
			return b.fail("Could not find 'trex' for track id in 'tfhd'")
		}

		prevTrunOffset := baseDataOffset
		ts := mp4.NewScanner(traf.Payload)
		for {
			child, err := ts.Next()
			if err != nil {
				return b.fail("%v", err)
			}
			if child == nil {
				break
			}
			if child.Type != "trun" {
				continue
			}
			tr, err := mp4.ParseTrun(child.Payload)
			if err != nil {
				return b.fail("%v", err)
			}

			dataOffset := prevTrunOffset
			if tr.HasDataOffset {
				// The run's data offset is relative to the traf base and
				// may be negative in pathological files.
				dataOffset = uint64(int64(baseDataOffset) + int64(tr.DataOffset))
			}

			currentOffset := dataOffset
			for i, sample := range tr.Samples {
				size := uint64(sample.Size)
				if !tr.HasSampleSizes {
					if tfhd.HasDefaultSampleSize {
						size = uint64(tfhd.DefaultSampleSize)
					} else {
						size = uint64(trex.DefaultSampleSize)
					}
				}

				var flags uint32
				switch {
				case tr.HasSampleFlags:
					flags = sample.Flags
				case i == 0 && tr.HasFirstSampleFlags:
					flags = tr.FirstSampleFlags
				case tfhd.HasDefaultSampleFlags:
					flags = tfhd.DefaultSampleFlags
				default:
					flags = trex.DefaultSampleFlags
				}

				sampleOffsets = append(sampleOffsets, currentOffset)
				sampleSizes = append(sampleSizes, size)
				keyframeIndicators = append(keyframeIndicators, mp4.IsSyncSample(flags))
				currentOffset += size
			}
			prevTrunOffset = currentOffset
		}
		prevTrafOffset = prevTrunOffset
		firstTraf = false
	}

	// Append in encounter order, recording keyframes at their global
	// sample index.
	for i := range sampleSizes {
		if keyframeIndicators[i] {
			b.keyframeIndices = append(b.keyframeIndices, uint64(len(b.sampleOffsets)))
		}
		b.sampleOffsets = append(b.sampleOffsets, sampleOffsets[i])
		b.sampleSizes = append(b.sampleSizes, sampleSizes[i])
	}

	b.logger.Debug("parsed movie fragment",
		slog.Uint64("moof_offset", moofStart),
		slog.Int("samples", len(sampleSizes)),
		slog.Uint64("total_samples", uint64(len(b.sampleOffsets))))
	return true
}

// findTrex returns the trex defaults for a track id.
func (b *Builder) findTrex(trackID uint32) (mp4.TrackExtendsBox, bool) {
	for _, trex := range b.trexes {
		if trex.TrackID == trackID {
			return trex, true
		}
	}
	return mp4.TrackExtendsBox{}, false
}

// VideoIndex returns the final Video Index. It is only valid once the
// builder is done without error.
func (b *Builder) VideoIndex() (*VideoIndex, error) {
	if b.failed {
		return nil, &BuildError{Message: b.errMsg}
	}
	if !b.IsDone() {
		return nil, &BuildError{Message: "index not complete"}
	}

	width, height := b.width, b.height
	if width == 0 || height == 0 {
		// Some muxers leave the visual sample entry dimensions zeroed;
		// the SPS in the decoder configuration is authoritative.
		if w, h, ok := b.dimensionsFromSPS(); ok {
			width, height = w, h
		}
	}

	return NewVideoIndex(b.timescale, b.duration, width, height, b.format,
		b.sampleOffsets, b.sampleSizes, b.keyframeIndices, b.extradata), nil
}

// dimensionsFromSPS recovers the coded dimensions from the first SPS in
// the extradata.
func (b *Builder) dimensionsFromSPS() (uint32, uint32, bool) {
	ps, err := mp4.ParseDecoderConfig(b.format, b.extradata)
	if err != nil || len(ps.SPS) == 0 {
		return 0, 0, false
	}
	switch b.format {
	case "hev1", "hvc1", "hevc", "h265":
		var sps h265.SPS
		if err := sps.Unmarshal(ps.SPS[0]); err != nil {
			return 0, 0, false
		}
		return uint32(sps.Width()), uint32(sps.Height()), true
	default:
		var sps h264.SPS
		if err := sps.Unmarshal(ps.SPS[0]); err != nil {
			return 0, 0, false
		}
		return uint32(sps.Width()), uint32(sps.Height()), true
	}
}

// BuildError is the terminal error reported by a Builder.
type BuildError struct {
	Message string
}

func (e *BuildError) Error() string { return "index: " + e.Message }

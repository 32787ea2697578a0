package index

import (
	"errors"
	"log/slog"

	"github.com/scanner-research/hwang/internal/mp4"
)

// parseMoov extracts the video track's sample table from a complete moov
// box, and discovers mvex/trex if the file is fragmented.
func (b *Builder) parseMoov(box []byte) bool {
	_, _, headerSize, err := mp4.ReadHeader(box)
	if err != nil {
		return b.fail("%v", err)
	}
	moov := box[headerSize:]

	// Find the trak whose handler type is 'vide'.
	var videoMdia []byte
	s := mp4.NewScanner(moov)
	for {
		trak, err := s.Next()
		if err != nil {
			return b.fail("%v", err)
		}
		if trak == nil {
			break
		}
		if trak.Type != "trak" {
			continue
		}
		mdia, err := mp4.FindFirst(trak.Payload, "mdia")
		if err != nil {
			continue
		}
		hdlr, err := mp4.FindFirst(mdia.Payload, "hdlr")
		if err != nil {
			continue
		}
		handlerType, err := mp4.ParseHdlr(hdlr.Payload)
		if err != nil {
			return b.fail("%v", err)
		}
		if handlerType == "vide" {
			videoMdia = mdia.Payload
			break
		}
	}
	if videoMdia == nil {
		return b.fail("Could not find a video trak")
	}

	mdhdBox, err := mp4.FindFirst(videoMdia, "mdhd")
	if err != nil {
		return b.fail("Could not find 'mdhd'")
	}
	mdhd, err := mp4.ParseMdhd(mdhdBox.Payload)
	if err != nil {
		return b.fail("%v", err)
	}
	b.timescale = mdhd.Timescale
	b.duration = mdhd.Duration

	minf, err := mp4.FindFirst(videoMdia, "minf")
	if err != nil {
		return b.fail("Could not find 'minf'")
	}
	stbl, err := mp4.FindFirst(minf.Payload, "stbl")
	if err != nil {
		return b.fail("Could not find 'stbl'")
	}
	if !b.parseStbl(stbl.Payload) {
		return false
	}

	return b.parseMvex(moov)
}

// parseStbl excavates sample sizes, offsets, sync samples, and the visual
// sample description from a sample table box payload.
func (b *Builder) parseStbl(stbl []byte) bool {
	// Sample count and sizes from stsz or stz2.
	var sizeBox mp4.SampleSizeBox
	if box, err := mp4.FindFirst(stbl, "stsz"); err == nil {
		sizeBox, err = mp4.ParseStsz(box.Payload)
		if err != nil {
			return b.fail("%v", err)
		}
	} else if box, err := mp4.FindFirst(stbl, "stz2"); err == nil {
		sizeBox, err = mp4.ParseStz2(box.Payload)
		if err != nil {
			return b.fail("%v", err)
		}
	} else {
		return b.fail("Could not find 'stsz' or 'stz2'")
	}

	sampleSizes := make([]uint64, sizeBox.SampleCount)
	for i := range sampleSizes {
		sampleSizes[i] = uint64(sizeBox.SizeOf(uint32(i)))
	}

	// Chunk assignment from stsc, expanded to one run per chunk.
	stscBox, err := mp4.FindFirst(stbl, "stsc")
	if err != nil {
		return b.fail("Could not find 'stsc'")
	}
	runs, err := mp4.ParseStsc(stscBox.Payload, uint64(len(sampleSizes)))
	if err != nil {
		return b.fail("%v", err)
	}

	// Chunk base offsets from stco or co64.
	var chunkOffsets []uint64
	if box, err := mp4.FindFirst(stbl, "stco"); err == nil {
		chunkOffsets, err = mp4.ParseStco(box.Payload)
		if err != nil {
			return b.fail("%v", err)
		}
	} else if box, err := mp4.FindFirst(stbl, "co64"); err == nil {
		chunkOffsets, err = mp4.ParseCo64(box.Payload)
		if err != nil {
			return b.fail("%v", err)
		}
	} else {
		return b.fail("Could not find 'stco' or 'co64'")
	}

	// Per-sample absolute offsets: each chunk's base plus the running sum
	// of the prior sample sizes within that chunk.
	sampleOffsets := make([]uint64, 0, len(sampleSizes))
	si := 0
	for ci, run := range runs {
		if si >= len(sampleSizes) {
			break
		}
		if ci >= len(chunkOffsets) {
			return b.fail("'stsc' refers to chunk %d but only %d chunk offsets", ci+1, len(chunkOffsets))
		}
		cur := chunkOffsets[ci]
		for j := uint32(0); j < run.NumSamples && si < len(sampleSizes); j++ {
			sampleOffsets = append(sampleOffsets, cur)
			cur += sampleSizes[si]
			si++
		}
	}
	if len(sampleOffsets) != len(sampleSizes) {
		return b.fail("'stsc' covers %d of %d samples", len(sampleOffsets), len(sampleSizes))
	}

	// Random-access points from stss; absent means every sample is one.
	var keyframes []uint64
	if box, err := mp4.FindFirst(stbl, "stss"); err == nil {
		keyframes, err = mp4.ParseStss(box.Payload)
		if err != nil {
			return b.fail("%v", err)
		}
	} else {
		for i := range sampleSizes {
			keyframes = append(keyframes, uint64(len(b.sampleOffsets)+i))
		}
	}

	// Visual sample description with codec extradata.
	stsdBox, err := mp4.FindFirst(stbl, "stsd")
	if err != nil {
		return b.fail("Could not find 'stsd'")
	}
	vs, err := mp4.ParseStsd(stsdBox.Payload)
	if err != nil {
		return b.fail("%v", err)
	}
	b.width = vs.Width
	b.height = vs.Height
	b.format = vs.Format
	// The feed buffer belongs to the caller and may be reused; keep an
	// owned copy of the extradata.
	b.extradata = append([]byte(nil), vs.Extradata...)

	b.sampleOffsets = append(b.sampleOffsets, sampleOffsets...)
	b.sampleSizes = append(b.sampleSizes, sampleSizes...)
	b.keyframeIndices = append(b.keyframeIndices, keyframes...)

	b.logger.Debug("parsed sample table",
		slog.Int("samples", len(sampleSizes)),
		slog.Int("keyframes", len(keyframes)),
		slog.String("format", b.format),
		slog.Uint64("width", uint64(b.width)),
		slog.Uint64("height", uint64(b.height)))
	return true
}

// parseMvex records fragment defaults when the movie-extends box is
// present. leva (level assignment) is not supported.
func (b *Builder) parseMvex(moov []byte) bool {
	mvex, err := mp4.FindFirst(moov, "mvex")
	if errors.Is(err, mp4.ErrBoxNotFound) {
		return true
	}
	if err != nil {
		return b.fail("%v", err)
	}
	b.fragmentsPresent = true

	s := mp4.NewScanner(mvex.Payload)
	for {
		child, err := s.Next()
		if err != nil {
			return b.fail("%v", err)
		}
		if child == nil {
			break
		}
		switch child.Type {
		case "trex":
			trex, err := mp4.ParseTrex(child.Payload)
			if err != nil {
				return b.fail("%v", err)
			}
			b.trexes = append(b.trexes, trex)
		case "leva":
			return b.fail("leva not supported")
		}
	}
	b.logger.Debug("movie fragments present", slog.Int("trex_count", len(b.trexes)))
	return true
}

// Package annexb converts MP4 length-prefixed video samples to the
// Annex-B start-code framing that decoders expect, re-prepending the
// codec parameter sets before every keyframe.
package annexb

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/scanner-research/hwang/internal/mp4"
)

var startCode = []byte{0x00, 0x00, 0x00, 0x01}

// Filter converts samples of one track. It is stateless apart from the
// parameter sets captured from extradata at construction; rebuilding the
// filter after a discontinuity reloads them.
type Filter struct {
	nalLengthSize int
	paramSets     [][]byte
}

// NewFilter creates a Filter from the track's codec tag and avcC/hvcC
// extradata.
func NewFilter(format string, extradata []byte) (*Filter, error) {
	ps, err := mp4.ParseDecoderConfig(format, extradata)
	if err != nil {
		return nil, fmt.Errorf("annexb: %w", err)
	}
	nalLengthSize := ps.NALULengthSize
	if nalLengthSize <= 0 {
		nalLengthSize = 4
	}

	// Emission order before a keyframe: VPS (HEVC only), then SPS, then PPS.
	var sets [][]byte
	sets = append(sets, ps.VPS...)
	sets = append(sets, ps.SPS...)
	sets = append(sets, ps.PPS...)
	if len(sets) == 0 {
		return nil, fmt.Errorf("annexb: no parameter sets in %s extradata", format)
	}

	return &Filter{
		nalLengthSize: nalLengthSize,
		paramSets:     sets,
	}, nil
}

// Convert rewrites one length-prefixed sample into Annex-B form. For
// keyframes the parameter sets are emitted first so the decoder can
// start cleanly at any random-access point.
func (f *Filter) Convert(sample []byte, keyframe bool) []byte {
	var out bytes.Buffer
	out.Grow(len(sample) + 64)

	if keyframe {
		for _, ps := range f.paramSets {
			out.Write(startCode)
			out.Write(ps)
		}
	}

	// Convert each NAL from length-prefixed to start-code prefixed.
	offset := 0
	for offset+f.nalLengthSize <= len(sample) {
		var nalLen uint32
		switch f.nalLengthSize {
		case 1:
			nalLen = uint32(sample[offset])
		case 2:
			nalLen = uint32(binary.BigEndian.Uint16(sample[offset:]))
		default:
			nalLen = binary.BigEndian.Uint32(sample[offset:])
		}
		offset += f.nalLengthSize

		if offset+int(nalLen) > len(sample) {
			break
		}
		out.Write(startCode)
		out.Write(sample[offset : offset+int(nalLen)])
		offset += int(nalLen)
	}

	return out.Bytes()
}

// NALUnits splits Annex-B data into its NAL unit payloads (start codes
// stripped). Both 3- and 4-byte start codes are recognized.
func NALUnits(data []byte) [][]byte {
	var units [][]byte
	i := 0
	start := -1
	for i < len(data) {
		n := startCodeLen(data[i:])
		if n > 0 {
			if start >= 0 {
				units = append(units, data[start:i])
			}
			i += n
			start = i
			continue
		}
		i++
	}
	if start >= 0 && start <= len(data) {
		units = append(units, data[start:])
	}
	return units
}

// startCodeLen returns the length of the start code at the head of data,
// or 0 if there is none.
func startCodeLen(data []byte) int {
	if len(data) >= 4 && data[0] == 0 && data[1] == 0 && data[2] == 0 && data[3] == 1 {
		return 4
	}
	if len(data) >= 3 && data[0] == 0 && data[1] == 0 && data[2] == 1 {
		return 3
	}
	return 0
}

// H264NALUType returns the NAL unit type of an H.264 NAL payload.
func H264NALUType(nalu []byte) uint8 {
	if len(nalu) == 0 {
		return 0
	}
	return nalu[0] & 0x1F
}

// H265NALUType returns the NAL unit type of an H.265 NAL payload.
func H265NALUType(nalu []byte) uint8 {
	if len(nalu) == 0 {
		return 0
	}
	return (nalu[0] >> 1) & 0x3F
}

package mp4

import (
	"fmt"

	"github.com/scanner-research/hwang/pkg/bits"
)

// HEVC NAL unit types stored in hvcC arrays.
const (
	hevcNALUTypeVPS = 32
	hevcNALUTypeSPS = 33
	hevcNALUTypePPS = 34
)

// ParameterSets holds the decoder parameter sets extracted from an
// avcC or hvcC record, in the order they must be emitted before a
// keyframe: VPS (HEVC only), SPS, PPS.
type ParameterSets struct {
	NALULengthSize int
	VPS            [][]byte
	SPS            [][]byte
	PPS            [][]byte
}

// ParseDecoderConfig parses codec extradata according to the codec tag.
// H.264 tags get avcC parsing, HEVC tags hvcC parsing.
func ParseDecoderConfig(format string, extradata []byte) (ParameterSets, error) {
	switch format {
	case "avc1", "avc3", "h264":
		return ParseAVCDecoderConfig(extradata)
	case "hev1", "hvc1", "hevc", "h265":
		return ParseHEVCDecoderConfig(extradata)
	}
	return ParameterSets{}, fmt.Errorf("mp4: no decoder config parser for format %q", format)
}

// ParseAVCDecoderConfig parses an AVCDecoderConfigurationRecord (the
// payload of an avcC box).
func ParseAVCDecoderConfig(buf []byte) (ParameterSets, error) {
	r := bits.NewReader(buf)
	if version := r.ReadBits(8); version != 1 {
		return ParameterSets{}, fmt.Errorf("mp4: avcC configuration version %d", version)
	}
	r.SkipBytes(3) // profile, compatibility, level
	r.ReadBits(6)  // reserved
	ps := ParameterSets{NALULengthSize: int(r.ReadBits(2)) + 1}

	r.ReadBits(3) // reserved
	numSPS := int(r.ReadBits(5))
	for i := 0; i < numSPS && !r.Overrun(); i++ {
		n := int(r.ReadBits(16))
		ps.SPS = append(ps.SPS, r.ReadBytes(n))
	}
	numPPS := int(r.ReadBits(8))
	for i := 0; i < numPPS && !r.Overrun(); i++ {
		n := int(r.ReadBits(16))
		ps.PPS = append(ps.PPS, r.ReadBytes(n))
	}
	if r.Overrun() {
		return ParameterSets{}, fmt.Errorf("mp4: truncated avcC record")
	}
	return ps, nil
}

// ParseHEVCDecoderConfig parses an HEVCDecoderConfigurationRecord (the
// payload of an hvcC box).
func ParseHEVCDecoderConfig(buf []byte) (ParameterSets, error) {
	r := bits.NewReader(buf)
	if version := r.ReadBits(8); version != 1 {
		return ParameterSets{}, fmt.Errorf("mp4: hvcC configuration version %d", version)
	}
	// Skip the fixed profile/tier/level block up to lengthSizeMinusOne.
	r.SkipBytes(20)
	r.ReadBits(6) // reserved
	ps := ParameterSets{NALULengthSize: int(r.ReadBits(2)) + 1}

	numArrays := int(r.ReadBits(8))
	for i := 0; i < numArrays && !r.Overrun(); i++ {
		r.ReadBits(2) // array_completeness, reserved
		naluType := int(r.ReadBits(6))
		numNALUs := int(r.ReadBits(16))
		for j := 0; j < numNALUs && !r.Overrun(); j++ {
			n := int(r.ReadBits(16))
			nalu := r.ReadBytes(n)
			switch naluType {
			case hevcNALUTypeVPS:
				ps.VPS = append(ps.VPS, nalu)
			case hevcNALUTypeSPS:
				ps.SPS = append(ps.SPS, nalu)
			case hevcNALUTypePPS:
				ps.PPS = append(ps.PPS, nalu)
			}
		}
	}
	if r.Overrun() {
		return ParameterSets{}, fmt.Errorf("mp4: truncated hvcC record")
	}
	return ps, nil
}

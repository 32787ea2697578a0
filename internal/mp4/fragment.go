package mp4

import (
	"github.com/scanner-research/hwang/pkg/bits"
)

// tfhd flag bits.
const (
	tfhdBaseDataOffsetPresent         = 0x000001
	tfhdSampleDescriptionIndexPresent = 0x000002
	tfhdDefaultSampleDurationPresent  = 0x000008
	tfhdDefaultSampleSizePresent      = 0x000010
	tfhdDefaultSampleFlagsPresent     = 0x000020
	tfhdDefaultBaseIsMoof             = 0x020000
)

// trun flag bits.
const (
	trunDataOffsetPresent       = 0x000001
	trunFirstSampleFlagsPresent = 0x000004
	trunSampleDurationPresent   = 0x000100
	trunSampleSizePresent       = 0x000200
	trunSampleFlagsPresent      = 0x000400
	trunSampleCTSOffsetPresent  = 0x000800
)

// sampleFlagNonSync is the bit of the 32-bit sample flags word that marks
// a sample as not a sync sample. A sample is a keyframe iff it is clear.
const sampleFlagNonSync = 0x00010000

// TrackExtendsBox carries the per-track defaults from mvex/trex that
// apply to every fragment of the track.
type TrackExtendsBox struct {
	TrackID                       uint32
	DefaultSampleDescriptionIndex uint32
	DefaultSampleDuration         uint32
	DefaultSampleSize             uint32
	DefaultSampleFlags            uint32
}

// ParseTrex parses a trex payload.
func ParseTrex(payload []byte) (TrackExtendsBox, error) {
	r := bits.NewReader(payload)
	readFullBox(r)

	trex := TrackExtendsBox{
		TrackID:                       uint32(r.ReadBits(32)),
		DefaultSampleDescriptionIndex: uint32(r.ReadBits(32)),
		DefaultSampleDuration:         uint32(r.ReadBits(32)),
		DefaultSampleSize:             uint32(r.ReadBits(32)),
		DefaultSampleFlags:            uint32(r.ReadBits(32)),
	}
	if err := overrunErr(r, "trex"); err != nil {
		return TrackExtendsBox{}, err
	}
	return trex, nil
}

// BaseOffsetKind says how a traf's base data offset is established.
type BaseOffsetKind int

const (
	// BaseOffsetProvided means tfhd carried an explicit base_data_offset.
	BaseOffsetProvided BaseOffsetKind = iota
	// BaseOffsetMoof means offsets are relative to the enclosing moof start.
	BaseOffsetMoof
	// BaseOffsetRelative means the first traf starts at the moof and each
	// subsequent traf continues from the previous traf's last byte.
	BaseOffsetRelative
)

// TrackFragmentHeaderBox is the parsed tfhd box.
type TrackFragmentHeaderBox struct {
	TrackID        uint32
	BaseOffsetKind BaseOffsetKind
	BaseDataOffset uint64

	HasDefaultSampleSize  bool
	DefaultSampleSize     uint32
	HasDefaultSampleFlags bool
	DefaultSampleFlags    uint32
}

// ParseTfhd parses a tfhd payload.
func ParseTfhd(payload []byte) (TrackFragmentHeaderBox, error) {
	r := bits.NewReader(payload)
	fb := readFullBox(r)

	tfhd := TrackFragmentHeaderBox{TrackID: uint32(r.ReadBits(32))}
	switch {
	case fb.Flags&tfhdBaseDataOffsetPresent != 0:
		tfhd.BaseOffsetKind = BaseOffsetProvided
		tfhd.BaseDataOffset = r.ReadBits(64)
	case fb.Flags&tfhdDefaultBaseIsMoof != 0:
		tfhd.BaseOffsetKind = BaseOffsetMoof
	default:
		tfhd.BaseOffsetKind = BaseOffsetRelative
	}
	if fb.Flags&tfhdSampleDescriptionIndexPresent != 0 {
		r.SkipBytes(4)
	}
	if fb.Flags&tfhdDefaultSampleDurationPresent != 0 {
		r.SkipBytes(4)
	}
	if fb.Flags&tfhdDefaultSampleSizePresent != 0 {
		tfhd.HasDefaultSampleSize = true
		tfhd.DefaultSampleSize = uint32(r.ReadBits(32))
	}
	if fb.Flags&tfhdDefaultSampleFlagsPresent != 0 {
		tfhd.HasDefaultSampleFlags = true
		tfhd.DefaultSampleFlags = uint32(r.ReadBits(32))
	}
	if err := overrunErr(r, "tfhd"); err != nil {
		return TrackFragmentHeaderBox{}, err
	}
	return tfhd, nil
}

// TrunSample is one sample row of a trun box. Fields not present in the
// run are zero; the Has* flags on TrackRunBox say which apply.
type TrunSample struct {
	Size  uint32
	Flags uint32
}

// TrackRunBox is the parsed trun box.
type TrackRunBox struct {
	HasDataOffset       bool
	DataOffset          int32
	HasFirstSampleFlags bool
	FirstSampleFlags    uint32
	HasSampleSizes      bool
	HasSampleFlags      bool
	Samples             []TrunSample
}

// ParseTrun parses a trun payload.
func ParseTrun(payload []byte) (TrackRunBox, error) {
	r := bits.NewReader(payload)
	fb := readFullBox(r)

	sampleCount := uint32(r.ReadBits(32))
	tr := TrackRunBox{
		HasDataOffset:       fb.Flags&trunDataOffsetPresent != 0,
		HasFirstSampleFlags: fb.Flags&trunFirstSampleFlagsPresent != 0,
		HasSampleSizes:      fb.Flags&trunSampleSizePresent != 0,
		HasSampleFlags:      fb.Flags&trunSampleFlagsPresent != 0,
	}
	if tr.HasDataOffset {
		tr.DataOffset = int32(r.ReadBits(32))
	}
	if tr.HasFirstSampleFlags {
		tr.FirstSampleFlags = uint32(r.ReadBits(32))
	}

	tr.Samples = make([]TrunSample, 0, sampleCount)
	for i := uint32(0); i < sampleCount && !r.Overrun(); i++ {
		var s TrunSample
		if fb.Flags&trunSampleDurationPresent != 0 {
			r.SkipBytes(4)
		}
		if tr.HasSampleSizes {
			s.Size = uint32(r.ReadBits(32))
		}
		if tr.HasSampleFlags {
			s.Flags = uint32(r.ReadBits(32))
		}
		if fb.Flags&trunSampleCTSOffsetPresent != 0 {
			r.SkipBytes(4)
		}
		tr.Samples = append(tr.Samples, s)
	}
	if err := overrunErr(r, "trun"); err != nil {
		return TrackRunBox{}, err
	}
	return tr, nil
}

// IsSyncSample reports whether a 32-bit sample flags word marks a
// keyframe (random access point).
func IsSyncSample(flags uint32) bool {
	return flags&sampleFlagNonSync == 0
}

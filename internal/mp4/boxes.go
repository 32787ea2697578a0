package mp4

import (
	"fmt"

	"github.com/scanner-research/hwang/pkg/bits"
)

// FileTypeBox is the parsed ftyp box.
type FileTypeBox struct {
	MajorBrand       string
	MinorVersion     uint32
	CompatibleBrands []string
}

// ParseFtyp parses an ftyp payload.
func ParseFtyp(payload []byte) (FileTypeBox, error) {
	r := bits.NewReader(payload)
	ftyp := FileTypeBox{
		MajorBrand:   string(r.ReadBytes(4)),
		MinorVersion: uint32(r.ReadBits(32)),
	}
	for r.Remaining() >= 4 {
		ftyp.CompatibleBrands = append(ftyp.CompatibleBrands, string(r.ReadBytes(4)))
	}
	if err := overrunErr(r, "ftyp"); err != nil {
		return FileTypeBox{}, err
	}
	return ftyp, nil
}

// MediaHeaderBox carries the media time base from mdhd.
type MediaHeaderBox struct {
	Timescale uint32
	Duration  uint64
}

// ParseMdhd parses an mdhd payload (version 0 or 1).
func ParseMdhd(payload []byte) (MediaHeaderBox, error) {
	r := bits.NewReader(payload)
	fb := readFullBox(r)

	var mdhd MediaHeaderBox
	switch fb.Version {
	case 0:
		r.SkipBytes(8) // creation_time, modification_time
		mdhd.Timescale = uint32(r.ReadBits(32))
		mdhd.Duration = uint64(r.ReadBits(32))
	case 1:
		r.SkipBytes(16)
		mdhd.Timescale = uint32(r.ReadBits(32))
		mdhd.Duration = r.ReadBits(64)
	default:
		return MediaHeaderBox{}, fmt.Errorf("mp4: unsupported mdhd version %d", fb.Version)
	}
	if err := overrunErr(r, "mdhd"); err != nil {
		return MediaHeaderBox{}, err
	}
	return mdhd, nil
}

// ParseHdlr parses an hdlr payload and returns the handler type
// ("vide" for video tracks).
func ParseHdlr(payload []byte) (string, error) {
	r := bits.NewReader(payload)
	readFullBox(r)
	r.SkipBytes(4) // pre_defined
	handlerType := string(r.ReadBytes(4))
	if err := overrunErr(r, "hdlr"); err != nil {
		return "", err
	}
	return handlerType, nil
}

// SampleSizeBox is the parsed stsz or stz2 box. When SampleSize is
// non-zero every sample shares it and EntrySizes is empty.
type SampleSizeBox struct {
	SampleSize  uint32
	SampleCount uint32
	EntrySizes  []uint32
}

// SizeOf returns the size of sample i.
func (b SampleSizeBox) SizeOf(i uint32) uint32 {
	if b.SampleSize != 0 {
		return b.SampleSize
	}
	return b.EntrySizes[i]
}

// ParseStsz parses an stsz payload.
func ParseStsz(payload []byte) (SampleSizeBox, error) {
	r := bits.NewReader(payload)
	readFullBox(r)

	sb := SampleSizeBox{
		SampleSize:  uint32(r.ReadBits(32)),
		SampleCount: uint32(r.ReadBits(32)),
	}
	if sb.SampleSize == 0 {
		sb.EntrySizes = make([]uint32, 0, sb.SampleCount)
		for i := uint32(0); i < sb.SampleCount && !r.Overrun(); i++ {
			sb.EntrySizes = append(sb.EntrySizes, uint32(r.ReadBits(32)))
		}
	}
	if err := overrunErr(r, "stsz"); err != nil {
		return SampleSizeBox{}, err
	}
	return sb, nil
}

// ParseStz2 parses an stz2 payload with 4-, 8-, or 16-bit packed entries.
func ParseStz2(payload []byte) (SampleSizeBox, error) {
	r := bits.NewReader(payload)
	readFullBox(r)

	r.ReadBits(24) // reserved
	fieldSize := int(r.ReadBits(8))
	switch fieldSize {
	case 4, 8, 16:
	default:
		return SampleSizeBox{}, fmt.Errorf("mp4: invalid stz2 field size %d", fieldSize)
	}

	sb := SampleSizeBox{SampleCount: uint32(r.ReadBits(32))}
	sb.EntrySizes = make([]uint32, 0, sb.SampleCount)
	for i := uint32(0); i < sb.SampleCount && !r.Overrun(); i++ {
		sb.EntrySizes = append(sb.EntrySizes, uint32(r.ReadBits(fieldSize)))
	}
	if err := overrunErr(r, "stz2"); err != nil {
		return SampleSizeBox{}, err
	}
	return sb, nil
}

// ChunkRun is one expanded stsc entry: the samples-per-chunk count that
// applies to a single chunk.
type ChunkRun struct {
	NumSamples             uint32
	SampleDescriptionIndex uint32
}

// ParseStsc parses an stsc payload and expands the first_chunk runs so
// that the result holds one entry per chunk. The final run is repeated
// until sampleCount samples are covered.
func ParseStsc(payload []byte, sampleCount uint64) ([]ChunkRun, error) {
	r := bits.NewReader(payload)
	readFullBox(r)

	entryCount := uint32(r.ReadBits(32))
	var runs []ChunkRun
	var prevFirstChunk, prevSamplesPerChunk, prevSDI uint32
	covered := uint64(0)

	for i := uint32(0); i < entryCount && !r.Overrun(); i++ {
		firstChunk := uint32(r.ReadBits(32))
		samplesPerChunk := uint32(r.ReadBits(32))
		sdi := uint32(r.ReadBits(32))

		if prevFirstChunk != 0 {
			for j := prevFirstChunk; j < firstChunk; j++ {
				runs = append(runs, ChunkRun{prevSamplesPerChunk, prevSDI})
				covered += uint64(prevSamplesPerChunk)
			}
		}
		prevFirstChunk = firstChunk
		prevSamplesPerChunk = samplesPerChunk
		prevSDI = sdi
	}
	if err := overrunErr(r, "stsc"); err != nil {
		return nil, err
	}

	// Repeat the last run until every sample has a chunk.
	if prevSamplesPerChunk == 0 && covered < sampleCount {
		return nil, fmt.Errorf("mp4: stsc does not cover %d samples", sampleCount)
	}
	for covered < sampleCount {
		runs = append(runs, ChunkRun{prevSamplesPerChunk, prevSDI})
		covered += uint64(prevSamplesPerChunk)
	}
	return runs, nil
}

// ParseStco parses an stco payload (32-bit chunk offsets).
func ParseStco(payload []byte) ([]uint64, error) {
	r := bits.NewReader(payload)
	readFullBox(r)

	entryCount := uint32(r.ReadBits(32))
	offsets := make([]uint64, 0, entryCount)
	for i := uint32(0); i < entryCount && !r.Overrun(); i++ {
		offsets = append(offsets, r.ReadBits(32))
	}
	if err := overrunErr(r, "stco"); err != nil {
		return nil, err
	}
	return offsets, nil
}

// ParseCo64 parses a co64 payload (64-bit chunk offsets).
func ParseCo64(payload []byte) ([]uint64, error) {
	r := bits.NewReader(payload)
	readFullBox(r)

	entryCount := uint32(r.ReadBits(32))
	offsets := make([]uint64, 0, entryCount)
	for i := uint32(0); i < entryCount && !r.Overrun(); i++ {
		offsets = append(offsets, r.ReadBits(64))
	}
	if err := overrunErr(r, "co64"); err != nil {
		return nil, err
	}
	return offsets, nil
}

// ParseStss parses an stss payload and returns zero-based sync-sample
// indices (the box stores one-based sample numbers).
func ParseStss(payload []byte) ([]uint64, error) {
	r := bits.NewReader(payload)
	readFullBox(r)

	entryCount := uint32(r.ReadBits(32))
	indices := make([]uint64, 0, entryCount)
	for i := uint32(0); i < entryCount && !r.Overrun(); i++ {
		indices = append(indices, r.ReadBits(32)-1)
	}
	if err := overrunErr(r, "stss"); err != nil {
		return nil, err
	}
	return indices, nil
}

// VisualSampleEntry is the video entry from stsd: the codec tag, coded
// dimensions, and the raw avcC/hvcC payload as codec extradata.
type VisualSampleEntry struct {
	Format    string
	Width     uint32
	Height    uint32
	Extradata []byte
}

// visualEntryFixedSize is the fixed portion of a VisualSampleEntry after
// the box header, up to and including the pre_defined trailer.
const visualEntryFixedSize = 78

// ParseStsd parses an stsd payload and returns the first visual sample
// entry whose codec tag the indexer supports.
func ParseStsd(payload []byte) (VisualSampleEntry, error) {
	r := bits.NewReader(payload)
	readFullBox(r)
	entryCount := uint32(r.ReadBits(32))
	if r.Overrun() {
		return VisualSampleEntry{}, overrunErr(r, "stsd")
	}

	s := NewScanner(payload[r.ByteOffset():])
	for i := uint32(0); i < entryCount; i++ {
		b, err := s.Next()
		if err != nil {
			return VisualSampleEntry{}, err
		}
		if b == nil {
			break
		}
		switch b.Type {
		case "avc1", "avc3", "hev1", "hvc1", "hevc":
			return parseVisualSampleEntry(b)
		}
	}
	return VisualSampleEntry{}, fmt.Errorf("mp4: no supported visual sample entry in stsd")
}

// parseVisualSampleEntry reads the fixed fields of a visual entry and
// extracts the avcC or hvcC child payload.
func parseVisualSampleEntry(b *Box) (VisualSampleEntry, error) {
	if len(b.Payload) < visualEntryFixedSize {
		return VisualSampleEntry{}, fmt.Errorf("mp4: truncated %q sample entry", b.Type)
	}
	r := bits.NewReader(b.Payload)
	r.SkipBytes(6) // reserved
	r.SkipBytes(2) // data_reference_index
	r.SkipBytes(16)
	vs := VisualSampleEntry{
		Format: b.Type,
		Width:  uint32(r.ReadBits(16)),
		Height: uint32(r.ReadBits(16)),
	}

	wantConfig := "avcC"
	switch b.Type {
	case "hev1", "hvc1", "hevc":
		wantConfig = "hvcC"
	}
	config, err := FindFirst(b.Payload[visualEntryFixedSize:], wantConfig)
	if err == nil {
		vs.Extradata = config.Payload
	}
	return vs, nil
}

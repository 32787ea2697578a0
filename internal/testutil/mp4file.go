// Package testutil builds small synthetic MP4 files for exercising the
// index builder: classic files with a moov-resident sample table and
// fragmented files with mvex/moof layout. The encoded "samples" are
// filler bytes; only the container structure matters to the indexer.
package testutil

import (
	"bytes"
	"encoding/binary"
)

// TestSPS and TestPPS are placeholder H.264 parameter sets carried in the
// generated avcC records.
var (
	TestSPS = []byte{0x67, 0x64, 0x00, 0x1F, 0xAC, 0xD9, 0x40, 0x50, 0x05, 0xBB}
	TestPPS = []byte{0x68, 0xEB, 0xE3, 0xCB, 0x22, 0xC0}
)

// box wraps a payload in a size+type header.
func box(typ string, payloads ...[]byte) []byte {
	size := 8
	for _, p := range payloads {
		size += len(p)
	}
	out := make([]byte, 0, size)
	out = binary.BigEndian.AppendUint32(out, uint32(size))
	out = append(out, typ...)
	for _, p := range payloads {
		out = append(out, p...)
	}
	return out
}

// fullBox wraps a payload in a size+type header plus version and flags.
func fullBox(typ string, version uint8, flags uint32, payloads ...[]byte) []byte {
	vf := []byte{version, byte(flags >> 16), byte(flags >> 8), byte(flags)}
	return box(typ, append([][]byte{vf}, payloads...)...)
}

func u16(v uint16) []byte { return binary.BigEndian.AppendUint16(nil, v) }
func u32(v uint32) []byte { return binary.BigEndian.AppendUint32(nil, v) }
func u64(v uint64) []byte { return binary.BigEndian.AppendUint64(nil, v) }

// AVCCRecord builds an AVCDecoderConfigurationRecord with the test
// parameter sets and 4-byte NAL lengths.
func AVCCRecord() []byte {
	var b bytes.Buffer
	b.Write([]byte{1, TestSPS[1], TestSPS[2], TestSPS[3]})
	b.WriteByte(0xFF)     // reserved + lengthSizeMinusOne = 3
	b.WriteByte(0xE0 | 1) // reserved + numOfSequenceParameterSets
	b.Write(u16(uint16(len(TestSPS))))
	b.Write(TestSPS)
	b.WriteByte(1) // numOfPictureParameterSets
	b.Write(u16(uint16(len(TestPPS))))
	b.Write(TestPPS)
	return b.Bytes()
}

// visualSampleEntry builds an avc1 entry with an avcC child.
func visualSampleEntry(width, height uint16) []byte {
	var fixed bytes.Buffer
	fixed.Write(make([]byte, 6)) // reserved
	fixed.Write(u16(1))          // data_reference_index
	fixed.Write(make([]byte, 16))
	fixed.Write(u16(width))
	fixed.Write(u16(height))
	fixed.Write(u32(0x00480000)) // horizresolution 72dpi
	fixed.Write(u32(0x00480000)) // vertresolution
	fixed.Write(u32(0))
	fixed.Write(u16(1)) // frame_count
	fixed.Write(make([]byte, 32))
	fixed.Write(u16(0x0018))        // depth
	fixed.Write([]byte{0xFF, 0xFF}) // pre_defined -1
	return box("avc1", fixed.Bytes(), box("avcC", AVCCRecord()))
}

// stsdBox builds an stsd with one avc1 entry.
func stsdBox(width, height uint16) []byte {
	return fullBox("stsd", 0, 0, u32(1), visualSampleEntry(width, height))
}

// hdlrBox builds a video handler box.
func hdlrBox() []byte {
	return fullBox("hdlr", 0, 0, u32(0), []byte("vide"), make([]byte, 12), []byte("VideoHandler\x00"))
}

// mdhdBox builds a version-0 media header.
func mdhdBox(timescale uint32, duration uint32) []byte {
	return fullBox("mdhd", 0, 0, u32(0), u32(0), u32(timescale), u32(duration), u16(0x55C4), u16(0))
}

// mvhdBox builds a version-0 movie header.
func mvhdBox(timescale uint32, duration uint32) []byte {
	var b bytes.Buffer
	b.Write(u32(0)) // creation_time
	b.Write(u32(0)) // modification_time
	b.Write(u32(timescale))
	b.Write(u32(duration))
	b.Write(u32(0x00010000)) // rate
	b.Write(u16(0x0100))     // volume
	b.Write(make([]byte, 10))
	b.Write(identityMatrix())
	b.Write(make([]byte, 24)) // pre_defined
	b.Write(u32(2))           // next_track_ID
	return fullBox("mvhd", 0, 0, b.Bytes())
}

// tkhdBox builds a version-0 track header.
func tkhdBox(trackID uint32, duration uint32, width, height uint16) []byte {
	var b bytes.Buffer
	b.Write(u32(0)) // creation_time
	b.Write(u32(0)) // modification_time
	b.Write(u32(trackID))
	b.Write(u32(0)) // reserved
	b.Write(u32(duration))
	b.Write(make([]byte, 8))
	b.Write(u16(0)) // layer
	b.Write(u16(0)) // alternate_group
	b.Write(u16(0)) // volume
	b.Write(u16(0)) // reserved
	b.Write(identityMatrix())
	b.Write(u32(uint32(width) << 16)) // 16.16 fixed point
	b.Write(u32(uint32(height) << 16))
	return fullBox("tkhd", 0, 0x000003, b.Bytes())
}

// sttsBox declares a constant sample delta for sampleCount samples.
func sttsBox(sampleCount, delta uint32) []byte {
	if sampleCount == 0 {
		return fullBox("stts", 0, 0, u32(0))
	}
	return fullBox("stts", 0, 0, u32(1), u32(sampleCount), u32(delta))
}

func identityMatrix() []byte {
	var b bytes.Buffer
	b.Write(u32(0x00010000))
	b.Write(make([]byte, 12))
	b.Write(u32(0x00010000))
	b.Write(make([]byte, 12))
	b.Write(u32(0x40000000))
	return b.Bytes()
}

// ClassicConfig describes a moov-resident sample table file.
type ClassicConfig struct {
	Width, Height   uint16
	Timescale       uint32
	Duration        uint32
	SampleSizes     []uint32
	SamplesPerChunk int
	// SyncSamples are one-based sample numbers for stss. Nil omits the
	// box entirely (every sample is then a random-access point).
	SyncSamples []uint32
	// CompatibleBrands defaults to isom/avc1 when empty.
	CompatibleBrands []string
	// MoovAtEnd places the sample table after the media data, the
	// layout of a non-faststart MP4.
	MoovAtEnd bool
}

// BuildClassicMP4 produces a complete unfragmented MP4 and the absolute
// offset of each sample within it.
func BuildClassicMP4(cfg ClassicConfig) (file []byte, sampleOffsets []uint64) {
	if cfg.SamplesPerChunk <= 0 {
		cfg.SamplesPerChunk = len(cfg.SampleSizes)
	}
	brands := cfg.CompatibleBrands
	if len(brands) == 0 {
		brands = []string{"isom", "avc1"}
	}

	ftypPayload := [][]byte{[]byte("isom"), u32(0x200)}
	for _, b := range brands {
		ftypPayload = append(ftypPayload, []byte(b))
	}
	ftyp := box("ftyp", ftypPayload...)

	numChunks := (len(cfg.SampleSizes) + cfg.SamplesPerChunk - 1) / cfg.SamplesPerChunk

	// moov size does not depend on the offset values, so build it once
	// with placeholders to learn where mdat's payload will land.
	moovFor := func(chunkOffsets []uint32) []byte {
		var stblChildren [][]byte
		stblChildren = append(stblChildren, stsdBox(cfg.Width, cfg.Height))
		stblChildren = append(stblChildren, sttsBox(uint32(len(cfg.SampleSizes)), 512))

		stszPayload := [][]byte{u32(0), u32(uint32(len(cfg.SampleSizes)))}
		for _, s := range cfg.SampleSizes {
			stszPayload = append(stszPayload, u32(s))
		}
		stblChildren = append(stblChildren, fullBox("stsz", 0, 0, stszPayload...))

		stscPayload := [][]byte{u32(1), u32(1), u32(uint32(cfg.SamplesPerChunk)), u32(1)}
		stblChildren = append(stblChildren, fullBox("stsc", 0, 0, stscPayload...))

		stcoPayload := [][]byte{u32(uint32(len(chunkOffsets)))}
		for _, off := range chunkOffsets {
			stcoPayload = append(stcoPayload, u32(off))
		}
		stblChildren = append(stblChildren, fullBox("stco", 0, 0, stcoPayload...))

		if cfg.SyncSamples != nil {
			stssPayload := [][]byte{u32(uint32(len(cfg.SyncSamples)))}
			for _, s := range cfg.SyncSamples {
				stssPayload = append(stssPayload, u32(s))
			}
			stblChildren = append(stblChildren, fullBox("stss", 0, 0, stssPayload...))
		}

		stbl := box("stbl", stblChildren...)
		minf := box("minf", stbl)
		mdia := box("mdia", mdhdBox(cfg.Timescale, cfg.Duration), hdlrBox(), minf)
		trak := box("trak", tkhdBox(1, cfg.Duration, cfg.Width, cfg.Height), mdia)
		return box("moov", mvhdBox(cfg.Timescale, cfg.Duration), trak)
	}

	mdatPayloadStart := len(ftyp) + 8
	if !cfg.MoovAtEnd {
		// moov size does not depend on the offset values it carries, so
		// a placeholder pass tells us where mdat's payload will land.
		placeholder := make([]uint32, numChunks)
		mdatPayloadStart += len(moovFor(placeholder))
	}

	chunkOffsets := make([]uint32, numChunks)
	cur := uint32(mdatPayloadStart)
	si := 0
	for ci := range chunkOffsets {
		chunkOffsets[ci] = cur
		for j := 0; j < cfg.SamplesPerChunk && si < len(cfg.SampleSizes); j++ {
			sampleOffsets = append(sampleOffsets, uint64(cur))
			cur += cfg.SampleSizes[si]
			si++
		}
	}

	var mdatPayload []byte
	for i, s := range cfg.SampleSizes {
		mdatPayload = append(mdatPayload, fillSample(i, s)...)
	}

	file = append(file, ftyp...)
	if cfg.MoovAtEnd {
		file = append(file, box("mdat", mdatPayload)...)
		file = append(file, moovFor(chunkOffsets)...)
	} else {
		file = append(file, moovFor(chunkOffsets)...)
		file = append(file, box("mdat", mdatPayload)...)
	}
	return file, sampleOffsets
}

// FragmentSample describes one sample of a fragment run.
type FragmentSample struct {
	Size     uint32
	Keyframe bool
}

// FragmentedConfig describes an mvex/moof file.
type FragmentedConfig struct {
	Width, Height uint16
	Timescale     uint32
	// Fragments each become one moof+mdat pair.
	Fragments [][]FragmentSample
}

// BuildFragmentedMP4 produces a fragmented MP4 and the absolute offset
// of each sample across all fragments.
func BuildFragmentedMP4(cfg FragmentedConfig) (file []byte, sampleOffsets []uint64) {
	ftyp := box("ftyp", []byte("isom"), u32(0x200), []byte("isom"), []byte("iso2"), []byte("avc1"))

	// Empty sample table; the samples live in fragments.
	stbl := box("stbl",
		stsdBox(cfg.Width, cfg.Height),
		sttsBox(0, 0),
		fullBox("stsz", 0, 0, u32(0), u32(0)),
		fullBox("stsc", 0, 0, u32(0)),
		fullBox("stco", 0, 0, u32(0)),
	)
	minf := box("minf", stbl)
	mdia := box("mdia", mdhdBox(cfg.Timescale, 0), hdlrBox(), minf)
	trak := box("trak", tkhdBox(1, 0, cfg.Width, cfg.Height), mdia)
	trex := fullBox("trex", 0, 0, u32(1), u32(1), u32(0), u32(0), u32(0x00010000))
	mvex := box("mvex", trex)
	moov := box("moov", mvhdBox(cfg.Timescale, 0), trak, mvex)

	file = append(file, ftyp...)
	file = append(file, moov...)

	seq := uint32(1)
	globalSample := 0
	for _, frag := range cfg.Fragments {
		mfhd := fullBox("mfhd", 0, 0, u32(seq))
		seq++

		// trun: data-offset + per-sample size and flags.
		trunPayload := [][]byte{u32(uint32(len(frag)))}
		trunPayload = append(trunPayload, nil) // patched below with data_offset
		for _, s := range frag {
			flags := uint32(0x00010000) // non-sync
			if s.Keyframe {
				flags = 0
			}
			trunPayload = append(trunPayload, u32(s.Size), u32(flags))
		}

		buildMoof := func(dataOffset uint32) []byte {
			payload := make([][]byte, len(trunPayload))
			copy(payload, trunPayload)
			payload[1] = u32(dataOffset)
			trun := fullBox("trun", 0, 0x000601, payload...)
			tfhd := fullBox("tfhd", 0, 0x020000, u32(1)) // default-base-is-moof
			traf := box("traf", tfhd, trun)
			return box("moof", mfhd, traf)
		}

		moofSize := len(buildMoof(0))
		moofStart := len(file)
		dataOffset := uint32(moofSize + 8) // mdat payload follows the moof

		var mdatPayload []byte
		cur := uint64(moofStart) + uint64(dataOffset)
		for _, s := range frag {
			sampleOffsets = append(sampleOffsets, cur)
			cur += uint64(s.Size)
			mdatPayload = append(mdatPayload, fillSample(globalSample, s.Size)...)
			globalSample++
		}

		file = append(file, buildMoof(dataOffset)...)
		file = append(file, box("mdat", mdatPayload)...)
	}
	return file, sampleOffsets
}

// fillSample produces deterministic filler bytes for sample i.
func fillSample(i int, size uint32) []byte {
	out := make([]byte, size)
	for j := range out {
		out[j] = byte(i + j)
	}
	return out
}

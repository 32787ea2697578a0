package mp4

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fullPayload prepends version and flags to field bytes.
func fullPayload(version uint8, flags uint32, fields ...[]byte) []byte {
	out := []byte{version, byte(flags >> 16), byte(flags >> 8), byte(flags)}
	for _, f := range fields {
		out = append(out, f...)
	}
	return out
}

func be32(v uint32) []byte { return binary.BigEndian.AppendUint32(nil, v) }
func be64(v uint64) []byte { return binary.BigEndian.AppendUint64(nil, v) }

func TestParseFtyp(t *testing.T) {
	payload := append([]byte("isom"), be32(0x200)...)
	payload = append(payload, "isom"...)
	payload = append(payload, "avc1"...)

	ftyp, err := ParseFtyp(payload)
	require.NoError(t, err)
	assert.Equal(t, "isom", ftyp.MajorBrand)
	assert.Equal(t, uint32(0x200), ftyp.MinorVersion)
	assert.Equal(t, []string{"isom", "avc1"}, ftyp.CompatibleBrands)
}

func TestParseMdhd(t *testing.T) {
	t.Run("version 0", func(t *testing.T) {
		payload := fullPayload(0, 0, be32(0), be32(0), be32(90000), be32(450000), be32(0))
		mdhd, err := ParseMdhd(payload)
		require.NoError(t, err)
		assert.Equal(t, uint32(90000), mdhd.Timescale)
		assert.Equal(t, uint64(450000), mdhd.Duration)
	})

	t.Run("version 1", func(t *testing.T) {
		payload := fullPayload(1, 0, be64(0), be64(0), be32(600), be64(12345), be32(0))
		mdhd, err := ParseMdhd(payload)
		require.NoError(t, err)
		assert.Equal(t, uint32(600), mdhd.Timescale)
		assert.Equal(t, uint64(12345), mdhd.Duration)
	})
}

func TestParseHdlr(t *testing.T) {
	payload := fullPayload(0, 0, be32(0), []byte("vide"), make([]byte, 12))
	handlerType, err := ParseHdlr(payload)
	require.NoError(t, err)
	assert.Equal(t, "vide", handlerType)
}

func TestParseStsz(t *testing.T) {
	t.Run("per-sample sizes", func(t *testing.T) {
		payload := fullPayload(0, 0, be32(0), be32(3), be32(100), be32(50), be32(75))
		sb, err := ParseStsz(payload)
		require.NoError(t, err)
		assert.Equal(t, uint32(3), sb.SampleCount)
		assert.Equal(t, uint32(100), sb.SizeOf(0))
		assert.Equal(t, uint32(75), sb.SizeOf(2))
	})

	t.Run("constant size", func(t *testing.T) {
		payload := fullPayload(0, 0, be32(4096), be32(10))
		sb, err := ParseStsz(payload)
		require.NoError(t, err)
		assert.Equal(t, uint32(10), sb.SampleCount)
		assert.Empty(t, sb.EntrySizes)
		assert.Equal(t, uint32(4096), sb.SizeOf(7))
	})
}

func TestParseStz2(t *testing.T) {
	t.Run("8-bit fields", func(t *testing.T) {
		payload := fullPayload(0, 0, []byte{0, 0, 0, 8}, be32(3), []byte{10, 20, 30})
		sb, err := ParseStz2(payload)
		require.NoError(t, err)
		assert.Equal(t, []uint32{10, 20, 30}, sb.EntrySizes)
	})

	t.Run("4-bit fields", func(t *testing.T) {
		// Three 4-bit entries: 0x5, 0x7, 0x3 packed into two bytes.
		payload := fullPayload(0, 0, []byte{0, 0, 0, 4}, be32(3), []byte{0x57, 0x30})
		sb, err := ParseStz2(payload)
		require.NoError(t, err)
		assert.Equal(t, []uint32{5, 7, 3}, sb.EntrySizes)
	})

	t.Run("invalid field size", func(t *testing.T) {
		payload := fullPayload(0, 0, []byte{0, 0, 0, 12}, be32(0))
		_, err := ParseStz2(payload)
		assert.Error(t, err)
	})
}

func TestParseStsc(t *testing.T) {
	// Chunks 1-2 carry 2 samples, chunks 3+ carry 3.
	payload := fullPayload(0, 0, be32(2),
		be32(1), be32(2), be32(1),
		be32(3), be32(3), be32(1))

	runs, err := ParseStsc(payload, 10)
	require.NoError(t, err)
	require.Len(t, runs, 4)
	assert.Equal(t, uint32(2), runs[0].NumSamples)
	assert.Equal(t, uint32(2), runs[1].NumSamples)
	assert.Equal(t, uint32(3), runs[2].NumSamples)
	assert.Equal(t, uint32(3), runs[3].NumSamples)
}

func TestParseStscSingleRun(t *testing.T) {
	payload := fullPayload(0, 0, be32(1), be32(1), be32(4), be32(1))
	runs, err := ParseStsc(payload, 10)
	require.NoError(t, err)
	// 4+4+4 covers the 10 samples.
	require.Len(t, runs, 3)
}

func TestParseStco(t *testing.T) {
	payload := fullPayload(0, 0, be32(2), be32(48), be32(4096))
	offsets, err := ParseStco(payload)
	require.NoError(t, err)
	assert.Equal(t, []uint64{48, 4096}, offsets)
}

func TestParseCo64(t *testing.T) {
	payload := fullPayload(0, 0, be32(1), be64(0x1_0000_0000))
	offsets, err := ParseCo64(payload)
	require.NoError(t, err)
	assert.Equal(t, []uint64{0x1_0000_0000}, offsets)
}

func TestParseStss(t *testing.T) {
	payload := fullPayload(0, 0, be32(3), be32(1), be32(31), be32(61))
	indices, err := ParseStss(payload)
	require.NoError(t, err)
	// stss sample numbers are one-based.
	assert.Equal(t, []uint64{0, 30, 60}, indices)
}

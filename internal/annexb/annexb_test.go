package annexb

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scanner-research/hwang/internal/testutil"
)

// lengthPrefixed joins NAL units with 4-byte big-endian length prefixes.
func lengthPrefixed(nalus ...[]byte) []byte {
	var out []byte
	for _, n := range nalus {
		out = binary.BigEndian.AppendUint32(out, uint32(len(n)))
		out = append(out, n...)
	}
	return out
}

func TestConvertNonKeyframe(t *testing.T) {
	f, err := NewFilter("avc1", testutil.AVCCRecord())
	require.NoError(t, err)

	nalu := []byte{0x41, 0x9A, 0x01, 0x02}
	got := f.Convert(lengthPrefixed(nalu), false)

	want := append([]byte{0, 0, 0, 1}, nalu...)
	assert.Equal(t, want, got)
}

func TestConvertKeyframePrependsParameterSets(t *testing.T) {
	f, err := NewFilter("avc1", testutil.AVCCRecord())
	require.NoError(t, err)

	idr := []byte{0x65, 0x88, 0x80}
	got := f.Convert(lengthPrefixed(idr), true)

	units := NALUnits(got)
	require.Len(t, units, 3)
	assert.Equal(t, testutil.TestSPS, units[0])
	assert.Equal(t, testutil.TestPPS, units[1])
	assert.Equal(t, idr, units[2])
	assert.Equal(t, uint8(7), H264NALUType(units[0]))
	assert.Equal(t, uint8(8), H264NALUType(units[1]))
	assert.Equal(t, uint8(5), H264NALUType(units[2]))
}

func TestConvertMultipleNALUnits(t *testing.T) {
	f, err := NewFilter("avc1", testutil.AVCCRecord())
	require.NoError(t, err)

	sei := []byte{0x06, 0x05, 0x01}
	slice := []byte{0x41, 0x9A}
	got := f.Convert(lengthPrefixed(sei, slice), false)

	units := NALUnits(got)
	require.Len(t, units, 2)
	assert.Equal(t, sei, units[0])
	assert.Equal(t, slice, units[1])
}

func TestConvertTruncatedSample(t *testing.T) {
	f, err := NewFilter("avc1", testutil.AVCCRecord())
	require.NoError(t, err)

	// Length prefix promises more bytes than the sample holds; the
	// partial NAL is dropped rather than emitted.
	sample := lengthPrefixed([]byte{0x41, 0x9A, 0x01})
	got := f.Convert(sample[:5], false)
	assert.Empty(t, NALUnits(got))
}

func TestNewFilterRejectsEmptyExtradata(t *testing.T) {
	_, err := NewFilter("avc1", []byte{1, 0x64, 0x00, 0x1F, 0xFF, 0xE0, 0})
	assert.Error(t, err)
}

func TestNALUnitsStartCodeForms(t *testing.T) {
	data := []byte{0, 0, 1, 0xAA, 0xBB, 0, 0, 0, 1, 0xCC}
	units := NALUnits(data)
	require.Len(t, units, 2)
	assert.Equal(t, []byte{0xAA, 0xBB}, units[0])
	assert.Equal(t, []byte{0xCC}, units[1])
}

func TestH265NALUType(t *testing.T) {
	// VPS NAL header: type 32 in bits 1-6 of the first byte.
	assert.Equal(t, uint8(32), H265NALUType([]byte{0x40, 0x01}))
	assert.Equal(t, uint8(33), H265NALUType([]byte{0x42, 0x01}))
}

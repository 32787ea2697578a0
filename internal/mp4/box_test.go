package mp4

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rawBox builds size+type+payload test bytes.
func rawBox(typ string, payload []byte) []byte {
	out := binary.BigEndian.AppendUint32(nil, uint32(8+len(payload)))
	out = append(out, typ...)
	return append(out, payload...)
}

func TestReadHeader(t *testing.T) {
	buf := rawBox("ftyp", []byte{1, 2, 3, 4})
	typ, size, headerSize, err := ReadHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, "ftyp", typ)
	assert.Equal(t, uint64(12), size)
	assert.Equal(t, 8, headerSize)
}

func TestReadHeaderLargesize(t *testing.T) {
	buf := binary.BigEndian.AppendUint32(nil, 1)
	buf = append(buf, "mdat"...)
	buf = binary.BigEndian.AppendUint64(buf, 24)
	buf = append(buf, make([]byte, 8)...)

	typ, size, headerSize, err := ReadHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, "mdat", typ)
	assert.Equal(t, uint64(24), size)
	assert.Equal(t, 16, headerSize)
}

func TestReadHeaderShort(t *testing.T) {
	_, _, _, err := ReadHeader([]byte{0, 0, 0})
	assert.ErrorIs(t, err, ErrShortHeader)
}

func TestScanner(t *testing.T) {
	buf := append(rawBox("free", []byte{0xAA}), rawBox("mdat", []byte{1, 2})...)

	s := NewScanner(buf)
	b1, err := s.Next()
	require.NoError(t, err)
	require.NotNil(t, b1)
	assert.Equal(t, "free", b1.Type)
	assert.Equal(t, []byte{0xAA}, b1.Payload)
	assert.True(t, b1.Complete())

	b2, err := s.Next()
	require.NoError(t, err)
	require.NotNil(t, b2)
	assert.Equal(t, "mdat", b2.Type)

	b3, err := s.Next()
	require.NoError(t, err)
	assert.Nil(t, b3)
}

func TestScannerPartialWindow(t *testing.T) {
	full := rawBox("moov", make([]byte, 100))
	s := NewScanner(full[:20])
	b, err := s.Next()
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, uint64(108), b.Size)
	assert.False(t, b.Complete())
}

func TestFindFirst(t *testing.T) {
	buf := append(rawBox("free", nil), rawBox("trak", []byte{9})...)

	b, err := FindFirst(buf, "trak")
	require.NoError(t, err)
	assert.Equal(t, []byte{9}, b.Payload)

	_, err = FindFirst(buf, "mdia")
	assert.ErrorIs(t, err, ErrBoxNotFound)
}

// Package mp4 implements parsers for the ISO base-media boxes needed to
// index H.264/HEVC video tracks: the sample table under moov/trak and the
// movie-fragment boxes used by fragmented files.
package mp4

import (
	"errors"
	"fmt"

	"github.com/scanner-research/hwang/pkg/bits"
)

// Errors returned by the box scanner.
var (
	ErrShortHeader = errors.New("mp4: buffer too short for box header")
	ErrBoxNotFound = errors.New("mp4: box not found")
)

// Box is one parsed box header plus as much of its payload as the buffer
// holds. Size is the full box size including the header, so a caller that
// only has a partial window can tell how many bytes it still needs.
type Box struct {
	Type       string
	Size       uint64
	HeaderSize int
	Payload    []byte
}

// Complete reports whether the whole box body was present in the buffer
// the box was scanned from.
func (b Box) Complete() bool {
	return uint64(len(b.Payload))+uint64(b.HeaderSize) >= b.Size
}

// ReadHeader parses the box header at the start of buf. It handles the
// 16-byte largesize form (size == 1) and the 16-byte usertype extension
// of uuid boxes. A size of 0 means the box extends to the end of buf.
func ReadHeader(buf []byte) (typ string, size uint64, headerSize int, err error) {
	if len(buf) < 8 {
		return "", 0, 0, ErrShortHeader
	}
	size = uint64(buf[0])<<24 | uint64(buf[1])<<16 | uint64(buf[2])<<8 | uint64(buf[3])
	typ = string(buf[4:8])
	headerSize = 8
	if size == 1 {
		if len(buf) < 16 {
			return "", 0, 0, ErrShortHeader
		}
		size = uint64(buf[8])<<56 | uint64(buf[9])<<48 | uint64(buf[10])<<40 | uint64(buf[11])<<32 |
			uint64(buf[12])<<24 | uint64(buf[13])<<16 | uint64(buf[14])<<8 | uint64(buf[15])
		headerSize = 16
	}
	if typ == "uuid" {
		headerSize += 16
		if len(buf) < headerSize {
			return "", 0, 0, ErrShortHeader
		}
	}
	if size == 0 {
		size = uint64(len(buf))
	}
	if size < uint64(headerSize) {
		return "", 0, 0, fmt.Errorf("mp4: box %q size %d smaller than header", typ, size)
	}
	return typ, size, headerSize, nil
}

// Scanner iterates over the sequence of sibling boxes in a buffer.
type Scanner struct {
	buf []byte
	off uint64
}

// NewScanner creates a Scanner over the children laid out in buf.
func NewScanner(buf []byte) *Scanner {
	return &Scanner{buf: buf}
}

// Next returns the next box, or nil when the buffer is exhausted. The
// returned payload is clipped to the buffer, so the final box of a
// partial window may be incomplete (see Box.Complete).
func (s *Scanner) Next() (*Box, error) {
	if s.off >= uint64(len(s.buf)) {
		return nil, nil
	}
	typ, size, headerSize, err := ReadHeader(s.buf[s.off:])
	if err != nil {
		return nil, err
	}
	payloadStart := s.off + uint64(headerSize)
	payloadEnd := s.off + size
	if payloadEnd > uint64(len(s.buf)) {
		payloadEnd = uint64(len(s.buf))
	}
	b := &Box{
		Type:       typ,
		Size:       size,
		HeaderSize: headerSize,
		Payload:    s.buf[payloadStart:payloadEnd],
	}
	s.off += size
	return b, nil
}

// FindFirst scans the siblings in buf and returns the first box of the
// given type. Returns ErrBoxNotFound if no such box exists.
func FindFirst(buf []byte, typ string) (*Box, error) {
	s := NewScanner(buf)
	for {
		b, err := s.Next()
		if err != nil {
			return nil, err
		}
		if b == nil {
			return nil, fmt.Errorf("%w: %q", ErrBoxNotFound, typ)
		}
		if b.Type == typ {
			return b, nil
		}
	}
}

// FullBox is the version/flags prefix shared by full boxes.
type FullBox struct {
	Version uint8
	Flags   uint32
}

// readFullBox consumes the version/flags prefix from r.
func readFullBox(r *bits.Reader) FullBox {
	return FullBox{
		Version: uint8(r.ReadBits(8)),
		Flags:   uint32(r.ReadBits(24)),
	}
}

// overrunErr converts a reader overrun into a parse error for box typ.
func overrunErr(r *bits.Reader, typ string) error {
	if r.Overrun() {
		return fmt.Errorf("mp4: truncated %q box", typ)
	}
	return nil
}

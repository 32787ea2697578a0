package index

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/scanner-research/hwang/internal/mp4"
)

// readAhead is the chunk size the builder requests when it is scanning
// for the next box of interest rather than buffering a known box.
const readAhead = 1024

// supportedBrands are the ftyp brands the indexer accepts.
var supportedBrands = map[string]bool{
	"isom": true,
	"iso2": true,
	"avc1": true,
}

// Builder is a resumable, bounded-memory MP4 parser. The caller feeds it
// contiguous file chunks at the offsets it requests; when done, it yields
// the Video Index for the file's video track.
//
//	b := NewBuilder(fileSize, logger)
//	for !b.IsDone() {
//	    off, size := b.NextRequest()
//	    b.Feed(readAt(off, size))
//	}
type Builder struct {
	fileSize uint64
	logger   *slog.Logger

	done   bool
	failed bool
	errMsg string

	nextOffset uint64
	nextSize   uint64

	parsedFtyp       bool
	parsedMoov       bool
	fragmentsPresent bool

	trexes []mp4.TrackExtendsBox

	timescale uint32
	duration  uint64
	width     uint32
	height    uint32
	format    string
	extradata []byte

	sampleOffsets   []uint64
	sampleSizes     []uint64
	keyframeIndices []uint64
}

// NewBuilder creates a Builder for a file of the given total size.
func NewBuilder(fileSize uint64, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	size := uint64(readAhead)
	if size > fileSize {
		size = fileSize
	}
	return &Builder{
		fileSize:   fileSize,
		logger:     logger,
		nextOffset: 0,
		nextSize:   size,
	}
}

// NextRequest returns the offset and size of the file chunk the builder
// wants next.
func (b *Builder) NextRequest() (offset, size uint64) {
	return b.nextOffset, b.nextSize
}

// IsDone reports whether parsing has finished, successfully or not.
func (b *Builder) IsDone() bool {
	return b.done || (b.parsedFtyp && b.parsedMoov && !b.fragmentsPresent)
}

// IsError reports whether the builder hit a terminal error.
func (b *Builder) IsError() bool { return b.failed }

// ErrorMessage returns the terminal error message, if any.
func (b *Builder) ErrorMessage() string { return b.errMsg }

// fail transitions the builder into its terminal error state.
func (b *Builder) fail(format string, args ...any) bool {
	b.errMsg = fmt.Sprintf(format, args...)
	b.failed = true
	b.done = true
	b.logger.Error("mp4 index builder failed", slog.String("error", b.errMsg))
	return false
}

// request asks for exactly size bytes at offset; the range must exist.
func (b *Builder) request(offset, size uint64) bool {
	if offset+size > b.fileSize {
		return b.fail("EOF in middle of box")
	}
	b.nextOffset = offset
	b.nextSize = size
	return true
}

// requestLimited asks for up to size bytes at offset, clamped to the end
// of the file. Reaching the end of the file here is the normal completion
// path for fragmented files.
func (b *Builder) requestLimited(offset, size uint64) bool {
	if offset+size > b.fileSize {
		size = b.fileSize - min(offset, b.fileSize)
		if size == 0 {
			if b.parsedFtyp && b.parsedMoov && b.fragmentsPresent {
				// Finished searching for moofs.
				b.done = true
				return false
			}
			return b.fail("Reached EOF without being done")
		}
	}
	b.nextOffset = offset
	b.nextSize = size
	return true
}

// Feed consumes the chunk previously requested via NextRequest. It
// returns false when parsing is complete (check IsError), or true along
// with the next requested offset and size.
func (b *Builder) Feed(data []byte) (more bool, nextOffset, nextSize uint64) {
	if b.IsDone() {
		return false, 0, 0
	}

	windowStart := b.nextOffset
	cur := uint64(0)

	for cur < uint64(len(data)) && !b.IsDone() {
		rest := data[cur:]
		typ, size, _, err := mp4.ReadHeader(rest)
		if errors.Is(err, mp4.ErrShortHeader) {
			if windowStart+uint64(len(data)) >= b.fileSize {
				// The window already reaches EOF; the header can never
				// complete.
				b.fail("EOF in middle of box")
				return false, 0, 0
			}
			// Not enough buffered bytes for a header; refill from here.
			b.requestLimited(windowStart+cur, readAhead)
			return !b.done, b.nextOffset, b.nextSize
		}
		if err != nil {
			b.fail("%v", err)
			return false, 0, 0
		}
		// A raw size of zero means the box runs to the end of the file.
		if binary.BigEndian.Uint32(rest[:4]) == 0 {
			size = b.fileSize - (windowStart + cur)
		}

		interesting := (!b.parsedFtyp && typ == "ftyp") ||
			(!b.parsedMoov && typ == "moov") ||
			typ == "moof"

		if !interesting {
			// Skip ahead to the next box.
			b.logger.Debug("skipping box",
				slog.String("type", typ), slog.Uint64("size", size))
			cur += size
			if cur >= uint64(len(data)) {
				b.requestLimited(windowStart+cur, readAhead)
				return !b.done, b.nextOffset, b.nextSize
			}
			continue
		}

		if uint64(len(rest)) < size {
			// Buffer the entire box before parsing it.
			if !b.request(windowStart+cur, size) {
				return false, 0, 0
			}
			return true, b.nextOffset, b.nextSize
		}

		box := rest[:size]
		b.logger.Debug("parsing box",
			slog.String("type", typ), slog.Uint64("size", size))
		switch typ {
		case "ftyp":
			if !b.parseFtyp(box) {
				return false, 0, 0
			}
			b.parsedFtyp = true
		case "moov":
			if !b.parseMoov(box) {
				return false, 0, 0
			}
			b.parsedMoov = true
		case "moof":
			if !b.parseMoof(box, windowStart+cur) {
				return false, 0, 0
			}
		}
		cur += size
	}

	if b.IsDone() {
		return false, 0, 0
	}
	b.requestLimited(windowStart+cur, readAhead)
	return !b.done, b.nextOffset, b.nextSize
}

// parseFtyp validates the file brand. box covers the whole ftyp box.
func (b *Builder) parseFtyp(box []byte) bool {
	ftyp, err := boxPayload(box, "ftyp", mp4.ParseFtyp)
	if err != nil {
		return b.fail("%v", err)
	}
	if supportedBrands[ftyp.MajorBrand] {
		return true
	}
	for _, brand := range ftyp.CompatibleBrands {
		if supportedBrands[brand] {
			return true
		}
	}
	return b.fail("No supported mp4 brands: %s",
		strings.Join(append([]string{ftyp.MajorBrand}, ftyp.CompatibleBrands...), ", "))
}

// boxPayload strips the box header and applies a leaf parser.
func boxPayload[T any](box []byte, typ string, parse func([]byte) (T, error)) (T, error) {
	var zero T
	gotTyp, _, headerSize, err := mp4.ReadHeader(box)
	if err != nil {
		return zero, err
	}
	if gotTyp != typ {
		return zero, fmt.Errorf("mp4: expected %q box, got %q", typ, gotTyp)
	}
	return parse(box[headerSize:])
}

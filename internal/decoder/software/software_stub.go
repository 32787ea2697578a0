//go:build !ffmpeg || !cgo

// Software decoding requires cgo and libavcodec; this stub keeps the
// package buildable without them and reports the constraint at
// construction time.
package software

import (
	"fmt"
	"log/slog"

	"github.com/scanner-research/hwang/internal/decoder"
)

// Decoder is the cgo-less placeholder; it cannot be constructed.
type Decoder struct{}

// New reports that software decoding is unavailable in this build.
func New(deviceID int32, threadCount int, logger *slog.Logger) (*Decoder, error) {
	return nil, fmt.Errorf("software: decoder not available, rebuild with -tags ffmpeg")
}

func (d *Decoder) Configure(decoder.FrameInfo, []byte) error { return errUnavailable }
func (d *Decoder) Feed([]byte, bool, bool) error             { return errUnavailable }
func (d *Decoder) DiscardFrame() error                       { return errUnavailable }
func (d *Decoder) GetFrame([]byte) error                     { return errUnavailable }
func (d *Decoder) DecodedFramesBuffered() int                { return 0 }
func (d *Decoder) Flush() error                              { return errUnavailable }
func (d *Decoder) WaitUntilFramesCopied() error              { return errUnavailable }
func (d *Decoder) Close() error                              { return nil }

var errUnavailable = fmt.Errorf("software: decoder not compiled in")

var _ decoder.VideoDecoder = (*Decoder)(nil)

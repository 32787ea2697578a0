//go:build !nvidia || !cgo

// NVDEC decoding requires cgo and the nvidia build tag; this stub keeps
// the package buildable everywhere else.
package nvidia

import (
	"fmt"
	"log/slog"

	"github.com/scanner-research/hwang/internal/decoder"
)

// Decoder is the placeholder used when NVDEC support is not compiled in.
type Decoder struct{}

// New reports that hardware decoding is unavailable in this build.
func New(deviceID int32, logger *slog.Logger) (*Decoder, error) {
	return nil, fmt.Errorf("nvidia: decoder not available, rebuild with -tags nvidia")
}

func (d *Decoder) Configure(decoder.FrameInfo, []byte) error { return errUnavailable }
func (d *Decoder) Feed([]byte, bool, bool) error             { return errUnavailable }
func (d *Decoder) DiscardFrame() error                       { return errUnavailable }
func (d *Decoder) GetFrame([]byte) error                     { return errUnavailable }
func (d *Decoder) DecodedFramesBuffered() int                { return 0 }
func (d *Decoder) Flush() error                              { return errUnavailable }
func (d *Decoder) WaitUntilFramesCopied() error              { return errUnavailable }
func (d *Decoder) Close() error                              { return nil }

var errUnavailable = fmt.Errorf("nvidia: decoder not compiled in")

var _ decoder.VideoDecoder = (*Decoder)(nil)

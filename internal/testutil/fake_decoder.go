package testutil

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/scanner-research/hwang/internal/decoder"
)

// FakeDecoder is a scripted codec for automata tests: every fed sample
// becomes one decoded frame whose pixels repeat the sample's first byte.
// A configurable pipeline depth models codec latency, so delayed frames
// only surface after later feeds or a flush, the way a real decoder
// behaves.
type FakeDecoder struct {
	mu sync.Mutex

	configured bool
	info       decoder.FrameInfo
	extradata  []byte

	latency  int
	pipeline [][]byte
	queue    [][]byte

	// FeedErrAfter, when positive, fails the Nth feed and every feed after it.
	FeedErrAfter int

	feeds  int
	closed bool
}

// NewFakeDecoder creates a FakeDecoder with the given pipeline latency.
func NewFakeDecoder(latency int) *FakeDecoder {
	return &FakeDecoder{latency: latency}
}

// Closed reports whether Close was called.
func (f *FakeDecoder) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *FakeDecoder) frameSize() int {
	return int(f.info.Width) * int(f.info.Height) * 3
}

// Configure implements decoder.VideoDecoder.
func (f *FakeDecoder) Configure(info decoder.FrameInfo, extradata []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.configured = true
	f.info = info
	f.extradata = append([]byte(nil), extradata...)
	f.pipeline = nil
	f.queue = nil
	return nil
}

// Feed implements decoder.VideoDecoder.
func (f *FakeDecoder) Feed(packet []byte, keyframe, discontinuity bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.configured {
		return fmt.Errorf("fake: feed before configure")
	}
	if discontinuity {
		f.pipeline = nil
		f.queue = nil
		return nil
	}
	f.feeds++
	if f.FeedErrAfter > 0 && f.feeds >= f.FeedErrAfter {
		return fmt.Errorf("fake: scripted feed failure")
	}
	if len(packet) == 0 {
		// End of stream: everything still in the pipeline comes out.
		f.queue = append(f.queue, f.pipeline...)
		f.pipeline = nil
		return nil
	}

	frame := bytes.Repeat(packet[:1], f.frameSize())
	f.pipeline = append(f.pipeline, frame)
	for len(f.pipeline) > f.latency {
		f.queue = append(f.queue, f.pipeline[0])
		f.pipeline = f.pipeline[1:]
	}
	return nil
}

// DiscardFrame implements decoder.VideoDecoder.
func (f *FakeDecoder) DiscardFrame() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) > 0 {
		f.queue = f.queue[1:]
	}
	return nil
}

// GetFrame implements decoder.VideoDecoder.
func (f *FakeDecoder) GetFrame(buf []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.queue) == 0 {
		return nil
	}
	copy(buf, f.queue[0])
	f.queue = f.queue[1:]
	return nil
}

// DecodedFramesBuffered implements decoder.VideoDecoder.
func (f *FakeDecoder) DecodedFramesBuffered() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queue)
}

// Flush implements decoder.VideoDecoder.
func (f *FakeDecoder) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, f.pipeline...)
	f.pipeline = nil
	return nil
}

// WaitUntilFramesCopied implements decoder.VideoDecoder.
func (f *FakeDecoder) WaitUntilFramesCopied() error { return nil }

// Close implements decoder.VideoDecoder.
func (f *FakeDecoder) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

var _ decoder.VideoDecoder = (*FakeDecoder)(nil)

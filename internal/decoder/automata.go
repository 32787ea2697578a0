package decoder

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
)

// maxBufferedFrames is the feeder's backpressure limit: it stops feeding
// while more than this many decoded frames sit in the decoder's queue.
const maxBufferedFrames = 8

// DecoderAutomata orchestrates a feeder goroutine and the caller's
// retriever around a VideoDecoder. Initialize installs the decode
// segments; each GetFrames call then returns the next requested frames
// in ValidFrames order, discarding decoded-but-unwanted frames
// internally.
type DecoderAutomata struct {
	logger  *slog.Logger
	decoder VideoDecoder

	deviceHandle DeviceHandle
	numDevices   int32

	mu         sync.Mutex
	wakeFeeder *sync.Cond

	feederWaiting atomic.Bool
	notDone       atomic.Bool
	feederDone    chan struct{}

	encodedData []EncodedData
	info        FrameInfo
	frameSize   uint64

	// Retriever position.
	currentFrame      int64
	nextFrame         atomic.Int64
	framesRetrieved   atomic.Int64
	framesToGet       atomic.Int64
	retrieverDataIdx  atomic.Int32
	retrieverValidIdx atomic.Int64

	// Feeder position.
	seeking               atomic.Bool
	feederDataIdx         atomic.Int32
	feederValidIdx        atomic.Int64
	feederCurrentFrame    atomic.Int64
	feederNextFrame       atomic.Int64
	feederNextKeyframe    atomic.Int64
	feederNextKeyframeIdx atomic.Int64

	resultSet    atomic.Bool
	feederResult error // guarded by mu
}

// NewAutomata wraps an already-constructed decoder. Most callers use
// hwang.NewDecoderAutomata, which builds the decoder from a Kind.
func NewAutomata(deviceHandle DeviceHandle, numDevices int32, dec VideoDecoder, logger *slog.Logger) *DecoderAutomata {
	if logger == nil {
		logger = slog.Default()
	}
	a := &DecoderAutomata{
		logger:       logger,
		decoder:      dec,
		deviceHandle: deviceHandle,
		numDevices:   numDevices,
		feederDone:   make(chan struct{}),
	}
	a.wakeFeeder = sync.NewCond(&a.mu)
	a.notDone.Store(true)
	go a.feeder()
	return a
}

// Close tears the automaton down: it parks the feeder, drains and
// flushes the decoder, then joins the feeder goroutine and closes the
// decoder.
func (a *DecoderAutomata) Close() error {
	a.framesToGet.Store(0)
	a.framesRetrieved.Store(0)
	for a.decoder.DecodedFramesBuffered() > 0 {
		_ = a.decoder.DiscardFrame()
	}

	a.mu.Lock()
	for !a.feederWaiting.Load() {
		a.wakeFeeder.Wait()
	}
	_ = a.decoder.Flush()
	for a.decoder.DecodedFramesBuffered() > 0 {
		_ = a.decoder.DiscardFrame()
	}
	a.notDone.Store(false)
	a.feederWaiting.Store(false)
	a.mu.Unlock()

	a.wakeFeeder.Broadcast()
	<-a.feederDone
	return a.decoder.Close()
}

// Initialize installs a new list of decode segments and configures the
// decoder with the stream's extradata. The feeder must be parked, which
// Initialize waits for.
func (a *DecoderAutomata) Initialize(encodedData []EncodedData, extradata []byte) error {
	if len(encodedData) == 0 {
		return fmt.Errorf("decoder: initialize with no encoded data")
	}
	for i := range encodedData {
		if err := encodedData[i].validate(); err != nil {
			return fmt.Errorf("segment %d: %w", i, err)
		}
	}

	for a.decoder.DecodedFramesBuffered() > 0 {
		if err := a.decoder.DiscardFrame(); err != nil {
			return err
		}
	}

	a.mu.Lock()
	for !a.feederWaiting.Load() {
		a.wakeFeeder.Wait()
	}
	defer a.mu.Unlock()

	a.encodedData = encodedData
	a.frameSize = uint64(encodedData[0].Width) * uint64(encodedData[0].Height) * 3
	a.currentFrame = int64(encodedData[0].StartKeyframe)
	a.nextFrame.Store(int64(encodedData[0].ValidFrames[0]))
	a.retrieverDataIdx.Store(0)
	a.retrieverValidIdx.Store(0)
	a.resultSet.Store(false)
	a.feederResult = nil

	format := encodedData[0].Format
	if format == "" {
		format = "h264"
	}
	a.info = FrameInfo{
		Width:  encodedData[0].Width,
		Height: encodedData[0].Height,
		Format: format,
	}
	if err := a.decoder.Configure(a.info, extradata); err != nil {
		return err
	}

	if a.framesRetrieved.Load() > 0 {
		if err := a.decoder.Flush(); err != nil {
			return err
		}
		for a.decoder.DecodedFramesBuffered() > 0 {
			if err := a.decoder.DiscardFrame(); err != nil {
				return err
			}
		}
	}

	a.setFeederIdx(0)
	a.seeking.Store(false)
	return nil
}

// GetFrames decodes the next numFrames requested frames into buffer,
// which must hold numFrames * width * height * 3 bytes.
func (a *DecoderAutomata) GetFrames(buffer []byte, numFrames int) error {
	if uint64(len(buffer)) < uint64(numFrames)*a.frameSize {
		return fmt.Errorf("decoder: output buffer holds %d bytes, need %d",
			len(buffer), uint64(numFrames)*a.frameSize)
	}

	// Wait until the feeder is parked at its wait point.
	a.mu.Lock()
	for !a.feederWaiting.Load() {
		a.wakeFeeder.Wait()
	}
	a.mu.Unlock()

	a.framesRetrieved.Store(0)
	a.framesToGet.Store(int64(numFrames))

	// Only restart the feeder when the retriever has exhausted its
	// segment or both threads are on the same segment; otherwise the
	// feeder is already ahead and must not seek yet.
	if rdi := int(a.retrieverDataIdx.Load()); rdi < len(a.encodedData) {
		validFrames := a.encodedData[rdi].ValidFrames
		if int(a.retrieverValidIdx.Load()) == len(validFrames) ||
			a.retrieverDataIdx.Load() == a.feederDataIdx.Load() {
			if int(a.feederDataIdx.Load()) < len(a.encodedData) {
				if a.seeking.Load() {
					for a.decoder.DecodedFramesBuffered() > 0 {
						if err := a.decoder.DiscardFrame(); err != nil {
							return err
						}
					}
					a.seeking.Store(false)
				}
			}

			a.mu.Lock()
			a.feederWaiting.Store(false)
			a.mu.Unlock()
			a.wakeFeeder.Broadcast()
		}
	}

	for a.framesRetrieved.Load() < a.framesToGet.Load() {
		if a.resultSet.Load() {
			a.mu.Lock()
			err := a.feederResult
			a.mu.Unlock()
			return err
		}
		if a.decoder.DecodedFramesBuffered() > 0 {
			if err := a.retrieveBuffered(buffer); err != nil {
				return err
			}
		}
		runtime.Gosched()
	}
	return a.decoder.WaitUntilFramesCopied()
}

// retrieveBuffered pops decoded frames while the decoder has any,
// keeping requested frames and discarding the rest.
func (a *DecoderAutomata) retrieveBuffered(buffer []byte) error {
	moreFrames := true
	for moreFrames && a.framesRetrieved.Load() < a.framesToGet.Load() {
		rdi := int(a.retrieverDataIdx.Load())
		validFrames := a.encodedData[rdi].ValidFrames
		rvi := a.retrieverValidIdx.Load()

		if a.currentFrame == int64(validFrames[rvi]) {
			off := uint64(a.framesRetrieved.Load()) * a.frameSize
			if err := a.decoder.GetFrame(buffer[off : off+a.frameSize]); err != nil {
				return err
			}
			moreFrames = a.decoder.DecodedFramesBuffered() > 0
			rvi = a.retrieverValidIdx.Add(1)

			if int(rvi) == len(validFrames) {
				// Finished this segment; move to the next one and
				// restart the feeder at its keyframe.
				rdi = int(a.retrieverDataIdx.Add(1))
				a.retrieverValidIdx.Store(0)
				if rdi < len(a.encodedData) {
					if err := a.advanceToSegment(rdi); err != nil {
						return err
					}
					moreFrames = false
				}
			}
			if rdi := int(a.retrieverDataIdx.Load()); rdi < len(a.encodedData) {
				a.nextFrame.Store(int64(a.encodedData[rdi].ValidFrames[a.retrieverValidIdx.Load()]))
			}
			a.framesRetrieved.Add(1)
		} else {
			if err := a.decoder.DiscardFrame(); err != nil {
				return err
			}
			moreFrames = a.decoder.DecodedFramesBuffered() > 0
		}
		a.currentFrame++
	}
	return nil
}

// advanceToSegment parks the feeder (draining stale frames so a feeder
// stuck on backpressure can make progress), clears any pending seek, and
// restarts the feeder for segment rdi.
func (a *DecoderAutomata) advanceToSegment(rdi int) error {
	a.mu.Lock()
	for !a.feederWaiting.Load() {
		for a.decoder.DecodedFramesBuffered() > 0 {
			if err := a.decoder.DiscardFrame(); err != nil {
				a.mu.Unlock()
				return err
			}
		}
		a.wakeFeeder.Wait()
	}
	a.mu.Unlock()

	if a.seeking.Load() {
		for a.decoder.DecodedFramesBuffered() > 0 {
			if err := a.decoder.DiscardFrame(); err != nil {
				return err
			}
		}
		a.seeking.Store(false)
	}

	a.mu.Lock()
	a.feederWaiting.Store(false)
	a.currentFrame = int64(a.encodedData[rdi].Keyframes[0]) - 1
	a.mu.Unlock()
	a.wakeFeeder.Broadcast()
	return nil
}

// feeder is the background goroutine that pushes encoded packets into
// the decoder. It parks whenever a segment finishes or the request is
// satisfied, and the retriever wakes it per segment.
func (a *DecoderAutomata) feeder() {
	defer close(a.feederDone)
	for a.notDone.Load() {
		a.mu.Lock()
		a.feederWaiting.Store(true)
		a.wakeFeeder.Broadcast()
		for a.feederWaiting.Load() {
			a.wakeFeeder.Wait()
		}
		a.mu.Unlock()

		if !a.notDone.Load() {
			return
		}
		if int(a.feederDataIdx.Load()) >= len(a.encodedData) {
			continue
		}

		a.feedSegments()
	}
}

// feedSegments feeds packets until the current request is satisfied or
// the segment's samples run out.
func (a *DecoderAutomata) feedSegments() {
	for a.framesRetrieved.Load() < a.framesToGet.Load() {
		// Backpressure: cap the decoder's output queue. Broadcast so a
		// retriever waiting to park us re-checks its predicate.
		for a.framesRetrieved.Load() < a.framesToGet.Load() &&
			a.decoder.DecodedFramesBuffered() > maxBufferedFrames {
			a.wakeFeeder.Broadcast()
			runtime.Gosched()
		}

		fdi := int(a.feederDataIdx.Load())
		seg := &a.encodedData[fdi]

		var packet []byte
		isKeyframe := false
		cur := a.feederCurrentFrame.Load()
		if cur < int64(seg.EndKeyframe) {
			rel := seg.SampleOffsets[cur-int64(seg.StartKeyframe)] - seg.SampleOffsets[0]
			size := seg.SampleSizes[cur-int64(seg.StartKeyframe)]
			packet = seg.EncodedVideo[rel : rel+size]

			if cur == a.feederNextKeyframe.Load() {
				nki := a.feederNextKeyframeIdx.Add(1)
				if int(nki) < len(seg.Keyframes) {
					a.feederNextKeyframe.Store(int64(seg.Keyframes[nki]))
				}
				isKeyframe = true
			}
		}

		if err := a.decoder.Feed(packet, isKeyframe, false); err != nil {
			a.setFeederError(err)
			return
		}

		if a.feederCurrentFrame.Load() == a.feederNextFrame.Load() {
			fvi := a.feederValidIdx.Add(1)
			if int(fvi) < len(seg.ValidFrames) {
				a.feederNextFrame.Store(int64(seg.ValidFrames[fvi]))
			} else {
				a.feederNextFrame.Store(-1)
			}
		}
		a.feederCurrentFrame.Add(1)

		if len(packet) == 0 {
			// Reached the end of the segment: the empty packet was the
			// decoder's end-of-stream, so flush its internal buffers and
			// arm a seek before the next segment.
			if err := a.decoder.Flush(); err != nil {
				a.setFeederError(err)
				return
			}
			a.seeking.Store(true)
			a.setFeederIdx(fdi + 1)
			return
		}
		runtime.Gosched()
	}
}

// setFeederError records a decode failure for the retriever to surface,
// then lets the feeder re-park so the automaton cannot deadlock.
func (a *DecoderAutomata) setFeederError(err error) {
	a.mu.Lock()
	a.feederResult = err
	a.mu.Unlock()
	a.resultSet.Store(true)
	a.logger.Error("feeder stopped on decode error", slog.String("error", err.Error()))
}

// setFeederIdx repositions the feeder at the start of segment dataIdx.
func (a *DecoderAutomata) setFeederIdx(dataIdx int) {
	a.feederDataIdx.Store(int32(dataIdx))
	a.feederValidIdx.Store(0)
	if dataIdx < len(a.encodedData) {
		seg := &a.encodedData[dataIdx]
		a.feederCurrentFrame.Store(int64(seg.Keyframes[0]))
		a.feederNextFrame.Store(int64(seg.ValidFrames[0]))
		a.feederNextKeyframeIdx.Store(0)
		a.feederNextKeyframe.Store(int64(seg.Keyframes[0]))
	}
}

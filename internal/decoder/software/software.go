//go:build ffmpeg && cgo

// Package software implements the VideoDecoder contract on top of the
// libavcodec software decoder. Samples are converted to Annex-B with
// parameter sets re-prepended before keyframes, pushed through the
// send/receive packet API, and converted to RGB24 with a cached swscale
// context. Build with -tags ffmpeg and the libavcodec/libavutil/libswscale
// development headers installed.
package software

/*
#cgo pkg-config: libavcodec libavutil libswscale
#include <errno.h>
#include <libavcodec/avcodec.h>
#include <libavutil/imgutils.h>
#include <libavutil/mem.h>
#include <libswscale/swscale.h>
#include <string.h>
*/
import "C"

import (
	"fmt"
	"log/slog"
	"unsafe"

	"github.com/scanner-research/hwang/internal/annexb"
	"github.com/scanner-research/hwang/internal/decoder"
)

// Decoder is the libavcodec-backed software decoder. It is single-caller;
// the automaton serializes access to it.
type Decoder struct {
	logger      *slog.Logger
	deviceID    int32
	threadCount int

	codecCtx *C.AVCodecContext
	swsCtx   *C.struct_SwsContext

	// convertBuf is a C-side RGB24 staging buffer; sws_scale writes into
	// it and GetFrame copies it out to the caller's Go buffer.
	convertBuf     *C.uint8_t
	convertBufSize int

	// resetContext forces the swscale context to be rebuilt from the
	// codec's negotiated pixel format on the next GetFrame.
	resetContext bool

	filter    *annexb.Filter
	info      decoder.FrameInfo
	extradata []byte

	frameQueue []*C.AVFrame
	framePool  []*C.AVFrame
}

// New creates a software decoder using threadCount codec threads.
func New(deviceID int32, threadCount int, logger *slog.Logger) (*Decoder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if threadCount <= 0 {
		threadCount = 4
	}
	return &Decoder{
		logger:      logger,
		deviceID:    deviceID,
		threadCount: threadCount,
	}, nil
}

// Configure implements decoder.VideoDecoder.
func (d *Decoder) Configure(info decoder.FrameInfo, extradata []byte) error {
	d.freeCodec()

	d.info = info
	d.resetContext = true
	// Keep an owned copy: the filter is rebuilt from it on discontinuity
	// and it must not alias the Video Index's buffer.
	d.extradata = append([]byte(nil), extradata...)

	var codecID C.enum_AVCodecID
	switch info.Format {
	case "h264", "avc1", "avc3":
		codecID = C.AV_CODEC_ID_H264
	case "h265", "hev1", "hvc1", "hevc":
		codecID = C.AV_CODEC_ID_HEVC
	default:
		return fmt.Errorf("software: unsupported video codec %q, supported codecs are h264 and hevc/h265", info.Format)
	}

	codec := C.avcodec_find_decoder(codecID)
	if codec == nil {
		return fmt.Errorf("software: no decoder for codec %q", info.Format)
	}
	d.codecCtx = C.avcodec_alloc_context3(codec)
	if d.codecCtx == nil {
		return fmt.Errorf("software: could not alloc codec context for %q", info.Format)
	}
	d.codecCtx.thread_count = C.int(d.threadCount)

	if C.avcodec_open2(d.codecCtx, codec, nil) < 0 {
		return fmt.Errorf("software: could not open codec for %q", info.Format)
	}

	filter, err := annexb.NewFilter(info.Format, d.extradata)
	if err != nil {
		return err
	}
	d.filter = filter

	required := C.av_image_get_buffer_size(C.AV_PIX_FMT_RGB24,
		C.int(info.Width), C.int(info.Height), 1)
	if required <= 0 {
		return fmt.Errorf("software: invalid frame dimensions %dx%d", info.Width, info.Height)
	}
	if d.convertBuf != nil {
		C.av_free(unsafe.Pointer(d.convertBuf))
	}
	d.convertBuf = (*C.uint8_t)(C.av_malloc(C.size_t(required)))
	if d.convertBuf == nil {
		return fmt.Errorf("software: could not allocate conversion buffer")
	}
	d.convertBufSize = int(required)

	d.logger.Debug("software decoder configured",
		slog.String("format", info.Format),
		slog.Uint64("width", uint64(info.Width)),
		slog.Uint64("height", uint64(info.Height)),
		slog.Int("threads", d.threadCount))
	return nil
}

// Feed implements decoder.VideoDecoder. An empty packet drains the codec
// as end of stream; discontinuity resets the codec and the filter for a
// seek.
func (d *Decoder) Feed(packet []byte, keyframe, discontinuity bool) error {
	if discontinuity {
		d.dropQueued()
		if err := d.drain(true); err != nil {
			return err
		}
		C.avcodec_flush_buffers(d.codecCtx)

		filter, err := annexb.NewFilter(d.info.Format, d.extradata)
		if err != nil {
			return err
		}
		d.filter = filter
		return nil
	}

	if len(packet) == 0 {
		// End of stream: enter drain mode and collect the delayed frames.
		if err := d.drain(false); err != nil {
			return err
		}
		C.avcodec_flush_buffers(d.codecCtx)
		return nil
	}

	filtered := d.filter.Convert(packet, keyframe)
	if len(filtered) == 0 {
		return nil
	}

	pkt := C.av_packet_alloc()
	if pkt == nil {
		return fmt.Errorf("software: could not allocate packet")
	}
	defer C.av_packet_free(&pkt)
	if C.av_new_packet(pkt, C.int(len(filtered))) < 0 {
		return fmt.Errorf("software: could not allocate packet for feeding into decoder")
	}
	C.memcpy(unsafe.Pointer(pkt.data), unsafe.Pointer(&filtered[0]), C.size_t(len(filtered)))

	if ret := C.avcodec_send_packet(d.codecCtx, pkt); ret < 0 && ret != averrorEOF {
		return fmt.Errorf("software: error while sending packet (%d)", int(ret))
	}
	return d.receiveFrames(false)
}

// drain sends the flush packet and receives every delayed frame. When
// discard is true the frames are dropped instead of queued.
func (d *Decoder) drain(discard bool) error {
	if ret := C.avcodec_send_packet(d.codecCtx, nil); ret < 0 && ret != averrorEOF {
		return fmt.Errorf("software: error while sending flush packet (%d)", int(ret))
	}
	return d.receiveFrames(discard)
}

// receiveFrames pulls frames out of the codec until it wants more input.
func (d *Decoder) receiveFrames(discard bool) error {
	for {
		frame := d.takeFrame()
		ret := C.avcodec_receive_frame(d.codecCtx, frame)
		switch {
		case ret == averrorEOF || ret == averrorEAGAIN:
			d.framePool = append(d.framePool, frame)
			return nil
		case ret < 0:
			d.framePool = append(d.framePool, frame)
			return fmt.Errorf("software: error while receiving frame (%d)", int(ret))
		}
		if discard {
			C.av_frame_unref(frame)
			d.framePool = append(d.framePool, frame)
			continue
		}
		d.frameQueue = append(d.frameQueue, frame)
	}
}

// DiscardFrame implements decoder.VideoDecoder.
func (d *Decoder) DiscardFrame() error {
	if len(d.frameQueue) > 0 {
		frame := d.frameQueue[0]
		d.frameQueue = d.frameQueue[1:]
		C.av_frame_unref(frame)
		d.framePool = append(d.framePool, frame)
	}
	return nil
}

// GetFrame implements decoder.VideoDecoder: it pops one decoded frame,
// converts it to RGB24, and writes it into buf.
func (d *Decoder) GetFrame(buf []byte) error {
	if len(d.frameQueue) == 0 {
		return nil
	}
	frame := d.frameQueue[0]
	d.frameQueue = d.frameQueue[1:]

	width := C.int(d.info.Width)
	height := C.int(d.info.Height)

	if d.resetContext {
		C.sws_freeContext(d.swsCtx)
		d.swsCtx = C.sws_getContext(width, height, d.codecCtx.pix_fmt,
			width, height, C.AV_PIX_FMT_RGB24, C.SWS_BICUBIC, nil, nil, nil)
		d.resetContext = false
	}
	if d.swsCtx == nil {
		return fmt.Errorf("software: could not get sws context for rgb conversion")
	}

	if d.convertBufSize > len(buf) {
		return fmt.Errorf("software: decode buffer of %d bytes not large enough for image (%d)", len(buf), d.convertBufSize)
	}

	var outSlices [4]*C.uint8_t
	var outLinesizes [4]C.int
	if C.av_image_fill_arrays(&outSlices[0], &outLinesizes[0], d.convertBuf,
		C.AV_PIX_FMT_RGB24, width, height, 1) < 0 {
		return fmt.Errorf("software: av_image_fill_arrays failed")
	}
	if C.sws_scale(d.swsCtx, &frame.data[0], &frame.linesize[0], 0,
		frame.height, &outSlices[0], &outLinesizes[0]) < 0 {
		return fmt.Errorf("software: sws_scale failed")
	}
	copy(buf, unsafe.Slice((*byte)(unsafe.Pointer(d.convertBuf)), d.convertBufSize))

	C.av_frame_unref(frame)
	d.framePool = append(d.framePool, frame)
	return nil
}

// DecodedFramesBuffered implements decoder.VideoDecoder.
func (d *Decoder) DecodedFramesBuffered() int {
	return len(d.frameQueue)
}

// Flush implements decoder.VideoDecoder: residual frames are drained
// into the output queue for the caller to pop or discard.
func (d *Decoder) Flush() error {
	if err := d.drain(false); err != nil {
		return err
	}
	C.avcodec_flush_buffers(d.codecCtx)
	return nil
}

// WaitUntilFramesCopied implements decoder.VideoDecoder. The software
// path copies synchronously, so there is nothing to wait for.
func (d *Decoder) WaitUntilFramesCopied() error { return nil }

// Close implements decoder.VideoDecoder.
func (d *Decoder) Close() error {
	d.freeCodec()
	return nil
}

// takeFrame grabs a frame from the pool, allocating when empty.
func (d *Decoder) takeFrame() *C.AVFrame {
	if n := len(d.framePool); n > 0 {
		frame := d.framePool[n-1]
		d.framePool = d.framePool[:n-1]
		return frame
	}
	return C.av_frame_alloc()
}

// dropQueued unrefs every queued frame back into the pool.
func (d *Decoder) dropQueued() {
	for _, frame := range d.frameQueue {
		C.av_frame_unref(frame)
		d.framePool = append(d.framePool, frame)
	}
	d.frameQueue = d.frameQueue[:0]
}

// freeCodec releases the codec context, scaler, and frame pools.
func (d *Decoder) freeCodec() {
	d.dropQueued()
	for _, frame := range d.framePool {
		C.av_frame_free(&frame)
	}
	d.framePool = d.framePool[:0]
	if d.swsCtx != nil {
		C.sws_freeContext(d.swsCtx)
		d.swsCtx = nil
	}
	if d.convertBuf != nil {
		C.av_free(unsafe.Pointer(d.convertBuf))
		d.convertBuf = nil
		d.convertBufSize = 0
	}
	if d.codecCtx != nil {
		C.avcodec_free_context(&d.codecCtx)
	}
}

// libavutil error codes; AVERROR(EAGAIN) and AVERROR_EOF as cgo
// constants so the receive loop can branch on them.
const (
	averrorEAGAIN = -C.EAGAIN
	averrorEOF    = C.int(-0x20464f45) // AVERROR_EOF ('EOF ' tag)
)

var _ decoder.VideoDecoder = (*Decoder)(nil)

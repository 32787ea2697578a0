//go:build nvidia && cgo

// Package nvidia implements the VideoDecoder contract on the NVDEC
// hardware pipeline: a cuvid parser drives sequence/decode/display
// callbacks, decoded surfaces queue in a fixed ring, and GetFrame maps a
// surface, converts NV12 to RGB on-device, and copies into the caller's
// buffer.
package nvidia

/*
#cgo LDFLAGS: -lcuda -lnvcuvid -lcudart
#include <stdlib.h>
#include <cuda.h>
#include <cuda_runtime.h>
#include <nvcuvid.h>

// convertNV12toRGB is provided by the accompanying CUDA kernel object.
extern cudaError_t convertNV12toRGB(const unsigned char *in, unsigned int inPitch,
                                    unsigned char *out, unsigned int outPitch,
                                    int width, int height, cudaStream_t stream);

int hwangHandleVideoSequence(void *opaque, CUVIDEOFORMAT *format);
int hwangHandlePictureDecode(void *opaque, CUVIDPICPARAMS *picparams);
int hwangHandlePictureDisplay(void *opaque, CUVIDPARSERDISPINFO *dispinfo);

// installParserCallbacks wires the exported Go callbacks into the parser
// params; cgo cannot take the address of a C function from Go.
static void installParserCallbacks(CUVIDPARSERPARAMS *p) {
	p->pfnSequenceCallback = hwangHandleVideoSequence;
	p->pfnDecodePicture = hwangHandlePictureDecode;
	p->pfnDisplayPicture = hwangHandlePictureDisplay;
}
*/
import "C"

import (
	"fmt"
	"log/slog"
	"runtime/cgo"
	"sync"
	"unsafe"

	"github.com/scanner-research/hwang/internal/annexb"
	"github.com/scanner-research/hwang/internal/decoder"
)

const (
	// maxOutputFrames is the capacity of the display ring and the number
	// of decode surfaces allocated on the device.
	maxOutputFrames = 32
	// maxMappedFrames bounds concurrently mapped output surfaces.
	maxMappedFrames = 8
)

// Decoder drives an NVDEC parser/decoder pair on one GPU.
type Decoder struct {
	logger   *slog.Logger
	deviceID int32

	cudaCtx C.CUcontext
	parser  C.CUvideoparser
	dec     C.CUvideodecoder
	handle  cgo.Handle

	filter    *annexb.Filter
	info      decoder.FrameInfo
	extradata []byte

	convertFrame C.CUdeviceptr

	mu                sync.Mutex
	frameQueue        [maxOutputFrames]C.CUVIDPARSERDISPINFO
	frameQueueReadPos int
	frameQueueLen     int
	frameInUse        [maxOutputFrames]bool
	undisplayed       [maxOutputFrames]bool
	invalid           [maxOutputFrames]bool

	lastDisplayedFrame int64
}

// New creates an NVDEC decoder on the given device, retaining its
// primary CUDA context.
func New(deviceID int32, logger *slog.Logger) (*Decoder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Decoder{
		logger:             logger,
		deviceID:           deviceID,
		lastDisplayedFrame: -1,
	}
	var dev C.CUdevice
	if res := C.cuInit(0); res != C.CUDA_SUCCESS {
		return nil, fmt.Errorf("nvidia: cuInit failed (%d)", int(res))
	}
	if res := C.cuDeviceGet(&dev, C.int(deviceID)); res != C.CUDA_SUCCESS {
		return nil, fmt.Errorf("nvidia: no CUDA device %d (%d)", deviceID, int(res))
	}
	if res := C.cuDevicePrimaryCtxRetain(&d.cudaCtx, dev); res != C.CUDA_SUCCESS {
		return nil, fmt.Errorf("nvidia: could not retain primary context (%d)", int(res))
	}
	d.handle = cgo.NewHandle(d)
	return d, nil
}

// Configure implements decoder.VideoDecoder: it tears down any existing
// parser/decoder pair and builds a fresh one for the stream.
func (d *Decoder) Configure(info decoder.FrameInfo, extradata []byte) error {
	d.info = info
	d.extradata = append([]byte(nil), extradata...)

	filter, err := annexb.NewFilter(info.Format, d.extradata)
	if err != nil {
		return err
	}
	d.filter = filter

	var codecType C.cudaVideoCodec
	switch info.Format {
	case "h264", "avc1", "avc3":
		codecType = C.cudaVideoCodec_H264
	case "h265", "hev1", "hvc1", "hevc":
		codecType = C.cudaVideoCodec_HEVC
	default:
		return fmt.Errorf("nvidia: unsupported video codec %q", info.Format)
	}

	if res := C.cuCtxPushCurrent(d.cudaCtx); res != C.CUDA_SUCCESS {
		return fmt.Errorf("nvidia: cuCtxPushCurrent failed (%d)", int(res))
	}
	defer popContext()

	d.destroyPipeline()

	d.mu.Lock()
	for i := 0; i < maxOutputFrames; i++ {
		d.frameInUse[i] = false
		d.undisplayed[i] = false
		d.invalid[i] = false
	}
	d.frameQueueReadPos = 0
	d.frameQueueLen = 0
	d.lastDisplayedFrame = -1
	d.mu.Unlock()

	if d.convertFrame != 0 {
		C.cuMemFree(d.convertFrame)
		d.convertFrame = 0
	}
	frameBytes := C.size_t(info.Width) * C.size_t(info.Height) * 3
	if res := C.cuMemAlloc(&d.convertFrame, frameBytes); res != C.CUDA_SUCCESS {
		return fmt.Errorf("nvidia: could not allocate conversion buffer (%d)", int(res))
	}

	var parseInfo C.CUVIDPARSERPARAMS
	parseInfo.CodecType = codecType
	parseInfo.ulMaxNumDecodeSurfaces = maxOutputFrames
	parseInfo.ulMaxDisplayDelay = 1
	parseInfo.pUserData = unsafe.Pointer(uintptr(d.handle))
	C.installParserCallbacks(&parseInfo)
	if res := C.cuvidCreateVideoParser(&d.parser, &parseInfo); res != C.CUDA_SUCCESS {
		return fmt.Errorf("nvidia: cuvidCreateVideoParser failed (%d)", int(res))
	}

	var createInfo C.CUVIDDECODECREATEINFO
	createInfo.CodecType = codecType
	createInfo.ChromaFormat = C.cudaVideoChromaFormat_420
	createInfo.OutputFormat = C.cudaVideoSurfaceFormat_NV12
	createInfo.ulWidth = C.ulong(info.Width)
	createInfo.ulHeight = C.ulong(info.Height)
	createInfo.ulTargetWidth = createInfo.ulWidth
	createInfo.ulTargetHeight = createInfo.ulHeight
	createInfo.target_rect.right = C.short(info.Width)
	createInfo.target_rect.bottom = C.short(info.Height)
	createInfo.ulNumDecodeSurfaces = maxOutputFrames
	createInfo.ulNumOutputSurfaces = maxMappedFrames
	createInfo.ulCreationFlags = C.cudaVideoCreate_PreferCUVID
	createInfo.DeinterlaceMode = C.cudaVideoDeinterlaceMode_Weave
	if res := C.cuvidCreateDecoder(&d.dec, &createInfo); res != C.CUDA_SUCCESS {
		return fmt.Errorf("nvidia: cuvidCreateDecoder failed (%d)", int(res))
	}

	d.logger.Debug("nvidia decoder configured",
		slog.String("format", info.Format),
		slog.Uint64("width", uint64(info.Width)),
		slog.Uint64("height", uint64(info.Height)))
	return nil
}

// Feed implements decoder.VideoDecoder.
func (d *Decoder) Feed(packet []byte, keyframe, discontinuity bool) error {
	if res := C.cuCtxPushCurrent(d.cudaCtx); res != C.CUDA_SUCCESS {
		return fmt.Errorf("nvidia: cuCtxPushCurrent failed (%d)", int(res))
	}
	defer popContext()

	if discontinuity {
		d.emptyQueue()

		var pkt C.CUVIDSOURCEDATAPACKET
		pkt.flags = C.CUVID_PKT_DISCONTINUITY
		if res := C.cuvidParseVideoData(d.parser, &pkt); res != C.CUDA_SUCCESS {
			return fmt.Errorf("nvidia: discontinuity parse failed (%d)", int(res))
		}

		// Frames decoded but not yet displayed belong to the old
		// section; have the display callback drop them when they land.
		d.mu.Lock()
		d.lastDisplayedFrame = -1
		for i := 0; i < maxOutputFrames; i++ {
			d.invalid[i] = d.undisplayed[i]
			d.undisplayed[i] = false
		}
		d.mu.Unlock()
		d.emptyQueue()

		filter, err := annexb.NewFilter(d.info.Format, d.extradata)
		if err != nil {
			return err
		}
		d.filter = filter
		return nil
	}

	var filtered []byte
	if len(packet) > 0 {
		filtered = d.filter.Convert(packet, keyframe)
	}

	// The parser may read the payload asynchronously; hand it C memory.
	var payload unsafe.Pointer
	if len(filtered) > 0 {
		payload = C.CBytes(filtered)
		defer C.free(payload)
	}

	var pkt C.CUVIDSOURCEDATAPACKET
	if payload != nil {
		pkt.payload_size = C.ulong(len(filtered))
		pkt.payload = (*C.uchar)(payload)
	}
	if len(packet) == 0 {
		pkt.flags |= C.CUVID_PKT_ENDOFSTREAM
	}
	if res := C.cuvidParseVideoData(d.parser, &pkt); res != C.CUDA_SUCCESS {
		return fmt.Errorf("nvidia: cuvidParseVideoData failed (%d)", int(res))
	}

	// Re-prime the filter after end of stream so the next segment starts
	// with fresh parameter sets.
	if len(packet) == 0 {
		filter, err := annexb.NewFilter(d.info.Format, d.extradata)
		if err != nil {
			return err
		}
		d.filter = filter
	}
	return nil
}

// DiscardFrame implements decoder.VideoDecoder.
func (d *Decoder) DiscardFrame() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.frameQueueLen > 0 {
		dispinfo := d.frameQueue[d.frameQueueReadPos]
		d.frameInUse[dispinfo.picture_index] = false
		d.frameQueueReadPos = (d.frameQueueReadPos + 1) % maxOutputFrames
		d.frameQueueLen--
	}
	return nil
}

// GetFrame implements decoder.VideoDecoder.
func (d *Decoder) GetFrame(buf []byte) error {
	d.mu.Lock()
	if d.frameQueueLen == 0 {
		d.mu.Unlock()
		return nil
	}
	dispinfo := d.frameQueue[d.frameQueueReadPos]
	d.frameQueueReadPos = (d.frameQueueReadPos + 1) % maxOutputFrames
	d.frameQueueLen--
	d.mu.Unlock()

	if res := C.cuCtxPushCurrent(d.cudaCtx); res != C.CUDA_SUCCESS {
		return fmt.Errorf("nvidia: cuCtxPushCurrent failed (%d)", int(res))
	}
	defer popContext()

	var params C.CUVIDPROCPARAMS
	params.progressive_frame = dispinfo.progressive_frame
	params.top_field_first = dispinfo.top_field_first

	var mapped C.CUdeviceptr
	var pitch C.uint
	if res := C.cuvidMapVideoFrame(d.dec, dispinfo.picture_index, &mapped, &pitch, &params); res != C.CUDA_SUCCESS {
		return fmt.Errorf("nvidia: cuvidMapVideoFrame failed (%d)", int(res))
	}

	width := int(d.info.Width)
	height := int(d.info.Height)
	if cerr := C.convertNV12toRGB((*C.uchar)(unsafe.Pointer(uintptr(mapped))), C.uint(pitch),
		(*C.uchar)(unsafe.Pointer(uintptr(d.convertFrame))), C.uint(width*3),
		C.int(width), C.int(height), nil); cerr != C.cudaSuccess {
		C.cuvidUnmapVideoFrame(d.dec, mapped)
		return fmt.Errorf("nvidia: NV12 conversion failed (%d)", int(cerr))
	}
	if cerr := C.cudaMemcpy(unsafe.Pointer(&buf[0]), unsafe.Pointer(uintptr(d.convertFrame)),
		C.size_t(width*height*3), C.cudaMemcpyDefault); cerr != C.cudaSuccess {
		C.cuvidUnmapVideoFrame(d.dec, mapped)
		return fmt.Errorf("nvidia: frame copy failed (%d)", int(cerr))
	}
	C.cuvidUnmapVideoFrame(d.dec, mapped)

	d.mu.Lock()
	d.frameInUse[dispinfo.picture_index] = false
	d.mu.Unlock()
	return nil
}

// DecodedFramesBuffered implements decoder.VideoDecoder.
func (d *Decoder) DecodedFramesBuffered() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.frameQueueLen
}

// Flush implements decoder.VideoDecoder. End of stream is signalled by
// the empty packet the automaton feeds before flushing; residual frames
// are already queued by the display callback.
func (d *Decoder) Flush() error { return nil }

// WaitUntilFramesCopied implements decoder.VideoDecoder. Frame copies
// are synchronous on the default stream.
func (d *Decoder) WaitUntilFramesCopied() error { return nil }

// Close implements decoder.VideoDecoder.
func (d *Decoder) Close() error {
	if res := C.cuCtxPushCurrent(d.cudaCtx); res == C.CUDA_SUCCESS {
		d.destroyPipeline()
		if d.convertFrame != 0 {
			C.cuMemFree(d.convertFrame)
			d.convertFrame = 0
		}
		popContext()
	}
	C.cuDevicePrimaryCtxRelease(C.CUdevice(d.deviceID))
	d.handle.Delete()
	return nil
}

// emptyQueue drops every queued display frame.
func (d *Decoder) emptyQueue() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for d.frameQueueLen > 0 {
		dispinfo := d.frameQueue[d.frameQueueReadPos]
		d.frameInUse[dispinfo.picture_index] = false
		d.frameQueueReadPos = (d.frameQueueReadPos + 1) % maxOutputFrames
		d.frameQueueLen--
	}
}

// destroyPipeline tears down the parser and decoder. The CUDA context
// must be current.
func (d *Decoder) destroyPipeline() {
	if d.parser != nil {
		C.cuvidDestroyVideoParser(d.parser)
		d.parser = nil
	}
	if d.dec != nil {
		C.cuvidDestroyDecoder(d.dec)
		d.dec = nil
	}
}

func popContext() {
	var dummy C.CUcontext
	C.cuCtxPopCurrent(&dummy)
}

var _ decoder.VideoDecoder = (*Decoder)(nil)

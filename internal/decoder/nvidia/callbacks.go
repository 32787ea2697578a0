//go:build nvidia && cgo

package nvidia

/*
#include <cuda.h>
#include <nvcuvid.h>
*/
import "C"

import (
	"runtime/cgo"
	"time"
	"unsafe"
)

//export hwangHandleVideoSequence
func hwangHandleVideoSequence(opaque unsafe.Pointer, format *C.CUVIDEOFORMAT) C.int {
	return 1
}

//export hwangHandlePictureDecode
func hwangHandlePictureDecode(opaque unsafe.Pointer, picparams *C.CUVIDPICPARAMS) C.int {
	d := cgo.Handle(uintptr(opaque)).Value().(*Decoder)

	idx := int(picparams.CurrPicIdx)
	for {
		d.mu.Lock()
		if !d.frameInUse[idx] {
			d.undisplayed[idx] = true
			d.mu.Unlock()
			break
		}
		d.mu.Unlock()
		time.Sleep(500 * time.Microsecond)
	}

	if res := C.cuvidDecodePicture(d.dec, picparams); res != C.CUDA_SUCCESS {
		return 0
	}
	return 1
}

//export hwangHandlePictureDisplay
func hwangHandlePictureDisplay(opaque unsafe.Pointer, dispinfo *C.CUVIDPARSERDISPINFO) C.int {
	d := cgo.Handle(uintptr(opaque)).Value().(*Decoder)
	idx := int(dispinfo.picture_index)

	d.mu.Lock()
	if d.invalid[idx] {
		// Frame from before a discontinuity; drop it.
		d.invalid[idx] = false
		d.undisplayed[idx] = false
		d.mu.Unlock()
		return 1
	}
	d.frameInUse[idx] = true
	d.mu.Unlock()

	for {
		d.mu.Lock()
		if d.frameQueueLen < maxOutputFrames {
			writePos := (d.frameQueueReadPos + d.frameQueueLen) % maxOutputFrames
			d.frameQueue[writePos] = *dispinfo
			d.frameQueueLen++
			// Counts displayed frames for diagnostics only.
			d.lastDisplayedFrame++
			d.undisplayed[idx] = false
			d.mu.Unlock()
			return 1
		}
		d.mu.Unlock()
		time.Sleep(time.Millisecond)
	}
}

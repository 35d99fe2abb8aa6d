//go:build darwin || linux

package encoder

import (
	"fmt"
	"path/filepath"
	"runtime"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"

	"github.com/kattkieru/FrameCapturer/pkg/h264"
)

var openH264Factory = H264Factory{Name: "OpenH264", New: newOpenH264}

var (
	openH264Once    sync.Once
	openH264InitErr error

	welsCreateSVCEncoder  func(ppEncoder *uintptr) int32
	welsDestroySVCEncoder func(pEncoder uintptr)
)

func openH264LibNames() []string {
	if runtime.GOOS == "darwin" {
		return []string{"libopenh264.dylib", "libopenh264.6.dylib"}
	}
	return []string{"libopenh264.so", "libopenh264.so.7", "libopenh264.so.6"}
}

func loadOpenH264(rt *Runtime) error {
	openH264Once.Do(func() {
		openH264InitErr = func() error {
			var lastErr error
			for _, name := range openH264LibNames() {
				paths := []string{name}
				for _, dir := range rt.LibraryPaths {
					paths = append([]string{filepath.Join(dir, name)}, paths...)
				}
				for _, path := range paths {
					handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
					if err != nil {
						lastErr = err
						continue
					}
					purego.RegisterLibFunc(&welsCreateSVCEncoder, handle, "WelsCreateSVCEncoder")
					purego.RegisterLibFunc(&welsDestroySVCEncoder, handle, "WelsDestroySVCEncoder")
					return nil
				}
			}
			return fmt.Errorf("%w: %v", ErrNotAvailable, lastErr)
		}()
	})
	return openH264InitErr
}

// ISVCEncoder vtable slots, in declaration order.
const (
	vtInitialize = iota
	vtInitializeExt
	vtGetDefaultParams
	vtUninitialize
	vtEncodeFrame
	vtEncodeParameterSets
	vtForceIntraFrame
	vtSetOption
	vtGetOption
)

const (
	cameraVideoRealTime = 0 // EUsageType
	rcBitrateMode       = 0 // RC_MODES
	videoFormatI420     = 23
	videoFrameTypeIDR   = 2

	maxLayerNumOfFrame = 128
)

type sEncParamBase struct {
	usageType     int32
	picWidth      int32
	picHeight     int32
	targetBitrate int32
	rcMode        int32
	maxFrameRate  float32
}

type sSourcePicture struct {
	colorFormat int32
	stride      [4]int32
	_           [4]byte
	data        [4]uintptr
	picWidth    int32
	picHeight   int32
	timeStamp   int64
}

type sLayerBSInfo struct {
	temporalID    uint8
	spatialID     uint8
	qualityID     uint8
	_             [1]byte
	frameType     int32
	layerType     uint8
	_             [3]byte
	subSeqID      int32
	nalCount      int32
	_             [4]byte
	nalLengthByte *int32
	bsBuf         *byte
}

type sFrameBSInfo struct {
	layerNum  int32
	_         [4]byte
	layerInfo [maxLayerNumOfFrame]sLayerBSInfo
	frameType int32
	frameSize int32
	timeStamp int64
}

type openH264Encoder struct {
	handle uintptr
	info   string
	bsInfo *sFrameBSInfo
}

func (e *openH264Encoder) call(slot int, args ...uintptr) uintptr {
	vtable := *(*uintptr)(unsafe.Pointer(e.handle))
	fn := *(*uintptr)(unsafe.Pointer(vtable + uintptr(slot)*unsafe.Sizeof(uintptr(0))))
	r1, _, _ := purego.SyscallN(fn, append([]uintptr{e.handle}, args...)...)
	return r1
}

func newOpenH264(rt *Runtime, conf H264Config) (H264Encoder, error) {
	if err := loadOpenH264(rt); err != nil {
		return nil, err
	}

	var handle uintptr
	if ret := welsCreateSVCEncoder(&handle); ret != 0 || handle == 0 {
		return nil, fmt.Errorf("%w: WelsCreateSVCEncoder: %d", ErrNotAvailable, ret)
	}

	e := &openH264Encoder{
		handle: handle,
		info:   "OpenH264 Software Encoder",
		bsInfo: &sFrameBSInfo{},
	}

	param := sEncParamBase{
		usageType:     cameraVideoRealTime,
		picWidth:      int32(conf.Width),
		picHeight:     int32(conf.Height),
		targetBitrate: int32(conf.TargetBitrate),
		rcMode:        rcBitrateMode,
		maxFrameRate:  float32(conf.MaxFramerate),
	}
	if ret := e.call(vtInitialize, uintptr(unsafe.Pointer(&param))); ret != 0 {
		welsDestroySVCEncoder(handle)
		return nil, fmt.Errorf("%w: Initialize: %d", ErrNotAvailable, ret)
	}
	return e, nil
}

func (e *openH264Encoder) Info() string { return e.info }

func (e *openH264Encoder) Encode(dst *h264.Frame, img *I420Image, timestampNS uint64) error {
	pic := sSourcePicture{
		colorFormat: videoFormatI420,
		stride:      [4]int32{int32(img.Width), int32(img.Width / 2), int32(img.Width / 2)},
		data: [4]uintptr{
			uintptr(unsafe.Pointer(&img.Y[0])),
			uintptr(unsafe.Pointer(&img.U[0])),
			uintptr(unsafe.Pointer(&img.V[0])),
		},
		picWidth:  int32(img.Width),
		picHeight: int32(img.Height),
		timeStamp: int64(timestampNS / 1e6),
	}

	*e.bsInfo = sFrameBSInfo{}
	ret := e.call(vtEncodeFrame,
		uintptr(unsafe.Pointer(&pic)),
		uintptr(unsafe.Pointer(e.bsInfo)))
	if ret != 0 {
		return fmt.Errorf("%w: EncodeFrame: %d", ErrEncodeFailed, ret)
	}

	for i := int32(0); i < e.bsInfo.layerNum; i++ {
		layer := &e.bsInfo.layerInfo[i]
		if layer.bsBuf == nil || layer.nalCount == 0 {
			continue
		}
		total := 0
		lengths := unsafe.Slice(layer.nalLengthByte, layer.nalCount)
		for _, l := range lengths {
			total += int(l)
		}
		dst.Data = append(dst.Data, unsafe.Slice(layer.bsBuf, total)...)
	}

	dst.TimestampNS = timestampNS
	dst.DeriveKind()
	return nil
}

func (e *openH264Encoder) Close() error {
	e.call(vtUninitialize)
	welsDestroySVCEncoder(e.handle)
	e.handle = 0
	return nil
}

//go:build darwin || linux

package encoder

import (
	"fmt"
	"path/filepath"
	"runtime"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"

	"github.com/kattkieru/FrameCapturer/pkg/aac"
)

var faacFactory = AACFactory{Name: "FAAC", New: newFAAC}

var (
	faacOnce    sync.Once
	faacInitErr error

	faacEncOpen             func(sampleRate uint64, numChannels uint32, inputSamples *uint64, maxOutputBytes *uint64) uintptr
	faacEncGetCurrentConfig func(handle uintptr) uintptr
	faacEncSetConfig        func(handle uintptr, config *faacEncConfiguration) int32
	faacEncEncode           func(handle uintptr, inputBuffer unsafe.Pointer, samplesInput uint32, outputBuffer unsafe.Pointer, bufferSize uint32) int32
	faacEncClose            func(handle uintptr) int32
)

// faac.h faacEncConfiguration, 64-bit layout.
type faacEncConfiguration struct {
	version       int32
	_             [4]byte
	name          *byte
	copyright     *byte
	mpegVersion   uint32
	aacObjectType uint32
	allowMidside  uint32
	useLfe        uint32
	useTns        uint32
	_             [4]byte
	bitRate       uint64
	bandWidth     uint32
	_             [4]byte
	quantqual     uint64
	outputFormat  uint32
	_             [4]byte
	psymodellist  uintptr
	psymodelidx   uint32
	inputFormat   uint32
	shortctl      int32
	channelMap    [64]int32
}

const (
	faacMPEG4      = 0
	faacObjectLC   = 2
	faacInputFloat = 4
	faacFormatRaw  = 0
)

func faacLibNames() []string {
	if runtime.GOOS == "darwin" {
		return []string{"libfaac.dylib", "libfaac.0.dylib"}
	}
	return []string{"libfaac.so", "libfaac.so.0"}
}

func loadFAAC(rt *Runtime) error {
	faacOnce.Do(func() {
		faacInitErr = func() error {
			var lastErr error
			for _, name := range faacLibNames() {
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
					purego.RegisterLibFunc(&faacEncOpen, handle, "faacEncOpen")
					purego.RegisterLibFunc(&faacEncGetCurrentConfig, handle, "faacEncGetCurrentConfiguration")
					purego.RegisterLibFunc(&faacEncSetConfig, handle, "faacEncSetConfiguration")
					purego.RegisterLibFunc(&faacEncEncode, handle, "faacEncEncode")
					purego.RegisterLibFunc(&faacEncClose, handle, "faacEncClose")
					return nil
				}
			}
			return fmt.Errorf("%w: %v", ErrNotAvailable, lastErr)
		}()
	})
	return faacInitErr
}

type faacEncoder struct {
	handle       uintptr
	header       []byte
	inputSamples int
	out          []byte

	// PCM buffered until a full encoder block is available.
	pending []float32
}

func newFAAC(rt *Runtime, conf AACConfig) (AACEncoder, error) {
	if err := loadFAAC(rt); err != nil {
		return nil, err
	}

	var inputSamples, maxOutputBytes uint64
	handle := faacEncOpen(uint64(conf.SampleRate), uint32(conf.NumChannels),
		&inputSamples, &maxOutputBytes)
	if handle == 0 {
		return nil, fmt.Errorf("%w: faacEncOpen", ErrNotAvailable)
	}

	cfg := (*faacEncConfiguration)(unsafe.Pointer(faacEncGetCurrentConfig(handle)))
	cfg.mpegVersion = faacMPEG4
	cfg.aacObjectType = faacObjectLC
	cfg.inputFormat = faacInputFloat
	cfg.outputFormat = faacFormatRaw
	cfg.bitRate = uint64(conf.TargetBitrate) / uint64(conf.NumChannels)
	if faacEncSetConfig(handle, cfg) == 0 {
		faacEncClose(handle)
		return nil, fmt.Errorf("%w: faacEncSetConfiguration", ErrNotAvailable)
	}

	header, err := aac.MPEG4AudioConfig{
		Type:         aac.MPEG4AudioTypeAACLC,
		SampleRate:   conf.SampleRate,
		ChannelCount: conf.NumChannels,
	}.EncodeHeader()
	if err != nil {
		faacEncClose(handle)
		return nil, fmt.Errorf("encode audio config: %w", err)
	}

	return &faacEncoder{
		handle:       handle,
		header:       header,
		inputSamples: int(inputSamples),
		out:          make([]byte, maxOutputBytes),
	}, nil
}

func (e *faacEncoder) Header() []byte { return e.header }

func (e *faacEncoder) Encode(dst *aac.Frame, samples []float32) error {
	// FAAC floats are full-range PCM.
	start := len(e.pending)
	e.pending = append(e.pending, samples...)
	for i := start; i < len(e.pending); i++ {
		e.pending[i] *= 32767
	}

	flush := len(samples) == 0
	for len(e.pending) >= e.inputSamples || flush {
		block := e.pending
		if len(block) > e.inputSamples {
			block = block[:e.inputSamples]
		}

		var in unsafe.Pointer
		if len(block) > 0 {
			in = unsafe.Pointer(&block[0])
		}
		n := faacEncEncode(e.handle, in, uint32(len(block)),
			unsafe.Pointer(&e.out[0]), uint32(len(e.out)))
		if n < 0 {
			return fmt.Errorf("%w: faacEncEncode: %d", ErrEncodeFailed, n)
		}
		dst.Data = append(dst.Data, e.out[:n]...)

		e.pending = e.pending[len(block):]
		if flush && len(block) == 0 && n == 0 {
			break
		}
	}
	return nil
}

func (e *faacEncoder) Close() error {
	if e.handle != 0 {
		faacEncClose(e.handle)
		e.handle = 0
	}
	return nil
}

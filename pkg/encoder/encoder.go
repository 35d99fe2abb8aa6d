// Package encoder provides H.264 and AAC encoder selection and wrappers.
package encoder

import (
	"errors"

	"github.com/kattkieru/FrameCapturer/pkg/aac"
	"github.com/kattkieru/FrameCapturer/pkg/h264"
)

// Errors.
var (
	// ErrNotAvailable means the encoder backend cannot run on this
	// machine: library missing, no device, or unsupported platform.
	ErrNotAvailable = errors.New("encoder not available")

	// ErrEncodeFailed means the backend rejected a frame.
	ErrEncodeFailed = errors.New("encode failed")
)

// I420Image is a planar YUV 4:2:0 picture. Y is width*height bytes,
// U and V are width/2 * height/2 bytes each.
type I420Image struct {
	Y []byte
	U []byte
	V []byte

	Width  int
	Height int
}

// H264Config configures an H.264 encoder.
type H264Config struct {
	Width         int
	Height        int
	TargetBitrate int
	MaxFramerate  int
}

// H264Encoder encodes I420 pictures into Annex-B H.264 frames.
// A zero-length output is a valid "no emission this tick" signal.
type H264Encoder interface {
	// Info returns a human readable backend name.
	Info() string

	// Encode appends the encoded bitstream for one picture to dst.
	Encode(dst *h264.Frame, img *I420Image, timestampNS uint64) error

	Close() error
}

// AACConfig configures an AAC encoder.
type AACConfig struct {
	SampleRate    int
	NumChannels   int
	TargetBitrate int
}

// AACEncoder encodes interleaved float32 PCM into raw AAC frames.
type AACEncoder interface {
	// Header returns the decoder-specific-info buffer: a two-byte
	// preamble followed by the AudioSpecificConfig bytes.
	Header() []byte

	// Encode appends encoded output to dst. The encoder buffers
	// internally; a call may produce no output. A zero-length
	// samples slice flushes any buffered audio.
	Encode(dst *aac.Frame, samples []float32) error

	Close() error
}

// H264Factory creates an H.264 encoder backend.
type H264Factory struct {
	Name string
	New  func(rt *Runtime, conf H264Config) (H264Encoder, error)
}

// AACFactory creates an AAC encoder backend.
type AACFactory struct {
	Name string
	New  func(rt *Runtime, conf AACConfig) (AACEncoder, error)
}

// NewH264Encoder selects an encoder backend. With useHardware set the
// runtime's hardware factories are probed in order and the first one
// that comes up wins; the software encoder is the unconditional
// fallback. A software failure is fatal.
func NewH264Encoder(rt *Runtime, conf H264Config, useHardware bool) (H264Encoder, error) {
	if useHardware {
		for _, f := range rt.HardwareH264 {
			enc, err := f.New(rt, conf)
			if err != nil {
				rt.Logger.WithField("backend", f.Name).
					Debugf("hardware encoder unavailable: %v", err)
				continue
			}
			rt.Logger.Infof("using %s", enc.Info())
			return enc, nil
		}
	}

	enc, err := rt.SoftwareH264.New(rt, conf)
	if err != nil {
		return nil, err
	}
	rt.Logger.Infof("using %s", enc.Info())
	return enc, nil
}

// NewAACEncoder creates the runtime's AAC encoder backend.
func NewAACEncoder(rt *Runtime, conf AACConfig) (AACEncoder, error) {
	return rt.AAC.New(rt, conf)
}

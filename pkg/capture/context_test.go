// SPDX-License-Identifier: GPL-2.0-or-later

package capture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/kattkieru/FrameCapturer/pkg/aac"
	"github.com/kattkieru/FrameCapturer/pkg/encoder"
	"github.com/kattkieru/FrameCapturer/pkg/h264"
	"github.com/kattkieru/FrameCapturer/pkg/mp4mux/writerseeker"
)

var (
	testSPS = []byte{0x67, 0x42, 0xc0, 0x14}
	testPPS = []byte{0x68, 0xce}
)

// fakeH264 emits one IDR with parameter sets first, then P frames.
type fakeH264 struct {
	frames int
	closed bool
}

func (e *fakeH264) Info() string { return "fake H.264 encoder" }

func (e *fakeH264) Encode(dst *h264.Frame, img *encoder.I420Image, timestampNS uint64) error {
	payload := []byte{0x41, 0x9a, img.Y[0]}
	nalus := [][]byte{payload}
	if e.frames == 0 {
		nalus = [][]byte{testSPS, testPPS, {0x65, 0x88, img.Y[0]}}
	}
	e.frames++

	dst.Data = append(dst.Data, h264.AnnexBEncode(nalus)...)
	dst.TimestampNS = timestampNS
	dst.DeriveKind()
	return nil
}

func (e *fakeH264) Close() error {
	e.closed = true
	return nil
}

// fakeAAC emits one fixed-size frame per block and records flushes.
type fakeAAC struct {
	mu      sync.Mutex
	blocks  [][]float32
	flushes int
	closed  bool
}

func (e *fakeAAC) Header() []byte { return []byte{0x00, 0x00, 0x11, 0x90} }

func (e *fakeAAC) Encode(dst *aac.Frame, samples []float32) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(samples) == 0 {
		e.flushes++
		return nil
	}
	e.blocks = append(e.blocks, append([]float32(nil), samples...))
	dst.Data = append(dst.Data, 0xde, 0xad, byte(len(e.blocks)))
	return nil
}

func (e *fakeAAC) Close() error {
	e.closed = true
	return nil
}

func testRuntime(video *fakeH264, audio *fakeAAC) *encoder.Runtime {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	return &encoder.Runtime{
		Logger: log,
		SoftwareH264: encoder.H264Factory{
			Name: "fake",
			New: func(*encoder.Runtime, encoder.H264Config) (encoder.H264Encoder, error) {
				return video, nil
			},
		},
		AAC: encoder.AACFactory{
			Name: "fake",
			New: func(*encoder.Runtime, encoder.AACConfig) (encoder.AACEncoder, error) {
				return audio, nil
			},
		},
	}
}

// failEveryOther fails even-numbered readbacks.
type failEveryOther struct {
	mu    sync.Mutex
	calls int
}

func (d *failEveryOther) ReadTexture(dst []byte, tex uintptr, width, height int, format TextureFormat) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.calls%2 == 0 {
		return errors.New("device lost")
	}
	for i := range dst {
		dst[i] = 0x80
	}
	return nil
}

func (d *failEveryOther) WriteTexture(tex uintptr, width, height int, format TextureFormat, src []byte) error {
	return nil
}

func videoConfig() Config {
	return Config{
		Video:          true,
		VideoWidth:     4,
		VideoHeight:    4,
		VideoFramerate: 30,
		VideoBitrate:   100000,
	}
}

// sampleCount reads the video stsz sample count from a finished file.
func sampleCount(t *testing.T, buf []byte) uint32 {
	t.Helper()

	idx := -1
	for i := 0; i+4 <= len(buf); i++ {
		if string(buf[i:i+4]) == "stsz" {
			idx = i
		}
	}
	require.Greater(t, idx, 0)
	return binary.BigEndian.Uint32(buf[idx+12 : idx+16])
}

func TestParseConfigDefaults(t *testing.T) {
	conf, err := ParseConfig([]byte("video: true\nvideo_width: 640\nvideo_height: 480\n"))
	require.NoError(t, err)
	require.True(t, conf.Video)
	require.Equal(t, 640, conf.VideoWidth)
	require.Equal(t, defaultMaxBuffers, conf.VideoMaxBuffers)
	require.Equal(t, float32(1), conf.AudioScale)
}

func TestConfigValidate(t *testing.T) {
	require.ErrorIs(t, Config{}.Validate(), ErrNoTracks)
	require.ErrorIs(t, Config{Video: true, VideoWidth: 3, VideoHeight: 4}.Validate(),
		ErrInvalidDimension)
	require.ErrorIs(t, Config{Audio: true}.Validate(), ErrInvalidAudio)
	require.NoError(t, videoConfig().Validate())
}

func TestNewFailsWithoutCodec(t *testing.T) {
	rt := testRuntime(nil, nil)
	rt.SoftwareH264 = encoder.H264Factory{
		Name: "fake",
		New: func(*encoder.Runtime, encoder.H264Config) (encoder.H264Encoder, error) {
			return nil, encoder.ErrNotAvailable
		},
	}

	_, err := New(videoConfig(), nil, rt)
	require.ErrorIs(t, err, encoder.ErrNotAvailable)
}

func TestVideoPipeline(t *testing.T) {
	enc := &fakeH264{}
	ctx, err := New(videoConfig(), nil, testRuntime(enc, nil))
	require.NoError(t, err)

	ws := &writerseeker.WriterSeeker{}
	require.NoError(t, ctx.AttachStream(ws))

	pixels := make([]byte, 4*4*4)
	const frames = 5
	for i := 0; i < frames; i++ {
		require.True(t, ctx.AddVideoPixels(pixels, ColorSpaceRGBA, uint64(i+1)*33_000_000))
	}
	require.NoError(t, ctx.Close())

	require.Equal(t, frames, enc.frames)
	require.True(t, enc.closed)
	require.Equal(t, uint32(frames), sampleCount(t, ws.Bytes()))
}

func TestDisabledLanesRejectFrames(t *testing.T) {
	ctx, err := New(videoConfig(), nil, testRuntime(&fakeH264{}, nil))
	require.NoError(t, err)
	defer ctx.Close()

	require.False(t, ctx.AddAudio([]float32{0.1}, 0))
}

func TestCaptureFailureReturnsFrameToPool(t *testing.T) {
	enc := &fakeH264{}
	dev := &failEveryOther{}
	conf := videoConfig()
	conf.VideoMaxBuffers = 2

	ctx, err := New(conf, dev, testRuntime(enc, nil))
	require.NoError(t, err)

	ws := &writerseeker.WriterSeeker{}
	require.NoError(t, ctx.AttachStream(ws))

	succeeded := 0
	for i := 0; i < 10; i++ {
		if ctx.AddVideoTexture(1, uint64(i+1)*1_000_000) {
			succeeded++
		}
	}
	require.NoError(t, ctx.Close())

	require.Equal(t, 5, succeeded)
	require.Equal(t, succeeded, enc.frames)
	require.Len(t, ctx.video.free, conf.VideoMaxBuffers)
	require.Equal(t, uint32(succeeded), sampleCount(t, ws.Bytes()))
}

func TestConcurrentProducers(t *testing.T) {
	const producers = 4
	const perProducer = 16

	enc := &fakeH264{}
	conf := videoConfig()
	conf.VideoMaxBuffers = 2

	ctx, err := New(conf, nil, testRuntime(enc, nil))
	require.NoError(t, err)

	ws := &writerseeker.WriterSeeker{}
	require.NoError(t, ctx.AttachStream(ws))

	var wg sync.WaitGroup
	pixels := make([]byte, 4*4*4)
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				require.True(t, ctx.AddVideoPixels(pixels, ColorSpaceRGBA, 0))
			}
		}()
	}
	wg.Wait()
	require.NoError(t, ctx.Close())

	require.Equal(t, producers*perProducer, enc.frames)
	require.Len(t, ctx.video.free, conf.VideoMaxBuffers)
	require.Equal(t, uint32(producers*perProducer), sampleCount(t, ws.Bytes()))
}

func TestSingleBufferMakesProgress(t *testing.T) {
	enc := &fakeH264{}
	conf := videoConfig()
	conf.VideoMaxBuffers = 1

	ctx, err := New(conf, nil, testRuntime(enc, nil))
	require.NoError(t, err)

	var wg sync.WaitGroup
	pixels := make([]byte, 4*4*4)
	for p := 0; p < 2; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 8; i++ {
				require.True(t, ctx.AddVideoPixels(pixels, ColorSpaceRGBA, 0))
			}
		}()
	}
	wg.Wait()
	require.NoError(t, ctx.Close())

	require.Equal(t, 16, enc.frames)
	require.Len(t, ctx.video.free, 1)
}

func TestAudioScaleAndFlush(t *testing.T) {
	enc := &fakeAAC{}
	conf := Config{
		Audio:            true,
		AudioSampleRate:  48000,
		AudioNumChannels: 2,
		AudioBitrate:     128000,
		AudioScale:       0.5,
	}

	ctx, err := New(conf, nil, testRuntime(nil, enc))
	require.NoError(t, err)

	ws := &writerseeker.WriterSeeker{}
	require.NoError(t, ctx.AttachStream(ws))

	require.True(t, ctx.AddAudio([]float32{1, -1, 0.5, -0.5}, 1))
	require.NoError(t, ctx.Close())

	require.True(t, enc.closed)
	require.Equal(t, 1, enc.flushes)
	require.Len(t, enc.blocks, 1)
	require.Equal(t, []float32{0.5, -0.5, 0.25, -0.25}, enc.blocks[0])
}

func TestCloseIsIdempotent(t *testing.T) {
	ctx, err := New(videoConfig(), nil, testRuntime(&fakeH264{}, nil))
	require.NoError(t, err)

	require.NoError(t, ctx.Close())
	require.NoError(t, ctx.Close())
}

func TestAddVideoPixelsI420(t *testing.T) {
	enc := &fakeH264{}
	ctx, err := New(videoConfig(), nil, testRuntime(enc, nil))
	require.NoError(t, err)

	ws := &writerseeker.WriterSeeker{}
	require.NoError(t, ctx.AttachStream(ws))

	lum := 4 * 4
	pixels := make([]byte, lum+lum/2)
	for i := range pixels {
		pixels[i] = byte(i)
	}
	require.True(t, ctx.AddVideoPixels(pixels, ColorSpaceI420, 1))
	require.NoError(t, ctx.Close())

	require.Equal(t, 1, enc.frames)
	require.Equal(t, uint32(1), sampleCount(t, ws.Bytes()))
}

func TestMultipleWriters(t *testing.T) {
	enc := &fakeH264{}
	ctx, err := New(videoConfig(), nil, testRuntime(enc, nil))
	require.NoError(t, err)

	sinks := []*writerseeker.WriterSeeker{{}, {}}
	for _, ws := range sinks {
		require.NoError(t, ctx.AttachStream(ws))
	}

	pixels := make([]byte, 4*4*4)
	for i := 0; i < 3; i++ {
		require.True(t, ctx.AddVideoPixels(pixels, ColorSpaceRGBA, uint64(i+1)))
	}
	require.NoError(t, ctx.Close())

	for i, ws := range sinks {
		require.Equal(t, uint32(3), sampleCount(t, ws.Bytes()), fmt.Sprintf("sink %d", i))
	}
}

// SPDX-License-Identifier: GPL-2.0-or-later

// Package capture implements the real-time capture-and-mux pipeline:
// raw video and audio frames are handed off to per-lane encoder
// workers through bounded frame pools, and the encoded bitstream is
// fanned out to every attached MP4 stream writer.
package capture

import (
	"fmt"
	"io"
	"runtime"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/kattkieru/FrameCapturer/pkg/aac"
	"github.com/kattkieru/FrameCapturer/pkg/encoder"
	"github.com/kattkieru/FrameCapturer/pkg/h264"
	"github.com/kattkieru/FrameCapturer/pkg/mp4mux"
	"github.com/kattkieru/FrameCapturer/pkg/yuv"
)

// TextureFormat identifies the pixel layout of a texture.
type TextureFormat int

// Texture formats.
const (
	TextureFormatARGB32 TextureFormat = iota
)

// ColorSpace identifies the layout of a raw pixel buffer.
type ColorSpace int

// Color spaces accepted by AddVideoPixels.
const (
	ColorSpaceRGBA ColorSpace = iota
	ColorSpaceI420
)

// GraphicsDevice reads and writes GPU textures.
type GraphicsDevice interface {
	ReadTexture(dst []byte, tex uintptr, width, height int, format TextureFormat) error
	WriteTexture(tex uintptr, width, height int, format TextureFormat, src []byte) error
}

// Context is a capture session. Producers feed raw frames from any
// goroutine; two workers encode and hand the result to every attached
// stream writer. Close must be called to finish the output; calls
// after the first return the first call's result.
type Context struct {
	conf Config
	dev  GraphicsDevice
	log  *logrus.Logger

	h264enc encoder.H264Encoder
	aacenc  encoder.AACEncoder

	videoFrames []*VideoFrame
	audioFrames []*AudioFrame
	video       *lane
	audio       *lane

	writerMu  sync.Mutex
	writers   []*mp4mux.Writer
	videoDump io.Writer
	audioDump io.Writer

	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// New creates a capture context. Codec selection follows the runtime's
// backend order; if no encoder can be created for an enabled track the
// context is not created.
func New(conf Config, dev GraphicsDevice, rt *encoder.Runtime) (*Context, error) {
	if rt == nil {
		rt = encoder.DefaultRuntime()
	}

	conf = conf.withDefaults()
	if err := conf.Validate(); err != nil {
		return nil, err
	}

	c := &Context{
		conf: conf,
		dev:  dev,
		log:  rt.Logger,
	}

	if conf.Video {
		enc, err := encoder.NewH264Encoder(rt, encoder.H264Config{
			Width:         conf.VideoWidth,
			Height:        conf.VideoHeight,
			TargetBitrate: conf.VideoBitrate,
			MaxFramerate:  conf.VideoFramerate,
		}, conf.VideoUseHardwareEncoderIfPossible)
		if err != nil {
			return nil, fmt.Errorf("create H.264 encoder: %w", err)
		}
		c.h264enc = enc

		c.videoFrames = make([]*VideoFrame, conf.VideoMaxBuffers)
		for i := range c.videoFrames {
			c.videoFrames[i] = newVideoFrame(conf.VideoWidth, conf.VideoHeight)
		}
		c.video = newLane(conf.VideoMaxBuffers)

		c.wg.Add(1)
		go c.videoWorker()
	}

	if conf.Audio {
		enc, err := encoder.NewAACEncoder(rt, encoder.AACConfig{
			SampleRate:    conf.AudioSampleRate,
			NumChannels:   conf.AudioNumChannels,
			TargetBitrate: conf.AudioBitrate,
		})
		if err != nil {
			if c.h264enc != nil {
				c.h264enc.Close()
			}
			if c.video != nil {
				c.video.shutdown()
				c.wg.Wait()
			}
			return nil, fmt.Errorf("create AAC encoder: %w", err)
		}
		c.aacenc = enc

		c.audioFrames = make([]*AudioFrame, conf.VideoMaxBuffers)
		for i := range c.audioFrames {
			c.audioFrames[i] = &AudioFrame{}
		}
		c.audio = newLane(conf.VideoMaxBuffers)

		c.wg.Add(1)
		go c.audioWorker()
	}

	return c, nil
}

// AttachStream binds a new MP4 writer to sink. The file prologue is
// written immediately.
func (c *Context) AttachStream(sink mp4mux.Stream) error {
	w, err := mp4mux.NewWriter(sink, mp4mux.Config{
		Video:           c.conf.Video,
		VideoWidth:      c.conf.VideoWidth,
		VideoHeight:     c.conf.VideoHeight,
		Audio:           c.conf.Audio,
		AudioSampleRate: c.conf.AudioSampleRate,
		AudioBitrate:    c.conf.AudioBitrate,
	})
	if err != nil {
		return fmt.Errorf("attach stream: %w", err)
	}
	if c.aacenc != nil {
		w.SetAACHeader(c.aacenc.Header())
	}

	c.writerMu.Lock()
	c.writers = append(c.writers, w)
	c.writerMu.Unlock()
	return nil
}

// SetRawDump mirrors the encoded streams to debug sinks: the Annex-B
// H.264 bitstream to video and ADTS-framed AAC to audio. Either sink
// may be nil. Call before the first frame is submitted.
func (c *Context) SetRawDump(video, audio io.Writer) {
	c.writerMu.Lock()
	c.videoDump = video
	c.audioDump = audio
	c.writerMu.Unlock()
}

// AddVideoTexture enqueues one video frame read back from a texture.
// A zero timestamp is replaced with the current clock. It reports
// false when video is disabled or the readback failed.
func (c *Context) AddVideoTexture(tex uintptr, timestampNS uint64) bool {
	if c.h264enc == nil {
		return false
	}

	slot := c.video.acquireSlot()
	frame := c.videoFrames[slot]
	frame.TimestampNS = timestampNS
	if frame.TimestampNS == 0 {
		frame.TimestampNS = nowNanosec()
	}

	err := c.dev.ReadTexture(frame.RGBA, tex,
		c.conf.VideoWidth, c.conf.VideoHeight, TextureFormatARGB32)
	if err != nil {
		c.video.releaseSlot(slot)
		c.log.Warnf("texture readback failed: %v", err)
		return false
	}

	c.video.push(task{slot: slot, convert: true})
	return true
}

// AddVideoPixels enqueues one video frame from a raw pixel buffer.
func (c *Context) AddVideoPixels(pixels []byte, cs ColorSpace, timestampNS uint64) bool {
	if c.h264enc == nil {
		return false
	}

	slot := c.video.acquireSlot()
	frame := c.videoFrames[slot]
	frame.TimestampNS = timestampNS
	if frame.TimestampNS == 0 {
		frame.TimestampNS = nowNanosec()
	}

	convert := true
	switch cs {
	case ColorSpaceRGBA:
		copy(frame.RGBA, pixels)

	case ColorSpaceI420:
		convert = false
		lum := c.conf.VideoWidth * c.conf.VideoHeight
		chroma := lum / 4
		copy(frame.I420.Y, pixels[:lum])
		copy(frame.I420.U, pixels[lum:lum+chroma])
		copy(frame.I420.V, pixels[lum+chroma:lum+2*chroma])
	}

	c.video.push(task{slot: slot, convert: convert})
	return true
}

// AddAudio enqueues a block of interleaved float32 samples. An empty
// block flushes the encoder.
func (c *Context) AddAudio(samples []float32, timestampNS uint64) bool {
	if c.aacenc == nil {
		return false
	}

	slot := c.audio.acquireSlot()
	frame := c.audioFrames[slot]
	frame.TimestampNS = timestampNS
	if frame.TimestampNS == 0 {
		frame.TimestampNS = nowNanosec()
	}
	frame.Samples = append(frame.Samples[:0], samples...)

	// An empty sample block reaches the encoder as a flush.
	c.audio.push(task{slot: slot})
	return true
}

// waitAllTasksFinished spins until both lanes are drained.
func (c *Context) waitAllTasksFinished() {
	for {
		active := int32(0)
		if c.video != nil {
			active += c.video.active.Load()
		}
		if c.audio != nil {
			active += c.audio.active.Load()
		}
		if active == 0 {
			return
		}
		runtime.Gosched()
	}
}

// Close flushes the audio encoder, drains both lanes, stops the
// workers and finalizes every attached writer. Writer I/O errors are
// surfaced here; per-frame failures never are.
func (c *Context) Close() error {
	c.closeOnce.Do(func() {
		if c.aacenc != nil {
			c.AddAudio(nil, 0)
		}
		c.waitAllTasksFinished()

		if c.video != nil {
			c.video.shutdown()
		}
		if c.audio != nil {
			c.audio.shutdown()
		}
		c.wg.Wait()

		if c.h264enc != nil {
			c.h264enc.Close()
		}
		if c.aacenc != nil {
			c.aacenc.Close()
		}

		c.writerMu.Lock()
		defer c.writerMu.Unlock()
		for _, w := range c.writers {
			if err := w.Close(); err != nil && c.closeErr == nil {
				c.closeErr = fmt.Errorf("close writer: %w", err)
			}
		}
	})
	return c.closeErr
}

func (c *Context) videoWorker() {
	defer c.wg.Done()
	for {
		t, ok := c.video.pop()
		if !ok {
			return
		}
		c.runVideoTask(t)
		c.video.active.Add(-1)
	}
}

func (c *Context) runVideoTask(t task) {
	frame := c.videoFrames[t.slot]
	defer c.video.releaseSlot(t.slot)

	if t.convert {
		width := c.conf.VideoWidth
		yuv.ABGRToI420(
			frame.RGBA, width*4,
			frame.I420.Y, width,
			frame.I420.U, width/2,
			frame.I420.V, width/2,
			width, c.conf.VideoHeight)
	}

	var out h264.Frame
	if err := c.h264enc.Encode(&out, &frame.I420, frame.TimestampNS); err != nil {
		// Equivalent to the frame not existing.
		c.log.Debugf("video encode failed: %v", err)
		return
	}
	out.TimestampNS = frame.TimestampNS

	c.writerMu.Lock()
	defer c.writerMu.Unlock()
	for _, w := range c.writers {
		if err := w.AddVideoFrame(&out); err != nil {
			c.log.Warnf("write video frame: %v", err)
		}
	}
	if c.videoDump != nil && len(out.Data) > 0 {
		if _, err := c.videoDump.Write(out.Data); err != nil {
			c.log.Warnf("dump video frame: %v", err)
		}
	}
}

func (c *Context) audioWorker() {
	defer c.wg.Done()
	for {
		t, ok := c.audio.pop()
		if !ok {
			return
		}
		c.runAudioTask(t)
		c.audio.active.Add(-1)
	}
}

func (c *Context) runAudioTask(t task) {
	frame := c.audioFrames[t.slot]
	defer c.audio.releaseSlot(t.slot)

	if c.conf.AudioScale != 1 {
		for i := range frame.Samples {
			frame.Samples[i] *= c.conf.AudioScale
		}
	}

	var out aac.Frame
	if err := c.aacenc.Encode(&out, frame.Samples); err != nil {
		c.log.Debugf("audio encode failed: %v", err)
		return
	}
	out.TimestampNS = frame.TimestampNS

	c.writerMu.Lock()
	defer c.writerMu.Unlock()
	for _, w := range c.writers {
		if err := w.AddAudioFrame(&out); err != nil {
			c.log.Warnf("write audio frame: %v", err)
		}
	}
	if c.audioDump != nil && len(out.Data) > 0 {
		framed, err := aac.EncodeADTS(out.Data,
			c.conf.AudioSampleRate, c.conf.AudioNumChannels)
		if err == nil {
			_, err = c.audioDump.Write(framed)
		}
		if err != nil {
			c.log.Warnf("dump audio frame: %v", err)
		}
	}
}

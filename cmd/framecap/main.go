// SPDX-License-Identifier: GPL-2.0-or-later

// Command framecap records a synthetic test pattern and sine tone
// into an MP4 file. It exercises the whole capture pipeline and needs
// the codec libraries (OpenH264, FAAC) to be loadable.
package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/kattkieru/FrameCapturer/pkg/capture"
	"github.com/kattkieru/FrameCapturer/pkg/encoder"
)

func main() {
	if err := run(); err != nil {
		logrus.Fatal(err)
	}
}

func run() error {
	configPath := flag.String("c", "", "YAML config file")
	outPath := flag.String("o", "out.mp4", "output file")
	duration := flag.Duration("t", 3*time.Second, "capture duration")
	dumpRaw := flag.Bool("dump-raw", false, "also write raw .h264/.aac streams")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	if *verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	conf := capture.Config{
		Video:          true,
		VideoWidth:     640,
		VideoHeight:    480,
		VideoFramerate: 30,
		VideoBitrate:   1000000,

		Audio:            true,
		AudioSampleRate:  48000,
		AudioNumChannels: 2,
		AudioBitrate:     128000,
		AudioScale:       1,
	}
	if *configPath != "" {
		data, err := os.ReadFile(*configPath)
		if err != nil {
			return fmt.Errorf("read config: %w", err)
		}
		conf, err = capture.ParseConfig(data)
		if err != nil {
			return err
		}
	}

	ctx, err := capture.New(conf, nil, encoder.DefaultRuntime())
	if err != nil {
		return err
	}

	out, err := os.Create(*outPath)
	if err != nil {
		return err
	}
	defer out.Close()

	if err := ctx.AttachStream(out); err != nil {
		return err
	}

	if *dumpRaw {
		videoDump, err := os.Create(*outPath + ".h264")
		if err != nil {
			return err
		}
		defer videoDump.Close()
		audioDump, err := os.Create(*outPath + ".aac")
		if err != nil {
			return err
		}
		defer audioDump.Close()
		ctx.SetRawDump(videoDump, audioDump)
	}

	start := time.Now()
	var group errgroup.Group

	if conf.Video {
		group.Go(func() error {
			frame := make([]byte, 4*conf.VideoWidth*conf.VideoHeight)
			interval := time.Second / time.Duration(conf.VideoFramerate)
			for n := 0; time.Since(start) < *duration; n++ {
				pattern(frame, conf.VideoWidth, conf.VideoHeight, n)
				ctx.AddVideoPixels(frame, capture.ColorSpaceRGBA, 0)
				time.Sleep(interval)
			}
			return nil
		})
	}

	if conf.Audio {
		group.Go(func() error {
			const blockSamples = 1024
			block := make([]float32, blockSamples*conf.AudioNumChannels)
			interval := time.Second * blockSamples / time.Duration(conf.AudioSampleRate)
			for n := 0; time.Since(start) < *duration; n++ {
				tone(block, conf.AudioNumChannels, conf.AudioSampleRate, n*blockSamples)
				ctx.AddAudio(block, 0)
				time.Sleep(interval)
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return err
	}
	if err := ctx.Close(); err != nil {
		return err
	}

	logrus.Infof("wrote %s", *outPath)
	return nil
}

// pattern fills an RGBA buffer with a moving gradient.
func pattern(buf []byte, width, height, n int) {
	i := 0
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			buf[i] = byte(x + n)
			buf[i+1] = byte(y + n)
			buf[i+2] = byte(x ^ y)
			buf[i+3] = 0xFF
			i += 4
		}
	}
}

// tone fills an interleaved float32 block with a 440 Hz sine.
func tone(block []float32, channels, sampleRate, offset int) {
	for i := 0; i < len(block); i += channels {
		sample := float32(0.2 * math.Sin(
			2*math.Pi*440*float64(offset+i/channels)/float64(sampleRate)))
		for ch := 0; ch < channels; ch++ {
			block[i+ch] = sample
		}
	}
}

// SPDX-License-Identifier: GPL-2.0-or-later

package capture

import (
	"github.com/kattkieru/FrameCapturer/pkg/encoder"
)

// VideoFrame is a pooled raw video frame. The RGBA buffer and the
// three I420 planes are allocated once, at context creation.
type VideoFrame struct {
	RGBA        []byte
	I420        encoder.I420Image
	TimestampNS uint64
}

func newVideoFrame(width, height int) *VideoFrame {
	lum := width * height
	chroma := lum / 4

	planes := make([]byte, lum+2*chroma)
	return &VideoFrame{
		RGBA: make([]byte, 4*lum),
		I420: encoder.I420Image{
			Y:      planes[:lum],
			U:      planes[lum : lum+chroma],
			V:      planes[lum+chroma:],
			Width:  width,
			Height: height,
		},
	}
}

// AudioFrame is a pooled raw audio frame holding interleaved
// float32 PCM samples.
type AudioFrame struct {
	Samples     []float32
	TimestampNS uint64
}

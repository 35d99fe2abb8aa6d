// SPDX-License-Identifier: GPL-2.0-or-later

package capture

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v2"
)

const defaultMaxBuffers = 4

// Config configures a capture context.
type Config struct {
	Video           bool `yaml:"video"`
	VideoWidth      int  `yaml:"video_width"`
	VideoHeight     int  `yaml:"video_height"`
	VideoFramerate  int  `yaml:"video_framerate"`
	VideoBitrate    int  `yaml:"video_bitrate"`
	VideoMaxBuffers int  `yaml:"video_max_buffers"`

	VideoUseHardwareEncoderIfPossible bool `yaml:"video_use_hardware_encoder_if_possible"`

	Audio            bool    `yaml:"audio"`
	AudioSampleRate  int     `yaml:"audio_sample_rate"`
	AudioNumChannels int     `yaml:"audio_num_channels"`
	AudioBitrate     int     `yaml:"audio_bitrate"`
	AudioScale       float32 `yaml:"audio_scale"`
}

// Config validation errors.
var (
	ErrNoTracks         = errors.New("neither video nor audio is enabled")
	ErrInvalidDimension = errors.New("video dimensions must be positive and even")
	ErrInvalidAudio     = errors.New("audio sample rate and channel count must be positive")
)

// withDefaults fills unset optional fields.
func (c Config) withDefaults() Config {
	if c.VideoMaxBuffers == 0 {
		c.VideoMaxBuffers = defaultMaxBuffers
	}
	if c.AudioScale == 0 {
		c.AudioScale = 1
	}
	return c
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	if !c.Video && !c.Audio {
		return ErrNoTracks
	}
	if c.Video {
		if c.VideoWidth <= 0 || c.VideoHeight <= 0 ||
			c.VideoWidth%2 != 0 || c.VideoHeight%2 != 0 {
			return fmt.Errorf("%w: %dx%d", ErrInvalidDimension, c.VideoWidth, c.VideoHeight)
		}
	}
	if c.Audio {
		if c.AudioSampleRate <= 0 || c.AudioNumChannels <= 0 {
			return ErrInvalidAudio
		}
	}
	return nil
}

// ParseConfig unmarshals a YAML config and applies defaults.
func ParseConfig(data []byte) (Config, error) {
	var conf Config
	if err := yaml.Unmarshal(data, &conf); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return conf.withDefaults(), nil
}

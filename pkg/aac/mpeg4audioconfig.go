package aac

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/icza/bitio"
)

// MPEG4AudioType is the audio object type of an MPEG-4 Audio stream.
type MPEG4AudioType int

// MPEG4AudioTypeAACLC is the AAC low-complexity object type.
const MPEG4AudioTypeAACLC MPEG4AudioType = 2

// Config decode errors.
var (
	ErrConfigDecodeTypeUnsupported    = errors.New("unsupported type")
	ErrConfigDecodeSampleRateInvalid  = errors.New("invalid sample rate index")
	ErrConfigDecodeChannelUnsupported = errors.New("not yet supported")
	ErrConfigDecodeChannelInvalid     = errors.New("invalid channel configuration")
)

// MPEG4AudioConfig is a MPEG-4 AudioSpecificConfig.
type MPEG4AudioConfig struct {
	Type         MPEG4AudioType
	SampleRate   int
	ChannelCount int
}

// Decode decodes an MPEG4AudioConfig.
func (c *MPEG4AudioConfig) Decode(byts []byte) error {
	// ref: https://wiki.multimedia.cx/index.php/MPEG-4_Audio

	r := bitio.NewReader(bytes.NewBuffer(byts))

	tmp, err := r.ReadBits(5)
	if err != nil {
		return err
	}
	c.Type = MPEG4AudioType(tmp)

	if c.Type != MPEG4AudioTypeAACLC {
		return fmt.Errorf("%w: %d", ErrConfigDecodeTypeUnsupported, c.Type)
	}

	sampleRateIndex, err := r.ReadBits(4)
	if err != nil {
		return err
	}

	switch {
	case sampleRateIndex <= 12:
		c.SampleRate = sampleRates[sampleRateIndex]

	case sampleRateIndex == 15:
		tmp, err := r.ReadBits(24)
		if err != nil {
			return err
		}
		c.SampleRate = int(tmp)

	default:
		return fmt.Errorf("%w (%d)", ErrConfigDecodeSampleRateInvalid, sampleRateIndex)
	}

	channelConfig, err := r.ReadBits(4)
	if err != nil {
		return err
	}

	switch {
	case channelConfig == 0:
		return ErrConfigDecodeChannelUnsupported

	case channelConfig >= 1 && channelConfig <= 6:
		c.ChannelCount = int(channelConfig)

	case channelConfig == 7:
		c.ChannelCount = 8

	default:
		return fmt.Errorf("%w (%d)", ErrConfigDecodeChannelInvalid, channelConfig)
	}

	return nil
}

func (c MPEG4AudioConfig) encodeSize() int {
	n := 5 + 4 + 4
	if _, ok := reverseSampleRates[c.SampleRate]; !ok {
		n += 24
	}

	ret := n / 8
	if n%8 != 0 {
		ret++
	}
	return ret
}

// ErrConfigEncodeChannelCountInvalid .
var ErrConfigEncodeChannelCountInvalid = errors.New("invalid channel count")

// Encode encodes an MPEG4AudioConfig.
func (c MPEG4AudioConfig) Encode() ([]byte, error) {
	buf := make([]byte, c.encodeSize())
	w := bitio.NewWriter(bytes.NewBuffer(buf[:0]))

	if err := w.WriteBits(uint64(c.Type), 5); err != nil {
		return nil, err
	}

	sampleRateIndex, ok := reverseSampleRates[c.SampleRate]
	if !ok {
		w.WriteBits(uint64(15), 4)            //nolint:errcheck
		w.WriteBits(uint64(c.SampleRate), 24) //nolint:errcheck
	} else {
		w.WriteBits(uint64(sampleRateIndex), 4) //nolint:errcheck
	}

	var channelConfig int
	switch {
	case c.ChannelCount >= 1 && c.ChannelCount <= 6:
		channelConfig = c.ChannelCount

	case c.ChannelCount == 8:
		channelConfig = 7

	default:
		return nil, fmt.Errorf("%w (%d)",
			ErrConfigEncodeChannelCountInvalid, c.ChannelCount)
	}

	if err := w.WriteBits(uint64(channelConfig), 4); err != nil {
		return nil, err
	}

	w.Close()

	return buf, nil
}

// EncodeHeader encodes the configuration as a decoder-specific-info
// buffer in the layout returned by the AAC encoders: a two-byte
// preamble followed by the AudioSpecificConfig bytes. The MP4 writer
// embeds everything past the preamble into the esds descriptor.
func (c MPEG4AudioConfig) EncodeHeader() ([]byte, error) {
	asc, err := c.Encode()
	if err != nil {
		return nil, err
	}
	return append([]byte{0x00, 0x00}, asc...), nil
}

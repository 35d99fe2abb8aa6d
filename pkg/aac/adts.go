package aac

import (
	"errors"
	"fmt"
)

// ADTS encode errors.
var (
	ErrADTSencodeSampleRateInvalid   = errors.New("invalid sample rate")
	ErrADTSencodeChannelCountInvalid = errors.New("invalid channel count")
)

// EncodeADTS wraps a raw AAC access unit in an ADTS header,
// producing a self-describing stream fragment.
func EncodeADTS(au []byte, sampleRate int, channelCount int) ([]byte, error) {
	sampleRateIndex, ok := reverseSampleRates[sampleRate]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrADTSencodeSampleRateInvalid, sampleRate)
	}

	var channelConfig int
	switch {
	case channelCount >= 1 && channelCount <= 6:
		channelConfig = channelCount

	case channelCount == 8:
		channelConfig = 7

	default:
		return nil, fmt.Errorf("%w (%d)", ErrADTSencodeChannelCountInvalid, channelCount)
	}

	frameLen := len(au) + 7
	fullness := 0x07FF // like ffmpeg does

	buf := make([]byte, 0, frameLen)
	buf = append(buf,
		0xFF,
		0xF1,
		uint8(((int(MPEG4AudioTypeAACLC)-1)<<6)|(sampleRateIndex<<2)|((channelConfig>>2)&0x01)),
		uint8((channelConfig&0x03)<<6|(frameLen>>11)&0x03),
		uint8((frameLen>>3)&0xFF),
		uint8((frameLen&0x07)<<5|((fullness>>6)&0x1F)),
		uint8((fullness&0x3F)<<2),
	)
	return append(buf, au...), nil
}

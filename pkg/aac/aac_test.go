package aac

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMPEG4AudioConfig(t *testing.T) {
	cases := []struct {
		name string
		conf MPEG4AudioConfig
		enc  []byte
	}{
		{
			name: "aac-lc 48khz stereo",
			conf: MPEG4AudioConfig{
				Type:         MPEG4AudioTypeAACLC,
				SampleRate:   48000,
				ChannelCount: 2,
			},
			enc: []byte{0x11, 0x90},
		},
		{
			name: "aac-lc 44.1khz mono",
			conf: MPEG4AudioConfig{
				Type:         MPEG4AudioTypeAACLC,
				SampleRate:   44100,
				ChannelCount: 1,
			},
			enc: []byte{0x12, 0x08},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			enc, err := tc.conf.Encode()
			require.NoError(t, err)
			require.Equal(t, tc.enc, enc)

			var dec MPEG4AudioConfig
			require.NoError(t, dec.Decode(enc))
			require.Equal(t, tc.conf, dec)
		})
	}
}

func TestEncodeHeader(t *testing.T) {
	header, err := MPEG4AudioConfig{
		Type:         MPEG4AudioTypeAACLC,
		SampleRate:   48000,
		ChannelCount: 2,
	}.EncodeHeader()
	require.NoError(t, err)

	// Two-byte preamble followed by the AudioSpecificConfig.
	require.Equal(t, []byte{0x00, 0x00, 0x11, 0x90}, header)
}

func TestEncodeADTS(t *testing.T) {
	au := []byte{0x01, 0x02, 0x03}
	buf, err := EncodeADTS(au, 48000, 2)
	require.NoError(t, err)

	require.Equal(t, []byte{
		0xff, 0xf1, // syncword, no CRC
		0x4c,       // AAC-LC, 48 kHz
		0x80,       // stereo, frame length high bits
		0x01, 0x5f, // frame length (7+3=10)
		0xfc,             // buffer fullness
		0x01, 0x02, 0x03, // payload
	}, buf)
}

func TestEncodeADTSInvalid(t *testing.T) {
	_, err := EncodeADTS(nil, 12345, 2)
	require.ErrorIs(t, err, ErrADTSencodeSampleRateInvalid)

	_, err = EncodeADTS(nil, 48000, 0)
	require.ErrorIs(t, err, ErrADTSencodeChannelCountInvalid)
}

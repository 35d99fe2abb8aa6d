package h264

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEachNALU(t *testing.T) {
	buf := AnnexBEncode([][]byte{
		{0x67, 0x42, 0xc0, 0x14},
		{0x68, 0xce},
		{0x65, 0x88, 0x84},
	})

	var nalus [][]byte
	EachNALU(buf, func(nalu []byte) {
		nalus = append(nalus, nalu)
	})

	require.Equal(t, [][]byte{
		{0x67, 0x42, 0xc0, 0x14},
		{0x68, 0xce},
		{0x65, 0x88, 0x84},
	}, nalus)
}

func TestEachNALUTruncated(t *testing.T) {
	var count int
	EachNALU([]byte{0x00, 0x00, 0x00}, func([]byte) { count++ })
	require.Zero(t, count)

	EachNALU([]byte{0x01, 0x02, 0x03, 0x04, 0x05}, func([]byte) { count++ })
	require.Zero(t, count)
}

func TestTypeOf(t *testing.T) {
	require.Equal(t, NALUTypeSPS, TypeOf([]byte{0x67}))
	require.Equal(t, NALUTypePPS, TypeOf([]byte{0x68}))
	require.Equal(t, NALUTypeIDR, TypeOf([]byte{0x65}))
	require.Equal(t, NALUTypeNonIDR, TypeOf([]byte{0x41}))
	require.Equal(t, NALUType(0), TypeOf(nil))
}

func TestKindOf(t *testing.T) {
	cases := []struct {
		name  string
		nalus [][]byte
		kind  FrameKind
	}{
		{
			name: "idr with parameter sets",
			nalus: [][]byte{
				{0x67, 0x42}, // SPS
				{0x68, 0xce}, // PPS
				{0x65, 0x88}, // IDR
			},
			kind: FrameKindI,
		},
		{
			name:  "non idr",
			nalus: [][]byte{{0x41, 0x9a}},
			kind:  FrameKindP,
		},
		{
			name:  "no vcl",
			nalus: [][]byte{{0x67, 0x42}, {0x68, 0xce}},
			kind:  FrameKindUnknown,
		},
		{
			name: "first vcl wins",
			nalus: [][]byte{
				{0x41, 0x9a},
				{0x65, 0x88},
			},
			kind: FrameKindP,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.kind, KindOf(AnnexBEncode(tc.nalus)))
		})
	}
}

func TestFrameClear(t *testing.T) {
	f := Frame{
		Data:        AnnexBEncode([][]byte{{0x65, 0x88}}),
		TimestampNS: 7,
	}
	f.DeriveKind()
	require.Equal(t, FrameKindI, f.Kind)

	f.Clear()
	require.Empty(t, f.Data)
	require.Equal(t, FrameKindUnknown, f.Kind)
	require.Zero(t, f.TimestampNS)
}

// Package h264 provides Annex-B bitstream helpers for encoded frames.
package h264

import "bytes"

// NALUType is the type of a NAL unit.
type NALUType uint8

// NAL unit types.
const (
	NALUTypeNonIDR NALUType = 1
	NALUTypeIDR    NALUType = 5
	NALUTypeSEI    NALUType = 6
	NALUTypeSPS    NALUType = 7
	NALUTypePPS    NALUType = 8
	NALUTypeAUD    NALUType = 9
)

// FrameKind classifies an encoded frame by its first VCL NAL.
type FrameKind uint8

// Frame kinds.
const (
	FrameKindUnknown FrameKind = iota
	FrameKindI
	FrameKindP
	FrameKindB
)

var startCode = []byte{0x00, 0x00, 0x00, 0x01}

// Frame is an encoded H.264 frame in the Annex-B stream format.
type Frame struct {
	// Data is the bitstream: NAL units prefixed by 0x00000001.
	Data []byte

	Kind        FrameKind
	TimestampNS uint64
}

// Clear resets the frame for reuse.
func (f *Frame) Clear() {
	f.Data = f.Data[:0]
	f.Kind = FrameKindUnknown
	f.TimestampNS = 0
}

// EachNALU calls fn for every NAL unit in the frame,
// with the 4-byte start code stripped.
func (f *Frame) EachNALU(fn func(nalu []byte)) {
	EachNALU(f.Data, fn)
}

// DeriveKind sets the frame kind from the bitstream.
func (f *Frame) DeriveKind() {
	f.Kind = KindOf(f.Data)
}

// EachNALU calls fn for every Annex-B NAL unit in buf,
// with the 4-byte start code stripped.
func EachNALU(buf []byte, fn func(nalu []byte)) {
	for len(buf) >= 4 {
		if !bytes.Equal(buf[:4], startCode) {
			return
		}
		buf = buf[4:]

		end := bytes.Index(buf, startCode)
		if end == -1 {
			end = len(buf)
		}
		if end > 0 {
			fn(buf[:end])
		}
		buf = buf[end:]
	}
}

// TypeOf returns the type of a NAL unit without its start code.
func TypeOf(nalu []byte) NALUType {
	if len(nalu) == 0 {
		return 0
	}
	return NALUType(nalu[0] & 0x1F)
}

// KindOf derives the frame kind from the first VCL NAL in an
// Annex-B buffer. B-frames are not produced by any supported
// encoder configuration and map to P.
func KindOf(buf []byte) FrameKind {
	kind := FrameKindUnknown
	EachNALU(buf, func(nalu []byte) {
		if kind != FrameKindUnknown {
			return
		}
		switch TypeOf(nalu) {
		case NALUTypeIDR:
			kind = FrameKindI
		case NALUTypeNonIDR:
			kind = FrameKindP
		}
	})
	return kind
}

// AnnexBEncode encodes NALUs into the Annex-B stream format.
func AnnexBEncode(nalus [][]byte) []byte {
	n := 0
	for _, nalu := range nalus {
		n += 4 + len(nalu)
	}

	buf := make([]byte, 0, n)
	for _, nalu := range nalus {
		buf = append(buf, startCode...)
		buf = append(buf, nalu...)
	}
	return buf
}

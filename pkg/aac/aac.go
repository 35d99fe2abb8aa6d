// Package aac provides AAC frame and configuration helpers.
package aac

// SamplesPerAccessUnit is the number of samples contained by a single AAC AU.
const SamplesPerAccessUnit = 1024

// Frame is an encoded AAC frame: the raw payload without ADTS framing.
type Frame struct {
	Data        []byte
	TimestampNS uint64
}

// Clear resets the frame for reuse.
func (f *Frame) Clear() {
	f.Data = f.Data[:0]
	f.TimestampNS = 0
}

var sampleRates = [13]int{
	96000, 88200, 64000, 48000, 44100, 32000,
	24000, 22050, 16000, 12000, 11025, 8000, 7350,
}

var reverseSampleRates = map[int]int{
	96000: 0,
	88200: 1,
	64000: 2,
	48000: 3,
	44100: 4,
	32000: 5,
	24000: 6,
	22050: 7,
	16000: 8,
	12000: 9,
	11025: 10,
	8000:  11,
	7350:  12,
}

// Package mp4mux writes a streamable MP4 file in a single pass.
//
// The file layout is ftyp | free | mdat | moov. The mdat box is opened
// eagerly with a 64-bit large-size header so samples can be appended as
// they arrive; the sample tables are accumulated in memory and the moov
// box is emitted on Close, which also backpatches the mdat length.
package mp4mux

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/kattkieru/FrameCapturer/pkg/aac"
	"github.com/kattkieru/FrameCapturer/pkg/h264"
	"github.com/kattkieru/FrameCapturer/pkg/mp4"
	"github.com/kattkieru/FrameCapturer/pkg/mp4/bitio"
)

// Stream is the byte sink of a writer. Seeking is only used to
// backpatch the mdat length on Close.
type Stream interface {
	io.Writer
	io.Seeker
}

// Config selects the tracks of the output file.
type Config struct {
	Video       bool
	VideoWidth  int
	VideoHeight int

	Audio           bool
	AudioSampleRate int
	AudioBitrate    int
}

const (
	audioTrackName = "UTJ Sound Media Handler"
	videoTrackName = "UTJ Video Media Handler"

	// timeBase is the movie timescale: milliseconds.
	timeBase = 1000
)

var identityMatrix = [9]int32{0x00010000, 0, 0, 0, 0x00010000, 0, 0, 0, 0x40000000}

// macTime converts a wall-clock time to 32-bit seconds since 1904-01-01 UTC.
func macTime(t time.Time) uint32 {
	return uint32(t.Unix() + 2082844800)
}

type frameInfo struct {
	fileOffset  uint64
	size        uint32
	timestampNS uint64
}

// Writer is a single-pass streaming MP4 writer.
type Writer struct {
	mu   sync.Mutex
	out  Stream
	bw   *bitio.Writer
	conf Config

	pos       uint64
	mdatBegin uint64

	videoIndex []frameInfo
	audioIndex []frameInfo
	iframeIDs  []uint32

	sps       []byte
	pps       []byte
	aacHeader []byte

	closed bool
}

// NewWriter writes the file prologue to out and returns the writer.
func NewWriter(out Stream, conf Config) (*Writer, error) {
	w := &Writer{
		out:  out,
		bw:   bitio.NewWriter(out),
		conf: conf,
	}
	if err := w.writePrologue(); err != nil {
		return nil, fmt.Errorf("write prologue: %w", err)
	}
	return w, nil
}

func (w *Writer) writePrologue() error {
	_, err := mp4.WriteSingleBox(w.bw, &mp4.Ftyp{
		MajorBrand:   [4]byte{'m', 'p', '4', '2'},
		MinorVersion: 0,
		CompatibleBrands: [][4]byte{
			{'m', 'p', '4', '2'},
			{'i', 's', 'o', 'm'},
		},
	})
	if err != nil {
		return err
	}
	if _, err := mp4.WriteSingleBox(w.bw, &mp4.Free{}); err != nil {
		return err
	}
	w.mdatBegin = 24 + 8

	// mdat with 64-bit large-size form: length field 1 and a 64-bit
	// placeholder that Close overwrites.
	w.bw.TryWriteUint32(1)
	w.bw.TryWrite([]byte{'m', 'd', 'a', 't'})
	w.bw.TryWriteUint64(0)
	if w.bw.TryError != nil {
		return w.bw.TryError
	}
	w.pos = w.mdatBegin + 16
	return nil
}

// SetAACHeader stores the decoder-specific-info buffer used by the
// esds descriptor on Close.
func (w *Writer) SetAACHeader(header []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.aacHeader = append([]byte(nil), header...)
}

// AddVideoFrame appends an encoded H.264 frame. SPS and PPS NALs
// update the stored parameter sets and are not written to mdat; every
// other NAL is written with a 4-byte big-endian length prefix in place
// of the start code. A frame that contributes no bytes is not indexed.
func (w *Writer) AddVideoFrame(frame *h264.Frame) error {
	if len(frame.Data) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if frame.Kind == h264.FrameKindI {
		w.iframeIDs = append(w.iframeIDs, uint32(len(w.videoIndex))+1)
	}

	info := frameInfo{
		fileOffset:  w.pos,
		timestampNS: frame.TimestampNS,
	}
	frame.EachNALU(func(nalu []byte) {
		switch h264.TypeOf(nalu) {
		case h264.NALUTypeSPS:
			w.sps = append(w.sps[:0], nalu...)
		case h264.NALUTypePPS:
			w.pps = append(w.pps[:0], nalu...)
		default:
			w.bw.TryWriteUint32(uint32(len(nalu)))
			w.bw.TryWrite(nalu)
			info.size += uint32(len(nalu)) + 4
		}
	})
	w.pos += uint64(info.size)

	if info.size > 0 {
		w.videoIndex = append(w.videoIndex, info)
	}
	return w.bw.TryError
}

// AddAudioFrame appends a raw AAC frame verbatim.
func (w *Writer) AddAudioFrame(frame *aac.Frame) error {
	if len(frame.Data) == 0 {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.bw.TryWrite(frame.Data)
	w.audioIndex = append(w.audioIndex, frameInfo{
		fileOffset:  w.pos,
		size:        uint32(len(frame.Data)),
		timestampNS: frame.TimestampNS,
	})
	w.pos += uint64(len(frame.Data))
	return w.bw.TryError
}

// computeDecodeTimes run-length encodes the millisecond deltas between
// adjacent frames and returns the total track duration.
func computeDecodeTimes(index []frameInfo) ([]mp4.SttsEntry, uint32) {
	var entries []mp4.SttsEntry
	var totalMS uint32

	for i := 1; i < len(index); i++ {
		duration := uint32((index[i].timestampNS - index[i-1].timestampNS) / 1e6)
		totalMS += duration

		if len(entries) > 0 && entries[len(entries)-1].SampleDelta == duration {
			entries[len(entries)-1].SampleCount++
		} else {
			entries = append(entries, mp4.SttsEntry{
				SampleCount: 1,
				SampleDelta: duration,
			})
		}
	}
	return entries, totalMS
}

// computeChunks groups contiguous frames into chunks. A frame begins a
// new chunk iff it is the first frame or the previous frame does not
// end exactly where it starts.
func computeChunks(index []frameInfo) ([]uint64, []mp4.StscEntry) {
	var chunks []uint64
	var stc []mp4.StscEntry

	for i := range index {
		cur := &index[i]
		if i == 0 || index[i-1].fileOffset+uint64(index[i-1].size) != cur.fileOffset {
			chunks = append(chunks, cur.fileOffset)
			stc = append(stc, mp4.StscEntry{
				FirstChunk:             uint32(len(chunks)),
				SamplesPerChunk:        1,
				SampleDescriptionIndex: 1,
			})
		} else {
			stc[len(stc)-1].SamplesPerChunk++
		}
	}
	return chunks, stc
}

// chunkOffsetBox selects co64 when any chunk offset overflows 32 bits.
func chunkOffsetBox(chunks []uint64) mp4.ImmutableBox {
	if len(chunks) > 0 && chunks[len(chunks)-1] > 0xFFFFFFFF {
		return &mp4.Co64{ChunkOffsets: chunks}
	}

	offsets := make([]uint32, len(chunks))
	for i, chunk := range chunks {
		offsets[i] = uint32(chunk)
	}
	return &mp4.Stco{ChunkOffsets: offsets}
}

// Close writes the moov box and backpatches the mdat length.
// It must be called to finish the file; calls after the first
// return nil and write nothing.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.bw.TryError; err != nil {
		return fmt.Errorf("stream error before close: %w", err)
	}

	if len(w.iframeIDs) == 0 {
		w.iframeIDs = append(w.iframeIDs, 1)
	}

	videoStts, videoDuration := computeDecodeTimes(w.videoIndex)
	audioStts, audioDuration := computeDecodeTimes(w.audioIndex)

	ctime := macTime(time.Now())

	nextTrackID := uint32(1)
	var traks []mp4.Boxes
	if w.conf.Audio {
		traks = append(traks, w.generateAudioTrak(ctime, nextTrackID, audioStts, audioDuration))
		nextTrackID++
	}
	if w.conf.Video {
		traks = append(traks, w.generateVideoTrak(ctime, nextTrackID, videoStts, videoDuration))
		nextTrackID++
	}

	moov := mp4.Boxes{
		Box: &mp4.Moov{},
		Children: append([]mp4.Boxes{
			{Box: &mp4.Mvhd{
				CreationTime:     ctime,
				ModificationTime: ctime,
				Timescale:        timeBase,
				Duration:         videoDuration,
				Rate:             0x00010000,
				Volume:           0x0100,
				Matrix:           identityMatrix,
				NextTrackID:      nextTrackID,
			}},
		}, traks...),
	}

	mdatEnd := w.pos

	if err := moov.Marshal(w.bw); err != nil {
		return fmt.Errorf("marshal moov: %w", err)
	}
	if err := w.bw.TryError; err != nil {
		return fmt.Errorf("write moov: %w", err)
	}

	// Backpatch the 64-bit mdat length.
	if _, err := w.out.Seek(int64(w.mdatBegin+8), io.SeekStart); err != nil {
		return fmt.Errorf("seek mdat: %w", err)
	}
	if err := w.bw.WriteUint64(mdatEnd - w.mdatBegin); err != nil {
		return fmt.Errorf("patch mdat length: %w", err)
	}
	if _, err := w.out.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("seek end: %w", err)
	}
	return nil
}

func (w *Writer) generateVideoTrak(
	ctime uint32,
	trackID uint32,
	stts []mp4.SttsEntry,
	duration uint32,
) mp4.Boxes {
	/*
	   trak
	   - tkhd
	   - mdia
	     - mdhd
	     - hdlr
	     - minf
	*/

	return mp4.Boxes{
		Box: &mp4.Trak{},
		Children: []mp4.Boxes{
			{Box: &mp4.Tkhd{
				FullBox:          mp4.FullBox{Flags: [3]byte{0, 0, 6}},
				CreationTime:     ctime,
				ModificationTime: ctime,
				TrackID:          trackID,
				Duration:         duration,
				Matrix:           identityMatrix,
				Width:            uint32(w.conf.VideoWidth) << 16,
				Height:           uint32(w.conf.VideoHeight) << 16,
			}},
			{
				Box: &mp4.Mdia{},
				Children: []mp4.Boxes{
					{Box: &mp4.Mdhd{
						CreationTime:     ctime,
						ModificationTime: ctime,
						Timescale:        timeBase,
						Duration:         duration,
						Language:         [3]byte{'u', 'n', 'd'},
					}},
					{Box: &mp4.Hdlr{
						HandlerType: [4]byte{'v', 'i', 'd', 'e'},
						Name:        videoTrackName,
					}},
					w.generateVideoMinf(stts),
				},
			},
		},
	}
}

func (w *Writer) generateVideoMinf(stts []mp4.SttsEntry) mp4.Boxes {
	/*
	   minf
	   - vmhd
	   - dinf
	     - dref
	       - url
	   - stbl
	     - stsd
	       - avc1
	         - avcC
	     - stts
	     - stss
	     - stsc
	     - stsz
	     - stco/co64
	*/

	chunks, stc := computeChunks(w.videoIndex)

	sizes := make([]uint32, len(w.videoIndex))
	for i, info := range w.videoIndex {
		sizes[i] = info.size
	}

	var compressorname [32]byte
	compressorname[0] = byte(len("AVC Coding"))
	copy(compressorname[1:], "AVC Coding")

	stbl := mp4.Boxes{
		Box: &mp4.Stbl{},
		Children: []mp4.Boxes{
			{
				Box: &mp4.Stsd{EntryCount: 1},
				Children: []mp4.Boxes{
					{
						Box: &mp4.Avc1{
							SampleEntry: mp4.SampleEntry{
								DataReferenceIndex: 1,
							},
							Width:           uint16(w.conf.VideoWidth),
							Height:          uint16(w.conf.VideoHeight),
							Horizresolution: 0x00480000,
							Vertresolution:  0x00480000,
							FrameCount:      1,
							Compressorname:  compressorname,
							PreDefined3:     -1,
						},
						Children: []mp4.Boxes{
							{Box: &mp4.AvcC{
								ConfigurationVersion:       1,
								Profile:                    0x42,
								ProfileCompatibility:       0xc0,
								Level:                      0x14,
								Reserved:                   0x3f,
								LengthSizeMinusOne:         3,
								Reserved2:                  0x7,
								NumOfSequenceParameterSets: 1,
								SequenceParameterSets: []mp4.AVCParameterSet{
									{NALUnit: w.sps},
								},
								NumOfPictureParameterSets: 1,
								PictureParameterSets: []mp4.AVCParameterSet{
									{NALUnit: w.pps},
								},
							}},
						},
					},
				},
			},
			{Box: &mp4.Stts{Entries: stts}},
			{Box: &mp4.Stss{SampleNumbers: w.iframeIDs}},
			{Box: &mp4.Stsc{Entries: stc}},
			{Box: &mp4.Stsz{EntrySizes: sizes}},
			{Box: chunkOffsetBox(chunks)},
		},
	}

	return mp4.Boxes{
		Box: &mp4.Minf{},
		Children: []mp4.Boxes{
			{Box: &mp4.Vmhd{
				FullBox: mp4.FullBox{Flags: [3]byte{0, 0, 1}},
			}},
			dinfBoxes(),
			stbl,
		},
	}
}

func (w *Writer) generateAudioTrak(
	ctime uint32,
	trackID uint32,
	stts []mp4.SttsEntry,
	duration uint32,
) mp4.Boxes {
	/*
	   trak
	   - tkhd
	   - mdia
	     - mdhd
	     - hdlr
	     - minf
	*/

	return mp4.Boxes{
		Box: &mp4.Trak{},
		Children: []mp4.Boxes{
			{Box: &mp4.Tkhd{
				FullBox:          mp4.FullBox{Flags: [3]byte{0, 0, 6}},
				CreationTime:     ctime,
				ModificationTime: ctime,
				TrackID:          trackID,
				Duration:         duration,
				Volume:           0x0100,
				Matrix:           identityMatrix,
			}},
			{
				Box: &mp4.Mdia{},
				Children: []mp4.Boxes{
					{Box: &mp4.Mdhd{
						CreationTime:     ctime,
						ModificationTime: ctime,
						Timescale:        uint32(w.conf.AudioSampleRate),
						// Audio media duration is a fixed 1000
						// ticks of the sample-rate timescale;
						// the real length is in stts.
						Duration: timeBase,
						Language: [3]byte{'u', 'n', 'd'},
					}},
					{Box: &mp4.Hdlr{
						HandlerType: [4]byte{'s', 'o', 'u', 'n'},
						Name:        audioTrackName,
					}},
					w.generateAudioMinf(stts),
				},
			},
		},
	}
}

func (w *Writer) generateAudioMinf(stts []mp4.SttsEntry) mp4.Boxes {
	/*
	   minf
	   - smhd
	   - dinf
	     - dref
	       - url
	   - stbl
	     - stsd
	       - mp4a
	         - esds
	     - stts
	     - stsc
	     - stsz
	     - stco/co64
	*/

	chunks, stc := computeChunks(w.audioIndex)

	sizes := make([]uint32, len(w.audioIndex))
	for i, info := range w.audioIndex {
		sizes[i] = info.size
	}

	stbl := mp4.Boxes{
		Box: &mp4.Stbl{},
		Children: []mp4.Boxes{
			{
				Box: &mp4.Stsd{EntryCount: 1},
				Children: []mp4.Boxes{
					{
						Box: &mp4.Mp4a{
							SampleEntry: mp4.SampleEntry{
								DataReferenceIndex: 1,
							},
							ChannelCount: 2,
							SampleSize:   16,
							SampleRate:   uint32(w.conf.AudioSampleRate) << 16,
						},
						Children: []mp4.Boxes{
							{Box: &mp4.Esds{
								Bitrate: uint32(w.conf.AudioBitrate),
								Config:  w.aacHeader,
							}},
						},
					},
				},
			},
			{Box: &mp4.Stts{Entries: stts}},
			{Box: &mp4.Stsc{Entries: stc}},
			{Box: &mp4.Stsz{EntrySizes: sizes}},
			{Box: chunkOffsetBox(chunks)},
		},
	}

	return mp4.Boxes{
		Box: &mp4.Minf{},
		Children: []mp4.Boxes{
			{Box: &mp4.Smhd{}},
			dinfBoxes(),
			stbl,
		},
	}
}

func dinfBoxes() mp4.Boxes {
	return mp4.Boxes{
		Box: &mp4.Dinf{},
		Children: []mp4.Boxes{
			{
				Box: &mp4.Dref{EntryCount: 1},
				Children: []mp4.Boxes{
					{Box: &mp4.Url{
						FullBox: mp4.FullBox{Flags: [3]byte{0, 0, 1}},
					}},
				},
			},
		},
	}
}

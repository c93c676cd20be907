// Package wav implements demuxing of RIFF/WAVE audio.
package wav

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/zsiec/lens/format"
	"github.com/zsiec/lens/media"
)

// packetBytes is the target payload size per packet, rounded down to a whole
// number of sample frames.
const packetBytes = 4096

// maxFmtChunk bounds the fmt chunk. The chunk size is an untrusted 32-bit
// field; real fmt chunks are tens of bytes, so anything larger is corruption
// and must not drive an allocation.
const maxFmtChunk = 4096

// Format tags from the WAVEFORMATEX registry.
const (
	tagPCM        = 0x0001
	tagFloat      = 0x0003
	tagALaw       = 0x0006
	tagMuLaw      = 0x0007
	tagExtensible = 0xfffe
)

// Builder returns the builder for the WAV container format.
func Builder() format.Builder {
	return builder{}
}

type builder struct{}

func (builder) Describe() format.Descriptor {
	return format.Descriptor{
		Name:        "wav",
		Description: "RIFF/WAVE audio",
		Extensions:  []string{"wav", "wave"},
		MIME:        []string{"audio/wav", "audio/x-wav", "audio/wave", "audio/vnd.wave"},
	}
}

func (builder) Probe(sample []byte) format.Score {
	if len(sample) < 12 {
		return 0
	}
	if string(sample[0:4]) == "RIFF" && string(sample[8:12]) == "WAVE" {
		return format.ScoreMax
	}
	return 0
}

func (builder) Alloc() format.Demuxer {
	return &demuxer{}
}

type demuxer struct {
	phase format.Phase
	ctx   context.Context
	src   io.Reader

	stream     media.Stream
	blockAlign int

	// dataLeft is the number of payload bytes the data chunk still owes,
	// or -1 when the chunk declared no usable size (streaming capture).
	dataLeft int64
	// pts is the sample frame index of the next packet.
	pts int64
}

func (d *demuxer) Open(ctx context.Context, src io.Reader) error {
	if d.phase != format.PhaseUnopened {
		return fmt.Errorf("wav: open: %w", format.ErrLifecycle)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	d.ctx = ctx
	d.src = src
	d.phase = format.PhaseOpened
	return nil
}

// ReadHeaders parses the RIFF descriptor and walks chunks up to the start of
// the data chunk. Chunks other than fmt and data are skipped.
func (d *demuxer) ReadHeaders() error {
	if d.phase != format.PhaseOpened {
		return fmt.Errorf("wav: read headers: %w", format.ErrLifecycle)
	}
	if err := d.ctx.Err(); err != nil {
		return err
	}

	var hdr [12]byte
	if _, err := io.ReadFull(d.src, hdr[:]); err != nil {
		return headerErr("RIFF header", err)
	}
	if string(hdr[0:4]) != "RIFF" || string(hdr[8:12]) != "WAVE" {
		return fmt.Errorf("wav: not a RIFF/WAVE stream: %w", format.ErrInvalidData)
	}

	haveFmt := false
	for {
		var ch [8]byte
		if _, err := io.ReadFull(d.src, ch[:]); err != nil {
			return headerErr("chunk header", err)
		}
		size := int64(binary.LittleEndian.Uint32(ch[4:8]))

		switch string(ch[0:4]) {
		case "fmt ":
			if err := d.parseFmt(size); err != nil {
				return err
			}
			haveFmt = true
		case "data":
			if !haveFmt {
				return fmt.Errorf("wav: data chunk precedes fmt chunk: %w", format.ErrInvalidData)
			}
			d.dataLeft = size
			if size == 0 || size == 0xffffffff {
				// Streaming writers leave the size unfilled.
				d.dataLeft = -1
			}
			d.phase = format.PhaseHeadersRead
			return nil
		default:
			// RIFF pads odd-sized chunks to a word boundary.
			if err := d.skip(size + size&1); err != nil {
				return err
			}
		}
	}
}

func (d *demuxer) parseFmt(size int64) error {
	if size < 16 {
		return fmt.Errorf("wav: fmt chunk is %d bytes, need at least 16: %w", size, format.ErrInvalidData)
	}
	if size > maxFmtChunk {
		return fmt.Errorf("wav: fmt chunk declares %d bytes: %w", size, format.ErrInvalidData)
	}
	buf := make([]byte, size+size&1)
	if _, err := io.ReadFull(d.src, buf); err != nil {
		return headerErr("fmt chunk", err)
	}

	tag := binary.LittleEndian.Uint16(buf[0:2])
	channels := int(binary.LittleEndian.Uint16(buf[2:4]))
	rate := int(binary.LittleEndian.Uint32(buf[4:8]))
	align := int(binary.LittleEndian.Uint16(buf[12:14]))
	bits := int(binary.LittleEndian.Uint16(buf[14:16]))

	// WAVE_FORMAT_EXTENSIBLE carries the real tag in the first two bytes
	// of the SubFormat GUID.
	if tag == tagExtensible && size >= 26 {
		tag = binary.LittleEndian.Uint16(buf[24:26])
	}

	if channels == 0 || rate == 0 {
		return fmt.Errorf("wav: fmt chunk declares %d channels at %d Hz: %w", channels, rate, format.ErrInvalidData)
	}
	if align == 0 {
		align = channels * ((bits + 7) / 8)
	}
	if align == 0 {
		return fmt.Errorf("wav: fmt chunk has zero block align: %w", format.ErrInvalidData)
	}

	d.blockAlign = align
	d.stream = media.Stream{
		Index:      0,
		Kind:       media.KindAudio,
		Codec:      codecName(tag, bits),
		SampleRate: rate,
		Channels:   channels,
	}
	return nil
}

// ReadPacket returns the next run of whole sample frames from the data
// chunk. PTS and DTS are the sample frame index at the start of the packet.
func (d *demuxer) ReadPacket() (*media.Packet, error) {
	switch d.phase {
	case format.PhaseHeadersRead, format.PhaseStreaming:
	case format.PhaseExhausted:
		return nil, io.EOF
	default:
		return nil, fmt.Errorf("wav: read packet: %w", format.ErrLifecycle)
	}
	if err := d.ctx.Err(); err != nil {
		return nil, err
	}
	d.phase = format.PhaseStreaming

	want := packetBytes / d.blockAlign * d.blockAlign
	if want == 0 {
		want = d.blockAlign
	}
	if d.dataLeft >= 0 && int64(want) > d.dataLeft {
		want = int(d.dataLeft)
	}
	if want == 0 {
		d.phase = format.PhaseExhausted
		return nil, io.EOF
	}

	buf := make([]byte, want)
	n, err := io.ReadFull(d.src, buf)
	if n == 0 {
		if err == nil || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			d.phase = format.PhaseExhausted
			return nil, io.EOF
		}
		return nil, fmt.Errorf("wav: read data: %w", err)
	}
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("wav: read data: %w", err)
	}
	if d.dataLeft >= 0 {
		d.dataLeft -= int64(n)
	}

	pkt := &media.Packet{
		StreamIndex: 0,
		PTS:         d.pts,
		DTS:         d.pts,
		Data:        buf[:n],
		Keyframe:    true,
	}
	d.pts += int64(n / d.blockAlign)
	return pkt, nil
}

// Streams implements format.StreamLister.
func (d *demuxer) Streams() []media.Stream {
	if d.phase < format.PhaseHeadersRead {
		return nil
	}
	return []media.Stream{d.stream}
}

func (d *demuxer) skip(n int64) error {
	if n <= 0 {
		return nil
	}
	if _, err := io.CopyN(io.Discard, d.src, n); err != nil {
		return headerErr("chunk body", err)
	}
	return nil
}

// headerErr classifies a header read failure: running out of bytes means the
// container is truncated, anything else is a byte-source failure.
func headerErr(what string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("wav: truncated %s: %w", what, format.ErrInvalidData)
	}
	return fmt.Errorf("wav: read %s: %w", what, err)
}

func codecName(tag uint16, bits int) string {
	switch tag {
	case tagPCM:
		switch bits {
		case 8:
			return "pcm_u8"
		case 16:
			return "pcm_s16le"
		case 24:
			return "pcm_s24le"
		case 32:
			return "pcm_s32le"
		}
		return "pcm"
	case tagFloat:
		if bits == 64 {
			return "pcm_f64le"
		}
		return "pcm_f32le"
	case tagALaw:
		return "pcm_alaw"
	case tagMuLaw:
		return "pcm_mulaw"
	}
	return fmt.Sprintf("wav_0x%04x", tag)
}

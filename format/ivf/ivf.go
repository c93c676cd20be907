// Package ivf implements demuxing of IVF video, the simple container used
// for raw VP8/VP9/AV1 bitstreams.
package ivf

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/zsiec/lens/format"
	"github.com/zsiec/lens/media"
)

const (
	headerSize      = 32
	frameHeaderSize = 12

	// maxFrameSize bounds a single frame payload. IVF stores a 32-bit
	// size; anything near that limit is corruption, not video.
	maxFrameSize = 32 << 20
)

// Builder returns the builder for the IVF container format.
func Builder() format.Builder {
	return builder{}
}

type builder struct{}

func (builder) Describe() format.Descriptor {
	return format.Descriptor{
		Name:        "ivf",
		Description: "IVF video",
		Extensions:  []string{"ivf"},
		MIME:        []string{"video/x-ivf"},
	}
}

func (builder) Probe(sample []byte) format.Score {
	if len(sample) < 8 {
		return 0
	}
	if string(sample[0:4]) != "DKIF" {
		return 0
	}
	version := binary.LittleEndian.Uint16(sample[4:6])
	hdrLen := binary.LittleEndian.Uint16(sample[6:8])
	if version != 0 || hdrLen != headerSize {
		return 0
	}
	return format.ScoreMax
}

func (builder) Alloc() format.Demuxer {
	return &demuxer{}
}

type demuxer struct {
	phase format.Phase
	ctx   context.Context
	src   io.Reader

	stream media.Stream
	first  bool
}

func (d *demuxer) Open(ctx context.Context, src io.Reader) error {
	if d.phase != format.PhaseUnopened {
		return fmt.Errorf("ivf: open: %w", format.ErrLifecycle)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	d.ctx = ctx
	d.src = src
	d.phase = format.PhaseOpened
	return nil
}

func (d *demuxer) ReadHeaders() error {
	if d.phase != format.PhaseOpened {
		return fmt.Errorf("ivf: read headers: %w", format.ErrLifecycle)
	}
	if err := d.ctx.Err(); err != nil {
		return err
	}

	var hdr [headerSize]byte
	if _, err := io.ReadFull(d.src, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("ivf: truncated file header: %w", format.ErrInvalidData)
		}
		return fmt.Errorf("ivf: read file header: %w", err)
	}
	if string(hdr[0:4]) != "DKIF" {
		return fmt.Errorf("ivf: bad magic %q: %w", hdr[0:4], format.ErrInvalidData)
	}
	if v := binary.LittleEndian.Uint16(hdr[4:6]); v != 0 {
		return fmt.Errorf("ivf: unsupported version %d: %w", v, format.ErrInvalidData)
	}
	if l := binary.LittleEndian.Uint16(hdr[6:8]); l != headerSize {
		return fmt.Errorf("ivf: header length %d, want %d: %w", l, headerSize, format.ErrInvalidData)
	}

	d.stream = media.Stream{
		Index:  0,
		Kind:   media.KindVideo,
		Codec:  codecName(hdr[8:12]),
		Width:  int(binary.LittleEndian.Uint16(hdr[12:14])),
		Height: int(binary.LittleEndian.Uint16(hdr[14:16])),
	}
	d.first = true
	d.phase = format.PhaseHeadersRead
	return nil
}

// ReadPacket returns the next frame. PTS and DTS carry the frame header's
// 64-bit timestamp in the container's timebase; IVF codecs have no frame
// reordering, so the two are equal.
func (d *demuxer) ReadPacket() (*media.Packet, error) {
	switch d.phase {
	case format.PhaseHeadersRead, format.PhaseStreaming:
	case format.PhaseExhausted:
		return nil, io.EOF
	default:
		return nil, fmt.Errorf("ivf: read packet: %w", format.ErrLifecycle)
	}
	if err := d.ctx.Err(); err != nil {
		return nil, err
	}
	d.phase = format.PhaseStreaming

	var hdr [frameHeaderSize]byte
	n, err := io.ReadFull(d.src, hdr[:])
	if err != nil {
		if n == 0 && errors.Is(err, io.EOF) {
			d.phase = format.PhaseExhausted
			return nil, io.EOF
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("ivf: truncated frame header: %w", format.ErrInvalidData)
		}
		return nil, fmt.Errorf("ivf: read frame header: %w", err)
	}

	size := binary.LittleEndian.Uint32(hdr[0:4])
	if size > maxFrameSize {
		return nil, fmt.Errorf("ivf: frame size %d exceeds limit: %w", size, format.ErrInvalidData)
	}
	pts := int64(binary.LittleEndian.Uint64(hdr[4:12]))

	data := make([]byte, size)
	if _, err := io.ReadFull(d.src, data); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("ivf: truncated frame payload: %w", format.ErrInvalidData)
		}
		return nil, fmt.Errorf("ivf: read frame payload: %w", err)
	}

	pkt := &media.Packet{
		StreamIndex: 0,
		PTS:         pts,
		DTS:         pts,
		Data:        data,
		Keyframe:    d.first,
	}
	d.first = false
	return pkt, nil
}

// Streams implements format.StreamLister.
func (d *demuxer) Streams() []media.Stream {
	if d.phase < format.PhaseHeadersRead {
		return nil
	}
	return []media.Stream{d.stream}
}

func codecName(fourCC []byte) string {
	switch string(fourCC) {
	case "VP80":
		return "vp8"
	case "VP90":
		return "vp9"
	case "AV01":
		return "av1"
	}
	return strings.ToLower(strings.TrimRight(string(fourCC), " \x00"))
}

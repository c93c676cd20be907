// Package formattest provides a configurable fixture format for testing code
// built on the format contract. Instead of writing a full demuxer, tests
// declare the behavior they need (a probe function, streams, a canned
// packet sequence, injected errors) in a Format struct and register the
// resulting builder like any real format.
package formattest

import (
	"context"
	"fmt"
	"io"

	"github.com/zsiec/lens/format"
	"github.com/zsiec/lens/media"
)

// Format configures a fixture format. The zero value is usable: it probes
// everything to 0 (never matches), reports no streams, and serves io.EOF on
// the first ReadPacket.
type Format struct {
	Name        string
	Description string
	Extensions  []string
	MIME        []string

	// ProbeFunc scores a probe sample; nil scores everything 0.
	ProbeFunc func(sample []byte) format.Score

	// OpenErr and HeadersErr, when non-nil, are returned by the
	// corresponding lifecycle operation after its ordering check passes.
	OpenErr    error
	HeadersErr error

	// Streams is what allocated demuxers report once headers are read.
	Streams []media.Stream

	// Packets are served in order by ReadPacket, followed by io.EOF.
	// Allocated demuxers share the slice, so tests must not mutate the
	// packets after handing them over.
	Packets []*media.Packet
}

// Builder returns a stateless builder backed by the configuration. It may be
// probed from concurrent goroutines; every Alloc call returns an independent
// demuxer.
func (f *Format) Builder() format.Builder {
	return &builder{f: f}
}

type builder struct {
	f *Format
}

func (b *builder) Describe() format.Descriptor {
	return format.Descriptor{
		Name:        b.f.Name,
		Description: b.f.Description,
		Extensions:  b.f.Extensions,
		MIME:        b.f.MIME,
	}
}

func (b *builder) Probe(sample []byte) format.Score {
	if b.f.ProbeFunc == nil {
		return 0
	}
	return b.f.ProbeFunc(sample)
}

func (b *builder) Alloc() format.Demuxer {
	return &demuxer{f: b.f}
}

// demuxer enforces the repository-wide lifecycle policy: operations invoked
// out of order return an error wrapping format.ErrLifecycle.
type demuxer struct {
	f     *Format
	phase format.Phase
	next  int
}

func (d *demuxer) Open(_ context.Context, _ io.Reader) error {
	if d.phase != format.PhaseUnopened {
		return fmt.Errorf("formattest %s: open: %w", d.f.Name, format.ErrLifecycle)
	}
	if d.f.OpenErr != nil {
		return d.f.OpenErr
	}
	d.phase = format.PhaseOpened
	return nil
}

func (d *demuxer) ReadHeaders() error {
	if d.phase != format.PhaseOpened {
		return fmt.Errorf("formattest %s: read headers: %w", d.f.Name, format.ErrLifecycle)
	}
	if d.f.HeadersErr != nil {
		return d.f.HeadersErr
	}
	d.phase = format.PhaseHeadersRead
	return nil
}

func (d *demuxer) ReadPacket() (*media.Packet, error) {
	switch d.phase {
	case format.PhaseHeadersRead, format.PhaseStreaming:
	case format.PhaseExhausted:
		return nil, io.EOF
	default:
		return nil, fmt.Errorf("formattest %s: read packet: %w", d.f.Name, format.ErrLifecycle)
	}

	if d.next >= len(d.f.Packets) {
		d.phase = format.PhaseExhausted
		return nil, io.EOF
	}
	d.phase = format.PhaseStreaming
	pkt := d.f.Packets[d.next]
	d.next++
	return pkt, nil
}

// Streams implements format.StreamLister. It reports nil until headers have
// been read.
func (d *demuxer) Streams() []media.Stream {
	if d.phase < format.PhaseHeadersRead {
		return nil
	}
	return d.f.Streams
}

// Sample returns a ProbeSize buffer with prefix copied to the front and the
// rest zeroed, matching what a builder observes for an input that begins
// with those bytes.
func Sample(prefix ...byte) []byte {
	sample := make([]byte, format.ProbeSize)
	copy(sample, prefix)
	return sample
}

// MagicProbe returns a probe function that scores ScoreMax when magic occurs
// at the given offset and 0 otherwise, the magic-number strategy most real
// container formats use.
func MagicProbe(offset int, magic []byte) func([]byte) format.Score {
	return func(sample []byte) format.Score {
		if offset < 0 || offset+len(magic) > len(sample) {
			return 0
		}
		if string(sample[offset:offset+len(magic)]) == string(magic) {
			return format.ScoreMax
		}
		return 0
	}
}

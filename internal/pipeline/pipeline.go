// Package pipeline drives a single ingest session through the demux
// lifecycle: sample the input, select a format through the registry, open
// the demuxer, and pump packets while accumulating per-stream telemetry.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/lens/format"
	"github.com/zsiec/lens/media"
)

// ErrUnknownFormat is returned by Run when no registered format claims the
// input. The caller may close the session or re-probe with a different
// registry; the pipeline itself never retries.
var ErrUnknownFormat = errors.New("pipeline: unknown input format")

// StreamStats is a point-in-time view of one elementary stream's counters.
type StreamStats struct {
	Index   int    `json:"index"`
	Kind    string `json:"kind"`
	Codec   string `json:"codec"`
	Packets int64  `json:"packets"`
	Bytes   int64  `json:"bytes"`
	LastPTS int64  `json:"lastPts"`
}

// Snapshot is the JSON-serializable stats payload for one pipeline.
type Snapshot struct {
	Key      string        `json:"key"`
	Format   string        `json:"format,omitempty"`
	UptimeMs int64         `json:"uptimeMs"`
	Packets  int64         `json:"packets"`
	Bytes    int64         `json:"bytes"`
	Streams  []StreamStats `json:"streams,omitempty"`
}

// streamAccum accumulates per-stream counters with atomics so Snapshot can
// read them while Run is pumping packets.
type streamAccum struct {
	info    media.Stream
	packets atomic.Int64
	bytes   atomic.Int64
	lastPTS atomic.Int64
}

// Pipeline bridges one byte source and one demuxer selected by probing.
type Pipeline struct {
	log      *slog.Logger
	key      string
	registry *format.Registry
	input    io.Reader

	// OnPacket, when non-nil, observes every demuxed packet after the
	// counters update. Set it before calling Run.
	OnPacket func(*media.Packet)

	startTime time.Time

	packets atomic.Int64
	bytes   atomic.Int64

	// mu guards formatName and the streams slice; the accumulators inside
	// are atomic.
	mu         sync.RWMutex
	formatName string
	streams    []*streamAccum
}

// New creates a Pipeline that identifies input against the registry and
// demuxes it. If log is nil, slog.Default() is used.
func New(key string, registry *format.Registry, input io.Reader, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		log:       log.With("component", "pipeline", "stream", key),
		key:       key,
		registry:  registry,
		input:     input,
		startTime: time.Now(),
	}
}

// Run probes the input, selects a format, and pumps packets until the
// source is exhausted or ctx is cancelled. Cancellation is a clean
// shutdown and returns nil. No match returns ErrUnknownFormat; demux
// failures surface immediately with their format classification intact.
func (p *Pipeline) Run(ctx context.Context) error {
	sample, n, err := format.ReadSample(p.input)
	if err != nil {
		return fmt.Errorf("sampling input: %w", err)
	}

	builder, ok := p.registry.Probe(sample)
	if !ok {
		return ErrUnknownFormat
	}

	name := builder.Describe().Name
	p.mu.Lock()
	p.formatName = name
	p.mu.Unlock()
	p.log.Info("input identified", "format", name)

	// The demuxer must see the sampled bytes again, so splice them back
	// in front of the unread remainder.
	src := io.MultiReader(bytes.NewReader(sample[:n]), p.input)

	d := builder.Alloc()
	if err := d.Open(ctx, src); err != nil {
		return fmt.Errorf("opening %s demuxer: %w", name, err)
	}
	if err := d.ReadHeaders(); err != nil {
		return fmt.Errorf("reading %s headers: %w", name, err)
	}

	if lister, ok := d.(format.StreamLister); ok {
		p.setStreams(lister.Streams())
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		pkt, err := d.ReadPacket()
		if err != nil {
			if errors.Is(err, io.EOF) {
				p.log.Info("source exhausted",
					"packets", p.packets.Load(), "bytes", p.bytes.Load())
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("reading packet: %w", err)
		}

		p.record(pkt)
		if p.OnPacket != nil {
			p.OnPacket(pkt)
		}
	}
}

// Snapshot returns a point-in-time view of the pipeline counters.
func (p *Pipeline) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	snap := Snapshot{
		Key:      p.key,
		Format:   p.formatName,
		UptimeMs: time.Since(p.startTime).Milliseconds(),
		Packets:  p.packets.Load(),
		Bytes:    p.bytes.Load(),
	}
	for _, acc := range p.streams {
		snap.Streams = append(snap.Streams, StreamStats{
			Index:   acc.info.Index,
			Kind:    acc.info.Kind.String(),
			Codec:   acc.info.Codec,
			Packets: acc.packets.Load(),
			Bytes:   acc.bytes.Load(),
			LastPTS: acc.lastPTS.Load(),
		})
	}
	return snap
}

func (p *Pipeline) setStreams(streams []media.Stream) {
	accs := make([]*streamAccum, len(streams))
	for i, st := range streams {
		accs[i] = &streamAccum{info: st}
	}

	p.mu.Lock()
	p.streams = accs
	p.mu.Unlock()

	for _, st := range streams {
		p.log.Info("stream", "index", st.Index, "kind", st.Kind, "codec", st.Codec)
	}
}

func (p *Pipeline) record(pkt *media.Packet) {
	p.packets.Add(1)
	p.bytes.Add(int64(len(pkt.Data)))

	p.mu.RLock()
	var acc *streamAccum
	if pkt.StreamIndex >= 0 && pkt.StreamIndex < len(p.streams) {
		acc = p.streams[pkt.StreamIndex]
	}
	p.mu.RUnlock()
	if acc == nil {
		return
	}

	acc.packets.Add(1)
	acc.bytes.Add(int64(len(pkt.Data)))
	if pkt.PTS != media.NoPTS {
		acc.lastPTS.Store(pkt.PTS)
	}
}

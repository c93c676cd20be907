package format

import (
	"context"
	"io"

	"github.com/zsiec/lens/media"
)

// ProbeSize is the least amount of data needed to check a byte stream's
// structure against the known formats. Selection always operates on exactly
// this many bytes from the start of the input; shorter inputs are observed
// zero-padded (see [ReadSample]).
const ProbeSize = 4 * 1024

// Score is a probe confidence value in [0, ScoreMax].
type Score uint8

// Probe threshold values.
const (
	// ScoreExtension is the minimum acceptable value, a file matched just
	// by its extension. Selection requires a score strictly above this.
	ScoreExtension Score = 50
	// ScoreMIME means the underlying layer provided the content type;
	// trust it up to a point.
	ScoreMIME Score = 75
	// ScoreMax means the data actually matches the format's structure.
	ScoreMax Score = 100
)

// Descriptor identifies a container format. Descriptors are constructed once
// when a builder is defined and shared by reference across all probing
// operations; callers must treat them as read-only.
type Descriptor struct {
	// Name is a short identifier, unique within a registry, e.g. "mpegts".
	Name string
	// Description is a human-readable format name.
	Description string
	// Extensions lists recognized file extensions, lowercase without the
	// leading dot.
	Extensions []string
	// MIME lists recognized MIME types.
	MIME []string
}

// Phase is a demuxer's position in its lifecycle. Every demuxer in this
// repository tracks its phase and rejects out-of-order operations with an
// error wrapping [ErrLifecycle]; that is the one consistent ordering policy
// the package contract requires.
type Phase int

// Lifecycle phases, in order. Open is the only legal transition out of
// PhaseUnopened, ReadHeaders the only one out of PhaseOpened. ReadPacket
// loops through PhaseStreaming until end of stream moves the demuxer to
// PhaseExhausted, which is terminal: further ReadPacket calls keep
// returning io.EOF.
const (
	PhaseUnopened Phase = iota
	PhaseOpened
	PhaseHeadersRead
	PhaseStreaming
	PhaseExhausted
)

// Demuxer is a stateful session bound to one opened input. Instances are
// exclusively owned by the caller that allocated them and must not be shared
// across goroutines; callers needing concurrent streaming allocate
// independent instances.
type Demuxer interface {
	// Open binds the demuxer to its byte source. It must be called exactly
	// once, before any other operation. The context is retained for the
	// lifetime of the session and bounds blocking reads.
	Open(ctx context.Context, src io.Reader) error

	// ReadHeaders parses container-level metadata. It must be called
	// exactly once, after Open and before the first ReadPacket. Malformed
	// or truncated header data yields an error wrapping [ErrInvalidData];
	// byte-source failures propagate as-is.
	ReadHeaders() error

	// ReadPacket returns the next packet in stream order. It returns
	// io.EOF once the input is exhausted, an expected terminal condition
	// distinct from corruption, and may block on the underlying byte
	// source. Failures are terminal for the session: the core never
	// retries, and callers that want to recover re-probe and allocate a
	// fresh demuxer.
	ReadPacket() (*media.Packet, error)
}

// Builder is a stateless factory for one container format. Implementations
// must be safe for concurrent use without synchronization: Describe, Probe,
// and Alloc are reentrant and share no mutable state.
type Builder interface {
	// Describe returns the format's static descriptor. Pure and always
	// successful.
	Describe() Descriptor

	// Probe reports how confidently sample begins a stream of this format.
	// The sample holds exactly ProbeSize bytes (a [Registry] guarantees
	// this). Probe is a pure function of those bytes: it must not consult
	// filenames, content-type hints, or any external state, must not fail,
	// and degrades to 0 on any internal inconsistency rather than
	// propagating an error.
	Probe(sample []byte) Score

	// Alloc returns a new, unopened demuxer. It never fails and every call
	// returns independent state.
	Alloc() Demuxer
}

// StreamLister is implemented by demuxers that can enumerate the streams
// discovered by ReadHeaders. The core contract does not require it, but all
// demuxers in this repository provide it.
type StreamLister interface {
	Streams() []media.Stream
}

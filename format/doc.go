// Package format defines the contract between container demuxers and the
// probe-driven selection logic that routes an unlabeled byte stream to the
// right one.
//
// The two central interfaces are [Demuxer], a stateful session that drives
// one input through open → read-headers → read-packets, and [Builder], a
// stateless factory that describes a format, scores a probe sample against
// it, and allocates fresh demuxer instances. A [Registry] holds an ordered,
// immutable set of builders and implements selection: every builder scores
// the same [ProbeSize]-byte sample, and the highest scorer wins if it clears
// the confidence threshold.
//
// Concrete formats live in subpackages ([github.com/zsiec/lens/format/wav],
// [github.com/zsiec/lens/format/ivf], [github.com/zsiec/lens/format/mpegts]);
// [github.com/zsiec/lens/format/formattest] provides a configurable fixture
// format for testing code that embeds a registry.
package format

package format

import "strings"

// Registry is an ordered, read-only collection of builders. It is assembled
// once, typically at process start, and is safe for concurrent use from
// that point on: selection and lookups only read shared builder state.
//
// Registration order matters: when two builders probe to the same score, the
// earlier-registered one wins. That tie-break is a documented design choice,
// not an accident of iteration, so embedders should register more specific
// formats first.
type Registry struct {
	builders []Builder
}

// NewRegistry creates a registry holding the given builders in order. The
// slice is copied; later mutation of the caller's slice does not affect the
// registry.
func NewRegistry(builders ...Builder) *Registry {
	r := &Registry{builders: make([]Builder, len(builders))}
	copy(r.builders, builders)
	return r
}

// Len returns the number of registered builders.
func (r *Registry) Len() int {
	return len(r.builders)
}

// Builders returns the registered builders in registration order. The
// returned slice is a copy.
func (r *Registry) Builders() []Builder {
	out := make([]Builder, len(r.builders))
	copy(out, r.builders)
	return out
}

// Probe scores sample against every registered builder in a single linear
// scan and returns the best match. A builder is returned only when its score
// is strictly greater than ScoreExtension; a registry with no builders, or
// one where every builder scores at or below that threshold, reports no
// match. Ties keep the earlier-registered builder.
//
// Sample should hold exactly ProbeSize bytes (see [ReadSample]); a shorter
// sample is observed zero-extended and a longer one truncated, so builders
// always see the full probe window. Scores above ScoreMax are clamped.
func (r *Registry) Probe(sample []byte) (Builder, bool) {
	sample = normalizeSample(sample)

	var (
		max       Score
		candidate Builder
	)
	for _, b := range r.builders {
		score := b.Probe(sample)
		if score > ScoreMax {
			score = ScoreMax
		}
		if score > max {
			max = score
			candidate = b
		}
	}

	if max > ScoreExtension {
		return candidate, true
	}
	return nil, false
}

// ByName returns the builder whose descriptor name equals name.
func (r *Registry) ByName(name string) (Builder, bool) {
	for _, b := range r.builders {
		if b.Describe().Name == name {
			return b, true
		}
	}
	return nil, false
}

// ByExtension returns the first-registered builder claiming the given file
// extension. The comparison is case-insensitive and tolerates a leading dot,
// so both "WAV" and ".wav" match. A match by extension alone carries
// ScoreExtension confidence; callers wanting certainty should Probe.
func (r *Registry) ByExtension(ext string) (Builder, bool) {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if ext == "" {
		return nil, false
	}
	for _, b := range r.builders {
		for _, e := range b.Describe().Extensions {
			if e == ext {
				return b, true
			}
		}
	}
	return nil, false
}

// ByMIME returns the first-registered builder claiming the given MIME type.
// Parameters are stripped and the comparison is case-insensitive, so
// "video/MP2T; charset=binary" matches a builder declaring "video/mp2t".
func (r *Registry) ByMIME(mime string) (Builder, bool) {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	if mime == "" {
		return nil, false
	}
	for _, b := range r.builders {
		for _, m := range b.Describe().MIME {
			if strings.ToLower(m) == mime {
				return b, true
			}
		}
	}
	return nil, false
}

// normalizeSample returns a view of sample that is exactly ProbeSize bytes,
// zero-extending or truncating as needed.
func normalizeSample(sample []byte) []byte {
	if len(sample) == ProbeSize {
		return sample
	}
	if len(sample) > ProbeSize {
		return sample[:ProbeSize]
	}
	norm := make([]byte, ProbeSize)
	copy(norm, sample)
	return norm
}

// Package media defines the packet and stream types that demuxers produce,
// from format probing through packet extraction.
package media

import "math"

// NoPTS marks an absent presentation or decoding timestamp. Formats that
// carry no timing information leave PTS and DTS at this value.
const NoPTS = int64(math.MinInt64)

// Kind classifies the payload a stream carries.
type Kind int

// Stream payload kinds discovered from container headers.
const (
	KindUnknown Kind = iota
	KindVideo
	KindAudio
	KindData
)

// String returns a short lowercase name for the kind.
func (k Kind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	case KindData:
		return "data"
	default:
		return "unknown"
	}
}

// Stream describes one elementary stream discovered while reading container
// headers. It is static metadata: demuxers populate it once during header
// parsing and never mutate it afterwards. Parameter fields are best effort;
// a container that does not record them leaves them zero.
type Stream struct {
	Index      int
	Kind       Kind
	Codec      string // container-declared codec name, e.g. "h264", "pcm_s16le"
	SampleRate int
	Channels   int
	Width      int
	Height     int
}

// Packet is one demuxed unit of container payload: a video access unit, a
// block of audio samples, or an opaque data run, depending on the stream.
// The payload is not decoded; interpreting Data is the caller's concern.
// Ownership transfers to the receiver; demuxers never retain or reuse a
// returned packet's backing array.
type Packet struct {
	StreamIndex int
	PTS         int64 // in the stream's native clock units, NoPTS when absent
	DTS         int64
	Data        []byte
	Keyframe    bool
}

package format

import (
	"errors"
	"fmt"
	"io"
)

// ReadSample reads the probe window from the start of r: a buffer of exactly
// ProbeSize bytes, zero-padded when the input is shorter, plus the number of
// bytes actually read. Reaching end of input early is not an error; only a
// genuine read failure is.
//
// Because probing consumes bytes that the selected demuxer still needs,
// callers streaming from a non-seekable source replay them:
//
//	sample, n, err := format.ReadSample(src)
//	...
//	dmx.Open(ctx, io.MultiReader(bytes.NewReader(sample[:n]), src))
func ReadSample(r io.Reader) ([]byte, int, error) {
	sample := make([]byte, ProbeSize)
	n, err := io.ReadFull(r, sample)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, 0, fmt.Errorf("format: read probe sample: %w", err)
	}
	return sample, n, nil
}

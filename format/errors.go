package format

import "errors"

// Sentinel errors for demuxer lifecycle operations. Demuxers wrap these with
// format-specific context so callers can discriminate failure modes with
// errors.Is: corruption is worth re-probing with a different builder, a
// lifecycle violation is a caller bug, and a plain I/O error is neither.
// End of stream is reported as io.EOF, not as an error defined here.
var (
	// ErrInvalidData indicates container data that is structurally invalid
	// for the format that claimed it.
	ErrInvalidData = errors.New("format: invalid data")

	// ErrLifecycle indicates a lifecycle operation invoked out of order,
	// such as ReadHeaders before Open or a second Open.
	ErrLifecycle = errors.New("format: operation out of lifecycle order")
)

package main

import (
	"github.com/zsiec/lens/format"
	"github.com/zsiec/lens/format/ivf"
	"github.com/zsiec/lens/format/mpegts"
	"github.com/zsiec/lens/format/wav"
)

// defaultRegistry assembles the built-in formats. Registration order is
// the probe tie-break order, so formats with exact magic numbers come
// before the sync-pattern scan.
func defaultRegistry() *format.Registry {
	return format.NewRegistry(
		wav.Builder(),
		ivf.Builder(),
		mpegts.Builder(),
	)
}

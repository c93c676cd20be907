// Package srt implements SRT (Secure Reliable Transport) byte sources:
// listener-mode (Server) accepts incoming publish connections and hands
// them to the ingest registry, and caller-mode (Dial) pulls a remote
// stream as a plain byte reader for probing and inspection.
package srt

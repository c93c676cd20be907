package srt

import (
	"context"
	"fmt"
	"io"
	"time"

	srtgo "github.com/zsiec/srtgo"
)

// dialTimeout bounds the SRT handshake for caller-mode connections.
const dialTimeout = 10 * time.Second

// Dial connects to a remote SRT listener in caller mode and returns the
// connection as a byte stream. streamID is sent during the handshake;
// pass "" to let the remote apply its default. The handshake is bounded
// by dialTimeout and by ctx.
func Dial(ctx context.Context, addr, streamID string) (io.ReadCloser, error) {
	cfg := srtgo.DefaultConfig()
	cfg.Latency = srtLatencyNs
	cfg.StreamID = streamID

	type dialResult struct {
		conn *srtgo.Conn
		err  error
	}
	ch := make(chan dialResult, 1)
	go func() {
		conn, err := srtgo.Dial(addr, cfg)
		ch <- dialResult{conn, err}
	}()

	timer := time.NewTimer(dialTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("SRT dial failed: %w", res.err)
		}
		return res.conn, nil
	case <-timer.C:
		// Drain the dial result in the background and close any leaked connection.
		go func() {
			if res := <-ch; res.conn != nil {
				res.conn.Close()
			}
		}()
		return nil, fmt.Errorf("SRT dial timed out after %s", dialTimeout)
	case <-ctx.Done():
		// Drain the dial result in the background and close any leaked connection.
		go func() {
			if res := <-ch; res.conn != nil {
				res.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// Package quic implements a QUIC byte source. Each incoming connection
// carries one bidirectional stream of raw media bytes, registered with
// the ingest registry under a generated session ID.
package quic

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/quic-go/quic-go"

	"github.com/zsiec/lens/internal/certs"
	"github.com/zsiec/lens/internal/ingest"
)

// ALPN is the application protocol negotiated for ingest connections.
const ALPN = "lens/1"

// quicReadBufferSize is the read buffer for stream reads, sized like the
// SRT receiver's buffer so pipe writes have similar granularity.
const quicReadBufferSize = 1316 * 10

// maxIdleTimeout disconnects publishers that go silent.
const maxIdleTimeout = 30 * time.Second

// Server accepts QUIC connections and registers each one's media stream
// with the ingest registry.
type Server struct {
	log      *slog.Logger
	addr     string
	cert     *certs.CertInfo
	registry *ingest.Registry
}

// NewServer creates a QUIC server that listens on addr and registers
// incoming streams with the given registry. If log is nil, slog.Default()
// is used.
func NewServer(addr string, cert *certs.CertInfo, registry *ingest.Registry, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		log:      log.With("component", "quic-server"),
		addr:     addr,
		cert:     cert,
		registry: registry,
	}
}

// Start begins accepting QUIC connections. It blocks until the context is
// cancelled.
func (s *Server) Start(ctx context.Context) error {
	tlsConf := &tls.Config{
		Certificates: []tls.Certificate{s.cert.TLSCert},
		NextProtos:   []string{ALPN},
	}

	l, err := quic.ListenAddr(s.addr, tlsConf, &quic.Config{
		MaxIdleTimeout: maxIdleTimeout,
	})
	if err != nil {
		return fmt.Errorf("QUIC listen on %s: %w", s.addr, err)
	}
	s.log.Info("listening", "addr", s.addr, "cert_fingerprint", s.cert.FingerprintBase64())

	go func() {
		<-ctx.Done()
		l.Close()
	}()

	for {
		conn, err := l.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn("accept error", "error", err)
			continue
		}

		id := uuid.NewString()
		s.log.Info("publish", "session_id", id, "remote", conn.RemoteAddr())

		go s.handleConnection(ctx, conn, id)
	}
}

func (s *Server) handleConnection(ctx context.Context, conn quic.Connection, id string) {
	defer conn.CloseWithError(0, "session closed")

	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		s.log.Debug("accept stream error", "session_id", id, "error", err)
		return
	}

	sess, writer, ok := s.registry.Register(id, "quic")
	if !ok {
		// Generated IDs do not collide in practice; a rejection here means
		// the registry is being fed duplicate UUIDs by a caller bug.
		s.log.Error("session id collision", "session_id", id)
		return
	}
	sess.SetRemoteAddr(conn.RemoteAddr().String())

	buf := make([]byte, quicReadBufferSize)
	for {
		if ctx.Err() != nil {
			break
		}
		// QUIC streams may return data together with EOF, so drain n
		// before inspecting err.
		n, err := stream.Read(buf)
		if n > 0 {
			sess.RecordRead(n)
			if _, werr := writer.Write(buf[:n]); werr != nil {
				s.log.Debug("pipe write error", "session_id", id, "error", werr)
				break
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Debug("read error", "session_id", id, "error", err)
			}
			break
		}
	}

	stats := sess.Stats()
	s.registry.Unregister(id)
	s.log.Info("connection closed", "session_id", id,
		"bytes", stats.BytesReceived, "reads", stats.ReadCount,
		"uptime_ms", stats.UptimeMs)
}

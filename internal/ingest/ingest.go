// Package ingest tracks active ingest sessions, coupling transport byte
// readers with metadata, lifecycle signaling, and pipeline dispatch.
package ingest

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Stats captures connection-level metrics for an ingest session, exposed
// for monitoring source health.
type Stats struct {
	BytesReceived int64  `json:"bytesReceived"`
	ReadCount     int64  `json:"readCount"`
	ConnectedAt   int64  `json:"connectedAt"`
	UptimeMs      int64  `json:"uptimeMs"`
	RemoteAddr    string `json:"remoteAddr"`
}

// Session represents an active ingest connection, coupling the raw byte
// reader with metadata and lifecycle signaling. Bytes written to the
// internal pipe by the transport receiver are read by the demux pipeline.
type Session struct {
	ID        string
	Transport string
	StartedAt time.Time

	input io.ReadCloser
	pw    io.WriteCloser
	done  chan struct{}

	bytesReceived atomic.Int64
	readCount     atomic.Int64
	remoteAddr    atomic.Value
}

// Input returns the read side of the session pipe, consumed by the demux
// pipeline.
func (s *Session) Input() io.Reader { return s.input }

// Done returns a channel that is closed when the session is unregistered.
func (s *Session) Done() <-chan struct{} { return s.done }

// RecordRead increments the byte and read counters, called by the
// transport receiver after each successful read.
func (s *Session) RecordRead(n int) {
	s.bytesReceived.Add(int64(n))
	s.readCount.Add(1)
}

// SetRemoteAddr stores the remote address of the ingest connection for
// diagnostics.
func (s *Session) SetRemoteAddr(addr string) {
	s.remoteAddr.Store(addr)
}

// Stats returns a snapshot of session metrics.
func (s *Session) Stats() Stats {
	addr, _ := s.remoteAddr.Load().(string)
	return Stats{
		BytesReceived: s.bytesReceived.Load(),
		ReadCount:     s.readCount.Load(),
		ConnectedAt:   s.StartedAt.UnixMilli(),
		UptimeMs:      time.Since(s.StartedAt).Milliseconds(),
		RemoteAddr:    addr,
	}
}

// Registry tracks active ingest sessions by ID and dispatches new sessions
// to the onSession callback for pipeline setup. It is the rendezvous point
// between the transport listeners and the demux pipeline.
type Registry struct {
	log *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	onSession func(*Session)
}

// NewRegistry creates a Registry. The onSession callback is invoked on its
// own goroutine whenever a new session is registered. If log is nil,
// slog.Default() is used.
func NewRegistry(log *slog.Logger, onSession func(*Session)) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:       log.With("component", "ingest"),
		sessions:  make(map[string]*Session),
		onSession: onSession,
	}
}

// Register creates a new ingest session, returning the Session and the
// Writer the transport receiver should write into. If a session with this
// ID already exists the registration is rejected: no pipe is created, the
// callback does not fire, and ok is false.
func (r *Registry) Register(id, transport string) (s *Session, w io.Writer, ok bool) {
	r.mu.Lock()
	if _, exists := r.sessions[id]; exists {
		r.mu.Unlock()
		r.log.Warn("session already exists, rejecting duplicate", "id", id, "transport", transport)
		return nil, nil, false
	}

	pr, pw := io.Pipe()
	s = &Session{
		ID:        id,
		Transport: transport,
		StartedAt: time.Now(),
		input:     pr,
		pw:        pw,
		done:      make(chan struct{}),
	}
	r.sessions[id] = s
	r.mu.Unlock()

	r.log.Info("session registered", "id", id, "transport", transport)

	if r.onSession != nil {
		go r.onSession(s)
	}

	return s, pw, true
}

// Unregister removes a session by ID, closing its pipe and signaling Done.
// Readers of the session input see io.EOF once buffered bytes drain.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if ok {
		s.pw.Close()
		close(s.done)
		r.log.Info("session unregistered", "id", id)
	}
}

// Get returns the Session with the given ID, or false if not found.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// List returns all active sessions.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

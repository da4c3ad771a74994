package stream

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrTooManySessions is returned when the concurrent session cap is hit.
var ErrTooManySessions = errors.New("maximum concurrent sessions reached")

// Registry tracks active sessions keyed by source reference. At most one
// session exists per source; concurrent requests for the same source share
// a single spawn through singleflight.
type Registry struct {
	maxSessions int
	logger      *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	group singleflight.Group
}

// NewRegistry creates a Registry. maxSessions <= 0 means unlimited.
func NewRegistry(maxSessions int, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		maxSessions: maxSessions,
		logger:      logger.With(slog.String("component", "registry")),
		sessions:    make(map[string]*Session),
	}
}

// Get returns the live session for sourceRef, or nil. Sessions that have
// reached a terminal state are treated as absent even before the removal
// watcher has run.
func (r *Registry) Get(sourceRef string) *Session {
	r.mu.RLock()
	s := r.sessions[sourceRef]
	r.mu.RUnlock()
	if s == nil || s.Terminated() {
		return nil
	}
	return s
}

// AcquireOrCreate returns the existing session for sourceRef or spawns one
// via create. Concurrent callers for the same sourceRef are collapsed into
// a single create call; losers receive the winner's session.
func (r *Registry) AcquireOrCreate(sourceRef string, create func() (*Session, error)) (*Session, error) {
	if s := r.Get(sourceRef); s != nil {
		return s, nil
	}

	v, err, shared := r.group.Do(sourceRef, func() (any, error) {
		if s := r.Get(sourceRef); s != nil {
			return s, nil
		}

		r.mu.RLock()
		n := len(r.sessions)
		r.mu.RUnlock()
		if r.maxSessions > 0 && n >= r.maxSessions {
			return nil, ErrTooManySessions
		}

		s, err := create()
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.sessions[sourceRef] = s
		r.mu.Unlock()

		// Removal is unconditional on terminal exit regardless of how
		// the session ended.
		go func() {
			<-s.Done()
			r.remove(sourceRef, s)
		}()

		return s, nil
	})
	if err != nil {
		return nil, err
	}
	s := v.(*Session)
	if shared {
		r.logger.Debug("joined in-flight session",
			slog.String("source", sourceRef),
			slog.String("session_id", s.ID.String()),
		)
	}
	return s, nil
}

// remove deletes the entry only if it still maps to s, so a successor
// session for the same source is never evicted by a stale watcher.
func (r *Registry) remove(sourceRef string, s *Session) {
	r.mu.Lock()
	if r.sessions[sourceRef] == s {
		delete(r.sessions, sourceRef)
	}
	r.mu.Unlock()
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sessions returns a snapshot of all registered sessions.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// ReapIdle kills sessions that have had no clients for longer than maxIdle
// and returns how many were reaped.
func (r *Registry) ReapIdle(maxIdle time.Duration) int {
	reaped := 0
	for _, s := range r.Sessions() {
		if s.Terminated() {
			continue
		}
		idle := s.IdleSince()
		if idle.IsZero() || time.Since(idle) < maxIdle {
			continue
		}
		r.logger.Info("reaping idle session",
			slog.String("session_id", s.ID.String()),
			slog.String("source", s.SourceRef),
			slog.Duration("idle", time.Since(idle)),
		)
		s.Kill()
		reaped++
	}
	return reaped
}

// Shutdown kills every session and waits up to timeout for them to exit.
func (r *Registry) Shutdown(timeout time.Duration) {
	sessions := r.Sessions()
	for _, s := range sessions {
		s.Kill()
	}
	deadline := time.After(timeout)
	for _, s := range sessions {
		select {
		case <-s.Done():
		case <-deadline:
			return
		}
	}
}

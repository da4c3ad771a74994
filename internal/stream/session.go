package stream

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"vodarr/internal/extractor"
)

// State is the lifecycle state of a Session.
type State int

const (
	// StateStarting means the process is running but has produced no output.
	StateStarting State = iota
	// StateStreaming means at least one output byte has been produced.
	StateStreaming
	// StateCompleted means the process exited cleanly after streaming.
	StateCompleted
	// StateKilled means the process was terminated on request.
	StateKilled
	// StateFailed means the process exited without producing valid output.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateKilled:
		return "killed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state is absorbing.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateKilled || s == StateFailed
}

// Session is one active extraction: a supervised subprocess whose output is
// fanned out to clients through a Buffer. The session exclusively owns its
// process; the registry holds references only.
type Session struct {
	ID        ulid.ULID
	SourceRef string
	Quality   extractor.Quality
	StartedAt time.Time

	cmd    *extractor.Command
	buffer *Buffer
	grace  time.Duration
	logger *slog.Logger

	mu       sync.RWMutex
	state    State
	finalErr error

	readyOnce sync.Once
	readyCh   chan struct{}
	doneCh    chan struct{}
	killed    atomic.Bool
}

// transition is the single state-change entry point. Transitions out of a
// terminal state are ignored.
func (s *Session) transition(to State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return
	}
	s.state = to
}

// markReady flips the readiness flag on the first output byte. It fires
// exactly once and never reverts.
func (s *Session) markReady() {
	s.readyOnce.Do(func() {
		s.transition(StateStreaming)
		close(s.readyCh)
	})
}

// Ready reports whether the session has produced at least one byte.
func (s *Session) Ready() bool {
	select {
	case <-s.readyCh:
		return true
	default:
		return false
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Terminated reports whether the session reached a terminal state.
func (s *Session) Terminated() bool {
	return s.State().Terminal()
}

// Err returns the terminal error, if any. Only meaningful after Done.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.finalErr
}

// Done returns a channel closed when the session reaches a terminal state
// and its registry entry has been released for removal.
func (s *Session) Done() <-chan struct{} {
	return s.doneCh
}

// Attach connects a new client to the session's output.
func (s *Session) Attach(userAgent, remoteAddr string) (*Client, error) {
	return s.buffer.Attach(userAgent, remoteAddr)
}

// ClientCount returns the number of attached clients.
func (s *Session) ClientCount() int {
	return s.buffer.ClientCount()
}

// IdleSince returns when the session lost its last client, or zero while
// clients are attached.
func (s *Session) IdleSince() time.Time {
	return s.buffer.IdleSince()
}

// BytesOut returns the total bytes the process has produced.
func (s *Session) BytesOut() uint64 {
	return s.buffer.BytesWritten()
}

// PID returns the subprocess PID, or 0 before spawn.
func (s *Session) PID() int {
	return s.cmd.PID()
}

// Kill terminates the subprocess. Idempotent and safe from any goroutine;
// the process gets a terminate signal first and a kill signal if it does
// not exit within the grace window.
func (s *Session) Kill() {
	s.killed.Store(true)
	s.cmd.Terminate(s.grace)
}

// pump copies subprocess stdout into the fan-out buffer chunk by chunk.
// The first successful read marks the session ready.
func (s *Session) pump(stdout io.Reader, chunkSize int, pumpDone chan<- struct{}) {
	defer close(pumpDone)

	buf := make([]byte, chunkSize)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			s.markReady()
			if _, werr := s.buffer.Write(buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// supervise reaps the subprocess after the pump drains stdout, settles the
// terminal state, closes the buffer, and releases the session.
func (s *Session) supervise(pumpDone <-chan struct{}) {
	<-pumpDone
	waitErr := s.cmd.Wait()

	bytes := s.buffer.BytesWritten()
	exitCode := s.cmd.ExitCode()

	var closeErr error
	switch {
	case s.killed.Load():
		s.transition(StateKilled)
	case waitErr == nil && bytes > 0:
		s.transition(StateCompleted)
	default:
		// Includes exit code 0 with zero bytes: no content is a failure.
		ext := &extractor.ExtractionError{
			ExitCode: exitCode,
			Reason:   s.cmd.ClassifyStderr(),
			Stderr:   s.cmd.StderrTail(),
		}
		s.mu.Lock()
		s.finalErr = ext
		s.mu.Unlock()
		s.transition(StateFailed)
		// Attached readers see the error after draining whatever was
		// buffered; nothing can be resumed for them.
		closeErr = ext
	}
	s.buffer.CloseWithError(closeErr)

	s.logger.Info("session ended",
		slog.String("session_id", s.ID.String()),
		slog.String("source", s.SourceRef),
		slog.String("quality", string(s.Quality)),
		slog.String("state", s.State().String()),
		slog.Int("exit_code", exitCode),
		slog.Uint64("bytes_out", bytes),
		slog.Duration("runtime", s.cmd.Runtime()),
	)

	close(s.doneCh)
}

// Runner spawns and supervises extraction sessions.
type Runner struct {
	cfg    RunnerConfig
	logger *slog.Logger
}

// RunnerConfig configures session spawning.
type RunnerConfig struct {
	// BinaryPath is the extractor binary.
	BinaryPath string
	// KillGracePeriod is the SIGTERM to SIGKILL escalation window.
	KillGracePeriod time.Duration
	// ChunkSize is the stdout read size.
	ChunkSize int
	// BufferMaxBytes bounds the per-session fan-out buffer.
	BufferMaxBytes int
}

// NewRunner creates a Runner.
func NewRunner(cfg RunnerConfig, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{cfg: cfg, logger: logger.With(slog.String("component", "runner"))}
}

// Start spawns the extractor for sourceRef and blocks until the first
// output byte, the invocation's startup timeout, process exit, or ctx
// cancellation. On timeout the process is killed and
// extractor.ErrStartupTimeout is returned; an exit with no output returns
// *extractor.ExtractionError.
func (r *Runner) Start(ctx context.Context, sourceRef string, inv extractor.Invocation) (*Session, error) {
	args := append(append([]string{}, inv.Args...), sourceRef)
	cmd := extractor.NewCommand(r.cfg.BinaryPath, args)

	s := &Session{
		ID:        ulid.Make(),
		SourceRef: sourceRef,
		Quality:   inv.Quality,
		StartedAt: time.Now(),
		cmd:       cmd,
		buffer:    NewBuffer(r.cfg.BufferMaxBytes),
		grace:     r.cfg.KillGracePeriod,
		logger:    r.logger,
		readyCh:   make(chan struct{}),
		doneCh:    make(chan struct{}),
	}

	stdout, err := cmd.Start()
	if err != nil {
		return nil, err
	}

	r.logger.Debug("spawned extractor",
		slog.String("session_id", s.ID.String()),
		slog.String("source", sourceRef),
		slog.String("quality", string(inv.Quality)),
		slog.Int("pid", cmd.PID()),
	)

	pumpDone := make(chan struct{})
	go s.pump(stdout, r.cfg.ChunkSize, pumpDone)
	go s.supervise(pumpDone)

	timer := time.NewTimer(inv.StartupTimeout)
	defer timer.Stop()

	select {
	case <-s.readyCh:
		return s, nil

	case <-s.doneCh:
		if s.Ready() {
			// Very short stream: completed before the caller observed
			// readiness.
			return s, nil
		}
		if err := s.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("session ended without output")

	case <-timer.C:
		if s.Ready() {
			return s, nil
		}
		s.Kill()
		<-s.doneCh
		return nil, fmt.Errorf("%w (deadline %s)", extractor.ErrStartupTimeout, inv.StartupTimeout)

	case <-ctx.Done():
		if s.Ready() {
			return s, nil
		}
		s.Kill()
		<-s.doneCh
		return nil, ctx.Err()
	}
}

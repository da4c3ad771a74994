package extractor

import (
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// maxStderrLines bounds the retained diagnostic tail per process.
const maxStderrLines = 40

// Command wraps one external extractor process. It owns the subprocess for
// its whole lifetime: once started, the process is guaranteed to be reaped
// via Wait and can always be stopped via Terminate, on any exit path.
type Command struct {
	Binary string
	Args   []string

	mu       sync.Mutex
	cmd      *exec.Cmd
	started  time.Time
	exitCode int

	// done is closed once Wait has reaped the process.
	done chan struct{}

	stderr *tailBuffer

	termOnce sync.Once
}

// NewCommand creates a command for the given binary and arguments.
func NewCommand(binary string, args []string) *Command {
	return &Command{
		Binary:   binary,
		Args:     args,
		exitCode: -1,
		done:     make(chan struct{}),
		stderr:   newTailBuffer(maxStderrLines),
	}
}

// String returns the command line for logging.
func (c *Command) String() string {
	return c.Binary + " " + strings.Join(c.Args, " ")
}

// Start launches the process and returns its stdout pipe.
// A launch failure is reported as *SpawnError.
func (c *Command) Start() (io.ReadCloser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cmd != nil {
		return nil, fmt.Errorf("command already started")
	}

	cmd := exec.Command(c.Binary, c.Args...)
	cmd.Stderr = c.stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Binary: c.Binary, Err: err}
	}

	c.cmd = cmd
	c.started = time.Now()
	return stdout, nil
}

// Wait waits for the process to exit. Must be called exactly once after a
// successful Start.
func (c *Command) Wait() error {
	c.mu.Lock()
	cmd := c.cmd
	c.mu.Unlock()

	if cmd == nil {
		return fmt.Errorf("command not started")
	}

	err := cmd.Wait()

	// ProcessState is only safe to read from the goroutine that reaped the
	// process; snapshot it under the lock for the accessors.
	c.mu.Lock()
	c.exitCode = cmd.ProcessState.ExitCode()
	c.mu.Unlock()
	close(c.done)

	return err
}

// Terminate stops the process: SIGTERM first, escalating to SIGKILL if it
// has not exited within the grace window. Idempotent and safe to call from
// any goroutine, including after the process has already exited.
func (c *Command) Terminate(grace time.Duration) {
	c.termOnce.Do(func() {
		c.mu.Lock()
		cmd := c.cmd
		c.mu.Unlock()

		if cmd == nil || cmd.Process == nil {
			return
		}

		// Signal errors are expected when the process already exited.
		_ = cmd.Process.Signal(syscall.SIGTERM)

		go func() {
			timer := time.NewTimer(grace)
			defer timer.Stop()

			select {
			case <-timer.C:
				// Kill on an already-reaped process is a harmless error.
				_ = cmd.Process.Kill()
			case <-c.done:
			}
		}()
	})
}

// ExitCode returns the process exit code, or -1 if it has not exited.
func (c *Command) ExitCode() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exitCode
}

// PID returns the process ID, or 0 if not started.
func (c *Command) PID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cmd == nil || c.cmd.Process == nil {
		return 0
	}
	return c.cmd.Process.Pid
}

// Runtime returns how long the process has been running.
func (c *Command) Runtime() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started.IsZero() {
		return 0
	}
	return time.Since(c.started)
}

// StderrTail returns the retained tail of the process's stderr output.
func (c *Command) StderrTail() string {
	return c.stderr.String()
}

// ClassifyStderr classifies the retained stderr tail. Advisory only.
func (c *Command) ClassifyStderr() FailureReason {
	return Classify(c.stderr.String())
}

// tailBuffer is an io.Writer that retains the last N lines written to it.
// exec.Cmd copies stderr into it from a background goroutine, so all access
// is mutex-guarded.
type tailBuffer struct {
	mu       sync.Mutex
	lines    []string
	partial  strings.Builder
	maxLines int
}

func newTailBuffer(maxLines int) *tailBuffer {
	return &tailBuffer{maxLines: maxLines}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, b := range p {
		if b == '\n' {
			t.appendLine(t.partial.String())
			t.partial.Reset()
			continue
		}
		t.partial.WriteByte(b)
	}
	return len(p), nil
}

func (t *tailBuffer) appendLine(line string) {
	if line == "" {
		return
	}
	t.lines = append(t.lines, line)
	if len(t.lines) > t.maxLines {
		t.lines = t.lines[len(t.lines)-t.maxLines:]
	}
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.partial.Len() == 0 {
		return strings.Join(t.lines, "\n")
	}
	all := make([]string, 0, len(t.lines)+1)
	all = append(all, t.lines...)
	all = append(all, t.partial.String())
	return strings.Join(all, "\n")
}

package extractor

import (
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandRunsAndCapturesStdout(t *testing.T) {
	c := NewCommand("/bin/sh", []string{"-c", "printf hello; echo diag 1>&2"})

	stdout, err := c.Start()
	require.NoError(t, err)

	out, err := io.ReadAll(stdout)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(out))

	require.NoError(t, c.Wait())
	assert.Equal(t, 0, c.ExitCode())
	assert.Equal(t, "diag", c.StderrTail())
}

func TestCommandSpawnError(t *testing.T) {
	c := NewCommand("/nonexistent/binary", nil)

	_, err := c.Start()
	var spawn *SpawnError
	require.ErrorAs(t, err, &spawn)
	assert.Equal(t, "/nonexistent/binary", spawn.Binary)
	assert.Equal(t, 0, c.PID())
}

func TestCommandDoubleStart(t *testing.T) {
	c := NewCommand("/bin/sh", []string{"-c", "true"})

	stdout, err := c.Start()
	require.NoError(t, err)

	_, err = c.Start()
	assert.Error(t, err)

	io.Copy(io.Discard, stdout)
	require.NoError(t, c.Wait())
}

func TestCommandExitCode(t *testing.T) {
	c := NewCommand("/bin/sh", []string{"-c", "exit 7"})

	stdout, err := c.Start()
	require.NoError(t, err)
	io.Copy(io.Discard, stdout)

	require.Error(t, c.Wait())
	assert.Equal(t, 7, c.ExitCode())
}

func TestCommandTerminate(t *testing.T) {
	c := NewCommand("/bin/sh", []string{"-c", "exec sleep 30"})

	stdout, err := c.Start()
	require.NoError(t, err)
	assert.Greater(t, c.PID(), 0)

	start := time.Now()
	c.Terminate(2 * time.Second)
	io.Copy(io.Discard, stdout)
	err = c.Wait()
	require.Error(t, err, "terminated process should report a signal exit")
	assert.Less(t, time.Since(start), 10*time.Second)

	// Repeat calls are no-ops.
	c.Terminate(2 * time.Second)
}

func TestCommandTerminateEscalatesToKill(t *testing.T) {
	// The child ignores the polite signal; only the forced kill ends it.
	c := NewCommand("/bin/sh", []string{"-c", "trap '' TERM; while :; do sleep 0.1; done"})

	stdout, err := c.Start()
	require.NoError(t, err)

	start := time.Now()
	c.Terminate(500 * time.Millisecond)
	io.Copy(io.Discard, stdout)
	require.Error(t, c.Wait())
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestCommandTerminateWhileExiting(t *testing.T) {
	// Terminate a child that ignores the polite signal and exits on its own
	// just inside the grace window. The escalation goroutine and Wait run
	// concurrently on every iteration; under -race this covers the handoff
	// between them.
	for i := 0; i < 20; i++ {
		c := NewCommand("/bin/sh", []string{"-c", "trap '' TERM; exec sleep 0.05"})

		stdout, err := c.Start()
		require.NoError(t, err)

		c.Terminate(5 * time.Second)
		io.Copy(io.Discard, stdout)
		require.NoError(t, c.Wait())
		assert.Equal(t, 0, c.ExitCode())
	}
}

func TestCommandStderrTailBounded(t *testing.T) {
	script := "for i in $(seq 1 200); do echo line-$i 1>&2; done"
	c := NewCommand("/bin/sh", []string{"-c", script})

	stdout, err := c.Start()
	require.NoError(t, err)
	io.Copy(io.Discard, stdout)
	require.NoError(t, c.Wait())

	tail := c.StderrTail()
	lines := strings.Split(tail, "\n")
	assert.Len(t, lines, maxStderrLines)
	assert.Equal(t, "line-200", lines[len(lines)-1])
	assert.NotContains(t, tail, "line-1\n", "oldest lines should be dropped")
}

func TestTailBufferPartialWrites(t *testing.T) {
	tb := newTailBuffer(10)

	// Lines split across writes must reassemble.
	tb.Write([]byte("first ha"))
	tb.Write([]byte("lf\nsecond"))
	assert.Equal(t, "first half\nsecond", tb.String())

	tb.Write([]byte(" line\n"))
	assert.Equal(t, "first half\nsecond line", tb.String())
}

func TestTailBufferDropsOldest(t *testing.T) {
	tb := newTailBuffer(3)
	for i := 1; i <= 5; i++ {
		fmt.Fprintf(tb, "line-%d\n", i)
	}
	assert.Equal(t, "line-3\nline-4\nline-5", tb.String())
}

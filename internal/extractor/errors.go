package extractor

import (
	"errors"
	"fmt"
)

// ErrStartupTimeout is returned when the extractor produced no output before
// the startup deadline elapsed. The process has already been killed when this
// error is observed. Callers may retry, typically by falling back from fast
// to best mode.
var ErrStartupTimeout = errors.New("no output before startup deadline")

// ErrDirectURLUnavailable is returned when no direct media URL could be
// extracted for a source. Callers should fall back to full proxying.
var ErrDirectURLUnavailable = errors.New("no direct URL available")

// SpawnError indicates the extractor binary itself could not be launched.
// This is a configuration-level failure and is not retried automatically.
type SpawnError struct {
	Binary string
	Err    error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawning %s: %v", e.Binary, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// ExtractionError indicates the extractor process exited without producing
// output. Exit code 0 with zero bytes is still an extraction failure.
type ExtractionError struct {
	ExitCode int
	Reason   FailureReason
	Stderr   string
}

func (e *ExtractionError) Error() string {
	if e.Reason != ReasonUnknown {
		return fmt.Sprintf("extraction failed (exit %d, %s)", e.ExitCode, e.Reason)
	}
	return fmt.Sprintf("extraction failed (exit %d)", e.ExitCode)
}

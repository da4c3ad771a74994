package extractor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// runCapture executes a bounded extractor invocation and captures stdout.
// Unlike streaming runs, these are short-lived operations where a hard kill
// on context expiry is acceptable.
func runCapture(ctx context.Context, binary string, inv Invocation, sourceRef string) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, inv.StartupTimeout)
	defer cancel()

	args := append(append([]string{}, inv.Args...), sourceRef)
	cmd := exec.CommandContext(ctx, binary, args...)

	var stdout bytes.Buffer
	stderr := newTailBuffer(maxStderrLines)
	cmd.Stdout = &stdout
	cmd.Stderr = stderr

	if err := cmd.Run(); err != nil {
		// On deadline expiry the context cancel kills the process and Run
		// reports an ExitError for the signal, so the context is checked
		// first.
		if ctx.Err() != nil {
			return nil, stderr.String(), fmt.Errorf("%w: %v", ErrStartupTimeout, ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, stderr.String(), &ExtractionError{
				ExitCode: exitErr.ExitCode(),
				Reason:   Classify(stderr.String()),
				Stderr:   stderr.String(),
			}
		}
		return nil, stderr.String(), &SpawnError{Binary: binary, Err: err}
	}

	return stdout.Bytes(), stderr.String(), nil
}

// ResolveDirectURL asks the extractor for the resolved direct media URL of a
// source without streaming any content. Returns ErrDirectURLUnavailable
// (wrapped) when no URL could be extracted.
func ResolveDirectURL(ctx context.Context, binary string, inv Invocation, sourceRef string) (string, error) {
	out, _, err := runCapture(ctx, binary, inv, sourceRef)
	if err != nil {
		var spawnErr *SpawnError
		if errors.As(err, &spawnErr) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", ErrDirectURLUnavailable, err)
	}

	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "http://") || strings.HasPrefix(line, "https://") {
			return line, nil
		}
	}
	return "", fmt.Errorf("%w: extractor printed no URL", ErrDirectURLUnavailable)
}

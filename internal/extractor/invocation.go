package extractor

import (
	"fmt"
	"strconv"
	"time"

	"vodarr/internal/config"
)

// Quality selects the delivery strategy for a stream request.
type Quality string

const (
	// QualityFast requests only pre-merged renditions capped at a maximum
	// resolution. No server-side merge is performed; if no pre-merged
	// rendition exists the extraction fails rather than falling back.
	QualityFast Quality = "fast"
	// QualityBest requests separate best video and audio renditions and
	// merges them server-side into a single container.
	QualityBest Quality = "best"
)

// ParseQuality maps a caller-supplied selector string to a Quality.
// Absent or unrecognized selectors default to best.
func ParseQuality(s string) Quality {
	if s == string(QualityFast) {
		return QualityFast
	}
	return QualityBest
}

// Invocation holds the parameters for one extractor run. It is a pure
// parameter set; nothing here starts a process.
type Invocation struct {
	// Args are the extractor arguments, without the source URL (the runner
	// appends it last).
	Args []string
	// StartupTimeout is the maximum time between spawn and first output
	// byte before the attempt is aborted.
	StartupTimeout time.Duration
	// Quality is the strategy this invocation encodes.
	Quality Quality
}

// InvocationSet builds extractor invocations from configuration.
// Each strategy emits a format selector, output target, retry/timeout
// bounds, and the compatibility flags for the upstream platform.
type InvocationSet struct {
	extractor config.Extractor
	stream    config.Stream
}

// NewInvocationSet creates an InvocationSet from configuration.
func NewInvocationSet(ext config.Extractor, str config.Stream) *InvocationSet {
	return &InvocationSet{extractor: ext, stream: str}
}

// common returns the arguments shared by all invocations: playlist and
// partial-file suppression, bounded retries, socket timeout, cookies, and
// client-profile compatibility flags.
func (s *InvocationSet) common() []string {
	args := []string{
		"--no-playlist",
		"--no-part",
		"--no-progress",
		"--retries", strconv.Itoa(s.extractor.RetryAttempts),
		"--fragment-retries", strconv.Itoa(s.extractor.FragmentRetries),
		"--socket-timeout", strconv.Itoa(s.extractor.SocketTimeout),
	}
	if s.extractor.HTTPChunkSize != "" {
		args = append(args, "--http-chunk-size", s.extractor.HTTPChunkSize)
	}
	if s.extractor.CookieFile != "" {
		args = append(args, "--cookies", s.extractor.CookieFile)
	}
	for _, profile := range s.extractor.ClientProfiles {
		args = append(args, "--extractor-args", profile)
	}
	return args
}

// fastSelector matches only pre-merged (audio+video in one file) renditions
// capped at the configured height. No "/best" fallback, so a source without
// a pre-merged rendition fails instead of triggering a merge.
func (s *InvocationSet) fastSelector() string {
	return fmt.Sprintf("best[height<=%d]", s.stream.FastMaxHeight)
}

// Stream returns the streaming invocation for the given quality.
func (s *InvocationSet) Stream(q Quality) Invocation {
	switch q {
	case QualityFast:
		return Invocation{
			Args: append(s.common(),
				"-f", s.fastSelector(),
				"-o", "-",
			),
			StartupTimeout: s.stream.FastStartupTimeout,
			Quality:        QualityFast,
		}
	default:
		return Invocation{
			Args: append(s.common(),
				"-f", "bestvideo+bestaudio/best",
				"--merge-output-format", "mp4",
				"-o", "-",
			),
			StartupTimeout: s.stream.BestStartupTimeout,
			Quality:        QualityBest,
		}
	}
}

// DirectURL returns the invocation that resolves a direct media URL without
// streaming content. This is a cheaper operation than a full stream: the
// extractor only prints the resolved URL and exits.
func (s *InvocationSet) DirectURL() Invocation {
	return Invocation{
		Args: append(s.common(),
			"-f", s.fastSelector(),
			"-g",
		),
		StartupTimeout: s.extractor.ResolveTimeout,
		Quality:        QualityFast,
	}
}

// Metadata returns the invocation that dumps source metadata as JSON.
func (s *InvocationSet) Metadata() Invocation {
	return Invocation{
		Args:           append(s.common(), "-J"),
		StartupTimeout: s.extractor.ResolveTimeout,
	}
}

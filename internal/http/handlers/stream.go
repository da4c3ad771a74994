package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"vodarr/internal/extractor"
	"vodarr/internal/stream"
	"vodarr/internal/urlcache"
)

// StreamHandler serves the delivery routes: proxied byte streams and
// direct URL redirects.
type StreamHandler struct {
	registry    *stream.Registry
	runner      *stream.Runner
	invocations *extractor.InvocationSet
	cache       *urlcache.Cache
	binary      string
	logger      *slog.Logger
}

// NewStreamHandler creates a StreamHandler.
func NewStreamHandler(
	registry *stream.Registry,
	runner *stream.Runner,
	invocations *extractor.InvocationSet,
	cache *urlcache.Cache,
	binary string,
	logger *slog.Logger,
) *StreamHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamHandler{
		registry:    registry,
		runner:      runner,
		invocations: invocations,
		cache:       cache,
		binary:      binary,
		logger:      logger.With(slog.String("component", "stream-handler")),
	}
}

// RegisterRoutes mounts the delivery routes on the router. These bypass
// the JSON API layer: status and headers must be held back until the
// first payload byte exists, and the body is an unbounded byte stream.
func (h *StreamHandler) RegisterRoutes(r chi.Router) {
	r.Get("/stream/{source}", h.ServeStream)
	r.Head("/stream/{source}", h.ServeStreamHead)
	r.Get("/direct/{source}", h.ServeDirect)
}

// ServeStream proxies the extracted media to the client. The response
// status is not committed until the extractor produces its first byte, so
// startup failures still surface as proper HTTP errors.
func (h *StreamHandler) ServeStream(w http.ResponseWriter, r *http.Request) {
	sourceRef, err := decodeSourceRef(chi.URLParam(r, "source"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	quality := extractor.ParseQuality(r.URL.Query().Get("quality"))
	h.serveProxied(w, r, sourceRef, quality)
}

// ServeStreamHead answers HEAD without touching the extractor. Players
// probe with HEAD before playing; spawning a subprocess per probe would
// double every startup.
func (h *StreamHandler) ServeStreamHead(w http.ResponseWriter, r *http.Request) {
	if _, err := decodeSourceRef(chi.URLParam(r, "source")); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "")
		return
	}
	writeStreamHeaders(w.Header())
	w.WriteHeader(http.StatusOK)
}

// ServeDirect redirects to the upstream direct URL when one can be
// resolved, falling back to the proxied path when the platform only
// offers split streams.
func (h *StreamHandler) ServeDirect(w http.ResponseWriter, r *http.Request) {
	sourceRef, err := decodeSourceRef(chi.URLParam(r, "source"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "")
		return
	}

	entry, err := h.cache.GetOrResolve(r.Context(), sourceRef, func(ctx context.Context, ref string) (string, error) {
		return extractor.ResolveDirectURL(ctx, h.binary, h.invocations.DirectURL(), ref)
	})
	if err == nil {
		w.Header().Set("Cache-Control", "no-store")
		http.Redirect(w, r, entry.URL, http.StatusFound)
		return
	}

	if errors.Is(err, extractor.ErrDirectURLUnavailable) {
		h.logger.Debug("no direct URL, falling back to proxy",
			slog.String("source", sourceRef),
		)
		// No pre-merged rendition usually means split streams; a merge is
		// the only way to deliver, so the fallback runs in best mode.
		h.serveProxied(w, r, sourceRef, extractor.QualityBest)
		return
	}
	h.writeStartError(w, sourceRef, err)
}

func (h *StreamHandler) serveProxied(w http.ResponseWriter, r *http.Request, sourceRef string, quality extractor.Quality) {
	inv := h.invocations.Stream(quality)

	var client *stream.Client
	var sess *stream.Session

	// An attach can race a session that completes right after acquire;
	// one retry gets a fresh session.
	for attempt := 0; attempt < 2; attempt++ {
		var err error
		sess, err = h.registry.AcquireOrCreate(sourceRef, func() (*stream.Session, error) {
			// The startup is shared with any waiters joined on the same
			// source, so it must not die with this one request. The startup
			// timeout still bounds it, and an unwatched session is killed
			// when its last client detaches.
			return h.runner.Start(context.WithoutCancel(r.Context()), sourceRef, inv)
		})
		if err != nil {
			if r.Context().Err() != nil {
				// This requester is gone; nothing to answer.
				return
			}
			h.writeStartError(w, sourceRef, err)
			return
		}
		client, err = sess.Attach(r.UserAgent(), r.RemoteAddr)
		if err == nil {
			break
		}
		client = nil
	}
	if client == nil {
		writeError(w, http.StatusBadGateway, "stream ended before it could be joined", "")
		return
	}

	defer func() {
		if client.Close() == 0 {
			// Nobody left watching; stop paying for the extraction.
			sess.Kill()
		}
	}()

	writeStreamHeaders(w.Header())
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	for {
		chunk, err := client.Read(r.Context())
		if err != nil {
			h.logStreamEnd(r.Context(), sess, client, err)
			return
		}
		if _, werr := w.Write(chunk); werr != nil {
			// Client side went away mid-write.
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// logStreamEnd records why a client's stream loop stopped. The response
// status is long committed by now, so errors here can only end the body.
func (h *StreamHandler) logStreamEnd(ctx context.Context, sess *stream.Session, client *stream.Client, err error) {
	switch {
	case errors.Is(err, io.EOF):
		h.logger.DebugContext(ctx, "stream completed for client",
			slog.String("session_id", sess.ID.String()),
			slog.Uint64("bytes_sent", client.BytesRead()),
		)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		h.logger.DebugContext(ctx, "client disconnected",
			slog.String("session_id", sess.ID.String()),
			slog.Uint64("bytes_sent", client.BytesRead()),
		)
	case errors.Is(err, stream.ErrClientLagging):
		h.logger.WarnContext(ctx, "disconnecting client that fell behind",
			slog.String("session_id", sess.ID.String()),
			slog.Uint64("bytes_sent", client.BytesRead()),
		)
	default:
		h.logger.ErrorContext(ctx, "stream ended abnormally",
			slog.String("session_id", sess.ID.String()),
			slog.Uint64("bytes_sent", client.BytesRead()),
			slog.String("error", err.Error()),
		)
	}
}

// writeStartError maps a pre-stream failure to an HTTP response. Nothing
// has been written yet on these paths.
func (h *StreamHandler) writeStartError(w http.ResponseWriter, sourceRef string, err error) {
	var spawnErr *extractor.SpawnError
	var extErr *extractor.ExtractionError

	switch {
	case errors.Is(err, context.Canceled):
		// Startup runs detached from any single request, so this only
		// happens on shutdown paths.
		writeError(w, http.StatusBadGateway, "extraction aborted", "")
	case errors.Is(err, stream.ErrTooManySessions):
		writeError(w, http.StatusServiceUnavailable, "session limit reached", "")
	case errors.Is(err, extractor.ErrStartupTimeout):
		writeError(w, http.StatusGatewayTimeout, "extraction did not start in time", "")
	case errors.As(err, &spawnErr):
		h.logger.Error("extractor binary failed to spawn",
			slog.String("binary", spawnErr.Binary),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "extractor unavailable", "")
	case errors.As(err, &extErr):
		writeError(w, http.StatusBadGateway, "extraction failed", string(extErr.Reason))
	default:
		writeError(w, http.StatusBadGateway, "extraction failed", "")
	}

	h.logger.Warn("stream start failed",
		slog.String("source", sourceRef),
		slog.String("error", err.Error()),
	)
}

package handlers

import (
	"context"
	"sort"

	"github.com/danielgtaylor/huma/v2"

	"vodarr/internal/stream"
)

// SessionsHandler exposes active extraction sessions for introspection.
type SessionsHandler struct {
	registry *stream.Registry
}

// NewSessionsHandler creates a sessions handler.
func NewSessionsHandler(registry *stream.Registry) *SessionsHandler {
	return &SessionsHandler{registry: registry}
}

// SessionsOutput is the session list payload.
type SessionsOutput struct {
	Body struct {
		Sessions []stream.SessionStats `json:"sessions"`
		Count    int                   `json:"count"`
	}
}

// KillSessionInput identifies a session to terminate.
type KillSessionInput struct {
	ID string `path:"id" doc:"Session ID"`
}

// KillSessionOutput acknowledges a kill request.
type KillSessionOutput struct {
	Body struct {
		ID    string `json:"id"`
		State string `json:"state"`
	}
}

// Register registers the session routes with the API.
func (h *SessionsHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listSessions",
		Method:      "GET",
		Path:        "/api/v1/sessions",
		Summary:     "List active sessions",
		Description: "Returns every active extraction session with process metrics",
		Tags:        []string{"Sessions"},
	}, h.ListSessions)

	huma.Register(api, huma.Operation{
		OperationID: "killSession",
		Method:      "DELETE",
		Path:        "/api/v1/sessions/{id}",
		Summary:     "Terminate a session",
		Description: "Kills the extraction process; attached clients see end of stream",
		Tags:        []string{"Sessions"},
	}, h.KillSession)
}

// ListSessions returns stats for all active sessions, oldest first.
func (h *SessionsHandler) ListSessions(ctx context.Context, _ *struct{}) (*SessionsOutput, error) {
	sessions := h.registry.Sessions()
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartedAt.Before(sessions[j].StartedAt)
	})

	out := &SessionsOutput{}
	out.Body.Sessions = make([]stream.SessionStats, 0, len(sessions))
	for _, s := range sessions {
		out.Body.Sessions = append(out.Body.Sessions, s.Stats())
	}
	out.Body.Count = len(out.Body.Sessions)
	return out, nil
}

// KillSession terminates the session with the given ID.
func (h *SessionsHandler) KillSession(ctx context.Context, input *KillSessionInput) (*KillSessionOutput, error) {
	for _, s := range h.registry.Sessions() {
		if s.ID.String() == input.ID {
			s.Kill()
			out := &KillSessionOutput{}
			out.Body.ID = input.ID
			out.Body.State = s.State().String()
			return out, nil
		}
	}
	return nil, huma.Error404NotFound("session not found")
}

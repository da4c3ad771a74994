package handlers

import (
	"context"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"

	"vodarr/internal/stream"
	"vodarr/internal/urlcache"
	"vodarr/internal/version"
)

// HealthHandler serves liveness and version endpoints.
type HealthHandler struct {
	startTime time.Time
	registry  *stream.Registry
	cache     *urlcache.Cache
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(registry *stream.Registry, cache *urlcache.Cache) *HealthHandler {
	return &HealthHandler{
		startTime: time.Now(),
		registry:  registry,
		cache:     cache,
	}
}

// HealthResponse is the health check payload.
type HealthResponse struct {
	Status         string  `json:"status" example:"ok"`
	Version        string  `json:"version" example:"1.2.0"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
	ActiveSessions int     `json:"active_sessions"`
	CachedURLs     int     `json:"cached_urls"`
	Goroutines     int     `json:"goroutines"`
	Load1          float64 `json:"load1,omitempty"`
	MemoryPercent  float64 `json:"memory_percent,omitempty"`
}

// HealthOutput is the health check endpoint output.
type HealthOutput struct {
	Body HealthResponse
}

// VersionOutput is the version endpoint output.
type VersionOutput struct {
	Body version.Info
}

// Register registers the system routes with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/api/v1/health",
		Summary:     "Health check",
		Description: "Returns service health including session and cache counts",
		Tags:        []string{"System"},
	}, h.GetHealth)

	huma.Register(api, huma.Operation{
		OperationID: "getVersion",
		Method:      "GET",
		Path:        "/api/v1/version",
		Summary:     "Version information",
		Tags:        []string{"System"},
	}, h.GetVersion)
}

// GetHealth returns the health status of the service.
func (h *HealthHandler) GetHealth(ctx context.Context, _ *struct{}) (*HealthOutput, error) {
	resp := HealthResponse{
		Status:        "ok",
		Version:       version.GetInfo().Version,
		UptimeSeconds: time.Since(h.startTime).Seconds(),
		Goroutines:    runtime.NumGoroutine(),
	}
	if h.registry != nil {
		resp.ActiveSessions = h.registry.Len()
	}
	if h.cache != nil {
		resp.CachedURLs = h.cache.Len()
	}
	// Host metrics are best-effort.
	if avg, err := load.AvgWithContext(ctx); err == nil {
		resp.Load1 = avg.Load1
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		resp.MemoryPercent = vm.UsedPercent
	}
	return &HealthOutput{Body: resp}, nil
}

// GetVersion returns build version information.
func (h *HealthHandler) GetVersion(ctx context.Context, _ *struct{}) (*VersionOutput, error) {
	return &VersionOutput{Body: version.GetInfo()}, nil
}

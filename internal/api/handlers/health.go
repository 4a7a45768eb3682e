package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/eduard256/tillscan/internal/utils/logger"
)

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Uptime    int64             `json:"uptime"` // seconds
	Timestamp string            `json:"timestamp"`
	System    SystemInfo        `json:"system"`
	Services  map[string]string `json:"services"`
}

// SystemInfo contains system information
type SystemInfo struct {
	GoVersion    string `json:"go_version"`
	NumGoroutine int    `json:"num_goroutines"`
	NumCPU       int    `json:"num_cpu"`
	MemoryMB     uint64 `json:"memory_mb"`
}

var startTime = time.Now()

// HealthHandler handles health check endpoint
type HealthHandler struct {
	version  string
	services func(ctx context.Context) map[string]string
	logger   logger.Logger
}

// NewHealthHandler creates a new health handler. services may be nil.
func NewHealthHandler(version string, services func(ctx context.Context) map[string]string, log logger.Logger) *HealthHandler {
	return &HealthHandler{
		version:  version,
		services: services,
		logger:   log,
	}
}

// ServeHTTP handles health check requests
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.logger.Debug("health check requested", "remote_addr", r.RemoteAddr)

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	services := map[string]string{"api": "running"}
	if h.services != nil {
		for k, v := range h.services(r.Context()) {
			services[k] = v
		}
	}

	response := HealthResponse{
		Status:    "healthy",
		Version:   h.version,
		Uptime:    int64(time.Since(startTime).Seconds()),
		Timestamp: time.Now().Format(time.RFC3339),
		System: SystemInfo{
			GoVersion:    runtime.Version(),
			NumGoroutine: runtime.NumGoroutine(),
			NumCPU:       runtime.NumCPU(),
			MemoryMB:     memStats.Alloc / 1024 / 1024,
		},
		Services: services,
	}

	sendJSON(w, h.logger, http.StatusOK, response)
}

package handlers

import (
	"context"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/mediasift/mediasift/internal/database"
	"github.com/mediasift/mediasift/internal/encoder"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	version   string
	startTime time.Time
	db        *database.DB
	pool      *encoder.Pool
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startTime: time.Now(),
	}
}

// WithDB sets the database connection for health checks.
func (h *HealthHandler) WithDB(db *database.DB) *HealthHandler {
	h.db = db
	return h
}

// WithEncoderPool sets the encoder pool for engine health reporting.
func (h *HealthHandler) WithEncoderPool(pool *encoder.Pool) *HealthHandler {
	h.pool = pool
	return h
}

// Register registers the health routes with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns the health status of the service including system metrics and engine states",
		Tags:        []string{"System"},
	}, h.GetHealth)
}

// CPUInfo contains CPU load information.
type CPUInfo struct {
	Cores     int     `json:"cores"`
	Load1Min  float64 `json:"load_1min"`
	Load5Min  float64 `json:"load_5min"`
	Load15Min float64 `json:"load_15min"`
}

// MemoryInfo contains system and process memory information.
type MemoryInfo struct {
	TotalMB       uint64  `json:"total_mb"`
	UsedMB        uint64  `json:"used_mb"`
	UsedPercent   float64 `json:"used_percent"`
	ProcessAllocMB uint64  `json:"process_alloc_mb"`
}

// DatabaseHealth reports catalog database reachability.
type DatabaseHealth struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// HealthResponse is the health check response body.
type HealthResponse struct {
	Status        string                 `json:"status" enum:"healthy,degraded"`
	Timestamp     string                 `json:"timestamp"`
	Version       string                 `json:"version"`
	Uptime        string                 `json:"uptime"`
	UptimeSeconds float64                `json:"uptime_seconds"`
	CPU           CPUInfo                `json:"cpu"`
	Memory        MemoryInfo             `json:"memory"`
	Database      DatabaseHealth         `json:"database"`
	Engines       []encoder.EngineStatus `json:"engines"`
}

// HealthInput is the input for the health check endpoint.
type HealthInput struct{}

// HealthOutput is the output for the health check endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// GetHealth returns the health status of the service. The overall status is
// degraded when the catalog is unreachable or any configured engine is down.
func (h *HealthHandler) GetHealth(ctx context.Context, input *HealthInput) (*HealthOutput, error) {
	now := time.Now()
	uptime := now.Sub(h.startTime)

	status := "healthy"

	dbHealth := DatabaseHealth{Status: "ok"}
	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			dbHealth = DatabaseHealth{Status: "error", Error: err.Error()}
			status = "degraded"
		}
	}

	engines := []encoder.EngineStatus{}
	if h.pool != nil {
		engines = h.pool.Health()
		for _, e := range engines {
			if e.State == encoder.StateDown {
				status = "degraded"
			}
		}
	}

	return &HealthOutput{
		Body: HealthResponse{
			Status:        status,
			Timestamp:     now.UTC().Format(time.RFC3339),
			Version:       h.version,
			Uptime:        uptime.Round(time.Second).String(),
			UptimeSeconds: uptime.Seconds(),
			CPU:           cpuInfo(),
			Memory:        memoryInfo(),
			Database:      dbHealth,
			Engines:       engines,
		},
	}, nil
}

func cpuInfo() CPUInfo {
	info := CPUInfo{Cores: runtime.NumCPU()}
	if avg, err := load.Avg(); err == nil && avg != nil {
		info.Load1Min = avg.Load1
		info.Load5Min = avg.Load5
		info.Load15Min = avg.Load15
	}
	return info
}

func memoryInfo() MemoryInfo {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	info := MemoryInfo{ProcessAllocMB: stats.Alloc / 1024 / 1024}
	if vm, err := mem.VirtualMemory(); err == nil && vm != nil {
		info.TotalMB = vm.Total / 1024 / 1024
		info.UsedMB = vm.Used / 1024 / 1024
		info.UsedPercent = vm.UsedPercent
	}
	return info
}

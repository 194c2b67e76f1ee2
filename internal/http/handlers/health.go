package handlers

import (
	"context"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"gorm.io/gorm"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	version   string
	startTime time.Time
	db        *gorm.DB
	player    func() string
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{
		version:   version,
		startTime: time.Now(),
	}
}

// WithDB sets the snapshot database used for readiness checks.
func (h *HealthHandler) WithDB(db *gorm.DB) *HealthHandler {
	h.db = db
	return h
}

// WithPlayerState sets a callback reporting the playback state.
func (h *HealthHandler) WithPlayerState(fn func() string) *HealthHandler {
	h.player = fn
	return h
}

// CPUInfo reports host load averages. An overloaded host stutters
// playback long before anything returns an error.
type CPUInfo struct {
	Cores              int     `json:"cores"`
	Load1Min           float64 `json:"load_1min"`
	Load5Min           float64 `json:"load_5min"`
	Load15Min          float64 `json:"load_15min"`
	LoadPercentage1Min float64 `json:"load_percentage_1min"`
}

// MemoryInfo reports host memory usage.
type MemoryInfo struct {
	TotalMemoryMB     float64 `json:"total_memory_mb"`
	UsedMemoryMB      float64 `json:"used_memory_mb"`
	AvailableMemoryMB float64 `json:"available_memory_mb"`
}

// DatabaseHealth reports snapshot-store health.
type DatabaseHealth struct {
	Status         string  `json:"status"`
	ResponseTimeMS float64 `json:"response_time_ms"`
}

// HealthResponse is the full health report.
type HealthResponse struct {
	Status        string         `json:"status"`
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	Uptime        string         `json:"uptime"`
	UptimeSeconds float64        `json:"uptime_seconds"`
	PlayerState   string         `json:"player_state,omitempty"`
	CPUInfo       CPUInfo        `json:"cpu_info"`
	Memory        MemoryInfo     `json:"memory"`
	Database      DatabaseHealth `json:"database"`
}

// HealthInput is the input for the health check endpoint.
type HealthInput struct{}

// HealthOutput is the output for the health check endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// LivezInput is the input for the liveness endpoint.
type LivezInput struct{}

// LivezOutput is the output for the liveness endpoint.
type LivezOutput struct {
	Body struct {
		Status string `json:"status"`
	}
}

// ReadyzInput is the input for the readiness endpoint.
type ReadyzInput struct{}

// ReadyzOutput is the output for the readiness endpoint.
type ReadyzOutput struct {
	Body struct {
		Status     string            `json:"status"`
		Components map[string]string `json:"components"`
	}
}

// Register registers the health routes with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns the health status of the service including system metrics",
		Tags:        []string{"System"},
	}, h.GetHealth)

	huma.Register(api, huma.Operation{
		OperationID: "getLivez",
		Method:      "GET",
		Path:        "/livez",
		Summary:     "Liveness probe",
		Tags:        []string{"System"},
	}, h.GetLivez)

	huma.Register(api, huma.Operation{
		OperationID: "getReadyz",
		Method:      "GET",
		Path:        "/readyz",
		Summary:     "Readiness probe",
		Tags:        []string{"System"},
	}, h.GetReadyz)
}

// GetHealth returns the health status of the service.
func (h *HealthHandler) GetHealth(ctx context.Context, input *HealthInput) (*HealthOutput, error) {
	now := time.Now()
	uptime := now.Sub(h.startTime)

	resp := HealthResponse{
		Status:        "healthy",
		Timestamp:     now.UTC().Format(time.RFC3339),
		Version:       h.version,
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: uptime.Seconds(),
		CPUInfo:       h.getCPUInfo(),
		Memory:        h.getMemoryInfo(),
		Database:      h.getDatabaseHealth(ctx),
	}
	if h.player != nil {
		resp.PlayerState = h.player()
	}
	if resp.Database.Status == "error" {
		resp.Status = "degraded"
	}

	return &HealthOutput{Body: resp}, nil
}

// GetLivez reports process liveness.
func (h *HealthHandler) GetLivez(ctx context.Context, input *LivezInput) (*LivezOutput, error) {
	out := &LivezOutput{}
	out.Body.Status = "ok"
	return out, nil
}

// GetReadyz reports whether the service can accept timeline documents.
func (h *HealthHandler) GetReadyz(ctx context.Context, input *ReadyzInput) (*ReadyzOutput, error) {
	out := &ReadyzOutput{}
	out.Body.Components = map[string]string{}

	if h.db == nil {
		out.Body.Status = "not_ready"
		out.Body.Components["database"] = "not_configured"
		return out, nil
	}

	dbHealth := h.getDatabaseHealth(ctx)
	out.Body.Components["database"] = dbHealth.Status
	if dbHealth.Status == "ok" {
		out.Body.Status = "ready"
	} else {
		out.Body.Status = "not_ready"
	}
	return out, nil
}

func (h *HealthHandler) getCPUInfo() CPUInfo {
	cores := runtime.NumCPU()
	info := CPUInfo{Cores: cores}

	loadAvg, err := load.Avg()
	if err == nil && loadAvg != nil {
		info.Load1Min = loadAvg.Load1
		info.Load5Min = loadAvg.Load5
		info.Load15Min = loadAvg.Load15
		if cores > 0 {
			info.LoadPercentage1Min = (loadAvg.Load1 / float64(cores)) * 100
		}
	}
	return info
}

func (h *HealthHandler) getMemoryInfo() MemoryInfo {
	info := MemoryInfo{}
	vmStat, err := mem.VirtualMemory()
	if err == nil && vmStat != nil {
		info.TotalMemoryMB = float64(vmStat.Total) / 1024 / 1024
		info.UsedMemoryMB = float64(vmStat.Used) / 1024 / 1024
		info.AvailableMemoryMB = float64(vmStat.Available) / 1024 / 1024
	}
	return info
}

func (h *HealthHandler) getDatabaseHealth(ctx context.Context) DatabaseHealth {
	if h.db == nil {
		return DatabaseHealth{Status: "unknown"}
	}

	sqlDB, err := h.db.DB()
	if err != nil {
		return DatabaseHealth{Status: "error"}
	}

	health := DatabaseHealth{Status: "ok"}
	start := time.Now()
	err = sqlDB.PingContext(ctx)
	health.ResponseTimeMS = float64(time.Since(start).Microseconds()) / 1000
	if err != nil {
		health.Status = "error"
	}
	return health
}

package server

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/quantfolio/quantfolio/internal/database"
	"github.com/quantfolio/quantfolio/internal/reliability"
)

// SystemHandlers serves health, host and database introspection endpoints.
type SystemHandlers struct {
	log       zerolog.Logger
	dataDir   string
	databases map[string]*database.DB
	snapshots *reliability.SnapshotService
	startTime time.Time
}

// NewSystemHandlers creates system handlers. snapshots may be nil when
// archiving is disabled.
func NewSystemHandlers(
	log zerolog.Logger,
	dataDir string,
	databases map[string]*database.DB,
	snapshots *reliability.SnapshotService,
) *SystemHandlers {
	return &SystemHandlers{
		log:       log.With().Str("handler", "system").Logger(),
		dataDir:   dataDir,
		databases: databases,
		snapshots: snapshots,
		startTime: time.Now(),
	}
}

// HandleHealth handles GET /health and GET /api/system/health
func (h *SystemHandlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	dbStatus := make(map[string]string, len(h.databases))
	healthy := true
	for name, db := range h.databases {
		if err := db.HealthCheck(r.Context()); err != nil {
			h.log.Error().Str("database", name).Err(err).Msg("Database health check failed")
			dbStatus[name] = "unhealthy"
			healthy = false
			continue
		}
		dbStatus[name] = "ok"
	}

	status := http.StatusOK
	overall := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		overall = "degraded"
	}

	h.writeJSON(w, status, map[string]interface{}{
		"status":         overall,
		"databases":      dbStatus,
		"uptime_seconds": int64(time.Since(h.startTime).Seconds()),
	})
}

// HandleInfo handles GET /api/system/info
func (h *SystemHandlers) HandleInfo(w http.ResponseWriter, r *http.Request) {
	info := map[string]interface{}{
		"go_version": runtime.Version(),
		"goroutines": runtime.NumGoroutine(),
		"num_cpu":    runtime.NumCPU(),
	}

	if hostInfo, err := host.Info(); err == nil {
		info["hostname"] = hostInfo.Hostname
		info["os"] = hostInfo.OS
		info["platform"] = hostInfo.Platform
		info["uptime_seconds"] = hostInfo.Uptime
	} else {
		h.log.Warn().Err(err).Msg("Failed to get host info")
	}

	// 100ms sample keeps the endpoint fast enough for dashboard polling
	if cpuPercent, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(cpuPercent) > 0 {
		info["cpu_percent"] = cpuPercent[0]
	}

	if memStat, err := mem.VirtualMemory(); err == nil {
		info["memory_used_percent"] = memStat.UsedPercent
		info["memory_total_mb"] = float64(memStat.Total) / 1024 / 1024
	}

	h.writeJSON(w, http.StatusOK, info)
}

// HandleDatabaseStats handles GET /api/system/database/stats
func (h *SystemHandlers) HandleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	stats := make(map[string]*database.Stats, len(h.databases))
	for name, db := range h.databases {
		s, err := db.GetStats()
		if err != nil {
			h.log.Error().Str("database", name).Err(err).Msg("Failed to get database stats")
			continue
		}
		stats[name] = s
	}

	h.writeJSON(w, http.StatusOK, stats)
}

// HandleDiskUsage handles GET /api/system/disk
func (h *SystemHandlers) HandleDiskUsage(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"data_dir_mb": h.dirSizeMB(h.dataDir),
	}

	if usage, err := disk.Usage(h.dataDir); err == nil {
		response["volume_total_gb"] = float64(usage.Total) / 1e9
		response["volume_free_gb"] = float64(usage.Free) / 1e9
		response["volume_used_percent"] = usage.UsedPercent
	} else {
		h.log.Warn().Err(err).Msg("Failed to get volume usage")
	}

	h.writeJSON(w, http.StatusOK, response)
}

// HandleListSnapshots handles GET /api/system/snapshots
func (h *SystemHandlers) HandleListSnapshots(w http.ResponseWriter, r *http.Request) {
	if h.snapshots == nil {
		h.writeError(w, http.StatusNotImplemented, "snapshot archiving is not configured")
		return
	}

	snapshots, err := h.snapshots.List(r.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list snapshots")
		h.writeError(w, http.StatusBadGateway, "failed to list snapshots")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"snapshots": snapshots,
		"count":     len(snapshots),
	})
}

// HandleTriggerSnapshot handles POST /api/system/snapshots
func (h *SystemHandlers) HandleTriggerSnapshot(w http.ResponseWriter, r *http.Request) {
	if h.snapshots == nil {
		h.writeError(w, http.StatusNotImplemented, "snapshot archiving is not configured")
		return
	}

	if err := h.snapshots.CreateAndUpload(r.Context()); err != nil {
		h.log.Error().Err(err).Msg("Snapshot failed")
		h.writeError(w, http.StatusBadGateway, "snapshot failed")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "snapshot uploaded",
	})
}

// dirSizeMB calculates total size of a directory in MB
func (h *SystemHandlers) dirSizeMB(dirPath string) float64 {
	var totalSize int64

	err := filepath.Walk(dirPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // Skip unreadable entries
		}
		if !info.IsDir() {
			totalSize += info.Size()
		}
		return nil
	})
	if err != nil {
		h.log.Warn().Err(err).Str("dir", dirPath).Msg("Failed to calculate directory size")
		return 0
	}

	return float64(totalSize) / 1024 / 1024
}

func (h *SystemHandlers) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (h *SystemHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]interface{}{
		"error": message,
	})
}

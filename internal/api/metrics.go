package api

import (
	"database/sql"
	"net/http"
	"runtime"
	"time"
)

// DBStatser is implemented by *sql.DB.
type DBStatser interface {
	Stats() sql.DBStats
}

// SystemMetrics is the /metrics response.
type SystemMetrics struct {
	Timestamp     string            `json:"timestamp"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Runtime       RuntimeMetrics    `json:"runtime"`
	WebSocket     WSMetrics         `json:"websocket"`
	Experiment    ExperimentMetrics `json:"experiment"`
	Database      *DatabaseMetrics  `json:"database,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// ExperimentMetrics summarises the current run.
type ExperimentMetrics struct {
	Status         string `json:"status"`
	Running        bool   `json:"running"`
	Round          int    `json:"round"`
	RemainingShots int    `json:"remaining_shots"`
	TotalShots     int    `json:"total_shots"`
}

// DatabaseMetrics contains connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

const bytesPerMB = 1024 * 1024

// handleMetrics returns process and experiment statistics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	snap := s.experiment.Snapshot()
	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(mem.Alloc) / bytesPerMB,
			MemoryTotalMB: float64(mem.TotalAlloc) / bytesPerMB,
			NumGC:         mem.NumGC,
		},
		WebSocket: WSMetrics{ConnectedClients: s.hub.ClientCount()},
		Experiment: ExperimentMetrics{
			Status:         string(snap.Status),
			Running:        snap.Running,
			Round:          snap.Round,
			RemainingShots: snap.RemainingShots,
			TotalShots:     snap.TotalShots,
		},
	}

	if s.db != nil {
		st := s.db.Stats()
		metrics.Database = &DatabaseMetrics{
			OpenConnections: st.OpenConnections,
			InUse:           st.InUse,
			Idle:            st.Idle,
			WaitCount:       st.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}

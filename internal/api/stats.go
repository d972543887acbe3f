package api

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/nerrad567/litecore/internal/engine"
)

// healthCheckTimeout bounds the reader-path check behind /healthz.
const healthCheckTimeout = 2 * time.Second

// SystemStats is the /stats response.
type SystemStats struct {
	Timestamp     string        `json:"timestamp"`
	Version       string        `json:"version"`
	UptimeSeconds int64         `json:"uptime_seconds"`
	Runtime       RuntimeStats  `json:"runtime"`
	WebSocket     WSStats       `json:"websocket"`
	Pool          PoolStats     `json:"pool"`
	Executor      ExecutorStats `json:"executor"`
	Changes       ChangesStats  `json:"changes"`
}

// RuntimeStats contains Go runtime statistics.
type RuntimeStats struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSStats contains WebSocket hub statistics.
type WSStats struct {
	ConnectedClients int `json:"connected_clients"`
}

// PoolStats contains connection pool statistics.
type PoolStats struct {
	Readers      int    `json:"readers"`
	ReadersInUse int    `json:"readers_in_use"`
	WriterInUse  bool   `json:"writer_in_use"`
	Acquired     uint64 `json:"acquired"`
	Exhausted    uint64 `json:"exhausted"`
	Replaced     uint64 `json:"replaced"`
	FileSize     string `json:"file_size"`
	FileBytes    int64  `json:"file_size_bytes"`
}

// ExecutorStats contains write executor statistics.
type ExecutorStats struct {
	Submitted       uint64 `json:"submitted"`
	Completed       uint64 `json:"completed"`
	Failed          uint64 `json:"failed"`
	BusyRetries     uint64 `json:"busy_retries"`
	ConflictRetries uint64 `json:"conflict_retries"`
	QueueDepth      int    `json:"queue_depth"`
}

// ChangesStats contains change-capture and fan-out statistics.
type ChangesStats struct {
	Captured    uint64 `json:"captured"`
	Published   uint64 `json:"published"`
	Discarded   uint64 `json:"discarded"`
	Pending     int    `json:"pending"`
	Subscribers int    `json:"subscribers"`
	Delivered   uint64 `json:"delivered"`
	Dropped     uint64 `json:"dropped"`
}

// handleHealth runs a trivial query on the reader path.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if _, err := s.engine.Query(ctx, "SELECT 1", nil); err != nil {
		s.logger.Warn("health check failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.version,
	})
}

// handleStats returns engine and runtime statistics.
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	stats := SystemStats{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Runtime: RuntimeStats{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSStats{
			ConnectedClients: s.hub.ClientCount(),
		},
	}
	fillEngineStats(&stats, s.engine.Stats())

	writeJSON(w, http.StatusOK, stats)
}

func fillEngineStats(out *SystemStats, st engine.Stats) {
	out.Pool = PoolStats{
		Readers:      st.Pool.Readers,
		ReadersInUse: st.Pool.ReadersInUse,
		WriterInUse:  st.Pool.WriterInUse,
		Acquired:     st.Pool.Acquired,
		Exhausted:    st.Pool.Exhausted,
		Replaced:     st.Pool.Replaced,
		FileBytes:    st.Pool.FileSizeBytes,
	}
	if st.Pool.FileSizeBytes >= 0 {
		out.Pool.FileSize = humanize.IBytes(uint64(st.Pool.FileSizeBytes))
	}
	out.Executor = ExecutorStats{
		Submitted:       st.Executor.Submitted,
		Completed:       st.Executor.Completed,
		Failed:          st.Executor.Failed,
		BusyRetries:     st.Executor.BusyRetries,
		ConflictRetries: st.Executor.ConflictRetries,
		QueueDepth:      st.Executor.QueueDepth,
	}
	out.Changes = ChangesStats{
		Captured:    st.Bridge.Captured,
		Published:   st.Bridge.Published,
		Discarded:   st.Bridge.Discarded,
		Pending:     st.Bridge.Pending,
		Subscribers: st.Hub.Subscribers,
		Delivered:   st.Hub.Delivered,
		Dropped:     st.Hub.Dropped,
	}
}

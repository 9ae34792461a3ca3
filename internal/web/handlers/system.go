package handlers

import (
	"net/http"
	"os"
	"runtime"
	"time"
)

// Health reports liveness. It is served without authentication.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	h.jsonSuccess(w, "ok", map[string]any{
		"uptime_seconds":    int64(time.Since(h.startedAt).Seconds()),
		"database_state":    h.dbManager.State().String(),
		"primary_connected": h.dbManager.IsPrimaryConnected(),
	})
}

// SystemInfo describes the running process.
func (h *Handlers) SystemInfo(w http.ResponseWriter, r *http.Request) {
	hostname, _ := os.Hostname()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	h.jsonSuccess(w, "ok", map[string]any{
		"version":     h.getVersionInfo(),
		"go_version":  runtime.Version(),
		"os":          runtime.GOOS,
		"arch":        runtime.GOARCH,
		"hostname":    hostname,
		"pid":         os.Getpid(),
		"goroutines":  runtime.NumGoroutine(),
		"heap_bytes":  mem.HeapAlloc,
		"started_at":  h.startedAt.UnixMilli(),
		"connections": h.dbManager.ListConnections(),
	})
}

// AuditStats returns the access token verification counters.
func (h *Handlers) AuditStats(w http.ResponseWriter, r *http.Request) {
	h.jsonSuccess(w, "ok", h.audit.Stats())
}

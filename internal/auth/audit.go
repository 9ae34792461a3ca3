package auth

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Audit event names written to the audit log.
const (
	EventTokenGenerated   = "TOKEN_GENERATED"
	EventTokenLoaded      = "TOKEN_LOADED"
	EventTokenRegenerated = "TOKEN_REGENERATED"
	EventVerifyOK         = "VERIFY_OK"
	EventVerifyFail       = "VERIFY_FAIL"
	EventVerifyError      = "VERIFY_ERROR"
)

const failureWindow = time.Hour

// AuditStats summarizes verification attempts since startup.
type AuditStats struct {
	TotalAttempts          int    `json:"totalAttempts"`
	Success                int    `json:"success"`
	Failed                 int    `json:"failed"`
	LastAttemptTs          *int64 `json:"lastAttemptTs"`
	RecentFailuresLastHour int    `json:"recentFailuresLastHour"`
}

// Auditor appends "ts\tEVENT\tdetail" lines to a file and keeps in-memory
// counters. A nil *Auditor discards everything.
type Auditor struct {
	path string
	now  func() time.Time

	mu             sync.Mutex
	total          int
	success        int
	failed         int
	lastAttempt    time.Time
	recentFailures []time.Time
}

// NewAuditor creates an auditor writing to path. An empty path keeps the
// counters only.
func NewAuditor(path string) *Auditor {
	return &Auditor{path: path, now: time.Now}
}

// Record appends one line to the audit log. Write failures are logged.
func (a *Auditor) Record(event, detail string) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.writeLocked(a.now(), event, detail)
}

// Success counts a successful verification.
func (a *Auditor) Success() {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.attemptLocked()
	a.success++
	a.pruneLocked(now)
	a.writeLocked(now, EventVerifyOK, "success")
}

// Failure counts a failed verification.
func (a *Auditor) Failure(event, detail string) {
	if a == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.attemptLocked()
	a.failed++
	a.recentFailures = append(a.recentFailures, now)
	a.pruneLocked(now)
	a.writeLocked(now, event, detail)
}

// Stats returns the current counters.
func (a *Auditor) Stats() AuditStats {
	if a == nil {
		return AuditStats{}
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	a.pruneLocked(a.now())
	stats := AuditStats{
		TotalAttempts:          a.total,
		Success:                a.success,
		Failed:                 a.failed,
		RecentFailuresLastHour: len(a.recentFailures),
	}
	if !a.lastAttempt.IsZero() {
		ts := a.lastAttempt.UnixMilli()
		stats.LastAttemptTs = &ts
	}
	return stats
}

func (a *Auditor) attemptLocked() time.Time {
	now := a.now()
	a.total++
	a.lastAttempt = now
	return now
}

func (a *Auditor) pruneLocked(now time.Time) {
	kept := a.recentFailures[:0]
	for _, ts := range a.recentFailures {
		if now.Sub(ts) < failureWindow {
			kept = append(kept, ts)
		}
	}
	a.recentFailures = kept
}

func (a *Auditor) writeLocked(ts time.Time, event, detail string) {
	if a.path == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(a.path), 0o755); err != nil {
		log.Warn().Err(err).Str("path", a.path).Msg("Failed to create audit log directory")
		return
	}

	f, err := os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		log.Warn().Err(err).Str("path", a.path).Msg("Failed to open audit log")
		return
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "%d\t%s\t%s\n", ts.UnixMilli(), event, detail); err != nil {
		log.Warn().Err(err).Str("path", a.path).Msg("Failed to write audit log")
	}
}

// Package async runs sync passes in the background of a long-running server
// and tracks their progress for status endpoints.
package async

import (
	"sync"
	"time"

	codesync "github.com/qter21/legal-codes-search-api/internal/sync"
)

// SyncStatus is the scheduler's overall state.
type SyncStatus string

const (
	// StatusIdle means no run has happened yet.
	StatusIdle SyncStatus = "idle"
	// StatusSyncing means a run is in progress.
	StatusSyncing SyncStatus = "syncing"
	// StatusReady means the last run finished.
	StatusReady SyncStatus = "ready"
	// StatusError means the last run failed.
	StatusError SyncStatus = "error"
)

// ProgressSnapshot is an immutable copy of SyncProgress.
type ProgressSnapshot struct {
	Status         string     `json:"status"`
	Stage          string     `json:"stage,omitempty"`
	Mode           string     `json:"mode,omitempty"`
	RunID          string     `json:"run_id,omitempty"`
	Batch          int        `json:"batch"`
	Processed      int        `json:"processed"`
	Committed      int        `json:"committed"`
	Failed         int        `json:"failed"`
	Skipped        int        `json:"skipped"`
	Unchanged      int        `json:"unchanged"`
	Retried        int        `json:"retried"`
	Runs           int        `json:"runs"`
	ElapsedSeconds int        `json:"elapsed_seconds"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	Watermark      *time.Time `json:"watermark,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
}

// SyncProgress is a thread-safe view of the current or last run.
type SyncProgress struct {
	mu  sync.RWMutex
	now func() time.Time

	status     SyncStatus
	stage      codesync.Stage
	mode       codesync.Mode
	report     codesync.Report
	batch      int
	runs       int
	startedAt  time.Time
	finishedAt time.Time
	err        string
}

// NewSyncProgress creates an idle tracker.
func NewSyncProgress() *SyncProgress {
	return &SyncProgress{now: time.Now, status: StatusIdle}
}

// Begin marks the start of a run and clears the previous run's counters.
func (p *SyncProgress) Begin(mode codesync.Mode) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status = StatusSyncing
	p.mode = mode
	p.stage = ""
	p.batch = 0
	p.report = codesync.Report{Mode: mode, PreviousWatermark: p.report.NewWatermark, NewWatermark: p.report.NewWatermark}
	p.startedAt = p.now()
	p.finishedAt = time.Time{}
	p.err = ""
}

// Apply records a pipeline event. It has the shape of codesync.ProgressFunc
// so it can be handed to the orchestrator directly.
func (p *SyncProgress) Apply(ev codesync.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stage = ev.Stage
	if ev.Batch > p.batch {
		p.batch = ev.Batch
	}
	// Per-document failure events carry a stale copy of the totals.
	if ev.Report.Processed() >= p.report.Processed() {
		p.report = ev.Report
	}
}

// Finish records the outcome of a run. report may be nil when the run
// failed before it started.
func (p *SyncProgress) Finish(report *codesync.Report, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.runs++
	p.finishedAt = p.now()
	p.stage = codesync.StageDone
	if report != nil {
		p.report = *report
	}
	if err != nil {
		p.status = StatusError
		p.err = err.Error()
		return
	}
	p.status = StatusReady
}

// IsSyncing reports whether a run is in progress.
func (p *SyncProgress) IsSyncing() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status == StatusSyncing
}

// Snapshot returns a copy of the current state.
func (p *SyncProgress) Snapshot() ProgressSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()

	snap := ProgressSnapshot{
		Status:       string(p.status),
		Stage:        string(p.stage),
		Mode:         string(p.mode),
		RunID:        p.report.RunID,
		Batch:        p.batch,
		Processed:    p.report.Processed(),
		Committed:    p.report.Committed,
		Failed:       p.report.Failed,
		Skipped:      p.report.Skipped,
		Unchanged:    p.report.Unchanged,
		Retried:      p.report.Retried,
		Runs:         p.runs,
		ErrorMessage: p.err,
	}
	if !p.startedAt.IsZero() {
		started := p.startedAt
		snap.StartedAt = &started
		end := p.now()
		if !p.finishedAt.IsZero() {
			finished := p.finishedAt
			snap.FinishedAt = &finished
			end = finished
		}
		snap.ElapsedSeconds = int(end.Sub(started).Seconds())
	}
	if !p.report.NewWatermark.IsZero() {
		wm := p.report.NewWatermark
		snap.Watermark = &wm
	}
	return snap
}

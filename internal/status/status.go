// Package status gathers the health of the indexes and the sync state of a
// target into one snapshot for the CLI, HTTP and MCP surfaces.
package status

import (
	"context"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/qter21/legal-codes-search-api/internal/embed"
	"github.com/qter21/legal-codes-search-api/internal/store"
)

// StateReader is the read side of the sync state store.
type StateReader interface {
	GetWatermark(ctx context.Context, target string) (store.Watermark, bool, error)
	RecentRuns(ctx context.Context, target string, limit int) ([]store.RunRecord, error)
	FailedDocuments(ctx context.Context, target string, maxAttempts int) ([]store.FailedDocument, error)
	ExhaustedFailures(ctx context.Context, target string, maxAttempts int) ([]store.FailedDocument, error)
	Ping(ctx context.Context) error
}

// DocumentCounter reports the lexical index size.
type DocumentCounter interface {
	Count() (uint64, error)
}

// VectorStatter reports vector index occupancy.
type VectorStatter interface {
	Stats() store.VectorStats
}

// Paths locates the on-disk artifacts whose sizes are reported.
type Paths struct {
	Lexical string
	Vector  string
	State   string
}

// Collector builds snapshots. Lexical, Vector and Embedder are optional. With
// MaxFailedAttempts unset every failure record counts as pending.
type Collector struct {
	Target            string
	MaxFailedAttempts int
	State             StateReader
	Lexical           DocumentCounter
	Vector            VectorStatter
	Embedder          embed.Embedder
	Paths             Paths
}

// Snapshot describes the indexes and sync state of one target.
type Snapshot struct {
	Target    string    `json:"target"`
	Documents uint64    `json:"documents"`
	Vectors   int       `json:"vectors"`
	Orphans   int       `json:"orphans"`
	Watermark time.Time `json:"watermark"`

	LastRun *Run `json:"last_run,omitempty"`

	PendingFailures   int `json:"pending_failures"`
	ExhaustedFailures int `json:"exhausted_failures"`

	LexicalSize int64 `json:"lexical_size"`
	VectorSize  int64 `json:"vector_size"`
	StateSize   int64 `json:"state_size"`

	EmbedderType   string `json:"embedder_type"`
	EmbedderModel  string `json:"embedder_model,omitempty"`
	EmbedderStatus string `json:"embedder_status"`
	Dimensions     int    `json:"dimensions"`
}

// Run summarizes one sync run.
type Run struct {
	ID         string    `json:"id"`
	Mode       string    `json:"mode"`
	Status     string    `json:"status"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`
	Committed  int       `json:"committed"`
	Failed     int       `json:"failed"`
	Error      string    `json:"error,omitempty"`
}

// RunFromRecord converts a stored run.
func RunFromRecord(r store.RunRecord) Run {
	return Run{
		ID:         r.RunID,
		Mode:       r.Mode,
		Status:     r.Status,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Committed:  r.Committed,
		Failed:     r.Failed,
		Error:      r.Error,
	}
}

// Failures lists failure records split by the retry cap.
type Failures struct {
	Target    string                 `json:"target"`
	Pending   []store.FailedDocument `json:"pending"`
	Exhausted []store.FailedDocument `json:"exhausted"`
}

// Collect builds a snapshot. State store errors are returned; index and
// embedder problems are reported in the snapshot.
func (c *Collector) Collect(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{Target: c.Target}

	wm, ok, err := c.State.GetWatermark(ctx, c.Target)
	if err != nil {
		return nil, err
	}
	if ok {
		snap.Watermark = wm.LastSyncedAt
	}

	runs, err := c.State.RecentRuns(ctx, c.Target, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) > 0 {
		run := RunFromRecord(runs[0])
		snap.LastRun = &run
	}

	failures, err := c.Failures(ctx)
	if err != nil {
		return nil, err
	}
	snap.PendingFailures = len(failures.Pending)
	snap.ExhaustedFailures = len(failures.Exhausted)

	if c.Lexical != nil {
		if n, err := c.Lexical.Count(); err == nil {
			snap.Documents = n
		}
	}
	if c.Vector != nil {
		st := c.Vector.Stats()
		snap.Vectors = st.Live
		snap.Orphans = st.Orphans
	}

	snap.LexicalSize = pathSize(c.Paths.Lexical)
	snap.VectorSize = pathSize(c.Paths.Vector)
	snap.StateSize = pathSize(c.Paths.State)

	snap.EmbedderType, snap.EmbedderModel, snap.EmbedderStatus = "none", "", "unavailable"
	if c.Embedder != nil {
		snap.EmbedderModel = c.Embedder.ModelName()
		snap.Dimensions = c.Embedder.Dimensions()
		snap.EmbedderType = "openai"
		if _, static := c.Embedder.(*embed.StaticEmbedder); static {
			snap.EmbedderType = "static"
		}
		snap.EmbedderStatus = "offline"
		if c.Embedder.Available(ctx) {
			snap.EmbedderStatus = "ready"
		}
	}
	return snap, nil
}

// Failures returns the failure records of the target.
func (c *Collector) Failures(ctx context.Context) (*Failures, error) {
	pending, err := c.State.FailedDocuments(ctx, c.Target, c.MaxFailedAttempts)
	if err != nil {
		return nil, err
	}
	var exhausted []store.FailedDocument
	if c.MaxFailedAttempts > 0 {
		exhausted, err = c.State.ExhaustedFailures(ctx, c.Target, c.MaxFailedAttempts)
		if err != nil {
			return nil, err
		}
	}
	if pending == nil {
		pending = []store.FailedDocument{}
	}
	if exhausted == nil {
		exhausted = []store.FailedDocument{}
	}
	return &Failures{Target: c.Target, Pending: pending, Exhausted: exhausted}, nil
}

// Health is a liveness summary.
type Health struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// Health pings the state store and reports "ok" or "degraded".
func (c *Collector) Health(ctx context.Context) Health {
	h := Health{Status: "ok", Checks: map[string]string{"state": "ok"}}
	if err := c.State.Ping(ctx); err != nil {
		h.Status = "degraded"
		h.Checks["state"] = err.Error()
	}
	if c.Lexical != nil {
		if _, err := c.Lexical.Count(); err != nil {
			h.Status = "degraded"
			h.Checks["lexical"] = err.Error()
		} else {
			h.Checks["lexical"] = "ok"
		}
	}
	return h
}

// pathSize sums regular file sizes under path. Missing paths count as 0.
func pathSize(path string) int64 {
	if path == "" {
		return 0
	}
	var total int64
	_ = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type().IsRegular() {
			if info, err := d.Info(); err == nil {
				total += info.Size()
			}
		}
		return nil
	})
	return total
}

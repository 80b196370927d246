package ui

import (
	"sync"
	"time"
)

// speedInterval is the minimum spacing between throughput samples.
const speedInterval = 500 * time.Millisecond

// ProgressTracker accumulates progress across a run. It is safe for
// concurrent use.
type ProgressTracker struct {
	mu        sync.RWMutex
	now       func() time.Time
	stage     Stage
	batch     int
	documents int
	processed int
	committed int
	failed    int
	message   string
	startTime time.Time
	errors    []ErrorEvent
	warnings  []ErrorEvent

	lastProcessed int
	lastSample    time.Time
	speed         float64
	avgSpeed      float64
	peakSpeed     float64
	samples       int
	sparkline     *Sparkline
}

// SpeedStats holds documents-per-second figures.
type SpeedStats struct {
	Current float64
	Avg     float64
	Peak    float64
}

// ProgressStats is a snapshot of a tracker.
type ProgressStats struct {
	Stage      Stage
	Batch      int
	Documents  int
	Processed  int
	Committed  int
	Failed     int
	Message    string
	Elapsed    time.Duration
	ErrorCount int
	WarnCount  int
	Speed      SpeedStats
}

// NewProgressTracker creates a tracker starting in StageReading.
func NewProgressTracker() *ProgressTracker {
	return newProgressTracker(time.Now)
}

func newProgressTracker(now func() time.Time) *ProgressTracker {
	t := now()
	return &ProgressTracker{
		now:        now,
		stage:      StageReading,
		startTime:  t,
		lastSample: t,
		sparkline:  NewSparkline(60),
	}
}

// Apply folds an event into the tracker.
func (p *ProgressTracker) Apply(ev ProgressEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stage = ev.Stage
	p.batch = ev.Batch
	p.documents = ev.Documents
	p.message = ev.Message
	if ev.Processed >= p.processed {
		p.processed = ev.Processed
		p.committed = ev.Committed
		p.failed = ev.Failed
	}
	p.sampleLocked()
}

// sampleLocked updates throughput figures at most once per speedInterval.
func (p *ProgressTracker) sampleLocked() {
	now := p.now()
	elapsed := now.Sub(p.lastSample)
	if elapsed < speedInterval {
		return
	}
	delta := p.processed - p.lastProcessed
	p.lastProcessed = p.processed
	p.lastSample = now
	if delta <= 0 {
		return
	}

	speed := float64(delta) / elapsed.Seconds()
	p.speed = speed
	p.samples++
	if p.samples == 1 {
		p.avgSpeed = speed
	} else {
		p.avgSpeed = 0.2*speed + 0.8*p.avgSpeed
	}
	p.peakSpeed = max(p.peakSpeed, speed)
	p.sparkline.Add(speed)
}

// AddError records an error or warning.
func (p *ProgressTracker) AddError(ev ErrorEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ev.IsWarn {
		p.warnings = append(p.warnings, ev)
	} else {
		p.errors = append(p.errors, ev)
	}
}

// Complete moves the tracker to StageComplete.
func (p *ProgressTracker) Complete() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stage = StageComplete
}

// Stats returns a snapshot.
func (p *ProgressTracker) Stats() ProgressStats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return ProgressStats{
		Stage:      p.stage,
		Batch:      p.batch,
		Documents:  p.documents,
		Processed:  p.processed,
		Committed:  p.committed,
		Failed:     p.failed,
		Message:    p.message,
		Elapsed:    p.now().Sub(p.startTime),
		ErrorCount: len(p.errors),
		WarnCount:  len(p.warnings),
		Speed:      SpeedStats{Current: p.speed, Avg: p.avgSpeed, Peak: p.peakSpeed},
	}
}

// SuccessRatio is committed over processed, or 1 before anything was
// processed.
func (p *ProgressTracker) SuccessRatio() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.processed == 0 {
		return 1
	}
	return float64(p.committed) / float64(p.processed)
}

// Errors returns a copy of the recorded errors.
func (p *ProgressTracker) Errors() []ErrorEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]ErrorEvent(nil), p.errors...)
}

// Warnings returns a copy of the recorded warnings.
func (p *ProgressTracker) Warnings() []ErrorEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]ErrorEvent(nil), p.warnings...)
}

// RenderSparkline draws the throughput history.
func (p *ProgressTracker) RenderSparkline(width int) string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sparkline.Render(width)
}

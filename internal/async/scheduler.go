package async

import (
	"context"
	"log/slog"
	"sync"
	"time"

	apperrors "github.com/qter21/legal-codes-search-api/internal/errors"
	codesync "github.com/qter21/legal-codes-search-api/internal/sync"
)

// RunFunc performs one sync pass.
type RunFunc func(ctx context.Context, mode codesync.Mode) (*codesync.Report, error)

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	// Interval between incremental runs. Zero runs only on Trigger.
	Interval time.Duration
	// RunOnStart queues an incremental run as soon as the scheduler starts.
	RunOnStart bool
	Logger     *slog.Logger
}

// Scheduler runs sync passes on a background goroutine, one at a time.
// Triggers that arrive during a run are coalesced into a single follow-up
// run; a queued full run wins over a queued incremental one.
type Scheduler struct {
	config   SchedulerConfig
	run      RunFunc
	progress *SyncProgress
	logger   *slog.Logger

	wakeCh chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}

	mu      sync.Mutex
	started bool
	stopped bool
	pending *codesync.Mode
	last    *codesync.Report
	lastErr error
}

// NewScheduler creates a scheduler for run.
func NewScheduler(run RunFunc, cfg SchedulerConfig) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		config:   cfg,
		run:      run,
		progress: NewSyncProgress(),
		logger:   logger,
		wakeCh:   make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Progress returns the tracker the scheduler updates. Pass its Apply method
// to the orchestrator as the progress callback.
func (s *Scheduler) Progress() *SyncProgress {
	return s.progress
}

// Start begins the scheduling loop. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	if s.config.RunOnStart {
		s.Trigger(codesync.ModeIncremental)
	}
	go s.loop(ctx)
}

// Trigger queues a run. It returns false when a run of at least the same
// scope is already queued or the scheduler is stopped.
func (s *Scheduler) Trigger(mode codesync.Mode) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return false
	}
	if s.pending != nil && (*s.pending == mode || *s.pending == codesync.ModeFull) {
		return false
	}
	s.pending = &mode

	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
	return true
}

// Stop cancels any running pass and waits for the loop to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.stopped = true
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()

	close(s.stopCh)
	<-s.doneCh
}

// Last returns the report and error of the most recent run.
func (s *Scheduler) Last() (*codesync.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.lastErr
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.doneCh)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	var tick <-chan time.Time
	if s.config.Interval > 0 {
		ticker := time.NewTicker(s.config.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			s.Trigger(codesync.ModeIncremental)
		case <-s.wakeCh:
			if mode, ok := s.takePending(); ok {
				s.runOnce(ctx, mode)
			}
		}
	}
}

func (s *Scheduler) takePending() (codesync.Mode, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return "", false
	}
	mode := *s.pending
	s.pending = nil
	return mode, true
}

func (s *Scheduler) runOnce(ctx context.Context, mode codesync.Mode) {
	s.progress.Begin(mode)
	report, err := s.run(ctx, mode)

	if apperrors.HasCode(err, apperrors.ErrCodeSyncLeaseHeld) {
		// Another process is syncing; its result will show up in the state store.
		s.logger.Info("scheduled_sync_skipped", slog.String("mode", string(mode)), slog.String("reason", "lease held"))
		s.progress.Finish(nil, nil)
		return
	}
	s.progress.Finish(report, err)

	s.mu.Lock()
	s.last, s.lastErr = report, err
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("scheduled_sync_failed", slog.String("mode", string(mode)), slog.String("error", err.Error()))
		return
	}
	if report == nil {
		return
	}
	s.logger.Info("scheduled_sync_completed",
		slog.String("mode", string(mode)),
		slog.Int("committed", report.Committed),
		slog.Int("failed", report.Failed),
		slog.Duration("duration", report.Duration))
}

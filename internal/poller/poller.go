// Package poller advances tracked jobs to a terminal status by periodically
// asking the backend about their remote handle.
package poller

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/creator-suite/internal/clock/system"
	"github.com/JakeFAU/creator-suite/internal/events"
	"github.com/JakeFAU/creator-suite/internal/metrics"
	"github.com/JakeFAU/creator-suite/internal/suite"
)

// Checker queries the backend for the status of a remote handle.
type Checker interface {
	Status(ctx context.Context, handle string) (suite.StatusReport, error)
	MovieStatus(ctx context.Context, jobID string) (suite.StatusReport, error)
}

// Store is the subset of the job store a poller reads and writes.
type Store interface {
	Get(id string) (suite.Job, bool)
	UpdateJobStatus(ctx context.Context, id string, status suite.JobStatus, result map[string]any) error
}

// Clock reports the time and creates tickers; tests substitute a fake.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) suite.Ticker
}

// Config tunes polling cadence and failure handling.
type Config struct {
	// Interval between status checks for video jobs (default 5s).
	Interval time.Duration
	// DirectorInterval between movie status checks (default 3s).
	DirectorInterval time.Duration
	// RequestTimeout bounds each status check (default 30s).
	RequestTimeout time.Duration
	// MaxTransportFailures stops a poller after this many consecutive
	// transport errors, leaving the job status unchanged. Zero retries forever.
	MaxTransportFailures int
	Clock                Clock
	Logger               *zap.Logger
}

// Defaults applied by New.
const (
	DefaultInterval         = 5 * time.Second
	DefaultDirectorInterval = 3 * time.Second
	DefaultRequestTimeout   = 30 * time.Second
)

// Notification texts shown on terminal transitions.
const (
	MessageVideoComplete = "Video generation complete!"
	MessageMovieComplete = "Movie production complete!"
	MessageJobFailed     = "Job failed"
)

// Poller starts one status loop per job. It holds no per-job state, so a
// single Poller serves every job.
type Poller struct {
	cfg      Config
	checker  Checker
	store    Store
	notifier events.Emitter
	logger   *zap.Logger
}

// New builds a Poller.
func New(cfg Config, checker Checker, store Store, notifier events.Emitter) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.DirectorInterval <= 0 {
		cfg.DirectorInterval = DefaultDirectorInterval
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = system.New()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = events.Discard{}
	}
	return &Poller{cfg: cfg, checker: checker, store: store, notifier: notifier, logger: logger}
}

// Handle controls one running poll loop.
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Stop cancels the loop and waits for it to exit. It is idempotent.
func (h *Handle) Stop() {
	if h == nil {
		return
	}
	h.cancel()
	<-h.done
}

// Done is closed once the loop has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Start launches the poll loop for job. The loop ends when the job reaches a
// terminal status, disappears from the store, ctx is canceled, or Stop is
// called. A job without a remote handle never issues a request.
func (p *Poller) Start(ctx context.Context, job suite.Job) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		defer cancel()
		metrics.IncActivePollers()
		defer metrics.DecActivePollers()
		p.run(ctx, job.ID)
	}()
	return h
}

func (p *Poller) run(ctx context.Context, jobID string) {
	job, ok := p.store.Get(jobID)
	if !ok || job.Status.Terminal() {
		return
	}
	handle := job.Handle()
	if handle == "" {
		p.logger.Debug("job has no remote handle, not polling", zap.String("job_id", jobID))
		return
	}
	logger := p.logger.With(zap.String("job_id", jobID), zap.String("handle", handle))
	loop := &loop{poller: p, jobID: jobID, jobType: job.Type, handle: handle, submitted: job.Timestamp, logger: logger}

	if loop.check(ctx) {
		return
	}
	ticker := p.cfg.Clock.NewTicker(p.intervalFor(job.Type))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			if loop.check(ctx) {
				return
			}
		}
	}
}

func (p *Poller) intervalFor(t suite.JobType) time.Duration {
	if t == suite.TypeDirectorMovie {
		return p.cfg.DirectorInterval
	}
	return p.cfg.Interval
}

// loop carries the state of one job's polling. Checks run inline on the loop
// goroutine, so a slow response delays the next check instead of overlapping
// it; ticks that fire meanwhile are dropped by the ticker.
type loop struct {
	poller    *Poller
	jobID     string
	jobType   suite.JobType
	handle    string
	submitted time.Time
	failures  int
	logger    *zap.Logger
}

// check runs one status request and reports whether polling should stop.
func (l *loop) check(ctx context.Context) bool {
	p := l.poller
	if ctx.Err() != nil {
		return true
	}
	job, ok := p.store.Get(l.jobID)
	if !ok {
		l.logger.Debug("job removed, stopping poller")
		return true
	}
	if job.Status.Terminal() {
		return true
	}

	reqCtx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	report, err := l.fetch(reqCtx)
	cancel()
	if err != nil {
		return l.transportFailure(ctx, err)
	}
	l.failures = 0

	switch report.State {
	case suite.RemoteSucceeded:
		result := suite.MergeResult(report.Payload, map[string]any{l.jobType.HandleKey(): l.handle})
		if !l.update(ctx, suite.StatusCompleted, result) {
			return true
		}
		l.emit(events.StageJobCompleted, l.successMessage())
		return true
	case suite.RemoteFailed:
		msg := report.Message
		if msg == "" {
			msg = MessageJobFailed
		}
		if !l.update(ctx, suite.StatusFailed, report.Payload) {
			return true
		}
		l.emit(events.StageJobFailed, msg)
		return true
	default:
		// Only director jobs carry progress worth recording between checks.
		if l.jobType == suite.TypeDirectorMovie && report.Payload != nil {
			l.update(ctx, suite.StatusProcessing, report.Payload)
		}
		return false
	}
}

func (l *loop) fetch(ctx context.Context) (suite.StatusReport, error) {
	if l.jobType == suite.TypeDirectorMovie {
		return l.poller.checker.MovieStatus(ctx, l.handle)
	}
	return l.poller.checker.Status(ctx, l.handle)
}

func (l *loop) transportFailure(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	l.failures++
	l.logger.Warn("status check failed", zap.Int("consecutive_failures", l.failures), zap.Error(err))
	l.poller.notifier.Emit(events.Event{
		JobID:   l.jobID,
		TS:      l.poller.cfg.Clock.Now(),
		Stage:   events.StagePollError,
		JobType: l.jobType,
		Handle:  l.handle,
		Message: err.Error(),
	})
	limit := l.poller.cfg.MaxTransportFailures
	if limit > 0 && l.failures >= limit {
		l.logger.Error("giving up on job after repeated status check failures", zap.Int("failures", l.failures))
		return true
	}
	return false
}

// update writes a transition and reports whether it was applied.
func (l *loop) update(ctx context.Context, status suite.JobStatus, result map[string]any) bool {
	err := l.poller.store.UpdateJobStatus(context.WithoutCancel(ctx), l.jobID, status, result)
	if errors.Is(err, suite.ErrInvalidTransition) {
		l.logger.Debug("job already settled elsewhere", zap.Error(err))
		return false
	}
	if err != nil {
		l.logger.Warn("failed to update job status", zap.Error(err))
		return false
	}
	return true
}

func (l *loop) emit(stage events.Stage, msg string) {
	now := l.poller.cfg.Clock.Now()
	var dur time.Duration
	if !l.submitted.IsZero() && now.After(l.submitted) {
		dur = now.Sub(l.submitted)
	}
	l.poller.notifier.Emit(events.Event{
		JobID:   l.jobID,
		TS:      now,
		Stage:   stage,
		JobType: l.jobType,
		Handle:  l.handle,
		Message: msg,
		Dur:     dur,
	})
}

func (l *loop) successMessage() string {
	if l.jobType == suite.TypeDirectorMovie {
		return MessageMovieComplete
	}
	return MessageVideoComplete
}

// Package tracker turns a submission into a tracked job: it records the job
// optimistically, sends it to the backend, and hands asynchronous jobs to the
// poller.
package tracker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/creator-suite/internal/events"
	"github.com/JakeFAU/creator-suite/internal/gateway"
	"github.com/JakeFAU/creator-suite/internal/suite"
)

// Notification texts.
const (
	MessageBackendError  = "Backend returned an error"
	MessageImageComplete = "Image generation complete!"
	MessageSubmitFailed  = "Failed to submit job"
	MessageSubmitted     = "Job submitted"
)

// Gateway is the backend surface the tracker needs.
type Gateway interface {
	Submit(ctx context.Context, t suite.JobType, form suite.Form) (gateway.SubmitResponse, error)
	ApproveScript(ctx context.Context, jobID string, scenes []map[string]any) (map[string]any, error)
}

// Store is the job collection the tracker writes to.
type Store interface {
	AddJob(ctx context.Context, job suite.Job) error
	UpdateJobStatus(ctx context.Context, id string, status suite.JobStatus, result map[string]any) error
	Get(id string) (suite.Job, bool)
}

// Poller starts status polling for a job.
type Poller interface {
	Track(job suite.Job)
}

// Config wires the tracker's supporting services.
type Config struct {
	Clock  suite.Clock
	IDs    suite.IDGenerator
	Logger *zap.Logger
}

// Service submits and tracks jobs.
type Service struct {
	gateway  Gateway
	store    Store
	poller   Poller
	notifier events.Emitter
	clock    suite.Clock
	ids      suite.IDGenerator
	logger   *zap.Logger
}

// New builds a Service. Clock and IDs are required.
func New(cfg Config, gw Gateway, store Store, poller Poller, notifier events.Emitter) (*Service, error) {
	if cfg.Clock == nil {
		return nil, errors.New("clock is required")
	}
	if cfg.IDs == nil {
		return nil, errors.New("id generator is required")
	}
	if notifier == nil {
		notifier = events.Discard{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		gateway:  gw,
		store:    store,
		poller:   poller,
		notifier: notifier,
		clock:    cfg.Clock,
		ids:      cfg.IDs,
		logger:   logger.Named("tracker"),
	}, nil
}

// Submit validates form, records a processing job, and sends it to the
// backend. Invalid forms return a *suite.ValidationError and record nothing.
// Backend failures leave the job failed and are returned as the error.
func (s *Service) Submit(ctx context.Context, t suite.JobType, form suite.Form) (suite.Job, error) {
	if err := t.Validate(form); err != nil {
		return suite.Job{}, err
	}
	id, err := s.ids.NewID()
	if err != nil {
		return suite.Job{}, fmt.Errorf("allocate job id: %w", err)
	}
	job := suite.Job{
		ID:        id,
		Type:      t,
		Status:    suite.StatusProcessing,
		Prompt:    promptOf(t, form),
		Timestamp: s.clock.Now(),
		Settings:  form.Settings(),
	}
	if err := s.store.AddJob(ctx, job); err != nil {
		return suite.Job{}, fmt.Errorf("record job: %w", err)
	}
	logger := s.logger.With(zap.String("job_id", id), zap.String("type", string(t)))
	logger.Info("job submitted")
	s.emit(job, events.StageJobSubmitted, MessageSubmitted)

	resp, err := s.gateway.Submit(ctx, t, form)
	if err != nil {
		detail := submitDetail(err)
		logger.Warn("submission failed", zap.Error(err))
		s.fail(ctx, job, map[string]any{suite.ResultMessage: detail}, detail)
		return s.current(job), fmt.Errorf("submit %s: %w", t, err)
	}
	if !resp.OK {
		logger.Warn("backend rejected submission", zap.Any("payload", resp.Payload))
		s.fail(ctx, job, suite.MergeResult(resp.Payload, map[string]any{suite.ResultMessage: MessageBackendError}), MessageBackendError)
		return s.current(job), errors.New(MessageBackendError)
	}

	if !t.Polled() {
		if err := s.store.UpdateJobStatus(ctx, id, suite.StatusCompleted, resp.Payload); err != nil {
			logger.Warn("failed to complete job", zap.Error(err))
		}
		s.emit(job, events.StageJobCompleted, MessageImageComplete)
		return s.current(job), nil
	}

	if err := s.store.UpdateJobStatus(ctx, id, suite.StatusProcessing, resp.Payload); err != nil {
		logger.Warn("failed to record submission response", zap.Error(err))
	}
	updated := s.current(job)
	if updated.Handle() == "" {
		logger.Warn("backend returned no polling handle; job will not be polled")
		return updated, nil
	}
	if s.poller != nil {
		s.poller.Track(updated)
	}
	return updated, nil
}

// ApproveScript approves the generated script of a tracked director job.
func (s *Service) ApproveScript(ctx context.Context, id string, scenes []map[string]any) (suite.Job, error) {
	job, ok := s.store.Get(id)
	if !ok {
		return suite.Job{}, fmt.Errorf("%w: %s", suite.ErrJobNotFound, id)
	}
	if job.Type != suite.TypeDirectorMovie {
		return job, fmt.Errorf("job %s is %s, not a director movie", id, job.Type)
	}
	handle := job.Handle()
	if handle == "" {
		return job, fmt.Errorf("job %s has no director job id", id)
	}
	payload, err := s.gateway.ApproveScript(ctx, handle, scenes)
	if err != nil {
		return job, fmt.Errorf("approve script: %w", err)
	}
	if err := s.store.UpdateJobStatus(ctx, id, suite.StatusProcessing, payload); err != nil {
		return s.current(job), err
	}
	return s.current(job), nil
}

// RecordExternal tracks a job produced outside the submission flow. Signed-in
// sessions mirror it to the backend history.
func (s *Service) RecordExternal(ctx context.Context, prompt string, status suite.JobStatus, result map[string]any) (suite.Job, error) {
	if !status.Valid() {
		return suite.Job{}, fmt.Errorf("invalid status %q", status)
	}
	id, err := s.ids.NewID()
	if err != nil {
		return suite.Job{}, fmt.Errorf("allocate job id: %w", err)
	}
	job := suite.Job{
		ID:        id,
		Type:      suite.TypeExternal,
		Status:    status,
		Prompt:    prompt,
		Timestamp: s.clock.Now(),
		Result:    suite.CloneMap(result),
	}
	if err := s.store.AddJob(ctx, job); err != nil {
		return suite.Job{}, fmt.Errorf("record job: %w", err)
	}
	return job, nil
}

func (s *Service) fail(ctx context.Context, job suite.Job, result map[string]any, msg string) {
	if err := s.store.UpdateJobStatus(ctx, job.ID, suite.StatusFailed, result); err != nil {
		s.logger.Warn("failed to mark job failed", zap.String("job_id", job.ID), zap.Error(err))
	}
	s.emit(job, events.StageJobFailed, msg)
}

func (s *Service) emit(job suite.Job, stage events.Stage, msg string) {
	now := s.clock.Now()
	dur := now.Sub(job.Timestamp)
	if stage == events.StageJobSubmitted || dur < 0 {
		dur = 0
	}
	s.notifier.Emit(events.Event{
		JobID:   job.ID,
		TS:      now,
		Stage:   stage,
		JobType: job.Type,
		Message: msg,
		Dur:     dur,
	})
}

// current re-reads job from the store, falling back to the given copy when it
// has been evicted.
func (s *Service) current(job suite.Job) suite.Job {
	if latest, ok := s.store.Get(job.ID); ok {
		return latest
	}
	return job
}

// submitDetail returns the backend's diagnostic for err, or a generic
// message when the request never produced a backend response.
func submitDetail(err error) string {
	var apiErr *gateway.APIError
	if errors.As(err, &apiErr) && apiErr.Detail != "" {
		return apiErr.Detail
	}
	return MessageSubmitFailed
}

func promptOf(t suite.JobType, form suite.Form) string {
	if t == suite.TypeDirectorMovie {
		return form.Value("topic")
	}
	return form.Value("prompt")
}

package tracker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/creator-suite/internal/events"
	"github.com/JakeFAU/creator-suite/internal/gateway"
	"github.com/JakeFAU/creator-suite/internal/jobs"
	"github.com/JakeFAU/creator-suite/internal/suite"
)

type fakeGateway struct {
	mu       sync.Mutex
	resp     gateway.SubmitResponse
	err      error
	submits  int
	approved []string
}

func (f *fakeGateway) Submit(context.Context, suite.JobType, suite.Form) (gateway.SubmitResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	return f.resp, f.err
}

func (f *fakeGateway) ApproveScript(_ context.Context, jobID string, _ []map[string]any) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.approved = append(f.approved, jobID)
	return map[string]any{"status": "filming"}, nil
}

type fakePoller struct {
	mu      sync.Mutex
	tracked []suite.Job
}

func (f *fakePoller) Track(job suite.Job) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracked = append(f.tracked, job)
}

type recorder struct {
	mu  sync.Mutex
	evs []events.Event
}

func (r *recorder) Emit(ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evs = append(r.evs, ev)
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("job-%d", s.n), nil
}

type harness struct {
	svc     *Service
	store   *jobs.Store
	gw      *fakeGateway
	poller  *fakePoller
	events  *recorder
	started time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:   jobs.New(jobs.Config{}, nil, jobs.Remote{}),
		gw:      &fakeGateway{},
		poller:  &fakePoller{},
		events:  &recorder{},
		started: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	svc, err := New(Config{Clock: fixedClock{now: h.started}, IDs: &seqIDs{}}, h.gw, h.store, h.poller, h.events)
	require.NoError(t, err)
	h.svc = svc
	return h
}

func promptForm(prompt string) suite.Form {
	form := suite.NewForm()
	form.Set("prompt", prompt)
	form.Set("model", "veo-3.0")
	return form
}

func TestSubmitVideoStartsPolling(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.gw.resp = gateway.SubmitResponse{
		OK:            true,
		OperationName: "op-123",
		Payload:       map[string]any{"ok": true, "operation_name": "op-123"},
	}

	job, err := h.svc.Submit(context.Background(), suite.TypeTextToVideo, promptForm("a cat surfing"))
	require.NoError(t, err)
	require.Equal(t, "job-1", job.ID)
	require.Equal(t, suite.StatusProcessing, job.Status)
	require.Equal(t, "a cat surfing", job.Prompt)
	require.Equal(t, map[string]any{"model": "veo-3.0"}, job.Settings)
	require.Equal(t, "op-123", job.Handle())
	require.Equal(t, h.started, job.Timestamp)

	require.Len(t, h.poller.tracked, 1)
	require.Equal(t, "op-123", h.poller.tracked[0].Handle())
	require.Len(t, h.events.evs, 1)
	require.Equal(t, events.StageJobSubmitted, h.events.evs[0].Stage)
}

func TestSubmitFailureRecordsDetail(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.gw.err = &gateway.APIError{StatusCode: http.StatusInternalServerError, Detail: "quota exceeded"}

	job, err := h.svc.Submit(context.Background(), suite.TypeTextToVideo, promptForm("x"))
	require.Error(t, err)
	var apiErr *gateway.APIError
	require.ErrorAs(t, err, &apiErr)

	require.Equal(t, suite.StatusFailed, job.Status)
	require.Equal(t, "quota exceeded", job.Result[suite.ResultMessage])
	stored, ok := h.store.Get(job.ID)
	require.True(t, ok)
	require.Equal(t, suite.StatusFailed, stored.Status)

	require.Empty(t, h.poller.tracked)
	require.Len(t, h.events.evs, 2)
	require.Equal(t, events.StageJobFailed, h.events.evs[1].Stage)
	require.Equal(t, "quota exceeded", h.events.evs[1].Message)
}

func TestSubmitTransportFailureUsesGenericMessage(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.gw.err = errors.New("POST /text_to_video: dial tcp 127.0.0.1:8002: connect: connection refused")

	job, err := h.svc.Submit(context.Background(), suite.TypeTextToVideo, promptForm("x"))
	require.Error(t, err)
	require.Equal(t, suite.StatusFailed, job.Status)
	require.Equal(t, MessageSubmitFailed, job.Result[suite.ResultMessage])
	require.Len(t, h.events.evs, 2)
	require.Equal(t, events.StageJobFailed, h.events.evs[1].Stage)
	require.Equal(t, MessageSubmitFailed, h.events.evs[1].Message)
}

func TestSubmitNotOKMarksFailed(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.gw.resp = gateway.SubmitResponse{OK: false, Payload: map[string]any{"ok": false}}

	job, err := h.svc.Submit(context.Background(), suite.TypeTextToVideo, promptForm("x"))
	require.EqualError(t, err, MessageBackendError)
	require.Equal(t, suite.StatusFailed, job.Status)
	require.Equal(t, MessageBackendError, job.Result[suite.ResultMessage])
	require.Equal(t, MessageBackendError, h.events.evs[1].Message)
	require.Empty(t, h.poller.tracked)
}

func TestSubmitInvalidFormRecordsNothing(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	_, err := h.svc.Submit(context.Background(), suite.TypeImageToVideo, promptForm("x"))
	var verr *suite.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Zero(t, h.store.Len())
	require.Zero(t, h.gw.submits)
	require.Empty(t, h.events.evs)
}

func TestSubmitImageCompletesImmediately(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.gw.resp = gateway.SubmitResponse{OK: true, Payload: map[string]any{"images": []any{"gs://b/i.png"}}}

	job, err := h.svc.Submit(context.Background(), suite.TypeGenerate, promptForm("a red fox"))
	require.NoError(t, err)
	require.Equal(t, suite.StatusCompleted, job.Status)
	require.Equal(t, []any{"gs://b/i.png"}, job.Result["images"])
	require.Empty(t, h.poller.tracked)
	require.Equal(t, events.StageJobCompleted, h.events.evs[1].Stage)
}

func TestSubmitWithoutHandleIsNotPolled(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.gw.resp = gateway.SubmitResponse{OK: true, Payload: map[string]any{"ok": true}}

	job, err := h.svc.Submit(context.Background(), suite.TypeTextToVideo, promptForm("x"))
	require.NoError(t, err)
	require.Equal(t, suite.StatusProcessing, job.Status)
	require.Empty(t, h.poller.tracked)
}

func TestSubmitDirectorAndApprove(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.gw.resp = gateway.SubmitResponse{OK: true, JobID: "dir-1", Payload: map[string]any{"job_id": "dir-1", "status": "started"}}

	form := suite.NewForm()
	form.Set("topic", "space pirates")
	job, err := h.svc.Submit(context.Background(), suite.TypeDirectorMovie, form)
	require.NoError(t, err)
	require.Equal(t, "space pirates", job.Prompt)
	require.Equal(t, "dir-1", job.Handle())
	require.Len(t, h.poller.tracked, 1)

	approved, err := h.svc.ApproveScript(context.Background(), job.ID, []map[string]any{{"description": "opening"}})
	require.NoError(t, err)
	require.Equal(t, []string{"dir-1"}, h.gw.approved)
	require.Equal(t, "filming", approved.Result["status"])

	_, err = h.svc.ApproveScript(context.Background(), "missing", nil)
	require.ErrorIs(t, err, suite.ErrJobNotFound)
}

func TestApproveScriptRejectsVideoJobs(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.gw.resp = gateway.SubmitResponse{OK: true, OperationName: "op-1", Payload: map[string]any{"operation_name": "op-1"}}
	job, err := h.svc.Submit(context.Background(), suite.TypeTextToVideo, promptForm("x"))
	require.NoError(t, err)

	_, err = h.svc.ApproveScript(context.Background(), job.ID, nil)
	require.Error(t, err)
	require.Empty(t, h.gw.approved)
}

func TestRecordExternal(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	job, err := h.svc.RecordExternal(context.Background(), "imported clip", suite.StatusCompleted, map[string]any{"url": "https://x"})
	require.NoError(t, err)
	require.Equal(t, suite.TypeExternal, job.Type)
	require.Equal(t, 1, h.store.Len())

	_, err = h.svc.RecordExternal(context.Background(), "bad", suite.JobStatus("done"), nil)
	require.Error(t, err)
}

func TestNewRequiresClockAndIDs(t *testing.T) {
	t.Parallel()

	_, err := New(Config{IDs: &seqIDs{}}, nil, nil, nil, nil)
	require.Error(t, err)
	_, err = New(Config{Clock: fixedClock{}}, nil, nil, nil, nil)
	require.Error(t, err)
}

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/creator-suite/internal/config"
	"github.com/JakeFAU/creator-suite/internal/suite"
)

func newBackend(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var statusCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/text_to_video", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"operation_name": "op-123"})
	})
	mux.HandleFunc("/status/op-123", func(w http.ResponseWriter, _ *http.Request) {
		status := "RUNNING"
		if statusCalls.Add(1) >= 2 {
			status = "COMPLETE"
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"status": status, "video_url": "https://cdn.example.com/op-123.mp4"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &statusCalls
}

func testConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Gateway.BaseURL = baseURL
	cfg.Storage.Backend = config.StorageFile
	cfg.Storage.Local.BaseDir = t.TempDir()
	cfg.Remote.Backend = config.RemoteNone
	cfg.Events.PrometheusEnabled = false
	cfg.Events.LogEnabled = false
	cfg.Events.MaxBatchWait = 10 * time.Millisecond
	cfg.Poll.Interval = 20 * time.Millisecond
	cfg.Logging.Development = false
	cfg.Logging.Level = "error"
	return &cfg
}

func TestBuild_SubmitAndPollToCompletion(t *testing.T) {
	t.Parallel()

	backend, statusCalls := newBackend(t)
	cfg := testConfig(t, backend.URL)

	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = app.Pollers().Run(ctx) }()

	body := strings.NewReader("prompt=a+lighthouse+at+dawn")
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs/text_to_video", body)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp struct {
		Job suite.Job `json:"job"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "op-123", resp.Job.Handle())

	require.Eventually(t, func() bool {
		job, ok := app.Jobs().Get(resp.Job.ID)
		return ok && job.Status == suite.StatusCompleted
	}, 5*time.Second, 10*time.Millisecond)

	job, _ := app.Jobs().Get(resp.Job.ID)
	require.Equal(t, "https://cdn.example.com/op-123.mp4", job.Result["video_url"])
	require.GreaterOrEqual(t, statusCalls.Load(), int32(2))

	require.Eventually(t, func() bool {
		for _, evt := range app.recent.Recent() {
			if evt.JobID == job.ID && evt.Message == "Video generation complete!" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBuild_RestoresPersistedJobs(t *testing.T) {
	t.Parallel()

	backend, _ := newBackend(t)
	cfg := testConfig(t, backend.URL)

	first, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	_, err = first.Tracker().RecordExternal(context.Background(), "imported clip", suite.StatusCompleted, map[string]any{"url": "u"})
	require.NoError(t, err)
	require.NoError(t, first.Close(context.Background()))

	second, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Close(context.Background()) })

	jobs := second.Jobs().Jobs()
	require.Len(t, jobs, 1)
	require.Equal(t, "imported clip", jobs[0].Prompt)
}

func TestBuild_ReadyAndHealth(t *testing.T) {
	t.Parallel()

	backend, _ := newBackend(t)
	cfg := testConfig(t, backend.URL)
	cfg.Storage.Backend = config.StorageMemory

	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	for _, target := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		require.Equal(t, http.StatusOK, rec.Code, target)
	}
}

func TestBuild_InvalidSession(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Session.UserID = "user-1"

	_, err := Build(context.Background(), cfg)
	require.ErrorContains(t, err, "session sign-in failed")
}

func TestBuild_SQLiteBackend(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Storage.Backend = config.StorageSQLite
	cfg.Storage.SQLite.Path = t.TempDir() + "/jobs.db"

	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, app.sqlite)
	require.NoError(t, app.Close(context.Background()))
}

func TestBuild_SyncsRemoteHistoryWhenSignedIn(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/my-jobs", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "user-1", r.URL.Query().Get("user_id"))
		require.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"jobs": []map[string]any{{
			"id":        "remote-1",
			"prompt":    "harbor timelapse",
			"status":    "completed",
			"timestamp": "2025-05-01T10:00:00Z",
		}}})
	})
	mux.HandleFunc("/api/my-images", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"images":[]}`))
	})
	backend := httptest.NewServer(mux)
	t.Cleanup(backend.Close)

	cfg := testConfig(t, backend.URL)
	cfg.Remote.Backend = config.RemoteHTTP
	cfg.Session.UserID = "user-1"
	cfg.Session.Token = "tok-1"

	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	require.Eventually(t, func() bool {
		_, ok := app.Jobs().Get("remote-1")
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	job, _ := app.Jobs().Get("remote-1")
	require.Equal(t, "harbor timelapse", job.Prompt)
	require.Equal(t, suite.StatusCompleted, job.Status)
}

func TestBuild_SignedOutSkipsRemoteSync(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(backend.Close)

	cfg := testConfig(t, backend.URL)
	cfg.Remote.Backend = config.RemoteHTTP

	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	require.Nil(t, app.syncDone)
	require.NoError(t, app.Close(context.Background()))
	require.Zero(t, calls.Load())
}

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/creator-suite/internal/suite"
)

type fakeSession struct {
	user     suite.User
	signedIn bool
	token    string
	err      error
	calls    atomic.Int32
}

func (f *fakeSession) CurrentUser() (suite.User, bool) { return f.user, f.signedIn }

func (f *fakeSession) Token(context.Context) (string, error) {
	f.calls.Add(1)
	return f.token, f.err
}

func newTestClient(t *testing.T, handler http.Handler, session suite.Session) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(Config{BaseURL: srv.URL, Timeout: 5 * time.Second}, session)
	require.NoError(t, err)
	return c
}

func textForm(prompt string) suite.Form {
	form := suite.NewForm()
	form.Set("prompt", prompt)
	form.Set("model", "veo-3.0")
	return form
}

func TestSubmitTextToVideo(t *testing.T) {
	t.Parallel()

	session := &fakeSession{user: suite.User{ID: "u-1"}, signedIn: true, token: "tok-1"}
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/text_to_video", r.URL.Path)
		require.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		require.Equal(t, "a cat surfing", r.FormValue("prompt"))
		require.Equal(t, "veo-3.0", r.FormValue("model"))
		require.Equal(t, "u-1", r.FormValue("user_id"))
		_, _ = w.Write([]byte(`{"ok":true,"operation_name":"op-123"}`))
	}), session)

	form := textForm("a cat surfing")
	resp, err := c.Submit(context.Background(), suite.TypeTextToVideo, form)
	require.NoError(t, err)
	require.True(t, resp.OK)
	require.Equal(t, "op-123", resp.OperationName)
	require.Equal(t, "op-123", resp.Handle(suite.TypeTextToVideo))
	require.Empty(t, form.Value("user_id"), "caller form must not be mutated")
	require.EqualValues(t, 1, session.calls.Load())
}

func TestSubmitUploadsFiles(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/image/merge_images", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		files := r.MultipartForm.File["files"]
		require.Len(t, files, 2)
		require.Equal(t, "a.png", files[0].Filename)
		require.Equal(t, "image/png", files[0].Header.Get("Content-Type"))
		_, _ = w.Write([]byte(`{"images":["gs://b/merged.png"]}`))
	}), nil)

	form := suite.NewForm()
	form.Set("prompt", "merge them")
	form.Attach(suite.File{Field: "files", Name: "a.png", ContentType: "image/png", Data: []byte("a")})
	form.Attach(suite.File{Field: "files", Name: "b.png", Data: []byte("b")})

	resp, err := c.Submit(context.Background(), suite.TypeMerge, form)
	require.NoError(t, err)
	require.True(t, resp.OK)
	require.Equal(t, []any{"gs://b/merged.png"}, resp.Payload["images"])
}

func TestSubmitValidationFailsWithoutRequest(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		hits.Add(1)
	}), nil)

	_, err := c.Submit(context.Background(), suite.TypeTextToVideo, suite.NewForm())
	var verr *suite.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "prompt", verr.Field)
	require.Zero(t, hits.Load())
}

func TestSubmitServerErrorCarriesDetail(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"detail":"quota exceeded"}`))
	}), nil)

	_, err := c.Submit(context.Background(), suite.TypeTextToVideo, textForm("x"))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	require.Equal(t, "quota exceeded", apiErr.Detail)
	require.Equal(t, "quota exceeded", Detail(err))
}

func TestErrorDetailFallbacks(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		body string
		want string
	}{
		{"detail", `{"detail":"bad prompt"}`, "bad prompt"},
		{"message", `{"message":"nope"}`, "nope"},
		{"error", `{"error":"denied"}`, "denied"},
		{"structured detail", `{"detail":[{"loc":["prompt"]}]}`, `[{"loc":["prompt"]}]`},
		{"not json", `<html>gateway timeout</html>`, "request failed with status 504"},
		{"empty detail", `{"detail":""}`, "request failed with status 504"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, errorDetail(http.StatusGatewayTimeout, []byte(tc.body)))
		})
	}
}

func TestSubmitReportsNotOK(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"ok":false,"message":"prompt rejected"}`))
	}), nil)

	resp, err := c.Submit(context.Background(), suite.TypeTextToVideo, textForm("x"))
	require.NoError(t, err)
	require.False(t, resp.OK)
	require.Empty(t, resp.OperationName)
}

func TestSubmitDirectorSendsJSON(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/director/create_movie", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "space pirates", body["topic"])
		require.InDelta(t, 30, body["duration_seconds"], 0)
		_, _ = w.Write([]byte(`{"job_id":"dir-1","status":"started"}`))
	}), nil)

	form := suite.NewForm()
	form.Set("topic", "space pirates")
	form.Set("style", "noir")
	form.Set("duration_seconds", "30")
	resp, err := c.Submit(context.Background(), suite.TypeDirectorMovie, form)
	require.NoError(t, err)
	require.Equal(t, "dir-1", resp.JobID)
	require.Equal(t, "dir-1", resp.Handle(suite.TypeDirectorMovie))

	form.Set("duration_seconds", "soon")
	_, err = c.Submit(context.Background(), suite.TypeDirectorMovie, form)
	var verr *suite.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "duration_seconds", verr.Field)
}

func TestTokenFailureFailsCall(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	session := &fakeSession{user: suite.User{ID: "u"}, signedIn: true, err: errors.New("token expired")}
	c := newTestClient(t, http.HandlerFunc(func(http.ResponseWriter, *http.Request) { hits.Add(1) }), session)

	_, err := c.Status(context.Background(), "op-1")
	require.ErrorContains(t, err, "token expired")
	require.ErrorIs(t, err, session.err)
	require.Zero(t, hits.Load())
}

func TestSignedOutSendsNoCredentials(t *testing.T) {
	t.Parallel()

	session := &fakeSession{token: "never"}
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"status":"POLLING"}`))
	}), session)

	_, err := c.Status(context.Background(), "op-1")
	require.NoError(t, err)
	require.Zero(t, session.calls.Load())
}

func TestStatusMapping(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		payload map[string]any
		state   suite.RemoteState
		message string
	}{
		{"complete", map[string]any{"status": "COMPLETE", "video_uri": "gs://v"}, suite.RemoteSucceeded, ""},
		{"polling", map[string]any{"status": "POLLING"}, suite.RemoteInProgress, ""},
		{"missing status", map[string]any{}, suite.RemoteInProgress, ""},
		{"error", map[string]any{"status": "ERROR", "message": "safety filter"}, suite.RemoteFailed, "safety filter"},
		{"not ok keeps polling", map[string]any{"ok": false, "message": "operation not found"}, suite.RemoteInProgress, "operation not found"},
		{"not ok while polling", map[string]any{"ok": false, "status": "POLLING"}, suite.RemoteInProgress, ""},
		{"not ok with error status", map[string]any{"ok": false, "status": "ERROR", "error": "expired"}, suite.RemoteFailed, "expired"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			report := videoReport(tc.payload)
			require.Equal(t, tc.state, report.State)
			require.Equal(t, tc.message, report.Message)
			require.Equal(t, tc.payload, report.Payload)
		})
	}
}

func TestMovieStatusMapping(t *testing.T) {
	t.Parallel()

	for _, status := range []string{MovieStarting, MovieScripting, MovieWaitingForApproval, MovieFilming, MovieStitching} {
		require.Equal(t, suite.RemoteInProgress, movieReport(map[string]any{"status": status}).State, status)
	}
	require.Equal(t, suite.RemoteSucceeded, movieReport(map[string]any{"status": "completed"}).State)

	failed := movieReport(map[string]any{"status": "failed", "error": "veo unavailable"})
	require.Equal(t, suite.RemoteFailed, failed.State)
	require.Equal(t, "veo unavailable", failed.Message)
	require.Equal(t, "Movie production failed", movieReport(map[string]any{"status": "failed"}).Message)
}

func TestStatusRequestsOperationPath(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/status/projects/p/operations/op-9", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"COMPLETE","video_uri":"gs://b/v.mp4"}`))
	}), nil)

	report, err := c.Status(context.Background(), "projects/p/operations/op-9")
	require.NoError(t, err)
	require.Equal(t, suite.RemoteSucceeded, report.State)
	require.Equal(t, "gs://b/v.mp4", report.Payload["video_uri"])
}

func TestApproveScript(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/director/approve_script/dir-1", r.URL.Path)
		var body struct {
			Scenes []map[string]any `json:"scenes"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Scenes, 1)
		_, _ = w.Write([]byte(`{"status":"filming"}`))
	}), nil)

	resp, err := c.ApproveScript(context.Background(), "dir-1", []map[string]any{{"description": "opening shot"}})
	require.NoError(t, err)
	require.Equal(t, "filming", resp["status"])
}

func TestAnalytics(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/documents/analytics":
			require.Equal(t, "u-1", r.URL.Query().Get("user_id"))
			_, _ = w.Write([]byte(`[{"tokens":12},null]`))
		case "/api/chat/analytics":
			_, _ = w.Write([]byte(`null`))
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}), nil)

	records, err := c.Analytics(context.Background(), AreaDocuments, "u-1")
	require.NoError(t, err)
	require.Equal(t, []AnalyticsRecord{{"tokens": float64(12)}}, records)

	records, err = c.Analytics(context.Background(), AreaChat, "u-1")
	require.NoError(t, err)
	require.NotNil(t, records)
	require.Empty(t, records)

	records, err = c.Analytics(context.Background(), AreaVideos, "u-1")
	require.Error(t, err)
	require.NotNil(t, records)

	records, err = c.Analytics(context.Background(), Area("bogus"), "u-1")
	require.Error(t, err)
	require.NotNil(t, records)
}

func TestDedicatedServiceURLs(t *testing.T) {
	t.Parallel()

	docs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/analytics", r.URL.Path)
		_, _ = w.Write([]byte(`[]`))
	}))
	t.Cleanup(docs.Close)
	shared := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	t.Cleanup(shared.Close)

	c, err := New(Config{BaseURL: shared.URL, ServiceURLs: map[suite.Service]string{suite.ServiceDocuments: docs.URL + "/"}}, nil)
	require.NoError(t, err)
	_, err = c.Analytics(context.Background(), AreaDocuments, "u-1")
	require.NoError(t, err)
	require.Equal(t, shared.URL+"/download/op-1", c.DownloadURL("op-1"))
}

func TestNewRejectsBadURLs(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, nil)
	require.Error(t, err)
	_, err = New(Config{BaseURL: "ftp://example.com"}, nil)
	require.Error(t, err)
	_, err = New(Config{BaseURL: "http://ok", ServiceURLs: map[suite.Service]string{suite.ServiceChat: "::bad"}}, nil)
	require.Error(t, err)
}

func TestHealth(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/image/":
			w.WriteHeader(http.StatusNotFound)
		case "/status/":
			_, _ = w.Write([]byte("ok"))
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}), nil)

	ctx := context.Background()
	require.True(t, c.Health(ctx, suite.ServiceImage))
	require.True(t, c.Health(ctx, suite.ServiceVideo))
	require.False(t, c.Health(ctx, suite.ServiceChat))
	require.False(t, c.Health(ctx, suite.ServiceJobHistory))

	all := c.HealthAll(ctx)
	require.Len(t, all, len(suite.Services()))
	require.True(t, all[suite.ServiceVideo])
	require.False(t, all[suite.ServiceDirector])
}

func TestHealthUnreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c, err := New(Config{BaseURL: srv.URL, Timeout: time.Second}, nil)
	require.NoError(t, err)
	require.False(t, c.Health(context.Background(), suite.ServiceImage))
}

func TestMyJobsMapsRecords(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/my-jobs", r.URL.Path)
		require.Equal(t, "u-1", r.URL.Query().Get("user_id"))
		_, _ = w.Write([]byte(`{"jobs":[
			{"operation_name":"op-1","status":"COMPLETE","prompt":"sunset","created_at":"2025-01-02T03:04:05Z","video_uri":"gs://v"},
			{"id":"dir-1","type":"director_movie","status":"filming","timestamp":1735787045},
			{"id":"j-3","status":"pending","settings":{"model":"veo"}},
			{"status":"COMPLETE"}
		]}`))
	}), nil)

	jobs, err := c.MyJobs(context.Background(), "u-1")
	require.NoError(t, err)
	require.Len(t, jobs, 3)

	require.Equal(t, "op-1", jobs[0].ID)
	require.Equal(t, suite.TypeTextToVideo, jobs[0].Type)
	require.Equal(t, suite.StatusCompleted, jobs[0].Status)
	require.Equal(t, "sunset", jobs[0].Prompt)
	require.Equal(t, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC), jobs[0].Timestamp)
	require.Equal(t, "op-1", jobs[0].Handle())
	require.NotContains(t, jobs[0].Result, "prompt")

	require.Equal(t, suite.TypeDirectorMovie, jobs[1].Type)
	require.Equal(t, suite.StatusProcessing, jobs[1].Status)
	require.Equal(t, time.Unix(1735787045, 0).UTC(), jobs[1].Timestamp)

	require.Equal(t, suite.StatusQueued, jobs[2].Status)
	require.Equal(t, map[string]any{"model": "veo"}, jobs[2].Settings)

	_, err = c.MyJobs(context.Background(), "")
	require.ErrorIs(t, err, suite.ErrNoSession)
}

func TestSourcesListImages(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/my-images" {
			_, _ = w.Write([]byte(`[{"id":"img-1","status":"completed"}]`))
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}), nil)

	sources := c.Sources()
	require.Len(t, sources, 2)
	images, err := sources[1].ListJobs(context.Background(), "u-1")
	require.NoError(t, err)
	require.Len(t, images, 1)
	require.Equal(t, suite.TypeGenerate, images[0].Type)
}

func TestSaveExternalJob(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/external-jobs", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "u-1", body["user_id"])
		require.Equal(t, "dir-job", body["job_id"])
		require.Equal(t, "director_movie", body["type"])
		w.WriteHeader(http.StatusCreated)
	}), nil)

	job := suite.Job{ID: "dir-job", Type: suite.TypeDirectorMovie, Status: suite.StatusProcessing, Timestamp: time.Now().UTC()}
	require.NoError(t, c.SaveExternalJob(context.Background(), "u-1", job))
	require.ErrorIs(t, c.SaveExternalJob(context.Background(), "", job), suite.ErrNoSession)
}

func TestDownload(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/download/op-1" {
			_, _ = w.Write([]byte("mp4-bytes"))
			return
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"detail":"not ready"}`))
	}), nil)

	var buf bytes.Buffer
	n, err := c.Download(context.Background(), "op-1", &buf)
	require.NoError(t, err)
	require.EqualValues(t, len("mp4-bytes"), n)
	require.Equal(t, "mp4-bytes", buf.String())

	_, err = c.Download(context.Background(), "op-2", io.Discard)
	require.EqualError(t, err, "not ready")
}

func TestSyncServices(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		switch r.URL.Path {
		case "/summarize":
			require.Len(t, r.MultipartForm.File["files"], 1)
			_, _ = w.Write([]byte(`{"summary":"short"}`))
		case "/transcript":
			require.Equal(t, "https://youtu.be/x", r.FormValue("url"))
			_, _ = w.Write([]byte(`{"transcript":"hello"}`))
		case "/chat":
			_, _ = w.Write([]byte(`{"response":"hi"}`))
		}
	}), nil)

	ctx := context.Background()
	docs := suite.NewForm()
	docs.Attach(suite.File{Field: "files", Name: "a.pdf", Data: []byte("%PDF")})
	out, err := c.Summarize(ctx, docs)
	require.NoError(t, err)
	require.Equal(t, "short", out["summary"])

	yt := suite.NewForm()
	yt.Set("url", "https://youtu.be/x")
	out, err = c.Transcript(ctx, yt)
	require.NoError(t, err)
	require.Equal(t, "hello", out["transcript"])

	chat := suite.NewForm()
	chat.Set("message", "hey")
	out, err = c.Chat(ctx, chat)
	require.NoError(t, err)
	require.Equal(t, "hi", out["response"])
}

package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/JakeFAU/creator-suite/internal/suite"
)

// MyJobs lists the video and movie jobs the backend recorded for userID.
func (c *Client) MyJobs(ctx context.Context, userID string) ([]suite.Job, error) {
	return c.history(ctx, suite.ServiceJobHistory, "/api/my-jobs", userID, suite.TypeTextToVideo)
}

// MyImages lists the image jobs the backend recorded for userID.
func (c *Client) MyImages(ctx context.Context, userID string) ([]suite.Job, error) {
	return c.history(ctx, suite.ServiceImage, "/api/my-images", userID, suite.TypeGenerate)
}

func (c *Client) history(ctx context.Context, svc suite.Service, path, userID string, fallback suite.JobType) ([]suite.Job, error) {
	if userID == "" {
		return nil, suite.ErrNoSession
	}
	body, err := c.call(ctx, request{
		service: svc,
		method:  http.MethodGet,
		path:    path,
		query:   url.Values{"user_id": []string{userID}},
	})
	if err != nil {
		return nil, err
	}
	records, err := decodeRecords(body, "jobs", "images", "items")
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	out := make([]suite.Job, 0, len(records))
	for _, rec := range records {
		job, ok := remoteJob(rec, fallback)
		if !ok {
			continue
		}
		out = append(out, job)
	}
	return out, nil
}

// remoteJob converts a history record into a Job. Records without any id are
// skipped.
func remoteJob(rec map[string]any, fallback suite.JobType) (suite.Job, bool) {
	id := stringField(rec, "id", "job_id", suite.ResultOperationName)
	if id == "" {
		return suite.Job{}, false
	}
	jobType := fallback
	if raw := stringField(rec, "type", "job_type"); raw != "" {
		if t, err := suite.ParseJobType(raw); err == nil {
			jobType = t
		}
	}
	result := suite.CloneMap(rec)
	delete(result, "prompt")
	job := suite.Job{
		ID:        id,
		Type:      jobType,
		Status:    remoteStatus(stringField(rec, "status")),
		Prompt:    stringField(rec, "prompt"),
		Timestamp: remoteTime(rec),
		Result:    result,
	}
	if settings, ok := rec["settings"].(map[string]any); ok {
		job.Settings = suite.CloneMap(settings)
		delete(job.Result, "settings")
	}
	return job, true
}

// remoteStatus maps backend status vocabularies onto JobStatus. Unknown
// values are treated as still running.
func remoteStatus(raw string) suite.JobStatus {
	switch strings.ToLower(raw) {
	case "pending", "queued":
		return suite.StatusQueued
	case "complete", "completed", "succeeded", "success":
		return suite.StatusCompleted
	case "failed", "error":
		return suite.StatusFailed
	default:
		return suite.StatusProcessing
	}
}

func remoteTime(rec map[string]any) time.Time {
	for _, key := range []string{"timestamp", "created_at", "createdAt"} {
		switch v := rec[key].(type) {
		case string:
			for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05"} {
				if ts, err := time.Parse(layout, v); err == nil {
					return ts.UTC()
				}
			}
		case float64:
			sec := int64(v)
			return time.Unix(sec, int64((v-float64(sec))*1e9)).UTC()
		}
	}
	return time.Time{}
}

// SaveExternalJob records a job the backend does not track on its own.
func (c *Client) SaveExternalJob(ctx context.Context, userID string, job suite.Job) error {
	if userID == "" {
		return suite.ErrNoSession
	}
	if job.ID == "" {
		return errors.New("job id is required")
	}
	body, err := jsonBody(map[string]any{
		"user_id":   userID,
		"job_id":    job.ID,
		"type":      job.Type,
		"status":    job.Status,
		"prompt":    job.Prompt,
		"timestamp": job.Timestamp,
		"settings":  job.Settings,
		"result":    job.Result,
	})
	if err != nil {
		return err
	}
	_, err = c.call(ctx, request{
		service:     suite.ServiceJobHistory,
		method:      http.MethodPost,
		path:        "/api/external-jobs",
		body:        body,
		contentType: "application/json",
	})
	return err
}

// ListerFunc adapts a listing method to suite.JobLister.
type ListerFunc func(ctx context.Context, userID string) ([]suite.Job, error)

// ListJobs calls f.
func (f ListerFunc) ListJobs(ctx context.Context, userID string) ([]suite.Job, error) {
	return f(ctx, userID)
}

// Sources returns the remote job listings merged by the store.
func (c *Client) Sources() []suite.JobLister {
	return []suite.JobLister{ListerFunc(c.MyJobs), ListerFunc(c.MyImages)}
}

package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/JakeFAU/creator-suite/internal/suite"
)

// Status checks a video operation.
func (c *Client) Status(ctx context.Context, handle string) (suite.StatusReport, error) {
	if handle == "" {
		return suite.StatusReport{}, errors.New("operation name is required")
	}
	payload, err := c.callJSON(ctx, request{
		service: suite.ServiceVideo,
		method:  http.MethodGet,
		path:    "/status/" + strings.TrimPrefix(handle, "/"),
	})
	if err != nil {
		return suite.StatusReport{}, err
	}
	return videoReport(payload), nil
}

// videoReport maps a status reply onto a remote state. Only the status field
// is terminal; an ok:false reply without one keeps the job polling.
func videoReport(payload map[string]any) suite.StatusReport {
	report := suite.StatusReport{
		State:   suite.RemoteInProgress,
		Message: stringField(payload, "message", "error"),
		Payload: payload,
	}
	switch strings.ToUpper(stringField(payload, "status")) {
	case "COMPLETE", "COMPLETED", "SUCCEEDED":
		report.State = suite.RemoteSucceeded
	case "ERROR", "FAILED":
		report.State = suite.RemoteFailed
	}
	return report
}

// MovieStatus checks a director job.
func (c *Client) MovieStatus(ctx context.Context, jobID string) (suite.StatusReport, error) {
	if jobID == "" {
		return suite.StatusReport{}, errors.New("job id is required")
	}
	payload, err := c.callJSON(ctx, request{
		service: suite.ServiceDirector,
		method:  http.MethodGet,
		path:    "/director/movie_status/" + url.PathEscape(jobID),
	})
	if err != nil {
		return suite.StatusReport{}, err
	}
	return movieReport(payload), nil
}

// Director job states.
const (
	MovieStarting           = "starting"
	MovieScripting          = "scripting"
	MovieWaitingForApproval = "waiting_for_approval"
	MovieFilming            = "filming"
	MovieStitching          = "stitching"
	MovieCompleted          = "completed"
	MovieFailed             = "failed"
)

func movieReport(payload map[string]any) suite.StatusReport {
	report := suite.StatusReport{State: suite.RemoteInProgress, Payload: payload}
	switch strings.ToLower(stringField(payload, "status")) {
	case MovieCompleted:
		report.State = suite.RemoteSucceeded
	case MovieFailed:
		report.State = suite.RemoteFailed
		report.Message = stringField(payload, "error", "message")
		if report.Message == "" {
			report.Message = "Movie production failed"
		}
	}
	return report
}

// ApproveScript releases a director job waiting for script approval.
func (c *Client) ApproveScript(ctx context.Context, jobID string, scenes []map[string]any) (map[string]any, error) {
	if jobID == "" {
		return nil, errors.New("job id is required")
	}
	if scenes == nil {
		scenes = []map[string]any{}
	}
	body, err := jsonBody(map[string]any{"scenes": scenes})
	if err != nil {
		return nil, err
	}
	return c.callJSON(ctx, request{
		service:     suite.ServiceDirector,
		method:      http.MethodPost,
		path:        "/director/approve_script/" + url.PathEscape(jobID),
		body:        body,
		contentType: "application/json",
	})
}

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/creator-suite/internal/suite"
)

// AnalyticsRecord is one usage row reported by a service.
type AnalyticsRecord = map[string]any

// Area names an analytics view.
type Area string

// Analytics areas.
const (
	AreaVideos    Area = "videos"
	AreaImages    Area = "images"
	AreaDocuments Area = "documents"
	AreaYouTube   Area = "youtube"
	AreaChat      Area = "chat"
)

// Areas lists every analytics area.
func Areas() []Area {
	return []Area{AreaVideos, AreaImages, AreaDocuments, AreaYouTube, AreaChat}
}

// ParseArea converts a raw area name.
func ParseArea(raw string) (Area, error) {
	a := Area(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range Areas() {
		if a == known {
			return a, nil
		}
	}
	return "", fmt.Errorf("unknown analytics area %q", raw)
}

func (a Area) service() suite.Service {
	switch a {
	case AreaVideos:
		return suite.ServiceVideo
	case AreaImages:
		return suite.ServiceImage
	case AreaDocuments:
		return suite.ServiceDocuments
	case AreaYouTube:
		return suite.ServiceYouTube
	default:
		return suite.ServiceChat
	}
}

// Analytics returns the usage records of userID for area. The result is
// never nil.
func (c *Client) Analytics(ctx context.Context, area Area, userID string) ([]AnalyticsRecord, error) {
	if _, err := ParseArea(string(area)); err != nil {
		return []AnalyticsRecord{}, err
	}
	svc := area.service()
	path := "/api/" + string(area) + "/analytics"
	// A dedicated text service origin serves analytics at its root, the same
	// rewrite the shared gateway applies.
	if _, dedicated := c.baseFor(svc); dedicated && (area == AreaDocuments || area == AreaYouTube || area == AreaChat) {
		path = "/analytics"
	}
	body, err := c.call(ctx, request{
		service: svc,
		method:  http.MethodGet,
		path:    path,
		query:   url.Values{"user_id": []string{userID}},
	})
	if err != nil {
		return []AnalyticsRecord{}, err
	}
	records, err := decodeRecords(body, "records", "items", "jobs")
	if err != nil {
		return []AnalyticsRecord{}, fmt.Errorf("decode %s analytics: %w", area, err)
	}
	return records, nil
}

// decodeRecords accepts either a bare JSON array or an object wrapping one
// under any of keys.
func decodeRecords(body []byte, keys ...string) ([]map[string]any, error) {
	records := []map[string]any{}
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" || trimmed == "null" {
		return records, nil
	}
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(body, &records); err != nil {
			return nil, err
		}
		return compact(records), nil
	}
	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, err
	}
	for _, key := range keys {
		raw, ok := wrapper[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, &records); err != nil {
			return nil, err
		}
		return compact(records), nil
	}
	return records, nil
}

func compact(records []map[string]any) []map[string]any {
	out := records[:0]
	for _, r := range records {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

// healthPaths are probed by Health.
var healthPaths = map[suite.Service]string{
	suite.ServiceImage:     "/image/",
	suite.ServiceVideo:     "/status/",
	suite.ServiceDocuments: "/summarize/",
	suite.ServiceYouTube:   "/transcript/",
	suite.ServiceChat:      "/chat/",
	suite.ServiceDirector:  "/director/",
}

// Health reports whether svc answered its probe path with any HTTP response
// below 500. It never returns an error.
func (c *Client) Health(ctx context.Context, svc suite.Service) bool {
	path, ok := healthPaths[svc]
	if !ok {
		return false
	}
	resp, cancel, err := c.send(ctx, request{service: svc, method: http.MethodGet, path: path})
	if err != nil {
		c.logger.Debug("health probe failed", zap.String("service", string(svc)), zap.Error(err))
		return false
	}
	defer cancel()
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}

// HealthAll probes every service concurrently.
func (c *Client) HealthAll(ctx context.Context) map[suite.Service]bool {
	services := suite.Services()
	results := make(chan struct {
		svc suite.Service
		ok  bool
	}, len(services))
	for _, svc := range services {
		go func() {
			results <- struct {
				svc suite.Service
				ok  bool
			}{svc, c.Health(ctx, svc)}
		}()
	}
	out := make(map[suite.Service]bool, len(services))
	for range services {
		r := <-results
		out[r.svc] = r.ok
	}
	return out
}

// DownloadURL returns where the artifact of a completed operation is served.
func (c *Client) DownloadURL(handle string) string {
	base, _ := c.baseFor(suite.ServiceVideo)
	return base + "/download/" + strings.TrimPrefix(handle, "/")
}

// Download streams the artifact of a completed operation into w.
func (c *Client) Download(ctx context.Context, handle string, w io.Writer) (int64, error) {
	resp, cancel, err := c.send(ctx, request{
		service: suite.ServiceVideo,
		method:  http.MethodGet,
		path:    "/download/" + strings.TrimPrefix(handle, "/"),
	})
	if err != nil {
		return 0, err
	}
	defer cancel()
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return 0, &APIError{StatusCode: resp.StatusCode, Detail: errorDetail(resp.StatusCode, body)}
	}
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("download %s: %w", handle, err)
	}
	return n, nil
}

// Summarize sends documents to the summarization service.
func (c *Client) Summarize(ctx context.Context, form suite.Form) (map[string]any, error) {
	return c.postForm(ctx, suite.ServiceDocuments, "/summarize", form)
}

// Transcript fetches a YouTube transcript and summary.
func (c *Client) Transcript(ctx context.Context, form suite.Form) (map[string]any, error) {
	return c.postForm(ctx, suite.ServiceYouTube, "/transcript", form)
}

// Chat sends one chat turn.
func (c *Client) Chat(ctx context.Context, form suite.Form) (map[string]any, error) {
	return c.postForm(ctx, suite.ServiceChat, "/chat", form)
}

func (c *Client) postForm(ctx context.Context, svc suite.Service, path string, form suite.Form) (map[string]any, error) {
	if user, ok := c.currentUser(); ok && form.Value("user_id") == "" {
		form = form.With("user_id", user.ID)
	}
	body, contentType, err := encodeMultipart(form)
	if err != nil {
		return nil, err
	}
	return c.callJSON(ctx, request{service: svc, method: http.MethodPost, path: path, body: body, contentType: contentType})
}

// Package gateway is the HTTP client for the creator-suite backend services.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/creator-suite/internal/metrics"
	"github.com/JakeFAU/creator-suite/internal/policy/ratelimit"
	"github.com/JakeFAU/creator-suite/internal/suite"
)

// DefaultTimeout bounds each backend call when Config.Timeout is unset.
const DefaultTimeout = 60 * time.Second

// Config configures the backend client.
type Config struct {
	// BaseURL is used for every service without an entry in ServiceURLs.
	BaseURL string
	// ServiceURLs routes individual services to their own origin.
	ServiceURLs    map[suite.Service]string
	Timeout        time.Duration
	RateLimitRPS   float64
	RateLimitBurst int
	HTTPClient     *http.Client
	Logger         *zap.Logger
}

// APIError is returned for non-2xx backend responses.
type APIError struct {
	StatusCode int
	Detail     string
}

func (e *APIError) Error() string {
	return e.Detail
}

// Detail extracts the user-facing diagnostic from err, preferring the
// backend's own message.
func Detail(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Detail
	}
	return err.Error()
}

// Client talks to the backend services. It is safe for concurrent use.
type Client struct {
	cfg     Config
	http    *http.Client
	session suite.Session
	limiter *ratelimit.Limiter
	logger  *zap.Logger
}

// New validates cfg and builds a Client. session may be nil, in which case
// requests are sent without credentials.
func New(cfg Config, session suite.Session) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" && len(cfg.ServiceURLs) == 0 {
		return nil, errors.New("gateway base url is required")
	}
	if cfg.BaseURL != "" {
		if err := validateURL(cfg.BaseURL); err != nil {
			return nil, fmt.Errorf("gateway base url: %w", err)
		}
	}
	for svc, raw := range cfg.ServiceURLs {
		if err := validateURL(raw); err != nil {
			return nil, fmt.Errorf("gateway url for %s: %w", svc, err)
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:     cfg,
		http:    httpClient,
		session: session,
		limiter: ratelimit.New(ratelimit.Config{DefaultRPS: cfg.RateLimitRPS, DefaultBurst: cfg.RateLimitBurst}),
		logger:  logger.Named("gateway"),
	}, nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme in %q", raw)
	}
	return nil
}

// baseFor returns the origin serving svc and whether it is a dedicated
// per-service origin rather than the shared gateway.
func (c *Client) baseFor(svc suite.Service) (string, bool) {
	if raw, ok := c.cfg.ServiceURLs[svc]; ok && raw != "" {
		return strings.TrimRight(raw, "/"), true
	}
	return strings.TrimRight(c.cfg.BaseURL, "/"), false
}

type request struct {
	service     suite.Service
	method      string
	path        string
	query       url.Values
	body        io.Reader
	contentType string
}

// send performs r and returns the raw response. The caller must close the
// body and then call the returned cancel func.
func (c *Client) send(ctx context.Context, r request) (*http.Response, context.CancelFunc, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	if err := c.limiter.Wait(ctx, string(r.service)); err != nil {
		cancel()
		return nil, nil, err
	}

	base, _ := c.baseFor(r.service)
	target := base + r.path
	if len(r.query) > 0 {
		target += "?" + r.query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, r.method, target, r.body)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	req.Header.Set("Accept", "application/json")
	if err := c.authorize(ctx, req); err != nil {
		cancel()
		return nil, nil, err
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveGatewayRequest(string(r.service), metrics.Outcome(0, err), time.Since(start))
		cancel()
		return nil, nil, fmt.Errorf("%s %s: %w", r.method, r.path, err)
	}
	metrics.ObserveGatewayRequest(string(r.service), metrics.Outcome(resp.StatusCode, nil), time.Since(start))
	return resp, cancel, nil
}

func (c *Client) authorize(ctx context.Context, req *http.Request) error {
	if c.session == nil {
		return nil
	}
	if _, ok := c.session.CurrentUser(); !ok {
		return nil
	}
	token, err := c.session.Token(ctx)
	if err != nil {
		return fmt.Errorf("fetch auth token: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return nil
}

// call performs r and returns the response body of a 2xx reply.
func (c *Client) call(ctx context.Context, r request) ([]byte, error) {
	resp, cancel, err := c.send(ctx, r)
	if err != nil {
		return nil, err
	}
	defer cancel()
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("failed to close response body", zap.Error(cerr))
		}
	}()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", r.path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Detail: errorDetail(resp.StatusCode, body)}
		c.logger.Debug("backend returned an error",
			zap.String("path", r.path),
			zap.Int("status", resp.StatusCode),
			zap.String("detail", apiErr.Detail),
		)
		return nil, apiErr
	}
	return body, nil
}

// callJSON performs r and decodes a JSON object response.
func (c *Client) callJSON(ctx context.Context, r request) (map[string]any, error) {
	body, err := c.call(ctx, r)
	if err != nil {
		return nil, err
	}
	payload := map[string]any{}
	if len(bytes.TrimSpace(body)) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", r.path, err)
	}
	return payload, nil
}

func jsonBody(v any) (io.Reader, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return bytes.NewReader(data), nil
}

// errorDetail pulls detail, message or error out of an error body.
func errorDetail(code int, body []byte) string {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err == nil {
		for _, key := range []string{"detail", "message", "error"} {
			switch v := payload[key].(type) {
			case string:
				if v != "" {
					return v
				}
			case nil:
			default:
				if raw, err := json.Marshal(v); err == nil {
					return string(raw)
				}
			}
		}
	}
	return fmt.Sprintf("request failed with status %d", code)
}

func stringField(m map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := m[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

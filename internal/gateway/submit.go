package gateway

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sort"
	"strconv"

	"github.com/JakeFAU/creator-suite/internal/suite"
)

// SubmitResponse is the backend's reply to a generation request.
type SubmitResponse struct {
	// OK is false when the backend accepted the request but reported failure.
	OK            bool
	OperationName string
	JobID         string
	Payload       map[string]any
}

// Handle returns the remote polling handle for t.
func (r SubmitResponse) Handle(t suite.JobType) string {
	if t.HandleKey() == suite.ResultJobID {
		return r.JobID
	}
	return r.OperationName
}

// directorFields are sent as JSON to the director service.
var directorFields = []string{"topic", "style", "model", "resolution", "aspect_ratio"}

// Submit validates form and sends it to the endpoint for t.
func (c *Client) Submit(ctx context.Context, t suite.JobType, form suite.Form) (SubmitResponse, error) {
	if err := t.Validate(form); err != nil {
		return SubmitResponse{}, err
	}
	endpoint, err := t.Endpoint()
	if err != nil {
		return SubmitResponse{}, err
	}

	r := request{service: endpoint.Service, method: http.MethodPost, path: endpoint.Path}
	if endpoint.JSON {
		body, err := c.directorBody(t, form)
		if err != nil {
			return SubmitResponse{}, err
		}
		if r.body, err = jsonBody(body); err != nil {
			return SubmitResponse{}, err
		}
		r.contentType = "application/json"
	} else {
		if user, ok := c.currentUser(); ok && form.Value("user_id") == "" {
			form = form.With("user_id", user.ID)
		}
		body, contentType, err := encodeMultipart(form)
		if err != nil {
			return SubmitResponse{}, err
		}
		r.body = body
		r.contentType = contentType
	}

	payload, err := c.callJSON(ctx, r)
	if err != nil {
		return SubmitResponse{}, err
	}
	resp := SubmitResponse{
		OK:            true,
		OperationName: stringField(payload, suite.ResultOperationName),
		JobID:         stringField(payload, suite.ResultJobID),
		Payload:       payload,
	}
	if ok, present := payload["ok"].(bool); present {
		resp.OK = ok
	}
	return resp, nil
}

func (c *Client) directorBody(t suite.JobType, form suite.Form) (map[string]any, error) {
	body := map[string]any{}
	for _, key := range directorFields {
		if v := form.Value(key); v != "" {
			body[key] = v
		}
	}
	if raw := form.Value("duration_seconds"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return nil, &suite.ValidationError{Type: t, Field: "duration_seconds", Message: "duration_seconds must be a positive integer"}
		}
		body["duration_seconds"] = n
	}
	return body, nil
}

func (c *Client) currentUser() (suite.User, bool) {
	if c.session == nil {
		return suite.User{}, false
	}
	return c.session.CurrentUser()
}

// encodeMultipart writes scalar fields in sorted order followed by files.
func encodeMultipart(form suite.Form) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	keys := make([]string, 0, len(form.Fields))
	for k := range form.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := w.WriteField(k, form.Fields[k]); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", k, err)
		}
	}
	for _, f := range form.Files {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", multipart.FileContentDisposition(f.Field, f.Name))
		contentType := f.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		header.Set("Content-Type", contentType)
		part, err := w.CreatePart(header)
		if err != nil {
			return nil, "", fmt.Errorf("create part %s: %w", f.Field, err)
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, "", fmt.Errorf("write part %s: %w", f.Field, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return buf, w.FormDataContentType(), nil
}

// Package suite defines the core job types shared across the tracker subsystems.
package suite

import (
	"fmt"
	"time"
)

// JobStatus represents the lifecycle state of a tracked job.
type JobStatus string

// Job status values persisted in the job store.
const (
	StatusQueued     JobStatus = "queued"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// ParseStatus converts a raw status string into a JobStatus.
func ParseStatus(raw string) (JobStatus, error) {
	status := JobStatus(raw)
	if !status.Valid() {
		return "", fmt.Errorf("unknown job status %q", raw)
	}
	return status, nil
}

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case StatusQueued, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition may leave s.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s JobStatus) rank() int {
	switch s {
	case StatusQueued:
		return 0
	case StatusProcessing:
		return 1
	case StatusCompleted, StatusFailed:
		return 2
	default:
		return -1
	}
}

// CanTransition reports whether a job may move from one status to another.
// Same-state updates are allowed so results can be merged; terminal states
// only accept themselves.
func CanTransition(from, to JobStatus) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from == to {
		return true
	}
	if from.Terminal() {
		return false
	}
	return to.rank() > from.rank()
}

// Result keys written by the tracker.
const (
	ResultOperationName = "operation_name"
	ResultJobID         = "job_id"
	ResultMessage       = "message"
)

// Job is the record tracked for each submitted generation request.
type Job struct {
	ID        string         `json:"id"`
	Type      JobType        `json:"type"`
	Status    JobStatus      `json:"status"`
	Prompt    string         `json:"prompt,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Settings  map[string]any `json:"settings,omitempty"`
	Result    map[string]any `json:"result,omitempty"`
}

// Handle returns the remote identifier used to poll the job, or "" when the
// backend has not supplied one yet.
func (j Job) Handle() string {
	if j.Result == nil {
		return ""
	}
	if v, ok := j.Result[j.Type.HandleKey()].(string); ok {
		return v
	}
	return ""
}

// Clone returns a deep copy so callers never share maps with the store.
func (j Job) Clone() Job {
	cp := j
	cp.Settings = CloneMap(j.Settings)
	cp.Result = CloneMap(j.Result)
	return cp
}

// CloneMap deep-copies a JSON-shaped map.
func CloneMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = cloneValue(v)
	}
	return dst
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return CloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), val...)
	default:
		return val
	}
}

// MergeResult overlays update onto base; keys in update win and all others
// are preserved. base is not modified.
func MergeResult(base, update map[string]any) map[string]any {
	if base == nil && update == nil {
		return nil
	}
	out := CloneMap(base)
	if out == nil {
		out = make(map[string]any, len(update))
	}
	for k, v := range update {
		out[k] = cloneValue(v)
	}
	return out
}

// User identifies the signed-in account.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

// RemoteState is the normalized outcome of a remote status check.
type RemoteState string

// Remote states reported by status checks.
const (
	RemoteInProgress RemoteState = "in_progress"
	RemoteSucceeded  RemoteState = "succeeded"
	RemoteFailed     RemoteState = "failed"
)

// StatusReport is the result of one remote status check.
type StatusReport struct {
	State   RemoteState
	Message string
	Payload map[string]any
}

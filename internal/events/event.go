package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/creator-suite/internal/suite"
)

// Stage denotes the lifecycle milestone an Event reports.
type Stage string

// Supported stages.
const (
	StageJobSubmitted Stage = "JOB_SUBMITTED"
	StageJobCompleted Stage = "JOB_COMPLETED"
	StageJobFailed    Stage = "JOB_FAILED"
	StagePollError    Stage = "POLL_ERROR"
)

// Level is the notification severity shown to the user.
type Level string

// Notification levels.
const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Event is one job notification.
type Event struct {
	JobID   string        `json:"job_id"`
	TS      time.Time     `json:"ts"`
	Stage   Stage         `json:"stage"`
	JobType suite.JobType `json:"job_type,omitempty"`
	Handle  string        `json:"handle,omitempty"`
	// Message is the user-facing text; failures carry the remote diagnostic verbatim.
	Message string `json:"message,omitempty"`
	// Dur is the time from submission to the terminal transition.
	Dur time.Duration `json:"duration,omitempty"`
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.JobID == "" {
		return errors.New("job id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobSubmitted, StageJobCompleted, StagePollError:
	case StageJobFailed:
		if e.Message == "" {
			return errors.New("failure requires message")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// Level maps the stage onto a notification severity.
func (e Event) Level() Level {
	switch e.Stage {
	case StageJobCompleted:
		return LevelSuccess
	case StageJobFailed:
		return LevelError
	default:
		return LevelInfo
	}
}

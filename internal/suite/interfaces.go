package suite

import (
	"context"
	"time"
)

// Persister stores the serialized job collection under a single key.
type Persister interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// Session exposes the signed-in identity and a fresh bearer token.
type Session interface {
	CurrentUser() (User, bool)
	Token(ctx context.Context) (string, error)
}

// JobLister returns a user's previously recorded jobs from a remote source.
type JobLister interface {
	ListJobs(ctx context.Context, userID string) ([]Job, error)
}

// ExternalSaver records a job the backend does not persist on its own.
type ExternalSaver interface {
	SaveExternalJob(ctx context.Context, userID string, job Job) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Ticker delivers periodic ticks until stopped.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

package sinks

import (
	"context"
	"sync"

	"github.com/JakeFAU/creator-suite/internal/events"
)

// RecentSink keeps the latest notifications in memory for the local API feed.
type RecentSink struct {
	mu    sync.RWMutex
	limit int
	items []events.Event
}

// NewRecentSink retains at most limit events (default 50).
func NewRecentSink(limit int) *RecentSink {
	if limit <= 0 {
		limit = 50
	}
	return &RecentSink{limit: limit}
}

// Consume appends user-facing events, evicting the oldest.
func (s *RecentSink) Consume(_ context.Context, batch []events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		if evt.Stage == events.StagePollError {
			continue
		}
		s.items = append(s.items, evt)
	}
	if over := len(s.items) - s.limit; over > 0 {
		s.items = append([]events.Event(nil), s.items[over:]...)
	}
	return nil
}

// Recent returns the retained events newest first.
func (s *RecentSink) Recent() []events.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]events.Event, len(s.items))
	for i, evt := range s.items {
		out[len(s.items)-1-i] = evt
	}
	return out
}

// Close implements events.Sink; it performs no action.
func (s *RecentSink) Close(context.Context) error {
	return nil
}

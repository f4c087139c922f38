// Package system provides the wall-clock implementation used outside tests.
package system

import (
	"time"

	"github.com/JakeFAU/creator-suite/internal/suite"
)

// Clock implements suite.Clock and the poller clock using the real time.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// NewTicker starts a real ticker firing every d.
func (Clock) NewTicker(d time.Duration) suite.Ticker {
	return ticker{t: time.NewTicker(d)}
}

type ticker struct {
	t *time.Ticker
}

func (k ticker) C() <-chan time.Time { return k.t.C }

func (k ticker) Stop() { k.t.Stop() }

// Package worker is the client side of the external Worker that performs
// one unit of work per call.
package worker

import (
	"context"
	"errors"
	"time"
)

// ErrNotReady means the Worker cannot take work yet (e.g. its page is still
// loading). The orchestrator retries once before counting a failure.
var ErrNotReady = errors.New("worker not ready")

// ErrNoWorker is returned for a lane without a configured Worker.
var ErrNoWorker = errors.New("no worker configured for lane")

type Outcome string

const (
	Success     Outcome = "success"
	NotFound    Outcome = "not_found"
	RateLimited Outcome = "rate_limited"
	Failure     Outcome = "failure"
)

func (o Outcome) Valid() bool {
	switch o {
	case Success, NotFound, RateLimited, Failure:
		return true
	}
	return false
}

type Result struct {
	Outcome    Outcome
	RetryAfter time.Duration
	Reason     string
}

// Worker processes a single target for a lane. A returned error other than
// ErrNotReady is treated like a Failure outcome.
type Worker interface {
	Process(ctx context.Context, lane, target string) (Result, error)
}

// Func adapts a function to Worker.
type Func func(ctx context.Context, lane, target string) (Result, error)

func (f Func) Process(ctx context.Context, lane, target string) (Result, error) {
	return f(ctx, lane, target)
}

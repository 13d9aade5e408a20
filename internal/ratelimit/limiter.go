// Package ratelimit implements the send-budget admission windows for the
// dispatch gateway and the fixed-window limiter protecting webhook ingestion.
//
// Three interchangeable budget limiters are provided:
//   - Window:      process-local, mutex-guarded (single-instance deployments)
//   - RedisWindow: Redis Lua script, atomic across instances
//   - SQLWindow:   counters table with a conditional UPDATE (see repository/postgres)
//
// All of them perform the check and the increment inside one atomic critical
// section. A separate check-then-increment is a race under concurrent senders
// and is deliberately not exposed.
package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Info is a read-only snapshot of a budget window, for pre-flight checks.
type Info struct {
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter is the admission contract the dispatch gateway depends on. The
// interface is identical whether the counters live in process memory, Redis,
// or a SQL table, so deployments can swap implementations without touching
// the gateway.
type Limiter interface {
	// CheckAndIncrement admits or rejects one send attempt. It never blocks:
	// when the budget is exhausted it returns Allowed=false immediately and
	// the caller decides whether to wait for ResetAt or abort.
	CheckAndIncrement(ctx context.Context) (Decision, error)

	// Decrement returns one unit of budget, used when a send that consumed
	// admission subsequently failed. It never drives the count below zero.
	Decrement(ctx context.Context) error

	// Peek reads the window without mutating it.
	Peek(ctx context.Context) (Info, error)
}

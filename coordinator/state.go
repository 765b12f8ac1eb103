// Package coordinator supervises asynchronous fetches keyed by a changing
// input (a search query, a book id). Only the most recently initiated request
// may change the visible state; results of superseded requests are dropped.
package coordinator

import (
	"errors"
	"time"
)

// ErrSuperseded is returned by Handle.Wait when a newer request replaced the
// one the handle belongs to.
var ErrSuperseded = errors.New("request superseded")

// ErrClosed is returned by Handle.Wait for requests made after Close.
var ErrClosed = errors.New("coordinator closed")

// Status is the fetch status of the tracked key.
type Status int

const (
	StatusIdle Status = iota
	StatusPending
	StatusSettled
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusPending:
		return "pending"
	case StatusSettled:
		return "settled"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// State is a snapshot of a coordinator.
//
// Value is meaningful when HasValue is set. A Pending state keeps the value of
// the same key while it is refetched. A Settled state with a non-nil Err
// reports a failed background refresh; the stale value is kept.
type State[T any] struct {
	Status     Status
	Key        string
	Value      T
	HasValue   bool
	Err        error
	UpdatedAt  time.Time
	Stale      bool
	Refreshing bool
	Token      uint64
}

// Loading reports whether a fetch for the current key is in flight.
func (s State[T]) Loading() bool {
	return s.Status == StatusPending || s.Refreshing
}

type entry[T any] struct {
	value     T
	fetchedAt time.Time
}

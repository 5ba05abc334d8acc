// Package provider defines the remote market-data client contract and its
// error taxonomy, with implementations for the Tushare HTTP API and the
// Alpaca market-data API.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tusync/internal/domain"
)

// Scope identifies what one remote call should fetch: a closed trade-date
// range (Start == End for a single day) and an optional explicit instrument
// set. An empty TsCodes means "all instruments" — the quota-cheapest shape
// for date-keyed providers.
type Scope struct {
	Start   time.Time
	End     time.Time
	TsCodes []string
}

// SingleDate reports whether the scope covers exactly one trading day.
func (s Scope) SingleDate() bool { return s.Start.Equal(s.End) }

// AllInstruments reports whether the scope covers the full universe.
func (s Scope) AllInstruments() bool { return len(s.TsCodes) == 0 }

// Client is the synchronous remote API contract the executor consumes.
// Implementations return rows or a *Error carrying a classification.
type Client interface {
	// FetchDaily retrieves daily bars for the scope in one remote call.
	FetchDaily(ctx context.Context, scope Scope) ([]domain.Bar, error)

	// ListInstruments retrieves the instrument catalog.
	ListInstruments(ctx context.Context) ([]domain.Instrument, error)
}

// ErrorKind classifies a failed remote call for retry purposes.
type ErrorKind int

const (
	// KindTimeout — the call exceeded its deadline. Transient.
	KindTimeout ErrorKind = iota
	// KindConnection — network-level failure. Transient.
	KindConnection
	// KindThrottled — the provider reported a rate or point limit. Transient;
	// the limiter's window state is the reason this should be rare.
	KindThrottled
	// KindAuth — bad or expired token. Permanent; poisons every later call.
	KindAuth
	// KindMalformed — the provider rejected the request shape. Permanent but
	// scoped to the one task.
	KindMalformed
)

func (k ErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindConnection:
		return "connection"
	case KindThrottled:
		return "throttled"
	case KindAuth:
		return "auth"
	case KindMalformed:
		return "malformed"
	}
	return "unknown"
}

// Error is a classified remote call failure.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// IsTransient reports whether the failure is worth retrying with backoff.
func IsTransient(err error) bool {
	var pe *Error
	if !errors.As(err, &pe) {
		// Unclassified failures are treated as transient; a genuinely broken
		// call will exhaust its retries and be recorded.
		return true
	}
	switch pe.Kind {
	case KindTimeout, KindConnection, KindThrottled:
		return true
	}
	return false
}

// IsAuth reports whether the failure is an authentication error, which
// aborts the remainder of a plan.
func IsAuth(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == KindAuth
}

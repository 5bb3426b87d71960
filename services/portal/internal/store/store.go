// Package store persists grants and application records.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a grant or application does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrGrantUnavailable is returned by SubmitApplication when the grant is
	// unknown, already consumed or expired at commit time.
	ErrGrantUnavailable = errors.New("store: grant unavailable")
)

// Tokens issues and tracks grants.
type Tokens interface {
	Issue(ctx context.Context, issuer, recipient string) (Grant, error)
	Lookup(ctx context.Context, token string) (Grant, error)
	ListByIssuer(ctx context.Context, issuer string) ([]Grant, error)
	MarkUsed(ctx context.Context, token string) error
	// ListExpiredUnused returns unconsumed grants whose expiry lies in [from, to).
	ListExpiredUnused(ctx context.Context, from, to time.Time) ([]Grant, error)
}

// Applications reads and reviews submitted records.
type Applications interface {
	Get(ctx context.Context, id uint64) (Application, error)
	GetByToken(ctx context.Context, token string) (Application, error)
	List(ctx context.Context, filter ListFilter) ([]Application, error)
	// UpdateReview applies r and returns the record before and after the change.
	UpdateReview(ctx context.Context, id uint64, r Review) (before, after Application, err error)
}

// Submitter consumes a grant and creates its application as one atomic step.
type Submitter interface {
	SubmitApplication(ctx context.Context, app Application) (Application, error)
}

// Store is the full persistence surface used by the portal.
type Store interface {
	Tokens
	Applications
	Submitter
	Ping(ctx context.Context) error
}

// Option configures a store implementation.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

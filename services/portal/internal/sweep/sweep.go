// Package sweep removes uploads left behind by links that expired without a submission.
package sweep

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"talencor/services/portal/internal/metrics"
	"talencor/services/portal/internal/store"
)

const (
	DefaultGrace    = 24 * time.Hour
	DefaultLookback = 30 * 24 * time.Hour
	DefaultInterval = time.Hour
)

// Deleter removes every upload stored for a token.
type Deleter interface {
	DeleteForToken(ctx context.Context, namespace string) (int, error)
}

// Result summarizes one pass.
type Result struct {
	Grants  int `json:"grants"`
	Deleted int `json:"deleted"`
	Failed  int `json:"failed"`
}

// Sweeper deletes the upload namespace of grants that expired unconsumed more
// than Grace ago and no more than Lookback ago.
type Sweeper struct {
	tokens   store.Tokens
	files    Deleter
	grace    time.Duration
	lookback time.Duration
	interval time.Duration
	now      func() time.Time
	log      zerolog.Logger
}

type Option func(*Sweeper)

func WithGrace(d time.Duration) Option {
	return func(s *Sweeper) {
		if d >= 0 {
			s.grace = d
		}
	}
}

func WithLookback(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.lookback = d
		}
	}
}

func WithInterval(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Sweeper) { s.log = l }
}

func New(tokens store.Tokens, files Deleter, opts ...Option) (*Sweeper, error) {
	if tokens == nil {
		return nil, errors.New("token store is required")
	}
	if files == nil {
		return nil, errors.New("file deleter is required")
	}
	s := &Sweeper{
		tokens:   tokens,
		files:    files,
		grace:    DefaultGrace,
		lookback: DefaultLookback,
		interval: DefaultInterval,
		now:      time.Now,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run performs a single pass. A failure on one grant is logged and the pass continues.
func (s *Sweeper) Run(ctx context.Context) (Result, error) {
	now := s.now().UTC()
	grants, err := s.tokens.ListExpiredUnused(ctx, now.Add(-s.lookback), now.Add(-s.grace))
	if err != nil {
		return Result{}, err
	}

	res := Result{Grants: len(grants)}
	for _, g := range grants {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		n, err := s.files.DeleteForToken(ctx, g.Token)
		res.Deleted += n
		metrics.SweepDeleted.Add(float64(n))
		if err != nil {
			res.Failed++
			s.log.Warn().Err(err).Str("token", g.Token).Msg("sweep token uploads")
			continue
		}
		if n > 0 {
			s.log.Info().Str("token", g.Token).Int("deleted", n).Msg("swept orphaned uploads")
		}
	}
	return res, nil
}

// Start runs a pass immediately and then every interval until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) error {
	if s == nil {
		return errors.New("nil sweeper")
	}

	s.runLogged(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runLogged(ctx)
		}
	}
}

func (s *Sweeper) runLogged(ctx context.Context) {
	res, err := s.Run(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.log.Error().Err(err).Msg("sweep pass failed")
		}
		return
	}
	s.log.Debug().Int("grants", res.Grants).Int("deleted", res.Deleted).Int("failed", res.Failed).Msg("sweep pass complete")
}

// Package sweeper clears expired password reset tickets on a cron schedule.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"edudesk.io/internal/obs"
)

// TicketStore removes reset tickets whose expiry is at or before now.
type TicketStore interface {
	ClearExpiredResetTickets(ctx context.Context, now time.Time) (int64, error)
}

// Sweeper periodically clears expired reset tickets. Redemption already
// refuses expired tickets; sweeping only keeps the columns tidy.
type Sweeper struct {
	store   TicketStore
	now     func() time.Time
	timeout time.Duration

	mu   sync.Mutex
	cron *cron.Cron
}

// Option configures Sweeper.
type Option func(*Sweeper)

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(s *Sweeper) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithTimeout bounds a single sweep.
func WithTimeout(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// New validates schedule (standard cron syntax or a descriptor such as
// "@every 15m") and registers the sweep job. Call Start to run it.
func New(store TicketStore, schedule string, opts ...Option) (*Sweeper, error) {
	if store == nil {
		return nil, errors.New("ticket store is required")
	}
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		return nil, errors.New("sweep schedule is required")
	}
	s := &Sweeper{
		store:   store,
		now:     time.Now,
		timeout: 30 * time.Second,
		cron:    cron.New(cron.WithLocation(time.UTC)),
	}
	for _, opt := range opts {
		opt(s)
	}
	if _, err := s.cron.AddFunc(schedule, s.tick); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

func (s *Sweeper) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	_, _ = s.RunOnce(ctx)
}

// RunOnce clears expired tickets immediately and reports how many were
// removed.
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	start := s.now()
	n, err := s.store.ClearExpiredResetTickets(ctx, start.UTC())
	if err != nil {
		obs.Logger().Error().Err(err).Msg("reset_sweep_failed")
		return 0, err
	}
	if n > 0 {
		obs.ResetTicketsSwept.Add(float64(n))
	}
	obs.Logger().Info().
		Int64("cleared", n).
		Dur("took", s.now().Sub(start)).
		Msg("reset_sweep_complete")
	return n, nil
}

// Start launches the scheduler in its own goroutine.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cron.Start()
}

// Stop halts scheduling and returns a context that is done once any running
// sweep has finished.
func (s *Sweeper) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cron.Stop()
}

package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"floor-price-bot/internal/logging"
)

// TickFunc is invoked once per interval with the bucket timestamp the tick
// belongs to.
type TickFunc func(ctx context.Context, bucket time.Time) error

// Options tune scheduler behaviour. With AlignToBucket set, ticks land on
// interval boundaries (12:00, 12:05, ...) so samples from different process
// lifetimes share bucket timestamps.
type Options struct {
	Interval      time.Duration
	AlignToBucket bool
	StartupDelay  time.Duration
	TickTimeout   time.Duration
}

// Scheduler drives periodic execution of sampling jobs.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
}

// New constructs a Scheduler instance.
func New(opts Options, logger zerolog.Logger) (*Scheduler, error) {
	if opts.Interval <= 0 {
		return nil, errors.New("scheduler: interval must be positive")
	}
	return &Scheduler{opts: opts, logger: logging.Component(logger, "scheduler")}, nil
}

// Run blocks, invoking the tick function each interval until ctx is
// cancelled. Tick errors are logged, never fatal.
func (s *Scheduler) Run(ctx context.Context, tick TickFunc) error {
	if s.opts.StartupDelay > 0 {
		timer := time.NewTimer(s.opts.StartupDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	if !s.opts.AlignToBucket {
		return s.runUnaligned(ctx, tick)
	}
	return s.runAligned(ctx, tick)
}

func (s *Scheduler) runUnaligned(ctx context.Context, tick TickFunc) error {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			s.execute(ctx, tick, now.UTC())
		}
	}
}

func (s *Scheduler) runAligned(ctx context.Context, tick TickFunc) error {
	next := s.nextBucket(time.Now().UTC())
	for {
		delay := time.Until(next)
		if delay < 0 {
			next = s.nextBucket(time.Now().UTC())
			delay = time.Until(next)
		}

		timer := time.NewTimer(delay)
		s.logger.Debug().Time("next_bucket", next).Msg("waiting for next bucket")

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		s.execute(ctx, tick, next)
		next = next.Add(s.opts.Interval)
	}
}

func (s *Scheduler) execute(ctx context.Context, tick TickFunc, bucket time.Time) {
	tickCtx := ctx
	if s.opts.TickTimeout > 0 {
		var cancel context.CancelFunc
		tickCtx, cancel = context.WithTimeout(ctx, s.opts.TickTimeout)
		defer cancel()
	}

	s.logger.Info().Time("bucket", bucket).Msg("executing scheduled tick")
	if err := tick(tickCtx, bucket); err != nil {
		s.logger.Error().Err(err).Time("bucket", bucket).Msg("tick execution failed")
	}
}

func (s *Scheduler) nextBucket(now time.Time) time.Time {
	bucket := now.Truncate(s.opts.Interval)
	if !bucket.After(now) {
		bucket = bucket.Add(s.opts.Interval)
	}
	return bucket
}

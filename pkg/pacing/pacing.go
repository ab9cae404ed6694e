// Package pacing schedules the presentation delay shown between an accepted
// answer and the next question.
//
// The delay never holds back data: the backend call runs concurrently and its
// result is handed to the caller once both the call and the delay are done.
// Cancelling the context ends the delay immediately.
package pacing

import (
	"context"
	"time"
)

// Default durations for the two phases of the delay.
const (
	DefaultThink  = 1000 * time.Millisecond
	DefaultSettle = 800 * time.Millisecond
)

// Stage names the part of the delay being signalled.
type Stage string

const (
	StageThinking Stage = "thinking" // "generating" indicator visible
	StageSettling Stage = "settling" // indicator hidden, next question pending
)

// Config holds the delay durations. Zero durations skip the phase.
type Config struct {
	Think  time.Duration `yaml:"think" mapstructure:"think"`
	Settle time.Duration `yaml:"settle" mapstructure:"settle"`
}

// DefaultConfig returns the standard 1s think plus 0.8s settle delay.
func DefaultConfig() Config {
	return Config{Think: DefaultThink, Settle: DefaultSettle}
}

// Disabled returns a config without any delay. Useful for tests and non-interactive callers.
func Disabled() Config {
	return Config{}
}

// Total returns the full delay duration.
func (c Config) Total() time.Duration {
	return c.Think + c.Settle
}

// Notifier is called when the thinking indicator toggles.
type Notifier func(ctx context.Context, active bool, stage Stage)

// Scheduler runs the two-phase delay.
type Scheduler struct {
	cfg    Config
	notify Notifier
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithNotifier sets the callback invoked on indicator changes.
func WithNotifier(fn Notifier) Option {
	return func(s *Scheduler) {
		s.notify = fn
	}
}

// New creates a Scheduler.
func New(cfg Config, opts ...Option) *Scheduler {
	s := &Scheduler{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the configured durations.
func (s *Scheduler) Config() Config {
	return s.cfg
}

// Wait blocks for the think phase and then the settle phase.
// The indicator is switched on when thinking starts and off when settling starts,
// and always switched off on return. Wait returns ctx.Err() when cancelled.
func (s *Scheduler) Wait(ctx context.Context) error {
	s.signal(ctx, true, StageThinking)
	if err := sleep(ctx, s.cfg.Think); err != nil {
		s.signal(ctx, false, StageThinking)
		return err
	}

	s.signal(ctx, false, StageSettling)
	return sleep(ctx, s.cfg.Settle)
}

func (s *Scheduler) signal(ctx context.Context, active bool, stage Stage) {
	if s.notify != nil {
		s.notify(ctx, active, stage)
	}
}

// Run executes call concurrently with the delay and returns the call's result
// once both have finished. A cancelled context wins over a late result.
func Run[T any](ctx context.Context, s *Scheduler, call func(context.Context) (T, error)) (T, error) {
	type result struct {
		val T
		err error
	}

	done := make(chan result, 1)
	go func() {
		v, err := call(ctx)
		done <- result{val: v, err: err}
	}()

	var zero T
	if err := s.Wait(ctx); err != nil {
		return zero, err
	}

	select {
	case r := <-done:
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return r.val, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

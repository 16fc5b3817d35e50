package mission

import (
	"context"
	"errors"
	"log"
	"time"
)

const defaultTickInterval = time.Second

// Runner drives a session's timed transitions in live use. Tests drive
// Advance directly with a fake clock instead.
type Runner struct {
	session  *Session
	interval time.Duration
	logger   *log.Logger
}

// RunnerOption customizes a runner.
type RunnerOption func(*Runner)

// WithTickInterval overrides the advance interval.
func WithTickInterval(interval time.Duration) RunnerOption {
	return func(r *Runner) {
		if interval > 0 {
			r.interval = interval
		}
	}
}

// WithRunnerLogger assigns a logger.
func WithRunnerLogger(logger *log.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

// NewRunner constructs a runner for the session.
func NewRunner(session *Session, opts ...RunnerOption) (*Runner, error) {
	if session == nil {
		return nil, errors.New("mission: nil session")
	}
	runner := &Runner{session: session, interval: defaultTickInterval}
	for _, opt := range opts {
		opt(runner)
	}
	return runner, nil
}

// Run advances the session every tick until it reaches a terminal phase or
// the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	if r == nil || r.session == nil {
		return errors.New("mission: nil runner")
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if err := r.session.Advance(ctx, now); err != nil {
				if r.logger != nil {
					r.logger.Printf("session advance failed alarm_id=%d err=%v", r.session.AlarmID(), err)
				}
				continue
			}
			if r.session.Terminal() {
				return nil
			}
		}
	}
}

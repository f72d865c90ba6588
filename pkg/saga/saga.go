// Package saga runs an ordered list of steps and undoes the committed ones when a later step fails.
package saga

import (
	"context"
	"fmt"
	"log/slog"

	"go.uber.org/multierr"
)

// Step is one unit of work. Compensate is optional and only runs if Do succeeded.
type Step struct {
	Name       string
	Do         func(ctx context.Context) error
	Compensate func(ctx context.Context) error
}

// Error reports the step that failed and any errors raised while compensating.
type Error struct {
	Step string
	Err  error
	// Compensation holds every compensating action failure, combined.
	Compensation error
	// Compensated lists the steps that were undone successfully, most recent first.
	Compensated []string
}

func (e *Error) Error() string {
	if e.Compensation != nil {
		return fmt.Sprintf("step %s: %v (compensation failed: %v)", e.Step, e.Err, e.Compensation)
	}
	return fmt.Sprintf("step %s: %v", e.Step, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Saga is a sequence of steps executed in order.
type Saga struct {
	name   string
	steps  []Step
	logger *slog.Logger
}

// New creates an empty saga.
func New(name string, logger *slog.Logger) *Saga {
	if logger == nil {
		logger = slog.Default()
	}
	return &Saga{
		name:   name,
		logger: logger.With("saga", name),
	}
}

// Add appends a step and returns the saga for chaining.
func (s *Saga) Add(step Step) *Saga {
	s.steps = append(s.steps, step)
	return s
}

// Run executes the steps in order. When a step fails, the steps that already
// succeeded are compensated in reverse order and a *Error is returned.
// Compensation ignores cancellation of ctx so an aborted request still cleans up.
func (s *Saga) Run(ctx context.Context) error {
	var done []Step

	for _, step := range s.steps {
		err := ctx.Err()
		if err == nil {
			err = step.Do(ctx)
		}
		if err != nil {
			s.logger.Warn("step failed, compensating", "step", step.Name, "error", err, "committed", len(done))
			return s.unwind(context.WithoutCancel(ctx), step.Name, err, done)
		}
		done = append(done, step)
		s.logger.Debug("step committed", "step", step.Name)
	}

	return nil
}

func (s *Saga) unwind(ctx context.Context, failed string, cause error, done []Step) *Error {
	sagaErr := &Error{Step: failed, Err: cause}

	for i := len(done) - 1; i >= 0; i-- {
		step := done[i]
		if step.Compensate == nil {
			continue
		}
		if err := step.Compensate(ctx); err != nil {
			s.logger.Error("compensation failed", "step", step.Name, "error", err)
			sagaErr.Compensation = multierr.Append(sagaErr.Compensation, fmt.Errorf("compensating %s: %w", step.Name, err))
			continue
		}
		sagaErr.Compensated = append(sagaErr.Compensated, step.Name)
	}

	return sagaErr
}

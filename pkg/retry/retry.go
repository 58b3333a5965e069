// Package retry runs an operation again with exponential backoff.
//
// The BlueST core never retries on its own: a failed Connect leaves the node
// Idle and returns the error. Callers that want to keep trying wrap the call
// with Do.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
)

// Policy describes how often and how long to retry. Zero fields take their
// default tag.
type Policy struct {
	// Attempts is the total number of tries, the first one included.
	Attempts     int           `yaml:"attempts" default:"3"`
	InitialDelay time.Duration `yaml:"initial_delay" default:"500ms"`
	MaxDelay     time.Duration `yaml:"max_delay" default:"8s"`
	Multiplier   float64       `yaml:"multiplier" default:"2"`
	// Jitter adds up to a quarter of the delay at random.
	Jitter bool `yaml:"jitter"`
}

// DefaultPolicy returns Policy with every default applied.
func DefaultPolicy() Policy {
	var p Policy
	defaults.SetDefaults(&p)
	return p
}

// Validate reports a policy Do cannot run.
func (p Policy) Validate() error {
	switch {
	case p.Attempts < 1:
		return fmt.Errorf("retry: attempts must be >= 1, got %d", p.Attempts)
	case p.InitialDelay < 0 || p.MaxDelay < 0:
		return errors.New("retry: delays cannot be negative")
	case p.MaxDelay < p.InitialDelay:
		return fmt.Errorf("retry: max delay %s is below initial delay %s", p.MaxDelay, p.InitialDelay)
	case p.Multiplier < 1:
		return fmt.Errorf("retry: multiplier must be >= 1, got %g", p.Multiplier)
	}
	return nil
}

// Delay returns the pause before try number attempt+1, without jitter.
// attempt starts at 1.
func (p Policy) Delay(attempt int) time.Duration {
	d := float64(p.InitialDelay)
	for i := 1; i < attempt; i++ {
		d *= p.Multiplier
		if d >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}
	return time.Duration(d)
}

// PermanentError stops Do at once.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent marks err as not worth retrying. A nil err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// ExhaustedError is returned once every attempt failed.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Do calls fn until it succeeds, returns a permanent error, ctx is done or
// the policy runs out of attempts. fn receives the 1-based attempt number.
func Do(ctx context.Context, p Policy, logger *logrus.Logger, fn func(ctx context.Context, attempt int) error) error {
	defaults.SetDefaults(&p)
	if err := p.Validate(); err != nil {
		return err
	}
	if logger == nil {
		logger = logrus.New()
	}

	var lastErr error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			return errors.Unwrap(err)
		}
		lastErr = err
		if attempt == p.Attempts {
			break
		}

		delay := p.Delay(attempt)
		if p.Jitter && delay >= 4 {
			delay += rand.N(delay / 4)
		}
		logger.WithFields(logrus.Fields{
			"attempt": attempt,
			"delay":   delay,
			"error":   err,
		}).Warn("Attempt failed, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry cancelled after attempt %d: %w", attempt, errors.Join(ctx.Err(), lastErr))
		case <-timer.C:
		}
	}
	return &ExhaustedError{Attempts: p.Attempts, Err: lastErr}
}

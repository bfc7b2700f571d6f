package publisher

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultRetryInitial is the initial retry delay
	DefaultRetryInitial = 100 * time.Millisecond
	// DefaultRetryMax is the max retry delay
	DefaultRetryMax = 2 * time.Second
	// DefaultRetryMultiplier is the backoff multiplier
	DefaultRetryMultiplier = 2.0
)

// RetryPolicy is a bounded exponential backoff
type RetryPolicy struct {
	MaxRetries int           // Retries after the first attempt (0 = none)
	Initial    time.Duration // Initial retry delay
	Max        time.Duration // Max retry delay
	Multiplier float64       // Backoff multiplier
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.Initial <= 0 {
		p.Initial = DefaultRetryInitial
	}
	if p.Max <= 0 {
		p.Max = DefaultRetryMax
	}
	if p.Multiplier < 1 {
		p.Multiplier = DefaultRetryMultiplier
	}
	return p
}

// permanentError marks a failure that retrying cannot fix
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func permanent(err error) error {
	return &permanentError{err: err}
}

// errStopped is returned when the publisher closes during a backoff sleep
var errStopped = errors.New("publisher closed during retry")

// withRetry runs attempt until it succeeds, fails permanently, the policy is
// exhausted or stopCh closes
func withRetry(name, target string, policy RetryPolicy, stopCh <-chan struct{}, attempt func() error) error {
	policy = policy.withDefaults()
	delay := policy.Initial
	attempts := 0

	for {
		err := attempt()
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}

		attempts++
		if attempts > policy.MaxRetries {
			if policy.MaxRetries == 0 {
				return err
			}
			return fmt.Errorf("exhausted max retries (%d) for %s: %w", policy.MaxRetries, target, err)
		}

		log.Warn().
			Err(err).
			Str("environment", name).
			Str("target", target).
			Int("attempt", attempts).
			Dur("retry_delay", delay).
			Msg("Failed to publish event, retrying")

		if !sleep(delay, stopCh) {
			return fmt.Errorf("%w: %v", errStopped, err)
		}

		delay = time.Duration(float64(delay) * policy.Multiplier)
		if delay > policy.Max {
			delay = policy.Max
		}
	}
}

// sleep returns false if stopCh closed first
func sleep(d time.Duration, stopCh <-chan struct{}) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-stopCh:
		return false
	}
}

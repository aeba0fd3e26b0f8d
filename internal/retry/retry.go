// Package retry models bounded retry with exponential backoff as an
// explicit state machine: attempt counter, backoff schedule, and terminal
// states, independent of how the caller schedules the waits.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/ethanbabel/crypto-yield-farming-bot/internal/logging"
)

// Config configures retry behavior
type Config struct {
	MaxAttempts  int           // Maximum number of attempts including the first
	InitialDelay time.Duration // Delay before the first retry
	MaxDelay     time.Duration // Cap on the delay between retries
	Multiplier   float64       // Multiplier for exponential backoff
	Jitter       float64       // Fraction of the delay randomized, in [0, 1]
}

// DefaultConfig returns a default retry configuration
// Pattern: 1s, 2s, 4s, 8s, 16s, max 60s, 20% jitter
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:  5,
		InitialDelay: 1 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.2,
	}
}

// State is the state of a retry machine
type State string

const (
	StatePending   State = "pending"   // next attempt may be made
	StateBackoff   State = "backoff"   // waiting before the next attempt
	StateSucceeded State = "succeeded" // terminal
	StateExhausted State = "exhausted" // terminal, attempt budget spent
)

// Machine tracks attempts against a bounded backoff schedule.
// It carries no goroutines or timers; callers drive it.
type Machine struct {
	config   *Config
	attempts int
	state    State
	lastErr  error
}

// NewMachine creates a retry machine in the pending state
func NewMachine(config *Config) *Machine {
	if config == nil {
		config = DefaultConfig()
	}
	return &Machine{config: config, state: StatePending}
}

// State returns the current state
func (m *Machine) State() State {
	return m.state
}

// Attempts returns the number of attempts recorded so far
func (m *Machine) Attempts() int {
	return m.attempts
}

// LastError returns the error from the most recent failed attempt
func (m *Machine) LastError() error {
	return m.lastErr
}

// RecordSuccess transitions the machine to the succeeded terminal state
func (m *Machine) RecordSuccess() {
	m.attempts++
	m.state = StateSucceeded
}

// RecordFailure records a failed attempt. It returns the backoff delay to
// wait before the next attempt, or ok=false when the budget is exhausted
// and the machine is terminal.
func (m *Machine) RecordFailure(err error) (delay time.Duration, ok bool) {
	m.attempts++
	m.lastErr = err

	if m.attempts >= m.config.MaxAttempts {
		m.state = StateExhausted
		return 0, false
	}

	m.state = StateBackoff
	return m.config.delayFor(m.attempts), true
}

// Terminal reports whether the machine reached a terminal state
func (m *Machine) Terminal() bool {
	return m.state == StateSucceeded || m.state == StateExhausted
}

// delayFor calculates the delay after the given attempt number (1-based)
func (c *Config) delayFor(attempt int) time.Duration {
	delay := float64(c.InitialDelay) * math.Pow(c.Multiplier, float64(attempt-1))
	if delay > float64(c.MaxDelay) {
		delay = float64(c.MaxDelay)
	}
	if c.Jitter > 0 {
		// Symmetric jitter around the nominal delay
		delay = delay * (1 - c.Jitter + 2*c.Jitter*rand.Float64())
	}
	return time.Duration(delay)
}

// Func is a function that can be retried
type Func func(ctx context.Context, attempt int) error

// Do runs fn under the machine's schedule, sleeping between attempts,
// until success, budget exhaustion, or context cancellation.
func Do(ctx context.Context, config *Config, fn Func) error {
	logger := logging.FromContext(ctx)
	machine := NewMachine(config)

	for {
		err := fn(ctx, machine.Attempts()+1)
		if err == nil {
			machine.RecordSuccess()
			if machine.Attempts() > 1 {
				logger.WithField("attempts", machine.Attempts()).Info("Operation succeeded after retry")
			}
			return nil
		}

		delay, ok := machine.RecordFailure(err)
		if !ok {
			logger.WithFields(map[string]interface{}{
				"attempts": machine.Attempts(),
				"error":    err.Error(),
			}).Error("Operation failed after max retry attempts")
			return fmt.Errorf("operation failed after %d attempts: %w", machine.Attempts(), err)
		}

		logger.WithFields(map[string]interface{}{
			"attempt": machine.Attempts(),
			"delay":   delay.String(),
			"error":   err.Error(),
		}).Warn("Operation failed, retrying with exponential backoff")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled after %d attempts: %w", machine.Attempts(), ctx.Err())
		}
	}
}

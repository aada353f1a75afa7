package app

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/bft-labs/digestship/internal/domain"
)

// Default reconnect backoff configuration values.
const (
	DefaultBackoffBase       = 1000 * time.Millisecond
	DefaultBackoffMax        = 30 * time.Second
	DefaultBackoffMaxAttempt = 30
)

// BackoffConfig configures the reconnect delay sequence
// min(Max, Base * 2^attempt).
type BackoffConfig struct {
	Base time.Duration
	Max  time.Duration

	// MaxAttempt caps the attempt counter. Base * 2^MaxAttempt must reach Max.
	MaxAttempt int

	// Jitter spreads each delay by ±Jitter (fraction in [0, 1)). Zero disables it.
	Jitter float64
}

// DefaultBackoffConfig returns the default reconnect backoff.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Base:       DefaultBackoffBase,
		Max:        DefaultBackoffMax,
		MaxAttempt: DefaultBackoffMaxAttempt,
	}
}

// Validate checks that the configuration yields a sequence that ends at Max.
func (c BackoffConfig) Validate() error {
	if c.Base <= 0 {
		return fmt.Errorf("%w: reconnect base delay must be positive", domain.ErrInvalidConfig)
	}
	if c.Max < c.Base {
		return fmt.Errorf("%w: reconnect max delay %v is below base delay %v", domain.ErrInvalidConfig, c.Max, c.Base)
	}
	if c.MaxAttempt < 0 {
		return fmt.Errorf("%w: reconnect attempt cap must not be negative", domain.ErrInvalidConfig)
	}
	if delayFor(c.Base, c.Max, c.MaxAttempt) != c.Max {
		return fmt.Errorf("%w: reconnect attempt cap %d never reaches max delay %v", domain.ErrInvalidConfig, c.MaxAttempt, c.Max)
	}
	if c.Jitter < 0 || c.Jitter >= 1 {
		return fmt.Errorf("%w: reconnect jitter must be in [0, 1)", domain.ErrInvalidConfig)
	}
	return nil
}

// delayFor computes min(max, base * 2^attempt) without overflowing.
func delayFor(base, max time.Duration, attempt int) time.Duration {
	if attempt >= 62 || base > max>>uint(attempt) {
		return max
	}
	d := base << uint(attempt)
	if d > max {
		return max
	}
	return d
}

// backoff tracks the reconnect attempt counter.
type backoff struct {
	cfg BackoffConfig

	mu      sync.Mutex
	attempt int
	rand    func() float64
}

// newBackoff creates a backoff at attempt 0.
func newBackoff(cfg BackoffConfig) *backoff {
	return &backoff{cfg: cfg, rand: rand.Float64}
}

// Next returns the delay for the current attempt and advances the counter,
// saturating at MaxAttempt.
func (b *backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	d := delayFor(b.cfg.Base, b.cfg.Max, b.attempt)
	if b.attempt < b.cfg.MaxAttempt {
		b.attempt++
	}

	if b.cfg.Jitter > 0 {
		j := float64(d) * b.cfg.Jitter * (b.rand()*2 - 1)
		d = time.Duration(float64(d) + j)
	}
	return d
}

// Reset sets the attempt counter back to 0.
func (b *backoff) Reset() {
	b.mu.Lock()
	b.attempt = 0
	b.mu.Unlock()
}

// Attempt returns the current attempt counter.
func (b *backoff) Attempt() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempt
}

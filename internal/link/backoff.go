package link

import (
	"context"
	"math/rand"
	"time"
)

// NextBackoffDelay returns the redial delay before attempt n (1-based). The delay grows by
// Multiplier per attempt up to MaxDelay; Jitter scales it by a factor in [0.5, 1.5).
func NextBackoffDelay(cfg BackoffConfig, n int, rng *rand.Rand) time.Duration {
	if cfg.InitialDelay <= 0 {
		return 0
	}
	growth := max(cfg.Multiplier, 1.0)
	delay := float64(cfg.InitialDelay)
	for i := 1; i < n; i++ {
		delay *= growth
		if cfg.MaxDelay > 0 && delay >= float64(cfg.MaxDelay) {
			delay = float64(cfg.MaxDelay)
			break
		}
	}
	if cfg.Jitter && n > 1 {
		factor := 0.5
		if rng != nil {
			factor += rng.Float64()
		}
		delay *= factor
	}
	return time.Duration(delay)
}

// Backoff tracks successive redial attempts for one caller.
type Backoff struct {
	cfg     BackoffConfig
	rng     *rand.Rand
	attempt int
}

func NewBackoff(cfg BackoffConfig) *Backoff {
	return &Backoff{cfg: cfg, rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// Attempt is the number of delays handed out since the last Reset.
func (b *Backoff) Attempt() int {
	return b.attempt
}

func (b *Backoff) Reset() {
	b.attempt = 0
}

// Wait sleeps for the next delay or until ctx ends.
func (b *Backoff) Wait(ctx context.Context) error {
	b.attempt++
	timer := time.NewTimer(NextBackoffDelay(b.cfg, b.attempt, b.rng))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

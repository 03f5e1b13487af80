package harvest

import (
	"context"
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// BackoffPolicy is the single retry/backoff policy shared by the fetch
// orchestrator and the frontier's extractor retries.
type BackoffPolicy struct {
	Rounds int
	Base   time.Duration
	Cap    time.Duration
}

// NewBackoffPolicy builds a policy with the engine defaults: three rounds,
// 2s base, 30s cap.
func NewBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		Rounds: 3,
		Base:   2 * time.Second,
		Cap:    30 * time.Second,
	}
}

// MaxRounds returns the configured round count, defaulting to 3.
func (p BackoffPolicy) MaxRounds() int {
	if p.Rounds <= 0 {
		return 3
	}
	return p.Rounds
}

// Delay returns the jittered wait before the round following attempt
// `round` (0-based). The exponential curve is capped, then half the delay is
// replaced with random jitter so workers do not thunder in lockstep.
func (p BackoffPolicy) Delay(round int) time.Duration {
	base := p.Base
	if base <= 0 {
		base = 2 * time.Second
	}
	cap := p.Cap
	if cap <= 0 {
		cap = 30 * time.Second
	}
	delay := float64(base) * math.Pow(2, float64(round))
	if delay > float64(cap) {
		delay = float64(cap)
	}
	half := time.Duration(delay / 2)
	return half + randomJitter(half)
}

// Sleep blocks for Delay(round) or until ctx is done, whichever comes first.
func (p BackoffPolicy) Sleep(ctx context.Context, round int) {
	sleepCtx(ctx, p.Delay(round))
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

package harvest

import (
	"context"
	"sync"
	"time"
)

// visitTracker provides thread-safe visited URL tracking within one run.
// It is distinct from the durable tracking store: this set only prevents
// redundant crawling in-process, while the store prevents redundant
// downloading across runs.
type visitTracker struct {
	seen sync.Map
}

func newVisitTracker() *visitTracker {
	return &visitTracker{}
}

// MarkIfNew stores (kind, url) if it has not been seen before and returns
// true on first sight.
func (t *visitTracker) MarkIfNew(kind ItemKind, url string) bool {
	if url == "" {
		return false
	}
	_, loaded := t.seen.LoadOrStore(string(kind)+"|"+url, struct{}{})
	return !loaded
}

// sleepCtx pauses for delay without holding any lock, returning early when
// ctx ends.
func sleepCtx(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// politenessDelay returns the fixed delay plus random jitter applied after
// each completed item.
func politenessDelay(base, jitter time.Duration) time.Duration {
	if base < 0 {
		base = 0
	}
	return base + randomJitter(jitter)
}

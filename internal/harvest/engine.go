package harvest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/docuflow/harvester/internal/metrics"
)

// EngineConfig controls scheduling and politeness.
type EngineConfig struct {
	// Concurrency is the worker pool width. Small values (1-5) keep the
	// engine polite toward target sites.
	Concurrency int
	// Delay is the fixed pause after each completed item; Jitter is added on
	// top at random.
	Delay  time.Duration
	Jitter time.Duration
}

// Engine is the composition root: it runs the frontier ahead of a bounded
// worker pool, checks the tracking store before every fetch, and reports a
// final summary. All per-item errors become failure records; only
// configuration errors abort a run before work begins.
type Engine struct {
	frontier *Frontier
	orch     *Orchestrator
	tracking TrackingStore
	queue    Queue
	clock    Clock
	cfg      EngineConfig
	logger   *zap.Logger

	mu      sync.Mutex
	summary Summary
}

// NewEngine wires the frontier, orchestrator and tracking store together.
func NewEngine(
	frontier *Frontier,
	orch *Orchestrator,
	tracking TrackingStore,
	queue Queue,
	clock Clock,
	cfg EngineConfig,
	logger *zap.Logger,
) *Engine {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		frontier: frontier,
		orch:     orch,
		tracking: tracking,
		queue:    queue,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run crawls the seeds to completion or interruption and returns the run
// summary. Partial failures do not make Run return an error; the summary
// carries them.
func (e *Engine) Run(ctx context.Context, seeds []Seed) (Summary, error) {
	runID := uuid.NewString()
	e.orch.SetRunID(runID)
	e.mu.Lock()
	e.summary = Summary{RunID: runID, Started: e.clock.Now()}
	e.mu.Unlock()

	e.logger.Info("harvest run starting",
		zap.String("run_id", runID),
		zap.Int("seeds", len(seeds)),
		zap.Int("concurrency", e.cfg.Concurrency),
	)

	frontierDone := make(chan error, 1)
	go func() {
		frontierDone <- e.frontier.Run(ctx, seeds)
	}()

	var wg sync.WaitGroup
	for i := 0; i < e.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.workerLoop(ctx)
		}()
	}
	wg.Wait()

	if err := <-frontierDone; err != nil && ctx.Err() == nil {
		e.logger.Error("frontier terminated with error", zap.Error(err))
	}

	e.mu.Lock()
	e.summary.Discovered = e.frontier.Discovered()
	e.summary.Finished = e.clock.Now()
	summary := e.snapshotLocked()
	e.mu.Unlock()

	e.logReport(summary)
	return summary, ctx.Err()
}

// Progress returns a point-in-time copy of the run summary, for the status
// server.
func (e *Engine) Progress() Summary {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.snapshotLocked()
	s.Discovered = e.frontier.Discovered()
	return s
}

func (e *Engine) workerLoop(ctx context.Context) {
	for {
		item, err := e.queue.Dequeue(ctx)
		if err != nil {
			return
		}
		e.processItem(ctx, item)

		if ctx.Err() != nil {
			return
		}
		sleepCtx(ctx, politenessDelay(e.cfg.Delay, e.cfg.Jitter))
	}
}

func (e *Engine) processItem(ctx context.Context, item WorkItem) {
	if e.tracking.IsAlreadyDone(ctx, item.URL) {
		e.count(func(s *Summary) { s.Skipped++ })
		metrics.ObserveItem("skipped")
		e.logger.Debug("already acquired, skipping", zap.String("url", item.URL))
		return
	}

	metrics.WorkerActive(1)
	_, err := e.orch.Acquire(ctx, item)
	metrics.WorkerActive(-1)

	switch {
	case err == nil:
		e.count(func(s *Summary) { s.Succeeded++ })
		metrics.ObserveItem("succeeded")
	case ctx.Err() != nil:
		// Interrupted mid-item; the next run resumes it.
	default:
		e.count(func(s *Summary) {
			s.Failed++
			s.FailedURLs = append(s.FailedURLs, item.URL)
		})
		metrics.ObserveItem("failed")
		e.logger.Error("item failed", zap.String("url", item.URL), zap.Error(err))
	}
}

func (e *Engine) count(update func(*Summary)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	update(&e.summary)
}

func (e *Engine) snapshotLocked() Summary {
	s := e.summary
	s.FailedURLs = append([]string(nil), e.summary.FailedURLs...)
	return s
}

func (e *Engine) logReport(s Summary) {
	e.logger.Info("harvest run finished",
		zap.String("run_id", s.RunID),
		zap.Int("discovered", s.Discovered),
		zap.Int("skipped", s.Skipped),
		zap.Int("succeeded", s.Succeeded),
		zap.Int("failed", s.Failed),
		zap.Duration("elapsed", s.Finished.Sub(s.Started)),
	)
	for _, url := range s.FailedURLs {
		e.logger.Warn("needs manual follow-up", zap.String("url", url))
	}
}

package harvest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/docuflow/harvester/internal/metrics"
)

// OrchestratorConfig controls per-item fetch behavior.
type OrchestratorConfig struct {
	// AttemptTimeout bounds a single strategy attempt. Stalled browser
	// downloads hang until this fires.
	AttemptTimeout time.Duration
	// PublishTopic, when non-empty, receives an event per acquired artifact.
	PublishTopic string
}

// Orchestrator turns one document work item into a validated artifact on
// disk, exactly once. Rather than naive retries of a single fetch method, it
// searches a small ordered strategy space, re-trying the whole space across
// backoff rounds to absorb transient site-side hiccups.
type Orchestrator struct {
	strategies []Strategy
	tracking   TrackingStore
	artifacts  ArtifactStore
	mirror     Mirror
	publisher  Publisher
	validator  Validator
	backoff    BackoffPolicy
	clock      Clock
	cfg        OrchestratorConfig
	logger     *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	runID string
}

// SetRunID stamps the acquisition events of subsequent Acquire calls with
// the active run. The engine calls this when a run starts, before any worker
// touches the orchestrator.
func (o *Orchestrator) SetRunID(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.runID = id
}

func (o *Orchestrator) currentRunID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.runID
}

// NewOrchestrator constructs an Orchestrator. mirror and publisher may be
// nil; strategies are tried in the order given.
func NewOrchestrator(
	strategies []Strategy,
	tracking TrackingStore,
	artifacts ArtifactStore,
	mirror Mirror,
	publisher Publisher,
	validator Validator,
	backoff BackoffPolicy,
	clock Clock,
	cfg OrchestratorConfig,
	logger *zap.Logger,
) (*Orchestrator, error) {
	if len(strategies) == 0 {
		return nil, fmt.Errorf("at least one fetch strategy is required")
	}
	if tracking == nil || artifacts == nil {
		return nil, fmt.Errorf("tracking store and artifact store are required")
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 45 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		strategies: strategies,
		tracking:   tracking,
		artifacts:  artifacts,
		mirror:     mirror,
		publisher:  publisher,
		validator:  validator,
		backoff:    backoff,
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
		locks:      make(map[string]*sync.Mutex),
	}, nil
}

// Acquire produces the artifact for item and returns its absolute path.
// Calling Acquire again after a recorded success performs no network
// activity. Per-URL mutual exclusion keeps two workers from evaluating the
// same record concurrently.
func (o *Orchestrator) Acquire(ctx context.Context, item WorkItem) (string, error) {
	lock := o.lockFor(item.URL)
	lock.Lock()
	defer lock.Unlock()

	// Resumability guarantee: a surviving success record short-circuits
	// before any network activity.
	if o.tracking.IsAlreadyDone(ctx, item.URL) {
		return o.artifacts.AbsPath(ArtifactRelPath(item)), nil
	}

	relPath := ArtifactRelPath(item)

	// A prior run may have written the file and crashed before recording.
	// Backfill the ledger instead of re-downloading.
	if data, err := o.artifacts.Open(relPath); err == nil {
		if o.validator.Validate(data, item.DocKind, "") == nil {
			if rerr := o.tracking.RecordSuccess(ctx, item.URL, relPath, o.metadataFor(item)); rerr != nil {
				return "", &TrackingStoreError{Err: rerr}
			}
			o.logger.Info("existing artifact adopted",
				zap.String("url", item.URL),
				zap.String("path", relPath),
			)
			return o.artifacts.AbsPath(relPath), nil
		}
	}

	path, err := o.fetchRounds(ctx, item, relPath)
	if err != nil {
		if ctx.Err() != nil {
			// Interrupted, not failed: leave no record so the next run
			// retries from the same point.
			return "", ctx.Err()
		}
		if rerr := o.tracking.RecordFailure(ctx, item.URL, o.metadataFor(item)); rerr != nil {
			o.logger.Error("record failure", zap.String("url", item.URL), zap.Error(rerr))
		}
		return "", err
	}
	return path, nil
}

func (o *Orchestrator) fetchRounds(ctx context.Context, item WorkItem, relPath string) (string, error) {
	dead := make(map[string]struct{}, len(o.strategies))
	var lastErr error

	rounds := o.backoff.MaxRounds()
	for round := 0; round < rounds; round++ {
		for _, strategy := range o.strategies {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			if _, skip := dead[strategy.Name()]; skip {
				continue
			}

			attempt := o.attemptOne(ctx, strategy, item)
			if attempt.Err == nil {
				path, err := o.commit(ctx, item, relPath, attempt)
				if err == nil {
					return path, nil
				}
				// Validation rejects count as transient fetch failures;
				// fall through to the next strategy.
				var verr *ValidationError
				if !errors.As(err, &verr) {
					return "", err
				}
				lastErr = err
				continue
			}

			lastErr = attempt.Err
			if IsPermanent(attempt.Err) {
				dead[strategy.Name()] = struct{}{}
			}
		}

		if len(dead) == len(o.strategies) {
			break
		}
		if round < rounds-1 {
			delay := o.backoff.Delay(round)
			metrics.ObserveBackoff(delay.Seconds())
			o.logger.Debug("round exhausted, backing off",
				zap.String("url", item.URL),
				zap.Int("round", round+1),
				zap.Duration("delay", delay),
			)
			sleepCtx(ctx, delay)
		}
	}

	if err := o.artifacts.Remove(relPath); err != nil {
		o.logger.Debug("partial artifact cleanup", zap.String("path", relPath), zap.Error(err))
	}
	if lastErr == nil {
		lastErr = Transientf("no strategy produced bytes")
	}
	return "", fmt.Errorf("all strategies exhausted for %s: %w", item.URL, lastErr)
}

func (o *Orchestrator) attemptOne(ctx context.Context, strategy Strategy, item WorkItem) fetchResult {
	attemptCtx, cancel := context.WithTimeout(ctx, o.cfg.AttemptTimeout)
	defer cancel()

	start := o.clock.Now()
	data, contentType, err := strategy.Attempt(attemptCtx, item)
	elapsed := o.clock.Now().Sub(start)

	if err != nil {
		err = ClassifyNetErr(err)
		result := "transient"
		if IsPermanent(err) {
			result = "permanent"
		}
		metrics.ObserveAttempt(strategy.Name(), result)
		o.logger.Warn("fetch attempt failed",
			zap.String("url", item.URL),
			zap.String("strategy", strategy.Name()),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return fetchResult{Err: err}
	}

	metrics.ObserveAttempt(strategy.Name(), "success")
	o.logger.Debug("fetch attempt succeeded",
		zap.String("url", item.URL),
		zap.String("strategy", strategy.Name()),
		zap.Int("bytes", len(data)),
		zap.Duration("elapsed", elapsed),
	)
	return fetchResult{Strategy: strategy.Name(), Data: data, ContentType: contentType}
}

// commit validates the payload, writes it atomically, and records success.
func (o *Orchestrator) commit(ctx context.Context, item WorkItem, relPath string, res fetchResult) (string, error) {
	if err := o.validator.Validate(res.Data, item.DocKind, res.ContentType); err != nil {
		o.logger.Warn("downloaded bytes rejected",
			zap.String("url", item.URL),
			zap.String("strategy", res.Strategy),
			zap.Int("bytes", len(res.Data)),
			zap.Error(err),
		)
		return "", err
	}

	absPath, err := o.artifacts.Put(ctx, relPath, res.Data)
	if err != nil {
		return "", fmt.Errorf("write artifact %s: %w", relPath, err)
	}
	if err := o.tracking.RecordSuccess(ctx, item.URL, relPath, o.metadataFor(item)); err != nil {
		return "", &TrackingStoreError{Err: err}
	}
	metrics.ObserveArtifact(len(res.Data))

	o.mirrorAndPublish(ctx, item, relPath, res)

	o.logger.Info("document acquired",
		zap.String("url", item.URL),
		zap.String("strategy", res.Strategy),
		zap.String("path", absPath),
		zap.Int("bytes", len(res.Data)),
	)
	return absPath, nil
}

func (o *Orchestrator) mirrorAndPublish(ctx context.Context, item WorkItem, relPath string, res fetchResult) {
	if o.mirror != nil {
		if err := o.mirror.Upload(ctx, relPath, res.Data); err != nil {
			o.logger.Warn("mirror upload failed", zap.String("path", relPath), zap.Error(err))
		}
	}
	if o.publisher == nil || o.cfg.PublishTopic == "" {
		return
	}
	payload := map[string]any{
		"run_id":    o.currentRunID(),
		"url":       item.URL,
		"path":      relPath,
		"bytes":     len(res.Data),
		"strategy":  res.Strategy,
		"timestamp": o.clock.Now().Format(time.RFC3339),
	}
	if _, err := o.publisher.Publish(ctx, o.cfg.PublishTopic, payload); err != nil {
		o.logger.Warn("publish acquisition event failed", zap.String("url", item.URL), zap.Error(err))
	}
}

func (o *Orchestrator) metadataFor(item WorkItem) map[string]string {
	meta := map[string]string{}
	if item.SuggestedName != "" {
		meta["title"] = item.SuggestedName
	}
	if item.Category != "" {
		meta["category"] = item.Category
	}
	if ref := item.Referer(); ref != "" {
		meta["referer"] = ref
	}
	if len(meta) == 0 {
		return nil
	}
	return meta
}

func (o *Orchestrator) lockFor(url string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	if lock, ok := o.locks[url]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	o.locks[url] = lock
	return lock
}

type fetchResult struct {
	Strategy    string
	Data        []byte
	ContentType string
	Err         error
}

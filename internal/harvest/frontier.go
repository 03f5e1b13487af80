package harvest

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/docuflow/harvester/internal/metrics"
)

// FrontierConfig bounds crawl discovery.
type FrontierConfig struct {
	// MaxPages caps listing pagination per seed, even when the extractor
	// keeps reporting a next page.
	MaxPages int
	// MaxDepth caps crawl distance from a seed listing page. Detail pages
	// sit at depth 1, their documents at depth 2.
	MaxDepth int
}

// Frontier drives paginated crawl discovery: listing pages yield detail
// pages, detail pages yield document work items. Discovery runs ahead
// single-threadedly per seed to preserve pagination ordering; only the
// workers downstream block on document I/O.
type Frontier struct {
	extractor Extractor
	queue     Queue
	backoff   BackoffPolicy
	visited   *visitTracker
	cfg       FrontierConfig
	logger    *zap.Logger

	discovered atomic.Int64
}

// NewFrontier constructs a Frontier feeding queue from extractor output.
func NewFrontier(extractor Extractor, queue Queue, backoff BackoffPolicy, cfg FrontierConfig, logger *zap.Logger) (*Frontier, error) {
	if extractor == nil {
		return nil, fmt.Errorf("extractor is required")
	}
	if queue == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 50
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Frontier{
		extractor: extractor,
		queue:     queue,
		backoff:   backoff,
		visited:   newVisitTracker(),
		cfg:       cfg,
		logger:    logger,
	}, nil
}

// Run crawls every seed to exhaustion or until ctx ends, then closes the
// queue. Per-seed errors are logged; discovery continues with the next seed.
func (f *Frontier) Run(ctx context.Context, seeds []Seed) error {
	defer f.queue.Close()

	for _, seed := range seeds {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := f.crawlSeed(ctx, seed); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			f.logger.Error("seed crawl failed",
				zap.String("seed", seed.URL),
				zap.String("category", seed.Category),
				zap.Error(err),
			)
		}
	}
	return nil
}

// Discovered returns the number of document items handed downstream.
func (f *Frontier) Discovered() int {
	return int(f.discovered.Load())
}

func (f *Frontier) crawlSeed(ctx context.Context, seed Seed) error {
	pageURL := seed.URL
	for page := 0; page < f.cfg.MaxPages && pageURL != ""; page++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !f.visited.MarkIfNew(KindListing, pageURL) {
			break
		}

		detailURLs, nextPage, err := f.listingWithRetry(ctx, pageURL)
		if err != nil {
			return fmt.Errorf("listing %s: %w", pageURL, err)
		}
		f.logger.Info("listing page processed",
			zap.String("url", pageURL),
			zap.Int("page", page+1),
			zap.Int("details", len(detailURLs)),
		)

		for _, detailURL := range detailURLs {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := f.crawlDetail(ctx, seed, pageURL, detailURL); err != nil {
				f.logger.Warn("detail page skipped",
					zap.String("url", detailURL),
					zap.Error(err),
				)
			}
		}
		pageURL = nextPage
	}
	return nil
}

func (f *Frontier) crawlDetail(ctx context.Context, seed Seed, listingURL, detailURL string) error {
	const detailDepth = 1
	if detailDepth > f.cfg.MaxDepth {
		return nil
	}
	if !f.visited.MarkIfNew(KindDetail, detailURL) {
		return nil
	}

	links, err := f.documentsWithRetry(ctx, detailURL)
	if err != nil {
		return err
	}

	for _, link := range links {
		if detailDepth+1 > f.cfg.MaxDepth {
			return nil
		}
		if !f.visited.MarkIfNew(KindDocument, link.URL) {
			continue
		}
		item := WorkItem{
			URL:           link.URL,
			Kind:          KindDocument,
			DocKind:       DocKindForURL(link.URL),
			Depth:         detailDepth + 1,
			RefererChain:  []string{listingURL, detailURL},
			SuggestedName: link.SuggestedName,
			Category:      seed.Category,
		}
		if err := f.queue.Enqueue(ctx, item); err != nil {
			return fmt.Errorf("enqueue %s: %w", link.URL, err)
		}
		f.discovered.Add(1)
		metrics.ObserveItem("discovered")
	}
	return nil
}

// listingWithRetry applies the shared backoff policy to extractor failures,
// since listing fetches suffer the same transient hiccups as documents.
func (f *Frontier) listingWithRetry(ctx context.Context, pageURL string) ([]string, string, error) {
	var lastErr error
	for round := 0; round < f.backoff.MaxRounds(); round++ {
		detailURLs, nextPage, err := f.extractor.ListingLinks(ctx, pageURL)
		if err == nil {
			return detailURLs, nextPage, nil
		}
		lastErr = err
		if ctx.Err() != nil || IsPermanent(err) {
			break
		}
		f.backoff.Sleep(ctx, round)
	}
	return nil, "", lastErr
}

func (f *Frontier) documentsWithRetry(ctx context.Context, detailURL string) ([]DocumentLink, error) {
	var lastErr error
	for round := 0; round < f.backoff.MaxRounds(); round++ {
		links, err := f.extractor.DocumentLinks(ctx, detailURL)
		if err == nil {
			return links, nil
		}
		lastErr = err
		if ctx.Err() != nil || IsPermanent(err) {
			break
		}
		f.backoff.Sleep(ctx, round)
	}
	return nil, lastErr
}

// Package browser contains the chromedp-backed fetch strategies: native
// download capture, in-page scripted fetch, and network interception. All
// three share one headless Chrome allocator; each work item gets its own tab
// so concurrent workers never cross-talk through a shared navigation.
package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// Config controls the shared browser allocator.
type Config struct {
	// MaxParallel bounds concurrently open tabs across all strategies.
	MaxParallel int
	UserAgent   string
	// NavTimeout bounds a single navigation, including forced-download
	// responses that never fire a load event.
	NavTimeout time.Duration
	// RefererSettle is the pause after replaying each referer page, giving
	// the site time to set cookies.
	RefererSettle time.Duration
}

// Provider owns the headless Chrome exec allocator and hands out per-item
// tab contexts to the strategies.
type Provider struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewProvider starts (lazily) a headless Chrome allocator.
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 30 * time.Second
	}
	if cfg.RefererSettle <= 0 {
		cfg.RefererSettle = 2 * time.Second
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Provider{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close cancels the allocator context, shutting the browser down.
func (p *Provider) Close() {
	p.allocCancel()
}

// newTab acquires a parallelism slot and opens a fresh tab bounded by the
// caller's context. The returned cancel releases both.
func (p *Provider) newTab(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if err := p.acquire(ctx); err != nil {
		return nil, nil, err
	}

	tabCtx, tabCancel := chromedp.NewContext(p.allocator)
	bounded, boundedCancel := context.WithCancel(tabCtx)

	// Propagate caller cancellation into the tab.
	stop := context.AfterFunc(ctx, boundedCancel)

	cancel := func() {
		stop()
		boundedCancel()
		tabCancel()
		p.release()
	}
	return bounded, cancel, nil
}

func (p *Provider) acquire(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	select {
	case p.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("browser slot wait canceled: %w", ctx.Err())
	}
}

func (p *Provider) release() {
	if p.limiter == nil {
		return
	}
	select {
	case <-p.limiter:
	default:
	}
}

// sessionSetup enables the network domain and applies the user agent.
func (p *Provider) sessionSetup() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if p.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(p.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

// replayReferers walks the item's navigation path so the final document
// request carries a live session: cookies, referer, and whatever the site's
// scripts stash along the way.
func (p *Provider) replayReferers(ctx context.Context, chain []string) error {
	for _, ref := range chain {
		if err := chromedp.Run(ctx,
			chromedp.Navigate(ref),
			chromedp.Sleep(p.cfg.RefererSettle),
		); err != nil {
			return fmt.Errorf("replay referer %s: %w", ref, err)
		}
	}
	return nil
}

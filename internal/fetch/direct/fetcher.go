// Package direct implements the plain-HTTP fetch strategy using gocolly.
// It is the cheapest strategy: no browser engine, one GET with a realistic
// header set. Sites that fingerprint TLS or require a scripted session
// typically answer it with a 403, at which point the browser strategies take
// over.
package direct

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/docuflow/harvester/internal/harvest"
)

// StrategyName identifies this strategy in logs and metrics.
const StrategyName = "direct_http"

const defaultAccept = "application/pdf,text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Fetcher implements harvest.Strategy over a cloned colly collector per
// attempt.
type Fetcher struct {
	cfg           Config
	transport     http.RoundTripper
	baseCollector *colly.Collector
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true

	transport := newHTTPTransport()
	c.WithTransport(transport)

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Fetcher{
		cfg:           cfg,
		transport:     transport,
		baseCollector: c,
	}
}

// Name implements harvest.Strategy.
func (f *Fetcher) Name() string {
	return StrategyName
}

// Attempt executes a single GET with Referer set to the last entry of the
// item's referer chain.
func (f *Fetcher) Attempt(ctx context.Context, item harvest.WorkItem) ([]byte, string, error) {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.SetRequestTimeout(f.cfg.Timeout)

	var (
		body        []byte
		contentType string
		status      int
		fetchErr    error
	)

	collector.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", defaultAccept)
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
		if ref := item.Referer(); ref != "" {
			r.Headers.Set("Referer", ref)
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		contentType = r.Headers.Get("Content-Type")
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
		fetchErr = err
	})

	visitErr, err := f.visit(ctx, collector, item.URL)
	if err != nil {
		return nil, "", err
	}
	switch {
	case status != 0:
		if serr := harvest.ClassifyStatus(status); serr != nil {
			return nil, "", serr
		}
	case fetchErr != nil:
		return nil, "", harvest.ClassifyNetErr(fetchErr)
	case visitErr != nil:
		return nil, "", harvest.ClassifyNetErr(visitErr)
	}
	return body, contentType, nil
}

// visit runs the blocking collector call on a goroutine so the attempt
// honors context cancellation. The first return value is colly's own error;
// the second fires only on cancellation.
func (f *Fetcher) visit(ctx context.Context, collector *colly.Collector, url string) (error, error) {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("direct fetch canceled: %w", ctx.Err())
	case err := <-done:
		return err, nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}

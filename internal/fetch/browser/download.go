package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"

	"github.com/docuflow/harvester/internal/harvest"
)

// DownloadStrategyName identifies the native-download strategy.
const DownloadStrategyName = "browser_download"

// DownloadStrategy captures the browser's native download stream. It works
// when the server forces a Content-Disposition attachment; servers that
// render the PDF inline never fire the download events, so the attempt ends
// at the navigation timeout and the orchestrator falls back.
type DownloadStrategy struct {
	provider *Provider
}

// NewDownloadStrategy builds the strategy on a shared provider.
func NewDownloadStrategy(provider *Provider) *DownloadStrategy {
	return &DownloadStrategy{provider: provider}
}

// Name implements harvest.Strategy.
func (s *DownloadStrategy) Name() string {
	return DownloadStrategyName
}

// Attempt replays the referer chain, registers the download listener before
// navigating, and waits for the browser to report the stream complete.
func (s *DownloadStrategy) Attempt(ctx context.Context, item harvest.WorkItem) ([]byte, string, error) {
	tabCtx, cancel, err := s.provider.newTab(ctx)
	if err != nil {
		return nil, "", err
	}
	defer cancel()

	stagingDir, err := os.MkdirTemp("", "harvester-dl-*")
	if err != nil {
		return nil, "", fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	done := make(chan string, 1)
	failed := make(chan error, 1)
	var guid string

	// The listener must be installed before navigation: forced downloads
	// begin before the load event.
	chromedp.ListenTarget(tabCtx, func(ev any) {
		switch e := ev.(type) {
		case *browser.EventDownloadWillBegin:
			guid = e.GUID
		case *browser.EventDownloadProgress:
			switch e.State {
			case browser.DownloadProgressStateCompleted:
				select {
				case done <- e.GUID:
				default:
				}
			case browser.DownloadProgressStateCanceled:
				select {
				case failed <- harvest.Transientf("browser canceled download"):
				default:
				}
			}
		}
	})

	if err := chromedp.Run(tabCtx, s.provider.sessionSetup()); err != nil {
		return nil, "", harvest.ClassifyNetErr(err)
	}
	if err := s.provider.replayReferers(tabCtx, item.RefererChain); err != nil {
		return nil, "", harvest.ClassifyNetErr(err)
	}

	if err := chromedp.Run(tabCtx,
		browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllowAndName).
			WithDownloadPath(stagingDir).
			WithEventsEnabled(true),
	); err != nil {
		return nil, "", harvest.ClassifyNetErr(err)
	}

	// Navigation to an attachment aborts with net::ERR_ABORTED once the
	// download takes over; that is the success path here.
	navErr := chromedp.Run(tabCtx, chromedp.Navigate(item.URL))
	if navErr != nil && !isDownloadAbort(navErr) {
		return nil, "", harvest.ClassifyNetErr(navErr)
	}

	waitCtx, waitCancel := context.WithTimeout(tabCtx, s.provider.cfg.NavTimeout)
	defer waitCancel()

	select {
	case completed := <-done:
		if guid == "" {
			guid = completed
		}
		data, err := os.ReadFile(filepath.Join(stagingDir, guid))
		if err != nil {
			return nil, "", harvest.Transientf("read downloaded stream: %v", err)
		}
		return data, "", nil
	case err := <-failed:
		return nil, "", err
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		// Inline rendering: the server never triggered a download event.
		return nil, "", harvest.Transientf("no download event before timeout")
	}
}

func isDownloadAbort(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return strings.Contains(err.Error(), "net::ERR_ABORTED")
}

package browser

import (
	"context"
	"strings"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/docuflow/harvester/internal/harvest"
)

// InterceptStrategyName identifies the network-interception strategy.
const InterceptStrategyName = "network_intercept"

// InterceptStrategy watches the tab's network traffic for the document
// response and lifts the body straight out of the protocol, which captures
// bytes even when the final rendered page is not the document itself (signed
// URL gateways, viewer redirects). The listener lives on the per-item tab
// context, so closing the tab tears it down; nothing leaks into the next
// work item.
type InterceptStrategy struct {
	provider *Provider
}

// NewInterceptStrategy builds the strategy on a shared provider.
func NewInterceptStrategy(provider *Provider) *InterceptStrategy {
	return &InterceptStrategy{provider: provider}
}

// Name implements harvest.Strategy.
func (s *InterceptStrategy) Name() string {
	return InterceptStrategyName
}

type interceptedResponse struct {
	requestID   network.RequestID
	contentType string
	status      int
}

// Attempt installs the response watcher scoped to the target URL, triggers
// navigation, and reads the captured response body once loading finishes.
func (s *InterceptStrategy) Attempt(ctx context.Context, item harvest.WorkItem) ([]byte, string, error) {
	tabCtx, cancel, err := s.provider.newTab(ctx)
	if err != nil {
		return nil, "", err
	}
	defer cancel()

	matched := make(chan interceptedResponse, 1)
	finished := make(chan struct{}, 1)
	var pending network.RequestID

	chromedp.ListenTarget(tabCtx, func(ev any) {
		switch e := ev.(type) {
		case *network.EventResponseReceived:
			if e.Response == nil || !urlMatches(e.Response.URL, item.URL) {
				return
			}
			pending = e.RequestID
			select {
			case matched <- interceptedResponse{
				requestID:   e.RequestID,
				contentType: e.Response.MimeType,
				status:      int(e.Response.Status),
			}:
			default:
			}
		case *network.EventLoadingFinished:
			if e.RequestID == pending && pending != "" {
				select {
				case finished <- struct{}{}:
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

	navErr := chromedp.Run(tabCtx, chromedp.Navigate(item.URL))
	if navErr != nil && !isDownloadAbort(navErr) {
		return nil, "", harvest.ClassifyNetErr(navErr)
	}

	waitCtx, waitCancel := context.WithTimeout(tabCtx, s.provider.cfg.NavTimeout)
	defer waitCancel()

	var captured interceptedResponse
	select {
	case captured = <-matched:
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		return nil, "", harvest.Transientf("document response never observed")
	}

	if err := harvest.ClassifyStatus(captured.status); err != nil {
		return nil, "", err
	}

	// The body is only addressable after loading finishes for the request.
	select {
	case <-finished:
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		return nil, "", harvest.Transientf("document response never finished loading")
	}

	var body []byte
	err = chromedp.Run(tabCtx, chromedp.ActionFunc(func(runCtx context.Context) error {
		data, berr := network.GetResponseBody(captured.requestID).Do(runCtx)
		if berr != nil {
			return berr
		}
		body = data
		return nil
	}))
	if err != nil {
		return nil, "", harvest.ClassifyNetErr(err)
	}
	return body, captured.contentType, nil
}

// urlMatches compares ignoring scheme differences and trailing slashes;
// gateways frequently rewrite one or the other mid-redirect.
func urlMatches(observed, target string) bool {
	return normalizeForMatch(observed) == normalizeForMatch(target)
}

func normalizeForMatch(raw string) string {
	raw = strings.TrimPrefix(raw, "http://")
	raw = strings.TrimPrefix(raw, "https://")
	return strings.TrimSuffix(raw, "/")
}

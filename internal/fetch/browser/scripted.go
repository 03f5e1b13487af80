package browser

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/docuflow/harvester/internal/harvest"
)

// ScriptedStrategyName identifies the in-page fetch strategy.
const ScriptedStrategyName = "in_page_fetch"

// fetchScript runs inside the authenticated page: it GETs the document with
// the page's live cookies and returns the body base64-encoded, or an
// "ERR:<status>" sentinel the host side classifies. Encoding happens in 32KB
// chunks; building one giant binary string trips V8 limits on large PDFs.
const fetchScript = `(async (url) => {
	const response = await fetch(url, {
		method: 'GET',
		credentials: 'include',
		headers: {
			'Accept': 'application/pdf,application/octet-stream,*/*',
		},
	});
	if (!response.ok) {
		return 'ERR:' + response.status;
	}
	const buffer = await response.arrayBuffer();
	const bytes = new Uint8Array(buffer);
	let binary = '';
	const chunk = 0x8000;
	for (let i = 0; i < bytes.length; i += chunk) {
		binary += String.fromCharCode.apply(null, bytes.subarray(i, i + chunk));
	}
	return 'CT:' + (response.headers.get('content-type') || '') + ';B64:' + btoa(binary);
})(%q)`

// ScriptedStrategy performs the HTTP GET from inside the browser page, so
// the request carries the page's cookies, headers, and TLS fingerprint. It
// defeats bot detection that blocks out-of-browser clients but is bound by
// CORS when the document is cross-origin from the detail page.
type ScriptedStrategy struct {
	provider *Provider
}

// NewScriptedStrategy builds the strategy on a shared provider.
func NewScriptedStrategy(provider *Provider) *ScriptedStrategy {
	return &ScriptedStrategy{provider: provider}
}

// Name implements harvest.Strategy.
func (s *ScriptedStrategy) Name() string {
	return ScriptedStrategyName
}

// Attempt navigates the referer chain, then evaluates the fetch script in
// the last page's context.
func (s *ScriptedStrategy) Attempt(ctx context.Context, item harvest.WorkItem) ([]byte, string, error) {
	tabCtx, cancel, err := s.provider.newTab(ctx)
	if err != nil {
		return nil, "", err
	}
	defer cancel()

	if err := chromedp.Run(tabCtx, s.provider.sessionSetup()); err != nil {
		return nil, "", harvest.ClassifyNetErr(err)
	}

	chain := item.RefererChain
	if len(chain) == 0 {
		// No context page to run in; fetch from the document's own origin.
		chain = []string{item.URL}
	}
	if err := s.provider.replayReferers(tabCtx, chain); err != nil {
		return nil, "", harvest.ClassifyNetErr(err)
	}

	var result string
	script := fmt.Sprintf(fetchScript, item.URL)
	err = chromedp.Run(tabCtx, chromedp.Evaluate(script, &result,
		func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithAwaitPromise(true)
		},
	))
	if err != nil {
		return nil, "", harvest.ClassifyNetErr(err)
	}

	return decodeScriptResult(result)
}

// decodeScriptResult unwraps the script's sentinel framing.
func decodeScriptResult(result string) ([]byte, string, error) {
	if status, ok := strings.CutPrefix(result, "ERR:"); ok {
		code, err := strconv.Atoi(status)
		if err != nil {
			return nil, "", harvest.Transientf("in-page fetch failed: %s", status)
		}
		return nil, "", harvest.ClassifyStatus(code)
	}

	rest, ok := strings.CutPrefix(result, "CT:")
	if !ok {
		return nil, "", harvest.Transientf("unexpected in-page fetch result")
	}
	contentType, encoded, ok := strings.Cut(rest, ";B64:")
	if !ok {
		return nil, "", harvest.Transientf("unexpected in-page fetch result")
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, "", harvest.Transientf("decode in-page fetch payload: %v", err)
	}
	return data, contentType, nil
}

// Package selector implements a configuration-driven Extractor: CSS
// selectors name the listing links, the next-page link, and the document
// links, so a new site needs a selector set rather than code. Sites whose
// markup defeats plain selectors supply their own Extractor instead.
package selector

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/docuflow/harvester/internal/harvest"
)

// Rules is the selector set for one site family.
type Rules struct {
	// DetailLink selects anchors on a listing page that lead to detail
	// pages.
	DetailLink string `mapstructure:"detail_link"`
	// NextPage selects the pagination anchor; empty disables pagination.
	NextPage string `mapstructure:"next_page"`
	// DocumentLink selects anchors on a detail page that reference
	// documents.
	DocumentLink string `mapstructure:"document_link"`
	// TitleAttr optionally names an attribute holding the document title;
	// the anchor text is used otherwise.
	TitleAttr string `mapstructure:"title_attr"`
}

// Extractor fetches pages with a plain HTTP client and applies Rules.
type Extractor struct {
	rules     Rules
	client    *http.Client
	userAgent string
}

// New builds an Extractor. client may be nil, in which case a default with a
// 30s timeout is used.
func New(rules Rules, client *http.Client, userAgent string) (*Extractor, error) {
	if rules.DetailLink == "" {
		return nil, fmt.Errorf("detail_link selector is required")
	}
	if rules.DocumentLink == "" {
		return nil, fmt.Errorf("document_link selector is required")
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Extractor{rules: rules, client: client, userAgent: userAgent}, nil
}

// ListingLinks implements harvest.Extractor.
func (e *Extractor) ListingLinks(ctx context.Context, pageURL string) ([]string, string, error) {
	doc, err := e.fetch(ctx, pageURL)
	if err != nil {
		return nil, "", err
	}

	seen := make(map[string]struct{})
	var detailURLs []string
	doc.Find(e.rules.DetailLink).Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		abs, err := resolveURL(pageURL, href)
		if err != nil {
			return
		}
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		detailURLs = append(detailURLs, abs)
	})

	nextPage := ""
	if e.rules.NextPage != "" {
		if href, ok := doc.Find(e.rules.NextPage).First().Attr("href"); ok {
			if abs, err := resolveURL(pageURL, href); err == nil && abs != pageURL {
				nextPage = abs
			}
		}
	}
	return detailURLs, nextPage, nil
}

// DocumentLinks implements harvest.Extractor.
func (e *Extractor) DocumentLinks(ctx context.Context, detailURL string) ([]harvest.DocumentLink, error) {
	doc, err := e.fetch(ctx, detailURL)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var links []harvest.DocumentLink
	doc.Find(e.rules.DocumentLink).Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		abs, err := resolveURL(detailURL, href)
		if err != nil {
			return
		}
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}

		title := strings.TrimSpace(sel.Text())
		if e.rules.TitleAttr != "" {
			if attr, ok := sel.Attr(e.rules.TitleAttr); ok && strings.TrimSpace(attr) != "" {
				title = strings.TrimSpace(attr)
			}
		}
		links = append(links, harvest.DocumentLink{URL: abs, SuggestedName: title})
	})
	return links, nil
}

func (e *Extractor) fetch(ctx context.Context, pageURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, harvest.Permanentf("build request for %s: %v", pageURL, err)
	}
	if e.userAgent != "" {
		req.Header.Set("User-Agent", e.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, harvest.ClassifyNetErr(err)
	}
	defer resp.Body.Close()

	if err := harvest.ClassifyStatus(resp.StatusCode); err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, harvest.Transientf("parse %s: %v", pageURL, err)
	}
	return doc, nil
}

func resolveURL(base, href string) (string, error) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
		return "", fmt.Errorf("not a navigable href")
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", err
	}
	resolved := baseURL.ResolveReference(ref)
	resolved.Fragment = ""
	return resolved.String(), nil
}

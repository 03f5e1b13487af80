// Package harvest defines the core types and interfaces for the document
// acquisition engine: the frontier, the fetch orchestrator, and the durable
// tracking contract that makes runs resumable.
package harvest

import (
	"time"
)

// ItemKind identifies where a work item sits in the crawl state machine.
type ItemKind string

// Work item kinds, in discovery order.
const (
	KindListing  ItemKind = "listing"
	KindDetail   ItemKind = "detail"
	KindDocument ItemKind = "document"
)

// DocKind identifies the expected artifact format for validation purposes.
type DocKind string

// Document kinds accepted by the validator. Some publishers serve a Word
// document or spreadsheet where a PDF is unavailable; those are legitimate
// alternate kinds, not errors.
const (
	DocPDF         DocKind = "pdf"
	DocWord        DocKind = "word"
	DocSpreadsheet DocKind = "spreadsheet"
	DocArchive     DocKind = "archive"
)

// WorkItem is one unit of crawl work. Items are immutable values: the
// frontier creates them and the engine consumes each exactly once.
type WorkItem struct {
	URL           string
	Kind          ItemKind
	DocKind       DocKind
	Depth         int
	RefererChain  []string
	SuggestedName string
	Category      string
}

// Referer returns the last entry of the referer chain, or "" when the item
// was reached directly.
func (w WorkItem) Referer() string {
	if len(w.RefererChain) == 0 {
		return ""
	}
	return w.RefererChain[len(w.RefererChain)-1]
}

// TrackingStatus is the terminal outcome recorded per document URL.
type TrackingStatus string

// Tracking statuses persisted in the tracking store.
const (
	StatusSuccess TrackingStatus = "success"
	StatusFailed  TrackingStatus = "failed"
)

// TrackingRecord is the durable per-URL ledger entry. At most one record
// exists per URL; a success record whose artifact survives on disk means the
// URL is permanently skipped on future runs.
type TrackingRecord struct {
	URL       string            `json:"url"`
	Status    TrackingStatus    `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Path      string            `json:"path,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// FetchAttempt captures diagnostics for one try of one strategy. Attempts are
// logged and counted but never persisted; only the terminal per-URL record
// survives.
type FetchAttempt struct {
	Strategy string
	Err      error
	ByteSize int
	Elapsed  time.Duration
}

// DocumentLink is one document reference discovered on a detail page.
type DocumentLink struct {
	URL           string
	SuggestedName string
}

// Seed is a root listing page plus the label used for its output
// subdirectory.
type Seed struct {
	URL      string
	Category string
}

// Summary reports the outcome of one engine run.
type Summary struct {
	RunID      string    `json:"run_id"`
	Discovered int       `json:"discovered"`
	Skipped    int       `json:"skipped"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	FailedURLs []string  `json:"failed_urls,omitempty"`
	Started    time.Time `json:"started_at"`
	Finished   time.Time `json:"finished_at,omitempty"`
}

package harvest

import (
	"context"
	"time"
)

// Extractor supplies the per-site HTML knowledge the engine deliberately
// does not have. Implementations parse listing and detail pages; the engine
// never inspects markup itself.
type Extractor interface {
	// ListingLinks returns the detail-page URLs found on a listing page and
	// the next listing page to visit ("" when pagination is exhausted).
	ListingLinks(ctx context.Context, pageURL string) (detailURLs []string, nextPageURL string, err error)
	// DocumentLinks returns zero or more document references found on a
	// detail page.
	DocumentLinks(ctx context.Context, detailURL string) ([]DocumentLink, error)
}

// Strategy is one concrete way of turning a document URL into bytes.
// Attempt returns the payload and, when known, the served content type.
// Errors should be classified with Transientf/Permanentf so the orchestrator
// can decide between falling back and retrying.
type Strategy interface {
	Name() string
	Attempt(ctx context.Context, item WorkItem) (data []byte, contentType string, err error)
}

// TrackingStore is the durable per-URL ledger enabling resumable runs.
// Implementations must serialize writes; RecordSuccess and RecordFailure are
// called from multiple workers.
type TrackingStore interface {
	Get(ctx context.Context, url string) (TrackingRecord, bool, error)
	RecordSuccess(ctx context.Context, url, path string, metadata map[string]string) error
	RecordFailure(ctx context.Context, url string, metadata map[string]string) error
	// IsAlreadyDone reports whether url has a success record AND the
	// referenced artifact still exists on disk with acceptable size. The
	// dual check guards against records that outlive manually deleted files.
	IsAlreadyDone(ctx context.Context, url string) bool
}

// ArtifactStore owns the files written below the output directory. Put must
// be atomic: partial writes may only ever land in a temporary path.
type ArtifactStore interface {
	Put(ctx context.Context, relPath string, data []byte) (absPath string, err error)
	Open(relPath string) ([]byte, error)
	Stat(relPath string) (size int64, ok bool)
	Remove(relPath string) error
	AbsPath(relPath string) string
}

// Mirror uploads a copy of a validated artifact to remote storage. Mirroring
// is best-effort; failures never fail the item.
type Mirror interface {
	Upload(ctx context.Context, relPath string, data []byte) error
}

// Publisher pushes acquisition events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue carries document work items from the frontier to the worker pool.
type Queue interface {
	Enqueue(ctx context.Context, item WorkItem) error
	Dequeue(ctx context.Context) (WorkItem, error)
	Close()
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

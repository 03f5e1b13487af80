package harvest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	pubmem "github.com/docuflow/harvester/internal/publisher/memory"
)

// chanQueue is a minimal channel-backed Queue for engine tests.
type chanQueue struct {
	ch        chan WorkItem
	closeOnce sync.Once
}

func newChanQueue(capacity int) *chanQueue {
	return &chanQueue{ch: make(chan WorkItem, capacity)}
}

func (q *chanQueue) Enqueue(ctx context.Context, item WorkItem) error {
	select {
	case q.ch <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *chanQueue) Dequeue(ctx context.Context) (WorkItem, error) {
	select {
	case item, ok := <-q.ch:
		if !ok {
			return WorkItem{}, errors.New("queue closed")
		}
		return item, nil
	case <-ctx.Done():
		return WorkItem{}, ctx.Err()
	}
}

func (q *chanQueue) Close() {
	q.closeOnce.Do(func() { close(q.ch) })
}

func buildTestEngine(
	t *testing.T,
	extractor Extractor,
	strategies []Strategy,
	tracking TrackingStore,
	artifacts ArtifactStore,
	concurrency int,
) *Engine {
	t.Helper()

	queue := newChanQueue(16)
	frontier, err := NewFrontier(extractor, queue, fastBackoff(3), FrontierConfig{MaxPages: 10, MaxDepth: 2}, nil)
	require.NoError(t, err)

	orch := newTestOrchestrator(t, strategies, tracking, artifacts, 3)

	return NewEngine(frontier, orch, tracking, queue, &fakeClock{now: time.Unix(2000, 0)}, EngineConfig{
		Concurrency: concurrency,
	}, nil)
}

func seededExtractor(docURLs ...string) *fakeExtractor {
	extractor := newFakeExtractor()
	extractor.listings["https://x.gov/list"] = listingPage{details: []string{"https://x.gov/detail"}}
	links := make([]DocumentLink, 0, len(docURLs))
	for i, u := range docURLs {
		links = append(links, DocumentLink{URL: u, SuggestedName: fmt.Sprintf("Doc %d", i+1)})
	}
	extractor.documents["https://x.gov/detail"] = links
	return extractor
}

func TestEngine_RunAcquiresEverything(t *testing.T) {
	t.Parallel()

	docs := []string{
		"https://x.gov/files/a.pdf",
		"https://x.gov/files/b.pdf",
		"https://x.gov/files/c.pdf",
	}
	artifacts := newMemArtifacts()
	tracking := newMemTracking(artifacts)
	strategy := &stubStrategy{name: "stub", data: validPDF(), ct: "application/pdf"}

	engine := buildTestEngine(t, seededExtractor(docs...), []Strategy{strategy}, tracking, artifacts, 2)

	summary, err := engine.Run(context.Background(), []Seed{{URL: "https://x.gov/list", Category: "pubs"}})
	require.NoError(t, err)
	require.NotEmpty(t, summary.RunID)
	require.Equal(t, 3, summary.Discovered)
	require.Equal(t, 3, summary.Succeeded)
	require.Zero(t, summary.Skipped)
	require.Zero(t, summary.Failed)
	require.False(t, summary.Finished.Before(summary.Started))

	for _, u := range docs {
		rec, ok, _ := tracking.Get(context.Background(), u)
		require.True(t, ok, u)
		require.Equal(t, StatusSuccess, rec.Status)
	}
}

func TestEngine_ResumeSkipsCompletedDocuments(t *testing.T) {
	t.Parallel()

	docs := []string{
		"https://x.gov/files/a.pdf",
		"https://x.gov/files/b.pdf",
		"https://x.gov/files/c.pdf",
		"https://x.gov/files/d.pdf",
		"https://x.gov/files/e.pdf",
	}
	artifacts := newMemArtifacts()
	tracking := newMemTracking(artifacts)

	// Two documents survive from a previous run: record plus on-disk bytes.
	for i, u := range docs[:2] {
		item := WorkItem{
			URL:           u,
			Kind:          KindDocument,
			DocKind:       DocPDF,
			SuggestedName: fmt.Sprintf("Doc %d", i+1),
			Category:      "pubs",
		}
		relPath := ArtifactRelPath(item)
		_, err := artifacts.Put(context.Background(), relPath, validPDF())
		require.NoError(t, err)
		require.NoError(t, tracking.RecordSuccess(context.Background(), u, relPath, nil))
	}

	strategy := &stubStrategy{name: "stub", data: validPDF(), ct: "application/pdf"}
	engine := buildTestEngine(t, seededExtractor(docs...), []Strategy{strategy}, tracking, artifacts, 2)

	summary, err := engine.Run(context.Background(), []Seed{{URL: "https://x.gov/list", Category: "pubs"}})
	require.NoError(t, err)
	require.Equal(t, 5, summary.Discovered)
	require.Equal(t, 2, summary.Skipped)
	require.Equal(t, 3, summary.Succeeded)
	require.Equal(t, 3, strategy.callCount(), "skipped items must not reach the network")
}

func TestEngine_FailuresReportedNotFatal(t *testing.T) {
	t.Parallel()

	docs := []string{"https://x.gov/files/a.pdf", "https://x.gov/files/b.pdf"}
	artifacts := newMemArtifacts()
	tracking := newMemTracking(artifacts)
	broken := &stubStrategy{name: "broken", err: Permanentf("http status 404")}

	engine := buildTestEngine(t, seededExtractor(docs...), []Strategy{broken}, tracking, artifacts, 1)

	summary, err := engine.Run(context.Background(), []Seed{{URL: "https://x.gov/list"}})
	require.NoError(t, err, "per-document failures must not fail the run")
	require.Equal(t, 2, summary.Failed)
	require.ElementsMatch(t, docs, summary.FailedURLs)
}

func TestEngine_CancelStopsWithoutTerminalRecords(t *testing.T) {
	t.Parallel()

	docs := []string{"https://x.gov/files/a.pdf", "https://x.gov/files/b.pdf"}
	artifacts := newMemArtifacts()
	tracking := newMemTracking(artifacts)

	started := make(chan struct{}, 4)
	slow := &blockingStrategy{started: started}

	engine := buildTestEngine(t, seededExtractor(docs...), []Strategy{slow}, tracking, artifacts, 2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Summary, 1)
	go func() {
		summary, _ := engine.Run(ctx, []Seed{{URL: "https://x.gov/list"}})
		done <- summary
	}()

	<-started
	cancel()

	select {
	case summary := <-done:
		require.Zero(t, summary.Succeeded)
		require.Zero(t, summary.Failed, "interruption is not failure")
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop after cancellation")
	}

	for _, u := range docs {
		_, ok, _ := tracking.Get(context.Background(), u)
		require.False(t, ok, "no terminal record for %s", u)
	}
}

func TestEngine_RunIDReachesAcquisitionEvents(t *testing.T) {
	t.Parallel()

	docs := []string{"https://x.gov/files/a.pdf", "https://x.gov/files/b.pdf"}
	artifacts := newMemArtifacts()
	tracking := newMemTracking(artifacts)
	events := pubmem.New()
	strategy := &stubStrategy{name: "stub", data: validPDF(), ct: "application/pdf"}

	queue := newChanQueue(16)
	frontier, err := NewFrontier(seededExtractor(docs...), queue, fastBackoff(3), FrontierConfig{MaxPages: 10, MaxDepth: 2}, nil)
	require.NoError(t, err)

	orch, err := NewOrchestrator(
		[]Strategy{strategy},
		tracking,
		artifacts,
		nil,
		events,
		Validator{},
		fastBackoff(3),
		&fakeClock{now: time.Unix(2000, 0)},
		OrchestratorConfig{AttemptTimeout: time.Second, PublishTopic: "documents-acquired"},
		nil,
	)
	require.NoError(t, err)

	engine := NewEngine(frontier, orch, tracking, queue, &fakeClock{now: time.Unix(2000, 0)}, EngineConfig{
		Concurrency: 2,
	}, nil)

	summary, err := engine.Run(context.Background(), []Seed{{URL: "https://x.gov/list"}})
	require.NoError(t, err)
	require.NotEmpty(t, summary.RunID)

	msgs := events.Messages()
	require.Len(t, msgs, len(docs))
	for _, msg := range msgs {
		payload, ok := msg.Payload.(map[string]any)
		require.True(t, ok)
		require.Equal(t, summary.RunID, payload["run_id"], "every event belongs to the run that produced it")
	}
}

func TestEngine_ProgressSnapshot(t *testing.T) {
	t.Parallel()

	artifacts := newMemArtifacts()
	tracking := newMemTracking(artifacts)
	strategy := &stubStrategy{name: "stub", data: validPDF()}
	engine := buildTestEngine(t, seededExtractor("https://x.gov/files/a.pdf"), []Strategy{strategy}, tracking, artifacts, 1)

	_, err := engine.Run(context.Background(), []Seed{{URL: "https://x.gov/list"}})
	require.NoError(t, err)

	progress := engine.Progress()
	require.Equal(t, 1, progress.Discovered)
	require.Equal(t, 1, progress.Succeeded)
}

// blockingStrategy parks until its context is canceled.
type blockingStrategy struct {
	started chan struct{}
}

func (s *blockingStrategy) Name() string { return "blocking" }

func (s *blockingStrategy) Attempt(ctx context.Context, _ WorkItem) ([]byte, string, error) {
	select {
	case s.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return nil, "", ctx.Err()
}

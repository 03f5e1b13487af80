// Package file implements the tracking store as a single JSON document in
// the output directory, the layout the engine's predecessors used for their
// download_tracking.json files. The whole document is re-read and rewritten
// on every update behind a mutex, which keeps restart reconstruction trivial
// and the file hand-editable.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/docuflow/harvester/internal/harvest"
)

// DefaultFilename matches the ledger name used across the predecessor
// scrapers, so their tracking files resume cleanly under this engine.
const DefaultFilename = "download_tracking.json"

// Store is a JSON-file-backed harvest.TrackingStore. A single mutex
// serializes the read-modify-write cycle, satisfying the linearizable
// per-URL write requirement.
type Store struct {
	path      string
	artifacts harvest.ArtifactStore
	minBytes  int64

	mu      sync.Mutex
	records map[string]harvest.TrackingRecord
	clock   harvest.Clock
}

// New loads (or initializes) the tracking file inside dir. The artifact
// store and size threshold feed the dual check in IsAlreadyDone.
func New(dir string, artifacts harvest.ArtifactStore, minBytes int64, clock harvest.Clock) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("tracking directory is required")
	}
	if minBytes <= 0 {
		minBytes = harvest.DefaultMinArtifactBytes
	}
	s := &Store{
		path:      filepath.Join(dir, DefaultFilename),
		artifacts: artifacts,
		minBytes:  minBytes,
		records:   make(map[string]harvest.TrackingRecord),
		clock:     clock,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read tracking file %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, &s.records); err != nil {
		return fmt.Errorf("parse tracking file %s: %w", s.path, err)
	}
	return nil
}

// Get returns the record for url, if any.
func (s *Store) Get(_ context.Context, url string) (harvest.TrackingRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[url]
	return rec, ok, nil
}

// RecordSuccess upserts a success record and flushes the document.
func (s *Store) RecordSuccess(_ context.Context, url, path string, metadata map[string]string) error {
	return s.record(url, harvest.StatusSuccess, path, metadata)
}

// RecordFailure upserts a failure record and flushes the document. Failed
// URLs are retried on the next run.
func (s *Store) RecordFailure(_ context.Context, url string, metadata map[string]string) error {
	return s.record(url, harvest.StatusFailed, "", metadata)
}

func (s *Store) record(url string, status harvest.TrackingStatus, path string, metadata map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[url] = harvest.TrackingRecord{
		URL:       url,
		Status:    status,
		Timestamp: s.clock.Now(),
		Path:      path,
		Metadata:  metadata,
	}
	return s.flushLocked()
}

// flushLocked rewrites the whole document via a temp file so a crash cannot
// truncate the ledger.
func (s *Store) flushLocked() error {
	payload, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal tracking records: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o600); err != nil {
		return fmt.Errorf("write tracking file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace tracking file: %w", err)
	}
	return nil
}

// IsAlreadyDone reports whether url succeeded before AND its artifact still
// exists on disk above the size threshold. A record whose file was manually
// deleted does not count.
func (s *Store) IsAlreadyDone(_ context.Context, url string) bool {
	s.mu.Lock()
	rec, ok := s.records[url]
	s.mu.Unlock()

	if !ok || rec.Status != harvest.StatusSuccess || rec.Path == "" {
		return false
	}
	size, exists := s.artifacts.Stat(rec.Path)
	return exists && size > s.minBytes
}

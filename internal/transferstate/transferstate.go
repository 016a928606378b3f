// Package transferstate persists enough about each in-flight transfer to
// resume it after a restart: a single JSON document, written atomically,
// swept for stale entries on every load and save.
package transferstate

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/digster/lan-file-transfer/internal/constants"
	"github.com/digster/lan-file-transfer/internal/txtype"
)

// Record is the durable, cross-restart record for one transfer.
type Record struct {
	TransferID   string           `json:"transfer_id"`
	SourcePath   string           `json:"source_path,omitempty"` // outgoing only
	Filename     string           `json:"filename"`
	PeerURL      string           `json:"peer_url,omitempty"` // outgoing only
	PeerName     string           `json:"peer_name"`
	TotalSize    int64            `json:"total_size"`
	Transferred  int64            `json:"transferred"`
	ExpectedHash string           `json:"expected_hash"`
	Direction    txtype.Direction `json:"direction"`
	TempPath     string           `json:"temp_path,omitempty"`  // incoming only
	FinalPath    string           `json:"final_path,omitempty"` // incoming only
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

type document struct {
	Version   int       `json:"version"`
	Transfers []*Record `json:"transfers"`
}

// Store is a JSON-backed, mutex-guarded table of Records at one path on disk.
type Store struct {
	mu   sync.Mutex
	path string
}

// Open returns a Store backed by "<dir>/transfers.json", creating dir if
// needed. It does not read the file yet; that happens lazily on first use.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	return &Store{path: filepath.Join(dir, "transfers.json")}, nil
}

// DefaultDir returns "~/.lantransfer", or the relative path ".lantransfer"
// if the home directory can't be determined.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".lantransfer"
	}
	return filepath.Join(home, ".lantransfer")
}

// DefaultDownloadDir returns "~/.lantransfer/downloads", where the receiver
// writes finished incoming transfers.
func DefaultDownloadDir() string {
	return filepath.Join(DefaultDir(), "downloads")
}

func (s *Store) load() (*document, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return &document{Version: 1}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		// A corrupted store is treated as empty rather than fatal: resumption
		// is a convenience, not a correctness requirement.
		return &document{Version: 1}, nil
	}
	doc.Transfers = sweepExpired(doc.Transfers)
	return &doc, nil
}

func sweepExpired(records []*Record) []*Record {
	cutoff := time.Now().Add(-constants.StateExpiry)
	kept := records[:0]
	for _, r := range records {
		if r.UpdatedAt.After(cutoff) {
			kept = append(kept, r)
		}
	}
	return kept
}

func (s *Store) save(doc *document) error {
	doc.Transfers = sweepExpired(doc.Transfers)

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename state file: %w", err)
	}
	return nil
}

// Put inserts or replaces the Record with the same TransferID, stamping
// UpdatedAt to now. An unset CreatedAt keeps the replaced record's value, or
// is stamped to now for a new record.
func (s *Store) Put(r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}

	now := time.Now()
	r.UpdatedAt = now

	replaced := false
	for i, existing := range doc.Transfers {
		if existing.TransferID == r.TransferID {
			if r.CreatedAt.IsZero() {
				r.CreatedAt = existing.CreatedAt
			}
			doc.Transfers[i] = &r
			replaced = true
			break
		}
	}
	if !replaced {
		doc.Transfers = append(doc.Transfers, &r)
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}

	return s.save(doc)
}

// Get returns the Record for id, or ok=false if none is stored.
func (s *Store) Get(id string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return Record{}, false, err
	}
	for _, r := range doc.Transfers {
		if r.TransferID == id {
			return *r, true, nil
		}
	}
	return Record{}, false, nil
}

// Resumable returns every outgoing Record whose source file still exists on
// disk and whose Transferred is less than TotalSize. Incoming records are
// never returned here; the receiver looks those up by id through Get.
func (s *Store) Resumable() ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}

	var out []Record
	for _, r := range doc.Transfers {
		if r.Direction != txtype.DirectionOutgoing || r.Transferred >= r.TotalSize {
			continue
		}
		if _, err := os.Stat(r.SourcePath); err != nil {
			continue
		}
		out = append(out, *r)
	}
	return out, nil
}

// Complete removes the record for id; a finished transfer has nothing left
// to resume.
func (s *Store) Complete(id string) error {
	return s.remove(id)
}

// Fail bumps the record's UpdatedAt without removing it, so a failed
// transfer stays resumable until it naturally expires via StateExpiry. It
// is a no-op if id is not stored.
func (s *Store) Fail(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	for _, r := range doc.Transfers {
		if r.TransferID == id {
			r.UpdatedAt = time.Now()
			return s.save(doc)
		}
	}
	return nil
}

// Remove deletes the record for id, if present. It is a no-op if absent.
func (s *Store) Remove(id string) error {
	return s.remove(id)
}

func (s *Store) remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	filtered := doc.Transfers[:0]
	for _, r := range doc.Transfers {
		if r.TransferID != id {
			filtered = append(filtered, r)
		}
	}
	doc.Transfers = filtered
	return s.save(doc)
}

// ClearAll empties the store entirely.
func (s *Store) ClearAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(&document{Version: 1})
}

// Package artifact persists per-document pipeline records as JSON files
// so each stage's output can be inspected and reprocessed without
// re-fetching the source. Records are written atomically via a temp file
// rename, so readers never observe a half-written document.
package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/docdex/docdex/engine/domain"
	"github.com/docdex/docdex/pkg/docmeta"
)

const (
	nodesDir  = "nodes"
	chunksDir = "chunks"
)

// NodeRecord is the saved output of the parse stage.
type NodeRecord struct {
	DocumentID string               `json:"document_id"`
	Source     string               `json:"source,omitempty"`
	Meta       docmeta.Meta         `json:"meta"`
	Nodes      []domain.ContentNode `json:"nodes"`
	SavedAt    time.Time            `json:"saved_at"`
}

// ChunkRecord is the saved output of the chunk stage.
type ChunkRecord struct {
	DocumentID string         `json:"document_id"`
	Chunks     []domain.Chunk `json:"chunks"`
	SavedAt    time.Time      `json:"saved_at"`
}

// Store reads and writes pipeline records under a root directory.
type Store struct {
	root string
}

// NewStore creates the directory layout under root.
func NewStore(root string) (*Store, error) {
	for _, dir := range []string{nodesDir, chunksDir} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, fmt.Errorf("artifact: mkdir %s: %w", dir, err)
		}
	}
	return &Store{root: root}, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string {
	return s.root
}

// SaveNodes writes the parse record for a document.
func (s *Store) SaveNodes(rec NodeRecord) error {
	if rec.SavedAt.IsZero() {
		rec.SavedAt = time.Now().UTC()
	}
	return writeJSON(s.nodesPath(rec.DocumentID), rec)
}

// LoadNodes reads the parse record for a document.
func (s *Store) LoadNodes(documentID string) (NodeRecord, error) {
	var rec NodeRecord
	if err := readJSON(s.nodesPath(documentID), &rec); err != nil {
		return NodeRecord{}, fmt.Errorf("artifact: load nodes %s: %w", documentID, err)
	}
	return rec, nil
}

// SaveChunks writes the chunk record for a document.
func (s *Store) SaveChunks(rec ChunkRecord) error {
	if rec.SavedAt.IsZero() {
		rec.SavedAt = time.Now().UTC()
	}
	return writeJSON(s.chunksPath(rec.DocumentID), rec)
}

// LoadChunks reads the chunk record for a document.
func (s *Store) LoadChunks(documentID string) (ChunkRecord, error) {
	var rec ChunkRecord
	if err := readJSON(s.chunksPath(documentID), &rec); err != nil {
		return ChunkRecord{}, fmt.Errorf("artifact: load chunks %s: %w", documentID, err)
	}
	return rec, nil
}

// Documents lists the ids with a saved parse record, sorted.
func (s *Store) Documents() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, nodesDir))
	if err != nil {
		return nil, fmt.Errorf("artifact: list documents: %w", err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

// Stale reports whether a document needs reprocessing: its parse record is
// missing or older than the source file.
func (s *Store) Stale(documentID string, sourceModTime time.Time) bool {
	info, err := os.Stat(s.nodesPath(documentID))
	if err != nil {
		return true
	}
	return info.ModTime().Before(sourceModTime)
}

func (s *Store) nodesPath(documentID string) string {
	return filepath.Join(s.root, nodesDir, documentID+".json")
}

func (s *Store) chunksPath(documentID string) string {
	return filepath.Join(s.root, chunksDir, documentID+".json")
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("artifact: marshal %s: %w", filepath.Base(path), err)
	}
	data = append(data, '\n')

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("artifact: write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("artifact: rename %s: %w", filepath.Base(path), err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// Package knowledge provides the RAG knowledge store: a vector index over
// free-text snippets with a parallel metadata sequence.
package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/chatstack/kotae/internal/embedding"
	"github.com/chatstack/kotae/internal/models"
	"github.com/chatstack/kotae/internal/vector"
)

// Hit is one retrieval result.
type Hit struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Score    float64        `json:"score"`
}

// Store holds knowledge vectors and their metadata in lock-step: after any
// mutating operation completes, index size equals record count. Mutations
// run in a single critical section; reads never observe the two apart.
type Store struct {
	embedder     embedding.Embedder
	snapshotPath string
	metadataPath string
	logger       *zap.Logger

	mu      sync.RWMutex
	index   *vector.Index
	records []models.KnowledgeRecord
}

// metadataPreviewLen is how much of the text the default metadata keeps.
const metadataPreviewLen = 100

// preview returns the first n runes of s.
func preview(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// Open creates the store and restores persisted state. Missing files start
// an empty store. A corrupt or out-of-step index snapshot is rebuilt by
// re-embedding the persisted record texts; when that is impossible the
// store starts empty rather than failing startup.
func Open(ctx context.Context, embedder embedding.Embedder, snapshotPath, metadataPath string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	idx, err := vector.NewIndex(embedder.Dimensions())
	if err != nil {
		return nil, err
	}
	s := &Store{
		embedder:     embedder,
		snapshotPath: snapshotPath,
		metadataPath: metadataPath,
		logger:       logger,
		index:        idx,
	}
	s.restore(ctx)
	return s, nil
}

// restore loads metadata, then the index snapshot; the metadata is the
// source of truth for texts, so a bad snapshot falls back to re-embedding.
func (s *Store) restore(ctx context.Context) {
	if s.metadataPath != "" {
		data, err := os.ReadFile(s.metadataPath)
		switch {
		case err == nil:
			var records []models.KnowledgeRecord
			if jsonErr := json.Unmarshal(data, &records); jsonErr != nil {
				s.logger.Warn("knowledge metadata unreadable, starting empty", zap.Error(jsonErr))
			} else {
				s.records = records
			}
		case !errors.Is(err, fs.ErrNotExist):
			s.logger.Warn("failed to read knowledge metadata", zap.Error(err))
		}
	}

	if s.snapshotPath != "" {
		err := s.index.Load(s.snapshotPath)
		if err == nil && s.index.Size() == len(s.records) {
			s.logger.Info("loaded knowledge index snapshot", zap.Int("vectors", s.index.Size()))
			return
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("knowledge index snapshot unusable", zap.Error(err))
		}
		s.index.Reset()
	}

	if len(s.records) == 0 {
		return
	}
	if err := s.rebuildIndex(ctx); err != nil {
		s.logger.Error("knowledge index rebuild failed, starting empty", zap.Error(err))
		s.index.Reset()
		s.records = nil
	}
}

// rebuildIndex re-embeds all record texts. Caller must hold the write lock
// or have exclusive access.
func (s *Store) rebuildIndex(ctx context.Context) error {
	texts := make([]string, len(s.records))
	for i, r := range s.records {
		texts[i] = r.Text
	}
	vecs, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("re-embed knowledge: %w", err)
	}
	idx, err := vector.NewIndex(s.embedder.Dimensions())
	if err != nil {
		return err
	}
	for i, vec := range vecs {
		if err := vector.Normalize(vec); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		if err := idx.Insert(strconv.Itoa(i), vec); err != nil {
			return err
		}
	}
	s.index = idx
	s.logger.Info("rebuilt knowledge index", zap.Int("vectors", idx.Size()))
	return nil
}

// Add embeds all texts in one batch and appends vectors and metadata as a
// unit. Texts longer than the chunk window are split into overlapping
// chunks, each stored as its own record. When metadata is omitted (or
// shorter than texts) the default entry is a preview of the text. Returns
// the number of records added.
func (s *Store) Add(ctx context.Context, texts []string, metadata []map[string]any) (int, error) {
	if len(texts) == 0 {
		return 0, nil
	}
	texts, metadata = expandChunks(texts, metadata)
	// Embed outside the critical section; only the commit is serialized.
	vecs, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, err
	}
	for i, vec := range vecs {
		if err := vector.Normalize(vec); err != nil {
			return 0, fmt.Errorf("text %d: %w", i, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	base := len(s.records)
	for i, text := range texts {
		if err := s.index.Insert(strconv.Itoa(base+i), vecs[i]); err != nil {
			// Roll the partial insert back so index and metadata stay in step.
			s.rollback(base)
			return 0, err
		}
		var meta map[string]any
		if i < len(metadata) && metadata[i] != nil {
			meta = metadata[i]
		} else {
			meta = map[string]any{"text": preview(text, metadataPreviewLen)}
		}
		s.records = append(s.records, models.KnowledgeRecord{Text: text, Metadata: meta})
	}
	s.persistLocked()
	return len(texts), nil
}

// DiskUsageBytes returns the on-disk size of the index snapshot and the
// metadata file. Missing files contribute zero.
func (s *Store) DiskUsageBytes() int64 {
	var total int64
	for _, path := range []string{s.snapshotPath, s.metadataPath} {
		if path == "" {
			continue
		}
		if info, err := os.Stat(path); err == nil {
			total += info.Size()
		}
	}
	return total
}

// rollback restores the store to count records after a failed mutation.
// Caller must hold the write lock.
func (s *Store) rollback(count int) {
	keys, vecs := s.index.Entries()
	idx, err := vector.NewIndex(s.embedder.Dimensions())
	if err != nil {
		return
	}
	for i := 0; i < count && i < len(keys); i++ {
		_ = idx.Insert(keys[i], vecs[i])
	}
	s.index = idx
	if len(s.records) > count {
		s.records = s.records[:count]
	}
}

// Search embeds the query and returns the top-k records with scores. An
// index position with no corresponding metadata yields an empty text.
func (s *Store) Search(ctx context.Context, query string, topK int) ([]Hit, error) {
	if topK <= 0 {
		topK = 3
	}
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	if err := vector.Normalize(vec); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	results, err := s.index.Search(vec, topK)
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		ordinal, err := strconv.Atoi(r.Key)
		hit := Hit{Score: r.Score}
		if err == nil && ordinal >= 0 && ordinal < len(s.records) {
			hit.Text = s.records[ordinal].Text
			hit.Metadata = s.records[ordinal].Metadata
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// Delete removes the record at ordinal. The index has no in-place delete,
// so it is rebuilt from the retained vectors with renumbered keys; the
// relative order of the remainder is preserved.
func (s *Store) Delete(ordinal int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ordinal < 0 || ordinal >= len(s.records) {
		return fmt.Errorf("knowledge index %d out of range (count %d)", ordinal, len(s.records))
	}
	_, vecs := s.index.Entries()
	idx, err := vector.NewIndex(s.embedder.Dimensions())
	if err != nil {
		return err
	}
	kept := 0
	for i, vec := range vecs {
		if i == ordinal {
			continue
		}
		if err := idx.Insert(strconv.Itoa(kept), vec); err != nil {
			return err
		}
		kept++
	}
	s.index = idx
	s.records = append(s.records[:ordinal], s.records[ordinal+1:]...)
	s.persistLocked()
	return nil
}

// DeleteAll clears both the index and the metadata.
func (s *Store) DeleteAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index.Reset()
	s.records = nil
	s.persistLocked()
	return nil
}

// Count returns the number of stored records.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// List returns up to limit records starting at offset, in storage order.
func (s *Store) List(limit, offset int) []models.KnowledgeRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if offset < 0 || offset >= len(s.records) {
		return nil
	}
	if limit <= 0 {
		limit = 100
	}
	end := offset + limit
	if end > len(s.records) {
		end = len(s.records)
	}
	out := make([]models.KnowledgeRecord, end-offset)
	copy(out, s.records[offset:end])
	return out
}

// persistLocked writes the index snapshot and the metadata list, each via
// temp file and rename. Failures are logged, not surfaced: the in-memory
// state is authoritative and the on-disk copy stays stale until the next
// successful write. Caller must hold the write lock.
func (s *Store) persistLocked() {
	if s.snapshotPath != "" {
		if err := s.index.Save(s.snapshotPath); err != nil {
			s.logger.Warn("failed to persist knowledge index", zap.Error(err))
		}
	}
	if s.metadataPath == "" {
		return
	}
	data, err := json.Marshal(s.records)
	if err != nil {
		s.logger.Warn("failed to marshal knowledge metadata", zap.Error(err))
		return
	}
	if err := os.MkdirAll(filepath.Dir(s.metadataPath), 0755); err != nil {
		s.logger.Warn("failed to create metadata dir", zap.Error(err))
		return
	}
	tmp := s.metadataPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		s.logger.Warn("failed to write knowledge metadata", zap.Error(err))
		return
	}
	if err := os.Rename(tmp, s.metadataPath); err != nil {
		s.logger.Warn("failed to replace knowledge metadata", zap.Error(err))
	}
}

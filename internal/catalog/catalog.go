// Package catalog loads intent definitions and serves similarity matches
// against an embedded intent index.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/chatstack/kotae/internal/embedding"
	"github.com/chatstack/kotae/internal/models"
	"github.com/chatstack/kotae/internal/vector"
)

// Match is a catalog hit for an utterance.
type Match struct {
	Intent *models.IntentDefinition
	Score  float64 // cosine similarity in [-1, 1]
}

// state is one immutable generation of the catalog. Reads never lock the
// index; Rebuild swaps in a fresh generation.
type state struct {
	index   *vector.Index
	intents map[string]*models.IntentDefinition
	ids     []string // enabled intent ids in file order
}

// Catalog owns the intent definitions and their vector index. Definitions
// are immutable after load; a re-index replaces the whole generation.
type Catalog struct {
	embedder     embedding.Embedder
	path         string
	snapshotPath string
	logger       *zap.Logger

	mu  sync.RWMutex
	cur *state
}

// New creates a catalog reading definitions from path. snapshotPath may be
// empty to disable persistence.
func New(embedder embedding.Embedder, path, snapshotPath string, logger *zap.Logger) *Catalog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{
		embedder:     embedder,
		path:         path,
		snapshotPath: snapshotPath,
		logger:       logger,
	}
}

type catalogFile struct {
	Intents []models.IntentDefinition `yaml:"intents"`
}

// LoadIntents reads intent definitions from a YAML file. Disabled entries
// are kept so lookups by id still work; only enabled entries are indexed.
func LoadIntents(path string) ([]models.IntentDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read intents: %w", err)
	}
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse intents: %w", err)
	}
	seen := make(map[string]bool, len(file.Intents))
	for _, in := range file.Intents {
		if in.ID == "" {
			return nil, fmt.Errorf("intent with empty id")
		}
		if seen[in.ID] {
			return nil, fmt.Errorf("duplicate intent id: %s", in.ID)
		}
		seen[in.ID] = true
	}
	return file.Intents, nil
}

// Init loads the definitions and ensures the index exists. A persisted
// snapshot is used when its keys still match the enabled intents; anything
// else (missing file, corrupt data, changed catalog) triggers a rebuild
// from the definitions.
func (c *Catalog) Init(ctx context.Context) error {
	defs, err := LoadIntents(c.path)
	if err != nil {
		return err
	}
	st, err := c.newState(defs)
	if err != nil {
		return err
	}

	if c.snapshotPath != "" {
		if err := st.index.Load(c.snapshotPath); err == nil && snapshotMatches(st) {
			c.logger.Info("loaded intent index snapshot",
				zap.String("path", c.snapshotPath),
				zap.Int("vectors", st.index.Size()))
			c.swap(st)
			return nil
		} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
			c.logger.Warn("intent index snapshot unusable, rebuilding", zap.Error(err))
		}
		st.index.Reset()
	}

	if err := c.build(ctx, st); err != nil {
		return err
	}
	c.swap(st)
	return nil
}

// Rebuild re-reads the definitions, re-embeds every enabled intent, and
// atomically swaps the new generation in.
func (c *Catalog) Rebuild(ctx context.Context) error {
	defs, err := LoadIntents(c.path)
	if err != nil {
		return err
	}
	st, err := c.newState(defs)
	if err != nil {
		return err
	}
	if err := c.build(ctx, st); err != nil {
		return err
	}
	c.swap(st)
	return nil
}

func (c *Catalog) newState(defs []models.IntentDefinition) (*state, error) {
	idx, err := vector.NewIndex(c.embedder.Dimensions())
	if err != nil {
		return nil, err
	}
	st := &state{
		index:   idx,
		intents: make(map[string]*models.IntentDefinition, len(defs)),
	}
	for i := range defs {
		def := &defs[i]
		st.intents[def.ID] = def
		if def.IsEnabled() && def.IndexText() != "" {
			st.ids = append(st.ids, def.ID)
		}
	}
	return st, nil
}

// build embeds every enabled intent in one batch and fills the index.
func (c *Catalog) build(ctx context.Context, st *state) error {
	if len(st.ids) == 0 {
		c.logger.Warn("no enabled intents to index", zap.String("path", c.path))
		return nil
	}
	texts := make([]string, len(st.ids))
	for i, id := range st.ids {
		texts[i] = st.intents[id].IndexText()
	}
	vecs, err := c.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed intents: %w", err)
	}
	for i, vec := range vecs {
		if err := vector.Normalize(vec); err != nil {
			return fmt.Errorf("intent %s: %w", st.ids[i], err)
		}
		if err := st.index.Insert(st.ids[i], vec); err != nil {
			return err
		}
	}
	c.logger.Info("indexed intent vectors", zap.Int("count", st.index.Size()))

	if c.snapshotPath != "" {
		if err := st.index.Save(c.snapshotPath); err != nil {
			// Best effort; the in-memory index is authoritative.
			c.logger.Warn("failed to save intent index snapshot", zap.Error(err))
		}
	}
	return nil
}

func (c *Catalog) swap(st *state) {
	c.mu.Lock()
	c.cur = st
	c.mu.Unlock()
}

func (c *Catalog) load() *state {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cur
}

// snapshotMatches reports whether a loaded snapshot covers exactly the
// enabled intents in order. A stale snapshot must not shadow catalog edits.
func snapshotMatches(st *state) bool {
	keys := st.index.Keys()
	if len(keys) != len(st.ids) {
		return false
	}
	for i, k := range keys {
		if k != st.ids[i] {
			return false
		}
	}
	return true
}

// Match embeds the utterance and returns the nearest enabled intent with
// its similarity score. An empty catalog returns nil.
func (c *Catalog) Match(ctx context.Context, utterance string) (*Match, error) {
	st := c.load()
	if st == nil || st.index.Size() == 0 {
		return nil, nil
	}
	vec, err := c.embedder.Embed(ctx, utterance)
	if err != nil {
		return nil, err
	}
	if err := vector.Normalize(vec); err != nil {
		return nil, err
	}
	results, err := st.index.Search(vec, 1)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	def := st.intents[results[0].Key]
	if def == nil {
		return nil, nil
	}
	return &Match{Intent: def, Score: results[0].Score}, nil
}

// Intent returns the definition for id, enabled or not, or nil.
func (c *Catalog) Intent(id string) *models.IntentDefinition {
	st := c.load()
	if st == nil {
		return nil
	}
	return st.intents[id]
}

// IDs returns the enabled intent ids in file order.
func (c *Catalog) IDs() []string {
	st := c.load()
	if st == nil {
		return nil
	}
	out := make([]string, len(st.ids))
	copy(out, st.ids)
	return out
}

// Size returns the number of indexed intents.
func (c *Catalog) Size() int {
	st := c.load()
	if st == nil {
		return 0
	}
	return st.index.Size()
}

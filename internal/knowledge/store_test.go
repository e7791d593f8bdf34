package knowledge

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/chatstack/kotae/internal/embedding"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), embedding.NewMockEmbedder(32), "", "", zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestStore_MissingSnapshotFirstStartIsQuiet(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	dir := t.TempDir()
	s, err := Open(context.Background(), embedding.NewMockEmbedder(32),
		filepath.Join(dir, "knowledge.bin"), filepath.Join(dir, "knowledge.json"), zap.New(core))
	if err != nil {
		t.Fatal(err)
	}
	if s.Count() != 0 {
		t.Errorf("count = %d", s.Count())
	}
	for _, entry := range logs.All() {
		t.Errorf("unexpected warning on first start: %s", entry.Message)
	}
}

func TestStore_AddCount(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	n, err := s.Add(ctx, []string{"a", "b", "c"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 || s.Count() != 3 {
		t.Errorf("added %d, count %d", n, s.Count())
	}
	if err := s.DeleteAll(); err != nil {
		t.Fatal(err)
	}
	if s.Count() != 0 {
		t.Errorf("count after delete_all: %d", s.Count())
	}
}

func TestStore_DefaultMetadata(t *testing.T) {
	s := newStore(t)
	long := ""
	for i := 0; i < 120; i++ {
		long += "知"
	}
	if _, err := s.Add(context.Background(), []string{long}, nil); err != nil {
		t.Fatal(err)
	}
	records := s.List(10, 0)
	meta, ok := records[0].Metadata["text"].(string)
	if !ok {
		t.Fatalf("metadata: %+v", records[0].Metadata)
	}
	if got := len([]rune(meta)); got != 100 {
		t.Errorf("preview length %d runes", got)
	}
}

func TestStore_SearchRelevance(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	if _, err := s.Add(ctx, []string{"退货需在7天内申请"}, nil); err != nil {
		t.Fatal(err)
	}

	related, err := s.Search(ctx, "退货需在7天内申请", 1)
	if err != nil {
		t.Fatal(err)
	}
	unrelated, err := s.Search(ctx, "今天天气", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(related) != 1 || len(unrelated) != 1 {
		t.Fatal("expected one hit each")
	}
	if related[0].Text != "退货需在7天内申请" {
		t.Errorf("hit text: %q", related[0].Text)
	}
	if related[0].Score <= unrelated[0].Score {
		t.Errorf("related score %f not above unrelated %f", related[0].Score, unrelated[0].Score)
	}
}

func TestStore_SearchEmpty(t *testing.T) {
	s := newStore(t)
	hits, err := s.Search(context.Background(), "anything", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Errorf("expected no hits on empty store, got %d", len(hits))
	}
}

func TestStore_DeleteOrdinal(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	if _, err := s.Add(ctx, []string{"first", "second", "third"}, nil); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(1); err != nil {
		t.Fatal(err)
	}
	if s.Count() != 2 {
		t.Errorf("count after delete: %d", s.Count())
	}
	records := s.List(10, 0)
	if records[0].Text != "first" || records[1].Text != "third" {
		t.Errorf("relative order broken: %+v", records)
	}
	// The rebuilt index still resolves the surviving records.
	hits, err := s.Search(ctx, "third", 1)
	if err != nil {
		t.Fatal(err)
	}
	if hits[0].Text != "third" {
		t.Errorf("search after delete: %q", hits[0].Text)
	}

	if err := s.Delete(5); err == nil {
		t.Error("expected out-of-range error")
	}
}

func TestStore_Persistence(t *testing.T) {
	dir := t.TempDir()
	snap := filepath.Join(dir, "knowledge.bin")
	meta := filepath.Join(dir, "knowledge.json")
	ctx := context.Background()
	embedder := embedding.NewMockEmbedder(16)

	s1, err := Open(ctx, embedder, snap, meta, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s1.Add(ctx, []string{"持久化测试"}, []map[string]any{{"source": "test"}}); err != nil {
		t.Fatal(err)
	}

	s2, err := Open(ctx, embedder, snap, meta, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if s2.Count() != 1 {
		t.Fatalf("restored count: %d", s2.Count())
	}
	hits, err := s2.Search(ctx, "持久化测试", 1)
	if err != nil {
		t.Fatal(err)
	}
	if hits[0].Text != "持久化测试" || hits[0].Metadata["source"] != "test" {
		t.Errorf("restored hit: %+v", hits[0])
	}
}

func TestStore_CorruptSnapshotRebuildsFromMetadata(t *testing.T) {
	dir := t.TempDir()
	snap := filepath.Join(dir, "knowledge.bin")
	meta := filepath.Join(dir, "knowledge.json")
	ctx := context.Background()
	embedder := embedding.NewMockEmbedder(16)

	s1, _ := Open(ctx, embedder, snap, meta, zap.NewNop())
	if _, err := s1.Add(ctx, []string{"a", "b"}, nil); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(snap, []byte("corrupt"), 0600); err != nil {
		t.Fatal(err)
	}

	s2, err := Open(ctx, embedder, snap, meta, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if s2.Count() != 2 {
		t.Fatalf("rebuild count: %d", s2.Count())
	}
	hits, err := s2.Search(ctx, "b", 1)
	if err != nil {
		t.Fatal(err)
	}
	if hits[0].Text != "b" {
		t.Errorf("rebuilt search: %q", hits[0].Text)
	}
}

func TestStore_List(t *testing.T) {
	s := newStore(t)
	if _, err := s.Add(context.Background(), []string{"a", "b", "c", "d"}, nil); err != nil {
		t.Fatal(err)
	}
	page := s.List(2, 1)
	if len(page) != 2 || page[0].Text != "b" || page[1].Text != "c" {
		t.Errorf("page: %+v", page)
	}
	if out := s.List(10, 99); out != nil {
		t.Errorf("out-of-range offset: %+v", out)
	}
}

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/chatstack/kotae/internal/catalog"
	"github.com/chatstack/kotae/internal/chat"
	"github.com/chatstack/kotae/internal/config"
	"github.com/chatstack/kotae/internal/embedding"
	"github.com/chatstack/kotae/internal/flow"
	"github.com/chatstack/kotae/internal/knowledge"
	"github.com/chatstack/kotae/internal/models"
	"github.com/chatstack/kotae/internal/reply"
	"github.com/chatstack/kotae/internal/resolver"
	"github.com/chatstack/kotae/internal/server"
	"github.com/chatstack/kotae/internal/session"
	"github.com/chatstack/kotae/internal/tools"
)

const e2eDimensions = 32

// startTestServer wires the full stack on a temp directory and serves it
// over httptest. No remote services: the mock embedder backs both indexes
// and the remote resolution stage is absent.
func startTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	dir := t.TempDir()
	logger := zap.NewNop()
	embedder := embedding.NewMockEmbedder(e2eDimensions)
	ctx := context.Background()

	intentsPath := filepath.Join(dir, "intents.yaml")
	if err := os.WriteFile(intentsPath, []byte(FixtureIntents), 0600); err != nil {
		t.Fatal(err)
	}
	cat := catalog.New(embedder, intentsPath, "", logger)
	if err := cat.Init(ctx); err != nil {
		t.Fatal(err)
	}

	store, err := knowledge.Open(ctx, embedder,
		filepath.Join(dir, "knowledge.idx"),
		filepath.Join(dir, "knowledge.meta.json"),
		logger)
	if err != nil {
		t.Fatal(err)
	}

	sessions, err := session.Open(filepath.Join(dir, "sessions.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = sessions.Close() })

	registry := tools.NewRegistry(nil, nil, nil)
	// Mock embeddings score unrelated texts unpredictably; a threshold just
	// under the exact-match score keeps the vector stage deterministic.
	res := resolver.New(cat, nil, resolver.Config{Threshold: 0.99}, logger)
	replies := reply.New(nil, store, registry, reply.Config{}, logger)
	chatSvc := chat.New(
		sessions, res,
		resolver.NewInterruptDetector(nil, logger),
		flow.NewEngine(registry, logger),
		replies,
		registry, cat, logger,
	)
	srv := server.NewServer(chatSvc, res, resolver.NewInterruptDetector(nil, logger),
		store, cat, replies, &config.ServerConfig{}, logger)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func postChat(t *testing.T, baseURL, sessionID, message string) *models.ChatResponse {
	t.Helper()
	body, _ := json.Marshal(models.ChatRequest{SessionID: sessionID, Message: message})
	resp, err := http.Post(baseURL+"/api/v1/chat", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("chat returned %d", resp.StatusCode)
	}
	var out models.ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return &out
}

func TestE2E_FlowScripts(t *testing.T) {
	ts := startTestServer(t)

	for i, script := range FlowScripts {
		t.Run(script.Name, func(t *testing.T) {
			sessionID := fmt.Sprintf("e2e-flow-%d", i)
			for _, turn := range script.Turns {
				resp := postChat(t, ts.URL, sessionID, turn.Message)
				for _, want := range turn.Expect {
					if !strings.Contains(resp.Reply, want) {
						t.Fatalf("turn %q: reply %q missing %q", turn.Message, resp.Reply, want)
					}
				}
			}
		})
	}
}

func TestE2E_OpenQuestionUsesRetrieval(t *testing.T) {
	ts := startTestServer(t)

	// The indexed text of the faq intent resolves through the vector stage.
	resp := postChat(t, ts.URL, "e2e-faq", "发货 配送 多久发货")
	if resp.Type != models.IntentFAQ {
		t.Errorf("type = %s, want faq", resp.Type)
	}
	// No completion service is wired, so the reply is the busy fallback.
	if resp.Reply != reply.BusyFallback {
		t.Errorf("reply = %q", resp.Reply)
	}
}

func TestE2E_UnknownCreatesTicket(t *testing.T) {
	ts := startTestServer(t)

	resp := postChat(t, ts.URL, "e2e-unknown", "你好")
	if resp.Type != models.IntentUnknown {
		t.Errorf("type = %s, want unknown", resp.Type)
	}
	if !strings.Contains(resp.Reply, "工单") {
		t.Errorf("reply = %q", resp.Reply)
	}
}

func TestE2E_KnowledgeRoundTrip(t *testing.T) {
	ts := startTestServer(t)

	body, _ := json.Marshal(map[string]any{"texts": FixtureKnowledge})
	resp, err := http.Post(ts.URL+"/api/v1/knowledge", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add returned %d", resp.StatusCode)
	}

	// Identical text embeds to the identical vector, so the snippet itself
	// must come back first.
	query := FixtureKnowledge[0]
	body, _ = json.Marshal(map[string]any{"query": query, "top_k": 1})
	resp, err = http.Post(ts.URL+"/api/v1/knowledge/search", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var search struct {
		Results []knowledge.Hit `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&search); err != nil {
		t.Fatal(err)
	}
	if len(search.Results) != 1 || search.Results[0].Text != query {
		t.Fatalf("results = %+v", search.Results)
	}
	if search.Results[0].Score < 0.99 {
		t.Errorf("score = %f, want ~1", search.Results[0].Score)
	}
}

func TestE2E_Status(t *testing.T) {
	ts := startTestServer(t)

	resp, err := http.Get(ts.URL + "/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var status struct {
		Intents        int `json:"intents"`
		KnowledgeCount int `json:"knowledge_count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatal(err)
	}
	if status.Intents != 4 {
		t.Errorf("intents = %d, want 4", status.Intents)
	}
	if status.KnowledgeCount != 0 {
		t.Errorf("knowledge_count = %d, want 0", status.KnowledgeCount)
	}
}

package server

import (
	"bytes"
	"context"
	"encoding/json"
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
	"github.com/chatstack/kotae/internal/session"
)

const testIntents = `
intents:
  - id: return_goods
    name: 退货退款
    keywords: ["退货", "退款"]
    examples: ["我要退货", "怎么退款"]
    type: flow
    next_flow: return_goods
  - id: faq_shipping
    name: 配送咨询
    keywords: ["配送", "发货"]
    examples: ["多久发货"]
    type: faq
`

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	logger := zap.NewNop()
	embedder := embedding.NewMockEmbedder(32)
	ctx := context.Background()

	intentsPath := filepath.Join(dir, "intents.yaml")
	if err := os.WriteFile(intentsPath, []byte(testIntents), 0600); err != nil {
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

	res := resolver.New(cat, nil, resolver.Config{Threshold: 1.1}, logger)
	interrupts := resolver.NewInterruptDetector(nil, logger)
	replies := reply.New(nil, store, nil, reply.Config{}, logger)
	chatSvc := chat.New(
		sessions, res, interrupts,
		flow.NewEngine(nil, logger),
		replies,
		nil, cat, logger,
	)

	return NewServer(chatSvc, res, interrupts, store, cat, replies,
		&config.ServerConfig{Host: "localhost", Port: 8080}, logger)
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestHandleChat(t *testing.T) {
	router := newTestServer(t).Router()

	w := doJSON(t, router, http.MethodPost, "/api/v1/chat",
		models.ChatRequest{SessionID: "s1", Message: "我要退货"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp models.ChatResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Type != models.IntentFlow || !strings.Contains(resp.Reply, "退货服务") {
		t.Errorf("resp = %+v", resp)
	}
}

func TestHandleChat_EmptyMessage(t *testing.T) {
	router := newTestServer(t).Router()
	w := doJSON(t, router, http.MethodPost, "/api/v1/chat", models.ChatRequest{SessionID: "s1"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestHandleGenerateReply(t *testing.T) {
	router := newTestServer(t).Router()

	// No completion backend in tests, so the generator degrades to the
	// fixed wording per intent.
	w := doJSON(t, router, http.MethodPost, "/api/v1/reply/generate",
		models.ReplyRequest{Message: "多久发货", Intent: "faq_shipping"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp["reply"] != reply.BusyFallback {
		t.Errorf("reply = %q", resp["reply"])
	}

	w = doJSON(t, router, http.MethodPost, "/api/v1/reply/generate",
		models.ReplyRequest{Message: "你好", Intent: "unknown"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	resp = map[string]string{}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp["reply"] != reply.HandoffFallback {
		t.Errorf("reply = %q", resp["reply"])
	}

	w = doJSON(t, router, http.MethodPost, "/api/v1/reply/generate",
		models.ReplyRequest{Message: "你好"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing intent status = %d", w.Code)
	}
}

func TestHandleResolve(t *testing.T) {
	router := newTestServer(t).Router()

	w := doJSON(t, router, http.MethodPost, "/api/v1/intent/resolve",
		models.ResolveRequest{Message: "怎么退款"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var result models.ResolutionResult
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if result.Intent != "return_goods" || result.Source != models.SourceRule {
		t.Errorf("result = %+v", result)
	}
}

func TestHandleInterruptCheck(t *testing.T) {
	router := newTestServer(t).Router()

	w := doJSON(t, router, http.MethodPost, "/api/v1/flow/interrupt-check",
		models.InterruptCheckRequest{FlowID: "return_goods", UserMessage: "取消"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var decision models.FlowInterruptDecision
	if err := json.NewDecoder(w.Body).Decode(&decision); err != nil {
		t.Fatal(err)
	}
	// No remote configured: the detector fails open.
	if decision.ShouldInterrupt {
		t.Error("expected fail-open continue")
	}

	w = doJSON(t, router, http.MethodPost, "/api/v1/flow/interrupt-check",
		models.InterruptCheckRequest{UserMessage: "取消"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing flow_id: status = %d, want 400", w.Code)
	}
}

func TestKnowledgeLifecycle(t *testing.T) {
	router := newTestServer(t).Router()

	w := doJSON(t, router, http.MethodPost, "/api/v1/knowledge",
		map[string]any{"texts": []string{"退货需在7天内申请", "退款3个工作日到账"}})
	if w.Code != http.StatusCreated {
		t.Fatalf("add status = %d, body = %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, http.MethodGet, "/api/v1/knowledge/count", nil)
	var count struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(w.Body).Decode(&count); err != nil {
		t.Fatal(err)
	}
	if count.Count != 2 {
		t.Fatalf("count = %d, want 2", count.Count)
	}

	w = doJSON(t, router, http.MethodPost, "/api/v1/knowledge/search",
		map[string]any{"query": "退货需在7天内申请", "top_k": 1})
	if w.Code != http.StatusOK {
		t.Fatalf("search status = %d", w.Code)
	}
	var search struct {
		Results []knowledge.Hit `json:"results"`
	}
	if err := json.NewDecoder(w.Body).Decode(&search); err != nil {
		t.Fatal(err)
	}
	if len(search.Results) != 1 || search.Results[0].Text != "退货需在7天内申请" {
		t.Errorf("results = %+v", search.Results)
	}

	w = doJSON(t, router, http.MethodGet, "/api/v1/knowledge?limit=10", nil)
	var list struct {
		Records []models.KnowledgeRecord `json:"records"`
	}
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list.Records) != 2 {
		t.Errorf("list = %+v", list.Records)
	}

	w = doJSON(t, router, http.MethodDelete, "/api/v1/knowledge/0", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d", w.Code)
	}

	w = doJSON(t, router, http.MethodDelete, "/api/v1/knowledge/9", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("out-of-range delete status = %d, want 404", w.Code)
	}

	w = doJSON(t, router, http.MethodDelete, "/api/v1/knowledge", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("clear status = %d", w.Code)
	}
	w = doJSON(t, router, http.MethodGet, "/api/v1/knowledge/count", nil)
	_ = json.NewDecoder(w.Body).Decode(&count)
	if count.Count != 0 {
		t.Errorf("count after clear = %d, want 0", count.Count)
	}
}

func TestKnowledgeAdd_Empty(t *testing.T) {
	router := newTestServer(t).Router()
	w := doJSON(t, router, http.MethodPost, "/api/v1/knowledge", map[string]any{"texts": []string{}})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestHandleTicketCreate(t *testing.T) {
	router := newTestServer(t).Router()

	w := doJSON(t, router, http.MethodPost, "/api/v1/tickets",
		map[string]string{"session_id": "s1", "user_id": "u1", "description": "无法登录"})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var ticket models.Ticket
	if err := json.NewDecoder(w.Body).Decode(&ticket); err != nil {
		t.Fatal(err)
	}
	if ticket.ID == "" || ticket.Status != models.TicketOpen {
		t.Errorf("ticket = %+v", ticket)
	}

	w = doJSON(t, router, http.MethodPost, "/api/v1/tickets", map[string]string{"session_id": "s1"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing description: status = %d, want 400", w.Code)
	}
}

func TestSessionHistoryAndDelete(t *testing.T) {
	router := newTestServer(t).Router()

	doJSON(t, router, http.MethodPost, "/api/v1/chat",
		models.ChatRequest{SessionID: "s1", Message: "什么时候发货"})

	w := doJSON(t, router, http.MethodGet, "/api/v1/sessions/s1/history", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("history status = %d", w.Code)
	}
	var history models.SessionHistoryResponse
	if err := json.NewDecoder(w.Body).Decode(&history); err != nil {
		t.Fatal(err)
	}
	if history.Count != 2 {
		t.Errorf("count = %d, want 2", history.Count)
	}

	w = doJSON(t, router, http.MethodDelete, "/api/v1/sessions/s1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d", w.Code)
	}
	w = doJSON(t, router, http.MethodGet, "/api/v1/sessions/s1/history", nil)
	_ = json.NewDecoder(w.Body).Decode(&history)
	if history.Count != 0 {
		t.Errorf("count after delete = %d, want 0", history.Count)
	}
}

func TestIntentsListAndRebuild(t *testing.T) {
	router := newTestServer(t).Router()

	w := doJSON(t, router, http.MethodGet, "/api/v1/intents", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var list struct {
		Count int `json:"count"`
	}
	if err := json.NewDecoder(w.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if list.Count != 2 {
		t.Errorf("count = %d, want 2", list.Count)
	}

	w = doJSON(t, router, http.MethodPost, "/api/v1/intents/rebuild", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("rebuild status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestHealthAndStatus(t *testing.T) {
	router := newTestServer(t).Router()

	w := doJSON(t, router, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("health status = %d", w.Code)
	}

	w = doJSON(t, router, http.MethodGet, "/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var status struct {
		Intents int `json:"intents"`
	}
	if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
		t.Fatal(err)
	}
	if status.Intents != 2 {
		t.Errorf("intents = %d, want 2", status.Intents)
	}
}

func TestInvalidJSON(t *testing.T) {
	router := newTestServer(t).Router()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", strings.NewReader("not json"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

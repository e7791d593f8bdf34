package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/chatstack/kotae/internal/models"
)

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req models.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		s.respondError(w, http.StatusBadRequest, "message is required")
		return
	}
	s.logger.Debug("chat request", zap.String("session", req.SessionID))
	resp, err := s.chat.HandleMessage(r.Context(), req)
	if err != nil {
		s.logger.Error("chat turn failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req models.ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		s.respondError(w, http.StatusBadRequest, "message is required")
		return
	}
	result := s.resolver.Resolve(r.Context(), req.Message, req.History)
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleGenerateReply(w http.ResponseWriter, r *http.Request) {
	var req models.ReplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		s.respondError(w, http.StatusBadRequest, "message is required")
		return
	}
	if req.Intent == "" {
		s.respondError(w, http.StatusBadRequest, "intent is required")
		return
	}
	reply := s.replies.Generate(r.Context(), req.Message, req.Intent, req.FlowID, req.History)
	s.respondJSON(w, http.StatusOK, map[string]string{"reply": reply})
}

func (s *Server) handleIntentsRebuild(w http.ResponseWriter, r *http.Request) {
	if err := s.catalog.Rebuild(r.Context()); err != nil {
		s.logger.Error("intent rebuild failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"status":  "rebuilt",
		"indexed": s.catalog.Size(),
	})
}

func (s *Server) handleIntentsList(w http.ResponseWriter, r *http.Request) {
	ids := s.catalog.IDs()
	intents := make([]*models.IntentDefinition, 0, len(ids))
	for _, id := range ids {
		if def := s.catalog.Intent(id); def != nil {
			intents = append(intents, def)
		}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"intents": intents,
		"count":   len(intents),
	})
}

func (s *Server) handleInterruptCheck(w http.ResponseWriter, r *http.Request) {
	var req models.InterruptCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.FlowID == "" || req.UserMessage == "" {
		s.respondError(w, http.StatusBadRequest, "flow_id and user_message are required")
		return
	}
	decision := s.interrupts.Check(r.Context(), req)
	s.respondJSON(w, http.StatusOK, decision)
}

type knowledgeAddRequest struct {
	Texts    []string         `json:"texts"`
	Metadata []map[string]any `json:"metadata,omitempty"`
}

func (s *Server) handleKnowledgeAdd(w http.ResponseWriter, r *http.Request) {
	var req knowledgeAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Texts) == 0 {
		s.respondError(w, http.StatusBadRequest, "texts is required")
		return
	}
	added, err := s.knowledge.Add(r.Context(), req.Texts, req.Metadata)
	if err != nil {
		s.logger.Error("knowledge add failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]any{
		"added": added,
		"count": s.knowledge.Count(),
	})
}

type knowledgeSearchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

func (s *Server) handleKnowledgeSearch(w http.ResponseWriter, r *http.Request) {
	var req knowledgeSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		s.respondError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.TopK <= 0 {
		req.TopK = 3
	}
	hits, err := s.knowledge.Search(r.Context(), req.Query, req.TopK)
	if err != nil {
		s.logger.Error("knowledge search failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"results": hits})
}

func (s *Server) handleKnowledgeList(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 {
		limit = 50
	}
	records := s.knowledge.List(limit, offset)
	s.respondJSON(w, http.StatusOK, map[string]any{
		"records": records,
		"count":   s.knowledge.Count(),
	})
}

func (s *Server) handleKnowledgeCount(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{"count": s.knowledge.Count()})
}

func (s *Server) handleKnowledgeDelete(w http.ResponseWriter, r *http.Request) {
	ordinal, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "index must be an integer")
		return
	}
	if err := s.knowledge.Delete(ordinal); err != nil {
		s.respondError(w, http.StatusNotFound, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"status": "deleted",
		"count":  s.knowledge.Count(),
	})
}

func (s *Server) handleKnowledgeClear(w http.ResponseWriter, r *http.Request) {
	if err := s.knowledge.DeleteAll(); err != nil {
		s.logger.Error("knowledge clear failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"status": "cleared"})
}

type ticketCreateRequest struct {
	SessionID   string `json:"session_id"`
	UserID      string `json:"user_id"`
	Description string `json:"description"`
}

func (s *Server) handleTicketCreate(w http.ResponseWriter, r *http.Request) {
	var req ticketCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Description == "" {
		s.respondError(w, http.StatusBadRequest, "description is required")
		return
	}
	ticket, err := s.chat.CreateTicket(r.Context(), req.UserID, req.SessionID, req.Description)
	if err != nil {
		s.logger.Error("ticket creation failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusCreated, ticket)
}

func (s *Server) handleSessionHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	history, err := s.chat.History(r.Context(), id)
	if err != nil {
		s.logger.Error("session history failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, history)
}

func (s *Server) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.chat.ClearSession(r.Context(), id); err != nil {
		s.logger.Error("session delete failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.chat.Ping(r.Context()); err != nil {
		s.respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{
		"intents":          s.catalog.Size(),
		"knowledge_count":  s.knowledge.Count(),
		"disk_usage_bytes": s.chat.SessionDiskUsage() + s.knowledge.DiskUsageBytes(),
	})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

// Package server provides the HTTP API for Kotae.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/chatstack/kotae/internal/catalog"
	"github.com/chatstack/kotae/internal/chat"
	"github.com/chatstack/kotae/internal/config"
	"github.com/chatstack/kotae/internal/knowledge"
	"github.com/chatstack/kotae/internal/reply"
	"github.com/chatstack/kotae/internal/resolver"
)

// Server is the HTTP server for the Kotae API.
type Server struct {
	chat       *chat.Service
	resolver   *resolver.Resolver
	interrupts *resolver.InterruptDetector
	knowledge  *knowledge.Store
	catalog    *catalog.Catalog
	replies    *reply.Generator
	config     *config.ServerConfig
	logger     *zap.Logger
	server     *http.Server
}

// NewServer creates a server with the given dependencies.
func NewServer(
	chatSvc *chat.Service,
	res *resolver.Resolver,
	interrupts *resolver.InterruptDetector,
	store *knowledge.Store,
	cat *catalog.Catalog,
	replies *reply.Generator,
	cfg *config.ServerConfig,
	logger *zap.Logger,
) *Server {
	return &Server{
		chat:       chatSvc,
		resolver:   res,
		interrupts: interrupts,
		knowledge:  store,
		catalog:    cat,
		replies:    replies,
		config:     cfg,
		logger:     logger,
	}
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Post("/api/v1/chat", s.handleChat)
	r.Post("/api/v1/intent/resolve", s.handleResolve)
	r.Post("/api/v1/reply/generate", s.handleGenerateReply)
	r.Post("/api/v1/intents/rebuild", s.handleIntentsRebuild)
	r.Get("/api/v1/intents", s.handleIntentsList)
	r.Post("/api/v1/flow/interrupt-check", s.handleInterruptCheck)
	r.Post("/api/v1/knowledge", s.handleKnowledgeAdd)
	r.Post("/api/v1/knowledge/search", s.handleKnowledgeSearch)
	r.Get("/api/v1/knowledge", s.handleKnowledgeList)
	r.Get("/api/v1/knowledge/count", s.handleKnowledgeCount)
	r.Delete("/api/v1/knowledge/{index}", s.handleKnowledgeDelete)
	r.Delete("/api/v1/knowledge", s.handleKnowledgeClear)
	r.Post("/api/v1/tickets", s.handleTicketCreate)
	r.Get("/api/v1/sessions/{id}/history", s.handleSessionHistory)
	r.Delete("/api/v1/sessions/{id}", s.handleSessionDelete)
	r.Get("/health", s.handleHealth)
	r.Get("/status", s.handleStatus)

	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// Package chat orchestrates a conversation turn: session lookup, flow
// continuation or interruption, intent resolution, and reply generation.
package chat

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chatstack/kotae/internal/catalog"
	"github.com/chatstack/kotae/internal/flow"
	"github.com/chatstack/kotae/internal/models"
	"github.com/chatstack/kotae/internal/reply"
	"github.com/chatstack/kotae/internal/resolver"
	"github.com/chatstack/kotae/internal/session"
	"github.com/chatstack/kotae/internal/tools"
	"github.com/chatstack/kotae/pkg/utils"
)

// saveRetries bounds optimistic-lock retries per turn.
const saveRetries = 3

// historyWindow is how many recent turns feed resolution and generation.
const historyWindow = 10

// maxMessages caps the stored history per session.
const maxMessages = 100

// Service handles chat turns end to end.
type Service struct {
	store      *session.Store
	resolver   *resolver.Resolver
	interrupts *resolver.InterruptDetector
	flows      *flow.Engine
	replies    *reply.Generator
	tickets    tools.TicketSink
	catalog    *catalog.Catalog
	logger     *zap.Logger
}

// New wires the chat service. tickets may be nil for the echo default.
func New(store *session.Store, res *resolver.Resolver, interrupts *resolver.InterruptDetector,
	flows *flow.Engine, replies *reply.Generator, tickets tools.TicketSink,
	cat *catalog.Catalog, logger *zap.Logger) *Service {
	if tickets == nil {
		tickets = tools.EchoTickets{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:      store,
		resolver:   res,
		interrupts: interrupts,
		flows:      flows,
		replies:    replies,
		tickets:    tickets,
		catalog:    cat,
		logger:     logger,
	}
}

// HandleMessage processes one user turn and returns the reply.
func (s *Service) HandleMessage(ctx context.Context, req models.ChatRequest) (*models.ChatResponse, error) {
	if req.Message == "" {
		return nil, errors.New("message is empty")
	}
	if req.SessionID == "" {
		req.SessionID = uuid.New().String()
	}

	sess, err := s.getOrCreateSession(ctx, req.SessionID, req.UserID)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("chat turn",
		zap.String("session", sess.ID),
		zap.String("state", string(sess.State)),
		zap.String("flow", sess.FlowID),
		zap.String("step", sess.CurrentStep),
		zap.String("message", utils.Truncate(req.Message, 80)),
		zap.Int("messages", len(sess.Messages)))

	// A finished flow leaves the session complete; the next turn starts
	// over.
	if sess.State == models.SessionComplete {
		sess.State = models.SessionNew
		sess.FlowID = ""
		sess.CurrentStep = ""
		sess.FlowState = nil
	}

	if sess.State == models.SessionOnFlow {
		decision := s.interrupts.Check(ctx, models.InterruptCheckRequest{
			SessionID:   sess.ID,
			FlowID:      sess.FlowID,
			CurrentStep: sess.CurrentStep,
			UserMessage: req.Message,
			FlowState:   sess.FlowState,
		})
		if !decision.ShouldInterrupt {
			return s.runFlow(ctx, req, sess)
		}
		s.logger.Info("flow interrupted",
			zap.String("session", sess.ID),
			zap.String("flow", sess.FlowID),
			zap.String("new_intent", decision.NewIntent))
		sess.State = models.SessionActive
		sess.FlowID = ""
		sess.CurrentStep = ""
		sess.FlowState = nil
	}

	result := s.resolver.Resolve(ctx, req.Message, s.recentHistory(sess, historyWindow))
	s.logger.Debug("turn resolved",
		zap.String("session", sess.ID),
		zap.String("intent", result.Intent),
		zap.String("source", string(result.Source)))

	if flowID := s.flowFor(result); flowID != "" {
		sess.State = models.SessionOnFlow
		sess.FlowID = flowID
		sess.CurrentStep = "start"
		return s.runFlow(ctx, req, sess)
	}

	if s.isOpenQuestion(result.Intent) {
		return s.answerQuestion(ctx, req, sess, result.Intent)
	}
	return s.handleUnknown(ctx, req, sess)
}

// flowFor maps a resolution to a registered flow id, or "".
func (s *Service) flowFor(result *models.ResolutionResult) string {
	if result.FlowID != "" && s.flows.Has(result.FlowID) {
		return result.FlowID
	}
	if s.catalog != nil {
		if def := s.catalog.Intent(result.Intent); def != nil &&
			def.Type == models.IntentFlow && s.flows.Has(def.NextFlow) {
			return def.NextFlow
		}
	}
	return ""
}

// isOpenQuestion reports whether the intent routes through retrieval and
// generation rather than a flow or a ticket.
func (s *Service) isOpenQuestion(intent string) bool {
	if intent == string(models.IntentUnknown) {
		return false
	}
	if s.catalog != nil {
		if def := s.catalog.Intent(intent); def != nil {
			return def.Type == models.IntentFAQ
		}
	}
	return intent == string(models.IntentFAQ)
}

func (s *Service) runFlow(ctx context.Context, req models.ChatRequest, sess *models.Session) (*models.ChatResponse, error) {
	text, err := s.flows.Advance(ctx, sess, req.Message)
	if errors.Is(err, flow.ErrUnknownFlow) {
		s.logger.Warn("session references unknown flow",
			zap.String("session", sess.ID),
			zap.String("flow", sess.FlowID))
		sess.State = models.SessionNew
		sess.FlowID = ""
		sess.CurrentStep = ""
		sess.FlowState = nil
		s.record(sess, req.Message, "抱歉，系统错误，请重新开始。")
		if err := s.store.SaveWithLock(ctx, sess, saveRetries); err != nil {
			s.logger.Warn("session save failed", zap.String("session", sess.ID), zap.Error(err))
		}
		return &models.ChatResponse{
			Reply:     "抱歉，系统错误，请重新开始。",
			Type:      models.IntentUnknown,
			SessionID: sess.ID,
			Session:   sess.State,
		}, nil
	}
	if err != nil {
		return nil, err
	}

	s.record(sess, req.Message, text)
	if err := s.store.SaveWithLock(ctx, sess, saveRetries); err != nil {
		s.logger.Warn("session save failed", zap.String("session", sess.ID), zap.Error(err))
		return nil, err
	}
	return &models.ChatResponse{
		Reply:     text,
		Type:      models.IntentFlow,
		SessionID: sess.ID,
		Session:   sess.State,
		FlowStep:  sess.CurrentStep,
	}, nil
}

func (s *Service) answerQuestion(ctx context.Context, req models.ChatRequest, sess *models.Session, intent string) (*models.ChatResponse, error) {
	text := s.replies.Generate(ctx, req.Message, intent, "", s.recentHistory(sess, historyWindow))

	sess.State = models.SessionActive
	s.record(sess, req.Message, text)
	if err := s.store.SaveWithLock(ctx, sess, saveRetries); err != nil {
		s.logger.Warn("session save failed", zap.String("session", sess.ID), zap.Error(err))
	}
	return &models.ChatResponse{
		Reply:     text,
		Type:      models.IntentFAQ,
		SessionID: sess.ID,
		Session:   sess.State,
	}, nil
}

// handleUnknown files a ticket and hands the user to a human.
func (s *Service) handleUnknown(ctx context.Context, req models.ChatRequest, sess *models.Session) (*models.ChatResponse, error) {
	if _, err := s.CreateTicket(ctx, req.UserID, sess.ID, req.Message); err != nil {
		s.logger.Warn("ticket creation failed", zap.String("session", sess.ID), zap.Error(err))
		return nil, err
	}

	text := reply.HandoffFallback
	sess.State = models.SessionActive
	s.record(sess, req.Message, text)
	if err := s.store.SaveWithLock(ctx, sess, saveRetries); err != nil {
		s.logger.Warn("session save failed", zap.String("session", sess.ID), zap.Error(err))
	}
	return &models.ChatResponse{
		Reply:     text,
		Type:      models.IntentUnknown,
		SessionID: sess.ID,
		Session:   sess.State,
	}, nil
}

// CreateTicket files a support ticket for a session.
func (s *Service) CreateTicket(ctx context.Context, userID, sessionID, description string) (*models.Ticket, error) {
	return s.tickets.CreateTicket(ctx, models.Ticket{
		SessionID:   sessionID,
		UserID:      userID,
		Intent:      string(models.IntentUnknown),
		Description: description,
	})
}

// History returns a session's stored messages. A missing session yields
// an empty history, not an error.
func (s *Service) History(ctx context.Context, sessionID string) (*models.SessionHistoryResponse, error) {
	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return &models.SessionHistoryResponse{
			SessionID: sessionID,
			Messages:  []models.Message{},
		}, nil
	}
	return &models.SessionHistoryResponse{
		SessionID: sessionID,
		Messages:  sess.Messages,
		Count:     len(sess.Messages),
	}, nil
}

// ClearSession deletes a session.
func (s *Service) ClearSession(ctx context.Context, sessionID string) error {
	return s.store.Delete(ctx, sessionID)
}

// Ping reports backing-store health.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// SessionDiskUsage reports the on-disk size of the session database.
func (s *Service) SessionDiskUsage() int64 {
	return s.store.DiskUsageBytes()
}

func (s *Service) getOrCreateSession(ctx context.Context, sessionID, userID string) (*models.Session, error) {
	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess != nil {
		return sess, nil
	}

	now := time.Now().Format(time.RFC3339)
	sess = &models.Session{
		ID:        sessionID,
		UserID:    userID,
		State:     models.SessionNew,
		Messages:  []models.Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Service) record(sess *models.Session, userMessage, assistantReply string) {
	now := time.Now().Format(time.RFC3339Nano)
	sess.Messages = append(sess.Messages,
		models.Message{Role: models.RoleUser, Content: userMessage, Timestamp: now},
		models.Message{Role: models.RoleAssistant, Content: assistantReply, Timestamp: now},
	)
	if len(sess.Messages) > maxMessages {
		sess.Messages = sess.Messages[len(sess.Messages)-maxMessages:]
	}
}

func (s *Service) recentHistory(sess *models.Session, count int) []models.Message {
	if len(sess.Messages) <= count {
		return sess.Messages
	}
	return sess.Messages[len(sess.Messages)-count:]
}

// Package flow implements the multi-step guided processes a session can
// enter: return requests, order lookup, logistics lookup, support
// escalation. Each flow is a
// small state machine keyed by step name; the session carries the current
// position and collected fields.
package flow

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/chatstack/kotae/internal/models"
	"github.com/chatstack/kotae/internal/tools"
)

// ErrUnknownFlow is returned when a session references a flow that is not
// registered. The caller resets the session.
var ErrUnknownFlow = errors.New("flow: unknown flow")

// StepFunc handles one step. done reports flow completion; nextStep names
// the step for following turn when not done.
type StepFunc func(ctx context.Context, session *models.Session, userMessage string) (reply string, done bool, nextStep string, err error)

// Engine dispatches a session turn to the registered flow steps.
type Engine struct {
	tools  *tools.Registry
	logger *zap.Logger
	flows  map[string]map[string]StepFunc
}

// NewEngine builds the engine with its flow table. registry may be nil,
// in which case lookups use the static defaults.
func NewEngine(registry *tools.Registry, logger *zap.Logger) *Engine {
	if registry == nil {
		registry = tools.NewRegistry(nil, nil, nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{tools: registry, logger: logger}
	e.flows = map[string]map[string]StepFunc{
		"return_goods": {
			"start":        e.returnGoodsStart,
			"ask_order_id": e.returnGoodsAskOrderID,
			"ask_reason":   e.returnGoodsAskReason,
			"confirm":      e.returnGoodsConfirm,
			"processing":   e.returnGoodsProcessing,
		},
		"customer_service": {
			"start":           e.customerServiceStart,
			"ask_category":    e.customerServiceAskCategory,
			"ask_description": e.customerServiceAskDescription,
			"ask_contact":     e.customerServiceAskContact,
		},
		"order_query": {
			"start":      e.orderQueryStart,
			"processing": e.orderQueryProcessing,
		},
		"logistics": {
			"start": e.logisticsStart,
			"query": e.logisticsQuery,
		},
	}
	return e
}

// Has reports whether a flow id is registered.
func (e *Engine) Has(flowID string) bool {
	_, ok := e.flows[flowID]
	return ok
}

// Advance runs one step of the session's flow and updates the session's
// position in place. It does not persist the session or record messages.
func (e *Engine) Advance(ctx context.Context, session *models.Session, userMessage string) (string, error) {
	steps, ok := e.flows[session.FlowID]
	if !ok {
		return "", ErrUnknownFlow
	}

	step := session.CurrentStep
	if step == "" {
		step = "start"
	}
	handler, ok := steps[step]
	if !ok {
		// Stale step name, restart the flow from the beginning.
		e.logger.Warn("unknown flow step, restarting",
			zap.String("flow", session.FlowID),
			zap.String("step", step))
		step = "start"
		handler = steps[step]
	}

	reply, done, nextStep, err := handler(ctx, session, userMessage)
	if err != nil {
		return "", err
	}

	if done {
		session.State = models.SessionComplete
		session.CurrentStep = ""
		session.FlowState = nil
	} else {
		session.State = models.SessionOnFlow
		session.CurrentStep = nextStep
	}
	return reply, nil
}

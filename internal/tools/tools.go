// Package tools implements the callable actions exposed to the reply
// generator: order lookup, logistics lookup, and ticket creation. The data
// sources are pluggable collaborators; the defaults serve static records.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/chatstack/kotae/internal/models"
)

// OrderSource looks up order status by order id.
type OrderSource interface {
	OrderStatus(ctx context.Context, orderID string) (string, error)
}

// LogisticsSource looks up shipment tracking by order id.
type LogisticsSource interface {
	Logistics(ctx context.Context, orderID string) (string, error)
}

// TicketSink accepts new support tickets.
type TicketSink interface {
	CreateTicket(ctx context.Context, ticket models.Ticket) (*models.Ticket, error)
}

// Registry holds the tool implementations and their model-facing contract.
type Registry struct {
	orders    OrderSource
	logistics LogisticsSource
	tickets   TicketSink
}

// NewRegistry creates a registry. Nil sources fall back to the static
// defaults.
func NewRegistry(orders OrderSource, logistics LogisticsSource, tickets TicketSink) *Registry {
	if orders == nil {
		orders = staticOrders{}
	}
	if logistics == nil {
		logistics = staticLogistics{}
	}
	if tickets == nil {
		tickets = EchoTickets{}
	}
	return &Registry{orders: orders, logistics: logistics, tickets: tickets}
}

// Definitions returns the tool contract sent with generation requests.
func (r *Registry) Definitions() []openai.Tool {
	orderParams := json.RawMessage(`{
		"type": "object",
		"properties": {
			"order_id": {"type": "string", "description": "订单号"}
		},
		"required": ["order_id"]
	}`)
	ticketParams := json.RawMessage(`{
		"type": "object",
		"properties": {
			"subject": {"type": "string", "description": "工单主题"},
			"description": {"type": "string", "description": "问题描述"}
		},
		"required": ["description"]
	}`)
	return []openai.Tool{
		{Type: openai.ToolTypeFunction, Function: &openai.FunctionDefinition{
			Name:        "query_order",
			Description: "查询订单状态",
			Parameters:  orderParams,
		}},
		{Type: openai.ToolTypeFunction, Function: &openai.FunctionDefinition{
			Name:        "query_logistics",
			Description: "查询订单的物流信息",
			Parameters:  orderParams,
		}},
		{Type: openai.ToolTypeFunction, Function: &openai.FunctionDefinition{
			Name:        "create_ticket",
			Description: "为用户创建人工客服工单",
			Parameters:  ticketParams,
		}},
	}
}

// Execute runs one tool call and returns its output as a string for the
// follow-up generation turn.
func (r *Registry) Execute(ctx context.Context, call openai.ToolCall) (string, error) {
	switch call.Function.Name {
	case "query_order":
		var args struct {
			OrderID string `json:"order_id"`
		}
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			return "", fmt.Errorf("query_order arguments: %w", err)
		}
		return r.orders.OrderStatus(ctx, args.OrderID)
	case "query_logistics":
		var args struct {
			OrderID string `json:"order_id"`
		}
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			return "", fmt.Errorf("query_logistics arguments: %w", err)
		}
		return r.logistics.Logistics(ctx, args.OrderID)
	case "create_ticket":
		var args struct {
			Subject     string `json:"subject"`
			Description string `json:"description"`
		}
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			return "", fmt.Errorf("create_ticket arguments: %w", err)
		}
		ticket, err := r.tickets.CreateTicket(ctx, models.Ticket{
			Subject:     args.Subject,
			Description: args.Description,
			Intent:      string(models.IntentUnknown),
		})
		if err != nil {
			return "", err
		}
		out, err := json.Marshal(ticket)
		if err != nil {
			return "", err
		}
		return string(out), nil
	default:
		return "", fmt.Errorf("unknown tool: %s", call.Function.Name)
	}
}

// OrderStatus is a direct lookup for flow handlers.
func (r *Registry) OrderStatus(ctx context.Context, orderID string) (string, error) {
	return r.orders.OrderStatus(ctx, orderID)
}

// LogisticsInfo is a direct lookup for flow handlers.
func (r *Registry) LogisticsInfo(ctx context.Context, orderID string) (string, error) {
	return r.logistics.Logistics(ctx, orderID)
}

// CreateTicket validates and files a ticket directly.
func (r *Registry) CreateTicket(ctx context.Context, ticket models.Ticket) (*models.Ticket, error) {
	return r.tickets.CreateTicket(ctx, ticket)
}

// staticOrders serves fixed order records.
type staticOrders struct{}

func (staticOrders) OrderStatus(ctx context.Context, orderID string) (string, error) {
	switch orderID {
	case "12345":
		return "已发货，预计明天送达\n物流单号：SF1234567890", nil
	case "67890":
		return "处理中，预计3个工作日内发货", nil
	case "11111":
		return "已签收，签收时间：2024-01-15 14:30", nil
	default:
		return "未找到该订单，请检查订单号是否正确。", nil
	}
}

// staticLogistics serves fixed tracking records.
type staticLogistics struct{}

func (staticLogistics) Logistics(ctx context.Context, orderID string) (string, error) {
	switch orderID {
	case "12345":
		return "快递公司：顺丰速运\n单号：SF1234567890\n当前状态：已到达【北京朝阳区】\n预计送达：今天下午", nil
	case "67890":
		return "快递公司：中通快递\n单号：ZT9876543210\n当前状态：运输中【上海分拨中心】\n预计送达：明天", nil
	case "11111":
		return "快递公司：圆通速递\n单号：YT5555666677\n当前状态：已签收\n签收人：本人", nil
	default:
		return "未查询到该订单的物流信息，请检查订单号是否正确。", nil
	}
}

// EchoTickets fills identifiers and timestamps and echoes the input back.
// Real persistence is an external collaborator.
type EchoTickets struct{}

// CreateTicket validates required fields and stamps the ticket.
func (EchoTickets) CreateTicket(ctx context.Context, ticket models.Ticket) (*models.Ticket, error) {
	if ticket.Description == "" {
		return nil, fmt.Errorf("ticket description is required")
	}
	now := time.Now().Format(time.RFC3339Nano)
	ticket.ID = uuid.New().String()
	ticket.Status = models.TicketOpen
	ticket.CreatedAt = now
	ticket.UpdatedAt = now
	if ticket.Intent == "" {
		ticket.Intent = string(models.IntentUnknown)
	}
	return &ticket, nil
}

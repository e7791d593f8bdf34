package tools

import (
	"context"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/chatstack/kotae/internal/models"
)

func TestRegistry_Definitions(t *testing.T) {
	r := NewRegistry(nil, nil, nil)
	defs := r.Definitions()
	if len(defs) != 3 {
		t.Fatalf("expected 3 tools, got %d", len(defs))
	}
	names := map[string]bool{}
	for _, d := range defs {
		names[d.Function.Name] = true
	}
	for _, want := range []string{"query_order", "query_logistics", "create_ticket"} {
		if !names[want] {
			t.Errorf("missing tool %s", want)
		}
	}
}

func TestRegistry_ExecuteOrder(t *testing.T) {
	r := NewRegistry(nil, nil, nil)
	out, err := r.Execute(context.Background(), openai.ToolCall{
		Function: openai.FunctionCall{Name: "query_order", Arguments: `{"order_id":"12345"}`},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "已发货") {
		t.Errorf("order output: %q", out)
	}

	out, err = r.Execute(context.Background(), openai.ToolCall{
		Function: openai.FunctionCall{Name: "query_order", Arguments: `{"order_id":"00000"}`},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "未找到") {
		t.Errorf("unknown order output: %q", out)
	}
}

func TestRegistry_ExecuteLogistics(t *testing.T) {
	r := NewRegistry(nil, nil, nil)
	out, err := r.Execute(context.Background(), openai.ToolCall{
		Function: openai.FunctionCall{Name: "query_logistics", Arguments: `{"order_id":"67890"}`},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "中通快递") {
		t.Errorf("logistics output: %q", out)
	}
}

func TestRegistry_ExecuteCreateTicket(t *testing.T) {
	r := NewRegistry(nil, nil, nil)
	out, err := r.Execute(context.Background(), openai.ToolCall{
		Function: openai.FunctionCall{Name: "create_ticket", Arguments: `{"description":"无法登录"}`},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, `"status":"open"`) {
		t.Errorf("ticket output: %q", out)
	}
}

func TestRegistry_UnknownTool(t *testing.T) {
	r := NewRegistry(nil, nil, nil)
	if _, err := r.Execute(context.Background(), openai.ToolCall{
		Function: openai.FunctionCall{Name: "emit_refund"},
	}); err == nil {
		t.Error("expected error for unknown tool")
	}
}

func TestRegistry_BadArguments(t *testing.T) {
	r := NewRegistry(nil, nil, nil)
	if _, err := r.Execute(context.Background(), openai.ToolCall{
		Function: openai.FunctionCall{Name: "query_order", Arguments: `not json`},
	}); err == nil {
		t.Error("expected error for malformed arguments")
	}
}

func TestEchoTickets(t *testing.T) {
	sink := EchoTickets{}
	ticket, err := sink.CreateTicket(context.Background(), models.Ticket{
		SessionID:   "s1",
		UserID:      "u1",
		Description: "商品损坏",
	})
	if err != nil {
		t.Fatal(err)
	}
	if ticket.ID == "" || ticket.Status != models.TicketOpen || ticket.CreatedAt == "" {
		t.Errorf("ticket not stamped: %+v", ticket)
	}
	if ticket.SessionID != "s1" || ticket.Description != "商品损坏" {
		t.Errorf("input not echoed: %+v", ticket)
	}

	if _, err := sink.CreateTicket(context.Background(), models.Ticket{}); err == nil {
		t.Error("expected error for missing description")
	}
}

package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/chatstack/kotae/internal/models"
)

func TestParseFormat(t *testing.T) {
	if f, err := ParseFormat(""); err != nil || f != OutputText {
		t.Errorf("ParseFormat(\"\") = %v, %v", f, err)
	}
	if f, err := ParseFormat("json"); err != nil || f != OutputJSON {
		t.Errorf("ParseFormat(json) = %v, %v", f, err)
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestWriteChatResponse_Text(t *testing.T) {
	resp := &models.ChatResponse{
		Reply:    "欢迎使用退货服务！请提供您要退货的订单号。",
		Type:     models.IntentFlow,
		Session:  models.SessionOnFlow,
		FlowStep: "ask_order_id",
	}
	var buf bytes.Buffer
	if err := WriteChatResponse(&buf, resp, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "退货服务") || !strings.Contains(out, "ask_order_id") {
		t.Errorf("output = %q", out)
	}
}

func TestWriteChatResponse_JSON(t *testing.T) {
	resp := &models.ChatResponse{Reply: "好的", Type: models.IntentFAQ}
	var buf bytes.Buffer
	if err := WriteChatResponse(&buf, resp, OutputJSON); err != nil {
		t.Fatal(err)
	}
	var decoded models.ChatResponse
	if err := json.NewDecoder(&buf).Decode(&decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded.Reply != "好的" || decoded.Type != models.IntentFAQ {
		t.Errorf("decoded = %+v", decoded)
	}
}

func TestWriteResolution_Text(t *testing.T) {
	result := &models.ResolutionResult{
		Intent:     "return_goods",
		Confidence: 0.9,
		FlowID:     "return_goods",
		Source:     models.SourceRule,
	}
	var buf bytes.Buffer
	if err := WriteResolution(&buf, result, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"return_goods", "0.90", "rule", "flow:"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteHistory(t *testing.T) {
	history := &models.SessionHistoryResponse{
		SessionID: "s1",
		Messages: []models.Message{
			{Role: "user", Content: "我要退货"},
			{Role: "assistant", Content: "欢迎使用退货服务！"},
		},
		Count: 2,
	}
	var buf bytes.Buffer
	if err := WriteHistory(&buf, history, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "s1") || !strings.Contains(out, "user:") || !strings.Contains(out, "退货服务") {
		t.Errorf("output = %q", out)
	}

	buf.Reset()
	if err := WriteHistory(&buf, history, OutputJSON); err != nil {
		t.Fatal(err)
	}
	var decoded models.SessionHistoryResponse
	if err := json.NewDecoder(&buf).Decode(&decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded.Count != 2 {
		t.Errorf("count = %d", decoded.Count)
	}
}

// Package reply generates the final assistant message for a resolved
// intent, optionally grounded on retrieved knowledge and tool calls.
package reply

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/chatstack/kotae/internal/knowledge"
	"github.com/chatstack/kotae/internal/llm"
	"github.com/chatstack/kotae/internal/models"
	"github.com/chatstack/kotae/internal/tools"
)

// BusyFallback is returned when generation fails and no better wording
// can be produced.
const BusyFallback = "抱歉，当前系统繁忙，请稍后再试。"

// HandoffFallback is the transfer-to-human wording for unresolvable turns.
const HandoffFallback = "您好，我无法准确理解您的问题。已为您创建工单，客服人员将尽快与您联系。"

// contextTopK is how many knowledge snippets ground a free-form answer.
const contextTopK = 3

// Completer is the chat-completion dependency of the generator.
type Completer interface {
	Complete(ctx context.Context, messages []openai.ChatCompletionMessage, opts ...llm.Option) (string, error)
	CompleteWithTools(ctx context.Context, messages []openai.ChatCompletionMessage, tools []openai.Tool, opts ...llm.Option) (*openai.ChatCompletionMessage, error)
}

// Retriever supplies grounding snippets for open-ended questions.
type Retriever interface {
	Search(ctx context.Context, query string, topK int) ([]knowledge.Hit, error)
}

// Generator produces assistant replies. It degrades to fixed wording when
// the completion service is unavailable.
type Generator struct {
	llm       Completer
	retriever Retriever
	tools     *tools.Registry
	history   int
	logger    *zap.Logger
}

// Config tunes the generator.
type Config struct {
	HistoryWindow int
}

// New creates a generator. llm may be nil, in which case every reply is
// the fixed fallback wording. retriever and registry may be nil to
// disable retrieval and tool calling.
func New(completer Completer, retriever Retriever, registry *tools.Registry, cfg Config, logger *zap.Logger) *Generator {
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{
		llm:       completer,
		retriever: retriever,
		tools:     registry,
		history:   cfg.HistoryWindow,
		logger:    logger,
	}
}

// Generate produces the reply for one turn. Never errors; failures
// degrade to the intent's fallback wording.
func (g *Generator) Generate(ctx context.Context, message, intent, flowID string, history []models.Message) string {
	if g.llm == nil {
		return g.fallback(intent)
	}

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: g.systemPrompt(ctx, message, intent, flowID)},
	}
	start := 0
	if len(history) > g.history {
		start = len(history) - g.history
	}
	for _, msg := range history[start:] {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: message,
	})

	var defs []openai.Tool
	if g.tools != nil {
		defs = g.tools.Definitions()
	}
	first, err := g.llm.CompleteWithTools(ctx, messages, defs)
	if err != nil {
		g.logger.Warn("reply generation failed", zap.String("intent", intent), zap.Error(err))
		return g.fallback(intent)
	}

	if len(first.ToolCalls) == 0 || g.tools == nil {
		if first.Content == "" {
			return g.fallback(intent)
		}
		return first.Content
	}

	// One tool round: execute every requested call, append the outputs,
	// and ask for the final wording without offering tools again.
	messages = append(messages, *first)
	for _, call := range first.ToolCalls {
		output, err := g.tools.Execute(ctx, call)
		if err != nil {
			g.logger.Warn("tool call failed",
				zap.String("tool", call.Function.Name),
				zap.Error(err))
			output = "工具调用失败：" + call.Function.Name
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:       openai.ChatMessageRoleTool,
			Content:    output,
			ToolCallID: call.ID,
		})
	}
	final, err := g.llm.Complete(ctx, messages)
	if err != nil || final == "" {
		g.logger.Warn("final completion after tools failed", zap.Error(err))
		return g.fallback(intent)
	}
	return final
}

// systemPrompt keys the instruction on the resolved intent and, for
// open-ended questions, injects retrieved knowledge.
func (g *Generator) systemPrompt(ctx context.Context, message, intent, flowID string) string {
	var sb strings.Builder
	sb.WriteString("你是一个智能客服助手，不说废话，直接回答用户问题。\n")
	fmt.Fprintf(&sb, "当前意图类型: %s\n", intent)
	if flowID != "" {
		fmt.Fprintf(&sb, "当前流程ID: %s\n", flowID)
	}
	sb.WriteString(`
规则：
- 如果是 flow，请引导用户继续完成该流程
- 如果是 faq，请结合参考资料直接回答用户问题
- 如果是 unknown，请礼貌说明并建议转人工
- 涉及订单状态、物流信息或创建工单时，调用对应的工具
`)

	if g.retriever != nil && openEnded(intent) {
		hits, err := g.retriever.Search(ctx, message, contextTopK)
		if err != nil {
			// Retrieval failure degrades to an ungrounded answer.
			g.logger.Warn("knowledge retrieval failed", zap.Error(err))
		} else if len(hits) > 0 {
			sb.WriteString("\n参考资料：\n")
			for i, hit := range hits {
				fmt.Fprintf(&sb, "%d. %s（相关度 %.2f）\n", i+1, hit.Text, hit.Score)
			}
		}
	}
	return sb.String()
}

// openEnded reports whether the intent routes through knowledge retrieval.
func openEnded(intent string) bool {
	return intent == string(models.IntentFAQ) ||
		intent == string(models.IntentUnknown) ||
		strings.HasPrefix(intent, "faq")
}

func (g *Generator) fallback(intent string) string {
	if intent == string(models.IntentUnknown) {
		return HandoffFallback
	}
	return BusyFallback
}

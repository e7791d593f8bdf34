package resolver

import (
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/chatstack/kotae/internal/llm"
	"github.com/chatstack/kotae/internal/models"
)

// InterruptDetector decides whether an in-progress flow should be
// abandoned for a new utterance. It fails open: any remote failure means
// the flow continues.
type InterruptDetector struct {
	llm    ChatCompleter
	logger *zap.Logger
}

// NewInterruptDetector creates a detector. llm may be nil, in which case
// every check continues the flow.
func NewInterruptDetector(completer ChatCompleter, logger *zap.Logger) *InterruptDetector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InterruptDetector{llm: completer, logger: logger}
}

// Check classifies the utterance against the flow position. Never errors.
func (d *InterruptDetector) Check(ctx context.Context, req models.InterruptCheckRequest) *models.FlowInterruptDecision {
	if d.llm == nil {
		return &models.FlowInterruptDecision{
			ShouldInterrupt: false,
			Confidence:      0.3,
			Reason:          "中断检查不可用，默认继续流程",
		}
	}

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: interruptPrompt(req)},
		{Role: openai.ChatMessageRoleUser, Content: "用户输入: " + req.UserMessage},
	}
	content, err := d.llm.Complete(ctx, messages, llm.WithTemperature(0.1), llm.WithMaxTokens(300))
	if err != nil {
		d.logger.Warn("interrupt check failed",
			zap.String("flow", req.FlowID),
			zap.Error(err))
		return &models.FlowInterruptDecision{
			ShouldInterrupt: false,
			Confidence:      0.3,
			Reason:          "检查失败，默认继续流程",
		}
	}

	var decision models.FlowInterruptDecision
	if err := json.Unmarshal([]byte(llm.ExtractJSON(content)), &decision); err != nil {
		d.logger.Warn("interrupt check unparsable",
			zap.String("flow", req.FlowID),
			zap.Error(err))
		return &models.FlowInterruptDecision{
			ShouldInterrupt: false,
			Confidence:      0.5,
			Reason:          "解析失败，默认继续流程",
		}
	}
	decision.Confidence = clamp01(decision.Confidence)
	return &decision
}

func interruptPrompt(req models.InterruptCheckRequest) string {
	state := "{}"
	if len(req.FlowState) > 0 {
		if b, err := json.Marshal(req.FlowState); err == nil {
			state = string(b)
		}
	}
	return fmt.Sprintf(`你是一个流程中断判断助手。请根据用户在当前流程中的输入，判断是否应该打断当前流程。

当前流程信息：
- 流程ID: %s
- 当前步骤: %s
- 流程状态: %s

判断规则：
1. 如果用户明确表示要退出、取消、停止当前流程，应该打断
2. 如果用户询问与当前流程无关的问题，应该打断
3. 如果用户输入包含明显的错误或误解，应该打断
4. 如果用户只是继续当前流程的正常操作，不应该打断

请以JSON格式返回判断结果，格式如下：
{"should_interrupt": true或false, "confidence": 0-1之间的置信度, "new_intent": "如果打断，建议的新意图(可选)", "reason": "判断理由(可选)"}
不要输出JSON以外的内容。`, req.FlowID, req.CurrentStep, state)
}

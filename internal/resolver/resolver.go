// Package resolver turns a free-text utterance into an intent decision
// through a fixed chain of stages: vector match, remote classification,
// keyword rules. The chain always produces a decision; stage failures fall
// through instead of surfacing.
package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/chatstack/kotae/internal/catalog"
	"github.com/chatstack/kotae/internal/llm"
	"github.com/chatstack/kotae/internal/models"
)

// DefaultThreshold is the minimum cosine similarity for a vector match.
const DefaultThreshold = 0.6

// DefaultHistoryWindow bounds how many prior turns the remote stage sees.
const DefaultHistoryWindow = 10

// ChatCompleter is the remote classification dependency. May be nil, in
// which case the remote stage is skipped.
type ChatCompleter interface {
	Complete(ctx context.Context, messages []openai.ChatCompletionMessage, opts ...llm.Option) (string, error)
}

// Config tunes the pipeline.
type Config struct {
	Threshold     float64
	HistoryWindow int
}

// Resolver runs the resolution pipeline against an intent catalog.
type Resolver struct {
	catalog       *catalog.Catalog
	llm           ChatCompleter
	threshold     float64
	historyWindow int
	logger        *zap.Logger
}

// New creates a resolver. llm may be nil to disable the remote stage.
func New(cat *catalog.Catalog, completer ChatCompleter, cfg Config, logger *zap.Logger) *Resolver {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = DefaultHistoryWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		catalog:       cat,
		llm:           completer,
		threshold:     cfg.Threshold,
		historyWindow: cfg.HistoryWindow,
		logger:        logger,
	}
}

// stageFunc reports either a resolved result or a fall-through.
type stageFunc func(ctx context.Context, message string, history []models.Message) (*models.ResolutionResult, bool)

// Resolve runs the stages in order and returns the first decision. The
// rule stage always decides, so this never returns nil.
func (r *Resolver) Resolve(ctx context.Context, message string, history []models.Message) *models.ResolutionResult {
	stages := []struct {
		name string
		fn   stageFunc
	}{
		{"vector", r.vectorStage},
		{"remote", r.remoteStage},
		{"rule", r.ruleStage},
	}
	for _, stage := range stages {
		if result, ok := stage.fn(ctx, message, history); ok {
			r.logger.Debug("intent resolved",
				zap.String("stage", stage.name),
				zap.String("intent", result.Intent),
				zap.Float64("confidence", result.Confidence))
			return result
		}
	}
	// Unreachable: the rule stage never falls through.
	return &models.ResolutionResult{
		Intent:     string(models.IntentUnknown),
		Confidence: 0.5,
		Source:     models.SourceRule,
	}
}

func (r *Resolver) vectorStage(ctx context.Context, message string, _ []models.Message) (*models.ResolutionResult, bool) {
	if r.catalog == nil {
		return nil, false
	}
	match, err := r.catalog.Match(ctx, message)
	if err != nil {
		r.logger.Warn("vector stage failed", zap.Error(err))
		return nil, false
	}
	if match == nil || match.Score < r.threshold {
		return nil, false
	}
	return &models.ResolutionResult{
		Intent:     match.Intent.ID,
		Confidence: clamp01(match.Score),
		FlowID:     match.Intent.NextFlow,
		Source:     models.SourceVector,
	}, true
}

// classification is the structured payload the remote stage expects back.
type classification struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

func (r *Resolver) remoteStage(ctx context.Context, message string, history []models.Message) (*models.ResolutionResult, bool) {
	if r.llm == nil {
		return nil, false
	}

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: r.classificationPrompt()},
	}
	for _, msg := range tail(history, r.historyWindow) {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: "用户消息: " + message,
	})

	content, err := r.llm.Complete(ctx, messages, llm.WithTemperature(0.1))
	if err != nil {
		r.logger.Warn("remote classification failed", zap.Error(err))
		return nil, false
	}

	var decision classification
	if err := json.Unmarshal([]byte(llm.ExtractJSON(content)), &decision); err != nil {
		r.logger.Warn("remote classification unparsable", zap.Error(err))
		return nil, false
	}
	if !r.inVocabulary(decision.Intent) {
		r.logger.Warn("remote classification outside vocabulary",
			zap.String("intent", decision.Intent))
		return nil, false
	}

	result := &models.ResolutionResult{
		Intent:     decision.Intent,
		Confidence: clamp01(decision.Confidence),
		Source:     models.SourceRemote,
	}
	if def := r.catalog.Intent(decision.Intent); def != nil {
		result.FlowID = def.NextFlow
	}
	return result, true
}

// classificationPrompt constrains the model to the catalog's intent ids.
func (r *Resolver) classificationPrompt() string {
	var sb strings.Builder
	sb.WriteString("你是一个专业的意图识别助手。请根据用户的消息，从下面的意图列表中选择最匹配的一项，不说废话，置信度在0-1之间。\n\n可选意图：\n")
	for _, id := range r.catalog.IDs() {
		def := r.catalog.Intent(id)
		if def == nil {
			continue
		}
		fmt.Fprintf(&sb, "- %s: %s (%s)\n", def.ID, def.Name, def.Type)
	}
	sb.WriteString("- unknown: 无法明确分类的问题\n\n")
	sb.WriteString("请以JSON格式返回识别结果，格式如下：\n")
	sb.WriteString(`{"intent": "意图标识", "confidence": 置信度(0-1之间的浮点数)}`)
	sb.WriteString("\n不要输出JSON以外的内容。")
	return sb.String()
}

func (r *Resolver) inVocabulary(intent string) bool {
	if intent == string(models.IntentUnknown) {
		return true
	}
	if r.catalog == nil {
		return false
	}
	def := r.catalog.Intent(intent)
	return def != nil && def.IsEnabled()
}

// keywordRule maps a keyword set to a fixed decision. Rules are scanned
// in order; the first hit wins.
type keywordRule struct {
	keywords   []string
	intent     string
	flowID     string
	confidence float64
}

var keywordRules = []keywordRule{
	{keywords: []string{"退货", "退款", "怎么退", "如何退"}, intent: "return_goods", flowID: "return_goods", confidence: 0.9},
	{keywords: []string{"注册", "怎么注册", "如何注册"}, intent: "register", flowID: "register", confidence: 0.9},
	{keywords: []string{"如何", "怎么", "什么", "为什么"}, intent: string(models.IntentFAQ), confidence: 0.85},
}

func (r *Resolver) ruleStage(_ context.Context, message string, _ []models.Message) (*models.ResolutionResult, bool) {
	lower := strings.ToLower(message)
	for _, rule := range keywordRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return &models.ResolutionResult{
					Intent:     rule.intent,
					Confidence: rule.confidence,
					FlowID:     rule.flowID,
					Source:     models.SourceRule,
				}, true
			}
		}
	}
	return &models.ResolutionResult{
		Intent:     string(models.IntentUnknown),
		Confidence: 0.5,
		Source:     models.SourceRule,
	}, true
}

func tail(msgs []models.Message, n int) []models.Message {
	if len(msgs) <= n {
		return msgs
	}
	return msgs[len(msgs)-n:]
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

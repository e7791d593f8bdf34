package flow

import (
	"context"
	"fmt"

	"github.com/chatstack/kotae/internal/models"
)

func (e *Engine) customerServiceStart(_ context.Context, _ *models.Session, _ string) (string, bool, string, error) {
	return "请问您需要什么帮助？\n1. 产品问题\n2. 订单问题\n3. 退款问题\n4. 其他", false, "ask_category", nil
}

func (e *Engine) customerServiceAskCategory(_ context.Context, session *models.Session, userMessage string) (string, bool, string, error) {
	if session.FlowState == nil {
		session.FlowState = make(map[string]any)
	}
	session.FlowState["category"] = userMessage

	return "请详细描述您的问题或需求。", false, "ask_description", nil
}

func (e *Engine) customerServiceAskDescription(_ context.Context, session *models.Session, userMessage string) (string, bool, string, error) {
	if session.FlowState == nil {
		session.FlowState = make(map[string]any)
	}
	session.FlowState["description"] = userMessage

	return "请留下您的联系方式（电话或邮箱），以便我们及时回复您。", false, "ask_contact", nil
}

func (e *Engine) customerServiceAskContact(ctx context.Context, session *models.Session, userMessage string) (string, bool, string, error) {
	if session.FlowState == nil {
		session.FlowState = make(map[string]any)
	}
	session.FlowState["contact"] = userMessage

	category, _ := session.FlowState["category"].(string)
	description, _ := session.FlowState["description"].(string)

	ticket, err := e.tools.CreateTicket(ctx, models.Ticket{
		SessionID:   session.ID,
		UserID:      session.UserID,
		Intent:      "customer_service",
		Subject:     category,
		Description: fmt.Sprintf("%s\n联系方式: %s", description, userMessage),
	})
	if err != nil {
		return "", false, "", err
	}

	return fmt.Sprintf("感谢您提供的信息！\n\n工单号: %s\n问题分类: %s\n问题描述: %s\n联系方式: %s\n\n我们的客服人员将尽快与您联系。",
		ticket.ID, category, description, userMessage), true, "", nil
}

package flow

import (
	"context"
	"fmt"

	"github.com/chatstack/kotae/internal/models"
)

func (e *Engine) returnGoodsStart(_ context.Context, _ *models.Session, _ string) (string, bool, string, error) {
	return "欢迎使用退货服务！请提供您要退货的订单号。", false, "ask_order_id", nil
}

func (e *Engine) returnGoodsAskOrderID(_ context.Context, session *models.Session, userMessage string) (string, bool, string, error) {
	orderID := extractOrderID(userMessage)
	if orderID == "" {
		orderID = userMessage
	}
	if session.FlowState == nil {
		session.FlowState = make(map[string]any)
	}
	session.FlowState["order_id"] = orderID

	return fmt.Sprintf("订单号 %s 已记录。请问退货原因是什么？\n1. 商品质量问题\n2. 收到商品与描述不符\n3. 尺寸/颜色不合适\n4. 其他原因", orderID), false, "ask_reason", nil
}

func (e *Engine) returnGoodsAskReason(_ context.Context, session *models.Session, userMessage string) (string, bool, string, error) {
	if session.FlowState == nil {
		session.FlowState = make(map[string]any)
	}
	session.FlowState["reason"] = userMessage

	return fmt.Sprintf("退货原因: %s\n\n请确认以下信息是否正确？\n订单号: %s\n退货原因: %s\n\n回复【确认】提交退货申请，或回复【修改】重新填写。",
		userMessage, session.FlowState["order_id"], userMessage), false, "confirm", nil
}

func (e *Engine) returnGoodsConfirm(_ context.Context, session *models.Session, userMessage string) (string, bool, string, error) {
	switch normalizeConfirm(userMessage) {
	case "confirm", "yes", "y":
		if session.FlowState == nil {
			return "抱歉，信息不完整，请重新开始退货流程。", true, "", nil
		}
		orderID, ok := session.FlowState["order_id"].(string)
		if !ok || orderID == "" {
			return "抱歉，订单号信息丢失，请重新开始。", true, "", nil
		}
		reason, _ := session.FlowState["reason"].(string)

		return fmt.Sprintf("退货申请已提交！\n\n订单号: %s\n退货原因: %s\n状态: 处理中\n\n我们的客服人员将在24小时内与您联系。",
			orderID, reason), true, "", nil

	case "modify":
		if session.FlowState == nil {
			session.FlowState = make(map[string]any)
		}
		session.FlowState["order_id"] = ""
		return "好的，请重新提供订单号。", false, "ask_order_id", nil

	default:
		return "请回复【确认】提交退货申请，或回复【修改】重新填写信息。", false, "confirm", nil
	}
}

func (e *Engine) returnGoodsProcessing(_ context.Context, _ *models.Session, _ string) (string, bool, string, error) {
	return "您的退货申请正在处理中，请耐心等待客服人员联系您。", true, "", nil
}

func normalizeConfirm(input string) string {
	switch trimSpaces(input) {
	case "确认", "确认提交", "确认退货":
		return "confirm"
	case "修改", "重新填写":
		return "modify"
	}
	return trimSpaces(input)
}

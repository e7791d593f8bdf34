package flow

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/chatstack/kotae/internal/models"
)

func (e *Engine) orderQueryStart(ctx context.Context, _ *models.Session, userMessage string) (string, bool, string, error) {
	orderID := extractOrderID(userMessage)
	if orderID == "" {
		return "请提供您要查询的订单号。", false, "processing", nil
	}
	return e.lookupOrder(ctx, orderID), true, "", nil
}

func (e *Engine) orderQueryProcessing(ctx context.Context, _ *models.Session, userMessage string) (string, bool, string, error) {
	orderID := extractOrderID(userMessage)
	if orderID == "" {
		orderID = trimSpaces(userMessage)
	}
	return e.lookupOrder(ctx, orderID), true, "", nil
}

func (e *Engine) lookupOrder(ctx context.Context, orderID string) string {
	status, err := e.tools.OrderStatus(ctx, orderID)
	if err != nil {
		e.logger.Warn("order lookup failed", zap.String("order_id", orderID), zap.Error(err))
		return "查询失败，请稍后重试"
	}
	return fmt.Sprintf("订单 %s 的状态：%s\n\n如需其他帮助，请继续提问。", orderID, status)
}

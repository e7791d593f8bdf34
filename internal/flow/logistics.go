package flow

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/chatstack/kotae/internal/models"
)

func (e *Engine) logisticsStart(ctx context.Context, _ *models.Session, userMessage string) (string, bool, string, error) {
	orderID := extractOrderID(userMessage)
	if orderID == "" {
		return "请提供您的订单号，我来帮您查询物流信息。", false, "query", nil
	}
	return e.lookupLogistics(ctx, orderID), true, "", nil
}

func (e *Engine) logisticsQuery(ctx context.Context, _ *models.Session, userMessage string) (string, bool, string, error) {
	orderID := extractOrderID(userMessage)
	if orderID == "" {
		orderID = trimSpaces(userMessage)
	}
	return e.lookupLogistics(ctx, orderID), true, "", nil
}

func (e *Engine) lookupLogistics(ctx context.Context, orderID string) string {
	info, err := e.tools.LogisticsInfo(ctx, orderID)
	if err != nil {
		e.logger.Warn("logistics lookup failed", zap.String("order_id", orderID), zap.Error(err))
		return "查询失败，请稍后重试"
	}
	return fmt.Sprintf("订单 %s 的物流信息：\n%s\n\n如需其他帮助，请继续提问。", orderID, info)
}

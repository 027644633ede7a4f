package notify

import (
	"context"

	"jd_buyer/internal/model"
)

type OrderCreatedEvent struct {
	At     int64  `json:"atMs"`
	SKUID  string `json:"skuId"`
	Count  int    `json:"count"`
	AreaID string `json:"areaId,omitempty"`
}

// Notifier 是下单成功后的通知出口：投递即忘，
// 通知失败不影响下单流程。
type Notifier interface {
	NotifyOrderCreated(ctx context.Context, evt OrderCreatedEvent)
}

// SettingsSource 提供通知渠道的持久化配置（由 sqlite store 实现）。
type SettingsSource interface {
	GetEmailSettings(ctx context.Context) (model.EmailSettings, bool, error)
	GetPushSettings(ctx context.Context) (model.PushSettings, bool, error)
}

// Multi 把一个事件广播给多个通知渠道。
type Multi []Notifier

func (m Multi) NotifyOrderCreated(ctx context.Context, evt OrderCreatedEvent) {
	for _, n := range m {
		if n != nil {
			n.NotifyOrderCreated(ctx, evt)
		}
	}
}

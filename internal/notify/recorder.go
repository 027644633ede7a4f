package notify

import (
	"context"
	"time"

	"jd_buyer/internal/logbus"
	"jd_buyer/internal/model"
)

// OrderStore 持久化成交记录（由 sqlite store 实现）。
type OrderStore interface {
	InsertOrder(ctx context.Context, rec model.OrderRecord) (model.OrderRecord, error)
}

// OrderRecorder 把下单成功事件落库，作为通知渠道之一挂在 Multi 上。
type OrderRecorder struct {
	store OrderStore
	bus   *logbus.Bus
}

func NewOrderRecorder(store OrderStore, bus *logbus.Bus) *OrderRecorder {
	return &OrderRecorder{store: store, bus: bus}
}

func (r *OrderRecorder) NotifyOrderCreated(ctx context.Context, evt OrderCreatedEvent) {
	if r.store == nil {
		return
	}
	rec := model.OrderRecord{
		SKUID:  evt.SKUID,
		Count:  evt.Count,
		AreaID: evt.AreaID,
	}
	if evt.At > 0 {
		rec.CreatedAt = time.UnixMilli(evt.At)
	}
	if _, err := r.store.InsertOrder(ctx, rec); err != nil && r.bus != nil {
		r.bus.Log("warn", "成交记录保存失败", map[string]any{"skuId": evt.SKUID, "error": err.Error()})
	}
}

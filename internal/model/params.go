package model

import (
	"strings"
	"time"
)

// TaskParams 是一次下单尝试的参数快照：启动时整体拷贝进监控协程，
// 运行期间不会被修改。
type TaskParams struct {
	SKUID         string `json:"skuId"`
	AreaID        string `json:"areaId"`
	VenderID      string `json:"venderId,omitempty"`
	Cat           string `json:"cat,omitempty"`
	Count         int    `json:"count"`
	StockIntervalMs int  `json:"stockIntervalMs"`
	BuyTimeMs     int64  `json:"buyTimeMs,omitempty"`
	RandomUA      bool   `json:"randomUa,omitempty"`
	ItemURL       string `json:"itemUrl,omitempty"`
}

func (p TaskParams) StockInterval() time.Duration {
	if p.StockIntervalMs < 10 {
		return 10 * time.Millisecond
	}
	return time.Duration(p.StockIntervalMs) * time.Millisecond
}

func (p TaskParams) BuyTime() time.Time {
	if p.BuyTimeMs <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(p.BuyTimeMs)
}

func (p *TaskParams) Normalize() {
	p.SKUID = strings.TrimSpace(p.SKUID)
	p.AreaID = strings.TrimSpace(p.AreaID)
	p.VenderID = strings.TrimSpace(p.VenderID)
	p.Cat = strings.TrimSpace(p.Cat)
	p.ItemURL = strings.TrimSpace(p.ItemURL)
	if p.Count <= 0 {
		p.Count = 1
	}
	if p.StockIntervalMs < 10 {
		p.StockIntervalMs = 10
	}
}

// ItemDetail 是商品链接解析出的下单参数。
type ItemDetail struct {
	SKUID    string `json:"skuId"`
	VenderID string `json:"venderId"`
	Cat      string `json:"cat"`
}

// OrderRecord 记录一次成功提交的订单。
type OrderRecord struct {
	ID        string    `json:"id"`
	SKUID     string    `json:"skuId"`
	Count     int       `json:"count"`
	AreaID    string    `json:"areaId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

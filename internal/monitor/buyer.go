package monitor

import (
	"context"
	"fmt"
	"time"

	"jd_buyer/internal/logbus"
	"jd_buyer/internal/model"
	"jd_buyer/internal/notify"
)

// BuyerOptions 控制下单监控的重试与边界。
// MaxIterations / MaxDuration 为 0 时外层轮询不设上限（线上默认），
// 设置后触边会发出 Deadline 终态而不是无限轮询。
type BuyerOptions struct {
	SubmitRetry    int
	SubmitInterval time.Duration
	MaxIterations  int
	MaxDuration    time.Duration
}

func (o BuyerOptions) withDefaults() BuyerOptions {
	if o.SubmitRetry <= 0 {
		o.SubmitRetry = 3
	}
	if o.SubmitInterval <= 0 {
		o.SubmitInterval = 5 * time.Second
	}
	return o
}

// BuyerMonitor 对一份任务参数快照执行一次完整的下单尝试：
// 等到定时开始时间，然后 库存查询 → 加购 → 提交订单 轮询，
// 直到成功、取消、登录失效或不可恢复错误。
type BuyerMonitor struct {
	session  Session
	notifier notify.Notifier
	params   model.TaskParams
	opts     BuyerOptions
	flag     *CancelFlag
	em       *emitter
}

func NewBuyerMonitor(session Session, bus *logbus.Bus, notifier notify.Notifier, params model.TaskParams, opts BuyerOptions) *BuyerMonitor {
	params.Normalize()
	return &BuyerMonitor{
		session:  session,
		notifier: notifier,
		params:   params,
		opts:     opts.withDefaults(),
		flag:     &CancelFlag{},
		em:       newEmitter(bus, "buyer_status"),
	}
}

func (m *BuyerMonitor) Events() <-chan model.StatusEvent {
	return m.em.events
}

func (m *BuyerMonitor) Cancel() {
	m.flag.Set()
}

func (m *BuyerMonitor) Params() model.TaskParams {
	return m.params
}

func (m *BuyerMonitor) LastStatus() (model.StatusEvent, bool) {
	return m.em.Last()
}

// Run 阻塞执行下单尝试，直到终态。
func (m *BuyerMonitor) Run(ctx context.Context) {
	defer m.em.close()

	if buyTime := m.params.BuyTime(); !buyTime.IsZero() {
		m.em.emit(model.StatusScheduled,
			fmt.Sprintf("定时中，将于 %s 开始执行", buyTime.Format("2006-01-02 15:04:05")),
			map[string]any{"buyTimeMs": m.params.BuyTimeMs})
		if !sleepUntil(ctx, buyTime) {
			m.em.emit(model.StatusCancelled, "已取消下单", nil)
			return
		}
	}

	start := time.Now()
	interval := m.params.StockInterval()

	for iter := 1; ; iter++ {
		if !m.session.IsLoggedIn() {
			m.em.emit(model.StatusSessionLost, "登录失效", nil)
			return
		}
		if m.flag.IsSet() || ctx.Err() != nil {
			m.em.emit(model.StatusCancelled, "已取消下单", nil)
			return
		}
		if m.opts.MaxIterations > 0 && iter > m.opts.MaxIterations {
			m.em.emit(model.StatusDeadline, "达到最大轮询次数", map[string]any{"iterations": iter - 1})
			return
		}
		if m.opts.MaxDuration > 0 && time.Since(start) > m.opts.MaxDuration {
			m.em.emit(model.StatusDeadline, "达到最大轮询时长", map[string]any{"elapsedMs": time.Since(start).Milliseconds()})
			return
		}

		done, err := m.attempt(ctx)
		if err != nil {
			m.log("error", "下单尝试异常终止", map[string]any{"skuId": m.params.SKUID, "error": err.Error()})
			m.em.emit(model.StatusUnexpected, "异常终止", map[string]any{"error": err.Error()})
			return
		}
		if done {
			return
		}

		if !sleepFor(ctx, interval) {
			m.em.emit(model.StatusCancelled, "已取消下单", nil)
			return
		}
	}
}

// attempt 执行一轮 库存 → 加购 → 提交。返回 done=true 表示进入终态，
// error 非空表示不可恢复异常（由 Run 统一转成 Unexpected）。
func (m *BuyerMonitor) attempt(ctx context.Context) (bool, error) {
	if m.params.RandomUA {
		m.session.RotateUserAgent()
	}

	inStock, err := m.session.ItemStock(ctx, m.params)
	if err != nil {
		return false, err
	}
	if !inStock {
		m.em.emit(model.StatusNotSatisfied,
			fmt.Sprintf("不满足下单条件，%s 后进行下一次查询", m.params.StockInterval()),
			map[string]any{"stockIntervalMs": m.params.StockIntervalMs})
		return false, nil
	}

	m.em.emit(model.StatusSatisfied, fmt.Sprintf("%s 满足下单条件，开始执行", m.params.SKUID), nil)

	ok, err := m.session.PrepareCart(ctx, m.params)
	if err != nil {
		return false, err
	}
	if !ok {
		// 加购失败不单独重试，下一轮会重新确认库存
		m.em.emit(model.StatusCartFailed,
			fmt.Sprintf("加入购物车失败，%s 后进行下一次查询", m.params.StockInterval()), nil)
		return false, nil
	}

	ok, err = m.session.SubmitOrderWithRetry(ctx, m.opts.SubmitRetry, m.opts.SubmitInterval)
	if err != nil {
		return false, err
	}
	if !ok {
		// 提交重试耗尽仍按可恢复处理：外层轮询就是整体重试边界
		return false, nil
	}

	m.em.emit(model.StatusOrderSucceeded, "下单成功", map[string]any{"skuId": m.params.SKUID, "count": m.params.Count})
	if m.notifier != nil {
		m.notifier.NotifyOrderCreated(ctx, notify.OrderCreatedEvent{
			At:     time.Now().UnixMilli(),
			SKUID:  m.params.SKUID,
			Count:  m.params.Count,
			AreaID: m.params.AreaID,
		})
	}
	return true, nil
}

func (m *BuyerMonitor) log(level, msg string, fields map[string]any) {
	if m.em.bus != nil {
		m.em.bus.Log(level, msg, fields)
	}
}

package monitor

import (
	"context"
	"sync/atomic"
	"time"

	"jd_buyer/internal/logbus"
	"jd_buyer/internal/model"
)

// Session 是监控协程消费的商城会话契约，由 internal/session 实现。
// 登录态是单写者约定：只有登录监控把 false 翻成 true，
// 只有保活失败（会话过期检测）把 true 翻回 false。
type Session interface {
	IsLoggedIn() bool
	SetLoggedIn(v bool)

	QRCodeTicket(ctx context.Context) (string, error)
	ValidateQRCodeTicket(ctx context.Context, ticket string) (bool, error)
	SaveCookies(ctx context.Context) error
	LoadCookies(ctx context.Context) error

	RotateUserAgent()
	ItemStock(ctx context.Context, p model.TaskParams) (bool, error)
	PrepareCart(ctx context.Context, p model.TaskParams) (bool, error)
	SubmitOrderWithRetry(ctx context.Context, retries int, interval time.Duration) (bool, error)
}

// CancelFlag 是协作式取消标记：置位后不会被监控协程清除，
// 新一次尝试需要新的监控实例。
type CancelFlag struct {
	v atomic.Bool
}

func (f *CancelFlag) Set() {
	f.v.Store(true)
}

func (f *CancelFlag) IsSet() bool {
	return f.v.Load()
}

// sleepUntil 阻塞到目标时刻；目标已过去时立即返回 true。
// ctx 取消时提前返回 false，保证停止请求不用等睡眠结束。
func sleepUntil(ctx context.Context, t time.Time) bool {
	d := time.Until(t)
	if d <= 0 {
		return true
	}
	return sleepFor(ctx, d)
}

func sleepFor(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// emitter 把状态事件同时投递到本监控的事件通道和全局总线。
// 通道投递是非阻塞的：每次 emit 至多送达一次，慢消费者丢事件。
type emitter struct {
	bus    *logbus.Bus
	topic  string
	events chan model.StatusEvent
	last   atomic.Value // model.StatusEvent
}

func newEmitter(bus *logbus.Bus, topic string) *emitter {
	return &emitter{
		bus:    bus,
		topic:  topic,
		events: make(chan model.StatusEvent, 64),
	}
}

func (e *emitter) emit(kind model.StatusKind, detail string, fields map[string]any) {
	ev := model.StatusEvent{
		Kind:   kind,
		Detail: detail,
		AtMs:   time.Now().UnixMilli(),
		Fields: fields,
	}
	e.last.Store(ev)
	select {
	case e.events <- ev:
	default:
	}
	if e.bus != nil {
		e.bus.Publish(e.topic, ev)
	}
}

func (e *emitter) close() {
	close(e.events)
}

func (e *emitter) Last() (model.StatusEvent, bool) {
	v := e.last.Load()
	if v == nil {
		return model.StatusEvent{}, false
	}
	ev, ok := v.(model.StatusEvent)
	return ev, ok
}

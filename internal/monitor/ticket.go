package monitor

import (
	"context"
	"fmt"
	"time"

	"jd_buyer/internal/logbus"
	"jd_buyer/internal/model"
)

// TicketOptions 控制扫码登录监控的节奏。零值采用线上默认：
// 最多 85 次、每 2 秒一次的票据轮询，登录后每 300 秒保活一次。
type TicketOptions struct {
	MaxAttempts       int
	PollInterval      time.Duration
	KeepaliveInterval time.Duration
}

func (o TicketOptions) withDefaults() TicketOptions {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 85
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 2 * time.Second
	}
	if o.KeepaliveInterval <= 0 {
		o.KeepaliveInterval = 300 * time.Second
	}
	return o
}

// TicketMonitor 轮询扫码票据、校验票据、维护登录态。
// 状态机：Polling → {Validating, Expired, Cancelled}，
// Validating → {Authenticated, ValidationFailed}，
// Authenticated → Keepalive 循环 → Expired。
type TicketMonitor struct {
	session Session
	opts    TicketOptions
	flag    *CancelFlag
	em      *emitter
}

func NewTicketMonitor(session Session, bus *logbus.Bus, opts TicketOptions) *TicketMonitor {
	return &TicketMonitor{
		session: session,
		opts:    opts.withDefaults(),
		flag:    &CancelFlag{},
		em:      newEmitter(bus, "login_status"),
	}
}

func (m *TicketMonitor) Events() <-chan model.StatusEvent {
	return m.em.events
}

func (m *TicketMonitor) Cancel() {
	m.flag.Set()
}

func (m *TicketMonitor) LastStatus() (model.StatusEvent, bool) {
	return m.em.Last()
}

// Run 执行完整的登录监控。阻塞直到进入终态或 ctx 取消。
func (m *TicketMonitor) Run(ctx context.Context) {
	defer m.em.close()

	ticket, ok := m.poll(ctx)
	if !ok {
		return
	}

	valid, err := m.session.ValidateQRCodeTicket(ctx, ticket)
	if err != nil || !valid {
		detail := "二维码信息校验失败"
		if err != nil {
			detail = fmt.Sprintf("二维码信息校验失败: %v", err)
		}
		m.em.emit(model.StatusValidationFailed, detail, nil)
		return
	}

	m.session.SetLoggedIn(true)
	if err := m.session.SaveCookies(ctx); err != nil {
		m.log("warn", "登录 cookie 保存失败", map[string]any{"error": err.Error()})
	}
	m.em.emit(model.StatusAuthenticated, "扫码登录成功", nil)

	m.keepalive(ctx)
}

// poll 轮询票据。返回 ("", false) 表示已进入终态（Cancelled/Expired）。
func (m *TicketMonitor) poll(ctx context.Context) (string, bool) {
	for i := 0; i < m.opts.MaxAttempts; i++ {
		if m.flag.IsSet() || ctx.Err() != nil {
			m.em.emit(model.StatusCancelled, "已取消登录", nil)
			return "", false
		}
		ticket, err := m.session.QRCodeTicket(ctx)
		if err == nil && ticket != "" {
			return ticket, true
		}
		if err != nil {
			// 单次取票失败不终止轮询，二维码可能还没被扫
			m.log("debug", "获取扫码票据失败", map[string]any{"attempt": i + 1, "error": err.Error()})
		}
		if !sleepFor(ctx, m.opts.PollInterval) {
			m.em.emit(model.StatusCancelled, "已取消登录", nil)
			return "", false
		}
	}
	m.em.emit(model.StatusExpired, "二维码过期，请重新获取扫描", nil)
	return "", false
}

// keepalive 周期性重载 cookie 保活；任何重载失败都按会话过期处理。
func (m *TicketMonitor) keepalive(ctx context.Context) {
	for {
		if !sleepFor(ctx, m.opts.KeepaliveInterval) {
			m.em.emit(model.StatusCancelled, "登录保活已停止", nil)
			return
		}
		if m.flag.IsSet() {
			m.em.emit(model.StatusCancelled, "登录保活已停止", nil)
			return
		}
		if err := m.session.LoadCookies(ctx); err != nil {
			m.session.SetLoggedIn(false)
			m.em.emit(model.StatusExpired, "登录会话已过期", map[string]any{"error": err.Error()})
			return
		}
	}
}

func (m *TicketMonitor) log(level, msg string, fields map[string]any) {
	if m.em.bus != nil {
		m.em.bus.Log(level, msg, fields)
	}
}

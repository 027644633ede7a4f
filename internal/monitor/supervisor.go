package monitor

import (
	"context"
	"errors"
	"sync"

	"jd_buyer/internal/logbus"
	"jd_buyer/internal/model"
	"jd_buyer/internal/notify"
)

var (
	ErrAlreadyRunning = errors.New("purchase attempt already running")
	ErrLoginRunning   = errors.New("login monitor already running")
	ErrNotLoggedIn    = errors.New("session not logged in")
)

// Supervisor 持有两个监控协程的生命周期，保证同一会话同一时刻
// 至多一个下单尝试在跑（显式守卫，不依赖调用方自觉）。
type Supervisor struct {
	session  Session
	bus      *logbus.Bus
	notifier notify.Notifier

	ticketOpts TicketOptions
	buyerOpts  BuyerOptions

	mu           sync.Mutex
	ticket       *TicketMonitor
	ticketCancel context.CancelFunc
	buyer        *BuyerMonitor
	buyerCancel  context.CancelFunc
	wg           sync.WaitGroup
}

type SupervisorOptions struct {
	Session  Session
	Bus      *logbus.Bus
	Notifier notify.Notifier
	Ticket   TicketOptions
	Buyer    BuyerOptions
}

func NewSupervisor(opts SupervisorOptions) *Supervisor {
	return &Supervisor{
		session:    opts.Session,
		bus:        opts.Bus,
		notifier:   opts.Notifier,
		ticketOpts: opts.Ticket,
		buyerOpts:  opts.Buyer,
	}
}

// StartLogin 启动扫码登录监控。已有监控在跑时拒绝。
func (s *Supervisor) StartLogin(ctx context.Context) (*TicketMonitor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ticket != nil {
		return nil, ErrLoginRunning
	}

	m := NewTicketMonitor(s.session, s.bus, s.ticketOpts)
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.ticket = m
	s.ticketCancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		m.Run(runCtx)
		cancel()
		s.mu.Lock()
		if s.ticket == m {
			s.ticket = nil
			s.ticketCancel = nil
		}
		s.mu.Unlock()
	}()
	return m, nil
}

// StopLogin 协作式停止登录监控：置取消标记并取消其 ctx，
// 保证轮询间隔和保活睡眠都会被立刻打断。
func (s *Supervisor) StopLogin() {
	s.mu.Lock()
	m, cancel := s.ticket, s.ticketCancel
	s.mu.Unlock()
	if m != nil {
		m.Cancel()
	}
	if cancel != nil {
		cancel()
	}
}

// StartBuyer 启动一次下单尝试。同一时刻只允许一个尝试；
// 未登录时直接拒绝（前置条件，避免白跑一轮 SessionLost）。
func (s *Supervisor) StartBuyer(ctx context.Context, params model.TaskParams) (*BuyerMonitor, error) {
	if !s.session.IsLoggedIn() {
		return nil, ErrNotLoggedIn
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buyer != nil {
		return nil, ErrAlreadyRunning
	}

	m := NewBuyerMonitor(s.session, s.bus, s.notifier, params, s.buyerOpts)
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.buyer = m
	s.buyerCancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		m.Run(runCtx)
		cancel()
		s.mu.Lock()
		if s.buyer == m {
			s.buyer = nil
			s.buyerCancel = nil
		}
		s.mu.Unlock()
	}()
	return m, nil
}

func (s *Supervisor) StopBuyer() {
	s.mu.Lock()
	m, cancel := s.buyer, s.buyerCancel
	s.mu.Unlock()
	if m != nil {
		m.Cancel()
	}
	if cancel != nil {
		cancel()
	}
}

func (s *Supervisor) State() model.MonitorState {
	s.mu.Lock()
	ticket, buyer := s.ticket, s.buyer
	s.mu.Unlock()

	st := model.MonitorState{
		TicketRunning: ticket != nil,
		BuyerRunning:  buyer != nil,
		LoggedIn:      s.session.IsLoggedIn(),
	}
	if buyer != nil {
		if ev, ok := buyer.LastStatus(); ok {
			st.LastStatus = string(ev.Kind)
		}
	} else if ticket != nil {
		if ev, ok := ticket.LastStatus(); ok {
			st.LastStatus = string(ev.Kind)
		}
	}
	return st
}

// Close 停止全部监控并等待退出；ctx 超时则放弃等待。
func (s *Supervisor) Close(ctx context.Context) error {
	s.StopBuyer()
	s.StopLogin()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

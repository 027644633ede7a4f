package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"jd_buyer/internal/model"
)

// fakeSession 是测试用的会话桩：每个调用点都可注入行为并计数。
type fakeSession struct {
	loggedIn atomic.Bool

	mu            sync.Mutex
	ticketCalls   int
	validateCalls int
	saveCalls     int
	loadCalls     int
	rotateCalls   int
	stockCalls    int
	cartCalls     int
	submitCalls   int

	ticketFn   func(call int) (string, error)
	validateFn func(ticket string) (bool, error)
	loadFn     func(call int) error
	stockFn    func(call int) (bool, error)
	cartFn     func(call int) (bool, error)
	submitFn   func(call int) (bool, error)
}

func (f *fakeSession) IsLoggedIn() bool   { return f.loggedIn.Load() }
func (f *fakeSession) SetLoggedIn(v bool) { f.loggedIn.Store(v) }

func (f *fakeSession) QRCodeTicket(context.Context) (string, error) {
	f.mu.Lock()
	f.ticketCalls++
	call := f.ticketCalls
	fn := f.ticketFn
	f.mu.Unlock()
	if fn == nil {
		return "", nil
	}
	return fn(call)
}

func (f *fakeSession) ValidateQRCodeTicket(_ context.Context, ticket string) (bool, error) {
	f.mu.Lock()
	f.validateCalls++
	fn := f.validateFn
	f.mu.Unlock()
	if fn == nil {
		return true, nil
	}
	return fn(ticket)
}

func (f *fakeSession) SaveCookies(context.Context) error {
	f.mu.Lock()
	f.saveCalls++
	f.mu.Unlock()
	return nil
}

func (f *fakeSession) LoadCookies(context.Context) error {
	f.mu.Lock()
	f.loadCalls++
	call := f.loadCalls
	fn := f.loadFn
	f.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(call)
}

func (f *fakeSession) RotateUserAgent() {
	f.mu.Lock()
	f.rotateCalls++
	f.mu.Unlock()
}

func (f *fakeSession) ItemStock(context.Context, model.TaskParams) (bool, error) {
	f.mu.Lock()
	f.stockCalls++
	call := f.stockCalls
	fn := f.stockFn
	f.mu.Unlock()
	if fn == nil {
		return false, nil
	}
	return fn(call)
}

func (f *fakeSession) PrepareCart(context.Context, model.TaskParams) (bool, error) {
	f.mu.Lock()
	f.cartCalls++
	call := f.cartCalls
	fn := f.cartFn
	f.mu.Unlock()
	if fn == nil {
		return true, nil
	}
	return fn(call)
}

func (f *fakeSession) SubmitOrderWithRetry(_ context.Context, _ int, _ time.Duration) (bool, error) {
	f.mu.Lock()
	f.submitCalls++
	call := f.submitCalls
	fn := f.submitFn
	f.mu.Unlock()
	if fn == nil {
		return true, nil
	}
	return fn(call)
}

type callCounts struct {
	ticket, validate, save, load int
	rotate, stock, cart, submit  int
}

func (f *fakeSession) calls() callCounts {
	f.mu.Lock()
	defer f.mu.Unlock()
	return callCounts{
		ticket:   f.ticketCalls,
		validate: f.validateCalls,
		save:     f.saveCalls,
		load:     f.loadCalls,
		rotate:   f.rotateCalls,
		stock:    f.stockCalls,
		cart:     f.cartCalls,
		submit:   f.submitCalls,
	}
}

// collectEvents 读空事件通道（Run 返回后通道已关闭）。
func collectEvents(ch <-chan model.StatusEvent) []model.StatusEvent {
	var out []model.StatusEvent
	for ev := range ch {
		out = append(out, ev)
	}
	return out
}

func kinds(events []model.StatusEvent) []model.StatusKind {
	out := make([]model.StatusKind, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Kind)
	}
	return out
}

func TestSleepUntilPastTime(t *testing.T) {
	start := time.Now()
	if !sleepUntil(context.Background(), start.Add(-time.Hour)) {
		t.Fatal("过去的时间点应立即返回 true")
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Fatalf("不应真正睡眠，耗时 %v", elapsed)
	}
}

func TestSleepForCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	if sleepFor(ctx, time.Hour) {
		t.Fatal("取消后应返回 false")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("取消应立即打断睡眠，耗时 %v", elapsed)
	}
}

func TestCancelFlagStaysSet(t *testing.T) {
	var f CancelFlag
	if f.IsSet() {
		t.Fatal("零值不应处于置位状态")
	}
	f.Set()
	f.Set()
	if !f.IsSet() {
		t.Fatal("置位后应保持置位")
	}
}

func TestEmitterLastAndNonBlocking(t *testing.T) {
	em := newEmitter(nil, "test")
	// 超出通道容量也不能阻塞
	for i := 0; i < 128; i++ {
		em.emit(model.StatusNotSatisfied, "", nil)
	}
	em.emit(model.StatusOrderSucceeded, "done", nil)
	em.close()

	last, ok := em.Last()
	if !ok || last.Kind != model.StatusOrderSucceeded {
		t.Fatalf("Last 应返回最后一个事件，got %v ok=%v", last.Kind, ok)
	}
	events := collectEvents(em.events)
	if len(events) != 64 {
		t.Fatalf("慢消费者应按通道容量丢事件，got %d", len(events))
	}
}

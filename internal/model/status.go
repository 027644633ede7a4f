package model

// StatusKind 是监控协程对外汇报的封闭状态集合。
// 调用方按 kind 分发，不做字符串比较。
type StatusKind string

const (
	// 登录监控
	StatusAuthenticated    StatusKind = "authenticated"
	StatusExpired          StatusKind = "expired"
	StatusValidationFailed StatusKind = "validation_failed"

	// 下单监控
	StatusScheduled      StatusKind = "scheduled"
	StatusSessionLost    StatusKind = "session_lost"
	StatusNotSatisfied   StatusKind = "not_satisfied"
	StatusSatisfied      StatusKind = "satisfied_begin_order"
	StatusCartFailed     StatusKind = "cart_failed"
	StatusOrderSucceeded StatusKind = "order_succeeded"

	// 公共终态
	StatusCancelled  StatusKind = "cancelled"
	StatusDeadline   StatusKind = "deadline"
	StatusUnexpected StatusKind = "unexpected"
)

// Terminal 返回该状态是否结束当前监控协程。
// NotSatisfied / Satisfied / CartFailed / Scheduled 都是过程态，循环会继续。
func (k StatusKind) Terminal() bool {
	switch k {
	case StatusNotSatisfied, StatusSatisfied, StatusCartFailed, StatusScheduled:
		return false
	}
	return true
}

type StatusEvent struct {
	Kind   StatusKind     `json:"kind"`
	Detail string         `json:"detail,omitempty"`
	AtMs   int64          `json:"atMs"`
	Fields map[string]any `json:"fields,omitempty"`
}

type MonitorState struct {
	TicketRunning bool   `json:"ticketRunning"`
	BuyerRunning  bool   `json:"buyerRunning"`
	LoggedIn      bool   `json:"loggedIn"`
	LastStatus    string `json:"lastStatus,omitempty"`
}

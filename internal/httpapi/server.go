package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"jd_buyer/internal/config"
	"jd_buyer/internal/logbus"
	"jd_buyer/internal/model"
	"jd_buyer/internal/monitor"
	"jd_buyer/internal/notify"
	"jd_buyer/internal/session"
	"jd_buyer/internal/store/sqlite"
	"jd_buyer/internal/ws"
)

type Options struct {
	Cfg        config.Config
	Bus        *logbus.Bus
	Store      *sqlite.Store
	Session    *session.Session
	Supervisor *monitor.Supervisor
}

type Server struct {
	cfg        config.Config
	bus        *logbus.Bus
	store      *sqlite.Store
	session    *session.Session
	supervisor *monitor.Supervisor
	ws         *ws.Handler
}

func New(opts Options) *Server {
	return &Server{
		cfg:        opts.Cfg,
		bus:        opts.Bus,
		store:      opts.Store,
		session:    opts.Session,
		supervisor: opts.Supervisor,
		ws:         ws.NewHandler(opts.Bus, opts.Cfg.Server.Cors.AllowOrigins),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/ws", s.ws)

	api := http.NewServeMux()
	api.HandleFunc("/api/v1/session/state", s.handleSessionState)
	api.HandleFunc("/api/v1/session/qrcode", s.handleQRCode)
	api.HandleFunc("/api/v1/login/start", s.handleLoginStart)
	api.HandleFunc("/api/v1/login/stop", s.handleLoginStop)
	api.HandleFunc("/api/v1/task", s.handleTaskParams)
	api.HandleFunc("/api/v1/task/start", s.handleTaskStart)
	api.HandleFunc("/api/v1/task/stop", s.handleTaskStop)
	api.HandleFunc("/api/v1/monitor/state", s.handleMonitorState)
	api.HandleFunc("/api/v1/orders", s.handleOrders)
	api.HandleFunc("/api/v1/settings/email", s.handleEmailSettings)
	api.HandleFunc("/api/v1/settings/email/test", s.handleEmailTest)
	api.HandleFunc("/api/v1/settings/push", s.handlePushSettings)

	mux.Handle("/api/", corsMiddleware(s.cfg.Server.Cors, api))
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleSessionState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	st := s.supervisor.State()
	writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{
		"state":     st,
		"userAgent": s.session.UserAgent(),
	}})
}

// handleQRCode 返回登录二维码 PNG，前端展示给用户扫描。
func (s *Server) handleQRCode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	img, err := s.session.QRCode(r.Context())
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(img)
}

func (s *Server) handleLoginStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	if _, err := s.supervisor.StartLogin(r.Context()); err != nil {
		writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error()})
		return
	}
	s.bus.Log("info", "登录监控已启动", nil)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleLoginStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	s.supervisor.StopLogin()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleTaskParams 读写持久化的任务参数（对应原配置文件）。
func (s *Server) handleTaskParams(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		params, ok, err := s.store.GetTaskParams(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		if !ok {
			writeJSON(w, http.StatusOK, map[string]any{"data": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": params})
	case http.MethodPut:
		var body model.TaskParams
		if err := readJSON(r, &body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		if strings.TrimSpace(body.SKUID) == "" && strings.TrimSpace(body.ItemURL) == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "skuId or itemUrl is required"})
			return
		}
		saved, err := s.store.UpsertTaskParams(r.Context(), body)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": saved})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleTaskStart 启动一次下单尝试。请求体里的字段覆盖持久化参数；
// 给了商品链接就先解析出 sku/经销商/分类码再保存。
func (s *Server) handleTaskStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}

	params, _, err := s.store.GetTaskParams(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}

	var body model.TaskParams
	if err := readJSON(r, &body); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	mergeTaskParams(&params, body)

	if strings.TrimSpace(params.ItemURL) != "" {
		detail, err := s.session.ItemDetailByURL(r.Context(), params.ItemURL)
		if err != nil {
			writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error()})
			return
		}
		params.SKUID = detail.SKUID
		params.VenderID = detail.VenderID
		params.Cat = detail.Cat
	}
	if strings.TrimSpace(params.SKUID) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "skuId is required"})
		return
	}

	if _, err := s.store.UpsertTaskParams(r.Context(), params); err != nil {
		s.bus.Log("warn", "任务参数保存失败", map[string]any{"error": err.Error()})
	}

	if _, err := s.supervisor.StartBuyer(r.Context(), params); err != nil {
		status := http.StatusConflict
		if errors.Is(err, monitor.ErrNotLoggedIn) {
			status = http.StatusPreconditionFailed
		}
		writeJSON(w, status, map[string]any{"error": err.Error()})
		return
	}
	s.bus.Log("info", "下单监控已启动", map[string]any{"skuId": params.SKUID})
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "data": params})
}

func (s *Server) handleTaskStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	s.supervisor.StopBuyer()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleMonitorState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": s.supervisor.State()})
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	orders, err := s.store.ListOrders(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": orders})
}

func (s *Server) handleEmailSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		val, ok, err := s.store.GetEmailSettings(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		if ok {
			val.AuthCode = "" // 不回显授权码
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": val})
	case http.MethodPut:
		var body model.EmailSettings
		if err := readJSON(r, &body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		if body.AuthCode == "" {
			if prev, ok, err := s.store.GetEmailSettings(r.Context()); err == nil && ok {
				body.AuthCode = prev.AuthCode
			}
		}
		saved, err := s.store.UpsertEmailSettings(r.Context(), body)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		saved.AuthCode = ""
		writeJSON(w, http.StatusOK, map[string]any{"data": saved})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleEmailTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"error": "method not allowed"})
		return
	}
	val, _, err := s.store.GetEmailSettings(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 20*time.Second)
	defer cancel()

	if err := notify.SendOrderCreatedEmail(ctx, val, notify.OrderCreatedEvent{
		At:    time.Now().UnixMilli(),
		SKUID: "100012043978",
		Count: 1,
	}); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handlePushSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		val, _, err := s.store.GetPushSettings(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": val})
	case http.MethodPut:
		var body model.PushSettings
		if err := readJSON(r, &body); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		saved, err := s.store.UpsertPushSettings(r.Context(), body)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"data": saved})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// mergeTaskParams 用请求体里的非零字段覆盖持久化参数。
func mergeTaskParams(dst *model.TaskParams, src model.TaskParams) {
	if strings.TrimSpace(src.SKUID) != "" {
		dst.SKUID = strings.TrimSpace(src.SKUID)
	}
	if strings.TrimSpace(src.AreaID) != "" {
		dst.AreaID = strings.TrimSpace(src.AreaID)
	}
	if strings.TrimSpace(src.VenderID) != "" {
		dst.VenderID = strings.TrimSpace(src.VenderID)
	}
	if strings.TrimSpace(src.Cat) != "" {
		dst.Cat = strings.TrimSpace(src.Cat)
	}
	if src.Count > 0 {
		dst.Count = src.Count
	}
	if src.StockIntervalMs > 0 {
		dst.StockIntervalMs = src.StockIntervalMs
	}
	if src.BuyTimeMs > 0 {
		dst.BuyTimeMs = src.BuyTimeMs
	}
	if src.RandomUA {
		dst.RandomUA = true
	}
	if strings.TrimSpace(src.ItemURL) != "" {
		dst.ItemURL = strings.TrimSpace(src.ItemURL)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

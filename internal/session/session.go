package session

import (
	"context"
	"errors"
	"fmt"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"jd_buyer/internal/config"
	"jd_buyer/internal/logbus"
	"jd_buyer/internal/model"
	"jd_buyer/internal/utils"
)

// CookieStore 持久化会话 cookie（由 sqlite store 实现）。
type CookieStore interface {
	SaveCookies(ctx context.Context, entries []model.CookieEntry) error
	LoadCookies(ctx context.Context) ([]model.CookieEntry, error)
}

// Session 是商城会话：扫码登录、cookie 维护、库存/购物车/下单调用
// 都走同一个带 cookiejar 的 HTTP 客户端。
// 所有出站调用经过全局限速器，避免高频轮询触发风控。
type Session struct {
	cfg   config.SessionConfig
	store CookieStore
	bus   *logbus.Bus

	loggedIn atomic.Bool
	limiter  *rate.Limiter

	mu     sync.Mutex
	jar    *cookiejar.Jar
	client *resty.Client
	ua     string
}

type Options struct {
	Config config.SessionConfig
	Store  CookieStore
	Bus    *logbus.Bus
}

func New(opts Options) (*Session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	s := &Session{
		cfg:     opts.Config,
		store:   opts.Store,
		bus:     opts.Bus,
		jar:     jar,
		ua:      opts.Config.UserAgent,
		limiter: rate.NewLimiter(rate.Limit(opts.Config.QPS), opts.Config.Burst),
	}

	client := resty.New().
		SetTimeout(opts.Config.Timeout()).
		SetCookieJar(jar).
		SetHeader("User-Agent", s.ua)
	if opts.Config.Proxy != "" {
		client.SetProxy(opts.Config.Proxy)
	}
	client.OnBeforeRequest(func(_ *resty.Client, req *resty.Request) error {
		if s.bus != nil {
			s.bus.Log("debug", "http request", map[string]any{
				"method": req.Method,
				"url":    req.URL,
			})
		}
		return nil
	})
	s.client = client
	return s, nil
}

func (s *Session) IsLoggedIn() bool {
	return s.loggedIn.Load()
}

func (s *Session) SetLoggedIn(v bool) {
	s.loggedIn.Store(v)
}

func (s *Session) UserAgent() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ua
}

// RotateUserAgent 换一个随机手机端 UA（每轮查询前可选调用）。
func (s *Session) RotateUserAgent() {
	ua := utils.RandomMobileUA()
	s.mu.Lock()
	s.ua = ua
	s.client.SetHeader("User-Agent", ua)
	s.mu.Unlock()
}

func (s *Session) wait(ctx context.Context) error {
	return s.limiter.Wait(ctx)
}

// QRCode 拉取登录二维码图片；同时服务端会在 cookie 里种下
// 扫码会话 token，后续 check 轮询依赖它。
func (s *Session) QRCode(ctx context.Context) ([]byte, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"appid": "133",
			"size":  "147",
			"t":     strconv.FormatInt(time.Now().UnixMilli(), 10),
		}).
		Get(s.cfg.QRBaseURL + "/show")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != 200 || len(resp.Body()) == 0 {
		return nil, fmt.Errorf("get qrcode: status %d", resp.StatusCode())
	}
	return resp.Body(), nil
}

var jsonpRe = regexp.MustCompile(`^[^(]*\((.*)\)\s*;?\s*$`)

type qrCheckResp struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Ticket string `json:"ticket"`
}

// QRCodeTicket 轮询扫码结果。还没扫返回 ("", nil)。
func (s *Session) QRCodeTicket(ctx context.Context) (string, error) {
	if err := s.wait(ctx); err != nil {
		return "", err
	}
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"appid": "133",
			"token": s.qrToken(),
			"_":     strconv.FormatInt(time.Now().UnixMilli(), 10),
		}).
		Get(s.cfg.QRBaseURL + "/check")
	if err != nil {
		return "", err
	}

	body := strings.TrimSpace(string(resp.Body()))
	if m := jsonpRe.FindStringSubmatch(body); m != nil {
		body = m[1]
	}
	var out qrCheckResp
	if err := unmarshalLenient(body, &out); err != nil {
		return "", fmt.Errorf("parse qr check: %w", err)
	}
	if out.Code == 200 && out.Ticket != "" {
		return out.Ticket, nil
	}
	// 201/202 等状态表示二维码尚未被扫描/确认
	return "", nil
}

// qrToken 从 cookiejar 里取扫码会话 token。
func (s *Session) qrToken() string {
	u, err := url.Parse(s.cfg.QRBaseURL)
	if err != nil {
		return ""
	}
	for _, c := range s.jar.Cookies(u) {
		if c.Name == "wlfstk_smdl" {
			return c.Value
		}
	}
	return ""
}

type validateResp struct {
	ReturnCode int `json:"returnCode"`
}

// ValidateQRCodeTicket 用票据换登录态，只提交一次。
func (s *Session) ValidateQRCodeTicket(ctx context.Context, ticket string) (bool, error) {
	if err := s.wait(ctx); err != nil {
		return false, err
	}
	var out validateResp
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("t", ticket).
		SetResult(&out).
		Get(s.cfg.PassportBaseURL + "/uc/qrCodeTicketValidation")
	if err != nil {
		return false, err
	}
	if resp.StatusCode() != 200 {
		return false, nil
	}
	return out.ReturnCode == 0, nil
}

// SaveCookies 把当前 cookiejar 导出到持久化存储。
func (s *Session) SaveCookies(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	return s.store.SaveCookies(ctx, s.exportCookies())
}

// LoadCookies 重载持久化 cookie 并验证登录态是否仍然有效。
// 任何失败都按会话过期处理（调用方据此翻转登录标记）。
func (s *Session) LoadCookies(ctx context.Context) error {
	if s.store == nil {
		return errors.New("cookie store unavailable")
	}
	entries, err := s.store.LoadCookies(ctx)
	if err != nil {
		return err
	}
	s.importCookies(entries)
	return s.verify(ctx)
}

type orderListResp struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// verify 用订单列表页探测登录态。
func (s *Session) verify(ctx context.Context) error {
	if err := s.wait(ctx); err != nil {
		return err
	}
	var out orderListResp
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("page", "1").
		SetResult(&out).
		Get(s.cfg.TradeBaseURL + "/api/order/list")
	if err != nil {
		return err
	}
	if resp.StatusCode() != 200 || !out.Success {
		if out.Error == "" {
			out.Error = fmt.Sprintf("status %d", resp.StatusCode())
		}
		return fmt.Errorf("session verify failed: %s", out.Error)
	}
	return nil
}

type stockResp struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Data    struct {
		StockState int `json:"stockState"`
	} `json:"data"`
}

// ItemStock 查询商品在指定地区/经销商下是否满足购买数量。
// 33/40 是有货状态码，其余都算不可下单。
func (s *Session) ItemStock(ctx context.Context, p model.TaskParams) (bool, error) {
	if err := s.wait(ctx); err != nil {
		return false, err
	}
	var out stockResp
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"skuId":    p.SKUID,
			"num":      strconv.Itoa(p.Count),
			"area":     p.AreaID,
			"venderId": p.VenderID,
			"cat":      p.Cat,
		}).
		SetResult(&out).
		Get(s.cfg.TradeBaseURL + "/api/item/stock")
	if err != nil {
		return false, err
	}
	if resp.StatusCode() != 200 || !out.Success {
		if out.Error == "" {
			out.Error = fmt.Sprintf("status %d", resp.StatusCode())
		}
		return false, fmt.Errorf("get item stock: %s", out.Error)
	}
	return out.Data.StockState == 33 || out.Data.StockState == 40, nil
}

type cartResp struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// PrepareCart 清空购物车后加入目标商品。返回 false 表示加购被拒，
// 调用方下一轮重新确认库存即可。
func (s *Session) PrepareCart(ctx context.Context, p model.TaskParams) (bool, error) {
	if err := s.wait(ctx); err != nil {
		return false, err
	}
	var out cartResp
	resp, err := s.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"skuId": p.SKUID,
			"num":   strconv.Itoa(p.Count),
			"area":  p.AreaID,
		}).
		SetResult(&out).
		Post(s.cfg.TradeBaseURL + "/api/cart/prepare")
	if err != nil {
		return false, err
	}
	if resp.StatusCode() != 200 {
		return false, fmt.Errorf("prepare cart: status %d", resp.StatusCode())
	}
	return out.Success, nil
}

type submitResp struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	OrderID string `json:"orderId,omitempty"`
}

// SubmitOrderWithRetry 提交订单，内部最多重试 retries 次、间隔 interval。
// 单次提交的网络错误被吸收为一次失败重试，最终只以布尔结果上报；
// ctx 取消会立即中断并返回错误。
func (s *Session) SubmitOrderWithRetry(ctx context.Context, retries int, interval time.Duration) (bool, error) {
	if retries <= 0 {
		retries = 1
	}
	for i := 0; i < retries; i++ {
		if i > 0 {
			timer := time.NewTimer(interval)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return false, ctx.Err()
			}
			timer.Stop()
		}
		ok, err := s.submitOrderOnce(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			if s.bus != nil {
				s.bus.Log("warn", "提交订单失败", map[string]any{"attempt": i + 1, "error": err.Error()})
			}
			continue
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (s *Session) submitOrderOnce(ctx context.Context) (bool, error) {
	if err := s.wait(ctx); err != nil {
		return false, err
	}
	form := map[string]string{
		"submit": "1",
	}
	if s.cfg.PaymentPassword != "" {
		// 使用虚拟资产时需要支付密码
		form["paymentPwd"] = encodePaymentPassword(s.cfg.PaymentPassword)
	}
	var out submitResp
	resp, err := s.client.R().
		SetContext(ctx).
		SetFormData(form).
		SetResult(&out).
		Post(s.cfg.TradeBaseURL + "/api/order/submit")
	if err != nil {
		return false, err
	}
	if resp.StatusCode() != 200 {
		return false, fmt.Errorf("submit order: status %d", resp.StatusCode())
	}
	if out.Success && s.bus != nil {
		s.bus.Log("info", "订单已提交", map[string]any{"orderId": out.OrderID})
	}
	return out.Success, nil
}

var itemURLRe = regexp.MustCompile(`/(\d+)\.html`)

type itemDetailResp struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Data    struct {
		SKUID    string `json:"skuId"`
		VenderID string `json:"venderId"`
		Cat      string `json:"cat"`
	} `json:"data"`
}

// ItemDetailByURL 从商品链接解析 SKU，再查询经销商和分类码。
func (s *Session) ItemDetailByURL(ctx context.Context, itemURL string) (model.ItemDetail, error) {
	m := itemURLRe.FindStringSubmatch(itemURL)
	if m == nil {
		return model.ItemDetail{}, fmt.Errorf("unrecognized item url: %s", itemURL)
	}
	skuID := m[1]

	if err := s.wait(ctx); err != nil {
		return model.ItemDetail{}, err
	}
	var out itemDetailResp
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("skuId", skuID).
		SetResult(&out).
		Get(s.cfg.TradeBaseURL + "/api/item/detail")
	if err != nil {
		return model.ItemDetail{}, err
	}
	if resp.StatusCode() != 200 || !out.Success {
		if out.Error == "" {
			out.Error = fmt.Sprintf("status %d", resp.StatusCode())
		}
		return model.ItemDetail{}, fmt.Errorf("get item detail: %s", out.Error)
	}
	detail := model.ItemDetail{
		SKUID:    out.Data.SKUID,
		VenderID: out.Data.VenderID,
		Cat:      out.Data.Cat,
	}
	if detail.SKUID == "" {
		detail.SKUID = skuID
	}
	return detail, nil
}

func (s *Session) importCookies(entries []model.CookieEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range entries {
		u, err := url.Parse(entry.URL)
		if err != nil {
			continue
		}
		s.jar.SetCookies(u, model.CookiesToHTTP(entry.Cookies))
	}
}

func (s *Session) exportCookies() []model.CookieEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.CookieEntry
	for _, base := range []string{s.cfg.PassportBaseURL, s.cfg.QRBaseURL, s.cfg.TradeBaseURL} {
		u, err := url.Parse(base)
		if err != nil {
			continue
		}
		u.Path = "/"
		cookies := s.jar.Cookies(u)
		if len(cookies) == 0 {
			continue
		}
		out = append(out, model.CookieEntry{
			URL:     u.String(),
			Cookies: model.CookiesFromHTTP(cookies),
		})
	}
	return out
}

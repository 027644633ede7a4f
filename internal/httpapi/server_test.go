package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"jd_buyer/internal/config"
	"jd_buyer/internal/logbus"
	"jd_buyer/internal/monitor"
	"jd_buyer/internal/session"
	"jd_buyer/internal/store/sqlite"
)

func newTestServer(t *testing.T, upstream *httptest.Server) (*httptest.Server, *session.Session) {
	t.Helper()
	ctx := context.Background()

	store, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("打开测试库失败：%v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	bus := logbus.New(50)
	cfg := config.Config{
		Server: config.ServerConfig{
			Addr: ":0",
			Cors: config.CorsConfig{AllowOrigins: []string{"*"}},
		},
		Session: config.SessionConfig{
			PassportBaseURL: upstream.URL,
			QRBaseURL:       upstream.URL,
			TradeBaseURL:    upstream.URL,
			TimeoutMs:       2000,
			QPS:             1000,
			Burst:           1000,
		},
	}

	sess, err := session.New(session.Options{Config: cfg.Session, Store: store, Bus: bus})
	if err != nil {
		t.Fatalf("init session: %v", err)
	}
	sup := monitor.NewSupervisor(monitor.SupervisorOptions{Session: sess, Bus: bus})
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithCancel(context.Background())
		defer cancel()
		_ = sup.Close(shutdownCtx)
	})

	api := New(Options{Cfg: cfg, Bus: bus, Store: store, Session: sess, Supervisor: sup})
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return srv, sess
}

func doJSON(t *testing.T, method, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("构造请求失败：%v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("请求失败：%v", err)
	}
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestHealth(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	defer upstream.Close()
	srv, _ := newTestServer(t, upstream)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/health", "")
	if resp.StatusCode != http.StatusOK || body["ok"] != true {
		t.Fatalf("health 异常：%d %v", resp.StatusCode, body)
	}
}

func TestTaskParamsPutGet(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	defer upstream.Close()
	srv, _ := newTestServer(t, upstream)

	resp, _ := doJSON(t, http.MethodPut, srv.URL+"/api/v1/task",
		`{"skuId":"100012043978","areaId":"1_72_2799","count":2,"stockIntervalMs":500}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT task 失败：%d", resp.StatusCode)
	}

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/v1/task", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET task 失败：%d", resp.StatusCode)
	}
	data, _ := body["data"].(map[string]any)
	if data["skuId"] != "100012043978" || data["count"] != float64(2) {
		t.Fatalf("参数读回不符：%v", data)
	}
}

func TestTaskParamsPutRejectsEmpty(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	defer upstream.Close()
	srv, _ := newTestServer(t, upstream)

	resp, _ := doJSON(t, http.MethodPut, srv.URL+"/api/v1/task", `{"count":1}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("缺少 skuId 应 400，got %d", resp.StatusCode)
	}
}

func TestTaskStartRequiresLogin(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	defer upstream.Close()
	srv, _ := newTestServer(t, upstream)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/api/v1/task/start", `{"skuId":"100012043978"}`)
	if resp.StatusCode != http.StatusPreconditionFailed {
		t.Fatalf("未登录启动应 412，got %d", resp.StatusCode)
	}
}

func TestTaskStartResolvesItemURL(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/item/detail":
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"success": true,
				"data": map[string]any{
					"skuId":    r.URL.Query().Get("skuId"),
					"venderId": "1000001782",
					"cat":      "9987,653,655",
				},
			})
		case "/api/item/stock":
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"success": true,
				"data":    map[string]any{"stockState": 34},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer upstream.Close()
	srv, sess := newTestServer(t, upstream)
	sess.SetLoggedIn(true)

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/api/v1/task/start",
		`{"itemUrl":"https://item.jd.com/100012043978.html","stockIntervalMs":50}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("启动失败：%d %v", resp.StatusCode, body)
	}
	data, _ := body["data"].(map[string]any)
	if data["skuId"] != "100012043978" || data["venderId"] != "1000001782" {
		t.Fatalf("商品链接解析结果不符：%v", data)
	}

	// 运行中重复启动应冲突
	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/task/start", `{"skuId":"100012043978"}`)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("重复启动应 409，got %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/api/v1/task/stop", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("停止失败：%d", resp.StatusCode)
	}
}

func TestEmailSettingsDoesNotEchoAuthCode(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	defer upstream.Close()
	srv, _ := newTestServer(t, upstream)

	resp, body := doJSON(t, http.MethodPut, srv.URL+"/api/v1/settings/email",
		`{"enabled":true,"email":"user@qq.com","authCode":"secret"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT email settings 失败：%d", resp.StatusCode)
	}
	data, _ := body["data"].(map[string]any)
	if code, ok := data["authCode"]; ok && code != "" {
		t.Fatalf("授权码不应回显：%v", data)
	}

	resp, body = doJSON(t, http.MethodGet, srv.URL+"/api/v1/settings/email", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET email settings 失败：%d", resp.StatusCode)
	}
	data, _ = body["data"].(map[string]any)
	if data["email"] != "user@qq.com" {
		t.Fatalf("邮件配置读回不符：%v", data)
	}
	if code, ok := data["authCode"]; ok && code != "" {
		t.Fatalf("授权码不应回显：%v", data)
	}
}

func TestMonitorStateEndpoint(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	defer upstream.Close()
	srv, sess := newTestServer(t, upstream)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/api/v1/session/state", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET session state 失败：%d", resp.StatusCode)
	}
	data, _ := body["data"].(map[string]any)
	state, _ := data["state"].(map[string]any)
	if state["loggedIn"] != false {
		t.Fatalf("初始应未登录：%v", state)
	}

	sess.SetLoggedIn(true)
	_, body = doJSON(t, http.MethodGet, srv.URL+"/api/v1/session/state", "")
	data, _ = body["data"].(map[string]any)
	state, _ = data["state"].(map[string]any)
	if state["loggedIn"] != true {
		t.Fatalf("登录标记应透传：%v", state)
	}
}

func TestCORSPreflight(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	defer upstream.Close()
	srv, _ := newTestServer(t, upstream)

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/api/v1/task", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("预检请求失败：%v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("预检应返回 204，got %d", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("CORS 头缺失：%v", resp.Header)
	}
}

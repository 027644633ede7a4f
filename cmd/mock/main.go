package main

import (
	crand "crypto/rand"
	"encoding/json"
	"flag"
	"log"
	"math/rand"
	"net/http"
	"sync"
	"time"
)

// 模拟商城上游：扫码登录、库存、购物车、下单接口都在这一个进程里，
// 方便本地联调，不用碰真实商城。
func main() {
	addr := flag.String("addr", ":8080", "listen address")
	scanAfter := flag.Duration("scan-after", 6*time.Second, "simulated delay before the qrcode is scanned")
	stockChance := flag.Float64("stock-chance", 0.3, "probability that a stock check reports in stock")
	flag.Parse()

	st := &mockState{
		scanAfter:   *scanAfter,
		stockChance: *stockChance,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/mock/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"ok": true})
	})

	// 二维码图片。真实接口会顺带种下扫码会话 cookie。
	mux.HandleFunc("/show", func(w http.ResponseWriter, r *http.Request) {
		st.mu.Lock()
		st.shownAt = time.Now()
		st.ticket = ""
		st.mu.Unlock()

		http.SetCookie(w, &http.Cookie{
			Name:  "wlfstk_smdl",
			Value: "mock_" + randString(16),
			Path:  "/",
		})
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(tinyPNG)
	})

	// 扫码轮询。到达模拟扫码时间前返回 201（未扫描）。
	mux.HandleFunc("/check", func(w http.ResponseWriter, r *http.Request) {
		st.mu.Lock()
		defer st.mu.Unlock()
		if st.shownAt.IsZero() || time.Since(st.shownAt) < st.scanAfter {
			writeJSON(w, map[string]any{"code": 201, "msg": "二维码未扫描"})
			return
		}
		if st.ticket == "" {
			st.ticket = "mock_ticket_" + randString(12)
		}
		writeJSON(w, map[string]any{"code": 200, "ticket": st.ticket})
	})

	mux.HandleFunc("/uc/qrCodeTicketValidation", func(w http.ResponseWriter, r *http.Request) {
		st.mu.Lock()
		valid := st.ticket != "" && r.URL.Query().Get("t") == st.ticket
		if valid {
			st.loggedIn = true
		}
		st.mu.Unlock()

		code := 0
		if !valid {
			code = 19
		}
		writeJSON(w, map[string]any{"returnCode": code})
	})

	mux.HandleFunc("/api/order/list", func(w http.ResponseWriter, r *http.Request) {
		st.mu.Lock()
		ok := st.loggedIn
		st.mu.Unlock()
		if !ok {
			writeJSON(w, map[string]any{"success": false, "error": "not logged in"})
			return
		}
		writeJSON(w, map[string]any{"success": true, "data": []any{}})
	})

	mux.HandleFunc("/api/item/stock", func(w http.ResponseWriter, r *http.Request) {
		stockState := 34 // 无货
		if rand.Float64() < st.stockChance {
			stockState = 33
		}
		writeJSON(w, map[string]any{
			"success": true,
			"data":    map[string]any{"stockState": stockState},
		})
	})

	mux.HandleFunc("/api/cart/prepare", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		st.mu.Lock()
		st.cartReady = true
		st.mu.Unlock()
		writeJSON(w, map[string]any{"success": true})
	})

	mux.HandleFunc("/api/order/submit", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		st.mu.Lock()
		ready := st.cartReady
		st.cartReady = false
		st.mu.Unlock()
		if !ready {
			writeJSON(w, map[string]any{"success": false, "error": "cart is empty"})
			return
		}
		writeJSON(w, map[string]any{
			"success": true,
			"orderId": randDigits(12),
		})
	})

	mux.HandleFunc("/api/item/detail", func(w http.ResponseWriter, r *http.Request) {
		skuID := r.URL.Query().Get("skuId")
		writeJSON(w, map[string]any{
			"success": true,
			"data": map[string]any{
				"skuId":    skuID,
				"venderId": "1000001782",
				"cat":      "9987,653,655",
			},
		})
	})

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Printf("mock listening on %s", *addr)
	log.Fatal(srv.ListenAndServe())
}

type mockState struct {
	scanAfter   time.Duration
	stockChance float64

	mu        sync.Mutex
	shownAt   time.Time
	ticket    string
	loggedIn  bool
	cartReady bool
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func randString(n int) string {
	const letters = "abcdefghijklmnopqrstuvwxyz0123456789"
	if n <= 0 {
		return ""
	}
	raw := make([]byte, n)
	_, _ = crand.Read(raw)
	out := make([]byte, n)
	for i := range out {
		out[i] = letters[int(raw[i])%len(letters)]
	}
	return string(out)
}

func randDigits(n int) string {
	const digits = "0123456789"
	out := make([]byte, n)
	for i := range out {
		out[i] = digits[rand.Intn(len(digits))]
	}
	return string(out)
}

// 1x1 透明 PNG
var tinyPNG = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a,
	0x00, 0x00, 0x00, 0x0d, 0x49, 0x48, 0x44, 0x52,
	0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4,
	0x89, 0x00, 0x00, 0x00, 0x0d, 0x49, 0x44, 0x41,
	0x54, 0x78, 0x9c, 0x62, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00,
	0x00, 0x00, 0x00, 0x49, 0x45, 0x4e, 0x44, 0xae,
	0x42, 0x60, 0x82,
}

package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/mail"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/gomail.v2"

	"jd_buyer/internal/logbus"
	"jd_buyer/internal/model"
)

// EmailNotifier 异步发送下单成功邮件：事件先进队列，
// 由后台协程逐条发送，避免 SMTP 慢速拖住下单协程。
type EmailNotifier struct {
	settings SettingsSource
	bus      *logbus.Bus

	mu     sync.Mutex
	queue  chan OrderCreatedEvent
	ctx    context.Context
	cancel func()
	wg     sync.WaitGroup
}

func NewEmailNotifier(settings SettingsSource, bus *logbus.Bus) *EmailNotifier {
	ctx, cancel := context.WithCancel(context.Background())
	n := &EmailNotifier{
		settings: settings,
		bus:      bus,
		queue:    make(chan OrderCreatedEvent, 64),
		ctx:      ctx,
		cancel:   cancel,
	}
	n.wg.Add(1)
	go n.loop()
	return n
}

func (n *EmailNotifier) Close(ctx context.Context) error {
	n.mu.Lock()
	cancel := n.cancel
	n.cancel = nil
	n.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *EmailNotifier) NotifyOrderCreated(_ context.Context, evt OrderCreatedEvent) {
	select {
	case n.queue <- evt:
	default:
		if n.bus != nil {
			n.bus.Log("warn", "邮件通知丢弃：队列已满", map[string]any{"skuId": evt.SKUID})
		}
	}
}

func (n *EmailNotifier) loop() {
	defer n.wg.Done()
	for {
		select {
		case <-n.ctx.Done():
			return
		case evt := <-n.queue:
			n.handle(evt)
		}
	}
}

func (n *EmailNotifier) handle(evt OrderCreatedEvent) {
	if n.settings == nil {
		return
	}
	settings, ok, err := n.settings.GetEmailSettings(n.ctx)
	if err != nil {
		n.log("warn", "读取邮件配置失败", map[string]any{"error": err.Error()})
		return
	}
	if !ok || !settings.Enabled {
		return
	}
	if err := validateEmailSettings(settings); err != nil {
		n.log("warn", "邮件配置无效", map[string]any{"error": err.Error()})
		return
	}
	if err := SendOrderCreatedEmail(n.ctx, settings, evt); err != nil {
		n.log("warn", "邮件发送失败", map[string]any{"error": err.Error(), "skuId": evt.SKUID})
		return
	}
	n.log("info", "通知邮件已发送", map[string]any{"to": strings.TrimSpace(settings.Email), "skuId": evt.SKUID})
}

func (n *EmailNotifier) log(level, msg string, fields map[string]any) {
	if n.bus != nil {
		n.bus.Log(level, msg, fields)
	}
}

func validateEmailSettings(s model.EmailSettings) error {
	email := strings.TrimSpace(s.Email)
	if email == "" {
		return errors.New("email is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return errors.New("invalid email")
	}
	if strings.TrimSpace(s.AuthCode) == "" {
		return errors.New("authCode is required")
	}
	return nil
}

func SendOrderCreatedEmail(ctx context.Context, settings model.EmailSettings, evt OrderCreatedEvent) error {
	if err := validateEmailSettings(settings); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	email := strings.TrimSpace(settings.Email)
	host, port, useSSL, err := smtpConfigForEmail(email)
	if err != nil {
		return err
	}

	htmlBody, textBody, err := buildEmailBody(evt)
	if err != nil {
		return err
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", msg.FormatAddress(email, "下单助手"))
	msg.SetHeader("To", email)
	msg.SetHeader("Subject", fmt.Sprintf("下单成功：%s × %d，请及时支付", evt.SKUID, normalizeQty(evt.Count)))
	msg.SetBody("text/plain", textBody)
	msg.AddAlternative("text/html", htmlBody)

	d := gomail.NewDialer(host, port, email, strings.TrimSpace(settings.AuthCode))
	d.SSL = useSSL
	return d.DialAndSend(msg)
}

func smtpConfigForEmail(email string) (host string, port int, useSSL bool, err error) {
	parts := strings.Split(strings.TrimSpace(email), "@")
	if len(parts) != 2 || strings.TrimSpace(parts[1]) == "" {
		return "", 0, false, errors.New("invalid email format")
	}
	domain := strings.ToLower(strings.TrimSpace(parts[1]))

	switch {
	case domain == "qq.com" || strings.HasSuffix(domain, ".qq.com") || domain == "foxmail.com":
		return "smtp.qq.com", 465, true, nil
	case domain == "163.com" || domain == "126.com" || domain == "yeah.net":
		return "smtp.163.com", 465, true, nil
	case domain == "gmail.com":
		return "smtp.gmail.com", 587, false, nil
	case domain == "outlook.com" || domain == "hotmail.com" || domain == "live.com":
		return "smtp.office365.com", 587, false, nil
	default:
		return "smtp." + domain, 465, true, nil
	}
}

var emailHTMLTpl = template.Must(template.New("email").Parse(`
<!doctype html>
<html lang="zh-CN">
  <head><meta charset="utf-8" /><title>下单成功</title></head>
  <body style="margin:0;padding:0;background:#f6f8fb;font-family:-apple-system,'PingFang SC','Microsoft YaHei',sans-serif;">
    <div style="max-width:640px;margin:0 auto;padding:24px;">
      <div style="background:#ffffff;border:1px solid #e6e8ef;border-radius:14px;overflow:hidden;">
        <div style="padding:18px 22px;background:linear-gradient(135deg,#0ea5e9,#6366f1);color:#ffffff;">
          <div style="font-size:16px;font-weight:700;">下单成功</div>
          <div style="margin-top:6px;font-size:12px;opacity:.95;">您的商品已下单成功，请及时支付订单</div>
        </div>
        <div style="padding:22px;">
          <table role="presentation" cellspacing="0" cellpadding="0" border="0" style="width:100%;border-collapse:collapse;">
            <tbody>
              {{ range .Rows }}
              <tr>
                <td style="width:140px;padding:10px 12px;background:#fafbff;border-bottom:1px solid #eef0f6;color:#6b7280;font-size:12px;">{{ .K }}</td>
                <td style="padding:10px 12px;border-bottom:1px solid #eef0f6;color:#111827;font-size:12px;font-weight:600;">{{ .V }}</td>
              </tr>
              {{ end }}
            </tbody>
          </table>
          <div style="margin-top:14px;color:#9ca3af;font-size:12px;">此邮件由系统自动发送</div>
        </div>
      </div>
    </div>
  </body>
</html>
`))

type rowKV struct {
	K string
	V string
}

func buildEmailBody(evt OrderCreatedEvent) (htmlBody string, textBody string, err error) {
	at := time.Now()
	if evt.At > 0 {
		at = time.UnixMilli(evt.At)
	}

	rows := []rowKV{
		{K: "时间", V: at.Format("2006-01-02 15:04:05")},
		{K: "商品SKU", V: evt.SKUID},
		{K: "数量", V: strconv.Itoa(normalizeQty(evt.Count))},
	}
	if strings.TrimSpace(evt.AreaID) != "" {
		rows = append(rows, rowKV{K: "地区", V: evt.AreaID})
	}

	var buf bytes.Buffer
	if err := emailHTMLTpl.Execute(&buf, struct{ Rows []rowKV }{Rows: rows}); err != nil {
		return "", "", err
	}

	text := new(strings.Builder)
	text.WriteString("下单成功，请及时支付订单\n")
	for _, r := range rows {
		text.WriteString(r.K + "：" + r.V + "\n")
	}
	return buf.String(), text.String(), nil
}

func normalizeQty(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}

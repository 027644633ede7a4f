package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"jd_buyer/internal/logbus"
)

const serverChanBaseURL = "https://sctapi.ftqq.com"

// ServerChanNotifier 通过 ServerChan 推送微信消息。
// 与邮件通知一样是投递即忘：推送失败只记日志。
type ServerChanNotifier struct {
	settings SettingsSource
	bus      *logbus.Bus
	client   *resty.Client
}

func NewServerChanNotifier(settings SettingsSource, bus *logbus.Bus) *ServerChanNotifier {
	return &ServerChanNotifier{
		settings: settings,
		bus:      bus,
		client: resty.New().
			SetBaseURL(serverChanBaseURL).
			SetTimeout(10 * time.Second).
			SetRetryCount(1),
	}
}

func (n *ServerChanNotifier) NotifyOrderCreated(ctx context.Context, evt OrderCreatedEvent) {
	if n.settings == nil {
		return
	}
	settings, ok, err := n.settings.GetPushSettings(ctx)
	if err != nil {
		n.log("warn", "读取推送配置失败", map[string]any{"error": err.Error()})
		return
	}
	if !ok || !settings.Enabled || strings.TrimSpace(settings.SendKey) == "" {
		return
	}

	go n.send(strings.TrimSpace(settings.SendKey), evt)
}

func (n *ServerChanNotifier) send(sendKey string, evt OrderCreatedEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	title := "您的商品已下单成功，请及时支付订单"
	desp := fmt.Sprintf("商品SKU：%s\n\n数量：%d", evt.SKUID, normalizeQty(evt.Count))

	resp, err := n.client.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"title": title,
			"desp":  desp,
		}).
		Post("/" + sendKey + ".send")
	if err != nil {
		n.log("warn", "微信推送失败", map[string]any{"error": err.Error(), "skuId": evt.SKUID})
		return
	}
	if resp.StatusCode() >= 400 {
		n.log("warn", "微信推送失败", map[string]any{"status": resp.StatusCode(), "skuId": evt.SKUID})
		return
	}
	n.log("info", "微信推送已发送", map[string]any{"skuId": evt.SKUID})
}

func (n *ServerChanNotifier) log(level, msg string, fields map[string]any) {
	if n.bus != nil {
		n.bus.Log(level, msg, fields)
	}
}

package utils

import (
	"math/rand"
	"strings"
)

// 常见手机端 UA 池，轮询时随机切换可以降低被风控识别的概率。
var mobileUserAgents = []string{
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 16_6 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.6 Mobile/15E148 Safari/604.1",
	"Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.6099.43 Mobile Safari/537.36",
	"Mozilla/5.0 (Linux; Android 13; SM-G9910) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/118.0.5993.80 Mobile Safari/537.36",
	"Mozilla/5.0 (Linux; Android 13; 2211133C) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/116.0.5845.164 Mobile Safari/537.36",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 15_7 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Mobile/15E148 MicroMessenger/8.0.44(0x18002c2d) NetType/WIFI Language/zh_CN",
	"Mozilla/5.0 (Linux; Android 12; MI 11) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/110.0.5481.153 Mobile Safari/537.36 XWEB/5023 MMWEBSDK/20230202 MMWEBID/4886 MicroMessenger/8.0.33",
}

// RandomMobileUA 返回一个随机手机端 UA。
func RandomMobileUA() string {
	return mobileUserAgents[rand.Intn(len(mobileUserAgents))]
}

// IsMobileUA 粗略判断 UA 是否是手机端。
func IsMobileUA(ua string) bool {
	s := strings.ToLower(ua)
	return strings.Contains(s, "mobile") ||
		strings.Contains(s, "iphone") ||
		strings.Contains(s, "android") ||
		strings.Contains(s, "micromessenger")
}

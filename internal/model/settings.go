package model

type EmailSettings struct {
	Enabled  bool   `json:"enabled"`
	Email    string `json:"email"`
	AuthCode string `json:"authCode,omitempty"`
}

// PushSettings 是 ServerChan 微信推送配置。
type PushSettings struct {
	Enabled bool   `json:"enabled"`
	SendKey string `json:"sendKey,omitempty"`
}

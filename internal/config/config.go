package config

import (
	"errors"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Session SessionConfig `yaml:"session"`
	Task    TaskConfig    `yaml:"task"`
	Login   LoginConfig   `yaml:"login"`
}

type ServerConfig struct {
	Addr string     `yaml:"addr"`
	Cors CorsConfig `yaml:"cors"`
}

type CorsConfig struct {
	AllowOrigins     []string `yaml:"allowOrigins"`
	AllowCredentials bool     `yaml:"allowCredentials"`
}

type StorageConfig struct {
	SQLitePath string `yaml:"sqlitePath"`
}

// SessionConfig 配置商城会话的出站行为。
type SessionConfig struct {
	PassportBaseURL string  `yaml:"passportBaseURL"`
	QRBaseURL       string  `yaml:"qrBaseURL"`
	TradeBaseURL    string  `yaml:"tradeBaseURL"`
	TimeoutMs       int     `yaml:"timeoutMs"`
	UserAgent       string  `yaml:"userAgent"`
	Proxy           string  `yaml:"proxy"`
	QPS             float64 `yaml:"qps"`
	Burst           int     `yaml:"burst"`
	PaymentPassword string  `yaml:"paymentPassword"`
}

func (c SessionConfig) Timeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return 20 * time.Second
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// TaskConfig 是下单任务的默认参数，可被持久化的任务参数覆盖。
type TaskConfig struct {
	SubmitRetry        int `yaml:"submitRetry"`
	SubmitIntervalSec  int `yaml:"submitIntervalSec"`
	MaxIterations      int `yaml:"maxIterations"`      // 0 表示不限制外层轮询次数
	MaxDurationMinutes int `yaml:"maxDurationMinutes"` // 0 表示不限制总时长
}

func (c TaskConfig) SubmitInterval() time.Duration {
	if c.SubmitIntervalSec <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.SubmitIntervalSec) * time.Second
}

func (c TaskConfig) MaxDuration() time.Duration {
	if c.MaxDurationMinutes <= 0 {
		return 0
	}
	return time.Duration(c.MaxDurationMinutes) * time.Minute
}

// LoginConfig 是扫码登录监控的节奏参数。
type LoginConfig struct {
	TicketMaxAttempts  int `yaml:"ticketMaxAttempts"`
	TicketIntervalSec  int `yaml:"ticketIntervalSec"`
	KeepaliveIntervalSec int `yaml:"keepaliveIntervalSec"`
}

func (c LoginConfig) TicketInterval() time.Duration {
	if c.TicketIntervalSec <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.TicketIntervalSec) * time.Second
}

func (c LoginConfig) KeepaliveInterval() time.Duration {
	if c.KeepaliveIntervalSec <= 0 {
		return 300 * time.Second
	}
	return time.Duration(c.KeepaliveIntervalSec) * time.Second
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8090"
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "./data/jd_buyer.db"
	}
	if c.Session.PassportBaseURL == "" {
		c.Session.PassportBaseURL = "https://passport.jd.com"
	}
	if c.Session.QRBaseURL == "" {
		c.Session.QRBaseURL = "https://qr.m.jd.com"
	}
	if c.Session.TradeBaseURL == "" {
		c.Session.TradeBaseURL = "https://trade.jd.com"
	}
	if c.Session.UserAgent == "" {
		// 默认手机端 UA，与扫码登录来源一致
		c.Session.UserAgent = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
	}
	if c.Session.QPS <= 0 {
		c.Session.QPS = 5
	}
	if c.Session.Burst <= 0 {
		c.Session.Burst = 10
	}
	if c.Task.SubmitRetry <= 0 {
		c.Task.SubmitRetry = 3
	}
	if c.Task.SubmitIntervalSec <= 0 {
		c.Task.SubmitIntervalSec = 5
	}
	if c.Login.TicketMaxAttempts <= 0 {
		c.Login.TicketMaxAttempts = 85
	}
	if c.Login.TicketIntervalSec <= 0 {
		c.Login.TicketIntervalSec = 2
	}
	if c.Login.KeepaliveIntervalSec <= 0 {
		c.Login.KeepaliveIntervalSec = 300
	}
}

func (c Config) validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if c.Session.TradeBaseURL == "" {
		return errors.New("session.tradeBaseURL is required")
	}
	return nil
}

// Package config 全局配置加载与管理。
//
// 所有字段通过 struct tag 声明环境变量映射:
//
//	`env:"VAR_NAME" default:"value" min:"0"`
//
// Load() 使用反射自动填充，无需手动逐行赋值。
package config

import (
	"github.com/gen-studio/go-session-v2/pkg/util"
)

// Config 应用全局配置，字段名与 .env 变量一一对应。
type Config struct {
	// 生成后端 (HTTP 协作方 + WebSocket 通道)
	BackendBaseURL string `env:"BACKEND_BASE_URL" default:"http://127.0.0.1:8000"`
	BackendWSURL   string `env:"BACKEND_WS_URL" default:"ws://127.0.0.1:8000/ws"`
	HTTPTimeoutSec int    `env:"HTTP_TIMEOUT_SEC" default:"30" min:"1"`

	// WebSocket 通道
	WSHandshakeTimeoutSec int `env:"WS_HANDSHAKE_TIMEOUT_SEC" default:"5" min:"1"`
	WSReadIdleTimeoutSec  int `env:"WS_READ_IDLE_TIMEOUT_SEC" default:"120" min:"5"`
	WSWriteTimeoutSec     int `env:"WS_WRITE_TIMEOUT_SEC" default:"10" min:"1"`
	WSPingIntervalSec     int `env:"WS_PING_INTERVAL_SEC" default:"30" min:"5"`

	// 按需重连 (仅在断线时发送消息触发, 不做后台轮询重连)
	ReconnectBaseDelayMS int `env:"RECONNECT_BASE_DELAY_MS" default:"500" min:"0"`
	ReconnectMaxDelayMS  int `env:"RECONNECT_MAX_DELAY_MS" default:"8000" min:"100"`
	ReconnectMaxAttempts int `env:"RECONNECT_MAX_ATTEMPTS" default:"5" min:"1"`

	// Diff 引擎 (有界前瞻启发式, 见 internal/diff)
	DiffLookaheadWindow int `env:"DIFF_LOOKAHEAD_WINDOW" default:"5" min:"1"`
	DiffOutputCapFactor int `env:"DIFF_OUTPUT_CAP_FACTOR" default:"2" min:"1"`

	// 文件版本历史上限 (每个文件, 超出后淘汰最旧快照)
	FileHistoryMax int `env:"FILE_HISTORY_MAX" default:"50" min:"1"`

	// LLM 请求参数 (透传给生成后端)
	LLMModel       string  `env:"LLM_MODEL" default:"gpt-4o"`
	LLMTemperature float64 `env:"LLM_TEMPERATURE" default:"0.7" min:"0"`

	// 日志
	LogLevel string `env:"LOG_LEVEL" default:"INFO"`
	LogEnv   string `env:"LOG_ENV" default:"production"`
}

// Load 从环境变量加载配置 (通过反射读取 struct tag)。
func Load() *Config {
	var cfg Config
	util.LoadFromEnv(&cfg)
	return &cfg
}

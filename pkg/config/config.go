// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config 应用配置结构体
type Config struct {
	API        APIConfig        `mapstructure:"api"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Tokenizer  TokenizerConfig  `mapstructure:"tokenizer"`
	Secrets    SecretsConfig    `mapstructure:"secrets"`
	Log        LogConfig        `mapstructure:"log"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// EngineConfig 记忆引擎配置
type EngineConfig struct {
	Session   SessionConfig   `mapstructure:"session"`
	Write     WriteConfig     `mapstructure:"write"`
	Composer  ComposerConfig  `mapstructure:"composer"`
	Eviction  EvictionConfig  `mapstructure:"eviction"`
	Pinned    PinnedConfig    `mapstructure:"pinned"`
}

// SessionConfig Session 预算默认值（startSession 未显式给出时生效）
type SessionConfig struct {
	MaxTokens   int64  `mapstructure:"max_tokens"`   // 默认 token 预算，<=0 使用 8192
	MaxTime     string `mapstructure:"max_time"`     // 时间预算，如 "30s"，空则 30s
	MaxRetries  int    `mapstructure:"max_retries"`  // 重试预算，<0 使用 3
	MaxSubcalls int    `mapstructure:"max_subcalls"` // 子调用预算，<0 使用 5
}

// WriteConfig Session 写入分片配置（overlap 必须小于 window）
type WriteConfig struct {
	WindowTokens  int `mapstructure:"window_tokens"`  // 单 Span 窗口大小，<=0 使用 512
	OverlapTokens int `mapstructure:"overlap_tokens"` // 相邻窗口重叠，<=0 使用 64
}

// ComposerConfig 上下文窗口合成配置
type ComposerConfig struct {
	MaxTokens           int    `mapstructure:"max_tokens"`            // 上下文窗口上限，<=0 使用 8192
	ReservedForResponse int    `mapstructure:"reserved_for_response"` // 响应预留，<=0 使用 1024
	Separator           string `mapstructure:"separator"`             // 段落拼接分隔符，空则 "\n\n"
}

// EvictionConfig 驱逐引擎配置
type EvictionConfig struct {
	Policy           string  `mapstructure:"policy"`             // lru | lfu | fifo | weighted（默认 weighted）
	HalfLifeHours    float64 `mapstructure:"half_life_hours"`    // recency 半衰期，<=0 使用 24
	PressureRatio    float64 `mapstructure:"pressure_ratio"`     // 内存压力阈值（已用/上限），<=0 使用 0.9
	MaxPoolTokens    int64   `mapstructure:"max_pool_tokens"`    // 全池 token 上限，<=0 不设上限
	BatchSize        int     `mapstructure:"batch_size"`         // 单批删除条数，<=0 使用 256
}

// PinnedConfig Pin 预算配置
type PinnedConfig struct {
	DefaultBudgetTokens int64            `mapstructure:"default_budget_tokens"` // 默认每客户端 Pin 预算，<=0 使用 2000
	ClientBudgets       map[string]int64 `mapstructure:"client_budgets"`        // 按客户端覆盖
}

// StorageConfig 存储配置
type StorageConfig struct {
	Span  BackendConfig `mapstructure:"span"`
	Graph BackendConfig `mapstructure:"graph"`
	Entry BackendConfig `mapstructure:"entry"`
	Cache CacheConfig   `mapstructure:"cache"`
}

// BackendConfig 后端选择（memory 为内置内存；postgres 使用外部持久层）
type BackendConfig struct {
	Type     string `mapstructure:"type"` // memory | postgres
	DSN      string `mapstructure:"dsn"`  // Postgres 连接串，type=postgres 时必填
	PoolSize int    `mapstructure:"pool_size"`
}

// CacheConfig Span 内容缓存配置
type CacheConfig struct {
	Type     string `mapstructure:"type"` // memory | redis
	Addr     string `mapstructure:"addr"`
	DB       int    `mapstructure:"db"`
	Password string `mapstructure:"password"`
	TTL      string `mapstructure:"ttl"` // 缓存有效期，如 "10m"，空则不过期
}

// TokenizerConfig token 计数器配置
type TokenizerConfig struct {
	Type     string `mapstructure:"type"`     // heuristic | remote
	Endpoint string `mapstructure:"endpoint"` // remote 时的编码服务地址
	Timeout  string `mapstructure:"timeout"`  // remote 请求超时，如 "2s"
}

// SecretsConfig 密钥来源配置
type SecretsConfig struct {
	Type      string `mapstructure:"type"`       // env | vault | memory
	VaultAddr string `mapstructure:"vault_addr"` // type=vault 时必填
	VaultPath string `mapstructure:"vault_path"` // KV v2 挂载下的路径
}

// APIConfig API 服务配置
type APIConfig struct {
	Port       int              `mapstructure:"port"`
	Host       string           `mapstructure:"host"`
	Timeout    string           `mapstructure:"timeout"`
	CORS       CORSConfig       `mapstructure:"cors"`
	Middleware MiddlewareConfig `mapstructure:"middleware"`
}

// CORSConfig CORS 配置
type CORSConfig struct {
	Enable       bool     `mapstructure:"enable"`
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// MiddlewareConfig 中间件配置
type MiddlewareConfig struct {
	Auth          bool   `mapstructure:"auth"`
	RateLimit     bool   `mapstructure:"rate_limit"`
	RateLimitRPS  int    `mapstructure:"rate_limit_rps"`
	JWTKey        string `mapstructure:"jwt_key"`
	JWTTimeout    string `mapstructure:"jwt_timeout"`     // 如 "1h"
	JWTMaxRefresh string `mapstructure:"jwt_max_refresh"` // 如 "1h"
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// MonitoringConfig 监控配置
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

// PrometheusConfig Prometheus 配置
type PrometheusConfig struct {
	Enable bool `mapstructure:"enable"`
	Port   int  `mapstructure:"port"`
}

// TracingConfig 链路追踪配置（OpenTelemetry）
type TracingConfig struct {
	Enable         bool   `mapstructure:"enable"`
	ServiceName    string `mapstructure:"service_name"`
	ExportEndpoint string `mapstructure:"export_endpoint"`
	Insecure       bool   `mapstructure:"insecure"`
}

// LoadConfig 加载配置文件
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("无法读取配置文件: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("无法解析配置文件: %w", err)
	}
	return &config, nil
}

// LoadAPIConfig 加载 API 配置（configs/api.yaml）
func LoadAPIConfig() (*Config, error) {
	return LoadConfig("configs/api.yaml")
}

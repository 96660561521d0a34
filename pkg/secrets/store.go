// Copyright 2026 fanjia1024
// Secret management abstraction

package secrets

import (
	"context"
)

// Store Secret 存储接口（JWT 密钥、存储 DSN 等敏感配置的来源）
type Store interface {
	// Get 获取 secret 值
	Get(ctx context.Context, key string) (string, error)

	// Set 设置 secret 值
	Set(ctx context.Context, key string, value string) error

	// Delete 删除 secret
	Delete(ctx context.Context, key string) error
}

// Config Secret Store 配置
type Config struct {
	Provider string `yaml:"provider"` // vault | env | memory
	Address  string `yaml:"address"`  // vault 地址
	Token    string `yaml:"token"`    // vault token
	Path     string `yaml:"path"`     // vault 路径前缀
}

// NewStore 创建 Secret Store，未知 provider 回退到 env
func NewStore(config Config) (Store, error) {
	switch config.Provider {
	case "memory":
		return NewMemoryStore(), nil
	case "vault":
		return NewVaultStore(VaultConfig{
			Address:    config.Address,
			Token:      config.Token,
			PathPrefix: config.Path,
		})
	default:
		return NewEnvStore(), nil
	}
}

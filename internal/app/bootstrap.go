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

package app

import (
	"context"
	"fmt"
	"strings"

	"memory-engine/internal/engine"
	"memory-engine/pkg/config"
	"memory-engine/pkg/log"
	"memory-engine/pkg/secrets"
)

// secretRefPrefix 敏感配置的间接引用前缀："secret:<key>" 经 Secret Store 解析
const secretRefPrefix = "secret:"

// Bootstrap 统一初始化：供 api 与 cli 复用，避免在 cmd 内写装配逻辑
type Bootstrap struct {
	Config  *config.Config
	Logger  *log.Logger
	Engine  *engine.Engine
	Secrets secrets.Store
}

// NewBootstrap 根据配置创建 Bootstrap（日志 / 密钥 / 引擎）
func NewBootstrap(cfg *config.Config) (*Bootstrap, error) {
	logCfg := &log.Config{}
	if cfg != nil {
		logCfg.Level = cfg.Log.Level
		logCfg.Format = cfg.Log.Format
		logCfg.File = cfg.Log.File
	}
	logger, err := log.NewLogger(logCfg)
	if err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}

	var secretStore secrets.Store
	if cfg != nil {
		secretStore, err = secrets.NewStore(secrets.Config{
			Provider: cfg.Secrets.Type,
			Address:  cfg.Secrets.VaultAddr,
			Path:     cfg.Secrets.VaultPath,
		})
		if err != nil {
			return nil, fmt.Errorf("初始化密钥来源失败: %w", err)
		}
		// JWT 密钥、存储 DSN 等敏感值在引擎装配前解析到位
		if err := resolveSecretRefs(context.Background(), secretStore, cfg); err != nil {
			return nil, fmt.Errorf("解析 secret 引用失败: %w", err)
		}
	}

	engineCfg := cfg
	if engineCfg == nil {
		engineCfg = &config.Config{}
	}
	eng, err := engine.New(context.Background(), engineCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化记忆引擎失败: %w", err)
	}

	return &Bootstrap{
		Config:  cfg,
		Logger:  logger,
		Engine:  eng,
		Secrets: secretStore,
	}, nil
}

// resolveSecretRefs 把配置中的 secret 引用替换为实际值。
// 覆盖 JWT 签名密钥、各存储 DSN 与缓存口令；非引用值原样保留
func resolveSecretRefs(ctx context.Context, store secrets.Store, cfg *config.Config) error {
	refs := []*string{
		&cfg.API.Middleware.JWTKey,
		&cfg.Storage.Span.DSN,
		&cfg.Storage.Graph.DSN,
		&cfg.Storage.Entry.DSN,
		&cfg.Storage.Cache.Password,
	}
	for _, field := range refs {
		if !strings.HasPrefix(*field, secretRefPrefix) {
			continue
		}
		key := strings.TrimPrefix(*field, secretRefPrefix)
		value, err := store.Get(ctx, key)
		if err != nil {
			return fmt.Errorf("secret %q: %w", key, err)
		}
		*field = value
	}
	return nil
}

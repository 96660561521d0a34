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

package spanstore

import (
	"context"
	"fmt"

	"memory-engine/pkg/config"
)

// Store Span 存储抽象。所有查询都以 clientID 限定：跨客户端读取在接口层面不可表达
type Store interface {
	// Register 校验 hash 后写入。hash 不一致时仍落存（Flagged=true）并返回
	// IntegrityMismatchError，后续检索不可见
	Register(ctx context.Context, span Span, content []byte) error

	// Get 返回 Span 元数据；未知 id 返回 ErrSpanNotFound
	Get(ctx context.Context, clientID, id string) (*Span, error)

	// GetContent 纯查找：未知 id 返回空内容与 nil 错误；Flagged Span 返回
	// IntegrityMismatchError，绝不静默提供被污染内容
	GetContent(ctx context.Context, clientID, id string) ([]byte, error)

	// List 列出客户端全部可检索 Span（不含 Flagged）
	List(ctx context.Context, clientID string) ([]Span, error)

	// Delete 批量删除（驱逐或显式删除唯一入口）；未知 id 静默跳过
	Delete(ctx context.Context, clientID string, ids []string) error
}

// NewStore 根据配置创建 Span 存储
func NewStore(cfg config.BackendConfig) (Store, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryStore(), nil
	case "postgres":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("span store: postgres requires dsn")
		}
		return NewPostgresStore(context.Background(), cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported span store type: %s", cfg.Type)
	}
}

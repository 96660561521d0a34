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

package entry

import (
	"context"
	"fmt"

	"memory-engine/pkg/config"
)

// Store 记忆条目存储抽象
type Store interface {
	// Put 写入条目；ID 为空时分配。已存在同 id 则整体覆盖
	Put(ctx context.Context, e MemoryEntry) (*MemoryEntry, error)

	// Get 按 id 获取；未知 id 返回 ErrNotFound
	Get(ctx context.Context, clientID, id string) (*MemoryEntry, error)

	// Touch 记一次访问：AccessCount+1，LastAccessed 置当前时间
	Touch(ctx context.Context, clientID, id string) error

	// List 按筛选条件列出条目，创建时间升序；Filter 零值列出全池
	List(ctx context.Context, filter Filter) ([]MemoryEntry, error)

	// TokensUsed 按筛选条件统计 token 总量
	TokensUsed(ctx context.Context, filter Filter) (int64, error)

	// Delete 批量删除；未知 id 静默跳过
	Delete(ctx context.Context, clientID string, ids []string) error
}

// NewStore 根据配置创建条目存储
func NewStore(cfg config.BackendConfig) (Store, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryStore(), nil
	case "postgres":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("entry store: postgres requires dsn")
		}
		return NewPostgresStore(context.Background(), cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported entry store type: %s", cfg.Type)
	}
}

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

// Package pinned 永驻内容管理：按客户端预算约束 PINNED 条目总量，
// 按固定类别顺序生成注入上下文。
package pinned

import (
	"context"

	"memory-engine/internal/storage/entry"
	"memory-engine/pkg/config"
	"memory-engine/pkg/errors"
)

const defaultBudgetTokens = 2000

// Guard Pin 预算闸门：currentUsage + requested <= budget 才放行
type Guard struct {
	store         entry.Store
	defaultBudget int64
	overrides     map[string]int64
}

// NewGuard 创建预算闸门
func NewGuard(store entry.Store, cfg config.PinnedConfig) *Guard {
	g := &Guard{
		store:         store,
		defaultBudget: cfg.DefaultBudgetTokens,
		overrides:     cfg.ClientBudgets,
	}
	if g.defaultBudget <= 0 {
		g.defaultBudget = defaultBudgetTokens
	}
	return g
}

// Budget 客户端的 Pin 预算（覆盖优先，否则默认）
func (g *Guard) Budget(clientID string) int64 {
	if b, ok := g.overrides[clientID]; ok && b > 0 {
		return b
	}
	return g.defaultBudget
}

// Used 客户端当前 Pin 住的 token 总量
func (g *Guard) Used(ctx context.Context, clientID string) (int64, error) {
	p := entry.PriorityPinned
	return g.store.TokensUsed(ctx, entry.Filter{ClientID: clientID, Priority: &p})
}

// Validate 校验追加 tokens 后是否仍在预算内；拒绝时附带 used/remaining
func (g *Guard) Validate(ctx context.Context, clientID string, tokens int64) error {
	if tokens < 0 {
		return errors.Wrap(errors.ErrInvalidArg, "negative tokens")
	}
	used, err := g.Used(ctx, clientID)
	if err != nil {
		return errors.Wrap(err, "pinned usage")
	}
	budget := g.Budget(clientID)
	if used+tokens > budget {
		return &errors.PinnedBudgetExceededError{
			ClientID:  clientID,
			Requested: tokens,
			Used:      used,
			Budget:    budget,
		}
	}
	return nil
}

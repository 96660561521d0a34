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

package session

import (
	"math"
	"sync"
	"time"

	"memory-engine/pkg/errors"
)

// Budget Session 四维预算。零值字段由 Manager 注入默认值
type Budget struct {
	MaxTokens   int64         `json:"max_tokens"`
	MaxTime     time.Duration `json:"max_time"`
	MaxRetries  int64         `json:"max_retries"`
	MaxSubcalls int64         `json:"max_subcalls"`
}

// Usage 已用量快照
type Usage struct {
	Tokens   int64         `json:"tokens"`
	Retries  int64         `json:"retries"`
	Subcalls int64         `json:"subcalls"`
	Elapsed  time.Duration `json:"elapsed"`
}

// Ledger 预算账本。check-then-debit 在同一临界区内完成：
// 任一观察点都满足 used <= max，Remaining 永不为负
type Ledger struct {
	mu       sync.Mutex
	budget   Budget
	started  time.Time
	tokens   int64
	retries  int64
	subcalls int64
}

// NewLedger 创建账本，计时从 started 起算
func NewLedger(budget Budget, started time.Time) *Ledger {
	return &Ledger{budget: budget, started: started}
}

// Budget 返回预算上限
func (l *Ledger) Budget() Budget { return l.budget }

// CheckTokens 只校验不扣减：失败时账本不变
func (l *Ledger) CheckTokens(n int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.checkLocked(errors.BudgetTokens, n, l.tokens, l.budget.MaxTokens)
}

// DebitTokens 原子 check-then-debit
func (l *Ledger) DebitTokens(n int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkLocked(errors.BudgetTokens, n, l.tokens, l.budget.MaxTokens); err != nil {
		return err
	}
	l.tokens += n
	return nil
}

// DebitRetry 扣减一次重试
func (l *Ledger) DebitRetry() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkLocked(errors.BudgetRetries, 1, l.retries, l.budget.MaxRetries); err != nil {
		return err
	}
	l.retries++
	return nil
}

// DebitSubcall 扣减一次子调用
func (l *Ledger) DebitSubcall() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.checkLocked(errors.BudgetSubcalls, 1, l.subcalls, l.budget.MaxSubcalls); err != nil {
		return err
	}
	l.subcalls++
	return nil
}

func (l *Ledger) checkLocked(dim errors.BudgetDimension, requested, used, max int64) error {
	if requested < 0 {
		return errors.Wrap(errors.ErrInvalidArg, "negative debit")
	}
	if used+requested > max {
		return &errors.BudgetExhaustedError{
			Dimension: dim,
			Requested: requested,
			Remaining: max - used,
		}
	}
	return nil
}

// Elapsed 距 Session 启动的墙钟时间
func (l *Ledger) Elapsed() time.Duration {
	return time.Since(l.started)
}

// TimeExceeded 时间预算是否已耗尽
func (l *Ledger) TimeExceeded() bool {
	return l.Elapsed() > l.budget.MaxTime
}

// Snapshot 已用量快照
func (l *Ledger) Snapshot() Usage {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Usage{
		Tokens:   l.tokens,
		Retries:  l.retries,
		Subcalls: l.subcalls,
		Elapsed:  time.Since(l.started),
	}
}

// SubcallBudget 派生子预算：每一维为父剩余量 × fraction 向下取整，
// 以调用时刻为准；父账本不因派生而变化
func (l *Ledger) SubcallBudget(fraction float64) Budget {
	l.mu.Lock()
	defer l.mu.Unlock()
	remainingTime := l.budget.MaxTime - time.Since(l.started)
	if remainingTime < 0 {
		remainingTime = 0
	}
	return Budget{
		MaxTokens:   int64(math.Floor(float64(l.budget.MaxTokens-l.tokens) * fraction)),
		MaxTime:     time.Duration(math.Floor(float64(remainingTime) * fraction)),
		MaxRetries:  int64(math.Floor(float64(l.budget.MaxRetries-l.retries) * fraction)),
		MaxSubcalls: int64(math.Floor(float64(l.budget.MaxSubcalls-l.subcalls) * fraction)),
	}
}

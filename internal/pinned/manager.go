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

package pinned

import (
	"context"
	"strings"
	"sync"

	"memory-engine/internal/audit"
	"memory-engine/internal/storage/entry"
	"memory-engine/pkg/errors"
	"memory-engine/pkg/metrics"
	"memory-engine/pkg/tokenizer"
)

// 固定的 Pin 类别，注入顺序即声明顺序
const (
	CategoryBrandVoice       = "brand_voice"
	CategoryToneGuidelines   = "tone_guidelines"
	CategoryComplianceRules  = "compliance_rules"
	CategoryProhibitedTopics = "prohibited_topics"
	CategoryLegalDisclaimers = "legal_disclaimers"
)

// InjectionOrder 类别的固定注入顺序
var InjectionOrder = []string{
	CategoryBrandVoice,
	CategoryToneGuidelines,
	CategoryComplianceRules,
	CategoryProhibitedTopics,
	CategoryLegalDisclaimers,
}

// ValidCategory 判定是否为已知类别
func ValidCategory(category string) bool {
	for _, c := range InjectionOrder {
		if c == category {
			return true
		}
	}
	return false
}

// Usage 客户端 Pin 用量
type Usage struct {
	Used      int64 `json:"used"`
	Budget    int64 `json:"budget"`
	Remaining int64 `json:"remaining"`
	Entries   int   `json:"entries"`
}

// Manager 永驻内容管理器。Pin 的校验与写入串行化，预算不会被并发挤穿
type Manager struct {
	mu      sync.Mutex
	store   entry.Store
	guard   *Guard
	counter tokenizer.Counter
	bus     *audit.Bus
}

// NewManager 创建 Pin 管理器
func NewManager(store entry.Store, guard *Guard, counter tokenizer.Counter, bus *audit.Bus) *Manager {
	return &Manager{store: store, guard: guard, counter: counter, bus: bus}
}

// Guard 预算闸门访问
func (m *Manager) Guard() *Guard { return m.guard }

// Pin 永驻一段内容。类别必须是五个固定类别之一
func (m *Manager) Pin(ctx context.Context, clientID, category, content string) (*entry.MemoryEntry, error) {
	if clientID == "" {
		return nil, errors.Wrap(errors.ErrInvalidArg, "client id is required")
	}
	if !ValidCategory(category) {
		return nil, errors.Wrapf(errors.ErrInvalidArg, "unknown pinned category %q", category)
	}
	if strings.TrimSpace(content) == "" {
		return nil, errors.Wrap(errors.ErrInvalidArg, "empty content")
	}
	tokens := int64(m.counter.Count(content))

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.guard.Validate(ctx, clientID, tokens); err != nil {
		return nil, err
	}
	e, err := m.store.Put(ctx, entry.MemoryEntry{
		ClientID: clientID,
		Category: category,
		Content:  content,
		Tokens:   tokens,
		Priority: entry.PriorityPinned,
	})
	if err != nil {
		return nil, errors.Wrap(err, "store pinned entry")
	}

	used, _ := m.guard.Used(ctx, clientID)
	metrics.PinnedTokens.WithLabelValues(clientID).Set(float64(used))
	if m.bus != nil {
		m.bus.Publish(audit.Event{
			Type:     audit.EntryPinned,
			ClientID: clientID,
			EntryID:  e.ID,
			Category: category,
			Tokens:   tokens,
		})
	}
	return e, nil
}

// Unpin 解除永驻并释放预算；非 PINNED 条目拒绝
func (m *Manager) Unpin(ctx context.Context, clientID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.store.Get(ctx, clientID, id)
	if err != nil {
		return err
	}
	if e.Priority != entry.PriorityPinned {
		return errors.Wrapf(errors.ErrInvalidArg, "entry %s is not pinned", id)
	}
	if err := m.store.Delete(ctx, clientID, []string{id}); err != nil {
		return errors.Wrap(err, "delete pinned entry")
	}

	used, _ := m.guard.Used(ctx, clientID)
	metrics.PinnedTokens.WithLabelValues(clientID).Set(float64(used))
	if m.bus != nil {
		m.bus.Publish(audit.Event{
			Type:     audit.EntryUnpinned,
			ClientID: clientID,
			EntryID:  id,
			Category: e.Category,
			Tokens:   e.Tokens,
		})
	}
	return nil
}

// List 客户端全部 Pin 条目
func (m *Manager) List(ctx context.Context, clientID string) ([]entry.MemoryEntry, error) {
	p := entry.PriorityPinned
	return m.store.List(ctx, entry.Filter{ClientID: clientID, Priority: &p})
}

// GetUsage 客户端 Pin 用量与预算
func (m *Manager) GetUsage(ctx context.Context, clientID string) (*Usage, error) {
	entries, err := m.List(ctx, clientID)
	if err != nil {
		return nil, err
	}
	var used int64
	for _, e := range entries {
		used += e.Tokens
	}
	budget := m.guard.Budget(clientID)
	remaining := budget - used
	if remaining < 0 {
		remaining = 0
	}
	return &Usage{Used: used, Budget: budget, Remaining: remaining, Entries: len(entries)}, nil
}

// InjectionContext 生成注入文本：按固定类别顺序拼接，类别内按创建序。
// categories 非空时只取给定类别（顺序仍按固定序）
func (m *Manager) InjectionContext(ctx context.Context, clientID string, categories []string) (string, error) {
	entries, err := m.List(ctx, clientID)
	if err != nil {
		return "", err
	}
	wanted := func(category string) bool {
		if len(categories) == 0 {
			return true
		}
		for _, c := range categories {
			if c == category {
				return true
			}
		}
		return false
	}

	var parts []string
	for _, category := range InjectionOrder {
		if !wanted(category) {
			continue
		}
		for _, e := range entries { // List 已按创建序
			if e.Category == category {
				parts = append(parts, e.Content)
			}
		}
	}
	return strings.Join(parts, "\n\n"), nil
}

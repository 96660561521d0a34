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

// Package compositor 上下文窗口合成：在固定 token 上限内装配分段内容，
// 始终为模型响应预留额度。
package compositor

import (
	"sort"
	"strings"
	"sync"

	"memory-engine/pkg/config"
	"memory-engine/pkg/errors"
	"memory-engine/pkg/tokenizer"
)

const (
	defaultMaxTokens = 8192
	defaultReserved  = 1024
	defaultSeparator = "\n\n"
)

// Section 窗口中的一段内容
type Section struct {
	ID       string `json:"id"`
	Content  string `json:"content"`
	Priority int    `json:"priority"` // 越大越先输出、越后被挤出
	Tokens   int    `json:"tokens"`
	order    int    // 插入序，同优先级内保持稳定
}

// Metadata ComposeWithMetadata 的窗口账目
type Metadata struct {
	TotalTokens         int `json:"total_tokens"`
	SectionCount        int `json:"section_count"`
	Remaining           int `json:"remaining"`             // 可用额度余量（不含响应预留）
	ReservedForResponse int `json:"reserved_for_response"`
}

// Snapshot 窗口状态快照，用于投机合成的回滚
type Snapshot struct {
	sections map[string]Section
	nextOrd  int
}

// Compositor 上下文窗口合成器。budget = maxTokens - reservedForResponse
type Compositor struct {
	mu        sync.Mutex
	counter   tokenizer.Counter
	maxTokens int
	reserved  int
	separator string
	sections  map[string]Section
	nextOrd   int
}

// New 创建合成器；cfg 零值字段取默认
func New(counter tokenizer.Counter, cfg config.ComposerConfig) *Compositor {
	c := &Compositor{
		counter:   counter,
		maxTokens: cfg.MaxTokens,
		reserved:  cfg.ReservedForResponse,
		separator: cfg.Separator,
		sections:  make(map[string]Section),
	}
	if c.maxTokens <= 0 {
		c.maxTokens = defaultMaxTokens
	}
	if c.reserved <= 0 {
		c.reserved = defaultReserved
	}
	if c.separator == "" {
		c.separator = defaultSeparator
	}
	return c
}

// budget 分段可用的总额度
func (c *Compositor) budget() int {
	return c.maxTokens - c.reserved
}

func (c *Compositor) usedLocked() int {
	used := 0
	for _, s := range c.sections {
		used += s.Tokens
	}
	return used
}

// AddSection 放入一段内容；同 id 覆盖（按净差额记账）。超出额度时：
// evictLowerPriority 为真则从最低优先级起挤出严格更低优先级的段，
// 仍放不下就整体回滚并失败
func (c *Compositor) AddSection(id, content string, priority int, evictLowerPriority bool) error {
	if id == "" {
		return errors.Wrap(errors.ErrInvalidArg, "section id is required")
	}
	tokens := c.counter.Count(content)

	c.mu.Lock()
	defer c.mu.Unlock()

	used := c.usedLocked()
	if prev, ok := c.sections[id]; ok {
		used -= prev.Tokens
	}
	if used+tokens <= c.budget() {
		c.putLocked(id, content, priority, tokens)
		return nil
	}
	if !evictLowerPriority {
		return &errors.BudgetExhaustedError{
			Dimension: errors.BudgetTokens,
			Requested: int64(tokens),
			Remaining: int64(c.budget() - used),
		}
	}

	// 候选：严格更低优先级，最低的先挤出
	var victims []Section
	for vid, s := range c.sections {
		if vid != id && s.Priority < priority {
			victims = append(victims, s)
		}
	}
	sort.Slice(victims, func(i, j int) bool {
		if victims[i].Priority == victims[j].Priority {
			return victims[i].order < victims[j].order
		}
		return victims[i].Priority < victims[j].Priority
	})

	var removed []Section
	for _, v := range victims {
		if used+tokens <= c.budget() {
			break
		}
		delete(c.sections, v.ID)
		removed = append(removed, v)
		used -= v.Tokens
	}
	if used+tokens > c.budget() {
		for _, v := range removed { // 放不下：恢复被挤出的段
			c.sections[v.ID] = v
		}
		return &errors.BudgetExhaustedError{
			Dimension: errors.BudgetTokens,
			Requested: int64(tokens),
			Remaining: int64(c.budget() - c.usedLocked()),
		}
	}
	c.putLocked(id, content, priority, tokens)
	return nil
}

func (c *Compositor) putLocked(id, content string, priority, tokens int) {
	ord := c.nextOrd
	if prev, ok := c.sections[id]; ok {
		ord = prev.order // 覆盖保位
	} else {
		c.nextOrd++
	}
	c.sections[id] = Section{ID: id, Content: content, Priority: priority, Tokens: tokens, order: ord}
}

// RemoveSection 移除一段；未知 id 静默跳过
func (c *Compositor) RemoveSection(id string) {
	c.mu.Lock()
	delete(c.sections, id)
	c.mu.Unlock()
}

// Sections 当前分段（优先级降序）
func (c *Compositor) Sections() []Section {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.orderedLocked()
}

func (c *Compositor) orderedLocked() []Section {
	out := make([]Section, 0, len(c.sections))
	for _, s := range c.sections {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority == out[j].Priority {
			return out[i].order < out[j].order
		}
		return out[i].Priority > out[j].Priority
	})
	return out
}

// AllocateBudget 按比例划分可用额度；比例和 > 1.0 报错。响应预留不参与划分
func (c *Compositor) AllocateBudget(ratios map[string]float64) (map[string]int, error) {
	var sum float64
	for name, r := range ratios {
		if r < 0 {
			return nil, errors.Wrapf(errors.ErrInvalidArg, "negative ratio for %s", name)
		}
		sum += r
	}
	if sum > 1.0 {
		return nil, errors.Wrapf(errors.ErrInvalidArg, "ratios sum to %v > 1.0", sum)
	}
	out := make(map[string]int, len(ratios))
	for name, r := range ratios {
		out[name] = int(float64(c.budget()) * r)
	}
	return out, nil
}

// Compose 拼接窗口文本：优先级降序，同优先级按插入序
func (c *Compositor) Compose() string {
	text, _ := c.ComposeWithMetadata()
	return text
}

// ComposeWithMetadata 拼接并返回窗口账目
func (c *Compositor) ComposeWithMetadata() (string, Metadata) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ordered := c.orderedLocked()
	parts := make([]string, len(ordered))
	total := 0
	for i, s := range ordered {
		parts[i] = s.Content
		total += s.Tokens
	}
	meta := Metadata{
		TotalTokens:         total,
		SectionCount:        len(ordered),
		Remaining:           c.budget() - total,
		ReservedForResponse: c.reserved,
	}
	return strings.Join(parts, c.separator), meta
}

// Snapshot 捕获当前分段集合
func (c *Compositor) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := Snapshot{sections: make(map[string]Section, len(c.sections)), nextOrd: c.nextOrd}
	for id, s := range c.sections {
		snap.sections[id] = s
	}
	return snap
}

// Restore 整体回滚到快照状态
func (c *Compositor) Restore(snap Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sections = make(map[string]Section, len(snap.sections))
	for id, s := range snap.sections {
		c.sections[id] = s
	}
	c.nextOrd = snap.nextOrd
}

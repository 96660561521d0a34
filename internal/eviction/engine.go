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

// Package eviction 记忆池驱逐引擎：按保留层级从低到高、层内按策略打分挑选牺牲者。
// PINNED 永不驱逐；SESSION 仅在所属会话不活跃时可驱逐。
package eviction

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"memory-engine/internal/audit"
	"memory-engine/internal/storage/entry"
	"memory-engine/pkg/config"
	"memory-engine/pkg/errors"
	"memory-engine/pkg/metrics"
)

// Policy 层内牺牲者排序策略
type Policy string

const (
	PolicyLRU      Policy = "lru"
	PolicyLFU      Policy = "lfu"
	PolicyFIFO     Policy = "fifo"
	PolicyWeighted Policy = "weighted"
)

const (
	defaultHalfLife  = 24 * time.Hour
	defaultPressure  = 0.9
	defaultBatchSize = 256
)

// ActivityChecker 判定会话活跃性（session.Manager 实现）
type ActivityChecker interface {
	IsActive(sessionID string) bool
}

// Cascader 条目删除后的级联清理。池条目 id 与底层 Span 同名时，
// 驱逐需要同步删除 Span 内容与缓存（engine.Engine 实现）
type Cascader interface {
	DeleteSpans(ctx context.Context, clientID string, ids []string) error
}

// Request 一次驱逐请求；TargetTokens 与 TargetCount 至少给一个
type Request struct {
	TargetTokens int64  `json:"target_tokens,omitempty"`
	TargetCount  int    `json:"target_count,omitempty"`
	ClientID     string `json:"client_id,omitempty"` // 空则全池
}

// Skipped 被跳过的不可驱逐条目计数
type Skipped struct {
	Pinned        int `json:"pinned"`
	ActiveSession int `json:"active_session"`
}

// Result 驱逐结果。目标未达成不是错误，由 InsufficientEvictable 表达
type Result struct {
	EvictedIDs            []string `json:"evicted_ids"`
	EvictedTokens         int64    `json:"evicted_tokens"`
	Skipped               Skipped  `json:"skipped"`
	InsufficientEvictable bool     `json:"insufficient_evictable"`
}

// Engine 驱逐引擎。每个条目存储至多一趟驱逐在途（single-flight）：
// 并发调用拿不到锁直接返回空结果
type Engine struct {
	flight sync.Mutex

	store    entry.Store
	activity ActivityChecker
	bus      *audit.Bus
	cascade  Cascader

	// 幂等护栏：记录上一趟的请求与驱逐后的池签名，
	// 同参数且池未变化的重复调用不再驱逐
	lastReq  Request
	lastSig  poolSig
	haveLast bool

	policy        Policy
	halfLife      time.Duration
	pressureRatio float64
	maxPoolTokens int64
	batchSize     int
}

// NewEngine 创建驱逐引擎；cfg 零值字段取默认
func NewEngine(store entry.Store, activity ActivityChecker, bus *audit.Bus, cfg config.EvictionConfig) *Engine {
	e := &Engine{
		store:         store,
		activity:      activity,
		bus:           bus,
		policy:        Policy(cfg.Policy),
		halfLife:      time.Duration(cfg.HalfLifeHours * float64(time.Hour)),
		pressureRatio: cfg.PressureRatio,
		maxPoolTokens: cfg.MaxPoolTokens,
		batchSize:     cfg.BatchSize,
	}
	switch e.policy {
	case PolicyLRU, PolicyLFU, PolicyFIFO, PolicyWeighted:
	default:
		e.policy = PolicyWeighted
	}
	if e.halfLife <= 0 {
		e.halfLife = defaultHalfLife
	}
	if e.pressureRatio <= 0 || e.pressureRatio > 1 {
		e.pressureRatio = defaultPressure
	}
	if e.batchSize <= 0 {
		e.batchSize = defaultBatchSize
	}
	return e
}

// SetCascade 设置级联清理方；装配层在引擎组装完成后调用
func (e *Engine) SetCascade(c Cascader) {
	e.cascade = c
}

// poolSig 池快照签名。签名不变视为"无新写入且活跃性未变"
type poolSig struct {
	count          int
	tokens         int64
	newest         int64 // 最新 CreatedAt（UnixNano）
	activeSessions int
}

// poolSignature 计算签名；exclude 中的条目视为已离池
func poolSignature(entries []entry.MemoryEntry, exclude map[string]bool, activeSessions int) poolSig {
	sig := poolSig{activeSessions: activeSessions}
	for _, ent := range entries {
		if exclude[ent.ID] {
			continue
		}
		sig.count++
		sig.tokens += ent.Tokens
		if n := ent.CreatedAt.UnixNano(); n > sig.newest {
			sig.newest = n
		}
	}
	return sig
}

// Score 加权驱逐分：weight × recency(半衰期) × (log2(accessCount+1)+1)。
// 分低者先被驱逐：高频访问的旧条目得以胜过新来的一次性条目
func (e *Engine) Score(ent *entry.MemoryEntry, now time.Time) float64 {
	weight := ent.Weight
	if weight <= 0 {
		weight = 1
	}
	age := now.Sub(ent.LastAccessed)
	if age < 0 {
		age = 0
	}
	recency := math.Pow(0.5, float64(age)/float64(e.halfLife))
	access := math.Log2(float64(ent.AccessCount)+1) + 1
	return weight * recency * access
}

// Evict 执行一趟驱逐。并发在途时立即返回空结果（非错误）
func (e *Engine) Evict(ctx context.Context, req Request) (*Result, error) {
	if req.TargetTokens <= 0 && req.TargetCount <= 0 {
		return nil, errors.Wrap(errors.ErrInvalidArg, "either targetTokens or targetCount is required")
	}
	if !e.flight.TryLock() {
		return &Result{}, nil
	}
	defer e.flight.Unlock()
	return e.evictLocked(ctx, req)
}

func (e *Engine) evictLocked(ctx context.Context, req Request) (*Result, error) {
	entries, err := e.store.List(ctx, entry.Filter{ClientID: req.ClientID})
	if err != nil {
		return nil, errors.Wrap(err, "list entries")
	}

	now := time.Now()
	result := &Result{}
	buckets := map[entry.Priority][]entry.MemoryEntry{}
	for _, ent := range entries {
		switch ent.Priority {
		case entry.PriorityPinned:
			result.Skipped.Pinned++
		case entry.PrioritySession:
			if e.activity != nil && e.activity.IsActive(ent.SessionID) {
				result.Skipped.ActiveSession++
				continue
			}
			buckets[ent.Priority] = append(buckets[ent.Priority], ent)
		default:
			buckets[ent.Priority] = append(buckets[ent.Priority], ent)
		}
	}

	// 幂等：同参数且池签名未变（无新写入、会话活跃性未变）的重复调用不再驱逐
	sig := poolSignature(entries, nil, result.Skipped.ActiveSession)
	if e.haveLast && req == e.lastReq && sig == e.lastSig {
		return &Result{}, nil
	}

	var victims []entry.MemoryEntry
	for _, tier := range []entry.Priority{entry.PriorityEphemeral, entry.PrioritySliding, entry.PrioritySession} {
		if e.targetMet(result, req) {
			break
		}
		candidates := buckets[tier]
		e.orderByPolicy(candidates, now)
		for _, ent := range candidates {
			if e.targetMet(result, req) {
				break
			}
			victims = append(victims, ent)
			result.EvictedIDs = append(result.EvictedIDs, ent.ID)
			result.EvictedTokens += ent.Tokens
		}
	}
	result.InsufficientEvictable = !e.targetMet(result, req)

	// 按客户端分组、分批一次性删除
	byClient := map[string][]string{}
	for _, v := range victims {
		byClient[v.ClientID] = append(byClient[v.ClientID], v.ID)
	}
	for clientID, ids := range byClient {
		for start := 0; start < len(ids); start += e.batchSize {
			end := start + e.batchSize
			if end > len(ids) {
				end = len(ids)
			}
			if err := e.store.Delete(ctx, clientID, ids[start:end]); err != nil {
				return nil, errors.Wrapf(err, "delete batch for %s", clientID)
			}
		}
	}
	if e.cascade != nil {
		for clientID, ids := range byClient {
			if err := e.cascade.DeleteSpans(ctx, clientID, ids); err != nil {
				return nil, errors.Wrapf(err, "cascade delete for %s", clientID)
			}
		}
	}

	victimSet := make(map[string]bool, len(victims))
	for _, v := range victims {
		victimSet[v.ID] = true
	}
	e.lastReq = req
	e.lastSig = poolSignature(entries, victimSet, result.Skipped.ActiveSession)
	e.haveLast = true

	for _, v := range victims {
		metrics.EvictedEntriesTotal.WithLabelValues(v.Priority.String()).Inc()
		metrics.EvictedTokensTotal.Add(float64(v.Tokens))
		if e.bus != nil {
			e.bus.Publish(audit.Event{
				Type:     audit.EntryEvicted,
				ClientID: v.ClientID,
				EntryID:  v.ID,
				Priority: v.Priority.String(),
				Tokens:   v.Tokens,
				Score:    e.Score(&v, now),
				Reason:   "evict",
			})
		}
	}
	return result, nil
}

func (e *Engine) targetMet(r *Result, req Request) bool {
	if req.TargetTokens > 0 && r.EvictedTokens < req.TargetTokens {
		return false
	}
	if req.TargetCount > 0 && len(r.EvictedIDs) < req.TargetCount {
		return false
	}
	return true
}

// orderByPolicy 层内排序：先走的排前面
func (e *Engine) orderByPolicy(entries []entry.MemoryEntry, now time.Time) {
	switch e.policy {
	case PolicyLRU:
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].LastAccessed.Before(entries[j].LastAccessed)
		})
	case PolicyLFU:
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].AccessCount < entries[j].AccessCount
		})
	case PolicyFIFO:
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].CreatedAt.Before(entries[j].CreatedAt)
		})
	default:
		sort.Slice(entries, func(i, j int) bool {
			return e.Score(&entries[i], now) < e.Score(&entries[j], now)
		})
	}
}

// CheckPressure 池压力检查：已用超过 maxPoolTokens×pressureRatio 时
// 驱逐超出部分；未配置上限则不动作
func (e *Engine) CheckPressure(ctx context.Context) (*Result, error) {
	if e.maxPoolTokens <= 0 {
		return &Result{}, nil
	}
	used, err := e.store.TokensUsed(ctx, entry.Filter{})
	if err != nil {
		return nil, errors.Wrap(err, "pool usage")
	}
	threshold := int64(float64(e.maxPoolTokens) * e.pressureRatio)
	if used <= threshold {
		return &Result{}, nil
	}
	return e.Evict(ctx, Request{TargetTokens: used - threshold})
}

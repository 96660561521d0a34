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

// Package engine 记忆引擎门面：显式持有各组件实例并完成装配。
// 没有进程级单例，一个进程可以并存多个互相隔离的引擎（测试亦然）。
package engine

import (
	"context"
	"time"

	"memory-engine/internal/audit"
	"memory-engine/internal/compositor"
	"memory-engine/internal/eviction"
	"memory-engine/internal/pinned"
	"memory-engine/internal/refgraph"
	"memory-engine/internal/session"
	"memory-engine/internal/spanstore"
	"memory-engine/internal/storage/cache"
	"memory-engine/internal/storage/entry"
	"memory-engine/pkg/config"
	"memory-engine/pkg/errors"
	"memory-engine/pkg/log"
	"memory-engine/pkg/metrics"
	"memory-engine/pkg/tokenizer"
)

// Engine 装配完成的记忆引擎
type Engine struct {
	Spans    spanstore.Store
	Graph    refgraph.Graph
	Entries  entry.Store
	Cache    cache.Cache
	Sessions *session.Manager
	Evictor  *eviction.Engine
	Pinned   *pinned.Manager
	Bus      *audit.Bus
	Counter  tokenizer.Counter

	composerCfg config.ComposerConfig
	logger      *log.Logger
}

// New 按配置装配引擎
func New(ctx context.Context, cfg *config.Config, logger *log.Logger) (*Engine, error) {
	spans, err := spanstore.NewStore(cfg.Storage.Span)
	if err != nil {
		return nil, errors.Wrap(err, "span store")
	}
	entries, err := entry.NewStore(cfg.Storage.Entry)
	if err != nil {
		return nil, errors.Wrap(err, "entry store")
	}
	contentCache, err := cache.NewCache(ctx, cfg.Storage.Cache)
	if err != nil {
		return nil, errors.Wrap(err, "content cache")
	}
	counter := newCounter(cfg.Tokenizer)

	bus := audit.NewBus()
	if logger != nil {
		audit.AttachLogger(ctx, bus, logger)
	}

	graph, err := refgraph.NewGraph(cfg.Storage.Graph)
	if err != nil {
		return nil, errors.Wrap(err, "reference graph")
	}
	sessions := session.NewManager(session.Deps{
		Spans:   spans,
		Graph:   graph,
		Entries: entries,
		Counter: counter,
		Bus:     bus,
		Session: cfg.Engine.Session,
		Write:   cfg.Engine.Write,
	})
	guard := pinned.NewGuard(entries, cfg.Engine.Pinned)

	eng := &Engine{
		Spans:       spans,
		Graph:       graph,
		Entries:     entries,
		Cache:       contentCache,
		Sessions:    sessions,
		Evictor:     eviction.NewEngine(entries, sessions, bus, cfg.Engine.Eviction),
		Pinned:      pinned.NewManager(entries, guard, counter, bus),
		Bus:         bus,
		Counter:     counter,
		composerCfg: cfg.Engine.Composer,
		logger:      logger,
	}
	// 驱逐条目时级联删除同名 Span 与缓存
	eng.Evictor.SetCascade(eng)
	return eng, nil
}

func newCounter(cfg config.TokenizerConfig) tokenizer.Counter {
	if cfg.Type == "remote" && cfg.Endpoint != "" {
		timeout, _ := time.ParseDuration(cfg.Timeout)
		return tokenizer.NewRemote(cfg.Endpoint, timeout)
	}
	return tokenizer.NewHeuristic()
}

// NewCompositor 派生一个独立的上下文合成器（每次装配一个，互不共享状态）
func (e *Engine) NewCompositor() *compositor.Compositor {
	return compositor.New(e.Counter, e.composerCfg)
}

// RegisterSpan 注册 Span；hash 不一致时发布审计事件并计数，
// 错误原样返回（调用方据此决定是否重传）
func (e *Engine) RegisterSpan(ctx context.Context, span spanstore.Span, content []byte) error {
	err := e.Spans.Register(ctx, span, content)
	var mismatch *errors.IntegrityMismatchError
	if errors.As(err, &mismatch) {
		metrics.SpanIntegrityFailTotal.Inc()
		e.Bus.Publish(audit.Event{
			Type:     audit.SpanFlagged,
			ClientID: span.ClientID,
			SpanID:   span.ID,
			Reason:   mismatch.Error(),
		})
		return err
	}
	if err != nil {
		return err
	}
	// 直接注册的 Span 进池为 SLIDING 层条目，交由驱逐引擎治理
	tokens := int64(span.TokenEstimate)
	if tokens <= 0 {
		tokens = int64(e.Counter.Count(string(content)))
	}
	if _, err := e.Entries.Put(ctx, entry.MemoryEntry{
		ID:       span.ID,
		ClientID: span.ClientID,
		Tokens:   tokens,
		Priority: entry.PrioritySliding,
	}); err != nil {
		return errors.Wrap(err, "pool entry")
	}
	_ = e.Cache.Set(ctx, cacheKey(span.ClientID, span.ID), content)
	return nil
}

// GetSpanContent 读穿缓存的内容查找：命中直接返回，未命中回源并回填。
// 缓存故障只降级不报错
func (e *Engine) GetSpanContent(ctx context.Context, clientID, spanID string) ([]byte, error) {
	if data, ok, err := e.Cache.Get(ctx, cacheKey(clientID, spanID)); err == nil && ok {
		return data, nil
	}
	data, err := e.Spans.GetContent(ctx, clientID, spanID)
	if err != nil || data == nil {
		return data, err
	}
	_ = e.Cache.Set(ctx, cacheKey(clientID, spanID), data)
	return data, nil
}

// DeleteSpans 删除 Span、同名池条目并使缓存失效
func (e *Engine) DeleteSpans(ctx context.Context, clientID string, ids []string) error {
	if err := e.Spans.Delete(ctx, clientID, ids); err != nil {
		return err
	}
	if err := e.Entries.Delete(ctx, clientID, ids); err != nil {
		return err
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = cacheKey(clientID, id)
	}
	return e.Cache.Delete(ctx, keys...)
}

func cacheKey(clientID, spanID string) string {
	return clientID + ":" + spanID
}

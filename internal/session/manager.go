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
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"memory-engine/internal/audit"
	"memory-engine/internal/refgraph"
	"memory-engine/internal/spanstore"
	"memory-engine/internal/storage/entry"
	"memory-engine/pkg/config"
	"memory-engine/pkg/errors"
	"memory-engine/pkg/tokenizer"
)

// 预算与写入分片默认值（配置缺省时生效）
const (
	defaultMaxTokens   = 8192
	defaultMaxTime     = 30 * time.Second
	defaultMaxRetries  = 3
	defaultMaxSubcalls = 5
	defaultWindow      = 512
	defaultOverlap     = 64
)

// Deps Manager 的外部协作方。Entries 可为 nil（不维护驱逐池时）
type Deps struct {
	Spans   spanstore.Store
	Graph   refgraph.Graph
	Entries entry.Store
	Counter tokenizer.Counter
	Scorer  Scorer
	Bus     *audit.Bus
	Session config.SessionConfig
	Write   config.WriteConfig
}

// Manager 会话管理器：创建、查找、登记子会话，供驱逐引擎判定会话活跃性
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	deps     Deps
	defaults Budget
	window   int
	overlap  int
}

// NewManager 创建会话管理器
func NewManager(deps Deps) *Manager {
	if deps.Scorer == nil {
		deps.Scorer = LexicalScorer{}
	}
	m := &Manager{
		sessions: make(map[string]*Session),
		deps:     deps,
		window:   deps.Write.WindowTokens,
		overlap:  deps.Write.OverlapTokens,
	}
	if m.window <= 0 {
		m.window = defaultWindow
	}
	if m.overlap <= 0 || m.overlap >= m.window {
		m.overlap = defaultOverlap
	}
	m.defaults = Budget{
		MaxTokens:   deps.Session.MaxTokens,
		MaxRetries:  int64(deps.Session.MaxRetries),
		MaxSubcalls: int64(deps.Session.MaxSubcalls),
	}
	if m.defaults.MaxTokens <= 0 {
		m.defaults.MaxTokens = defaultMaxTokens
	}
	if m.defaults.MaxRetries < 0 {
		m.defaults.MaxRetries = defaultMaxRetries
	}
	if m.defaults.MaxSubcalls < 0 {
		m.defaults.MaxSubcalls = defaultMaxSubcalls
	}
	m.defaults.MaxTime = defaultMaxTime
	if deps.Session.MaxTime != "" {
		if d, err := time.ParseDuration(deps.Session.MaxTime); err == nil && d > 0 {
			m.defaults.MaxTime = d
		}
	}
	return m
}

// Start 启动会话；budget 的零值维度取默认预算
func (m *Manager) Start(ctx context.Context, clientID string, budget Budget) (*Session, error) {
	if clientID == "" {
		return nil, errors.Wrap(errors.ErrInvalidArg, "client id is required")
	}
	if budget.MaxTokens <= 0 {
		budget.MaxTokens = m.defaults.MaxTokens
	}
	if budget.MaxTime <= 0 {
		budget.MaxTime = m.defaults.MaxTime
	}
	if budget.MaxRetries <= 0 {
		budget.MaxRetries = m.defaults.MaxRetries
	}
	if budget.MaxSubcalls <= 0 {
		budget.MaxSubcalls = m.defaults.MaxSubcalls
	}

	s := &Session{
		id:            "sess-" + uuid.New().String(),
		clientID:      clientID,
		startedAt:     time.Now(),
		state:         StateActive,
		spans:         m.deps.Spans,
		graph:         m.deps.Graph,
		entries:       m.deps.Entries,
		counter:       m.deps.Counter,
		scorer:        m.deps.Scorer,
		bus:           m.deps.Bus,
		mgr:           m,
		windowTokens:  m.window,
		overlapTokens: m.overlap,
	}
	s.ledger = NewLedger(budget, s.startedAt)
	m.register(s)
	return s, nil
}

// Get 按 id 查找会话
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, errors.ErrSessionNotFound
	}
	return s, nil
}

// End 结束会话并返回统计；未知 id 返回 ErrSessionNotFound
func (m *Manager) End(ctx context.Context, id string, outcome Outcome) (*Stats, error) {
	s, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.End(outcome), nil
}

// IsActive 会话是否仍为非终态（驱逐引擎判定 SESSION 层条目可驱逐性用）。
// 时间预算已耗尽的会话视为不活跃，即便没有任何操作触发过状态迁移
func (m *Manager) IsActive(sessionID string) bool {
	m.mu.RLock()
	s, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return false
	}
	return s.Active()
}

func (m *Manager) register(s *Session) {
	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()
}

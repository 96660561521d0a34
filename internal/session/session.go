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

// Package session 带预算的记忆访问会话。所有读写经由 Session 进出外部记忆，
// 账本扣减与状态迁移串行化在 Session 内部。
package session

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"memory-engine/internal/audit"
	"memory-engine/internal/refgraph"
	"memory-engine/internal/spanstore"
	"memory-engine/internal/storage/entry"
	"memory-engine/pkg/errors"
	"memory-engine/pkg/tokenizer"
)

// State Session 状态。active 为唯一非终态
type State string

const (
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateTimeout   State = "timeout"
)

// Outcome End 的结束方式
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeTimeout   Outcome = "timeout"
)

// Filters Retrieve 的可选过滤条件；零值字段不过滤
type Filters struct {
	SourceType spanstore.SourceType `json:"source_type,omitempty"`
	SourceID   string               `json:"source_id,omitempty"`
}

// RetrievedSpan 单条检索结果
type RetrievedSpan struct {
	Span    spanstore.Span `json:"span"`
	Content string         `json:"content"`
	Score   float64        `json:"score"`
}

// RetrieveResult 检索结果；HasMore 表示还有相关内容未纳入预算
type RetrieveResult struct {
	Spans      []RetrievedSpan `json:"spans"`
	TokensUsed int64           `json:"tokens_used"`
	HasMore    bool            `json:"has_more"`
}

// Stats End 返回的聚合用量
type Stats struct {
	SessionID string    `json:"session_id"`
	ClientID  string    `json:"client_id"`
	State     State     `json:"state"`
	Budget    Budget    `json:"budget"`
	Usage     Usage     `json:"usage"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

// Session 带预算的记忆访问会话。终态后一切变更操作 fail closed
type Session struct {
	id        string
	clientID  string
	agentType string
	startedAt time.Time

	mu      sync.Mutex
	state   State
	endedAt time.Time

	ledger  *Ledger
	spans   spanstore.Store
	graph   refgraph.Graph
	entries entry.Store
	counter tokenizer.Counter
	scorer  Scorer
	bus     *audit.Bus
	mgr     *Manager

	windowTokens  int
	overlapTokens int
}

// ID Session 标识
func (s *Session) ID() string { return s.id }

// ClientID 所属客户端
func (s *Session) ClientID() string { return s.clientID }

// State 当前状态
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Ledger 账本只读访问（快照经由 Snapshot）
func (s *Session) Ledger() *Ledger { return s.ledger }

// Active 会话是否可操作。时间预算耗尽的被弃置会话在此就地转入 timeout 终态，
// 不依赖下一次操作触发：驱逐引擎据此判定 SESSION 层条目的可驱逐性
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateActive && s.ledger.TimeExceeded() {
		s.state = StateTimeout
		s.endedAt = time.Now()
	}
	return s.state == StateActive
}

// ensureActive 校验可操作性。时间预算耗尽时就地转入 timeout 终态，
// 本次及后续操作一律返回预算错误
func (s *Session) ensureActive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateActive:
		if s.ledger.TimeExceeded() {
			s.state = StateTimeout
			s.endedAt = time.Now()
			return &errors.BudgetExhaustedError{Dimension: errors.BudgetTime}
		}
		return nil
	case StateTimeout:
		return errors.ErrSessionTimeout
	default:
		return errors.ErrSessionClosed
	}
}

// Retrieve 预算内检索：先验校验 token 预算（失败不动账本），
// 按相关性降序装填至 maxTokens，扣减实际用量
func (s *Session) Retrieve(ctx context.Context, query string, maxTokens int64, filters Filters) (result *RetrieveResult, err error) {
	defer s.emitAccess("retrieve", time.Now(), &result, &err)

	if err = s.ensureActive(); err != nil {
		return nil, err
	}
	if maxTokens <= 0 {
		return nil, errors.Wrap(errors.ErrInvalidArg, "maxTokens must be positive")
	}
	if err = s.ledger.CheckTokens(maxTokens); err != nil {
		return nil, err
	}

	spans, err := s.spans.List(ctx, s.clientID)
	if err != nil {
		return nil, errors.Wrap(err, "list spans")
	}

	type candidate struct {
		span    spanstore.Span
		content string
		tokens  int64
		score   float64
	}
	var candidates []candidate
	for _, span := range spans {
		if filters.SourceType != "" && span.SourceType != filters.SourceType {
			continue
		}
		if filters.SourceID != "" && span.SourceID != filters.SourceID {
			continue
		}
		content, err := s.spans.GetContent(ctx, s.clientID, span.ID)
		if err != nil || content == nil {
			continue // Flagged 或已被驱逐的内容不参与检索
		}
		score := s.scorer.Score(query, string(content))
		if score <= 0 {
			continue
		}
		candidates = append(candidates, candidate{
			span:    span,
			content: string(content),
			tokens:  int64(s.counter.Count(string(content))),
			score:   score,
		})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	result = &RetrieveResult{}
	for _, c := range candidates {
		if result.TokensUsed+c.tokens > maxTokens {
			result.HasMore = true
			continue
		}
		result.Spans = append(result.Spans, RetrievedSpan{Span: c.span, Content: c.content, Score: c.score})
		result.TokensUsed += c.tokens
	}

	if err = s.ledger.DebitTokens(result.TokensUsed); err != nil {
		return nil, err
	}
	if s.entries != nil {
		for _, rs := range result.Spans {
			_ = s.entries.Touch(ctx, s.clientID, rs.Span.ID) // 池外注册的 Span 无条目，忽略
		}
	}
	return result, nil
}

// Peek 同路径查找但绝不扣减预算，用于决策"要不要取"
func (s *Session) Peek(ctx context.Context, spanID string) (content []byte, err error) {
	start := time.Now()
	defer func() { s.emit("peek", start, 0, err) }()

	if err = s.ensureActive(); err != nil {
		return nil, err
	}
	content, err = s.spans.GetContent(ctx, s.clientID, spanID)
	if err == nil && content != nil && s.entries != nil {
		_ = s.entries.Touch(ctx, s.clientID, spanID)
	}
	return content, err
}

// Write 把内容写入外部记忆：固定大小重叠窗口（W token 窗口、O token 重叠），
// 每窗口注册一个 Span 并建一条指向它的引用
func (s *Session) Write(ctx context.Context, content string, sourceType spanstore.SourceType) (spans []spanstore.Span, err error) {
	start := time.Now()
	defer func() {
		var total int64
		for _, sp := range spans {
			total += int64(sp.TokenEstimate)
		}
		s.emit("write", start, total, err)
	}()

	if err = s.ensureActive(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(content) == "" {
		return nil, errors.Wrap(errors.ErrInvalidArg, "empty content")
	}
	if sourceType == "" {
		sourceType = spanstore.SourceSessionWrite
	}

	for _, w := range splitWindows(content, s.counter, s.windowTokens, s.overlapTokens) {
		data := []byte(content[w.start:w.end])
		span := spanstore.Span{
			ID:            "span-" + uuid.New().String(),
			ClientID:      s.clientID,
			SourceType:    sourceType,
			SourceID:      s.id,
			StartByte:     int64(w.start),
			EndByte:       int64(w.end),
			ContentHash:   spanstore.ComputeHash(data),
			TokenEstimate: w.tokens,
		}
		if err = s.spans.Register(ctx, span, data); err != nil {
			return spans, errors.Wrapf(err, "register window [%d,%d)", w.start, w.end)
		}
		if _, err = s.graph.Create(ctx, refgraph.Reference{
			ClientID: s.clientID,
			Type:     refgraph.RefSpan,
			TargetID: span.ID,
			SpanRef: &refgraph.SpanPointer{
				SpanID:        span.ID,
				StartByte:     span.StartByte,
				EndByte:       span.EndByte,
				TokenEstimate: span.TokenEstimate,
			},
		}); err != nil {
			return spans, errors.Wrap(err, "create reference")
		}
		// 窗口同步进池为 SESSION 层条目（id 与 Span 同名，驱逐时级联删除 Span）
		if s.entries != nil {
			if _, err = s.entries.Put(ctx, entry.MemoryEntry{
				ID:        span.ID,
				ClientID:  s.clientID,
				SessionID: s.id,
				Tokens:    int64(w.tokens),
				Priority:  entry.PrioritySession,
			}); err != nil {
				return spans, errors.Wrap(err, "pool entry")
			}
		}
		spans = append(spans, span)
	}
	return spans, nil
}

// Subcall 派生子会话：每一维子预算 = floor(父剩余 × fraction)，以调用时刻为准；
// 父账本只扣子调用计数，token 在子会话消费时才消耗
func (s *Session) Subcall(ctx context.Context, agentType string, fraction float64) (child *Session, err error) {
	start := time.Now()
	defer func() { s.emit("subcall", start, 0, err) }()

	if err = s.ensureActive(); err != nil {
		return nil, err
	}
	if fraction <= 0 || fraction > 1 {
		return nil, errors.Wrapf(errors.ErrInvalidArg, "fraction %v out of (0,1]", fraction)
	}
	if err = s.ledger.DebitSubcall(); err != nil {
		return nil, err
	}

	budget := s.ledger.SubcallBudget(fraction)
	child = &Session{
		id:            "sess-" + uuid.New().String(),
		clientID:      s.clientID,
		agentType:     agentType,
		startedAt:     time.Now(),
		state:         StateActive,
		spans:         s.spans,
		graph:         s.graph,
		entries:       s.entries,
		counter:       s.counter,
		scorer:        s.scorer,
		bus:           s.bus,
		mgr:           s.mgr,
		windowTokens:  s.windowTokens,
		overlapTokens: s.overlapTokens,
	}
	child.ledger = NewLedger(budget, child.startedAt)
	if s.mgr != nil {
		s.mgr.register(child)
	}
	return child, nil
}

// RecordRetry 扣减一次重试预算
func (s *Session) RecordRetry() (err error) {
	start := time.Now()
	defer func() { s.emit("retry", start, 0, err) }()

	if err = s.ensureActive(); err != nil {
		return err
	}
	return s.ledger.DebitRetry()
}

// End 结束会话。幂等终止：已终止的会话直接返回既有统计，状态不再变化
func (s *Session) End(outcome Outcome) *Stats {
	start := time.Now()

	s.mu.Lock()
	if s.state == StateActive {
		switch outcome {
		case OutcomeFailed:
			s.state = StateFailed
		case OutcomeTimeout:
			s.state = StateTimeout
		default:
			s.state = StateCompleted
		}
		s.endedAt = time.Now()
	}
	stats := &Stats{
		SessionID: s.id,
		ClientID:  s.clientID,
		State:     s.state,
		Budget:    s.ledger.Budget(),
		Usage:     s.ledger.Snapshot(),
		StartedAt: s.startedAt,
		EndedAt:   s.endedAt,
	}
	s.mu.Unlock()

	s.emit("end", start, stats.Usage.Tokens, nil)
	return stats
}

// window 写入分片的字节区间与 token 估计
type window struct {
	start  int
	end    int
	tokens int
}

// splitWindows 按词切分并贪心装填：每窗口约 windowTokens 个 token，
// 相邻窗口尾部保留约 overlapTokens 个 token 的重叠
func splitWindows(content string, counter tokenizer.Counter, windowTokens, overlapTokens int) []window {
	type wordSpan struct {
		start, end, tokens int
	}
	var words []wordSpan
	inWord := false
	wordStart := 0
	for i, r := range content {
		isSpace := r == ' ' || r == '\t' || r == '\n' || r == '\r'
		if !isSpace && !inWord {
			inWord = true
			wordStart = i
		}
		if isSpace && inWord {
			inWord = false
			words = append(words, wordSpan{wordStart, i, counter.Count(content[wordStart:i])})
		}
	}
	if inWord {
		words = append(words, wordSpan{wordStart, len(content), counter.Count(content[wordStart:])})
	}
	if len(words) == 0 {
		return nil
	}

	var out []window
	i := 0
	for i < len(words) {
		tokens := 0
		j := i
		for j < len(words) {
			if tokens > 0 && tokens+words[j].tokens > windowTokens {
				break
			}
			tokens += words[j].tokens
			j++
		}
		out = append(out, window{start: words[i].start, end: words[j-1].end, tokens: tokens})
		if j >= len(words) {
			break
		}
		// 下一窗口回退覆盖约 overlapTokens 的尾部
		back := j
		overlap := 0
		for back > i+1 && overlap+words[back-1].tokens <= overlapTokens {
			back--
			overlap += words[back].tokens
		}
		i = back
	}
	return out
}

// emitAccess Retrieve 专用：从结果取 token 数
func (s *Session) emitAccess(op string, start time.Time, result **RetrieveResult, err *error) {
	var tokens int64
	if result != nil && *result != nil {
		tokens = (*result).TokensUsed
	}
	s.emit(op, start, tokens, *err)
}

// emit 每次操作一条访问日志事件
func (s *Session) emit(op string, start time.Time, tokens int64, err error) {
	if s.bus == nil {
		return
	}
	e := audit.Event{
		Type:      audit.AccessLog,
		ClientID:  s.clientID,
		SessionID: s.id,
		Operation: op,
		Tokens:    tokens,
		Duration:  time.Since(start),
	}
	if err != nil {
		e.Err = err.Error()
	}
	s.bus.Publish(e)
}

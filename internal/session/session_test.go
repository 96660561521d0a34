package session

import (
	"context"
	"testing"
	"time"

	"memory-engine/internal/audit"
	"memory-engine/internal/refgraph"
	"memory-engine/internal/spanstore"
	"memory-engine/internal/storage/entry"
	"memory-engine/pkg/errors"
	"memory-engine/pkg/tokenizer"
)

func newTestManager(t *testing.T) (*Manager, spanstore.Store) {
	t.Helper()
	spans := spanstore.NewMemoryStore()
	return NewManager(Deps{
		Spans:   spans,
		Graph:   refgraph.NewMemoryGraph(),
		Counter: tokenizer.NewHeuristic(),
		Bus:     audit.NewBus(),
	}), spans
}

func newTestManagerWithPool(t *testing.T) (*Manager, spanstore.Store, entry.Store) {
	t.Helper()
	spans := spanstore.NewMemoryStore()
	pool := entry.NewMemoryStore()
	return NewManager(Deps{
		Spans:   spans,
		Graph:   refgraph.NewMemoryGraph(),
		Entries: pool,
		Counter: tokenizer.NewHeuristic(),
		Bus:     audit.NewBus(),
	}), spans, pool
}

func registerSpan(t *testing.T, store spanstore.Store, id, clientID, content string) {
	t.Helper()
	data := []byte(content)
	err := store.Register(context.Background(), spanstore.Span{
		ID:            id,
		ClientID:      clientID,
		SourceType:    spanstore.SourceDocument,
		SourceID:      "doc-1",
		StartByte:     0,
		EndByte:       int64(len(data)),
		ContentHash:   spanstore.ComputeHash(data),
		TokenEstimate: len(data) / 4,
	}, data)
	if err != nil {
		t.Fatalf("register span %s: %v", id, err)
	}
}

func TestSession_RetrieveDebitsActualUsage(t *testing.T) {
	ctx := context.Background()
	m, spans := newTestManager(t)
	registerSpan(t, spans, "span-1", "client-a", "shipping policy returns accepted within thirty days")
	registerSpan(t, spans, "span-2", "client-a", "unrelated text about gardening and flower beds")

	s, err := m.Start(ctx, "client-a", Budget{MaxTokens: 1000, MaxTime: time.Minute})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	res, err := s.Retrieve(ctx, "shipping policy returns", 500, Filters{})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(res.Spans) == 0 || res.Spans[0].Span.ID != "span-1" {
		t.Fatalf("most relevant span should rank first: %+v", res.Spans)
	}
	if res.TokensUsed <= 0 {
		t.Fatalf("TokensUsed = %d", res.TokensUsed)
	}
	if got := s.Ledger().Snapshot().Tokens; got != res.TokensUsed {
		t.Errorf("ledger debit %d != reported usage %d", got, res.TokensUsed)
	}
}

// 预算 100 的会话请求 500 token 的检索：拒绝且账本不动
func TestSession_RetrieveOverBudgetRejectedWithoutDebit(t *testing.T) {
	ctx := context.Background()
	m, spans := newTestManager(t)
	registerSpan(t, spans, "span-1", "client-a", "some stored content")

	s, _ := m.Start(ctx, "client-a", Budget{MaxTokens: 100, MaxTime: time.Minute})
	_, err := s.Retrieve(ctx, "content", 500, Filters{})
	if !errors.IsBudgetExhausted(err) {
		t.Fatalf("expected budget rejection, got %v", err)
	}
	if got := s.Ledger().Snapshot().Tokens; got != 0 {
		t.Fatalf("rejected retrieve must not debit: tokens = %d", got)
	}
}

func TestSession_RetrieveHasMore(t *testing.T) {
	ctx := context.Background()
	m, spans := newTestManager(t)
	registerSpan(t, spans, "span-1", "client-a", "alpha alpha alpha alpha alpha alpha alpha alpha alpha alpha")
	registerSpan(t, spans, "span-2", "client-a", "alpha beta beta beta beta beta beta beta beta beta beta beta")

	s, _ := m.Start(ctx, "client-a", Budget{MaxTokens: 1000, MaxTime: time.Minute})
	res, err := s.Retrieve(ctx, "alpha", 20, Filters{})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(res.Spans) != 1 || !res.HasMore {
		t.Fatalf("expected one span under budget with hasMore: %+v", res)
	}
	if res.TokensUsed > 20 {
		t.Fatalf("usage %d exceeds requested cap", res.TokensUsed)
	}
}

func TestSession_PeekNeverDebits(t *testing.T) {
	ctx := context.Background()
	m, spans := newTestManager(t)
	registerSpan(t, spans, "span-1", "client-a", "peekable content")

	s, _ := m.Start(ctx, "client-a", Budget{MaxTokens: 100, MaxTime: time.Minute})
	content, err := s.Peek(ctx, "span-1")
	if err != nil || string(content) != "peekable content" {
		t.Fatalf("Peek: %q, %v", content, err)
	}
	if got := s.Ledger().Snapshot().Tokens; got != 0 {
		t.Fatalf("Peek debited the ledger: %d", got)
	}
	// 未知 id：空内容，非错误
	if content, err := s.Peek(ctx, "ghost"); err != nil || content != nil {
		t.Fatalf("unknown span peek: %q, %v", content, err)
	}
}

func TestSession_WriteSplitsOverlappingWindows(t *testing.T) {
	ctx := context.Background()
	m, store := newTestManager(t)
	m.window = 20
	m.overlap = 5

	s, _ := m.Start(ctx, "client-a", Budget{MaxTokens: 1000, MaxTime: time.Minute})
	content := "one two three four five six seven eight nine ten eleven twelve thirteen fourteen fifteen " +
		"sixteen seventeen eighteen nineteen twenty twentyone twentytwo twentythree twentyfour twentyfive"
	spans, err := s.Write(ctx, content, "")
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if len(spans) < 2 {
		t.Fatalf("long content should split into multiple windows, got %d", len(spans))
	}
	for i, sp := range spans {
		if sp.SourceType != spanstore.SourceSessionWrite || sp.SourceID != s.ID() {
			t.Errorf("span %d provenance mismatch: %+v", i, sp)
		}
		if i > 0 && spans[i].StartByte >= spans[i-1].EndByte {
			t.Errorf("windows %d and %d do not overlap", i-1, i)
		}
		// 注册内容可原样取回
		data, err := store.GetContent(ctx, "client-a", sp.ID)
		if err != nil || string(data) != content[sp.StartByte:sp.EndByte] {
			t.Errorf("window %d content mismatch: %v", i, err)
		}
	}
}

// 父剩余 1000 token 的会话以 fraction=0.5 派生：子预算 500，父账本不动
func TestSession_SubcallInheritsFractionOfRemaining(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	s, _ := m.Start(ctx, "client-a", Budget{MaxTokens: 1000, MaxTime: time.Minute, MaxSubcalls: 3})

	child, err := s.Subcall(ctx, "summarizer", 0.5)
	if err != nil {
		t.Fatalf("Subcall: %v", err)
	}
	if got := child.Ledger().Budget().MaxTokens; got != 500 {
		t.Errorf("child MaxTokens = %d, want 500", got)
	}
	if got := s.Ledger().Snapshot().Tokens; got != 0 {
		t.Errorf("parent token ledger changed by subcall: %d", got)
	}
	if got := s.Ledger().Snapshot().Subcalls; got != 1 {
		t.Errorf("subcall count = %d, want 1", got)
	}
	// 子会话登记在管理器中
	if !m.IsActive(child.ID()) {
		t.Errorf("child session not registered as active")
	}
}

func TestSession_SubcallBudgetExhaustion(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	s, _ := m.Start(ctx, "client-a", Budget{MaxTokens: 100, MaxTime: time.Minute, MaxSubcalls: 1})

	if _, err := s.Subcall(ctx, "a", 0.5); err != nil {
		t.Fatalf("first subcall: %v", err)
	}
	if _, err := s.Subcall(ctx, "b", 0.5); !errors.IsBudgetExhausted(err) {
		t.Fatalf("expected subcall exhaustion, got %v", err)
	}
	if _, err := s.Subcall(ctx, "c", 1.5); !errors.Is(err, errors.ErrInvalidArg) {
		t.Fatalf("fraction > 1 must be rejected, got %v", err)
	}
}

func TestSession_EndIsIdempotentTerminal(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	s, _ := m.Start(ctx, "client-a", Budget{MaxTokens: 100, MaxTime: time.Minute})

	stats := s.End(OutcomeCompleted)
	if stats.State != StateCompleted || stats.EndedAt.IsZero() {
		t.Fatalf("End stats malformed: %+v", stats)
	}

	// 再次 End：状态不变，统计仍返回
	again := s.End(OutcomeFailed)
	if again.State != StateCompleted {
		t.Fatalf("End must be idempotent, state flipped to %s", again.State)
	}

	// 终态后操作 fail closed
	if _, err := s.Retrieve(ctx, "q", 10, Filters{}); !errors.Is(err, errors.ErrSessionClosed) {
		t.Fatalf("retrieve after end: %v", err)
	}
	if _, err := s.Write(ctx, "content", ""); !errors.Is(err, errors.ErrSessionClosed) {
		t.Fatalf("write after end: %v", err)
	}
	if m.IsActive(s.ID()) {
		t.Fatal("ended session still reported active")
	}
}

func TestSession_TimeBudgetTimeout(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	s, _ := m.Start(ctx, "client-a", Budget{MaxTokens: 100, MaxTime: 5 * time.Millisecond})

	time.Sleep(10 * time.Millisecond)
	_, err := s.Retrieve(ctx, "q", 10, Filters{})
	var be *errors.BudgetExhaustedError
	if !errors.As(err, &be) || be.Dimension != errors.BudgetTime {
		t.Fatalf("expected time budget error, got %v", err)
	}
	if s.State() != StateTimeout {
		t.Fatalf("session should be in timeout state, got %s", s.State())
	}
	// 后续操作一律拒绝
	if _, err := s.Peek(ctx, "span-1"); !errors.Is(err, errors.ErrSessionTimeout) {
		t.Fatalf("post-timeout peek: %v", err)
	}
}

// 写入的每个窗口进池为 SESSION 层条目，检索命中记一次访问
func TestSession_WritePoolsSessionEntries(t *testing.T) {
	ctx := context.Background()
	m, _, pool := newTestManagerWithPool(t)
	s, _ := m.Start(ctx, "client-a", Budget{MaxTokens: 1000, MaxTime: time.Minute})

	spans, err := s.Write(ctx, "shipping policy allows returns within thirty days", "")
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	entries, err := pool.List(ctx, entry.Filter{SessionID: s.ID()})
	if err != nil || len(entries) != len(spans) {
		t.Fatalf("pool entries = %d, want %d (%v)", len(entries), len(spans), err)
	}
	for _, ent := range entries {
		if ent.Priority != entry.PrioritySession || ent.Tokens <= 0 {
			t.Errorf("pool entry malformed: %+v", ent)
		}
	}

	if _, err := s.Retrieve(ctx, "shipping policy", 500, Filters{}); err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	got, err := pool.Get(ctx, "client-a", spans[0].ID)
	if err != nil || got.AccessCount != 1 {
		t.Fatalf("retrieve must touch the pool entry: %+v, %v", got, err)
	}

	if _, err := s.Peek(ctx, spans[0].ID); err != nil {
		t.Fatalf("Peek: %v", err)
	}
	got, _ = pool.Get(ctx, "client-a", spans[0].ID)
	if got.AccessCount != 2 {
		t.Errorf("peek must touch the pool entry: count = %d", got.AccessCount)
	}
}

// 时间预算耗尽的被弃置会话：未经任何操作触发，IsActive 也降为 false
func TestManager_IsActiveAfterTimeBudgetElapsed(t *testing.T) {
	m, _ := newTestManager(t)
	s, _ := m.Start(context.Background(), "client-a", Budget{MaxTokens: 100, MaxTime: time.Millisecond})

	time.Sleep(20 * time.Millisecond)
	if m.IsActive(s.ID()) {
		t.Fatal("timed-out session still reported active")
	}
	if s.State() != StateTimeout {
		t.Fatalf("state = %s, want timeout", s.State())
	}
}

func TestManager_GetAndEnd(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t)
	s, _ := m.Start(ctx, "client-a", Budget{})

	got, err := m.Get(ctx, s.ID())
	if err != nil || got.ID() != s.ID() {
		t.Fatalf("Get: %v", err)
	}
	if _, err := m.Get(ctx, "sess-ghost"); !errors.Is(err, errors.ErrSessionNotFound) {
		t.Fatalf("unknown session: %v", err)
	}

	stats, err := m.End(ctx, s.ID(), OutcomeCompleted)
	if err != nil || stats.State != StateCompleted {
		t.Fatalf("End: %+v, %v", stats, err)
	}
}

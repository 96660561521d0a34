package engine

import (
	"context"
	"testing"
	"time"

	"memory-engine/internal/eviction"
	"memory-engine/internal/session"
	"memory-engine/internal/spanstore"
	"memory-engine/internal/storage/entry"
	"memory-engine/pkg/config"
	"memory-engine/pkg/errors"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(context.Background(), &config.Config{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func span(id, clientID string, content []byte) spanstore.Span {
	return spanstore.Span{
		ID:          id,
		ClientID:    clientID,
		SourceType:  spanstore.SourceDocument,
		StartByte:   0,
		EndByte:     int64(len(content)),
		ContentHash: spanstore.ComputeHash(content),
	}
}

func TestEngine_IsolatedInstances(t *testing.T) {
	ctx := context.Background()
	e1 := newTestEngine(t)
	e2 := newTestEngine(t)

	content := []byte("engine one content")
	if err := e1.RegisterSpan(ctx, span("span-1", "client-a", content), content); err != nil {
		t.Fatalf("RegisterSpan: %v", err)
	}
	data, err := e2.GetSpanContent(ctx, "client-a", "span-1")
	if err != nil || data != nil {
		t.Fatalf("engines must be isolated: %q, %v", data, err)
	}
}

func TestEngine_CacheReadThrough(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	content := []byte("cached span content")
	if err := e.RegisterSpan(ctx, span("span-1", "client-a", content), content); err != nil {
		t.Fatalf("RegisterSpan: %v", err)
	}

	got, err := e.GetSpanContent(ctx, "client-a", "span-1")
	if err != nil || string(got) != string(content) {
		t.Fatalf("GetSpanContent: %q, %v", got, err)
	}

	// 删除后缓存同步失效
	if err := e.DeleteSpans(ctx, "client-a", []string{"span-1"}); err != nil {
		t.Fatalf("DeleteSpans: %v", err)
	}
	got, err = e.GetSpanContent(ctx, "client-a", "span-1")
	if err != nil || got != nil {
		t.Fatalf("deleted span must be gone: %q, %v", got, err)
	}
}

func TestEngine_IntegrityMismatchAudited(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	e := newTestEngine(t)
	ch := e.Bus.Subscribe(ctx)

	content := []byte("tampered content")
	bad := span("span-1", "client-a", content)
	bad.ContentHash = "deadbeef"

	err := e.RegisterSpan(ctx, bad, content)
	var mismatch *errors.IntegrityMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected IntegrityMismatchError, got %v", err)
	}

	ev := <-ch
	if ev.Type != "span_flagged" || ev.SpanID != "span-1" {
		t.Errorf("audit event mismatch: %+v", ev)
	}

	// 被标记的内容不得经缓存或存储泄出
	if _, err := e.GetSpanContent(ctx, "client-a", "span-1"); !errors.As(err, &mismatch) {
		t.Fatalf("flagged content must not be served: %v", err)
	}
}

func TestEngine_EndToEndSessionFlow(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	s, err := e.Sessions.Start(ctx, "client-a", session.Budget{MaxTokens: 1000, MaxTime: time.Minute})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if _, err := s.Write(ctx, "the shipping policy allows returns within thirty days", ""); err != nil {
		t.Fatalf("Write: %v", err)
	}
	res, err := s.Retrieve(ctx, "shipping policy", 500, session.Filters{})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(res.Spans) == 0 {
		t.Fatal("written content should be retrievable in the same engine")
	}

	stats := s.End(session.OutcomeCompleted)
	if stats.Usage.Tokens != res.TokensUsed {
		t.Errorf("stats tokens %d != retrieve usage %d", stats.Usage.Tokens, res.TokensUsed)
	}
}

// 会话写入进池为 SESSION 层条目：会话活跃时驱逐不可触及，
// 结束后可驱逐，并级联删除底层 Span 与缓存
func TestEngine_EvictionCascadesToSpans(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	s, err := e.Sessions.Start(ctx, "client-a", session.Budget{MaxTokens: 1000, MaxTime: time.Minute})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	spans, err := s.Write(ctx, "ephemeral scratch notes from the current task", "")
	if err != nil || len(spans) == 0 {
		t.Fatalf("Write: %v", err)
	}

	res, err := e.Evictor.Evict(ctx, eviction.Request{TargetTokens: 1})
	if err != nil {
		t.Fatalf("Evict: %v", err)
	}
	if len(res.EvictedIDs) != 0 {
		t.Fatalf("active session entries must be skipped: %+v", res)
	}

	s.End(session.OutcomeCompleted)
	res, err = e.Evictor.Evict(ctx, eviction.Request{TargetTokens: 1})
	if err != nil || len(res.EvictedIDs) == 0 {
		t.Fatalf("ended session entries must be evictable: %+v, %v", res, err)
	}

	for _, id := range res.EvictedIDs {
		if data, err := e.GetSpanContent(ctx, "client-a", id); err != nil || data != nil {
			t.Errorf("evicted entry %s must cascade to span deletion: %q, %v", id, data, err)
		}
	}
}

// 直接注册的 Span 也进池（SLIDING 层），删除时池条目同步清理
func TestEngine_RegisterSpanPoolsSlidingEntry(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	content := []byte("document excerpt held outside any session")

	if err := e.RegisterSpan(ctx, span("span-1", "client-a", content), content); err != nil {
		t.Fatalf("RegisterSpan: %v", err)
	}
	ent, err := e.Entries.Get(ctx, "client-a", "span-1")
	if err != nil {
		t.Fatalf("pool entry missing: %v", err)
	}
	if ent.Priority != entry.PrioritySliding || ent.Tokens <= 0 {
		t.Errorf("pool entry malformed: %+v", ent)
	}

	if err := e.DeleteSpans(ctx, "client-a", []string{"span-1"}); err != nil {
		t.Fatalf("DeleteSpans: %v", err)
	}
	if _, err := e.Entries.Get(ctx, "client-a", "span-1"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("pool entry must be deleted with its span: %v", err)
	}
}

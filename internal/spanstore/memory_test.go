package spanstore

import (
	"context"
	"testing"

	"memory-engine/pkg/errors"
)

func newSpan(id, clientID string, content []byte) Span {
	return Span{
		ID:            id,
		ClientID:      clientID,
		SourceType:    SourceDocument,
		SourceID:      "doc-1",
		StartByte:     0,
		EndByte:       int64(len(content)),
		ContentHash:   ComputeHash(content),
		TokenEstimate: len(content) / 4,
	}
}

func TestMemoryStore_RegisterAndGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	content := []byte("the quick brown fox jumps over the lazy dog")
	span := newSpan("span-1", "client-a", content)

	if err := s.Register(ctx, span, content); err != nil {
		t.Fatalf("Register: %v", err)
	}

	got, err := s.Get(ctx, "client-a", "span-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ContentHash != span.ContentHash || got.Flagged {
		t.Errorf("span mismatch: %+v", got)
	}

	data, err := s.GetContent(ctx, "client-a", "span-1")
	if err != nil {
		t.Fatalf("GetContent: %v", err)
	}
	if string(data) != string(content) {
		t.Errorf("content mismatch: %q", data)
	}
}

func TestMemoryStore_GetContent_UnknownReturnsEmpty(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	data, err := s.GetContent(ctx, "client-a", "nope")
	if err != nil || len(data) != 0 {
		t.Fatalf("unknown id should be empty/nil: %q, %v", data, err)
	}
}

func TestMemoryStore_IntegrityMismatch(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	content := []byte("original content")
	span := newSpan("span-1", "client-a", content)
	span.ContentHash = "deadbeef" // 声明 hash 与内容不符

	err := s.Register(ctx, span, content)
	var im *errors.IntegrityMismatchError
	if !errors.As(err, &im) {
		t.Fatalf("expected IntegrityMismatchError, got %v", err)
	}
	if im.SpanID != "span-1" {
		t.Errorf("mismatch span id: %s", im.SpanID)
	}

	// 留存供审计：Get 可见且 Flagged
	got, err := s.Get(ctx, "client-a", "span-1")
	if err != nil || !got.Flagged {
		t.Fatalf("flagged span should be stored for audit: %+v, %v", got, err)
	}

	// 但检索面不可见
	if _, err := s.GetContent(ctx, "client-a", "span-1"); !errors.As(err, &im) {
		t.Fatalf("flagged content must not be served: %v", err)
	}
	spans, _ := s.List(ctx, "client-a")
	if len(spans) != 0 {
		t.Fatalf("flagged span must be excluded from List, got %d", len(spans))
	}
}

func TestMemoryStore_InvalidByteRange(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	span := newSpan("span-1", "client-a", []byte("abc"))
	span.StartByte = 3
	span.EndByte = 3
	if err := s.Register(ctx, span, []byte("abc")); !errors.Is(err, errors.ErrInvalidArg) {
		t.Fatalf("expected ErrInvalidArg, got %v", err)
	}
}

func TestMemoryStore_ClientScoping(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	content := []byte("tenant isolated content")
	if err := s.Register(ctx, newSpan("span-1", "client-a", content), content); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := s.Get(ctx, "client-b", "span-1"); !errors.Is(err, errors.ErrSpanNotFound) {
		t.Fatalf("cross-client Get must miss, got %v", err)
	}
	data, err := s.GetContent(ctx, "client-b", "span-1")
	if err != nil || data != nil {
		t.Fatalf("cross-client GetContent must be empty, got %q, %v", data, err)
	}
	spans, _ := s.List(ctx, "client-b")
	if len(spans) != 0 {
		t.Fatalf("cross-client List must be empty, got %d", len(spans))
	}
}

func TestMemoryStore_Delete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	c1 := []byte("span one content")
	c2 := []byte("span two content")
	_ = s.Register(ctx, newSpan("span-1", "client-a", c1), c1)
	_ = s.Register(ctx, newSpan("span-2", "client-a", c2), c2)

	if err := s.Delete(ctx, "client-a", []string{"span-1", "span-ghost"}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	spans, _ := s.List(ctx, "client-a")
	if len(spans) != 1 || spans[0].ID != "span-2" {
		t.Fatalf("expected only span-2 to survive, got %+v", spans)
	}
}

func TestMemoryStore_ContentCopyIsolation(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	content := []byte("immutable content")
	_ = s.Register(ctx, newSpan("span-1", "client-a", content), content)

	content[0] = 'X' // 调用方修改自己的缓冲不应影响存储
	data, _ := s.GetContent(ctx, "client-a", "span-1")
	if string(data) != "immutable content" {
		t.Fatalf("stored content was aliased: %q", data)
	}

	data[0] = 'Y' // 读出的副本修改也不应影响存储
	again, _ := s.GetContent(ctx, "client-a", "span-1")
	if string(again) != "immutable content" {
		t.Fatalf("returned content was aliased: %q", again)
	}
}

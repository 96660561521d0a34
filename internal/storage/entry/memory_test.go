package entry

import (
	"context"
	"testing"
	"time"

	"memory-engine/pkg/errors"
)

func TestMemoryStore_PutDefaults(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	e, err := s.Put(ctx, MemoryEntry{
		ClientID: "client-a",
		Content:  "cached retrieval result",
		Tokens:   40,
		Priority: PrioritySliding,
	})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if e.ID == "" || e.Weight != 1 || e.CreatedAt.IsZero() || e.LastAccessed.IsZero() {
		t.Fatalf("defaults not applied: %+v", e)
	}
}

func TestMemoryStore_PutRejectsUnknownPriority(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if _, err := s.Put(ctx, MemoryEntry{ClientID: "client-a", Priority: 7}); !errors.Is(err, errors.ErrInvalidArg) {
		t.Fatalf("expected ErrInvalidArg, got %v", err)
	}
}

func TestMemoryStore_Touch(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	e, _ := s.Put(ctx, MemoryEntry{
		ClientID:     "client-a",
		Priority:     PriorityEphemeral,
		LastAccessed: time.Now().Add(-time.Hour),
		CreatedAt:    time.Now().Add(-time.Hour),
	})

	if err := s.Touch(ctx, "client-a", e.ID); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	got, _ := s.Get(ctx, "client-a", e.ID)
	if got.AccessCount != 1 {
		t.Errorf("AccessCount = %d, want 1", got.AccessCount)
	}
	if !got.LastAccessed.After(e.LastAccessed) {
		t.Errorf("LastAccessed not advanced")
	}

	if err := s.Touch(ctx, "client-a", "ghost"); !errors.Is(err, errors.ErrNotFound) {
		t.Fatalf("touching unknown entry should fail, got %v", err)
	}
}

func TestMemoryStore_ListFilters(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, _ = s.Put(ctx, MemoryEntry{ClientID: "client-a", SessionID: "sess-1", Priority: PrioritySession, Tokens: 10})
	_, _ = s.Put(ctx, MemoryEntry{ClientID: "client-a", Priority: PriorityPinned, Category: "brand_voice", Tokens: 20})
	_, _ = s.Put(ctx, MemoryEntry{ClientID: "client-b", Priority: PriorityEphemeral, Tokens: 5})

	all, _ := s.List(ctx, Filter{})
	if len(all) != 3 {
		t.Fatalf("empty filter should list whole pool, got %d", len(all))
	}

	mine, _ := s.List(ctx, Filter{ClientID: "client-a"})
	if len(mine) != 2 {
		t.Fatalf("client filter: got %d, want 2", len(mine))
	}

	pinned := PriorityPinned
	byPriority, _ := s.List(ctx, Filter{ClientID: "client-a", Priority: &pinned})
	if len(byPriority) != 1 || byPriority[0].Category != "brand_voice" {
		t.Fatalf("priority filter mismatch: %+v", byPriority)
	}

	bySession, _ := s.List(ctx, Filter{SessionID: "sess-1"})
	if len(bySession) != 1 || bySession[0].Tokens != 10 {
		t.Fatalf("session filter mismatch: %+v", bySession)
	}
}

func TestMemoryStore_TokensUsed(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, _ = s.Put(ctx, MemoryEntry{ClientID: "client-a", Priority: PriorityPinned, Category: "brand_voice", Tokens: 300})
	_, _ = s.Put(ctx, MemoryEntry{ClientID: "client-a", Priority: PriorityPinned, Category: "compliance_rules", Tokens: 200})
	_, _ = s.Put(ctx, MemoryEntry{ClientID: "client-a", Priority: PrioritySliding, Tokens: 999})
	_, _ = s.Put(ctx, MemoryEntry{ClientID: "client-b", Priority: PriorityPinned, Tokens: 50})

	pinned := PriorityPinned
	used, err := s.TokensUsed(ctx, Filter{ClientID: "client-a", Priority: &pinned})
	if err != nil {
		t.Fatalf("TokensUsed: %v", err)
	}
	if used != 500 {
		t.Errorf("used = %d, want 500", used)
	}

	total, _ := s.TokensUsed(ctx, Filter{})
	if total != 1549 {
		t.Errorf("pool total = %d, want 1549", total)
	}
}

func TestMemoryStore_Delete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	a, _ := s.Put(ctx, MemoryEntry{ClientID: "client-a", Priority: PriorityEphemeral})
	b, _ := s.Put(ctx, MemoryEntry{ClientID: "client-a", Priority: PriorityEphemeral})

	if err := s.Delete(ctx, "client-a", []string{a.ID, "ghost"}); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	left, _ := s.List(ctx, Filter{ClientID: "client-a"})
	if len(left) != 1 || left[0].ID != b.ID {
		t.Fatalf("expected only %s to survive, got %+v", b.ID, left)
	}
}

func TestPriorityString(t *testing.T) {
	if PriorityPinned.String() != "pinned" || PriorityEphemeral.String() != "ephemeral" {
		t.Fatal("priority names wrong")
	}
	if Priority(42).Valid() {
		t.Fatal("42 is not a valid priority")
	}
}

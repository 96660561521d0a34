package pinned

import (
	"context"
	"strings"
	"testing"

	"memory-engine/internal/audit"
	"memory-engine/internal/storage/entry"
	"memory-engine/pkg/config"
	"memory-engine/pkg/errors"
	"memory-engine/pkg/tokenizer"
)

func newTestManager(t *testing.T, cfg config.PinnedConfig) *Manager {
	t.Helper()
	store := entry.NewMemoryStore()
	return NewManager(store, NewGuard(store, cfg), tokenizer.NewHeuristic(), audit.NewBus())
}

// 预算 2000 的客户端 Pin 50 token → used 50 / remaining 1950 / entries 1
func TestPin_UsageAfterFirstPin(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, config.PinnedConfig{DefaultBudgetTokens: 2000})

	content := strings.Repeat("warm friendly confident tone ", 7)
	e, err := m.Pin(ctx, "client-a", CategoryBrandVoice, content)
	if err != nil {
		t.Fatalf("Pin: %v", err)
	}
	if e.Priority != entry.PriorityPinned || e.Category != CategoryBrandVoice {
		t.Fatalf("pinned entry malformed: %+v", e)
	}

	usage, err := m.GetUsage(ctx, "client-a")
	if err != nil {
		t.Fatalf("GetUsage: %v", err)
	}
	if usage.Used != e.Tokens || usage.Entries != 1 {
		t.Errorf("usage mismatch: %+v", usage)
	}
	if usage.Remaining != 2000-e.Tokens {
		t.Errorf("remaining = %d, want %d", usage.Remaining, 2000-e.Tokens)
	}
}

func TestPin_BudgetRejectionCarriesDetail(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, config.PinnedConfig{DefaultBudgetTokens: 30})

	if _, err := m.Pin(ctx, "client-a", CategoryComplianceRules, strings.Repeat("rule ", 20)); err != nil {
		t.Fatalf("first pin: %v", err)
	}
	_, err := m.Pin(ctx, "client-a", CategoryComplianceRules, strings.Repeat("more ", 20))
	var pe *errors.PinnedBudgetExceededError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PinnedBudgetExceededError, got %v", err)
	}
	if pe.Used != 25 || pe.Budget != 30 || pe.Remaining() != 5 {
		t.Errorf("rejection detail mismatch: %+v", pe)
	}
}

func TestPin_ClientBudgetOverride(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, config.PinnedConfig{
		DefaultBudgetTokens: 10,
		ClientBudgets:       map[string]int64{"client-big": 1000},
	})

	content := strings.Repeat("disclaimer ", 10) // 28 token
	if _, err := m.Pin(ctx, "client-big", CategoryLegalDisclaimers, content); err != nil {
		t.Fatalf("override budget should admit: %v", err)
	}
	if _, err := m.Pin(ctx, "client-small", CategoryLegalDisclaimers, content); !errors.As(err, new(*errors.PinnedBudgetExceededError)) {
		t.Fatalf("default budget should reject: %v", err)
	}
}

func TestPin_RejectsUnknownCategory(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, config.PinnedConfig{})
	if _, err := m.Pin(ctx, "client-a", "vibes", "content"); !errors.Is(err, errors.ErrInvalidArg) {
		t.Fatalf("unknown category must fail, got %v", err)
	}
}

func TestUnpin_ReleasesBudget(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, config.PinnedConfig{DefaultBudgetTokens: 100})

	e, _ := m.Pin(ctx, "client-a", CategoryToneGuidelines, strings.Repeat("calm ", 15))
	if err := m.Unpin(ctx, "client-a", e.ID); err != nil {
		t.Fatalf("Unpin: %v", err)
	}
	usage, _ := m.GetUsage(ctx, "client-a")
	if usage.Used != 0 || usage.Entries != 0 {
		t.Errorf("budget not released: %+v", usage)
	}

	if err := m.Unpin(ctx, "client-a", "entry-ghost"); !errors.Is(err, errors.ErrNotFound) {
		t.Fatalf("unknown entry: %v", err)
	}
}

func TestInjectionContext_FixedCategoryOrder(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, config.PinnedConfig{DefaultBudgetTokens: 10000})

	// 倒序 Pin，注入仍按固定类别顺序
	_, _ = m.Pin(ctx, "client-a", CategoryLegalDisclaimers, "LEGAL text.")
	_, _ = m.Pin(ctx, "client-a", CategoryProhibitedTopics, "PROHIBITED list.")
	_, _ = m.Pin(ctx, "client-a", CategoryBrandVoice, "VOICE description.")

	text, err := m.InjectionContext(ctx, "client-a", nil)
	if err != nil {
		t.Fatalf("InjectionContext: %v", err)
	}
	want := "VOICE description.\n\nPROHIBITED list.\n\nLEGAL text."
	if text != want {
		t.Errorf("injection order wrong:\n got: %q\nwant: %q", text, want)
	}
}

func TestInjectionContext_CategoryFilter(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, config.PinnedConfig{DefaultBudgetTokens: 10000})
	_, _ = m.Pin(ctx, "client-a", CategoryBrandVoice, "VOICE.")
	_, _ = m.Pin(ctx, "client-a", CategoryComplianceRules, "RULES.")

	text, err := m.InjectionContext(ctx, "client-a", []string{CategoryComplianceRules})
	if err != nil || text != "RULES." {
		t.Fatalf("filtered injection: %q, %v", text, err)
	}
}

func TestInjectionContext_ClientScoped(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, config.PinnedConfig{DefaultBudgetTokens: 10000})
	_, _ = m.Pin(ctx, "client-a", CategoryBrandVoice, "A voice.")

	text, err := m.InjectionContext(ctx, "client-b", nil)
	if err != nil || text != "" {
		t.Fatalf("cross-client injection must be empty: %q, %v", text, err)
	}
}

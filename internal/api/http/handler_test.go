package http

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/ut"

	"memory-engine/internal/engine"
	"memory-engine/pkg/config"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	eng, err := engine.New(context.Background(), &config.Config{
		Engine: config.EngineConfig{
			Pinned: config.PinnedConfig{DefaultBudgetTokens: 50},
		},
	}, nil)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	return NewHandler(eng, nil)
}

func jsonBody(t *testing.T, v interface{}) (*ut.Body, ut.Header) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return &ut.Body{Body: bytes.NewReader(data), Len: len(data)},
		ut.Header{Key: "Content-Type", Value: "application/json"}
}

func TestHealth(t *testing.T) {
	h := server.Default(server.WithHostPorts(":0"))
	handler := newTestHandler(t)
	h.GET("/api/health", func(ctx context.Context, c *app.RequestContext) {
		handler.Health(ctx, c)
	})
	w := ut.PerformRequest(h.Engine, "GET", "/api/health", &ut.Body{Body: bytes.NewReader(nil), Len: 0})
	resp := w.Result()
	if resp.StatusCode() != 200 {
		t.Errorf("Health status: got %d", resp.StatusCode())
	}
	if !bytes.Contains(resp.Body(), []byte("ok")) {
		t.Errorf("Health body: %s", resp.Body())
	}
}

func TestRegisterSpan_RoundTrip(t *testing.T) {
	h := server.Default(server.WithHostPorts(":0"))
	handler := newTestHandler(t)
	h.POST("/api/spans", func(ctx context.Context, c *app.RequestContext) {
		handler.RegisterSpan(ctx, c)
	})
	h.GET("/api/spans/:id/content", func(ctx context.Context, c *app.RequestContext) {
		handler.GetSpanContent(ctx, c)
	})

	body, hdr := jsonBody(t, RegisterSpanRequest{
		ID:       "span-1",
		ClientID: "client-a",
		Content:  "the quick brown fox",
	})
	w := ut.PerformRequest(h.Engine, "POST", "/api/spans", body, hdr)
	if w.Result().StatusCode() != 200 {
		t.Fatalf("RegisterSpan status: got %d, body %s", w.Result().StatusCode(), w.Result().Body())
	}

	w = ut.PerformRequest(h.Engine, "GET", "/api/spans/span-1/content?client_id=client-a",
		&ut.Body{Body: bytes.NewReader(nil), Len: 0})
	resp := w.Result()
	if resp.StatusCode() != 200 {
		t.Fatalf("GetSpanContent status: got %d", resp.StatusCode())
	}
	if !bytes.Contains(resp.Body(), []byte("the quick brown fox")) {
		t.Errorf("GetSpanContent body: %s", resp.Body())
	}
}

// hash 不一致的注册返回 409，响应体携带 flagged 标记
func TestRegisterSpan_IntegrityMismatch(t *testing.T) {
	h := server.Default(server.WithHostPorts(":0"))
	handler := newTestHandler(t)
	h.POST("/api/spans", func(ctx context.Context, c *app.RequestContext) {
		handler.RegisterSpan(ctx, c)
	})

	body, hdr := jsonBody(t, RegisterSpanRequest{
		ID:          "span-bad",
		ClientID:    "client-a",
		Content:     "tampered content",
		ContentHash: "deadbeef",
	})
	w := ut.PerformRequest(h.Engine, "POST", "/api/spans", body, hdr)
	resp := w.Result()
	if resp.StatusCode() != 409 {
		t.Fatalf("integrity mismatch status: got %d, want 409", resp.StatusCode())
	}
	if !bytes.Contains(resp.Body(), []byte("flagged")) {
		t.Errorf("integrity mismatch body: %s", resp.Body())
	}
}

func TestSessionFlow(t *testing.T) {
	h := server.Default(server.WithHostPorts(":0"))
	handler := newTestHandler(t)
	h.POST("/api/sessions", func(ctx context.Context, c *app.RequestContext) {
		handler.StartSession(ctx, c)
	})
	h.POST("/api/sessions/:id/write", func(ctx context.Context, c *app.RequestContext) {
		handler.WriteMemory(ctx, c)
	})
	h.POST("/api/sessions/:id/retrieve", func(ctx context.Context, c *app.RequestContext) {
		handler.Retrieve(ctx, c)
	})
	h.POST("/api/sessions/:id/end", func(ctx context.Context, c *app.RequestContext) {
		handler.EndSession(ctx, c)
	})

	body, hdr := jsonBody(t, StartSessionRequest{ClientID: "client-a", MaxTokens: 1000})
	w := ut.PerformRequest(h.Engine, "POST", "/api/sessions", body, hdr)
	if w.Result().StatusCode() != 200 {
		t.Fatalf("StartSession status: got %d, body %s", w.Result().StatusCode(), w.Result().Body())
	}
	var started struct {
		SessionID string `json:"session_id"`
	}
	if err := json.Unmarshal(w.Result().Body(), &started); err != nil || started.SessionID == "" {
		t.Fatalf("StartSession body: %s (%v)", w.Result().Body(), err)
	}

	body, hdr = jsonBody(t, WriteMemoryRequest{Content: "shipping policy allows returns within thirty days"})
	w = ut.PerformRequest(h.Engine, "POST", "/api/sessions/"+started.SessionID+"/write", body, hdr)
	if w.Result().StatusCode() != 200 {
		t.Fatalf("WriteMemory status: got %d, body %s", w.Result().StatusCode(), w.Result().Body())
	}

	body, hdr = jsonBody(t, RetrieveRequest{Query: "shipping policy", MaxTokens: 500})
	w = ut.PerformRequest(h.Engine, "POST", "/api/sessions/"+started.SessionID+"/retrieve", body, hdr)
	resp := w.Result()
	if resp.StatusCode() != 200 {
		t.Fatalf("Retrieve status: got %d, body %s", resp.StatusCode(), resp.Body())
	}
	if !bytes.Contains(resp.Body(), []byte("shipping policy")) {
		t.Errorf("Retrieve body: %s", resp.Body())
	}

	body, hdr = jsonBody(t, EndSessionRequest{Outcome: "completed"})
	w = ut.PerformRequest(h.Engine, "POST", "/api/sessions/"+started.SessionID+"/end", body, hdr)
	if w.Result().StatusCode() != 200 {
		t.Fatalf("EndSession status: got %d", w.Result().StatusCode())
	}
	if !bytes.Contains(w.Result().Body(), []byte("completed")) {
		t.Errorf("EndSession body: %s", w.Result().Body())
	}
}

// token 预算不足的检索返回 429 并携带维度信息
func TestRetrieve_BudgetExceeded(t *testing.T) {
	h := server.Default(server.WithHostPorts(":0"))
	handler := newTestHandler(t)
	h.POST("/api/sessions", func(ctx context.Context, c *app.RequestContext) {
		handler.StartSession(ctx, c)
	})
	h.POST("/api/sessions/:id/retrieve", func(ctx context.Context, c *app.RequestContext) {
		handler.Retrieve(ctx, c)
	})

	body, hdr := jsonBody(t, StartSessionRequest{ClientID: "client-a", MaxTokens: 100})
	w := ut.PerformRequest(h.Engine, "POST", "/api/sessions", body, hdr)
	var started struct {
		SessionID string `json:"session_id"`
	}
	_ = json.Unmarshal(w.Result().Body(), &started)

	body, hdr = jsonBody(t, RetrieveRequest{Query: "anything", MaxTokens: 500})
	w = ut.PerformRequest(h.Engine, "POST", "/api/sessions/"+started.SessionID+"/retrieve", body, hdr)
	resp := w.Result()
	if resp.StatusCode() != 429 {
		t.Fatalf("budget exceeded status: got %d, want 429 (body %s)", resp.StatusCode(), resp.Body())
	}
	if !bytes.Contains(resp.Body(), []byte("tokens")) {
		t.Errorf("budget exceeded body: %s", resp.Body())
	}
}

func TestPin_OverBudgetRejected(t *testing.T) {
	h := server.Default(server.WithHostPorts(":0"))
	handler := newTestHandler(t) // Pin 预算 50
	h.POST("/api/pinned", func(ctx context.Context, c *app.RequestContext) {
		handler.Pin(ctx, c)
	})

	body, hdr := jsonBody(t, PinRequest{
		ClientID: "client-a",
		Category: "brand_voice",
		Content:  "short voice note",
	})
	w := ut.PerformRequest(h.Engine, "POST", "/api/pinned", body, hdr)
	if w.Result().StatusCode() != 200 {
		t.Fatalf("Pin status: got %d, body %s", w.Result().StatusCode(), w.Result().Body())
	}

	long := bytes.Repeat([]byte("compliance rule sentence "), 20)
	body, hdr = jsonBody(t, PinRequest{
		ClientID: "client-a",
		Category: "compliance_rules",
		Content:  string(long),
	})
	w = ut.PerformRequest(h.Engine, "POST", "/api/pinned", body, hdr)
	resp := w.Result()
	if resp.StatusCode() != 429 {
		t.Fatalf("over-budget pin status: got %d, want 429", resp.StatusCode())
	}
	if !bytes.Contains(resp.Body(), []byte("remaining")) {
		t.Errorf("over-budget pin body: %s", resp.Body())
	}
}

func TestTruncate_RespectsLimit(t *testing.T) {
	h := server.Default(server.WithHostPorts(":0"))
	handler := newTestHandler(t)
	h.POST("/api/truncate", func(ctx context.Context, c *app.RequestContext) {
		handler.Truncate(ctx, c)
	})

	body, hdr := jsonBody(t, TruncateRequest{
		Content:   "First sentence here. Second sentence follows. Third sentence ends it.",
		MaxTokens: 8,
		Strategy:  "sentence",
	})
	w := ut.PerformRequest(h.Engine, "POST", "/api/truncate", body, hdr)
	resp := w.Result()
	if resp.StatusCode() != 200 {
		t.Fatalf("Truncate status: got %d, body %s", resp.StatusCode(), resp.Body())
	}
	var out struct {
		Content string `json:"content"`
		Tokens  int    `json:"tokens"`
	}
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		t.Fatalf("Truncate body: %s (%v)", resp.Body(), err)
	}
	if out.Tokens > 8 {
		t.Errorf("truncated tokens = %d, want <= 8", out.Tokens)
	}
}

func TestEvict_InvalidRequest(t *testing.T) {
	h := server.Default(server.WithHostPorts(":0"))
	handler := newTestHandler(t)
	h.POST("/api/evict", func(ctx context.Context, c *app.RequestContext) {
		handler.Evict(ctx, c)
	})

	body, hdr := jsonBody(t, EvictRequest{})
	w := ut.PerformRequest(h.Engine, "POST", "/api/evict", body, hdr)
	if w.Result().StatusCode() != 400 {
		t.Errorf("empty evict request status: got %d, want 400", w.Result().StatusCode())
	}
}

func TestUnknownSession_NotFound(t *testing.T) {
	h := server.Default(server.WithHostPorts(":0"))
	handler := newTestHandler(t)
	h.GET("/api/sessions/:id", func(ctx context.Context, c *app.RequestContext) {
		handler.GetSession(ctx, c)
	})

	w := ut.PerformRequest(h.Engine, "GET", "/api/sessions/sess-ghost",
		&ut.Body{Body: bytes.NewReader(nil), Len: 0})
	if w.Result().StatusCode() != 404 {
		t.Errorf("unknown session status: got %d, want 404", w.Result().StatusCode())
	}
}

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

package http

import (
	"context"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"memory-engine/internal/session"
	"memory-engine/internal/spanstore"
	"memory-engine/pkg/metrics"
)

// StartSessionRequest 会话启动请求体；零值预算维度取服务端默认
type StartSessionRequest struct {
	ClientID    string `json:"client_id"`
	MaxTokens   int64  `json:"max_tokens"`
	MaxTime     string `json:"max_time"` // 如 "30s"
	MaxRetries  int64  `json:"max_retries"`
	MaxSubcalls int64  `json:"max_subcalls"`
}

// StartSession 启动带预算的会话
// POST /api/sessions
func (h *Handler) StartSession(c context.Context, ctx *app.RequestContext) {
	var req StartSessionRequest
	if err := ctx.BindAndValidate(&req); err != nil {
		ctx.JSON(consts.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	budget := session.Budget{
		MaxTokens:   req.MaxTokens,
		MaxRetries:  req.MaxRetries,
		MaxSubcalls: req.MaxSubcalls,
	}
	if req.MaxTime != "" {
		d, err := time.ParseDuration(req.MaxTime)
		if err != nil {
			ctx.JSON(consts.StatusBadRequest, map[string]string{
				"error": "invalid max_time: " + err.Error(),
			})
			return
		}
		budget.MaxTime = d
	}

	s, err := h.engine.Sessions.Start(c, req.ClientID, budget)
	if err != nil {
		h.writeError(ctx, err)
		return
	}
	hlog.CtxInfof(c, "session %s started for client %s", s.ID(), req.ClientID)
	ctx.JSON(consts.StatusOK, map[string]interface{}{
		"session_id": s.ID(),
		"client_id":  s.ClientID(),
		"state":      s.State(),
		"budget":     s.Ledger().Budget(),
	})
}

// GetSession 会话状态与账本快照
// GET /api/sessions/:id
func (h *Handler) GetSession(c context.Context, ctx *app.RequestContext) {
	s, err := h.engine.Sessions.Get(c, ctx.Param("id"))
	if err != nil {
		h.writeError(ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, map[string]interface{}{
		"session_id": s.ID(),
		"client_id":  s.ClientID(),
		"state":      s.State(),
		"budget":     s.Ledger().Budget(),
		"usage":      s.Ledger().Snapshot(),
	})
}

// RetrieveRequest 检索请求体
type RetrieveRequest struct {
	Query      string `json:"query"`
	MaxTokens  int64  `json:"max_tokens"`
	SourceType string `json:"source_type,omitempty"`
	SourceID   string `json:"source_id,omitempty"`
}

// Retrieve 预算内检索
// POST /api/sessions/:id/retrieve
func (h *Handler) Retrieve(c context.Context, ctx *app.RequestContext) {
	s, err := h.engine.Sessions.Get(c, ctx.Param("id"))
	if err != nil {
		h.writeError(ctx, err)
		return
	}
	var req RetrieveRequest
	if err := ctx.BindAndValidate(&req); err != nil {
		ctx.JSON(consts.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	result, err := s.Retrieve(c, req.Query, req.MaxTokens, session.Filters{
		SourceType: spanstore.SourceType(req.SourceType),
		SourceID:   req.SourceID,
	})
	if err != nil {
		h.writeError(ctx, err)
		return
	}
	metrics.RetrieveTokensTotal.WithLabelValues(s.ClientID()).Add(float64(result.TokensUsed))
	ctx.JSON(consts.StatusOK, result)
}

// Peek 不扣预算的内容查找
// GET /api/sessions/:id/peek
func (h *Handler) Peek(c context.Context, ctx *app.RequestContext) {
	s, err := h.engine.Sessions.Get(c, ctx.Param("id"))
	if err != nil {
		h.writeError(ctx, err)
		return
	}
	spanID := ctx.Query("span_id")
	if spanID == "" {
		ctx.JSON(consts.StatusBadRequest, map[string]string{"error": "span_id is required"})
		return
	}
	content, err := s.Peek(c, spanID)
	if err != nil {
		h.writeError(ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, map[string]interface{}{
		"span_id": spanID,
		"found":   content != nil,
		"content": string(content),
	})
}

// WriteMemoryRequest 写入请求体
type WriteMemoryRequest struct {
	Content    string `json:"content"`
	SourceType string `json:"source_type,omitempty"`
}

// WriteMemory 把内容分窗写入外部记忆
// POST /api/sessions/:id/write
func (h *Handler) WriteMemory(c context.Context, ctx *app.RequestContext) {
	s, err := h.engine.Sessions.Get(c, ctx.Param("id"))
	if err != nil {
		h.writeError(ctx, err)
		return
	}
	var req WriteMemoryRequest
	if err := ctx.BindAndValidate(&req); err != nil {
		ctx.JSON(consts.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	spans, err := s.Write(c, req.Content, spanstore.SourceType(req.SourceType))
	if err != nil {
		h.writeError(ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, map[string]interface{}{
		"spans": spans,
		"total": len(spans),
	})
}

// SubcallRequest 子会话派生请求体
type SubcallRequest struct {
	AgentType string  `json:"agent_type"`
	Fraction  float64 `json:"fraction"`
}

// Subcall 派生子会话（每维子预算 = floor(父剩余 × fraction)）
// POST /api/sessions/:id/subcall
func (h *Handler) Subcall(c context.Context, ctx *app.RequestContext) {
	s, err := h.engine.Sessions.Get(c, ctx.Param("id"))
	if err != nil {
		h.writeError(ctx, err)
		return
	}
	var req SubcallRequest
	if err := ctx.BindAndValidate(&req); err != nil {
		ctx.JSON(consts.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	child, err := s.Subcall(c, req.AgentType, req.Fraction)
	if err != nil {
		h.writeError(ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, map[string]interface{}{
		"session_id": child.ID(),
		"parent_id":  s.ID(),
		"budget":     child.Ledger().Budget(),
	})
}

// RecordRetry 扣减一次重试预算
// POST /api/sessions/:id/retry
func (h *Handler) RecordRetry(c context.Context, ctx *app.RequestContext) {
	s, err := h.engine.Sessions.Get(c, ctx.Param("id"))
	if err != nil {
		h.writeError(ctx, err)
		return
	}
	if err := s.RecordRetry(); err != nil {
		h.writeError(ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, map[string]interface{}{
		"usage": s.Ledger().Snapshot(),
	})
}

// EndSessionRequest 会话结束请求体
type EndSessionRequest struct {
	Outcome string `json:"outcome"` // completed | failed | timeout
}

// EndSession 结束会话并返回聚合统计（幂等）
// POST /api/sessions/:id/end
func (h *Handler) EndSession(c context.Context, ctx *app.RequestContext) {
	var req EndSessionRequest
	if err := ctx.BindAndValidate(&req); err != nil {
		ctx.JSON(consts.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	stats, err := h.engine.Sessions.End(c, ctx.Param("id"), session.Outcome(req.Outcome))
	if err != nil {
		h.writeError(ctx, err)
		return
	}
	metrics.SessionTotal.WithLabelValues(string(stats.State)).Inc()
	metrics.SessionDuration.WithLabelValues(string(stats.State)).
		Observe(stats.EndedAt.Sub(stats.StartedAt).Seconds())
	ctx.JSON(consts.StatusOK, map[string]interface{}{
		"stats": stats,
	})
}

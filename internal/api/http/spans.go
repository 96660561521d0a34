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

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/google/uuid"

	"memory-engine/internal/spanstore"
)

// RegisterSpanRequest Span 注册请求体
type RegisterSpanRequest struct {
	ID          string `json:"id"`
	ClientID    string `json:"client_id"`
	SourceType  string `json:"source_type"`
	SourceID    string `json:"source_id"`
	StartByte   int64  `json:"start_byte"`
	ContentHash string `json:"content_hash"`
	Content     string `json:"content"`
}

// RegisterSpan 注册一个不可变 Span
// POST /api/spans
func (h *Handler) RegisterSpan(c context.Context, ctx *app.RequestContext) {
	var req RegisterSpanRequest
	if err := ctx.BindAndValidate(&req); err != nil {
		ctx.JSON(consts.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.ClientID == "" || req.Content == "" {
		ctx.JSON(consts.StatusBadRequest, map[string]string{
			"error": "client_id and content are required",
		})
		return
	}

	content := []byte(req.Content)
	hash := req.ContentHash
	if hash == "" {
		hash = spanstore.ComputeHash(content)
	}
	id := req.ID
	if id == "" {
		id = "span-" + uuid.New().String()
	}
	sourceType := spanstore.SourceType(req.SourceType)
	if sourceType == "" {
		sourceType = spanstore.SourceDocument
	}

	span := spanstore.Span{
		ID:          id,
		ClientID:    req.ClientID,
		SourceType:  sourceType,
		SourceID:    req.SourceID,
		StartByte:   req.StartByte,
		EndByte:     req.StartByte + int64(len(content)),
		ContentHash: hash,
	}
	if err := h.engine.RegisterSpan(c, span, content); err != nil {
		hlog.CtxWarnf(c, "register span %s failed: %v", id, err)
		h.writeError(ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, map[string]interface{}{
		"span": span,
	})
}

// GetSpan 获取 Span 元数据
// GET /api/spans/:id
func (h *Handler) GetSpan(c context.Context, ctx *app.RequestContext) {
	client := clientID(ctx)
	if client == "" {
		ctx.JSON(consts.StatusBadRequest, map[string]string{"error": "client_id is required"})
		return
	}
	span, err := h.engine.Spans.Get(c, client, ctx.Param("id"))
	if err != nil {
		h.writeError(ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, map[string]interface{}{
		"span": span,
	})
}

// GetSpanContent 取回 Span 内容（经内容缓存）
// GET /api/spans/:id/content
func (h *Handler) GetSpanContent(c context.Context, ctx *app.RequestContext) {
	client := clientID(ctx)
	if client == "" {
		ctx.JSON(consts.StatusBadRequest, map[string]string{"error": "client_id is required"})
		return
	}
	content, err := h.engine.GetSpanContent(c, client, ctx.Param("id"))
	if err != nil {
		h.writeError(ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, map[string]interface{}{
		"id":      ctx.Param("id"),
		"found":   content != nil,
		"content": string(content),
	})
}

// ListSpans 列出客户端全部可检索 Span
// GET /api/spans
func (h *Handler) ListSpans(c context.Context, ctx *app.RequestContext) {
	client := clientID(ctx)
	if client == "" {
		ctx.JSON(consts.StatusBadRequest, map[string]string{"error": "client_id is required"})
		return
	}
	spans, err := h.engine.Spans.List(c, client)
	if err != nil {
		h.writeError(ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, map[string]interface{}{
		"spans": spans,
		"total": len(spans),
	})
}

// DeleteSpansRequest 批量删除请求体
type DeleteSpansRequest struct {
	ClientID string   `json:"client_id"`
	IDs      []string `json:"ids"`
}

// DeleteSpans 批量删除 Span 并使缓存失效
// POST /api/spans/delete
func (h *Handler) DeleteSpans(c context.Context, ctx *app.RequestContext) {
	var req DeleteSpansRequest
	if err := ctx.BindAndValidate(&req); err != nil {
		ctx.JSON(consts.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.ClientID == "" || len(req.IDs) == 0 {
		ctx.JSON(consts.StatusBadRequest, map[string]string{
			"error": "client_id and ids are required",
		})
		return
	}
	if err := h.engine.DeleteSpans(c, req.ClientID, req.IDs); err != nil {
		h.writeError(ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, map[string]interface{}{
		"deleted": len(req.IDs),
	})
}

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
	"strings"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
)

// PinRequest Pin 请求体
type PinRequest struct {
	ClientID string `json:"client_id"`
	Category string `json:"category"`
	Content  string `json:"content"`
}

// Pin 永驻一段内容（预算闸门校验）
// POST /api/pinned
func (h *Handler) Pin(c context.Context, ctx *app.RequestContext) {
	var req PinRequest
	if err := ctx.BindAndValidate(&req); err != nil {
		ctx.JSON(consts.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	e, err := h.engine.Pinned.Pin(c, req.ClientID, req.Category, req.Content)
	if err != nil {
		hlog.CtxWarnf(c, "pin rejected for client %s: %v", req.ClientID, err)
		h.writeError(ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, map[string]interface{}{
		"entry": e,
	})
}

// Unpin 解除永驻并释放预算
// DELETE /api/pinned/:id
func (h *Handler) Unpin(c context.Context, ctx *app.RequestContext) {
	client := clientID(ctx)
	if client == "" {
		ctx.JSON(consts.StatusBadRequest, map[string]string{"error": "client_id is required"})
		return
	}
	if err := h.engine.Pinned.Unpin(c, client, ctx.Param("id")); err != nil {
		h.writeError(ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, map[string]string{
		"status": "unpinned",
	})
}

// ListPinned 客户端全部 Pin 条目
// GET /api/pinned
func (h *Handler) ListPinned(c context.Context, ctx *app.RequestContext) {
	client := clientID(ctx)
	if client == "" {
		ctx.JSON(consts.StatusBadRequest, map[string]string{"error": "client_id is required"})
		return
	}
	entries, err := h.engine.Pinned.List(c, client)
	if err != nil {
		h.writeError(ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, map[string]interface{}{
		"entries": entries,
		"total":   len(entries),
	})
}

// PinnedUsage 客户端 Pin 用量与预算
// GET /api/pinned/usage
func (h *Handler) PinnedUsage(c context.Context, ctx *app.RequestContext) {
	client := clientID(ctx)
	if client == "" {
		ctx.JSON(consts.StatusBadRequest, map[string]string{"error": "client_id is required"})
		return
	}
	usage, err := h.engine.Pinned.GetUsage(c, client)
	if err != nil {
		h.writeError(ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, usage)
}

// PinnedInjection 固定类别顺序的注入文本
// GET /api/pinned/injection
func (h *Handler) PinnedInjection(c context.Context, ctx *app.RequestContext) {
	client := clientID(ctx)
	if client == "" {
		ctx.JSON(consts.StatusBadRequest, map[string]string{"error": "client_id is required"})
		return
	}
	var categories []string
	if raw := ctx.Query("categories"); raw != "" {
		categories = strings.Split(raw, ",")
	}
	text, err := h.engine.Pinned.InjectionContext(c, client, categories)
	if err != nil {
		h.writeError(ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, map[string]interface{}{
		"context": text,
		"tokens":  h.engine.Counter.Count(text),
	})
}

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
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"memory-engine/internal/compositor"
)

// ComposeSection Compose 请求中的一段内容
type ComposeSection struct {
	ID       string `json:"id"`
	Content  string `json:"content"`
	Priority int    `json:"priority"`
}

// ComposeRequest 上下文窗口合成请求体。IncludePinned 时把客户端的
// 永驻内容作为最高优先级段注入窗口头部
type ComposeRequest struct {
	ClientID           string           `json:"client_id,omitempty"`
	Sections           []ComposeSection `json:"sections"`
	EvictLowerPriority bool             `json:"evict_lower_priority"`
	IncludePinned      bool             `json:"include_pinned"`
	PinnedCategories   []string         `json:"pinned_categories,omitempty"`
}

// Compose 在固定 token 上限内装配上下文窗口
// POST /api/compose
func (h *Handler) Compose(c context.Context, ctx *app.RequestContext) {
	var req ComposeRequest
	if err := ctx.BindAndValidate(&req); err != nil {
		ctx.JSON(consts.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if len(req.Sections) == 0 && !req.IncludePinned {
		ctx.JSON(consts.StatusBadRequest, map[string]string{"error": "sections are required"})
		return
	}

	comp := h.engine.NewCompositor()
	if req.IncludePinned {
		if req.ClientID == "" {
			ctx.JSON(consts.StatusBadRequest, map[string]string{
				"error": "client_id is required with include_pinned",
			})
			return
		}
		injection, err := h.engine.Pinned.InjectionContext(c, req.ClientID, req.PinnedCategories)
		if err != nil {
			h.writeError(ctx, err)
			return
		}
		if injection != "" {
			// 永驻内容永远在窗口头部，不参与挤出
			if err := comp.AddSection("pinned_context", injection, 1<<30, false); err != nil {
				h.writeError(ctx, err)
				return
			}
		}
	}
	for _, s := range req.Sections {
		if err := comp.AddSection(s.ID, s.Content, s.Priority, req.EvictLowerPriority); err != nil {
			h.writeError(ctx, err)
			return
		}
	}

	text, meta := comp.ComposeWithMetadata()
	ctx.JSON(consts.StatusOK, map[string]interface{}{
		"context":  text,
		"metadata": meta,
	})
}

// AllocateBudgetRequest 额度划分请求体
type AllocateBudgetRequest struct {
	Ratios map[string]float64 `json:"ratios"`
}

// AllocateBudget 按比例划分窗口可用额度
// POST /api/compose/allocate
func (h *Handler) AllocateBudget(c context.Context, ctx *app.RequestContext) {
	var req AllocateBudgetRequest
	if err := ctx.BindAndValidate(&req); err != nil {
		ctx.JSON(consts.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	alloc, err := h.engine.NewCompositor().AllocateBudget(req.Ratios)
	if err != nil {
		h.writeError(ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, map[string]interface{}{
		"allocations": alloc,
	})
}

// TruncateRequest 截断请求体
type TruncateRequest struct {
	Content   string `json:"content"`
	MaxTokens int    `json:"max_tokens"`
	Strategy  string `json:"strategy"` // end | sentence | middle | paragraph
}

// Truncate 把内容截到 token 上限以内
// POST /api/truncate
func (h *Handler) Truncate(c context.Context, ctx *app.RequestContext) {
	var req TruncateRequest
	if err := ctx.BindAndValidate(&req); err != nil {
		ctx.JSON(consts.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	comp := h.engine.NewCompositor()
	out, err := comp.TruncateToFit(req.Content, req.MaxTokens,
		compositor.TruncationStrategy(req.Strategy))
	if err != nil {
		h.writeError(ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, map[string]interface{}{
		"content": out,
		"tokens":  h.engine.Counter.Count(out),
	})
}

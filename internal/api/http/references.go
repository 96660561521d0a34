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

	"memory-engine/internal/refgraph"
)

// CreateReferenceRequest 引用创建请求体
type CreateReferenceRequest struct {
	ClientID   string                `json:"client_id"`
	Type       string                `json:"type"`
	TargetID   string                `json:"target_id"`
	SpanRef    *refgraph.SpanPointer `json:"span_ref,omitempty"`
	Importance float64               `json:"importance"`
}

// CreateReference 创建引用（版本置 1）
// POST /api/references
func (h *Handler) CreateReference(c context.Context, ctx *app.RequestContext) {
	var req CreateReferenceRequest
	if err := ctx.BindAndValidate(&req); err != nil {
		ctx.JSON(consts.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	ref, err := h.engine.Graph.Create(c, refgraph.Reference{
		ClientID:   req.ClientID,
		Type:       refgraph.ReferenceType(req.Type),
		TargetID:   req.TargetID,
		SpanRef:    req.SpanRef,
		Importance: req.Importance,
	})
	if err != nil {
		h.writeError(ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, map[string]interface{}{
		"reference": ref,
	})
}

// GetReference 获取引用（任意历史版本可见）
// GET /api/references/:id
func (h *Handler) GetReference(c context.Context, ctx *app.RequestContext) {
	ref, err := h.engine.Graph.Get(c, clientID(ctx), ctx.Param("id"))
	if err != nil {
		h.writeError(ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, map[string]interface{}{
		"reference": ref,
	})
}

// ResolveReference 解析位置元数据（不取内容）
// GET /api/references/:id/resolve
func (h *Handler) ResolveReference(c context.Context, ctx *app.RequestContext) {
	ptr, err := h.engine.Graph.Resolve(c, clientID(ctx), ctx.Param("id"))
	if err != nil {
		h.writeError(ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, map[string]interface{}{
		"id":       ctx.Param("id"),
		"span_ref": ptr,
	})
}

// ListReferences 列出客户端全部引用的最新版本
// GET /api/references
func (h *Handler) ListReferences(c context.Context, ctx *app.RequestContext) {
	client := clientID(ctx)
	if client == "" {
		ctx.JSON(consts.StatusBadRequest, map[string]string{"error": "client_id is required"})
		return
	}
	refs, err := h.engine.Graph.List(c, client)
	if err != nil {
		h.writeError(ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, map[string]interface{}{
		"references": refs,
		"total":      len(refs),
	})
}

// CreateVersionRequest copy-on-write 版本更新请求体；nil 字段沿用旧值
type CreateVersionRequest struct {
	ClientID   string                `json:"client_id"`
	TargetID   *string               `json:"target_id,omitempty"`
	SpanRef    *refgraph.SpanPointer `json:"span_ref,omitempty"`
	Importance *float64              `json:"importance,omitempty"`
}

// CreateVersion 追加引用新版本（旧版本保留）
// POST /api/references/:id/versions
func (h *Handler) CreateVersion(c context.Context, ctx *app.RequestContext) {
	var req CreateVersionRequest
	if err := ctx.BindAndValidate(&req); err != nil {
		ctx.JSON(consts.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	ref, err := h.engine.Graph.CreateVersion(c, req.ClientID, ctx.Param("id"), refgraph.VersionUpdate{
		TargetID:   req.TargetID,
		SpanRef:    req.SpanRef,
		Importance: req.Importance,
	})
	if err != nil {
		h.writeError(ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, map[string]interface{}{
		"reference": ref,
	})
}

// VersionHistory 版本链（根到最新）
// GET /api/references/:id/versions
func (h *Handler) VersionHistory(c context.Context, ctx *app.RequestContext) {
	history, err := h.engine.Graph.VersionHistory(c, clientID(ctx), ctx.Param("id"))
	if err != nil {
		h.writeError(ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, map[string]interface{}{
		"versions": history,
		"total":    len(history),
	})
}

// CreateLinkRequest 建边请求体
type CreateLinkRequest struct {
	ClientID      string `json:"client_id"`
	TargetID      string `json:"target_id"`
	Type          string `json:"type"`
	Bidirectional bool   `json:"bidirectional"`
}

// CreateLink 在引用间建边；bidirectional 时自动插入确定性反向边
// POST /api/references/:id/links
func (h *Handler) CreateLink(c context.Context, ctx *app.RequestContext) {
	var req CreateLinkRequest
	if err := ctx.BindAndValidate(&req); err != nil {
		ctx.JSON(consts.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	err := h.engine.Graph.Link(c, req.ClientID, ctx.Param("id"), req.TargetID,
		refgraph.LinkType(req.Type), req.Bidirectional)
	if err != nil {
		h.writeError(ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, map[string]string{
		"status": "linked",
	})
}

// ListLinks 列出引用的全部出边
// GET /api/references/:id/links
func (h *Handler) ListLinks(c context.Context, ctx *app.RequestContext) {
	links, err := h.engine.Graph.Links(c, clientID(ctx), ctx.Param("id"))
	if err != nil {
		h.writeError(ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, map[string]interface{}{
		"links": links,
		"total": len(links),
	})
}

// DeleteReferencesRequest 引用批量删除请求体
type DeleteReferencesRequest struct {
	ClientID string   `json:"client_id"`
	IDs      []string `json:"ids"`
}

// DeleteReferences 删除引用及其出入边
// POST /api/references/delete
func (h *Handler) DeleteReferences(c context.Context, ctx *app.RequestContext) {
	var req DeleteReferencesRequest
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
	if err := h.engine.Graph.Delete(c, req.ClientID, req.IDs); err != nil {
		h.writeError(ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, map[string]interface{}{
		"deleted": len(req.IDs),
	})
}

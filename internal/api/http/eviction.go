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

	"memory-engine/internal/eviction"
)

// EvictRequest 驱逐请求体
type EvictRequest struct {
	TargetTokens int64  `json:"target_tokens,omitempty"`
	TargetCount  int    `json:"target_count,omitempty"`
	ClientID     string `json:"client_id,omitempty"`
}

// Evict 执行一趟驱逐；并发在途时返回空结果
// POST /api/evict
func (h *Handler) Evict(c context.Context, ctx *app.RequestContext) {
	var req EvictRequest
	if err := ctx.BindAndValidate(&req); err != nil {
		ctx.JSON(consts.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	result, err := h.engine.Evictor.Evict(c, eviction.Request{
		TargetTokens: req.TargetTokens,
		TargetCount:  req.TargetCount,
		ClientID:     req.ClientID,
	})
	if err != nil {
		h.writeError(ctx, err)
		return
	}
	hlog.CtxInfof(c, "eviction run: %d entries, %d tokens reclaimed",
		len(result.EvictedIDs), result.EvictedTokens)
	ctx.JSON(consts.StatusOK, result)
}

// CheckPressure 池压力检查：超过阈值则驱逐超出部分
// POST /api/evict/pressure
func (h *Handler) CheckPressure(c context.Context, ctx *app.RequestContext) {
	result, err := h.engine.Evictor.CheckPressure(c)
	if err != nil {
		h.writeError(ctx, err)
		return
	}
	ctx.JSON(consts.StatusOK, result)
}

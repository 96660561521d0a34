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
	"bytes"
	"context"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"memory-engine/internal/engine"
	"memory-engine/pkg/errors"
	"memory-engine/pkg/log"
	"memory-engine/pkg/metrics"
)

// Handler API 处理器
type Handler struct {
	engine *engine.Engine
	logger *log.Logger
}

// NewHandler 创建 API 处理器
func NewHandler(eng *engine.Engine, logger *log.Logger) *Handler {
	return &Handler{engine: eng, logger: logger}
}

// Health 健康检查
// GET /api/health
func (h *Handler) Health(c context.Context, ctx *app.RequestContext) {
	ctx.JSON(consts.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Metrics Prometheus 指标导出
// GET /metrics
func (h *Handler) Metrics(c context.Context, ctx *app.RequestContext) {
	var buf bytes.Buffer
	if err := metrics.WritePrometheus(&buf); err != nil {
		ctx.JSON(consts.StatusInternalServerError, map[string]string{
			"error": err.Error(),
		})
		return
	}
	ctx.Data(consts.StatusOK, "text/plain; version=0.0.4; charset=utf-8", buf.Bytes())
}

// writeError 统一错误映射：预算类拒绝 429、查找未命中 404、
// 终态会话与完整性冲突 409、参数错误 400，其余 500
func (h *Handler) writeError(ctx *app.RequestContext, err error) {
	var budgetErr *errors.BudgetExhaustedError
	if errors.As(err, &budgetErr) {
		metrics.BudgetRejectTotal.WithLabelValues(string(budgetErr.Dimension)).Inc()
		ctx.JSON(consts.StatusTooManyRequests, map[string]interface{}{
			"error":     err.Error(),
			"dimension": string(budgetErr.Dimension),
			"requested": budgetErr.Requested,
			"remaining": budgetErr.Remaining,
		})
		return
	}
	var pinErr *errors.PinnedBudgetExceededError
	if errors.As(err, &pinErr) {
		ctx.JSON(consts.StatusTooManyRequests, map[string]interface{}{
			"error":     err.Error(),
			"used":      pinErr.Used,
			"budget":    pinErr.Budget,
			"remaining": pinErr.Remaining(),
		})
		return
	}
	var integrityErr *errors.IntegrityMismatchError
	if errors.As(err, &integrityErr) {
		ctx.JSON(consts.StatusConflict, map[string]interface{}{
			"error":   err.Error(),
			"span_id": integrityErr.SpanID,
			"flagged": true,
		})
		return
	}

	switch {
	case errors.Is(err, errors.ErrNotFound),
		errors.Is(err, errors.ErrSpanNotFound),
		errors.Is(err, errors.ErrReferenceNotFound),
		errors.Is(err, errors.ErrSessionNotFound):
		ctx.JSON(consts.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, errors.ErrSessionClosed), errors.Is(err, errors.ErrSessionTimeout):
		ctx.JSON(consts.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, errors.ErrInvalidArg):
		ctx.JSON(consts.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		ctx.JSON(consts.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
}

// clientID 请求的客户端标识：query 优先，其次 header
func clientID(ctx *app.RequestContext) string {
	if id := ctx.Query("client_id"); id != "" {
		return id
	}
	return string(ctx.GetHeader("X-Client-ID"))
}

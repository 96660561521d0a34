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
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/config"
	"github.com/cloudwego/hertz/pkg/route"
	"github.com/hertz-contrib/jwt"

	"memory-engine/internal/api/http/middleware"
)

// Router HTTP 路由器
type Router struct {
	handler    *Handler
	middleware *middleware.Middleware
	jwtAuth    *jwt.HertzJWTMiddleware
	rateLimit  int // >0 时启用限流
}

// NewRouter 创建 HTTP 路由器
func NewRouter(handler *Handler, mw *middleware.Middleware) *Router {
	return &Router{handler: handler, middleware: mw}
}

// SetJWT 启用 JWT 认证（/api 组整体生效，健康检查与 /metrics 除外）
func (r *Router) SetJWT(jwtAuth *jwt.HertzJWTMiddleware) {
	r.jwtAuth = jwtAuth
}

// SetRateLimit 启用全局限流
func (r *Router) SetRateLimit(rps int) {
	r.rateLimit = rps
}

// Build 构建 Hertz 服务并注册全部路由
func (r *Router) Build(addr string, opts ...config.Option) *server.Hertz {
	opts = append(opts, server.WithHostPorts(addr))
	h := server.Default(opts...)
	h.Use(r.middleware.CORS())
	if r.rateLimit > 0 {
		h.Use(r.middleware.RateLimit(r.rateLimit))
	}

	h.GET("/metrics", r.handler.Metrics)
	h.GET("/api/health", r.handler.Health)
	if r.jwtAuth != nil {
		h.POST("/api/login", r.jwtAuth.LoginHandler)
		h.POST("/api/refresh", r.jwtAuth.RefreshHandler)
	}

	api := h.Group("/api")
	if r.jwtAuth != nil {
		api.Use(r.jwtAuth.MiddlewareFunc())
	}
	r.registerRoutes(api)
	return h
}

func (r *Router) registerRoutes(api *route.RouterGroup) {
	spans := api.Group("/spans")
	{
		spans.POST("", r.handler.RegisterSpan)
		spans.GET("", r.handler.ListSpans)
		spans.POST("/delete", r.handler.DeleteSpans)
		spans.GET("/:id", r.handler.GetSpan)
		spans.GET("/:id/content", r.handler.GetSpanContent)
	}

	refs := api.Group("/references")
	{
		refs.POST("", r.handler.CreateReference)
		refs.GET("", r.handler.ListReferences)
		refs.POST("/delete", r.handler.DeleteReferences)
		refs.GET("/:id", r.handler.GetReference)
		refs.GET("/:id/resolve", r.handler.ResolveReference)
		refs.POST("/:id/versions", r.handler.CreateVersion)
		refs.GET("/:id/versions", r.handler.VersionHistory)
		refs.POST("/:id/links", r.handler.CreateLink)
		refs.GET("/:id/links", r.handler.ListLinks)
	}

	sessions := api.Group("/sessions")
	{
		sessions.POST("", r.handler.StartSession)
		sessions.GET("/:id", r.handler.GetSession)
		sessions.POST("/:id/retrieve", r.handler.Retrieve)
		sessions.GET("/:id/peek", r.handler.Peek)
		sessions.POST("/:id/write", r.handler.WriteMemory)
		sessions.POST("/:id/subcall", r.handler.Subcall)
		sessions.POST("/:id/retry", r.handler.RecordRetry)
		sessions.POST("/:id/end", r.handler.EndSession)
	}

	api.POST("/compose", r.handler.Compose)
	api.POST("/compose/allocate", r.handler.AllocateBudget)
	api.POST("/truncate", r.handler.Truncate)

	pinned := api.Group("/pinned")
	{
		pinned.POST("", r.handler.Pin)
		pinned.GET("", r.handler.ListPinned)
		pinned.GET("/usage", r.handler.PinnedUsage)
		pinned.GET("/injection", r.handler.PinnedInjection)
		pinned.DELETE("/:id", r.handler.Unpin)
	}

	api.POST("/evict", r.handler.Evict)
	api.POST("/evict/pressure", r.handler.CheckPressure)
}

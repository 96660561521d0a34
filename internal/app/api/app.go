package api

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	hertzslog "github.com/hertz-contrib/logger/slog"
	"github.com/hertz-contrib/obs-opentelemetry/provider"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"

	"memory-engine/internal/api/http"
	"memory-engine/internal/api/http/middleware"
	"memory-engine/internal/app"
)

// otelProviderShutdown 用于优雅关闭时关闭 OpenTelemetry provider
type otelProviderShutdown interface {
	Shutdown(ctx context.Context) error
}

// App API 应用（装配 HTTP Router、Handler、Middleware；仅依赖 Engine）
type App struct {
	config       *app.Bootstrap
	router       *http.Router
	hertz        *server.Hertz
	otelProvider otelProviderShutdown
	pressureStop chan struct{}
}

// NewApp 创建 API 应用（由 cmd/api 调用）
func NewApp(bootstrap *app.Bootstrap) (*App, error) {
	if bootstrap == nil || bootstrap.Engine == nil {
		return nil, fmt.Errorf("bootstrap engine is required")
	}

	handler := http.NewHandler(bootstrap.Engine, bootstrap.Logger)
	mw := middleware.NewMiddleware()
	router := http.NewRouter(handler, mw)

	if bootstrap.Config != nil {
		apiCfg := bootstrap.Config.API.Middleware
		if apiCfg.RateLimit && apiCfg.RateLimitRPS > 0 {
			router.SetRateLimit(apiCfg.RateLimitRPS)
		}
		if apiCfg.Auth && apiCfg.JWTKey != "" {
			timeout := parseDuration(apiCfg.JWTTimeout, time.Hour)
			maxRefresh := parseDuration(apiCfg.JWTMaxRefresh, time.Hour)
			jwtAuth, err := middleware.NewJWTAuth([]byte(apiCfg.JWTKey), timeout, maxRefresh)
			if err != nil {
				bootstrap.Logger.Warn("JWT 初始化失败，将跳过认证", "error", err)
			} else {
				router.SetJWT(jwtAuth)
				bootstrap.Logger.Info("JWT 认证已启用")
			}
		}
	}

	return &App{
		config: bootstrap,
		router: router,
	}, nil
}

// Run 启动 HTTP 服务，addr 如 ":8080"
func (a *App) Run(addr string) error {
	a.config.Logger.Info("API 服务启动", "addr", addr)

	// 使用 Hertz slog 扩展，与 bootstrap 配置对齐
	output := os.Stdout
	if a.config.Config != nil && a.config.Config.Log.File != "" {
		f, err := os.OpenFile(a.config.Config.Log.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("打开日志文件失败: %w", err)
		}
		output = f
	}
	levelVar := &slog.LevelVar{}
	if a.config.Config != nil && a.config.Config.Log.Level != "" {
		switch a.config.Config.Log.Level {
		case "debug":
			levelVar.Set(slog.LevelDebug)
		case "warn":
			levelVar.Set(slog.LevelWarn)
		case "error":
			levelVar.Set(slog.LevelError)
		default:
			levelVar.Set(slog.LevelInfo)
		}
	} else {
		levelVar.Set(slog.LevelInfo)
	}
	hertzLogger := hertzslog.NewLogger(
		hertzslog.WithOutput(output),
		hertzslog.WithLevel(levelVar),
	)
	hlog.SetLogger(hertzLogger)

	// 可选：启用链路追踪（OpenTelemetry）
	if a.config.Config != nil && a.config.Config.Monitoring.Tracing.Enable {
		serviceName := a.config.Config.Monitoring.Tracing.ServiceName
		if serviceName == "" {
			serviceName = "memory-engine-api"
		}
		exportEndpoint := a.config.Config.Monitoring.Tracing.ExportEndpoint
		if exportEndpoint == "" {
			exportEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
		}
		if exportEndpoint != "" {
			opts := []provider.Option{
				provider.WithServiceName(serviceName),
				provider.WithExportEndpoint(exportEndpoint),
			}
			if a.config.Config.Monitoring.Tracing.Insecure {
				opts = append(opts, provider.WithInsecure())
			}
			p := provider.NewOpenTelemetryProvider(opts...)
			a.otelProvider = p
			tracerOpt, cfg := hertztracing.NewServerTracer()
			a.hertz = a.router.Build(addr, tracerOpt)
			a.hertz.Use(hertztracing.ServerMiddleware(cfg))
			a.config.Logger.Info("链路追踪已启用", "service_name", serviceName, "endpoint", exportEndpoint)
		} else {
			a.hertz = a.router.Build(addr)
		}
	} else {
		a.hertz = a.router.Build(addr)
	}

	// 配置了池上限时后台周期检查内存压力，超限自动驱逐
	if a.config.Config != nil && a.config.Config.Engine.Eviction.MaxPoolTokens > 0 {
		a.pressureStop = make(chan struct{})
		go a.pressureLoop()
	}
	return a.hertz.Run()
}

// pressureLoop 周期性池压力检查
func (a *App) pressureLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-a.pressureStop:
			return
		case <-ticker.C:
			result, err := a.config.Engine.Evictor.CheckPressure(context.Background())
			if err != nil {
				a.config.Logger.Warn("池压力检查失败", "error", err)
				continue
			}
			if len(result.EvictedIDs) > 0 {
				a.config.Logger.Info("池压力驱逐完成",
					"entries", len(result.EvictedIDs),
					"tokens", result.EvictedTokens)
			}
		}
	}
}

// Shutdown 优雅关闭（传入 ctx 以支持超时，如 cmd 层 WithTimeout）
func (a *App) Shutdown(ctx context.Context) error {
	if a.pressureStop != nil {
		close(a.pressureStop)
	}
	if a.otelProvider != nil {
		_ = a.otelProvider.Shutdown(ctx)
	}
	if a.hertz != nil {
		if err := a.hertz.Shutdown(ctx); err != nil {
			return err
		}
	}
	return nil
}

// parseDuration 解析时长字符串，无效或空时返回 defaultVal
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

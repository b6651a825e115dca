package pushgate

import (
	"context"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tokmz/pushgate/pkg/errors"
	"github.com/tokmz/pushgate/pkg/logger"
	"github.com/tokmz/pushgate/pkg/ws"
)

// ErrMissingDependency 缺少必需依赖
var ErrMissingDependency = errors.New("missing_dependency", "missing required dependency")

// StatsProvider 附加到 /stats 的统计来源
type StatsProvider func() any

// Engine 网关 HTTP 入口：WebSocket 升级、健康检查、统计与服务端发布
type Engine struct {
	config *Config
	engine *gin.Engine
	server *http.Server
	gw     *ws.Gateway
	log    logger.Logger

	mu             sync.RWMutex
	statsProviders map[string]StatsProvider
	shutdownOnce   sync.Once
	shutdownErr    error
}

// New 创建 Engine，gw 与 log 必须非空
func New(gw *ws.Gateway, log logger.Logger, opts ...Option) (*Engine, error) {
	if gw == nil || log == nil {
		return nil, ErrMissingDependency
	}

	config := DefaultConfig()
	for _, opt := range opts {
		opt(config)
	}
	config.setDefaults()

	// gin.SetMode 是全局操作，进程内只应创建一个 Engine
	if gin.Mode() == gin.DebugMode || config.Mode != gin.DebugMode {
		gin.SetMode(config.Mode)
	}
	silenceGin()

	ginEngine := gin.New()
	if config.TrustedProxies != nil {
		if err := ginEngine.SetTrustedProxies(config.TrustedProxies); err != nil {
			return nil, ErrInvalidConfig.WithMessage("invalid trusted proxies").WithError(err)
		}
	}

	e := &Engine{
		config:         config,
		engine:         ginEngine,
		gw:             gw,
		log:            log.With(zap.String("component", "http")),
		statsProviders: make(map[string]StatsProvider),
	}
	e.engine.Use(WrapMiddlewares(Recovery(e.log))...)
	e.engine.Use(WrapMiddlewares(config.Middlewares...)...)
	e.mountRoutes()
	return e, nil
}

// Use 注册全局中间件，仅对之后注册的路由生效
func (e *Engine) Use(middlewares ...HandlerFunc) {
	e.engine.Use(WrapMiddlewares(middlewares...)...)
}

// Group 返回路由组
func (e *Engine) Group(path string, middlewares ...HandlerFunc) *RouterGroup {
	return &RouterGroup{group: e.engine.Group(path, WrapMiddlewares(middlewares...)...)}
}

// Handler 返回 http.Handler（用于测试或嵌入其它服务器）
func (e *Engine) Handler() http.Handler {
	return e.engine
}

// Config 当前配置
func (e *Engine) Config() *Config {
	return e.config
}

// AddStatsProvider 在 /stats 中追加一个命名统计段
func (e *Engine) AddStatsProvider(name string, fn StatsProvider) {
	if name == "" || fn == nil {
		return
	}
	e.mu.Lock()
	e.statsProviders[name] = fn
	e.mu.Unlock()
}

// Run 启动 HTTP 服务器与网关后台任务，ctx 结束后执行优雅关机
func (e *Engine) Run(ctx context.Context) error {
	e.server = &http.Server{
		Addr:           e.config.Server.Addr,
		Handler:        e.engine,
		ReadTimeout:    e.config.Server.ReadTimeout,
		WriteTimeout:   e.config.Server.WriteTimeout,
		IdleTimeout:    e.config.Server.IdleTimeout,
		MaxHeaderBytes: e.config.Server.MaxHeaderBytes,
	}
	if e.config.Mode == gin.DebugMode {
		e.printBanner(e.config.Server.Addr)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		e.log.Info("http server listening", zap.String("addr", e.server.Addr))
		if err := e.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return e.gw.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), e.config.Shutdown.Timeout)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Shutdown 关闭网关连接（1001）后关闭 HTTP 服务器，只执行一次
func (e *Engine) Shutdown(ctx context.Context) error {
	e.shutdownOnce.Do(func() {
		e.log.Info("shutting down")
		if e.config.Shutdown.BeforeShutdown != nil {
			e.config.Shutdown.BeforeShutdown()
		}

		// 升级后的连接已脱离 http.Server 管理，需先由网关关闭
		if err := e.gw.Shutdown(ctx); err != nil {
			e.log.Warn("gateway shutdown", zap.Error(err))
			e.shutdownErr = err
		}
		if e.server != nil {
			if err := e.server.Shutdown(ctx); err != nil {
				e.log.Error("http server forced to close", zap.Error(err))
				e.shutdownErr = err
			}
		}

		if e.config.Shutdown.AfterShutdown != nil {
			e.config.Shutdown.AfterShutdown()
		}
		e.log.Info("server exited")
	})
	return e.shutdownErr
}

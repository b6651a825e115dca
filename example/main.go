package main

import (
	"context"
	"flag"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/tokmz/pushgate"
	"github.com/tokmz/pushgate/middleware"
	"github.com/tokmz/pushgate/pkg/auth"
	"github.com/tokmz/pushgate/pkg/cache"
	"github.com/tokmz/pushgate/pkg/catalog"
	"github.com/tokmz/pushgate/pkg/config"
	"github.com/tokmz/pushgate/pkg/journal"
	"github.com/tokmz/pushgate/pkg/logger"
	"github.com/tokmz/pushgate/pkg/market"
	"github.com/tokmz/pushgate/pkg/orm"
	"github.com/tokmz/pushgate/pkg/session"
	"github.com/tokmz/pushgate/pkg/source"
	"github.com/tokmz/pushgate/pkg/tracing"
	"github.com/tokmz/pushgate/pkg/ws"
)

// 业务命令，未接入执行器时返回 service_unavailable
var commandTypes = []string{"session_start", "session_stop", "activate_strategy"}

func main() {
	path := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	if err := run(*path); err != nil {
		log, _ := logger.NewProduction()
		log.Fatal("pushgate exited", zap.Error(err))
	}
}

func run(path string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		gw  *ws.Gateway
		log logger.Logger
	)
	// 监听在网关构建完成后才启动，回调读取 gw/log 时二者已赋值
	cfg, watcher, err := pushgate.LoadConfig(path,
		config.WithOnChange(func() { reload(path, gw, log) }),
	)
	if err != nil {
		return err
	}
	defer watcher.Close()

	logCfg, err := cfg.Logger.LoggerConfig()
	if err != nil {
		return err
	}
	if log, err = logger.New(logCfg); err != nil {
		return err
	}
	defer log.Sync()

	if _, err := tracing.NewTracerProvider(cfg.Tracing); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			log.Warn("tracing shutdown", zap.Error(err))
		}
	}()

	c, err := cache.New(cfg.Cache)
	if err != nil {
		return err
	}
	defer c.Close()
	c = cache.NewTracing(c)

	var backend session.Backend = session.NewMemoryBackend()
	if cfg.Session.Backend == session.BackendCache {
		backend = session.NewCacheBackend(c)
	}
	sessions, err := session.New(backend, cfg.Session, log)
	if err != nil {
		return err
	}

	authenticator, err := auth.New(cfg.Auth, c, log)
	if err != nil {
		return err
	}

	events := ws.NewEventBus(4, 4096)
	defer events.Close()

	gwOpts := []ws.GatewayOption{ws.WithEventBus(events)}
	if cfg.Catalog != nil && cfg.Catalog.Path != "" {
		cat, err := catalog.Load(*cfg.Catalog)
		if err != nil {
			return err
		}
		gwOpts = append(gwOpts, ws.WithStreamPolicy(cat))
		log.Info("stream catalog loaded", zap.Int("streams", len(cat.Streams())))
	}

	if gw, err = ws.New(cfg.WS, sessions, authenticator, log, gwOpts...); err != nil {
		return err
	}
	clock, err := market.NewClock(cfg.Market)
	if err != nil {
		return err
	}
	if err := registerHandlers(gw, clock, log); err != nil {
		return err
	}

	mws := []pushgate.HandlerFunc{middleware.Tracing(), middleware.Logger(log)}
	if cfg.Server.HandshakeRate > 0 {
		mws = append(mws, middleware.RateLimiter(&middleware.RateLimiterConfig{
			RequestsPerSecond: cfg.Server.HandshakeRate,
			Burst:             cfg.Server.HandshakeBurst,
			Paths:             []string{cfg.Server.WSPath},
			Logger:            log,
		}))
	}
	engine, err := pushgate.New(gw, log, pushgate.WithConfig(cfg), pushgate.WithMiddleware(mws...))
	if err != nil {
		return err
	}

	if cfg.Journal.Enabled {
		j, db, err := openJournal(cfg.Journal, events, log)
		if err != nil {
			return err
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := j.Close(closeCtx); err != nil {
				log.Warn("journal close", zap.Error(err))
			}
			_ = orm.Close(db)
		}()
		engine.AddStatsProvider("journal", func() any {
			return map[string]int64{"written": j.Written(), "dropped": j.Dropped()}
		})
	}

	var sources []source.Source
	if cfg.Sources != nil {
		dispatcher, err := source.NewDispatcher(gw, source.NewDeduper(cfg.Sources.Dedup), log)
		if err != nil {
			return err
		}
		if sources, err = source.New(cfg.Sources, dispatcher, log); err != nil {
			return err
		}
		engine.AddStatsProvider("sources", func() any { return dispatcher.Stats() })
	}

	var announcer *market.Announcer
	if cfg.Market != nil && cfg.Market.Announce != nil {
		if announcer, err = market.NewAnnouncer(clock, gw, cfg.Market.Announce, log); err != nil {
			return err
		}
	}

	if path != "" {
		watcher.StartWatch()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return engine.Run(gctx) })
	if announcer != nil {
		g.Go(func() error { return announcer.Run(gctx) })
	}
	for _, s := range sources {
		g.Go(func() error {
			defer s.Close()
			return s.Run(gctx)
		})
	}

	log.Info("pushgate started",
		zap.String("addr", cfg.Server.Addr),
		zap.String("ws_path", cfg.Server.WSPath),
		zap.String("version", pushgate.Version),
	)
	return g.Wait()
}

func registerHandlers(gw *ws.Gateway, clock *market.Clock, log logger.Logger) error {
	if err := market.Register(gw, clock); err != nil {
		return err
	}

	cmd, err := ws.NewCommandHandler(nil, log)
	if err != nil {
		return err
	}
	for _, t := range commandTypes {
		if err := gw.Register(t, cmd, ws.RequireAuth(), ws.RequireSessionID()); err != nil {
			return err
		}
	}
	return nil
}

func openJournal(cfg pushgate.JournalConfig, events *ws.EventBus, log logger.Logger) (*journal.Journal, *gorm.DB, error) {
	db, err := orm.New(cfg.Database, log)
	if err != nil {
		return nil, nil, err
	}
	j, err := journal.New(db, cfg.Writer, log)
	if err != nil {
		_ = orm.Close(db)
		return nil, nil, err
	}
	j.Attach(events)
	return j, db, nil
}

// reload 热更新日志级别与限流配置，其它字段需重启生效
func reload(path string, gw *ws.Gateway, log logger.Logger) {
	cfg, _, err := pushgate.LoadConfig(path)
	if err != nil {
		log.Warn("config reload rejected", zap.Error(err))
		return
	}
	level, err := logger.ParseLevel(cfg.Logger.Level)
	if err != nil {
		log.Warn("config reload rejected", zap.Error(err))
		return
	}
	log.SetLevel(level)
	gw.SetLimits(cfg.WS.Limits())
	log.Info("config reloaded",
		zap.String("level", cfg.Logger.Level),
		zap.Int("max_messages_per_minute", cfg.WS.MaxMessagesPerMinute),
	)
}

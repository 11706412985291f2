package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"go.uber.org/zap"

	"github.com/MorseWayne/stock_ledger/internal/api"
	"github.com/MorseWayne/stock_ledger/internal/cache"
	"github.com/MorseWayne/stock_ledger/internal/config"
	"github.com/MorseWayne/stock_ledger/internal/database"
	"github.com/MorseWayne/stock_ledger/internal/limiter"
	"github.com/MorseWayne/stock_ledger/internal/logger"
	mw "github.com/MorseWayne/stock_ledger/internal/middleware"
	"github.com/MorseWayne/stock_ledger/internal/mq"
	"github.com/MorseWayne/stock_ledger/internal/repo"
	"github.com/MorseWayne/stock_ledger/internal/router"
	"github.com/MorseWayne/stock_ledger/internal/service"
)

// initConfigAndLogger 初始化配置和日志器
func initConfigAndLogger() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %v", err)
	}

	// init logger
	lg, err := logger.New(cfg.App.Env, cfg.Log.Level, cfg.Log.Encoding, cfg.App.Name, cfg.App.Version)
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %v", err)
	}

	return cfg, lg, nil
}

// initDatabase 初始化数据库连接并执行迁移
func initDatabase(cfg *config.Config, lg *zap.Logger) (*database.DB, error) {
	db, err := database.New(cfg, lg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %v", err)
	}

	// 启动时、HTTP服务器起监听前执行迁移，
	// 保证处理请求时库表结构已经就绪
	migrationsDir := cfg.Migrations.Dir
	lg.Sugar().Infow("using migrations directory", "path", migrationsDir)

	if err := db.RunMigrations(migrationsDir); err != nil {
		return nil, fmt.Errorf("failed to run database migrations: %v", err)
	}

	return db, nil
}

// initCache 初始化缓存实例
func initCache(cfg *config.Config, lg *zap.Logger) cache.Cache {
	var cacheInstance cache.Cache
	if cfg.Cache.Enabled {
		switch cfg.Cache.Type {
		case "redis":
			redisAddr := fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port)
			redisCache, err := cache.NewRedisCache(redisAddr, cfg.Redis.Password, cfg.Redis.DB)
			if err != nil {
				lg.Sugar().Warnw("failed to connect to Redis, falling back to memory cache", "error", err)
				cacheInstance = cache.NewMemoryCache()
				lg.Sugar().Infow("cache enabled", "type", "memory (fallback)", "ttl", cfg.Cache.TTL)
			} else {
				cacheInstance = redisCache
				lg.Sugar().Infow("cache enabled", "type", "redis", "addr", redisAddr, "ttl", cfg.Cache.TTL)
			}
		case "memory":
			cacheInstance = cache.NewMemoryCache()
			lg.Sugar().Infow("cache enabled", "type", "memory", "ttl", cfg.Cache.TTL)
		default:
			lg.Sugar().Warnw("unknown cache type, using memory cache", "type", cfg.Cache.Type)
			cacheInstance = cache.NewMemoryCache()
			lg.Sugar().Infow("cache enabled", "type", "memory (default)", "ttl", cfg.Cache.TTL)
		}
	} else {
		cacheInstance = cache.NewNullCache()
		lg.Sugar().Infow("cache disabled")
	}
	return cacheInstance
}

// initEventPublisher 初始化变动事件发布器。
// 消息队列未启用或连接失败时退化为空发布器：事件是尽力而为的，
// 不能因为MQ不可用而拒绝库存写入。
func initEventPublisher(cfg *config.Config, lg *zap.Logger) (service.EventPublisher, func()) {
	if !cfg.MQ.Enabled {
		lg.Sugar().Infow("message queue disabled")
		return mq.NullPublisher{}, func() {}
	}

	mqCfg := mq.DefaultConfig()
	mqCfg.Host = cfg.MQ.Host
	mqCfg.Port = cfg.MQ.Port
	mqCfg.Username = cfg.MQ.Username
	mqCfg.Password = cfg.MQ.Password
	mqCfg.VHost = cfg.MQ.VHost

	cm := mq.NewConnectionManager(mqCfg, lg)
	ctx, cancel := context.WithTimeout(context.Background(), mqCfg.ConnectionTimeout)
	defer cancel()
	if err := cm.Connect(ctx); err != nil {
		lg.Sugar().Warnw("failed to connect to message queue, events disabled", "error", err)
		return mq.NullPublisher{}, func() {}
	}

	producer := mq.NewProducer(cm, mqCfg.Producer, lg)
	publisher := mq.NewMovementPublisher(producer, cfg.MQ.Exchange, cfg.App.Name, lg)
	lg.Sugar().Infow("message queue enabled", "host", cfg.MQ.Host, "exchange", cfg.MQ.Exchange)

	closer := func() {
		if err := producer.Close(); err != nil {
			lg.Sugar().Errorw("failed to close mq producer", "err", err)
		}
		if err := cm.Close(); err != nil {
			lg.Sugar().Errorw("failed to close mq connection", "err", err)
		}
	}
	return publisher, closer
}

// initMutationLimiter 初始化写操作限流器；仅在Redis缓存可用时启用
func initMutationLimiter(cfg *config.Config, cacheInstance cache.Cache, lg *zap.Logger) limiter.Limiter {
	if !cfg.RateLimit.Enabled {
		return nil
	}
	redisCache, ok := cacheInstance.(*cache.RedisCache)
	if !ok {
		return nil
	}

	factory := limiter.NewFactory(redisCache.Client())
	lim, err := factory.Create(limiter.LimiterType(cfg.RateLimit.Algorithm), &limiter.Config{
		Rate:   cfg.RateLimit.Rate,
		Window: cfg.RateLimit.Window,
		Burst:  cfg.RateLimit.Burst,
	})
	if err != nil {
		lg.Sugar().Warnw("failed to create mutation limiter", "error", err)
		return nil
	}
	lg.Sugar().Infow("mutation rate limiter enabled", "algorithm", cfg.RateLimit.Algorithm)
	return lim
}

// initDependencies 初始化应用依赖（仓储、服务、处理器）
func initDependencies(cfg *config.Config, db *database.DB, cacheInstance cache.Cache,
	events service.EventPublisher, mutationLimiter limiter.Limiter, lg *zap.Logger) *router.Dependencies {
	// 依赖注入链：仓储 -> 服务 -> API处理器
	uow := repo.NewUnitOfWork(db.DB)
	reads := repo.NewRepos(db.DB)

	// 快照读路径可选缓存装饰器；写路径始终走事务内的裸仓储
	if cfg.Cache.Enabled {
		reads.Snapshots = repo.NewCachedSnapshotRepository(reads.Snapshots, cacheInstance, cfg.Cache.TTL)
	}

	guard := service.NewIdempotencyGuard(lg)
	jwtService := service.NewJWTService(cfg, lg)

	inventoryService := service.NewInventoryService(uow, reads, guard, events, lg)
	poService := service.NewPurchaseOrderService(uow, reads, guard, inventoryService, events, lg)
	reportService := service.NewReportService(repo.NewReportRepository(db.DB), lg)

	return &router.Dependencies{
		AuthHandler:          api.NewAuthHandler(jwtService, lg),
		InventoryHandler:     api.NewInventoryHandler(inventoryService, lg),
		PurchaseOrderHandler: api.NewPurchaseOrderHandler(poService, lg),
		ReportHandler:        api.NewReportHandler(reportService, lg),
		JWTService:           jwtService,
		MutationLimiter:      mutationLimiter,
	}
}

// startServer 启动服务器并处理优雅关闭
func startServer(cfg *config.Config, handler http.Handler, lg *zap.Logger) {
	addr := fmt.Sprintf(":%d", cfg.App.Port)
	lg.Sugar().Infow("server starting", "addr", addr)
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}

	// 启动服务器（异步）
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	select {
	case err := <-serverErrCh:
		if err != nil && err != http.ErrServerClosed {
			lg.Sugar().Fatalw("server error", "err", err)
		}
	case <-quit:
		lg.Sugar().Infow("shutdown signal received")
	}

	// 优雅关闭
	ctx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		lg.Sugar().Errorw("server shutdown error", "err", err)
	}
	lg.Sugar().Infow("server exited")
}

// main 为应用入口，协调各个组件的初始化和启动
func main() {
	// 1) 加载配置和初始化日志
	cfg, lg, err := initConfigAndLogger()
	if err != nil {
		log.Fatalf("failed to initialize config and logger: %v", err)
	}

	// 2) 初始化数据库连接并执行迁移
	db, err := initDatabase(cfg, lg)
	if err != nil {
		lg.Sugar().Fatalw("failed to initialize database", "err", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			lg.Sugar().Errorw("failed to close database connection", "err", err)
		}
	}()

	// 3) 初始化缓存
	cacheInstance := initCache(cfg, lg)

	// 4) 初始化事件发布器（可选）
	events, closeEvents := initEventPublisher(cfg, lg)
	defer closeEvents()

	// 5) 初始化写操作限流器（可选）
	mutationLimiter := initMutationLimiter(cfg, cacheInstance, lg)

	// 6) 初始化应用依赖（仓储、服务、处理器）
	deps := initDependencies(cfg, db, cacheInstance, events, mutationLimiter, lg)

	// 7) 设置路由，外层再包一层请求超时
	handler := router.New().Setup(cfg, deps, lg)
	handler = mw.Timeout(cfg.App.RequestTimeout)(handler)

	// 8) 启动 HTTP 服务器
	startServer(cfg, handler, lg)
}

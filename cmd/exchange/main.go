// Exchange 主程序
// 功能：下单资金冻结、订单生命周期、成交结算记账
// 架构：DDD + gin HTTP + gRPC 健康检查 + Kafka 成交消费 + Outbox 事件投递
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	ledgerapp "github.com/wyfcoding/exchangecore/internal/ledger/application"
	ledgerdomain "github.com/wyfcoding/exchangecore/internal/ledger/domain"
	ledgermysql "github.com/wyfcoding/exchangecore/internal/ledger/infrastructure/persistence/mysql"
	"github.com/wyfcoding/exchangecore/internal/ledger/interfaces/consumer"
	ledgerhttp "github.com/wyfcoding/exchangecore/internal/ledger/interfaces/http"
	orderapp "github.com/wyfcoding/exchangecore/internal/order/application"
	orderdomain "github.com/wyfcoding/exchangecore/internal/order/domain"
	"github.com/wyfcoding/exchangecore/internal/order/infrastructure/messaging"
	"github.com/wyfcoding/exchangecore/internal/order/infrastructure/orderbook"
	ordermysql "github.com/wyfcoding/exchangecore/internal/order/infrastructure/persistence/mysql"
	orderhttp "github.com/wyfcoding/exchangecore/internal/order/interfaces/http"
	"github.com/wyfcoding/exchangecore/pkg/cache"
	"github.com/wyfcoding/exchangecore/pkg/config"
	"github.com/wyfcoding/exchangecore/pkg/db"
	"github.com/wyfcoding/exchangecore/pkg/logger"
	"github.com/wyfcoding/exchangecore/pkg/metrics"
	"github.com/wyfcoding/exchangecore/pkg/middleware"
	"github.com/wyfcoding/exchangecore/pkg/mq"
	"github.com/wyfcoding/exchangecore/pkg/ratelimit"
)

func main() {
	configPath := flag.String("config", "configs/exchange/config.toml", "config file path")
	flag.Parse()

	// 1. 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	if err := logger.Init(logger.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		Output:     cfg.Logger.Output,
		FilePath:   cfg.Logger.FilePath,
		MaxSize:    cfg.Logger.MaxSize,
		MaxBackups: cfg.Logger.MaxBackups,
		MaxAge:     cfg.Logger.MaxAge,
		Compress:   cfg.Logger.Compress,
		WithCaller: cfg.Logger.WithCaller,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info(ctx, "Starting exchange",
		"service", cfg.ServiceName,
		"version", cfg.Version,
		"environment", cfg.Environment,
	)

	// 3. 市场配置
	markets, err := buildMarkets(cfg.Markets)
	if err != nil {
		logger.Fatal(ctx, "Invalid market config", "error", err)
	}

	// 4. 初始化数据库
	database, err := db.Init(db.Config{
		Driver:             cfg.Database.Driver,
		DSN:                cfg.Database.DSN,
		MaxOpenConns:       cfg.Database.MaxOpenConns,
		MaxIdleConns:       cfg.Database.MaxIdleConns,
		ConnMaxLifetime:    cfg.Database.ConnMaxLifetime,
		LogEnabled:         cfg.Database.LogEnabled,
		SlowQueryThreshold: cfg.Database.SlowQueryThreshold,
	})
	if err != nil {
		logger.Fatal(ctx, "Failed to initialize database", "error", err)
	}
	defer database.Close()

	if cfg.Database.AutoMigrate {
		if err := database.AutoMigrate(
			&orderdomain.Order{},
			&ledgerdomain.Account{},
			&ledgerdomain.LiabilityEntry{},
			&ledgerdomain.Revenue{},
			&ledgerdomain.Trade{},
			&messaging.OutboxMessage{},
		); err != nil {
			logger.Fatal(ctx, "Failed to migrate database", "error", err)
		}
	}

	// 5. 初始化 Redis
	redisCache, err := cache.New(cache.Config{
		Host:         cfg.Redis.Host,
		Port:         cfg.Redis.Port,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		MaxPoolSize:  cfg.Redis.MaxPoolSize,
		ConnTimeout:  cfg.Redis.ConnTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	if err != nil {
		logger.Fatal(ctx, "Failed to initialize Redis", "error", err)
	}
	defer redisCache.Close()

	// 6. 初始化 Kafka
	kafkaCfg := mq.KafkaConfig{
		Brokers:        cfg.Kafka.Brokers,
		GroupID:        cfg.Kafka.GroupID,
		SessionTimeout: cfg.Kafka.SessionTimeout,
		MaxRetries:     cfg.Kafka.MaxRetries,
		RetryBackoff:   cfg.Kafka.RetryBackoff,
	}
	producer := mq.NewProducer(kafkaCfg)
	defer producer.Close()

	// 7. 初始化指标
	metricsInstance, err := metrics.New(cfg.ServiceName, nil)
	if err != nil {
		logger.Fatal(ctx, "Failed to register metrics", "error", err)
	}

	// 8. 初始化仓储与应用服务
	orderRepo := ordermysql.NewOrderRepository(database.DB)
	liabilities := ledgermysql.NewLiabilityStore(database.DB)
	trades := ledgermysql.NewTradeRepository(database.DB)
	publisher := messaging.NewOutboxEventPublisher(database.DB)
	notifier := messaging.NewRedisNotifier(redisCache)

	funds := ledgerapp.NewFundsService(liabilities, database)
	orderCmd := orderapp.NewOrderCommandService(orderapp.Deps{
		Repo:      orderRepo,
		Funds:     funds,
		Book:      orderbook.NewRedisSnapshotSource(redisCache.GetClient(), 0),
		Publisher: publisher,
		Notifier:  notifier,
		Tx:        database,
		Markets:   markets,
		Metrics:   metricsInstance,
	})
	orderQuery := orderapp.NewOrderQueryService(orderRepo)
	settlement := ledgerapp.NewSettlementService(ledgerapp.SettlementDeps{
		Tx:          database,
		Orders:      orderRepo,
		Liabilities: liabilities,
		Revenues:    ledgermysql.NewRevenueStore(database.DB),
		Trades:      trades,
		Publisher:   publisher,
		Notifier:    notifier,
		Metrics:     metricsInstance,
	})

	// 9. 创建服务器
	rateLimiter := ratelimit.NewRedisRateLimiter(redisCache.GetClient())
	httpServer := createHTTPServer(cfg, metricsInstance, rateLimiter,
		orderhttp.NewOrderHandler(orderCmd, orderQuery),
		ledgerhttp.NewLedgerHandler(funds, settlement, trades),
	)
	grpcServer, healthServer := createGRPCServer(cfg)
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewHTTPServer(fmt.Sprintf(":%d", cfg.Metrics.Port), cfg.Metrics.Path)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info(gctx, "Starting HTTP server", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		addr := fmt.Sprintf("%s:%d", cfg.GRPC.Host, cfg.GRPC.Port)
		listener, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		logger.Info(gctx, "Starting gRPC server", "addr", addr)
		return grpcServer.Serve(listener)
	})

	if metricsServer != nil {
		g.Go(func() error {
			logger.Info(gctx, "Starting metrics server", "addr", metricsServer.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		return runOutboxRelay(gctx, publisher, producer, metricsInstance, cfg.Outbox)
	})

	g.Go(func() error {
		handler := consumer.NewTradeHandler(settlement, producer, cfg.Kafka.TradeTopic+".dlq")
		runTradeConsumer(gctx, kafkaCfg, cfg.Kafka.TradeTopic, handler)
		return nil
	})

	// 10. 优雅关停
	g.Go(func() error {
		<-gctx.Done()
		logger.Info(ctx, "Shutting down exchange")
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error(ctx, "HTTP server shutdown error", "error", err)
		}
		if metricsServer != nil {
			_ = metricsServer.Shutdown(shutdownCtx)
		}
		grpcServer.GracefulStop()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error(ctx, "Exchange stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info(ctx, "Exchange stopped")
}

// createHTTPServer 创建 HTTP 服务器
func createHTTPServer(cfg *config.Config, m *metrics.Metrics, rateLimiter ratelimit.RateLimiter, orders *orderhttp.OrderHandler, ledger *ledgerhttp.LedgerHandler) *http.Server {
	if cfg.Environment == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// 添加中间件
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(middleware.GinLoggingMiddleware(m))
	router.Use(middleware.GinRecoveryMiddleware())
	router.Use(middleware.GinCORSMiddleware())

	// 健康检查
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"service":   cfg.ServiceName,
			"timestamp": time.Now().Unix(),
		})
	})

	// 注册路由
	public := router.Group("", middleware.RateLimitMiddleware(rateLimiter, cfg.RateLimit))
	if cfg.Admin.Token == "" {
		logger.Warn(context.Background(), "admin token not configured, admin api disabled")
	}
	admin := router.Group("", middleware.AdminTokenMiddleware(cfg.Admin.Token))
	orders.RegisterRoutes(public)
	ledger.RegisterRoutes(public, admin)

	return &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeout) * time.Second,
	}
}

// createGRPCServer 创建 gRPC 服务器，仅提供健康检查与反射
func createGRPCServer(cfg *config.Config) (*grpc.Server, *health.Server) {
	server := grpc.NewServer(
		grpc.UnaryInterceptor(middleware.GRPCLoggingInterceptor()),
		grpc.MaxConcurrentStreams(uint32(cfg.GRPC.MaxConcurrentStreams)),
	)
	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(cfg.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthServer)
	reflection.Register(server)
	return server, healthServer
}

// runOutboxRelay 定期将 outbox 中的事件投递到 Kafka，并清理一天前已投递的记录
func runOutboxRelay(ctx context.Context, publisher *messaging.OutboxEventPublisher, sender messaging.Sender, m *metrics.Metrics, cfg config.OutboxConfig) error {
	interval := time.Duration(cfg.PollInterval) * time.Millisecond
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	cleanup := time.NewTicker(time.Hour)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-cleanup.C:
			if err := publisher.CleanupProcessedMessages(ctx, time.Now().Add(-24*time.Hour)); err != nil {
				logger.Warn(ctx, "outbox cleanup failed", "error", err)
			}
		case <-ticker.C:
			sent, err := publisher.ProcessOutboxMessages(ctx, sender, cfg.BatchSize)
			if sent > 0 {
				m.OutboxRelayed.Add(float64(sent))
			}
			if err != nil && ctx.Err() == nil {
				logger.Warn(ctx, "outbox relay failed", "error", err)
			}
		}
	}
}

// runTradeConsumer 消费成交消息。处理失败时关闭 reader 并在退避后重建，
// 从最后提交的偏移量重新投递未处理的消息。
func runTradeConsumer(ctx context.Context, cfg mq.KafkaConfig, topic string, handler *consumer.TradeHandler) {
	backoff := time.Duration(cfg.RetryBackoff*10) * time.Millisecond
	if backoff <= 0 {
		backoff = time.Second
	}

	for ctx.Err() == nil {
		c := mq.NewConsumer(cfg, topic)
		err := c.Run(ctx, handler.Handle)
		_ = c.Close()
		if err == nil {
			return
		}
		logger.Warn(ctx, "trade consumer restarting", "topic", topic, "error", err, "backoff", backoff)
		select {
		case <-ctx.Done():
		case <-time.After(backoff):
		}
	}
}

// buildMarkets 将配置转换为市场表
func buildMarkets(configs []config.MarketConfig) (*orderdomain.MarketRegistry, error) {
	parse := func(market, field, s string) (decimal.Decimal, error) {
		if s == "" {
			return decimal.Zero, nil
		}
		v, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, fmt.Errorf("market %s %s: %w", market, field, err)
		}
		return v, nil
	}

	markets := make([]*orderdomain.Market, 0, len(configs))
	for _, mc := range configs {
		askFee, err := parse(mc.ID, "ask_fee", mc.AskFee)
		if err != nil {
			return nil, err
		}
		bidFee, err := parse(mc.ID, "bid_fee", mc.BidFee)
		if err != nil {
			return nil, err
		}
		marginRate, err := parse(mc.ID, "margin_rate", mc.MarginRate)
		if err != nil {
			return nil, err
		}
		markets = append(markets, &orderdomain.Market{
			ID:              mc.ID,
			BaseUnit:        mc.BaseUnit,
			QuoteUnit:       mc.QuoteUnit,
			AskFee:          askFee,
			BidFee:          bidFee,
			MarginRate:      marginRate,
			PricePrecision:  mc.PricePrecision,
			AmountPrecision: mc.AmountPrecision,
		})
	}
	return orderdomain.NewMarketRegistry(markets...)
}

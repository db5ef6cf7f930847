package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"campuspay/internal/config"
	"campuspay/internal/handler"
	"campuspay/internal/infrastructure/cache"
	"campuspay/internal/infrastructure/database"
	"campuspay/internal/infrastructure/lock"
	"campuspay/internal/infrastructure/metrics"
	"campuspay/internal/infrastructure/mq"
	"campuspay/internal/job"
	"campuspay/internal/processor"
	"campuspay/internal/service"
	"campuspay/pkg/idgen"
	"campuspay/pkg/logging"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	if err := run(); err != nil {
		slog.Error("服务异常退出", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := os.Getenv("CAMPUSPAY_CONFIG")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	// 加载配置
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	logging.Setup(cfg.Log.Level)
	if err := cfg.Validate(); err != nil {
		// 缺少回调密钥时服务仍可启动，回调入口返回 500 由处理方重试
		slog.Warn("配置不完整", "error", err)
	}

	// 初始化 ID 生成器
	if err := idgen.Init(cfg.Server.WorkerID); err != nil {
		return err
	}

	// 初始化数据库
	db, err := database.Open(cfg.Database)
	if err != nil {
		return err
	}
	if err := database.AutoMigrate(db); err != nil {
		return err
	}

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 初始化 Redis
	redisClient, err := cache.InitRedis(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	// 初始化 Kafka
	producer, err := mq.NewProducer(cfg.Kafka)
	if err != nil {
		return err
	}
	defer producer.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	proc := processor.NewStripeClient(processor.Options{
		APIBase:   cfg.Processor.APIBase,
		SecretKey: cfg.Processor.SecretKey,
		Timeout:   cfg.Processor.Timeout,
	})

	chargeService := service.NewChargeService(db, proc, lock.NewRedisLocker(redisClient, cfg.Business.ChargeLockTTL), m, service.NewChargeOptions(cfg))
	reconcileService := service.NewReconcileService(db, proc, m, service.NewReconcileOptions(cfg))
	receiptService := service.NewReceiptService(db)

	// 启动后台任务
	var wg sync.WaitGroup
	outboxSender := job.NewOutboxSender(db, producer, m, job.OutboxOptions{
		Interval:      cfg.Business.OutboxInterval,
		BatchSize:     cfg.Business.OutboxBatchSize,
		MaxRetryCount: cfg.Business.MaxRetryCount,
	})
	sweeper := job.NewProcessingSweeper(db, reconcileService, m, job.SweeperOptions{
		Interval:   cfg.Business.SweepInterval,
		StaleAfter: cfg.Business.StaleAfter,
		BatchSize:  cfg.Business.SweepBatchSize,
	})
	for _, start := range []func(context.Context){outboxSender.Start, sweeper.Start} {
		wg.Add(1)
		go func(start func(context.Context)) {
			defer wg.Done()
			start(ctx)
		}(start)
	}

	// 设置路由
	gin.SetMode(gin.ReleaseMode)
	h := handler.NewHandler(chargeService, reconcileService, receiptService,
		func(ctx context.Context) error {
			if err := database.Ping(ctx, db); err != nil {
				return err
			}
			return redisClient.Ping(ctx).Err()
		},
		handler.Options{
			SignatureHeader:  cfg.Processor.SignatureHeader,
			WebhookBodyLimit: cfg.Server.WebhookBodyLimit,
		})
	router := handler.SetupRouter(h, handler.RouterOptions{JWTSecret: cfg.Auth.JWTSecret, Gatherer: registry})

	// 启动 HTTP 服务
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("服务启动", "port", cfg.Server.Port, "db", cfg.Database.Driver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serverErr:
		return fmt.Errorf("服务启动失败: %w", err)
	}

	slog.Info("正在关闭服务...")

	// 关闭 HTTP 服务（等待最多5秒）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("服务关闭异常", "error", err)
	}

	// 取消上下文，停止后台任务；发件箱在这之后不会再投递，未发送的消息下次启动继续
	cancel()
	wg.Wait()

	slog.Info("服务已关闭")
	return nil
}

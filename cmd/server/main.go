package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatledger/internal/config"
	"chatledger/internal/handler"
	"chatledger/internal/infrastructure/cache"
	"chatledger/internal/infrastructure/database"
	"chatledger/internal/infrastructure/mq"
	"chatledger/internal/job"
	"chatledger/internal/logger"
	"chatledger/internal/notify"
	"chatledger/internal/service"
	"chatledger/pkg/idgen"

	"github.com/go-redis/redis/v8"
)

func main() {
	if err := run(); err != nil {
		slog.Error("服务异常退出", logger.FieldError, err)
		os.Exit(1)
	}
}

func run() error {
	configPath := os.Getenv("LEDGER_CONFIG")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	// 加载配置
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	l := logger.New(cfg.Log)

	// 初始化 ID 生成器
	if err := idgen.Init(1); err != nil {
		return err
	}

	// 初始化数据库（含自动迁移）
	db, err := database.Open(&cfg.Database)
	if err != nil {
		return err
	}
	l.Info("数据库连接成功", "driver", cfg.Database.Driver)

	// 初始化 Redis（可选）
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = cache.InitRedis(&cfg.Redis)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		l.Info("Redis 连接成功")
	}
	ledgerCache := cache.NewLedgerCache(redisClient, time.Duration(cfg.Ledger.StatsCacheTTLSeconds)*time.Second)

	// 初始化通知投递
	dispatcher, closer, err := newDispatcher(cfg, l)
	if err != nil {
		return err
	}
	defer closer.Close()
	notifier := notify.NewNotifier(dispatcher, time.Duration(cfg.Notify.TimeoutSeconds)*time.Second, l)

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 启动后台任务
	reconcileService := service.NewReconcileService(db, redisClient, ledgerCache, l)
	if cfg.Ledger.ReconcileEnabled {
		if !ledgerCache.Enabled() {
			l.Warn("未启用 Redis，待对账周期无法登记，对账任务不启动")
		} else {
			reconcileJob := job.NewReconcileJob(reconcileService, cfg, l)
			go reconcileJob.Start(ctx)
			defer reconcileJob.Stop()
		}
	}

	// 设置路由
	h := handler.NewHandler(
		service.NewChatService(db, l),
		service.NewLedgerService(db, redisClient, ledgerCache, notifier, cfg, l),
		service.NewStatsService(db, ledgerCache, l),
		l,
	)
	router := handler.SetupRouter(h, cfg, l)

	// 启动 HTTP 服务
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		l.Info("服务启动", "port", cfg.Server.Port)
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

	l.Info("正在关闭服务...")

	// 取消上下文，停止后台任务
	cancel()

	// 关闭 HTTP 服务（等待最多5秒）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		l.Error("服务关闭异常", logger.FieldError, err)
	}

	// 等待在途通知投递完成后再关闭生产者
	if !notifier.Wait(5 * time.Second) {
		l.Warn("部分通知未投递完成")
	}

	l.Info("服务已关闭")
	return nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// newDispatcher 按 notify.driver 选择通知投递方式
func newDispatcher(cfg *config.Config, l *slog.Logger) (notify.Dispatcher, io.Closer, error) {
	switch cfg.Notify.Driver {
	case "kafka":
		producer, err := mq.NewKafkaProducer(&cfg.Kafka)
		if err != nil {
			return nil, nil, err
		}
		l.Info("Kafka 生产者初始化成功", "topic", cfg.Kafka.Topic.Notification)
		return notify.NewKafkaDispatcher(producer, cfg.Kafka.Topic.Notification), producer, nil
	case "amqp":
		client, err := mq.NewAMQPClient(&cfg.AMQP)
		if err != nil {
			return nil, nil, err
		}
		l.Info("AMQP 连接成功", "exchange", cfg.AMQP.Exchange, "queue", cfg.AMQP.Queue)
		return notify.NewAMQPDispatcher(client), client, nil
	default:
		return notify.NewLogDispatcher(logger.Component(l, "notify")), nopCloser{}, nil
	}
}

// reconcile 按流水重算月度汇总
//
//	reconcile -chat 123                     重算 chat 的全部周期
//	reconcile -chat 123 -year 2025 -month 6 只重算一个周期
//	reconcile -dirty                        处理 Redis 中登记的全部待对账周期
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatledger/internal/config"
	"chatledger/internal/infrastructure/cache"
	"chatledger/internal/infrastructure/database"
	"chatledger/internal/logger"
	"chatledger/internal/model"
	"chatledger/internal/service"

	"github.com/go-redis/redis/v8"
)

func main() {
	var (
		configPath = flag.String("config", "config/config.yaml", "配置文件路径")
		chatID     = flag.Int64("chat", 0, "chat ID")
		year       = flag.Int("year", 0, "年份，与 -month 一起使用")
		month      = flag.Int("month", 0, "月份，与 -year 一起使用")
		dirty      = flag.Bool("dirty", false, "处理全部待对账周期")
	)
	flag.Parse()

	if err := run(*configPath, *chatID, *year, *month, *dirty); err != nil {
		slog.Error("对账失败", logger.FieldError, err)
		os.Exit(1)
	}
}

func run(configPath string, chatID int64, year, month int, dirty bool) error {
	if !dirty && chatID == 0 {
		return errors.New("必须指定 -chat 或 -dirty")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	l := logger.New(cfg.Log)

	db, err := database.Open(&cfg.Database)
	if err != nil {
		return err
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = cache.InitRedis(&cfg.Redis)
		if err != nil {
			return err
		}
		defer redisClient.Close()
	}
	ledgerCache := cache.NewLedgerCache(redisClient, time.Duration(cfg.Ledger.StatsCacheTTLSeconds)*time.Second)
	svc := service.NewReconcileService(db, redisClient, ledgerCache, l)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch {
	case dirty:
		if !ledgerCache.Enabled() {
			return errors.New("-dirty 需要启用 Redis")
		}
		total := 0
		for {
			done, err := svc.ReconcileDirty(ctx, cfg.Ledger.ReconcileBatchSize)
			if err != nil {
				return err
			}
			total += done
			if done < cfg.Ledger.ReconcileBatchSize || ctx.Err() != nil {
				break
			}
		}
		l.Info("待对账周期处理完成", "periods", total)

	case year != 0 || month != 0:
		p, err := model.NewPeriod(year, month)
		if err != nil {
			return err
		}
		if err := svc.ReconcilePeriod(ctx, chatID, p); err != nil {
			return err
		}

	default:
		done, err := svc.ReconcileChat(ctx, chatID)
		if err != nil {
			return fmt.Errorf("已完成 %d 个周期: %w", done, err)
		}
		l.Info("chat 对账完成", logger.FieldChatID, chatID, "periods", done)
	}
	return nil
}

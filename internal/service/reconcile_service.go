package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"chatledger/internal/infrastructure/cache"
	"chatledger/internal/infrastructure/lock"
	"chatledger/internal/logger"
	"chatledger/internal/model"
	"chatledger/internal/repository"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrReconcileBusy 同一周期正在被其他实例对账
var ErrReconcileBusy = errors.New("周期正在对账")

// ============================================================================
// 对账（全量重放）
// ============================================================================
//
// 增量汇总在"流水写入成功、汇总更新失败"时会与流水不一致，
// 这里按流水重新聚合整个周期并覆盖汇总，不做增量修补。
//
// 重算期间并发的增量写入可能被覆盖，因此对账之后版本号 +1，
// 若仍有疑问可以再次对账，结果是幂等的。
type ReconcileService struct {
	db          *gorm.DB
	redisClient *redis.Client
	txRepo      *repository.TransactionRepository
	summaryRepo *repository.SummaryRepository
	ledgerCache *cache.LedgerCache
	owner       string
	logger      *slog.Logger
}

// NewReconcileService redisClient 为 nil 时不加分布式锁（单实例部署）
func NewReconcileService(db *gorm.DB, redisClient *redis.Client, ledgerCache *cache.LedgerCache, l *slog.Logger) *ReconcileService {
	host, _ := os.Hostname()
	return &ReconcileService{
		db:          db,
		redisClient: redisClient,
		txRepo:      repository.NewTransactionRepository(db),
		summaryRepo: repository.NewSummaryRepository(db),
		ledgerCache: ledgerCache,
		owner:       host + "/" + uuid.NewString(),
		logger:      logger.Component(l, "reconcile"),
	}
}

// ReconcilePeriod 重算一个周期的汇总
func (s *ReconcileService) ReconcilePeriod(ctx context.Context, chatID int64, p model.Period) error {
	if s.redisClient != nil {
		periodLock := lock.NewPeriodLock(s.redisClient, chatID, p, s.owner)
		ok, err := periodLock.TryLock(ctx)
		if err != nil {
			return fmt.Errorf("获取对账锁失败: %w", err)
		}
		if !ok {
			return ErrReconcileBusy
		}
		defer func() {
			if err := periodLock.Unlock(context.WithoutCancel(ctx)); err != nil {
				s.logger.WarnContext(ctx, "释放对账锁失败",
					logger.FieldChatID, chatID,
					logger.FieldPeriod, p.String(),
					logger.FieldError, err)
			}
		}()
	}

	var agg *repository.PeriodAggregate
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		agg, err = s.txRepo.AggregatePeriod(ctx, tx, chatID, p)
		if err != nil {
			return fmt.Errorf("聚合流水失败: %w", err)
		}
		return s.summaryRepo.Replace(ctx, tx, chatID, p, agg)
	})
	if err != nil {
		return fmt.Errorf("重算周期 %s 失败: %w", p, err)
	}

	if err := s.ledgerCache.BumpVersion(ctx, chatID); err != nil {
		s.logger.WarnContext(ctx, "统计缓存失效失败", logger.FieldChatID, chatID, logger.FieldError, err)
	}

	s.logger.InfoContext(ctx, "周期对账完成",
		logger.FieldChatID, chatID,
		logger.FieldPeriod, p.String(),
		"tx_count", agg.TxCount,
		"members", len(agg.Members))
	return nil
}

// ReconcileChat 重算 chat 的全部周期：从最早一笔流水到最新一笔流水之间的每个月，
// 加上汇总表中已存在的周期（流水已全部删除但汇总残留的情况）
func (s *ReconcileService) ReconcileChat(ctx context.Context, chatID int64) (int, error) {
	periods, err := s.chatPeriods(ctx, chatID)
	if err != nil {
		return 0, err
	}

	done := 0
	for _, p := range periods {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		if err := s.ReconcilePeriod(ctx, chatID, p); err != nil {
			return done, err
		}
		done++
	}
	return done, nil
}

func (s *ReconcileService) chatPeriods(ctx context.Context, chatID int64) ([]model.Period, error) {
	set := make(map[model.Period]struct{})

	existing, err := s.summaryRepo.ListPeriods(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("查询汇总周期失败: %w", err)
	}
	for _, p := range existing {
		set[p] = struct{}{}
	}

	earliest, err := s.txRepo.Earliest(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("查询最早流水失败: %w", err)
	}
	if earliest != nil {
		latest, err := s.txRepo.Latest(ctx, chatID)
		if err != nil {
			return nil, fmt.Errorf("查询最新流水失败: %w", err)
		}
		last := latest.Period()
		for p := earliest.Period(); !last.Before(p); p = p.Next() {
			set[p] = struct{}{}
		}
	}

	periods := make([]model.Period, 0, len(set))
	for p := range set {
		periods = append(periods, p)
	}
	sort.Slice(periods, func(i, j int) bool { return periods[i].Before(periods[j]) })
	return periods, nil
}

// ReconcileDirty 取出最多 batch 个待对账周期并逐个重算
//
// 失败（含锁被占用）的周期重新登记，下一轮再试。返回成功的数量。
func (s *ReconcileService) ReconcileDirty(ctx context.Context, batch int) (int, error) {
	dirty, err := s.ledgerCache.PopDirty(ctx, batch)
	if err != nil {
		return 0, fmt.Errorf("读取待对账周期失败: %w", err)
	}

	done := 0
	for _, d := range dirty {
		err := s.ReconcilePeriod(ctx, d.ChatID, d.Period)
		if err == nil {
			done++
			continue
		}
		if !errors.Is(err, ErrReconcileBusy) {
			s.logger.ErrorContext(ctx, "周期对账失败",
				logger.FieldChatID, d.ChatID,
				logger.FieldPeriod, d.Period.String(),
				logger.FieldError, err)
		}
		if err := s.ledgerCache.MarkDirty(context.WithoutCancel(ctx), d.ChatID, d.Period); err != nil {
			s.logger.ErrorContext(ctx, "重新登记待对账周期失败",
				logger.FieldChatID, d.ChatID,
				logger.FieldPeriod, d.Period.String(),
				logger.FieldError, err)
		}
	}
	return done, nil
}

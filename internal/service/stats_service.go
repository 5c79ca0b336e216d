package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"chatledger/internal/infrastructure/cache"
	"chatledger/internal/logger"
	"chatledger/internal/model"
	"chatledger/internal/repository"

	"gorm.io/gorm"
)

// MemberStats 单个成员在周期内的统计
//
// Net = TotalReceived - TotalSent；Closing = CarryForward + Net，即期末余额。
type MemberStats struct {
	MemberID      string `json:"member_id"`
	TotalSent     int64  `json:"total_sent"`
	TotalReceived int64  `json:"total_received"`
	Net           int64  `json:"net"`
	CarryForward  int64  `json:"carry_forward"`
	Closing       int64  `json:"closing"`
}

type Stats struct {
	ChatID  int64         `json:"chat_id,string"`
	Year    int           `json:"year"`
	Month   int           `json:"month"`
	TxCount int64         `json:"tx_count"`
	Members []MemberStats `json:"members"`
}

// StatsService 统计读取，只读汇总表，不扫描流水
type StatsService struct {
	chatRepo    *repository.ChatRepository
	summaryRepo *repository.SummaryRepository
	ledgerCache *cache.LedgerCache
	logger      *slog.Logger
}

func NewStatsService(db *gorm.DB, ledgerCache *cache.LedgerCache, l *slog.Logger) *StatsService {
	return &StatsService{
		chatRepo:    repository.NewChatRepository(db),
		summaryRepo: repository.NewSummaryRepository(db),
		ledgerCache: ledgerCache,
		logger:      logger.Component(l, "stats"),
	}
}

// Stats 周期汇总 + 期初结转
//
// 【缓存】key 中带 chat 的版本号，任何写操作都会使版本号 +1，
// 所以命中的结果一定与当前汇总一致。缓存读写失败只记日志，回源查询。
func (s *StatsService) Stats(ctx context.Context, chatID int64, actor string, year, month int) (*Stats, error) {
	p, err := model.NewPeriod(year, month)
	if err != nil {
		return nil, validation("%v", err)
	}
	members, err := requireMember(ctx, s.chatRepo, chatID, actor)
	if err != nil {
		return nil, err
	}

	version, cacheErr := s.ledgerCache.Version(ctx, chatID)
	if cacheErr == nil {
		if stats, ok := s.fromCache(ctx, chatID, version, p); ok {
			return stats, nil
		}
	} else {
		s.logger.WarnContext(ctx, "读取统计缓存版本失败", logger.FieldChatID, chatID, logger.FieldError, cacheErr)
	}

	stats, err := s.compute(ctx, chatID, p, members)
	if err != nil {
		return nil, err
	}

	if cacheErr == nil && s.ledgerCache.Enabled() {
		if data, err := json.Marshal(stats); err == nil {
			if err := s.ledgerCache.SetStats(ctx, chatID, version, p, data); err != nil {
				s.logger.WarnContext(ctx, "写入统计缓存失败", logger.FieldChatID, chatID, logger.FieldError, err)
			}
		}
	}
	return stats, nil
}

func (s *StatsService) fromCache(ctx context.Context, chatID, version int64, p model.Period) (*Stats, bool) {
	data, ok, err := s.ledgerCache.GetStats(ctx, chatID, version, p)
	if err != nil {
		s.logger.WarnContext(ctx, "读取统计缓存失败", logger.FieldChatID, chatID, logger.FieldError, err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var stats Stats
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, false
	}
	return &stats, true
}

func (s *StatsService) compute(ctx context.Context, chatID int64, p model.Period, members []string) (*Stats, error) {
	summary, err := s.summaryRepo.Get(ctx, chatID, p)
	if err != nil {
		return nil, fmt.Errorf("查询周期汇总失败: %w", err)
	}
	carry, err := CarryForward(ctx, s.summaryRepo, chatID, p)
	if err != nil {
		return nil, err
	}

	// 当前成员 + 汇总中出现过的成员（可能已退出）
	ids := make(map[string]struct{}, len(members))
	for _, m := range members {
		ids[m] = struct{}{}
	}
	for m := range summary.Members {
		ids[m] = struct{}{}
	}
	for m := range carry {
		ids[m] = struct{}{}
	}

	stats := &Stats{
		ChatID:  chatID,
		Year:    p.Year,
		Month:   p.Month,
		TxCount: summary.TxCount,
		Members: make([]MemberStats, 0, len(ids)),
	}
	for id := range ids {
		totals := summary.Totals(id)
		cf := carry[id]
		stats.Members = append(stats.Members, MemberStats{
			MemberID:      id,
			TotalSent:     totals.TotalSent,
			TotalReceived: totals.TotalReceived,
			Net:           totals.Net(),
			CarryForward:  cf,
			Closing:       cf + totals.Net(),
		})
	}
	sort.Slice(stats.Members, func(i, j int) bool {
		return stats.Members[i].MemberID < stats.Members[j].MemberID
	})
	return stats, nil
}

// Months 有流水的 (year, month) 列表，按时间倒序
func (s *StatsService) Months(ctx context.Context, chatID int64, actor string) ([]model.Period, error) {
	if _, err := requireMember(ctx, s.chatRepo, chatID, actor); err != nil {
		return nil, err
	}
	periods, err := s.summaryRepo.ListActivePeriods(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("查询月份列表失败: %w", err)
	}
	return periods, nil
}

package repository

import (
	"context"
	"errors"
	"time"

	"chatledger/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SummaryRepository 月度汇总存储
//
// 【关键点】所有写入都是 INSERT ... ON CONFLICT DO UPDATE SET col = col + ?：
//   - 周期不存在时直接插入（upsert），不需要预先初始化
//   - 已存在时由数据库原子地累加，并发请求之间没有"读-改-写"竞争
//   - 一次增量涉及的多行（周期头 + 各成员行）放在同一个数据库事务里
type SummaryRepository struct {
	db *gorm.DB
}

func NewSummaryRepository(db *gorm.DB) *SummaryRepository {
	return &SummaryRepository{db: db}
}

// Apply 原子地把一次增量累加到周期汇总上
func (r *SummaryRepository) Apply(ctx context.Context, delta model.PeriodDelta) error {
	delta = delta.Merged()
	if delta.IsZero() {
		return nil
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()

		if delta.TxCount != 0 {
			header := &model.MonthlySummary{
				ChatID:  delta.ChatID,
				Year:    delta.Period.Year,
				Month:   delta.Period.Month,
				TxCount: delta.TxCount,
			}
			err := tx.Clauses(clause.OnConflict{
				Columns: periodColumns(),
				DoUpdates: clause.Assignments(map[string]interface{}{
					"tx_count":   gorm.Expr("monthly_summary.tx_count + ?", delta.TxCount),
					"updated_at": now,
				}),
			}).Create(header).Error
			if err != nil {
				return err
			}
		}

		for _, m := range delta.Members {
			if m.Sent == 0 && m.Received == 0 {
				continue
			}
			stat := &model.MonthlyMemberStat{
				ChatID:        delta.ChatID,
				Year:          delta.Period.Year,
				Month:         delta.Period.Month,
				MemberID:      m.MemberID,
				TotalSent:     m.Sent,
				TotalReceived: m.Received,
			}
			err := tx.Clauses(clause.OnConflict{
				Columns: append(periodColumns(), clause.Column{Name: "member_id"}),
				DoUpdates: clause.Assignments(map[string]interface{}{
					"total_sent":     gorm.Expr("monthly_member_stat.total_sent + ?", m.Sent),
					"total_received": gorm.Expr("monthly_member_stat.total_received + ?", m.Received),
					"updated_at":     now,
				}),
			}).Create(stat).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Get 读取周期汇总，不存在时返回全 0 汇总
func (r *SummaryRepository) Get(ctx context.Context, chatID int64, p model.Period) (*model.Summary, error) {
	summary := model.EmptySummary(chatID, p)

	var header model.MonthlySummary
	err := r.db.WithContext(ctx).
		Where("chat_id = ? AND year = ? AND month = ?", chatID, p.Year, p.Month).
		First(&header).Error
	switch {
	case err == nil:
		summary.TxCount = header.TxCount
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		return nil, err
	}

	var stats []model.MonthlyMemberStat
	err = r.db.WithContext(ctx).
		Where("chat_id = ? AND year = ? AND month = ?", chatID, p.Year, p.Month).
		Find(&stats).Error
	if err != nil {
		return nil, err
	}
	for _, s := range stats {
		summary.Members[s.MemberID] = model.MemberTotals{
			TotalSent:     s.TotalSent,
			TotalReceived: s.TotalReceived,
		}
	}
	return summary, nil
}

// ListMemberStatsBefore 严格早于 p 的全部成员统计，按 (year, month) 升序
func (r *SummaryRepository) ListMemberStatsBefore(ctx context.Context, chatID int64, p model.Period) ([]model.MonthlyMemberStat, error) {
	var stats []model.MonthlyMemberStat
	err := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Where("(year < ? OR (year = ? AND month < ?))", p.Year, p.Year, p.Month).
		Order("year ASC").
		Order("month ASC").
		Order("member_id ASC").
		Find(&stats).Error
	return stats, err
}

// ListActivePeriods 有流水的周期（tx_count > 0），按时间倒序
func (r *SummaryRepository) ListActivePeriods(ctx context.Context, chatID int64) ([]model.Period, error) {
	return r.listPeriods(ctx, r.db.WithContext(ctx).Where("chat_id = ? AND tx_count > 0", chatID))
}

// ListPeriods 所有已初始化的周期，含 tx_count 为 0 的
func (r *SummaryRepository) ListPeriods(ctx context.Context, chatID int64) ([]model.Period, error) {
	return r.listPeriods(ctx, r.db.WithContext(ctx).Where("chat_id = ?", chatID))
}

func (r *SummaryRepository) listPeriods(ctx context.Context, query *gorm.DB) ([]model.Period, error) {
	var headers []model.MonthlySummary
	err := query.
		Order("year DESC").
		Order("month DESC").
		Find(&headers).Error
	if err != nil {
		return nil, err
	}
	periods := make([]model.Period, 0, len(headers))
	for _, h := range headers {
		periods = append(periods, model.Period{Year: h.Year, Month: h.Month})
	}
	return periods, nil
}

// Replace 用重放结果整体覆盖一个周期的汇总，必须在调用方的事务中执行
func (r *SummaryRepository) Replace(ctx context.Context, tx *gorm.DB, chatID int64, p model.Period, agg *PeriodAggregate) error {
	err := tx.WithContext(ctx).
		Where("chat_id = ? AND year = ? AND month = ?", chatID, p.Year, p.Month).
		Delete(&model.MonthlyMemberStat{}).Error
	if err != nil {
		return err
	}

	header := &model.MonthlySummary{
		ChatID:  chatID,
		Year:    p.Year,
		Month:   p.Month,
		TxCount: agg.TxCount,
	}
	err = tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: periodColumns(),
		DoUpdates: clause.Assignments(map[string]interface{}{
			"tx_count":   agg.TxCount,
			"updated_at": time.Now().UTC(),
		}),
	}).Create(header).Error
	if err != nil {
		return err
	}

	if len(agg.Members) == 0 {
		return nil
	}
	stats := make([]model.MonthlyMemberStat, 0, len(agg.Members))
	for member, totals := range agg.Members {
		stats = append(stats, model.MonthlyMemberStat{
			ChatID:        chatID,
			Year:          p.Year,
			Month:         p.Month,
			MemberID:      member,
			TotalSent:     totals.TotalSent,
			TotalReceived: totals.TotalReceived,
		})
	}
	return tx.WithContext(ctx).Create(&stats).Error
}

func periodColumns() []clause.Column {
	return []clause.Column{{Name: "chat_id"}, {Name: "year"}, {Name: "month"}}
}

package repository

import (
	"context"
	"errors"
	"time"

	"chatledger/internal/model"
	"chatledger/pkg/cursor"

	"gorm.io/gorm"
)

var (
	ErrTransactionNotFound = errors.New("流水不存在")
	ErrTransactionVerified = errors.New("流水已核对")
)

type TransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func (r *TransactionRepository) Create(ctx context.Context, tx *gorm.DB, trans *model.Transaction) error {
	if tx == nil {
		tx = r.db
	}
	return tx.WithContext(ctx).Create(trans).Error
}

func (r *TransactionRepository) GetByID(ctx context.Context, id int64) (*model.Transaction, error) {
	var trans model.Transaction
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &trans, nil
}

// UpdateUnverified 覆盖可编辑字段，updated_at 写入 trans.UpdatedAt（为零时取当前时间并回填）
//
// 【关键点】WHERE 中带上 verified = false：读取和写入之间如果被并发核对，
// 这里影响行数为 0，编辑失败而不是改掉一条已核对的流水。
func (r *TransactionRepository) UpdateUnverified(ctx context.Context, trans *model.Transaction) error {
	if trans.UpdatedAt.IsZero() {
		trans.UpdatedAt = time.Now().UTC()
	}
	result := r.db.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("id = ? AND verified = ?", trans.ID, false).
		Updates(map[string]interface{}{
			"amount":      trans.Amount,
			"occurred_at": trans.Date,
			"remark":      trans.Remark,
			"from_member": trans.FromMember,
			"to_member":   trans.ToMember,
			"updated_at":  trans.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return r.missingOrVerified(ctx, trans.ID)
	}
	return nil
}

// DeleteUnverified 删除未核对的流水
func (r *TransactionRepository) DeleteUnverified(ctx context.Context, id int64) error {
	result := r.db.WithContext(ctx).
		Where("id = ? AND verified = ?", id, false).
		Delete(&model.Transaction{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return r.missingOrVerified(ctx, id)
	}
	return nil
}

// MarkVerified 核对流水，已核对时返回 ErrTransactionVerified；updated_at 与 verified_at 相同
func (r *TransactionRepository) MarkVerified(ctx context.Context, id int64, verifier string, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("id = ? AND verified = ?", id, false).
		Updates(map[string]interface{}{
			"verified":    true,
			"verified_by": verifier,
			"verified_at": at,
			"updated_at":  at,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return r.missingOrVerified(ctx, id)
	}
	return nil
}

func (r *TransactionRepository) missingOrVerified(ctx context.Context, id int64) error {
	current, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if current.Verified {
		return ErrTransactionVerified
	}
	// 条件不满足但记录仍未核对，只可能是并发删除后又被读到，按不存在处理
	return ErrTransactionNotFound
}

// ListQuery 分页查询条件
type ListQuery struct {
	Period *model.Period  // 可选，限定在某个月内
	Cursor *cursor.Cursor // 可选，只取游标之后的数据
	Limit  int
}

// ListByChat 按 (date DESC, id DESC) 分页查询
//
// 多取一条用于判断 hasMore，返回的 next 指向本页最后一条。
func (r *TransactionRepository) ListByChat(ctx context.Context, chatID int64, q ListQuery) ([]*model.Transaction, *cursor.Cursor, bool, error) {
	query := r.db.WithContext(ctx).
		Model(&model.Transaction{}).
		Where("chat_id = ?", chatID)

	if q.Period != nil {
		query = query.Where("occurred_at >= ? AND occurred_at < ?", q.Period.Start(), q.Period.End())
	}

	if c := q.Cursor; c != nil {
		if c.ID > 0 {
			query = query.Where("((occurred_at < ?) OR (occurred_at = ? AND id < ?))", c.Date, c.Date, c.ID)
		} else {
			query = query.Where("occurred_at < ?", c.Date)
		}
	}

	var items []*model.Transaction
	err := query.
		Order("occurred_at DESC").
		Order("id DESC").
		Limit(q.Limit + 1).
		Find(&items).Error
	if err != nil {
		return nil, nil, false, err
	}

	hasMore := len(items) > q.Limit
	if hasMore {
		items = items[:q.Limit]
	}

	var next *cursor.Cursor
	if hasMore && len(items) > 0 {
		last := items[len(items)-1]
		c := cursor.New(last.Date, last.ID)
		next = &c
	}
	return items, next, hasMore, nil
}

// Latest 聊天中最新的一笔流水，没有时返回 nil
func (r *TransactionRepository) Latest(ctx context.Context, chatID int64) (*model.Transaction, error) {
	return r.edge(ctx, chatID, "DESC")
}

// Earliest 聊天中最早的一笔流水，没有时返回 nil
func (r *TransactionRepository) Earliest(ctx context.Context, chatID int64) (*model.Transaction, error) {
	return r.edge(ctx, chatID, "ASC")
}

func (r *TransactionRepository) edge(ctx context.Context, chatID int64, dir string) (*model.Transaction, error) {
	var trans model.Transaction
	err := r.db.WithContext(ctx).
		Where("chat_id = ?", chatID).
		Order("occurred_at " + dir).
		Order("id " + dir).
		First(&trans).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &trans, nil
}

// PeriodAggregate 按流水重放得到的周期汇总，对账使用
type PeriodAggregate struct {
	TxCount int64
	Members map[string]model.MemberTotals
}

type memberSum struct {
	MemberID string
	Total    int64
	TxCount  int64
}

// AggregatePeriod 直接从流水表计算一个周期的汇总
func (r *TransactionRepository) AggregatePeriod(ctx context.Context, tx *gorm.DB, chatID int64, p model.Period) (*PeriodAggregate, error) {
	if tx == nil {
		tx = r.db
	}
	base := func() *gorm.DB {
		return tx.WithContext(ctx).
			Model(&model.Transaction{}).
			Where("chat_id = ? AND occurred_at >= ? AND occurred_at < ?", chatID, p.Start(), p.End())
	}

	var sent []memberSum
	err := base().
		Select("from_member AS member_id, SUM(amount) AS total, COUNT(*) AS tx_count").
		Group("from_member").
		Scan(&sent).Error
	if err != nil {
		return nil, err
	}

	var received []memberSum
	err = base().
		Select("to_member AS member_id, SUM(amount) AS total, COUNT(*) AS tx_count").
		Group("to_member").
		Scan(&received).Error
	if err != nil {
		return nil, err
	}

	agg := &PeriodAggregate{Members: make(map[string]model.MemberTotals)}
	for _, s := range sent {
		m := agg.Members[s.MemberID]
		m.TotalSent += s.Total
		agg.Members[s.MemberID] = m
		agg.TxCount += s.TxCount
	}
	for _, s := range received {
		m := agg.Members[s.MemberID]
		m.TotalReceived += s.Total
		agg.Members[s.MemberID] = m
	}
	return agg, nil
}

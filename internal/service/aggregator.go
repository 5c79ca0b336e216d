package service

import (
	"context"
	"fmt"

	"chatledger/internal/model"
)

// SummaryStore 汇总存储需要提供的原子增量能力
type SummaryStore interface {
	Apply(ctx context.Context, delta model.PeriodDelta) error
}

// Aggregator 月度汇总的增量维护
//
// 所有方法都只做带符号的原子增量，不读取现有汇总。
type Aggregator struct {
	store SummaryStore
}

func NewAggregator(store SummaryStore) *Aggregator {
	return &Aggregator{store: store}
}

// TxFields 影响汇总的流水字段快照
type TxFields struct {
	Period model.Period
	From   string
	To     string
	Amount int64
}

// FieldsOf 从流水取快照，编辑前必须先取，防止后续修改影响旧值
func FieldsOf(t *model.Transaction) TxFields {
	return TxFields{Period: t.Period(), From: t.FromMember, To: t.ToMember, Amount: t.Amount}
}

func addDelta(chatID int64, f TxFields) model.PeriodDelta {
	return model.PeriodDelta{
		ChatID:  chatID,
		Period:  f.Period,
		TxCount: 1,
		Members: []model.MemberDelta{
			{MemberID: f.From, Sent: f.Amount},
			{MemberID: f.To, Received: f.Amount},
		},
	}
}

// OnAdd totalSent[from] += amount, totalReceived[to] += amount, txCount += 1
func (a *Aggregator) OnAdd(ctx context.Context, chatID int64, f TxFields) error {
	if err := a.store.Apply(ctx, addDelta(chatID, f)); err != nil {
		return fmt.Errorf("汇总累加失败 %s: %w", f.Period, err)
	}
	return nil
}

// OnDelete OnAdd 的逆操作，必须传入流水删除前的原始字段
func (a *Aggregator) OnDelete(ctx context.Context, chatID int64, f TxFields) error {
	if err := a.store.Apply(ctx, addDelta(chatID, f).Negate()); err != nil {
		return fmt.Errorf("汇总扣减失败 %s: %w", f.Period, err)
	}
	return nil
}

// OnEdit 编辑流水后的汇总调整
//
// 【两条路径】
//
//	1. 同一周期、同一 (from, to)：只需要一次差额增量 diff = new - old，diff 为 0 直接跳过
//	2. 跨月或方向/成员变化：先 OnDelete(old) 再 OnAdd(new)
//
// 路径 2 是两次独立的原子操作，不是一个事务。
// 两步之间失败时汇总停留在"旧值已扣除、新值未加入"的状态，由对账任务修复。
// 每一步本身是原子且可交换的，并发的增删不会破坏最终结果。
func (a *Aggregator) OnEdit(ctx context.Context, chatID int64, old, updated TxFields) error {
	if old.Period == updated.Period && old.From == updated.From && old.To == updated.To {
		diff := updated.Amount - old.Amount
		if diff == 0 {
			return nil
		}
		delta := model.PeriodDelta{
			ChatID: chatID,
			Period: updated.Period,
			Members: []model.MemberDelta{
				{MemberID: updated.From, Sent: diff},
				{MemberID: updated.To, Received: diff},
			},
		}
		if err := a.store.Apply(ctx, delta); err != nil {
			return fmt.Errorf("汇总差额调整失败 %s: %w", updated.Period, err)
		}
		return nil
	}

	if err := a.OnDelete(ctx, chatID, old); err != nil {
		return err
	}
	return a.OnAdd(ctx, chatID, updated)
}

package service

import (
	"context"
	"fmt"

	"chatledger/internal/model"
)

// PriorStatsReader 读取严格早于某周期的成员统计
type PriorStatsReader interface {
	ListMemberStatsBefore(ctx context.Context, chatID int64, p model.Period) ([]model.MonthlyMemberStat, error)
}

// CarryForward 计算期初结转余额
//
// 对严格早于 p 的每个周期、每个出现过的成员累加 totalReceived - totalSent。
// 从未发生过流水的成员不会出现在结果中，调用方按 0 处理。
func CarryForward(ctx context.Context, reader PriorStatsReader, chatID int64, p model.Period) (map[string]int64, error) {
	stats, err := reader.ListMemberStatsBefore(ctx, chatID, p)
	if err != nil {
		return nil, fmt.Errorf("查询历史汇总失败: %w", err)
	}
	return FoldCarryForward(stats), nil
}

// FoldCarryForward 纯函数部分，结果与输入顺序无关
func FoldCarryForward(stats []model.MonthlyMemberStat) map[string]int64 {
	net := make(map[string]int64)
	for _, s := range stats {
		net[s.MemberID] += s.TotalReceived - s.TotalSent
	}
	return net
}

package model

import (
	"time"
)

// ============================================================================
// 月度汇总
// ============================================================================
//
// 一个 (chat, year, month) 的汇总由两张表组成：
//   monthly_summary      周期头，保存 tx_count
//   monthly_member_stat  周期内每个成员的 total_sent / total_received
//
// 成员维度是稀疏的：某成员在该周期没有流水时不存在对应行，读取方按 0 处理。
// 汇总只通过带符号的原子增量更新，不做"读-改-写"。

// MonthlySummary 周期头
type MonthlySummary struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"-"`
	ChatID    int64     `gorm:"not null;uniqueIndex:uk_summary_period,priority:1" json:"chat_id,string"`
	Year      int       `gorm:"not null;uniqueIndex:uk_summary_period,priority:2" json:"year"`
	Month     int       `gorm:"not null;uniqueIndex:uk_summary_period,priority:3" json:"month"`
	TxCount   int64     `gorm:"not null;default:0" json:"tx_count"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (MonthlySummary) TableName() string {
	return "monthly_summary"
}

// MonthlyMemberStat 周期内单个成员的累计收发
type MonthlyMemberStat struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"-"`
	ChatID        int64     `gorm:"not null;uniqueIndex:uk_member_period,priority:1" json:"chat_id,string"`
	Year          int       `gorm:"not null;uniqueIndex:uk_member_period,priority:2" json:"year"`
	Month         int       `gorm:"not null;uniqueIndex:uk_member_period,priority:3" json:"month"`
	MemberID      string    `gorm:"type:varchar(64);not null;uniqueIndex:uk_member_period,priority:4" json:"member_id"`
	TotalSent     int64     `gorm:"not null;default:0" json:"total_sent"`
	TotalReceived int64     `gorm:"not null;default:0" json:"total_received"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (MonthlyMemberStat) TableName() string {
	return "monthly_member_stat"
}

// MemberTotals 成员在一个周期内的收发合计
type MemberTotals struct {
	TotalSent     int64 `json:"total_sent"`
	TotalReceived int64 `json:"total_received"`
}

// Net 净收入，正数表示历史上收到的多于付出的
func (m MemberTotals) Net() int64 {
	return m.TotalReceived - m.TotalSent
}

// Summary 组装后的周期汇总，Members 中缺失的成员视为全 0
type Summary struct {
	ChatID  int64                   `json:"chat_id,string"`
	Period  Period                  `json:"period"`
	TxCount int64                   `json:"tx_count"`
	Members map[string]MemberTotals `json:"members"`
}

// EmptySummary 未初始化周期的汇总
func EmptySummary(chatID int64, p Period) *Summary {
	return &Summary{ChatID: chatID, Period: p, Members: map[string]MemberTotals{}}
}

// Totals 取成员合计，不存在时返回 0 值
func (s *Summary) Totals(memberID string) MemberTotals {
	return s.Members[memberID]
}

// MemberDelta 单个成员的带符号增量
type MemberDelta struct {
	MemberID string
	Sent     int64
	Received int64
}

// PeriodDelta 对一个周期汇总的一次原子增量
type PeriodDelta struct {
	ChatID  int64
	Period  Period
	TxCount int64
	Members []MemberDelta
}

// IsZero 增量全为 0 时可跳过
func (d PeriodDelta) IsZero() bool {
	if d.TxCount != 0 {
		return false
	}
	for _, m := range d.Members {
		if m.Sent != 0 || m.Received != 0 {
			return false
		}
	}
	return true
}

// Merged 合并同一成员的多条增量
func (d PeriodDelta) Merged() PeriodDelta {
	out := PeriodDelta{ChatID: d.ChatID, Period: d.Period, TxCount: d.TxCount}
	index := make(map[string]int, len(d.Members))
	for _, m := range d.Members {
		if i, ok := index[m.MemberID]; ok {
			out.Members[i].Sent += m.Sent
			out.Members[i].Received += m.Received
			continue
		}
		index[m.MemberID] = len(out.Members)
		out.Members = append(out.Members, m)
	}
	return out
}

// Negate 取反，用于删除
func (d PeriodDelta) Negate() PeriodDelta {
	out := PeriodDelta{ChatID: d.ChatID, Period: d.Period, TxCount: -d.TxCount}
	for _, m := range d.Members {
		out.Members = append(out.Members, MemberDelta{MemberID: m.MemberID, Sent: -m.Sent, Received: -m.Received})
	}
	return out
}

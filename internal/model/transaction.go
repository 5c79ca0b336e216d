package model

import (
	"time"
)

// ============================================================================
// 账本流水实体
// ============================================================================

// Transaction 聊天账本中的一笔转账记录
//
// 【重要】流水设计原则：
// 1. Amount 以最小货币单位（分）存储，恒为正数，方向由 FromMember/ToMember 表示
// 2. Verified 一旦为 true 即为终态，不允许再编辑或删除
// 3. Date 统一存 UTC，精度截断到毫秒，保证分页游标在各数据库上可精确比较
type Transaction struct {
	ID         int64      `gorm:"primaryKey;autoIncrement:false" json:"id,string"`
	ChatID     int64      `gorm:"not null;index:idx_tx_chat_date,priority:1" json:"chat_id,string"`
	Amount     int64      `gorm:"not null" json:"amount"`
	Date       time.Time  `gorm:"column:occurred_at;not null;index:idx_tx_chat_date,priority:2" json:"date"`
	Remark     string     `gorm:"type:varchar(256)" json:"remark"`
	FromMember string     `gorm:"type:varchar(64);not null" json:"from"`
	ToMember   string     `gorm:"type:varchar(64);not null" json:"to"`
	AddedBy    string     `gorm:"type:varchar(64);not null" json:"added_by"`
	Verified   bool       `gorm:"not null;default:false" json:"verified"`
	VerifiedBy *string    `gorm:"type:varchar(64)" json:"verified_by,omitempty"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`
	CreatedAt  time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Transaction) TableName() string {
	return "ledger_transaction"
}

// Period 返回流水所属的统计周期
func (t *Transaction) Period() Period {
	return PeriodOf(t.Date)
}

// NormalizeDate 统一时区和精度
func NormalizeDate(d time.Time) time.Time {
	return d.UTC().Truncate(time.Millisecond)
}

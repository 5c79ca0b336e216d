package model

import (
	"time"
)

// Chat 账本上下文（通常为两人，也可以是群组）
//
// LastTransactionID / LastTransactionAt 是最新一笔流水的冗余指针，
// 每次增删改后按 (date DESC, id DESC) 重新查询得到，没有独立的权威性。
type Chat struct {
	ID                int64        `gorm:"primaryKey;autoIncrement:false" json:"id,string"`
	Name              string       `gorm:"type:varchar(128)" json:"name"`
	LastTransactionID *int64       `json:"last_transaction_id,string,omitempty"`
	LastTransactionAt *time.Time   `json:"last_transaction_at,omitempty"`
	Members           []ChatMember `gorm:"foreignKey:ChatID" json:"members,omitempty"`
	CreatedAt         time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Chat) TableName() string {
	return "chat"
}

type ChatMember struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"-"`
	ChatID    int64     `gorm:"not null;uniqueIndex:uk_chat_member,priority:1" json:"-"`
	MemberID  string    `gorm:"type:varchar(64);not null;uniqueIndex:uk_chat_member,priority:2;index" json:"member_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"joined_at"`
}

func (ChatMember) TableName() string {
	return "chat_member"
}

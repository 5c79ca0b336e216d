package repository

import (
	"context"
	"errors"

	"chatledger/internal/model"

	"gorm.io/gorm"
)

var ErrChatNotFound = errors.New("聊天不存在")

// ChatRepository 聊天与成员关系，同时充当成员资格查询方
type ChatRepository struct {
	db *gorm.DB
}

func NewChatRepository(db *gorm.DB) *ChatRepository {
	return &ChatRepository{db: db}
}

// Create 创建聊天及其成员
func (r *ChatRepository) Create(ctx context.Context, chat *model.Chat) error {
	return r.db.WithContext(ctx).Create(chat).Error
}

func (r *ChatRepository) GetByID(ctx context.Context, chatID int64) (*model.Chat, error) {
	var chat model.Chat
	err := r.db.WithContext(ctx).
		Preload("Members").
		Where("id = ?", chatID).
		First(&chat).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChatNotFound
		}
		return nil, err
	}
	return &chat, nil
}

func (r *ChatRepository) Exists(ctx context.Context, chatID int64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Chat{}).Where("id = ?", chatID).Count(&count).Error
	return count > 0, err
}

// IsMember 成员 memberID 是否属于聊天 chatID
func (r *ChatRepository) IsMember(ctx context.Context, chatID int64, memberID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.ChatMember{}).
		Where("chat_id = ? AND member_id = ?", chatID, memberID).
		Count(&count).Error
	return count > 0, err
}

// Members 聊天的全部成员 ID
func (r *ChatRepository) Members(ctx context.Context, chatID int64) ([]string, error) {
	var members []string
	err := r.db.WithContext(ctx).
		Model(&model.ChatMember{}).
		Where("chat_id = ?", chatID).
		Order("member_id ASC").
		Pluck("member_id", &members).Error
	return members, err
}

// SetLastTransaction 更新最新流水指针，latest 为 nil 时清空
func (r *ChatRepository) SetLastTransaction(ctx context.Context, chatID int64, latest *model.Transaction) error {
	updates := map[string]interface{}{
		"last_transaction_id": nil,
		"last_transaction_at": nil,
	}
	if latest != nil {
		updates["last_transaction_id"] = latest.ID
		updates["last_transaction_at"] = latest.Date
	}
	return r.db.WithContext(ctx).
		Model(&model.Chat{}).
		Where("id = ?", chatID).
		Updates(updates).Error
}

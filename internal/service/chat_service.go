package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"chatledger/internal/logger"
	"chatledger/internal/model"
	"chatledger/internal/repository"
	"chatledger/pkg/idgen"

	"gorm.io/gorm"
)

const maxChatMembers = 50

type ChatService struct {
	chatRepo *repository.ChatRepository
	logger   *slog.Logger
}

func NewChatService(db *gorm.DB, l *slog.Logger) *ChatService {
	return &ChatService{
		chatRepo: repository.NewChatRepository(db),
		logger:   logger.Component(l, "chat"),
	}
}

type CreateChatRequest struct {
	Actor   string
	Name    string
	Members []string
}

// CreateChat 创建账本上下文，创建者自动成为成员，成员去重后至少两人
func (s *ChatService) CreateChat(ctx context.Context, req *CreateChatRequest) (*model.Chat, error) {
	if req.Actor == "" {
		return nil, validation("缺少成员身份")
	}
	if utf8.RuneCountInString(req.Name) > 128 {
		return nil, validation("名称不能超过 128 个字符")
	}

	seen := map[string]struct{}{req.Actor: {}}
	memberIDs := []string{req.Actor}
	for _, m := range req.Members {
		m = strings.TrimSpace(m)
		if m == "" {
			return nil, validation("成员 ID 不能为空")
		}
		if utf8.RuneCountInString(m) > 64 {
			return nil, validation("成员 ID 不能超过 64 个字符")
		}
		if _, ok := seen[m]; ok {
			continue
		}
		seen[m] = struct{}{}
		memberIDs = append(memberIDs, m)
	}
	if len(memberIDs) < 2 {
		return nil, validation("聊天至少需要两名成员")
	}
	if len(memberIDs) > maxChatMembers {
		return nil, validation("聊天成员不能超过 %d 人", maxChatMembers)
	}

	chat := &model.Chat{ID: idgen.NextID(), Name: req.Name}
	for _, m := range memberIDs {
		chat.Members = append(chat.Members, model.ChatMember{MemberID: m})
	}
	if err := s.chatRepo.Create(ctx, chat); err != nil {
		return nil, fmt.Errorf("创建聊天失败: %w", err)
	}

	s.logger.InfoContext(ctx, "聊天已创建",
		logger.FieldChatID, chat.ID,
		logger.FieldMemberID, req.Actor,
		"members", len(memberIDs))
	return chat, nil
}

// GetChat 只有成员可以查看
func (s *ChatService) GetChat(ctx context.Context, chatID int64, actor string) (*model.Chat, error) {
	chat, err := s.chatRepo.GetByID(ctx, chatID)
	if err != nil {
		if errors.Is(err, repository.ErrChatNotFound) {
			return nil, notFound("聊天 %d 不存在", chatID)
		}
		return nil, fmt.Errorf("查询聊天失败: %w", err)
	}
	for _, m := range chat.Members {
		if m.MemberID == actor {
			return chat, nil
		}
	}
	return nil, forbidden("%q 不是聊天 %d 的成员", actor, chatID)
}

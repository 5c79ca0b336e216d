package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"chatledger/internal/logger"
)

// Notifier 在后台 goroutine 中投递通知，调用方不等待结果
//
// 投递失败只记录日志，不影响账本操作的结果。
type Notifier struct {
	dispatcher Dispatcher
	timeout    time.Duration
	logger     *slog.Logger
	wg         sync.WaitGroup
}

func NewNotifier(dispatcher Dispatcher, timeout time.Duration, l *slog.Logger) *Notifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Notifier{
		dispatcher: dispatcher,
		timeout:    timeout,
		logger:     logger.Component(l, "notify"),
	}
}

// NotifyMembers 向 recipients 中的每个成员各投递一条通知，立即返回
func (n *Notifier) NotifyMembers(ctx context.Context, recipients []string, title, body string, metadata map[string]string) {
	if n == nil || len(recipients) == 0 {
		return
	}

	// 与请求的生命周期脱钩，请求结束不应取消投递
	base := context.WithoutCancel(ctx)
	now := time.Now().UTC()

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				n.logger.Error("通知投递 panic", "panic", r)
			}
		}()

		for _, memberID := range recipients {
			sendCtx, cancel := context.WithTimeout(base, n.timeout)
			err := n.dispatcher.Dispatch(sendCtx, Message{
				MemberID: memberID,
				Title:    title,
				Body:     body,
				Metadata: metadata,
				SentAt:   now,
			})
			cancel()
			if err != nil {
				n.logger.Warn("通知投递失败，已丢弃",
					logger.FieldMemberID, memberID,
					"title", title,
					logger.FieldError, err)
			}
		}
	}()
}

// Wait 等待在途的通知全部完成，最多等待 timeout；超时返回 false
func (n *Notifier) Wait(timeout time.Duration) bool {
	if n == nil {
		return true
	}
	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"
	"unicode/utf8"

	"chatledger/internal/config"
	"chatledger/internal/infrastructure/cache"
	"chatledger/internal/infrastructure/lock"
	"chatledger/internal/logger"
	"chatledger/internal/model"
	"chatledger/internal/notify"
	"chatledger/internal/repository"
	"chatledger/pkg/cursor"
	"chatledger/pkg/idgen"
	"chatledger/pkg/money"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	maxRemarkLength = 256

	periodLockRetryInterval = 20 * time.Millisecond
)

// ============================================================================
// 流水生命周期
// ============================================================================
//
// 状态机：Open（未核对）→ Verified（终态）
// 另有一条正交的维度：流水日期早于当月 1 日（UTC）即为已关账，不能新增/编辑/删除。
//
// 【写入顺序】
//
//	1. 守卫检查（成员、作者、核对状态、关账）
//	2. 获取涉及周期的周期锁（与对账互斥）
//	3. 写流水；失败直接返回，汇总不会被触碰
//	4. 汇总增量；失败只记日志并登记待对账周期，不回滚流水
//	5. 释放周期锁；未能加锁时登记待对账周期
//	6. 重新查询最新一笔流水，刷新 chat 上的冗余指针
//	7. 统计缓存版本号 +1，异步通知其他成员
type LedgerService struct {
	chatRepo    *repository.ChatRepository
	txRepo      *repository.TransactionRepository
	aggregator  *Aggregator
	redisClient *redis.Client
	ledgerCache *cache.LedgerCache
	notifier    *notify.Notifier
	cfg         config.LedgerConfig
	logger      *slog.Logger
	now         func() time.Time
}

// NewLedgerService redisClient 为 nil 时不加周期锁（单实例且不运行对账任务）
func NewLedgerService(db *gorm.DB, redisClient *redis.Client, ledgerCache *cache.LedgerCache, notifier *notify.Notifier, cfg *config.Config, l *slog.Logger) *LedgerService {
	return &LedgerService{
		chatRepo:    repository.NewChatRepository(db),
		txRepo:      repository.NewTransactionRepository(db),
		aggregator:  NewAggregator(repository.NewSummaryRepository(db)),
		redisClient: redisClient,
		ledgerCache: ledgerCache,
		notifier:    notifier,
		cfg:         cfg.Ledger,
		logger:      logger.Component(l, "ledger"),
		now:         time.Now,
	}
}

// WithClock 替换时钟，关账判断和核对时间都使用它
func (s *LedgerService) WithClock(now func() time.Time) *LedgerService {
	s.now = now
	return s
}

// AddRequest 新增流水，Actor 为当前登录成员
type AddRequest struct {
	ChatID int64
	Actor  string
	Amount int64
	Date   time.Time
	Remark string
	From   string
	To     string
}

// EditRequest 编辑流水，nil 字段保持不变
type EditRequest struct {
	ChatID int64
	TxID   int64
	Actor  string
	Amount *int64
	Date   *time.Time
	Remark *string
	From   *string
	To     *string
}

func (s *LedgerService) Add(ctx context.Context, req *AddRequest) (*model.Transaction, error) {
	members, err := s.requireMember(ctx, req.ChatID, req.Actor)
	if err != nil {
		return nil, err
	}

	trans := &model.Transaction{
		ID:         idgen.NextID(),
		ChatID:     req.ChatID,
		Amount:     req.Amount,
		Date:       model.NormalizeDate(req.Date),
		Remark:     req.Remark,
		FromMember: req.From,
		ToMember:   req.To,
		AddedBy:    req.Actor,
	}
	if err := validateFields(trans, members); err != nil {
		return nil, err
	}
	if model.IsClosedAt(trans.Date, s.now()) {
		return nil, closedPeriod("不能在已关账的月份 %s 新增流水", trans.Period())
	}

	release := s.lockPeriods(ctx, trans.ChatID, trans.Period())
	if err := s.txRepo.Create(ctx, nil, trans); err != nil {
		release()
		return nil, fmt.Errorf("创建流水失败: %w", err)
	}
	if err := s.aggregator.OnAdd(ctx, trans.ChatID, FieldsOf(trans)); err != nil {
		s.aggregateFailed(ctx, trans.ChatID, trans.ID, err, trans.Period())
	}
	release()
	s.afterMutation(ctx, trans, members, req.Actor, "add",
		"新流水", fmt.Sprintf("%s 记了一笔 %s（%s → %s）", req.Actor, money.FormatCents(trans.Amount), trans.FromMember, trans.ToMember))

	s.logger.InfoContext(ctx, "流水已创建",
		logger.FieldChatID, trans.ChatID,
		logger.FieldTxID, trans.ID,
		logger.FieldMemberID, req.Actor)
	return trans, nil
}

func (s *LedgerService) Edit(ctx context.Context, req *EditRequest) (*model.Transaction, error) {
	current, members, err := s.loadMutable(ctx, req.ChatID, req.TxID, req.Actor, "编辑")
	if err != nil {
		return nil, err
	}

	// 快照必须在修改前取
	old := FieldsOf(current)

	updated := *current
	if req.Amount != nil {
		updated.Amount = *req.Amount
	}
	if req.Date != nil {
		updated.Date = model.NormalizeDate(*req.Date)
	}
	if req.Remark != nil {
		updated.Remark = *req.Remark
	}
	if req.From != nil {
		updated.FromMember = *req.From
	}
	if req.To != nil {
		updated.ToMember = *req.To
	}
	if err := validateFields(&updated, members); err != nil {
		return nil, err
	}
	if req.Date != nil && model.IsClosedAt(updated.Date, s.now()) {
		return nil, closedPeriod("不能把流水移到已关账的月份 %s", updated.Period())
	}

	updated.UpdatedAt = s.now().UTC().Truncate(time.Millisecond)

	release := s.lockPeriods(ctx, updated.ChatID, old.Period, updated.Period())
	if err := s.txRepo.UpdateUnverified(ctx, &updated); err != nil {
		release()
		return nil, s.mapLedgerError(err, req.TxID)
	}
	if err := s.aggregator.OnEdit(ctx, updated.ChatID, old, FieldsOf(&updated)); err != nil {
		s.aggregateFailed(ctx, updated.ChatID, updated.ID, err, old.Period, updated.Period())
	}
	release()
	s.afterMutation(ctx, &updated, members, req.Actor, "edit",
		"流水已修改", fmt.Sprintf("%s 修改了一笔流水，当前金额 %s", req.Actor, money.FormatCents(updated.Amount)))

	s.logger.InfoContext(ctx, "流水已编辑",
		logger.FieldChatID, updated.ChatID,
		logger.FieldTxID, updated.ID,
		logger.FieldMemberID, req.Actor)
	return &updated, nil
}

func (s *LedgerService) Delete(ctx context.Context, chatID, txID int64, actor string) error {
	current, members, err := s.loadMutable(ctx, chatID, txID, actor, "删除")
	if err != nil {
		return err
	}
	old := FieldsOf(current)

	release := s.lockPeriods(ctx, chatID, old.Period)
	if err := s.txRepo.DeleteUnverified(ctx, txID); err != nil {
		release()
		return s.mapLedgerError(err, txID)
	}
	if err := s.aggregator.OnDelete(ctx, chatID, old); err != nil {
		s.aggregateFailed(ctx, chatID, txID, err, old.Period)
	}
	release()
	s.afterMutation(ctx, current, members, actor, "delete",
		"流水已删除", fmt.Sprintf("%s 删除了一笔 %s 的流水", actor, money.FormatCents(current.Amount)))

	s.logger.InfoContext(ctx, "流水已删除",
		logger.FieldChatID, chatID,
		logger.FieldTxID, txID,
		logger.FieldMemberID, actor)
	return nil
}

// Verify 核对流水
//
// 不检查关账（历史月份未核对的流水允许事后核对），也不修改汇总。
func (s *LedgerService) Verify(ctx context.Context, chatID, txID int64, actor string) (*model.Transaction, error) {
	members, err := s.requireMember(ctx, chatID, actor)
	if err != nil {
		return nil, err
	}
	trans, err := s.getInChat(ctx, chatID, txID)
	if err != nil {
		return nil, err
	}
	if trans.AddedBy == actor {
		return nil, forbidden("不能核对自己添加的流水")
	}
	if trans.Verified {
		return nil, invalidState("流水 %d 已核对", txID)
	}

	at := s.now().UTC().Truncate(time.Millisecond)
	if err := s.txRepo.MarkVerified(ctx, txID, actor, at); err != nil {
		return nil, s.mapLedgerError(err, txID)
	}
	trans.Verified = true
	trans.VerifiedBy = &actor
	trans.VerifiedAt = &at
	trans.UpdatedAt = at

	s.notifier.NotifyMembers(ctx, recipients(members, actor), "流水已核对",
		fmt.Sprintf("%s 核对了一笔 %s 的流水", actor, money.FormatCents(trans.Amount)),
		notifyMetadata(trans, "verify"))

	s.logger.InfoContext(ctx, "流水已核对",
		logger.FieldChatID, chatID,
		logger.FieldTxID, txID,
		logger.FieldMemberID, actor)
	return trans, nil
}

// ListRequest Year/Month 同时为 0 表示不限定月份
type ListRequest struct {
	ChatID int64
	Actor  string
	Year   int
	Month  int
	Cursor string
	Limit  int
}

type ListResult struct {
	Items      []*model.Transaction `json:"items"`
	NextCursor string               `json:"next_cursor,omitempty"`
	HasMore    bool                 `json:"has_more"`
}

func (s *LedgerService) List(ctx context.Context, req *ListRequest) (*ListResult, error) {
	if _, err := s.requireMember(ctx, req.ChatID, req.Actor); err != nil {
		return nil, err
	}

	q := repository.ListQuery{Limit: s.pageSize(req.Limit)}
	if req.Year != 0 || req.Month != 0 {
		p, err := model.NewPeriod(req.Year, req.Month)
		if err != nil {
			return nil, validation("%v", err)
		}
		q.Period = &p
	}
	c, err := cursor.Decode(req.Cursor)
	if err != nil {
		return nil, validation("%v", err)
	}
	q.Cursor = c

	items, next, hasMore, err := s.txRepo.ListByChat(ctx, req.ChatID, q)
	if err != nil {
		return nil, fmt.Errorf("查询流水失败: %w", err)
	}

	result := &ListResult{Items: items, HasMore: hasMore}
	if result.Items == nil {
		result.Items = []*model.Transaction{}
	}
	if hasMore && next != nil {
		result.NextCursor = next.Encode()
	}
	return result, nil
}

func (s *LedgerService) pageSize(limit int) int {
	if limit <= 0 {
		return s.cfg.DefaultPageSize
	}
	if limit > s.cfg.MaxPageSize {
		return s.cfg.MaxPageSize
	}
	return limit
}

// ============================================================================
// 守卫
// ============================================================================

// requireMember chat 不存在返回 NotFound，调用者不是成员返回 Forbidden
func (s *LedgerService) requireMember(ctx context.Context, chatID int64, actor string) ([]string, error) {
	return requireMember(ctx, s.chatRepo, chatID, actor)
}

func requireMember(ctx context.Context, chatRepo *repository.ChatRepository, chatID int64, actor string) ([]string, error) {
	exists, err := chatRepo.Exists(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("查询聊天失败: %w", err)
	}
	if !exists {
		return nil, notFound("聊天 %d 不存在", chatID)
	}
	ok, err := chatRepo.IsMember(ctx, chatID, actor)
	if err != nil {
		return nil, fmt.Errorf("查询成员失败: %w", err)
	}
	if !ok {
		return nil, forbidden("%q 不是聊天 %d 的成员", actor, chatID)
	}
	members, err := chatRepo.Members(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("查询成员失败: %w", err)
	}
	return members, nil
}

// getInChat 流水不存在或不属于该 chat 都按 NotFound 处理
func (s *LedgerService) getInChat(ctx context.Context, chatID, txID int64) (*model.Transaction, error) {
	trans, err := s.txRepo.GetByID(ctx, txID)
	if err != nil {
		if errors.Is(err, repository.ErrTransactionNotFound) {
			return nil, notFound("流水 %d 不存在", txID)
		}
		return nil, fmt.Errorf("查询流水失败: %w", err)
	}
	if trans.ChatID != chatID {
		return nil, notFound("流水 %d 不存在", txID)
	}
	return trans, nil
}

// loadMutable 编辑和删除共用的守卫：成员 → 作者 → 未核对 → 原日期未关账
func (s *LedgerService) loadMutable(ctx context.Context, chatID, txID int64, actor, action string) (*model.Transaction, []string, error) {
	members, err := s.requireMember(ctx, chatID, actor)
	if err != nil {
		return nil, nil, err
	}
	trans, err := s.getInChat(ctx, chatID, txID)
	if err != nil {
		return nil, nil, err
	}
	if trans.AddedBy != actor {
		return nil, nil, forbidden("只能%s自己添加的流水", action)
	}
	if trans.Verified {
		return nil, nil, invalidState("流水 %d 已核对，不能%s", txID, action)
	}
	if model.IsClosedAt(trans.Date, s.now()) {
		return nil, nil, closedPeriod("流水所属月份 %s 已关账，不能%s", trans.Period(), action)
	}
	return trans, members, nil
}

func validateFields(t *model.Transaction, members []string) error {
	if t.Amount <= 0 {
		return validation("金额必须大于 0")
	}
	if t.Date.IsZero() {
		return validation("日期不能为空")
	}
	if t.FromMember == "" || t.ToMember == "" {
		return validation("付款方和收款方不能为空")
	}
	if t.FromMember == t.ToMember {
		return validation("付款方和收款方不能相同")
	}
	if !contains(members, t.FromMember) {
		return validation("付款方 %q 不是聊天成员", t.FromMember)
	}
	if !contains(members, t.ToMember) {
		return validation("收款方 %q 不是聊天成员", t.ToMember)
	}
	if utf8.RuneCountInString(t.Remark) > maxRemarkLength {
		return validation("备注不能超过 %d 个字符", maxRemarkLength)
	}
	return nil
}

// mapLedgerError 条件更新失败时的错误转换（守卫检查之后被并发核对或删除）
func (s *LedgerService) mapLedgerError(err error, txID int64) error {
	switch {
	case errors.Is(err, repository.ErrTransactionVerified):
		return invalidState("流水 %d 已核对", txID)
	case errors.Is(err, repository.ErrTransactionNotFound):
		return notFound("流水 %d 不存在", txID)
	default:
		return fmt.Errorf("更新流水失败: %w", err)
	}
}

// ============================================================================
// 写入后的副作用
// ============================================================================

// lockPeriods 获取 periods 对应的周期锁，返回的 release 必须调用
//
// 【关键点】写流水和更新汇总必须在锁内完成，否则对账可能在两步之间
// 重放（已含新流水），随后的增量再加一次，汇总永久多记。
// 按周期顺序加锁，跨月编辑同时持有两个周期的锁时不会互相等待成环。
// 等不到锁（对账耗时过长或 Redis 不可用）时不阻塞写入：
// 不加锁继续执行，release 时登记这些周期，之后由对账修正。
func (s *LedgerService) lockPeriods(ctx context.Context, chatID int64, periods ...model.Period) (release func()) {
	if s.redisClient == nil {
		return func() {}
	}

	ordered := make([]model.Period, 0, len(periods))
	for _, p := range periods {
		seen := false
		for _, o := range ordered {
			if o == p {
				seen = true
				break
			}
		}
		if !seen {
			ordered = append(ordered, p)
		}
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Before(ordered[j]) })

	retries := s.cfg.PeriodLockWaitMillis / int(periodLockRetryInterval/time.Millisecond)
	if retries < 1 {
		retries = 1
	}

	held := make([]*lock.DistributedLock, 0, len(ordered))
	unlockAll := func() {
		for _, l := range held {
			if err := l.Unlock(context.WithoutCancel(ctx)); err != nil {
				s.logger.WarnContext(ctx, "释放周期锁失败",
					logger.FieldChatID, chatID,
					logger.FieldError, err)
			}
		}
	}

	for _, p := range ordered {
		l := lock.NewPeriodLock(s.redisClient, chatID, p, "ledger/"+uuid.NewString())
		if err := l.Lock(ctx, periodLockRetryInterval, retries); err != nil {
			s.logger.WarnContext(ctx, "获取周期锁失败，写入后登记待对账",
				logger.FieldChatID, chatID,
				logger.FieldPeriod, p.String(),
				logger.FieldError, err)
			unlockAll()
			return func() { s.markDirty(ctx, chatID, ordered...) }
		}
		held = append(held, l)
	}
	return unlockAll
}

// aggregateFailed 流水已落库但汇总失败：不回滚，登记周期等待对账
func (s *LedgerService) aggregateFailed(ctx context.Context, chatID, txID int64, cause error, periods ...model.Period) {
	for _, p := range periods {
		s.logger.ErrorContext(ctx, "汇总更新失败，等待对账",
			logger.FieldChatID, chatID,
			logger.FieldTxID, txID,
			logger.FieldPeriod, p.String(),
			logger.FieldError, cause)
	}
	s.markDirty(ctx, chatID, periods...)
}

func (s *LedgerService) markDirty(ctx context.Context, chatID int64, periods ...model.Period) {
	for _, p := range periods {
		if err := s.ledgerCache.MarkDirty(ctx, chatID, p); err != nil {
			s.logger.ErrorContext(ctx, "登记待对账周期失败",
				logger.FieldChatID, chatID,
				logger.FieldPeriod, p.String(),
				logger.FieldError, err)
		}
	}
}

func (s *LedgerService) afterMutation(ctx context.Context, trans *model.Transaction, members []string, actor, action, title, body string) {
	s.refreshLastTransaction(ctx, trans.ChatID)

	if err := s.ledgerCache.BumpVersion(ctx, trans.ChatID); err != nil {
		s.logger.WarnContext(ctx, "统计缓存失效失败",
			logger.FieldChatID, trans.ChatID,
			logger.FieldError, err)
	}

	s.notifier.NotifyMembers(ctx, recipients(members, actor), title, body, notifyMetadata(trans, action))
}

// refreshLastTransaction 按 (date DESC, id DESC) 重新查询最新流水
//
// 编辑可能改变排序，删除可能清空 chat，所以不从本次操作推断。
func (s *LedgerService) refreshLastTransaction(ctx context.Context, chatID int64) {
	latest, err := s.txRepo.Latest(ctx, chatID)
	if err == nil {
		err = s.chatRepo.SetLastTransaction(ctx, chatID, latest)
	}
	if err != nil {
		s.logger.WarnContext(ctx, "刷新最新流水指针失败",
			logger.FieldChatID, chatID,
			logger.FieldError, err)
	}
}

func recipients(members []string, actor string) []string {
	out := make([]string, 0, len(members))
	for _, m := range members {
		if m != actor {
			out = append(out, m)
		}
	}
	return out
}

func notifyMetadata(t *model.Transaction, action string) map[string]string {
	return map[string]string{
		"action":  action,
		"chat_id": strconv.FormatInt(t.ChatID, 10),
		"tx_id":   strconv.FormatInt(t.ID, 10),
		"period":  t.Period().String(),
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"chatledger/internal/logger"
	"chatledger/internal/model"
	"chatledger/internal/service"
	"chatledger/pkg/money"
	"chatledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	chatService   *service.ChatService
	ledgerService *service.LedgerService
	statsService  *service.StatsService
	logger        *slog.Logger
}

func NewHandler(chatService *service.ChatService, ledgerService *service.LedgerService, statsService *service.StatsService, l *slog.Logger) *Handler {
	return &Handler{
		chatService:   chatService,
		ledgerService: ledgerService,
		statsService:  statsService,
		logger:        logger.Component(l, "http"),
	}
}

// writeError 按错误分类返回不同的状态码和业务码，未分类的错误只记录日志不外泄
func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrValidation):
		response.BusinessError(c, http.StatusBadRequest, response.CodeValidation, err.Error())
	case errors.Is(err, service.ErrNotFound):
		response.NotFound(c, err.Error())
	case errors.Is(err, service.ErrForbidden):
		response.Forbidden(c, err.Error())
	case errors.Is(err, service.ErrInvalidState):
		response.BusinessError(c, http.StatusConflict, response.CodeInvalidState, err.Error())
	case errors.Is(err, service.ErrClosedPeriod):
		response.BusinessError(c, http.StatusConflict, response.CodeClosedPeriod, err.Error())
	default:
		h.logger.ErrorContext(c.Request.Context(), "请求处理失败",
			logger.FieldRequestID, c.GetString(ctxRequestID),
			logger.FieldError, err)
		response.ServerError(c, "服务器内部错误")
	}
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		response.ParamError(c, name+" 参数错误")
		return 0, false
	}
	return id, true
}

// ============================================================
// 视图
// ============================================================

// TransactionView 金额以两位小数字符串返回
type TransactionView struct {
	ID         int64      `json:"id,string"`
	ChatID     int64      `json:"chat_id,string"`
	Amount     string     `json:"amount"`
	Date       time.Time  `json:"date"`
	Remark     string     `json:"remark"`
	From       string     `json:"from"`
	To         string     `json:"to"`
	AddedBy    string     `json:"added_by"`
	Verified   bool       `json:"verified"`
	VerifiedBy *string    `json:"verified_by,omitempty"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func transactionView(t *model.Transaction) TransactionView {
	return TransactionView{
		ID:         t.ID,
		ChatID:     t.ChatID,
		Amount:     money.FormatCents(t.Amount),
		Date:       t.Date,
		Remark:     t.Remark,
		From:       t.FromMember,
		To:         t.ToMember,
		AddedBy:    t.AddedBy,
		Verified:   t.Verified,
		VerifiedBy: t.VerifiedBy,
		VerifiedAt: t.VerifiedAt,
		CreatedAt:  t.CreatedAt,
		UpdatedAt:  t.UpdatedAt,
	}
}

type MemberStatsView struct {
	MemberID      string `json:"member_id"`
	TotalSent     string `json:"total_sent"`
	TotalReceived string `json:"total_received"`
	Net           string `json:"net"`
	CarryForward  string `json:"carry_forward"`
	Closing       string `json:"closing"`
}

type StatsView struct {
	ChatID  int64             `json:"chat_id,string"`
	Year    int               `json:"year"`
	Month   int               `json:"month"`
	TxCount int64             `json:"tx_count"`
	Members []MemberStatsView `json:"members"`
}

func statsView(s *service.Stats) StatsView {
	v := StatsView{
		ChatID:  s.ChatID,
		Year:    s.Year,
		Month:   s.Month,
		TxCount: s.TxCount,
		Members: make([]MemberStatsView, 0, len(s.Members)),
	}
	for _, m := range s.Members {
		v.Members = append(v.Members, MemberStatsView{
			MemberID:      m.MemberID,
			TotalSent:     money.FormatCents(m.TotalSent),
			TotalReceived: money.FormatCents(m.TotalReceived),
			Net:           money.FormatCents(m.Net),
			CarryForward:  money.FormatCents(m.CarryForward),
			Closing:       money.FormatCents(m.Closing),
		})
	}
	return v
}

// ============================================================
// 聊天相关接口
// ============================================================

type CreateChatRequest struct {
	Name    string   `json:"name"`
	Members []string `json:"members" binding:"required,min=1"`
}

// CreateChat 创建聊天，当前成员自动加入
// POST /api/v1/chats
func (h *Handler) CreateChat(c *gin.Context) {
	var req CreateChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	chat, err := h.chatService.CreateChat(c.Request.Context(), &service.CreateChatRequest{
		Actor:   currentMember(c),
		Name:    req.Name,
		Members: req.Members,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Created(c, chat)
}

// GetChat 聊天详情（含成员和最新流水指针）
// GET /api/v1/chats/:chat_id
func (h *Handler) GetChat(c *gin.Context) {
	chatID, ok := pathID(c, "chat_id")
	if !ok {
		return
	}

	chat, err := h.chatService.GetChat(c.Request.Context(), chatID, currentMember(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, chat)
}

// ============================================================
// 流水相关接口
// ============================================================

type AddTransactionRequest struct {
	Amount string    `json:"amount" binding:"required"`
	Date   time.Time `json:"date"`
	Remark string    `json:"remark"`
	From   string    `json:"from" binding:"required"`
	To     string    `json:"to" binding:"required"`
}

// AddTransaction 新增流水
// POST /api/v1/chats/:chat_id/transactions
func (h *Handler) AddTransaction(c *gin.Context) {
	chatID, ok := pathID(c, "chat_id")
	if !ok {
		return
	}
	var req AddTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}
	amount, err := money.ParseCents(req.Amount)
	if err != nil {
		response.BusinessError(c, http.StatusBadRequest, response.CodeValidation, err.Error())
		return
	}

	trans, err := h.ledgerService.Add(c.Request.Context(), &service.AddRequest{
		ChatID: chatID,
		Actor:  currentMember(c),
		Amount: amount,
		Date:   req.Date,
		Remark: req.Remark,
		From:   req.From,
		To:     req.To,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Created(c, transactionView(trans))
}

// EditTransactionRequest 只修改出现的字段
type EditTransactionRequest struct {
	Amount *string    `json:"amount"`
	Date   *time.Time `json:"date"`
	Remark *string    `json:"remark"`
	From   *string    `json:"from"`
	To     *string    `json:"to"`
}

// EditTransaction 编辑流水
// PUT /api/v1/chats/:chat_id/transactions/:tx_id
func (h *Handler) EditTransaction(c *gin.Context) {
	chatID, ok := pathID(c, "chat_id")
	if !ok {
		return
	}
	txID, ok := pathID(c, "tx_id")
	if !ok {
		return
	}
	var req EditTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	edit := &service.EditRequest{
		ChatID: chatID,
		TxID:   txID,
		Actor:  currentMember(c),
		Date:   req.Date,
		Remark: req.Remark,
		From:   req.From,
		To:     req.To,
	}
	if req.Amount != nil {
		amount, err := money.ParseCents(*req.Amount)
		if err != nil {
			response.BusinessError(c, http.StatusBadRequest, response.CodeValidation, err.Error())
			return
		}
		edit.Amount = &amount
	}

	trans, err := h.ledgerService.Edit(c.Request.Context(), edit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, transactionView(trans))
}

// DeleteTransaction 删除流水
// DELETE /api/v1/chats/:chat_id/transactions/:tx_id
func (h *Handler) DeleteTransaction(c *gin.Context) {
	chatID, ok := pathID(c, "chat_id")
	if !ok {
		return
	}
	txID, ok := pathID(c, "tx_id")
	if !ok {
		return
	}

	if err := h.ledgerService.Delete(c.Request.Context(), chatID, txID, currentMember(c)); err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, gin.H{"id": strconv.FormatInt(txID, 10)})
}

// VerifyTransaction 核对流水
// POST /api/v1/chats/:chat_id/transactions/:tx_id/verify
func (h *Handler) VerifyTransaction(c *gin.Context) {
	chatID, ok := pathID(c, "chat_id")
	if !ok {
		return
	}
	txID, ok := pathID(c, "tx_id")
	if !ok {
		return
	}

	trans, err := h.ledgerService.Verify(c.Request.Context(), chatID, txID, currentMember(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, transactionView(trans))
}

type listTransactionsQuery struct {
	Year   int    `form:"year"`
	Month  int    `form:"month"`
	Cursor string `form:"cursor"`
	Limit  int    `form:"limit"`
}

// ListTransactions 分页查询流水
// GET /api/v1/chats/:chat_id/transactions?year=&month=&cursor=&limit=
func (h *Handler) ListTransactions(c *gin.Context) {
	chatID, ok := pathID(c, "chat_id")
	if !ok {
		return
	}
	var q listTransactionsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	result, err := h.ledgerService.List(c.Request.Context(), &service.ListRequest{
		ChatID: chatID,
		Actor:  currentMember(c),
		Year:   q.Year,
		Month:  q.Month,
		Cursor: q.Cursor,
		Limit:  q.Limit,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	items := make([]TransactionView, 0, len(result.Items))
	for _, t := range result.Items {
		items = append(items, transactionView(t))
	}
	response.Success(c, gin.H{
		"items":       items,
		"next_cursor": result.NextCursor,
		"has_more":    result.HasMore,
	})
}

// ============================================================
// 统计相关接口
// ============================================================

type statsQuery struct {
	Year  int `form:"year" binding:"required"`
	Month int `form:"month" binding:"required"`
}

// GetStats 月度统计 + 期初结转
// GET /api/v1/chats/:chat_id/stats?year=&month=
func (h *Handler) GetStats(c *gin.Context) {
	chatID, ok := pathID(c, "chat_id")
	if !ok {
		return
	}
	var q statsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.ParamError(c, "year 和 month 参数必填")
		return
	}

	stats, err := h.statsService.Stats(c.Request.Context(), chatID, currentMember(c), q.Year, q.Month)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, statsView(stats))
}

// ListMonths 有流水的月份列表
// GET /api/v1/chats/:chat_id/months
func (h *Handler) ListMonths(c *gin.Context) {
	chatID, ok := pathID(c, "chat_id")
	if !ok {
		return
	}

	months, err := h.statsService.Months(c.Request.Context(), chatID, currentMember(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.Success(c, gin.H{"months": months})
}

package handler

import (
	"log/slog"

	"chatledger/internal/config"

	"github.com/gin-gonic/gin"
)

// SetupRouter 配置路由
func SetupRouter(h *Handler, cfg *config.Config, l *slog.Logger) *gin.Engine {
	switch cfg.Server.Mode {
	case gin.DebugMode, gin.TestMode:
		gin.SetMode(cfg.Server.Mode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// 注册中间件
	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(l))
	r.Use(LoggerMiddleware(l))
	r.Use(CORSMiddleware())

	api := r.Group("/api/v1")
	api.Use(MemberAuthMiddleware())
	{
		api.POST("/chats", h.CreateChat)

		chat := api.Group("/chats/:chat_id")
		{
			chat.GET("", h.GetChat)

			// 流水
			chat.GET("/transactions", h.ListTransactions)
			chat.POST("/transactions", h.AddTransaction)
			chat.PUT("/transactions/:tx_id", h.EditTransaction)
			chat.DELETE("/transactions/:tx_id", h.DeleteTransaction)
			chat.POST("/transactions/:tx_id/verify", h.VerifyTransaction)

			// 统计
			chat.GET("/stats", h.GetStats)
			chat.GET("/months", h.ListMonths)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}

package handler

import (
	"log/slog"
	"strings"
	"time"

	"chatledger/internal/logger"
	"chatledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	headerRequestID = "X-Request-ID"
	headerMemberID  = "X-Member-ID"

	ctxRequestID = "request_id"
	ctxMemberID  = "member_id"
)

// RequestIDMiddleware 透传或生成请求 ID
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ctxRequestID, id)
		c.Header(headerRequestID, id)
		c.Next()
	}
}

// LoggerMiddleware 访问日志
func LoggerMiddleware(l *slog.Logger) gin.HandlerFunc {
	l = logger.Component(l, "http")
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		if query != "" {
			path = path + "?" + query
		}

		level := slog.LevelInfo
		if c.Writer.Status() >= 500 {
			level = slog.LevelError
		}
		l.Log(c.Request.Context(), level, "HTTP",
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
			"method", c.Request.Method,
			"path", path,
			logger.FieldRequestID, c.GetString(ctxRequestID),
			logger.FieldMemberID, c.GetString(ctxMemberID))
	}
}

// RecoveryMiddleware 恢复中间件，防止 panic 导致服务崩溃
func RecoveryMiddleware(l *slog.Logger) gin.HandlerFunc {
	l = logger.Component(l, "http")
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				l.Error("PANIC", "panic", err, logger.FieldRequestID, c.GetString(ctxRequestID))
				response.ServerError(c, "服务器内部错误")
			}
		}()
		c.Next()
	}
}

// CORSMiddleware 跨域中间件
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Request-ID, X-Member-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// MemberAuthMiddleware 读取网关认证后注入的成员 ID
//
// 认证本身由上游身份服务完成，这里只要求请求头存在。
func MemberAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		memberID := strings.TrimSpace(c.GetHeader(headerMemberID))
		if memberID == "" {
			response.Unauthorized(c, "缺少成员身份")
			return
		}
		c.Set(ctxMemberID, memberID)
		c.Next()
	}
}

func currentMember(c *gin.Context) string {
	return c.GetString(ctxMemberID)
}

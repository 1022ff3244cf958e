package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/z-wentao/okoshi/pkg/apperr"
	"github.com/z-wentao/okoshi/pkg/logger"
)

const (
	headerRequestID = "X-Request-Id"
	ctxRequestID    = "request_id"
)

// requestID 为每个请求分配 8 位关联 ID（客户端传入的优先）
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(headerRequestID))
		if id == "" || len(id) > 64 {
			id = apperr.NewRequestID()
		}
		c.Set(ctxRequestID, id)
		c.Writer.Header().Set(headerRequestID, id)
		c.Next()
	}
}

func requestIDFrom(c *gin.Context) string {
	if id := c.GetString(ctxRequestID); id != "" {
		return id
	}
	return apperr.NewRequestID()
}

// requestLogger 按状态码选择日志级别
func requestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		fields := []interface{}{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", c.GetString(ctxRequestID),
		}

		switch {
		case status >= 500:
			log.Error("HTTP request", fields...)
		case status >= 400:
			log.Warn("HTTP request", fields...)
		default:
			log.Info("HTTP request", fields...)
		}
	}
}

// recovery panic 时返回固定的错误文案和请求 ID
func recovery(log *logger.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		id := requestIDFrom(c)
		log.Error("处理请求时发生 panic", "request_id", id, "panic", recovered)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"detail":     apperr.PublicMessage(nil, id),
			"request_id": id,
		})
	})
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Content-Type", "X-Requested-With", headerRequestID},
		ExposeHeaders: []string{headerRequestID, "Content-Disposition"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}

// abortWithError 4xx 原样返回提示，5xx 只返回固定文案和请求 ID
func abortWithError(c *gin.Context, log *logger.Logger, err error) {
	id := requestIDFrom(c)
	err = apperr.WithRequestID(err, id)
	status := apperr.Status(err)
	if status >= 500 {
		log.Error("请求失败", "request_id", id, "error", err)
	} else {
		log.Warn("请求被拒绝", "request_id", id, "error", err)
	}
	c.AbortWithStatusJSON(status, gin.H{
		"detail":     apperr.PublicMessage(err, id),
		"request_id": id,
	})
}

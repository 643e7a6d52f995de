package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func LoggingMiddleware() gin.HandlerFunc {
	logger := zap.L()
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		logger.Info(c.Request.RequestURI,
			zap.String("method", c.Request.Method),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(started)),
		)
	}
}

// ErrorHandler turns a panicking handler into a 500.
func ErrorHandler() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		zap.L().Error("handler panicked", zap.Any("recovered", recovered))
		handleError(c, http.StatusInternalServerError, fmt.Errorf("internal error: %v", recovered))
	})
}

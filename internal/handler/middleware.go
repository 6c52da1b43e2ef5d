package handler

import (
	"net/http"
	"time"

	"creditledger/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	headerUserID   = "X-User-ID"
	headerOrgID    = "X-Org-ID"
	headerAdminID  = "X-Admin-ID"
	headerUserRole = "X-User-Role"

	roleSuperAdmin = "super_admin"

	ctxKeyUserID  = "user_id"
	ctxKeyOrgID   = "org_id"
	ctxKeyAdminID = "admin_id"
)

// LoggerMiddleware logs one line per request with latency and status.
func LoggerMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Infow("http request",
			"status", c.Writer.Status(),
			"method", c.Request.Method,
			"path", path,
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}

// RecoveryMiddleware converts panics into 500 responses instead of killing
// the process.
func RecoveryMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Errorw("panic recovered", "error", err, "path", c.Request.URL.Path)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"code":    response.CodeServerError,
					"message": "internal server error",
				})
			}
		}()
		c.Next()
	}
}

// CORSMiddleware allows browser clients across origins.
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-User-ID, X-Org-ID, X-Admin-ID, X-User-Role, X-Request-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// IdentityMiddleware requires the caller's user and org identity headers.
// Authentication itself happens upstream at the gateway; this service trusts
// the forwarded identity.
func IdentityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader(headerUserID)
		orgID := c.GetHeader(headerOrgID)
		if userID == "" || orgID == "" {
			response.ParamError(c, "missing identity headers")
			c.Abort()
			return
		}
		c.Set(ctxKeyUserID, userID)
		c.Set(ctxKeyOrgID, orgID)
		c.Next()
	}
}

// AdminMiddleware gates the administrative endpoints on the forwarded role.
func AdminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		adminID := c.GetHeader(headerAdminID)
		role := c.GetHeader(headerUserRole)
		if adminID == "" || role != roleSuperAdmin {
			response.Forbidden(c, "admin access required")
			c.Abort()
			return
		}
		c.Set(ctxKeyAdminID, adminID)
		c.Next()
	}
}

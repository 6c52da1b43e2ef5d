package handler

import (
	"creditledger/internal/config"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SetupRouter wires middleware and routes.
func SetupRouter(db *gorm.DB, rdb *redis.Client, cfg *config.Config, logger *zap.SugaredLogger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(RecoveryMiddleware(logger))
	r.Use(LoggerMiddleware(logger))
	r.Use(CORSMiddleware())

	h := NewHandler(db, rdb, cfg, logger)

	api := r.Group("/api/v1")
	{
		catalogGroup := api.Group("/catalog")
		{
			catalogGroup.GET("/packages", h.GetPackages)
			catalogGroup.GET("/features", h.GetFeatures)
		}

		// The provider calls the webhook without identity headers.
		api.POST("/webhooks/payment", h.HandleWebhook)

		authed := api.Group("")
		authed.Use(IdentityMiddleware())
		{
			account := authed.Group("/account")
			{
				account.GET("/balance", h.GetBalance)
				account.GET("/transactions", h.ListTransactions)
			}

			authed.POST("/checkout/init", h.InitCheckout)
			authed.GET("/payments", h.ListPayments)
			authed.POST("/payments/:payment_no/provider", h.AttachProvider)
			authed.POST("/credits/spend", h.SpendCredits)
		}

		admin := api.Group("/admin")
		admin.Use(AdminMiddleware())
		{
			admin.POST("/credits/grant", h.AdminGrant)
			admin.POST("/credits/adjust", h.AdminAdjust)
			admin.POST("/payments/refund", h.AdminRefund)
			admin.GET("/audit", h.AdminListAudit)
			admin.GET("/accounts/reconcile", h.AdminReconcile)
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}

package handler

import (
	"errors"

	"creditledger/internal/catalog"
	"creditledger/internal/config"
	"creditledger/internal/infrastructure/lock"
	"creditledger/internal/repository"
	"creditledger/internal/service"
	"creditledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Handler bundles the service layer behind the HTTP surface.
type Handler struct {
	ledger     *service.LedgerService
	checkout   *service.CheckoutService
	settlement *service.SettlementService
	bypass     *service.BypassService
	refund     *service.RefundService
	spend      *service.SpendService
	audits     *repository.AuditRepository
	logger     *zap.SugaredLogger
}

func NewHandler(db *gorm.DB, rdb *redis.Client, cfg *config.Config, logger *zap.SugaredLogger) *Handler {
	accountRepo := repository.NewAccountRepository(db)
	transactionRepo := repository.NewTransactionRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	webhookRepo := repository.NewWebhookRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	outboxRepo := repository.NewOutboxRepository(db)

	txm := service.NewTxManager(db)
	locker := lock.NewRedisAccountLocker(rdb)

	ledger := service.NewLedgerService(accountRepo, transactionRepo, logger)
	audit := service.NewAuditService(auditRepo, logger)

	return &Handler{
		ledger:     ledger,
		checkout:   service.NewCheckoutService(paymentRepo, accountRepo, locker, cfg, logger),
		settlement: service.NewSettlementService(txm, paymentRepo, webhookRepo, outboxRepo, ledger, audit, cfg, logger),
		bypass:     service.NewBypassService(txm, ledger, audit, logger),
		refund:     service.NewRefundService(txm, paymentRepo, outboxRepo, ledger, audit, cfg, logger),
		spend:      service.NewSpendService(txm, accountRepo, ledger, cfg, logger),
		audits:     auditRepo,
		logger:     logger,
	}
}

func identity(c *gin.Context) (userID, orgID string) {
	return c.GetString(ctxKeyUserID), c.GetString(ctxKeyOrgID)
}

func requestMeta(c *gin.Context) service.RequestMeta {
	return service.RequestMeta{
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
}

func pagination(c *gin.Context) (page, pageSize int) {
	type query struct {
		Page     int `form:"page"`
		PageSize int `form:"page_size"`
	}
	var q query
	_ = c.ShouldBindQuery(&q)
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 || q.PageSize > 100 {
		q.PageSize = 20
	}
	return q.Page, q.PageSize
}

// GetPackages lists the purchasable credit packages.
// GET /api/v1/catalog/packages
func (h *Handler) GetPackages(c *gin.Context) {
	response.Success(c, gin.H{"packages": catalog.ActivePackageMetadata()})
}

// GetFeatures lists the purchasable feature SKUs.
// GET /api/v1/catalog/features
func (h *Handler) GetFeatures(c *gin.Context) {
	response.Success(c, gin.H{"features": catalog.ActiveFeatureMetadata()})
}

// GetBalance returns the caller's balance and feature flags.
// GET /api/v1/account/balance
func (h *Handler) GetBalance(c *gin.Context) {
	userID, orgID := identity(c)
	account, err := h.ledger.GetAccount(c.Request.Context(), userID, orgID)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, gin.H{
		"balance": account.Balance,
		"features": gin.H{
			"unlimited_templates": account.UnlimitedTemplates,
			"remove_watermarks":   account.RemoveWatermarks,
			"api_access":          account.APIAccess,
			"bulk_processing":     account.BulkProcessing,
		},
		"card_generation_count": account.CardGenerationCount,
	})
}

// ListTransactions returns the caller's ledger history.
// GET /api/v1/account/transactions
func (h *Handler) ListTransactions(c *gin.Context) {
	userID, orgID := identity(c)
	page, pageSize := pagination(c)

	transactions, total, err := h.ledger.ListTransactions(c.Request.Context(), userID, orgID, page, pageSize)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, gin.H{
		"transactions": transactions,
		"total":        total,
		"page":         page,
		"page_size":    pageSize,
	})
}

// InitCheckoutRequest is the checkout initialization body.
type InitCheckoutRequest struct {
	Kind           string   `json:"kind" binding:"required,oneof=credit feature"`
	SkuID          string   `json:"sku_id" binding:"required"`
	IdempotencyKey string   `json:"idempotency_key"`
	MethodAllowed  []string `json:"method_allowed"`
}

// InitCheckout creates a pending payment record for a catalog SKU.
// POST /api/v1/checkout/init
func (h *Handler) InitCheckout(c *gin.Context) {
	var req InitCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	userID, orgID := identity(c)
	record, err := h.checkout.Init(c.Request.Context(), service.CheckoutParams{
		UserID:         userID,
		OrgID:          orgID,
		Kind:           req.Kind,
		SkuID:          req.SkuID,
		IdempotencyKey: req.IdempotencyKey,
		MethodAllowed:  req.MethodAllowed,
	})
	if err != nil {
		if errors.Is(err, catalog.ErrSkuNotFound) || errors.Is(err, catalog.ErrSkuInactive) {
			response.BusinessError(c, response.CodeInvalidSku, err.Error())
			return
		}
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"payment_no":      record.PaymentNo,
		"status":          record.Status,
		"amount_php":      record.AmountPhp,
		"currency":        record.Currency,
		"idempotency_key": record.IdempotencyKey,
		"expires_at":      record.ExpiresAt,
	})
}

// AttachProviderRequest carries the provider's payment identifier returned
// by the provider when the client created the payment intent.
type AttachProviderRequest struct {
	ProviderPaymentID string `json:"provider_payment_id" binding:"required"`
}

// AttachProvider links a provider payment id to a pending checkout so the
// settlement webhook can find the record.
// POST /api/v1/payments/:payment_no/provider
func (h *Handler) AttachProvider(c *gin.Context) {
	var req AttachProviderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	userID, orgID := identity(c)
	paymentNo := c.Param("payment_no")
	err := h.checkout.AttachProviderPayment(c.Request.Context(), userID, orgID, paymentNo, req.ProviderPaymentID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrPaymentNotFound):
			response.BusinessError(c, response.CodePaymentNotFound, "payment not found")
		case errors.Is(err, repository.ErrInvalidTransition):
			response.BusinessError(c, response.CodeInvalidTransition, "payment is not pending")
		default:
			response.ServerError(c, err.Error())
		}
		return
	}
	response.Success(c, gin.H{"payment_no": paymentNo})
}

// ListPayments returns the caller's payment history.
// GET /api/v1/payments
func (h *Handler) ListPayments(c *gin.Context) {
	userID, orgID := identity(c)
	page, pageSize := pagination(c)

	payments, total, err := h.checkout.ListPayments(c.Request.Context(), userID, orgID, page, pageSize)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, gin.H{
		"payments":  payments,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// SpendRequest is the usage debit body.
type SpendRequest struct {
	CardID string `json:"card_id"`
}

// SpendCredits charges one card generation.
// POST /api/v1/credits/spend
func (h *Handler) SpendCredits(c *gin.Context) {
	var req SpendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	userID, orgID := identity(c)
	result, err := h.spend.SpendGeneration(c.Request.Context(), userID, orgID, req.CardID)
	if err != nil {
		if errors.Is(err, repository.ErrInsufficientBalance) {
			response.BusinessError(c, response.CodeInsufficientBalance, "insufficient balance")
			return
		}
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, result)
}

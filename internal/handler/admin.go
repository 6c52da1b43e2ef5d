package handler

import (
	"errors"

	"creditledger/internal/catalog"
	"creditledger/internal/model"
	"creditledger/internal/repository"
	"creditledger/internal/service"
	"creditledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// GrantRequest is the admin bypass grant body.
type GrantRequest struct {
	UserID string `json:"user_id" binding:"required"`
	OrgID  string `json:"org_id" binding:"required"`
	Kind   string `json:"kind" binding:"required,oneof=credit feature"`
	SkuID  string `json:"sku_id" binding:"required"`
}

// AdminGrant grants a catalog SKU without payment.
// POST /api/v1/admin/credits/grant
func (h *Handler) AdminGrant(c *gin.Context) {
	var req GrantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	params := service.GrantParams{
		AdminID: c.GetString(ctxKeyAdminID),
		UserID:  req.UserID,
		OrgID:   req.OrgID,
		SkuID:   req.SkuID,
		Meta:    requestMeta(c),
	}

	var result *service.ApplyResult
	var err error
	if req.Kind == model.PurchaseKindCredit {
		result, err = h.bypass.GrantPackage(c.Request.Context(), params)
	} else {
		result, err = h.bypass.GrantFeature(c.Request.Context(), params)
	}
	if err != nil {
		if errors.Is(err, catalog.ErrSkuNotFound) || errors.Is(err, catalog.ErrSkuInactive) {
			response.BusinessError(c, response.CodeInvalidSku, err.Error())
			return
		}
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"transaction_no": result.Transaction.TransactionNo,
		"reference_id":   result.Transaction.ReferenceID,
		"balance":        result.NewBalance,
	})
}

// AdjustRequest is the admin balance adjustment body.
type AdjustRequest struct {
	UserID string `json:"user_id" binding:"required"`
	OrgID  string `json:"org_id" binding:"required"`
	Delta  int64  `json:"delta" binding:"required"`
	Reason string `json:"reason" binding:"required"`
}

// AdminAdjust applies a raw balance delta. Debits clamp at zero.
// POST /api/v1/admin/credits/adjust
func (h *Handler) AdminAdjust(c *gin.Context) {
	var req AdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	result, err := h.bypass.Adjust(c.Request.Context(), service.AdjustParams{
		AdminID: c.GetString(ctxKeyAdminID),
		UserID:  req.UserID,
		OrgID:   req.OrgID,
		Delta:   req.Delta,
		Reason:  req.Reason,
		Meta:    requestMeta(c),
	})
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}

	response.Success(c, gin.H{
		"transaction_no": result.Transaction.TransactionNo,
		"applied_amount": result.Transaction.Amount,
		"balance":        result.NewBalance,
	})
}

// RefundRequest is the admin refund body.
type RefundRequest struct {
	PaymentNo string `json:"payment_no" binding:"required"`
	Reason    string `json:"reason"`
}

// AdminRefund reverses a paid payment.
// POST /api/v1/admin/payments/refund
func (h *Handler) AdminRefund(c *gin.Context) {
	var req RefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "invalid request: "+err.Error())
		return
	}

	result, err := h.refund.Refund(c.Request.Context(), service.RefundParams{
		AdminID:   c.GetString(ctxKeyAdminID),
		PaymentNo: req.PaymentNo,
		Reason:    req.Reason,
		Meta:      requestMeta(c),
	})
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrPaymentNotFound):
			response.BusinessError(c, response.CodePaymentNotFound, "payment not found")
		case errors.Is(err, repository.ErrInvalidTransition):
			response.BusinessError(c, response.CodeInvalidTransition, "payment is not refundable")
		default:
			response.BusinessError(c, response.CodeRefundFailed, err.Error())
		}
		return
	}

	response.Success(c, gin.H{
		"transaction_no": result.Transaction.TransactionNo,
		"clawback":       -result.Transaction.Amount,
		"balance":        result.NewBalance,
	})
}

// AdminListAudit returns the org's audit trail, newest first.
// GET /api/v1/admin/audit?org_id=...
func (h *Handler) AdminListAudit(c *gin.Context) {
	orgID := c.Query("org_id")
	if orgID == "" {
		response.ParamError(c, "org_id is required")
		return
	}
	page, pageSize := pagination(c)

	entries, total, err := h.audits.ListByOrg(c.Request.Context(), orgID, page, pageSize)
	if err != nil {
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, gin.H{
		"entries":   entries,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// AdminReconcile recomputes an account balance from the ledger.
// GET /api/v1/admin/accounts/reconcile?user_id=...&org_id=...
func (h *Handler) AdminReconcile(c *gin.Context) {
	userID := c.Query("user_id")
	orgID := c.Query("org_id")
	if userID == "" || orgID == "" {
		response.ParamError(c, "user_id and org_id are required")
		return
	}

	result, err := h.ledger.Reconcile(c.Request.Context(), userID, orgID)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			response.BusinessError(c, response.CodeAccountNotFound, "account not found")
			return
		}
		response.ServerError(c, err.Error())
		return
	}
	response.Success(c, result)
}

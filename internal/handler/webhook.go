package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"creditledger/internal/repository"
	"creditledger/internal/service"

	"github.com/gin-gonic/gin"
)

// webhookEnvelope mirrors the provider's event payload shape.
type webhookEnvelope struct {
	Data struct {
		ID         string `json:"id"`
		Attributes struct {
			Type string `json:"type"`
			Data struct {
				ID         string `json:"id"`
				Attributes struct {
					Source struct {
						Type string `json:"type"`
					} `json:"source"`
					FailedMessage string `json:"failed_message"`
				} `json:"attributes"`
			} `json:"data"`
		} `json:"attributes"`
	} `json:"data"`
}

// HandleWebhook ingests provider settlement events. The response contract is
// raw HTTP statuses because the provider's retry behavior keys off them: 2xx
// stops redelivery, 4xx marks the delivery permanently bad, 5xx retries.
// POST /api/v1/webhooks/payment
func (h *Handler) HandleWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload"})
		return
	}
	if env.Data.ID == "" || env.Data.Attributes.Type == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing event id or type"})
		return
	}

	ev := service.ProviderEvent{
		EventID:           env.Data.ID,
		EventType:         env.Data.Attributes.Type,
		ProviderPaymentID: env.Data.Attributes.Data.ID,
		Method:            env.Data.Attributes.Data.Attributes.Source.Type,
		FailureReason:     env.Data.Attributes.Data.Attributes.FailedMessage,
		RawPayload:        string(body),
	}
	if ev.ProviderPaymentID == "" && (ev.EventType == service.EventTypePaymentPaid || ev.EventType == service.EventTypePaymentFailed) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing payment id"})
		return
	}

	status, err := h.settlement.HandleEvent(c.Request.Context(), ev)
	if err != nil {
		// A transition conflict means the payment already left pending via
		// another path; acknowledging stops pointless redelivery.
		if errors.Is(err, repository.ErrInvalidTransition) {
			h.logger.Warnw("webhook for non-pending payment",
				"event_id", ev.EventID,
				"provider_payment_id", ev.ProviderPaymentID,
			)
			c.JSON(http.StatusOK, gin.H{"result": "ignored"})
			return
		}
		h.logger.Errorw("webhook settlement failed",
			"event_id", ev.EventID,
			"error", err,
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "settlement failed"})
		return
	}

	switch status {
	case service.SettleApplied:
		c.JSON(http.StatusOK, gin.H{"result": "applied"})
	case service.SettleAlreadyProcessed:
		c.JSON(http.StatusOK, gin.H{"result": "already_processed"})
	case service.SettlePaymentNotFound:
		h.logger.Warnw("webhook for unknown payment",
			"event_id", ev.EventID,
			"provider_payment_id", ev.ProviderPaymentID,
		)
		c.JSON(http.StatusOK, gin.H{"result": "unknown_payment"})
	default:
		c.JSON(http.StatusOK, gin.H{"result": "ignored"})
	}
}

package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dkurbatov/freightgate/internal/audit"
	"github.com/dkurbatov/freightgate/internal/gateway"
	"github.com/dkurbatov/freightgate/internal/middleware"
)

// SubscriptionHandler creates payment invoices for subscription checkout
// through the payment processor gateway.
type SubscriptionHandler struct {
	payments *gateway.Gateway
	audit    *audit.Recorder
}

func NewSubscriptionHandler(payments *gateway.Gateway, auditRec *audit.Recorder) *SubscriptionHandler {
	return &SubscriptionHandler{
		payments: payments,
		audit:    auditRec,
	}
}

func (h *SubscriptionHandler) Checkout(c *gin.Context) {
	subject, ok := middleware.CurrentSubject(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	var req struct {
		Tariff string `json:"tariff" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var invoice json.RawMessage
	err := h.payments.JSON(c.Request.Context(), gateway.Request{
		Method: http.MethodPost,
		Path:   "/v1/invoices",
		Body: gin.H{
			"customer_id": subject.UserID,
			"tariff":      req.Tariff,
		},
	}, &invoice)
	if err != nil {
		respondUpstreamError(c, err)
		return
	}

	h.audit.Record(subject.UserID, "subscription", "checkout invoice created", req.Tariff, nil)

	c.JSON(http.StatusCreated, gin.H{"invoice": invoice})
}

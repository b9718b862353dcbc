package handler

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"github.com/dkurbatov/freightgate/internal/audit"
	"github.com/dkurbatov/freightgate/internal/gateway"
	"github.com/dkurbatov/freightgate/internal/middleware"
	"github.com/dkurbatov/freightgate/internal/service"
)

// FreightHandler serves freight listings from the marketplace API and
// forwards driver responses upstream, all through the outbound gateway.
type FreightHandler struct {
	freight *gateway.Gateway
	users   *service.UserService
	audit   *audit.Recorder
}

func NewFreightHandler(freight *gateway.Gateway, users *service.UserService, auditRec *audit.Recorder) *FreightHandler {
	return &FreightHandler{
		freight: freight,
		users:   users,
		audit:   auditRec,
	}
}

// passthrough query parameters forwarded to the marketplace listing endpoint.
var listingParams = []string{"origin", "destination", "cargo_type", "min_weight", "max_weight", "page", "per_page"}

func (h *FreightHandler) List(c *gin.Context) {
	query := url.Values{}
	for _, param := range listingParams {
		if value := c.Query(param); value != "" {
			query.Set(param, value)
		}
	}

	var listings json.RawMessage
	err := h.freight.JSON(c.Request.Context(), gateway.Request{
		Method: http.MethodGet,
		Path:   "/v1/freights",
		Query:  query,
	}, &listings)
	if err != nil {
		respondUpstreamError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"freights": listings})
}

func (h *FreightHandler) Get(c *gin.Context) {
	var freight json.RawMessage
	err := h.freight.JSON(c.Request.Context(), gateway.Request{
		Method: http.MethodGet,
		Path:   "/v1/freights/" + c.Param("id"),
	}, &freight)
	if err != nil {
		respondUpstreamError(c, err)
		return
	}

	c.JSON(http.StatusOK, freight)
}

// Respond forwards a driver's response on a listing to the marketplace.
func (h *FreightHandler) Respond(c *gin.Context) {
	subject, ok := middleware.CurrentSubject(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	var req struct {
		Comment string `json:"comment"`
		Phone   string `json:"phone"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	freightID := c.Param("id")

	displayName, err := h.users.DisplayName(ctx, subject.UserID)
	if err != nil {
		displayName = ""
	}

	var result json.RawMessage
	err = h.freight.JSON(ctx, gateway.Request{
		Method: http.MethodPost,
		Path:   "/v1/freights/" + freightID + "/responses",
		Body: gin.H{
			"driver_id":   subject.UserID,
			"driver_name": displayName,
			"comment":     req.Comment,
			"phone":       req.Phone,
		},
	}, &result)
	if err != nil {
		respondUpstreamError(c, err)
		return
	}

	h.audit.Record(subject.UserID, "freight", "driver response forwarded", freightID, map[string]interface{}{
		"comment": req.Comment,
	})

	c.JSON(http.StatusCreated, gin.H{"response": result})
}

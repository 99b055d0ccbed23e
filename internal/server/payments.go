package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	paymentdomain "github.com/smallbiznis/apotheca/internal/payment/domain"
	"github.com/smallbiznis/apotheca/pkg/tenantctx"
)

type createPaymentIntentRequest struct {
	Amount     int64          `json:"amount" binding:"required"`
	Currency   string         `json:"currency" binding:"required"`
	CustomerID *string        `json:"customer_id"`
	OrderID    *string        `json:"order_id"`
	Metadata   map[string]any `json:"metadata"`
}

func (s *Server) CreatePaymentIntent(c *gin.Context) {
	orgID, ok := tenantctx.OrgID(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrMissingOrgID)
		return
	}

	var req createPaymentIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("body", "invalid request body"))
		return
	}

	intentReq := paymentdomain.CreateIntentRequest{
		OrgID:    orgID,
		Amount:   req.Amount,
		Currency: req.Currency,
		Metadata: req.Metadata,
	}
	if req.CustomerID != nil {
		customerID, err := snowflake.ParseString(strings.TrimSpace(*req.CustomerID))
		if err != nil {
			AbortWithError(c, newValidationError("customer_id", "invalid customer id"))
			return
		}
		intentReq.CustomerID = &customerID
	}
	if req.OrderID != nil {
		orderID, err := snowflake.ParseString(strings.TrimSpace(*req.OrderID))
		if err != nil {
			AbortWithError(c, newValidationError("order_id", "invalid order id"))
			return
		}
		intentReq.OrderID = &orderID
	}

	resp, err := s.paymentSvc.CreateIntent(c.Request.Context(), intentReq)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": resp})
}

func (s *Server) GetPayment(c *gin.Context) {
	orgID, ok := tenantctx.OrgID(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrMissingOrgID)
		return
	}

	paymentID, err := snowflake.ParseString(strings.TrimSpace(c.Param("payment_id")))
	if err != nil {
		AbortWithError(c, newValidationError("payment_id", "invalid payment id"))
		return
	}

	payment, err := s.paymentSvc.GetPayment(c.Request.Context(), orgID, paymentID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": payment})
}

type confirmPaymentRequest struct {
	IntentID string `json:"intent_id" binding:"required"`
}

func (s *Server) ConfirmPayment(c *gin.Context) {
	orgID, ok := tenantctx.OrgID(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrMissingOrgID)
		return
	}

	paymentID, err := snowflake.ParseString(strings.TrimSpace(c.Param("payment_id")))
	if err != nil {
		AbortWithError(c, newValidationError("payment_id", "invalid payment id"))
		return
	}

	var req confirmPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("intent_id", "intent_id is required"))
		return
	}

	payment, err := s.paymentSvc.ConfirmPayment(c.Request.Context(), orgID, paymentID, strings.TrimSpace(req.IntentID))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": payment})
}

type refundPaymentRequest struct {
	Amount *int64 `json:"amount"`
	Reason string `json:"reason"`
}

func (s *Server) RefundPayment(c *gin.Context) {
	orgID, ok := tenantctx.OrgID(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrMissingOrgID)
		return
	}

	paymentID, err := snowflake.ParseString(strings.TrimSpace(c.Param("payment_id")))
	if err != nil {
		AbortWithError(c, newValidationError("payment_id", "invalid payment id"))
		return
	}

	var req refundPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("body", "invalid request body"))
		return
	}

	payment, err := s.paymentSvc.Refund(c.Request.Context(), orgID, paymentID, req.Amount, strings.TrimSpace(req.Reason))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": payment})
}

package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	creditdomain "github.com/smallbiznis/apotheca/internal/credit/domain"
	"github.com/smallbiznis/apotheca/pkg/tenantctx"
)

type createCreditAccountRequest struct {
	CustomerID  string `json:"customer_id" binding:"required"`
	CreditLimit int64  `json:"credit_limit"`
	Currency    string `json:"currency" binding:"required"`
}

func (s *Server) CreateCreditAccount(c *gin.Context) {
	orgID, ok := tenantctx.OrgID(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrMissingOrgID)
		return
	}

	var req createCreditAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("body", "invalid request body"))
		return
	}

	customerID, err := snowflake.ParseString(strings.TrimSpace(req.CustomerID))
	if err != nil {
		AbortWithError(c, newValidationError("customer_id", "invalid customer id"))
		return
	}

	account, err := s.creditSvc.CreateAccount(c.Request.Context(), orgID, customerID, req.CreditLimit, req.Currency)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": account})
}

func (s *Server) GetCreditAccount(c *gin.Context) {
	orgID, ok := tenantctx.OrgID(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrMissingOrgID)
		return
	}

	customerID, err := snowflake.ParseString(strings.TrimSpace(c.Param("customer_id")))
	if err != nil {
		AbortWithError(c, newValidationError("customer_id", "invalid customer id"))
		return
	}

	account, err := s.creditSvc.GetAccount(c.Request.Context(), orgID, customerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": account})
}

type applyCreditTransactionRequest struct {
	Amount  int64   `json:"amount" binding:"required"`
	Fee     int64   `json:"fee"`
	DueDate string  `json:"due_date" binding:"required"`
	OrderID *string `json:"order_id"`
}

func (s *Server) ApplyCreditTransaction(c *gin.Context) {
	orgID, ok := tenantctx.OrgID(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrMissingOrgID)
		return
	}

	customerID, err := snowflake.ParseString(strings.TrimSpace(c.Param("customer_id")))
	if err != nil {
		AbortWithError(c, newValidationError("customer_id", "invalid customer id"))
		return
	}

	var req applyCreditTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("body", "invalid request body"))
		return
	}

	dueDate, err := time.Parse(time.RFC3339, req.DueDate)
	if err != nil {
		AbortWithError(c, newValidationError("due_date", "invalid due date"))
		return
	}

	applyReq := creditdomain.ApplyTransactionRequest{
		OrgID:      orgID,
		CustomerID: customerID,
		Amount:     req.Amount,
		Fee:        req.Fee,
		DueDate:    dueDate,
	}
	if req.OrderID != nil {
		orderID, err := snowflake.ParseString(strings.TrimSpace(*req.OrderID))
		if err != nil {
			AbortWithError(c, newValidationError("order_id", "invalid order id"))
			return
		}
		applyReq.OrderID = &orderID
	}

	trx, err := s.creditSvc.ApplyTransaction(c.Request.Context(), applyReq)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": trx})
}

type updateCreditBalanceRequest struct {
	Balance *int64 `json:"balance" binding:"required"`
}

func (s *Server) UpdateCreditBalance(c *gin.Context) {
	orgID, ok := tenantctx.OrgID(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrMissingOrgID)
		return
	}

	accountID, err := snowflake.ParseString(strings.TrimSpace(c.Param("credit_id")))
	if err != nil {
		AbortWithError(c, newValidationError("credit_id", "invalid account id"))
		return
	}

	var req updateCreditBalanceRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Balance == nil {
		AbortWithError(c, newValidationError("balance", "balance is required"))
		return
	}

	account, err := s.creditSvc.UpdateBalance(c.Request.Context(), orgID, accountID, *req.Balance)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": account})
}

func (s *Server) MarkCreditTransactionPaid(c *gin.Context) {
	orgID, ok := tenantctx.OrgID(c.Request.Context())
	if !ok {
		AbortWithError(c, ErrMissingOrgID)
		return
	}

	trxID, err := snowflake.ParseString(strings.TrimSpace(c.Param("transaction_id")))
	if err != nil {
		AbortWithError(c, newValidationError("transaction_id", "invalid transaction id"))
		return
	}

	trx, err := s.creditSvc.MarkTransactionPaid(c.Request.Context(), orgID, trxID, time.Now().UTC())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": trx})
}

package server

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	creditdomain "github.com/smallbiznis/apotheca/internal/credit/domain"
	customerdomain "github.com/smallbiznis/apotheca/internal/customer/domain"
	paymentdomain "github.com/smallbiznis/apotheca/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"account not found", creditdomain.ErrAccountNotFound, http.StatusNotFound, "not_found"},
		{"payment not found", paymentdomain.ErrPaymentNotFound, http.StatusNotFound, "not_found"},
		{"account exists", creditdomain.ErrAccountExists, http.StatusConflict, "conflict"},
		{"account not active", creditdomain.ErrAccountNotActive, http.StatusConflict, "invalid_state"},
		{"payment state", paymentdomain.ErrInvalidPaymentState, http.StatusConflict, "invalid_state"},
		{"invalid amount", creditdomain.ErrInvalidAmount, http.StatusUnprocessableEntity, "unprocessable"},
		{"missing charge", paymentdomain.ErrMissingCharge, http.StatusUnprocessableEntity, "unprocessable"},
		{"invalid signature", paymentdomain.ErrInvalidSignature, http.StatusUnauthorized, "unauthenticated"},
		{"missing org", ErrMissingOrgID, http.StatusUnauthorized, "unauthenticated"},
		{"unknown customer", customerdomain.ErrCustomerNotFound, http.StatusBadRequest, "invalid_reference"},
		{"invalid payload", paymentdomain.ErrInvalidPayload, http.StatusBadRequest, "invalid_payload"},
		{"validation", newValidationError("amount", "must be positive"), http.StatusBadRequest, "validation_failed"},
		{"unmapped", errors.New("boom"), http.StatusInternalServerError, "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, payload := mapError(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, payload.Code)
		})
	}
}

func TestMapErrorLimitExceededDetails(t *testing.T) {
	status, payload := mapError(&creditdomain.LimitExceededError{
		Balance:     8000,
		CreditLimit: 10000,
		Requested:   3000,
	})

	require.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "credit_limit_exceeded", payload.Code)
	assert.Equal(t, int64(8000), payload.Details["balance"])
	assert.Equal(t, int64(10000), payload.Details["credit_limit"])
	assert.Equal(t, int64(3000), payload.Details["requested"])
}

func TestMapErrorGateway(t *testing.T) {
	status, payload := mapError(&paymentdomain.GatewayError{Op: "create_intent", Message: "timeout"})

	assert.Equal(t, http.StatusBadGateway, status)
	assert.Equal(t, "payment_gateway_error", payload.Code)
}

func TestErrorHandlingMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(ErrorHandlingMiddleware())
	r.GET("/boom", func(c *gin.Context) {
		AbortWithError(c, creditdomain.ErrAccountNotFound)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":{"code":"not_found","message":"credit_account_not_found"}}`, w.Body.String())
}

package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	creditdomain "github.com/smallbiznis/apotheca/internal/credit/domain"
	customerdomain "github.com/smallbiznis/apotheca/internal/customer/domain"
	paymentdomain "github.com/smallbiznis/apotheca/internal/payment/domain"
)

// ValidationError reports a single bad request field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

func newValidationError(field, message string) ValidationError {
	return ValidationError{Field: field, Message: message}
}

type errorPayload struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

// ErrorHandlingMiddleware maps domain errors attached via AbortWithError
// into a consistent JSON envelope.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		last := c.Errors.Last()
		if last == nil {
			return
		}

		status, payload := mapError(last.Err)
		c.JSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	var limitErr *creditdomain.LimitExceededError
	if errors.As(err, &limitErr) {
		return http.StatusUnprocessableEntity, errorPayload{
			Code:    "credit_limit_exceeded",
			Message: limitErr.Error(),
			Details: map[string]any{
				"balance":      limitErr.Balance,
				"credit_limit": limitErr.CreditLimit,
				"requested":    limitErr.Requested,
			},
		}
	}

	var gatewayErr *paymentdomain.GatewayError
	if errors.As(err, &gatewayErr) {
		return http.StatusBadGateway, errorPayload{
			Code:    "payment_gateway_error",
			Message: gatewayErr.Error(),
		}
	}

	var validationErr ValidationError
	if errors.As(err, &validationErr) {
		return http.StatusBadRequest, errorPayload{
			Code:    "validation_failed",
			Message: validationErr.Error(),
		}
	}

	switch {
	case errors.Is(err, creditdomain.ErrAccountNotFound),
		errors.Is(err, creditdomain.ErrTransactionNotFound),
		errors.Is(err, paymentdomain.ErrPaymentNotFound):
		return http.StatusNotFound, errorPayload{Code: "not_found", Message: err.Error()}

	case errors.Is(err, creditdomain.ErrAccountExists):
		return http.StatusConflict, errorPayload{Code: "conflict", Message: err.Error()}

	case errors.Is(err, creditdomain.ErrAccountNotActive),
		errors.Is(err, creditdomain.ErrTransactionNotPending),
		errors.Is(err, paymentdomain.ErrInvalidPaymentState):
		return http.StatusConflict, errorPayload{Code: "invalid_state", Message: err.Error()}

	case errors.Is(err, creditdomain.ErrInvalidLimit),
		errors.Is(err, creditdomain.ErrInvalidAmount),
		errors.Is(err, creditdomain.ErrInvalidBalance),
		errors.Is(err, creditdomain.ErrInvalidCurrency),
		errors.Is(err, creditdomain.ErrInvalidDueDate),
		errors.Is(err, paymentdomain.ErrInvalidAmount),
		errors.Is(err, paymentdomain.ErrInvalidCurrency),
		errors.Is(err, paymentdomain.ErrMissingCharge):
		return http.StatusUnprocessableEntity, errorPayload{Code: "unprocessable", Message: err.Error()}

	case errors.Is(err, paymentdomain.ErrInvalidSignature):
		return http.StatusUnauthorized, errorPayload{Code: "unauthenticated", Message: err.Error()}

	case errors.Is(err, customerdomain.ErrCustomerNotFound):
		return http.StatusBadRequest, errorPayload{Code: "invalid_reference", Message: err.Error()}

	case errors.Is(err, paymentdomain.ErrInvalidPayload),
		errors.Is(err, paymentdomain.ErrInvalidEvent):
		return http.StatusBadRequest, errorPayload{Code: "invalid_payload", Message: err.Error()}

	case errors.Is(err, ErrMissingOrgID):
		return http.StatusUnauthorized, errorPayload{Code: "unauthenticated", Message: err.Error()}
	}

	return http.StatusInternalServerError, errorPayload{Code: "internal", Message: "internal server error"}
}

package server

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	webhookRateLimit = 20.0
	webhookBurst     = 40
)

func (s *Server) HandleStripeWebhook(c *gin.Context) {
	if s.limiter != nil {
		res, err := s.limiter.Allow(c.Request.Context(), "webhook:stripe:"+c.ClientIP(), webhookRateLimit, webhookBurst)
		if err != nil {
			s.log.Warn("webhook rate limit check failed", zap.Error(err))
		} else if !res.Allowed {
			if s.obsMetrics != nil {
				s.obsMetrics.RecordRateLimitDenied(c.Request.Context(), "/webhooks/stripe")
			}
			c.Header("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds())+1))
			c.JSON(http.StatusTooManyRequests, errorResponse{Error: errorPayload{
				Code:    "rate_limited",
				Message: "too many requests",
			}})
			return
		}
	}

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		AbortWithError(c, newValidationError("body", "unable to read request body"))
		return
	}

	result, err := s.paymentSvc.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "event_id": result.EventID, "skipped": result.Skipped})
}

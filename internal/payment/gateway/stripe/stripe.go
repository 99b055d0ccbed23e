package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/smallbiznis/apotheca/internal/payment/domain"
)

const apiBaseURL = "https://api.stripe.com"

// signatureTolerance bounds how old a webhook timestamp may be before
// the signature is rejected, mirroring Stripe's recommended window.
const signatureTolerance = 5 * time.Minute

type Config struct {
	APIKey        string
	WebhookSecret string
	Timeout       time.Duration
}

type Gateway struct {
	apiKey        string
	webhookSecret string
	client        *http.Client
	now           func() time.Time
}

func New(cfg Config) *Gateway {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 12 * time.Second
	}
	return &Gateway{
		apiKey:        strings.TrimSpace(cfg.APIKey),
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		client:        &http.Client{Timeout: timeout},
		now:           time.Now,
	}
}

func (g *Gateway) Provider() string { return "stripe" }

func (g *Gateway) CreateIntent(ctx context.Context, params paymentdomain.CreateIntentParams) (*paymentdomain.Intent, error) {
	values := url.Values{}
	values.Set("amount", strconv.FormatInt(params.Amount, 10))
	values.Set("currency", strings.ToLower(params.Currency))
	values.Set("automatic_payment_methods[enabled]", "false")
	values.Set("payment_method_types[]", "card")
	if params.ApplicationFee > 0 {
		values.Set("application_fee_amount", strconv.FormatInt(params.ApplicationFee, 10))
	}
	for key, value := range params.Metadata {
		values.Set(fmt.Sprintf("metadata[%s]", key), value)
	}

	intent, err := g.doIntentRequest(ctx, http.MethodPost, "/v1/payment_intents", values, params.IdempotencyKey)
	if err != nil {
		return nil, &paymentdomain.GatewayError{Op: "create_intent", Message: err.Error(), Err: err}
	}
	return intent, nil
}

func (g *Gateway) RetrieveIntent(ctx context.Context, intentID string) (*paymentdomain.Intent, error) {
	intentID = strings.TrimSpace(intentID)
	if intentID == "" {
		return nil, &paymentdomain.GatewayError{Op: "retrieve_intent", Message: "empty intent id"}
	}
	intent, err := g.doIntentRequest(ctx, http.MethodGet, "/v1/payment_intents/"+intentID, nil, "")
	if err != nil {
		return nil, &paymentdomain.GatewayError{Op: "retrieve_intent", Message: err.Error(), Err: err}
	}
	return intent, nil
}

func (g *Gateway) CreateRefund(ctx context.Context, chargeID string, amount *int64, reason string) (*paymentdomain.Refund, error) {
	chargeID = strings.TrimSpace(chargeID)
	if chargeID == "" {
		return nil, &paymentdomain.GatewayError{Op: "create_refund", Message: "empty charge id"}
	}

	values := url.Values{}
	values.Set("charge", chargeID)
	if amount != nil {
		values.Set("amount", strconv.FormatInt(*amount, 10))
	}
	if reason = strings.TrimSpace(reason); reason != "" {
		values.Set("reason", reason)
	}

	body, err := g.doRequest(ctx, http.MethodPost, "/v1/refunds", values, "")
	if err != nil {
		return nil, &paymentdomain.GatewayError{Op: "create_refund", Message: err.Error(), Err: err}
	}

	var refund stripeRefund
	if err := json.Unmarshal(body, &refund); err != nil {
		return nil, &paymentdomain.GatewayError{Op: "create_refund", Message: "malformed refund response", Err: err}
	}
	if refund.ID == "" {
		return nil, &paymentdomain.GatewayError{Op: "create_refund", Message: "refund response missing id"}
	}
	return &paymentdomain.Refund{
		ID:     refund.ID,
		Status: refund.Status,
		Amount: refund.Amount,
	}, nil
}

// VerifyWebhook checks the Stripe-Signature header against the webhook
// secret before any payload parsing. Signature scheme: HMAC-SHA256 of
// "<timestamp>.<payload>" with v1 candidates in the header.
func (g *Gateway) VerifyWebhook(payload []byte, signatureHeader string) (*paymentdomain.Event, error) {
	if g.webhookSecret == "" {
		return nil, paymentdomain.ErrInvalidSignature
	}
	signatureHeader = strings.TrimSpace(signatureHeader)
	if signatureHeader == "" {
		return nil, paymentdomain.ErrInvalidSignature
	}

	timestamp, signatures, err := parseSignatureHeader(signatureHeader)
	if err != nil {
		return nil, paymentdomain.ErrInvalidSignature
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return nil, paymentdomain.ErrInvalidSignature
	}
	age := g.now().UTC().Sub(time.Unix(ts, 0))
	if age > signatureTolerance || age < -signatureTolerance {
		return nil, paymentdomain.ErrInvalidSignature
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(g.webhookSecret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	matched := false
	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			matched = true
			break
		}
	}
	if !matched {
		return nil, paymentdomain.ErrInvalidSignature
	}

	return parseEvent(payload)
}

func parseEvent(payload []byte) (*paymentdomain.Event, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	parsed := &paymentdomain.Event{
		ID:         event.ID,
		Type:       strings.TrimSpace(event.Type),
		IntentID:   event.Data.Object.ID,
		ChargeID:   event.Data.Object.LatestCharge,
		OccurredAt: time.Unix(event.Created, 0).UTC(),
		RawPayload: payload,
	}
	if event.Created == 0 {
		parsed.OccurredAt = time.Now().UTC()
	}
	if raw := strings.TrimSpace(event.Data.Object.Metadata["org_id"]); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			parsed.OrgID = snowflake.ID(id)
		}
	}
	if msg := strings.TrimSpace(event.Data.Object.LastPaymentError.Message); msg != "" {
		parsed.FailureReason = msg
	}
	return parsed, nil
}

func parseSignatureHeader(header string) (string, []string, error) {
	var timestamp string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("malformed signature header")
	}
	return timestamp, signatures, nil
}

func (g *Gateway) doIntentRequest(ctx context.Context, method, path string, values url.Values, idempotencyKey string) (*paymentdomain.Intent, error) {
	body, err := g.doRequest(ctx, method, path, values, idempotencyKey)
	if err != nil {
		return nil, err
	}

	var intent stripePaymentIntent
	if err := json.Unmarshal(body, &intent); err != nil {
		return nil, err
	}
	if intent.ID == "" {
		return nil, errors.New("stripe_response_invalid")
	}

	out := &paymentdomain.Intent{
		ID:           intent.ID,
		ClientSecret: intent.ClientSecret,
		Status:       intent.Status,
		Amount:       intent.Amount,
		Currency:     strings.ToUpper(intent.Currency),
		ChargeID:     intent.LatestCharge,
	}
	if msg := strings.TrimSpace(intent.LastPaymentError.Message); msg != "" {
		out.FailureReason = msg
	}
	return out, nil
}

func (g *Gateway) doRequest(ctx context.Context, method, path string, values url.Values, idempotencyKey string) ([]byte, error) {
	if g.apiKey == "" {
		return nil, errors.New("stripe_api_key_missing")
	}

	var bodyReader *strings.Reader
	if values != nil {
		bodyReader = strings.NewReader(values.Encode())
	} else {
		bodyReader = strings.NewReader("")
	}

	req, err := http.NewRequestWithContext(ctx, method, apiBaseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	if values != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var stripeErr stripeErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&stripeErr); err != nil {
			return nil, errors.New("stripe_request_failed")
		}
		message := strings.TrimSpace(stripeErr.Error.Message)
		if message == "" {
			message = "stripe_request_failed"
		}
		return nil, errors.New(message)
	}

	var out json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

type stripePaymentIntent struct {
	ID               string `json:"id"`
	ClientSecret     string `json:"client_secret"`
	Status           string `json:"status"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	LatestCharge     string `json:"latest_charge"`
	LastPaymentError struct {
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

type stripeRefund struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Amount int64  `json:"amount"`
}

type stripeErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

type stripeEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object struct {
			ID               string            `json:"id"`
			Status           string            `json:"status"`
			Amount           int64             `json:"amount"`
			Currency         string            `json:"currency"`
			LatestCharge     string            `json:"latest_charge"`
			Metadata         map[string]string `json:"metadata"`
			LastPaymentError struct {
				Message string `json:"message"`
			} `json:"last_payment_error"`
		} `json:"object"`
	} `json:"data"`
}

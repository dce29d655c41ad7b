// internal/clients/payment_client.go
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"discshop/internal/purchase"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

var _ purchase.PaymentAuthorizer = (*PaymentClient)(nil)

type authorizationRequest struct {
	Amount decimal.Decimal      `json:"amount"`
	Card   purchase.CardDetails `json:"card"`
}

type authorizationResponse struct {
	Approved bool `json:"approved"`
}

// PaymentClient asks the payment gateway to authorize charges. Calls are
// rate limited and never retried.
type PaymentClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	tracer     trace.Tracer
}

func NewPaymentClient(baseURL string, timeout time.Duration, perSecond float64, burst int) *PaymentClient {
	return &PaymentClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(perSecond), burst),
		tracer:     otel.Tracer("discshop/clients"),
	}
}

// Authorize charges amount to card. A gateway answer of "not approved"
// is a decline, not an error.
func (c *PaymentClient) Authorize(ctx context.Context, amount decimal.Decimal, card purchase.CardDetails) (bool, error) {
	ctx, span := c.tracer.Start(ctx, "payment.authorize",
		trace.WithAttributes(attribute.String("payment.amount", amount.String())))
	defer span.End()

	if err := c.limiter.Wait(ctx); err != nil {
		return false, fmt.Errorf("payment rate limit: %w", err)
	}

	body, err := json.Marshal(authorizationRequest{Amount: amount, Card: card})
	if err != nil {
		return false, fmt.Errorf("failed to marshal authorization: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/authorizations", bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "gateway unreachable")
		return false, fmt.Errorf("failed to reach payment gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		span.SetStatus(codes.Error, "unexpected status")
		return false, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	var result authorizationResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false, fmt.Errorf("failed to decode authorization: %w", err)
	}
	span.SetAttributes(attribute.Bool("payment.approved", result.Approved))
	return result.Approved, nil
}

// internal/clients/chart_client.go
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"discshop/internal/pricing"
	"discshop/internal/purchase"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var ErrUnexpectedStatus = errors.New("unexpected status code")

var (
	_ pricing.Chart         = (*ChartClient)(nil)
	_ purchase.SaleNotifier = (*ChartClient)(nil)
)

type chartEntry struct {
	Rank        int             `json:"rank"`
	LowestPrice decimal.Decimal `json:"lowest_price"`
}

// ChartClient talks to the chart service. Chart reads and sale
// notifications go through separate circuit breakers, so a failing sales
// endpoint never stops purchases from being priced.
type ChartClient struct {
	baseURL      string
	httpClient   *http.Client
	breaker      *gobreaker.CircuitBreaker
	salesBreaker *gobreaker.CircuitBreaker
	tracer       trace.Tracer
}

func NewChartClient(baseURL string, timeout time.Duration, logger *zap.Logger) *ChartClient {
	return &ChartClient{
		baseURL:      baseURL,
		httpClient:   &http.Client{Timeout: timeout},
		breaker:      newBreaker("chart-service", logger),
		salesBreaker: newBreaker("chart-service-sales", logger),
		tracer:       otel.Tracer("discshop/clients"),
	}
}

func newBreaker(name string, logger *zap.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}

func (c *ChartClient) Rank(ctx context.Context, itemID int64) (int, error) {
	entry, err := c.entry(ctx, itemID)
	if err != nil {
		return 0, err
	}
	return entry.Rank, nil
}

func (c *ChartClient) LowestPrice(ctx context.Context, itemID int64) (decimal.Decimal, error) {
	entry, err := c.entry(ctx, itemID)
	if err != nil {
		return decimal.Zero, err
	}
	return entry.LowestPrice, nil
}

// NotifySale posts a completed sale to the chart service.
func (c *ChartClient) NotifySale(ctx context.Context, sale purchase.Sale) error {
	ctx, span := c.tracer.Start(ctx, "chart.notify_sale",
		trace.WithAttributes(attribute.Int64("item.id", sale.ItemID)))
	defer span.End()

	body, err := json.Marshal(sale)
	if err != nil {
		return fmt.Errorf("failed to marshal sale: %w", err)
	}

	_, err = c.salesBreaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sales", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.do(ctx, req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
		}
		return nil, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "notify sale")
		return fmt.Errorf("failed to notify sale: %w", err)
	}
	return nil
}

func (c *ChartClient) entry(ctx context.Context, itemID int64) (*chartEntry, error) {
	ctx, span := c.tracer.Start(ctx, "chart.entry",
		trace.WithAttributes(attribute.Int64("item.id", itemID)))
	defer span.End()

	result, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/chart/%d", c.baseURL, itemID), nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.do(ctx, req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
		}

		var entry chartEntry
		if err := json.NewDecoder(resp.Body).Decode(&entry); err != nil {
			return nil, fmt.Errorf("failed to decode chart entry: %w", err)
		}
		return &entry, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "chart lookup")
		return nil, fmt.Errorf("failed to get chart entry for item %d: %w", itemID, err)
	}
	return result.(*chartEntry), nil
}

func (c *ChartClient) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	return c.httpClient.Do(req)
}

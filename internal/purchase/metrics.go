package purchase

import (
	"context"
	"errors"
	"fmt"

	"discshop/internal/catalog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type metrics struct {
	purchases  metric.Int64Counter
	unitsSold  metric.Int64Counter
	unrecorded metric.Int64Counter
}

func newMetrics(meter metric.Meter) (*metrics, error) {
	purchases, err := meter.Int64Counter("discshop.purchases",
		metric.WithDescription("Purchase attempts by outcome"),
		metric.WithUnit("{purchase}"))
	if err != nil {
		return nil, fmt.Errorf("failed to create purchases counter: %w", err)
	}
	unitsSold, err := meter.Int64Counter("discshop.units_sold",
		metric.WithDescription("Units sold"),
		metric.WithUnit("{unit}"))
	if err != nil {
		return nil, fmt.Errorf("failed to create units sold counter: %w", err)
	}
	unrecorded, err := meter.Int64Counter("discshop.sales_unrecorded",
		metric.WithDescription("Completed sales whose event could not be stored"),
		metric.WithUnit("{sale}"))
	if err != nil {
		return nil, fmt.Errorf("failed to create unrecorded sales counter: %w", err)
	}
	return &metrics{purchases: purchases, unitsSold: unitsSold, unrecorded: unrecorded}, nil
}

func (m *metrics) completed(ctx context.Context, receipt *Receipt) {
	m.purchases.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "completed")))
	m.unitsSold.Add(ctx, int64(receipt.Quantity))
}

func (m *metrics) failed(ctx context.Context, err error) {
	m.purchases.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome(err))))
}

func outcome(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientStock):
		return "out_of_stock"
	case errors.Is(err, ErrPaymentDeclined):
		return "payment_declined"
	case errors.Is(err, ErrInvalidQuantity):
		return "invalid"
	case errors.Is(err, catalog.ErrItemNotFound):
		return "not_found"
	case errors.Is(err, ErrCollaboratorFailed):
		return "collaborator_failed"
	default:
		return "error"
	}
}

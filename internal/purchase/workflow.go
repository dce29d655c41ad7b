package purchase

import (
	"context"
	"fmt"

	"discshop/internal/catalog"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// PaymentAuthorizer charges a card. A false result is a decline; an error
// means the authorizer could not give an answer.
type PaymentAuthorizer interface {
	Authorize(ctx context.Context, amount decimal.Decimal, card CardDetails) (bool, error)
}

// SaleNotifier tells the chart service about a completed sale.
type SaleNotifier interface {
	NotifySale(ctx context.Context, sale Sale) error
}

// WorkflowOption configures a Workflow.
type WorkflowOption func(*Workflow)

// WithObserver registers fn to be called with every state a purchase enters.
func WithObserver(fn func(State)) WorkflowOption {
	return func(w *Workflow) { w.observers = append(w.observers, fn) }
}

// WithTracer replaces the global tracer.
func WithTracer(tracer trace.Tracer) WorkflowOption {
	return func(w *Workflow) { w.tracer = tracer }
}

// Workflow runs one purchase attempt against an item:
// stock check, pricing, payment, then notification and stock decrement.
//
// Workflow does not lock the item. Callers that share items between
// goroutines must serialise purchases per item (catalog.Service.Apply does).
type Workflow struct {
	pricer    catalog.Pricer
	payments  PaymentAuthorizer
	notifier  SaleNotifier
	logger    *zap.Logger
	tracer    trace.Tracer
	observers []func(State)
}

func NewWorkflow(pricer catalog.Pricer, payments PaymentAuthorizer, notifier SaleNotifier, logger *zap.Logger, opts ...WorkflowOption) *Workflow {
	w := &Workflow{
		pricer:   pricer,
		payments: payments,
		notifier: notifier,
		logger:   logger,
		tracer:   otel.Tracer("discshop/purchase"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Purchase sells quantity units of item, charging card. A zero quantity
// means one unit.
//
// It fails with ErrInsufficientStock before any payment is attempted and
// with ErrPaymentDeclined when the authorizer refuses; in both cases stock
// is untouched and no sale is notified. Only after a successful payment is
// the sale notified and the stock decremented, each exactly once.
func (w *Workflow) Purchase(ctx context.Context, item *catalog.Item, quantity int, card CardDetails) (*Receipt, error) {
	ctx, span := w.tracer.Start(ctx, "purchase.workflow",
		trace.WithAttributes(
			attribute.Int64("item.id", item.ID),
			attribute.Int("purchase.quantity", quantity),
		),
	)
	defer span.End()

	quantity, err := catalog.NormalizeQuantity(quantity)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	w.enter(span, StateStart)

	if !item.InStock(quantity) {
		w.enter(span, StateOutOfStock)
		span.SetStatus(codes.Error, "out of stock")
		return nil, fmt.Errorf("%w: item %d has %d, requested %d", ErrInsufficientStock, item.ID, item.Stock, quantity)
	}
	w.enter(span, StateStockChecked)

	unitPrice, err := w.pricer.UnitPrice(ctx, item)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "pricing failed")
		return nil, fmt.Errorf("%w: pricing item %d: %w", ErrCollaboratorFailed, item.ID, err)
	}
	total := unitPrice.Mul(decimal.NewFromInt(int64(quantity)))
	span.SetAttributes(
		attribute.String("purchase.unit_price", unitPrice.String()),
		attribute.String("purchase.total", total.String()),
	)
	w.enter(span, StatePriced)

	authorized, err := w.payments.Authorize(ctx, total, card)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "payment authorizer failed")
		return nil, fmt.Errorf("%w: authorizing %s: %w", ErrCollaboratorFailed, total, err)
	}
	if !authorized {
		w.enter(span, StatePaymentFailed)
		span.SetStatus(codes.Error, "payment declined")
		return nil, fmt.Errorf("%w: charge of %s for item %d", ErrPaymentDeclined, total, item.ID)
	}
	w.enter(span, StatePaid)

	sale := Sale{ItemID: item.ID, Artist: item.Artist, Title: item.Title, Quantity: quantity}
	if err := w.notifier.NotifySale(ctx, sale); err != nil {
		w.logger.Warn("sale notification failed",
			zap.Int64("item_id", item.ID),
			zap.Int("quantity", quantity),
			zap.Error(err),
		)
	}
	// Stock was checked above and nothing else touches the item in between.
	if err := item.Decrement(quantity); err != nil {
		span.RecordError(err)
		return nil, err
	}
	w.enter(span, StateCompleted)
	span.SetStatus(codes.Ok, "purchase completed")

	return &Receipt{
		ItemID:    item.ID,
		Artist:    item.Artist,
		Title:     item.Title,
		Quantity:  quantity,
		UnitPrice: unitPrice,
		Total:     total,
		State:     StateCompleted,
	}, nil
}

func (w *Workflow) enter(span trace.Span, state State) {
	span.AddEvent("purchase.state", trace.WithAttributes(attribute.String("state", string(state))))
	for _, fn := range w.observers {
		fn(state)
	}
}

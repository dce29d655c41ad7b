// internal/purchase/implementation.go
package purchase

import (
	"context"
	"errors"

	"discshop/internal/catalog"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

// service implements the Service interface.
type service struct {
	catalog       catalog.Service
	workflow      *Workflow
	fingerprinter *Fingerprinter
	logger        *zap.Logger
	metrics       *metrics
}

// NewService creates a purchase service that runs workflow against items
// held by cat.
func NewService(cat catalog.Service, workflow *Workflow, fingerprinter *Fingerprinter, logger *zap.Logger) (Service, error) {
	m, err := newMetrics(otel.Meter("discshop/purchase"))
	if err != nil {
		return nil, err
	}
	return &service{
		catalog:       cat,
		workflow:      workflow,
		fingerprinter: fingerprinter,
		logger:        logger,
		metrics:       m,
	}, nil
}

// Purchase runs the workflow while holding the item, then records the sale.
//
// Once payment has been taken the sale stands: a failure to store the
// ItemSold event is logged and counted but the receipt is still returned.
func (s *service) Purchase(ctx context.Context, itemID int64, quantity int, card CardDetails) (*Receipt, error) {
	var receipt *Receipt
	err := s.catalog.Apply(ctx, itemID, func(item *catalog.Item) (*catalog.Change, error) {
		r, err := s.workflow.Purchase(ctx, item, quantity, card)
		if err != nil {
			return nil, err
		}
		receipt = r
		return &catalog.Change{
			EventType: catalog.EventItemSold,
			Data: catalog.ItemSoldEvent{
				ID:              item.ID,
				Quantity:        r.Quantity,
				UnitPrice:       r.UnitPrice,
				Total:           r.Total,
				CardFingerprint: s.fingerprinter.Fingerprint(card),
			},
		}, nil
	})
	switch {
	case err == nil:
	case receipt != nil && errors.Is(err, catalog.ErrNotRecorded):
		s.logger.Error("sale completed but not recorded",
			zap.Int64("item_id", itemID),
			zap.Int("quantity", receipt.Quantity),
			zap.String("total", receipt.Total.String()),
			zap.Error(err),
		)
		s.metrics.unrecorded.Add(ctx, 1)
	default:
		s.metrics.failed(ctx, err)
		return nil, err
	}

	s.metrics.completed(ctx, receipt)
	s.logger.Info("sale completed",
		zap.Int64("item_id", itemID),
		zap.Int("quantity", receipt.Quantity),
		zap.String("total", receipt.Total.String()),
	)
	return receipt, nil
}

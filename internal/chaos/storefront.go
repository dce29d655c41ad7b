package chaos

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"discshop/internal/catalog"
	"discshop/internal/pricing"
	"discshop/internal/purchase"
	"discshop/pkg/eventstore"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Stock items the experiments buy from.
const (
	SteadyItemID  int64 = 1
	LimitedItemID int64 = 2
)

var chaosCard = purchase.CardDetails{Name: "Game Day", Number: "4000000000000002", Expiry: "01/30", CVV: "000"}

// Storefront is an in-process shop wired to fault-injecting collaborators.
type Storefront struct {
	Catalog   catalog.Service
	Purchases purchase.Service
	Payments  *FlakyAuthorizer
	Chart     *FlakyChart
	Ledger    *SaleLedger

	initialStock map[int64]int
	logger       *zap.Logger
}

// NewStorefront stocks a fresh catalogue on es. The event store must not
// already hold the experiment items.
func NewStorefront(ctx context.Context, es eventstore.Store, logger *zap.Logger) (*Storefront, error) {
	chart := &FlakyChart{Ranking: 10, Lowest: decimal.NewFromInt(9)}
	payments := &FlakyAuthorizer{}
	ledger := NewSaleLedger()
	policy := pricing.NewChartPolicy(chart)

	cat := catalog.NewService(es, logger, catalog.WithItemPricer(policy))
	items := []*catalog.Item{
		catalog.NewItem(SteadyItemID, "Sonic Youth", "Daydream Nation", 1000, decimal.NewFromInt(15)),
		catalog.NewItem(LimitedItemID, "Slint", "Spiderland", 5, decimal.NewFromInt(25)),
	}
	if _, err := cat.AddItems(ctx, items...); err != nil {
		return nil, fmt.Errorf("failed to stock storefront: %w", err)
	}

	fingerprinter, err := purchase.NewFingerprinter([]byte("chaos"))
	if err != nil {
		return nil, err
	}
	workflow := purchase.NewWorkflow(policy, payments, ledger, logger)
	purchases, err := purchase.NewService(cat, workflow, fingerprinter, logger)
	if err != nil {
		return nil, err
	}

	initial := make(map[int64]int, len(items))
	for _, item := range items {
		initial[item.ID] = item.Stock
	}
	return &Storefront{
		Catalog:      cat,
		Purchases:    purchases,
		Payments:     payments,
		Chart:        chart,
		Ledger:       ledger,
		initialStock: initial,
		logger:       logger,
	}, nil
}

// Buy runs n single-unit purchases of itemID with the given concurrency
// and returns how many completed.
func (s *Storefront) Buy(ctx context.Context, itemID int64, n, concurrency int) int {
	if concurrency < 1 {
		concurrency = 1
	}
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		completed int
	)
	sem := make(chan struct{}, concurrency)
	for i := 0; i < n; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			_, err := s.Purchases.Purchase(ctx, itemID, 1, chaosCard)
			if err != nil {
				if !errors.Is(err, purchase.ErrInsufficientStock) {
					s.logger.Debug("purchase failed", zap.Int64("item_id", itemID), zap.Error(err))
				}
				return
			}
			mu.Lock()
			completed++
			mu.Unlock()
		}()
	}
	wg.Wait()
	return completed
}

// LedgerDrift is the number of units that left stock without a matching
// sale notification, or the reverse, summed over all items.
func (s *Storefront) LedgerDrift(ctx context.Context) (float64, error) {
	drift := 0
	for id, initial := range s.initialStock {
		item, err := s.Catalog.GetItem(ctx, id)
		if err != nil {
			return 0, err
		}
		diff := initial - item.Stock - s.Ledger.Units(id)
		if diff < 0 {
			diff = -diff
		}
		drift += diff
	}
	return float64(drift), nil
}

// NegativeStock counts items whose stock went below zero.
func (s *Storefront) NegativeStock(ctx context.Context) (float64, error) {
	items, err := s.Catalog.ListItems(ctx)
	if err != nil {
		return 0, err
	}
	negative := 0
	for _, item := range items {
		if item.Stock < 0 {
			negative++
		}
	}
	return float64(negative), nil
}

// Oversold is the number of units sold beyond each item's initial stock.
func (s *Storefront) Oversold(ctx context.Context) (float64, error) {
	over := 0
	for id, initial := range s.initialStock {
		if sold := s.Ledger.Units(id); sold > initial {
			over += sold - initial
		}
	}
	return float64(over), nil
}

// UnfulfilledCharges is approved charges minus notified sales.
func (s *Storefront) UnfulfilledCharges(ctx context.Context) (float64, error) {
	return float64(s.Payments.Approved() - s.Ledger.Sales()), nil
}

package chaos

import (
	"context"
	"fmt"
	"time"
)

const (
	MetricLedgerDrift        = "stock_ledger_drift"
	MetricUnfulfilledCharges = "unfulfilled_charges"
	MetricNegativeStock      = "negative_stock_items"
	MetricOversold           = "oversold_units"
)

// Timing controls how long each experiment observes the storefront.
type Timing struct {
	Duration       time.Duration
	SampleInterval time.Duration
}

// RegisterExperiments registers the storefront experiments with the engine.
func (e *Engine) RegisterExperiments(s *Storefront, timing Timing) {
	e.RegisterExperiment(s.PaymentGatewayOutage(timing))
	e.RegisterExperiment(s.ChartServiceOutage(timing))
	e.RegisterExperiment(s.ConcurrentPurchaseRace(timing))
}

func zero(name string, query func(context.Context) (float64, error)) Metric {
	return Metric{Name: name, Query: query, Threshold: Threshold{Operator: "==", Value: 0}}
}

func mustBeZero(metric, message string) Assertion {
	return Assertion{Metric: metric, Condition: func(v float64) bool { return v == 0 }, Message: message}
}

// PaymentGatewayOutage checks that a failing or declining gateway never
// costs stock and never leaves a charge without a sale.
func (s *Storefront) PaymentGatewayOutage(timing Timing) Experiment {
	return Experiment{
		Name:       "payment-gateway-outage",
		Hypothesis: "Purchases fail cleanly while the payment gateway errors or declines, leaving stock untouched",
		SteadyState: []Metric{
			zero(MetricLedgerDrift, s.LedgerDrift),
			zero(MetricUnfulfilledCharges, s.UnfulfilledCharges),
		},
		Method: []Action{
			{
				Type:   "fail-dependency",
				Target: "payment-gateway",
				Parameters: map[string]interface{}{
					"purchases": 20,
				},
				Execute: func(ctx context.Context) error {
					s.Payments.SetMode(PaymentsFail)
					if completed := s.Buy(ctx, SteadyItemID, 20, 4); completed != 0 {
						return fmt.Errorf("%d purchases completed while the gateway was failing", completed)
					}
					return nil
				},
			},
			{
				Type:   "decline-all",
				Target: "payment-gateway",
				Parameters: map[string]interface{}{
					"purchases": 20,
				},
				Execute: func(ctx context.Context) error {
					s.Payments.SetMode(PaymentsDecline)
					if completed := s.Buy(ctx, SteadyItemID, 20, 4); completed != 0 {
						return fmt.Errorf("%d purchases completed while the gateway was declining", completed)
					}
					return nil
				},
			},
		},
		Rollback: []Action{
			{
				Type:   "restore-dependency",
				Target: "payment-gateway",
				Execute: func(ctx context.Context) error {
					s.Payments.SetMode(PaymentsApprove)
					if completed := s.Buy(ctx, SteadyItemID, 5, 1); completed != 5 {
						return fmt.Errorf("only %d of 5 purchases completed after recovery", completed)
					}
					return nil
				},
			},
		},
		Validation: []Assertion{
			mustBeZero(MetricLedgerDrift, "Stock must only move with a notified sale"),
			mustBeZero(MetricUnfulfilledCharges, "No charge may be approved without a completed sale"),
		},
		Duration:       timing.Duration,
		SampleInterval: timing.SampleInterval,
		BlastRadius:    1.0,
	}
}

// ChartServiceOutage checks that pricing failures stop purchases before
// any card is charged.
func (s *Storefront) ChartServiceOutage(timing Timing) Experiment {
	var approvedBefore int64
	return Experiment{
		Name:       "chart-service-outage",
		Hypothesis: "Purchases fail without charging the customer while the chart service is down",
		SteadyState: []Metric{
			zero(MetricLedgerDrift, s.LedgerDrift),
			zero(MetricUnfulfilledCharges, s.UnfulfilledCharges),
		},
		Method: []Action{
			{
				Type:   "fail-dependency",
				Target: "chart-service",
				Execute: func(ctx context.Context) error {
					approvedBefore = s.Payments.Approved()
					s.Chart.SetFailing(true)
					if completed := s.Buy(ctx, SteadyItemID, 20, 4); completed != 0 {
						return fmt.Errorf("%d purchases completed without a chart price", completed)
					}
					if charged := s.Payments.Approved() - approvedBefore; charged != 0 {
						return fmt.Errorf("%d cards charged during the chart outage", charged)
					}
					return nil
				},
			},
		},
		Rollback: []Action{
			{
				Type:   "restore-dependency",
				Target: "chart-service",
				Execute: func(ctx context.Context) error {
					s.Chart.SetFailing(false)
					return nil
				},
			},
		},
		Validation: []Assertion{
			mustBeZero(MetricLedgerDrift, "Stock must only move with a notified sale"),
			mustBeZero(MetricUnfulfilledCharges, "No card may be charged while pricing is unavailable"),
		},
		Duration:       timing.Duration,
		SampleInterval: timing.SampleInterval,
		BlastRadius:    1.0,
	}
}

// ConcurrentPurchaseRace hammers a low-stock item from many goroutines.
func (s *Storefront) ConcurrentPurchaseRace(timing Timing) Experiment {
	return Experiment{
		Name:       "concurrent-purchase-race",
		Hypothesis: "Concurrent purchases of a limited item never oversell or drive stock negative",
		SteadyState: []Metric{
			zero(MetricNegativeStock, s.NegativeStock),
			zero(MetricOversold, s.Oversold),
			zero(MetricLedgerDrift, s.LedgerDrift),
		},
		Method: []Action{
			{
				Type:   "concurrent-requests",
				Target: "purchase-service",
				Parameters: map[string]interface{}{
					"concurrency": 50,
					"purchases":   100,
					"item_id":     LimitedItemID,
				},
				Execute: func(ctx context.Context) error {
					s.Buy(ctx, LimitedItemID, 100, 50)
					return nil
				},
			},
		},
		Rollback: []Action{},
		Validation: []Assertion{
			mustBeZero(MetricNegativeStock, "Stock must never go negative"),
			mustBeZero(MetricOversold, "Sold units must never exceed initial stock"),
			mustBeZero(MetricLedgerDrift, "Every unit sold must be notified exactly once"),
		},
		Duration:       timing.Duration,
		SampleInterval: timing.SampleInterval,
		BlastRadius:    0.1,
	}
}

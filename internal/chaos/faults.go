package chaos

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"discshop/internal/purchase"

	"github.com/shopspring/decimal"
)

var ErrInjected = errors.New("injected fault")

// PaymentMode selects how FlakyAuthorizer answers.
type PaymentMode int32

const (
	PaymentsApprove PaymentMode = iota
	PaymentsDecline
	PaymentsFail
)

// FlakyAuthorizer is a payment gateway whose behaviour can be switched at
// runtime. It counts the charges it approves.
type FlakyAuthorizer struct {
	mode     atomic.Int32
	approved atomic.Int64
}

func (a *FlakyAuthorizer) SetMode(mode PaymentMode) {
	a.mode.Store(int32(mode))
}

func (a *FlakyAuthorizer) Approved() int64 {
	return a.approved.Load()
}

func (a *FlakyAuthorizer) Authorize(ctx context.Context, amount decimal.Decimal, card purchase.CardDetails) (bool, error) {
	switch PaymentMode(a.mode.Load()) {
	case PaymentsDecline:
		return false, nil
	case PaymentsFail:
		return false, ErrInjected
	default:
		a.approved.Add(1)
		return true, nil
	}
}

// FlakyChart ranks every item the same and can be made to fail.
type FlakyChart struct {
	Ranking int
	Lowest  decimal.Decimal
	failing atomic.Bool
}

func (c *FlakyChart) SetFailing(failing bool) {
	c.failing.Store(failing)
}

func (c *FlakyChart) Rank(ctx context.Context, itemID int64) (int, error) {
	if c.failing.Load() {
		return 0, ErrInjected
	}
	return c.Ranking, nil
}

func (c *FlakyChart) LowestPrice(ctx context.Context, itemID int64) (decimal.Decimal, error) {
	if c.failing.Load() {
		return decimal.Zero, ErrInjected
	}
	return c.Lowest, nil
}

// SaleLedger counts notified sales per item.
type SaleLedger struct {
	mu    sync.Mutex
	sales int64
	units map[int64]int
}

func NewSaleLedger() *SaleLedger {
	return &SaleLedger{units: make(map[int64]int)}
}

func (l *SaleLedger) NotifySale(ctx context.Context, sale purchase.Sale) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sales++
	l.units[sale.ItemID] += sale.Quantity
	return nil
}

func (l *SaleLedger) Sales() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sales
}

func (l *SaleLedger) Units(itemID int64) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.units[itemID]
}

// internal/purchase/domain.go
package purchase

import (
	"errors"

	"discshop/internal/catalog"

	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientStock  = catalog.ErrInsufficientStock
	ErrInvalidQuantity    = catalog.ErrInvalidQuantity
	ErrPaymentDeclined    = errors.New("payment declined")
	ErrCollaboratorFailed = errors.New("collaborator failed")
)

// State is a step of a single purchase attempt.
type State string

const (
	StateStart         State = "START"
	StateStockChecked  State = "STOCK_CHECKED"
	StatePriced        State = "PRICED"
	StatePaid          State = "PAID"
	StateCompleted     State = "COMPLETED"
	StateOutOfStock    State = "OUT_OF_STOCK"
	StatePaymentFailed State = "PAYMENT_FAILED"
)

// Terminal reports whether no further transition can follow s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateOutOfStock || s == StatePaymentFailed
}

// CardDetails is handed to the payment authorizer untouched.
type CardDetails struct {
	Name   string `json:"name"`
	Number string `json:"number"`
	Expiry string `json:"expiry"`
	CVV    string `json:"cvv"`
}

// Sale is what the chart service is told about a completed purchase.
type Sale struct {
	ItemID   int64  `json:"item_id"`
	Artist   string `json:"artist"`
	Title    string `json:"title"`
	Quantity int    `json:"quantity"`
}

// Receipt describes a completed purchase.
type Receipt struct {
	ItemID    int64           `json:"item_id"`
	Artist    string          `json:"artist"`
	Title     string          `json:"title"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Total     decimal.Decimal `json:"total"`
	State     State           `json:"state"`
}

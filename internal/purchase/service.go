// internal/purchase/service.go
package purchase

import (
	"context"
)

// Service sells catalogue items.
type Service interface {
	Purchase(ctx context.Context, itemID int64, quantity int, card CardDetails) (*Receipt, error)
}

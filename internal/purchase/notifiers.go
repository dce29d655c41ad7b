package purchase

import (
	"context"
	"errors"
)

// Notifiers tells every notifier about a sale. All notifiers are called
// even when one fails; their errors are joined.
type Notifiers []SaleNotifier

func (n Notifiers) NotifySale(ctx context.Context, sale Sale) error {
	var errs []error
	for _, notifier := range n {
		if err := notifier.NotifySale(ctx, sale); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

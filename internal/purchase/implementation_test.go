package purchase

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"discshop/internal/catalog"
	"discshop/pkg/eventstore"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// lockedNotifier is a recordingNotifier safe for concurrent purchases.
type lockedNotifier struct {
	mu    sync.Mutex
	sales []Sale
}

func (n *lockedNotifier) NotifySale(ctx context.Context, sale Sale) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sales = append(n.sales, sale)
	return nil
}

type approveAll struct{}

func (approveAll) Authorize(ctx context.Context, amount decimal.Decimal, card CardDetails) (bool, error) {
	return true, nil
}

// flakyStore fails appends once armed.
type flakyStore struct {
	*eventstore.MemoryStore
	fail bool
}

func (f *flakyStore) AppendEvents(ctx context.Context, id uuid.UUID, aggregateType string, expected int, events []eventstore.Event) error {
	if f.fail {
		return errors.New("database unavailable")
	}
	return f.MemoryStore.AppendEvents(ctx, id, aggregateType, expected, events)
}

func newTestCatalog(t *testing.T, es eventstore.Store) catalog.Service {
	cat := catalog.NewService(es, zaptest.NewLogger(t))
	_, err := cat.AddItems(context.Background(),
		catalog.NewItem(1, "Nirvana", "Nevermind", 3, decimal.NewFromInt(12)),
		catalog.NewItem(2, "Pixies", "Doolittle", 1, decimal.RequireFromString("10.99")),
	)
	require.NoError(t, err)
	return cat
}

func newTestPurchases(t *testing.T, cat catalog.Service, payments PaymentAuthorizer, notifier SaleNotifier) Service {
	fp, err := NewFingerprinter([]byte("test-key"))
	require.NoError(t, err)
	w := NewWorkflow(fixedPricer{price: decimal.NewFromInt(9)}, payments, notifier, zaptest.NewLogger(t))
	svc, err := NewService(cat, w, fp, zaptest.NewLogger(t))
	require.NoError(t, err)
	return svc
}

func TestServicePurchaseRecordsSale(t *testing.T) {
	store := eventstore.NewMemoryStore()
	cat := newTestCatalog(t, store)
	notifier := &lockedNotifier{}
	svc := newTestPurchases(t, cat, approveAll{}, notifier)
	ctx := context.Background()

	receipt, err := svc.Purchase(ctx, 1, 2, testCard)
	require.NoError(t, err)
	assert.True(t, receipt.Total.Equal(decimal.NewFromInt(18)))

	item, err := cat.GetItem(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, item.Stock)
	assert.Equal(t, 2, item.Version)

	history, err := cat.History(ctx, 1)
	require.NoError(t, err)
	require.Len(t, history, 2)
	sold := history[1]
	assert.Equal(t, catalog.EventItemSold, sold.EventType)
	assert.False(t, strings.Contains(string(sold.EventData), testCard.Number))

	var event catalog.ItemSoldEvent
	require.NoError(t, json.Unmarshal(sold.EventData, &event))
	assert.Equal(t, 2, event.Quantity)
	assert.True(t, event.Total.Equal(decimal.NewFromInt(18)))
	assert.Len(t, event.CardFingerprint, 64)
}

func TestServicePurchaseFailuresLeaveNoTrace(t *testing.T) {
	store := eventstore.NewMemoryStore()
	cat := newTestCatalog(t, store)
	notifier := &lockedNotifier{}
	svc := newTestPurchases(t, cat, &stubAuthorizer{approve: false}, notifier)
	ctx := context.Background()

	_, err := svc.Purchase(ctx, 1, 1, testCard)
	assert.ErrorIs(t, err, ErrPaymentDeclined)
	_, err = svc.Purchase(ctx, 2, 5, testCard)
	assert.ErrorIs(t, err, ErrInsufficientStock)
	_, err = svc.Purchase(ctx, 42, 1, testCard)
	assert.ErrorIs(t, err, catalog.ErrItemNotFound)

	item, err := cat.GetItem(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, item.Stock)
	assert.Equal(t, 1, item.Version)
	assert.Empty(t, notifier.sales)
}

func TestServicePurchaseReturnsReceiptWhenNotRecorded(t *testing.T) {
	store := &flakyStore{MemoryStore: eventstore.NewMemoryStore()}
	cat := newTestCatalog(t, store)
	notifier := &lockedNotifier{}
	svc := newTestPurchases(t, cat, approveAll{}, notifier)
	ctx := context.Background()

	store.fail = true
	receipt, err := svc.Purchase(ctx, 1, 1, testCard)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, receipt.State)
	assert.Len(t, notifier.sales, 1)

	item, err := cat.GetItem(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, item.Stock)
}

func TestServiceSerialisesConcurrentPurchases(t *testing.T) {
	cat := newTestCatalog(t, eventstore.NewMemoryStore())
	notifier := &lockedNotifier{}
	svc := newTestPurchases(t, cat, approveAll{}, notifier)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	completed, short := 0, 0
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Purchase(ctx, 1, 1, testCard)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				completed++
			case errors.Is(err, ErrInsufficientStock):
				short++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, completed)
	assert.Equal(t, 9, short)
	assert.Len(t, notifier.sales, 3)

	item, err := cat.GetItem(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, item.Stock)
}

func TestFingerprintIsKeyedAndStable(t *testing.T) {
	a, err := NewFingerprinter([]byte("key-a"))
	require.NoError(t, err)
	b, err := NewFingerprinter([]byte("key-b"))
	require.NoError(t, err)

	assert.Equal(t, a.Fingerprint(testCard), a.Fingerprint(testCard))
	assert.NotEqual(t, a.Fingerprint(testCard), b.Fingerprint(testCard))

	other := testCard
	other.CVV = "999"
	assert.Equal(t, a.Fingerprint(testCard), a.Fingerprint(other))

	_, err = NewFingerprinter(make([]byte, 65))
	assert.Error(t, err)
}

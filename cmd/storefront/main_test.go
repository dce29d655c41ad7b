package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"discshop/internal/config"
	"discshop/internal/purchase"
	"discshop/pkg/eventstore"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type testSuite struct {
	server  *httptest.Server
	sales   atomic.Int64
	approve atomic.Bool
}

// setupTestSuite runs the storefront against fake chart and payment
// services. Item 1 is in the chart's top ten; everything else is unranked.
func setupTestSuite(t *testing.T, es eventstore.Store) *testSuite {
	ts := &testSuite{}
	ts.approve.Store(true)

	chart := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/sales":
			ts.sales.Add(1)
			w.WriteHeader(http.StatusAccepted)
		case r.URL.Path == "/chart/1":
			fmt.Fprint(w, `{"rank":7,"lowest_price":"6"}`)
		default:
			fmt.Fprint(w, `{"rank":500,"lowest_price":"1"}`)
		}
	}))
	t.Cleanup(chart.Close)

	payments := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"approved":%t}`, ts.approve.Load())
	}))
	t.Cleanup(payments.Close)

	cfg := &config.Config{
		Store:                config.StoreMemory,
		ChartServiceURL:      chart.URL,
		PaymentGatewayURL:    payments.URL,
		PaymentRatePerSecond: 1000,
		PaymentBurst:         100,
		TopN:                 100,
		ChartDiscount:        decimal.NewFromInt(1),
		HTTPTimeout:          time.Second,
		CardFingerprintKey:   "integration",
	}
	catalogSvc, purchaseSvc, closeFn, err := buildServices(context.Background(), cfg, es, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(closeFn)

	ts.server = httptest.NewServer(newRouter(catalogSvc, purchaseSvc))
	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testSuite) post(t *testing.T, path string, body interface{}) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(ts.server.URL+path, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (ts *testSuite) stock(t *testing.T, id int64) int {
	t.Helper()
	resp, err := http.Get(fmt.Sprintf("%s/items/%d", ts.server.URL, id))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var item struct {
		Stock int `json:"stock"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&item))
	return item.Stock
}

func purchaseBody(itemID int64, quantity int) map[string]interface{} {
	return map[string]interface{}{
		"item_id":  itemID,
		"quantity": quantity,
		"card":     purchase.CardDetails{Name: "Kim Gordon", Number: "5500000000000004", Expiry: "03/28", CVV: "321"},
	}
}

func TestPurchaseFlow(t *testing.T) {
	ts := setupTestSuite(t, eventstore.NewMemoryStore())

	resp := ts.post(t, "/items", []map[string]interface{}{
		{"id": 1, "artist": "Nirvana", "title": "Nevermind", "stock": 5, "base_price": "12.00"},
		{"id": 2, "artist": "Pixies", "title": "Doolittle", "stock": 2, "base_price": "10.99"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Charting item: lowest chart price minus one.
	resp = ts.post(t, "/purchases", purchaseBody(1, 2))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var receipt purchase.Receipt
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&receipt))
	assert.True(t, receipt.UnitPrice.Equal(decimal.NewFromInt(5)), receipt.UnitPrice.String())
	assert.True(t, receipt.Total.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, 3, ts.stock(t, 1))

	// Unranked item: base price.
	resp = ts.post(t, "/purchases", purchaseBody(2, 0))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&receipt))
	assert.True(t, receipt.UnitPrice.Equal(decimal.RequireFromString("10.99")))
	assert.Equal(t, 1, ts.stock(t, 2))

	resp = ts.post(t, "/purchases", purchaseBody(2, 2))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	ts.approve.Store(false)
	resp = ts.post(t, "/purchases", purchaseBody(1, 1))
	assert.Equal(t, http.StatusPaymentRequired, resp.StatusCode)
	assert.Equal(t, 3, ts.stock(t, 1))

	assert.Equal(t, int64(2), ts.sales.Load())

	hist, err := http.Get(ts.server.URL + "/items/1/history")
	require.NoError(t, err)
	defer hist.Body.Close()
	var history []eventstore.Event
	require.NoError(t, json.NewDecoder(hist.Body).Decode(&history))
	require.Len(t, history, 2)
	assert.Equal(t, "ItemSold", history[1].EventType)
	assert.False(t, strings.Contains(string(history[1].EventData), "5500000000000004"))
}

func TestConcurrentPurchasesPreventOverselling(t *testing.T) {
	ts := setupTestSuite(t, eventstore.NewMemoryStore())

	resp := ts.post(t, "/items", map[string]interface{}{"id": 9, "artist": "Slint", "title": "Spiderland", "stock": 1, "base_price": "20"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var wg sync.WaitGroup
	var successCount atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			payload, _ := json.Marshal(purchaseBody(9, 1))
			resp, err := http.Post(ts.server.URL+"/purchases", "application/json", bytes.NewReader(payload))
			if err != nil {
				return
			}
			defer resp.Body.Close()
			if resp.StatusCode == http.StatusCreated {
				successCount.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), successCount.Load(), "only one concurrent purchase should succeed")
	assert.Equal(t, 0, ts.stock(t, 9))
	assert.Equal(t, int64(1), ts.sales.Load())
}

func TestRestartRestoresCatalogue(t *testing.T) {
	store := eventstore.NewMemoryStore()
	first := setupTestSuite(t, store)
	resp := first.post(t, "/items", map[string]interface{}{"id": 3, "artist": "Hole", "title": "Live Through This", "stock": 4, "base_price": "9"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp = first.post(t, "/purchases", purchaseBody(3, 3))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	second := setupTestSuite(t, store)
	assert.Equal(t, 1, second.stock(t, 3))
}

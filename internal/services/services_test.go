package services

import (
	"context"
	"testing"
	"time"

	"github.com/senyabanana/procurement-service/internal/lock"
	"github.com/senyabanana/procurement-service/internal/models"
	"github.com/senyabanana/procurement-service/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var testLoadingDate = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

type testEnv struct {
	store    *repository.MemoryStore
	orders   *OrderService
	bids     *BidService
	matching *MatchingService
	messages *MessageService
}

func newTestEnv(t *testing.T, objects *fakeObjectStore) *testEnv {
	t.Helper()
	store := repository.NewMemoryStore()
	locker := lock.NewLocal(time.Second)

	env := &testEnv{
		store:    store,
		orders:   NewOrderService(store, locker, nil, nil),
		matching: NewMatchingService(store, store),
		messages: NewMessageService(store, store, store, NewHub(8, nil), nil, nil),
	}
	if objects != nil {
		env.bids = NewBidService(store, store, objects, locker, nil, nil)
	} else {
		env.bids = NewBidService(store, store, nil, locker, nil, nil)
	}
	t.Cleanup(env.messages.Close)
	return env
}

func buyer(id string) models.Actor  { return models.Actor{UserID: id, Role: models.Buyer} }
func center(id string) models.Actor { return models.Actor{UserID: id, Role: models.Center} }

func (e *testEnv) createOrder(t *testing.T, buyerID, region string) *models.Order {
	t.Helper()
	order, err := e.orders.CreateOrder(context.Background(), buyer(buyerID), models.OrderRequest{
		Quantity:          500,
		QualityParameters: map[string]string{"moisture": "12%"},
		Region:            region,
		DeliveryLocation:  "Depot-7",
		LoadingDate:       testLoadingDate,
	})
	require.NoError(t, err)
	return order
}

func (e *testEnv) submitBid(t *testing.T, centerID, orderID, price string) *models.Bid {
	t.Helper()
	bid, err := e.bids.SubmitBid(context.Background(), center(centerID), orderID, models.BidRequest{
		Price: decimal.RequireFromString(price),
	})
	require.NoError(t, err)
	return bid
}

package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/senyabanana/procurement-service/internal/models"
	"github.com/senyabanana/procurement-service/internal/utils"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedOrder(t *testing.T, store *MemoryStore, id, buyerID, region string) *models.Order {
	t.Helper()
	order, err := store.CreateOrder(context.Background(), models.Order{
		ID:               id,
		BuyerID:          buyerID,
		Quantity:         10,
		Region:           region,
		DeliveryLocation: "Depot 1",
		LoadingDate:      time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		Status:           models.ActiveOrder,
	})
	require.NoError(t, err)
	return order
}

func seedBid(t *testing.T, store *MemoryStore, id, orderID, centerID string) *models.Bid {
	t.Helper()
	bid, err := store.CreateBid(context.Background(), models.Bid{
		ID:       id,
		OrderID:  orderID,
		CenterID: centerID,
		Price:    decimal.RequireFromString("100.50"),
	})
	require.NoError(t, err)
	return bid
}

func TestMemoryStore_AcceptBid(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seedOrder(t, store, "o1", "buyer", "north")
	seedBid(t, store, "b1", "o1", "c1")
	seedBid(t, store, "b2", "o1", "c2")
	seedBid(t, store, "b3", "o1", "c3")
	_, err := store.WithdrawBid(ctx, "b3")
	require.NoError(t, err)

	result, err := store.AcceptBid(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, models.InProgressOrder, result.Order.Status)
	assert.Equal(t, models.AcceptedBid, result.AcceptedBid.Status)
	require.Len(t, result.RejectedBids, 1)
	assert.Equal(t, "b2", result.RejectedBids[0].ID)

	withdrawn, err := store.GetBid(ctx, "b3")
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawnBid, withdrawn.Status)

	_, err = store.AcceptBid(ctx, "b2")
	assert.True(t, models.IsKind(err, models.ConflictError))

	_, err = store.AcceptBid(ctx, "missing")
	assert.True(t, models.IsKind(err, models.NotFoundError))
}

func TestMemoryStore_AcceptBidFailureLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seedOrder(t, store, "o1", "buyer", "north")
	seedBid(t, store, "b1", "o1", "c1")
	seedBid(t, store, "b2", "o1", "c2")
	_, err := store.TransitionStatus(ctx, "o1", models.ActiveOrder, models.CancelledOrder)
	require.NoError(t, err)

	_, err = store.AcceptBid(ctx, "b1")
	require.True(t, models.IsKind(err, models.ConflictError))

	bids, err := store.ListOrderBids(ctx, "o1")
	require.NoError(t, err)
	for _, b := range bids {
		assert.Equal(t, models.PendingBid, b.Status)
	}
}

func TestMemoryStore_ConcurrentAcceptOneWinner(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seedOrder(t, store, "o1", "buyer", "north")
	ids := []string{"b1", "b2", "b3", "b4", "b5", "b6", "b7", "b8"}
	for i, id := range ids {
		seedBid(t, store, id, "o1", "c"+string(rune('a'+i)))
	}

	var wg sync.WaitGroup
	errs := make([]error, len(ids))
	for i, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = store.AcceptBid(ctx, id)
		}()
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		assert.True(t, models.IsKind(err, models.ConflictError))
	}
	assert.Equal(t, 1, winners)

	bids, err := store.ListOrderBids(ctx, "o1")
	require.NoError(t, err)
	accepted := 0
	for _, b := range bids {
		if b.Status == models.AcceptedBid {
			accepted++
		} else {
			assert.Equal(t, models.RejectedBid, b.Status)
		}
	}
	assert.Equal(t, 1, accepted)
}

func TestMemoryStore_CreateBidRequiresActiveOrder(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seedOrder(t, store, "o1", "buyer", "north")
	_, err := store.TransitionStatus(ctx, "o1", models.ActiveOrder, models.CancelledOrder)
	require.NoError(t, err)

	_, err = store.CreateBid(ctx, models.Bid{ID: "b1", OrderID: "o1", CenterID: "c1"})
	assert.True(t, models.IsKind(err, models.ConflictError))

	_, err = store.CreateBid(ctx, models.Bid{ID: "b2", OrderID: "nope", CenterID: "c1"})
	assert.True(t, models.IsKind(err, models.NotFoundError))
}

func TestMemoryStore_TransitionStatusCompareAndSet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	created := seedOrder(t, store, "o1", "buyer", "north")

	updated, err := store.TransitionStatus(ctx, "o1", models.ActiveOrder, models.InProgressOrder)
	require.NoError(t, err)
	assert.True(t, updated.UpdatedAt.After(created.UpdatedAt))

	_, err = store.TransitionStatus(ctx, "o1", models.ActiveOrder, models.CancelledOrder)
	assert.True(t, models.IsKind(err, models.ConflictError))

	_, err = store.TransitionStatus(ctx, "ghost", models.ActiveOrder, models.CancelledOrder)
	assert.True(t, models.IsKind(err, models.NotFoundError))
}

func TestMemoryStore_ListActiveOrdersPaging(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seedOrder(t, store, "o1", "b1", "North")
	seedOrder(t, store, "o2", "b1", "south")
	seedOrder(t, store, "o3", "b2", "north")
	seedOrder(t, store, "o4", "b2", "north")
	_, err := store.TransitionStatus(ctx, "o4", models.ActiveOrder, models.CancelledOrder)
	require.NoError(t, err)

	page, err := store.ListActiveOrders(ctx, models.OrderFilter{}, nil, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "o3", page[0].ID)
	assert.Equal(t, "o2", page[1].ID)

	last := page[len(page)-1]
	rest, err := store.ListActiveOrders(ctx, models.OrderFilter{}, &utils.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "o1", rest[0].ID)

	north, err := store.ListActiveOrders(ctx, models.OrderFilter{Regions: []string{"north"}}, nil, 10)
	require.NoError(t, err)
	assert.Len(t, north, 2)

	mine, err := store.ListActiveOrders(ctx, models.OrderFilter{BuyerID: "b2"}, nil, 10)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "o3", mine[0].ID)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	_, err := store.CreateOrder(ctx, models.Order{ID: "o1", BuyerID: "b", Status: models.ActiveOrder,
		QualityParameters: map[string]string{"moisture": "12%"}})
	require.NoError(t, err)

	got, err := store.GetOrder(ctx, "o1")
	require.NoError(t, err)
	got.QualityParameters["moisture"] = "99%"
	got.Status = models.CompletedOrder

	again, err := store.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, "12%", again.QualityParameters["moisture"])
	assert.Equal(t, models.ActiveOrder, again.Status)
}

func TestMemoryStore_UpdatePendingBid(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seedOrder(t, store, "o1", "buyer", "north")
	seedBid(t, store, "b1", "o1", "c1")

	price := decimal.RequireFromString("80")
	notes := "dry grain"
	updated, err := store.UpdatePendingBid(ctx, "b1", models.BidUpdate{Price: &price, Notes: &notes})
	require.NoError(t, err)
	assert.True(t, updated.Price.Equal(price))
	assert.Equal(t, notes, updated.Notes)

	_, err = store.WithdrawBid(ctx, "b1")
	require.NoError(t, err)
	_, err = store.UpdatePendingBid(ctx, "b1", models.BidUpdate{Notes: &notes})
	assert.True(t, models.IsKind(err, models.ConflictError))
	_, err = store.WithdrawBid(ctx, "b1")
	assert.True(t, models.IsKind(err, models.ConflictError))
}

func TestMemoryStore_Messages(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	last, err := store.LastMessage(ctx, "o1")
	require.NoError(t, err)
	assert.Nil(t, last)

	for _, content := range []string{"hi", "price?", "ok"} {
		_, err := store.AppendMessage(ctx, models.Message{ID: content, OrderID: "o1", SenderID: "a", ReceiverID: "b", Content: content})
		require.NoError(t, err)
	}

	all, err := store.ListMessages(ctx, "o1", 0, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i, m := range all {
		assert.Equal(t, int64(i+1), m.Seq)
		if i > 0 {
			assert.True(t, m.CreatedAt.After(all[i-1].CreatedAt))
		}
	}

	tail, err := store.ListMessages(ctx, "o1", 1, 1)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, "price?", tail[0].Content)

	empty, err := store.ListMessages(ctx, "o1", 5, 0)
	require.NoError(t, err)
	assert.Empty(t, empty)

	last, err = store.LastMessage(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), last.Seq)
}

func TestMemoryStore_ListBidderIDs(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seedOrder(t, store, "o1", "buyer", "north")
	seedBid(t, store, "b1", "o1", "c1")
	seedBid(t, store, "b2", "o1", "c1")
	seedBid(t, store, "b3", "o1", "c2")
	_, err := store.WithdrawBid(ctx, "b3")
	require.NoError(t, err)

	ids, err := store.ListBidderIDs(ctx, "o1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"c1", "c2"}, ids)
}

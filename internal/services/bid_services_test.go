package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/senyabanana/procurement-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

type fakeObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	failOn  string
	next    int
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: make(map[string][]byte)}
}

func (f *fakeObjectStore) Put(_ context.Context, owner string, data []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn != "" && string(data) == f.failOn {
		return "", errors.New("bucket unavailable")
	}
	f.next++
	ref := fmt.Sprintf("mem://%s/%d", owner, f.next)
	f.objects[ref] = data
	return ref, nil
}

func (f *fakeObjectStore) Delete(_ context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, ref)
	return nil
}

func (f *fakeObjectStore) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

func bidStatuses(t *testing.T, env *testEnv, orderID string) map[string]models.BidStatus {
	t.Helper()
	bids, err := env.store.ListOrderBids(context.Background(), orderID)
	require.NoError(t, err)
	statuses := make(map[string]models.BidStatus, len(bids))
	for _, b := range bids {
		statuses[b.ID] = b.Status
	}
	return statuses
}

// Заказ на 500 единиц, три предложения 20, 22 и 21; покупатель принимает 21.
func TestBidService_AcceptRejectsCompetitors(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	order := env.createOrder(t, "buyer", "North India")

	b20 := env.submitBid(t, "c1", order.ID, "20")
	b22 := env.submitBid(t, "c2", order.ID, "22")
	b21 := env.submitBid(t, "c3", order.ID, "21")

	result, err := env.bids.AcceptBid(ctx, buyer("buyer"), b21.ID)
	require.NoError(t, err)
	assert.Equal(t, b21.ID, result.AcceptedBid.ID)
	assert.Equal(t, models.InProgressOrder, result.Order.Status)
	assert.Len(t, result.RejectedBids, 2)

	assert.Equal(t, map[string]models.BidStatus{
		b20.ID: models.RejectedBid,
		b22.ID: models.RejectedBid,
		b21.ID: models.AcceptedBid,
	}, bidStatuses(t, env, order.ID))

	// Четвертый пункт сбора опоздал.
	_, err = env.bids.SubmitBid(ctx, center("c4"), order.ID, models.BidRequest{Price: decimal.NewFromInt(19)})
	assert.True(t, models.IsKind(err, models.ConflictError))
	assert.Len(t, bidStatuses(t, env, order.ID), 3)
}

func TestBidService_ConcurrentSubmitBothSucceed(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	order := env.createOrder(t, "buyer", "north")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, c := range []string{"c1", "c2"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = env.bids.SubmitBid(ctx, center(c), order.ID, models.BidRequest{Price: decimal.NewFromInt(10)})
		}()
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	bids, err := env.matching.BidsForOrder(ctx, buyer("buyer"), order.ID)
	require.NoError(t, err)
	require.Len(t, bids, 2)
	for _, b := range bids {
		assert.Equal(t, models.PendingBid, b.Status)
	}
}

func TestBidService_DoubleClickAcceptHasOneWinner(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	order := env.createOrder(t, "buyer", "north")
	first := env.submitBid(t, "c1", order.ID, "10")
	second := env.submitBid(t, "c2", order.ID, "11")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, id := range []string{first.ID, second.ID} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = env.bids.AcceptBid(ctx, buyer("buyer"), id)
		}()
	}
	wg.Wait()

	assert.True(t, (errs[0] == nil) != (errs[1] == nil), "exactly one accept must land: %v", errs)
	for _, err := range errs {
		if err != nil {
			assert.True(t, models.IsKind(err, models.ConflictError))
		}
	}
}

func TestBidService_AcceptRaceProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		env := newTestEnv(t, nil)
		ctx := context.Background()
		order := env.createOrder(t, "buyer", "north")

		n := rapid.IntRange(1, 12).Draw(rt, "bids")
		withdrawn := rapid.IntRange(0, n-1).Draw(rt, "withdrawn")
		ids := make([]string, n)
		for i := range ids {
			ids[i] = env.submitBid(t, fmt.Sprintf("c%d", i), order.ID, "10").ID
		}
		for _, id := range ids[:withdrawn] {
			_, err := env.bids.WithdrawBid(ctx, center(env.mustBid(t, id).CenterID), id)
			require.NoError(rt, err)
		}
		pending := ids[withdrawn:]

		var wg sync.WaitGroup
		results := make([]*models.AcceptResult, len(pending))
		errs := make([]error, len(pending))
		for i, id := range pending {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[i], errs[i] = env.bids.AcceptBid(ctx, buyer("buyer"), id)
			}()
		}
		wg.Wait()

		winners := 0
		for i, err := range errs {
			if err == nil {
				winners++
				if len(results[i].RejectedBids) != len(pending)-1 {
					rt.Fatalf("rejected %d bids, want %d", len(results[i].RejectedBids), len(pending)-1)
				}
				continue
			}
			if !models.IsKind(err, models.ConflictError) {
				rt.Fatalf("loser got %v, want conflict", err)
			}
		}
		if winners != 1 {
			rt.Fatalf("winners = %d, want 1", winners)
		}

		current, err := env.orders.GetOrder(ctx, order.ID)
		require.NoError(rt, err)
		if current.Status != models.InProgressOrder {
			rt.Fatalf("order status %s, want in_progress", current.Status)
		}

		counts := map[models.BidStatus]int{}
		for _, s := range bidStatuses(t, env, order.ID) {
			counts[s]++
		}
		if counts[models.AcceptedBid] != 1 || counts[models.RejectedBid] != len(pending)-1 ||
			counts[models.WithdrawnBid] != withdrawn || counts[models.PendingBid] != 0 {
			rt.Fatalf("unexpected bid statuses %v", counts)
		}

		// Повторный проход ничего не меняет.
		for _, id := range pending {
			if _, err := env.bids.AcceptBid(ctx, buyer("buyer"), id); !models.IsKind(err, models.ConflictError) {
				rt.Fatalf("second accept of %s returned %v", id, err)
			}
		}
	})
}

func (e *testEnv) mustBid(t *testing.T, id string) *models.Bid {
	t.Helper()
	bid, err := e.store.GetBid(context.Background(), id)
	require.NoError(t, err)
	return bid
}

func TestBidService_AcceptPermissions(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	order := env.createOrder(t, "buyer", "north")
	bid := env.submitBid(t, "c1", order.ID, "10")

	_, err := env.bids.AcceptBid(ctx, buyer("other-buyer"), bid.ID)
	assert.True(t, models.IsKind(err, models.PermissionError))
	_, err = env.bids.AcceptBid(ctx, center("c1"), bid.ID)
	assert.True(t, models.IsKind(err, models.PermissionError))
	_, err = env.bids.AcceptBid(ctx, buyer("buyer"), "missing")
	assert.True(t, models.IsKind(err, models.NotFoundError))

	assert.Equal(t, models.PendingBid, env.mustBid(t, bid.ID).Status)
}

func TestBidService_AcceptAfterCancelIsConflict(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	order := env.createOrder(t, "buyer", "north")
	bid := env.submitBid(t, "c1", order.ID, "10")

	_, err := env.orders.CancelOrder(ctx, buyer("buyer"), order.ID)
	require.NoError(t, err)

	_, err = env.bids.AcceptBid(ctx, buyer("buyer"), bid.ID)
	assert.True(t, models.IsKind(err, models.ConflictError))
	assert.Equal(t, models.PendingBid, env.mustBid(t, bid.ID).Status)
}

func TestBidService_SubmitValidation(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	order := env.createOrder(t, "buyer", "north")

	_, err := env.bids.SubmitBid(ctx, center("c1"), order.ID, models.BidRequest{Price: decimal.Zero})
	assert.True(t, models.IsKind(err, models.ValidationError))
	_, err = env.bids.SubmitBid(ctx, center("c1"), order.ID, models.BidRequest{Price: decimal.NewFromInt(-3)})
	assert.True(t, models.IsKind(err, models.ValidationError))
	_, err = env.bids.SubmitBid(ctx, buyer("buyer"), order.ID, models.BidRequest{Price: decimal.NewFromInt(3)})
	assert.True(t, models.IsKind(err, models.PermissionError))
	_, err = env.bids.SubmitBid(ctx, center("c1"), "missing", models.BidRequest{Price: decimal.NewFromInt(3)})
	assert.True(t, models.IsKind(err, models.NotFoundError))
	_, err = env.bids.SubmitBid(ctx, center("c1"), order.ID, models.BidRequest{
		Price:  decimal.NewFromInt(3),
		Images: []models.ImageUpload{{Data: []byte("x")}},
	})
	assert.True(t, models.IsKind(err, models.ValidationError))

	bids, err := env.store.ListOrderBids(ctx, order.ID)
	require.NoError(t, err)
	assert.Empty(t, bids)
}

func TestBidService_SubmitUploadsImages(t *testing.T) {
	objects := newFakeObjectStore()
	env := newTestEnv(t, objects)
	ctx := context.Background()
	order := env.createOrder(t, "buyer", "north")

	bid, err := env.bids.SubmitBid(ctx, center("c1"), order.ID, models.BidRequest{
		Price:     decimal.RequireFromString("12.5"),
		ImageRefs: []string{"https://cdn/existing.jpg"},
		Images:    []models.ImageUpload{{Data: []byte("a")}, {Data: []byte("b")}, {Data: []byte("c")}},
	})
	require.NoError(t, err)
	require.Len(t, bid.ImageRefs, 4)
	assert.Equal(t, "https://cdn/existing.jpg", bid.ImageRefs[0])
	assert.Equal(t, 3, objects.len())
}

func TestBidService_SubmitStorageFailureLeavesNoBid(t *testing.T) {
	objects := newFakeObjectStore()
	objects.failOn = "bad"
	env := newTestEnv(t, objects)
	ctx := context.Background()
	order := env.createOrder(t, "buyer", "north")

	_, err := env.bids.SubmitBid(ctx, center("c1"), order.ID, models.BidRequest{
		Price:  decimal.NewFromInt(5),
		Images: []models.ImageUpload{{Data: []byte("ok-1")}, {Data: []byte("bad")}, {Data: []byte("ok-2")}},
	})
	require.True(t, models.IsKind(err, models.StorageError), "got %v", err)

	bids, err := env.store.ListOrderBids(ctx, order.ID)
	require.NoError(t, err)
	assert.Empty(t, bids)
	assert.Zero(t, objects.len())
}

func TestBidService_SubmitOnClosedOrderCleansUploads(t *testing.T) {
	objects := newFakeObjectStore()
	env := newTestEnv(t, objects)
	ctx := context.Background()
	order := env.createOrder(t, "buyer", "north")
	_, err := env.orders.CancelOrder(ctx, buyer("buyer"), order.ID)
	require.NoError(t, err)

	_, err = env.bids.SubmitBid(ctx, center("c1"), order.ID, models.BidRequest{
		Price:  decimal.NewFromInt(5),
		Images: []models.ImageUpload{{Data: []byte("a")}},
	})
	assert.True(t, models.IsKind(err, models.ConflictError))
	assert.Zero(t, objects.len())
}

func TestBidService_UpdateAndWithdraw(t *testing.T) {
	objects := newFakeObjectStore()
	env := newTestEnv(t, objects)
	ctx := context.Background()
	order := env.createOrder(t, "buyer", "north")
	bid, err := env.bids.SubmitBid(ctx, center("c1"), order.ID, models.BidRequest{
		Price:  decimal.NewFromInt(5),
		Images: []models.ImageUpload{{Data: []byte("old")}},
	})
	require.NoError(t, err)
	oldRef := bid.ImageRefs[0]

	price := decimal.NewFromInt(7)
	_, err = env.bids.UpdateBid(ctx, center("c2"), bid.ID, models.BidUpdate{Price: &price})
	assert.True(t, models.IsKind(err, models.PermissionError))
	_, err = env.bids.UpdateBid(ctx, center("c1"), bid.ID, models.BidUpdate{})
	assert.True(t, models.IsKind(err, models.ValidationError))

	updated, err := env.bids.UpdateBid(ctx, center("c1"), bid.ID, models.BidUpdate{
		Price:     &price,
		ImageRefs: []string{},
		Images:    []models.ImageUpload{{Data: []byte("new")}},
	})
	require.NoError(t, err)
	assert.True(t, updated.Price.Equal(price))
	require.Len(t, updated.ImageRefs, 1)
	assert.NotEqual(t, oldRef, updated.ImageRefs[0])
	assert.Equal(t, 1, objects.len())

	_, err = env.bids.WithdrawBid(ctx, center("c2"), bid.ID)
	assert.True(t, models.IsKind(err, models.PermissionError))

	withdrawn, err := env.bids.WithdrawBid(ctx, center("c1"), bid.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WithdrawnBid, withdrawn.Status)

	_, err = env.bids.WithdrawBid(ctx, center("c1"), bid.ID)
	assert.True(t, models.IsKind(err, models.ConflictError))
	_, err = env.bids.UpdateBid(ctx, center("c1"), bid.ID, models.BidUpdate{Price: &price})
	assert.True(t, models.IsKind(err, models.ConflictError))
}

func TestBidService_GetBidVisibility(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	order := env.createOrder(t, "buyer", "north")
	bid := env.submitBid(t, "c1", order.ID, "10")

	_, err := env.bids.GetBid(ctx, center("c1"), bid.ID)
	assert.NoError(t, err)
	_, err = env.bids.GetBid(ctx, buyer("buyer"), bid.ID)
	assert.NoError(t, err)
	_, err = env.bids.GetBid(ctx, center("c2"), bid.ID)
	assert.True(t, models.IsKind(err, models.PermissionError))
	_, err = env.bids.GetBid(ctx, buyer("stranger"), bid.ID)
	assert.True(t, models.IsKind(err, models.PermissionError))
}

func TestBidService_CenterStats(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	won := env.createOrder(t, "buyer", "north")
	wonBid := env.submitBid(t, "c1", won.ID, "120.50")
	_, err := env.bids.AcceptBid(ctx, buyer("buyer"), wonBid.ID)
	require.NoError(t, err)

	lost := env.createOrder(t, "buyer", "north")
	env.submitBid(t, "c1", lost.ID, "90")
	winner := env.submitBid(t, "c2", lost.ID, "80")
	_, err = env.bids.AcceptBid(ctx, buyer("buyer"), winner.ID)
	require.NoError(t, err)

	open := env.createOrder(t, "buyer", "north")
	env.submitBid(t, "c1", open.ID, "100")
	env.submitBid(t, "c1", open.ID, "99")

	stats, err := env.bids.CenterStats(ctx, center("c1"))
	require.NoError(t, err)
	assert.Equal(t, 4, stats.TotalBids)
	assert.Equal(t, 2, stats.PendingBids)
	assert.Equal(t, 1, stats.AcceptedBids)
	assert.True(t, stats.TotalEarnings.Equal(decimal.RequireFromString("120.50")))
	assert.InDelta(t, 25.0, stats.SuccessRate, 0.001)
	assert.Len(t, stats.RecentBids, 4)

	_, err = env.bids.CenterStats(ctx, buyer("buyer"))
	assert.True(t, models.IsKind(err, models.PermissionError))
}

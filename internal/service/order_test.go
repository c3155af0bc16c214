package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Skotchmaster/keyshop/internal/gateway"
	"github.com/Skotchmaster/keyshop/internal/models"
	"github.com/Skotchmaster/keyshop/internal/repo"
	"github.com/Skotchmaster/keyshop/internal/testdb"
)

func checkout(t *testing.T, e *env, userID uuid.UUID, items ...CheckoutItem) *CheckoutResult {
	t.Helper()
	res, err := e.orders.StartCheckout(context.Background(), userID, items)
	require.NoError(t, err)
	require.NotEmpty(t, res.SessionID)
	return res
}

func keyStates(t *testing.T, e *env, orderID uuid.UUID) []models.KeyState {
	t.Helper()
	keys, err := e.keys.OrderKeys(context.Background(), orderID)
	require.NoError(t, err)
	out := make([]models.KeyState, 0, len(keys))
	for _, k := range keys {
		out = append(out, k.State)
	}
	return out
}

func TestOrderService_StartCheckout(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	a := e.title(t, 2000, 25)
	b := e.title(t, 999, 0)
	pa := e.stock(t, a.ID, 2)
	pb := e.stock(t, b.ID, 1)
	user := uuid.New()

	res := checkout(t, e, user, CheckoutItem{a.ID, pa}, CheckoutItem{b.ID, pb})
	assert.Equal(t, int64(1500+999), res.TotalCents)
	assert.Equal(t, "https://pay.example/"+res.SessionID, res.RedirectURL)

	order, err := e.repo.GetOrder(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPending, order.Status)
	assert.Equal(t, user, order.UserID)
	require.NotNil(t, order.SessionID)
	assert.Equal(t, res.SessionID, *order.SessionID)
	assert.Equal(t, []models.KeyState{models.KeyReserved, models.KeyReserved}, keyStates(t, e, res.OrderID))

	require.Len(t, e.gw.created, 1)
	items := e.gw.created[0]
	require.Len(t, items, 2)
	assert.Equal(t, a.Name, items[0].Name)
	assert.Equal(t, int64(1500), items[0].UnitPriceCents)
	assert.Equal(t, 1, items[0].Quantity)
	assert.Equal(t, a.ImageURL, items[0].ImageRef)

	assert.EqualValues(t, 1, e.idx.stock[a.ID.String()+"/"+pa.String()])
	assert.EqualValues(t, 0, e.idx.stock[b.ID.String()+"/"+pb.String()])
}

func TestOrderService_StartCheckoutValidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.orders.StartCheckout(ctx, uuid.New(), nil)
	assert.ErrorIs(t, err, ErrValidation)
	_, err = e.orders.StartCheckout(ctx, uuid.New(), []CheckoutItem{{TitleID: uuid.New()}})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = e.orders.StartCheckout(ctx, uuid.New(), []CheckoutItem{{uuid.New(), uuid.New()}})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOrderService_DuplicateItemIsAllOrNothing(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	title := e.title(t, 1000, 0)
	platform := e.stock(t, title.ID, 1)
	item := CheckoutItem{title.ID, platform}

	_, err := e.orders.StartCheckout(ctx, uuid.New(), []CheckoutItem{item, item})
	require.ErrorIs(t, err, ErrOutOfStock)

	var oos *OutOfStockError
	require.True(t, errors.As(err, &oos))
	assert.Contains(t, oos.Items, item)

	n, err := e.keys.AvailableCount(ctx, title.ID, platform)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n, "no key remains reserved")

	var orders int64
	require.NoError(t, e.repo.DB.Model(&models.Order{}).Count(&orders).Error)
	assert.Zero(t, orders)
	assert.Empty(t, e.gw.created)
}

func TestOrderService_OutOfStockListsEveryItem(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	ok := e.title(t, 1000, 0)
	empty1 := e.title(t, 1000, 0)
	empty2 := e.title(t, 1000, 0)
	pOK := e.stock(t, ok.ID, 1)
	p1, p2 := uuid.New(), uuid.New()

	_, err := e.orders.StartCheckout(ctx, uuid.New(), []CheckoutItem{
		{ok.ID, pOK}, {empty1.ID, p1}, {empty2.ID, p2},
	})
	var oos *OutOfStockError
	require.True(t, errors.As(err, &oos))
	assert.ElementsMatch(t, []CheckoutItem{{empty1.ID, p1}, {empty2.ID, p2}}, oos.Items)

	n, err := e.keys.AvailableCount(ctx, ok.ID, pOK)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestOrderService_ConfirmPaidIsIdempotent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	title := e.title(t, 1000, 0)
	platform := e.stock(t, title.ID, 1)
	res := checkout(t, e, uuid.New(), CheckoutItem{title.ID, platform})

	e.gw.set(res.SessionID, gateway.StatusPaid, "card")

	first, err := e.orders.ConfirmPayment(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderCompleted, first.Status)
	assert.Equal(t, "card", first.PaymentMethod)
	require.NotNil(t, first.ResolvedAt)

	second, err := e.orders.ConfirmPayment(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderCompleted, second.Status)
	assert.Equal(t, first.ResolvedAt.Unix(), second.ResolvedAt.Unix())

	assert.Equal(t, []models.KeyState{models.KeySold}, keyStates(t, e, res.OrderID))

	events := e.pub.orderEvents()
	require.Len(t, events, 1, "second confirmation publishes nothing")
	assert.Equal(t, EventOrderCompleted, events[0].Type)
	require.Len(t, events[0].Keys, 1)
	assert.NotEmpty(t, events[0].Keys[0].Code)
}

func TestOrderService_ConfirmUnpaidAndExpired(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	title := e.title(t, 1000, 0)
	platform := e.stock(t, title.ID, 1)
	res := checkout(t, e, uuid.New(), CheckoutItem{title.ID, platform})

	order, err := e.orders.ConfirmPayment(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPending, order.Status)
	assert.Equal(t, []models.KeyState{models.KeyReserved}, keyStates(t, e, res.OrderID))

	e.gw.set(res.SessionID, gateway.StatusExpired, "")
	order, err = e.orders.ConfirmPayment(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderFailed, order.Status)
	assert.Empty(t, keyStates(t, e, res.OrderID))

	n, err := e.keys.AvailableCount(ctx, title.ID, platform)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = e.orders.ConfirmPayment(ctx, "cs_unknown")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestOrderService_ConfirmGatewayFailureKeepsPending(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	title := e.title(t, 1000, 0)
	platform := e.stock(t, title.ID, 1)
	res := checkout(t, e, uuid.New(), CheckoutItem{title.ID, platform})

	e.gw.statusErr = errors.New("boom")
	_, err := e.orders.ConfirmPayment(ctx, res.SessionID)
	assert.ErrorIs(t, err, ErrGateway)

	order, err := e.repo.GetOrder(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPending, order.Status)
}

func TestOrderService_PriceFrozenAtReservation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	title := e.title(t, 1000, 0)
	platform := e.stock(t, title.ID, 1)
	res := checkout(t, e, uuid.New(), CheckoutItem{title.ID, platform})
	require.Equal(t, int64(1000), res.TotalCents)

	require.NoError(t, e.repo.DB.Model(&models.Title{}).
		Where("id = ?", title.ID).
		Updates(map[string]any{"price_cents": 5000, "discount_percent": 50}).Error)

	e.gw.set(res.SessionID, gateway.StatusPaid, "card")
	order, err := e.orders.ConfirmPayment(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), order.TotalCents)

	keys, err := e.keys.OrderKeys(ctx, res.OrderID)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, int64(1000), keys[0].PriceCents)
}

func TestOrderService_GatewayFailureThenRetry(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	title := e.title(t, 1000, 0)
	platform := e.stock(t, title.ID, 1)
	user := uuid.New()

	e.gw.createErr = errors.New("unavailable")
	res, err := e.orders.StartCheckout(ctx, user, []CheckoutItem{{title.ID, platform}})
	require.ErrorIs(t, err, ErrGateway)
	require.NotNil(t, res)
	require.NotEqual(t, uuid.Nil, res.OrderID)
	assert.Empty(t, res.SessionID)

	order, err := e.repo.GetOrder(ctx, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPending, order.Status)
	assert.Nil(t, order.SessionID)
	assert.Equal(t, []models.KeyState{models.KeyReserved}, keyStates(t, e, res.OrderID))

	_, err = e.orders.RetryPayment(ctx, uuid.New(), res.OrderID)
	assert.ErrorIs(t, err, ErrOrderNotFound)

	e.gw.createErr = nil
	retry, err := e.orders.RetryPayment(ctx, user, res.OrderID)
	require.NoError(t, err)
	assert.NotEmpty(t, retry.SessionID)
	assert.Equal(t, res.OrderID, retry.OrderID)
	assert.Equal(t, int64(1000), retry.TotalCents)

	e.gw.set(retry.SessionID, gateway.StatusPaid, "card")
	done, err := e.orders.ConfirmPayment(ctx, retry.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderCompleted, done.Status)

	_, err = e.orders.RetryPayment(ctx, user, res.OrderID)
	assert.ErrorIs(t, err, ErrInvalidOrderTransition)
}

func TestOrderService_Cancel(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	title := e.title(t, 1000, 0)
	platform := e.stock(t, title.ID, 1)
	user := uuid.New()
	res := checkout(t, e, user, CheckoutItem{title.ID, platform})

	_, err := e.orders.CancelForUser(ctx, uuid.New(), res.OrderID)
	assert.ErrorIs(t, err, ErrOrderNotFound)

	order, err := e.orders.CancelForUser(ctx, user, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderFailed, order.Status)

	_, err = e.orders.Cancel(ctx, res.OrderID)
	assert.ErrorIs(t, err, ErrInvalidOrderTransition)
	_, err = e.orders.Cancel(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrOrderNotFound)

	n, err := e.keys.AvailableCount(ctx, title.ID, platform)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	events := e.pub.orderEvents()
	require.Len(t, events, 1)
	assert.Equal(t, EventOrderFailed, events[0].Type)
}

func TestOrderService_CancelRacesConfirm(t *testing.T) {
	for i := 0; i < 5; i++ {
		e := newEnv(t)
		ctx := context.Background()

		title := e.title(t, 1000, 0)
		platform := e.stock(t, title.ID, 2)
		res := checkout(t, e, uuid.New(), CheckoutItem{title.ID, platform}, CheckoutItem{title.ID, platform})
		e.gw.set(res.SessionID, gateway.StatusPaid, "card")

		var wg sync.WaitGroup
		var confirmErr, cancelErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, confirmErr = e.orders.ConfirmPayment(ctx, res.SessionID)
		}()
		go func() {
			defer wg.Done()
			_, cancelErr = e.orders.Cancel(ctx, res.OrderID)
		}()
		wg.Wait()

		require.NoError(t, confirmErr)
		order, err := e.repo.GetOrder(ctx, res.OrderID)
		require.NoError(t, err)

		switch order.Status {
		case models.OrderCompleted:
			assert.ErrorIs(t, cancelErr, ErrInvalidOrderTransition)
			assert.Equal(t, []models.KeyState{models.KeySold, models.KeySold}, keyStates(t, e, res.OrderID))
		case models.OrderFailed:
			assert.NoError(t, cancelErr)
			assert.Empty(t, keyStates(t, e, res.OrderID))
			n, err := e.keys.AvailableCount(ctx, title.ID, platform)
			require.NoError(t, err)
			assert.EqualValues(t, 2, n)
		default:
			t.Fatalf("order left in %s", order.Status)
		}
	}
}

func TestOrderService_ExpirePending(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	title := e.title(t, 1000, 0)
	platform := e.stock(t, title.ID, 3)

	stale := checkout(t, e, uuid.New(), CheckoutItem{title.ID, platform})
	paid := checkout(t, e, uuid.New(), CheckoutItem{title.ID, platform})
	fresh := checkout(t, e, uuid.New(), CheckoutItem{title.ID, platform})

	old := time.Now().UTC().Add(-2 * time.Hour)
	require.NoError(t, e.repo.DB.Model(&models.Order{}).
		Where("id IN ?", []uuid.UUID{stale.OrderID, paid.OrderID}).
		Update("ordered_at", old).Error)

	e.gw.set(paid.SessionID, gateway.StatusPaid, "card")
	_, err := e.orders.ConfirmPayment(ctx, paid.SessionID)
	require.NoError(t, err)

	n, err := e.orders.ExpirePending(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	status := func(id uuid.UUID) models.OrderStatus {
		o, err := e.repo.GetOrder(ctx, id)
		require.NoError(t, err)
		return o.Status
	}
	assert.Equal(t, models.OrderFailed, status(stale.OrderID))
	assert.Equal(t, models.OrderCompleted, status(paid.OrderID))
	assert.Equal(t, models.OrderPending, status(fresh.OrderID))

	avail, err := e.keys.AvailableCount(ctx, title.ID, platform)
	require.NoError(t, err)
	assert.EqualValues(t, 1, avail)

	n, err = e.orders.ExpirePending(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestOrderService_GetOrderHidesCodesUntilCompleted(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	title := e.title(t, 1000, 0)
	platform := e.stock(t, title.ID, 1)
	user := uuid.New()
	res := checkout(t, e, user, CheckoutItem{title.ID, platform})

	order, err := e.orders.GetOrder(ctx, user, res.OrderID)
	require.NoError(t, err)
	require.Len(t, order.Keys, 1)
	assert.Empty(t, order.Keys[0].Code)

	_, err = e.orders.GetOrder(ctx, uuid.New(), res.OrderID)
	assert.ErrorIs(t, err, ErrOrderNotFound)

	e.gw.set(res.SessionID, gateway.StatusPaid, "card")
	_, err = e.orders.ConfirmPayment(ctx, res.SessionID)
	require.NoError(t, err)

	order, err = e.orders.GetOrder(ctx, user, res.OrderID)
	require.NoError(t, err)
	require.Len(t, order.Keys, 1)
	assert.NotEmpty(t, order.Keys[0].Code)

	total, orders, err := e.orders.ListOrders(ctx, user, 1, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	require.Len(t, orders, 1)
	assert.Equal(t, res.OrderID, orders[0].ID)
}

func TestOrderService_CheckoutCancelledMidwayReservesNothing(t *testing.T) {
	e := newEnvOn(t, testdb.OpenFile(t))

	first := e.title(t, 1000, 0)
	firstPlatform := e.stock(t, first.ID, 1)
	second := e.title(t, 2000, 0)
	secondPlatform := e.stock(t, second.ID, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var selects atomic.Int32
	require.NoError(t, e.repo.DB.Callback().Query().Before("gorm:query").Register("test:disconnect_on_second_claim", func(d *gorm.DB) {
		if d.Statement.Table == "license_keys" && selects.Add(1) == 2 {
			cancel()
		}
	}))

	_, err := e.orders.StartCheckout(ctx, uuid.New(), []CheckoutItem{
		{first.ID, firstPlatform},
		{second.ID, secondPlatform},
	})
	require.Error(t, err)

	bg := context.Background()
	for _, pool := range []CheckoutItem{{first.ID, firstPlatform}, {second.ID, secondPlatform}} {
		n, err := e.keys.AvailableCount(bg, pool.TitleID, pool.PlatformID)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)
	}

	var reserved, orders int64
	require.NoError(t, e.repo.DB.Model(&models.LicenseKey{}).Where("state = ?", models.KeyReserved).Count(&reserved).Error)
	require.NoError(t, e.repo.DB.Model(&models.Order{}).Count(&orders).Error)
	assert.Zero(t, reserved)
	assert.Zero(t, orders)
	assert.Zero(t, e.gw.sessions())
}

func TestOrderService_RetryPaymentAfterPaidSession(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	title := e.title(t, 1000, 0)
	platform := e.stock(t, title.ID, 1)
	user := uuid.New()
	res := checkout(t, e, user, CheckoutItem{title.ID, platform})

	e.gw.set(res.SessionID, gateway.StatusPaid, "card")

	_, err := e.orders.RetryPayment(ctx, user, res.OrderID)
	require.ErrorIs(t, err, ErrInvalidOrderTransition)
	assert.Equal(t, 1, e.gw.sessions(), "no second session for a paid order")

	order, err := e.orders.ConfirmPayment(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderCompleted, order.Status)
	assert.Equal(t, "card", order.PaymentMethod)
	assert.Equal(t, []models.KeyState{models.KeySold}, keyStates(t, e, res.OrderID))
}

func TestOrderService_RetryPaymentReusesOpenSession(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	title := e.title(t, 1000, 0)
	platform := e.stock(t, title.ID, 1)
	user := uuid.New()
	res := checkout(t, e, user, CheckoutItem{title.ID, platform})

	again, err := e.orders.RetryPayment(ctx, user, res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, res.SessionID, again.SessionID)
	assert.Equal(t, res.RedirectURL, again.RedirectURL)
	assert.Equal(t, 1, e.gw.sessions())

	e.gw.set(res.SessionID, gateway.StatusExpired, "")
	fresh, err := e.orders.RetryPayment(ctx, user, res.OrderID)
	require.NoError(t, err)
	assert.NotEqual(t, res.SessionID, fresh.SessionID)
	assert.Equal(t, 2, e.gw.sessions())

	order, err := e.orders.ConfirmPayment(ctx, res.SessionID)
	require.ErrorIs(t, err, ErrOrderNotFound, "replaced session no longer resolves the order")
	assert.Nil(t, order)

	e.gw.setStatusErr(errors.New("boom"))
	_, err = e.orders.RetryPayment(ctx, user, res.OrderID)
	assert.ErrorIs(t, err, ErrGateway)
	e.gw.setStatusErr(nil)

	e.gw.set(fresh.SessionID, gateway.StatusPaid, "card")
	done, err := e.orders.ConfirmPayment(ctx, fresh.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderCompleted, done.Status)
}

func TestOrderService_ExpirePendingChecksGateway(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	title := e.title(t, 1000, 0)
	platform := e.stock(t, title.ID, 2)
	paid := checkout(t, e, uuid.New(), CheckoutItem{title.ID, platform})
	unpaid := checkout(t, e, uuid.New(), CheckoutItem{title.ID, platform})
	e.gw.set(paid.SessionID, gateway.StatusPaid, "card")
	e.orders.Now = func() time.Time { return time.Now().UTC().Add(2 * time.Hour) }

	e.gw.setStatusErr(errors.New("boom"))
	n, err := e.orders.ExpirePending(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n, "orders are kept while their payment cannot be checked")

	e.gw.setStatusErr(nil)
	n, err = e.orders.ExpirePending(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := e.repo.GetOrder(ctx, paid.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderCompleted, got.Status)
	assert.Equal(t, []models.KeyState{models.KeySold}, keyStates(t, e, paid.OrderID))

	got, err = e.repo.GetOrder(ctx, unpaid.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderFailed, got.Status)
}

func TestOrderService_AbandonCheckout(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	title := e.title(t, 1000, 0)
	platform := e.stock(t, title.ID, 2)
	left := checkout(t, e, uuid.New(), CheckoutItem{title.ID, platform})
	paid := checkout(t, e, uuid.New(), CheckoutItem{title.ID, platform})
	e.gw.set(paid.SessionID, gateway.StatusPaid, "card")

	order, cancelled, err := e.orders.AbandonCheckout(ctx, left.OrderID)
	require.NoError(t, err)
	assert.True(t, cancelled)
	assert.Equal(t, models.OrderFailed, order.Status)

	order, cancelled, err = e.orders.AbandonCheckout(ctx, left.OrderID)
	require.NoError(t, err)
	assert.False(t, cancelled)
	assert.Equal(t, models.OrderFailed, order.Status)

	order, cancelled, err = e.orders.AbandonCheckout(ctx, paid.OrderID)
	require.NoError(t, err)
	assert.False(t, cancelled)
	assert.Equal(t, models.OrderCompleted, order.Status)
	assert.Equal(t, []models.KeyState{models.KeySold}, keyStates(t, e, paid.OrderID))

	_, _, err = e.orders.AbandonCheckout(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestOrderService_AdminListAndGet(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	title := e.title(t, 1000, 0)
	platform := e.stock(t, title.ID, 3)
	buyer := uuid.New()
	done := checkout(t, e, buyer, CheckoutItem{title.ID, platform})
	checkout(t, e, buyer, CheckoutItem{title.ID, platform})
	checkout(t, e, uuid.New(), CheckoutItem{title.ID, platform})

	e.gw.set(done.SessionID, gateway.StatusPaid, "card")
	_, err := e.orders.ConfirmPayment(ctx, done.SessionID)
	require.NoError(t, err)

	total, orders, err := e.orders.AdminList(ctx, repo.OrderFilter{}, 1, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Len(t, orders, 3)

	total, orders, err = e.orders.AdminList(ctx, repo.OrderFilter{Status: models.OrderPending}, 1, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	for _, o := range orders {
		assert.Equal(t, models.OrderPending, o.Status)
	}

	total, _, err = e.orders.AdminList(ctx, repo.OrderFilter{UserID: buyer, Status: models.OrderCompleted}, 1, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)

	_, _, err = e.orders.AdminList(ctx, repo.OrderFilter{Status: "SHIPPED"}, 1, 10)
	assert.ErrorIs(t, err, ErrValidation)

	order, err := e.orders.AdminGetOrder(ctx, done.OrderID)
	require.NoError(t, err)
	require.Len(t, order.Keys, 1)
	assert.NotEmpty(t, order.Keys[0].Code)

	_, err = e.orders.AdminGetOrder(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestOrderService_RefreshStock(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	title := e.title(t, 1000, 0)
	platform := e.stock(t, title.ID, 2)

	e.orders.RefreshStock(ctx, title.ID, platform)
	n, ok := e.idx.stockOf(title.ID, platform)
	require.True(t, ok)
	assert.EqualValues(t, 2, n)

	e.restock(t, title.ID, platform, 3)
	e.orders.RefreshStock(ctx, title.ID, platform)
	n, _ = e.idx.stockOf(title.ID, platform)
	assert.EqualValues(t, 5, n)

	e.orders.Indexer = nil
	assert.NotPanics(t, func() { e.orders.RefreshStock(ctx, title.ID, platform) })
}

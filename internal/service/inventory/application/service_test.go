package application_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"stockpile/internal/service/inventory/application"
	"stockpile/internal/service/inventory/domain"
	"stockpile/internal/service/inventory/infrastructure/rule"
)

func newTestProduct(t *testing.T, store *memStore, name string, price float64, stock int) *domain.Product {
	t.Helper()
	p := &domain.Product{Name: name, Price: price, TotalStock: stock}
	require.NoError(t, store.CreateProduct(context.Background(), p))
	return p
}

func availableOf(t *testing.T, store *memStore, productID int64) int {
	t.Helper()
	ctx := context.Background()
	p, err := store.GetProduct(ctx, productID)
	require.NoError(t, err)
	reserved, err := store.SumReservedQuantity(ctx, productID)
	require.NoError(t, err)
	return domain.AvailableStock(p.TotalStock, reserved)
}

func TestAddToCart_ReducesAvailability(t *testing.T) {
	store := newMemStore()
	svc := application.NewService(store, nil, nil)
	p := newTestProduct(t, store, "widget", 9.99, 10)
	ctx := context.Background()

	require.NoError(t, svc.AddToCart(ctx, "cart-a", p.ID, 4))
	assert.Equal(t, 6, availableOf(t, store, p.ID))

	// 库存总量本身不变，只是可售量下降
	got, err := store.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, got.TotalStock)
}

func TestAddToCart_InsufficientStock(t *testing.T) {
	store := newMemStore()
	svc := application.NewService(store, nil, nil)
	p := newTestProduct(t, store, "widget", 9.99, 10)
	ctx := context.Background()

	require.NoError(t, svc.AddToCart(ctx, "cart-a", p.ID, 4))

	err := svc.AddToCart(ctx, "cart-b", p.ID, 7)
	var insufficient *domain.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 6, insufficient.Available)
	assert.Equal(t, 7, insufficient.Requested)

	// 失败的请求不留下任何痕迹
	assert.Equal(t, 6, availableOf(t, store, p.ID))
	r, err := store.FindReservation(ctx, "cart-b", p.ID)
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestAddToCart_MergesExistingReservation(t *testing.T) {
	store := newMemStore()
	svc := application.NewService(store, nil, nil)
	p := newTestProduct(t, store, "widget", 9.99, 10)
	ctx := context.Background()

	require.NoError(t, svc.AddToCart(ctx, "cart-a", p.ID, 4))
	require.NoError(t, svc.AddToCart(ctx, "cart-a", p.ID, 3))

	reservations, err := store.ListReservations(ctx, "cart-a")
	require.NoError(t, err)
	require.Len(t, reservations, 1)
	assert.Equal(t, 7, reservations[0].Quantity)
	assert.Equal(t, 3, availableOf(t, store, p.ID))
}

func TestAddToCart_SelfClaimDoesNotCompete(t *testing.T) {
	store := newMemStore()
	svc := application.NewService(store, nil, nil)
	p := newTestProduct(t, store, "widget", 9.99, 10)
	ctx := context.Background()

	require.NoError(t, svc.AddToCart(ctx, "cart-a", p.ID, 4))
	// 自己已认领 4 个，有效容量是 10 而不是 6
	require.NoError(t, svc.AddToCart(ctx, "cart-a", p.ID, 6))
	assert.Equal(t, 0, availableOf(t, store, p.ID))

	err := svc.AddToCart(ctx, "cart-a", p.ID, 1)
	var insufficient *domain.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 10, insufficient.Available)
	assert.Equal(t, 11, insufficient.Requested)
}

func TestAddToCart_ProductNotFound(t *testing.T) {
	store := newMemStore()
	svc := application.NewService(store, nil, nil)

	err := svc.AddToCart(context.Background(), "cart-a", 42, 1)
	assert.ErrorIs(t, err, domain.ErrProductNotFound)
}

func TestAddToCart_InvalidQuantity(t *testing.T) {
	store := newMemStore()
	svc := application.NewService(store, nil, nil)
	p := newTestProduct(t, store, "widget", 9.99, 10)

	assert.ErrorIs(t, svc.AddToCart(context.Background(), "cart-a", p.ID, 0), domain.ErrInvalidQuantity)
	assert.ErrorIs(t, svc.AddToCart(context.Background(), "cart-a", p.ID, -3), domain.ErrInvalidQuantity)
}

func TestAddToCart_CreatesCartLazily(t *testing.T) {
	store := newMemStore()
	svc := application.NewService(store, nil, nil)
	p := newTestProduct(t, store, "widget", 9.99, 10)
	ctx := context.Background()

	cart, err := store.FindCart(ctx, "cart-a")
	require.NoError(t, err)
	assert.Nil(t, cart)

	require.NoError(t, svc.AddToCart(ctx, "cart-a", p.ID, 1))

	cart, err = store.FindCart(ctx, "cart-a")
	require.NoError(t, err)
	assert.NotNil(t, cart)
}

func TestUpdateCartItem_ExactCapacityBoundary(t *testing.T) {
	store := newMemStore()
	svc := application.NewService(store, nil, nil)
	p := newTestProduct(t, store, "widget", 9.99, 10)
	ctx := context.Background()

	require.NoError(t, svc.AddToCart(ctx, "cart-a", p.ID, 4))

	// 恰好吃满容量必须成功，只有超过才拒绝
	require.NoError(t, svc.UpdateCartItem(ctx, "cart-a", p.ID, 10))
	assert.Equal(t, 0, availableOf(t, store, p.ID))

	err := svc.UpdateCartItem(ctx, "cart-a", p.ID, 11)
	var insufficient *domain.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 10, insufficient.Available)
	assert.Equal(t, 11, insufficient.Requested)
}

func TestUpdateCartItem_SetsAbsoluteQuantity(t *testing.T) {
	store := newMemStore()
	svc := application.NewService(store, nil, nil)
	p := newTestProduct(t, store, "widget", 9.99, 10)
	ctx := context.Background()

	require.NoError(t, svc.AddToCart(ctx, "cart-a", p.ID, 7))
	require.NoError(t, svc.UpdateCartItem(ctx, "cart-a", p.ID, 2))

	r, err := store.FindReservation(ctx, "cart-a", p.ID)
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, 2, r.Quantity)
	assert.Equal(t, 8, availableOf(t, store, p.ID))
}

func TestUpdateCartItem_CreatesWhenAbsent(t *testing.T) {
	store := newMemStore()
	svc := application.NewService(store, nil, nil)
	p := newTestProduct(t, store, "widget", 9.99, 10)
	ctx := context.Background()

	require.NoError(t, svc.UpdateCartItem(ctx, "cart-a", p.ID, 3))

	r, err := store.FindReservation(ctx, "cart-a", p.ID)
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, 3, r.Quantity)
}

func TestUpdateCartItem_ZeroRemoves(t *testing.T) {
	store := newMemStore()
	svc := application.NewService(store, nil, nil)
	p := newTestProduct(t, store, "widget", 9.99, 10)
	ctx := context.Background()

	require.NoError(t, svc.AddToCart(ctx, "cart-a", p.ID, 4))
	require.NoError(t, svc.UpdateCartItem(ctx, "cart-a", p.ID, 0))

	r, err := store.FindReservation(ctx, "cart-a", p.ID)
	require.NoError(t, err)
	assert.Nil(t, r)
	assert.Equal(t, 10, availableOf(t, store, p.ID))

	// 设置为 0 是幂等的：目标不存在也成功
	require.NoError(t, svc.UpdateCartItem(ctx, "cart-a", p.ID, 0))
	require.NoError(t, svc.UpdateCartItem(ctx, "cart-b", p.ID, -1))
}

func TestRemoveFromCart_RestoresAvailability(t *testing.T) {
	store := newMemStore()
	svc := application.NewService(store, nil, nil)
	p := newTestProduct(t, store, "widget", 9.99, 10)
	ctx := context.Background()

	require.NoError(t, svc.AddToCart(ctx, "cart-a", p.ID, 4))
	require.NoError(t, svc.RemoveFromCart(ctx, "cart-a", p.ID))
	assert.Equal(t, 10, availableOf(t, store, p.ID))
}

func TestRemoveFromCart_AbsentFails(t *testing.T) {
	store := newMemStore()
	svc := application.NewService(store, nil, nil)
	p := newTestProduct(t, store, "widget", 9.99, 10)

	err := svc.RemoveFromCart(context.Background(), "cart-a", p.ID)
	assert.ErrorIs(t, err, domain.ErrReservationNotFound)
}

func TestGetCart_NeverCreatedIsEmpty(t *testing.T) {
	store := newMemStore()
	svc := application.NewService(store, nil, nil)

	view, err := svc.GetCart(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Equal(t, "ghost", view.ID)
	assert.Empty(t, view.Items)
	assert.Zero(t, view.TotalItems)
	assert.Zero(t, view.TotalPrice)
}

func TestGetCart_Totals(t *testing.T) {
	store := newMemStore()
	svc := application.NewService(store, nil, nil)
	p1 := newTestProduct(t, store, "widget", 2.5, 10)
	p2 := newTestProduct(t, store, "gadget", 1.25, 5)
	ctx := context.Background()

	require.NoError(t, svc.AddToCart(ctx, "cart-a", p1.ID, 4))
	require.NoError(t, svc.AddToCart(ctx, "cart-a", p2.ID, 2))

	view, err := svc.GetCart(ctx, "cart-a")
	require.NoError(t, err)
	require.Len(t, view.Items, 2)
	assert.Equal(t, 6, view.TotalItems)
	assert.InDelta(t, 12.5, view.TotalPrice, 1e-9)

	// 条目里带实时可售量
	assert.Equal(t, p1.ID, view.Items[0].ProductID)
	assert.Equal(t, 6, view.Items[0].Product.AvailableStock)
	assert.Equal(t, 3, view.Items[1].Product.AvailableStock)
}

func TestClearCart_CascadesAndIdempotent(t *testing.T) {
	store := newMemStore()
	publisher := &memPublisher{}
	svc := application.NewService(store, nil, publisher)
	p1 := newTestProduct(t, store, "widget", 2.5, 10)
	p2 := newTestProduct(t, store, "gadget", 1.25, 5)
	ctx := context.Background()

	require.NoError(t, svc.AddToCart(ctx, "cart-a", p1.ID, 4))
	require.NoError(t, svc.AddToCart(ctx, "cart-a", p2.ID, 2))

	require.NoError(t, svc.ClearCart(ctx, "cart-a"))

	reservations, err := store.ListReservations(ctx, "cart-a")
	require.NoError(t, err)
	assert.Empty(t, reservations)
	assert.Equal(t, 10, availableOf(t, store, p1.ID))
	assert.Equal(t, 5, availableOf(t, store, p2.ID))

	cart, err := store.FindCart(ctx, "cart-a")
	require.NoError(t, err)
	assert.Nil(t, cart)

	// 再清一次照样成功
	require.NoError(t, svc.ClearCart(ctx, "cart-a"))

	cleared := 0
	for _, evt := range publisher.Events() {
		if evt.Type == domain.StockEventCartCleared {
			cleared++
		}
	}
	assert.Equal(t, 2, cleared)
}

func TestPublishesStockEvents(t *testing.T) {
	store := newMemStore()
	publisher := &memPublisher{}
	svc := application.NewService(store, nil, publisher)
	p := newTestProduct(t, store, "widget", 9.99, 10)
	ctx := context.Background()

	require.NoError(t, svc.AddToCart(ctx, "cart-a", p.ID, 4))

	events := publisher.Events()
	require.Len(t, events, 1)
	assert.Equal(t, domain.StockEventAdded, events[0].Type)
	assert.Equal(t, p.ID, events[0].ProductID)
	assert.Equal(t, "cart-a", events[0].CartID)
	assert.Equal(t, 4, events[0].Reserved)
	assert.Equal(t, 6, events[0].Available)
	assert.NotEmpty(t, events[0].EventID)

	require.NoError(t, svc.AddToCart(ctx, "cart-a", p.ID, 1))
	events = publisher.Events()
	require.Len(t, events, 2)
	assert.Equal(t, domain.StockEventUpdated, events[1].Type)
	assert.Equal(t, 5, events[1].Reserved)
}

func TestPolicy_RejectsViolations(t *testing.T) {
	store := newMemStore()
	engine, err := rule.NewCELPolicyEngine([]rule.PolicyDef{
		{Name: "max-quantity-per-line", Expression: "quantity <= 5"},
	})
	require.NoError(t, err)
	svc := application.NewService(store, engine, nil)
	p := newTestProduct(t, store, "widget", 9.99, 100)
	ctx := context.Background()

	require.NoError(t, svc.AddToCart(ctx, "cart-a", p.ID, 5))

	err = svc.AddToCart(ctx, "cart-a", p.ID, 1)
	var violation *domain.PolicyViolationError
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, "max-quantity-per-line", violation.Policy)

	// 被策略拒绝的请求不改变预约
	r, err := store.FindReservation(ctx, "cart-a", p.ID)
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, 5, r.Quantity)
}

func TestConcurrentAdds_NeverOversell(t *testing.T) {
	store := newMemStore()
	svc := application.NewService(store, nil, nil)
	p := newTestProduct(t, store, "widget", 9.99, 10)

	const attempts = 25
	var succeeded atomic.Int64
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < attempts; i++ {
		cartID := fmt.Sprintf("cart-%d", i)
		g.Go(func() error {
			err := svc.AddToCart(ctx, cartID, p.ID, 1)
			if err == nil {
				succeeded.Add(1)
				return nil
			}
			var insufficient *domain.InsufficientStockError
			if assert.ErrorAs(t, err, &insufficient) {
				return nil
			}
			return err
		})
	}
	require.NoError(t, g.Wait())

	reserved, err := store.SumReservedQuantity(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, reserved, "reserved must never exceed total stock")
	assert.Equal(t, int64(10), succeeded.Load())
	assert.Equal(t, 0, availableOf(t, store, p.ID))
}

func TestConcurrentRemoves_ExactlyOneSucceeds(t *testing.T) {
	store := newMemStore()
	svc := application.NewService(store, nil, nil)
	p := newTestProduct(t, store, "widget", 9.99, 10)
	ctx := context.Background()

	require.NoError(t, svc.AddToCart(ctx, "cart-a", p.ID, 4))

	// 放大查-删之间的窗口；串行化必须让第二个删除看到记录已不在
	store.onFindReservation = func(string, int64) { time.Sleep(10 * time.Millisecond) }

	var succeeded, notFound atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < 2; i++ {
		g.Go(func() error {
			err := svc.RemoveFromCart(gctx, "cart-a", p.ID)
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, domain.ErrReservationNotFound):
				notFound.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int64(1), succeeded.Load())
	assert.Equal(t, int64(1), notFound.Load())
	assert.Equal(t, 10, availableOf(t, store, p.ID))
}

func TestRemove_NotUndoneByConcurrentMerge(t *testing.T) {
	store := newMemStore()
	svc := application.NewService(store, nil, nil)
	p := newTestProduct(t, store, "widget", 9.99, 10)
	ctx := context.Background()

	require.NoError(t, svc.AddToCart(ctx, "cart-a", p.ID, 4))

	store.onFindReservation = func(string, int64) { time.Sleep(10 * time.Millisecond) }

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.AddToCart(gctx, "cart-a", p.ID, 3) })
	g.Go(func() error {
		err := svc.RemoveFromCart(gctx, "cart-a", p.ID)
		if err != nil && !errors.Is(err, domain.ErrReservationNotFound) {
			return err
		}
		return nil
	})
	require.NoError(t, g.Wait())

	// 两种串行终态：先删后加得 3，先加后删则为空。
	// 被删掉的 4 个绝不能和合并加购的旧读数一起"复活"成 7。
	r, err := store.FindReservation(ctx, "cart-a", p.ID)
	require.NoError(t, err)
	if r != nil {
		assert.Equal(t, 3, r.Quantity)
	}
}

func TestUpdateCartItem_ZeroOnMissingProduct(t *testing.T) {
	store := newMemStore()
	svc := application.NewService(store, nil, nil)

	// 商品都不存在时，设置为 0 仍然是幂等成功，显式删除报预约缺失
	require.NoError(t, svc.UpdateCartItem(context.Background(), "cart-a", 42, 0))
	assert.ErrorIs(t, svc.RemoveFromCart(context.Background(), "cart-a", 42), domain.ErrReservationNotFound)
}

func TestConcurrentMerges_SameCart(t *testing.T) {
	store := newMemStore()
	svc := application.NewService(store, nil, nil)
	p := newTestProduct(t, store, "widget", 9.99, 50)

	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < 20; i++ {
		g.Go(func() error {
			return svc.AddToCart(ctx, "cart-a", p.ID, 2)
		})
	}
	require.NoError(t, g.Wait())

	reservations, err := store.ListReservations(context.Background(), "cart-a")
	require.NoError(t, err)
	require.Len(t, reservations, 1, "concurrent adds for the same pair must merge")
	assert.Equal(t, 40, reservations[0].Quantity)
}

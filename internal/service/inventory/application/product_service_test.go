package application_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockpile/internal/service/inventory/application"
	"stockpile/internal/service/inventory/domain"
)

func TestCreateProduct_Validation(t *testing.T) {
	store := newMemStore()
	svc := application.NewProductService(store, store)
	ctx := context.Background()

	_, err := svc.CreateProduct(ctx, "", "", 1.0, 10)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = svc.CreateProduct(ctx, "widget", "", -0.01, 10)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = svc.CreateProduct(ctx, "widget", "", 1.0, -1)
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestCreateProduct_AssignsIDAndFullAvailability(t *testing.T) {
	store := newMemStore()
	svc := application.NewProductService(store, store)

	view, err := svc.CreateProduct(context.Background(), "widget", "a widget", 9.99, 10)
	require.NoError(t, err)
	assert.NotZero(t, view.ID)
	assert.Equal(t, "widget", view.Name)
	assert.Equal(t, 10, view.Stock)
	assert.Equal(t, 10, view.AvailableStock)
}

func TestGetProduct_ReflectsReservations(t *testing.T) {
	store := newMemStore()
	products := application.NewProductService(store, store)
	reservations := application.NewService(store, nil, nil)
	ctx := context.Background()

	created, err := products.CreateProduct(ctx, "widget", "", 9.99, 10)
	require.NoError(t, err)
	require.NoError(t, reservations.AddToCart(ctx, "cart-a", created.ID, 4))

	view, err := products.GetProduct(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, 10, view.Stock)
	assert.Equal(t, 6, view.AvailableStock)

	_, err = products.GetProduct(ctx, created.ID+100)
	assert.ErrorIs(t, err, domain.ErrProductNotFound)
}

func TestUpdateProduct_PartialPatch(t *testing.T) {
	store := newMemStore()
	svc := application.NewProductService(store, store)
	ctx := context.Background()

	created, err := svc.CreateProduct(ctx, "widget", "old", 9.99, 10)
	require.NoError(t, err)

	newPrice := 4.5
	view, err := svc.UpdateProduct(ctx, created.ID, domain.ProductPatch{Price: &newPrice})
	require.NoError(t, err)
	assert.Equal(t, 4.5, view.Price)
	assert.Equal(t, "widget", view.Name)
	assert.Equal(t, "old", view.Description)
	assert.Equal(t, 10, view.Stock)

	negative := -1.0
	_, err = svc.UpdateProduct(ctx, created.ID, domain.ProductPatch{Price: &negative})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestUpdateProduct_StockRaisesAvailability(t *testing.T) {
	store := newMemStore()
	products := application.NewProductService(store, store)
	reservations := application.NewService(store, nil, nil)
	ctx := context.Background()

	created, err := products.CreateProduct(ctx, "widget", "", 9.99, 10)
	require.NoError(t, err)
	require.NoError(t, reservations.AddToCart(ctx, "cart-a", created.ID, 8))

	newStock := 20
	view, err := products.UpdateProduct(ctx, created.ID, domain.ProductPatch{TotalStock: &newStock})
	require.NoError(t, err)
	assert.Equal(t, 12, view.AvailableStock)

	// 库存降到预约量以下时，可售量钳制在 0 而不是负数
	newStock = 5
	view, err = products.UpdateProduct(ctx, created.ID, domain.ProductPatch{TotalStock: &newStock})
	require.NoError(t, err)
	assert.Equal(t, 0, view.AvailableStock)
}

func TestDeleteProduct_RefusedWhileReserved(t *testing.T) {
	store := newMemStore()
	products := application.NewProductService(store, store)
	reservations := application.NewService(store, nil, nil)
	ctx := context.Background()

	created, err := products.CreateProduct(ctx, "widget", "", 9.99, 10)
	require.NoError(t, err)
	require.NoError(t, reservations.AddToCart(ctx, "cart-a", created.ID, 1))

	assert.ErrorIs(t, products.DeleteProduct(ctx, created.ID), domain.ErrProductReserved)

	require.NoError(t, reservations.RemoveFromCart(ctx, "cart-a", created.ID))
	require.NoError(t, products.DeleteProduct(ctx, created.ID))

	_, err = products.GetProduct(ctx, created.ID)
	assert.ErrorIs(t, err, domain.ErrProductNotFound)
}

func TestListProducts(t *testing.T) {
	store := newMemStore()
	svc := application.NewProductService(store, store)
	ctx := context.Background()

	_, err := svc.CreateProduct(ctx, "widget", "", 1.0, 3)
	require.NoError(t, err)
	_, err = svc.CreateProduct(ctx, "gadget", "", 2.0, 7)
	require.NoError(t, err)

	views, err := svc.ListProducts(ctx)
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, "widget", views[0].Name)
	assert.Equal(t, "gadget", views[1].Name)
}

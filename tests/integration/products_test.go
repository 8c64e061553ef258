package integration

import (
	"context"
	"database/sql"
	"sync"
	"testing"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/farmlink/marketplace/internal/database"
	"github.com/farmlink/marketplace/internal/models"
	"github.com/farmlink/marketplace/internal/service"
	"github.com/farmlink/marketplace/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrentStockReservation(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	seller := createTestUser(t, db, models.RoleFarmer)
	product := createTestProduct(t, db, seller.ID, decimal.NewFromInt(100), 10)

	concurrency := 5
	var wg sync.WaitGroup
	errs := make(chan error, concurrency)

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
				if _, err := store.ReserveStock(ctx, tx, product.ID, 2); err != nil {
					return err
				}
				return store.DecrementStock(ctx, tx, product.ID, 2)
			})
			errs <- err
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	after, err := store.GetProduct(ctx, db, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, after.StockQuantity)
}

func TestUpdateStockOptimistic(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	seller := createTestUser(t, db, models.RoleFarmer)
	product := createTestProduct(t, db, seller.ID, decimal.NewFromInt(100), 50)

	err := store.UpdateStockOptimistic(ctx, db, product.ID, 40, product.Version)
	require.NoError(t, err)

	// Stale version, someone else moved the row.
	err = store.UpdateStockOptimistic(ctx, db, product.ID, 30, product.Version)
	require.ErrorIs(t, err, database.ErrOptimisticLockFailed)
}

func TestReserveStockNoWait(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	seller := createTestUser(t, db, models.RoleFarmer)
	product := createTestProduct(t, db, seller.ID, decimal.NewFromInt(100), 20)

	tx1, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer func() { _ = tx1.Rollback() }()

	_, err = store.ReserveStock(ctx, tx1, product.ID, 5)
	require.NoError(t, err)

	tx2, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	defer func() { _ = tx2.Rollback() }()

	_, err = store.ReserveStockNoWait(ctx, tx2, product.ID, 3)
	require.ErrorIs(t, err, database.ErrLockTimeout)
}

func TestRestoreStock(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	seller := createTestUser(t, db, models.RoleFarmer)
	product := createTestProduct(t, db, seller.ID, decimal.NewFromInt(8), 4)

	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		if err := store.DecrementStock(ctx, tx, product.ID, 3); err != nil {
			return err
		}
		return store.RestoreStock(ctx, tx, product.ID, 3)
	})
	require.NoError(t, err)

	after, err := store.GetProduct(ctx, db, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, after.StockQuantity)
}

func TestProductServiceAuthorization(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	products := service.NewProductService(db)

	buyer := createTestUser(t, db, models.RoleBuyer)
	farmer := createTestUser(t, db, models.RoleFarmer)
	admin := createTestUser(t, db, models.RoleAdmin)

	req := service.CreateProductRequest{
		SKU:   gofakeit.UUID(),
		Name:  gofakeit.Vegetable(),
		Price: decimal.RequireFromString("4.50"),
		Stock: 20,
	}

	_, err := products.Create(ctx, identityFor(buyer), req)
	require.ErrorIs(t, err, database.ErrForbidden)

	created, err := products.Create(ctx, identityFor(farmer), req)
	require.NoError(t, err)
	assert.Equal(t, farmer.ID, created.SellerID, "seller is always the requester")

	req.SKU = gofakeit.UUID()
	_, err = products.Create(ctx, identityFor(admin), req)
	require.NoError(t, err)
}

func TestProductServiceValidation(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	products := service.NewProductService(db)
	farmer := createTestUser(t, db, models.RoleFarmer)

	cases := []struct {
		name string
		req  service.CreateProductRequest
	}{
		{"missing sku", service.CreateProductRequest{Name: "Okra", Price: decimal.NewFromInt(1), Stock: 1}},
		{"missing name", service.CreateProductRequest{SKU: gofakeit.UUID(), Price: decimal.NewFromInt(1), Stock: 1}},
		{"negative price", service.CreateProductRequest{SKU: gofakeit.UUID(), Name: "Okra", Price: decimal.NewFromInt(-1), Stock: 1}},
		{"negative stock", service.CreateProductRequest{SKU: gofakeit.UUID(), Name: "Okra", Price: decimal.NewFromInt(1), Stock: -1}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := products.Create(ctx, identityFor(farmer), tc.req)
			require.ErrorIs(t, err, database.ErrInvalidInput)
		})
	}
}

func TestListProductsPagination(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	seller := createTestUser(t, db, models.RoleFarmer)
	for i := 0; i < 7; i++ {
		createTestProduct(t, db, seller.ID, decimal.NewFromInt(int64(i+1)), 10)
	}

	page1, err := store.ListProducts(ctx, db, 1, 5)
	require.NoError(t, err)
	assert.Len(t, page1.Items.([]models.Product), 5)
	assert.Equal(t, int64(7), page1.Total)
	assert.Equal(t, 2, page1.TotalPages)

	page2, err := store.ListProducts(ctx, db, 2, 5)
	require.NoError(t, err)
	assert.Len(t, page2.Items.([]models.Product), 2)
}

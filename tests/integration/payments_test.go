package integration

import (
	"context"
	"sync"
	"testing"

	"github.com/farmlink/marketplace/internal/database"
	"github.com/farmlink/marketplace/internal/models"
	"github.com/farmlink/marketplace/internal/service"
	"github.com/farmlink/marketplace/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayOrder(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	orders := service.NewOrderService(db, nil)
	payments := service.NewPaymentService(db, nil)

	buyer := createTestUser(t, db, models.RoleBuyer)
	seller := createTestUser(t, db, models.RoleFarmer)
	product := createTestProduct(t, db, seller.ID, decimal.RequireFromString("10.00"), 5)

	order, err := orders.Create(ctx, identityFor(buyer), []store.OrderItemRequest{
		{ProductID: product.ID, Quantity: 3},
	})
	require.NoError(t, err)
	require.True(t, order.TotalAmount.Equal(decimal.RequireFromString("30.00")))

	productAfter, err := store.GetProduct(ctx, db, product.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, productAfter.StockQuantity)

	payment, err := payments.Pay(ctx, order.ID, "COD", "", identityFor(buyer))
	require.NoError(t, err)

	assert.Equal(t, order.ID, payment.OrderID)
	assert.Equal(t, models.PaymentStatusSuccess, payment.Status)
	assert.Equal(t, "COD", payment.Method)
	assert.NotEmpty(t, payment.Reference)
	assert.True(t, payment.Amount.Equal(order.TotalAmount),
		"payment amount %s must equal order total %s", payment.Amount, order.TotalAmount)

	paidOrder, err := orders.GetByID(ctx, order.ID, identityFor(buyer))
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaid, paidOrder.Status)
	assert.Equal(t, buyer.FullName, paidOrder.BuyerName)
	require.NotNil(t, paidOrder.Payment, "settled order carries its payment")
	assert.Equal(t, payment.ID, paidOrder.Payment.ID)
	assert.True(t, paidOrder.Payment.Amount.Equal(order.TotalAmount))

	sellerAfter, err := store.GetUser(ctx, db, seller.ID)
	require.NoError(t, err)
	assert.True(t, sellerAfter.Revenue.Equal(decimal.RequireFromString("30.00")),
		"seller revenue must be credited with the order total, got %s", sellerAfter.Revenue)

	// Second pay attempt: conflict, zero side effects.
	_, err = payments.Pay(ctx, order.ID, "COD", "", identityFor(buyer))
	require.ErrorIs(t, err, database.ErrPaymentExists)

	sellerAgain, err := store.GetUser(ctx, db, seller.ID)
	require.NoError(t, err)
	assert.True(t, sellerAgain.Revenue.Equal(sellerAfter.Revenue), "no duplicate revenue credit")
}

func TestPayOrderMultiSellerSplit(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	orders := service.NewOrderService(db, nil)
	payments := service.NewPaymentService(db, nil)

	buyer := createTestUser(t, db, models.RoleBuyer)
	seller1 := createTestUser(t, db, models.RoleFarmer)
	seller2 := createTestUser(t, db, models.RoleFarmer)

	product1 := createTestProduct(t, db, seller1.ID, decimal.RequireFromString("7.35"), 10)
	product2 := createTestProduct(t, db, seller1.ID, decimal.RequireFromString("0.99"), 10)
	product3 := createTestProduct(t, db, seller2.ID, decimal.RequireFromString("12.50"), 10)

	order, err := orders.Create(ctx, identityFor(buyer), []store.OrderItemRequest{
		{ProductID: product1.ID, Quantity: 2}, // 14.70 to seller1
		{ProductID: product2.ID, Quantity: 3}, //  2.97 to seller1
		{ProductID: product3.ID, Quantity: 1}, // 12.50 to seller2
	})
	require.NoError(t, err)
	require.True(t, order.TotalAmount.Equal(decimal.RequireFromString("30.17")))

	_, err = payments.Pay(ctx, order.ID, "BankTransfer", "TX-1001", identityFor(buyer))
	require.NoError(t, err)

	seller1After, err := store.GetUser(ctx, db, seller1.ID)
	require.NoError(t, err)
	assert.True(t, seller1After.Revenue.Equal(decimal.RequireFromString("17.67")),
		"seller1 revenue: got %s", seller1After.Revenue)

	seller2After, err := store.GetUser(ctx, db, seller2.ID)
	require.NoError(t, err)
	assert.True(t, seller2After.Revenue.Equal(decimal.RequireFromString("12.50")),
		"seller2 revenue: got %s", seller2After.Revenue)

	// No rounding leakage: the credits sum to the order total exactly.
	credited := seller1After.Revenue.Add(seller2After.Revenue)
	assert.True(t, credited.Equal(order.TotalAmount),
		"credited %s, order total %s", credited, order.TotalAmount)
}

func TestPayOrderAuthorization(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	orders := service.NewOrderService(db, nil)
	payments := service.NewPaymentService(db, nil)

	buyer := createTestUser(t, db, models.RoleBuyer)
	stranger := createTestUser(t, db, models.RoleBuyer)
	admin := createTestUser(t, db, models.RoleAdmin)
	seller := createTestUser(t, db, models.RoleFarmer)
	product := createTestProduct(t, db, seller.ID, decimal.NewFromInt(10), 10)

	order, err := orders.Create(ctx, identityFor(buyer), []store.OrderItemRequest{
		{ProductID: product.ID, Quantity: 1},
	})
	require.NoError(t, err)

	_, err = payments.Pay(ctx, order.ID, "COD", "", identityFor(stranger))
	require.ErrorIs(t, err, database.ErrForbidden)

	_, err = payments.Pay(ctx, 999999, "COD", "", identityFor(buyer))
	require.ErrorIs(t, err, database.ErrOrderNotFound)

	// Privileged callers may pay on behalf of the buyer.
	_, err = payments.Pay(ctx, order.ID, "COD", "", identityFor(admin))
	require.NoError(t, err)
}

func TestConcurrentPayments(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	orders := service.NewOrderService(db, nil)
	payments := service.NewPaymentService(db, nil)

	buyer := createTestUser(t, db, models.RoleBuyer)
	seller := createTestUser(t, db, models.RoleFarmer)
	product := createTestProduct(t, db, seller.ID, decimal.RequireFromString("25.00"), 10)

	order, err := orders.Create(ctx, identityFor(buyer), []store.OrderItemRequest{
		{ProductID: product.ID, Quantity: 2},
	})
	require.NoError(t, err)

	concurrency := 8
	var wg sync.WaitGroup
	results := make(chan error, concurrency)

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := payments.Pay(ctx, order.ID, "COD", "", identityFor(buyer))
			results <- err
		}()
	}

	wg.Wait()
	close(results)

	successCount := 0
	for err := range results {
		if err == nil {
			successCount++
		} else {
			require.ErrorIs(t, err, database.ErrPaymentExists)
		}
	}
	assert.Equal(t, 1, successCount, "exactly one payment must win")

	// Exactly one credit for the order, no matter how many raced.
	sellerAfter, err := store.GetUser(ctx, db, seller.ID)
	require.NoError(t, err)
	assert.True(t, sellerAfter.Revenue.Equal(decimal.RequireFromString("50.00")),
		"seller revenue: got %s", sellerAfter.Revenue)

	var paymentCount int
	require.NoError(t, db.QueryRow(
		"SELECT COUNT(*) FROM payments WHERE order_id = $1", order.ID).Scan(&paymentCount))
	assert.Equal(t, 1, paymentCount)
}

func TestGetPayment(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	orders := service.NewOrderService(db, nil)
	payments := service.NewPaymentService(db, nil)

	buyer := createTestUser(t, db, models.RoleBuyer)
	stranger := createTestUser(t, db, models.RoleBuyer)
	seller := createTestUser(t, db, models.RoleFarmer)
	product := createTestProduct(t, db, seller.ID, decimal.NewFromInt(10), 10)

	order, err := orders.Create(ctx, identityFor(buyer), []store.OrderItemRequest{
		{ProductID: product.ID, Quantity: 1},
	})
	require.NoError(t, err)

	_, err = payments.GetByOrderID(ctx, order.ID, identityFor(buyer))
	require.ErrorIs(t, err, database.ErrPaymentNotFound)

	created, err := payments.Pay(ctx, order.ID, "EasyPaisa", "REF-42", identityFor(buyer))
	require.NoError(t, err)

	got, err := payments.GetByOrderID(ctx, order.ID, identityFor(buyer))
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "REF-42", got.Reference)

	_, err = payments.GetByOrderID(ctx, order.ID, identityFor(stranger))
	require.ErrorIs(t, err, database.ErrForbidden)
}

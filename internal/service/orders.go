package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/farmlink/marketplace/internal/auth"
	"github.com/farmlink/marketplace/internal/database"
	"github.com/farmlink/marketplace/internal/events"
	"github.com/farmlink/marketplace/internal/models"
	"github.com/farmlink/marketplace/internal/store"
	"github.com/samber/lo"
)

// OrderService builds orders from requests, enforces stock and total-price
// invariants and authorizes who may view or mutate an order.
type OrderService struct {
	db        *sql.DB
	publisher *events.Publisher
}

func NewOrderService(db *sql.DB, publisher *events.Publisher) *OrderService {
	return &OrderService{db: db, publisher: publisher}
}

func (s *OrderService) Create(ctx context.Context, buyer auth.Identity, items []store.OrderItemRequest) (*models.Order, error) {
	order, err := store.CreateOrder(ctx, s.db, store.CreateOrderRequest{
		BuyerID: buyer.UserID,
		Items:   items,
	})
	if err != nil {
		return nil, err
	}

	if err := s.publisher.OrderCreated(ctx, events.OrderCreated{
		OrderID:     order.ID,
		BuyerID:     order.BuyerID,
		TotalAmount: order.TotalAmount,
	}); err != nil {
		slog.Warn("publish order.created", "order_id", order.ID, "error", err)
	}

	return order, nil
}

func (s *OrderService) MyOrders(ctx context.Context, buyer auth.Identity) ([]models.Order, error) {
	return store.ListOrdersByBuyer(ctx, s.db, buyer.UserID)
}

func (s *OrderService) SellerOrders(ctx context.Context, seller auth.Identity) ([]models.Order, error) {
	return store.ListOrdersBySeller(ctx, s.db, seller.UserID)
}

func (s *OrderService) AllOrders(ctx context.Context, requester auth.Identity, cursor string, limit int) (*store.CursorPage, error) {
	if !requester.Privileged() {
		return nil, database.ErrForbidden
	}
	return store.ListOrdersCursor(ctx, s.db, cursor, limit)
}

func (s *OrderService) GetByID(ctx context.Context, orderID int64, requester auth.Identity) (*models.Order, error) {
	order, err := store.GetOrder(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}

	if !canViewOrder(order, requester) {
		return nil, database.ErrForbidden
	}

	payment, err := store.GetPaymentByOrderID(ctx, s.db, orderID)
	switch {
	case err == nil:
		order.Payment = payment
	case !errors.Is(err, database.ErrPaymentNotFound):
		return nil, err
	}

	return order, nil
}

func (s *OrderService) UpdateStatus(ctx context.Context, orderID int64, status string, requester auth.Identity) (*models.Order, error) {
	if !models.IsValidOrderStatus(status) {
		return nil, fmt.Errorf("unknown order status %q: %w", status, database.ErrInvalidInput)
	}

	order, err := store.GetOrder(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}

	// Sellers manage fulfillment for orders containing their goods; admins
	// may always transition. No transition graph beyond that.
	if !requester.Privileged() && !isSellerOfOrder(order, requester.UserID) {
		return nil, database.ErrForbidden
	}

	updated, err := store.UpdateOrderStatus(ctx, s.db, orderID, status)
	if err != nil {
		return nil, err
	}
	updated.Items = order.Items
	updated.BuyerName = order.BuyerName

	return updated, nil
}

// canViewOrder allows the owning buyer and privileged callers.
func canViewOrder(order *models.Order, requester auth.Identity) bool {
	return requester.Privileged() || order.BuyerID == requester.UserID
}

// isSellerOfOrder reports whether the user owns the product behind at least
// one of the order's lines.
func isSellerOfOrder(order *models.Order, userID int64) bool {
	return lo.ContainsBy(order.Items, func(item models.OrderItem) bool {
		return item.SellerID == userID
	})
}

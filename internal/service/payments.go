package service

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/farmlink/marketplace/internal/auth"
	"github.com/farmlink/marketplace/internal/database"
	"github.com/farmlink/marketplace/internal/events"
	"github.com/farmlink/marketplace/internal/models"
	"github.com/farmlink/marketplace/internal/store"
	"github.com/google/uuid"
)

// PaymentService records at most one payment per order and distributes the
// order's value across the sellers represented among its lines.
type PaymentService struct {
	db        *sql.DB
	publisher *events.Publisher
}

func NewPaymentService(db *sql.DB, publisher *events.Publisher) *PaymentService {
	return &PaymentService{db: db, publisher: publisher}
}

// Pay settles the order. Only the buyer or a privileged caller may pay; a
// second payment attempt fails with ErrPaymentExists and has no side effects.
func (s *PaymentService) Pay(ctx context.Context, orderID int64, method, reference string, requester auth.Identity) (*models.Payment, error) {
	order, err := store.GetOrder(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}

	if !canViewOrder(order, requester) {
		return nil, database.ErrForbidden
	}

	if reference == "" {
		reference = uuid.NewString()
	}

	payment, err := store.PayOrder(ctx, s.db, store.PayOrderRequest{
		OrderID:   orderID,
		Method:    method,
		Reference: reference,
	})
	if err != nil {
		return nil, err
	}

	sellerIDs, err := store.OrderSellerIDs(ctx, s.db, payment.OrderID)
	if err != nil {
		slog.Warn("resolve sellers for event", "order_id", payment.OrderID, "error", err)
	}

	if err := s.publisher.PaymentSettled(ctx, events.PaymentSettled{
		PaymentID: payment.ID,
		OrderID:   payment.OrderID,
		Amount:    payment.Amount,
		Method:    payment.Method,
		SellerIDs: sellerIDs,
	}); err != nil {
		slog.Warn("publish payment.settled", "order_id", payment.OrderID, "error", err)
	}

	return payment, nil
}

func (s *PaymentService) GetByOrderID(ctx context.Context, orderID int64, requester auth.Identity) (*models.Payment, error) {
	order, err := store.GetOrder(ctx, s.db, orderID)
	if err != nil {
		return nil, err
	}

	if !canViewOrder(order, requester) {
		return nil, database.ErrForbidden
	}

	return store.GetPaymentByOrderID(ctx, s.db, orderID)
}

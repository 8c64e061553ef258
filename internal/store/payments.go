package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/farmlink/marketplace/internal/database"
	"github.com/farmlink/marketplace/internal/models"
	"github.com/shopspring/decimal"
)

type PayOrderRequest struct {
	OrderID   int64
	Method    string
	Reference string
}

// SellerShare is one seller's slice of an order's value: the sum of that
// seller's line totals within the order.
type SellerShare struct {
	SellerID int64
	Amount   decimal.Decimal
}

const paymentColumns = `id, order_id, amount, status, method, COALESCE(reference, ''), paid_at`

func scanPayment(row interface{ Scan(...any) error }) (*models.Payment, error) {
	payment := &models.Payment{}
	err := row.Scan(
		&payment.ID,
		&payment.OrderID,
		&payment.Amount,
		&payment.Status,
		&payment.Method,
		&payment.Reference,
		&payment.PaidAt,
	)
	if err != nil {
		return nil, err
	}
	return payment, nil
}

// PayOrder settles an order: records the payment, flips the order to PAID and
// credits every seller represented among the order's lines, all in one
// serializable transaction. The unique index on payments.order_id backs the
// at-most-once guarantee; a concurrent duplicate surfaces as ErrPaymentExists
// rather than a double credit.
func PayOrder(ctx context.Context, db *sql.DB, req PayOrderRequest) (*models.Payment, error) {
	var payment *models.Payment

	err := database.WithRetry(ctx, db, database.SerializableTxOptions(), func(tx *sql.Tx) error {
		order, err := lockOrder(ctx, tx, req.OrderID)
		if err != nil {
			return err
		}

		var paid bool
		err = tx.QueryRowContext(ctx,
			"SELECT EXISTS(SELECT 1 FROM payments WHERE order_id = $1)",
			order.ID).Scan(&paid)
		if err != nil {
			return fmt.Errorf("check existing payment: %w", err)
		}
		if paid {
			return database.ErrPaymentExists
		}

		payment, err = scanPayment(tx.QueryRowContext(ctx,
			`INSERT INTO payments (order_id, amount, status, method, reference, paid_at)
			 VALUES ($1, $2, $3, $4, NULLIF($5, ''), NOW())
			 RETURNING `+paymentColumns,
			order.ID, order.TotalAmount, models.PaymentStatusSuccess, req.Method, req.Reference))
		if err != nil {
			if database.IsUniqueViolation(err, "") {
				return database.ErrPaymentExists
			}
			return fmt.Errorf("create payment: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE orders
			 SET status = $1, updated_at = NOW(), version = version + 1
			 WHERE id = $2`,
			models.OrderStatusPaid, order.ID)
		if err != nil {
			return fmt.Errorf("mark order paid: %w", err)
		}

		shares, err := sellerShares(ctx, tx, order.ID)
		if err != nil {
			return err
		}

		credited := decimal.Zero
		for _, share := range shares {
			if err := CreditRevenue(ctx, tx, share.SellerID, share.Amount); err != nil {
				return err
			}
			credited = credited.Add(share.Amount)
		}

		// Sum of seller credits must equal the order total to the cent.
		if !credited.Equal(order.TotalAmount) {
			return fmt.Errorf("credited %s of %s for order %d: %w",
				credited, order.TotalAmount, order.ID, database.ErrInconsistent)
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	return payment, nil
}

func lockOrder(ctx context.Context, tx *sql.Tx, orderID int64) (*models.Order, error) {
	order, err := scanOrder(tx.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, orderID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("lock order: %w", err)
	}
	return order, nil
}

func sellerShares(ctx context.Context, tx *sql.Tx, orderID int64) ([]SellerShare, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT p.seller_id, SUM(oi.line_total)
		 FROM order_items oi
		 JOIN products p ON p.id = oi.product_id
		 WHERE oi.order_id = $1
		 GROUP BY p.seller_id`,
		orderID)
	if err != nil {
		return nil, fmt.Errorf("seller shares: %w", err)
	}
	defer rows.Close()

	var shares []SellerShare
	for rows.Next() {
		var share SellerShare
		if err := rows.Scan(&share.SellerID, &share.Amount); err != nil {
			return nil, fmt.Errorf("scan seller share: %w", err)
		}
		shares = append(shares, share)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	if len(shares) == 0 {
		return nil, fmt.Errorf("order %d has no lines: %w", orderID, database.ErrInconsistent)
	}

	return shares, nil
}

func GetPaymentByOrderID(ctx context.Context, db *sql.DB, orderID int64) (*models.Payment, error) {
	payment, err := scanPayment(db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE order_id = $1`, orderID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("get payment: %w", err)
	}

	return payment, nil
}

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/farmlink/marketplace/internal/database"
	"github.com/farmlink/marketplace/internal/models"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

type CreateOrderRequest struct {
	BuyerID int64
	Items   []OrderItemRequest
}

type OrderItemRequest struct {
	ProductID int64
	Quantity  int
}

func generateOrderNumber() string {
	return fmt.Sprintf("ORD-%d", time.Now().UnixNano())
}

const orderColumns = `id, order_number, buyer_id, status, total_amount, created_at, updated_at, version`

func scanOrder(row interface{ Scan(...any) error }) (*models.Order, error) {
	order := &models.Order{}
	err := row.Scan(
		&order.ID,
		&order.OrderNumber,
		&order.BuyerID,
		&order.Status,
		&order.TotalAmount,
		&order.CreatedAt,
		&order.UpdatedAt,
		&order.Version,
	)
	if err != nil {
		return nil, err
	}
	return order, nil
}

// orderJoinColumns is the read-side projection: orderColumns plus the buyer's
// name. Writes RETURNING-scan with plain orderColumns.
const orderJoinColumns = `o.id, o.order_number, o.buyer_id, b.full_name, o.status,
	o.total_amount, o.created_at, o.updated_at, o.version`

func scanOrderWithBuyer(row interface{ Scan(...any) error }) (*models.Order, error) {
	order := &models.Order{}
	err := row.Scan(
		&order.ID,
		&order.OrderNumber,
		&order.BuyerID,
		&order.BuyerName,
		&order.Status,
		&order.TotalAmount,
		&order.CreatedAt,
		&order.UpdatedAt,
		&order.Version,
	)
	if err != nil {
		return nil, err
	}
	return order, nil
}

// CreateOrder reserves stock for every requested line, snapshots unit prices
// and persists the order with its items as one serializable transaction.
// Either all lines are reserved or none are: a failing line rolls back every
// earlier decrement.
func CreateOrder(ctx context.Context, db *sql.DB, req CreateOrderRequest) (*models.Order, error) {
	if len(req.Items) == 0 {
		return nil, database.ErrEmptyOrder
	}
	for _, item := range req.Items {
		if item.Quantity <= 0 {
			return nil, database.ErrInvalidQuantity
		}
	}

	var order *models.Order

	err := database.WithRetry(ctx, db, database.SerializableTxOptions(), func(tx *sql.Tx) error {
		var exists bool
		err := tx.QueryRowContext(ctx,
			"SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)",
			req.BuyerID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check buyer exists: %w", err)
		}
		if !exists {
			return database.ErrUserNotFound
		}

		totalAmount := decimal.Zero
		unitPrices := make(map[int64]decimal.Decimal)

		for _, item := range req.Items {
			product, err := ReserveStock(ctx, tx, item.ProductID, item.Quantity)
			if err != nil {
				return err
			}

			unitPrices[item.ProductID] = product.Price
			totalAmount = totalAmount.Add(product.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
		}

		orderNumber := generateOrderNumber()
		var orderID int64
		err = tx.QueryRowContext(ctx,
			`INSERT INTO orders (order_number, buyer_id, status, total_amount, created_at, updated_at, version)
			 VALUES ($1, $2, $3, $4, NOW(), NOW(), 1)
			 RETURNING id`,
			orderNumber, req.BuyerID, models.OrderStatusCreated, totalAmount).Scan(&orderID)
		if err != nil {
			return fmt.Errorf("create order: %w", err)
		}

		for _, item := range req.Items {
			unitPrice := unitPrices[item.ProductID]
			lineTotal := unitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))

			_, err = tx.ExecContext(ctx,
				`INSERT INTO order_items (order_id, product_id, quantity, unit_price, line_total, created_at)
				 VALUES ($1, $2, $3, $4, $5, NOW())`,
				orderID, item.ProductID, item.Quantity, unitPrice, lineTotal)
			if err != nil {
				return fmt.Errorf("create order item: %w", err)
			}
		}

		for _, item := range req.Items {
			if err := DecrementStock(ctx, tx, item.ProductID, item.Quantity); err != nil {
				return err
			}
		}

		order, err = getOrderTx(ctx, tx, orderID)
		if err != nil {
			return fmt.Errorf("fetch created order: %w", err)
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	return order, nil
}

func getOrderTx(ctx context.Context, tx *sql.Tx, id int64) (*models.Order, error) {
	order, err := scanOrderWithBuyer(tx.QueryRowContext(ctx,
		`SELECT `+orderJoinColumns+`
		 FROM orders o
		 JOIN users b ON b.id = o.buyer_id
		 WHERE o.id = $1`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrOrderNotFound
		}
		return nil, err
	}

	rows, err := tx.QueryContext(ctx, orderItemsQuery+` WHERE oi.order_id = $1 ORDER BY oi.id`, id)
	if err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	order.Items, err = scanOrderItems(rows)
	if err != nil {
		return nil, err
	}

	return order, nil
}

const orderItemsQuery = `
	SELECT oi.id, oi.order_id, oi.product_id, p.name, oi.quantity,
	       oi.unit_price, oi.line_total, p.seller_id, u.full_name, oi.created_at
	FROM order_items oi
	JOIN products p ON p.id = oi.product_id
	JOIN users u ON u.id = p.seller_id`

func scanOrderItems(rows *sql.Rows) ([]models.OrderItem, error) {
	var items []models.OrderItem
	for rows.Next() {
		var item models.OrderItem
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.ProductName,
			&item.Quantity,
			&item.UnitPrice,
			&item.LineTotal,
			&item.SellerID,
			&item.SellerName,
			&item.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

func GetOrder(ctx context.Context, db *sql.DB, id int64) (*models.Order, error) {
	order, err := scanOrderWithBuyer(db.QueryRowContext(ctx,
		`SELECT `+orderJoinColumns+`
		 FROM orders o
		 JOIN users b ON b.id = o.buyer_id
		 WHERE o.id = $1`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	rows, err := db.QueryContext(ctx, orderItemsQuery+` WHERE oi.order_id = $1 ORDER BY oi.id`, id)
	if err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	order.Items, err = scanOrderItems(rows)
	if err != nil {
		return nil, err
	}

	return order, nil
}

// attachItems loads the line items for a batch of orders with one query.
func attachItems(ctx context.Context, db *sql.DB, orders []models.Order) error {
	if len(orders) == 0 {
		return nil
	}

	ids := make([]int64, len(orders))
	byID := make(map[int64]*models.Order, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
		byID[orders[i].ID] = &orders[i]
	}

	rows, err := db.QueryContext(ctx,
		orderItemsQuery+` WHERE oi.order_id = ANY($1) ORDER BY oi.order_id, oi.id`,
		pq.Array(ids))
	if err != nil {
		return fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	items, err := scanOrderItems(rows)
	if err != nil {
		return err
	}

	for _, item := range items {
		order := byID[item.OrderID]
		order.Items = append(order.Items, item)
	}

	return nil
}

func scanOrders(rows *sql.Rows) ([]models.Order, error) {
	var orders []models.Order
	for rows.Next() {
		order, err := scanOrderWithBuyer(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return orders, nil
}

// ListOrdersByBuyer returns every order owned by the buyer, newest first.
func ListOrdersByBuyer(ctx context.Context, db *sql.DB, buyerID int64) ([]models.Order, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+orderJoinColumns+`
		 FROM orders o
		 JOIN users b ON b.id = o.buyer_id
		 WHERE o.buyer_id = $1
		 ORDER BY o.created_at DESC, o.id DESC`,
		buyerID)
	if err != nil {
		return nil, fmt.Errorf("list buyer orders: %w", err)
	}
	defer rows.Close()

	orders, err := scanOrders(rows)
	if err != nil {
		return nil, err
	}

	if err := attachItems(ctx, db, orders); err != nil {
		return nil, err
	}

	return orders, nil
}

// ListOrdersBySeller returns every order containing at least one line whose
// product belongs to the seller. The full order record is returned; line
// filtering for display is up to the caller.
func ListOrdersBySeller(ctx context.Context, db *sql.DB, sellerID int64) ([]models.Order, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT DISTINCT `+orderJoinColumns+`
		 FROM orders o
		 JOIN users b ON b.id = o.buyer_id
		 JOIN order_items oi ON oi.order_id = o.id
		 JOIN products p ON p.id = oi.product_id
		 WHERE p.seller_id = $1
		 ORDER BY o.created_at DESC, o.id DESC`,
		sellerID)
	if err != nil {
		return nil, fmt.Errorf("list seller orders: %w", err)
	}
	defer rows.Close()

	orders, err := scanOrders(rows)
	if err != nil {
		return nil, err
	}

	if err := attachItems(ctx, db, orders); err != nil {
		return nil, err
	}

	return orders, nil
}

// ListOrdersCursor pages through all orders, newest first. Admin listing.
func ListOrdersCursor(ctx context.Context, db *sql.DB, cursor string, limit int) (*CursorPage, error) {
	cursorData, err := DecodeCursor(cursor)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}

	rows, err := db.QueryContext(ctx,
		`SELECT `+orderJoinColumns+`
		 FROM orders o
		 JOIN users b ON b.id = o.buyer_id
		 WHERE (o.created_at, o.id) < ($1, $2)
		 ORDER BY o.created_at DESC, o.id DESC
		 LIMIT $3`,
		cursorData.CreatedAt, cursorData.ID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders, err := scanOrders(rows)
	if err != nil {
		return nil, err
	}

	hasMore := len(orders) > limit
	if hasMore {
		orders = orders[:limit]
	}

	var nextCursor string
	if hasMore && len(orders) > 0 {
		last := orders[len(orders)-1]
		nextCursor = EncodeCursor(Cursor{
			CreatedAt: last.CreatedAt,
			ID:        last.ID,
		})
	}

	return &CursorPage{
		Items:      orders,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

// UpdateOrderStatus sets the order status. Authorization happens in the
// service layer; no transition graph is enforced here.
func UpdateOrderStatus(ctx context.Context, db *sql.DB, orderID int64, status string) (*models.Order, error) {
	order, err := scanOrder(db.QueryRowContext(ctx,
		`UPDATE orders
		 SET status = $1, updated_at = NOW(), version = version + 1
		 WHERE id = $2
		 RETURNING `+orderColumns,
		status, orderID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("update order status: %w", err)
	}

	return order, nil
}

// OrderSellerIDs returns the distinct seller accounts represented among the
// order's lines.
func OrderSellerIDs(ctx context.Context, db *sql.DB, orderID int64) ([]int64, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT DISTINCT p.seller_id
		 FROM order_items oi
		 JOIN products p ON p.id = oi.product_id
		 WHERE oi.order_id = $1`,
		orderID)
	if err != nil {
		return nil, fmt.Errorf("order seller ids: %w", err)
	}
	defer rows.Close()

	var sellerIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan seller id: %w", err)
		}
		sellerIDs = append(sellerIDs, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return sellerIDs, nil
}

// HasDeliveredOrderWithProduct reports whether the buyer owns a DELIVERED
// order containing the product. Gates review creation.
func HasDeliveredOrderWithProduct(ctx context.Context, db *sql.DB, buyerID, productID int64) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx,
		`SELECT EXISTS(
			SELECT 1
			FROM orders o
			JOIN order_items oi ON oi.order_id = o.id
			WHERE o.buyer_id = $1
			  AND o.status = $2
			  AND oi.product_id = $3
		 )`,
		buyerID, models.OrderStatusDelivered, productID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check delivered order: %w", err)
	}

	return exists, nil
}

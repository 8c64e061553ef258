package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	RoleBuyer  = "BUYER"
	RoleFarmer = "FARMER"
	RoleAdmin  = "ADMIN"
)

type User struct {
	ID           int64           `json:"id"`
	Email        string          `json:"email"`
	FullName     string          `json:"full_name"`
	PasswordHash string          `json:"-"`
	Role         string          `json:"role"`
	Phone        string          `json:"phone,omitempty"`
	City         string          `json:"city,omitempty"`
	Revenue      decimal.Decimal `json:"revenue"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	Version      int             `json:"version"`
}

type Product struct {
	ID            int64           `json:"id"`
	SKU           string          `json:"sku"`
	Name          string          `json:"name"`
	Description   string          `json:"description,omitempty"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int             `json:"stock_quantity"`
	SellerID      int64           `json:"seller_id"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	Version       int             `json:"version"`
}

// Order's BuyerName is a read-side join; Payment is attached on detail reads
// once the order has been settled.
type Order struct {
	ID          int64           `json:"id"`
	OrderNumber string          `json:"order_number"`
	BuyerID     int64           `json:"buyer_id"`
	BuyerName   string          `json:"buyer_name,omitempty"`
	Status      string          `json:"status"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	Version     int             `json:"version"`
	Items       []OrderItem     `json:"items,omitempty"`
	Payment     *Payment        `json:"payment,omitempty"`
}

// OrderItem snapshots the product price at order-creation time.
// ProductName, SellerID and SellerName are read-side joins, not stored columns.
type OrderItem struct {
	ID          int64           `json:"id"`
	OrderID     int64           `json:"order_id"`
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name,omitempty"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LineTotal   decimal.Decimal `json:"line_total"`
	SellerID    int64           `json:"seller_id,omitempty"`
	SellerName  string          `json:"seller_name,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

type Payment struct {
	ID        int64           `json:"id"`
	OrderID   int64           `json:"order_id"`
	Amount    decimal.Decimal `json:"amount"`
	Status    string          `json:"status"`
	Method    string          `json:"method"`
	Reference string          `json:"reference,omitempty"`
	PaidAt    time.Time       `json:"paid_at"`
}

type Review struct {
	ID         int64     `json:"id"`
	ProductID  int64     `json:"product_id"`
	ReviewerID int64     `json:"reviewer_id"`
	Rating     int       `json:"rating"`
	Comment    string    `json:"comment,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

const (
	OrderStatusCreated   = "CREATED"
	OrderStatusPaid      = "PAID"
	OrderStatusShipped   = "SHIPPED"
	OrderStatusDelivered = "DELIVERED"
	OrderStatusCancelled = "CANCELLED"
)

var validOrderStatuses = map[string]struct{}{
	OrderStatusCreated:   {},
	OrderStatusPaid:      {},
	OrderStatusShipped:   {},
	OrderStatusDelivered: {},
	OrderStatusCancelled: {},
}

func IsValidOrderStatus(s string) bool {
	_, ok := validOrderStatuses[s]
	return ok
}

const PaymentStatusSuccess = "SUCCESS"

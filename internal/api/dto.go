package api

import (
	"time"

	"github.com/farmlink/marketplace/internal/models"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
	Role     string `json:"role,omitempty"`
	Phone    string `json:"phone,omitempty"`
	City     string `json:"city,omitempty"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token string       `json:"token"`
	User  UserResponse `json:"user"`
}

type UserResponse struct {
	ID       int64           `json:"id"`
	Email    string          `json:"email"`
	FullName string          `json:"full_name"`
	Role     string          `json:"role"`
	Revenue  decimal.Decimal `json:"revenue"`
}

type CreateProductRequest struct {
	SKU         string          `json:"sku"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
}

type CreateOrderRequest struct {
	Items []OrderItemRequest `json:"items"`
}

type OrderItemRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type UpdateOrderStatusRequest struct {
	Status string `json:"status"`
}

type OrderResponse struct {
	ID          int64               `json:"id"`
	OrderNumber string              `json:"order_number"`
	BuyerID     int64               `json:"buyer_id"`
	BuyerName   string              `json:"buyer_name,omitempty"`
	Status      string              `json:"status"`
	TotalAmount decimal.Decimal     `json:"total_amount"`
	CreatedAt   time.Time           `json:"created_at"`
	Items       []OrderItemResponse `json:"items"`
	Payment     *PaymentResponse    `json:"payment,omitempty"`
}

type OrderItemResponse struct {
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	LineTotal   decimal.Decimal `json:"line_total"`
	SellerID    int64           `json:"seller_id"`
	SellerName  string          `json:"seller_name"`
}

type PayRequest struct {
	OrderID   int64  `json:"order_id"`
	Method    string `json:"method"`
	Reference string `json:"reference,omitempty"`
}

type PaymentResponse struct {
	ID        int64           `json:"id"`
	OrderID   int64           `json:"order_id"`
	Amount    decimal.Decimal `json:"amount"`
	Status    string          `json:"status"`
	Method    string          `json:"method"`
	Reference string          `json:"reference,omitempty"`
	PaidAt    time.Time       `json:"paid_at"`
}

type CreateReviewRequest struct {
	ProductID int64  `json:"product_id"`
	Rating    int    `json:"rating"`
	Comment   string `json:"comment,omitempty"`
}

func mapUserToResponse(user *models.User) UserResponse {
	return UserResponse{
		ID:       user.ID,
		Email:    user.Email,
		FullName: user.FullName,
		Role:     user.Role,
		Revenue:  user.Revenue,
	}
}

func mapOrderToResponse(order *models.Order) OrderResponse {
	var payment *PaymentResponse
	if order.Payment != nil {
		p := mapPaymentToResponse(order.Payment)
		payment = &p
	}

	return OrderResponse{
		ID:          order.ID,
		OrderNumber: order.OrderNumber,
		BuyerID:     order.BuyerID,
		BuyerName:   order.BuyerName,
		Status:      order.Status,
		TotalAmount: order.TotalAmount,
		CreatedAt:   order.CreatedAt,
		Payment:     payment,
		Items: lo.Map(order.Items, func(item models.OrderItem, _ int) OrderItemResponse {
			return OrderItemResponse{
				ProductID:   item.ProductID,
				ProductName: item.ProductName,
				Quantity:    item.Quantity,
				UnitPrice:   item.UnitPrice,
				LineTotal:   item.LineTotal,
				SellerID:    item.SellerID,
				SellerName:  item.SellerName,
			}
		}),
	}
}

func mapOrdersToResponse(orders []models.Order) []OrderResponse {
	return lo.Map(orders, func(order models.Order, _ int) OrderResponse {
		return mapOrderToResponse(&order)
	})
}

func mapPaymentToResponse(payment *models.Payment) PaymentResponse {
	return PaymentResponse{
		ID:        payment.ID,
		OrderID:   payment.OrderID,
		Amount:    payment.Amount,
		Status:    payment.Status,
		Method:    payment.Method,
		Reference: payment.Reference,
		PaidAt:    payment.PaidAt,
	}
}

package api

import (
	"net/http"

	"github.com/farmlink/marketplace/internal/auth"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(handler *Handler, tokens *auth.TokenIssuer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Public.
	r.Post("/auth/register", handler.Register)
	r.Post("/auth/login", handler.Login)
	r.Get("/products", handler.ListProducts)
	r.Get("/products/{id}", handler.GetProduct)
	r.Get("/products/{id}/reviews", handler.ListProductReviews)

	// Authenticated.
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(tokens))

		r.Get("/me", handler.Me)
		r.Get("/users", handler.ListUsers)
		r.Post("/products", handler.CreateProduct)

		r.Post("/orders", handler.CreateOrder)
		r.Get("/orders/my", handler.MyOrders)
		r.Get("/orders/seller", handler.SellerOrders)
		r.Get("/orders", handler.AllOrders)
		r.Get("/orders/{id}", handler.GetOrder)
		r.Patch("/orders/{id}/status", handler.UpdateOrderStatus)

		r.Post("/payments", handler.Pay)
		r.Get("/payments/order/{orderID}", handler.GetPayment)

		r.Post("/reviews", handler.CreateReview)
	})

	return r
}

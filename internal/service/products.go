package service

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/farmlink/marketplace/internal/auth"
	"github.com/farmlink/marketplace/internal/database"
	"github.com/farmlink/marketplace/internal/models"
	"github.com/farmlink/marketplace/internal/store"
	"github.com/shopspring/decimal"
)

// ProductService is the catalog: sellers list goods, buyers browse them.
type ProductService struct {
	db *sql.DB
}

func NewProductService(db *sql.DB) *ProductService {
	return &ProductService{db: db}
}

type CreateProductRequest struct {
	SKU         string
	Name        string
	Description string
	Price       decimal.Decimal
	Stock       int
}

func (s *ProductService) Create(ctx context.Context, requester auth.Identity, req CreateProductRequest) (*models.Product, error) {
	if requester.Role != models.RoleFarmer && !requester.Privileged() {
		return nil, database.ErrForbidden
	}

	if req.SKU == "" || req.Name == "" {
		return nil, fmt.Errorf("sku and name are required: %w", database.ErrInvalidInput)
	}
	if req.Price.IsNegative() {
		return nil, fmt.Errorf("price must not be negative: %w", database.ErrInvalidInput)
	}
	if req.Stock < 0 {
		return nil, fmt.Errorf("stock must not be negative: %w", database.ErrInvalidInput)
	}

	return store.CreateProduct(ctx, s.db, store.CreateProductRequest{
		SKU:         req.SKU,
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Stock:       req.Stock,
		SellerID:    requester.UserID,
	})
}

func (s *ProductService) Get(ctx context.Context, id int64) (*models.Product, error) {
	return store.GetProduct(ctx, s.db, id)
}

func (s *ProductService) List(ctx context.Context, page, pageSize int) (*store.OffsetPage, error) {
	return store.ListProducts(ctx, s.db, page, pageSize)
}

package service

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/farmlink/marketplace/internal/auth"
	"github.com/farmlink/marketplace/internal/database"
	"github.com/farmlink/marketplace/internal/models"
	"github.com/farmlink/marketplace/internal/store"
)

// ReviewService gates review creation on delivery: a buyer may review a
// product only after owning a DELIVERED order containing it.
type ReviewService struct {
	db *sql.DB
}

func NewReviewService(db *sql.DB) *ReviewService {
	return &ReviewService{db: db}
}

// CanReview is a pure read-side predicate, no mutation.
func (s *ReviewService) CanReview(ctx context.Context, buyerID, productID int64) (bool, error) {
	return store.HasDeliveredOrderWithProduct(ctx, s.db, buyerID, productID)
}

func (s *ReviewService) Create(ctx context.Context, requester auth.Identity, productID int64, rating int, comment string) (*models.Review, error) {
	if rating < 1 || rating > 5 {
		return nil, fmt.Errorf("rating must be between 1 and 5: %w", database.ErrInvalidInput)
	}

	if _, err := store.GetProduct(ctx, s.db, productID); err != nil {
		return nil, err
	}

	eligible, err := s.CanReview(ctx, requester.UserID, productID)
	if err != nil {
		return nil, err
	}
	if !eligible {
		return nil, fmt.Errorf("review only after delivery: %w", database.ErrForbidden)
	}

	return store.CreateReview(ctx, s.db, store.CreateReviewRequest{
		ProductID:  productID,
		ReviewerID: requester.UserID,
		Rating:     rating,
		Comment:    comment,
	})
}

func (s *ReviewService) ListByProduct(ctx context.Context, productID int64) ([]models.Review, error) {
	return store.ListReviewsByProduct(ctx, s.db, productID)
}

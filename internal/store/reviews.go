package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/farmlink/marketplace/internal/models"
)

type CreateReviewRequest struct {
	ProductID  int64
	ReviewerID int64
	Rating     int
	Comment    string
}

func CreateReview(ctx context.Context, db *sql.DB, req CreateReviewRequest) (*models.Review, error) {
	review := &models.Review{}

	query := `
		INSERT INTO reviews (product_id, reviewer_id, rating, comment, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NOW())
		RETURNING id, product_id, reviewer_id, rating, COALESCE(comment, ''), created_at`

	err := db.QueryRowContext(ctx, query,
		req.ProductID, req.ReviewerID, req.Rating, req.Comment).Scan(
		&review.ID,
		&review.ProductID,
		&review.ReviewerID,
		&review.Rating,
		&review.Comment,
		&review.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create review: %w", err)
	}

	return review, nil
}

func ListReviewsByProduct(ctx context.Context, db *sql.DB, productID int64) ([]models.Review, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, product_id, reviewer_id, rating, COALESCE(comment, ''), created_at
		 FROM reviews
		 WHERE product_id = $1
		 ORDER BY created_at DESC`,
		productID)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()

	var reviews []models.Review
	for rows.Next() {
		var review models.Review
		err := rows.Scan(
			&review.ID,
			&review.ProductID,
			&review.ReviewerID,
			&review.Rating,
			&review.Comment,
			&review.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		reviews = append(reviews, review)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return reviews, nil
}

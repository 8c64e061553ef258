package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/farmlink/marketplace/internal/auth"
	"github.com/farmlink/marketplace/internal/database"
	"github.com/farmlink/marketplace/internal/models"
	"github.com/farmlink/marketplace/internal/store"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
)

// AccountService handles registration, login and account lookups.
type AccountService struct {
	db     *sql.DB
	tokens *auth.TokenIssuer
}

func NewAccountService(db *sql.DB, tokens *auth.TokenIssuer) *AccountService {
	return &AccountService{db: db, tokens: tokens}
}

type RegisterRequest struct {
	Email    string
	Password string
	FullName string
	Role     string
	Phone    string
	City     string
}

func (s *AccountService) Register(ctx context.Context, req RegisterRequest) (*models.User, error) {
	if req.Email == "" || req.Password == "" || req.FullName == "" {
		return nil, fmt.Errorf("email, password and full name are required: %w", database.ErrInvalidInput)
	}

	// Admin accounts are provisioned out of band, never self-registered.
	switch req.Role {
	case models.RoleBuyer, models.RoleFarmer:
	case "":
		req.Role = models.RoleBuyer
	default:
		return nil, fmt.Errorf("unknown role %q: %w", req.Role, database.ErrInvalidInput)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user, err := store.CreateUser(ctx, s.db, store.CreateUserRequest{
		Email:        req.Email,
		FullName:     req.FullName,
		PasswordHash: string(hash),
		Role:         req.Role,
		Phone:        req.Phone,
		City:         req.City,
	})
	if err != nil {
		if database.IsUniqueViolation(err, "") {
			return nil, ErrEmailTaken
		}
		return nil, err
	}

	return user, nil
}

// Login checks credentials and issues a signed token for the session.
func (s *AccountService) Login(ctx context.Context, email, password string) (string, *models.User, error) {
	user, err := store.GetUserByEmail(ctx, s.db, email)
	if err != nil {
		if errors.Is(err, database.ErrUserNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", nil, ErrInvalidCredentials
	}

	token, err := s.tokens.Issue(user)
	if err != nil {
		return "", nil, err
	}

	return token, user, nil
}

func (s *AccountService) Get(ctx context.Context, id int64) (*models.User, error) {
	return store.GetUser(ctx, s.db, id)
}

// List is an admin-only account listing.
func (s *AccountService) List(ctx context.Context, requester auth.Identity, page, pageSize int) (*store.OffsetPage, error) {
	if !requester.Privileged() {
		return nil, database.ErrForbidden
	}
	return store.ListUsers(ctx, s.db, page, pageSize)
}

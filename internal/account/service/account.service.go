package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/bcrypt"

	"codefusion/internal/account/model"
	"codefusion/internal/account/repository"
	"codefusion/middleware"
)

const minPasswordLength = 6

type AccountService struct {
	Repo     *repository.AccountRepository
	Auth     *middleware.Authenticator
	TokenTTL time.Duration
	Cost     int
}

func NewAccountService(repo *repository.AccountRepository, auth *middleware.Authenticator, ttl time.Duration) *AccountService {
	return &AccountService{Repo: repo, Auth: auth, TokenTTL: ttl, Cost: bcrypt.DefaultCost}
}

func (s *AccountService) Register(ctx context.Context, req model.RegisterRequest) (*model.AuthResponse, error) {
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := validateRegistration(req); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.Cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	user := &model.User{
		ID:           ulid.Make().String(),
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: string(hash),
	}
	if err := s.Repo.Create(ctx, user); err != nil {
		return nil, err
	}
	return s.respond(user)
}

func (s *AccountService) Login(ctx context.Context, req model.LoginRequest) (*model.AuthResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		return nil, model.ErrInvalidCredentials
	}
	user, err := s.Repo.GetByEmail(ctx, email)
	if errors.Is(err, model.ErrNotFound) {
		return nil, model.ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, model.ErrInvalidCredentials
	}
	if err := s.Repo.Touch(ctx, user.ID); err == nil {
		user.LastActive = time.Now()
	}
	return s.respond(user)
}

func (s *AccountService) Me(ctx context.Context, userID string) (*model.User, error) {
	return s.Repo.GetByID(ctx, userID)
}

// Logout revokes the presented token until it expires.
func (s *AccountService) Logout(ctx context.Context, claims *middleware.Claims) error {
	return s.Auth.Revoke(ctx, claims)
}

func (s *AccountService) respond(user *model.User) (*model.AuthResponse, error) {
	token, err := s.Auth.Issue(user.ID, user.Username, s.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}
	return &model.AuthResponse{Token: token, User: *user}, nil
}

func validateRegistration(req model.RegisterRequest) error {
	if req.Username == "" || req.Email == "" || req.Password == "" {
		return fmt.Errorf("%w: username, email and password are required", model.ErrInvalidRequest)
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		return fmt.Errorf("%w: invalid email format", model.ErrInvalidRequest)
	}
	if len(req.Password) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters long", model.ErrInvalidRequest, minPasswordLength)
	}
	return nil
}

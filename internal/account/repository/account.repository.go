package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"codefusion/internal/account/model"
	"codefusion/pkg/logger"
)

type AccountRepository struct {
	DB *sql.DB
}

func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{DB: db}
}

// Create inserts the user and fills in the timestamps the database set.
func (r *AccountRepository) Create(ctx context.Context, user *model.User) error {
	err := r.DB.QueryRowContext(ctx,
		`INSERT INTO users (id, username, email, password_hash, created_at, last_active)
		VALUES ($1, $2, $3, $4, NOW(), NOW()) RETURNING created_at, last_active`,
		user.ID, user.Username, user.Email, user.PasswordHash,
	).Scan(&user.CreatedAt, &user.LastActive)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return model.ErrUserExists
		}
		logger.Sugar.Errorf("Failed to create user %s: %v", user.Username, err)
	}
	return err
}

func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.get(ctx, `SELECT id, username, email, password_hash, created_at, last_active FROM users WHERE email = $1`, email)
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	return r.get(ctx, `SELECT id, username, email, password_hash, created_at, last_active FROM users WHERE id = $1`, id)
}

func (r *AccountRepository) get(ctx context.Context, query, arg string) (*model.User, error) {
	user := &model.User{}
	err := r.DB.QueryRowContext(ctx, query, arg).Scan(
		&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.CreatedAt, &user.LastActive,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		logger.Sugar.Errorf("Failed to get user by %s: %v", arg, err)
		return nil, err
	}
	return user, nil
}

func (r *AccountRepository) Touch(ctx context.Context, id string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE users SET last_active = NOW() WHERE id = $1`, id)
	if err != nil {
		logger.Sugar.Errorf("Failed to update last_active for %s: %v", id, err)
	}
	return err
}

package service

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"codefusion/internal/account/model"
	"codefusion/internal/account/repository"
	"codefusion/middleware"
	"codefusion/store"
)

const userColumns = "id, username, email, password_hash, created_at, last_active"

func newService(t *testing.T) (*AccountService, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	auth := middleware.NewAuthenticator([]byte("test-secret"), store.NewMemoryRevoker())
	svc := NewAccountService(repository.NewAccountRepository(db), auth, time.Hour)
	svc.Cost = bcrypt.MinCost
	return svc, mock
}

func userRows(hash string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{"id", "username", "email", "password_hash", "created_at", "last_active"}).
		AddRow("u1", "alice", "alice@example.com", hash, now, now)
}

func TestRegister(t *testing.T) {
	svc, mock := newService(t)
	now := time.Now()
	mock.ExpectQuery("INSERT INTO users").
		WithArgs(sqlmock.AnyArg(), "alice", "alice@example.com", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "last_active"}).AddRow(now, now))

	resp, err := svc.Register(context.Background(), model.RegisterRequest{
		Username: " alice ", Email: "Alice@Example.com", Password: "hunter22",
	})
	require.NoError(t, err)
	assert.Equal(t, "alice", resp.User.Username)
	assert.NotEmpty(t, resp.User.ID)
	assert.NotEqual(t, "hunter22", resp.User.PasswordHash)

	claims, err := svc.Auth.Parse(context.Background(), resp.Token)
	require.NoError(t, err)
	assert.Equal(t, resp.User.ID, claims.Subject)
	assert.Equal(t, "alice", claims.Username)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRegisterDuplicate(t *testing.T) {
	svc, mock := newService(t)
	mock.ExpectQuery("INSERT INTO users").WillReturnError(&pq.Error{Code: "23505"})

	_, err := svc.Register(context.Background(), model.RegisterRequest{
		Username: "alice", Email: "alice@example.com", Password: "hunter22",
	})
	assert.ErrorIs(t, err, model.ErrUserExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRegisterValidation(t *testing.T) {
	svc, mock := newService(t)
	tests := []model.RegisterRequest{
		{Email: "alice@example.com", Password: "hunter22"},
		{Username: "alice", Email: "not-an-email", Password: "hunter22"},
		{Username: "alice", Email: "alice@example.com", Password: "short"},
	}
	for _, req := range tests {
		_, err := svc.Register(context.Background(), req)
		assert.ErrorIs(t, err, model.ErrInvalidRequest)
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLogin(t *testing.T) {
	svc, mock := newService(t)
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter22"), bcrypt.MinCost)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT " + userColumns + " FROM users WHERE email = \\$1").
		WithArgs("alice@example.com").
		WillReturnRows(userRows(string(hash)))
	mock.ExpectExec("UPDATE users SET last_active").
		WithArgs("u1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	resp, err := svc.Login(context.Background(), model.LoginRequest{Email: "alice@example.com", Password: "hunter22"})
	require.NoError(t, err)
	assert.Equal(t, "u1", resp.User.ID)
	assert.NotEmpty(t, resp.Token)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc, mock := newService(t)
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter22"), bcrypt.MinCost)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT .* FROM users WHERE email").
		WithArgs("alice@example.com").
		WillReturnRows(userRows(string(hash)))
	_, err = svc.Login(context.Background(), model.LoginRequest{Email: "alice@example.com", Password: "wrong-password"})
	assert.ErrorIs(t, err, model.ErrInvalidCredentials)

	mock.ExpectQuery("SELECT .* FROM users WHERE email").
		WithArgs("nobody@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	_, err = svc.Login(context.Background(), model.LoginRequest{Email: "nobody@example.com", Password: "hunter22"})
	assert.ErrorIs(t, err, model.ErrInvalidCredentials)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLogoutRevokesToken(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	token, err := svc.Auth.Issue("u1", "alice", time.Hour)
	require.NoError(t, err)
	claims, err := svc.Auth.Parse(ctx, token)
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, claims))
	_, err = svc.Auth.Parse(ctx, token)
	assert.ErrorIs(t, err, middleware.ErrRevoked)
}

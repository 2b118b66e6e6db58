package model

import (
	"errors"
	"time"
)

var (
	ErrUserExists         = errors.New("account: username or email already registered")
	ErrInvalidCredentials = errors.New("account: invalid credentials")
	ErrNotFound           = errors.New("account: user not found")
	ErrInvalidRequest     = errors.New("account: invalid request")
)

type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	LastActive   time.Time `json:"last_active"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

type UserResponse struct {
	User User `json:"user"`
}

type StatusResponse struct {
	Authenticated bool  `json:"authenticated"`
	User          *User `json:"user,omitempty"`
}

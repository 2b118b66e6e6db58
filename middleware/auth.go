package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"

	"codefusion/pkg/logger"
	"codefusion/store"
)

var (
	ErrNoToken      = errors.New("auth: no token provided")
	ErrInvalidToken = errors.New("auth: invalid or expired token")
	ErrRevoked      = errors.New("auth: token revoked")
)

type contextKey string

const (
	UserIDKey contextKey = "userID"
	ClaimsKey contextKey = "claims"
)

// Claims identify an account. Subject holds the user id and ID the token id
// that logout revokes.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Authenticator issues and checks HS256 tokens.
type Authenticator struct {
	secret  []byte
	revoker store.Revoker
	now     func() time.Time
}

func NewAuthenticator(secret []byte, revoker store.Revoker) *Authenticator {
	return &Authenticator{secret: secret, revoker: revoker, now: time.Now}
}

// Issue signs a token for the account that expires after ttl.
func (a *Authenticator) Issue(userID, username string, ttl time.Duration) (string, error) {
	now := a.now()
	claims := Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        ulid.Make().String(),
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Parse validates the token and checks it has not been revoked.
func (a *Authenticator) Parse(ctx context.Context, tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	}, jwt.WithTimeFunc(a.now))
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: subject claim is missing", ErrInvalidToken)
	}
	if a.revoker != nil && claims.ID != "" {
		revoked, err := a.revoker.IsRevoked(ctx, claims.ID)
		if err != nil {
			return nil, fmt.Errorf("auth: checking revocation: %w", err)
		}
		if revoked {
			return nil, ErrRevoked
		}
	}
	return claims, nil
}

// Revoke makes the token unusable until it expires.
func (a *Authenticator) Revoke(ctx context.Context, claims *Claims) error {
	if a.revoker == nil || claims.ID == "" || claims.ExpiresAt == nil {
		return nil
	}
	return a.revoker.Revoke(ctx, claims.ID, claims.ExpiresAt.Time)
}

// For WebSockets, tokens are often passed in the query string because the
// browser's WebSocket API doesn't support custom headers.
func tokenFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}

func (a *Authenticator) authenticate(r *http.Request) (*Claims, error) {
	tokenString := tokenFromRequest(r)
	if tokenString == "" {
		return nil, ErrNoToken
	}
	return a.Parse(r.Context(), tokenString)
}

func withClaims(r *http.Request, claims *Claims) *http.Request {
	ctx := context.WithValue(r.Context(), UserIDKey, claims.Subject)
	ctx = context.WithValue(ctx, ClaimsKey, claims)
	return r.WithContext(ctx)
}

// RequireAuth rejects requests without a valid token.
func (a *Authenticator) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := a.authenticate(r)
		if err != nil {
			if !errors.Is(err, ErrNoToken) {
				logger.Sugar.Warnf("Invalid token: %v", err)
			}
			http.Error(w, "Unauthorized: "+err.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, withClaims(r, claims))
	})
}

// OptionalAuth attaches the claims of a valid token and lets anonymous
// requests through. An invalid token is treated as no token.
func (a *Authenticator) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := a.authenticate(r)
		if err != nil {
			if !errors.Is(err, ErrNoToken) {
				logger.Sugar.Debugf("Ignoring token: %v", err)
			}
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, withClaims(r, claims))
	})
}

// ClaimsFrom returns the claims attached by RequireAuth or OptionalAuth.
func ClaimsFrom(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(ClaimsKey).(*Claims)
	return claims, ok
}

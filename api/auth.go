package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/wricardo/courtside/domain"
)

const (
	accessToken  = "access"
	refreshToken = "refresh"

	refreshTTL = 24 * time.Hour
)

var ErrInvalidToken = errors.New("invalid token")

// tokenClaims mirrors the claims the production backend puts in its tokens.
type tokenClaims struct {
	UserID    int    `json:"user_id"`
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// Issuer signs and verifies HS256 tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

func (i *Issuer) sign(userID int, kind string, ttl time.Duration) (string, error) {
	now := i.now()
	claims := tokenClaims{
		UserID:    userID,
		TokenType: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// Issue returns the access/refresh pair for user.
func (i *Issuer) Issue(user domain.User) (domain.AuthTokens, error) {
	access, err := i.sign(user.ID, accessToken, i.ttl)
	if err != nil {
		return domain.AuthTokens{}, fmt.Errorf("sign access token: %w", err)
	}
	refresh, err := i.sign(user.ID, refreshToken, refreshTTL)
	if err != nil {
		return domain.AuthTokens{}, fmt.Errorf("sign refresh token: %w", err)
	}
	return domain.AuthTokens{Access: access, Refresh: refresh, User: &user}, nil
}

// Verify checks an access token and returns the user id it was issued for.
func (i *Issuer) Verify(raw string) (int, error) {
	var claims tokenClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.TokenType != accessToken || claims.UserID == 0 {
		return 0, ErrInvalidToken
	}
	return claims.UserID, nil
}

type userKey struct{}

func withUser(ctx context.Context, u domain.User) context.Context {
	return context.WithValue(ctx, userKey{}, u)
}

// UserFrom returns the authenticated user stored by the auth middleware.
func UserFrom(ctx context.Context) (domain.User, bool) {
	u, ok := ctx.Value(userKey{}).(domain.User)
	return u, ok
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// authenticate resolves a raw token to an active user.
func (s *Server) authenticate(raw string) (domain.User, error) {
	if raw == "" {
		return domain.User{}, ErrInvalidToken
	}
	id, err := s.issuer.Verify(raw)
	if err != nil {
		return domain.User{}, err
	}
	user, err := s.store.User(id)
	if err != nil || !user.IsActive {
		return domain.User{}, ErrInvalidToken
	}
	return user, nil
}

// requireAuth is middleware that rejects requests without a valid bearer
// token.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := s.authenticate(bearerToken(r))
		if err != nil {
			respondDetail(w, http.StatusUnauthorized, "Authentication credentials were not provided or are invalid.")
			return
		}
		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), user)))
	})
}

// requireStaff wraps a handler that only staff may call.
func requireStaff(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if u, _ := UserFrom(r.Context()); !u.IsStaff {
			respondDetail(w, http.StatusForbidden, "You do not have permission to perform this action.")
			return
		}
		next(w, r)
	}
}

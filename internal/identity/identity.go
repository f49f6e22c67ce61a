// Package identity проверяет JWT администраторов (HS256) и кладёт пользователя в контекст.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/gommon/log"
)

const RoleAdmin = "admin"

type User struct {
	ID   int64  `json:"id"`
	Role string `json:"role"`
}

type ctxKey struct{}

func WithUser(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}

// CurrentUser пользователь, проверенный Middleware
func CurrentUser(ctx context.Context) (User, bool) {
	u, ok := ctx.Value(ctxKey{}).(User)
	return u, ok
}

type Authenticator struct {
	secret []byte
	now    func() time.Time
}

func New(secret string) (*Authenticator, error) {
	if len(secret) < 16 {
		return nil, errors.New("identity: JWT secret must have at least 16 characters")
	}
	return &Authenticator{secret: []byte(secret), now: time.Now}, nil
}

// Issue подписывает токен для пользователя
func (a *Authenticator) Issue(u User, ttl time.Duration) (string, error) {
	now := a.now()
	claims := jwt.MapClaims{
		"sub":  strconv.FormatInt(u.ID, 10),
		"role": u.Role,
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *Authenticator) Verify(raw string) (*User, error) {
	clean := strings.TrimSpace(strings.TrimPrefix(raw, "Bearer "))
	if clean == "" {
		return nil, errors.New("missing token")
	}

	token, err := jwt.Parse(clean, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid claims format")
	}
	sub, _ := claims["sub"].(string)
	id, err := strconv.ParseInt(sub, 10, 64)
	if err != nil || id <= 0 {
		return nil, errors.New("invalid subject")
	}
	role, _ := claims["role"].(string)
	return &User{ID: id, Role: role}, nil
}

// RequireAdmin пропускает только администраторов
func (a *Authenticator) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, err := a.Verify(r.Header.Get("Authorization"))
		if err != nil {
			log.Debugf("[identity] rejected request path=%s: %v", r.URL.Path, err)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if u.Role != RoleAdmin {
			writeError(w, http.StatusForbidden, "admin role required")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), *u)))
	})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"message": msg})
}

package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type ctxKey int

const handleKey ctxKey = iota

// Claims identify the platform user a token was issued to.
type Claims struct {
	Handle string `json:"handle"`
	jwt.RegisteredClaims
}

// BearerAuth guards the admin routes with a static token.
func BearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearer(r)
			if !ok || token == "" || subtle.ConstantTimeCompare([]byte(raw), []byte(token)) != 1 {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// JWTAuth verifies HS256 user tokens and stores the handle in the request
// context.
func JWTAuth(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearer(r)
			if !ok {
				httpError(w, http.StatusUnauthorized, "authentication_error", "missing bearer token")
				return
			}
			handle, err := ParseToken(secret, raw)
			if err != nil {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid token: %v", err)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), handleKey, handle)))
		})
	}
}

// HandleFrom returns the authenticated handle, or "" outside JWTAuth.
func HandleFrom(ctx context.Context) string {
	h, _ := ctx.Value(handleKey).(string)
	return h
}

// IssueToken signs a token for handle valid for ttl.
func IssueToken(secret []byte, handle string, ttl time.Duration) (string, error) {
	handle = strings.ToLower(strings.TrimSpace(handle))
	if handle == "" {
		return "", errors.New("handle is required")
	}
	now := time.Now()
	claims := Claims{
		Handle: handle,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   handle,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// ParseToken validates raw and returns its handle. The handle claim wins
// over the subject.
func ParseToken(secret []byte, raw string) (string, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	handle := claims.Handle
	if handle == "" {
		handle = claims.Subject
	}
	handle = strings.ToLower(strings.TrimSpace(handle))
	if handle == "" {
		return "", fmt.Errorf("token has no handle")
	}
	return handle, nil
}

func bearer(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

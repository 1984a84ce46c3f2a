// Package auth provides JWT bearer-token authentication for the API.
// There is no user database: a single operator credential comes from
// configuration, with the password stored as a bcrypt hash.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/baselight/baselight/internal/metrics"
)

type contextKey string

const userContextKey contextKey = "user"

const tokenTTL = 24 * time.Hour

// Claims holds JWT token claims.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Auth handles JWT authentication.
type Auth struct {
	secret       []byte
	username     string
	passwordHash []byte
}

// New creates a new Auth handler. An empty secret disables authentication;
// Middleware then passes requests through untouched.
func New(secret, username, passwordHash string) *Auth {
	return &Auth{
		secret:       []byte(secret),
		username:     username,
		passwordHash: []byte(passwordHash),
	}
}

// Enabled reports whether authentication is configured.
func (a *Auth) Enabled() bool { return len(a.secret) > 0 }

// HandleLogin handles POST /api/v1/auth/token.
func (a *Auth) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		metrics.RecordAuthAttempt(false)
		sendAuthError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		metrics.RecordAuthAttempt(false)
		sendAuthError(w, http.StatusBadRequest, "username and password required")
		return
	}

	if req.Username != a.username ||
		bcrypt.CompareHashAndPassword(a.passwordHash, []byte(req.Password)) != nil {
		metrics.RecordAuthAttempt(false)
		sendAuthError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := a.generateToken(req.Username)
	if err != nil {
		metrics.RecordAuthAttempt(false)
		sendAuthError(w, http.StatusInternalServerError, "token generation failed")
		return
	}

	metrics.RecordAuthAttempt(true)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"token":      token,
		"expires_at": expiresAt.Unix(),
	})
}

// Middleware returns HTTP middleware that validates bearer tokens.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	if !a.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := extractToken(r)
		if tokenStr == "" {
			metrics.RecordAuthAttempt(false)
			sendAuthError(w, http.StatusUnauthorized, "missing authentication token")
			return
		}

		claims, err := a.validateToken(tokenStr)
		if err != nil {
			metrics.RecordAuthAttempt(false)
			sendAuthError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetClaims extracts claims from the request context.
func GetClaims(ctx context.Context) *Claims {
	claims, _ := ctx.Value(userContextKey).(*Claims)
	return claims
}

func (a *Auth) generateToken(username string) (string, time.Time, error) {
	expiresAt := time.Now().Add(tokenTTL)
	claims := &Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "baselight",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

func (a *Auth) validateToken(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("token invalid")
	}
	return claims, nil
}

// extractToken pulls the token from the Authorization header, falling back
// to the token query parameter for SSE clients that cannot set headers.
func extractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func sendAuthError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

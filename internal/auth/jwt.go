// Package auth resolves the account a request acts for from a bearer JWT.
// Tokens are issued elsewhere; this package only validates them.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/fruitsalade/mediafs/internal/logging"
	"github.com/fruitsalade/mediafs/internal/metrics"
	"github.com/fruitsalade/mediafs/internal/protocol"
)

type contextKey string

const accountContextKey contextKey = "account"

// Account ids become the first segment of every object key.
var accountRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Claims holds JWT token claims. The subject is the account id.
type Claims struct {
	jwt.RegisteredClaims
}

// Auth validates HMAC-signed tokens.
type Auth struct {
	secret []byte
}

// New creates a new Auth handler.
func New(jwtSecret string) *Auth {
	return &Auth{secret: []byte(jwtSecret)}
}

// Middleware returns HTTP middleware that validates JWT tokens and stores
// the account id in the request context.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := extractToken(r)
		if tokenStr == "" {
			metrics.RecordAuthAttempt(false)
			sendAuthError(w, http.StatusUnauthorized, "missing authentication token")
			return
		}

		claims, err := a.ValidateToken(tokenStr)
		if err != nil {
			metrics.RecordAuthAttempt(false)
			logging.WithContext(r.Context()).Debug("token rejected", zap.Error(err))
			sendAuthError(w, http.StatusUnauthorized, "invalid token: "+err.Error())
			return
		}
		metrics.RecordAuthAttempt(true)

		ctx := WithAccountID(r.Context(), claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ValidateToken parses tokenStr and checks its signature, expiry and subject.
func (a *Auth) ValidateToken(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if !accountRe.MatchString(claims.Subject) {
		return nil, fmt.Errorf("subject %q is not a valid account id", claims.Subject)
	}
	return claims, nil
}

// IssueToken signs a token for accountID. Used by tooling and tests.
func (a *Auth) IssueToken(accountID string, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = accountID
	return jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{RegisteredClaims: claims}).SignedString(a.secret)
}

// WithAccountID stores an account id in ctx.
func WithAccountID(ctx context.Context, accountID string) context.Context {
	return context.WithValue(ctx, accountContextKey, accountID)
}

// GetAccountID extracts the account id from the request context.
func GetAccountID(ctx context.Context) string {
	id, _ := ctx.Value(accountContextKey).(string)
	return id
}

func extractToken(r *http.Request) string {
	// Bearer token from Authorization header
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	// Query parameter fallback, EventSource cannot set headers.
	return r.URL.Query().Get("token")
}

func sendAuthError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(protocol.ErrorResponse{
		Error: message,
		Code:  code,
	})
}

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestMiddleware(t *testing.T) {
	a := New("secret")
	valid, err := a.IssueToken("acct42", jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))})
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	expired, _ := a.IssueToken("acct42", jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour))})
	otherKey, _ := New("other").IssueToken("acct42", jwt.RegisteredClaims{})
	badSubject, _ := a.IssueToken("../etc", jwt.RegisteredClaims{})

	var seen string
	h := a.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetAccountID(r.Context())
	}))

	tests := []struct {
		name   string
		header string
		query  string
		status int
	}{
		{"bearer", "Bearer " + valid, "", http.StatusOK},
		{"query fallback", "", valid, http.StatusOK},
		{"missing", "", "", http.StatusUnauthorized},
		{"expired", "Bearer " + expired, "", http.StatusUnauthorized},
		{"wrong key", "Bearer " + otherKey, "", http.StatusUnauthorized},
		{"unsafe subject", "Bearer " + badSubject, "", http.StatusUnauthorized},
		{"garbage", "Bearer not.a.token", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			target := "/api/v1/media/list/"
			if tt.query != "" {
				target += "?token=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.status, rec.Body.String())
			}
			if tt.status == http.StatusOK && seen != "acct42" {
				t.Fatalf("account = %q, want acct42", seen)
			}
			if tt.status != http.StatusOK && seen != "" {
				t.Fatalf("handler ran for rejected request")
			}
		})
	}
}

func TestGetAccountIDEmpty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if id := GetAccountID(req.Context()); id != "" {
		t.Fatalf("GetAccountID = %q, want empty", id)
	}
}

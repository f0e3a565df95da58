// Package session carries session tokens in the "session" cookie and resolves
// the caller's identity from the cookie or a bearer header.
package session

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/diagnosis/community-hub/pkg/auth"
	"github.com/diagnosis/community-hub/pkg/logger"
	"github.com/diagnosis/community-hub/pkg/response"
	"github.com/diagnosis/community-hub/services/auth/internal/domain"
)

const CookieName = "session"

type ctxKey string

const claimsKey ctxKey = "session_claims"

type Manager struct {
	signer *auth.Signer
	secure bool
	maxAge time.Duration
}

// NewManager builds a cookie manager. secure sets the cookie Secure flag and
// should be on in production.
func NewManager(signer *auth.Signer, secure bool, maxAge time.Duration) *Manager {
	return &Manager{signer: signer, secure: secure, maxAge: maxAge}
}

func (m *Manager) Set(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(m.maxAge.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Clear expires the cookie. The session JWT itself stays valid until exp.
func (m *Manager) Clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Token returns the raw session token, cookie first, then the
// Authorization: Bearer header.
func (m *Manager) Token(r *http.Request) string {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		return c.Value
	}
	authz := r.Header.Get("Authorization")
	if len(authz) > 7 && strings.EqualFold(authz[:7], "Bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	return ""
}

// Identity verifies the request's session token.
func (m *Manager) Identity(r *http.Request) (*auth.Claims, error) {
	raw := m.Token(r)
	if raw == "" {
		return nil, domain.ErrUnauthenticated
	}
	claims, err := m.signer.ParseSessionToken(raw)
	if err != nil {
		logger.DebugContext(r.Context(), "Session rejected", "error", err)
		return nil, domain.ErrUnauthenticated
	}
	return claims, nil
}

// RequireSession rejects requests without a valid session with a fixed 401
// and otherwise stores the claims in the request context.
func (m *Manager) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := m.Identity(r)
		if err != nil {
			response.Unauthorized(w, "Not authenticated")
			return
		}
		ctx := WithClaims(r.Context(), claims)
		ctx = context.WithValue(ctx, logger.MemberIDKey, claims.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func WithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	return context.WithValue(ctx, claimsKey, claims)
}

// Claims returns the claims stored by RequireSession, or nil.
func Claims(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(claimsKey).(*auth.Claims)
	return claims
}

package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/diagnosis/community-hub/pkg/auth"
	"github.com/diagnosis/community-hub/pkg/logger"
	"github.com/diagnosis/community-hub/pkg/response"
	"github.com/diagnosis/community-hub/services/gateway/internal/proxy"
	"github.com/go-chi/chi/v5"
)

const (
	apiPrefix         = "/v1"
	sessionCookieName = "session"
)

type Handlers struct {
	authProxy *proxy.ServiceProxy
	signer    *auth.Signer
}

func New(authProxy *proxy.ServiceProxy, signer *auth.Signer) *Handlers {
	return &Handlers{authProxy: authProxy, signer: signer}
}

// Routes exposes the auth service under /v1. Sign-in endpoints pass straight
// through; everything else needs a session the gateway can verify itself.
func (h *Handlers) Routes(r chi.Router) {
	r.Route(apiPrefix, func(r chi.Router) {
		r.Post("/auth/magic-link", h.ToAuth)
		r.Post("/auth/verify", h.ToAuth)
		r.Post("/auth/logout", h.ToAuth)

		r.Group(func(r chi.Router) {
			r.Use(h.RequireSession)
			r.Handle("/auth/me", http.HandlerFunc(h.ToAuth))
			r.Handle("/auth/me/*", http.HandlerFunc(h.ToAuth))
			r.Handle("/communities/*", http.HandlerFunc(h.ToAuth))
			r.Handle("/admin/*", http.HandlerFunc(h.ToAuth))
		})
	})
}

func (h *Handlers) ToAuth(w http.ResponseWriter, r *http.Request) {
	h.authProxy.Forward(w, r, strings.TrimPrefix(r.URL.Path, apiPrefix))
}

// RequireSession rejects requests without a valid session token before they
// reach a backing service. The backing service still authorizes the caller.
func (h *Handlers) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := sessionToken(r)
		if token == "" {
			response.Unauthorized(w, "Not authenticated")
			return
		}
		claims, err := h.signer.ParseSessionToken(token)
		if err != nil {
			logger.DebugContext(r.Context(), "Rejected session at gateway", "error", err)
			response.Unauthorized(w, "Not authenticated")
			return
		}

		ctx := context.WithValue(r.Context(), logger.MemberIDKey, claims.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionToken(r *http.Request) string {
	if c, err := r.Cookie(sessionCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	authz := r.Header.Get("Authorization")
	if len(authz) > 7 && strings.EqualFold(authz[:7], "Bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	return ""
}

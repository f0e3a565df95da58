package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/diagnosis/community-hub/pkg/access"
	"github.com/diagnosis/community-hub/pkg/config"
	"github.com/diagnosis/community-hub/pkg/logger"
	mw "github.com/diagnosis/community-hub/pkg/middleware"
	"github.com/diagnosis/community-hub/pkg/response"
	"github.com/diagnosis/community-hub/services/auth/internal/domain"
	"github.com/diagnosis/community-hub/services/auth/internal/repository"
	"github.com/diagnosis/community-hub/services/auth/internal/service"
	"github.com/diagnosis/community-hub/services/auth/internal/session"
	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 1 << 20

type Handlers struct {
	authService   service.AuthService
	memberService service.MemberService
	sessions      *session.Manager
	limiter       repository.RateLimitRepository
	config        *config.Config
}

// New builds the HTTP handlers. limiter may be nil to disable per-IP limits.
func New(
	authService service.AuthService,
	memberService service.MemberService,
	sessions *session.Manager,
	limiter repository.RateLimitRepository,
	config *config.Config,
) *Handlers {
	return &Handlers{
		authService:   authService,
		memberService: memberService,
		sessions:      sessions,
		limiter:       limiter,
		config:        config,
	}
}

// Routes mounts every auth service endpoint on r.
func (h *Handlers) Routes(r chi.Router) {
	var limiter mw.Limiter
	if h.limiter != nil {
		limiter = h.limiter
	}
	perIP := mw.RateLimit(limiter, mw.RateLimitConfig{
		Requests: h.config.Auth.IPRequestsPerMin,
		Window:   time.Minute,
		KeyFunc:  mw.ClientIPKey("auth:"),
	})

	r.Route("/auth", func(r chi.Router) {
		r.With(perIP).Post("/magic-link", h.RequestMagicLink)
		r.With(perIP).Post("/verify", h.Verify)
		r.Post("/logout", h.Logout)

		r.Group(func(r chi.Router) {
			r.Use(h.sessions.RequireSession)
			r.Get("/me", h.Me)
			r.Patch("/me", h.UpdateMe)
			r.Put("/me/primary-membership", h.SetPrimaryMembership)
		})
	})

	r.With(h.sessions.RequireSession).Post("/communities/{communityID}/join", h.JoinCommunity)

	r.Route("/admin", func(r chi.Router) {
		r.Use(h.sessions.RequireSession, h.LoadMember, h.RequireAdminRoute)
		r.With(h.RequireCommunityPermission(access.ManageMembers)).
			Get("/communities/{communityID}/members", h.ListCommunityMembers)
		r.With(h.RequireCommunityPermission(access.ManageMembers)).
			Patch("/communities/{communityID}/members/{membershipID}", h.UpdateMembership)
		r.With(h.RequireSuperAdminRoute).Get("/members", h.ListMembers)
	})
}

type ctxKey string

const memberKey ctxKey = "member"

// LoadMember resolves the session's member for the access guards. A session
// whose member no longer exists is treated as unauthenticated.
func (h *Handlers) LoadMember(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := session.Claims(r.Context())
		if claims == nil {
			response.Unauthorized(w, "Not authenticated")
			return
		}
		member, err := h.memberService.GetMember(r.Context(), claims.UserID)
		if errors.Is(err, domain.ErrNotFound) {
			response.Unauthorized(w, "Not authenticated")
			return
		}
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), memberKey, member)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func currentMember(r *http.Request) *domain.Member {
	m, _ := r.Context().Value(memberKey).(*domain.Member)
	return m
}

func (h *Handlers) RequireAdminRoute(next http.Handler) http.Handler {
	return h.guard(func(r *http.Request, m *domain.Member) bool {
		return access.CanAccessAdminRoute(m)
	})(next)
}

func (h *Handlers) RequireSuperAdminRoute(next http.Handler) http.Handler {
	return h.guard(func(r *http.Request, m *domain.Member) bool {
		return access.CanAccessSuperAdminRoute(m)
	})(next)
}

// RequireCommunityPermission checks p against the role held in the
// {communityID} path community only. Super admins pass everywhere.
func (h *Handlers) RequireCommunityPermission(p access.Permission) func(http.Handler) http.Handler {
	return h.guard(func(r *http.Request, m *domain.Member) bool {
		communityID := chi.URLParam(r, "communityID")
		return access.HasCommunityPermission(m, communityID, p) || access.HasPermission(m, access.SuperAdminAccess)
	})
}

// guard renders a fixed 401 without a member and 403 when allow refuses.
func (h *Handlers) guard(allow func(r *http.Request, m *domain.Member) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m := currentMember(r)
			if m == nil {
				response.Unauthorized(w, "Not authenticated")
				return
			}
			if !allow(r, m) {
				logger.InfoContext(r.Context(), "Access denied", "path", r.URL.Path, "role", access.EffectiveRole(m).String())
				response.Forbidden(w, "Access denied")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// writeServiceError maps domain errors to HTTP responses.
func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		response.BadRequest(w, verr.Message)
	case errors.Is(err, domain.ErrValidation):
		response.BadRequest(w, "Invalid input")
	case errors.Is(err, domain.ErrTokenNotFound):
		response.WriteError(w, http.StatusUnauthorized, "Token not found or already used", response.CodeInvalidToken)
	case errors.Is(err, domain.ErrInvalidToken):
		response.WriteError(w, http.StatusUnauthorized, "Invalid or expired token", response.CodeInvalidToken)
	case errors.Is(err, domain.ErrUnauthenticated):
		response.Unauthorized(w, "Not authenticated")
	case errors.Is(err, domain.ErrForbidden):
		response.Forbidden(w, "Access denied")
	case errors.Is(err, domain.ErrNotFound):
		response.NotFound(w, "Not found")
	case errors.Is(err, domain.ErrConflict):
		response.Conflict(w, err.Error())
	case errors.Is(err, domain.ErrRateLimited):
		response.RateLimit(w, "Too many requests. Try again later.")
	default:
		logger.ErrorContext(r.Context(), "Request failed", "path", r.URL.Path, "error", err)
		response.InternalError(w, err, h.config.IsDevelopment())
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		response.BadRequest(w, "Invalid JSON format")
		return false
	}
	return true
}

func parsePagination(r *http.Request) (limit, offset int) {
	limit = 20
	offset = 0

	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return limit, offset
}

package handlers

import (
	"errors"
	"net/http"

	"github.com/diagnosis/community-hub/pkg/access"
	"github.com/diagnosis/community-hub/pkg/response"
	"github.com/diagnosis/community-hub/services/auth/internal/domain"
	"github.com/diagnosis/community-hub/services/auth/internal/session"
	"github.com/go-chi/chi/v5"
)

// RequestMagicLink issues a login link. The token itself is only echoed back
// outside production; in production it travels by e-mail alone.
func (h *Handlers) RequestMagicLink(w http.ResponseWriter, r *http.Request) {
	var req domain.MagicLinkRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.authService.RequestMagicLink(r.Context(), req.Email)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	body := map[string]any{
		"message": "Magic link sent to your email",
		"email":   res.Email,
	}
	if !h.config.IsProduction() {
		body["token"] = res.Token
	}
	response.JSON(w, http.StatusOK, body)
}

func (h *Handlers) Verify(w http.ResponseWriter, r *http.Request) {
	var req domain.VerifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.authService.Verify(r.Context(), req.Token)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.sessions.Set(w, res.SessionToken)
	response.JSON(w, http.StatusOK, map[string]any{
		"message": "Login successful",
		"user":    res.Member,
	})
}

// Logout clears the cookie only; the session token stays valid until it
// expires.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	h.sessions.Clear(w)
	response.JSON(w, http.StatusOK, map[string]string{
		"message": "Logged out successfully",
	})
}

func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	claims := session.Claims(r.Context())
	member, err := h.memberService.GetMember(r.Context(), claims.UserID)
	if errors.Is(err, domain.ErrNotFound) {
		response.NotFound(w, "User not found")
		return
	}
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	response.JSON(w, http.StatusOK, map[string]any{
		"user":        member,
		"role":        access.EffectiveRole(member),
		"permissions": access.EffectivePermissions(member),
	})
}

func (h *Handlers) UpdateMe(w http.ResponseWriter, r *http.Request) {
	var req domain.UpdateProfileRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	claims := session.Claims(r.Context())
	member, err := h.memberService.UpdateProfile(r.Context(), claims.UserID, &req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]any{"user": member})
}

func (h *Handlers) SetPrimaryMembership(w http.ResponseWriter, r *http.Request) {
	var req domain.SetPrimaryMembershipRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	claims := session.Claims(r.Context())
	member, err := h.memberService.SetPrimaryMembership(r.Context(), claims.UserID, req.MembershipID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]any{"user": member})
}

func (h *Handlers) JoinCommunity(w http.ResponseWriter, r *http.Request) {
	claims := session.Claims(r.Context())
	ms, err := h.memberService.JoinCommunity(r.Context(), claims.UserID, chi.URLParam(r, "communityID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	response.JSON(w, http.StatusCreated, map[string]any{"membership": ms})
}

package handlers

import (
	"net/http"

	"github.com/diagnosis/community-hub/pkg/response"
	"github.com/diagnosis/community-hub/services/auth/internal/domain"
	"github.com/go-chi/chi/v5"
)

func (h *Handlers) ListCommunityMembers(w http.ResponseWriter, r *http.Request) {
	members, err := h.memberService.ListCommunityMembers(r.Context(), currentMember(r), chi.URLParam(r, "communityID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]any{
		"members": members,
		"count":   len(members),
	})
}

func (h *Handlers) UpdateMembership(w http.ResponseWriter, r *http.Request) {
	var req domain.UpdateMembershipRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ms, err := h.memberService.UpdateMembership(
		r.Context(),
		currentMember(r),
		chi.URLParam(r, "communityID"),
		chi.URLParam(r, "membershipID"),
		&req,
	)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]any{"membership": ms})
}

func (h *Handlers) ListMembers(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)
	members, err := h.memberService.ListMembers(r.Context(), currentMember(r), limit, offset)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]any{
		"members": members,
		"limit":   limit,
		"offset":  offset,
	})
}

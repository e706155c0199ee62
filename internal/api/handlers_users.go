package api

import (
	"encoding/json"
	"net/http"

	"github.com/CrusoO/Rag-knowledge-system/internal/api/respond"
	"github.com/CrusoO/Rag-knowledge-system/internal/api/validate"
	"github.com/CrusoO/Rag-knowledge-system/internal/ratelimit"
	"github.com/CrusoO/Rag-knowledge-system/internal/services"
)

// UserHandler is a thin HTTP transport over the UserService.
type UserHandler struct {
	svc     *services.UserService
	limiter *ratelimit.Limiter
}

func NewUserHandler(svc *services.UserService, l *ratelimit.Limiter) *UserHandler {
	return &UserHandler{svc: svc, limiter: l}
}

// GetMe GET /api/users/me
func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	u, err := h.svc.GetUser(r.Context(), id.UserID)
	if err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, u)
}

// UpdateProfile PATCH /api/users/me
func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	if !admit(w, r, h.limiter, id.UserID, ratelimit.EndpointProfile) {
		return
	}
	var req struct {
		DisplayName *string `json:"displayName"`
		TimeZone    string  `json:"timeZone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.WriteBadRequest(w, "Invalid JSON")
		return
	}
	if err := validate.MaxRunes("displayName", req.DisplayName, 80); err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	if err := validate.TimeZone(req.TimeZone); err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	u, err := h.svc.UpdateProfile(r.Context(), id.UserID, req.DisplayName, req.TimeZone)
	if err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, u)
}

// UpdatePassword POST /api/users/me/password
func (h *UserHandler) UpdatePassword(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	if !admit(w, r, h.limiter, id.UserID, ratelimit.EndpointPassword) {
		return
	}
	var req struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.WriteBadRequest(w, "Invalid JSON")
		return
	}
	if err := validate.NonEmpty("currentPassword", req.CurrentPassword); err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	if err := h.svc.UpdatePassword(r.Context(), id.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

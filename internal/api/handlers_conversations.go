package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/CrusoO/Rag-knowledge-system/internal/api/respond"
	"github.com/CrusoO/Rag-knowledge-system/internal/ratelimit"
	"github.com/CrusoO/Rag-knowledge-system/internal/services"
)

// ConversationHandler is a thin HTTP transport over the ConversationService.
type ConversationHandler struct {
	svc     *services.ConversationService
	limiter *ratelimit.Limiter
}

func NewConversationHandler(svc *services.ConversationService, l *ratelimit.Limiter) *ConversationHandler {
	return &ConversationHandler{svc: svc, limiter: l}
}

// ListConversations GET /api/conversations
func (h *ConversationHandler) ListConversations(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	cvs, err := h.svc.ListConversations(r.Context(), id.UserID)
	if err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{"conversations": cvs, "count": len(cvs)})
}

// GetConversation GET /api/conversations/{conversationId}
func (h *ConversationHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	cv, msgs, err := h.svc.GetConversation(r.Context(), id.UserID, mux.Vars(r)["conversationId"])
	if err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{"conversation": cv, "messages": msgs})
}

// DeleteConversation DELETE /api/conversations/{conversationId}
func (h *ConversationHandler) DeleteConversation(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	if !admit(w, r, h.limiter, id.UserID, ratelimit.EndpointConversationDelete) {
		return
	}
	if err := h.svc.DeleteConversation(r.Context(), id.UserID, mux.Vars(r)["conversationId"]); err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

package api

import (
	"encoding/json"
	"net/http"

	"github.com/CrusoO/Rag-knowledge-system/internal/api/respond"
	"github.com/CrusoO/Rag-knowledge-system/internal/api/validate"
	"github.com/CrusoO/Rag-knowledge-system/internal/services"
)

// ChatHandler is a thin HTTP transport over the ChatService.
type ChatHandler struct {
	svc *services.ChatService
}

func NewChatHandler(svc *services.ChatService) *ChatHandler { return &ChatHandler{svc: svc} }

// SendMessage POST /api/chat
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	var req struct {
		ConversationID string `json:"conversationId"`
		Message        string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond.WriteBadRequest(w, "Invalid JSON")
		return
	}
	if err := validate.Message(req.Message); err != nil {
		respond.WriteBadRequest(w, err.Error())
		return
	}
	turn, err := h.svc.SendMessage(r.Context(), id.UserID, req.ConversationID, req.Message)
	if err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, turn)
}

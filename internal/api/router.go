// Package api is the HTTP transport: thin handlers over the services layer,
// assembled into a gorilla/mux router.
package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/CrusoO/Rag-knowledge-system/internal/api/recovery"
	"github.com/CrusoO/Rag-knowledge-system/internal/api/respond"
	"github.com/CrusoO/Rag-knowledge-system/internal/auth"
	"github.com/CrusoO/Rag-knowledge-system/internal/model"
	"github.com/CrusoO/Rag-knowledge-system/internal/ratelimit"
	"github.com/CrusoO/Rag-knowledge-system/internal/services"
)

// Deps carries everything the router needs.
type Deps struct {
	Chat          *services.ChatService
	Conversations *services.ConversationService
	Documents     *services.DocumentService
	Users         *services.UserService
	Limiter       *ratelimit.Limiter
	Authorizer    auth.Authorizer
	IsHealthy     func() bool
}

// NewRouter assembles all API routes. Every /api route except /api/health
// requires a bearer key; mutating routes additionally pass rate-limit
// admission for their endpoint name.
func NewRouter(d Deps) *mux.Router {
	router := mux.NewRouter()
	router.Use(recovery.Middleware)

	healthHandler := NewHealthHandler(d.IsHealthy)
	router.HandleFunc("/api/health", healthHandler.CheckHealth).Methods("GET")

	chatHandler := NewChatHandler(d.Chat)
	convHandler := NewConversationHandler(d.Conversations, d.Limiter)
	docHandler := NewDocumentHandler(d.Documents, d.Limiter)
	userHandler := NewUserHandler(d.Users, d.Limiter)

	authed := router.PathPrefix("/api").Subrouter()
	authed.Use(auth.Middleware(d.Authorizer, func(w http.ResponseWriter, r *http.Request) {
		respond.WriteServiceError(w, model.ErrUnauthenticated)
	}))

	// Chat; admission happens inside the orchestrator.
	authed.HandleFunc("/chat", chatHandler.SendMessage).Methods("POST")

	// Conversations
	authed.HandleFunc("/conversations", convHandler.ListConversations).Methods("GET")
	authed.HandleFunc("/conversations/{conversationId}", convHandler.GetConversation).Methods("GET")
	authed.HandleFunc("/conversations/{conversationId}", convHandler.DeleteConversation).Methods("DELETE")

	// Documents
	authed.HandleFunc("/documents", docHandler.Upload).Methods("POST")
	authed.HandleFunc("/documents", docHandler.ListDocuments).Methods("GET")
	authed.HandleFunc("/documents/{documentId}", docHandler.Delete).Methods("DELETE")

	// Profile
	authed.HandleFunc("/users/me", userHandler.GetMe).Methods("GET")
	authed.HandleFunc("/users/me", userHandler.UpdateProfile).Methods("PATCH")
	authed.HandleFunc("/users/me/password", userHandler.UpdatePassword).Methods("POST")

	return router
}

// identity returns the authenticated user or writes a 401.
func identity(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	id, ok := auth.IdentityFrom(r.Context())
	if !ok {
		respond.WriteServiceError(w, model.ErrUnauthenticated)
		return nil, false
	}
	return id, true
}

// admit gates a mutating route on the caller's fixed-window budget.
func admit(w http.ResponseWriter, r *http.Request, l *ratelimit.Limiter, userID, endpoint string) bool {
	ok, err := l.Allow(r.Context(), userID, endpoint)
	if err != nil {
		respond.WriteServiceError(w, err)
		return false
	}
	if !ok {
		respond.WriteServiceError(w, model.ErrRateLimited)
		return false
	}
	return true
}

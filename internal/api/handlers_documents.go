package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/CrusoO/Rag-knowledge-system/internal/api/respond"
	"github.com/CrusoO/Rag-knowledge-system/internal/ratelimit"
	"github.com/CrusoO/Rag-knowledge-system/internal/services"
)

// multipart parse budget; the service enforces the actual size cap while
// streaming the part to disk.
const maxMultipartMemory = 8 << 20

// DocumentHandler is a thin HTTP transport over the DocumentService.
type DocumentHandler struct {
	svc     *services.DocumentService
	limiter *ratelimit.Limiter
}

func NewDocumentHandler(svc *services.DocumentService, l *ratelimit.Limiter) *DocumentHandler {
	return &DocumentHandler{svc: svc, limiter: l}
}

// Upload POST /api/documents (multipart, field "file")
func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	if !admit(w, r, h.limiter, id.UserID, ratelimit.EndpointUpload) {
		return
	}
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		respond.WriteBadRequest(w, "expected multipart form with a file field")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		respond.WriteBadRequest(w, "missing file field")
		return
	}
	defer func() { _ = file.Close() }()

	doc, err := h.svc.Upload(r.Context(), id.UserID, header.Filename, file)
	if err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusCreated, doc)
}

// ListDocuments GET /api/documents
func (h *DocumentHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	docs, err := h.svc.ListDocuments(r.Context(), id.UserID)
	if err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	respond.WriteJSON(w, http.StatusOK, map[string]interface{}{"documents": docs, "count": len(docs)})
}

// Delete DELETE /api/documents/{documentId}
func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}
	if !admit(w, r, h.limiter, id.UserID, ratelimit.EndpointDocumentDelete) {
		return
	}
	if err := h.svc.Delete(r.Context(), id.UserID, mux.Vars(r)["documentId"]); err != nil {
		respond.WriteServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

package api

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"collabwrite/internal/access"
	"collabwrite/internal/middleware"
	"collabwrite/internal/models"
	"collabwrite/internal/repository"
	"collabwrite/internal/sanitize"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	msgForbidden = "Not authorized"
	msgNotFound  = "Document not found"
)

var (
	errForbidden = errors.New("not authorized")
	errNotFound  = errors.New("document not found")
)

// Handler handles HTTP requests
type Handler struct {
	docs      DocumentRepository
	users     UserRepository
	tokens    TokenIssuer
	presence  PresenceReader
	clientURL string
	log       *zap.Logger
}

func NewHandler(
	docs DocumentRepository,
	users UserRepository,
	tokens TokenIssuer,
	presence PresenceReader,
	clientURL string,
	log *zap.Logger,
) *Handler {
	return &Handler{
		docs:      docs,
		users:     users,
		tokens:    tokens,
		presence:  presence,
		clientURL: strings.TrimRight(clientURL, "/"),
		log:       log,
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"message": message,
	})
}

// internalError logs err and hides it from the client
func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, err error) {
	middleware.AddSpanError(r.Context(), err)
	h.log.Error("request failed",
		zap.String("request_id", middleware.GetRequestID(r.Context())),
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
	writeError(w, http.StatusInternalServerError, "Internal server error")
}

// loadDocument fetches the document named in the route and the caller's role on it
func (h *Handler) loadDocument(r *http.Request) (*models.Document, models.Role, error) {
	id := mux.Vars(r)["id"]
	doc, err := h.docs.FindByID(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, models.RoleNone, errNotFound
	}
	if err != nil {
		return nil, models.RoleNone, err
	}

	role, ok := access.ResolveRole(doc, middleware.UserID(r.Context()))
	if !ok {
		return doc, models.RoleNone, errForbidden
	}
	return doc, role, nil
}

// documentError writes the response for a loadDocument failure and reports whether there was one
func (h *Handler) documentError(w http.ResponseWriter, r *http.Request, err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, errNotFound):
		writeError(w, http.StatusNotFound, msgNotFound)
	case errors.Is(err, errForbidden):
		writeError(w, http.StatusForbidden, msgForbidden)
	default:
		h.internalError(w, r, err)
	}
	return true
}

// Document handlers

func (h *Handler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	var in models.DocumentCreate
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}
	in.Title = sanitize.Title(in.Title)
	in.Content = sanitize.HTML(in.Content)

	created, err := h.docs.Create(r.Context(), middleware.UserID(r.Context()), &in)
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"success":  true,
		"message":  "Document created successfully",
		"document": created,
	})
}

// ListDocuments returns the caller's own documents, most recently updated first
func (h *Handler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	documents, err := h.docs.ListOwned(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	if documents == nil {
		documents = []*models.Document{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"count":     len(documents),
		"documents": documents,
	})
}

func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, role, err := h.loadDocument(r)
	if h.documentError(w, r, err) {
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"document": doc,
		"role":     role,
	})
}

func (h *Handler) UpdateDocument(w http.ResponseWriter, r *http.Request) {
	doc, role, err := h.loadDocument(r)
	if h.documentError(w, r, err) {
		return
	}
	if !access.CanEdit(role) {
		writeError(w, http.StatusForbidden, msgForbidden)
		return
	}

	var update models.DocumentUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if update.Title != nil {
		title := sanitize.Title(*update.Title)
		if title == "" {
			update.Title = nil
		} else {
			update.Title = &title
		}
	}
	if update.Content != nil {
		content := sanitize.HTML(*update.Content)
		update.Content = &content
	}

	updated, err := h.docs.Update(r.Context(), doc.ID, &update)
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"message":  "Document updated successfully",
		"document": updated,
	})
}

func (h *Handler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	doc, role, err := h.loadDocument(r)
	if h.documentError(w, r, err) {
		return
	}
	if role != models.RoleOwner {
		writeError(w, http.StatusForbidden, msgForbidden)
		return
	}

	if err := h.docs.Delete(r.Context(), doc.ID); err != nil {
		h.internalError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Document deleted successfully",
	})
}

// Sharing

// ShareDocument grants a registered user viewer or editor access, replacing an earlier grant
func (h *Handler) ShareDocument(w http.ResponseWriter, r *http.Request) {
	doc, role, err := h.loadDocument(r)
	if h.documentError(w, r, err) {
		return
	}
	if role != models.RoleOwner {
		writeError(w, http.StatusForbidden, msgForbidden)
		return
	}

	var req models.ShareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Role == models.RoleNone {
		req.Role = models.RoleViewer
	}
	if !req.Role.Valid() {
		writeError(w, http.StatusBadRequest, "Role must be viewer or editor")
		return
	}
	if !validEmail(req.Email) {
		writeError(w, http.StatusBadRequest, "Valid email is required")
		return
	}

	target, err := h.users.FindByEmail(r.Context(), req.Email)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusBadRequest, "User not found")
		return
	}
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	if target.ID == doc.OwnerID {
		writeError(w, http.StatusBadRequest, "Cannot share document with yourself")
		return
	}

	ctx, span := middleware.StartSpan(r.Context(), "Handler.ShareDocument",
		attribute.String("document.id", doc.ID),
		attribute.String("share.role", string(req.Role)),
	)
	defer span.End()

	if err := h.docs.Share(ctx, doc.ID, target.ID, req.Role); err != nil {
		h.internalError(w, r, err)
		return
	}
	shared, err := h.docs.FindByID(ctx, doc.ID)
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"message":  "Document shared successfully",
		"document": shared,
	})
}

func (h *Handler) UnshareDocument(w http.ResponseWriter, r *http.Request) {
	doc, role, err := h.loadDocument(r)
	if h.documentError(w, r, err) {
		return
	}
	if role != models.RoleOwner {
		writeError(w, http.StatusForbidden, msgForbidden)
		return
	}

	err = h.docs.Unshare(r.Context(), doc.ID, mux.Vars(r)["userId"])
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Collaborator not found")
		return
	}
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Access revoked",
	})
}

// GenerateShareLink makes the document public under a fresh random token
func (h *Handler) GenerateShareLink(w http.ResponseWriter, r *http.Request) {
	doc, role, err := h.loadDocument(r)
	if h.documentError(w, r, err) {
		return
	}
	if role != models.RoleOwner {
		writeError(w, http.StatusForbidden, msgForbidden)
		return
	}

	var req models.ShareLinkRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}
	if req.Permission == models.RoleNone {
		req.Permission = models.RoleViewer
	}
	if !req.Permission.Valid() {
		writeError(w, http.StatusBadRequest, "Permission must be viewer or editor")
		return
	}

	token, err := newShareToken()
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	if err := h.docs.SetShareLink(r.Context(), doc.ID, token, req.Permission); err != nil {
		h.internalError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"message":    "Share link generated successfully",
		"shareLink":  fmt.Sprintf("%s/editor/%s?token=%s&permission=%s", h.clientURL, doc.ID, token, req.Permission),
		"permission": req.Permission,
	})
}

// GetSharedDocument resolves a share token to its public document
func (h *Handler) GetSharedDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.docs.FindByShareToken(r.Context(), mux.Vars(r)["token"])
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Share link is invalid or has been revoked")
		return
	}
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"document":   doc,
		"permission": doc.SharePermission,
	})
}

// newShareToken returns 32 random bytes, hex encoded
func newShareToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate share token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

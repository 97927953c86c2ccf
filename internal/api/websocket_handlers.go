package api

import (
	"net/http"
)

// Collaboration endpoints

// DocumentPresence lists who is connected to the document right now
func (h *Handler) DocumentPresence(w http.ResponseWriter, r *http.Request) {
	doc, _, err := h.loadDocument(r)
	if h.documentError(w, r, err) {
		return
	}

	snap, err := h.presence.Presence(r.Context(), doc.ID)
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"presence": snap,
	})
}

package handlers

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hy2panel/subpanel-backend/pkg/clientip"
)

// minTokenLength rejects obviously malformed secrets before touching the
// store; real secrets are 64 hex chars.
const minTokenLength = 32

// Subscription serves GET /sub/{token}: the base64 node list plus the
// Subscription-Userinfo quota header clients parse.
func (h *Handler) Subscription(w http.ResponseWriter, r *http.Request) {
	secret := chi.URLParam(r, "token")
	if len(secret) < minTokenLength {
		http.NotFound(w, r)
		return
	}

	content, err := h.Subs.Generate(r.Context(), secret, clientip.FromRequest(r), r.UserAgent())
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="subscription.txt"`)
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	w.Header().Set("Subscription-Userinfo", fmt.Sprintf(
		"upload=%d; download=%d; total=%d; expire=%d",
		content.Upload, content.Download, content.Total, content.Expire.Unix()))
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(content.Body))
}

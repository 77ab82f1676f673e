package handlers

import (
	"encoding/json"
	"net/http"
)

// HysteriaAuth answers the proxy runtime's connection-time auth callback.
// The runtime treats any non-200 answer as a refusal and retries, so this
// endpoint always answers 200 with an ok flag, even on malformed input.
func (h *Handler) HysteriaAuth(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Addr string `json:"addr"`
		Auth string `json:"auth"`
		TX   int64  `json:"tx"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"ok": false})
		return
	}
	r.Body.Close()

	ok, id := h.Gateway.Authenticate(r.Context(), req.Addr, req.Auth)
	resp := map[string]any{"ok": ok}
	if ok {
		resp["id"] = id
	}
	writeJSON(w, http.StatusOK, resp)
}

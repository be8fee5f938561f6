package handlers

import (
	"crypto/hmac"
	"encoding/json"
	"errors"
	"net/http"

	"storyboard/internal/domain"
	"storyboard/internal/orchestrator"
)

// ExecutorCallback receives push notifications from executors. The endpoint
// is authenticated by a shared token, not a principal bearer token, because
// executors act on behalf of no principal.
func (a *App) ExecutorCallback(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get("X-Callback-Token")
	if a.CallbackToken == "" || !hmac.Equal([]byte(token), []byte(a.CallbackToken)) {
		a.error(w, http.StatusUnauthorized, "unauthorized", "invalid callback token")
		return
	}
	var cb orchestrator.CallbackPayload
	if err := json.NewDecoder(r.Body).Decode(&cb); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if err := a.Callbacks.HandleCallback(r.Context(), cb); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "unknown executor job")
			return
		}
		a.domainError(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]string{"status": "accepted"})
}

package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"toolgrid.org/internal/access"
)

// handleAuditStream serves the admin activity feed over SSE. Events recorded
// anywhere in the engine appear here as one data line each.
func (a *API) handleAuditStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	actor, ok := a.requireActor(w, r)
	if !ok {
		return
	}
	if actor.Role != access.RoleAdmin && actor.Role != access.RoleSuperAdmin {
		writeError(w, r, http.StatusForbidden, "admin role required")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events := a.events.Subscribe(r.Context())
	for event := range events {
		payload, err := json.Marshal(event)
		if err != nil {
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return
		}
		flusher.Flush()
	}
}

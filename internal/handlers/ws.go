package handlers

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"

	"github.com/eldtechnologies/chatrelay/internal/api/middleware"
)

func newUpgrader(origins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || len(origins) == 0 || lo.Contains(origins, "*") || lo.Contains(origins, origin)
		},
	}
}

// Websocket upgrades the caller to the realtime event stream. The connection's
// identity is the caller's user; events name no other sender.
func (h *Handler) Websocket(w http.ResponseWriter, r *http.Request) {
	if h.gateway == nil {
		h.Error(w, http.StatusServiceUnavailable, "realtime disabled")
		return
	}

	userID := middleware.UserIDFromContext(r.Context())
	user, err := h.db.GetUserByID(r.Context(), userID)
	if err != nil {
		h.Fail(w, err)
		return
	}
	if user == nil {
		h.Error(w, http.StatusNotFound, "user not found")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response
		h.logger.Debug().Err(err).Int64("user_id", userID).Msg("websocket upgrade failed")
		return
	}

	h.gateway.Serve(r.Context(), conn, user.ID, user.Username)
}

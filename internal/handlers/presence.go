package handlers

import "net/http"

// OnlineUsers returns the presence snapshot of this instance.
func (h *Handler) OnlineUsers(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, h.presence.Snapshot())
}

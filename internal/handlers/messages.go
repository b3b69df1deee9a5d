package handlers

import (
	"net/http"
	"strconv"

	"github.com/eldtechnologies/chatrelay/internal/api/middleware"
	"github.com/eldtechnologies/chatrelay/internal/models"
)

// PostMessageRequest represents the post message request body.
type PostMessageRequest struct {
	Content     string `json:"content" validate:"required"`
	MessageType string `json:"messageType" validate:"omitempty,oneof=CHAT JOIN LEAVE SYSTEM"`
}

// CountResponse represents the message count response.
type CountResponse struct {
	Count int64 `json:"count"`
}

// ListMessages returns one page of a room's history, oldest first within the page.
// Page 0 holds the most recent messages.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	room, ok := h.memberRoom(w, r)
	if !ok {
		return
	}

	page := queryInt(r, "page", 0)
	if raw := r.URL.Query().Get("page"); raw != "" && strconv.Itoa(page) != raw {
		h.Error(w, http.StatusBadRequest, "page must be a non-negative integer")
		return
	}
	size := h.pageSize(queryInt(r, "size", 0))

	messages, err := h.messages.Page(r.Context(), room.ID, page, size)
	if err != nil {
		h.Fail(w, err)
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}
	h.JSON(w, http.StatusOK, messages)
}

// LatestMessages returns the most recent messages of a room.
func (h *Handler) LatestMessages(w http.ResponseWriter, r *http.Request) {
	room, ok := h.memberRoom(w, r)
	if !ok {
		return
	}

	messages, err := h.messages.Latest(r.Context(), room.ID, h.pageSize(queryInt(r, "limit", 0)))
	if err != nil {
		h.Fail(w, err)
		return
	}
	if messages == nil {
		messages = []models.Message{}
	}
	h.JSON(w, http.StatusOK, messages)
}

// CountMessages returns the number of messages in a room.
func (h *Handler) CountMessages(w http.ResponseWriter, r *http.Request) {
	room, ok := h.memberRoom(w, r)
	if !ok {
		return
	}

	count, err := h.messages.Count(r.Context(), room.ID)
	if err != nil {
		h.Fail(w, err)
		return
	}
	h.JSON(w, http.StatusOK, CountResponse{Count: count})
}

// PostMessage appends a message to a room's durable log. Live delivery goes
// through the websocket path, not this endpoint.
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	roomID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}

	var req PostMessageRequest
	if !h.decode(w, r, &req) {
		return
	}

	msg, err := h.messages.Append(r.Context(), roomID, middleware.UserIDFromContext(r.Context()),
		req.Content, models.MessageType(req.MessageType))
	if err != nil {
		h.Fail(w, err)
		return
	}
	h.JSON(w, http.StatusCreated, msg)
}

package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/eldtechnologies/chatrelay/internal/api/middleware"
	"github.com/eldtechnologies/chatrelay/internal/chat"
	"github.com/eldtechnologies/chatrelay/internal/models"
)

// CreateGroupRequest represents the group creation request body.
type CreateGroupRequest struct {
	Name           string  `json:"name" validate:"required,max=100"`
	Description    string  `json:"description" validate:"max=500"`
	ParticipantIDs []int64 `json:"participantIds" validate:"max=256,dive,gt=0"`
}

// CreatePrivateRoom returns the private room between the caller and userId2,
// creating it on first request.
func (h *Handler) CreatePrivateRoom(w http.ResponseWriter, r *http.Request) {
	other, ok := h.pathID(w, r, "userId2")
	if !ok {
		return
	}

	room, err := h.registry.GetOrCreatePrivateRoom(r.Context(), middleware.UserIDFromContext(r.Context()), other)
	if err != nil {
		h.Fail(w, err)
		return
	}
	h.JSON(w, http.StatusOK, room)
}

// CreateGroupRoom creates a group owned by the caller. Unknown participant ids
// are skipped and reported back.
func (h *Handler) CreateGroupRoom(w http.ResponseWriter, r *http.Request) {
	var req CreateGroupRequest
	if !h.decode(w, r, &req) {
		return
	}

	name := sanitizeName(req.Name)
	if name == "" {
		h.Error(w, http.StatusBadRequest, "name is required")
		return
	}

	result, err := h.registry.CreateGroupRoom(r.Context(), name, strings.TrimSpace(req.Description),
		middleware.UserIDFromContext(r.Context()), req.ParticipantIDs)
	if err != nil {
		h.Fail(w, err)
		return
	}
	h.JSON(w, http.StatusCreated, result)
}

// ListRooms lists the caller's rooms, most recently active first.
// An optional type query of private or group filters the result.
func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())

	var roomType models.RoomType
	switch t := strings.ToLower(r.URL.Query().Get("type")); t {
	case "":
	case "private":
		roomType = models.RoomPrivate
	case "group":
		roomType = models.RoomGroup
	default:
		h.Error(w, http.StatusBadRequest, fmt.Sprintf("unknown room type %q", t))
		return
	}

	rooms, err := h.registry.ListRoomsForUser(r.Context(), userID, roomType)
	if err != nil {
		h.Fail(w, err)
		return
	}
	if rooms == nil {
		rooms = []models.Room{}
	}
	h.JSON(w, http.StatusOK, rooms)
}

// GetRoom returns a room's details to its participants.
func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
	room, ok := h.memberRoom(w, r)
	if !ok {
		return
	}
	h.JSON(w, http.StatusOK, room)
}

// AddParticipant adds participantId to a group the caller belongs to.
func (h *Handler) AddParticipant(w http.ResponseWriter, r *http.Request) {
	roomID, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	participantID, ok := h.pathID(w, r, "participantId")
	if !ok {
		return
	}

	room, err := h.registry.AddParticipant(r.Context(), roomID, participantID, middleware.UserIDFromContext(r.Context()))
	if err != nil {
		h.Fail(w, err)
		return
	}
	h.JSON(w, http.StatusOK, room)
}

// memberRoom loads the room named by the id URL parameter and checks that the
// caller participates in it. It writes the error response itself.
func (h *Handler) memberRoom(w http.ResponseWriter, r *http.Request) (*models.Room, bool) {
	roomID, ok := h.pathID(w, r, "id")
	if !ok {
		return nil, false
	}

	room, err := h.registry.GetRoom(r.Context(), roomID)
	if err != nil {
		h.Fail(w, err)
		return nil, false
	}
	if !chat.IsParticipant(room, middleware.UserIDFromContext(r.Context())) {
		h.Fail(w, fmt.Errorf("room %d: %w", roomID, chat.ErrPermissionDenied))
		return nil, false
	}
	return room, true
}

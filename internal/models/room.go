package models

import (
	"strconv"
	"time"

	"github.com/samber/lo"
)

// RoomType distinguishes two-party rooms from multi-party rooms.
type RoomType string

const (
	RoomPrivate RoomType = "PRIVATE"
	RoomGroup   RoomType = "GROUP"
)

// Room represents a chat room and its participant set.
type Room struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Type         RoomType  `json:"type"`
	CreatedBy    int64     `json:"createdBy"`
	Description  string    `json:"description,omitempty"`
	Participants []User    `json:"participants"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// HasParticipant reports whether userID belongs to the room.
func (r *Room) HasParticipant(userID int64) bool {
	return lo.ContainsBy(r.Participants, func(u User) bool { return u.ID == userID })
}

// ParticipantIDs returns the ids of all participants.
func (r *Room) ParticipantIDs() []int64 {
	return lo.Map(r.Participants, func(u User, _ int) int64 { return u.ID })
}

// PairKey returns the order-independent key of a two-party room.
// Both orderings of the same pair produce the same key.
func PairKey(a, b int64) string {
	return strconv.FormatInt(min(a, b), 10) + ":" + strconv.FormatInt(max(a, b), 10)
}

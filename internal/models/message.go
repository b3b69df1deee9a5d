package models

import "time"

// MessageType classifies a persisted message.
type MessageType string

const (
	MessageChat   MessageType = "CHAT"
	MessageJoin   MessageType = "JOIN"
	MessageLeave  MessageType = "LEAVE"
	MessageSystem MessageType = "SYSTEM"
)

// Valid reports whether t is one of the persisted message types.
func (t MessageType) Valid() bool {
	switch t {
	case MessageChat, MessageJoin, MessageLeave, MessageSystem:
		return true
	}
	return false
}

// Message represents an immutable chat message appended to a room's log.
type Message struct {
	ID          int64       `json:"id"`
	RoomID      int64       `json:"chatRoomId"`
	SenderID    int64       `json:"senderId"`
	Sender      *User       `json:"sender,omitempty"`
	Content     string      `json:"content"`
	MessageType MessageType `json:"messageType"`
	Timestamp   time.Time   `json:"timestamp"`
}

package chat

import (
	"strconv"
	"strings"
)

// PublicTopic is the topic every connection is subscribed to.
const PublicTopic = "public"

const groupTopicPrefix = "group/"

// GroupTopic returns the topic name for a group room.
func GroupTopic(roomID int64) string {
	return groupTopicPrefix + strconv.FormatInt(roomID, 10)
}

// ParseGroupTopic extracts the room id from a group topic name.
func ParseGroupTopic(topic string) (int64, bool) {
	rest, ok := strings.CutPrefix(topic, groupTopicPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// Presence carries the online set on presence broadcasts.
type Presence struct {
	OnlineCount int      `json:"onlineCount"`
	OnlineUsers []string `json:"onlineUsers"`
}

// Payload is the outbound event handed to a Sink. The transport must
// preserve its fields verbatim.
type Payload struct {
	Username    string `json:"username"`
	Content     string `json:"content"`
	MessageType string `json:"messageType"`
	Timestamp   int64  `json:"timestamp"`

	TargetUser string `json:"targetUser,omitempty"`
	IsPrivate  bool   `json:"isPrivate,omitempty"`

	ChatRoomID *int64 `json:"chatRoomId,omitempty"`
	IsGroup    bool   `json:"isGroup,omitempty"`

	*Presence
}

// Sink delivers payloads to connected users and topic subscribers.
// Delivery is best effort: a recipient that is not connected is a no-op.
type Sink interface {
	DeliverToUser(username string, p Payload) error
	DeliverToTopic(topic string, p Payload) error
	DeliverToPublic(p Payload) error
}

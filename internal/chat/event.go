package chat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Kind names an inbound realtime action.
type Kind string

const (
	KindSendMessage Kind = "sendMessage"
	KindAddUser     Kind = "addUser"
	KindUserOnline  Kind = "userOnline"
	KindUserOffline Kind = "userOffline"
)

// Event is one decoded inbound realtime event.
type Event struct {
	Kind        Kind   `json:"action" validate:"required,oneof=sendMessage addUser userOnline userOffline"`
	Username    string `json:"username" validate:"required"`
	Content     string `json:"content" validate:"required_if=Kind sendMessage"`
	MessageType string `json:"messageType" validate:"required_if=Kind sendMessage"`
	TargetUser  string `json:"targetUser,omitempty"`
	ChatRoomID  *int64 `json:"chatRoomId,omitempty"`
}

// Validate checks the required fields for the event kind.
func (e Event) Validate() error {
	if err := validate.Struct(e); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return nil
}

type wireEvent struct {
	Action      string          `json:"action"`
	Username    string          `json:"username"`
	Content     string          `json:"content"`
	MessageType string          `json:"messageType"`
	TargetUser  string          `json:"targetUser"`
	ChatRoomID  json.RawMessage `json:"chatRoomId"`
}

// DecodeEvent parses and validates a realtime event frame.
// chatRoomId may be a JSON number or a numeric string.
func DecodeEvent(data []byte) (Event, error) {
	ev, err := decodeWire(data)
	if err != nil {
		return Event{}, err
	}
	if err := ev.Validate(); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// DecodeEventFor decodes a frame sent on a connection identified as username.
// The connection identity replaces any username in the frame.
func DecodeEventFor(data []byte, username string) (Event, error) {
	ev, err := decodeWire(data)
	if err != nil {
		return Event{}, err
	}
	ev.Username = username
	if err := ev.Validate(); err != nil {
		return Event{}, err
	}
	return ev, nil
}

func decodeWire(data []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	ev := Event{
		Kind:        Kind(w.Action),
		Username:    w.Username,
		Content:     w.Content,
		MessageType: w.MessageType,
		TargetUser:  w.TargetUser,
	}

	id, ok, err := parseRoomID(w.ChatRoomID)
	if err != nil {
		return Event{}, err
	}
	if ok {
		ev.ChatRoomID = &id
	}
	return ev, nil
}

func parseRoomID(raw json.RawMessage) (int64, bool, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, false, nil
	}

	text := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return 0, false, fmt.Errorf("%w: chatRoomId: %v", ErrMalformedEvent, err)
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return 0, false, nil
		}
	}

	id, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("%w: chatRoomId %q is not an integer", ErrMalformedEvent, text)
	}
	return id, true, nil
}

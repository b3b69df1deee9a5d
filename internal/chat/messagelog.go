package chat

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/eldtechnologies/chatrelay/internal/metrics"
	"github.com/eldtechnologies/chatrelay/internal/models"
	"github.com/eldtechnologies/chatrelay/internal/store"
)

// DefaultMaxContentLength is the content bound used when none is configured.
const DefaultMaxContentLength = 1000

// MessageLog is the append-only, per-room ordered message history.
type MessageLog struct {
	store     store.DataStore
	logger    zerolog.Logger
	maxLength int
	now       func() time.Time

	mu     sync.Mutex
	clocks map[int64]*roomClock
}

// roomClock serializes appends to one room and remembers the last timestamp.
type roomClock struct {
	mu   sync.Mutex
	last time.Time
}

// NewMessageLog creates a message log. maxLength bounds content in runes.
func NewMessageLog(ds store.DataStore, logger zerolog.Logger, maxLength int) *MessageLog {
	if maxLength <= 0 {
		maxLength = DefaultMaxContentLength
	}
	return &MessageLog{
		store:     ds,
		logger:    logger.With().Str("component", "messagelog").Logger(),
		maxLength: maxLength,
		now:       time.Now,
		clocks:    make(map[int64]*roomClock),
	}
}

func (l *MessageLog) clock(roomID int64) *roomClock {
	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.clocks[roomID]
	if !ok {
		c = &roomClock{}
		l.clocks[roomID] = c
	}
	return c
}

// Append persists a message from senderID, who must be a participant of roomID.
// An empty messageType defaults to CHAT.
func (l *MessageLog) Append(ctx context.Context, roomID, senderID int64, content string, messageType models.MessageType) (*models.Message, error) {
	if messageType == "" {
		messageType = models.MessageChat
	}
	if !messageType.Valid() {
		return nil, fmt.Errorf("%w: message type %q", ErrInvalidInput, messageType)
	}
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: content is required", ErrInvalidInput)
	}
	if n := utf8.RuneCountInString(content); n > l.maxLength {
		return nil, fmt.Errorf("%w: content is %d characters, limit is %d", ErrInvalidInput, n, l.maxLength)
	}

	room, err := l.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room == nil {
		return nil, fmt.Errorf("room %d: %w", roomID, ErrNotFound)
	}
	sender, err := l.store.GetUserByID(ctx, senderID)
	if err != nil {
		return nil, err
	}
	if sender == nil {
		return nil, fmt.Errorf("user %d: %w", senderID, ErrNotFound)
	}
	if !IsParticipant(room, senderID) {
		return nil, fmt.Errorf("sender %d in room %d: %w", senderID, roomID, ErrPermissionDenied)
	}

	c := l.clock(roomID)
	c.mu.Lock()
	defer c.mu.Unlock()

	ts := l.now().UTC().Truncate(time.Millisecond)
	if ts.Before(c.last) {
		ts = c.last
	}

	msg, err := l.store.CreateMessage(ctx, &models.Message{
		RoomID:      roomID,
		SenderID:    senderID,
		Content:     content,
		MessageType: messageType,
		Timestamp:   ts,
	})
	if err != nil {
		return nil, err
	}
	c.last = ts
	msg.Sender = sender

	metrics.MessagesPersisted.WithLabelValues(string(messageType)).Inc()
	l.logger.Debug().
		Int64("room_id", roomID).
		Int64("message_id", msg.ID).
		Str("type", string(messageType)).
		Msg("message appended")

	return msg, nil
}

// Page returns the pageIndex-th page of pageSize messages counted from the newest,
// in ascending time order. Past the end it returns an empty slice.
func (l *MessageLog) Page(ctx context.Context, roomID int64, pageIndex, pageSize int) ([]models.Message, error) {
	if pageIndex < 0 {
		return nil, fmt.Errorf("%w: page index %d", ErrInvalidInput, pageIndex)
	}
	if pageSize <= 0 {
		return nil, fmt.Errorf("%w: page size %d", ErrInvalidInput, pageSize)
	}
	if err := l.requireRoom(ctx, roomID); err != nil {
		return nil, err
	}
	// An offset past MaxInt cannot hold any message.
	if pageIndex > math.MaxInt/pageSize {
		return []models.Message{}, nil
	}

	messages, err := l.store.ListMessages(ctx, roomID, pageSize, pageIndex*pageSize)
	if err != nil {
		return nil, err
	}
	return lo.Reverse(messages), nil
}

// Latest returns the newest limit messages in ascending time order.
func (l *MessageLog) Latest(ctx context.Context, roomID int64, limit int) ([]models.Message, error) {
	return l.Page(ctx, roomID, 0, limit)
}

// Count returns the number of messages in a room.
func (l *MessageLog) Count(ctx context.Context, roomID int64) (int64, error) {
	if err := l.requireRoom(ctx, roomID); err != nil {
		return 0, err
	}
	return l.store.CountMessages(ctx, roomID)
}

func (l *MessageLog) requireRoom(ctx context.Context, roomID int64) error {
	room, err := l.store.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if room == nil {
		return fmt.Errorf("room %d: %w", roomID, ErrNotFound)
	}
	return nil
}

package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/eldtechnologies/chatrelay/internal/models"
)

var (
	// ErrDuplicatePrivateRoom is returned when a private room for the same pair already exists.
	ErrDuplicatePrivateRoom = errors.New("private room already exists for pair")
	// ErrDuplicateUser is returned when a username or phone number is already registered.
	ErrDuplicateUser = errors.New("user already exists")
)

// DataStore defines the interface for persistent storage of users, rooms and messages.
// Both PostgresStore and SQLiteStore implement this interface.
// Lookups return (nil, nil) when the row does not exist.
type DataStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// User operations
	CreateUser(ctx context.Context, username, name, phone, passwordHash string) (*models.User, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetUserByLogin(ctx context.Context, usernameOrPhone string) (*models.User, error)
	GetUserByPhone(ctx context.Context, phone string) (*models.User, error)
	GetUserCredentials(ctx context.Context, id int64) (string, error)
	SetUserOnline(ctx context.Context, id int64, online bool) error

	// Contact operations. Contacts are symmetric: adding or removing one
	// side always applies to both. AddContact reports false when the pair
	// was already linked, RemoveContact when it was not.
	AddContact(ctx context.Context, userID, contactID int64) (bool, error)
	RemoveContact(ctx context.Context, userID, contactID int64) (bool, error)
	ListContacts(ctx context.Context, userID int64) ([]models.User, error)
	SearchUsers(ctx context.Context, query string, limit int) ([]models.User, error)

	// Room operations
	CreateRoom(ctx context.Context, room *models.Room) (*models.Room, error)
	GetRoom(ctx context.Context, id int64) (*models.Room, error)
	FindPrivateRoomBetween(ctx context.Context, userA, userB int64) (*models.Room, error)
	ListRoomsByParticipant(ctx context.Context, userID int64, roomType models.RoomType) ([]models.Room, error)
	AddParticipant(ctx context.Context, roomID, userID int64) (*models.Room, error)
	IsParticipant(ctx context.Context, roomID, userID int64) (bool, error)

	// Message operations
	CreateMessage(ctx context.Context, msg *models.Message) (*models.Message, error)
	ListMessages(ctx context.Context, roomID int64, limit, offset int) ([]models.Message, error)
	CountMessages(ctx context.Context, roomID int64) (int64, error)
}

// pairKeyFor returns the unique pair key stored on private rooms, or nil for group rooms.
func pairKeyFor(room *models.Room) *string {
	if room.Type != models.RoomPrivate || len(room.Participants) != 2 {
		return nil
	}
	key := models.PairKey(room.Participants[0].ID, room.Participants[1].ID)
	return &key
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern builds a LIKE pattern matching query anywhere, with
// wildcards in query taken literally. Use with ESCAPE '\'.
func containsPattern(query string) string {
	return "%" + likeEscaper.Replace(query) + "%"
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

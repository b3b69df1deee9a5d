package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/eldtechnologies/chatrelay/internal/models"
)

// SQLiteStore handles SQLite database operations.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/chatrelay.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/chatrelay.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	// A single connection serializes writers; SQLite allows only one at a time anyway.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	store := &SQLiteStore{db: db}

	// Initialize schema
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT UNIQUE NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		phone_number TEXT UNIQUE,
		password_hash TEXT NOT NULL DEFAULT '',
		is_online INTEGER NOT NULL DEFAULT 0,
		last_seen INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chat_rooms (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		type TEXT NOT NULL CHECK (type IN ('PRIVATE', 'GROUP')),
		created_by INTEGER NOT NULL REFERENCES users(id),
		description TEXT NOT NULL DEFAULT '',
		pair_key TEXT UNIQUE,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS chat_room_participants (
		chat_room_id INTEGER NOT NULL REFERENCES chat_rooms(id),
		user_id INTEGER NOT NULL REFERENCES users(id),
		joined_at INTEGER NOT NULL,
		PRIMARY KEY (chat_room_id, user_id)
	);

	CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		chat_room_id INTEGER NOT NULL REFERENCES chat_rooms(id),
		sender_id INTEGER NOT NULL REFERENCES users(id),
		content TEXT NOT NULL,
		message_type TEXT NOT NULL DEFAULT 'CHAT',
		timestamp INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS contacts (
		user_id INTEGER NOT NULL REFERENCES users(id),
		contact_id INTEGER NOT NULL REFERENCES users(id),
		created_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, contact_id)
	);

	CREATE INDEX IF NOT EXISTS idx_participants_user ON chat_room_participants(user_id);
	CREATE INDEX IF NOT EXISTS idx_messages_room_ts ON messages(chat_room_id, timestamp DESC, id DESC);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// isUniqueViolation reports whether err is a SQLite UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

const sqliteUserColumns = `id, username, name, COALESCE(phone_number, ''), is_online, last_seen, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteUser(row rowScanner) (*models.User, error) {
	user := &models.User{}
	var online int
	var lastSeen, createdAt int64
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Name,
		&user.PhoneNumber,
		&online,
		&lastSeen,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}
	user.Online = online == 1
	user.LastSeen = fromMillis(lastSeen)
	user.CreatedAt = fromMillis(createdAt)
	return user, nil
}

// CreateUser creates a new user record.
func (s *SQLiteStore) CreateUser(ctx context.Context, username, name, phone, passwordHash string) (*models.User, error) {
	now := time.Now().UnixMilli()

	var phonePtr *string
	if phone != "" {
		phonePtr = &phone
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, name, phone_number, password_hash, last_seen, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, username, name, phonePtr, passwordHash, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateUser
		}
		return nil, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return s.GetUserByID(ctx, id)
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	return s.getUser(ctx, `SELECT `+sqliteUserColumns+` FROM users WHERE id = ?`, id)
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.getUser(ctx, `SELECT `+sqliteUserColumns+` FROM users WHERE username = ?`, username)
}

// GetUserByLogin retrieves a user by username or phone number.
func (s *SQLiteStore) GetUserByLogin(ctx context.Context, usernameOrPhone string) (*models.User, error) {
	return s.getUser(ctx, `SELECT `+sqliteUserColumns+` FROM users WHERE username = ? OR phone_number = ?`,
		usernameOrPhone, usernameOrPhone)
}

// GetUserByPhone retrieves a user by phone number.
func (s *SQLiteStore) GetUserByPhone(ctx context.Context, phone string) (*models.User, error) {
	return s.getUser(ctx, `SELECT `+sqliteUserColumns+` FROM users WHERE phone_number = ?`, phone)
}

func (s *SQLiteStore) getUser(ctx context.Context, query string, args ...any) (*models.User, error) {
	user, err := scanSQLiteUser(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// GetUserCredentials retrieves the stored password hash for a user.
func (s *SQLiteStore) GetUserCredentials(ctx context.Context, id int64) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, `SELECT password_hash FROM users WHERE id = ?`, id).Scan(&hash)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return hash, nil
}

// SetUserOnline updates the online flag; going offline also stamps last_seen.
func (s *SQLiteStore) SetUserOnline(ctx context.Context, id int64, online bool) error {
	onlineInt := 0
	if online {
		onlineInt = 1
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET is_online = ?, last_seen = CASE WHEN ? = 0 THEN ? ELSE last_seen END
		WHERE id = ?
	`, onlineInt, onlineInt, time.Now().UnixMilli(), id)
	return err
}

// AddContact links two users in both directions.
func (s *SQLiteStore) AddContact(ctx context.Context, userID, contactID int64) (bool, error) {
	now := time.Now().UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO contacts (user_id, contact_id, created_at) VALUES (?, ?, ?)
	`, userID, contactID, now)
	if err != nil {
		return false, err
	}
	added, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO contacts (user_id, contact_id, created_at) VALUES (?, ?, ?)
	`, contactID, userID, now); err != nil {
		return false, err
	}

	return added > 0, tx.Commit()
}

// RemoveContact unlinks two users in both directions.
func (s *SQLiteStore) RemoveContact(ctx context.Context, userID, contactID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM contacts
		WHERE (user_id = ? AND contact_id = ?) OR (user_id = ? AND contact_id = ?)
	`, userID, contactID, contactID, userID)
	if err != nil {
		return false, err
	}
	removed, err := res.RowsAffected()
	return removed > 0, err
}

// ListContacts returns a user's contacts ordered by username.
func (s *SQLiteStore) ListContacts(ctx context.Context, userID int64) ([]models.User, error) {
	return s.listUsers(ctx, `
		SELECT u.id, u.username, u.name, COALESCE(u.phone_number, ''), u.is_online, u.last_seen, u.created_at
		FROM contacts c
		JOIN users u ON u.id = c.contact_id
		WHERE c.user_id = ?
		ORDER BY u.username
	`, userID)
}

// SearchUsers matches query case-insensitively against names and usernames.
func (s *SQLiteStore) SearchUsers(ctx context.Context, query string, limit int) ([]models.User, error) {
	pattern := containsPattern(query)
	return s.listUsers(ctx, `
		SELECT `+sqliteUserColumns+`
		FROM users
		WHERE name LIKE ? ESCAPE '\' OR username LIKE ? ESCAPE '\'
		ORDER BY username
		LIMIT ?
	`, pattern, pattern, limit)
}

func (s *SQLiteStore) listUsers(ctx context.Context, query string, args ...any) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		user, err := scanSQLiteUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *user)
	}
	return users, rows.Err()
}

// CreateRoom inserts a room and its participants in one transaction.
func (s *SQLiteStore) CreateRoom(ctx context.Context, room *models.Room) (*models.Room, error) {
	now := time.Now().UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO chat_rooms (name, type, created_by, description, pair_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, room.Name, string(room.Type), room.CreatedBy, room.Description, pairKeyFor(room), now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicatePrivateRoom
		}
		return nil, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	for _, p := range room.Participants {
		_, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO chat_room_participants (chat_room_id, user_id, joined_at)
			VALUES (?, ?, ?)
		`, id, p.ID, now)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return s.GetRoom(ctx, id)
}

const sqliteRoomColumns = `id, name, type, created_by, description, created_at, updated_at`

func scanSQLiteRoom(row rowScanner) (*models.Room, error) {
	room := &models.Room{}
	var roomType string
	var createdAt, updatedAt int64
	err := row.Scan(
		&room.ID,
		&room.Name,
		&roomType,
		&room.CreatedBy,
		&room.Description,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}
	room.Type = models.RoomType(roomType)
	room.CreatedAt = fromMillis(createdAt)
	room.UpdatedAt = fromMillis(updatedAt)
	return room, nil
}

// GetRoom retrieves a room by ID along with its participants.
func (s *SQLiteStore) GetRoom(ctx context.Context, id int64) (*models.Room, error) {
	room, err := scanSQLiteRoom(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteRoomColumns+` FROM chat_rooms WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := s.loadParticipants(ctx, room); err != nil {
		return nil, err
	}
	return room, nil
}

func (s *SQLiteStore) loadParticipants(ctx context.Context, room *models.Room) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.username, u.name, COALESCE(u.phone_number, ''), u.is_online, u.last_seen, u.created_at
		FROM chat_room_participants p
		JOIN users u ON u.id = p.user_id
		WHERE p.chat_room_id = ?
		ORDER BY p.joined_at, p.rowid
	`, room.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	room.Participants = make([]models.User, 0, 2)
	for rows.Next() {
		user, err := scanSQLiteUser(rows)
		if err != nil {
			return err
		}
		room.Participants = append(room.Participants, *user)
	}
	return rows.Err()
}

// FindPrivateRoomBetween retrieves the private room shared by two users, in either order.
func (s *SQLiteStore) FindPrivateRoomBetween(ctx context.Context, userA, userB int64) (*models.Room, error) {
	room, err := scanSQLiteRoom(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteRoomColumns+` FROM chat_rooms WHERE pair_key = ?`, models.PairKey(userA, userB)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := s.loadParticipants(ctx, room); err != nil {
		return nil, err
	}
	return room, nil
}

// ListRoomsByParticipant lists rooms a user belongs to, optionally filtered by type.
func (s *SQLiteStore) ListRoomsByParticipant(ctx context.Context, userID int64, roomType models.RoomType) ([]models.Room, error) {
	query := `
		SELECT r.id, r.name, r.type, r.created_by, r.description, r.created_at, r.updated_at
		FROM chat_rooms r
		JOIN chat_room_participants p ON p.chat_room_id = r.id
		WHERE p.user_id = ?`
	args := []any{userID}
	if roomType != "" {
		query += ` AND r.type = ?`
		args = append(args, string(roomType))
	}
	query += ` ORDER BY r.updated_at DESC, r.id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}

	var rooms []models.Room
	for rows.Next() {
		room, err := scanSQLiteRoom(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		rooms = append(rooms, *room)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	// Release the single connection before loading participants.
	rows.Close()

	for i := range rooms {
		if err := s.loadParticipants(ctx, &rooms[i]); err != nil {
			return nil, err
		}
	}
	return rooms, nil
}

// AddParticipant adds a user to a room and bumps updated_at. Adding an existing participant is a no-op
// apart from the timestamp.
func (s *SQLiteStore) AddParticipant(ctx context.Context, roomID, userID int64) (*models.Room, error) {
	now := time.Now().UnixMilli()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO chat_room_participants (chat_room_id, user_id, joined_at)
		VALUES (?, ?, ?)
	`, roomID, userID, now); err != nil {
		return nil, err
	}

	// updated_at never moves backwards, even when the wall clock does.
	if _, err := tx.ExecContext(ctx, `
		UPDATE chat_rooms SET updated_at = MAX(updated_at + 1, ?) WHERE id = ?
	`, now, roomID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.GetRoom(ctx, roomID)
}

// IsParticipant reports whether a user belongs to a room.
func (s *SQLiteStore) IsParticipant(ctx context.Context, roomID, userID int64) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM chat_room_participants WHERE chat_room_id = ? AND user_id = ?
	`, roomID, userID).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}

// CreateMessage appends a message; the id comes from the table's autoincrement sequence.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *models.Message) (*models.Message, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (chat_room_id, sender_id, content, message_type, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`, msg.RoomID, msg.SenderID, msg.Content, string(msg.MessageType), toMillis(msg.Timestamp))
	if err != nil {
		return nil, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	saved := *msg
	saved.ID = id
	saved.Timestamp = fromMillis(toMillis(msg.Timestamp))
	return &saved, nil
}

// ListMessages retrieves messages newest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, roomID int64, limit, offset int) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.chat_room_id, m.sender_id, m.content, m.message_type, m.timestamp,
		       u.id, u.username, u.name, COALESCE(u.phone_number, ''), u.is_online, u.last_seen, u.created_at
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.chat_room_id = ?
		ORDER BY m.timestamp DESC, m.id DESC
		LIMIT ? OFFSET ?
	`, roomID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]models.Message, 0, limit)
	for rows.Next() {
		var msg models.Message
		var msgType string
		var ts int64
		sender := &models.User{}
		var online int
		var lastSeen, createdAt int64
		err := rows.Scan(
			&msg.ID,
			&msg.RoomID,
			&msg.SenderID,
			&msg.Content,
			&msgType,
			&ts,
			&sender.ID,
			&sender.Username,
			&sender.Name,
			&sender.PhoneNumber,
			&online,
			&lastSeen,
			&createdAt,
		)
		if err != nil {
			return nil, err
		}
		sender.Online = online == 1
		sender.LastSeen = fromMillis(lastSeen)
		sender.CreatedAt = fromMillis(createdAt)
		msg.MessageType = models.MessageType(msgType)
		msg.Timestamp = fromMillis(ts)
		msg.Sender = sender
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// CountMessages returns the number of messages in a room.
func (s *SQLiteStore) CountMessages(ctx context.Context, roomID int64) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE chat_room_id = ?`, roomID).Scan(&count)
	return count, err
}

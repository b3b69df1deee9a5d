package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/eldtechnologies/chatrelay/internal/metrics"
	"github.com/eldtechnologies/chatrelay/internal/models"
)

// PostgresStore handles PostgreSQL database operations.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func observe(start time.Time) {
	metrics.PostgresLatency.Observe(time.Since(start).Seconds())
}

func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

const pgUserColumns = `id, username, name, COALESCE(phone_number, ''), is_online, last_seen, created_at`

func scanPgUser(row pgx.Row) (*models.User, error) {
	user := &models.User{}
	var lastSeen, createdAt int64
	err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Name,
		&user.PhoneNumber,
		&user.Online,
		&lastSeen,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}
	user.LastSeen = fromMillis(lastSeen)
	user.CreatedAt = fromMillis(createdAt)
	return user, nil
}

// CreateUser creates a new user record.
func (s *PostgresStore) CreateUser(ctx context.Context, username, name, phone, passwordHash string) (*models.User, error) {
	defer observe(time.Now())

	now := time.Now().UnixMilli()
	var phonePtr *string
	if phone != "" {
		phonePtr = &phone
	}

	user, err := scanPgUser(s.pool.QueryRow(ctx, `
		INSERT INTO users (username, name, phone_number, password_hash, last_seen, created_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		RETURNING `+pgUserColumns,
		username, name, phonePtr, passwordHash, now))
	if err != nil {
		if isPgUniqueViolation(err) {
			return nil, ErrDuplicateUser
		}
		return nil, err
	}
	return user, nil
}

// GetUserByID retrieves a user by ID.
func (s *PostgresStore) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	return s.getUser(ctx, `SELECT `+pgUserColumns+` FROM users WHERE id = $1`, id)
}

// GetUserByUsername retrieves a user by username.
func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.getUser(ctx, `SELECT `+pgUserColumns+` FROM users WHERE username = $1`, username)
}

// GetUserByLogin retrieves a user by username or phone number.
func (s *PostgresStore) GetUserByLogin(ctx context.Context, usernameOrPhone string) (*models.User, error) {
	return s.getUser(ctx, `SELECT `+pgUserColumns+` FROM users WHERE username = $1 OR phone_number = $1`, usernameOrPhone)
}

// GetUserByPhone retrieves a user by phone number.
func (s *PostgresStore) GetUserByPhone(ctx context.Context, phone string) (*models.User, error) {
	return s.getUser(ctx, `SELECT `+pgUserColumns+` FROM users WHERE phone_number = $1`, phone)
}

func (s *PostgresStore) getUser(ctx context.Context, query string, args ...any) (*models.User, error) {
	defer observe(time.Now())

	user, err := scanPgUser(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// GetUserCredentials retrieves the stored password hash for a user.
func (s *PostgresStore) GetUserCredentials(ctx context.Context, id int64) (string, error) {
	defer observe(time.Now())

	var hash string
	err := s.pool.QueryRow(ctx, `SELECT password_hash FROM users WHERE id = $1`, id).Scan(&hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return hash, nil
}

// SetUserOnline updates the online flag; going offline also stamps last_seen.
func (s *PostgresStore) SetUserOnline(ctx context.Context, id int64, online bool) error {
	defer observe(time.Now())

	_, err := s.pool.Exec(ctx, `
		UPDATE users
		SET is_online = $1, last_seen = CASE WHEN $1 THEN last_seen ELSE $2 END
		WHERE id = $3
	`, online, time.Now().UnixMilli(), id)
	return err
}

// AddContact links two users in both directions in one transaction.
func (s *PostgresStore) AddContact(ctx context.Context, userID, contactID int64) (bool, error) {
	defer observe(time.Now())

	now := time.Now().UnixMilli()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO contacts (user_id, contact_id, created_at) VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING
	`, userID, contactID, now)
	if err != nil {
		return false, err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO contacts (user_id, contact_id, created_at) VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING
	`, contactID, userID, now); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// RemoveContact unlinks two users in both directions.
func (s *PostgresStore) RemoveContact(ctx context.Context, userID, contactID int64) (bool, error) {
	defer observe(time.Now())

	tag, err := s.pool.Exec(ctx, `
		DELETE FROM contacts
		WHERE (user_id = $1 AND contact_id = $2) OR (user_id = $2 AND contact_id = $1)
	`, userID, contactID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ListContacts returns a user's contacts ordered by username.
func (s *PostgresStore) ListContacts(ctx context.Context, userID int64) ([]models.User, error) {
	return s.listUsers(ctx, `
		SELECT u.id, u.username, u.name, COALESCE(u.phone_number, ''), u.is_online, u.last_seen, u.created_at
		FROM contacts c
		JOIN users u ON u.id = c.contact_id
		WHERE c.user_id = $1
		ORDER BY u.username
	`, userID)
}

// SearchUsers matches query case-insensitively against names and usernames.
func (s *PostgresStore) SearchUsers(ctx context.Context, query string, limit int) ([]models.User, error) {
	return s.listUsers(ctx, `
		SELECT `+pgUserColumns+`
		FROM users
		WHERE name ILIKE $1 ESCAPE '\' OR username ILIKE $1 ESCAPE '\'
		ORDER BY username
		LIMIT $2
	`, containsPattern(query), limit)
}

func (s *PostgresStore) listUsers(ctx context.Context, query string, args ...any) ([]models.User, error) {
	defer observe(time.Now())

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		user, err := scanPgUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *user)
	}
	return users, rows.Err()
}

// CreateRoom inserts a room and its participants in one transaction.
func (s *PostgresStore) CreateRoom(ctx context.Context, room *models.Room) (*models.Room, error) {
	defer observe(time.Now())

	now := time.Now().UnixMilli()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO chat_rooms (name, type, created_by, description, pair_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		RETURNING id
	`, room.Name, string(room.Type), room.CreatedBy, room.Description, pairKeyFor(room), now).Scan(&id)
	if err != nil {
		if isPgUniqueViolation(err) {
			return nil, ErrDuplicatePrivateRoom
		}
		return nil, err
	}

	for _, p := range room.Participants {
		if _, err := tx.Exec(ctx, `
			INSERT INTO chat_room_participants (chat_room_id, user_id, joined_at)
			VALUES ($1, $2, $3)
			ON CONFLICT DO NOTHING
		`, id, p.ID, now); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return s.GetRoom(ctx, id)
}

const pgRoomColumns = `id, name, type, created_by, description, created_at, updated_at`

func scanPgRoom(row pgx.Row) (*models.Room, error) {
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
func (s *PostgresStore) GetRoom(ctx context.Context, id int64) (*models.Room, error) {
	return s.getRoom(ctx, `SELECT `+pgRoomColumns+` FROM chat_rooms WHERE id = $1`, id)
}

// FindPrivateRoomBetween retrieves the private room shared by two users, in either order.
func (s *PostgresStore) FindPrivateRoomBetween(ctx context.Context, userA, userB int64) (*models.Room, error) {
	return s.getRoom(ctx, `SELECT `+pgRoomColumns+` FROM chat_rooms WHERE pair_key = $1`, models.PairKey(userA, userB))
}

func (s *PostgresStore) getRoom(ctx context.Context, query string, args ...any) (*models.Room, error) {
	defer observe(time.Now())

	room, err := scanPgRoom(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := s.loadParticipants(ctx, room); err != nil {
		return nil, err
	}
	return room, nil
}

func (s *PostgresStore) loadParticipants(ctx context.Context, room *models.Room) error {
	rows, err := s.pool.Query(ctx, `
		SELECT u.id, u.username, u.name, COALESCE(u.phone_number, ''), u.is_online, u.last_seen, u.created_at
		FROM chat_room_participants p
		JOIN users u ON u.id = p.user_id
		WHERE p.chat_room_id = $1
		ORDER BY p.position
	`, room.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	room.Participants = make([]models.User, 0, 2)
	for rows.Next() {
		user, err := scanPgUser(rows)
		if err != nil {
			return err
		}
		room.Participants = append(room.Participants, *user)
	}
	return rows.Err()
}

// ListRoomsByParticipant lists rooms a user belongs to, optionally filtered by type.
func (s *PostgresStore) ListRoomsByParticipant(ctx context.Context, userID int64, roomType models.RoomType) ([]models.Room, error) {
	defer observe(time.Now())

	rows, err := s.pool.Query(ctx, `
		SELECT r.id, r.name, r.type, r.created_by, r.description, r.created_at, r.updated_at
		FROM chat_rooms r
		JOIN chat_room_participants p ON p.chat_room_id = r.id
		WHERE p.user_id = $1 AND ($2 = '' OR r.type = $2)
		ORDER BY r.updated_at DESC, r.id DESC
	`, userID, string(roomType))
	if err != nil {
		return nil, err
	}

	var rooms []models.Room
	for rows.Next() {
		room, err := scanPgRoom(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		rooms = append(rooms, *room)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range rooms {
		if err := s.loadParticipants(ctx, &rooms[i]); err != nil {
			return nil, err
		}
	}
	return rooms, nil
}

// AddParticipant adds a user to a room and bumps updated_at in one transaction.
func (s *PostgresStore) AddParticipant(ctx context.Context, roomID, userID int64) (*models.Room, error) {
	defer observe(time.Now())

	now := time.Now().UnixMilli()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// Lock the room row so concurrent membership changes apply one at a time.
	if _, err := tx.Exec(ctx, `SELECT id FROM chat_rooms WHERE id = $1 FOR UPDATE`, roomID); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO chat_room_participants (chat_room_id, user_id, joined_at)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING
	`, roomID, userID, now); err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE chat_rooms SET updated_at = GREATEST(updated_at + 1, $1) WHERE id = $2
	`, now, roomID); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return s.GetRoom(ctx, roomID)
}

// IsParticipant reports whether a user belongs to a room.
func (s *PostgresStore) IsParticipant(ctx context.Context, roomID, userID int64) (bool, error) {
	defer observe(time.Now())

	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM chat_room_participants WHERE chat_room_id = $1 AND user_id = $2)
	`, roomID, userID).Scan(&exists)
	return exists, err
}

// CreateMessage appends a message; the id comes from the table sequence.
func (s *PostgresStore) CreateMessage(ctx context.Context, msg *models.Message) (*models.Message, error) {
	defer observe(time.Now())

	saved := *msg
	err := s.pool.QueryRow(ctx, `
		INSERT INTO messages (chat_room_id, sender_id, content, message_type, timestamp)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, msg.RoomID, msg.SenderID, msg.Content, string(msg.MessageType), toMillis(msg.Timestamp)).Scan(&saved.ID)
	if err != nil {
		return nil, err
	}
	saved.Timestamp = fromMillis(toMillis(msg.Timestamp))
	return &saved, nil
}

// ListMessages retrieves messages newest first.
func (s *PostgresStore) ListMessages(ctx context.Context, roomID int64, limit, offset int) ([]models.Message, error) {
	defer observe(time.Now())

	rows, err := s.pool.Query(ctx, `
		SELECT m.id, m.chat_room_id, m.sender_id, m.content, m.message_type, m.timestamp,
		       u.id, u.username, u.name, COALESCE(u.phone_number, ''), u.is_online, u.last_seen, u.created_at
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.chat_room_id = $1
		ORDER BY m.timestamp DESC, m.id DESC
		LIMIT $2 OFFSET $3
	`, roomID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]models.Message, 0, limit)
	for rows.Next() {
		var msg models.Message
		var msgType string
		var ts, lastSeen, createdAt int64
		sender := &models.User{}
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
			&sender.Online,
			&lastSeen,
			&createdAt,
		)
		if err != nil {
			return nil, err
		}
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
func (s *PostgresStore) CountMessages(ctx context.Context, roomID int64) (int64, error) {
	defer observe(time.Now())

	var count int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM messages WHERE chat_room_id = $1`, roomID).Scan(&count)
	return count, err
}

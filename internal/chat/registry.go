package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/eldtechnologies/chatrelay/internal/metrics"
	"github.com/eldtechnologies/chatrelay/internal/models"
	"github.com/eldtechnologies/chatrelay/internal/store"
)

// resolveConcurrency bounds parallel user lookups during group creation.
const resolveConcurrency = 8

// GroupRoomResult is the outcome of CreateGroupRoom. SkippedIDs lists
// requested participant ids that did not resolve to a user.
type GroupRoomResult struct {
	Room       *models.Room `json:"chatRoom"`
	SkippedIDs []int64      `json:"skippedParticipantIds"`
}

// Registry owns rooms and their membership invariants.
type Registry struct {
	store   store.DataStore
	logger  zerolog.Logger
	pending singleflight.Group
}

// NewRegistry creates a registry backed by ds.
func NewRegistry(ds store.DataStore, logger zerolog.Logger) *Registry {
	return &Registry{
		store:  ds,
		logger: logger.With().Str("component", "registry").Logger(),
	}
}

func (r *Registry) resolveUser(ctx context.Context, id int64) (*models.User, error) {
	user, err := r.store.GetUserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	return user, nil
}

// GetOrCreatePrivateRoom returns the private room between two users, creating it
// on first request. The pair is unordered. Concurrent callers for the same pair
// share one lookup, and the storage pair key rejects any duplicate that slips past.
func (r *Registry) GetOrCreatePrivateRoom(ctx context.Context, userA, userB int64) (*models.Room, error) {
	if userA == userB {
		return nil, fmt.Errorf("%w: private room needs two distinct users", ErrInvalidOperation)
	}

	a, err := r.resolveUser(ctx, userA)
	if err != nil {
		return nil, err
	}
	b, err := r.resolveUser(ctx, userB)
	if err != nil {
		return nil, err
	}

	// The flight is shared, so one caller's cancellation must not fail the rest.
	flightCtx := context.WithoutCancel(ctx)
	v, err, _ := r.pending.Do(models.PairKey(userA, userB), func() (any, error) {
		return r.getOrCreatePrivate(flightCtx, a, b)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Room), nil
}

func (r *Registry) getOrCreatePrivate(ctx context.Context, a, b *models.User) (*models.Room, error) {
	existing, err := r.store.FindPrivateRoomBetween(ctx, a.ID, b.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	room, err := r.store.CreateRoom(ctx, &models.Room{
		Name:         b.DisplayName() + " & " + a.DisplayName(),
		Type:         models.RoomPrivate,
		CreatedBy:    a.ID,
		Participants: []models.User{*a, *b},
	})
	if errors.Is(err, store.ErrDuplicatePrivateRoom) {
		// Another instance won the race; its row is canonical.
		existing, err := r.store.FindPrivateRoomBetween(ctx, a.ID, b.ID)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, fmt.Errorf("pair %s: %w", models.PairKey(a.ID, b.ID), ErrDuplicateRoom)
		}
		return existing, nil
	}
	if err != nil {
		return nil, err
	}

	metrics.RoomsCreated.WithLabelValues(string(models.RoomPrivate)).Inc()
	r.logger.Info().
		Int64("room_id", room.ID).
		Int64("user_a", a.ID).
		Int64("user_b", b.ID).
		Msg("private room created")

	return room, nil
}

// CreateGroupRoom creates a group room with the creator as first participant.
// Participant ids that do not resolve are skipped and reported in the result.
func (r *Registry) CreateGroupRoom(ctx context.Context, name, description string, creatorID int64, participantIDs []int64) (*GroupRoomResult, error) {
	creator, err := r.resolveUser(ctx, creatorID)
	if err != nil {
		return nil, err
	}

	ids := lo.Without(lo.Uniq(participantIDs), creatorID)
	resolved := make([]*models.User, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(resolveConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			user, err := r.store.GetUserByID(gctx, id)
			if err != nil {
				return err
			}
			resolved[i] = user
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	participants := []models.User{*creator}
	skipped := []int64{}
	for i, user := range resolved {
		if user == nil {
			skipped = append(skipped, ids[i])
			continue
		}
		participants = append(participants, *user)
	}

	room, err := r.store.CreateRoom(ctx, &models.Room{
		Name:         name,
		Type:         models.RoomGroup,
		CreatedBy:    creator.ID,
		Description:  description,
		Participants: participants,
	})
	if err != nil {
		return nil, err
	}

	metrics.RoomsCreated.WithLabelValues(string(models.RoomGroup)).Inc()
	if len(skipped) > 0 {
		r.logger.Warn().
			Int64("room_id", room.ID).
			Interface("skipped_ids", skipped).
			Msg("unresolvable participant ids skipped")
	}

	return &GroupRoomResult{Room: room, SkippedIDs: skipped}, nil
}

// AddParticipant adds userID to a group room on behalf of requesterID, who must
// already be a participant. Adding a present participant is a no-op.
func (r *Registry) AddParticipant(ctx context.Context, roomID, userID, requesterID int64) (*models.Room, error) {
	room, err := r.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if _, err := r.resolveUser(ctx, userID); err != nil {
		return nil, err
	}
	if _, err := r.resolveUser(ctx, requesterID); err != nil {
		return nil, err
	}

	if room.Type != models.RoomGroup {
		return nil, fmt.Errorf("%w: room %d is %s", ErrInvalidOperation, roomID, room.Type)
	}
	if !IsParticipant(room, requesterID) {
		return nil, fmt.Errorf("requester %d in room %d: %w", requesterID, roomID, ErrPermissionDenied)
	}
	if IsParticipant(room, userID) {
		return room, nil
	}

	updated, err := r.store.AddParticipant(ctx, roomID, userID)
	if err != nil {
		return nil, err
	}

	r.logger.Info().
		Int64("room_id", roomID).
		Int64("user_id", userID).
		Int64("requester_id", requesterID).
		Msg("participant added")

	return updated, nil
}

// GetRoom returns a room by id.
func (r *Registry) GetRoom(ctx context.Context, roomID int64) (*models.Room, error) {
	room, err := r.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room == nil {
		return nil, fmt.Errorf("room %d: %w", roomID, ErrNotFound)
	}
	return room, nil
}

// ListRoomsForUser returns the rooms userID participates in. An empty roomType
// returns both kinds.
func (r *Registry) ListRoomsForUser(ctx context.Context, userID int64, roomType models.RoomType) ([]models.Room, error) {
	if _, err := r.resolveUser(ctx, userID); err != nil {
		return nil, err
	}

	rooms, err := r.store.ListRoomsByParticipant(ctx, userID, roomType)
	if err != nil {
		return nil, err
	}
	if rooms == nil {
		rooms = []models.Room{}
	}
	return rooms, nil
}

// ListPrivateRooms returns only the private rooms of userID.
func (r *Registry) ListPrivateRooms(ctx context.Context, userID int64) ([]models.Room, error) {
	return r.ListRoomsForUser(ctx, userID, models.RoomPrivate)
}

// ListGroupRooms returns only the group rooms of userID.
func (r *Registry) ListGroupRooms(ctx context.Context, userID int64) ([]models.Room, error) {
	return r.ListRoomsForUser(ctx, userID, models.RoomGroup)
}

// CanSubscribe checks whether userID may subscribe to topic. The public topic
// is open to everyone; group topics require membership of the room.
func (r *Registry) CanSubscribe(ctx context.Context, topic string, userID int64) error {
	if topic == PublicTopic {
		return nil
	}

	roomID, ok := ParseGroupTopic(topic)
	if !ok {
		return fmt.Errorf("%w: unknown topic %q", ErrInvalidInput, topic)
	}

	room, err := r.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if room.Type != models.RoomGroup {
		return fmt.Errorf("%w: room %d is %s", ErrInvalidOperation, roomID, room.Type)
	}
	if !IsParticipant(room, userID) {
		return fmt.Errorf("topic %s: %w", topic, ErrPermissionDenied)
	}
	return nil
}

// IsParticipant reports whether userID belongs to room.
func IsParticipant(room *models.Room, userID int64) bool {
	return room != nil && room.HasParticipant(userID)
}

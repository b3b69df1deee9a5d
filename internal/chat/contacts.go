package chat

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/eldtechnologies/chatrelay/internal/models"
	"github.com/eldtechnologies/chatrelay/internal/store"
)

const (
	// MaxSearchQueryLength bounds user search terms, in characters.
	MaxSearchQueryLength = 100
	// MaxSearchResults bounds a single user search.
	MaxSearchResults = 100
)

// Contacts manages each user's symmetric contact list and user lookup.
type Contacts struct {
	store    store.DataStore
	presence *PresenceTracker
	logger   zerolog.Logger
}

// NewContacts creates a contact book backed by ds. presence may be nil; when
// set, users connected to this instance count as online.
func NewContacts(ds store.DataStore, presence *PresenceTracker, logger zerolog.Logger) *Contacts {
	return &Contacts{
		store:    ds,
		presence: presence,
		logger:   logger.With().Str("component", "contacts").Logger(),
	}
}

// AddByPhone links userID with the user registered under phone, in both
// directions, and returns that user.
func (c *Contacts) AddByPhone(ctx context.Context, userID int64, phone string) (*models.User, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return nil, fmt.Errorf("%w: phone number is required", ErrInvalidInput)
	}
	if _, err := c.resolve(ctx, userID); err != nil {
		return nil, err
	}

	contact, err := c.store.GetUserByPhone(ctx, phone)
	if err != nil {
		return nil, err
	}
	if contact == nil {
		return nil, fmt.Errorf("phone %s: %w", phone, ErrNotFound)
	}
	if contact.ID == userID {
		return nil, fmt.Errorf("%w: cannot add yourself as a contact", ErrInvalidInput)
	}

	added, err := c.store.AddContact(ctx, userID, contact.ID)
	if err != nil {
		return nil, err
	}
	if !added {
		return nil, fmt.Errorf("%w: user %d is already a contact", ErrInvalidOperation, contact.ID)
	}

	c.logger.Info().Int64("user_id", userID).Int64("contact_id", contact.ID).Msg("contact added")
	c.markOnline(contact)
	return contact, nil
}

// Remove unlinks userID and contactID in both directions. Removing a user
// who is not a contact succeeds.
func (c *Contacts) Remove(ctx context.Context, userID, contactID int64) error {
	if _, err := c.resolve(ctx, userID); err != nil {
		return err
	}
	if _, err := c.resolve(ctx, contactID); err != nil {
		return err
	}

	removed, err := c.store.RemoveContact(ctx, userID, contactID)
	if err != nil {
		return err
	}
	if removed {
		c.logger.Info().Int64("user_id", userID).Int64("contact_id", contactID).Msg("contact removed")
	}
	return nil
}

// List returns userID's contacts ordered by username, optionally only those online.
func (c *Contacts) List(ctx context.Context, userID int64, onlineOnly bool) ([]models.User, error) {
	if _, err := c.resolve(ctx, userID); err != nil {
		return nil, err
	}

	contacts, err := c.store.ListContacts(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range contacts {
		c.markOnline(&contacts[i])
	}
	if onlineOnly {
		contacts = lo.Filter(contacts, func(u models.User, _ int) bool { return u.Online })
	}
	return contacts, nil
}

// Search finds users whose name or username contains query, ignoring case.
func (c *Contacts) Search(ctx context.Context, query string, limit int) ([]models.User, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: search query is required", ErrInvalidInput)
	}
	if utf8.RuneCountInString(query) > MaxSearchQueryLength {
		return nil, fmt.Errorf("%w: search query exceeds %d characters", ErrInvalidInput, MaxSearchQueryLength)
	}
	if limit <= 0 || limit > MaxSearchResults {
		limit = MaxSearchResults
	}

	users, err := c.store.SearchUsers(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	for i := range users {
		c.markOnline(&users[i])
	}
	return users, nil
}

func (c *Contacts) resolve(ctx context.Context, id int64) (*models.User, error) {
	user, err := c.store.GetUserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	return user, nil
}

func (c *Contacts) markOnline(u *models.User) {
	if c.presence != nil && c.presence.IsOnline(u.Username) {
		u.Online = true
	}
}

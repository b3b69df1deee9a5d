package chat

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/chatrelay/internal/models"
	"github.com/eldtechnologies/chatrelay/internal/store"
)

type delivery struct {
	channel string // "user" or "topic"
	target  string
	payload Payload
}

type recordingSink struct {
	mu         sync.Mutex
	deliveries []delivery
	failUsers  map[string]bool
}

func (s *recordingSink) record(channel, target string, p Payload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries = append(s.deliveries, delivery{channel: channel, target: target, payload: p})
}

func (s *recordingSink) DeliverToUser(username string, p Payload) error {
	if s.failUsers[username] {
		return errors.New("not connected")
	}
	s.record("user", username, p)
	return nil
}

func (s *recordingSink) DeliverToTopic(topic string, p Payload) error {
	s.record("topic", topic, p)
	return nil
}

func (s *recordingSink) DeliverToPublic(p Payload) error {
	s.record("topic", PublicTopic, p)
	return nil
}

func (s *recordingSink) all() []delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]delivery(nil), s.deliveries...)
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	ds, err := store.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(ds.Close)
	return ds
}

func createUser(t *testing.T, ds store.DataStore, username string) *models.User {
	t.Helper()
	user, err := ds.CreateUser(context.Background(), username, username+" Name", "", "hash")
	require.NoError(t, err)
	return user
}

func nopLogger() zerolog.Logger {
	return zerolog.Nop()
}

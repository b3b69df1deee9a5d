package chat

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/chatrelay/internal/models"
	"github.com/eldtechnologies/chatrelay/internal/store"
)

func createUserWithPhone(t *testing.T, ds store.DataStore, username, name, phone string) *models.User {
	t.Helper()
	user, err := ds.CreateUser(context.Background(), username, name, phone, "hash")
	require.NoError(t, err)
	return user
}

func TestContacts_AddByPhone_Is_Symmetric(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	ds := newTestStore(t)
	contacts := NewContacts(ds, nil, nopLogger())
	alice := createUser(t, ds, "alice")
	bob := createUserWithPhone(t, ds, "bob", "Bob", "+15550001")

	// When alice adds bob by phone
	added, err := contacts.AddByPhone(ctx, alice.ID, " +15550001 ")
	req.NoError(err)
	req.Equal(bob.ID, added.ID)

	// Then both see each other
	list, err := contacts.List(ctx, alice.ID, false)
	req.NoError(err)
	req.Len(list, 1)
	req.Equal(bob.ID, list[0].ID)

	list, err = contacts.List(ctx, bob.ID, false)
	req.NoError(err)
	req.Len(list, 1)
	req.Equal(alice.ID, list[0].ID)

	// And adding again from either side is refused
	_, err = contacts.AddByPhone(ctx, alice.ID, "+15550001")
	req.ErrorIs(err, ErrInvalidOperation)

	// When bob removes alice, both lists empty
	req.NoError(contacts.Remove(ctx, bob.ID, alice.ID))
	list, err = contacts.List(ctx, alice.ID, false)
	req.NoError(err)
	req.Empty(list)

	// Removing again is a no-op
	req.NoError(contacts.Remove(ctx, alice.ID, bob.ID))
}

func TestContacts_Errors(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	ds := newTestStore(t)
	contacts := NewContacts(ds, nil, nopLogger())
	alice := createUserWithPhone(t, ds, "alice", "Alice", "+15550002")

	_, err := contacts.AddByPhone(ctx, alice.ID, "+15550002")
	req.ErrorIs(err, ErrInvalidInput)

	_, err = contacts.AddByPhone(ctx, alice.ID, "+19999999")
	req.ErrorIs(err, ErrNotFound)

	_, err = contacts.AddByPhone(ctx, alice.ID, "  ")
	req.ErrorIs(err, ErrInvalidInput)

	_, err = contacts.AddByPhone(ctx, 999, "+15550002")
	req.ErrorIs(err, ErrNotFound)

	req.ErrorIs(contacts.Remove(ctx, alice.ID, 999), ErrNotFound)

	_, err = contacts.List(ctx, 999, false)
	req.ErrorIs(err, ErrNotFound)
}

func TestContacts_List_Online_Uses_Presence(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	ds := newTestStore(t)
	tracker := NewPresenceTracker()
	contacts := NewContacts(ds, tracker, nopLogger())
	alice := createUser(t, ds, "alice")
	createUserWithPhone(t, ds, "bob", "Bob", "+15550003")
	createUserWithPhone(t, ds, "carol", "Carol", "+15550004")

	_, err := contacts.AddByPhone(ctx, alice.ID, "+15550003")
	req.NoError(err)
	_, err = contacts.AddByPhone(ctx, alice.ID, "+15550004")
	req.NoError(err)

	// Given carol connected to this instance
	tracker.MarkOnline("carol")

	all, err := contacts.List(ctx, alice.ID, false)
	req.NoError(err)
	req.Len(all, 2)

	online, err := contacts.List(ctx, alice.ID, true)
	req.NoError(err)
	req.Len(online, 1)
	req.Equal("carol", online[0].Username)
	req.True(online[0].Online)
}

func TestContacts_Search(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	ds := newTestStore(t)
	contacts := NewContacts(ds, nil, nopLogger())
	createUserWithPhone(t, ds, "jdoe", "Jane Doe", "")
	createUserWithPhone(t, ds, "jsmith", "John Smith", "")

	found, err := contacts.Search(ctx, "  DOE ", 0)
	req.NoError(err)
	req.Len(found, 1)
	req.Equal("jdoe", found[0].Username)

	found, err = contacts.Search(ctx, "j", 1)
	req.NoError(err)
	req.Len(found, 1)

	found, err = contacts.Search(ctx, "nobody", 10)
	req.NoError(err)
	req.Empty(found)

	_, err = contacts.Search(ctx, " ", 10)
	req.ErrorIs(err, ErrInvalidInput)

	_, err = contacts.Search(ctx, strings.Repeat("x", MaxSearchQueryLength+1), 10)
	req.ErrorIs(err, ErrInvalidInput)
}

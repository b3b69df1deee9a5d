package store

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/chatrelay/internal/models"
)

// testDataStore runs the DataStore contract against ds. Names carry a random
// suffix so the suite can share a database with earlier runs.
func testDataStore(t *testing.T, ds DataStore) {
	suffix := strings.ReplaceAll(uuid.NewString()[:8], "-", "")
	ctx := context.Background()

	newUser := func(t *testing.T, name string) *models.User {
		t.Helper()
		user, err := ds.CreateUser(ctx, name+suffix, strings.ToUpper(name), "", "hash-"+name)
		require.NoError(t, err)
		return user
	}

	t.Run("users", func(t *testing.T) {
		req := require.New(t)

		user, err := ds.CreateUser(ctx, "alice"+suffix, "Alice", "+1555"+suffix[:6], "hash")
		req.NoError(err)
		req.NotZero(user.ID)
		req.False(user.Online)

		_, err = ds.CreateUser(ctx, "alice"+suffix, "Other", "", "hash")
		req.ErrorIs(err, ErrDuplicateUser)

		byLogin, err := ds.GetUserByLogin(ctx, "+1555"+suffix[:6])
		req.NoError(err)
		req.Equal(user.ID, byLogin.ID)

		hash, err := ds.GetUserCredentials(ctx, user.ID)
		req.NoError(err)
		req.Equal("hash", hash)

		missing, err := ds.GetUserByUsername(ctx, "nobody"+suffix)
		req.NoError(err)
		req.Nil(missing)

		req.NoError(ds.SetUserOnline(ctx, user.ID, true))
		online, err := ds.GetUserByID(ctx, user.ID)
		req.NoError(err)
		req.True(online.Online)

		req.NoError(ds.SetUserOnline(ctx, user.ID, false))
		offline, err := ds.GetUserByID(ctx, user.ID)
		req.NoError(err)
		req.False(offline.Online)
		req.False(offline.LastSeen.Before(online.LastSeen))
	})

	t.Run("private pair is unique in either order", func(t *testing.T) {
		req := require.New(t)
		a := newUser(t, "pa")
		b := newUser(t, "pb")

		room, err := ds.CreateRoom(ctx, &models.Room{
			Name: "B & A", Type: models.RoomPrivate, CreatedBy: a.ID,
			Participants: []models.User{*a, *b},
		})
		req.NoError(err)
		req.Equal([]int64{a.ID, b.ID}, room.ParticipantIDs())

		_, err = ds.CreateRoom(ctx, &models.Room{
			Name: "A & B", Type: models.RoomPrivate, CreatedBy: b.ID,
			Participants: []models.User{*b, *a},
		})
		req.ErrorIs(err, ErrDuplicatePrivateRoom)

		found, err := ds.FindPrivateRoomBetween(ctx, b.ID, a.ID)
		req.NoError(err)
		req.Equal(room.ID, found.ID)

		none, err := ds.FindPrivateRoomBetween(ctx, a.ID, a.ID)
		req.NoError(err)
		req.Nil(none)
	})

	t.Run("membership and listing", func(t *testing.T) {
		req := require.New(t)
		owner := newUser(t, "go")
		member := newUser(t, "gm")
		late := newUser(t, "gl")

		first, err := ds.CreateRoom(ctx, &models.Room{
			Name: "first", Type: models.RoomGroup, CreatedBy: owner.ID,
			Participants: []models.User{*owner, *member},
		})
		req.NoError(err)
		second, err := ds.CreateRoom(ctx, &models.Room{
			Name: "second", Type: models.RoomGroup, CreatedBy: owner.ID,
			Participants: []models.User{*owner},
		})
		req.NoError(err)

		ok, err := ds.IsParticipant(ctx, first.ID, late.ID)
		req.NoError(err)
		req.False(ok)

		// Adding to the first room makes it the most recently updated
		updated, err := ds.AddParticipant(ctx, first.ID, late.ID)
		req.NoError(err)
		req.Len(updated.Participants, 3)
		req.True(updated.UpdatedAt.After(second.UpdatedAt) || updated.UpdatedAt.Equal(second.UpdatedAt))

		again, err := ds.AddParticipant(ctx, first.ID, late.ID)
		req.NoError(err)
		req.Len(again.Participants, 3)

		rooms, err := ds.ListRoomsByParticipant(ctx, owner.ID, models.RoomGroup)
		req.NoError(err)
		req.Len(rooms, 2)
		req.Equal(first.ID, rooms[0].ID)

		privates, err := ds.ListRoomsByParticipant(ctx, owner.ID, models.RoomPrivate)
		req.NoError(err)
		req.Empty(privates)

		missing, err := ds.GetRoom(ctx, -1)
		req.NoError(err)
		req.Nil(missing)
	})

	t.Run("messages newest first", func(t *testing.T) {
		req := require.New(t)
		sender := newUser(t, "ms")
		room, err := ds.CreateRoom(ctx, &models.Room{
			Name: "log", Type: models.RoomGroup, CreatedBy: sender.ID,
			Participants: []models.User{*sender},
		})
		req.NoError(err)

		base := time.UnixMilli(1_700_000_000_000)
		var ids []int64
		for i, ts := range []time.Time{base, base.Add(time.Second), base.Add(time.Second)} {
			msg, err := ds.CreateMessage(ctx, &models.Message{
				RoomID: room.ID, SenderID: sender.ID, Content: string(rune('a' + i)),
				MessageType: models.MessageChat, Timestamp: ts,
			})
			req.NoError(err)
			ids = append(ids, msg.ID)
		}
		req.Less(ids[0], ids[1])

		// Equal timestamps break ties by id
		page, err := ds.ListMessages(ctx, room.ID, 2, 0)
		req.NoError(err)
		req.Equal([]int64{ids[2], ids[1]}, []int64{page[0].ID, page[1].ID})
		req.Equal(sender.Username, page[0].Sender.Username)

		rest, err := ds.ListMessages(ctx, room.ID, 2, 2)
		req.NoError(err)
		req.Len(rest, 1)
		req.Equal(ids[0], rest[0].ID)
		req.True(rest[0].Timestamp.Equal(base))

		count, err := ds.CountMessages(ctx, room.ID)
		req.NoError(err)
		req.EqualValues(3, count)
	})

	t.Run("contacts are symmetric", func(t *testing.T) {
		req := require.New(t)
		a := newUser(t, "ca")
		b := newUser(t, "cb")
		c := newUser(t, "cc")

		phone := "+1666" + suffix[:6]
		withPhone, err := ds.CreateUser(ctx, "cp"+suffix, "Phone", phone, "hash")
		req.NoError(err)
		byPhone, err := ds.GetUserByPhone(ctx, phone)
		req.NoError(err)
		req.Equal(withPhone.ID, byPhone.ID)
		missing, err := ds.GetUserByPhone(ctx, "+1000"+suffix[:6])
		req.NoError(err)
		req.Nil(missing)

		// Adding from one side links both
		added, err := ds.AddContact(ctx, a.ID, b.ID)
		req.NoError(err)
		req.True(added)
		added, err = ds.AddContact(ctx, b.ID, a.ID)
		req.NoError(err)
		req.False(added)
		_, err = ds.AddContact(ctx, a.ID, c.ID)
		req.NoError(err)

		contacts, err := ds.ListContacts(ctx, a.ID)
		req.NoError(err)
		req.Equal([]string{b.Username, c.Username}, usernames(contacts))
		contacts, err = ds.ListContacts(ctx, b.ID)
		req.NoError(err)
		req.Equal([]string{a.Username}, usernames(contacts))

		// Removing from the other side unlinks both
		removed, err := ds.RemoveContact(ctx, b.ID, a.ID)
		req.NoError(err)
		req.True(removed)
		removed, err = ds.RemoveContact(ctx, a.ID, b.ID)
		req.NoError(err)
		req.False(removed)

		contacts, err = ds.ListContacts(ctx, b.ID)
		req.NoError(err)
		req.NotNil(contacts)
		req.Empty(contacts)
		contacts, err = ds.ListContacts(ctx, a.ID)
		req.NoError(err)
		req.Equal([]string{c.Username}, usernames(contacts))
	})

	t.Run("search users", func(t *testing.T) {
		req := require.New(t)
		zed, err := ds.CreateUser(ctx, "zed"+suffix, "Zed 100% "+suffix, "", "hash")
		req.NoError(err)
		zoe, err := ds.CreateUser(ctx, "zoe"+suffix, "Zoe 1000 "+suffix, "", "hash")
		req.NoError(err)

		// Username matches ignore case
		found, err := ds.SearchUsers(ctx, strings.ToUpper(suffix), 100)
		req.NoError(err)
		req.Contains(usernames(found), zed.Username)
		req.Contains(usernames(found), zoe.Username)

		// Name matches ignore case too
		found, err = ds.SearchUsers(ctx, strings.ToUpper("zoe 1000 "+suffix), 10)
		req.NoError(err)
		req.Equal([]string{zoe.Username}, usernames(found))

		// Wildcards in the query are literal
		found, err = ds.SearchUsers(ctx, "100% "+suffix, 10)
		req.NoError(err)
		req.Equal([]string{zed.Username}, usernames(found))
		found, err = ds.SearchUsers(ctx, "z_e"+suffix, 10)
		req.NoError(err)
		req.NotNil(found)
		req.Empty(found)

		found, err = ds.SearchUsers(ctx, suffix, 1)
		req.NoError(err)
		req.Len(found, 1)
	})
}

func usernames(users []models.User) []string {
	out := make([]string, 0, len(users))
	for _, u := range users {
		out = append(out, u.Username)
	}
	return out
}

func TestSQLiteStore(t *testing.T) {
	ds, err := NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "nested", "store.db"))
	require.NoError(t, err)
	t.Cleanup(ds.Close)

	require.NoError(t, ds.Ping(context.Background()))
	testDataStore(t, ds)
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/chatrelay/internal/chat"
	"github.com/eldtechnologies/chatrelay/internal/handlers"
	"github.com/eldtechnologies/chatrelay/internal/realtime"
	"github.com/eldtechnologies/chatrelay/internal/store"
)

type testServer struct {
	*httptest.Server
	hub *realtime.Hub
}

func newTestServer(t *testing.T, redisStore *store.RedisStore) *testServer {
	t.Helper()
	logger := zerolog.Nop()

	ds, err := store.NewSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(ds.Close)

	registry := chat.NewRegistry(ds, logger)
	tracker := chat.NewPresenceTracker()
	hub := realtime.NewHub(logger)
	router := chat.NewRouter(hub, tracker, logger)
	gateway := realtime.NewGateway(hub, router, registry, realtime.DefaultConfig(), logger)

	mux := NewRouter(logger, handlers.Deps{
		DB:       ds,
		Redis:    redisStore,
		Registry: registry,
		Messages: chat.NewMessageLog(ds, logger, 20),
		Presence: tracker,
		Gateway:  gateway,
		Limits:   handlers.Limits{DefaultPageSize: 2, MaxPageSize: 3},
		Logger:   logger,
	}, Options{})

	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return &testServer{Server: srv, hub: hub}
}

// do sends a JSON request as userID (0 for anonymous) and decodes the response into out.
func (s *testServer) do(t *testing.T, method, path string, userID int64, body any, out any) int {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, s.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != 0 {
		req.Header.Set("User-Id", fmt.Sprint(userID))
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

type userDTO struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Online   bool   `json:"isOnline"`
}

type roomDTO struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Type         string    `json:"type"`
	Participants []userDTO `json:"participants"`
}

type messageDTO struct {
	ID      int64  `json:"id"`
	Content string `json:"content"`
}

func (s *testServer) signup(t *testing.T, username string) userDTO {
	t.Helper()
	var user userDTO
	status := s.do(t, http.MethodPost, "/api/auth/signup", 0, map[string]string{
		"username": username,
		"name":     strings.ToUpper(username[:1]) + username[1:],
		"password": "secret123",
	}, &user)
	require.Equal(t, http.StatusCreated, status)
	return user
}

func TestAuth_Signup_Login_Logout(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t, nil)

	alice := s.signup(t, "alice")
	req.NotZero(alice.ID)

	// Duplicate username conflicts
	status := s.do(t, http.MethodPost, "/api/auth/signup", 0, map[string]string{"username": "alice", "password": "secret123"}, nil)
	req.Equal(http.StatusConflict, status)

	// Short password fails validation
	status = s.do(t, http.MethodPost, "/api/auth/signup", 0, map[string]string{"username": "bob", "password": "x"}, nil)
	req.Equal(http.StatusBadRequest, status)

	var available handlers.AvailabilityResponse
	req.Equal(http.StatusOK, s.do(t, http.MethodGet, "/api/auth/check-username/alice", 0, nil, &available))
	req.False(available.Available)
	req.Equal(http.StatusOK, s.do(t, http.MethodGet, "/api/auth/check-username/bob", 0, nil, &available))
	req.True(available.Available)

	status = s.do(t, http.MethodPost, "/api/auth/login", 0, map[string]string{"login": "alice", "password": "wrong"}, nil)
	req.Equal(http.StatusUnauthorized, status)

	var loggedIn userDTO
	status = s.do(t, http.MethodPost, "/api/auth/login", 0, map[string]string{"login": "ALICE", "password": "secret123"}, &loggedIn)
	req.Equal(http.StatusOK, status)
	req.Equal(alice.ID, loggedIn.ID)
	req.True(loggedIn.Online)

	req.Equal(http.StatusNoContent, s.do(t, http.MethodPost, fmt.Sprintf("/api/auth/logout/%d", alice.ID), 0, nil, nil))
	req.Equal(http.StatusNotFound, s.do(t, http.MethodPost, "/api/auth/logout/999", 0, nil, nil))
}

func TestChat_Requires_User_Id(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t, nil)

	req.Equal(http.StatusUnauthorized, s.do(t, http.MethodGet, "/api/chat/rooms", 0, nil, nil))

	httpReq, err := http.NewRequest(http.MethodGet, s.URL+"/api/chat/rooms", nil)
	req.NoError(err)
	httpReq.Header.Set("User-Id", "abc")
	resp, err := http.DefaultClient.Do(httpReq)
	req.NoError(err)
	resp.Body.Close()
	req.Equal(http.StatusBadRequest, resp.StatusCode)
}

func TestChat_Private_Room_Is_Shared_By_Both_Users(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t, nil)
	alice := s.signup(t, "alice")
	bob := s.signup(t, "bob")

	// When each side opens the conversation
	var fromAlice, fromBob roomDTO
	req.Equal(http.StatusOK, s.do(t, http.MethodPost, fmt.Sprintf("/api/chat/private/%d", bob.ID), alice.ID, nil, &fromAlice))
	req.Equal(http.StatusOK, s.do(t, http.MethodPost, fmt.Sprintf("/api/chat/private/%d", alice.ID), bob.ID, nil, &fromBob))

	// Then they get the same room
	req.Equal(fromAlice.ID, fromBob.ID)
	req.Equal("PRIVATE", fromAlice.Type)
	req.Len(fromAlice.Participants, 2)

	// Opening one with yourself or a stranger fails
	req.Equal(http.StatusConflict, s.do(t, http.MethodPost, fmt.Sprintf("/api/chat/private/%d", alice.ID), alice.ID, nil, nil))
	req.Equal(http.StatusNotFound, s.do(t, http.MethodPost, "/api/chat/private/999", alice.ID, nil, nil))

	var rooms []roomDTO
	req.Equal(http.StatusOK, s.do(t, http.MethodGet, "/api/chat/rooms?type=private", bob.ID, nil, &rooms))
	req.Len(rooms, 1)
	req.Equal(http.StatusOK, s.do(t, http.MethodGet, "/api/chat/rooms?type=group", bob.ID, nil, &rooms))
	req.Empty(rooms)
	req.Equal(http.StatusBadRequest, s.do(t, http.MethodGet, "/api/chat/rooms?type=secret", bob.ID, nil, nil))
}

func TestChat_Group_Membership_And_Messages(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t, nil)
	alice := s.signup(t, "alice")
	bob := s.signup(t, "bob")
	carol := s.signup(t, "carol")

	// Given a group created by alice with bob and an unknown id
	var created chat.GroupRoomResult
	status := s.do(t, http.MethodPost, "/api/chat/group", alice.ID, map[string]any{
		"name":           "standup",
		"participantIds": []int64{bob.ID, 999},
	}, &created)
	req.Equal(http.StatusCreated, status)
	req.Equal([]int64{999}, created.SkippedIDs)
	roomPath := fmt.Sprintf("/api/chat/rooms/%d", created.Room.ID)

	// Carol is not a participant yet
	req.Equal(http.StatusForbidden, s.do(t, http.MethodGet, roomPath, carol.ID, nil, nil))
	req.Equal(http.StatusForbidden, s.do(t, http.MethodPost, roomPath+"/messages", carol.ID, map[string]string{"content": "hi"}, nil))
	req.Equal(http.StatusForbidden, s.do(t, http.MethodPost, fmt.Sprintf("%s/participants/%d", roomPath, carol.ID), carol.ID, nil, nil))

	// When bob adds carol
	var room roomDTO
	req.Equal(http.StatusOK, s.do(t, http.MethodPost, fmt.Sprintf("%s/participants/%d", roomPath, carol.ID), bob.ID, nil, &room))
	req.Len(room.Participants, 3)
	req.Equal(http.StatusOK, s.do(t, http.MethodGet, roomPath, carol.ID, nil, &room))

	// And three messages are posted
	for _, content := range []string{"one", "two", "three"} {
		var msg messageDTO
		req.Equal(http.StatusCreated, s.do(t, http.MethodPost, roomPath+"/messages", carol.ID, map[string]string{"content": content}, &msg))
		req.NotZero(msg.ID)
	}
	req.Equal(http.StatusBadRequest, s.do(t, http.MethodPost, roomPath+"/messages", carol.ID, map[string]string{"content": strings.Repeat("x", 21)}, nil))
	req.Equal(http.StatusBadRequest, s.do(t, http.MethodPost, roomPath+"/messages", carol.ID, map[string]string{"content": "x", "messageType": "SHOUT"}, nil))

	// Then pages run newest first, oldest first within a page, with the default size
	var page []messageDTO
	req.Equal(http.StatusOK, s.do(t, http.MethodGet, roomPath+"/messages", alice.ID, nil, &page))
	req.Equal([]string{"two", "three"}, contents(page))
	req.Equal(http.StatusOK, s.do(t, http.MethodGet, roomPath+"/messages?page=1", alice.ID, nil, &page))
	req.Equal([]string{"one"}, contents(page))
	req.Equal(http.StatusOK, s.do(t, http.MethodGet, roomPath+"/messages?page=5", alice.ID, nil, &page))
	req.Empty(page)
	page = []messageDTO{{Content: "stale"}}
	req.Equal(http.StatusOK, s.do(t, http.MethodGet, roomPath+"/messages?page=4611686018427387904", alice.ID, nil, &page))
	req.Empty(page)
	req.Equal(http.StatusBadRequest, s.do(t, http.MethodGet, roomPath+"/messages?page=-1", alice.ID, nil, nil))

	// Size is capped at the configured maximum
	req.Equal(http.StatusOK, s.do(t, http.MethodGet, roomPath+"/messages/latest?limit=50", alice.ID, nil, &page))
	req.Equal([]string{"one", "two", "three"}, contents(page))

	var count handlers.CountResponse
	req.Equal(http.StatusOK, s.do(t, http.MethodGet, roomPath+"/messages/count", bob.ID, nil, &count))
	req.EqualValues(3, count.Count)

	req.Equal(http.StatusNotFound, s.do(t, http.MethodGet, "/api/chat/rooms/999/messages", alice.ID, nil, nil))
}

func TestChat_Contacts_And_User_Search(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t, nil)
	alice := s.signup(t, "alice")

	var bob userDTO
	req.Equal(http.StatusCreated, s.do(t, http.MethodPost, "/api/auth/signup", 0, map[string]string{
		"username":    "bob",
		"name":        "Bob Builder",
		"phoneNumber": "+15550001",
		"password":    "secret123",
	}, &bob))

	// When alice adds bob by phone
	var added userDTO
	req.Equal(http.StatusOK, s.do(t, http.MethodPost, "/api/chat/contacts/phone/+15550001", alice.ID, nil, &added))
	req.Equal(bob.ID, added.ID)

	// Then each lists the other
	var list handlers.ContactsResponse
	req.Equal(http.StatusOK, s.do(t, http.MethodGet, "/api/chat/contacts", bob.ID, nil, &list))
	req.Equal(1, list.Total)
	req.Equal(alice.ID, list.Contacts[0].ID)

	// Duplicates, self and unknown phones are refused
	req.Equal(http.StatusConflict, s.do(t, http.MethodPost, "/api/chat/contacts/phone/+15550001", alice.ID, nil, nil))
	req.Equal(http.StatusBadRequest, s.do(t, http.MethodPost, "/api/chat/contacts/phone/+15550001", bob.ID, nil, nil))
	req.Equal(http.StatusNotFound, s.do(t, http.MethodPost, "/api/chat/contacts/phone/+15559999", alice.ID, nil, nil))

	// Search matches names and usernames ignoring case
	var found handlers.UserSearchResponse
	req.Equal(http.StatusOK, s.do(t, http.MethodGet, "/api/chat/search/users?query=builder", alice.ID, nil, &found))
	req.Equal(1, found.Total)
	req.Equal("bob", found.Users[0].Username)
	req.Equal(http.StatusOK, s.do(t, http.MethodGet, "/api/chat/search/users?query=ALI", bob.ID, nil, &found))
	req.Equal(1, found.Total)
	req.Equal(http.StatusBadRequest, s.do(t, http.MethodGet, "/api/chat/search/users", alice.ID, nil, nil))
	req.Equal(http.StatusBadRequest, s.do(t, http.MethodGet, "/api/chat/search/users?query=%3Cscript%3E", alice.ID, nil, nil))

	// When bob removes alice, both lists are empty
	req.Equal(http.StatusNoContent, s.do(t, http.MethodDelete, fmt.Sprintf("/api/chat/contacts/%d", alice.ID), bob.ID, nil, nil))
	req.Equal(http.StatusOK, s.do(t, http.MethodGet, "/api/chat/contacts", alice.ID, nil, &list))
	req.Equal(0, list.Total)
	req.NotNil(list.Contacts)
	req.Equal(http.StatusNotFound, s.do(t, http.MethodDelete, "/api/chat/contacts/999", bob.ID, nil, nil))
}

func contents(messages []messageDTO) []string {
	out := make([]string, 0, len(messages))
	for _, m := range messages {
		out = append(out, m.Content)
	}
	return out
}

func TestWebsocket_Presence_Is_Visible_Over_REST(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t, nil)
	alice := s.signup(t, "alice")

	// Unknown users cannot connect
	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws?userId="
	_, resp, err := websocket.DefaultDialer.Dial(url+"999", nil)
	req.Error(err)
	req.Equal(http.StatusNotFound, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("%s%d", url, alice.ID), nil)
	req.NoError(err)
	defer conn.Close()

	// When alice announces herself
	req.NoError(conn.WriteMessage(websocket.TextMessage, []byte(`{"action":"userOnline"}`)))
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	req.NoError(err)
	req.Contains(string(data), `"messageType":"ONLINE"`)

	// Then the REST snapshot lists her
	var presence chat.Presence
	req.Equal(http.StatusOK, s.do(t, http.MethodGet, "/api/chat/online-users", alice.ID, nil, &presence))
	req.Equal([]string{"alice"}, presence.OnlineUsers)
	req.Equal(1, presence.OnlineCount)

	var health handlers.HealthResponse
	req.Equal(http.StatusOK, s.do(t, http.MethodGet, "/health", 0, nil, &health))
	req.Equal("healthy", health.Status)
	req.Equal("skip", health.Checks["redis"].Status)
	req.Equal(1, health.Connections)
}

func TestRateLimit_Applies_When_Redis_Configured(t *testing.T) {
	req := require.New(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	s := newTestServer(t, store.NewRedisStoreFromClient(client))

	// Signup allows ten attempts per hour per IP
	for i := range 10 {
		status := s.do(t, http.MethodPost, "/api/auth/signup", 0, map[string]string{
			"username": fmt.Sprintf("user%d", i),
			"password": "secret123",
		}, nil)
		req.Equal(http.StatusCreated, status)
	}
	status := s.do(t, http.MethodPost, "/api/auth/signup", 0, map[string]string{"username": "late", "password": "secret123"}, nil)
	req.Equal(http.StatusTooManyRequests, status)

	var health handlers.HealthResponse
	req.Equal(http.StatusOK, s.do(t, http.MethodGet, "/health", 0, nil, &health))
	req.Equal("pass", health.Checks["redis"].Status)
}

// Package chatrelay provides a client for the chatrelay REST and websocket API.
package chatrelay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Client is a chatrelay API client.
type Client struct {
	BaseURL    string
	ConfigDir  string
	UserID     int64
	Username   string
	HTTPClient *http.Client
}

// Config holds the identity remembered between CLI runs.
type Config struct {
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
}

// NewClient creates a new chatrelay client and loads any saved identity.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	configDir := os.Getenv("CHATRELAY_CONFIG")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".chatrelay")
	}

	c := &Client{
		BaseURL:    strings.TrimSuffix(baseURL, "/"),
		ConfigDir:  configDir,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}

	_ = c.LoadConfig()
	return c
}

// LoadConfig loads the saved identity from disk.
func (c *Client) LoadConfig() error {
	data, err := os.ReadFile(filepath.Join(c.ConfigDir, "user.json"))
	if err != nil {
		return err
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return err
	}
	c.UserID = config.UserID
	c.Username = config.Username
	return nil
}

// SaveConfig saves the current identity to disk.
func (c *Client) SaveConfig() error {
	if err := os.MkdirAll(c.ConfigDir, 0700); err != nil {
		return err
	}

	data, _ := json.MarshalIndent(Config{UserID: c.UserID, Username: c.Username}, "", "  ")
	return os.WriteFile(filepath.Join(c.ConfigDir, "user.json"), data, 0600)
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("chatrelay error %d: %s", e.Status, e.Message)
}

// doRequest performs an HTTP request and decodes a JSON response into out.
func (c *Client) doRequest(method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.UserID != 0 {
		req.Header.Set("User-Id", strconv.FormatInt(c.UserID, 10))
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody, &errResp)
		return &APIError{Status: resp.StatusCode, Message: errResp.Error}
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

// User is a registered user.
type User struct {
	ID          int64     `json:"id"`
	Username    string    `json:"username"`
	Name        string    `json:"name"`
	PhoneNumber string    `json:"phoneNumber,omitempty"`
	Online      bool      `json:"isOnline"`
	LastSeen    time.Time `json:"lastSeen"`
}

// Room is a private or group room.
type Room struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Type         string    `json:"type"`
	Description  string    `json:"description,omitempty"`
	Participants []User    `json:"participants"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// GroupResult is the response from creating a group.
type GroupResult struct {
	Room       *Room   `json:"chatRoom"`
	SkippedIDs []int64 `json:"skippedParticipantIds"`
}

// Message is a persisted room message.
type Message struct {
	ID          int64     `json:"id"`
	RoomID      int64     `json:"chatRoomId"`
	Sender      *User     `json:"sender,omitempty"`
	SenderID    int64     `json:"senderId"`
	Content     string    `json:"content"`
	MessageType string    `json:"messageType"`
	Timestamp   time.Time `json:"timestamp"`
}

// Presence is the online-users snapshot.
type Presence struct {
	OnlineCount int      `json:"onlineCount"`
	OnlineUsers []string `json:"onlineUsers"`
}

// Signup registers a user and remembers its identity.
func (c *Client) Signup(username, name, phone, password string) (*User, error) {
	var user User
	err := c.doRequest("POST", "/api/auth/signup", map[string]string{
		"username":    username,
		"name":        name,
		"phoneNumber": phone,
		"password":    password,
	}, &user)
	if err != nil {
		return nil, err
	}
	return &user, c.remember(&user)
}

// Login verifies credentials and remembers the identity.
func (c *Client) Login(login, password string) (*User, error) {
	var user User
	if err := c.doRequest("POST", "/api/auth/login", map[string]string{"login": login, "password": password}, &user); err != nil {
		return nil, err
	}
	return &user, c.remember(&user)
}

func (c *Client) remember(user *User) error {
	c.UserID = user.ID
	c.Username = user.Username
	return c.SaveConfig()
}

// Logout marks the current user offline.
func (c *Client) Logout() error {
	return c.doRequest("POST", fmt.Sprintf("/api/auth/logout/%d", c.UserID), nil, nil)
}

// PrivateRoom returns the private room with another user.
func (c *Client) PrivateRoom(otherUserID int64) (*Room, error) {
	var room Room
	if err := c.doRequest("POST", fmt.Sprintf("/api/chat/private/%d", otherUserID), nil, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

// CreateGroup creates a group room with the given participants.
func (c *Client) CreateGroup(name, description string, participantIDs []int64) (*GroupResult, error) {
	var result GroupResult
	err := c.doRequest("POST", "/api/chat/group", map[string]any{
		"name":           name,
		"description":    description,
		"participantIds": participantIDs,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Rooms lists the current user's rooms. roomType is "", "private" or "group".
func (c *Client) Rooms(roomType string) ([]Room, error) {
	path := "/api/chat/rooms"
	if roomType != "" {
		path += "?type=" + url.QueryEscape(roomType)
	}
	var rooms []Room
	if err := c.doRequest("GET", path, nil, &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

// AddParticipant adds a user to a group room.
func (c *Client) AddParticipant(roomID, userID int64) (*Room, error) {
	var room Room
	if err := c.doRequest("POST", fmt.Sprintf("/api/chat/rooms/%d/participants/%d", roomID, userID), nil, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

// Messages retrieves one page of a room's history; page 0 is the newest.
func (c *Client) Messages(roomID int64, page, size int) ([]Message, error) {
	var messages []Message
	path := fmt.Sprintf("/api/chat/rooms/%d/messages?page=%d&size=%d", roomID, page, size)
	if err := c.doRequest("GET", path, nil, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// PostMessage appends a message to a room's history.
func (c *Client) PostMessage(roomID int64, content string) (*Message, error) {
	var msg Message
	if err := c.doRequest("POST", fmt.Sprintf("/api/chat/rooms/%d/messages", roomID), map[string]string{"content": content}, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// OnlineUsers returns the presence snapshot.
func (c *Client) OnlineUsers() (*Presence, error) {
	var p Presence
	if err := c.doRequest("GET", "/api/chat/online-users", nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Contacts lists the current user's contacts; onlineOnly keeps those online.
func (c *Client) Contacts(onlineOnly bool) ([]User, error) {
	path := "/api/chat/contacts"
	if onlineOnly {
		path += "?online=true"
	}
	var resp struct {
		Contacts []User `json:"contacts"`
	}
	if err := c.doRequest("GET", path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Contacts, nil
}

// AddContact links the current user with whoever registered phone.
func (c *Client) AddContact(phone string) (*User, error) {
	var user User
	if err := c.doRequest("POST", "/api/chat/contacts/phone/"+url.PathEscape(phone), nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// RemoveContact unlinks the current user and userID.
func (c *Client) RemoveContact(userID int64) error {
	return c.doRequest("DELETE", fmt.Sprintf("/api/chat/contacts/%d", userID), nil, nil)
}

// SearchUsers finds users whose name or username contains query.
func (c *Client) SearchUsers(query string) ([]User, error) {
	var resp struct {
		Users []User `json:"users"`
	}
	if err := c.doRequest("GET", "/api/chat/search/users?query="+url.QueryEscape(query), nil, &resp); err != nil {
		return nil, err
	}
	return resp.Users, nil
}

// Delivery is a payload pushed over the websocket.
type Delivery struct {
	Username    string   `json:"username"`
	Content     string   `json:"content"`
	MessageType string   `json:"messageType"`
	Timestamp   int64    `json:"timestamp"`
	TargetUser  string   `json:"targetUser,omitempty"`
	IsPrivate   bool     `json:"isPrivate,omitempty"`
	ChatRoomID  *int64   `json:"chatRoomId,omitempty"`
	IsGroup     bool     `json:"isGroup,omitempty"`
	OnlineCount *int     `json:"onlineCount,omitempty"`
	OnlineUsers []string `json:"onlineUsers,omitempty"`

	// Control replies
	Subscribed   string `json:"subscribed,omitempty"`
	Unsubscribed string `json:"unsubscribed,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Conn is a realtime connection.
type Conn struct {
	ws *websocket.Conn
}

// Connect opens the realtime websocket as the current user.
func (c *Client) Connect() (*Conn, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws"

	header := http.Header{}
	header.Set("User-Id", strconv.FormatInt(c.UserID, 10))

	ws, resp, err := websocket.DefaultDialer.Dial(u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, &APIError{Status: resp.StatusCode, Message: err.Error()}
		}
		return nil, err
	}
	return &Conn{ws: ws}, nil
}

// Close closes the connection.
func (c *Conn) Close() error {
	return c.ws.Close()
}

// Subscribe joins a group room's live topic.
func (c *Conn) Subscribe(roomID int64) error {
	return c.ws.WriteJSON(map[string]string{"action": "subscribe", "topic": fmt.Sprintf("group/%d", roomID)})
}

// Online announces the user as online.
func (c *Conn) Online() error {
	return c.ws.WriteJSON(map[string]string{"action": "userOnline"})
}

// Say sends a live message. A non-empty to makes it private; a non-zero
// roomID sends it to a group; otherwise it goes to everyone.
func (c *Conn) Say(content, to string, roomID int64) error {
	ev := map[string]any{
		"action":      "sendMessage",
		"content":     content,
		"messageType": "CHAT",
	}
	if to != "" {
		ev["targetUser"] = to
	}
	if roomID != 0 {
		ev["chatRoomId"] = roomID
	}
	return c.ws.WriteJSON(ev)
}

// Next blocks until the next delivery arrives.
func (c *Conn) Next() (*Delivery, error) {
	var d Delivery
	if err := c.ws.ReadJSON(&d); err != nil {
		return nil, err
	}
	return &d, nil
}

package realtime

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatrelay/internal/chat"
	"github.com/eldtechnologies/chatrelay/internal/metrics"
)

// ErrNotConnected is returned when a delivery target has no local connection.
var ErrNotConnected = errors.New("recipient not connected")

const (
	channelUser  = "user"
	channelTopic = "topic"
)

// Hub tracks the websocket connections of this instance and fans payloads out
// to them. It implements chat.Sink for single-instance deployments.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	users   map[string]map[string]*Client
	topics  map[string]map[string]*Client
	logger  zerolog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[string]*Client),
		users:   make(map[string]map[string]*Client),
		topics:  make(map[string]map[string]*Client),
		logger:  logger.With().Str("component", "hub").Logger(),
	}
}

// Register adds a client and subscribes it to the public topic.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[c.id] = c
	addMember(h.users, c.username, c)
	addMember(h.topics, chat.PublicTopic, c)
	c.topics[chat.PublicTopic] = struct{}{}

	metrics.WebsocketConnections.Inc()
	h.logger.Debug().
		Str("conn_id", c.id).
		Str("username", c.username).
		Msg("client registered")
}

// Unregister removes a client from every index. It reports whether this was the
// last connection of the client's username.
func (h *Hub) Unregister(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c.id]; !ok {
		return false
	}
	delete(h.clients, c.id)
	for topic := range c.topics {
		removeMember(h.topics, topic, c)
	}
	removeMember(h.users, c.username, c)

	metrics.WebsocketConnections.Dec()
	_, stillConnected := h.users[c.username]
	return !stillConnected
}

// Subscribe adds the client to topic.
func (h *Hub) Subscribe(c *Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c.id]; !ok {
		return
	}
	addMember(h.topics, topic, c)
	c.topics[topic] = struct{}{}
}

// Unsubscribe removes the client from topic. The public topic cannot be left.
func (h *Hub) Unsubscribe(c *Client, topic string) {
	if topic == chat.PublicTopic {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	removeMember(h.topics, topic, c)
	delete(c.topics, topic)
}

// DeliverToUser sends p to every connection of username.
func (h *Hub) DeliverToUser(username string, p chat.Payload) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return h.deliver(channelUser, username, data)
}

// DeliverToTopic sends p to every subscriber of topic.
func (h *Hub) DeliverToTopic(topic string, p chat.Payload) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return h.deliver(channelTopic, topic, data)
}

// DeliverToPublic sends p to every connection.
func (h *Hub) DeliverToPublic(p chat.Payload) error {
	return h.DeliverToTopic(chat.PublicTopic, p)
}

// deliver writes an encoded payload to the local connections behind target.
func (h *Hub) deliver(channel, target string, data []byte) error {
	h.mu.RLock()
	var index map[string]map[string]*Client
	if channel == channelUser {
		index = h.users
	} else {
		index = h.topics
	}
	recipients := make([]*Client, 0, len(index[target]))
	for _, c := range index[target] {
		recipients = append(recipients, c)
	}
	h.mu.RUnlock()

	if len(recipients) == 0 {
		metrics.Deliveries.WithLabelValues(channel, "absent").Inc()
		return ErrNotConnected
	}

	for _, c := range recipients {
		if c.enqueue(data) {
			metrics.Deliveries.WithLabelValues(channel, "ok").Inc()
			continue
		}
		metrics.Deliveries.WithLabelValues(channel, "dropped").Inc()
		h.logger.Warn().
			Str("conn_id", c.id).
			Str("username", c.username).
			Msg("send buffer full, dropping slow client")
		c.Close()
	}
	return nil
}

// ConnectionCount returns the number of registered connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// UserConnections returns the number of connections held by username.
func (h *Hub) UserConnections(username string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[username])
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.Close()
	}
}

func addMember(index map[string]map[string]*Client, key string, c *Client) {
	members, ok := index[key]
	if !ok {
		members = make(map[string]*Client)
		index[key] = members
	}
	members[c.id] = c
}

func removeMember(index map[string]map[string]*Client, key string, c *Client) {
	members, ok := index[key]
	if !ok {
		return
	}
	delete(members, c.id)
	if len(members) == 0 {
		delete(index, key)
	}
}

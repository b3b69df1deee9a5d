package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatrelay/internal/chat"
)

// Config holds connection timing and buffering.
type Config struct {
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	SendBuffer     int
	MaxMessageSize int64
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		PingInterval:   30 * time.Second,
		PongWait:       60 * time.Second,
		WriteWait:      10 * time.Second,
		SendBuffer:     64,
		MaxMessageSize: 8 * 1024,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.PongWait <= 0 {
		c.PongWait = d.PongWait
	}
	if c.WriteWait <= 0 {
		c.WriteWait = d.WriteWait
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = d.SendBuffer
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
	return c
}

// Client is one websocket connection of an identified user.
type Client struct {
	id       string
	userID   int64
	username string
	conn     *websocket.Conn
	send     chan []byte
	done     chan struct{}
	once     sync.Once

	// topics is guarded by the hub's lock.
	topics map[string]struct{}
}

func newClient(conn *websocket.Conn, userID int64, username string, buffer int) *Client {
	return &Client{
		id:       uuid.NewString(),
		userID:   userID,
		username: username,
		conn:     conn,
		send:     make(chan []byte, buffer),
		done:     make(chan struct{}),
		topics:   make(map[string]struct{}),
	}
}

// ID returns the connection id.
func (c *Client) ID() string { return c.id }

// Username returns the identity the connection was opened for.
func (c *Client) Username() string { return c.username }

// enqueue queues data without blocking. It reports false when the buffer is full.
func (c *Client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return true
	default:
	}

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Close shuts the connection down. Safe to call more than once.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// Subscriber authorizes topic subscriptions.
type Subscriber interface {
	CanSubscribe(ctx context.Context, topic string, userID int64) error
}

// Gateway runs the read and write pumps of each connection and feeds decoded
// events into the router.
type Gateway struct {
	hub        *Hub
	router     *chat.Router
	subscriber Subscriber
	cfg        Config
	logger     zerolog.Logger
}

// NewGateway creates a gateway.
func NewGateway(hub *Hub, router *chat.Router, subscriber Subscriber, cfg Config, logger zerolog.Logger) *Gateway {
	return &Gateway{
		hub:        hub,
		router:     router,
		subscriber: subscriber,
		cfg:        cfg.withDefaults(),
		logger:     logger.With().Str("component", "gateway").Logger(),
	}
}

// Hub returns the gateway's hub.
func (g *Gateway) Hub() *Hub {
	return g.hub
}

type controlFrame struct {
	Action string `json:"action"`
	Topic  string `json:"topic"`
}

// reply is written back to a single connection for control frames and rejected events.
type reply struct {
	Subscribed   string `json:"subscribed,omitempty"`
	Unsubscribed string `json:"unsubscribed,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Serve runs the connection until it closes. It blocks.
func (g *Gateway) Serve(ctx context.Context, conn *websocket.Conn, userID int64, username string) {
	c := newClient(conn, userID, username, g.cfg.SendBuffer)
	g.hub.Register(c)

	g.logger.Info().
		Str("conn_id", c.id).
		Str("username", username).
		Msg("websocket connected")

	go g.writePump(c)
	g.readPump(ctx, c)

	c.Close()
	if g.hub.Unregister(c) {
		g.router.Disconnected(ctx, username)
	}

	g.logger.Info().
		Str("conn_id", c.id).
		Str("username", username).
		Msg("websocket disconnected")
}

func (g *Gateway) readPump(ctx context.Context, c *Client) {
	c.conn.SetReadLimit(g.cfg.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(g.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(g.cfg.PongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.logger.Debug().Err(err).Str("conn_id", c.id).Msg("websocket read failed")
			}
			return
		}
		g.handleFrame(ctx, c, data)
	}
}

func (g *Gateway) handleFrame(ctx context.Context, c *Client, data []byte) {
	var frame controlFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		g.reply(c, reply{Error: chat.ErrMalformedEvent.Error()})
		return
	}

	switch frame.Action {
	case "subscribe":
		if err := g.subscriber.CanSubscribe(ctx, frame.Topic, c.userID); err != nil {
			g.reply(c, reply{Error: err.Error()})
			return
		}
		g.hub.Subscribe(c, frame.Topic)
		g.reply(c, reply{Subscribed: frame.Topic})
		return
	case "unsubscribe":
		g.hub.Unsubscribe(c, frame.Topic)
		g.reply(c, reply{Unsubscribed: frame.Topic})
		return
	}

	ev, err := chat.DecodeEventFor(data, c.username)
	if err == nil && ev.Kind == chat.KindSendMessage && ev.TargetUser == "" && ev.ChatRoomID != nil {
		// Only participants may post to a group topic.
		err = g.subscriber.CanSubscribe(ctx, chat.GroupTopic(*ev.ChatRoomID), c.userID)
	}
	if err == nil {
		_, err = g.router.Route(ctx, ev)
	}
	if err != nil {
		g.reply(c, reply{Error: err.Error()})
	}
}

func (g *Gateway) reply(c *Client, r reply) {
	data, err := json.Marshal(r)
	if err != nil {
		return
	}
	if !c.enqueue(data) {
		c.Close()
	}
}

func (g *Gateway) writePump(c *Client) {
	ticker := time.NewTicker(g.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(g.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(g.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(g.cfg.WriteWait))
			return
		}
	}
}

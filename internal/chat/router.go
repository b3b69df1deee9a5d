package chat

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/eldtechnologies/chatrelay/internal/metrics"
)

// Scope is the delivery classification of a routed event.
type Scope string

const (
	ScopePrivate  Scope = "private"
	ScopeGroup    Scope = "group"
	ScopePublic   Scope = "public"
	ScopePresence Scope = "presence"
)

// Presence broadcast message types. These travel only on the realtime path.
const (
	PresenceJoin    = "JOIN"
	PresenceOnline  = "ONLINE"
	PresenceOffline = "OFFLINE"
)

// Router classifies realtime events and hands the resulting payloads to a Sink.
// It holds no per-event state and never persists messages.
type Router struct {
	sink     Sink
	presence *PresenceTracker
	logger   zerolog.Logger
	now      func() time.Time
}

// NewRouter creates a router delivering to sink and tracking presence in tracker.
func NewRouter(sink Sink, tracker *PresenceTracker, logger zerolog.Logger) *Router {
	return &Router{
		sink:     sink,
		presence: tracker,
		logger:   logger.With().Str("component", "router").Logger(),
		now:      time.Now,
	}
}

// Presence returns the tracker the router updates.
func (r *Router) Presence() *PresenceTracker {
	return r.presence
}

// Route processes one event. A malformed event returns ErrMalformedEvent and
// has no effect. Delivery failures are logged and never returned.
func (r *Router) Route(ctx context.Context, ev Event) (Scope, error) {
	if err := ev.Validate(); err != nil {
		metrics.EventsRouted.WithLabelValues("rejected").Inc()
		r.logger.Warn().Err(err).Str("username", ev.Username).Msg("event rejected")
		return "", err
	}

	var scope Scope
	switch ev.Kind {
	case KindSendMessage:
		scope = r.routeMessage(ev)
	case KindAddUser:
		scope = r.broadcastPresence(r.presence.MarkOnline(ev.Username), ev.Username, PresenceJoin, ev.Username+" joined the chat")
	case KindUserOnline:
		scope = r.broadcastPresence(r.presence.MarkOnline(ev.Username), ev.Username, PresenceOnline, ev.Username+" is now online")
	case KindUserOffline:
		scope = r.broadcastPresence(r.presence.MarkOffline(ev.Username), ev.Username, PresenceOffline, ev.Username+" went offline")
	}

	metrics.EventsRouted.WithLabelValues(string(scope)).Inc()
	return scope, nil
}

// Disconnected is called by the transport when the last connection of username
// closes, so an unclean disconnect still produces an offline broadcast.
func (r *Router) Disconnected(ctx context.Context, username string) {
	if !r.presence.IsOnline(username) {
		return
	}
	if _, err := r.Route(ctx, Event{Kind: KindUserOffline, Username: username}); err != nil {
		r.logger.Warn().Err(err).Str("username", username).Msg("offline on disconnect failed")
	}
}

func (r *Router) routeMessage(ev Event) Scope {
	p := Payload{
		Username:    ev.Username,
		Content:     ev.Content,
		MessageType: ev.MessageType,
		Timestamp:   r.now().UnixMilli(),
	}

	switch {
	case ev.TargetUser != "":
		p.TargetUser = ev.TargetUser
		p.IsPrivate = true
		for _, username := range lo.Uniq([]string{ev.Username, ev.TargetUser}) {
			r.logDelivery("user", username, r.sink.DeliverToUser(username, p))
		}
		return ScopePrivate

	case ev.ChatRoomID != nil:
		id := *ev.ChatRoomID
		p.ChatRoomID = &id
		p.IsGroup = true
		topic := GroupTopic(id)
		r.logDelivery("topic", topic, r.sink.DeliverToTopic(topic, p))
		return ScopeGroup

	default:
		r.logDelivery("topic", PublicTopic, r.sink.DeliverToPublic(p))
		return ScopePublic
	}
}

func (r *Router) broadcastPresence(snapshot Presence, username, messageType, content string) Scope {
	p := Payload{
		Username:    username,
		Content:     content,
		MessageType: messageType,
		Timestamp:   r.now().UnixMilli(),
		Presence:    &snapshot,
	}
	r.logDelivery("topic", PublicTopic, r.sink.DeliverToPublic(p))
	return ScopePresence
}

func (r *Router) logDelivery(kind, target string, err error) {
	if err == nil {
		return
	}
	r.logger.Debug().Err(err).Str(kind, target).Msg("delivery failed")
}

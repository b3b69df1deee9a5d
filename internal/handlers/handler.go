package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"unicode"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/chatrelay/internal/chat"
	"github.com/eldtechnologies/chatrelay/internal/realtime"
	"github.com/eldtechnologies/chatrelay/internal/store"
)

var validate = validator.New()

// Limits bounds paginated reads.
type Limits struct {
	DefaultPageSize int
	MaxPageSize     int
}

// Deps are the collaborators shared by all handlers. Redis and Gateway may be nil.
type Deps struct {
	DB       store.DataStore
	Redis    *store.RedisStore
	Registry *chat.Registry
	Messages *chat.MessageLog
	Presence *chat.PresenceTracker
	Contacts *chat.Contacts
	Gateway  *realtime.Gateway
	Limits   Limits

	// AllowedOrigins gates websocket upgrades; "*" allows any origin.
	AllowedOrigins []string
	Logger         zerolog.Logger
}

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	db       store.DataStore
	redis    *store.RedisStore
	registry *chat.Registry
	messages *chat.MessageLog
	presence *chat.PresenceTracker
	contacts *chat.Contacts
	gateway  *realtime.Gateway
	limits   Limits
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewHandler creates a new Handler from its dependencies. A nil Contacts is
// built from DB and Presence.
func NewHandler(d Deps) *Handler {
	if d.Limits.DefaultPageSize <= 0 {
		d.Limits.DefaultPageSize = 50
	}
	if d.Limits.MaxPageSize < d.Limits.DefaultPageSize {
		d.Limits.MaxPageSize = d.Limits.DefaultPageSize
	}
	if d.Contacts == nil && d.DB != nil {
		d.Contacts = chat.NewContacts(d.DB, d.Presence, d.Logger)
	}
	return &Handler{
		db:       d.DB,
		redis:    d.Redis,
		registry: d.Registry,
		messages: d.Messages,
		presence: d.Presence,
		contacts: d.Contacts,
		gateway:  d.Gateway,
		limits:   d.Limits,
		upgrader: newUpgrader(d.AllowedOrigins),
		logger:   d.Logger.With().Str("component", "http").Logger(),
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// Fail maps a core error to its HTTP status. Unknown errors are logged and hidden.
func (h *Handler) Fail(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error().Err(err).Msg("request failed")
		h.Error(w, status, "internal error")
		return
	}
	h.Error(w, status, err.Error())
}

// StatusFor returns the HTTP status for an error kind.
func StatusFor(err error) int {
	var verrs validator.ValidationErrors
	switch {
	case errors.Is(err, chat.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, chat.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, chat.ErrInvalidOperation), errors.Is(err, chat.ErrDuplicateRoom):
		return http.StatusConflict
	case errors.Is(err, chat.ErrMalformedEvent), errors.Is(err, chat.ErrInvalidInput), errors.As(err, &verrs):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// decode reads a JSON body into dst and validates its struct tags.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		h.Error(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// pathID parses a positive integer URL parameter.
func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		h.Error(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

// queryInt returns a non-negative integer query parameter, or def when absent or invalid.
func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}

// pageSize clamps a requested size to the configured bounds.
func (h *Handler) pageSize(requested int) int {
	if requested <= 0 {
		return h.limits.DefaultPageSize
	}
	return min(requested, h.limits.MaxPageSize)
}

// sanitizeName trims and limits name to 100 characters, removing control characters.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)

	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)

	if runes := []rune(name); len(runes) > 100 {
		name = string(runes[:100])
	}

	return name
}

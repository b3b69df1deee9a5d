package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/eldtechnologies/chatrelay/internal/api/middleware"
	"github.com/eldtechnologies/chatrelay/internal/chat"
	"github.com/eldtechnologies/chatrelay/internal/models"
)

// ContactsResponse represents the contact list response.
type ContactsResponse struct {
	Contacts []models.User `json:"contacts"`
	Total    int           `json:"total"`
}

// UserSearchResponse represents the user search response.
type UserSearchResponse struct {
	Query string        `json:"query"`
	Users []models.User `json:"users"`
	Total int           `json:"total"`
}

// AddContactByPhone links the caller with the user registered under phone.
func (h *Handler) AddContactByPhone(w http.ResponseWriter, r *http.Request) {
	contact, err := h.contacts.AddByPhone(r.Context(), middleware.UserIDFromContext(r.Context()), chi.URLParam(r, "phone"))
	if err != nil {
		h.Fail(w, err)
		return
	}
	h.JSON(w, http.StatusOK, contact)
}

// RemoveContact unlinks the caller and contactId.
func (h *Handler) RemoveContact(w http.ResponseWriter, r *http.Request) {
	contactID, ok := h.pathID(w, r, "contactId")
	if !ok {
		return
	}

	if err := h.contacts.Remove(r.Context(), middleware.UserIDFromContext(r.Context()), contactID); err != nil {
		h.Fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListContacts returns the caller's contacts. online=true keeps only those online.
func (h *Handler) ListContacts(w http.ResponseWriter, r *http.Request) {
	onlineOnly := strings.EqualFold(r.URL.Query().Get("online"), "true")

	contacts, err := h.contacts.List(r.Context(), middleware.UserIDFromContext(r.Context()), onlineOnly)
	if err != nil {
		h.Fail(w, err)
		return
	}
	if contacts == nil {
		contacts = []models.User{}
	}
	h.JSON(w, http.StatusOK, ContactsResponse{Contacts: contacts, Total: len(contacts)})
}

// SearchUsers finds users by name or username.
func (h *Handler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("query"))
	if query == "" {
		h.Error(w, http.StatusBadRequest, "query parameter 'query' is required")
		return
	}

	users, err := h.contacts.Search(r.Context(), query, min(queryInt(r, "limit", 20), chat.MaxSearchResults))
	if err != nil {
		h.Fail(w, err)
		return
	}
	if users == nil {
		users = []models.User{}
	}
	h.JSON(w, http.StatusOK, UserSearchResponse{Query: query, Users: users, Total: len(users)})
}

package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/eldtechnologies/chatrelay/internal/chat"
)

func TestStatusFor(t *testing.T) {
	type sample struct {
		Name string `validate:"required"`
	}
	validationErr := validate.Struct(sample{})

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", fmt.Errorf("room 9: %w", chat.ErrNotFound), http.StatusNotFound},
		{"permission", chat.ErrPermissionDenied, http.StatusForbidden},
		{"invalid operation", chat.ErrInvalidOperation, http.StatusConflict},
		{"duplicate room", chat.ErrDuplicateRoom, http.StatusConflict},
		{"malformed", chat.ErrMalformedEvent, http.StatusBadRequest},
		{"invalid input", chat.ErrInvalidInput, http.StatusBadRequest},
		{"validator", validationErr, http.StatusBadRequest},
		{"unknown", errors.New("disk on fire"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, StatusFor(tt.err))
		})
	}
}

func TestFail_Hides_Internal_Errors(t *testing.T) {
	req := require.New(t)
	h := NewHandler(Deps{Logger: zerolog.Nop()})

	rec := httptest.NewRecorder()
	h.Fail(rec, errors.New("password=hunter2 leaked"))
	req.Equal(http.StatusInternalServerError, rec.Code)
	req.JSONEq(`{"error":"internal error"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.Fail(rec, fmt.Errorf("room 3: %w", chat.ErrNotFound))
	req.Equal(http.StatusNotFound, rec.Code)
	req.JSONEq(`{"error":"room 3: not found"}`, rec.Body.String())
}

func TestPageSize_Clamps(t *testing.T) {
	req := require.New(t)
	h := NewHandler(Deps{Limits: Limits{DefaultPageSize: 20, MaxPageSize: 100}})

	req.Equal(20, h.pageSize(0))
	req.Equal(5, h.pageSize(5))
	req.Equal(100, h.pageSize(1000))

	// Zero limits fall back to 50
	req.Equal(50, NewHandler(Deps{}).pageSize(0))
}

func TestSanitizeName(t *testing.T) {
	req := require.New(t)
	req.Equal("Team Rocket", sanitizeName("  Team\x00 Rocket\n "))
	req.Len([]rune(sanitizeName(strings.Repeat("é", 150))), 100)
}

package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func logLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	return line
}

func TestLogger_Records_Identified_Caller(t *testing.T) {
	req := require.New(t)
	var buf bytes.Buffer
	handler := Logger(zerolog.New(&buf))(RequireUser(okHandler))

	// When an identified request passes through
	r := httptest.NewRequest(http.MethodGet, "/api/chat/rooms", nil)
	r.Header.Set(UserIDHeader, "7")
	handler.ServeHTTP(httptest.NewRecorder(), r)

	// Then the line carries the caller learned after logging started
	line := logLine(t, &buf)
	req.Equal("request completed", line["message"])
	req.Equal("info", line["level"])
	req.EqualValues(200, line["status"])
	req.EqualValues(7, line["user_id"])
}

func TestLogger_Rejected_Request_Is_Warning_Without_Caller(t *testing.T) {
	req := require.New(t)
	var buf bytes.Buffer
	handler := Logger(zerolog.New(&buf))(RequireUser(okHandler))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/chat/rooms", nil))

	line := logLine(t, &buf)
	req.Equal("warn", line["level"])
	req.EqualValues(401, line["status"])
	req.NotContains(line, "user_id")
}

func TestLogger_Tags_Websocket_Sessions(t *testing.T) {
	req := require.New(t)
	var buf bytes.Buffer
	// A taken-over connection never writes a status through the wrapper.
	session := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	handler := Logger(zerolog.New(&buf))(RequireUser(session))

	r := httptest.NewRequest(http.MethodGet, "/ws?userId=3", nil)
	r.Header.Set("Connection", "Upgrade")
	r.Header.Set("Upgrade", "websocket")
	handler.ServeHTTP(httptest.NewRecorder(), r)

	line := logLine(t, &buf)
	req.Equal("websocket session ended", line["message"])
	req.Equal(true, line["websocket"])
	req.EqualValues(http.StatusSwitchingProtocols, line["status"])
	req.EqualValues(3, line["user_id"])
}

func TestLogger_Failed_Upgrade_Is_Ordinary_Request(t *testing.T) {
	req := require.New(t)
	var buf bytes.Buffer
	refuse := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Upgrade", "websocket")
	Logger(zerolog.New(&buf))(refuse).ServeHTTP(httptest.NewRecorder(), r)

	line := logLine(t, &buf)
	req.Equal("request completed", line["message"])
	req.EqualValues(http.StatusForbidden, line["status"])
	req.NotContains(line, "websocket")
}

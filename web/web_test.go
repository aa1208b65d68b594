package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbasaglia/Melanobot-v2-sub002/network"
)

// fakeConnection implements the parts of network.Connection the server uses
type fakeConnection struct {
	network.Connection

	mu     sync.Mutex
	said   []network.OutputMessage
	sent   []network.Command
	users  map[string][]network.User
	groups map[string][]network.User
}

func newFakeConnection() *fakeConnection {
	return &fakeConnection{
		users: map[string][]network.User{
			"#chan": {{Name: "alice", LocalID: "alice", Channels: []string{"#chan"}}},
			"":      {{Name: "alice", LocalID: "alice"}, {Name: "bob", LocalID: "bob"}},
		},
		groups: map[string][]network.User{
			"admin": {{Name: "alice", LocalID: "alice"}},
		},
	}
}

func (f *fakeConnection) ID() string             { return "freenode" }
func (f *fakeConnection) Protocol() string       { return "irc" }
func (f *fakeConnection) Name() string           { return "Bot" }
func (f *fakeConnection) Description() string    { return "irc.example.com:6667" }
func (f *fakeConnection) Server() network.Server { return network.Server{Host: "irc.example.com", Port: 6667} }
func (f *fakeConnection) Status() network.Status { return network.Connected }

func (f *fakeConnection) UsersInChannel(channel string) []network.User { return f.users[channel] }
func (f *fakeConnection) UsersInGroup(group string) []network.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.groups[group]
}

func (f *fakeConnection) Say(msg network.OutputMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.said = append(f.said, msg)
}

func (f *fakeConnection) Command(cmd network.Command) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, cmd)
}

func (f *fakeConnection) AddToGroup(name, group string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.groups[group] {
		if u.Name == name {
			return false
		}
	}
	f.groups[group] = append(f.groups[group], network.User{Name: name, LocalID: name})
	return true
}

func (f *fakeConnection) RemoveFromGroup(name, group string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, u := range f.groups[group] {
		if u.Name == name {
			f.groups[group] = append(f.groups[group][:i], f.groups[group][i+1:]...)
			return true
		}
	}
	return false
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	return rec
}

func TestStatus(t *testing.T) {
	s := New()
	s.Add(newFakeConnection())

	rec := get(t, s, "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var statuses []ConnectionStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &statuses))
	require.Len(t, statuses, 1)
	assert.Equal(t, ConnectionStatus{
		ID:          "freenode",
		Protocol:    "irc",
		Name:        "Bot",
		Description: "irc.example.com:6667",
		Server:      network.Server{Host: "irc.example.com", Port: 6667},
		Status:      "connected",
	}, statuses[0])
}

func TestConnection(t *testing.T) {
	s := New()
	s.Add(newFakeConnection())

	rec := get(t, s, "/connections/freenode")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"connected"`)

	rec = get(t, s, "/connections/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	s.Remove("freenode")
	rec = get(t, s, "/connections/freenode")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUsersAndGroups(t *testing.T) {
	s := New()
	s.Add(newFakeConnection())

	var users []network.User
	rec := get(t, s, "/connections/freenode/users?channel=%23chan")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &users))
	require.Len(t, users, 1)
	assert.Equal(t, "alice", users[0].Name)

	rec = get(t, s, "/connections/freenode/users")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &users))
	assert.Len(t, users, 2)

	rec = get(t, s, "/connections/freenode/groups/admin")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &users))
	require.Len(t, users, 1)
	assert.Equal(t, "alice", users[0].LocalID)

	rec = get(t, s, "/connections/freenode/groups/nobody")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestMetrics(t *testing.T) {
	extra := prometheus.NewRegistry()
	promauto.With(extra).NewCounter(prometheus.CounterOpts{
		Name: "web_test_extra_total",
		Help: "Gathered from another registry",
	}).Inc()

	s := New(extra)
	s.Add(newFakeConnection())
	get(t, s, "/status")

	rec := get(t, s, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "web_test_extra_total 1")
	assert.Contains(t, body, `http_requests_total{code="200",method="GET",path="/status"}`)
}

func TestEvents(t *testing.T) {
	s := New()
	conn := newFakeConnection()
	s.Add(conn)

	srv := httptest.NewServer(s.Echo())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/connections/freenode/events"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	require.Eventually(t, func() bool {
		return s.hub.count("freenode") == 1
	}, time.Second, 5*time.Millisecond)

	msg := network.Message{Conn: conn, Verb: "PRIVMSG", From: "alice", Text: "hello", Params: []string{"#chan", "hello"}}
	require.NoError(t, s.Publish(msg))
	require.NoError(t, s.Publish(network.Message{Verb: "PING"}))

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)

	var event Event
	require.NoError(t, json.Unmarshal(data, &event))
	assert.Equal(t, "freenode", event.Connection)
	assert.Equal(t, "PRIVMSG", event.Message.Verb)
	assert.Equal(t, "hello", event.Message.Text)

	require.NoError(t, s.Shutdown(context.Background()))
	assert.Equal(t, 0, s.hub.count("freenode"))
}

func TestEventsUnknownConnection(t *testing.T) {
	s := New()
	rec := get(t, s, "/connections/nope/events")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChatLogger(t *testing.T) {
	conn := newFakeConnection()
	e := echo.New()
	e.Use(ChatLogger(conn, "#logs"))
	e.GET("/ok", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/fail", func(c echo.Context) error { return echo.NewHTTPError(http.StatusTeapot, "short and stout") })

	for _, path := range []string{"/ok", "/fail"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()

	require.Len(t, conn.sent, 1)
	assert.Equal(t, "JOIN", conn.sent[0].Verb)
	assert.Equal(t, []string{"#logs"}, conn.sent[0].Params)

	require.Len(t, conn.said, 2)
	assert.Equal(t, "#logs", conn.said[0].Target)
	assert.Contains(t, string(conn.said[0].Message), "{green}200{c} GET /ok")
	assert.Contains(t, string(conn.said[1].Message), "{orange}418{c} GET /fail")
	assert.Contains(t, string(conn.said[1].Message), "short and stout")
	assert.False(t, conn.said[1].Expires.IsZero())
	assert.Equal(t, -1, conn.said[1].Priority)
}

func adminRequest(t *testing.T, s *Server, method, path, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	return rec
}

func TestAdminDisabledWithoutToken(t *testing.T) {
	s := New()
	s.Add(newFakeConnection())
	s.EnableAdmin("")

	rec := adminRequest(t, s, http.MethodPost, "/admin/connections/freenode/say", "", `{"target":"#chan","message":"hi"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminAuth(t *testing.T) {
	s := New()
	s.Add(newFakeConnection())
	s.EnableAdmin("secret")

	rec := adminRequest(t, s, http.MethodPost, "/admin/connections/freenode/say", "wrong", `{"target":"#chan","message":"hi"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = adminRequest(t, s, http.MethodPost, "/admin/connections/freenode/say", "", `{"target":"#chan","message":"hi"}`)
	assert.GreaterOrEqual(t, rec.Code, http.StatusBadRequest)
}

func TestAdminSay(t *testing.T) {
	s := New()
	conn := newFakeConnection()
	s.Add(conn)
	s.EnableAdmin("secret")

	rec := adminRequest(t, s, http.MethodPost, "/admin/connections/freenode/say", "secret",
		`{"target":"#chan","message":"{b}hi{b}","action":true,"priority":5,"expires":30}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = adminRequest(t, s, http.MethodPost, "/admin/connections/freenode/say", "secret", `{"target":"#chan"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "message")

	rec = adminRequest(t, s, http.MethodPost, "/admin/connections/nope/say", "secret", `{"target":"#chan","message":"hi"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	conn.mu.Lock()
	defer conn.mu.Unlock()
	require.Len(t, conn.said, 1)
	assert.Equal(t, network.RichText("{b}hi{b}"), conn.said[0].Message)
	assert.True(t, conn.said[0].Action)
	assert.Equal(t, 5, conn.said[0].Priority)
	assert.WithinDuration(t, time.Now().Add(30*time.Second), conn.said[0].Expires, 5*time.Second)
}

func TestAdminCommands(t *testing.T) {
	s := New()
	conn := newFakeConnection()
	s.Add(conn)
	s.EnableAdmin("secret")

	rec := adminRequest(t, s, http.MethodPost, "/admin/connections/freenode/commands", "secret", `{"verb":"join","params":["#new"]}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = adminRequest(t, s, http.MethodPost, "/admin/connections/freenode/commands", "secret", `{"verb":"PRIV MSG"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = adminRequest(t, s, http.MethodPost, "/admin/connections/freenode/reconnect?reason=maintenance", "secret", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	conn.mu.Lock()
	defer conn.mu.Unlock()
	require.Len(t, conn.sent, 2)
	assert.Equal(t, "JOIN", conn.sent[0].Verb)
	assert.Equal(t, []string{"#new"}, conn.sent[0].Params)
	assert.Equal(t, "RECONNECT", conn.sent[1].Verb)
	assert.Equal(t, []string{"maintenance"}, conn.sent[1].Params)
}

func TestAdminGroups(t *testing.T) {
	s := New()
	s.Add(newFakeConnection())
	s.EnableAdmin("secret")

	rec := adminRequest(t, s, http.MethodPut, "/admin/connections/freenode/groups/admin/bob", "secret", "")
	assert.Equal(t, http.StatusCreated, rec.Code)
	rec = adminRequest(t, s, http.MethodPut, "/admin/connections/freenode/groups/admin/bob", "secret", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var users []network.User
	rec = get(t, s, "/connections/freenode/groups/admin")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &users))
	assert.Len(t, users, 2)

	rec = adminRequest(t, s, http.MethodDelete, "/admin/connections/freenode/groups/admin/bob", "secret", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = adminRequest(t, s, http.MethodDelete, "/admin/connections/freenode/groups/admin/bob", "secret", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

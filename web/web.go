// Package web serves the status of the bot connections over HTTP: status
// and presence queries as JSON, Prometheus metrics and a websocket stream of
// the messages each connection receives.
package web

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sort"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mbasaglia/Melanobot-v2-sub002/network"
)

// ConnectionStatus is the JSON view of a connection
type ConnectionStatus struct {
	ID          string         `json:"id"`
	Protocol    string         `json:"protocol"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Server      network.Server `json:"server"`
	Status      string         `json:"status"`
}

func statusOf(conn network.Connection) ConnectionStatus {
	return ConnectionStatus{
		ID:          conn.ID(),
		Protocol:    conn.Protocol(),
		Name:        conn.Name(),
		Description: conn.Description(),
		Server:      conn.Server(),
		Status:      conn.Status().String(),
	}
}

// Server is the status server
type Server struct {
	echo *echo.Echo
	hub  *hub

	mu    sync.RWMutex
	conns map[string]network.Connection
}

// New creates a status server exposing the metrics gathered by gatherers
// alongside its own
func New(gatherers ...prometheus.Gatherer) *Server {
	s := &Server{
		echo:  echo.New(),
		hub:   newHub(),
		conns: make(map[string]network.Connection),
	}
	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Validator = newValidator()
	s.echo.Use(Metrics())

	metrics := promhttp.HandlerFor(
		append(prometheus.Gatherers{Registry}, gatherers...),
		promhttp.HandlerOpts{EnableOpenMetrics: true},
	)

	s.echo.GET("/status", s.handleStatus)
	s.echo.GET("/metrics", echo.WrapHandler(metrics))
	s.echo.GET("/connections/:name", s.handleConnection)
	s.echo.GET("/connections/:name/users", s.handleUsers)
	s.echo.GET("/connections/:name/groups/:group", s.handleGroup)
	s.echo.GET("/connections/:name/events", s.handleEvents)
	return s
}

// Echo returns the underlying echo instance, for extra middleware or routes
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Add exposes a connection, replacing any connection with the same ID
func (s *Server) Add(conn network.Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[conn.ID()] = conn
}

// Remove stops exposing a connection
func (s *Server) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, id)
}

func (s *Server) connection(id string) (network.Connection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conn, ok := s.conns[id]
	return conn, ok
}

// Publish streams an inbound message to the websocket subscribers of its connection.
// It fits hooks.Handler.
func (s *Server) Publish(msg network.Message) error {
	if msg.Conn == nil {
		return nil
	}
	return s.hub.publish(msg.Conn.ID(), msg)
}

// Start listens on address, blocking until the server is shut down
func (s *Server) Start(address string) error {
	log.Printf("[web] Listening on %s", address)
	if err := s.echo.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server, closing every websocket
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.close()
	return s.echo.Shutdown(ctx)
}

func (s *Server) handleStatus(c echo.Context) error {
	s.mu.RLock()
	statuses := make([]ConnectionStatus, 0, len(s.conns))
	for _, conn := range s.conns {
		statuses = append(statuses, statusOf(conn))
	}
	s.mu.RUnlock()

	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].ID < statuses[j].ID
	})
	return c.JSON(http.StatusOK, statuses)
}

func (s *Server) lookup(c echo.Context) (network.Connection, error) {
	conn, ok := s.connection(c.Param("name"))
	if !ok {
		return nil, echo.NewHTTPError(http.StatusNotFound, "unknown connection "+c.Param("name"))
	}
	return conn, nil
}

func (s *Server) handleConnection(c echo.Context) error {
	conn, err := s.lookup(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, statusOf(conn))
}

func (s *Server) handleUsers(c echo.Context) error {
	conn, err := s.lookup(c)
	if err != nil {
		return err
	}
	users := conn.UsersInChannel(c.QueryParam("channel"))
	if users == nil {
		users = []network.User{}
	}
	return c.JSON(http.StatusOK, users)
}

func (s *Server) handleGroup(c echo.Context) error {
	conn, err := s.lookup(c)
	if err != nil {
		return err
	}
	users := conn.UsersInGroup(c.Param("group"))
	if users == nil {
		users = []network.User{}
	}
	return c.JSON(http.StatusOK, users)
}

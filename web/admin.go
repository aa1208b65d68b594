package web

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/mbasaglia/Melanobot-v2-sub002/network"
)

// SayRequest is the body of POST /admin/connections/:name/say
type SayRequest struct {
	Target   string `json:"target" validate:"required"`
	Message  string `json:"message" validate:"required"`
	From     string `json:"from,omitempty"`
	Action   bool   `json:"action,omitempty"`
	Priority int    `json:"priority,omitempty" validate:"gte=-1024,lte=1024"`
	// Expires is in seconds, 0 never expires
	Expires int `json:"expires,omitempty" validate:"gte=0"`
}

// CommandRequest is the body of POST /admin/connections/:name/commands
type CommandRequest struct {
	Verb     string   `json:"verb" validate:"required,alpha"`
	Params   []string `json:"params,omitempty"`
	Priority int      `json:"priority,omitempty" validate:"gte=-1024,lte=1024"`
}

// EnableAdmin registers the routes that act on connections.
// Requests must carry token as a bearer token, an empty token leaves them disabled.
func (s *Server) EnableAdmin(token string) {
	if token == "" {
		return
	}

	admin := s.echo.Group("/admin", middleware.KeyAuth(func(key string, c echo.Context) (bool, error) {
		return subtle.ConstantTimeCompare([]byte(key), []byte(token)) == 1, nil
	}))
	admin.POST("/connections/:name/say", s.handleSay)
	admin.POST("/connections/:name/commands", s.handleCommand)
	admin.POST("/connections/:name/reconnect", s.handleReconnect)
	admin.PUT("/connections/:name/groups/:group/:user", s.handleAddToGroup)
	admin.DELETE("/connections/:name/groups/:group/:user", s.handleRemoveFromGroup)
}

// bind decodes and validates the request body into req
func bind(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return err
	}
	return c.Validate(req)
}

func (s *Server) handleSay(c echo.Context) error {
	conn, err := s.lookup(c)
	if err != nil {
		return err
	}
	var req SayRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	msg := network.OutputMessage{
		Target:   req.Target,
		Message:  network.RichText(req.Message),
		From:     network.RichText(req.From),
		Action:   req.Action,
		Priority: req.Priority,
	}
	if req.Expires > 0 {
		msg.Expires = time.Now().Add(time.Duration(req.Expires) * time.Second)
	}
	conn.Say(msg)
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) handleCommand(c echo.Context) error {
	conn, err := s.lookup(c)
	if err != nil {
		return err
	}
	var req CommandRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	conn.Command(network.NewCommand(strings.ToUpper(req.Verb), req.Params...).WithPriority(req.Priority))
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) handleReconnect(c echo.Context) error {
	conn, err := s.lookup(c)
	if err != nil {
		return err
	}
	conn.Command(network.NewCommand("RECONNECT", c.QueryParam("reason")))
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) handleAddToGroup(c echo.Context) error {
	conn, err := s.lookup(c)
	if err != nil {
		return err
	}
	if conn.AddToGroup(c.Param("user"), c.Param("group")) {
		return c.NoContent(http.StatusCreated)
	}
	return c.NoContent(http.StatusOK)
}

func (s *Server) handleRemoveFromGroup(c echo.Context) error {
	conn, err := s.lookup(c)
	if err != nil {
		return err
	}
	if !conn.RemoveFromGroup(c.Param("user"), c.Param("group")) {
		return echo.NewHTTPError(http.StatusNotFound, c.Param("user")+" is not in "+c.Param("group"))
	}
	return c.NoContent(http.StatusNoContent)
}

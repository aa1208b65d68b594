package web

import (
	"fmt"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/mbasaglia/Melanobot-v2-sub002/network"
)

// IRCLoggedKey is the context key that indicates a request has been reported to chat
const IRCLoggedKey = "irc_logged"

// ChatLoggerConfig holds configuration for the ChatLogger middleware
type ChatLoggerConfig struct {
	// Channel receives one line per request
	Channel string

	// Expires drops lines still queued after this long, 0 keeps them
	Expires time.Duration

	// Skipper defines a function to skip middleware
	Skipper middleware.Skipper

	// FormatFunc formats the line sent to chat
	FormatFunc func(values middleware.RequestLoggerValues) network.RichText
}

// DefaultChatLoggerConfig returns the default ChatLogger configuration for channel
func DefaultChatLoggerConfig(channel string) ChatLoggerConfig {
	return ChatLoggerConfig{
		Channel: channel,
		Expires: time.Minute,
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/metrics" || c.Path() == "/connections/:name/events"
		},
		FormatFunc: func(v middleware.RequestLoggerValues) network.RichText {
			color := "{green}"
			switch {
			case v.Status >= 500:
				color = "{red}"
			case v.Status >= 400:
				color = "{orange}"
			}
			line := fmt.Sprintf("%s%d{c} %s %s from %s (took %s)",
				color, v.Status, v.Method, v.URI, v.RemoteIP, v.Latency.Round(time.Millisecond))
			if v.Error != nil {
				line += " | Error: " + v.Error.Error()
			}
			return network.RichText(line)
		},
	}
}

// ChatLogger returns middleware reporting every request to a channel through conn
func ChatLogger(conn network.Connection, channel string) echo.MiddlewareFunc {
	return ChatLoggerWithConfig(conn, DefaultChatLoggerConfig(channel))
}

// ChatLoggerWithConfig returns the ChatLogger middleware using config.
// Lines are queued at the lowest priority, the connection holds them until it
// is registered and sends them within its flood limits.
func ChatLoggerWithConfig(conn network.Connection, config ChatLoggerConfig) echo.MiddlewareFunc {
	defaults := DefaultChatLoggerConfig(config.Channel)
	if config.Skipper == nil {
		config.Skipper = defaults.Skipper
	}
	if config.FormatFunc == nil {
		config.FormatFunc = defaults.FormatFunc
	}

	conn.Command(network.NewCommand("JOIN", config.Channel))

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if config.Skipper(c) {
				return next(c)
			}

			start := time.Now()
			err := next(c)

			values := middleware.RequestLoggerValues{
				Status:   c.Response().Status,
				Method:   c.Request().Method,
				URI:      c.Request().RequestURI,
				RemoteIP: c.RealIP(),
				Latency:  time.Since(start),
				Error:    err,
			}
			if httpErr, ok := err.(*echo.HTTPError); ok {
				values.Status = httpErr.Code
			}

			msg := network.OutputMessage{
				Target:   config.Channel,
				Message:  config.FormatFunc(values),
				Priority: -1,
			}
			if config.Expires > 0 {
				msg.Expires = time.Now().Add(config.Expires)
			}
			conn.Say(msg)

			c.Set(IRCLoggedKey, true)
			return err
		}
	}
}

// SkipIfLoggedToIRC returns a skipper for the default logger
// to avoid logging requests already reported to chat twice
func SkipIfLoggedToIRC(c echo.Context) bool {
	return c.Get(IRCLoggedKey) != nil
}

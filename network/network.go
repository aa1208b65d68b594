// Package network defines the protocol independent pieces shared by every
// chat connection: servers, outbound commands, inbound messages, connection
// status and the capability interfaces a connection consumes and exposes.
package network

import (
	"net"
	"strconv"
	"time"
)

// Server identifies a network server
type Server struct {
	Host string `json:"host"`
	Port uint16 `json:"port"`
}

// String returns host:port, with brackets around IPv6 hosts
func (s Server) String() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(int(s.Port)))
}

// Command is a unit of outbound protocol work
type Command struct {
	Verb      string
	Params    []string
	Priority  int // higher = handled sooner
	CreatedAt time.Time
	ExpiresAt time.Time // zero value never expires
}

// NewCommand creates a command with default priority and no expiry
func NewCommand(verb string, params ...string) Command {
	return Command{
		Verb:      verb,
		Params:    params,
		CreatedAt: time.Now(),
	}
}

// WithPriority returns a copy of the command with the given priority
func (c Command) WithPriority(priority int) Command {
	c.Priority = priority
	return c
}

// WithTimeout returns a copy of the command expiring d after its creation
func (c Command) WithTimeout(d time.Duration) Command {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	c.ExpiresAt = c.CreatedAt.Add(d)
	return c
}

// Expired reports whether the command has become obsolete at the given time
func (c Command) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && now.After(c.ExpiresAt)
}

// Before reports whether c must be sent before other:
// higher priority first, then older commands first.
func (c Command) Before(other Command) bool {
	if c.Priority != other.Priority {
		return c.Priority > other.Priority
	}
	return c.CreatedAt.Before(other.CreatedAt)
}

// Message is a parsed inbound line.
// Messages with an empty Verb carry nothing and must be ignored.
type Message struct {
	Conn   Connection `json:"-"` // connection the message came from
	Raw    string     `json:"raw"`
	Source string     `json:"source,omitempty"` // unparsed prefix (nick!user@host or server)
	Verb   string     `json:"verb"`
	Params []string   `json:"params"`

	// Annotations added by the connection before forwarding
	From     string   `json:"from,omitempty"`
	Text     string   `json:"text,omitempty"`
	Channels []string `json:"channels,omitempty"`
	Action   bool     `json:"action,omitempty"`
	Direct   bool     `json:"direct,omitempty"`
}

// RichText is a formatting neutral string using {code} markup,
// such as "{b}bold{b}" or "{red}red{c}".
type RichText string

// OutputMessage is a protocol agnostic message to deliver through a connection
type OutputMessage struct {
	Target   string   // channel or user the message is delivered to
	Message  RichText // contents
	Prefix   RichText // prepended to the message
	From     RichText // if not empty, the message looks like it comes from this user
	Action   bool
	Priority int
	Expires  time.Time // zero value never expires
}

// Status of a connection
type Status int32

const (
	Disconnected Status = iota // completely disconnected
	Waiting                    // needs something before connecting
	Connecting                 // needs some protocol action before becoming usable
	Checking                   // connected, making sure the connection is alive
	Connected                  // all set
)

func (s Status) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Waiting:
		return "waiting"
	case Connecting:
		return "connecting"
	case Checking:
		return "checking"
	case Connected:
		return "connected"
	}
	return "unknown"
}

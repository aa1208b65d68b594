package irc

import (
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/lrstanley/girc"

	"github.com/mbasaglia/Melanobot-v2-sub002/network"
)

// pongTimeout keeps a stale PONG from being sent after a long stall
const pongTimeout = 3 * time.Minute

// handleMessage updates the session from an inbound message and forwards it
func (c *Connection) handleMessage(msg network.Message) {
	msg.Conn = c
	msg.From = msg.Source

	nick, _, host := ParsePrefix(msg.Source)
	if msg.Source != "" && !isNumeric(msg.Verb) {
		msg.From = nick
		if host != "" {
			c.users.SetHost(nick, host)
		}
	}

	forward := true
	switch msg.Verb {
	case girc.RPL_WELCOME:
		forward = c.onWelcome(msg)
	case girc.RPL_ISUPPORT:
		c.mu.Lock()
		c.features.parseISupport(msg.Params)
		c.mu.Unlock()
	case girc.RPL_NAMREPLY:
		c.onNames(&msg)
	case girc.ERR_NICKNAMEINUSE:
		forward = c.onNickInUse(msg)
	case girc.ERR_PASSWDMISMATCH, girc.ERR_YOUREBANNEDCREEP, girc.ERR_YOUWILLBEBANNED:
		log.Printf("[%s] Rejected by the server (%s), reconnecting", c.id, msg.Verb)
		c.Reconnect("")
	case girc.PING:
		c.Command(network.NewCommand(girc.PONG, msg.Params...).
			WithPriority(priorityHigh).
			WithTimeout(pongTimeout))
	case girc.PRIVMSG:
		forward = c.onPrivmsg(&msg, nick)
	case girc.ERROR:
		reason := "Unknown error"
		if len(msg.Params) > 0 {
			reason = msg.Params[0]
		}
		log.Printf("[%s] Server error: %s", c.id, reason)
		c.errorStop(fmt.Errorf("server error: %s", reason))
	case girc.JOIN:
		c.onJoin(&msg, nick, host)
	case girc.PART:
		if len(msg.Params) >= 1 {
			msg.Channels = splitList(msg.Params[0])
			c.removeFromChannels(nick, msg.Channels)
		}
	case girc.KICK:
		if len(msg.Params) >= 2 {
			msg.Channels = splitList(msg.Params[0])
			c.removeFromChannels(msg.Params[1], msg.Channels)
		}
	case girc.QUIT:
		c.onQuit(&msg, nick)
	case girc.NICK:
		c.onNick(&msg, nick)
	}

	if forward && c.handler != nil {
		c.handler(msg)
	}
}

// onWelcome completes registration
func (c *Connection) onWelcome(msg network.Message) bool {
	if len(msg.Params) < 1 {
		return false
	}

	c.mu.Lock()
	c.currentNick = msg.Params[0]
	c.attemptedNick = ""
	c.serverName = msg.Source
	deferred := c.deferred
	c.deferred = nil
	c.setStatus(network.Connected)
	c.mu.Unlock()

	log.Printf("[%s] Registered as %s", c.id, msg.Params[0])
	c.auth()
	for _, cmd := range deferred {
		c.Command(cmd)
	}
	return true
}

// onNames adds the users listed in RPL_NAMREPLY
func (c *Connection) onNames(msg *network.Message) {
	if len(msg.Params) < 4 {
		return
	}
	channel := msg.Params[2]
	msg.Channels = []string{channel}

	for _, name := range strings.Fields(msg.Params[3]) {
		name = strings.TrimLeft(name, "~&@%+")
		if name == "" {
			continue
		}
		if _, ok := c.users.User(name); !ok {
			c.users.AddUser(network.User{Name: name, LocalID: name})
		}
		c.users.AddChannel(name, channel)
	}
}

// onNickInUse retries the nick we are attempting with a trailing underscore
func (c *Connection) onNickInUse(msg network.Message) bool {
	if len(msg.Params) < 2 {
		return true
	}

	c.mu.Lock()
	attempted := c.attemptedNick
	if attempted == "" || Fold(attempted) != Fold(msg.Params[1]) {
		c.mu.Unlock()
		return true
	}
	c.nickRetries++
	retries := c.nickRetries
	maxLen := c.features.nickLength()
	c.mu.Unlock()

	if limit := c.cfg.MaxNickRetries; limit > 0 && retries > limit {
		c.errorStop(fmt.Errorf("%w: %s", ErrNickRetries, attempted))
		return false
	}

	next, ok := nextNick(attempted, maxLen)
	if !ok {
		c.errorStop(fmt.Errorf("%w: %s", ErrNickRetries, attempted))
		return false
	}
	log.Printf("[%s] %s is taken, trying %s", c.id, attempted, next)
	c.Command(network.NewCommand(girc.NICK, next).WithPriority(priorityHigh))
	return true
}

// onPrivmsg annotates chat messages, unwrapping CTCP.
// It returns false for messages that must not be forwarded.
func (c *Connection) onPrivmsg(msg *network.Message, nick string) bool {
	if len(msg.Params) != 2 || msg.Params[1] == "" {
		return false
	}
	if c.isSelf(nick) {
		return false
	}

	msg.Text = msg.Params[1]
	if c.isSelf(msg.Params[0]) {
		msg.Channels = []string{nick}
		msg.Direct = true
	} else {
		msg.Channels = []string{msg.Params[0]}
	}

	if command, args, ok := parseCTCP(msg.Text); ok {
		msg.Text = ""
		if command == girc.CTCP_ACTION {
			msg.Action = true
			msg.Text = args
			return true
		}
		msg.Verb = "CTCP"
		msg.Params = []string{command}
		if args != "" {
			msg.Params = append(msg.Params, args)
		}
		return true
	}

	c.mu.Lock()
	current := c.currentNick
	c.mu.Unlock()
	if current != "" && strings.HasPrefix(msg.Text, current+":") {
		msg.Direct = true
		msg.Text = strings.TrimLeft(msg.Text[len(current)+1:], " \t")
	}
	return true
}

func (c *Connection) onJoin(msg *network.Message, nick, host string) {
	if len(msg.Params) < 1 {
		return
	}
	msg.Channels = splitList(msg.Params[0])

	if _, ok := c.users.User(nick); !ok {
		c.users.AddUser(network.User{Name: nick, LocalID: nick, Host: host, Channels: msg.Channels})
		return
	}
	for _, ch := range msg.Channels {
		c.users.AddChannel(nick, ch)
	}
}

// removeFromChannels forgets a user once it has left every channel we share
func (c *Connection) removeFromChannels(nick string, channels []string) {
	if _, ok := c.users.User(nick); !ok {
		return
	}
	left := 0
	for _, ch := range channels {
		left = c.users.RemoveChannel(nick, ch)
	}
	if left == 0 {
		c.users.RemoveUser(nick)
	}
}

// onQuit forgets the user and reclaims our preferred nick when it frees up
func (c *Connection) onQuit(msg *network.Message, nick string) {
	if c.isSelf(nick) {
		for _, u := range c.users.Users() {
			c.users.RemoveUser(u.LocalID)
		}
		return
	}

	u, ok := c.users.User(nick)
	if !ok {
		return
	}
	msg.Channels = u.Channels
	c.users.RemoveUser(nick)

	c.mu.Lock()
	preferred := c.preferredNick
	reclaim := Fold(preferred) == Fold(nick) && Fold(c.currentNick) != Fold(preferred)
	c.mu.Unlock()

	if reclaim {
		c.Command(network.NewCommand(girc.NICK, preferred))
	}
}

func (c *Connection) onNick(msg *network.Message, nick string) {
	if len(msg.Params) != 1 {
		return
	}
	newNick := msg.Params[0]

	if u, ok := c.users.User(nick); ok {
		msg.Channels = u.Channels
		c.users.RenameUser(nick, newNick)
	}

	c.mu.Lock()
	if c.currentNick != "" && Fold(nick) == Fold(c.currentNick) {
		c.currentNick = newNick
		c.attemptedNick = ""
	}
	c.mu.Unlock()
}

// readFailed handles the end of the inbound stream
func (c *Connection) readFailed(err error) {
	if errors.Is(err, io.EOF) {
		log.Printf("[%s] Connection closed by the server", c.id)
		c.closeSession()
		return
	}
	c.errorStop(fmt.Errorf("read failed: %w", err))
}

// writeFailed drops the socket, the command is lost
func (c *Connection) writeFailed(cmd network.Command, err error) {
	if errors.Is(err, ErrNotConnected) {
		commandsDropped.WithLabelValues(c.id, dropDisconnected).Inc()
		return
	}
	log.Printf("[%s] Failed to send %s: %v", c.id, cmd.Verb, err)
	c.closeSession()
}

func isNumeric(verb string) bool {
	if len(verb) != 3 {
		return false
	}
	for i := 0; i < 3; i++ {
		if verb[i] < '0' || verb[i] > '9' {
			return false
		}
	}
	return true
}

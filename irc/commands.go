package irc

import (
	"log"
	"strings"
	"time"

	"github.com/lrstanley/girc"

	"github.com/mbasaglia/Melanobot-v2-sub002/network"
)

// handshakeVerbs may be sent before registration completes,
// everything else waits for RPL_WELCOME
var handshakeVerbs = map[string]bool{
	girc.PASS:   true,
	girc.NICK:   true,
	girc.USER:   true,
	girc.PONG:   true,
	"AUTH":      true,
	girc.MODE:   true,
	"RECONNECT": true,
}

// Command validates cmd and queues it for sending.
// Before registration only handshake commands are queued, the others are
// kept aside and submitted again in order once the server welcomes us.
func (c *Connection) Command(cmd network.Command) {
	cmd.Verb = strings.ToUpper(cmd.Verb)
	cmd.Params = append([]string(nil), cmd.Params...)
	if cmd.CreatedAt.IsZero() {
		cmd.CreatedAt = time.Now()
	}
	if cmd.Verb == "" {
		c.reject(cmd, "Empty command")
		return
	}

	if !handshakeVerbs[cmd.Verb] {
		c.mu.Lock()
		if c.Status() <= network.Connecting {
			c.deferred = append(c.deferred, cmd)
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()
	}

	switch cmd.Verb {
	case girc.PRIVMSG, girc.NOTICE:
		if len(cmd.Params) != 2 {
			c.reject(cmd, "Wrong parameters for %s", cmd.Verb)
			return
		}
		if c.isSelf(cmd.Params[0]) {
			c.reject(cmd, "Cannot send %s to self", cmd.Verb)
			return
		}
		if cmd.Params[1] == "" {
			c.reject(cmd, "Empty %s", cmd.Verb)
			return
		}
		cmd.Params[0] = strings.ToLower(cmd.Params[0])

	case girc.PASS:
		if status := c.Status(); status != network.Waiting && status != network.Connecting {
			c.reject(cmd, "PASS called at a wrong time")
			return
		}
		if len(cmd.Params) != 1 {
			c.reject(cmd, "Ill-formed PASS")
			return
		}

	case girc.NICK:
		if !c.prepareNick(&cmd) {
			return
		}

	case girc.USER:
		if len(cmd.Params) != 4 {
			c.reject(cmd, "Ill-formed USER")
			return
		}

	case girc.MODE:
		c.mu.Lock()
		nick := c.currentNick
		c.mu.Unlock()

		switch {
		case len(cmd.Params) == 1 && nick != "":
			cmd.Params = []string{nick, cmd.Params[0]}
		case len(cmd.Params) == 2 && nick != "" && Fold(cmd.Params[0]) == Fold(nick):
		default:
			c.reject(cmd, "Ill-formed MODE")
			return
		}

	case girc.JOIN:
		if len(cmd.Params) < 1 {
			c.reject(cmd, "Ill-formed JOIN")
			return
		}
		channels := c.channelsToJoin(cmd.Params)
		if len(channels) == 0 {
			return
		}
		cmd.Params = []string{strings.Join(channels, ",")}

	case girc.PART:
		if len(cmd.Params) < 1 {
			c.reject(cmd, "Ill-formed PART")
			return
		}
		channels := c.channelsToPart(cmd.Params[0])
		if len(channels) == 0 {
			return
		}
		cmd.Params[0] = strings.Join(channels, ",")

	case "RECONNECT":
		reason := ""
		if len(cmd.Params) > 0 {
			reason = cmd.Params[0]
		}
		c.Reconnect(reason)
		return
	}

	c.buffer.Insert(cmd)
}

// Say sends a chat message to msg.Target
func (c *Connection) Say(msg network.OutputMessage) {
	var text strings.Builder
	if msg.Prefix != "" {
		text.WriteString(string(msg.Prefix))
		text.WriteString(" {r}")
	}
	if msg.From != "" {
		if msg.Action {
			text.WriteString("* " + string(msg.From) + " ")
		} else {
			text.WriteString("<" + string(msg.From) + "{r}> ")
		}
	}
	text.WriteString(string(msg.Message))

	line := c.formatter.Encode(network.RichText(text.String()))
	if msg.Action && msg.From == "" {
		line = encodeAction(line)
	}

	verb := girc.PRIVMSG
	if c.cfg.Notice && !strings.HasPrefix(msg.Target, "#") {
		verb = girc.NOTICE
	}

	cmd := network.NewCommand(verb, msg.Target, line).WithPriority(msg.Priority)
	cmd.ExpiresAt = msg.Expires
	c.Command(cmd)
}

// login registers with the server
func (c *Connection) login() {
	c.mu.Lock()
	nick := c.preferredNick
	c.mu.Unlock()

	if c.cfg.Server.Password != "" {
		c.Command(network.NewCommand(girc.PASS, c.cfg.Server.Password).WithPriority(priorityHigh))
	}
	c.Command(network.NewCommand(girc.NICK, nick).WithPriority(priorityHigh))
	c.Command(network.NewCommand(girc.USER, nick, "0", nick, nick).WithPriority(priorityHigh))
}

// auth identifies with services and sets user modes once registered
func (c *Connection) auth() {
	if c.cfg.Auth.Password != "" {
		c.Command(network.NewCommand("AUTH", c.cfg.Auth.Nick, c.cfg.Auth.Password).WithPriority(priorityHigh))
	}
	if c.cfg.Modes != "" {
		c.Command(network.NewCommand(girc.MODE, c.cfg.Modes).WithPriority(priorityHigh))
	}
}

// prepareNick sanitizes the requested nick and records the attempt.
// It returns false if there is nothing to send.
func (c *Connection) prepareNick(cmd *network.Command) bool {
	if len(cmd.Params) != 1 {
		c.reject(*cmd, "Ill-formed NICK")
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	nick := sanitizeNick(cmd.Params[0], c.features.nickLength())
	if nick == "" {
		log.Printf("[%s] Ill-formed NICK %q", c.id, cmd.Params[0])
		commandsDropped.WithLabelValues(c.id, dropInvalid).Inc()
		return false
	}
	if nick == c.currentNick {
		return false
	}
	if c.attemptedNick == "" {
		c.preferredNick = nick
	}
	c.attemptedNick = nick
	cmd.Params[0] = nick
	return true
}

// channelsToJoin splits JOIN parameters into valid channels the bot isn't in yet
func (c *Connection) channelsToJoin(params []string) []string {
	joined := c.joinedChannels()

	var channels []string
	for _, param := range params {
		for _, ch := range splitList(param) {
			if !girc.IsValidChannel(ch) {
				log.Printf("[%s] Not joining invalid channel %q", c.id, ch)
				continue
			}
			if containsFolded(joined, ch) || containsFolded(channels, ch) {
				continue
			}
			channels = append(channels, ch)
		}
	}
	return channels
}

// channelsToPart keeps the channels the bot is in.
// When the bot isn't tracked yet every channel is kept.
func (c *Connection) channelsToPart(param string) []string {
	c.mu.Lock()
	nick := c.currentNick
	c.mu.Unlock()

	self, known := c.users.User(nick)
	var channels []string
	for _, ch := range splitList(param) {
		if !known || containsFolded(self.Channels, ch) {
			channels = append(channels, ch)
		}
	}
	return channels
}

func (c *Connection) reject(cmd network.Command, format string, args ...any) {
	log.Printf("[%s] "+format, append([]any{c.id}, args...)...)
	commandsDropped.WithLabelValues(c.id, dropInvalid).Inc()
}

package irc

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/lrstanley/girc"

	"github.com/mbasaglia/Melanobot-v2-sub002/config"
	"github.com/mbasaglia/Melanobot-v2-sub002/ircformat"
	"github.com/mbasaglia/Melanobot-v2-sub002/network"
	"github.com/mbasaglia/Melanobot-v2-sub002/user"
)

// Protocol is the name the IRC factory is registered under
const Protocol = "irc"

// Priority of handshake and keep-alive traffic
const priorityHigh = 1024

var (
	ErrNoServer      = errors.New("irc: no server configured")
	ErrWrongProtocol = errors.New("irc: wrong protocol")
	ErrNotConnected  = errors.New("irc: not connected")
	ErrStopped       = errors.New("irc: connection stopped")
	ErrNickRetries   = errors.New("irc: too many nick collisions")
)

var _ network.Connection = (*Connection)(nil)

// Connection is a client connection to a single IRC server.
//
// Session state is guarded by mu. Methods that may call back into the
// connection (Command in particular) are only invoked with mu released.
type Connection struct {
	id        string
	cfg       config.Connection
	server    network.Server
	formatter network.Formatter
	users     network.UserDirectory
	handler   func(network.Message)
	onError   func(network.Connection, error)

	buffer *Buffer
	status atomic.Int32

	mu            sync.Mutex
	current       network.Server
	serverName    string
	preferredNick string
	currentNick   string
	attemptedNick string
	features      features
	deferred      []network.Command
	nickRetries   int
	rejoin        []string
}

// New creates a disconnected connection from its configuration
func New(cfg config.Connection, deps network.Deps) (*Connection, error) {
	cfg.ApplyDefaults()
	if cfg.Protocol != Protocol {
		return nil, fmt.Errorf("%w: %q", ErrWrongProtocol, cfg.Protocol)
	}
	if cfg.Server.Host == "" {
		return nil, ErrNoServer
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Connection{
		id:            cfg.Name,
		cfg:           cfg,
		server:        network.Server{Host: cfg.Server.Host, Port: uint16(cfg.Server.Port)},
		formatter:     ircformat.New(),
		handler:       deps.Handler,
		onError:       deps.OnError,
		preferredNick: cfg.Nick,
		features:      make(features),
	}
	if c.id == "" {
		c.id = uuid.NewString()
	}
	c.current = c.server

	if deps.Users != nil {
		c.users = deps.Users(cfg)
	}
	if c.users == nil {
		c.users = user.NewDirectory(nil, Fold)
	}
	c.loadGroups()

	c.buffer = newBuffer(c, c.id, cfg)
	observeStatus(c.id, network.Disconnected)
	return c, nil
}

// loadGroups applies the configured groups and user masks
func (c *Connection) loadGroups() {
	for group, inherits := range c.cfg.Groups {
		c.users.AddGroup(group, splitList(inherits)...)
	}
	for mask, groups := range c.cfg.Users {
		c.users.AddToGroup(user.ParseMember(mask), splitList(groups)...)
	}
}

func (c *Connection) ID() string       { return c.id }
func (c *Connection) Protocol() string { return Protocol }

// Name returns the nick in use, or the preferred one before registration
func (c *Connection) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.currentNick != "" {
		return c.currentNick
	}
	return c.preferredNick
}

// Description returns host:port of the configured server
func (c *Connection) Description() string {
	return c.server.String()
}

// Server returns the server of the current connection attempt
func (c *Connection) Server() network.Server {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// ServerName returns the name the server introduced itself with
func (c *Connection) ServerName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serverName
}

func (c *Connection) Status() network.Status {
	return network.Status(c.status.Load())
}

func (c *Connection) setStatus(status network.Status) {
	c.status.Store(int32(status))
	observeStatus(c.id, status)
}

func (c *Connection) Formatter() network.Formatter {
	return c.formatter
}

// Start launches the outbound loop and connects.
// On failure the connection is stopped and the error returned.
func (c *Connection) Start() error {
	c.buffer.Start()
	if err := c.Connect(); err != nil {
		c.Stop()
		return err
	}
	return nil
}

// Stop disconnects and terminates both loops, it can't be restarted
func (c *Connection) Stop() {
	c.Disconnect("")
	c.buffer.Stop()
}

// Connect opens the socket and starts registration, it is a no-op when already connected
func (c *Connection) Connect() error {
	if c.buffer.Connected() {
		return nil
	}

	c.setStatus(network.Waiting)
	if err := c.buffer.Connect(c.server); err != nil {
		c.setStatus(network.Disconnected)
		log.Printf("[%s] %v", c.id, err)
		return err
	}
	if !c.status.CompareAndSwap(int32(network.Waiting), int32(network.Connecting)) {
		return ErrNotConnected
	}
	observeStatus(c.id, network.Connecting)

	c.mu.Lock()
	c.current = c.server
	c.nickRetries = 0
	channels := make([]string, 0, len(c.cfg.Channels)+len(c.rejoin))
	for _, ch := range append(append([]string(nil), c.cfg.Channels...), c.rejoin...) {
		if !containsFolded(channels, ch) {
			channels = append(channels, ch)
		}
	}
	c.rejoin = nil
	c.mu.Unlock()

	log.Printf("[%s] Connected to %s", c.id, c.server)
	c.login()
	for _, ch := range channels {
		c.Command(network.NewCommand("JOIN", ch))
	}
	return nil
}

// Disconnect sends QUIT if registered, closes the socket and resets the session
func (c *Connection) Disconnect(reason string) {
	if c.Status() > network.Connecting {
		quit := network.NewCommand("QUIT").WithPriority(priorityHigh)
		if reason != "" {
			quit.Params = []string{reason}
		}
		if err := c.buffer.Write(quit); err != nil && !errors.Is(err, ErrNotConnected) {
			log.Printf("[%s] Failed to send QUIT: %v", c.id, err)
		}
	}
	c.closeSession()
}

// closeSession closes the socket and forgets everything learned from the server
func (c *Connection) closeSession() {
	c.buffer.Disconnect()

	c.mu.Lock()
	c.current = c.server
	c.serverName = ""
	c.currentNick = ""
	c.attemptedNick = ""
	c.features = make(features)
	c.deferred = nil
	c.mu.Unlock()

	for _, u := range c.users.Users() {
		c.users.RemoveUser(u.LocalID)
	}
	if c.Status() != network.Disconnected {
		log.Printf("[%s] Disconnected", c.id)
	}
	c.setStatus(network.Disconnected)
}

// Reconnect disconnects and connects again, rejoining the current channels
func (c *Connection) Reconnect(reason string) {
	channels := c.joinedChannels()
	c.Disconnect(reason)

	c.mu.Lock()
	c.rejoin = channels
	c.mu.Unlock()

	err := c.Connect()
	if err != nil && !errors.Is(err, ErrStopped) && !errors.Is(err, ErrNotConnected) {
		c.errorStop(err)
	}
}

// errorStop stops the connection and reports err to the application
func (c *Connection) errorStop(err error) {
	log.Printf("[%s] Stopping: %v", c.id, err)
	c.Stop()
	if c.onError != nil {
		c.onError(c, err)
	}
}

// joinedChannels returns the channels the bot is in, as tracked by the directory
func (c *Connection) joinedChannels() []string {
	c.mu.Lock()
	nick := c.currentNick
	c.mu.Unlock()

	if nick == "" {
		return nil
	}
	self, ok := c.users.User(nick)
	if !ok {
		return nil
	}
	return self.Channels
}

// ChannelMask reports whether any of channels matches the comma separated mask.
// "!" matches private targets, anything else is a case-insensitive glob.
func (c *Connection) ChannelMask(channels []string, mask string) bool {
	for _, m := range strings.Split(mask, ",") {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		for _, ch := range channels {
			if ch == "" {
				continue
			}
			if m == "!" {
				if ch[0] != '#' {
					return true
				}
				continue
			}
			if girc.Glob(Fold(ch), Fold(m)) {
				return true
			}
		}
	}
	return false
}

// Property returns a feature advertised by the server
func (c *Connection) Property(name string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.features[name]
}

// SetProperty always fails, server features are read-only
func (c *Connection) SetProperty(name, value string) bool {
	return false
}

// Features returns a copy of the server feature table
func (c *Connection) Features() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.features.clone()
}

func (c *Connection) User(localID string) (network.User, bool) {
	return c.users.User(localID)
}

// UsersInChannel lists the users in channel, an empty channel lists everyone
func (c *Connection) UsersInChannel(channel string) []network.User {
	if channel == "" {
		return c.users.Users()
	}
	return c.users.ChannelUsers(channel)
}

func (c *Connection) UsersInGroup(group string) []network.User {
	return c.users.UsersInGroup(group)
}

// UserAuth reports whether the user known as localID belongs to group
func (c *Connection) UserAuth(localID, group string) bool {
	u, ok := c.users.User(localID)
	if !ok {
		u = network.User{Name: localID, LocalID: localID}
	}
	return c.users.InGroup(u, group)
}

// AddToGroup adds a user to group.
// A known user is added by account when it has one, otherwise by nick;
// "!account" and "@host" masks are added as they are.
func (c *Connection) AddToGroup(name, group string) bool {
	return len(c.users.AddToGroup(c.member(name), group)) > 0
}

func (c *Connection) RemoveFromGroup(name, group string) bool {
	return c.users.RemoveFromGroup(c.member(name), group)
}

func (c *Connection) UpdateUser(localID string, properties map[string]string) {
	c.users.UpdateUser(localID, properties)
}

func (c *Connection) member(name string) network.User {
	if strings.HasPrefix(name, "!") || strings.HasPrefix(name, "@") {
		return user.ParseMember(name)
	}
	if u, ok := c.users.User(name); ok && u.GlobalID != "" {
		return network.User{GlobalID: u.GlobalID}
	}
	return user.ParseMember(name)
}

func (c *Connection) isSelf(nick string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentNick != "" && Fold(nick) == Fold(c.currentNick)
}

func splitList(list string) []string {
	var items []string
	for _, item := range strings.Split(list, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func containsFolded(list []string, value string) bool {
	for _, v := range list {
		if Fold(v) == Fold(value) {
			return true
		}
	}
	return false
}

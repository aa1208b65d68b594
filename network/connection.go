package network

// Formatter converts between the wire encoding of a protocol and RichText
type Formatter interface {
	Decode(raw string) RichText
	Encode(text RichText) string
}

// User is a user as seen by a connection
type User struct {
	Name       string            `json:"name"`
	LocalID    string            `json:"local_id"` // identifier within the connection (the nick on IRC)
	GlobalID   string            `json:"global_id,omitempty"`
	Host       string            `json:"host,omitempty"`
	Channels   []string          `json:"channels,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
}

// UserDirectory stores the users a connection knows about and the
// authorization groups they belong to.
type UserDirectory interface {
	AddUser(user User)
	RemoveUser(localID string) bool
	User(localID string) (User, bool)
	RenameUser(oldID, newID string) bool
	SetHost(localID, host string)
	UpdateUser(localID string, properties map[string]string) bool
	AddChannel(localID, channel string)
	// RemoveChannel returns the number of channels the user is still in
	RemoveChannel(localID, channel string) int
	Users() []User
	ChannelUsers(channel string) []User

	AddGroup(group string, inherits ...string)
	// AddToGroup returns the groups the user was not already part of
	AddToGroup(member User, groups ...string) []string
	RemoveFromGroup(member User, group string) bool
	InGroup(user User, group string) bool
	UsersInGroup(group string) []User
}

// Connection is the capability a chat connection exposes to the application
type Connection interface {
	// ID names the connection within the application
	ID() string
	Protocol() string
	// Name returns the name the bot is currently using on the connection
	Name() string
	Description() string
	Server() Server
	Status() Status
	Formatter() Formatter

	Start() error
	Stop()
	Connect() error
	Disconnect(reason string)
	Reconnect(reason string)

	Command(cmd Command)
	Say(msg OutputMessage)

	// ChannelMask reports whether any of channels matches the mask
	ChannelMask(channels []string, mask string) bool
	Property(name string) string
	SetProperty(name, value string) bool

	Presence
}

// Presence groups the user related queries of a connection.
// Protocols without users can embed NoUsers.
type Presence interface {
	User(localID string) (User, bool)
	UsersInChannel(channel string) []User
	UsersInGroup(group string) []User
	UserAuth(localID, group string) bool
	AddToGroup(user, group string) bool
	RemoveFromGroup(user, group string) bool
	UpdateUser(localID string, properties map[string]string)
}

// NoUsers implements Presence for protocols that don't track users
type NoUsers struct{}

func (NoUsers) User(string) (User, bool) { return User{}, false }
func (NoUsers) UsersInChannel(string) []User { return nil }
func (NoUsers) UsersInGroup(string) []User { return nil }
func (NoUsers) UserAuth(_, group string) bool { return group == "" }
func (NoUsers) AddToGroup(string, string) bool { return false }
func (NoUsers) RemoveFromGroup(string, string) bool { return false }
func (NoUsers) UpdateUser(string, map[string]string) {}

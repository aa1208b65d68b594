package network

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbasaglia/Melanobot-v2-sub002/config"
)

func TestServerString(t *testing.T) {
	assert.Equal(t, "irc.example.com:6697", Server{Host: "irc.example.com", Port: 6697}.String())
	assert.Equal(t, "[2001:db8::1]:6667", Server{Host: "2001:db8::1", Port: 6667}.String())
}

func TestCommandOrder(t *testing.T) {
	now := time.Now()
	older := Command{Verb: "A", CreatedAt: now.Add(-time.Second)}
	newer := Command{Verb: "B", CreatedAt: now}
	urgent := Command{Verb: "C", Priority: 10, CreatedAt: now.Add(time.Second)}

	assert.True(t, older.Before(newer))
	assert.False(t, newer.Before(older))
	assert.True(t, urgent.Before(older))
	assert.False(t, older.Before(urgent))
	assert.False(t, older.Before(older))
}

func TestCommandExpiry(t *testing.T) {
	cmd := NewCommand("PONG", "x")
	assert.False(t, cmd.Expired(time.Now().Add(time.Hour)))

	cmd = cmd.WithTimeout(time.Minute)
	assert.Equal(t, cmd.CreatedAt.Add(time.Minute), cmd.ExpiresAt)
	assert.False(t, cmd.Expired(cmd.CreatedAt))
	assert.False(t, cmd.Expired(cmd.ExpiresAt))
	assert.True(t, cmd.Expired(cmd.ExpiresAt.Add(time.Nanosecond)))

	zero := Command{Verb: "PING"}.WithTimeout(time.Second)
	assert.False(t, zero.CreatedAt.IsZero())
}

func TestCommandWithPriority(t *testing.T) {
	cmd := NewCommand("NICK", "Bot")
	high := cmd.WithPriority(1024)
	assert.Equal(t, 0, cmd.Priority)
	assert.Equal(t, 1024, high.Priority)
}

func TestStatus(t *testing.T) {
	assert.True(t, Disconnected < Waiting && Waiting < Connecting)
	assert.True(t, Connecting < Checking && Checking < Connected)

	assert.Equal(t, "connected", Connected.String())
	assert.Equal(t, "waiting", Waiting.String())
	assert.Equal(t, "unknown", Status(42).String())
}

func TestNoUsers(t *testing.T) {
	var users NoUsers
	_, ok := users.User("anyone")
	assert.False(t, ok)
	assert.True(t, users.UserAuth("anyone", ""))
	assert.False(t, users.UserAuth("anyone", "admin"))
	assert.False(t, users.AddToGroup("anyone", "admin"))
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	errFactory := errors.New("factory failed")

	require.NoError(t, reg.Register("fake", func(cfg config.Connection, deps Deps) (Connection, error) {
		return nil, errFactory
	}))
	require.NoError(t, reg.Register("another", func(cfg config.Connection, deps Deps) (Connection, error) {
		return nil, nil
	}))
	assert.ErrorIs(t, reg.Register("fake", nil), ErrProtocolRegistered)
	assert.Equal(t, []string{"another", "fake"}, reg.Protocols())

	_, err := reg.Create(config.Connection{Protocol: "fake"}, Deps{})
	assert.ErrorIs(t, err, errFactory)

	_, err = reg.Create(config.Connection{Protocol: "xmpp"}, Deps{})
	assert.ErrorIs(t, err, ErrUnknownProtocol)
}

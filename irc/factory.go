package irc

import (
	"github.com/mbasaglia/Melanobot-v2-sub002/config"
	"github.com/mbasaglia/Melanobot-v2-sub002/network"
)

// Create is the network.Factory for IRC connections
func Create(cfg config.Connection, deps network.Deps) (network.Connection, error) {
	conn, err := New(cfg, deps)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Register adds the IRC factory to reg
func Register(reg *network.Registry) error {
	return reg.Register(Protocol, Create)
}

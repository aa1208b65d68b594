package wait

import (
	"fmt"

	"github.com/mbasaglia/Melanobot-v2-sub002/network"
)

// ForStatus waits until conn reports the wanted status
func ForStatus(conn network.Connection, want network.Status, opts ...*Options) error {
	err := Until(func() (bool, error) {
		return conn.Status() == want, nil
	}, opts...)
	if err != nil {
		return fmt.Errorf("%s is %s, not %s: %w", conn.ID(), conn.Status(), want, err)
	}
	return nil
}

// Start starts the connection built by create, building a new one after
// every failed attempt. A failed connection can't be restarted.
func Start(create func() (network.Connection, error), opts ...*Options) (network.Connection, error) {
	var conn network.Connection
	err := Poll(func() error {
		c, err := create()
		if err != nil {
			return err
		}
		if err := c.Start(); err != nil {
			return err
		}
		conn = c
		return nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

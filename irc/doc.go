// Package irc implements an IRC client connection.
//
// A Connection drives registration, nick negotiation, authentication and
// reconnection, tracks the users it sees in a network.UserDirectory and
// forwards every inbound message to its handler. Outbound commands go
// through a Buffer, which sends them in priority order while respecting the
// flood control limits of the server:
//
//	cost(line) = message_penalty + len(line) / bytes_penalty seconds
//
// The flood timer accumulates the cost of every line sent and the buffer
// sleeps whenever the timer runs more than timer_max ahead of now.
package irc

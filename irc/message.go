package irc

import (
	"strings"

	"github.com/lrstanley/girc"

	"github.com/mbasaglia/Melanobot-v2-sub002/network"
)

// ParseMessage parses a line received from the server.
//
//	[@tags SP] [':' source SP] verb (SP param)* [SP ':' trailing]
//
// Malformed input yields a message with an empty Verb.
func ParseMessage(line string) network.Message {
	msg := network.Message{Raw: line}

	rest := strings.TrimRight(line, "\r\n")

	// IRCv3 message tags are not used, skip them
	if strings.HasPrefix(rest, "@") {
		_, rest, _ = strings.Cut(rest, " ")
	}
	rest = strings.TrimLeft(rest, " ")

	if strings.HasPrefix(rest, ":") {
		source, tail, found := strings.Cut(rest[1:], " ")
		if !found {
			return msg
		}
		msg.Source = source
		rest = strings.TrimLeft(tail, " ")
	}

	verb, rest, _ := strings.Cut(rest, " ")
	msg.Verb = strings.ToUpper(verb)
	if msg.Verb == "" {
		return msg
	}

	for rest != "" {
		if rest[0] == ' ' {
			rest = rest[1:]
			continue
		}
		if rest[0] == ':' {
			msg.Params = append(msg.Params, rest[1:])
			break
		}
		var param string
		param, rest, _ = strings.Cut(rest, " ")
		msg.Params = append(msg.Params, param)
	}

	return msg
}

// ParsePrefix splits a nick!user@host prefix.
// A server name is returned as the nick.
func ParsePrefix(prefix string) (nick, user, host string) {
	src := girc.ParseSource(strings.TrimPrefix(prefix, ":"))
	if src == nil {
		return prefix, "", ""
	}
	return src.Name, src.Ident, src.Host
}

// FormatCommand serializes a command without the line terminator.
// The last parameter is sent as trailing when it needs to be.
func FormatCommand(cmd network.Command) string {
	var builder strings.Builder

	builder.WriteString(cmd.Verb)
	for i, param := range cmd.Params {
		builder.WriteByte(' ')
		if i == len(cmd.Params)-1 && needsTrailing(param) {
			builder.WriteByte(':')
		}
		builder.WriteString(param)
	}

	return builder.String()
}

func needsTrailing(param string) bool {
	return param == "" || param[0] == ':' || strings.ContainsRune(param, ' ')
}

package irc

import (
	"strings"

	"github.com/lrstanley/girc"
)

const ctcpDelim = "\x01"

// parseCTCP unwraps "\x01COMMAND args\x01".
// The closing delimiter is optional, some clients omit it.
func parseCTCP(text string) (command, args string, ok bool) {
	if len(text) < 2 || !strings.HasPrefix(text, ctcpDelim) {
		return "", "", false
	}
	body := strings.TrimSuffix(text[1:], ctcpDelim)
	command, args, _ = strings.Cut(body, " ")
	if command == "" {
		return "", "", false
	}
	return strings.ToUpper(command), args, true
}

// encodeAction wraps text in a CTCP ACTION
func encodeAction(text string) string {
	return girc.EncodeCTCPRaw(girc.CTCP_ACTION, text)
}

package irc

import (
	"strconv"
	"strings"

	"github.com/lrstanley/girc"
)

// Fold maps a nick or channel to its RFC 1459 case-insensitive form
func Fold(name string) string {
	return girc.ToRFC1459(name)
}

// isNickChar reports whether c may appear in a nickname (RFC 2812 2.3.1)
func isNickChar(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') ||
		c == '-' || (c >= 0x5B && c <= 0x60) || (c >= 0x7B && c <= 0x7D)
}

// sanitizeNick keeps the longest valid prefix of nick, up to maxLen bytes.
// A negative maxLen doesn't limit the length.
func sanitizeNick(nick string, maxLen int) string {
	if maxLen >= 0 && len(nick) > maxLen {
		nick = nick[:maxLen]
	}
	for i := 0; i < len(nick); i++ {
		if !isNickChar(nick[i]) {
			return nick[:i]
		}
	}
	return nick
}

// nextNick returns the nick to try after attempted is taken: attempted with a
// trailing "_", or, when that exceeds maxLen, attempted with its last
// character other than "_" replaced by one. It returns false once there is
// nothing left to replace.
func nextNick(attempted string, maxLen int) (string, bool) {
	if maxLen <= 0 || len(attempted) < maxLen {
		return attempted + "_", true
	}
	nick := attempted[:maxLen]
	i := strings.LastIndexFunc(nick, func(r rune) bool { return r != '_' })
	if i < 0 {
		return "", false
	}
	return nick[:i] + "_" + nick[i+1:], true
}

// features is the table the server advertises with RPL_ISUPPORT
type features map[string]string

// parseISupport reads the tokens of a 005 reply, flags without a value are set to "1".
// The first parameter is our nick and the last one is the human readable trailer.
func (f features) parseISupport(params []string) {
	if len(params) < 3 {
		return
	}
	for _, token := range params[1 : len(params)-1] {
		if strings.HasPrefix(token, "-") {
			delete(f, token[1:])
			continue
		}
		name, value, found := strings.Cut(token, "=")
		if !found {
			value = "1"
		}
		if name != "" {
			f[name] = value
		}
	}
}

// nickLength returns NICKLEN, or -1 when the server doesn't advertise a valid one
func (f features) nickLength() int {
	n, err := strconv.Atoi(f["NICKLEN"])
	if err != nil || n <= 0 {
		return -1
	}
	return n
}

func (f features) clone() features {
	c := make(features, len(f))
	for k, v := range f {
		c[k] = v
	}
	return c
}

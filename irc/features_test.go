package irc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeNick(t *testing.T) {
	tests := []struct {
		nick   string
		maxLen int
		want   string
	}{
		{"Bot", -1, "Bot"},
		{"Melano[Bot]", -1, "Melano[Bot]"},
		{"with space", -1, "with"},
		{"bad!nick", -1, "bad"},
		{"LongNickname", 4, "Long"},
		{"Ab cd", 4, "Ab"},
		{"^_`{|}-", -1, "^_`{|}-"},
		{"", -1, ""},
		{"#chan", -1, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizeNick(tt.nick, tt.maxLen), "nick %q", tt.nick)
	}
}

func TestNextNick(t *testing.T) {
	tests := []struct {
		attempted string
		maxLen    int
		want      string
		ok        bool
	}{
		{"Bot", -1, "Bot_", true},
		{"Bot_", -1, "Bot__", true},
		{"Abc", 4, "Abc_", true},
		{"Abcd", 4, "Abc_", true},
		{"Abc_", 4, "Ab__", true},
		{"Ab__", 4, "A___", true},
		{"A___", 4, "____", true},
		{"____", 4, "", false},
		{"Abcdef", 4, "Abc_", true},
	}

	for _, tt := range tests {
		next, ok := nextNick(tt.attempted, tt.maxLen)
		assert.Equal(t, tt.ok, ok, tt.attempted)
		assert.Equal(t, tt.want, next, tt.attempted)
		if ok {
			assert.NotEqual(t, tt.attempted, next)
		}
	}
}

func TestFold(t *testing.T) {
	assert.Equal(t, Fold("nick[a]\\b~"), Fold("NICK{A}|B^"))
	assert.NotEqual(t, Fold("nick"), Fold("nick_"))
}

func TestParseISupport(t *testing.T) {
	f := make(features)
	f.parseISupport([]string{"Bot", "NICKLEN=9", "CHANTYPES=#&", "EXCEPTS", "are supported by this server"})

	assert.Equal(t, "9", f["NICKLEN"])
	assert.Equal(t, "#&", f["CHANTYPES"])
	assert.Equal(t, "1", f["EXCEPTS"])
	assert.NotContains(t, f, "are supported by this server")
	assert.Equal(t, 9, f.nickLength())

	f.parseISupport([]string{"Bot", "-EXCEPTS", "NICKLEN=", "are supported by this server"})
	assert.NotContains(t, f, "EXCEPTS")
	assert.Equal(t, -1, f.nickLength())

	f.parseISupport([]string{"Bot", "are supported by this server"})
	assert.Equal(t, "#&", f["CHANTYPES"])
}

func TestFeaturesClone(t *testing.T) {
	f := features{"NICKLEN": "9"}
	c := f.clone()
	c["NICKLEN"] = "30"
	assert.Equal(t, "9", f["NICKLEN"])
}

func TestParseCTCP(t *testing.T) {
	tests := []struct {
		text    string
		command string
		args    string
		ok      bool
	}{
		{"\x01ACTION waves\x01", "ACTION", "waves", true},
		{"\x01version\x01", "VERSION", "", true},
		{"\x01PING 12345", "PING", "12345", true},
		{"plain text", "", "", false},
		{"\x01", "", "", false},
		{"\x01\x01", "", "", false},
	}
	for _, tt := range tests {
		command, args, ok := parseCTCP(tt.text)
		assert.Equal(t, tt.ok, ok, "text %q", tt.text)
		assert.Equal(t, tt.command, command, "text %q", tt.text)
		assert.Equal(t, tt.args, args, "text %q", tt.text)
	}
}

func TestEncodeAction(t *testing.T) {
	assert.Equal(t, "\x01ACTION waves\x01", encodeAction("waves"))

	command, args, ok := parseCTCP(encodeAction("dances around"))
	assert.True(t, ok)
	assert.Equal(t, "ACTION", command)
	assert.Equal(t, "dances around", args)
}

func TestIsNumeric(t *testing.T) {
	assert.True(t, isNumeric("001"))
	assert.True(t, isNumeric("433"))
	assert.False(t, isNumeric("PING"))
	assert.False(t, isNumeric("01"))
	assert.False(t, isNumeric("0A1"))
}

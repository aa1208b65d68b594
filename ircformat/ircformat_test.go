package ircformat

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mbasaglia/Melanobot-v2-sub002/network"
)

func TestEncode(t *testing.T) {
	f := New()
	assert.Equal(t, "\x02bold\x02 \x1ditalic\x1d \x1funder\x1f\x0f", f.Encode("{b}bold{b} {i}italic{i} {underline}under{underline}{r}"))
	assert.Equal(t, "plain text", f.Encode("plain text"))
}

func TestDecode(t *testing.T) {
	f := New()
	tests := []struct {
		raw  string
		want network.RichText
	}{
		{"plain", "plain"},
		{"\x02bold\x02", "{b}bold{b}"},
		{"\x1ditalic\x1d \x1funder\x1f \x16rev\x16\x0f", "{i}italic{i} {underline}under{underline} {reverse}rev{reverse}{r}"},
		{"\x0304red\x03", "{red}red{c}"},
		{"\x034red", "{red}red"},
		{"\x0312,01blue on black", "{lightblue}blue on black"},
		{"\x035,text", "{brown},text"},
		{"\x0399", "{green}"},
		{"\x07bell\ttab", "bell\ttab"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, f.Decode(tt.raw), "raw %q", tt.raw)
	}
}

func TestRoundTrip(t *testing.T) {
	f := New()
	for _, text := range []network.RichText{
		"{b}bold{b}",
		"{red}x{c} and {lightblue}y{c}",
		"{underline}{i}both{r}",
	} {
		assert.Equal(t, text, f.Decode(f.Encode(text)))
	}
}

func TestPlainAndStrip(t *testing.T) {
	assert.Equal(t, "bold x", Plain("{b}bold{b} {red}x{c}"))
	assert.Equal(t, "bold red", Strip("\x02bold\x02 \x0304red"))
}

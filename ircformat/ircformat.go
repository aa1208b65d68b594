// Package ircformat converts between IRC control codes and {code} markup.
//
// Markup follows girc.Fmt: "{b}" bold, "{i}" italic, "{underline}",
// "{reverse}", "{r}" reset and color names such as "{red}" or "{c}" to clear
// the color.
package ircformat

import (
	"strconv"
	"strings"

	"github.com/lrstanley/girc"

	"github.com/mbasaglia/Melanobot-v2-sub002/network"
)

var _ network.Formatter = Formatter{}

// colorNames indexes the mIRC palette, each name is understood by girc.Fmt
var colorNames = [16]string{
	"white", "black", "blue", "green", "red", "brown", "purple", "orange",
	"yellow", "lightgreen", "teal", "cyan", "lightblue", "pink", "gray", "lightgrey",
}

var controlCodes = map[byte]string{
	0x02: "{b}",
	0x1d: "{i}",
	0x1f: "{underline}",
	0x16: "{reverse}",
	0x0f: "{r}",
}

// Formatter implements network.Formatter for IRC
type Formatter struct{}

// New returns an IRC formatter
func New() Formatter {
	return Formatter{}
}

// Encode turns markup into IRC control codes, unknown tags are kept verbatim
func (Formatter) Encode(text network.RichText) string {
	return girc.Fmt(string(text))
}

// Decode turns IRC control codes into markup.
// Background colors are dropped, other unknown control bytes are removed.
func (Formatter) Decode(raw string) network.RichText {
	var out strings.Builder
	out.Grow(len(raw))

	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if tag, ok := controlCodes[c]; ok {
			out.WriteString(tag)
			continue
		}
		if c == 0x03 {
			fg, next := readColor(raw, i+1)
			if fg >= 0 && next < len(raw)-1 && raw[next] == ',' {
				if _, after := readColor(raw, next+1); after > next+1 {
					next = after
				}
			}
			if fg < 0 {
				out.WriteString("{c}")
			} else {
				out.WriteString("{" + colorNames[fg%16] + "}")
			}
			i = next - 1
			continue
		}
		if c < 0x20 && c != '\t' {
			continue
		}
		out.WriteByte(c)
	}

	return network.RichText(out.String())
}

// Plain removes all markup from text
func Plain(text network.RichText) string {
	return girc.TrimFmt(string(text))
}

// Strip removes all IRC control codes from raw
func Strip(raw string) string {
	return girc.StripRaw(raw)
}

// readColor reads up to two digits at raw[start:].
// It returns -1 when there are none, and the index after the digits.
func readColor(raw string, start int) (int, int) {
	end := start
	for end < len(raw) && end-start < 2 && raw[end] >= '0' && raw[end] <= '9' {
		end++
	}
	if end == start {
		return -1, start
	}
	n, _ := strconv.Atoi(raw[start:end])
	return n, end
}

package dispatch

import (
	"strings"
)

type commandKind int

const (
	commandNone commandKind = iota
	commandLink
	commandStart
	commandHelp
)

type command struct {
	kind commandKind
	arg  string
}

// parseCommand recognizes "/link CODE", "/start" and "/help", with an
// optional "@botname" suffix on the command word as Telegram sends it in groups.
func parseCommand(text string) command {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return command{}
	}
	fields := strings.Fields(text)
	word := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	if at := strings.IndexByte(word, '@'); at >= 0 {
		word = word[:at]
	}
	var arg string
	if len(fields) > 1 {
		arg = fields[1]
	}
	switch word {
	case "link":
		return command{kind: commandLink, arg: arg}
	case "start":
		return command{kind: commandStart}
	case "help":
		return command{kind: commandHelp}
	default:
		return command{}
	}
}

package router

import (
	"regexp"
	"strings"

	kit "shotbot/internal/transport"
)

// Telegram limits for setMyCommands.
const (
	maxCommandName = 32
	maxCommandDesc = 256
	maxMenuEntries = 100
)

var (
	separatorRun = regexp.MustCompile(`[\s_-]+`)
	notCommand   = regexp.MustCompile(`[^a-z0-9_]`)
)

// sanitizeTelegramCommand maps a name onto [a-z0-9_]{1,32}; it returns "" when nothing usable is left.
func sanitizeTelegramCommand(s string) string {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "/")
	s = notCommand.ReplaceAllString(separatorRun.ReplaceAllString(s, "_"), "")
	s = strings.Trim(s, "_")
	if len(s) > maxCommandName {
		s = strings.TrimRight(s[:maxCommandName], "_")
	}
	return s
}

// buildMenuCommands lists the commands everyone may use. Admin commands are left out of the menu.
func buildMenuCommands(cmds []Command) []kit.BotCommand {
	var out []kit.BotCommand
	for _, c := range cmds {
		if c.Access != AccessEveryone {
			continue
		}
		if len(out) == maxMenuEntries {
			break
		}
		desc := strings.Join(strings.Fields(c.Description), " ")
		if desc == "" {
			desc = c.Name
		}
		if len(desc) > maxCommandDesc {
			desc = desc[:maxCommandDesc]
		}
		out = append(out, kit.BotCommand{Command: c.Name, Description: desc})
	}
	return out
}

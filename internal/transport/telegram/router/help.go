package router

import (
	"html"
	"strings"
)

// HelpText renders the command list in HTML parse mode. Owner-only commands are listed
// only when owner is true.
func (r *Router) HelpText(owner bool) string {
	r.mu.RLock()
	cmds := append([]Command(nil), r.ordered...)
	r.mu.RUnlock()

	var public, admin []string
	for _, c := range cmds {
		line := "• " + helpLine(c)
		switch c.Access {
		case AccessOwnerOnly:
			if owner {
				admin = append(admin, line)
			}
		default:
			public = append(public, line)
		}
	}

	var b strings.Builder
	b.WriteString("<b>Commands</b>\n")
	b.WriteString(strings.Join(public, "\n"))
	if len(admin) > 0 {
		b.WriteString("\n\n<b>Admin</b>\n")
		b.WriteString(strings.Join(admin, "\n"))
	}
	b.WriteString("\n\nSend a video, a video document or a direct link to get started.")
	return b.String()
}

func helpLine(c Command) string {
	usage := strings.TrimSpace(c.Usage)
	if usage == "" {
		usage = "/" + c.Name
	}
	line := "<code>" + html.EscapeString(usage) + "</code>"
	if d := strings.TrimSpace(c.Description); d != "" {
		line += " - " + html.EscapeString(d)
	}
	return line
}

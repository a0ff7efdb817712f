package broadcast

import (
	"fmt"
	"strings"
	"time"

	"shotbot/internal/transport"
)

// Callback data prefixes understood by the bot router.
const (
	CallbackStatus = "bc:status:"
	CallbackCancel = "bc:cancel:"
)

func controlKeyboard(id string) transport.Keyboard {
	return transport.Keyboard{{
		{Text: "Check progress", Data: CallbackStatus + id},
		{Text: "Cancel", Data: CallbackCancel + id},
	}}
}

func counters(b *strings.Builder, p Progress) {
	fmt.Fprintf(b, "Total: <b>%d</b>\nDone: <b>%d</b>\nSent: <b>%d</b>\nFailed: <b>%d</b>", p.Total, p.Done(), p.Sent, p.Failed)
}

func startingText(id string) string {
	return fmt.Sprintf("Broadcast <code>%s</code> starting…", id)
}

func progressText(p Progress) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Broadcast <code>%s</code> is running\n\n", p.ID)
	counters(&b, p)
	return b.String()
}

func finalText(p Progress) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Broadcast <code>%s</code> %s in %s\n\n", p.ID, p.Status, p.Elapsed.Round(time.Second))
	counters(&b, p)
	return b.String()
}

func failedText(p Progress, err error) string {
	return fmt.Sprintf("Broadcast <code>%s</code> failed: %s", p.ID, transport.EscapeHTML(err.Error()))
}

// StatusLine is the short callback answer for a progress check.
func StatusLine(p Progress) string {
	return fmt.Sprintf("%s: %d/%d done, %d sent, %d failed", p.Status, p.Done(), p.Total, p.Sent, p.Failed)
}

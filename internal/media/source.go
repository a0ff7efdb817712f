package media

import (
	"fmt"
	"strings"

	"shotbot/internal/transport"
)

// Source resolves the probe-able location of a message's media.
//
// Accepted inputs:
//   - text that is an http(s) URL
//   - a video, or a document whose MIME type is video/* or application/octet-stream,
//     streamed from streamHost as <streamHost>/file/<chat>/<message>
//
// ok is false for anything else, including files when streamHost is empty.
func Source(m *transport.Message, streamHost string) (url string, ok bool) {
	if m == nil {
		return "", false
	}
	if m.Media != nil {
		if !acceptedFile(m.Media) {
			return "", false
		}
		host := strings.TrimRight(strings.TrimSpace(streamHost), "/")
		if host == "" {
			return "", false
		}
		return fmt.Sprintf("%s/file/%d/%d", host, m.ChatID, m.ID), true
	}
	text := strings.TrimSpace(m.Text)
	if IsURL(text) {
		return text, true
	}
	return "", false
}

func IsURL(s string) bool {
	if strings.ContainsAny(s, " \n\t") {
		return false
	}
	ls := strings.ToLower(s)
	return (strings.HasPrefix(ls, "http://") && len(ls) > len("http://")) ||
		(strings.HasPrefix(ls, "https://") && len(ls) > len("https://"))
}

func acceptedFile(md *transport.Media) bool {
	if md.Kind == transport.MediaVideo {
		return true
	}
	mime := strings.ToLower(strings.TrimSpace(md.MIME))
	return strings.HasPrefix(mime, "video/") || mime == "application/octet-stream"
}

package adapter

import (
	tele "gopkg.in/telebot.v4"

	kit "shotbot/internal/transport"
)

func convertUser(u *tele.User) kit.User {
	if u == nil {
		return kit.User{}
	}
	return kit.User{ID: u.ID, Username: u.Username, FirstName: u.FirstName}
}

func convertMessage(m *tele.Message, withReply bool) *kit.Message {
	out := &kit.Message{
		ID:        m.ID,
		ThreadID:  m.ThreadID,
		From:      convertUser(m.Sender),
		Text:      m.Text,
		IsPrivate: m.Private(),
	}
	if m.Chat != nil {
		out.ChatID = m.Chat.ID
	}
	if out.Text == "" {
		out.Text = m.Caption
	}
	switch {
	case m.Video != nil:
		out.Media = &kit.Media{
			Kind:     kit.MediaVideo,
			FileName: m.Video.FileName,
			MIME:     m.Video.MIME,
			Size:     m.Video.FileSize,
			Duration: m.Video.Duration,
		}
	case m.Document != nil:
		out.Media = &kit.Media{
			Kind:     kit.MediaDocument,
			FileName: m.Document.FileName,
			MIME:     m.Document.MIME,
			Size:     m.Document.FileSize,
		}
	}
	if withReply && m.ReplyTo != nil {
		out.ReplyTo = convertMessage(m.ReplyTo, false)
		out.ReplyTo.Media = nil
	}
	return out
}

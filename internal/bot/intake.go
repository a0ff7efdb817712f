package bot

import (
	"context"
	"fmt"

	"shotbot/internal/media"
	"shotbot/internal/oplog"
	"shotbot/internal/transport"
	"shotbot/internal/transport/telegram/router"
	logx "shotbot/pkg/logx"
)

const (
	waitText    = "Hi there, please wait while I'm getting everything ready to process your request!"
	badFileText = "Sorry, I cannot open the file."
)

// HandleMessage is the router fallback for non-command messages. Private messages carrying a
// supported video or a link are probed and answered with the options keyboard; everything
// else is ignored.
func (b *Bot) HandleMessage(ctx context.Context, req *router.Request) error {
	msg := req.Message
	if msg == nil || !msg.IsPrivate {
		return nil
	}
	s := b.cfg()
	src, ok := media.Source(msg, s.StreamHost)
	if !ok {
		return nil
	}

	wait, err := req.Adapter.SendText(ctx, req.Chat, waitText, &transport.SendOptions{ReplyTo: msg.ID})
	if err != nil {
		return fmt.Errorf("send wait message: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, s.ProbeTimeout)
	info, err := b.d.Prober.Probe(pctx, src)
	cancel()
	if err != nil {
		req.Logger.Warn("media probe failed", logx.Err(err))
		if eerr := req.Adapter.EditText(ctx, wait, badFileText, nil); eerr != nil {
			req.Logger.Warn("edit wait message failed", logx.Err(eerr))
		}
		oplog.BestEffort(ctx, b.d.Sink,
			fmt.Sprintf("⚠️ Media error\n\nFrom %s:\n<code>%s</code>", msg.From.Mention(), transport.EscapeHTML(err.Error())),
			req.Logger)
		return nil
	}

	opt := &transport.SendOptions{ParseMode: "HTML", Keyboard: media.OptionsKeyboard(info)}
	if err := req.Adapter.EditText(ctx, wait, media.OptionsText(info), opt); err != nil {
		return fmt.Errorf("edit options message: %w", err)
	}
	b.d.Sessions.Put(sessionKey(wait), media.Session{
		UserID:  msg.From.ID,
		Source:  src,
		Info:    info,
		Created: b.now(),
	})
	return nil
}

package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"shotbot/internal/broadcast"
	"shotbot/internal/oplog"
	"shotbot/internal/storage"
	"shotbot/internal/transport/telegram/router"
	logx "shotbot/pkg/logx"
)

func (b *Bot) Commands() []router.Command {
	return []router.Command{
		{Name: "start", Description: "start the bot", Usage: "/start", Handle: b.cmdStart},
		{
			Name:        "broadcast",
			Description: "send a message to every user",
			Usage:       "/broadcast <text> (or reply to a message)",
			Access:      router.AccessOwnerOnly,
			Handle:      b.cmdBroadcast,
		},
		{
			Name:        "ban",
			Description: "ban a user",
			Usage:       "/ban <user_id> [days]",
			Access:      router.AccessOwnerOnly,
			Timeout:     15 * time.Second,
			Handle:      b.cmdBan,
		},
		{
			Name:        "unban",
			Description: "lift a ban",
			Usage:       "/unban <user_id>",
			Access:      router.AccessOwnerOnly,
			Timeout:     15 * time.Second,
			Handle:      b.cmdUnban,
		},
		{
			Name:        "stats",
			Description: "user and broadcast counters",
			Usage:       "/stats",
			Access:      router.AccessOwnerOnly,
			Timeout:     15 * time.Second,
			Handle:      b.cmdStats,
		},
	}
}

func (b *Bot) cmdStart(ctx context.Context, req *router.Request) error {
	text := fmt.Sprintf("Hi %s!\n\nI can take screenshots, trim clips and make sample videos. "+
		"Send me a video, a video document or a direct link to get started.\n\nSee /help for commands.",
		req.From.Mention())
	_, err := req.Reply(ctx, text)
	return err
}

func (b *Bot) cmdBroadcast(ctx context.Context, req *router.Request) error {
	text := req.RawArgs
	if text == "" && req.Message != nil && req.Message.ReplyTo != nil {
		text = strings.TrimSpace(req.Message.ReplyTo.Text)
	}
	if text == "" {
		_, err := req.Reply(ctx, "Usage: <code>/broadcast &lt;text&gt;</code>, or reply to a message with <code>/broadcast</code>.")
		return err
	}

	task, err := b.d.Broadcasts.Start(ctx, req.From.ID, req.Chat, text)
	if err != nil {
		reason := "internal error"
		if errors.Is(err, broadcast.ErrRegistryExhausted) {
			reason = "too many broadcasts running"
		}
		req.Logger.Warn("broadcast start failed", logx.Err(err))
		_, _ = req.Reply(ctx, "Could not start broadcast: "+reason+".")
		return nil
	}
	req.Logger.Info("broadcast started", logx.String("broadcast", task.Job.ID))
	return nil
}

func parseUserID(s string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return id, err == nil && id > 0
}

func (b *Bot) cmdBan(ctx context.Context, req *router.Request) error {
	if len(req.Args) < 1 || len(req.Args) > 2 {
		_, err := req.Reply(ctx, "Usage: <code>/ban &lt;user_id&gt; [days]</code>")
		return err
	}
	id, ok := parseUserID(req.Args[0])
	if !ok {
		_, err := req.Reply(ctx, "Invalid user id.")
		return err
	}
	days := b.cfg().DefaultBanDays
	if len(req.Args) == 2 {
		n, err := strconv.Atoi(req.Args[1])
		if err != nil || n <= 0 {
			_, err := req.Reply(ctx, "Days must be a positive number.")
			return err
		}
		days = n
	}

	today := b.d.Admission.Today(b.now())
	err := b.d.Store.Ban(ctx, id, today, days)
	b.audit(ctx, req, "ban", id, err)
	if err != nil {
		_, _ = req.Reply(ctx, "Ban failed, check the logs.")
		return fmt.Errorf("ban %d: %w", id, err)
	}

	_, _ = req.Reply(ctx, fmt.Sprintf("User <code>%d</code> banned for %d days (until %s).", id, days, today.AddDays(days)))
	oplog.BestEffort(ctx, b.d.Sink,
		fmt.Sprintf("#Ban\n\n<code>%d</code> banned for %d days by %s.", id, days, req.From.Mention()), req.Logger)
	return nil
}

func (b *Bot) cmdUnban(ctx context.Context, req *router.Request) error {
	if len(req.Args) != 1 {
		_, err := req.Reply(ctx, "Usage: <code>/unban &lt;user_id&gt;</code>")
		return err
	}
	id, ok := parseUserID(req.Args[0])
	if !ok {
		_, err := req.Reply(ctx, "Invalid user id.")
		return err
	}

	err := b.d.Store.ClearBan(ctx, id)
	b.audit(ctx, req, "unban", id, err)
	if err != nil {
		_, _ = req.Reply(ctx, "Unban failed, check the logs.")
		return fmt.Errorf("unban %d: %w", id, err)
	}

	_, _ = req.Reply(ctx, fmt.Sprintf("User <code>%d</code> unbanned.", id))
	oplog.BestEffort(ctx, b.d.Sink,
		fmt.Sprintf("#Unban\n\n<code>%d</code> unbanned by %s.", id, req.From.Mention()), req.Logger)
	return nil
}

func (b *Bot) cmdStats(ctx context.Context, req *router.Request) error {
	st, err := b.d.Store.Stats(ctx, b.d.Admission.Today(b.now()))
	if err != nil {
		_, _ = req.Reply(ctx, "Stats unavailable, check the logs.")
		return fmt.Errorf("stats: %w", err)
	}
	text := fmt.Sprintf("<b>Stats</b>\n\nUsers: <b>%d</b>\nActive today: <b>%d</b>\nBanned: <b>%d</b>\nRunning broadcasts: <b>%d</b>",
		st.Total, st.ActiveToday, st.Banned, b.d.Broadcasts.Running())
	_, err = req.Reply(ctx, text)
	return err
}

func (b *Bot) audit(ctx context.Context, req *router.Request, action string, target int64, opErr error) {
	e := storage.AuditEntry{
		At:      b.now(),
		ActorID: req.From.ID,
		Action:  action,
		Target:  strconv.FormatInt(target, 10),
	}
	if opErr != nil {
		e.Fail = 1
		e.Error = opErr.Error()
	} else {
		e.OK = 1
	}
	if err := b.d.Store.AppendAudit(context.WithoutCancel(ctx), e); err != nil {
		req.Logger.Warn("audit append failed", logx.String("action", action), logx.Err(err))
	}
}

package bot

import (
	"context"
	"errors"

	"shotbot/internal/broadcast"
	"shotbot/internal/media"
	"shotbot/internal/transport"
	"shotbot/internal/transport/telegram/router"
	logx "shotbot/pkg/logx"
)

func (b *Bot) Callbacks() []router.CallbackRoute {
	routes := []router.CallbackRoute{
		{Namespace: "bc", Action: "status", Access: router.AccessEveryone, Handle: b.cbBroadcastStatus},
		{Namespace: "bc", Action: "cancel", Access: router.AccessOwnerOnly, Handle: b.cbBroadcastCancel},
	}
	for _, k := range []media.ActionKind{
		media.ActionScreenshots, media.ActionManual, media.ActionTrim, media.ActionInfo, media.ActionSample,
	} {
		routes = append(routes, router.CallbackRoute{
			Namespace: "ss",
			Action:    string(k),
			Access:    router.AccessEveryone,
			Handle:    b.cbMediaOption,
		})
	}
	return routes
}

func (b *Bot) cbBroadcastStatus(ctx context.Context, req *router.Request, id string) error {
	job, ok := b.d.Broadcasts.Registry().Lookup(id)
	if !ok {
		return req.Answer(ctx, "broadcast not found")
	}
	return req.Answer(ctx, broadcast.StatusLine(job.Progress()))
}

func (b *Bot) cbBroadcastCancel(ctx context.Context, req *router.Request, id string) error {
	if !b.d.Broadcasts.Registry().Cancel(id) {
		return req.Answer(ctx, "broadcast not found")
	}
	req.Logger.Info("broadcast cancel requested", logx.String("broadcast", id))
	return req.Answer(ctx, "cancelling broadcast "+id)
}

func (b *Bot) cbMediaOption(ctx context.Context, req *router.Request, _ string) error {
	cb := req.Callback
	action, err := media.ParseAction(cb.Data)
	if err != nil {
		return req.Answer(ctx, "invalid option")
	}
	sess, ok := b.d.Sessions.Get(sessionKey(transport.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID}))
	if !ok {
		return req.Answer(ctx, "This request expired, please send the file again.")
	}
	if sess.UserID != req.From.ID {
		return req.Answer(ctx, "This is not your request.")
	}

	if action.Kind == media.ActionInfo {
		_ = req.Answer(ctx, "")
		_, err := req.Reply(ctx, media.Summary(sess.Info))
		return err
	}

	switch err := b.d.Processor.Process(ctx, sess, action); {
	case err == nil:
		return req.Answer(ctx, "Your request has been queued.")
	case errors.Is(err, media.ErrUnsupported):
		return req.Answer(ctx, "This option is not available yet.")
	default:
		_ = req.Answer(ctx, "Sorry, something went wrong.")
		return err
	}
}

// sessionKey drops the thread id so sends and callbacks map to the same entry.
func sessionKey(ref transport.MessageRef) transport.MessageRef {
	return transport.MessageRef{ChatID: ref.ChatID, MessageID: ref.MessageID}
}

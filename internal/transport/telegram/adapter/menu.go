package adapter

import (
	"context"
	"slices"

	tele "gopkg.in/telebot.v4"

	kit "shotbot/internal/transport"
	logx "shotbot/pkg/logx"
)

// UpdateMenuCommands publishes cmds with setMyCommands. Republishing an identical list is a no-op.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	if err := ctxDone(ctx); err != nil {
		return err
	}
	cmds = slices.DeleteFunc(slices.Clone(cmds), func(c kit.BotCommand) bool { return c.Command == "" })

	a.menuMu.Lock()
	defer a.menuMu.Unlock()
	if a.menu != nil && slices.Equal(a.menu, cmds) {
		return nil
	}

	out := make([]tele.Command, len(cmds))
	for i, c := range cmds {
		out[i] = tele.Command{Text: c.Command, Description: c.Description}
	}
	if err := a.bot.SetCommands(out); err != nil {
		return classifyError(err)
	}
	a.menu = cmds
	a.log.Info("menu commands updated", logx.Int("count", len(out)))
	return nil
}

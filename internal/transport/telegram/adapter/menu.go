package adapter

import (
	"context"
	"slices"

	tele "gopkg.in/telebot.v4"

	kit "crouswatch/internal/transport"
	logx "crouswatch/pkg/logx"
)

// UpdateMenuCommands publishes the "/" menu unless it equals the last one
// published.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	menu := make([]tele.Command, 0, len(cmds))
	for _, c := range cmds {
		if c.Command == "" {
			continue
		}
		desc := c.Description
		if desc == "" {
			desc = c.Command
		}
		menu = append(menu, tele.Command{Text: c.Command, Description: desc})
	}

	a.menuMu.Lock()
	defer a.menuMu.Unlock()
	if a.menu != nil && slices.EqualFunc(a.menu, menu, sameCommand) {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.bot.SetCommands(menu); err != nil {
		return err
	}
	a.menu = menu
	a.log.Info("command menu published", logx.Int("count", len(menu)))
	return nil
}

func sameCommand(x, y tele.Command) bool {
	return x.Text == y.Text && x.Description == y.Description
}

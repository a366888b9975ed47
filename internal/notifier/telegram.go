package notifier

import (
	"context"
	"errors"

	kit "crouswatch/internal/transport"
	"crouswatch/internal/watch"
)

// TelegramChannel posts notifications to one chat.
type TelegramChannel struct {
	sender kit.Sender
	target kit.ChatTarget
}

func NewTelegramChannel(sender kit.Sender, target kit.ChatTarget) *TelegramChannel {
	return &TelegramChannel{sender: sender, target: target}
}

func (c *TelegramChannel) Name() string { return "telegram" }

func (c *TelegramChannel) Send(ctx context.Context, n watch.Notification) error {
	if c.sender == nil || c.target.ChatID == 0 {
		return errors.New("telegram channel not configured")
	}
	_, err := c.sender.SendText(ctx, c.target, TelegramText(n), &kit.SendOptions{ParseMode: "HTML"})
	return err
}

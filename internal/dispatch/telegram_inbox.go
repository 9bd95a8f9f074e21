package dispatch

import (
	"context"
	"fmt"

	"github.com/mymmrac/telego"
)

// Update kinds the inbox reads
var inboxUpdateKinds = []string{"message", "channel_post"}

// GetUpdates reads pending updates with the default bot token starting at offset.
// A positive offset confirms every update below it; zero reads from the oldest unconfirmed update.
func (a *TelegramAdapter) GetUpdates(ctx context.Context, offset, limit int) ([]telego.Update, error) {
	if a.DefaultToken == "" {
		return nil, &ConfigError{Adapter: "telegram", Missing: []string{"bot token"}}
	}

	bot, err := a.Bot(a.DefaultToken)
	if err != nil {
		return nil, err
	}
	if err := wait(ctx, a.Limiter); err != nil {
		return nil, err
	}

	updates, err := bot.GetUpdates(ctx, &telego.GetUpdatesParams{
		Offset:         offset,
		Limit:          limit,
		AllowedUpdates: inboxUpdateKinds,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram getUpdates: %w", err)
	}
	return updates, nil
}

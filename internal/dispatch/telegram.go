package dispatch

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"golang.org/x/time/rate"

	"github.com/hardian-n/otomatisin/db"
)

// Integration custom setting that carries a per-account bot token
const telegramTokenSetting = "bot_token"

// TelegramAdapter sends replies through the Bot API sendMessage method.
// Bot clients are cached per token.
type TelegramAdapter struct {
	DefaultToken string
	APIURL       string
	Integrations IntegrationLookup
	Client       *http.Client
	Limiter      *rate.Limiter

	bots sync.Map
}

// Bot returns a cached client for token
func (a *TelegramAdapter) Bot(token string) (*telego.Bot, error) {
	if cached, ok := a.bots.Load(token); ok {
		return cached.(*telego.Bot), nil
	}

	opts := []telego.BotOption{telego.WithDiscardLogger()}
	if a.APIURL != "" {
		opts = append(opts, telego.WithAPIServer(strings.TrimRight(a.APIURL, "/")))
	}
	client := a.Client
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	opts = append(opts, telego.WithHTTPClient(client))

	bot, err := telego.NewBot(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	actual, _ := a.bots.LoadOrStore(token, bot)
	return actual.(*telego.Bot), nil
}

// ResolveToken picks the explicit token, then the integration's stored token, then the default
func (a *TelegramAdapter) ResolveToken(ctx context.Context, explicit, integrationID string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if integrationID != "" && a.Integrations != nil {
		integration, err := a.Integrations.FindByProviderAndID(ctx, db.ProviderTelegram, integrationID)
		if err != nil {
			return "", fmt.Errorf("lookup telegram integration: %w", err)
		}
		if integration != nil {
			if token := integration.CustomSettings[telegramTokenSetting]; token != "" {
				return token, nil
			}
		}
	}
	return a.DefaultToken, nil
}

// ChatID accepts a numeric chat id or an @channel username
func ChatID(target string) telego.ChatID {
	if id, err := strconv.ParseInt(target, 10, 64); err == nil {
		return tu.ID(id)
	}
	username := target
	if !strings.HasPrefix(username, "@") {
		username = "@" + username
	}
	return tu.Username(username)
}

func (a *TelegramAdapter) SendReply(ctx context.Context, in SendReplyInput) error {
	if in.ChannelTargetID == "" {
		return &ConfigError{Adapter: "telegram", Missing: []string{"chat id"}}
	}

	token, err := a.ResolveToken(ctx, in.BotToken, in.IntegrationID)
	if err != nil {
		return err
	}
	if token == "" {
		return &ConfigError{Adapter: "telegram", Missing: []string{"bot token"}}
	}

	bot, err := a.Bot(token)
	if err != nil {
		return err
	}

	msg := tu.Message(ChatID(in.ChannelTargetID), in.ReplyText)
	msg.ParseMode = telego.ModeHTML
	if replyTo, err := strconv.Atoi(in.ReplyToMessageID); err == nil && replyTo > 0 {
		msg.ReplyParameters = &telego.ReplyParameters{
			MessageID:                replyTo,
			AllowSendingWithoutReply: true,
		}
	}

	if err := wait(ctx, a.Limiter); err != nil {
		return err
	}
	if _, err := bot.SendMessage(ctx, msg); err != nil {
		return fmt.Errorf("telegram sendMessage: %w", err)
	}
	return nil
}

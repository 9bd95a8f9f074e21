package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/mymmrac/telego"

	"github.com/hardian-n/otomatisin/db"
	"github.com/hardian-n/otomatisin/internal/logger"
)

const (
	defaultTelegramInboxLimit = 20
	telegramWatermarkPrefix   = "inbox:telegram:last_update:"
)

var (
	ErrNotTelegram         = errors.New("Integration is not Telegram")
	ErrInvalidTelegramChat = errors.New("Telegram integration chat id is invalid")
)

// Evaluator runs a message through the autoreply rules
type Evaluator interface {
	Evaluate(ctx context.Context, input db.EvaluateInput) (db.EvaluateResult, error)
}

// TelegramUpdatesSource reads pending bot updates. A positive offset confirms the updates below it.
type TelegramUpdatesSource interface {
	GetUpdates(ctx context.Context, offset, limit int) ([]telego.Update, error)
}

// WatermarkStore remembers the newest update already handled per integration
type WatermarkStore interface {
	LastUpdateID(ctx context.Context, integrationID string) (int, error)
	SetLastUpdateID(ctx context.Context, integrationID string, updateID int) error
}

// RedisWatermarkStore keeps watermarks under inbox:telegram:last_update:<integration id>
type RedisWatermarkStore struct {
	Redis *redis.Client
}

func NewRedisWatermarkStore(client *redis.Client) *RedisWatermarkStore {
	return &RedisWatermarkStore{Redis: client}
}

func telegramWatermarkKey(integrationID string) string {
	return telegramWatermarkPrefix + integrationID
}

// LastUpdateID returns 0 when nothing was stored yet or the stored value is not a number
func (s *RedisWatermarkStore) LastUpdateID(ctx context.Context, integrationID string) (int, error) {
	raw, err := s.Redis.Get(ctx, telegramWatermarkKey(integrationID)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read telegram watermark: %w", err)
	}
	id, err := strconv.Atoi(raw)
	if err != nil {
		return 0, nil
	}
	return id, nil
}

func (s *RedisWatermarkStore) SetLastUpdateID(ctx context.Context, integrationID string, updateID int) error {
	if err := s.Redis.Set(ctx, telegramWatermarkKey(integrationID), strconv.Itoa(updateID), 0).Err(); err != nil {
		return fmt.Errorf("failed to store telegram watermark: %w", err)
	}
	return nil
}

// TelegramInboxService pulls new chat messages for a Telegram integration and feeds them
// to the autoreply engine
type TelegramInboxService struct {
	Integrations IntegrationRepository
	Updates      TelegramUpdatesSource
	Watermarks   WatermarkStore
	Autoreply    Evaluator
	Now          func() time.Time
}

func NewTelegramInboxService(integrations IntegrationRepository, updates TelegramUpdatesSource, watermarks WatermarkStore, autoreply Evaluator) *TelegramInboxService {
	return &TelegramInboxService{
		Integrations: integrations,
		Updates:      updates,
		Watermarks:   watermarks,
		Autoreply:    autoreply,
		Now:          time.Now,
	}
}

func (s *TelegramInboxService) ListChannels(ctx context.Context, orgID string) ([]db.Integration, error) {
	return s.Integrations.ListByOrgAndProvider(ctx, orgID, db.ProviderTelegram)
}

// GetMessages returns the messages received since the last call for this integration.
// limit is clamped to 1..50.
func (s *TelegramInboxService) GetMessages(ctx context.Context, orgID, integrationID string, limit int) (*db.TelegramInboxResult, error) {
	integration, err := s.Integrations.GetByOrgAndID(ctx, orgID, integrationID)
	if err != nil {
		return nil, err
	}
	if integration == nil {
		return nil, ErrIntegrationNotFound
	}
	if integration.ProviderIdentifier != db.ProviderTelegram {
		return nil, ErrNotTelegram
	}

	chatID, err := strconv.ParseInt(integration.Token, 10, 64)
	if err != nil {
		return nil, ErrInvalidTelegramChat
	}

	offset, err := s.sharedOffset(ctx)
	if err != nil {
		return nil, err
	}

	updates, err := s.Updates.GetUpdates(ctx, offset, ClampLimit(limit, 1, 50, defaultTelegramInboxLimit))
	if err != nil {
		return nil, err
	}

	lastSeen, err := s.Watermarks.LastUpdateID(ctx, integration.ID)
	if err != nil {
		return nil, err
	}

	newest := lastSeen
	fresh := make([]telego.Update, 0, len(updates))
	for _, update := range updates {
		if update.UpdateID > newest {
			newest = update.UpdateID
		}
		message := updateMessage(update)
		if update.UpdateID > lastSeen && message != nil && message.Chat.ID == chatID {
			fresh = append(fresh, update)
		}
	}
	sort.Slice(fresh, func(i, j int) bool { return fresh[i].UpdateID < fresh[j].UpdateID })

	// The watermark covers every update in the batch, other chats included
	if newest > lastSeen {
		if err := s.Watermarks.SetLastUpdateID(ctx, integration.ID, newest); err != nil {
			return nil, err
		}
	}

	messages := make([]db.InboxMessage, 0, len(fresh))
	for _, update := range fresh {
		messages = append(messages, toInboxMessage(updateMessage(update)))
	}

	s.processAutoreplies(ctx, orgID, integration.ID, strconv.FormatInt(chatID, 10), fresh)

	return &db.TelegramInboxResult{
		Integration: integration.Summary(),
		Messages:    messages,
		LastSync:    s.now(),
	}, nil
}

// sharedOffset is one past the lowest watermark among the pollable Telegram integrations,
// so an update is only confirmed once every chat on the bot has seen it.
// Zero means some integration has not seen anything yet.
func (s *TelegramInboxService) sharedOffset(ctx context.Context) (int, error) {
	integrations, err := s.Integrations.ListByProvider(ctx, db.ProviderTelegram)
	if err != nil {
		return 0, err
	}

	lowest := -1
	for _, integration := range integrations {
		if _, err := strconv.ParseInt(integration.Token, 10, 64); err != nil {
			continue
		}
		seen, err := s.Watermarks.LastUpdateID(ctx, integration.ID)
		if err != nil {
			return 0, err
		}
		if lowest < 0 || seen < lowest {
			lowest = seen
		}
	}
	if lowest <= 0 {
		return 0, nil
	}
	return lowest + 1, nil
}

func (s *TelegramInboxService) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func (s *TelegramInboxService) processAutoreplies(ctx context.Context, orgID, integrationID, chatID string, updates []telego.Update) {
	if s.Autoreply == nil {
		return
	}

	for _, update := range updates {
		message := updateMessage(update)
		if message.From != nil && message.From.IsBot {
			continue
		}
		text := messageText(message)
		if text == "" {
			continue
		}

		_, err := s.Autoreply.Evaluate(ctx, db.EvaluateInput{
			OrgID:           orgID,
			Channel:         db.ProviderTelegram,
			IntegrationID:   integrationID,
			ChannelTargetID: chatID,
			Text:            text,
			AuthorID:        telegramAuthor(message),
			MessageID:       strconv.Itoa(message.MessageID),
			MultiReply:      false,
		})
		if err != nil {
			logger.Warnf("Telegram autoreply failed for message %d in %s: %v", message.MessageID, chatID, err)
		}
	}
}

func updateMessage(update telego.Update) *telego.Message {
	if update.Message != nil {
		return update.Message
	}
	return update.ChannelPost
}

func messageText(message *telego.Message) string {
	if message.Text != "" {
		return message.Text
	}
	return message.Caption
}

func telegramAuthor(message *telego.Message) string {
	if message.From == nil {
		return ""
	}
	if message.From.Username != "" {
		return message.From.Username
	}
	return strconv.FormatInt(message.From.ID, 10)
}

func toInboxMessage(message *telego.Message) db.InboxMessage {
	out := db.InboxMessage{
		ID:   strconv.Itoa(message.MessageID),
		Text: messageText(message),
	}
	if message.From != nil {
		out.Username = message.From.Username
	}
	if message.Date > 0 {
		out.Timestamp = time.Unix(message.Date, 0).UTC().Format(time.RFC3339)
	}
	return out
}

// ClampLimit bounds value to [lo, hi]; non-positive values take fallback first
func ClampLimit(value, lo, hi, fallback int) int {
	if value <= 0 {
		value = fallback
	}
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}

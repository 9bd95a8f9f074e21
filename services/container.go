package services

import (
	"database/sql"

	"github.com/go-redis/redis/v8"

	"github.com/hardian-n/otomatisin/internal/config"
	"github.com/hardian-n/otomatisin/internal/dispatch"
	"github.com/hardian-n/otomatisin/internal/secrets"
)

// Container is the service graph shared by the API server and the worker
type Container struct {
	Integrations *PGIntegrationRepository
	Adapters     dispatch.Adapters
	Scheduler    *TimerScheduler

	Autoreply     *AutoreplyService
	ThreadsInbox  *ThreadsInboxService
	TelegramInbox *TelegramInboxService
}

func NewContainer(pg *sql.DB, redisClient *redis.Client, cfg config.Config) *Container {
	integrations := NewPGIntegrationRepository(pg, secrets.NewBox(cfg.EncryptionKey))
	adapters := dispatch.NewAdapters(dispatch.OptionsFromConfig(cfg), integrations)
	scheduler := NewTimerScheduler()

	autoreply := NewAutoreplyService(
		NewPGAutoreplyRuleRepository(pg),
		NewPGAutoreplyLogRepository(pg),
		adapters.Registry(),
		scheduler,
	)

	return &Container{
		Integrations:  integrations,
		Adapters:      adapters,
		Scheduler:     scheduler,
		Autoreply:     autoreply,
		ThreadsInbox:  NewThreadsInboxService(integrations, NewPGPostRepository(pg), adapters.Threads, autoreply),
		TelegramInbox: NewTelegramInboxService(integrations, adapters.Telegram, NewRedisWatermarkStore(redisClient), autoreply),
	}
}

package dispatch

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/hardian-n/otomatisin/db"
	"github.com/hardian-n/otomatisin/internal/config"
)

const defaultTimeout = 15 * time.Second

// Options configures the built-in adapters
type Options struct {
	Timeout    time.Duration
	RatePerSec float64

	ThreadAPIBaseURL string
	ThreadAPIToken   string

	TelegramBotToken string
	TelegramAPIURL   string

	ThreadsGraphURL     string
	ThreadsPollInterval time.Duration
	ThreadsPollAttempts int
	ThreadsRefreshURL   string
}

func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Timeout:             time.Duration(cfg.Dispatch.TimeoutSec) * time.Second,
		RatePerSec:          cfg.Dispatch.RatePerSec,
		ThreadAPIBaseURL:    cfg.ThreadAPI.BaseURL,
		ThreadAPIToken:      cfg.ThreadAPI.Token,
		TelegramBotToken:    cfg.Telegram.BotToken,
		TelegramAPIURL:      cfg.Telegram.APIURL,
		ThreadsGraphURL:     cfg.Threads.GraphURL,
		ThreadsPollInterval: time.Duration(cfg.Threads.PollIntervalMs) * time.Millisecond,
		ThreadsPollAttempts: cfg.Threads.PollAttempts,
		ThreadsRefreshURL:   cfg.Threads.RefreshURL,
	}
}

func (o Options) httpClient() *http.Client {
	timeout := o.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

// limiter returns nil when outbound rate limiting is disabled
func (o Options) limiter() *rate.Limiter {
	if o.RatePerSec <= 0 {
		return nil
	}
	burst := int(o.RatePerSec)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(o.RatePerSec), burst)
}

// Adapters holds the built-in adapters. The inbox pollers reuse the Telegram and Threads
// clients for reading.
type Adapters struct {
	Threads  *ThreadsAdapter
	Telegram *TelegramAdapter
	HTTP     *HTTPAdapter
}

// NewAdapters builds the built-in adapters. All of them share one outbound limiter.
func NewAdapters(opts Options, integrations IntegrationLookup) Adapters {
	client := opts.httpClient()
	limiter := opts.limiter()

	return Adapters{
		Threads: &ThreadsAdapter{
			GraphURL:     opts.ThreadsGraphURL,
			RefreshURL:   opts.ThreadsRefreshURL,
			Integrations: integrations,
			Client:       client,
			Limiter:      limiter,
			PollInterval: opts.ThreadsPollInterval,
			PollAttempts: opts.ThreadsPollAttempts,
		},
		Telegram: &TelegramAdapter{
			DefaultToken: opts.TelegramBotToken,
			APIURL:       opts.TelegramAPIURL,
			Integrations: integrations,
			Client:       client,
			Limiter:      limiter,
		},
		HTTP: &HTTPAdapter{
			BaseURL: opts.ThreadAPIBaseURL,
			Token:   opts.ThreadAPIToken,
			Client:  client,
			Limiter: limiter,
		},
	}
}

// Registry binds every adapter under its channel names
func (a Adapters) Registry() *Registry {
	registry := NewRegistry()
	registry.Register(a.Threads, db.ProviderThreads, "thread")
	registry.Register(a.Telegram, db.ProviderTelegram)
	registry.Register(a.HTTP, "forum", "webhook")
	return registry
}

func wait(ctx context.Context, limiter *rate.Limiter) error {
	if limiter == nil {
		return nil
	}
	return limiter.Wait(ctx)
}

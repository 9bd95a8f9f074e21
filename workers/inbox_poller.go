package workers

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hardian-n/otomatisin/db"
	"github.com/hardian-n/otomatisin/internal/config"
	"github.com/hardian-n/otomatisin/internal/logger"
	"github.com/hardian-n/otomatisin/services"
)

const (
	defaultPollInterval = 30 * time.Second
	defaultPostLimit    = 10
	defaultReplyLimit   = 20
	maxDelay            = 5 * time.Second
)

var defaultProviders = []string{db.ProviderThreads, db.ProviderTelegram}

var ErrPollerRunning = errors.New("inbox poller already running")

type IntegrationLister interface {
	ListByProvider(ctx context.Context, provider string) ([]db.Integration, error)
}

type ThreadsInbox interface {
	GetReplies(ctx context.Context, orgID, integrationID string, postLimit, replyLimit int) (*db.ThreadsInboxResult, error)
}

type TelegramInbox interface {
	GetMessages(ctx context.Context, orgID, integrationID string, limit int) (*db.TelegramInboxResult, error)
}

// PollOptions controls one polling pass
type PollOptions struct {
	Providers  []string
	PostLimit  int
	ReplyLimit int
	Delay      time.Duration
}

func PollOptionsFromConfig(cfg config.InboxPollConfig) PollOptions {
	return PollOptions{
		Providers:  cfg.Providers,
		PostLimit:  cfg.PostLimit,
		ReplyLimit: cfg.ReplyLimit,
		Delay:      time.Duration(cfg.DelayMs) * time.Millisecond,
	}
}

// normalized lowercases providers and clamps limits: posts 1..25, replies 1..50, delay 0..5s
func (o PollOptions) normalized() PollOptions {
	var providers []string
	for _, p := range o.Providers {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			providers = append(providers, p)
		}
	}
	if len(providers) == 0 {
		providers = defaultProviders
	}

	out := PollOptions{
		Providers:  providers,
		PostLimit:  services.ClampLimit(o.PostLimit, 1, 25, defaultPostLimit),
		ReplyLimit: services.ClampLimit(o.ReplyLimit, 1, 50, defaultReplyLimit),
		Delay:      o.Delay,
	}
	if out.Delay < 0 {
		out.Delay = 0
	}
	if out.Delay > maxDelay {
		out.Delay = maxDelay
	}
	return out
}

// InboxPollingWorker walks every connected Threads and Telegram integration on a fixed
// interval so inbound replies reach the autoreply engine without webhooks
type InboxPollingWorker struct {
	Integrations IntegrationLister
	Threads      ThreadsInbox
	Telegram     TelegramInbox
	Options      PollOptions
	Interval     time.Duration

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
	// passes tracks the immediate first run; scheduled runs are awaited through cron
	passes sync.WaitGroup
}

func NewInboxPollingWorker(integrations IntegrationLister, threads ThreadsInbox, telegram TelegramInbox, opts PollOptions, interval time.Duration) *InboxPollingWorker {
	return &InboxPollingWorker{
		Integrations: integrations,
		Threads:      threads,
		Telegram:     telegram,
		Options:      opts,
		Interval:     interval,
	}
}

// Poll runs one pass over every configured provider. Failures are logged per integration
// and never stop the pass.
func (w *InboxPollingWorker) Poll(ctx context.Context) {
	opts := w.Options.normalized()

	for _, provider := range opts.Providers {
		if ctx.Err() != nil {
			return
		}
		switch provider {
		case db.ProviderThreads:
			w.pollProvider(ctx, provider, opts, func(i db.Integration) error {
				_, err := w.Threads.GetReplies(ctx, i.OrganizationID, i.ID, opts.PostLimit, opts.ReplyLimit)
				return err
			})
		case db.ProviderTelegram:
			w.pollProvider(ctx, provider, opts, func(i db.Integration) error {
				_, err := w.Telegram.GetMessages(ctx, i.OrganizationID, i.ID, opts.ReplyLimit)
				return err
			})
		default:
			logger.Debugf("Inbox polling not implemented for %s", provider)
		}
	}
}

func (w *InboxPollingWorker) pollProvider(ctx context.Context, provider string, opts PollOptions, poll func(db.Integration) error) {
	integrations, err := w.Integrations.ListByProvider(ctx, provider)
	if err != nil {
		logger.Errorf("Inbox poll: failed to list %s integrations: %v", provider, err)
		return
	}

	for _, integration := range integrations {
		if !integration.Pollable() {
			continue
		}

		if err := poll(integration); err != nil {
			logger.Warnf("%s inbox poll failed for %s: %v", provider, integration.ID, err)
		}

		if err := sleepContext(ctx, opts.Delay); err != nil {
			return
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Start runs a pass immediately and then every Interval. A pass that is still running
// when the next one is due makes the next one skip.
func (w *InboxPollingWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cron != nil {
		return ErrPollerRunning
	}

	interval := w.Interval
	if interval <= 0 {
		interval = defaultPollInterval
	}

	runCtx, cancel := context.WithCancel(ctx)
	cronLogger := cron.PrintfLogger(logger.Get())
	job := cron.NewChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)).Then(cron.FuncJob(func() {
		w.Poll(runCtx)
	}))

	c := cron.New(cron.WithLogger(cronLogger))
	c.Schedule(cron.Every(interval), job)
	c.Start()

	w.cron = c
	w.cancel = cancel

	w.passes.Add(1)
	go func() {
		defer w.passes.Done()
		job.Run()
	}()

	opts := w.Options.normalized()
	logger.Infof("Inbox polling scheduled every %s for providers: %s", interval, strings.Join(opts.Providers, ", "))
	return nil
}

// Stop cancels the running pass and waits for it to return
func (w *InboxPollingWorker) Stop() {
	w.mu.Lock()
	c, cancel := w.cron, w.cancel
	w.cron, w.cancel = nil, nil
	w.mu.Unlock()

	if c == nil {
		return
	}
	cancel()
	<-c.Stop().Done()
	w.passes.Wait()
}

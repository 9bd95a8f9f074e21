package dispatch

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/hardian-n/otomatisin/db"
)

// SendReplyInput is what every adapter needs to deliver one reply
type SendReplyInput struct {
	Channel          string
	ChannelTargetID  string
	ReplyText        string
	ReplyToMessageID string
	Metadata         map[string]interface{}

	// IntegrationID selects stored credentials for adapters that need them
	IntegrationID string
	// BotToken overrides any stored Telegram token
	BotToken string
}

type ReplyAdapter interface {
	SendReply(ctx context.Context, in SendReplyInput) error
}

// IntegrationLookup resolves a connected account. A missing account is (nil, nil).
type IntegrationLookup interface {
	FindByProviderAndID(ctx context.Context, provider, id string) (*db.Integration, error)
}

// Registry maps channel names to adapters. Names are case-insensitive.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]ReplyAdapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]ReplyAdapter)}
}

func normalizeChannel(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Register binds the adapter to every given name
func (r *Registry) Register(adapter ReplyAdapter, names ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range names {
		r.adapters[normalizeChannel(name)] = adapter
	}
}

func (r *Registry) Resolve(channel string) (ReplyAdapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[normalizeChannel(channel)]
	if !ok {
		return nil, &UnknownChannelError{Channel: channel}
	}
	return adapter, nil
}

func (r *Registry) Channels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

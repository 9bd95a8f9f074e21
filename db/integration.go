package db

import "time"

// Provider identifiers stored on integrations
const (
	ProviderThreads  = "threads"
	ProviderTelegram = "telegram"
)

// Integration is a connected social account. For Telegram the Token column holds the chat id
// the bot listens to; for Threads it is the user access token.
type Integration struct {
	ID                 string            `json:"id"`
	OrganizationID     string            `json:"organization_id"`
	Name               string            `json:"name"`
	ProviderIdentifier string            `json:"provider_identifier"`
	InternalID         string            `json:"internal_id"`
	Picture            string            `json:"picture,omitempty"`
	Profile            string            `json:"profile,omitempty"`
	Token              string            `json:"-"`
	RefreshToken       string            `json:"-"`
	TokenExpiration    *time.Time        `json:"token_expiration,omitempty"`
	CustomSettings     map[string]string `json:"-"`
	Disabled           bool              `json:"disabled"`
	InBetweenSteps     bool              `json:"in_between_steps"`
	RefreshNeeded      bool              `json:"refresh_needed"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// Pollable reports whether the inbox poller may touch this integration
func (i *Integration) Pollable() bool {
	return !i.Disabled && !i.InBetweenSteps && !i.RefreshNeeded
}

// TokenExpired reports whether the stored access token is past its expiry
func (i *Integration) TokenExpired(now time.Time) bool {
	return i.TokenExpiration != nil && i.TokenExpiration.Before(now)
}

// IntegrationSummary is the public part of an integration echoed in inbox responses
type IntegrationSummary struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	Profile            string `json:"profile,omitempty"`
	Picture            string `json:"picture,omitempty"`
	ProviderIdentifier string `json:"provider_identifier"`
}

func (i *Integration) Summary() IntegrationSummary {
	return IntegrationSummary{
		ID:                 i.ID,
		Name:               i.Name,
		Profile:            i.Profile,
		Picture:            i.Picture,
		ProviderIdentifier: i.ProviderIdentifier,
	}
}

// Post is a published post; ReleaseID is the provider-side id replies hang off
type Post struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	IntegrationID  string    `json:"integration_id"`
	Content        string    `json:"content"`
	PublishDate    time.Time `json:"publish_date"`
	ReleaseID      string    `json:"release_id,omitempty"`
	ReleaseURL     string    `json:"release_url,omitempty"`
	Image          string    `json:"image,omitempty"`
}

// ===========================
// INBOX MODELS
// ===========================

type InboxMessage struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	Username  string `json:"username,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Permalink string `json:"permalink,omitempty"`
}

type TelegramInboxResult struct {
	Integration IntegrationSummary `json:"integration"`
	Messages    []InboxMessage     `json:"messages"`
	LastSync    time.Time          `json:"last_sync"`
}

type ThreadsPostReplies struct {
	ID          string         `json:"id"`
	Content     string         `json:"content"`
	PublishDate time.Time      `json:"publish_date"`
	ReleaseID   string         `json:"release_id"`
	ReleaseURL  string         `json:"release_url,omitempty"`
	Image       string         `json:"image,omitempty"`
	Replies     []InboxMessage `json:"replies"`
}

type ThreadsInboxResult struct {
	Integration IntegrationSummary   `json:"integration"`
	Posts       []ThreadsPostReplies `json:"posts"`
	LastSync    time.Time            `json:"last_sync"`
	Error       string               `json:"error,omitempty"`
}

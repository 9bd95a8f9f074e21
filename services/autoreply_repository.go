package services

import (
	"context"
	"errors"
	"time"

	"github.com/hardian-n/otomatisin/db"
)

var (
	ErrRuleNotFound        = errors.New("Rule not found")
	ErrIntegrationNotFound = errors.New("Integration not found")
)

// AutoreplyRuleRepository is the rule store. Every method is scoped by organization.
type AutoreplyRuleRepository interface {
	// FindActiveByOrgAndChannel returns active rules ordered by priority desc, created_at asc
	FindActiveByOrgAndChannel(ctx context.Context, orgID, channel string) ([]db.AutoreplyRule, error)

	// FindForTest applies an equals-or-null filter on integration and channel target
	FindForTest(ctx context.Context, orgID, channel, integrationID, channelTargetID string) ([]db.AutoreplyRule, error)

	// List returns all rules of the organization, optionally for one channel
	List(ctx context.Context, orgID, channel string) ([]db.AutoreplyRule, error)

	Get(ctx context.Context, id, orgID string) (*db.AutoreplyRule, error)
	Create(ctx context.Context, rule *db.AutoreplyRule) error

	// Update returns ErrRuleNotFound when no row of the organization matched
	Update(ctx context.Context, id, orgID string, req db.UpdateAutoreplyRuleRequest) (*db.AutoreplyRule, error)

	// Delete reports whether a row was removed
	Delete(ctx context.Context, id, orgID string) (bool, error)
}

// AutoreplyLogRepository is the append-mostly trigger log
type AutoreplyLogRepository interface {
	Create(ctx context.Context, entry *db.AutoreplyLog) error
	FindLatestByRuleAndAuthorSince(ctx context.Context, ruleID, authorID string, since time.Time) (*db.AutoreplyLog, error)
	// FindOneByRuleAndMessage only filters by target when channelTargetID is not empty
	FindOneByRuleAndMessage(ctx context.Context, ruleID, messageID, channelTargetID string) (*db.AutoreplyLog, error)
	UpdateError(ctx context.Context, id, message string) error
}

// IntegrationRepository resolves connected accounts. Lookups return (nil, nil) when absent.
type IntegrationRepository interface {
	FindByProviderAndID(ctx context.Context, provider, id string) (*db.Integration, error)
	GetByOrgAndID(ctx context.Context, orgID, id string) (*db.Integration, error)
	ListByProvider(ctx context.Context, provider string) ([]db.Integration, error)
	ListByOrgAndProvider(ctx context.Context, orgID, provider string) ([]db.Integration, error)
	UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, expiresAt *time.Time) error
	MarkRefreshNeeded(ctx context.Context, id string) error
}

type PostRepository interface {
	ListPublishedByIntegration(ctx context.Context, orgID, integrationID string, limit int) ([]db.Post, error)
}

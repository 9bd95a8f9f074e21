package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hardian-n/otomatisin/db"
	"github.com/hardian-n/otomatisin/internal/secrets"
)

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// ============================================================================
// PGAutoreplyRuleRepository
// ============================================================================

const ruleColumns = `id, organization_id, channel, COALESCE(name, ''), COALESCE(channel_target_id, ''),
	COALESCE(integration_id, ''), keyword_pattern, match_type, reply_text, delay_sec, cooldown_sec,
	priority, is_active, created_at, updated_at`

type PGAutoreplyRuleRepository struct {
	PG *sql.DB
}

func NewPGAutoreplyRuleRepository(pg *sql.DB) *PGAutoreplyRuleRepository {
	return &PGAutoreplyRuleRepository{PG: pg}
}

var _ AutoreplyRuleRepository = (*PGAutoreplyRuleRepository)(nil)

func scanRule(row rowScanner) (db.AutoreplyRule, error) {
	var r db.AutoreplyRule
	err := row.Scan(
		&r.ID, &r.OrganizationID, &r.Channel, &r.Name, &r.ChannelTargetID,
		&r.IntegrationID, &r.KeywordPattern, &r.MatchType, &r.ReplyText, &r.DelaySec, &r.CooldownSec,
		&r.Priority, &r.IsActive, &r.CreatedAt, &r.UpdatedAt,
	)
	return r, err
}

func (r *PGAutoreplyRuleRepository) queryRules(ctx context.Context, query string, args ...interface{}) ([]db.AutoreplyRule, error) {
	rows, err := r.PG.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rules := []db.AutoreplyRule{}
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (r *PGAutoreplyRuleRepository) FindActiveByOrgAndChannel(ctx context.Context, orgID, channel string) ([]db.AutoreplyRule, error) {
	rules, err := r.queryRules(ctx, `
		SELECT `+ruleColumns+`
		FROM autoreply_rules
		WHERE organization_id = $1 AND channel = $2 AND is_active = true
		ORDER BY priority DESC, created_at ASC
	`, orgID, channel)
	if err != nil {
		return nil, fmt.Errorf("failed to load active rules: %w", err)
	}
	return rules, nil
}

func (r *PGAutoreplyRuleRepository) FindForTest(ctx context.Context, orgID, channel, integrationID, channelTargetID string) ([]db.AutoreplyRule, error) {
	query := `
		SELECT ` + ruleColumns + `
		FROM autoreply_rules
		WHERE organization_id = $1 AND channel = $2 AND is_active = true`
	args := []interface{}{orgID, channel}

	// equals-or-null: a given value also admits rules that leave the dimension unset
	optional := func(column, value string) {
		if value == "" {
			query += fmt.Sprintf(" AND %s IS NULL", column)
			return
		}
		args = append(args, value)
		query += fmt.Sprintf(" AND (%s = $%d OR %s IS NULL)", column, len(args), column)
	}
	optional("integration_id", integrationID)
	optional("channel_target_id", channelTargetID)

	query += " ORDER BY priority DESC, created_at ASC"

	rules, err := r.queryRules(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load test rules: %w", err)
	}
	return rules, nil
}

func (r *PGAutoreplyRuleRepository) List(ctx context.Context, orgID, channel string) ([]db.AutoreplyRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM autoreply_rules WHERE organization_id = $1`
	args := []interface{}{orgID}
	if channel != "" {
		query += " AND channel = $2"
		args = append(args, channel)
	}
	query += " ORDER BY priority DESC, created_at ASC"

	rules, err := r.queryRules(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	return rules, nil
}

func (r *PGAutoreplyRuleRepository) Get(ctx context.Context, id, orgID string) (*db.AutoreplyRule, error) {
	rule, err := scanRule(r.PG.QueryRowContext(ctx, `
		SELECT `+ruleColumns+`
		FROM autoreply_rules
		WHERE id = $1 AND organization_id = $2
	`, id, orgID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRuleNotFound
		}
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return &rule, nil
}

func (r *PGAutoreplyRuleRepository) Create(ctx context.Context, rule *db.AutoreplyRule) error {
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	_, err := r.PG.ExecContext(ctx, `
		INSERT INTO autoreply_rules (id, organization_id, channel, name, channel_target_id, integration_id,
			keyword_pattern, match_type, reply_text, delay_sec, cooldown_sec, priority, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, rule.ID, rule.OrganizationID, rule.Channel, nullIfEmpty(rule.Name), nullIfEmpty(rule.ChannelTargetID),
		nullIfEmpty(rule.IntegrationID), rule.KeywordPattern, rule.MatchType, rule.ReplyText, rule.DelaySec,
		rule.CooldownSec, rule.Priority, rule.IsActive, rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create rule: %w", err)
	}
	return nil
}

func (r *PGAutoreplyRuleRepository) Update(ctx context.Context, id, orgID string, req db.UpdateAutoreplyRuleRequest) (*db.AutoreplyRule, error) {
	setParts := []string{}
	args := []interface{}{}
	argIndex := 1

	set := func(column string, value interface{}) {
		setParts = append(setParts, fmt.Sprintf("%s = $%d", column, argIndex))
		args = append(args, value)
		argIndex++
	}

	if req.Channel != nil {
		set("channel", *req.Channel)
	}
	if req.Name != nil {
		set("name", nullIfEmpty(*req.Name))
	}
	if req.ChannelTargetID != nil {
		set("channel_target_id", nullIfEmpty(*req.ChannelTargetID))
	}
	if req.IntegrationID != nil {
		set("integration_id", nullIfEmpty(*req.IntegrationID))
	}
	if req.KeywordPattern != nil {
		set("keyword_pattern", *req.KeywordPattern)
	}
	if req.MatchType != nil {
		set("match_type", *req.MatchType)
	}
	if req.ReplyText != nil {
		set("reply_text", *req.ReplyText)
	}
	if req.Priority != nil {
		set("priority", *req.Priority)
	}
	if req.DelaySec != nil {
		set("delay_sec", *req.DelaySec)
	}
	if req.CooldownSec != nil {
		set("cooldown_sec", *req.CooldownSec)
	}
	if req.IsActive != nil {
		set("is_active", *req.IsActive)
	}

	// The tenant is always re-asserted so a payload can never move a rule across organizations
	set("organization_id", orgID)
	setParts = append(setParts, "updated_at = NOW()")

	args = append(args, id, orgID)
	query := fmt.Sprintf(`
		UPDATE autoreply_rules SET %s
		WHERE id = $%d AND organization_id = $%d
		RETURNING %s
	`, strings.Join(setParts, ", "), argIndex, argIndex+1, ruleColumns)

	rule, err := scanRule(r.PG.QueryRowContext(ctx, query, args...))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRuleNotFound
		}
		return nil, fmt.Errorf("failed to update rule: %w", err)
	}
	return &rule, nil
}

func (r *PGAutoreplyRuleRepository) Delete(ctx context.Context, id, orgID string) (bool, error) {
	result, err := r.PG.ExecContext(ctx, `DELETE FROM autoreply_rules WHERE id = $1 AND organization_id = $2`, id, orgID)
	if err != nil {
		return false, fmt.Errorf("failed to delete rule: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check delete result: %w", err)
	}
	return affected > 0, nil
}

// ============================================================================
// PGAutoreplyLogRepository
// ============================================================================

const logColumns = `id, rule_id, organization_id, channel, COALESCE(integration_id, ''), COALESCE(channel_target_id, ''),
	COALESCE(message_id, ''), COALESCE(author_id, ''), matched_text, match_type, reply_text, cooldown_applied,
	meta, COALESCE(error, ''), triggered_at`

type PGAutoreplyLogRepository struct {
	PG *sql.DB
}

func NewPGAutoreplyLogRepository(pg *sql.DB) *PGAutoreplyLogRepository {
	return &PGAutoreplyLogRepository{PG: pg}
}

var _ AutoreplyLogRepository = (*PGAutoreplyLogRepository)(nil)

func scanLog(row rowScanner) (*db.AutoreplyLog, error) {
	var l db.AutoreplyLog
	var meta []byte
	err := row.Scan(
		&l.ID, &l.RuleID, &l.OrganizationID, &l.Channel, &l.IntegrationID, &l.ChannelTargetID,
		&l.MessageID, &l.AuthorID, &l.MatchedText, &l.MatchType, &l.ReplyText, &l.CooldownApplied,
		&meta, &l.Error, &l.TriggeredAt,
	)
	if err != nil {
		return nil, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &l.Meta); err != nil {
			return nil, fmt.Errorf("failed to decode log meta: %w", err)
		}
	}
	return &l, nil
}

func (r *PGAutoreplyLogRepository) Create(ctx context.Context, entry *db.AutoreplyLog) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.TriggeredAt.IsZero() {
		entry.TriggeredAt = time.Now()
	}

	meta, err := json.Marshal(entry.Meta)
	if err != nil {
		return fmt.Errorf("failed to encode log meta: %w", err)
	}

	_, err = r.PG.ExecContext(ctx, `
		INSERT INTO autoreply_logs (id, rule_id, organization_id, channel, integration_id, channel_target_id,
			message_id, author_id, matched_text, match_type, reply_text, cooldown_applied, meta, triggered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, entry.ID, entry.RuleID, entry.OrganizationID, entry.Channel, nullIfEmpty(entry.IntegrationID),
		nullIfEmpty(entry.ChannelTargetID), nullIfEmpty(entry.MessageID), nullIfEmpty(entry.AuthorID),
		entry.MatchedText, entry.MatchType, entry.ReplyText, entry.CooldownApplied, meta, entry.TriggeredAt)
	if err != nil {
		return fmt.Errorf("failed to create autoreply log: %w", err)
	}
	return nil
}

func (r *PGAutoreplyLogRepository) FindLatestByRuleAndAuthorSince(ctx context.Context, ruleID, authorID string, since time.Time) (*db.AutoreplyLog, error) {
	entry, err := scanLog(r.PG.QueryRowContext(ctx, `
		SELECT `+logColumns+`
		FROM autoreply_logs
		WHERE rule_id = $1 AND author_id = $2 AND triggered_at >= $3
		ORDER BY triggered_at DESC
		LIMIT 1
	`, ruleID, authorID, since))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query cooldown log: %w", err)
	}
	return entry, nil
}

func (r *PGAutoreplyLogRepository) FindOneByRuleAndMessage(ctx context.Context, ruleID, messageID, channelTargetID string) (*db.AutoreplyLog, error) {
	// dry-run rows never mark a live message as handled
	query := `SELECT ` + logColumns + ` FROM autoreply_logs
		WHERE rule_id = $1 AND message_id = $2 AND (meta->>'source') IS DISTINCT FROM 'test'`
	args := []interface{}{ruleID, messageID}
	if channelTargetID != "" {
		query += " AND channel_target_id = $3"
		args = append(args, channelTargetID)
	}
	query += " LIMIT 1"

	entry, err := scanLog(r.PG.QueryRowContext(ctx, query, args...))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query dedup log: %w", err)
	}
	return entry, nil
}

func (r *PGAutoreplyLogRepository) UpdateError(ctx context.Context, id, message string) error {
	_, err := r.PG.ExecContext(ctx, `UPDATE autoreply_logs SET error = $2 WHERE id = $1`, id, message)
	if err != nil {
		return fmt.Errorf("failed to annotate autoreply log: %w", err)
	}
	return nil
}

// ============================================================================
// PGIntegrationRepository
// ============================================================================

const integrationColumns = `id, organization_id, name, provider_identifier, COALESCE(internal_id, ''),
	COALESCE(picture, ''), COALESCE(profile, ''), COALESCE(token, ''), COALESCE(refresh_token, ''),
	token_expiration, COALESCE(custom_instance_details, ''), disabled, in_between_steps, refresh_needed,
	created_at, updated_at`

// PGIntegrationRepository opens sealed custom settings with Box on read
type PGIntegrationRepository struct {
	PG  *sql.DB
	Box *secrets.Box
}

func NewPGIntegrationRepository(pg *sql.DB, box *secrets.Box) *PGIntegrationRepository {
	return &PGIntegrationRepository{PG: pg, Box: box}
}

var _ IntegrationRepository = (*PGIntegrationRepository)(nil)

func (r *PGIntegrationRepository) scan(row rowScanner) (*db.Integration, error) {
	var i db.Integration
	var expiration sql.NullTime
	var settings string
	err := row.Scan(
		&i.ID, &i.OrganizationID, &i.Name, &i.ProviderIdentifier, &i.InternalID,
		&i.Picture, &i.Profile, &i.Token, &i.RefreshToken,
		&expiration, &settings, &i.Disabled, &i.InBetweenSteps, &i.RefreshNeeded,
		&i.CreatedAt, &i.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if expiration.Valid {
		t := expiration.Time
		i.TokenExpiration = &t
	}
	i.CustomSettings, err = r.Box.OpenSettings(settings)
	if err != nil {
		return nil, fmt.Errorf("failed to open settings of integration %s: %w", i.ID, err)
	}
	return &i, nil
}

func (r *PGIntegrationRepository) getOne(ctx context.Context, query string, args ...interface{}) (*db.Integration, error) {
	integration, err := r.scan(r.PG.QueryRowContext(ctx, query, args...))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get integration: %w", err)
	}
	return integration, nil
}

// FindByProviderAndID accepts either the integration id or the provider-side internal id
func (r *PGIntegrationRepository) FindByProviderAndID(ctx context.Context, provider, id string) (*db.Integration, error) {
	return r.getOne(ctx, `
		SELECT `+integrationColumns+`
		FROM integrations
		WHERE provider_identifier = $1 AND (id = $2 OR internal_id = $2) AND deleted_at IS NULL
		LIMIT 1
	`, provider, id)
}

func (r *PGIntegrationRepository) GetByOrgAndID(ctx context.Context, orgID, id string) (*db.Integration, error) {
	return r.getOne(ctx, `
		SELECT `+integrationColumns+`
		FROM integrations
		WHERE id = $1 AND organization_id = $2 AND deleted_at IS NULL
	`, id, orgID)
}

func (r *PGIntegrationRepository) list(ctx context.Context, query string, args ...interface{}) ([]db.Integration, error) {
	rows, err := r.PG.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list integrations: %w", err)
	}
	defer rows.Close()

	integrations := []db.Integration{}
	for rows.Next() {
		integration, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		integrations = append(integrations, *integration)
	}
	return integrations, rows.Err()
}

// ListByProvider spans every organization and is meant for the poller
func (r *PGIntegrationRepository) ListByProvider(ctx context.Context, provider string) ([]db.Integration, error) {
	return r.list(ctx, `
		SELECT `+integrationColumns+`
		FROM integrations
		WHERE provider_identifier = $1 AND deleted_at IS NULL
		ORDER BY created_at ASC
	`, provider)
}

func (r *PGIntegrationRepository) ListByOrgAndProvider(ctx context.Context, orgID, provider string) ([]db.Integration, error) {
	return r.list(ctx, `
		SELECT `+integrationColumns+`
		FROM integrations
		WHERE organization_id = $1 AND provider_identifier = $2 AND deleted_at IS NULL
		ORDER BY created_at ASC
	`, orgID, provider)
}

func (r *PGIntegrationRepository) UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, expiresAt *time.Time) error {
	_, err := r.PG.ExecContext(ctx, `
		UPDATE integrations
		SET token = $2, refresh_token = COALESCE($3, refresh_token), token_expiration = $4,
			refresh_needed = false, updated_at = NOW()
		WHERE id = $1
	`, id, accessToken, nullIfEmpty(refreshToken), expiresAt)
	if err != nil {
		return fmt.Errorf("failed to update integration tokens: %w", err)
	}
	return nil
}

func (r *PGIntegrationRepository) MarkRefreshNeeded(ctx context.Context, id string) error {
	_, err := r.PG.ExecContext(ctx, `UPDATE integrations SET refresh_needed = true, updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to flag integration for refresh: %w", err)
	}
	return nil
}

// ============================================================================
// PGPostRepository
// ============================================================================

type PGPostRepository struct {
	PG *sql.DB
}

func NewPGPostRepository(pg *sql.DB) *PGPostRepository {
	return &PGPostRepository{PG: pg}
}

var _ PostRepository = (*PGPostRepository)(nil)

func (r *PGPostRepository) ListPublishedByIntegration(ctx context.Context, orgID, integrationID string, limit int) ([]db.Post, error) {
	rows, err := r.PG.QueryContext(ctx, `
		SELECT id, organization_id, integration_id, COALESCE(content, ''), publish_date,
		       release_id, COALESCE(release_url, ''), COALESCE(image, '')
		FROM posts
		WHERE organization_id = $1 AND integration_id = $2
		  AND state = 'PUBLISHED' AND deleted_at IS NULL AND release_id IS NOT NULL
		ORDER BY publish_date DESC
		LIMIT $3
	`, orgID, integrationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list published posts: %w", err)
	}
	defer rows.Close()

	posts := []db.Post{}
	for rows.Next() {
		var p db.Post
		if err := rows.Scan(&p.ID, &p.OrganizationID, &p.IntegrationID, &p.Content, &p.PublishDate,
			&p.ReleaseID, &p.ReleaseURL, &p.Image); err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

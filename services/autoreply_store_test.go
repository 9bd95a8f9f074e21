package services

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hardian-n/otomatisin/db"
	"github.com/hardian-n/otomatisin/internal/secrets"
)

var ruleColumnNames = []string{
	"id", "organization_id", "channel", "name", "channel_target_id", "integration_id",
	"keyword_pattern", "match_type", "reply_text", "delay_sec", "cooldown_sec",
	"priority", "is_active", "created_at", "updated_at",
}

func ruleRow(rows *sqlmock.Rows, id, target string, priority int) *sqlmock.Rows {
	now := time.Now()
	return rows.AddRow(id, "org-1", "telegram", "", target, "", "halo", "CONTAINS", "Hi!", 0, 0, priority, true, now, now)
}

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	pg, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	t.Cleanup(func() { pg.Close() })
	return pg, mock
}

func TestPGAutoreplyRuleRepository_FindActiveByOrgAndChannel(t *testing.T) {
	pg, mock := newMockDB(t)
	repo := NewPGAutoreplyRuleRepository(pg)

	rows := sqlmock.NewRows(ruleColumnNames)
	ruleRow(rows, "r1", "", 200)
	ruleRow(rows, "r2", "chat-1", 10)

	mock.ExpectQuery("SELECT (.+) FROM autoreply_rules WHERE organization_id = \\$1 AND channel = \\$2 AND is_active = true ORDER BY priority DESC, created_at ASC").
		WithArgs("org-1", "telegram").
		WillReturnRows(rows)

	rules, err := repo.FindActiveByOrgAndChannel(context.Background(), "org-1", "telegram")
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "r1", rules[0].ID)
	assert.Equal(t, "chat-1", rules[1].ChannelTargetID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGAutoreplyRuleRepository_FindForTest(t *testing.T) {
	tests := []struct {
		name          string
		integrationID string
		targetID      string
		queryPattern  string
		args          []driver.Value
	}{
		{
			name:         "no optional dimensions",
			queryPattern: "integration_id IS NULL AND channel_target_id IS NULL",
			args:         []driver.Value{"org-1", "telegram"},
		},
		{
			name:          "both dimensions",
			integrationID: "int-1",
			targetID:      "chat-1",
			queryPattern:  "\\(integration_id = \\$3 OR integration_id IS NULL\\) AND \\(channel_target_id = \\$4 OR channel_target_id IS NULL\\)",
			args:          []driver.Value{"org-1", "telegram", "int-1", "chat-1"},
		},
		{
			name:         "target only",
			targetID:     "chat-1",
			queryPattern: "integration_id IS NULL AND \\(channel_target_id = \\$3 OR channel_target_id IS NULL\\)",
			args:         []driver.Value{"org-1", "telegram", "chat-1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pg, mock := newMockDB(t)
			repo := NewPGAutoreplyRuleRepository(pg)

			mock.ExpectQuery(tt.queryPattern).WithArgs(tt.args...).
				WillReturnRows(ruleRow(sqlmock.NewRows(ruleColumnNames), "r1", "", 1))

			rules, err := repo.FindForTest(context.Background(), "org-1", "telegram", tt.integrationID, tt.targetID)
			require.NoError(t, err)
			assert.Len(t, rules, 1)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPGAutoreplyRuleRepository_List(t *testing.T) {
	pg, mock := newMockDB(t)
	repo := NewPGAutoreplyRuleRepository(pg)

	mock.ExpectQuery("FROM autoreply_rules WHERE organization_id = \\$1 AND channel = \\$2").
		WithArgs("org-1", "threads").
		WillReturnRows(sqlmock.NewRows(ruleColumnNames))
	mock.ExpectQuery("FROM autoreply_rules WHERE organization_id = \\$1 ORDER BY").
		WithArgs("org-1").
		WillReturnRows(ruleRow(sqlmock.NewRows(ruleColumnNames), "r1", "", 1))

	rules, err := repo.List(context.Background(), "org-1", "threads")
	require.NoError(t, err)
	assert.NotNil(t, rules)
	assert.Empty(t, rules)

	rules, err = repo.List(context.Background(), "org-1", "")
	require.NoError(t, err)
	assert.Len(t, rules, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGAutoreplyRuleRepository_Create(t *testing.T) {
	pg, mock := newMockDB(t)
	repo := NewPGAutoreplyRuleRepository(pg)

	rule := &db.AutoreplyRule{
		OrganizationID: "org-1",
		Channel:        "telegram",
		KeywordPattern: "halo",
		MatchType:      db.MatchContains,
		ReplyText:      "Hi!",
		Priority:       100,
		IsActive:       true,
	}

	mock.ExpectExec("INSERT INTO autoreply_rules").
		WithArgs(sqlmock.AnyArg(), "org-1", "telegram", nil, nil, nil, "halo", "CONTAINS", "Hi!", 0, 0, 100, true, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.Create(context.Background(), rule))
	assert.NotEmpty(t, rule.ID)
	assert.False(t, rule.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGAutoreplyRuleRepository_Update(t *testing.T) {
	reply := "Hello!"
	active := false

	t.Run("updates present fields and re-asserts tenant", func(t *testing.T) {
		pg, mock := newMockDB(t)
		repo := NewPGAutoreplyRuleRepository(pg)

		mock.ExpectQuery("UPDATE autoreply_rules SET reply_text = \\$1, is_active = \\$2, organization_id = \\$3, updated_at = NOW\\(\\) WHERE id = \\$4 AND organization_id = \\$5 RETURNING").
			WithArgs("Hello!", false, "org-1", "r1", "org-1").
			WillReturnRows(ruleRow(sqlmock.NewRows(ruleColumnNames), "r1", "", 100))

		rule, err := repo.Update(context.Background(), "r1", "org-1", db.UpdateAutoreplyRuleRequest{ReplyText: &reply, IsActive: &active})
		require.NoError(t, err)
		assert.Equal(t, "r1", rule.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("other tenant is not found", func(t *testing.T) {
		pg, mock := newMockDB(t)
		repo := NewPGAutoreplyRuleRepository(pg)

		mock.ExpectQuery("UPDATE autoreply_rules").
			WithArgs("Hello!", "org-2", "r1", "org-2").
			WillReturnError(sql.ErrNoRows)

		_, err := repo.Update(context.Background(), "r1", "org-2", db.UpdateAutoreplyRuleRequest{ReplyText: &reply})
		assert.ErrorIs(t, err, ErrRuleNotFound)
	})
}

func TestPGAutoreplyRuleRepository_Delete(t *testing.T) {
	pg, mock := newMockDB(t)
	repo := NewPGAutoreplyRuleRepository(pg)

	mock.ExpectExec("DELETE FROM autoreply_rules").WithArgs("r1", "org-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM autoreply_rules").WithArgs("r1", "org-2").WillReturnResult(sqlmock.NewResult(0, 0))

	deleted, err := repo.Delete(context.Background(), "r1", "org-1")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = repo.Delete(context.Background(), "r1", "org-2")
	require.NoError(t, err)
	assert.False(t, deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

var logColumnNames = []string{
	"id", "rule_id", "organization_id", "channel", "integration_id", "channel_target_id",
	"message_id", "author_id", "matched_text", "match_type", "reply_text", "cooldown_applied",
	"meta", "error", "triggered_at",
}

func TestPGAutoreplyLogRepository_Create(t *testing.T) {
	pg, mock := newMockDB(t)
	repo := NewPGAutoreplyLogRepository(pg)

	entry := &db.AutoreplyLog{
		RuleID:         "r1",
		OrganizationID: "org-1",
		Channel:        "telegram",
		MessageID:      "m1",
		MatchedText:    "halo kak",
		MatchType:      db.MatchContains,
		ReplyText:      "Hi!",
		Meta:           map[string]interface{}{"multiReply": false, "delaySec": 0},
	}

	mock.ExpectExec("INSERT INTO autoreply_logs").
		WithArgs(sqlmock.AnyArg(), "r1", "org-1", "telegram", nil, nil, "m1", nil, "halo kak", "CONTAINS", "Hi!", false,
			[]byte(`{"delaySec":0,"multiReply":false}`), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.Create(context.Background(), entry))
	assert.NotEmpty(t, entry.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGAutoreplyLogRepository_FindLatestByRuleAndAuthorSince(t *testing.T) {
	pg, mock := newMockDB(t)
	repo := NewPGAutoreplyLogRepository(pg)
	since := time.Now().Add(-time.Minute)

	mock.ExpectQuery("FROM autoreply_logs WHERE rule_id = \\$1 AND author_id = \\$2 AND triggered_at >= \\$3").
		WithArgs("r1", "u1", since).
		WillReturnRows(sqlmock.NewRows(logColumnNames).AddRow(
			"log-1", "r1", "org-1", "telegram", "", "", "m1", "u1", "halo", "CONTAINS", "Hi!", false,
			[]byte(`{"delaySec":0}`), "", time.Now()))
	mock.ExpectQuery("FROM autoreply_logs").
		WithArgs("r1", "u2", since).
		WillReturnError(sql.ErrNoRows)

	entry, err := repo.FindLatestByRuleAndAuthorSince(context.Background(), "r1", "u1", since)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "log-1", entry.ID)
	assert.Equal(t, float64(0), entry.Meta["delaySec"])

	entry, err = repo.FindLatestByRuleAndAuthorSince(context.Background(), "r1", "u2", since)
	require.NoError(t, err)
	assert.Nil(t, entry)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGAutoreplyLogRepository_FindOneByRuleAndMessage(t *testing.T) {
	pg, mock := newMockDB(t)
	repo := NewPGAutoreplyLogRepository(pg)

	mock.ExpectQuery("WHERE rule_id = \\$1 AND message_id = \\$2 AND \\(meta->>'source'\\) IS DISTINCT FROM 'test' AND channel_target_id = \\$3 LIMIT 1").
		WithArgs("r1", "m1", "chat-1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("WHERE rule_id = \\$1 AND message_id = \\$2 AND \\(meta->>'source'\\) IS DISTINCT FROM 'test' LIMIT 1").
		WithArgs("r1", "m1").
		WillReturnRows(sqlmock.NewRows(logColumnNames).AddRow(
			"log-1", "r1", "org-1", "telegram", "", "", "m1", "", "halo", "CONTAINS", "Hi!", false,
			nil, "", time.Now()))

	entry, err := repo.FindOneByRuleAndMessage(context.Background(), "r1", "m1", "chat-1")
	require.NoError(t, err)
	assert.Nil(t, entry)

	entry, err = repo.FindOneByRuleAndMessage(context.Background(), "r1", "m1", "")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Nil(t, entry.Meta)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGAutoreplyLogRepository_UpdateError(t *testing.T) {
	pg, mock := newMockDB(t)
	repo := NewPGAutoreplyLogRepository(pg)

	mock.ExpectExec("UPDATE autoreply_logs SET error = \\$2 WHERE id = \\$1").
		WithArgs("log-1", "telegram: chat not found").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdateError(context.Background(), "log-1", "telegram: chat not found"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

var integrationColumnNames = []string{
	"id", "organization_id", "name", "provider_identifier", "internal_id",
	"picture", "profile", "token", "refresh_token",
	"token_expiration", "custom_instance_details", "disabled", "in_between_steps", "refresh_needed",
	"created_at", "updated_at",
}

func TestPGIntegrationRepository_FindByProviderAndID(t *testing.T) {
	pg, mock := newMockDB(t)
	box := secrets.NewBox("k")
	repo := NewPGIntegrationRepository(pg, box)

	sealed, err := box.SealSettings(map[string]string{"bot_token": "111:stored"})
	require.NoError(t, err)
	expires := time.Now().Add(time.Hour)

	mock.ExpectQuery("FROM integrations WHERE provider_identifier = \\$1 AND \\(id = \\$2 OR internal_id = \\$2\\)").
		WithArgs("telegram", "int-1").
		WillReturnRows(sqlmock.NewRows(integrationColumnNames).AddRow(
			"int-1", "org-1", "My bot", "telegram", "bot-1", "", "", "-1001", "",
			expires, sealed, false, false, false, time.Now(), time.Now()))
	mock.ExpectQuery("FROM integrations").
		WithArgs("telegram", "missing").
		WillReturnError(sql.ErrNoRows)

	integration, err := repo.FindByProviderAndID(context.Background(), "telegram", "int-1")
	require.NoError(t, err)
	require.NotNil(t, integration)
	assert.Equal(t, "111:stored", integration.CustomSettings["bot_token"])
	assert.Equal(t, "-1001", integration.Token)
	require.NotNil(t, integration.TokenExpiration)

	integration, err = repo.FindByProviderAndID(context.Background(), "telegram", "missing")
	require.NoError(t, err)
	assert.Nil(t, integration)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGIntegrationRepository_List(t *testing.T) {
	pg, mock := newMockDB(t)
	repo := NewPGIntegrationRepository(pg, secrets.NewBox(""))
	now := time.Now()

	mock.ExpectQuery("FROM integrations WHERE provider_identifier = \\$1 AND deleted_at IS NULL ORDER BY created_at ASC").
		WithArgs("threads").
		WillReturnRows(sqlmock.NewRows(integrationColumnNames).
			AddRow("int-1", "org-1", "A", "threads", "acct-1", "", "", "tok", "", nil, "", false, false, false, now, now).
			AddRow("int-2", "org-2", "B", "threads", "acct-2", "", "", "tok", "", nil, `{"k":"v"}`, true, false, false, now, now))
	mock.ExpectQuery("WHERE organization_id = \\$1 AND provider_identifier = \\$2").
		WithArgs("org-1", "threads").
		WillReturnRows(sqlmock.NewRows(integrationColumnNames))

	all, err := repo.ListByProvider(context.Background(), "threads")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Nil(t, all[0].TokenExpiration)
	assert.Equal(t, "v", all[1].CustomSettings["k"])
	assert.True(t, all[1].Disabled)

	scoped, err := repo.ListByOrgAndProvider(context.Background(), "org-1", "threads")
	require.NoError(t, err)
	assert.NotNil(t, scoped)
	assert.Empty(t, scoped)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGIntegrationRepository_TokenUpdates(t *testing.T) {
	pg, mock := newMockDB(t)
	repo := NewPGIntegrationRepository(pg, secrets.NewBox(""))
	expires := time.Now().Add(60 * 24 * time.Hour)

	mock.ExpectExec("UPDATE integrations SET token = \\$2").
		WithArgs("int-1", "new-token", nil, &expires).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE integrations SET refresh_needed = true").
		WithArgs("int-2").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.UpdateTokens(context.Background(), "int-1", "new-token", "", &expires))
	require.NoError(t, repo.MarkRefreshNeeded(context.Background(), "int-2"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPGPostRepository_ListPublishedByIntegration(t *testing.T) {
	pg, mock := newMockDB(t)
	repo := NewPGPostRepository(pg)

	mock.ExpectQuery("FROM posts").
		WithArgs("org-1", "int-1", 10).
		WillReturnRows(sqlmock.NewRows([]string{"id", "organization_id", "integration_id", "content", "publish_date", "release_id", "release_url", "image"}).
			AddRow("p1", "org-1", "int-1", "hello", time.Now(), "1790", "https://threads.net/p/1790", ""))

	posts, err := repo.ListPublishedByIntegration(context.Background(), "org-1", "int-1", 10)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, "1790", posts[0].ReleaseID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

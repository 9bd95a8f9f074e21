package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hardian-n/otomatisin/db"
)

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"only spaces", "   \t\n ", ""},
		{"trim", "  halo  ", "halo"},
		{"collapse", "ok   ikut\t\tya\n", "ok ikut ya"},
		{"untouched", "join now", "join now"},
		{"nbsp", "ok\u00a0 ikut", "ok ikut"},
		{"ideographic space", "\u3000ok\u3000\u3000ikut\u3000", "ok ikut"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeText(tt.in))
		})
	}
}

func TestMatchRuleText(t *testing.T) {
	tests := []struct {
		name      string
		pattern   string
		matchType string
		text      string
		want      bool
	}{
		{"exact ignores surrounding whitespace", "ok ikut", db.MatchExact, "  ok   ikut  ", true},
		{"exact rejects other words", "ok ikut", db.MatchExact, "ok  tidak", false},
		{"exact is case sensitive", "ok ikut", db.MatchExact, "OK ikut", false},
		{"exact normalizes pattern too", " ok  ikut ", db.MatchExact, "ok ikut", true},
		{"exact treats nbsp as space", "ok ikut", db.MatchExact, "ok\u00a0ikut", true},
		{"exact treats ideographic space as space", "ok ikut", db.MatchExact, "ok\u3000ikut", true},
		{"contains across nbsp", "join now", db.MatchContains, "ayo join\u00a0now", true},
		{"contains ignores case", "Join Now", db.MatchContains, "ayo join now ya", true},
		{"contains misses", "Join Now", db.MatchContains, "ayo daftar", false},
		{"contains across collapsed whitespace", "join now", db.MatchContains, "ayo JOIN    now", true},
		{"regex ignores case", `^halo\b`, db.MatchRegex, "HALO kak", true},
		{"regex runs on normalized text", `halo kak`, db.MatchRegex, "halo    kak", true},
		{"regex no match", `^\d+$`, db.MatchRegex, "abc", false},
		{"invalid regex never matches", "[invalid", db.MatchRegex, "[invalid", false},
		{"unknown match type", "halo", "FUZZY", "halo", false},
		{"empty match type", "halo", "", "halo", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := db.AutoreplyRule{KeywordPattern: tt.pattern, MatchType: tt.matchType}
			assert.Equal(t, tt.want, MatchRuleText(rule, tt.text))
		})
	}
}

func ruleIDs(rules []db.AutoreplyRule) []string {
	ids := make([]string, 0, len(rules))
	for _, r := range rules {
		ids = append(ids, r.ID)
	}
	return ids
}

func TestOrderByTargetAndPriority(t *testing.T) {
	rules := []db.AutoreplyRule{
		{ID: "global-200", Priority: 200},
		{ID: "chat1-10", ChannelTargetID: "chat-1", Priority: 10},
		{ID: "chat2-500", ChannelTargetID: "chat-2", Priority: 500},
		{ID: "global-50", Priority: 50},
		{ID: "chat1-90", ChannelTargetID: "chat-1", Priority: 90},
	}

	t.Run("targeted rules rank above higher priority globals", func(t *testing.T) {
		got := OrderByTargetAndPriority(rules, "chat-1")
		assert.Equal(t, []string{"chat1-90", "chat1-10", "global-200", "global-50"}, ruleIDs(got))
	})

	t.Run("other targets are excluded", func(t *testing.T) {
		got := OrderByTargetAndPriority(rules, "chat-3")
		assert.Equal(t, []string{"global-200", "global-50"}, ruleIDs(got))
	})

	t.Run("no target yields globals only", func(t *testing.T) {
		got := OrderByTargetAndPriority(rules, "")
		assert.Equal(t, []string{"global-200", "global-50"}, ruleIDs(got))
	})

	t.Run("global only rule set falls back", func(t *testing.T) {
		got := OrderByTargetAndPriority([]db.AutoreplyRule{{ID: "g"}}, "anything")
		assert.Equal(t, []string{"g"}, ruleIDs(got))
	})

	t.Run("ties keep input order", func(t *testing.T) {
		tied := []db.AutoreplyRule{{ID: "a", Priority: 5}, {ID: "b", Priority: 5}, {ID: "c", Priority: 7}}
		got := OrderByTargetAndPriority(tied, "")
		assert.Equal(t, []string{"c", "a", "b"}, ruleIDs(got))
	})

	t.Run("input slice is not reordered", func(t *testing.T) {
		_ = OrderByTargetAndPriority(rules, "chat-1")
		assert.Equal(t, "global-200", rules[0].ID)
	})
}

func TestFilterMatches(t *testing.T) {
	rules := []db.AutoreplyRule{
		{ID: "global-price", KeywordPattern: "harga", MatchType: db.MatchContains, Priority: 300},
		{ID: "chat1-price", ChannelTargetID: "chat-1", KeywordPattern: "harga", MatchType: db.MatchContains, Priority: 1},
		{ID: "global-halo", KeywordPattern: "halo", MatchType: db.MatchContains, Priority: 100},
	}

	t.Run("targeted matches exclude globals", func(t *testing.T) {
		got := filterMatches(rules, "halo, berapa harga?", "chat-1")
		assert.Equal(t, []string{"chat1-price"}, ruleIDs(got))
	})

	t.Run("falls back to globals when no targeted rule matches", func(t *testing.T) {
		got := filterMatches(rules, "halo kak", "chat-1")
		assert.Equal(t, []string{"global-halo"}, ruleIDs(got))
	})

	t.Run("globals ordered by priority", func(t *testing.T) {
		got := filterMatches(rules, "halo harga", "chat-9")
		assert.Equal(t, []string{"global-price", "global-halo"}, ruleIDs(got))
	})

	t.Run("nothing matches", func(t *testing.T) {
		assert.Empty(t, filterMatches(rules, "terima kasih", "chat-1"))
	})
}

package services

import (
	"context"
	"time"

	"github.com/hardian-n/otomatisin/db"
)

// passesCooldown reports whether rule may fire for authorID now. Cooldown is tracked per
// (rule, author) only and is skipped when the author is unknown.
func (s *AutoreplyService) passesCooldown(ctx context.Context, rule db.AutoreplyRule, authorID string) (bool, error) {
	if rule.CooldownSec <= 0 || authorID == "" {
		return true, nil
	}

	since := s.now().Add(-time.Duration(rule.CooldownSec) * time.Second)
	recent, err := s.Logs.FindLatestByRuleAndAuthorSince(ctx, rule.ID, authorID, since)
	if err != nil {
		return false, err
	}
	return recent == nil, nil
}

// alreadyHandledMessage reports whether ruleID already fired for messageID. Without a message
// id there is nothing to dedup on.
func (s *AutoreplyService) alreadyHandledMessage(ctx context.Context, ruleID, messageID, channelTargetID string) (bool, error) {
	if messageID == "" {
		return false, nil
	}

	existing, err := s.Logs.FindOneByRuleAndMessage(ctx, ruleID, messageID, channelTargetID)
	if err != nil {
		return false, err
	}
	return existing != nil, nil
}

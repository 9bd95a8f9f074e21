package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hardian-n/otomatisin/db"
	"github.com/hardian-n/otomatisin/internal/dispatch"
	"github.com/hardian-n/otomatisin/internal/logger"
)

const defaultSendTimeout = 30 * time.Second

// AdapterResolver picks the reply adapter for a channel
type AdapterResolver interface {
	Resolve(channel string) (dispatch.ReplyAdapter, error)
}

// DelayScheduler runs fn after delay without blocking the caller
type DelayScheduler interface {
	Schedule(delay time.Duration, fn func())
}

// TimerScheduler keeps delayed sends in memory. Pending sends are lost on restart.
type TimerScheduler struct {
	mu      sync.Mutex
	pending map[*time.Timer]struct{}
	stopped bool
	wg      sync.WaitGroup
}

func NewTimerScheduler() *TimerScheduler {
	return &TimerScheduler{pending: make(map[*time.Timer]struct{})}
}

func (s *TimerScheduler) Schedule(delay time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		logger.Warnf("Delayed autoreply dropped: scheduler stopped")
		return
	}

	var timer *time.Timer
	s.wg.Add(1)
	timer = time.AfterFunc(delay, func() {
		defer s.wg.Done()
		s.mu.Lock()
		delete(s.pending, timer)
		s.mu.Unlock()
		fn()
	})
	s.pending[timer] = struct{}{}
}

// Pending returns the number of sends waiting on their delay
func (s *TimerScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Stop cancels every pending send, waits for running ones and returns how many were dropped
func (s *TimerScheduler) Stop() int {
	s.mu.Lock()
	s.stopped = true
	dropped := 0
	for timer := range s.pending {
		if timer.Stop() {
			dropped++
			s.wg.Done()
		}
		delete(s.pending, timer)
	}
	s.mu.Unlock()

	s.wg.Wait()
	return dropped
}

// AutoreplyService matches inbound messages against tenant rules and dispatches replies
type AutoreplyService struct {
	Rules     AutoreplyRuleRepository
	Logs      AutoreplyLogRepository
	Adapters  AdapterResolver
	Scheduler DelayScheduler

	// SendTimeout bounds one adapter call, including the Threads container wait
	SendTimeout time.Duration
	Now         func() time.Time
}

func NewAutoreplyService(rules AutoreplyRuleRepository, logs AutoreplyLogRepository, adapters AdapterResolver, scheduler DelayScheduler) *AutoreplyService {
	if scheduler == nil {
		scheduler = NewTimerScheduler()
	}
	return &AutoreplyService{
		Rules:       rules,
		Logs:        logs,
		Adapters:    adapters,
		Scheduler:   scheduler,
		SendTimeout: defaultSendTimeout,
		Now:         time.Now,
	}
}

func (s *AutoreplyService) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

// RULE CRUD OPERATIONS

func (s *AutoreplyService) ListRules(ctx context.Context, orgID, channel string) ([]db.AutoreplyRule, error) {
	return s.Rules.List(ctx, orgID, channel)
}

func (s *AutoreplyService) GetRule(ctx context.Context, id, orgID string) (*db.AutoreplyRule, error) {
	return s.Rules.Get(ctx, id, orgID)
}

func (s *AutoreplyService) CreateRule(ctx context.Context, orgID string, req db.CreateAutoreplyRuleRequest) (*db.AutoreplyRule, error) {
	rule := &db.AutoreplyRule{
		OrganizationID:  orgID,
		Channel:         req.Channel,
		Name:            req.Name,
		ChannelTargetID: req.ChannelTargetID,
		IntegrationID:   req.IntegrationID,
		KeywordPattern:  req.KeywordPattern,
		MatchType:       req.MatchType,
		ReplyText:       req.ReplyText,
		Priority:        db.DefaultRulePriority,
		IsActive:        true,
	}
	if req.Priority != nil {
		rule.Priority = *req.Priority
	}
	if req.DelaySec != nil {
		rule.DelaySec = *req.DelaySec
	}
	if req.CooldownSec != nil {
		rule.CooldownSec = *req.CooldownSec
	}
	if req.IsActive != nil {
		rule.IsActive = *req.IsActive
	}

	if err := s.Rules.Create(ctx, rule); err != nil {
		return nil, err
	}
	return rule, nil
}

// UpdateRule returns ErrRuleNotFound when the rule does not exist in orgID
func (s *AutoreplyService) UpdateRule(ctx context.Context, id, orgID string, req db.UpdateAutoreplyRuleRequest) (*db.AutoreplyRule, error) {
	return s.Rules.Update(ctx, id, orgID, req)
}

// DeleteRule returns ErrRuleNotFound when the rule does not exist in orgID
func (s *AutoreplyService) DeleteRule(ctx context.Context, id, orgID string) error {
	deleted, err := s.Rules.Delete(ctx, id, orgID)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrRuleNotFound
	}
	return nil
}

// EVALUATION

// acceptRules applies dedup (when enabled) and cooldown in order, stopping after the first
// accepted rule unless multiReply is set
func (s *AutoreplyService) acceptRules(ctx context.Context, matched []db.AutoreplyRule, input db.EvaluateInput, dedup bool) ([]db.AutoreplyRule, error) {
	var accepted []db.AutoreplyRule
	for _, rule := range matched {
		if dedup {
			handled, err := s.alreadyHandledMessage(ctx, rule.ID, input.MessageID, input.ChannelTargetID)
			if err != nil {
				return nil, fmt.Errorf("dedup check for rule %s: %w", rule.ID, err)
			}
			if handled {
				logger.Debugf("Autoreply rule %s already handled message %s", rule.ID, input.MessageID)
				continue
			}
		}

		allowed, err := s.passesCooldown(ctx, rule, input.AuthorID)
		if err != nil {
			return nil, fmt.Errorf("cooldown check for rule %s: %w", rule.ID, err)
		}
		if !allowed {
			logger.Debugf("Autoreply rule %s cooling down for author %s", rule.ID, input.AuthorID)
			continue
		}

		accepted = append(accepted, rule)
		if !input.MultiReply {
			break
		}
	}
	return accepted, nil
}

func noMatch() db.EvaluateResult {
	return db.EvaluateResult{Matched: false, Replies: []db.ReplyResult{}}
}

func resolveIntegrationID(input db.EvaluateInput, rule db.AutoreplyRule) string {
	if input.IntegrationID != "" {
		return input.IntegrationID
	}
	return rule.IntegrationID
}

// Evaluate runs an inbound message through the live rules of its channel. Every accepted
// rule gets a log entry before its reply is sent. Send failures are recorded on that entry
// and never returned; errors are only returned when they happen before the first log write.
func (s *AutoreplyService) Evaluate(ctx context.Context, input db.EvaluateInput) (db.EvaluateResult, error) {
	rules, err := s.Rules.FindActiveByOrgAndChannel(ctx, input.OrgID, input.Channel)
	if err != nil {
		return db.EvaluateResult{}, err
	}

	matched := filterMatches(rules, input.Text, input.ChannelTargetID)
	if len(matched) == 0 {
		return noMatch(), nil
	}

	accepted, err := s.acceptRules(ctx, matched, input, true)
	if err != nil {
		return db.EvaluateResult{}, err
	}
	if len(accepted) == 0 {
		return noMatch(), nil
	}

	adapter, err := s.Adapters.Resolve(input.Channel)
	if err != nil {
		return db.EvaluateResult{}, err
	}

	replies := make([]db.ReplyResult, 0, len(accepted))
	logged := 0
	for _, rule := range accepted {
		integrationID := resolveIntegrationID(input, rule)
		entry := &db.AutoreplyLog{
			RuleID:          rule.ID,
			OrganizationID:  input.OrgID,
			Channel:         input.Channel,
			IntegrationID:   integrationID,
			ChannelTargetID: input.ChannelTargetID,
			MessageID:       input.MessageID,
			AuthorID:        input.AuthorID,
			MatchedText:     input.Text,
			MatchType:       rule.MatchType,
			ReplyText:       rule.ReplyText,
			CooldownApplied: false,
			Meta: map[string]interface{}{
				"multiReply": input.MultiReply,
				"delaySec":   rule.DelaySec,
			},
			TriggeredAt: s.now(),
		}
		if err := s.Logs.Create(ctx, entry); err != nil {
			if logged == 0 {
				return db.EvaluateResult{}, err
			}
			logger.Errorf("Autoreply log write failed for rule %s, reply skipped: %v", rule.ID, err)
			continue
		}
		logged++

		send := dispatch.SendReplyInput{
			Channel:          input.Channel,
			ChannelTargetID:  input.ChannelTargetID,
			ReplyText:        rule.ReplyText,
			ReplyToMessageID: input.MessageID,
			Metadata:         map[string]interface{}{"ruleId": rule.ID},
			IntegrationID:    integrationID,
		}

		if rule.DelaySec > 0 {
			// Detached from the request so the delay never holds the caller
			detached := context.WithoutCancel(ctx)
			logID := entry.ID
			s.Scheduler.Schedule(time.Duration(rule.DelaySec)*time.Second, func() {
				s.send(detached, adapter, logID, send)
			})
		} else {
			s.send(ctx, adapter, entry.ID, send)
		}

		replies = append(replies, db.ReplyResult{
			RuleID:         rule.ID,
			ReplyText:      rule.ReplyText,
			ScheduledInSec: rule.DelaySec,
		})
	}

	if len(replies) == 0 {
		return noMatch(), nil
	}
	return db.EvaluateResult{Matched: true, Replies: replies}, nil
}

// send delivers one reply and records a failure on the log entry
func (s *AutoreplyService) send(ctx context.Context, adapter dispatch.ReplyAdapter, logID string, in dispatch.SendReplyInput) {
	timeout := s.SendTimeout
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("adapter panic: %v", r)
			}
		}()
		return adapter.SendReply(sendCtx, in)
	}()
	if err == nil {
		return
	}

	logger.Warnf("Autoreply send failed for %s on %s: %v", logID, in.Channel, err)
	if updateErr := s.Logs.UpdateError(context.WithoutCancel(ctx), logID, err.Error()); updateErr != nil {
		logger.Errorf("Failed to record send error on %s: %v", logID, updateErr)
	}
}

// EvaluateTest is a dry run: rules are selected with an equals-or-null filter, cooldown
// still applies, nothing is deduplicated or sent and log entries carry source=test.
func (s *AutoreplyService) EvaluateTest(ctx context.Context, input db.EvaluateInput) (db.EvaluateResult, error) {
	candidates, err := s.Rules.FindForTest(ctx, input.OrgID, input.Channel, input.IntegrationID, input.ChannelTargetID)
	if err != nil {
		return db.EvaluateResult{}, err
	}

	var matched []db.AutoreplyRule
	for _, rule := range candidates {
		if MatchRuleText(rule, input.Text) {
			matched = append(matched, rule)
		}
	}

	accepted, err := s.acceptRules(ctx, matched, input, false)
	if err != nil {
		return db.EvaluateResult{}, err
	}
	if len(accepted) == 0 {
		return noMatch(), nil
	}

	replies := make([]db.ReplyResult, 0, len(accepted))
	for _, rule := range accepted {
		entry := &db.AutoreplyLog{
			RuleID:          rule.ID,
			OrganizationID:  input.OrgID,
			Channel:         input.Channel,
			IntegrationID:   resolveIntegrationID(input, rule),
			ChannelTargetID: input.ChannelTargetID,
			MessageID:       input.MessageID,
			AuthorID:        input.AuthorID,
			MatchedText:     input.Text,
			MatchType:       rule.MatchType,
			ReplyText:       rule.ReplyText,
			Meta: map[string]interface{}{
				"multiReply": input.MultiReply,
				"delaySec":   rule.DelaySec,
				"source":     "test",
			},
			TriggeredAt: s.now(),
		}
		if err := s.Logs.Create(ctx, entry); err != nil {
			return db.EvaluateResult{}, err
		}

		replies = append(replies, db.ReplyResult{
			RuleID:         rule.ID,
			ReplyText:      rule.ReplyText,
			ScheduledInSec: rule.DelaySec,
		})
	}

	return db.EvaluateResult{Matched: true, Replies: replies}, nil
}

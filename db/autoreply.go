package db

import "time"

// ===========================
// AUTOREPLY MODELS
// ===========================

// Match types supported by autoreply rules
const (
	MatchExact    = "EXACT"
	MatchContains = "CONTAINS"
	MatchRegex    = "REGEX"
)

// Rule defaults applied on create
const (
	DefaultRulePriority = 100
	MaxRuleDelaySec     = 3600
	MaxRuleCooldownSec  = 86400
)

// AutoreplyRule is a tenant-defined keyword-to-reply policy
type AutoreplyRule struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id"`
	Channel        string `json:"channel"` // telegram, threads, ...
	Name           string `json:"name,omitempty"`

	// Scope: empty ChannelTargetID means the rule is global for the channel
	ChannelTargetID string `json:"channel_target_id,omitempty"`
	IntegrationID   string `json:"integration_id,omitempty"`

	KeywordPattern string `json:"keyword_pattern"`
	MatchType      string `json:"match_type"`
	ReplyText      string `json:"reply_text"`
	DelaySec       int    `json:"delay_sec"`
	CooldownSec    int    `json:"cooldown_sec"`
	Priority       int    `json:"priority"` // higher wins
	IsActive       bool   `json:"is_active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AutoreplyLog is the audit row written once per rule firing, before dispatch
type AutoreplyLog struct {
	ID              string                 `json:"id"`
	RuleID          string                 `json:"rule_id"`
	OrganizationID  string                 `json:"organization_id"`
	Channel         string                 `json:"channel"`
	IntegrationID   string                 `json:"integration_id,omitempty"`
	ChannelTargetID string                 `json:"channel_target_id,omitempty"`
	MessageID       string                 `json:"message_id,omitempty"`
	AuthorID        string                 `json:"author_id,omitempty"`
	MatchedText     string                 `json:"matched_text"`
	MatchType       string                 `json:"match_type"`
	ReplyText       string                 `json:"reply_text"`
	CooldownApplied bool                   `json:"cooldown_applied"`
	Meta            map[string]interface{} `json:"meta,omitempty"`
	Error           string                 `json:"error,omitempty"`
	TriggeredAt     time.Time              `json:"triggered_at"`
}

// EvaluateInput describes one inbound message to run through the rules
type EvaluateInput struct {
	OrgID           string
	Channel         string
	ChannelTargetID string
	IntegrationID   string
	Text            string
	AuthorID        string
	MessageID       string
	MultiReply      bool
}

type ReplyResult struct {
	RuleID         string `json:"ruleId"`
	ReplyText      string `json:"replyText"`
	ScheduledInSec int    `json:"scheduledInSec"`
}

type EvaluateResult struct {
	Matched bool          `json:"matched"`
	Replies []ReplyResult `json:"replies"`
}

// Autoreply request/response models

type CreateAutoreplyRuleRequest struct {
	Channel         string `json:"channel" binding:"required"`
	Name            string `json:"name"`
	ChannelTargetID string `json:"channel_target_id"`
	IntegrationID   string `json:"integration_id"`
	KeywordPattern  string `json:"keyword_pattern" binding:"required"`
	MatchType       string `json:"match_type" binding:"required,oneof=EXACT CONTAINS REGEX"`
	ReplyText       string `json:"reply_text" binding:"required"`
	Priority        *int   `json:"priority"`
	DelaySec        *int   `json:"delay_sec" binding:"omitempty,min=0,max=3600"`
	CooldownSec     *int   `json:"cooldown_sec" binding:"omitempty,min=0,max=86400"`
	IsActive        *bool  `json:"is_active"`
}

// UpdateAutoreplyRuleRequest only touches the fields that are present
type UpdateAutoreplyRuleRequest struct {
	Channel         *string `json:"channel,omitempty"`
	Name            *string `json:"name,omitempty"`
	ChannelTargetID *string `json:"channel_target_id,omitempty"`
	IntegrationID   *string `json:"integration_id,omitempty"`
	KeywordPattern  *string `json:"keyword_pattern,omitempty"`
	MatchType       *string `json:"match_type,omitempty" binding:"omitempty,oneof=EXACT CONTAINS REGEX"`
	ReplyText       *string `json:"reply_text,omitempty"`
	Priority        *int    `json:"priority,omitempty"`
	DelaySec        *int    `json:"delay_sec,omitempty" binding:"omitempty,min=0,max=3600"`
	CooldownSec     *int    `json:"cooldown_sec,omitempty" binding:"omitempty,min=0,max=86400"`
	IsActive        *bool   `json:"is_active,omitempty"`
}

type EvaluateAutoreplyRequest struct {
	Channel         string `json:"channel" binding:"required"`
	ChannelTargetID string `json:"channel_target_id"`
	IntegrationID   string `json:"integration_id"`
	Text            string `json:"text"`
	AuthorID        string `json:"author_id"`
	MessageID       string `json:"message_id"`
	MultiReply      bool   `json:"multi_reply"`
}

// TestAutoreplyRequest carries the organization explicitly since the dry-run route is not tenant-authenticated
type TestAutoreplyRequest struct {
	OrgID string `json:"organization_id" binding:"required"`
	EvaluateAutoreplyRequest
}

// EvaluateAutoreplyResponse flattens the first reply next to the full list
type EvaluateAutoreplyResponse struct {
	Matched        bool          `json:"matched"`
	RuleID         string        `json:"rule_id,omitempty"`
	ReplyText      string        `json:"reply_text,omitempty"`
	ScheduledInSec *int          `json:"scheduled_in_sec,omitempty"`
	Replies        []ReplyResult `json:"replies,omitempty"`
}

func (r EvaluateAutoreplyRequest) Input(orgID string) EvaluateInput {
	return EvaluateInput{
		OrgID:           orgID,
		Channel:         r.Channel,
		ChannelTargetID: r.ChannelTargetID,
		IntegrationID:   r.IntegrationID,
		Text:            r.Text,
		AuthorID:        r.AuthorID,
		MessageID:       r.MessageID,
		MultiReply:      r.MultiReply,
	}
}

// NewEvaluateAutoreplyResponse shapes a result for the HTTP surface
func NewEvaluateAutoreplyResponse(res EvaluateResult) EvaluateAutoreplyResponse {
	if !res.Matched || len(res.Replies) == 0 {
		return EvaluateAutoreplyResponse{Matched: false}
	}
	first := res.Replies[0]
	delay := first.ScheduledInSec
	return EvaluateAutoreplyResponse{
		Matched:        true,
		RuleID:         first.RuleID,
		ReplyText:      first.ReplyText,
		ScheduledInSec: &delay,
		Replies:        res.Replies,
	}
}

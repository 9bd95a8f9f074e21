package services

import (
	"regexp"
	"sort"
	"strings"

	"github.com/hardian-n/otomatisin/db"
)

// NormalizeText trims the input and collapses whitespace runs to a single space.
// Unicode spaces such as NBSP count as whitespace.
func NormalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// MatchRuleText reports whether text satisfies the rule's keyword pattern.
// An invalid REGEX pattern or an unknown match type never matches.
func MatchRuleText(rule db.AutoreplyRule, text string) bool {
	normalizedText := NormalizeText(text)
	pattern := NormalizeText(rule.KeywordPattern)

	switch rule.MatchType {
	case db.MatchExact:
		return normalizedText == pattern
	case db.MatchContains:
		return strings.Contains(strings.ToLower(normalizedText), strings.ToLower(pattern))
	case db.MatchRegex:
		// Compiled from the raw pattern so intentional whitespace in it survives
		re, err := regexp.Compile("(?i)" + rule.KeywordPattern)
		if err != nil {
			return false
		}
		return re.MatchString(normalizedText)
	default:
		return false
	}
}

// OrderByTargetAndPriority returns the rules bound to channelTargetID followed by the
// global rules, each group by descending priority. Rules bound to another target are dropped.
// Ties keep their input order.
func OrderByTargetAndPriority(rules []db.AutoreplyRule, channelTargetID string) []db.AutoreplyRule {
	var targeted, global []db.AutoreplyRule
	for _, rule := range rules {
		switch {
		case rule.ChannelTargetID == "":
			global = append(global, rule)
		case channelTargetID != "" && rule.ChannelTargetID == channelTargetID:
			targeted = append(targeted, rule)
		}
	}

	byPriority := func(list []db.AutoreplyRule) {
		sort.SliceStable(list, func(i, j int) bool {
			return list[i].Priority > list[j].Priority
		})
	}
	byPriority(targeted)
	byPriority(global)

	if len(targeted) == 0 {
		return global
	}
	return append(targeted, global...)
}

// filterMatches ranks rules and keeps the matching ones. Targeted matches win as a whole
// group: global rules are only considered when no targeted rule matches.
func filterMatches(rules []db.AutoreplyRule, text, channelTargetID string) []db.AutoreplyRule {
	ordered := OrderByTargetAndPriority(rules, channelTargetID)

	var targeted, global []db.AutoreplyRule
	for _, rule := range ordered {
		if !MatchRuleText(rule, text) {
			continue
		}
		if rule.ChannelTargetID != "" {
			targeted = append(targeted, rule)
		} else {
			global = append(global, rule)
		}
	}

	if len(targeted) > 0 {
		return targeted
	}
	return global
}

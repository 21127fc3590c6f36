// Package rules decides which configured rules apply to an inbound message.
package rules

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/Veraticus/autopay/internal/common"
	"github.com/Veraticus/autopay/internal/model"
)

// DefaultsResolver supplies per-action default rules.
type DefaultsResolver interface {
	DefaultRule(action string) (model.Rule, bool)
}

// Match is a rule that applies to a message.
type Match struct {
	Rule model.Rule
	// Known is false when no handler is registered for the rule's action.
	Known bool
	Index int
}

type compiledRule struct {
	rule  model.Rule
	index int
	known bool
}

// Matcher evaluates messages against an immutable rule list.
type Matcher struct {
	logger   *slog.Logger
	rules    []compiledRule
	rejected []model.Rule
	minScore int
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithMinSecurityScore overrides the number of passing signals required.
func WithMinSecurityScore(score int) Option {
	return func(m *Matcher) {
		if score > 0 {
			m.minScore = score
		}
	}
}

// NewMatcher merges each rule with its action defaults and drops rules that
// constrain no message field.
func NewMatcher(rules []model.Rule, defaults DefaultsResolver, opts ...Option) *Matcher {
	m := &Matcher{
		logger:   slog.Default().With("component", "rules"),
		minScore: DefaultMinSecurityScore,
	}
	for _, opt := range opts {
		opt(m)
	}

	for i, rule := range rules {
		known := false
		if defaults != nil {
			if def, ok := defaults.DefaultRule(rule.Action); ok {
				rule = rule.WithDefaults(def)
				known = true
			}
		}

		if !rule.HasMatchers() {
			m.logger.Warn("Rule rejected: no from, subject or body matcher",
				"rule", rule.Label(), "index", i)
			m.rejected = append(m.rejected, rule)
			continue
		}

		m.rules = append(m.rules, compiledRule{rule: rule, index: i, known: known})
	}

	return m
}

// Rules returns the effective rules in evaluation order.
func (m *Matcher) Rules() []model.Rule {
	out := make([]model.Rule, 0, len(m.rules))
	for _, cr := range m.rules {
		out = append(out, cr.rule)
	}
	return out
}

// Rejected returns the rules dropped for having no matcher fields.
func (m *Matcher) Rejected() []model.Rule {
	return m.rejected
}

// Match returns every rule that applies to msg, in rule order. If a matching
// rule requires security checks and the message fails them, Match returns
// common.ErrSecurityCheckFailed and no matches: the whole message is dropped.
func (m *Matcher) Match(msg model.InboundMessage) ([]Match, error) {
	var (
		matches []Match
		score   = -1
	)

	for _, cr := range m.rules {
		if !matchesRule(cr.rule, msg) {
			continue
		}

		if cr.rule.SecurityChecksRequired() {
			if score < 0 {
				score = SecurityScore(msg)
			}
			if score < m.minScore {
				m.logger.Warn("Message failed security checks",
					"message_id", msg.NormalizedID(),
					"from", msg.From,
					"rule", cr.rule.Label(),
					"score", score,
					"required", m.minScore)
				return nil, fmt.Errorf("%w: score %d of %d, need %d",
					common.ErrSecurityCheckFailed, score, MaxSecurityScore, m.minScore)
			}
		}

		matches = append(matches, Match{Rule: cr.rule, Known: cr.known, Index: cr.index})
	}

	return matches, nil
}

func matchesRule(rule model.Rule, msg model.InboundMessage) bool {
	if rule.From != nil {
		from := strings.ToLower(msg.From)
		if !containsAny(from, rule.From, strings.ToLower) {
			return false
		}
	}
	if rule.Subject != nil {
		subject := strings.ToLower(msg.Subject)
		if !containsAny(subject, rule.Subject, strings.ToLower) {
			return false
		}
	}
	if rule.Body != nil {
		if !containsAny(msg.Body, rule.Body, nil) {
			return false
		}
	}
	return true
}

func containsAny(haystack string, needles []string, fold func(string) string) bool {
	for _, needle := range needles {
		if fold != nil {
			needle = fold(needle)
		}
		if strings.Contains(haystack, needle) {
			return true
		}
	}
	return false
}

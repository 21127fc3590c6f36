package rules

import (
	"testing"

	"github.com/Veraticus/autopay/internal/common"
	"github.com/Veraticus/autopay/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticDefaults map[string]model.Rule

func (s staticDefaults) DefaultRule(action string) (model.Rule, bool) {
	r, ok := s[action]
	return r, ok
}

func boolPtr(b bool) *bool { return &b }

func trustedHeaders() map[string][]string {
	return map[string][]string{
		"received-spf":           {"Pass (mailfrom) identity=mailfrom"},
		"authentication-results": {"mx.example.com; spf=pass smtp.mailfrom=shop.com; dkim=pass header.d=shop.com; dmarc=pass"},
	}
}

func TestMatcher_FieldSemantics(t *testing.T) {
	defaults := staticDefaults{"generic": {Action: "generic"}}
	msg := model.InboundMessage{
		ID:      "<m1@example.com>",
		From:    "Billing@Shop.COM",
		Subject: "Your Invoice #42",
		Body:    "Total due: EUR 10.00",
	}

	tests := []struct {
		name  string
		rule  model.Rule
		match bool
	}{
		{name: "from is case-insensitive", rule: model.Rule{Action: "generic", From: []string{"billing@shop.com"}}, match: true},
		{name: "from substring", rule: model.Rule{Action: "generic", From: []string{"shop.com"}}, match: true},
		{name: "from mismatch", rule: model.Rule{Action: "generic", From: []string{"other.com"}}, match: false},
		{name: "subject case-insensitive", rule: model.Rule{Action: "generic", Subject: []string{"INVOICE"}}, match: true},
		{name: "body case-sensitive hit", rule: model.Rule{Action: "generic", Body: []string{"Total due"}}, match: true},
		{name: "body case-sensitive miss", rule: model.Rule{Action: "generic", Body: []string{"total due"}}, match: false},
		{name: "or within field", rule: model.Rule{Action: "generic", From: []string{"nope", "shop.com"}}, match: true},
		{
			name:  "and across fields",
			rule:  model.Rule{Action: "generic", From: []string{"shop.com"}, Subject: []string{"refund"}},
			match: false,
		},
		{name: "empty list matches nothing", rule: model.Rule{Action: "generic", From: []string{}}, match: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMatcher([]model.Rule{tt.rule}, defaults)
			matches, err := m.Match(msg)
			require.NoError(t, err)
			if tt.match {
				assert.Len(t, matches, 1)
			} else {
				assert.Empty(t, matches)
			}
		})
	}
}

func TestMatcher_RejectsRulesWithoutMatchers(t *testing.T) {
	m := NewMatcher([]model.Rule{
		{Action: "generic", Options: map[string]any{"amount": 10}},
		{Action: "generic", From: []string{"a@x.com"}},
	}, staticDefaults{"generic": {Action: "generic"}})

	assert.Len(t, m.Rules(), 1)
	assert.Len(t, m.Rejected(), 1)
}

func TestMatcher_DefaultsFillGaps(t *testing.T) {
	defaults := staticDefaults{
		"topup": {
			Action:                "topup",
			From:                  []string{"alerts@bank.com"},
			RequireSecurityChecks: boolPtr(true),
			Options:               map[string]any{"threshold": 20.0},
		},
	}

	m := NewMatcher([]model.Rule{
		{Action: "topup", Options: map[string]any{"threshold": 50.0}},
	}, defaults)

	rules := m.Rules()
	require.Len(t, rules, 1)
	assert.Equal(t, []string{"alerts@bank.com"}, rules[0].From)
	assert.True(t, rules[0].SecurityChecksRequired())
	threshold, ok := rules[0].OptFloat("threshold")
	require.True(t, ok)
	assert.Equal(t, 50.0, threshold)
}

func TestMatcher_ExhaustiveInOrder(t *testing.T) {
	defaults := staticDefaults{
		"generic": {Action: "generic"},
		"notify":  {Action: "notify"},
	}
	m := NewMatcher([]model.Rule{
		{Action: "notify", From: []string{"x.com"}},
		{Action: "generic", From: []string{"a@x.com"}},
		{Action: "generic", From: []string{"b@x.com"}},
		{Action: "missing", Subject: []string{"hi"}},
	}, defaults)

	matches, err := m.Match(model.InboundMessage{From: "a@x.com", Subject: "hi"})
	require.NoError(t, err)
	require.Len(t, matches, 3)
	assert.Equal(t, "notify", matches[0].Rule.Action)
	assert.Equal(t, "generic", matches[1].Rule.Action)
	assert.Equal(t, "missing", matches[2].Rule.Action)
	assert.False(t, matches[2].Known)
	assert.Equal(t, 3, matches[2].Index)
}

func TestMatcher_SecurityFailureAbortsMessage(t *testing.T) {
	defaults := staticDefaults{"generic": {Action: "generic"}, "ignore": {Action: "ignore"}}
	m := NewMatcher([]model.Rule{
		{Action: "ignore", From: []string{"shop.com"}},
		{Action: "generic", From: []string{"shop.com"}, RequireSecurityChecks: boolPtr(true)},
	}, defaults)

	matches, err := m.Match(model.InboundMessage{From: "billing@shop.com"})
	assert.ErrorIs(t, err, common.ErrSecurityCheckFailed)
	assert.Nil(t, matches)

	matches, err = m.Match(model.InboundMessage{From: "billing@shop.com", Headers: trustedHeaders()})
	require.NoError(t, err)
	assert.Len(t, matches, 2)
}

func TestMatcher_SecurityOnlyForMatchingRules(t *testing.T) {
	defaults := staticDefaults{"generic": {Action: "generic"}}
	m := NewMatcher([]model.Rule{
		{Action: "generic", From: []string{"bank.com"}, RequireSecurityChecks: boolPtr(true)},
		{Action: "generic", From: []string{"shop.com"}},
	}, defaults)

	matches, err := m.Match(model.InboundMessage{From: "billing@shop.com"})
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestMatcher_CustomThreshold(t *testing.T) {
	defaults := staticDefaults{"generic": {Action: "generic"}}
	rule := model.Rule{Action: "generic", From: []string{"shop.com"}, RequireSecurityChecks: boolPtr(true)}
	msg := model.InboundMessage{From: "billing@shop.com", Headers: trustedHeaders()}

	strict := NewMatcher([]model.Rule{rule}, defaults, WithMinSecurityScore(5))
	_, err := strict.Match(msg)
	assert.ErrorIs(t, err, common.ErrSecurityCheckFailed)
}

package rules

import (
	"strings"

	"github.com/Veraticus/autopay/internal/model"
)

// DefaultMinSecurityScore is the number of passing signals a message needs
// when a rule requires security checks.
const DefaultMinSecurityScore = 3

// MaxSecurityScore is the number of signals SecurityScore inspects.
const MaxSecurityScore = 7

// SecurityScore counts the authentication signals present in the headers:
// Received-SPF pass, SPF, DKIM and DMARC passes in Authentication-Results,
// SPF and DKIM passes in ARC-Authentication-Results, and a spam scanner verdict
// of "No" in X-Spam-Status.
func SecurityScore(msg model.InboundMessage) int {
	score := 0

	if anyHeader(msg, "received-spf", func(v string) bool {
		return strings.HasPrefix(v, "pass")
	}) {
		score++
	}

	for _, token := range []string{"spf=pass", "dkim=pass", "dmarc=pass"} {
		if headerContains(msg, "authentication-results", token) {
			score++
		}
	}

	for _, token := range []string{"spf=pass", "dkim=pass"} {
		if headerContains(msg, "arc-authentication-results", token) {
			score++
		}
	}

	if anyHeader(msg, "x-spam-status", func(v string) bool {
		return strings.HasPrefix(v, "no")
	}) {
		score++
	}

	return score
}

func headerContains(msg model.InboundMessage, name, token string) bool {
	return anyHeader(msg, name, func(v string) bool {
		return strings.Contains(v, token)
	})
}

func anyHeader(msg model.InboundMessage, name string, pred func(string) bool) bool {
	for _, v := range msg.Header(name) {
		if pred(strings.ToLower(strings.TrimSpace(v))) {
			return true
		}
	}
	return false
}

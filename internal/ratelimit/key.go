package ratelimit

import "strings"

// KeyForDecision builds a limiter key for the resolved scope.
func KeyForDecision(decision Decision) string {
	subject := strings.TrimSpace(decision.Subject)
	if subject == "" || decision.Limit <= 0 {
		return ""
	}
	switch decision.Scope {
	case ScopeAccount:
		return "a:" + subject
	case ScopeAdmin:
		return "adm:" + subject
	default:
		return ""
	}
}

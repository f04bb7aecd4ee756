// Package filter implements the sender matching engine.
package filter

import (
	"errors"
	"fmt"
	"strings"

	"gmail_bot/internal/model"
)

// ErrInvalidRule is returned when a pattern has invalid syntax.
var ErrInvalidRule = errors.New("invalid rule")

// Accepts reports whether a message from sender should be delivered under the
// given mode and rule set. Pure function of its arguments.
//
// Allow mode accepts iff at least one rule matches; an empty rule set accepts
// nothing. Deny mode accepts iff no rule matches; an empty rule set accepts
// everything.
func Accepts(sender string, mode model.FilterMode, rules []model.FilterRule) bool {
	matched := false
	for _, r := range rules {
		if Matches(sender, r.Pattern) {
			matched = true
			break
		}
	}
	if mode == model.ModeAllow {
		return matched
	}
	return !matched
}

// Matches reports whether a single pattern matches the sender address.
// Address patterns compare case-insensitively and exactly. Domain patterns
// ("*@corp.com" or "corp.com") match the part after "@" as a
// case-insensitive suffix at a dot boundary, so "corp.com" also matches
// "mail.corp.com" but not "notcorp.com".
func Matches(sender, pattern string) bool {
	sender = strings.ToLower(strings.TrimSpace(sender))
	pattern = strings.ToLower(strings.TrimSpace(pattern))

	if domain, ok := domainPattern(pattern); ok {
		at := strings.LastIndex(sender, "@")
		if at < 0 {
			return false
		}
		senderDomain := sender[at+1:]
		return senderDomain == domain || strings.HasSuffix(senderDomain, "."+domain)
	}
	return sender == pattern
}

// ValidatePattern checks pattern syntax before it is stored.
func ValidatePattern(pattern string) error {
	p := strings.TrimSpace(pattern)
	if p == "" || strings.ContainsAny(p, " \t\n") {
		return fmt.Errorf("%w: %q", ErrInvalidRule, pattern)
	}
	if domain, ok := domainPattern(strings.ToLower(p)); ok {
		if domain == "" || strings.Contains(domain, "@") || !strings.Contains(domain, ".") {
			return fmt.Errorf("%w: %q", ErrInvalidRule, pattern)
		}
		return nil
	}
	// address pattern: exactly one "@" with non-empty local and domain parts
	at := strings.Index(p, "@")
	if at <= 0 || at != strings.LastIndex(p, "@") || at == len(p)-1 {
		return fmt.Errorf("%w: %q", ErrInvalidRule, pattern)
	}
	return nil
}

func domainPattern(pattern string) (string, bool) {
	if d, ok := strings.CutPrefix(pattern, "*@"); ok {
		return d, true
	}
	if !strings.Contains(pattern, "@") {
		return pattern, true
	}
	return "", false
}

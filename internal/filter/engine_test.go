package filter

import (
	"errors"
	"testing"

	"gmail_bot/internal/model"
)

func rules(patterns ...string) []model.FilterRule {
	out := make([]model.FilterRule, 0, len(patterns))
	for i, p := range patterns {
		out = append(out, model.FilterRule{ID: int64(i + 1), Pattern: p})
	}
	return out
}

func TestMatches(t *testing.T) {
	tests := []struct {
		name    string
		sender  string
		pattern string
		want    bool
	}{
		{"exact address", "alice@corp.com", "alice@corp.com", true},
		{"exact address case insensitive", "Alice@Corp.COM", "alice@corp.com", true},
		{"different address", "bob@corp.com", "alice@corp.com", false},
		{"star domain", "alice@corp.com", "*@corp.com", true},
		{"bare domain", "alice@corp.com", "corp.com", true},
		{"domain case insensitive", "alice@CORP.com", "*@corp.COM", true},
		{"subdomain suffix", "alerts@mail.corp.com", "corp.com", true},
		{"suffix needs dot boundary", "alice@notcorp.com", "corp.com", false},
		{"domain does not match other domain", "alice@spam.com", "*@corp.com", false},
		{"address pattern ignores domain", "other@corp.com", "alice@corp.com", false},
		{"sender without at", "not-an-address", "corp.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Matches(tt.sender, tt.pattern); got != tt.want {
				t.Errorf("Matches(%q, %q) = %v, want %v", tt.sender, tt.pattern, got, tt.want)
			}
		})
	}
}

func TestAccepts(t *testing.T) {
	tests := []struct {
		name   string
		sender string
		mode   model.FilterMode
		rules  []model.FilterRule
		want   bool
	}{
		{"allow mode empty accepts nothing", "x@corp.com", model.ModeAllow, nil, false},
		{"deny mode empty accepts everything", "x@corp.com", model.ModeDeny, nil, true},
		{"allow mode matching domain", "x@corp.com", model.ModeAllow, rules("*@corp.com"), true},
		{"allow mode non-matching", "y@spam.com", model.ModeAllow, rules("*@corp.com"), false},
		{"deny mode matching domain", "y@spam.com", model.ModeDeny, rules("*@spam.com"), false},
		{"deny mode non-matching", "x@corp.com", model.ModeDeny, rules("*@spam.com"), true},
		{"allow mode any rule suffices", "x@corp.com", model.ModeAllow, rules("a@b.com", "corp.com"), true},
		{"deny mode any rule blocks", "x@corp.com", model.ModeDeny, rules("a@b.com", "x@corp.com"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Accepts(tt.sender, tt.mode, tt.rules); got != tt.want {
				t.Errorf("Accepts(%q, %s) = %v, want %v", tt.sender, tt.mode, got, tt.want)
			}
		})
	}
}

func TestValidatePattern(t *testing.T) {
	valid := []string{"alice@corp.com", "*@corp.com", "corp.com", "mail.corp.co.uk", "A.Person@Sub.Corp.com"}
	for _, p := range valid {
		if err := ValidatePattern(p); err != nil {
			t.Errorf("ValidatePattern(%q) = %v, want nil", p, err)
		}
	}

	invalid := []string{"", "  ", "@corp.com", "alice@", "a@b@c.com", "*@", "nodot", "*@nodot", "two words@corp.com"}
	for _, p := range invalid {
		err := ValidatePattern(p)
		if err == nil {
			t.Errorf("ValidatePattern(%q) = nil, want error", p)
			continue
		}
		if !errors.Is(err, ErrInvalidRule) {
			t.Errorf("ValidatePattern(%q) = %v, want ErrInvalidRule", p, err)
		}
	}
}

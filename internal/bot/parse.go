package bot

import (
	"fmt"
	"strconv"
	"strings"

	"gmail_bot/internal/model"
)

// ParseIDArg extracts a numeric ID from a command argument string.
func ParseIDArg(args string) (int64, error) {
	s := strings.TrimSpace(args)
	if s == "" {
		return 0, fmt.Errorf("ID is required")
	}
	id, err := strconv.ParseInt(strings.Fields(s)[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid ID %q", s)
	}
	return id, nil
}

// ParseMode parses a filter mode argument.
func ParseMode(args string) (model.FilterMode, error) {
	switch strings.ToLower(strings.TrimSpace(args)) {
	case "allow":
		return model.ModeAllow, nil
	case "deny":
		return model.ModeDeny, nil
	}
	return "", fmt.Errorf("invalid mode %q, use: allow, deny", args)
}

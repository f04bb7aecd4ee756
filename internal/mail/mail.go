// Package mail defines the narrow mail-provider surface the bot requires and
// its Gmail implementation.
package mail

import (
	"context"
	"errors"

	"gmail_bot/internal/model"
)

// Error taxonomy for provider failures. Callers classify with errors.Is.
var (
	// ErrAuthExpired means the credential was rejected; retried with
	// backoff and alerted after repeated failures.
	ErrAuthExpired = errors.New("mail: authorization expired")
	// ErrTransient covers network errors, rate limits and server-side
	// failures; retried next cycle.
	ErrTransient = errors.New("mail: transient error")
)

// Client is the mail-provider surface required by the bot.
type Client interface {
	// FetchUnread returns summaries of the currently unread inbox messages.
	FetchUnread(ctx context.Context) ([]model.MessageSummary, error)
	// MarkRead removes the unread state of a message. Idempotent.
	MarkRead(ctx context.Context, messageID string) error
}

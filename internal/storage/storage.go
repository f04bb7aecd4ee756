// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"time"

	"gmail_bot/internal/model"
)

// Storage is the interface for all persistence operations. Each method is an
// atomic unit; implementations must be safe for concurrent use.
type Storage interface {
	IsDelivered(ctx context.Context, chatID int64, messageID string) (bool, error)
	MarkDelivered(ctx context.Context, d *model.Delivery) error
	GetDelivery(ctx context.Context, chatID int64, messageID string) (*model.Delivery, error)
	PruneDeliveries(ctx context.Context, before time.Time) (int64, error)

	UpsertReminder(ctx context.Context, r *model.Reminder) error
	DueReminders(ctx context.Context, now time.Time) ([]model.Reminder, error)
	MarkReminderFired(ctx context.Context, chatID int64, messageID string) error
	CancelReminder(ctx context.Context, chatID int64, messageID string) error

	ListAdmins(ctx context.Context) ([]model.Admin, error)
	IsAdmin(ctx context.Context, userID int64) (bool, error)
	AddAdmin(ctx context.Context, a *model.Admin) error
	RemoveAdmin(ctx context.Context, userID int64) error
	CountAdmins(ctx context.Context) (int, error)

	AddPending(ctx context.Context, userID int64) error
	IsPending(ctx context.Context, userID int64) (bool, error)
	RemovePending(ctx context.Context, userID int64) error

	UpsertChat(ctx context.Context, c *model.Chat) error
	GetChat(ctx context.Context, chatID int64) (*model.Chat, error)
	ListChats(ctx context.Context) ([]model.Chat, error)
	SetChatLocked(ctx context.Context, chatID int64, locked bool) error
	RemoveChat(ctx context.Context, chatID int64) error

	FilterMode(ctx context.Context) (model.FilterMode, error)
	SetFilterMode(ctx context.Context, mode model.FilterMode) error
	ListRules(ctx context.Context) ([]model.FilterRule, error)
	AddRule(ctx context.Context, r *model.FilterRule) error
	RemoveRule(ctx context.Context, id int64) error

	Close() error
}

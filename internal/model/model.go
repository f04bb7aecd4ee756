// Package model defines the domain types used across the application.
package model

import (
	"time"
)

// MessageSummary is an unread Gmail message as returned by the mail provider.
// Immutable; owned by the poll loop for a single cycle.
type MessageSummary struct {
	ID         string
	Sender     string
	Subject    string
	Snippet    string
	ReceivedAt time.Time
}

// Delivery records that a message was sent to a chat. The sender/subject
// snapshot lets reminders reference the original notification even after the
// unread list no longer contains the message.
type Delivery struct {
	ChatID            int64
	MessageID         string
	Sender            string
	Subject           string
	TelegramMessageID int
	DeliveredAt       time.Time
}

// FilterMode selects how the rule set is interpreted.
type FilterMode string

// Supported filter modes.
const (
	ModeAllow FilterMode = "allow"
	ModeDeny  FilterMode = "deny"
)

// FilterRule is a single sender pattern: an exact address
// ("user@corp.com") or a domain ("*@corp.com" or "corp.com").
type FilterRule struct {
	ID        int64
	Pattern   string
	CreatedAt time.Time
}

// Admin is an authorized user. Exactly one admin is the owner.
type Admin struct {
	UserID  int64
	Owner   bool
	AddedAt time.Time
}

// Chat is a registered notification destination with its lockdown flag.
type Chat struct {
	ChatID  int64
	Locked  bool
	AddedAt time.Time
}

// PollStatus is a snapshot of poll loop health.
type PollStatus struct {
	LastFetchAt         time.Time
	LastError           string
	ConsecutiveFailures int
	NextFetchAt         time.Time
}

// Reminder is a pending "Remind Me" request. At most one row exists per
// (chat, message) pair; re-scheduling replaces the due time.
type Reminder struct {
	ChatID    int64
	MessageID string
	DueAt     time.Time
	Fired     bool
	CreatedAt time.Time
}

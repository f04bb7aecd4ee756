package bot

import (
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"gmail_bot/internal/model"
)

const strikeRune = '̶'

// NotificationKeyboard is the initial keyboard attached to a notification.
func NotificationKeyboard(messageID string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Read", cbRead+":"+messageID),
			tgbotapi.NewInlineKeyboardButtonData("Remind Me", cbRemind+":"+messageID),
		),
	)
}

// ReminderPendingKeyboard replaces the keyboard once a reminder is scheduled.
func ReminderPendingKeyboard(messageID string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Read", cbRead+":"+messageID),
			tgbotapi.NewInlineKeyboardButtonData("⏰ Cancel reminder", cbUnremind+":"+messageID),
		),
	)
}

// FormatNotification formats an unread message as a Telegram notification.
func FormatNotification(m model.MessageSummary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📧 From: %s\n", m.Sender)
	subject := m.Subject
	if subject == "" {
		subject = "(no subject)"
	}
	fmt.Fprintf(&b, "📝 Subject: %s\n", subject)
	if m.Snippet != "" {
		b.WriteString("\n")
		b.WriteString(m.Snippet)
		b.WriteString("\n")
	}
	if !m.ReceivedAt.IsZero() {
		b.WriteString("\n")
		b.WriteString(m.ReceivedAt.Format("15:04 02.01"))
	}
	return b.String()
}

// FormatReminder formats the re-notification for a fired reminder.
func FormatReminder(d *model.Delivery) string {
	return fmt.Sprintf("📌 Reminder: unread message from %s\n📝 Subject: %s", d.Sender, d.Subject)
}

// FormatRuleList formats the filter mode and rules for display.
func FormatRuleList(mode model.FilterMode, rules []model.FilterRule) string {
	var b strings.Builder
	switch mode {
	case model.ModeAllow:
		b.WriteString("Mode: allow (only matching senders are notified)\n")
	default:
		b.WriteString("Mode: deny (matching senders are suppressed)\n")
	}
	if len(rules) == 0 {
		b.WriteString("\nNo rules. Use /addrule <pattern> to add one.")
		return b.String()
	}
	b.WriteString("\nRules:\n")
	for _, r := range rules {
		fmt.Fprintf(&b, "  R%d: %s\n", r.ID, r.Pattern)
	}
	return b.String()
}

// FormatAdminList formats the admin registry for display.
func FormatAdminList(admins []model.Admin) string {
	var b strings.Builder
	b.WriteString("Admins:\n")
	for _, a := range admins {
		if a.Owner {
			fmt.Fprintf(&b, "  %d (owner)\n", a.UserID)
		} else {
			fmt.Fprintf(&b, "  %d\n", a.UserID)
		}
	}
	return b.String()
}

// FormatStatus formats poller health for /status.
func FormatStatus(st model.PollStatus, mode model.FilterMode, ruleCount, chatCount int) string {
	var b strings.Builder
	b.WriteString("Poller status:\n")
	if st.LastFetchAt.IsZero() {
		b.WriteString("  last fetch: never\n")
	} else {
		fmt.Fprintf(&b, "  last fetch: %s\n", st.LastFetchAt.UTC().Format(time.RFC3339))
	}
	if st.ConsecutiveFailures > 0 {
		fmt.Fprintf(&b, "  consecutive failures: %d\n", st.ConsecutiveFailures)
		if st.LastError != "" {
			fmt.Fprintf(&b, "  last error: %s\n", st.LastError)
		}
		if !st.NextFetchAt.IsZero() {
			fmt.Fprintf(&b, "  next attempt: %s\n", st.NextFetchAt.UTC().Format(time.RFC3339))
		}
	}
	fmt.Fprintf(&b, "  filter mode: %s, %d rule(s)\n", mode, ruleCount)
	fmt.Fprintf(&b, "  destination chats: %d\n", chatCount)
	return b.String()
}

// Strike renders text with combining strikethrough characters, matching the
// read-acknowledged style of notifications.
func Strike(text string) string {
	var b strings.Builder
	for _, r := range text {
		b.WriteRune(r)
		b.WriteRune(strikeRune)
	}
	return b.String()
}

// IsStruck reports whether text was already struck by Strike.
func IsStruck(text string) bool {
	return strings.ContainsRune(text, strikeRune)
}

package bot

import (
	"context"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"gmail_bot/internal/model"
)

// Callback actions carried in inline button data as "<action>:<gmail_id>".
const (
	cbRead     = "read"
	cbRemind   = "remind"
	cbUnremind = "unremind"
)

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil {
		return
	}
	chatID := cb.Message.Chat.ID
	userID := cb.From.ID

	parts := strings.SplitN(cb.Data, ":", 2)
	if len(parts) != 2 || parts[1] == "" {
		b.ackCallback(cb.ID, "")
		return
	}
	action, messageID := parts[0], parts[1]

	if err := b.gate.CheckCommand(ctx, chatID, userID); err != nil {
		b.ackCallback(cb.ID, "Not authorized.")
		return
	}

	b.log.Info("callback",
		"action", action,
		"message_id", messageID,
		"chat_id", chatID,
		"user_id", userID,
	)

	switch action {
	case cbRead:
		b.handleRead(ctx, cb, chatID, messageID)
	case cbRemind:
		b.handleRemind(ctx, cb, chatID, messageID)
	case cbUnremind:
		b.handleUnremind(ctx, cb, chatID, messageID)
	default:
		b.ackCallback(cb.ID, "")
	}
}

// handleRead acknowledges a message: marks it read upstream, cancels any
// pending reminder, and strikes the notification text. Repeated presses are
// no-ops.
func (b *Bot) handleRead(ctx context.Context, cb *tgbotapi.CallbackQuery, chatID int64, messageID string) {
	if IsStruck(cb.Message.Text) {
		b.ackCallback(cb.ID, "Already marked as read.")
		return
	}

	if b.mailer != nil {
		if err := b.mailer.MarkRead(ctx, messageID); err != nil {
			b.log.Error("mark read", "message_id", messageID, "error", err)
		}
	}

	if err := b.store.CancelReminder(ctx, chatID, messageID); err != nil {
		b.log.Error("cancel reminder", "message_id", messageID, "error", err)
	}

	edit := tgbotapi.NewEditMessageText(chatID, cb.Message.MessageID, Strike(cb.Message.Text))
	if _, err := b.api.Send(edit); err != nil {
		b.log.Error("edit message", "chat_id", chatID, "error", err)
	}
	b.ackCallback(cb.ID, "Marked as read.")
}

// handleRemind schedules (or re-schedules) a reminder for the message and
// flips the keyboard to its pending-reminder state.
func (b *Bot) handleRemind(ctx context.Context, cb *tgbotapi.CallbackQuery, chatID int64, messageID string) {
	r := &model.Reminder{
		ChatID:    chatID,
		MessageID: messageID,
		DueAt:     time.Now().Add(b.cfg.ReminderDelay),
	}
	if err := b.store.UpsertReminder(ctx, r); err != nil {
		b.log.Error("schedule reminder", "message_id", messageID, "error", err)
		b.ackCallback(cb.ID, "Failed to schedule reminder.")
		return
	}

	b.editKeyboard(chatID, cb.Message.MessageID, ReminderPendingKeyboard(messageID))
	b.ackCallback(cb.ID, "Reminder set.")
}

// handleUnremind cancels a pending reminder and restores the keyboard.
func (b *Bot) handleUnremind(ctx context.Context, cb *tgbotapi.CallbackQuery, chatID int64, messageID string) {
	if err := b.store.CancelReminder(ctx, chatID, messageID); err != nil {
		b.log.Error("cancel reminder", "message_id", messageID, "error", err)
		b.ackCallback(cb.ID, "Failed to cancel reminder.")
		return
	}

	b.editKeyboard(chatID, cb.Message.MessageID, NotificationKeyboard(messageID))
	b.ackCallback(cb.ID, "Reminder cancelled.")
}

func (b *Bot) editKeyboard(chatID int64, tgMessageID int, keyboard tgbotapi.InlineKeyboardMarkup) {
	edit := tgbotapi.NewEditMessageReplyMarkup(chatID, tgMessageID, keyboard)
	if _, err := b.api.Send(edit); err != nil {
		b.log.Error("edit keyboard", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) ackCallback(callbackID, text string) {
	callback := tgbotapi.NewCallback(callbackID, text)
	if _, err := b.api.Request(callback); err != nil {
		b.log.Error("send callback ack", "error", err)
	}
}

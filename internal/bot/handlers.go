package bot

import (
	"context"
	"errors"
	"fmt"

	"gmail_bot/internal/auth"
	"gmail_bot/internal/filter"
	"gmail_bot/internal/model"
	"gmail_bot/internal/storage"
)

func (b *Bot) handleStart(ctx context.Context, chatID, userID int64) {
	admin, err := b.gate.IsAdmin(ctx, userID)
	if err != nil {
		b.log.Error("check admin", "user_id", userID, "error", err)
		return
	}
	if admin {
		b.reply(chatID, `Welcome back!

This bot notifies registered chats about new unread Gmail messages.

Quick start:
1. /watch — register this chat for notifications
2. /mode allow — switch to an allow-list
3. /addrule *@corp.com — allow a sender domain

Use /help for the full command reference.`)
		return
	}

	created, err := b.gate.RequestAccess(ctx, userID)
	if err != nil {
		b.log.Error("request access", "user_id", userID, "error", err)
		b.reply(chatID, "Internal error, try again.")
		return
	}
	if !created {
		b.reply(chatID, "Your access request is pending. An admin has to approve it.")
		return
	}

	b.reply(chatID, "Access request sent. An admin has to approve it before you can use the bot.")
	b.notifyAdmins(ctx, fmt.Sprintf("User %d requests access. Approve with /approve %d", userID, userID))
}

func (b *Bot) handleMyID(chatID, userID int64) {
	b.reply(chatID, fmt.Sprintf("Chat ID: %d\nUser ID: %d", chatID, userID))
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `General:
/start — request access (or show this intro for admins)
/myid — show your user and chat ID
/rules — show filter mode and rules
/status — show poller health

Admin only:
/addrule <pattern> — add a sender rule (user@corp.com, *@corp.com, corp.com)
/rmrule <id> — remove a rule
/mode allow|deny — switch filter mode
/watch — register this chat for notifications
/unwatch — unregister this chat
/lock — restrict this chat to admin commands
/unlock — lift the restriction
/admins — list admins
/approve <user_id> — approve a pending access request
/revoke <user_id> — remove an admin`)
}

func (b *Bot) handleRules(ctx context.Context, chatID int64) {
	mode, err := b.store.FilterMode(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	rules, err := b.store.ListRules(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, FormatRuleList(mode, rules))
}

func (b *Bot) handleAddRule(ctx context.Context, chatID int64, args string) {
	if args == "" {
		b.reply(chatID, "Usage: /addrule <pattern>")
		return
	}
	if err := filter.ValidatePattern(args); err != nil {
		b.reply(chatID, fmt.Sprintf("Invalid pattern %q. Use user@corp.com, *@corp.com or corp.com.", args))
		return
	}

	r := &model.FilterRule{Pattern: args}
	if err := b.store.AddRule(ctx, r); err != nil {
		b.reply(chatID, fmt.Sprintf("Failed to save rule: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Rule R%d added: %s", r.ID, r.Pattern))
}

func (b *Bot) handleRmRule(ctx context.Context, chatID int64, args string) {
	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /rmrule <id>")
		return
	}
	if err := b.store.RemoveRule(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			b.reply(chatID, fmt.Sprintf("Rule R%d not found.", id))
			return
		}
		b.reply(chatID, fmt.Sprintf("Error removing rule: %v", err))
		return
	}
	b.reply(chatID, fmt.Sprintf("Rule R%d removed.", id))
}

func (b *Bot) handleMode(ctx context.Context, chatID int64, args string) {
	mode, err := ParseMode(args)
	if err != nil {
		b.reply(chatID, "Usage: /mode allow|deny")
		return
	}
	if err := b.store.SetFilterMode(ctx, mode); err != nil {
		b.reply(chatID, fmt.Sprintf("Error switching mode: %v", err))
		return
	}
	switch mode {
	case model.ModeAllow:
		b.reply(chatID, "Allow mode: only senders matching a rule are notified. An empty rule list notifies nothing.")
	case model.ModeDeny:
		b.reply(chatID, "Deny mode: senders matching a rule are suppressed. An empty rule list notifies everything.")
	}
}

func (b *Bot) handleWatch(ctx context.Context, chatID int64) {
	if err := b.store.UpsertChat(ctx, &model.Chat{ChatID: chatID}); err != nil {
		b.reply(chatID, fmt.Sprintf("Error registering chat: %v", err))
		return
	}
	b.reply(chatID, "This chat now receives unread-mail notifications.")
}

func (b *Bot) handleUnwatch(ctx context.Context, chatID int64) {
	if err := b.store.RemoveChat(ctx, chatID); err != nil {
		b.reply(chatID, fmt.Sprintf("Error unregistering chat: %v", err))
		return
	}
	b.reply(chatID, "This chat no longer receives notifications.")
}

func (b *Bot) handleLock(ctx context.Context, chatID int64, locked bool) {
	if err := b.store.SetChatLocked(ctx, chatID, locked); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			b.reply(chatID, "This chat is not registered. Use /watch first.")
			return
		}
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	if locked {
		b.reply(chatID, "Chat locked. Only admins can issue commands here.")
	} else {
		b.reply(chatID, "Chat unlocked.")
	}
}

func (b *Bot) handleAdmins(ctx context.Context, chatID int64) {
	admins, err := b.store.ListAdmins(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.reply(chatID, FormatAdminList(admins))
}

func (b *Bot) handleApprove(ctx context.Context, chatID, requesterID int64, args string) {
	userID, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /approve <user_id>")
		return
	}

	err = b.gate.Approve(ctx, userID, requesterID)
	switch {
	case errors.Is(err, auth.ErrNotPending):
		b.reply(chatID, fmt.Sprintf("User %d has no pending request.", userID))
	case err != nil:
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
	default:
		b.reply(chatID, fmt.Sprintf("User %d is now an admin.", userID))
		b.reply(userID, "Your access request was approved. Use /help to get started.")
	}
}

func (b *Bot) handleRevoke(ctx context.Context, chatID, requesterID int64, args string) {
	userID, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, "Usage: /revoke <user_id>")
		return
	}

	err = b.gate.Deauthorize(ctx, userID, requesterID)
	switch {
	case errors.Is(err, auth.ErrLastAdmin):
		b.reply(chatID, "Cannot remove the last admin.")
	case errors.Is(err, auth.ErrOwnerProtected):
		b.reply(chatID, "Cannot remove the owner.")
	case err != nil:
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
	default:
		b.reply(chatID, fmt.Sprintf("User %d is no longer an admin.", userID))
	}
}

func (b *Bot) handleStatus(ctx context.Context, chatID int64) {
	rules, err := b.store.ListRules(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	chats, err := b.store.ListChats(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	mode, err := b.store.FilterMode(ctx)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}

	var st model.PollStatus
	if b.status != nil {
		st = b.status.Status()
	}
	b.reply(chatID, FormatStatus(st, mode, len(rules), len(chats)))
}

// notifyAdmins sends a message to every admin's private chat.
func (b *Bot) notifyAdmins(ctx context.Context, text string) {
	admins, err := b.store.ListAdmins(ctx)
	if err != nil {
		b.log.Error("list admins", "error", err)
		return
	}
	for _, a := range admins {
		// a private chat's ID equals the user's ID
		if err := b.SendText(a.UserID, text); err != nil {
			b.log.Error("notify admin", "user_id", a.UserID, "error", err)
		}
	}
}

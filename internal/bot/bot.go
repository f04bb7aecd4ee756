package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"gmail_bot/internal/auth"
	"gmail_bot/internal/config"
	"gmail_bot/internal/mail"
	"gmail_bot/internal/model"
	"gmail_bot/internal/rate"
	"gmail_bot/internal/storage"
)

// Transport errors, classified from Telegram API responses.
var (
	// ErrChatUnavailable means the chat rejected delivery (bot blocked,
	// kicked, or chat gone); the delivery is skipped for this cycle.
	ErrChatUnavailable = errors.New("chat unavailable")
	// ErrRateLimited means Telegram asked us to slow down; retried next cycle.
	ErrRateLimited = errors.New("rate limited")
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// StatusProvider reports poll loop health for /status.
type StatusProvider interface {
	Status() model.PollStatus
}

// Bot is the Telegram bot that handles commands, button callbacks, and
// outbound notifications.
type Bot struct {
	api     telegramAPI
	store   storage.Storage
	gate    *auth.Gate
	mailer  mail.Client
	cfg     *config.Config
	limiter rate.Limiter
	status  StatusProvider
	log     *slog.Logger
}

// New creates a Bot with the given Telegram token and collaborators.
func New(token string, store storage.Storage, gate *auth.Gate, mailer mail.Client, cfg *config.Config, log *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	return &Bot{
		api: api,
		store: store,
		gate: gate,
		mailer: mailer,
		cfg: cfg,
		// Telegram allows ~30 messages/sec overall; stay well below
		limiter: rate.NewTokenBucket(15),
		log: log,
	}, nil
}

// SetStatusProvider wires the poll loop status source for /status.
func (b *Bot) SetStatusProvider(p StatusProvider) {
	b.status = p
}

// Run starts the bot's long-polling loop, blocking until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update := <-updates:
			if update.CallbackQuery != nil {
				b.handleCallback(ctx, update.CallbackQuery)
				continue
			}
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}
			b.handleCommand(ctx, update.Message)
		}
	}
}

// SendNotification sends a message with an inline keyboard and returns the
// Telegram message ID of the sent message.
func (b *Bot) SendNotification(chatID int64, text string, keyboard tgbotapi.InlineKeyboardMarkup) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = keyboard
	sent, err := b.send(msg)
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

// SendText sends a plain text message.
func (b *Bot) SendText(chatID int64, text string) error {
	_, err := b.send(tgbotapi.NewMessage(chatID, text))
	return err
}

// SendReply sends a text message replying to an earlier message.
func (b *Bot) SendReply(chatID int64, replyTo int, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyToMessageID = replyTo
	_, err := b.send(msg)
	return err
}

func (b *Bot) send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	_ = b.limiter.Wait(context.Background())
	sent, err := b.api.Send(c)
	if err != nil {
		return sent, classifySendError(err)
	}
	return sent, nil
}

func (b *Bot) reply(chatID int64, text string) {
	if err := b.SendText(chatID, text); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

// classifySendError maps Telegram API errors onto the transport taxonomy.
func classifySendError(err error) error {
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) {
		switch {
		case tgErr.Code == 403:
			return fmt.Errorf("%w: %v", ErrChatUnavailable, err)
		case tgErr.Code == 429:
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		case tgErr.Code == 400 && strings.Contains(tgErr.Message, "chat not found"):
			return fmt.Errorf("%w: %v", ErrChatUnavailable, err)
		}
	}
	return err
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID
	userID := msg.From.ID

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID, "user_id", userID)

	// open to everyone
	switch cmd {
	case "start":
		b.handleStart(ctx, chatID, userID)
		return
	case "myid":
		b.handleMyID(chatID, userID)
		return
	case "help":
		b.handleHelp(chatID)
		return
	}

	if err := b.gate.CheckCommand(ctx, chatID, userID); err != nil {
		b.reply(chatID, "Not authorized. Use /start to request access.")
		return
	}

	switch cmd {
	case "rules":
		b.handleRules(ctx, chatID)
	case "status":
		b.handleStatus(ctx, chatID)
	case "addrule":
		b.adminOnly(ctx, chatID, userID, func() { b.handleAddRule(ctx, chatID, args) })
	case "rmrule":
		b.adminOnly(ctx, chatID, userID, func() { b.handleRmRule(ctx, chatID, args) })
	case "mode":
		b.adminOnly(ctx, chatID, userID, func() { b.handleMode(ctx, chatID, args) })
	case "watch":
		b.adminOnly(ctx, chatID, userID, func() { b.handleWatch(ctx, chatID) })
	case "unwatch":
		b.adminOnly(ctx, chatID, userID, func() { b.handleUnwatch(ctx, chatID) })
	case "lock":
		b.adminOnly(ctx, chatID, userID, func() { b.handleLock(ctx, chatID, true) })
	case "unlock":
		b.adminOnly(ctx, chatID, userID, func() { b.handleLock(ctx, chatID, false) })
	case "admins":
		b.adminOnly(ctx, chatID, userID, func() { b.handleAdmins(ctx, chatID) })
	case "approve":
		b.adminOnly(ctx, chatID, userID, func() { b.handleApprove(ctx, chatID, userID, args) })
	case "revoke":
		b.adminOnly(ctx, chatID, userID, func() { b.handleRevoke(ctx, chatID, userID, args) })
	default:
		b.reply(chatID, "Unknown command. Use /help for a list of commands.")
	}
}

func (b *Bot) adminOnly(ctx context.Context, chatID, userID int64, fn func()) {
	admin, err := b.gate.IsAdmin(ctx, userID)
	if err != nil {
		b.log.Error("check admin", "user_id", userID, "error", err)
		b.reply(chatID, "Internal error, try again.")
		return
	}
	if !admin {
		b.reply(chatID, "This command is admin-only.")
		return
	}
	fn()
}

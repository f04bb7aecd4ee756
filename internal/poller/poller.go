// Package poller runs the periodic fetch-filter-deliver cycle and fires due
// reminders.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sethvargo/go-retry"

	"gmail_bot/internal/bot"
	"gmail_bot/internal/config"
	"gmail_bot/internal/filter"
	"gmail_bot/internal/mail"
	"gmail_bot/internal/model"
	"gmail_bot/internal/storage"
)

// Sender is the transport surface the poller needs for outbound messages.
// *bot.Bot implements it.
type Sender interface {
	SendNotification(chatID int64, text string, keyboard tgbotapi.InlineKeyboardMarkup) (int, error)
	SendText(chatID int64, text string) error
	SendReply(chatID int64, replyTo int, text string) error
}

// Poller orchestrates the poll-and-dispatch cycle.
type Poller struct {
	store  storage.Storage
	mailer mail.Client
	sender Sender
	log    *slog.Logger

	interval       time.Duration
	fetchTimeout   time.Duration
	maxBackoff     time.Duration
	retention      time.Duration
	alertThreshold int

	mu          sync.Mutex
	lastFetchAt time.Time
	lastErr     string
	failures    int
	backoff     retry.Backoff
	nextFetchAt time.Time
}

// New creates a Poller from the application configuration.
func New(store storage.Storage, mailer mail.Client, sender Sender, cfg *config.Config, log *slog.Logger) *Poller {
	return &Poller{
		store:          store,
		mailer:         mailer,
		sender:         sender,
		log:            log,
		interval:       cfg.PollInterval,
		fetchTimeout:   cfg.FetchTimeout,
		maxBackoff:     cfg.MaxBackoff,
		retention:      cfg.Retention,
		alertThreshold: cfg.AlertThreshold,
	}
}

// Run starts the poll loop, blocking until ctx is cancelled. The current
// cycle finishes before Run returns; all durable state is committed
// per-message, so stopping mid-stream loses nothing.
func (p *Poller) Run(ctx context.Context) {
	p.RunCycle(ctx, time.Now())

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.RunCycle(ctx, time.Now())
		}
	}
}

// Status returns a snapshot of poll loop health.
func (p *Poller) Status() model.PollStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return model.PollStatus{
		LastFetchAt:         p.lastFetchAt,
		LastError:           p.lastErr,
		ConsecutiveFailures: p.failures,
		NextFetchAt:         p.nextFetchAt,
	}
}

// RunCycle executes one poll cycle synchronously. Reminders tick every cycle
// regardless of the fetch backoff state.
func (p *Poller) RunCycle(ctx context.Context, now time.Time) {
	p.fireDueReminders(ctx, now)

	p.mu.Lock()
	skip := now.Before(p.nextFetchAt)
	p.mu.Unlock()
	if skip {
		p.log.Debug("fetch backed off", "until", p.nextFetchAt)
		return
	}

	fctx, cancel := context.WithTimeout(ctx, p.fetchTimeout)
	summaries, err := p.mailer.FetchUnread(fctx)
	cancel()
	if err != nil {
		p.recordFailure(ctx, now, err)
		return
	}
	p.recordSuccess(now)

	p.deliver(ctx, summaries)

	if _, err := p.store.PruneDeliveries(ctx, now.Add(-p.retention)); err != nil {
		p.log.Error("prune deliveries", "error", err)
	}
}

func (p *Poller) deliver(ctx context.Context, summaries []model.MessageSummary) {
	if len(summaries) == 0 {
		return
	}

	mode, err := p.store.FilterMode(ctx)
	if err != nil {
		p.log.Error("load filter mode", "error", err)
		return
	}
	rules, err := p.store.ListRules(ctx)
	if err != nil {
		p.log.Error("load rules", "error", err)
		return
	}
	chats, err := p.store.ListChats(ctx)
	if err != nil {
		p.log.Error("list chats", "error", err)
		return
	}

	sent := 0
	for _, m := range summaries {
		if ctx.Err() != nil {
			return
		}
		if !filter.Accepts(m.Sender, mode, rules) {
			p.log.Debug("filtered out", "message_id", m.ID, "sender", m.Sender)
			continue
		}

		for _, chat := range chats {
			delivered, err := p.store.IsDelivered(ctx, chat.ChatID, m.ID)
			if err != nil {
				p.log.Error("check delivered", "message_id", m.ID, "error", err)
				continue
			}
			if delivered {
				continue
			}

			if p.sendTo(ctx, chat.ChatID, m) {
				sent++
			}
		}
	}

	if sent > 0 {
		p.log.Info("sent notifications", "count", sent)
	}
}

// sendTo delivers one message to one chat and records the delivery only on a
// confirmed send (at-least-once at the transport boundary).
func (p *Poller) sendTo(ctx context.Context, chatID int64, m model.MessageSummary) bool {
	text := bot.FormatNotification(m)
	tgID, err := p.sender.SendNotification(chatID, text, bot.NotificationKeyboard(m.ID))
	if err != nil {
		if errors.Is(err, bot.ErrChatUnavailable) {
			// not recorded: retried next cycle
			p.log.Warn("chat unavailable", "chat_id", chatID)
			return false
		}
		p.log.Error("send notification", "chat_id", chatID, "message_id", m.ID, "error", err)
		return false
	}

	d := &model.Delivery{
		ChatID:            chatID,
		MessageID:         m.ID,
		Sender:            m.Sender,
		Subject:           m.Subject,
		TelegramMessageID: tgID,
	}
	if err := p.store.MarkDelivered(ctx, d); err != nil {
		p.log.Error("mark delivered", "chat_id", chatID, "message_id", m.ID, "error", err)
	}
	return true
}

// fireDueReminders re-notifies for reminders whose due time has elapsed,
// bypassing the dedup check since a reminder is a deliberate re-notification.
func (p *Poller) fireDueReminders(ctx context.Context, now time.Time) {
	due, err := p.store.DueReminders(ctx, now)
	if err != nil {
		p.log.Error("list due reminders", "error", err)
		return
	}

	for _, r := range due {
		if err := p.store.MarkReminderFired(ctx, r.ChatID, r.MessageID); err != nil {
			p.log.Error("mark reminder fired", "message_id", r.MessageID, "error", err)
			continue
		}

		d, err := p.store.GetDelivery(ctx, r.ChatID, r.MessageID)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			// delivery snapshot pruned; send a generic reminder
			err = p.sender.SendText(r.ChatID, "📌 Reminder: you still have an unread message.")
		case err != nil:
			p.log.Error("load delivery", "message_id", r.MessageID, "error", err)
			continue
		default:
			err = p.sender.SendReply(r.ChatID, d.TelegramMessageID, bot.FormatReminder(d))
		}
		if err != nil {
			p.log.Error("send reminder", "chat_id", r.ChatID, "message_id", r.MessageID, "error", err)
		}
	}
}

func (p *Poller) recordFailure(ctx context.Context, now time.Time, err error) {
	p.mu.Lock()
	p.failures++
	p.lastErr = err.Error()
	if p.backoff == nil {
		p.backoff = retry.WithCappedDuration(p.maxBackoff, retry.NewExponential(p.interval))
	}
	delay, _ := p.backoff.Next()
	p.nextFetchAt = now.Add(delay)
	failures := p.failures
	p.mu.Unlock()

	p.log.Error("fetch unread", "error", err, "consecutive_failures", failures, "retry_in", delay)

	// alert exactly once, when crossing the threshold
	if failures == p.alertThreshold {
		p.alertAdmins(ctx, err)
	}
}

func (p *Poller) recordSuccess(now time.Time) {
	p.mu.Lock()
	p.failures = 0
	p.lastErr = ""
	p.backoff = nil
	p.nextFetchAt = time.Time{}
	p.lastFetchAt = now
	p.mu.Unlock()
}

func (p *Poller) alertAdmins(ctx context.Context, fetchErr error) {
	text := "⚠️ Mail polling is failing repeatedly: " + fetchErr.Error()
	if errors.Is(fetchErr, mail.ErrAuthExpired) {
		text = "⚠️ Gmail authorization appears to be expired or revoked. Re-run the authorization flow."
	}

	admins, err := p.store.ListAdmins(ctx)
	if err != nil {
		p.log.Error("list admins for alert", "error", err)
		return
	}
	for _, a := range admins {
		if err := p.sender.SendText(a.UserID, text); err != nil {
			p.log.Error("send alert", "user_id", a.UserID, "error", err)
		}
	}
}

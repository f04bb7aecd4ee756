package poller

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"gmail_bot/internal/bot"
	"gmail_bot/internal/config"
	"gmail_bot/internal/mail"
	"gmail_bot/internal/model"
	"gmail_bot/internal/storage"
)

type fakeMailer struct {
	mu         sync.Mutex
	summaries  []model.MessageSummary
	err        error
	fetchCalls int
}

func (f *fakeMailer) FetchUnread(_ context.Context) ([]model.MessageSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls++
	if f.err != nil {
		return nil, f.err
	}
	return f.summaries, nil
}

func (f *fakeMailer) MarkRead(_ context.Context, _ string) error { return nil }

func (f *fakeMailer) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls
}

type sentMessage struct {
	ChatID  int64
	Text    string
	ReplyTo int
}

type fakeSender struct {
	mu        sync.Mutex
	notes     []sentMessage
	texts     []sentMessage
	replies   []sentMessage
	failChats map[int64]error
	nextTgID  int
}

func (f *fakeSender) SendNotification(chatID int64, text string, _ tgbotapi.InlineKeyboardMarkup) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failChats[chatID]; err != nil {
		return 0, err
	}
	f.nextTgID++
	f.notes = append(f.notes, sentMessage{ChatID: chatID, Text: text})
	return f.nextTgID, nil
}

func (f *fakeSender) SendText(chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, sentMessage{ChatID: chatID, Text: text})
	return nil
}

func (f *fakeSender) SendReply(chatID int64, replyTo int, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, sentMessage{ChatID: chatID, Text: text, ReplyTo: replyTo})
	return nil
}

func (f *fakeSender) notifications() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]sentMessage, len(f.notes))
	copy(cp, f.notes)
	return cp
}

func newTestStore(t *testing.T) *storage.SQLite {
	t.Helper()
	s, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testConfig() *config.Config {
	return &config.Config{
		PollInterval:   time.Minute,
		FetchTimeout:   time.Second,
		MaxBackoff:     time.Minute,
		ReminderDelay:  5 * time.Minute,
		Retention:      30 * 24 * time.Hour,
		AlertThreshold: 5,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestPoller(t *testing.T, store storage.Storage, m *fakeMailer, s *fakeSender, cfg *config.Config) *Poller {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	return New(store, m, s, cfg, discardLogger())
}

func registerChat(t *testing.T, store storage.Storage, chatID int64) {
	t.Helper()
	if err := store.UpsertChat(context.Background(), &model.Chat{ChatID: chatID}); err != nil {
		t.Fatalf("register chat: %v", err)
	}
}

func summaries(pairs ...string) []model.MessageSummary {
	out := make([]model.MessageSummary, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, model.MessageSummary{
			ID:         pairs[i],
			Sender:     pairs[i+1],
			Subject:    "subject " + pairs[i],
			ReceivedAt: time.Now(),
		})
	}
	return out
}

func TestCycleFiltersAndRecordsDeliveries(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	registerChat(t, store, 100)

	if err := store.SetFilterMode(ctx, model.ModeAllow); err != nil {
		t.Fatalf("set mode: %v", err)
	}
	if err := store.AddRule(ctx, &model.FilterRule{Pattern: "corp.com"}); err != nil {
		t.Fatalf("add rule: %v", err)
	}

	mailer := &fakeMailer{summaries: summaries("A", "x@corp.com", "B", "y@spam.com")}
	sender := &fakeSender{}
	p := newTestPoller(t, store, mailer, sender, nil)

	p.RunCycle(ctx, time.Now())

	notes := sender.notifications()
	if len(notes) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(notes))
	}
	if notes[0].ChatID != 100 || !strings.Contains(notes[0].Text, "x@corp.com") {
		t.Errorf("unexpected notification: %+v", notes[0])
	}

	delivered, err := store.IsDelivered(ctx, 100, "A")
	if err != nil || !delivered {
		t.Errorf("expected A delivered: %v, %v", delivered, err)
	}
	delivered, err = store.IsDelivered(ctx, 100, "B")
	if err != nil || delivered {
		t.Errorf("filtered-out B must not be delivered: %v, %v", delivered, err)
	}
}

func TestCycleSkipsAlreadyDelivered(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	registerChat(t, store, 100)

	// deny mode, empty rules: everything accepted
	mailer := &fakeMailer{summaries: summaries("A", "x@corp.com")}
	sender := &fakeSender{}
	p := newTestPoller(t, store, mailer, sender, nil)

	p.RunCycle(ctx, time.Now())
	if n := len(sender.notifications()); n != 1 {
		t.Fatalf("first cycle: expected 1 notification, got %d", n)
	}

	// A is still unread upstream; B is new
	mailer.mu.Lock()
	mailer.summaries = summaries("A", "x@corp.com", "B", "y@other.com")
	mailer.mu.Unlock()

	p.RunCycle(ctx, time.Now())
	notes := sender.notifications()
	if len(notes) != 2 {
		t.Fatalf("second cycle: expected 2 notifications total, got %d", len(notes))
	}
	if !strings.Contains(notes[1].Text, "y@other.com") {
		t.Errorf("second notification should be B, got %q", notes[1].Text)
	}
}

func TestChatUnavailableRetriedNextCycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	registerChat(t, store, 100)

	mailer := &fakeMailer{summaries: summaries("A", "x@corp.com")}
	sender := &fakeSender{failChats: map[int64]error{
		100: fmt.Errorf("%w: blocked", bot.ErrChatUnavailable),
	}}
	p := newTestPoller(t, store, mailer, sender, nil)

	p.RunCycle(ctx, time.Now())
	delivered, err := store.IsDelivered(ctx, 100, "A")
	if err != nil || delivered {
		t.Fatalf("failed send must not be recorded: %v, %v", delivered, err)
	}

	// the chat comes back; delivery succeeds on the next cycle
	sender.mu.Lock()
	sender.failChats = nil
	sender.mu.Unlock()

	p.RunCycle(ctx, time.Now())
	delivered, err = store.IsDelivered(ctx, 100, "A")
	if err != nil || !delivered {
		t.Errorf("expected A delivered on retry: %v, %v", delivered, err)
	}
}

func TestFetchFailureAlertsExactlyOnceAtThreshold(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	if err := store.AddAdmin(ctx, &model.Admin{UserID: 1, Owner: true}); err != nil {
		t.Fatalf("add admin: %v", err)
	}

	mailer := &fakeMailer{err: fmt.Errorf("%w: token revoked", mail.ErrAuthExpired)}
	sender := &fakeSender{}
	p := newTestPoller(t, store, mailer, sender, nil)

	// advance well past any backoff so every cycle actually fetches
	now := time.Now()
	for i := 0; i < 7; i++ {
		p.RunCycle(ctx, now)
		now = now.Add(time.Hour)
	}

	if calls := mailer.calls(); calls != 7 {
		t.Fatalf("expected 7 fetch attempts, got %d", calls)
	}

	alerts := 0
	sender.mu.Lock()
	for _, m := range sender.texts {
		if m.ChatID == 1 && strings.Contains(m.Text, "authorization") {
			alerts++
		}
	}
	sender.mu.Unlock()
	if alerts != 1 {
		t.Fatalf("expected exactly 1 admin alert, got %d", alerts)
	}

	if st := p.Status(); st.ConsecutiveFailures != 7 {
		t.Errorf("consecutive failures = %d, want 7", st.ConsecutiveFailures)
	}

	// recovery resets the counter so a later outage alerts again
	mailer.mu.Lock()
	mailer.err = nil
	mailer.mu.Unlock()
	p.RunCycle(ctx, now)
	if st := p.Status(); st.ConsecutiveFailures != 0 {
		t.Errorf("consecutive failures after recovery = %d, want 0", st.ConsecutiveFailures)
	}
}

func TestBackoffSkipsFetchButRemindersStillFire(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	registerChat(t, store, 100)

	mailer := &fakeMailer{err: fmt.Errorf("%w: 503", mail.ErrTransient)}
	sender := &fakeSender{}
	p := newTestPoller(t, store, mailer, sender, nil)

	start := time.Now()
	p.RunCycle(ctx, start)
	if calls := mailer.calls(); calls != 1 {
		t.Fatalf("expected 1 fetch attempt, got %d", calls)
	}

	// a reminder falls due while the fetch is backed off
	if err := store.MarkDelivered(ctx, &model.Delivery{
		ChatID: 100, MessageID: "A", Sender: "x@corp.com", Subject: "hi", TelegramMessageID: 7,
	}); err != nil {
		t.Fatalf("mark delivered: %v", err)
	}
	if err := store.UpsertReminder(ctx, &model.Reminder{ChatID: 100, MessageID: "A", DueAt: start}); err != nil {
		t.Fatalf("upsert reminder: %v", err)
	}

	p.RunCycle(ctx, start.Add(time.Second))
	if calls := mailer.calls(); calls != 1 {
		t.Errorf("fetch during backoff: got %d attempts, want still 1", calls)
	}

	sender.mu.Lock()
	replies := len(sender.replies)
	sender.mu.Unlock()
	if replies != 1 {
		t.Fatalf("expected reminder reply during backoff, got %d", replies)
	}
}

func TestReminderFiresOnceAndCanBeRescheduled(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	registerChat(t, store, 100)

	mailer := &fakeMailer{}
	sender := &fakeSender{}
	p := newTestPoller(t, store, mailer, sender, nil)

	now := time.Now()
	if err := store.MarkDelivered(ctx, &model.Delivery{
		ChatID: 100, MessageID: "A", Sender: "x@corp.com", Subject: "quarterly numbers", TelegramMessageID: 7,
	}); err != nil {
		t.Fatalf("mark delivered: %v", err)
	}
	if err := store.UpsertReminder(ctx, &model.Reminder{ChatID: 100, MessageID: "A", DueAt: now.Add(-time.Minute)}); err != nil {
		t.Fatalf("upsert reminder: %v", err)
	}

	p.RunCycle(ctx, now)
	p.RunCycle(ctx, now.Add(time.Hour))

	sender.mu.Lock()
	replies := make([]sentMessage, len(sender.replies))
	copy(replies, sender.replies)
	sender.mu.Unlock()

	if len(replies) != 1 {
		t.Fatalf("expected reminder to fire once, got %d", len(replies))
	}
	if replies[0].ReplyTo != 7 || !strings.Contains(replies[0].Text, "quarterly numbers") {
		t.Errorf("unexpected reminder: %+v", replies[0])
	}

	// re-scheduling after firing makes it due again
	if err := store.UpsertReminder(ctx, &model.Reminder{ChatID: 100, MessageID: "A", DueAt: now}); err != nil {
		t.Fatalf("re-upsert reminder: %v", err)
	}
	p.RunCycle(ctx, now.Add(2*time.Hour))

	sender.mu.Lock()
	replies2 := len(sender.replies)
	sender.mu.Unlock()
	if replies2 != 2 {
		t.Errorf("expected second reminder after re-schedule, got %d", replies2)
	}
}

func TestCancelledReminderDoesNotFire(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	registerChat(t, store, 100)

	mailer := &fakeMailer{}
	sender := &fakeSender{}
	p := newTestPoller(t, store, mailer, sender, nil)

	now := time.Now()
	if err := store.UpsertReminder(ctx, &model.Reminder{ChatID: 100, MessageID: "A", DueAt: now.Add(-time.Minute)}); err != nil {
		t.Fatalf("upsert reminder: %v", err)
	}
	if err := store.CancelReminder(ctx, 100, "A"); err != nil {
		t.Fatalf("cancel reminder: %v", err)
	}

	p.RunCycle(ctx, now)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.replies) != 0 || len(sender.texts) != 0 {
		t.Errorf("cancelled reminder fired: replies=%d texts=%d", len(sender.replies), len(sender.texts))
	}
}

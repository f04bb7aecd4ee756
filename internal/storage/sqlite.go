package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration.

	"gmail_bot/internal/model"
	"gmail_bot/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
// A database that cannot be opened or migrated is a startup-fatal condition.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// IsDelivered checks whether a message was already delivered to a chat.
func (s *SQLite) IsDelivered(ctx context.Context, chatID int64, messageID string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM deliveries WHERE chat_id = ? AND message_id = ?`,
		chatID, messageID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check delivered: %w", err)
	}
	return count > 0, nil
}

// MarkDelivered records a delivery and populates its DeliveredAt.
func (s *SQLite) MarkDelivered(ctx context.Context, d *model.Delivery) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO deliveries (chat_id, message_id, sender, subject, tg_message_id, delivered_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		d.ChatID, d.MessageID, d.Sender, d.Subject, d.TelegramMessageID, now,
	)
	if err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	d.DeliveredAt, _ = time.Parse(timeLayout, now)
	return nil
}

// GetDelivery returns the delivery record for a (chat, message) pair.
func (s *SQLite) GetDelivery(ctx context.Context, chatID int64, messageID string) (*model.Delivery, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT chat_id, message_id, sender, subject, tg_message_id, delivered_at
		 FROM deliveries WHERE chat_id = ? AND message_id = ?`,
		chatID, messageID,
	)
	var d model.Delivery
	var deliveredStr string
	err := row.Scan(&d.ChatID, &d.MessageID, &d.Sender, &d.Subject, &d.TelegramMessageID, &deliveredStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan delivery: %w", err)
	}
	d.DeliveredAt, _ = time.Parse(timeLayout, deliveredStr)
	return &d, nil
}

// PruneDeliveries evicts deliveries older than the cutoff and returns the
// number of rows removed. Gmail's unread list remains the source of truth, so
// eviction never causes incorrect behavior, only a possible duplicate for
// very old unread mail.
func (s *SQLite) PruneDeliveries(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM deliveries WHERE delivered_at < ?`,
		before.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("prune deliveries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// UpsertReminder inserts or replaces the reminder for a (chat, message) pair.
func (s *SQLite) UpsertReminder(ctx context.Context, r *model.Reminder) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO reminders (chat_id, message_id, due_at, fired, created_at)
		 VALUES (?, ?, ?, 0, ?)
		 ON CONFLICT (chat_id, message_id)
		 DO UPDATE SET due_at = excluded.due_at, fired = 0`,
		r.ChatID, r.MessageID, r.DueAt.UTC().Format(timeLayout), now,
	)
	if err != nil {
		return fmt.Errorf("upsert reminder: %w", err)
	}
	r.Fired = false
	r.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// DueReminders returns unfired reminders whose due time has elapsed.
func (s *SQLite) DueReminders(ctx context.Context, now time.Time) ([]model.Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, message_id, due_at, fired, created_at
		 FROM reminders
		 WHERE fired = 0 AND due_at <= ?
		 ORDER BY due_at`,
		now.UTC().Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("query due reminders: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Reminder
	for rows.Next() {
		var r model.Reminder
		var fired int
		var dueStr, createdStr string
		if err := rows.Scan(&r.ChatID, &r.MessageID, &dueStr, &fired, &createdStr); err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		r.Fired = fired == 1
		r.DueAt, _ = time.Parse(timeLayout, dueStr)
		r.CreatedAt, _ = time.Parse(timeLayout, createdStr)
		out = append(out, r)
	}
	return out, rows.Err()
}

// MarkReminderFired marks a reminder as fired.
func (s *SQLite) MarkReminderFired(ctx context.Context, chatID int64, messageID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET fired = 1 WHERE chat_id = ? AND message_id = ?`,
		chatID, messageID,
	)
	if err != nil {
		return fmt.Errorf("mark reminder fired: %w", err)
	}
	return nil
}

// CancelReminder removes a reminder. Removing a reminder that does not exist
// is a no-op.
func (s *SQLite) CancelReminder(ctx context.Context, chatID int64, messageID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM reminders WHERE chat_id = ? AND message_id = ?`,
		chatID, messageID,
	)
	if err != nil {
		return fmt.Errorf("cancel reminder: %w", err)
	}
	return nil
}

// ListAdmins returns all registered admins ordered by user ID.
func (s *SQLite) ListAdmins(ctx context.Context) ([]model.Admin, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, is_owner, added_at FROM admins ORDER BY user_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query admins: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Admin
	for rows.Next() {
		var a model.Admin
		var owner int
		var addedStr string
		if err := rows.Scan(&a.UserID, &owner, &addedStr); err != nil {
			return nil, fmt.Errorf("scan admin: %w", err)
		}
		a.Owner = owner == 1
		a.AddedAt, _ = time.Parse(timeLayout, addedStr)
		out = append(out, a)
	}
	return out, rows.Err()
}

// IsAdmin checks whether a user is a registered admin.
func (s *SQLite) IsAdmin(ctx context.Context, userID int64) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM admins WHERE user_id = ?`, userID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check admin: %w", err)
	}
	return count > 0, nil
}

// AddAdmin inserts an admin, ignoring an already-registered user.
func (s *SQLite) AddAdmin(ctx context.Context, a *model.Admin) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO admins (user_id, is_owner, added_at) VALUES (?, ?, ?)`,
		a.UserID, boolToInt(a.Owner), now,
	)
	if err != nil {
		return fmt.Errorf("insert admin: %w", err)
	}
	a.AddedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// RemoveAdmin deletes an admin row. Last-admin and owner protection is
// enforced by the authorization gate, not here.
func (s *SQLite) RemoveAdmin(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM admins WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("delete admin: %w", err)
	}
	return nil
}

// CountAdmins returns the number of registered admins.
func (s *SQLite) CountAdmins(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM admins`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count admins: %w", err)
	}
	return count, nil
}

// AddPending records a user awaiting admin approval.
func (s *SQLite) AddPending(ctx context.Context, userID int64) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO pending_admins (user_id, requested_at) VALUES (?, ?)`,
		userID, now,
	)
	if err != nil {
		return fmt.Errorf("insert pending: %w", err)
	}
	return nil
}

// IsPending checks whether a user has a pending approval request.
func (s *SQLite) IsPending(ctx context.Context, userID int64) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pending_admins WHERE user_id = ?`, userID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check pending: %w", err)
	}
	return count > 0, nil
}

// RemovePending clears a pending approval request.
func (s *SQLite) RemovePending(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM pending_admins WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("delete pending: %w", err)
	}
	return nil
}

// UpsertChat registers a destination chat, keeping an existing lockdown flag.
func (s *SQLite) UpsertChat(ctx context.Context, c *model.Chat) error {
	now := time.Now().UTC().Format(timeLayout)
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO chats (chat_id, locked, added_at) VALUES (?, ?, ?)`,
		c.ChatID, boolToInt(c.Locked), now,
	)
	if err != nil {
		return fmt.Errorf("insert chat: %w", err)
	}
	c.AddedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// GetChat returns a registered chat by its ID.
func (s *SQLite) GetChat(ctx context.Context, chatID int64) (*model.Chat, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT chat_id, locked, added_at FROM chats WHERE chat_id = ?`, chatID,
	)
	var c model.Chat
	var locked int
	var addedStr string
	err := row.Scan(&c.ChatID, &locked, &addedStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan chat: %w", err)
	}
	c.Locked = locked == 1
	c.AddedAt, _ = time.Parse(timeLayout, addedStr)
	return &c, nil
}

// ListChats returns all registered destination chats.
func (s *SQLite) ListChats(ctx context.Context) ([]model.Chat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, locked, added_at FROM chats ORDER BY chat_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query chats: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Chat
	for rows.Next() {
		var c model.Chat
		var locked int
		var addedStr string
		if err := rows.Scan(&c.ChatID, &locked, &addedStr); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		c.Locked = locked == 1
		c.AddedAt, _ = time.Parse(timeLayout, addedStr)
		out = append(out, c)
	}
	return out, rows.Err()
}

// SetChatLocked updates the lockdown flag of a registered chat.
func (s *SQLite) SetChatLocked(ctx context.Context, chatID int64, locked bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE chats SET locked = ? WHERE chat_id = ?`, boolToInt(locked), chatID,
	)
	if err != nil {
		return fmt.Errorf("set chat locked: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// RemoveChat unregisters a destination chat and its per-chat state.
func (s *SQLite) RemoveChat(ctx context.Context, chatID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM reminders WHERE chat_id = ?`, chatID); err != nil {
		return fmt.Errorf("delete reminders: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM deliveries WHERE chat_id = ?`, chatID); err != nil {
		return fmt.Errorf("delete deliveries: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chats WHERE chat_id = ?`, chatID); err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	return tx.Commit()
}

// FilterMode returns the active filter mode.
func (s *SQLite) FilterMode(ctx context.Context) (model.FilterMode, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = 'filter_mode'`,
	).Scan(&value)
	if err != nil {
		return "", fmt.Errorf("get filter mode: %w", err)
	}
	return model.FilterMode(value), nil
}

// SetFilterMode switches the active filter mode.
func (s *SQLite) SetFilterMode(ctx context.Context, mode model.FilterMode) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE settings SET value = ? WHERE key = 'filter_mode'`, string(mode),
	)
	if err != nil {
		return fmt.Errorf("set filter mode: %w", err)
	}
	return nil
}

// ListRules returns all filter rules ordered by ID.
func (s *SQLite) ListRules(ctx context.Context) ([]model.FilterRule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, pattern, created_at FROM filter_rules ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.FilterRule
	for rows.Next() {
		var r model.FilterRule
		var createdStr string
		if err := rows.Scan(&r.ID, &r.Pattern, &createdStr); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		r.CreatedAt, _ = time.Parse(timeLayout, createdStr)
		out = append(out, r)
	}
	return out, rows.Err()
}

// AddRule inserts a filter rule and populates its ID and CreatedAt.
func (s *SQLite) AddRule(ctx context.Context, r *model.FilterRule) error {
	now := time.Now().UTC().Format(timeLayout)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO filter_rules (pattern, created_at) VALUES (?, ?)`,
		r.Pattern, now,
	)
	if err != nil {
		return fmt.Errorf("insert rule: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}
	r.ID = id
	r.CreatedAt, _ = time.Parse(timeLayout, now)
	return nil
}

// RemoveRule deletes a filter rule by its ID.
func (s *SQLite) RemoveRule(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM filter_rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Package sqlite stores reminders in a single SQLite file for single-node
// deployments. Timestamps are kept as UTC unix nanoseconds so that ordering
// works on the integer column.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	domain "herald/internal/domain/reminder"
	"herald/internal/shared/logging"
)

const reminderColumns = `id, owner_id, reminder_type, trigger_condition, content, title, priority,
    is_repeat, repeat_interval_seconds, enabled, last_triggered, trigger_count, task_id,
    created_at, updated_at`

// Repository implements domain.Repository on database/sql.
type Repository struct {
	db     *sql.DB
	logger logging.Logger
}

// Open opens (or creates) the database at path with WAL journaling. The pool
// is capped at one connection because SQLite serializes writers anyway.
func Open(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func New(db *sql.DB) (*Repository, error) {
	if db == nil {
		return nil, errors.New("sqlite repository requires db")
	}
	return &Repository{db: db, logger: logging.NewComponentLogger("ReminderSQLiteStore")}, nil
}

// EnsureSchema creates the tables if they do not exist.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS reminders (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    owner_id TEXT NOT NULL,
    reminder_type TEXT NOT NULL,
    trigger_condition TEXT NOT NULL,
    content TEXT NOT NULL,
    title TEXT NOT NULL DEFAULT '',
    priority INTEGER NOT NULL DEFAULT 1,
    is_repeat INTEGER NOT NULL DEFAULT 0,
    repeat_interval_seconds INTEGER NOT NULL DEFAULT 0,
    enabled INTEGER NOT NULL DEFAULT 1,
    last_triggered INTEGER,
    trigger_count INTEGER NOT NULL DEFAULT 0,
    task_id TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_reminders_owner ON reminders (owner_id, enabled, priority)`,
		`CREATE TABLE IF NOT EXISTS confirmations (
    id TEXT PRIMARY KEY,
    reminder_id INTEGER NOT NULL,
    owner_id TEXT NOT NULL,
    content TEXT NOT NULL,
    triggered_at INTEGER NOT NULL,
    confirmed_at INTEGER NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_confirmations_owner ON confirmations (owner_id, confirmed_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_confirmations_reminder ON confirmations (reminder_id, triggered_at DESC)`,
	}
	for _, stmt := range statements {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	r.logger.Debug("schema ready")
	return nil
}

func (r *Repository) Insert(ctx context.Context, rem domain.Reminder, condition []byte) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
INSERT INTO reminders (
    owner_id, reminder_type, trigger_condition, content, title, priority,
    is_repeat, repeat_interval_seconds, enabled, last_triggered, trigger_count, task_id,
    created_at, updated_at
) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rem.OwnerID,
		string(rem.Type),
		string(condition),
		rem.Content,
		rem.Title,
		rem.Priority,
		rem.Repeat,
		int64(rem.RepeatInterval/time.Second),
		rem.Enabled,
		nullableNanos(rem.LastTriggered),
		rem.TriggerCount,
		rem.TaskID,
		rem.CreatedAt.UnixNano(),
		rem.UpdatedAt.UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert reminder: %w", err)
	}
	return res.LastInsertId()
}

func (r *Repository) Get(ctx context.Context, id int64) (*domain.Reminder, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+reminderColumns+` FROM reminders WHERE id = ?`, id)
	rem, err := scanReminder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get reminder %d: %w", id, err)
	}
	return &rem, nil
}

func (r *Repository) List(ctx context.Context, q domain.ListQuery) ([]domain.Reminder, error) {
	query := `SELECT ` + reminderColumns + ` FROM reminders WHERE owner_id = ?`
	args := []any{q.OwnerID}
	if q.EnabledOnly {
		query += ` AND enabled = 1`
	}
	if q.Type != "" {
		query += ` AND reminder_type = ?`
		args = append(args, string(q.Type))
	}
	query += ` ORDER BY enabled DESC, priority ASC, created_at DESC, id DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Reminder, 0)
	for rows.Next() {
		rem, err := scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		out = append(out, rem)
	}
	return out, rows.Err()
}

// rowQuerier is satisfied by both *sql.DB and *sql.Tx.
type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *Repository) Update(ctx context.Context, id int64, patch domain.EncodedPatch, updatedAt time.Time) (string, error) {
	return updateReminder(ctx, r.db, id, patch, updatedAt)
}

func updateReminder(ctx context.Context, db rowQuerier, id int64, patch domain.EncodedPatch, updatedAt time.Time) (string, error) {
	var (
		sets []string
		args []any
	)
	set := func(column string, value any) {
		sets = append(sets, column+" = ?")
		args = append(args, value)
	}
	if patch.Title != nil {
		set("title", *patch.Title)
	}
	if patch.Content != nil {
		set("content", *patch.Content)
	}
	if patch.Priority != nil {
		set("priority", *patch.Priority)
	}
	if patch.ConditionJSON != nil {
		if patch.Type != nil {
			set("reminder_type", string(*patch.Type))
		}
		set("trigger_condition", string(patch.ConditionJSON))
	}
	if patch.Repeat != nil {
		set("is_repeat", *patch.Repeat)
	}
	if patch.RepeatInterval != nil {
		set("repeat_interval_seconds", int64(*patch.RepeatInterval/time.Second))
	}
	if patch.Enabled != nil {
		set("enabled", *patch.Enabled)
	}
	if patch.LastTriggered != nil {
		set("last_triggered", patch.LastTriggered.UnixNano())
	}
	if patch.TriggerCount != nil {
		set("trigger_count", *patch.TriggerCount)
	}
	if patch.TaskID != nil {
		set("task_id", *patch.TaskID)
	}
	set("updated_at", updatedAt.UnixNano())
	args = append(args, id)

	var owner string
	err := db.QueryRowContext(ctx,
		`UPDATE reminders SET `+strings.Join(sets, ", ")+` WHERE id = ? RETURNING owner_id`, args...,
	).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("update reminder %d: %w", id, err)
	}
	return owner, nil
}

func (r *Repository) Delete(ctx context.Context, id int64) (string, error) {
	var owner string
	err := r.db.QueryRowContext(ctx, `DELETE FROM reminders WHERE id = ? RETURNING owner_id`, id).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("delete reminder %d: %w", id, err)
	}
	return owner, nil
}

func (r *Repository) Owners(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT owner_id FROM reminders WHERE enabled = 1 ORDER BY owner_id`)
	if err != nil {
		return nil, fmt.Errorf("list owners: %w", err)
	}
	defer rows.Close()

	var owners []string
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, err
		}
		owners = append(owners, owner)
	}
	return owners, rows.Err()
}

func (r *Repository) PruneDisabled(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
DELETE FROM reminders
WHERE enabled = 0
  AND NOT (is_repeat = 1 AND repeat_interval_seconds > 0)
  AND updated_at < ?`, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune reminders: %w", err)
	}
	return res.RowsAffected()
}

// Confirm applies the state patch and appends the record in one transaction.
func (r *Repository) Confirm(ctx context.Context, record domain.ConfirmationRecord, patch domain.EncodedPatch, updatedAt time.Time) (string, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin confirm: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	owner, err := updateReminder(ctx, tx, record.ReminderID, patch, updatedAt)
	if err != nil {
		return "", err
	}
	if _, err := tx.ExecContext(ctx, `
INSERT INTO confirmations (id, reminder_id, owner_id, content, triggered_at, confirmed_at)
VALUES (?,?,?,?,?,?)`,
		record.ID, record.ReminderID, record.OwnerID, record.Content,
		record.TriggeredAt.UnixNano(), record.ConfirmedAt.UnixNano(),
	); err != nil {
		return "", fmt.Errorf("insert confirmation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit confirm: %w", err)
	}
	return owner, nil
}

func (r *Repository) ListConfirmations(ctx context.Context, ownerID string, limit int) ([]domain.ConfirmationRecord, error) {
	query := `SELECT id, reminder_id, owner_id, content, triggered_at, confirmed_at
FROM confirmations WHERE owner_id = ? ORDER BY confirmed_at DESC, rowid DESC`
	args := []any{ownerID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list confirmations: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ConfirmationRecord, 0)
	for rows.Next() {
		var (
			rec                    domain.ConfirmationRecord
			triggered, confirmedAt int64
		)
		if err := rows.Scan(&rec.ID, &rec.ReminderID, &rec.OwnerID, &rec.Content, &triggered, &confirmedAt); err != nil {
			return nil, fmt.Errorf("scan confirmation: %w", err)
		}
		rec.TriggeredAt = fromNanos(triggered)
		rec.ConfirmedAt = fromNanos(confirmedAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *Repository) LatestConfirmations(ctx context.Context, reminderIDs []int64) (map[int64]time.Time, error) {
	latest := make(map[int64]time.Time, len(reminderIDs))
	if len(reminderIDs) == 0 {
		return latest, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(reminderIDs)), ",")
	args := make([]any, len(reminderIDs))
	for i, id := range reminderIDs {
		args[i] = id
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT reminder_id, MAX(triggered_at) FROM confirmations WHERE reminder_id IN (`+placeholders+`) GROUP BY reminder_id`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("latest confirmations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, at int64
		if err := rows.Scan(&id, &at); err != nil {
			return nil, fmt.Errorf("scan confirmation: %w", err)
		}
		latest[id] = fromNanos(at)
	}
	return latest, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReminder(row scanner) (domain.Reminder, error) {
	var (
		rem                  domain.Reminder
		reminderType         string
		condition            string
		intervalSeconds      int64
		lastTriggered        sql.NullInt64
		createdAt, updatedAt int64
	)
	if err := row.Scan(
		&rem.ID,
		&rem.OwnerID,
		&reminderType,
		&condition,
		&rem.Content,
		&rem.Title,
		&rem.Priority,
		&rem.Repeat,
		&intervalSeconds,
		&rem.Enabled,
		&lastTriggered,
		&rem.TriggerCount,
		&rem.TaskID,
		&createdAt,
		&updatedAt,
	); err != nil {
		return domain.Reminder{}, err
	}
	rem.Type = domain.Type(reminderType)
	rem.RepeatInterval = time.Duration(intervalSeconds) * time.Second
	if lastTriggered.Valid {
		ts := fromNanos(lastTriggered.Int64)
		rem.LastTriggered = &ts
	}
	rem.CreatedAt = fromNanos(createdAt)
	rem.UpdatedAt = fromNanos(updatedAt)
	domain.DecodeInto(&rem, []byte(condition))
	return rem, nil
}

func nullableNanos(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

var _ domain.Repository = (*Repository)(nil)

package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	domain "herald/internal/domain/reminder"
	"herald/internal/shared/logging"
)

const (
	reminderTable     = "herald_reminders"
	confirmationTable = "herald_confirmations"
)

const reminderColumns = `id, owner_id, reminder_type, trigger_condition, content, title, priority,
    is_repeat, repeat_interval_seconds, enabled, last_triggered, trigger_count, task_id,
    created_at, updated_at`

// querier is the statement surface shared by the pool and a pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// pool abstracts the subset of pgxpool.Pool used by the repository for easier testing.
type pool interface {
	querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Repository stores reminders and confirmation records in Postgres. The
// trigger condition lives in a JSONB column and is decoded on every read.
type Repository struct {
	pool   pool
	logger logging.Logger
}

// Open connects a pgx pool to dsn and verifies it with a ping.
func Open(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return p, nil
}

// New builds a Repository backed by the provided connection pool.
func New(p pool) (*Repository, error) {
	if p == nil {
		return nil, errors.New("postgres repository requires pool")
	}
	return &Repository{pool: p, logger: logging.NewComponentLogger("ReminderPostgresStore")}, nil
}

// EnsureSchema creates the reminder and confirmation tables if they do not exist.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id BIGSERIAL PRIMARY KEY,
    owner_id TEXT NOT NULL,
    reminder_type TEXT NOT NULL,
    trigger_condition JSONB NOT NULL,
    content TEXT NOT NULL,
    title TEXT NOT NULL DEFAULT '',
    priority SMALLINT NOT NULL DEFAULT 1,
    is_repeat BOOLEAN NOT NULL DEFAULT FALSE,
    repeat_interval_seconds BIGINT NOT NULL DEFAULT 0,
    enabled BOOLEAN NOT NULL DEFAULT TRUE,
    last_triggered TIMESTAMPTZ,
    trigger_count INTEGER NOT NULL DEFAULT 0,
    task_id TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);`, reminderTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_herald_reminders_owner ON %s (owner_id, enabled, priority);`, reminderTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id TEXT PRIMARY KEY,
    reminder_id BIGINT NOT NULL,
    owner_id TEXT NOT NULL,
    content TEXT NOT NULL,
    triggered_at TIMESTAMPTZ NOT NULL,
    confirmed_at TIMESTAMPTZ NOT NULL
);`, confirmationTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_herald_confirmations_owner ON %s (owner_id, confirmed_at DESC);`, confirmationTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_herald_confirmations_reminder ON %s (reminder_id, triggered_at DESC);`, confirmationTable),
	}
	for _, stmt := range statements {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	r.logger.Info("schema ready (%s, %s)", reminderTable, confirmationTable)
	return nil
}

func (r *Repository) Insert(ctx context.Context, rem domain.Reminder, condition []byte) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, fmt.Sprintf(`
INSERT INTO %s (
    owner_id, reminder_type, trigger_condition, content, title, priority,
    is_repeat, repeat_interval_seconds, enabled, last_triggered, trigger_count, task_id,
    created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
RETURNING id`, reminderTable),
		rem.OwnerID,
		string(rem.Type),
		condition,
		rem.Content,
		rem.Title,
		rem.Priority,
		rem.Repeat,
		int64(rem.RepeatInterval/time.Second),
		rem.Enabled,
		rem.LastTriggered,
		rem.TriggerCount,
		rem.TaskID,
		rem.CreatedAt,
		rem.UpdatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert reminder: %w", err)
	}
	return id, nil
}

func (r *Repository) Get(ctx context.Context, id int64) (*domain.Reminder, error) {
	row := r.pool.QueryRow(ctx, fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, reminderColumns, reminderTable), id)
	rem, err := scanReminder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get reminder %d: %w", id, err)
	}
	return &rem, nil
}

func (r *Repository) List(ctx context.Context, q domain.ListQuery) ([]domain.Reminder, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE owner_id = $1`, reminderColumns, reminderTable)
	args := []any{q.OwnerID}
	if q.EnabledOnly {
		query += ` AND enabled = TRUE`
	}
	if q.Type != "" {
		args = append(args, string(q.Type))
		query += fmt.Sprintf(` AND reminder_type = $%d`, len(args))
	}
	query += ` ORDER BY enabled DESC, priority ASC, created_at DESC, id DESC`

	rows, err := r.pool.Query(ctx, query, args...)
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
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}
	return out, nil
}

func (r *Repository) Update(ctx context.Context, id int64, patch domain.EncodedPatch, updatedAt time.Time) (string, error) {
	return updateReminder(ctx, r.pool, id, patch, updatedAt)
}

func updateReminder(ctx context.Context, q querier, id int64, patch domain.EncodedPatch, updatedAt time.Time) (string, error) {
	var (
		sets []string
		args []any
	)
	set := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
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
		set("trigger_condition", patch.ConditionJSON)
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
		set("last_triggered", *patch.LastTriggered)
	}
	if patch.TriggerCount != nil {
		set("trigger_count", *patch.TriggerCount)
	}
	if patch.TaskID != nil {
		set("task_id", *patch.TaskID)
	}
	set("updated_at", updatedAt)
	args = append(args, id)

	query := fmt.Sprintf(`UPDATE %s SET %s WHERE id = $%d RETURNING owner_id`,
		reminderTable, strings.Join(sets, ", "), len(args))
	var owner string
	err := q.QueryRow(ctx, query, args...).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("update reminder %d: %w", id, err)
	}
	return owner, nil
}

func (r *Repository) Delete(ctx context.Context, id int64) (string, error) {
	var owner string
	err := r.pool.QueryRow(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1 RETURNING owner_id`, reminderTable), id).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("delete reminder %d: %w", id, err)
	}
	return owner, nil
}

func (r *Repository) Owners(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT DISTINCT owner_id FROM %s WHERE enabled = TRUE ORDER BY owner_id`, reminderTable))
	if err != nil {
		return nil, fmt.Errorf("list owners: %w", err)
	}
	defer rows.Close()

	var owners []string
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, fmt.Errorf("scan owner: %w", err)
		}
		owners = append(owners, owner)
	}
	return owners, rows.Err()
}

func (r *Repository) PruneDisabled(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, fmt.Sprintf(`
DELETE FROM %s
WHERE enabled = FALSE
  AND NOT (is_repeat AND repeat_interval_seconds > 0)
  AND updated_at < $1`, reminderTable), before)
	if err != nil {
		return 0, fmt.Errorf("prune reminders: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Confirm applies the state patch and appends the record in one transaction.
func (r *Repository) Confirm(ctx context.Context, record domain.ConfirmationRecord, patch domain.EncodedPatch, updatedAt time.Time) (string, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin confirm: %w", err)
	}
	owner, err := confirmInTx(ctx, tx, record, patch, updatedAt)
	if err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			r.logger.Warn("rollback confirm of reminder %d: %v", record.ReminderID, rbErr)
		}
		return "", err
	}
	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit confirm: %w", err)
	}
	return owner, nil
}

func confirmInTx(ctx context.Context, tx pgx.Tx, record domain.ConfirmationRecord, patch domain.EncodedPatch, updatedAt time.Time) (string, error) {
	owner, err := updateReminder(ctx, tx, record.ReminderID, patch, updatedAt)
	if err != nil {
		return "", err
	}
	_, err = tx.Exec(ctx, fmt.Sprintf(`
INSERT INTO %s (id, reminder_id, owner_id, content, triggered_at, confirmed_at)
VALUES ($1,$2,$3,$4,$5,$6)`, confirmationTable),
		record.ID,
		record.ReminderID,
		record.OwnerID,
		record.Content,
		record.TriggeredAt,
		record.ConfirmedAt,
	)
	if err != nil {
		return "", fmt.Errorf("insert confirmation: %w", err)
	}
	return owner, nil
}

func (r *Repository) ListConfirmations(ctx context.Context, ownerID string, limit int) ([]domain.ConfirmationRecord, error) {
	query := fmt.Sprintf(`
SELECT id, reminder_id, owner_id, content, triggered_at, confirmed_at
FROM %s
WHERE owner_id = $1
ORDER BY confirmed_at DESC`, confirmationTable)
	args := []any{ownerID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list confirmations: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ConfirmationRecord, 0)
	for rows.Next() {
		var rec domain.ConfirmationRecord
		if err := rows.Scan(&rec.ID, &rec.ReminderID, &rec.OwnerID, &rec.Content, &rec.TriggeredAt, &rec.ConfirmedAt); err != nil {
			return nil, fmt.Errorf("scan confirmation: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *Repository) LatestConfirmations(ctx context.Context, reminderIDs []int64) (map[int64]time.Time, error) {
	latest := make(map[int64]time.Time, len(reminderIDs))
	if len(reminderIDs) == 0 {
		return latest, nil
	}
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
SELECT reminder_id, MAX(triggered_at)
FROM %s
WHERE reminder_id = ANY($1)
GROUP BY reminder_id`, confirmationTable), reminderIDs)
	if err != nil {
		return nil, fmt.Errorf("latest confirmations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id int64
			at time.Time
		)
		if err := rows.Scan(&id, &at); err != nil {
			return nil, fmt.Errorf("scan confirmation: %w", err)
		}
		latest[id] = at
	}
	return latest, rows.Err()
}

func scanReminder(row pgx.Row) (domain.Reminder, error) {
	var (
		rem             domain.Reminder
		reminderType    string
		condition       []byte
		priority        int
		intervalSeconds int64
		lastTriggered   *time.Time
		triggerCount    int
	)
	if err := row.Scan(
		&rem.ID,
		&rem.OwnerID,
		&reminderType,
		&condition,
		&rem.Content,
		&rem.Title,
		&priority,
		&rem.Repeat,
		&intervalSeconds,
		&rem.Enabled,
		&lastTriggered,
		&triggerCount,
		&rem.TaskID,
		&rem.CreatedAt,
		&rem.UpdatedAt,
	); err != nil {
		return domain.Reminder{}, err
	}
	rem.Type = domain.Type(reminderType)
	rem.Priority = priority
	rem.RepeatInterval = time.Duration(intervalSeconds) * time.Second
	rem.LastTriggered = lastTriggered
	rem.TriggerCount = triggerCount
	domain.DecodeInto(&rem, condition)
	return rem, nil
}

var _ domain.Repository = (*Repository)(nil)

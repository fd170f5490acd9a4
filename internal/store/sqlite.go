package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/me/flightlogic/pkg/model"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns a Store.
// Use ":memory:" for an in-memory database (useful in tests).
//
// The logger must not route records back into this store's logs table.
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dsn := dbPath
	if dbPath != ":memory:" {
		// Pooled connections each need the per-connection pragmas.
		dsn = "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=synchronous(FULL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}

	// Every connection to ":memory:" is a separate database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	// Persist-before-apply only holds if a committed write survives power loss.
	if _, err := db.Exec("PRAGMA synchronous=FULL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma synchronous: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "store"),
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, s.db)
}

// --- Task operations ---

const taskColumns = `id, priority, plugin_id, prev_id, next_id, added_at, scheduled_at,
	 expires_at, started_at, ended_at, active, resume_on_boot, parameters`

// taskFieldColumns whitelists the columns UpdateTaskField may write.
var taskFieldColumns = map[model.TaskField]string{
	model.FieldPriority:     "priority",
	model.FieldPrev:         "prev_id",
	model.FieldNext:         "next_id",
	model.FieldScheduledAt:  "scheduled_at",
	model.FieldExpiresAt:    "expires_at",
	model.FieldStartedAt:    "started_at",
	model.FieldEndedAt:      "ended_at",
	model.FieldActive:       "active",
	model.FieldResumeOnBoot: "resume_on_boot",
}

// CreateTask inserts task and assigns its durable ID.
func (s *SQLiteStore) CreateTask(ctx context.Context, task *model.Task) error {
	s.logger.Debug("sql", "op", "insert", "table", "tasks", "plugin_id", task.PluginID)

	params, err := encodeParameters(task.Parameters)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (priority, plugin_id, prev_id, next_id, added_at, scheduled_at,
		 expires_at, started_at, ended_at, active, resume_on_boot, parameters)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.Priority, task.PluginID, task.Prev, task.Next, task.AddedAt, task.ScheduledAt,
		task.ExpiresAt, task.StartedAt, task.EndedAt, task.Active, task.ResumeOnBoot, params,
	)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("task id: %w", err)
	}
	task.ID = model.TaskID(id)
	return nil
}

func (s *SQLiteStore) GetTask(ctx context.Context, id model.TaskID) (*model.Task, error) {
	s.logger.Debug("sql", "op", "select", "table", "tasks", "id", id)
	return scanTask(s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
}

// ListActiveTasks returns every task whose active flag equals active, oldest first.
func (s *SQLiteStore) ListActiveTasks(ctx context.Context, active bool) ([]*model.Task, error) {
	s.logger.Debug("sql", "op", "list_by_active", "table", "tasks", "active", active)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE active = ? ORDER BY id`, active)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTasks(rows)
}

// ListTasks pages through all tasks, newest first, optionally filtered by plugin.
func (s *SQLiteStore) ListTasks(ctx context.Context, opts model.ListOptions) ([]*model.Task, int, error) {
	s.logger.Debug("sql", "op", "list", "table", "tasks", "limit", opts.Limit, "offset", opts.Offset)
	opts.Clamp()

	var where []string
	var args []any
	if opts.PluginID != 0 {
		where = append(where, "plugin_id = ?")
		args = append(args, opts.PluginID)
	}
	whereSQL := joinWhere(where)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks`+whereSQL, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks`+whereSQL+` ORDER BY id DESC LIMIT ? OFFSET ?`,
		append(args, opts.Limit, opts.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	tasks, err := scanTasks(rows)
	return tasks, total, err
}

// UpdateTaskField writes a single column of one task.
func (s *SQLiteStore) UpdateTaskField(ctx context.Context, id model.TaskID, field model.TaskField, value any) error {
	column, ok := taskFieldColumns[field]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	if err := checkFieldValue(field, value); err != nil {
		return err
	}
	s.logger.Debug("sql", "op", "update", "table", "tasks", "id", id, "field", column)

	result, err := s.db.ExecContext(ctx, `UPDATE tasks SET `+column+` = ? WHERE id = ?`, value, id)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("task %d: %w", id, ErrNotFound)
	}
	return nil
}

// checkFieldValue rejects values whose Go type does not match the column.
func checkFieldValue(field model.TaskField, value any) error {
	var ok bool
	switch field {
	case model.FieldPriority:
		_, ok = value.(int)
	case model.FieldPrev, model.FieldNext:
		_, ok = value.(model.TaskID)
	case model.FieldScheduledAt, model.FieldExpiresAt, model.FieldStartedAt, model.FieldEndedAt:
		_, ok = value.(model.Timestamp)
	case model.FieldActive, model.FieldResumeOnBoot:
		_, ok = value.(bool)
	}
	if !ok {
		return fmt.Errorf("task field %s: unexpected value type %T", field, value)
	}
	return nil
}

func (s *SQLiteStore) UpdateTaskLinks(ctx context.Context, links []model.TaskLink) error {
	if len(links) == 0 {
		return nil
	}
	s.logger.Debug("sql", "op", "update_links", "table", "tasks", "count", len(links))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, l := range links {
		result, err := tx.ExecContext(ctx,
			`UPDATE tasks SET prev_id = ?, next_id = ? WHERE id = ?`, l.Prev, l.Next, l.ID)
		if err != nil {
			return err
		}
		n, _ := result.RowsAffected()
		if n == 0 {
			return fmt.Errorf("task %d: %w", l.ID, ErrNotFound)
		}
	}
	return tx.Commit()
}

// --- Plugin operations ---

// CreateOrGetPlugin returns the plugin row for kind, inserting it on first use.
func (s *SQLiteStore) CreateOrGetPlugin(ctx context.Context, kind string) (*model.Plugin, error) {
	s.logger.Debug("sql", "op", "upsert", "table", "plugins", "kind", kind)

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO plugins (kind) VALUES (?) ON CONFLICT(kind) DO NOTHING`, kind); err != nil {
		return nil, err
	}
	var p model.Plugin
	err := s.db.QueryRowContext(ctx, `SELECT id, kind FROM plugins WHERE kind = ?`, kind).Scan(&p.ID, &p.Kind)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *SQLiteStore) GetPlugin(ctx context.Context, id model.PluginID) (*model.Plugin, error) {
	s.logger.Debug("sql", "op", "select", "table", "plugins", "id", id)

	var p model.Plugin
	err := s.db.QueryRowContext(ctx, `SELECT id, kind FROM plugins WHERE id = ?`, id).Scan(&p.ID, &p.Kind)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("plugin %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *SQLiteStore) ListPlugins(ctx context.Context) ([]*model.Plugin, error) {
	s.logger.Debug("sql", "op", "list", "table", "plugins")

	rows, err := s.db.QueryContext(ctx, `SELECT id, kind FROM plugins ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var plugins []*model.Plugin
	for rows.Next() {
		var p model.Plugin
		if err := rows.Scan(&p.ID, &p.Kind); err != nil {
			return nil, err
		}
		plugins = append(plugins, &p)
	}
	return plugins, rows.Err()
}

// --- Logs ---

func (s *SQLiteStore) CreateLog(ctx context.Context, entry *model.LogEntry) error {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO logs (message, level, task_id, plugin_id, created_at, sent, echoed)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.Message, entry.Level, entry.TaskID, entry.PluginID, entry.CreatedAt, entry.Sent, entry.Echoed,
	)
	if err != nil {
		return err
	}
	entry.ID, _ = result.LastInsertId()
	return nil
}

// ListLogs returns logs newest first, filtered by task, plugin, and time range.
func (s *SQLiteStore) ListLogs(ctx context.Context, opts model.ListOptions) ([]*model.LogEntry, int, error) {
	s.logger.Debug("sql", "op", "list", "table", "logs", "limit", opts.Limit, "offset", opts.Offset)
	opts.Clamp()

	var where []string
	var args []any
	if opts.TaskID != model.NoTask {
		where = append(where, "task_id = ?")
		args = append(args, opts.TaskID)
	}
	if opts.PluginID != 0 {
		where = append(where, "plugin_id = ?")
		args = append(args, opts.PluginID)
	}
	where, args = timeRange(where, args, "created_at", opts)
	whereSQL := joinWhere(where)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM logs`+whereSQL, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, message, level, task_id, plugin_id, created_at, sent, echoed
		 FROM logs`+whereSQL+` ORDER BY id DESC LIMIT ? OFFSET ?`,
		append(args, opts.Limit, opts.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var entries []*model.LogEntry
	for rows.Next() {
		var e model.LogEntry
		if err := rows.Scan(&e.ID, &e.Message, &e.Level, &e.TaskID, &e.PluginID, &e.CreatedAt, &e.Sent, &e.Echoed); err != nil {
			return nil, 0, err
		}
		entries = append(entries, &e)
	}
	return entries, total, rows.Err()
}

// MarkLogsSent flags the given logs as queued for downlink.
func (s *SQLiteStore) MarkLogsSent(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	s.logger.Debug("sql", "op", "mark_sent", "table", "logs", "count", len(ids))

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := s.db.ExecContext(ctx, `UPDATE logs SET sent = 1 WHERE id IN (`+placeholders+`)`, args...)
	return err
}

// DeleteLogsBefore removes logs created strictly before the given time.
func (s *SQLiteStore) DeleteLogsBefore(ctx context.Context, before model.Timestamp) (int64, error) {
	s.logger.Debug("sql", "op", "delete_before", "table", "logs", "before", before)

	result, err := s.db.ExecContext(ctx, `DELETE FROM logs WHERE created_at < ?`, before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// --- Telemetry ---

func (s *SQLiteStore) CreateDatum(ctx context.Context, d *model.Datum) error {
	s.logger.Debug("sql", "op", "insert", "table", "data", "sensor", d.Sensor)

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO data (sensor, value, recorded_at) VALUES (?, ?, ?)`,
		d.Sensor, d.Value, d.RecordedAt)
	if err != nil {
		return err
	}
	d.ID, _ = result.LastInsertId()
	return nil
}

func (s *SQLiteStore) ListData(ctx context.Context, opts model.ListOptions) ([]*model.Datum, int, error) {
	s.logger.Debug("sql", "op", "list", "table", "data", "sensor", opts.Sensor)
	opts.Clamp()

	var where []string
	var args []any
	if opts.Sensor != "" {
		where = append(where, "sensor = ?")
		args = append(args, opts.Sensor)
	}
	where, args = timeRange(where, args, "recorded_at", opts)
	whereSQL := joinWhere(where)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM data`+whereSQL, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, sensor, value, recorded_at FROM data`+whereSQL+` ORDER BY id DESC LIMIT ? OFFSET ?`,
		append(args, opts.Limit, opts.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var data []*model.Datum
	for rows.Next() {
		var d model.Datum
		if err := rows.Scan(&d.ID, &d.Sensor, &d.Value, &d.RecordedAt); err != nil {
			return nil, 0, err
		}
		data = append(data, &d)
	}
	return data, total, rows.Err()
}

func (s *SQLiteStore) CreatePacket(ctx context.Context, p *model.Packet) error {
	s.logger.Debug("sql", "op", "insert", "table", "packets")

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO packets (payload, send_at) VALUES (?, ?)`, p.Payload, p.SendAt)
	if err != nil {
		return err
	}
	p.ID, _ = result.LastInsertId()
	return nil
}

// ListPackets returns packets ordered by send time, unassigned ones last.
func (s *SQLiteStore) ListPackets(ctx context.Context, opts model.ListOptions) ([]*model.Packet, int, error) {
	s.logger.Debug("sql", "op", "list", "table", "packets")
	opts.Clamp()

	where, args := timeRange(nil, nil, "send_at", opts)
	whereSQL := joinWhere(where)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM packets`+whereSQL, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, payload, send_at FROM packets`+whereSQL+`
		 ORDER BY send_at = -1, send_at, id LIMIT ? OFFSET ?`,
		append(args, opts.Limit, opts.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var packets []*model.Packet
	for rows.Next() {
		var p model.Packet
		if err := rows.Scan(&p.ID, &p.Payload, &p.SendAt); err != nil {
			return nil, 0, err
		}
		packets = append(packets, &p)
	}
	return packets, total, rows.Err()
}

func (s *SQLiteStore) UpdatePacketSendAt(ctx context.Context, id int64, sendAt model.Timestamp) error {
	s.logger.Debug("sql", "op", "update", "table", "packets", "id", id)

	result, err := s.db.ExecContext(ctx, `UPDATE packets SET send_at = ? WHERE id = ?`, sendAt, id)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("packet %d: %w", id, ErrNotFound)
	}
	return nil
}

// --- scan helpers ---

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*model.Task, error) {
	var task model.Task
	var params string

	err := row.Scan(
		&task.ID, &task.Priority, &task.PluginID, &task.Prev, &task.Next,
		&task.AddedAt, &task.ScheduledAt, &task.ExpiresAt, &task.StartedAt, &task.EndedAt,
		&task.Active, &task.ResumeOnBoot, &params,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	task.Parameters, err = decodeParameters(params)
	if err != nil {
		return nil, fmt.Errorf("task %d: %w", task.ID, err)
	}
	return &task, nil
}

func scanTasks(rows *sql.Rows) ([]*model.Task, error) {
	var tasks []*model.Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// --- query helpers ---

func timeRange(where []string, args []any, column string, opts model.ListOptions) ([]string, []any) {
	if opts.Since != 0 {
		where = append(where, column+" >= ?")
		args = append(args, opts.Since)
	}
	if opts.Until != 0 {
		where = append(where, column+" <= ?")
		args = append(args, opts.Until)
	}
	return where, args
}

func joinWhere(where []string) string {
	if len(where) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(where, " AND ")
}

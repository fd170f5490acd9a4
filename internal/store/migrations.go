package store

import (
	"context"
	"database/sql"
	"strings"
)

// schema contains the DDL for all flight-logic tables.
// Each statement uses IF NOT EXISTS for idempotency. Timestamps are INTEGER
// seconds since the epoch; -1 marks an unset value.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS plugins (
		id   INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL UNIQUE
	)`,

	`CREATE TABLE IF NOT EXISTS tasks (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		priority     INTEGER NOT NULL,
		plugin_id    INTEGER NOT NULL REFERENCES plugins(id),
		prev_id      INTEGER NOT NULL DEFAULT 0,
		next_id      INTEGER NOT NULL DEFAULT 0,
		added_at     INTEGER NOT NULL,
		scheduled_at INTEGER NOT NULL DEFAULT -1,
		expires_at   INTEGER NOT NULL DEFAULT -1,
		started_at   INTEGER NOT NULL DEFAULT -1,
		ended_at     INTEGER NOT NULL DEFAULT -1,
		active       INTEGER NOT NULL DEFAULT 1,
		parameters   TEXT NOT NULL DEFAULT '[]'
	)`,

	`CREATE INDEX IF NOT EXISTS idx_tasks_active ON tasks(active)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_plugin_id ON tasks(plugin_id)`,

	`CREATE TABLE IF NOT EXISTS logs (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		message    TEXT NOT NULL,
		level      TEXT NOT NULL,
		task_id    INTEGER NOT NULL DEFAULT 0,
		plugin_id  INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		sent       INTEGER NOT NULL DEFAULT 0,
		echoed     INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_logs_created_at ON logs(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_logs_task_id ON logs(task_id)`,

	`CREATE TABLE IF NOT EXISTS data (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		sensor      TEXT NOT NULL,
		value       TEXT NOT NULL,
		recorded_at INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_data_sensor ON data(sensor, recorded_at)`,

	`CREATE TABLE IF NOT EXISTS packets (
		id      INTEGER PRIMARY KEY AUTOINCREMENT,
		payload TEXT NOT NULL,
		send_at INTEGER NOT NULL DEFAULT -1
	)`,
}

// alterStatements are column additions that need special handling since
// SQLite doesn't support IF NOT EXISTS for ALTER TABLE ADD COLUMN.
var alterStatements = []struct {
	table    string
	column   string
	alterSQL string
	indexSQL string // Optional index to create after column is added
}{
	{
		table:    "tasks",
		column:   "resume_on_boot",
		alterSQL: "ALTER TABLE tasks ADD COLUMN resume_on_boot INTEGER NOT NULL DEFAULT 1",
	},
}

// migrate executes all schema DDL statements, alter migrations, and post-migration indexes.
func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	for _, alter := range alterStatements {
		if err := addColumnIfNotExists(ctx, db, alter.table, alter.column, alter.alterSQL); err != nil {
			return err
		}
		if alter.indexSQL != "" {
			if _, err := db.ExecContext(ctx, alter.indexSQL); err != nil {
				return err
			}
		}
	}

	return nil
}

// addColumnIfNotExists adds a column to a table if it doesn't already exist.
func addColumnIfNotExists(ctx context.Context, db *sql.DB, table, column, alterSQL string) error {
	exists, err := columnExists(ctx, db, table, column)
	if err != nil || exists {
		return err
	}
	_, err = db.ExecContext(ctx, alterSQL)
	return err
}

func columnExists(ctx context.Context, db *sql.DB, table, column string) (bool, error) {
	rows, err := db.QueryContext(ctx, "PRAGMA table_info("+table+")")
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue *string
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return false, err
		}
		if strings.EqualFold(name, column) {
			return true, nil
		}
	}
	return false, rows.Err()
}

// journal.go: persistent history of lifecycle events over database/sql
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql" // mysql driver
	_ "github.com/mattn/go-sqlite3"    // sqlite3 driver
)

// Journal drivers.
const (
	JournalDriverSQLite = "sqlite3"
	JournalDriverMySQL  = "mysql"
)

var journalSchemas = map[string][]string{
	JournalDriverSQLite: {
		`CREATE TABLE IF NOT EXISTS plugin_lifecycle_events (
        seq INTEGER PRIMARY KEY AUTOINCREMENT,
        id VARCHAR(64) NOT NULL UNIQUE,
        event_type VARCHAR(64) NOT NULL,
        plugin VARCHAR(255) NOT NULL DEFAULT '',
        version VARCHAR(64) NOT NULL DEFAULT '',
        batch_id VARCHAR(64) NOT NULL DEFAULT '',
        cause TEXT,
        error TEXT,
        created_at BIGINT NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_plugin_lifecycle_plugin ON plugin_lifecycle_events (plugin)`,
	},
	JournalDriverMySQL: {
		`CREATE TABLE IF NOT EXISTS plugin_lifecycle_events (
        seq BIGINT AUTO_INCREMENT PRIMARY KEY,
        id VARCHAR(64) NOT NULL UNIQUE,
        event_type VARCHAR(64) NOT NULL,
        plugin VARCHAR(255) NOT NULL DEFAULT '',
        version VARCHAR(64) NOT NULL DEFAULT '',
        batch_id VARCHAR(64) NOT NULL DEFAULT '',
        cause TEXT,
        error TEXT,
        created_at BIGINT NOT NULL,
        INDEX idx_plugin_lifecycle_plugin (plugin)
)`,
	},
}

// SQLJournal records lifecycle events in sqlite or mysql.
type SQLJournal struct {
	db     *sql.DB
	driver string
}

// OpenSQLJournal connects to dsn with driver and creates the schema.
func OpenSQLJournal(ctx context.Context, driver, dsn string) (*SQLJournal, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, NewJournalError("journal DSN is required", nil)
	}
	if _, ok := journalSchemas[driver]; !ok {
		return nil, NewJournalError("unsupported journal driver "+driver, nil)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, NewJournalError("cannot open journal database", err)
	}
	if driver == JournalDriverSQLite {
		// an in-memory sqlite database exists per connection
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(10 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, NewJournalError("cannot reach journal database", err)
	}

	journal, err := NewSQLJournal(ctx, db, driver)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return journal, nil
}

// NewSQLJournal uses an already open db and creates the schema.
func NewSQLJournal(ctx context.Context, db *sql.DB, driver string) (*SQLJournal, error) {
	statements, ok := journalSchemas[driver]
	if !ok {
		return nil, NewJournalError("unsupported journal driver "+driver, nil)
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, NewJournalError("cannot initialise journal schema", err)
		}
	}
	return &SQLJournal{db: db, driver: driver}, nil
}

// Record stores event.
func (j *SQLJournal) Record(ctx context.Context, event LifecycleEvent) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO plugin_lifecycle_events (id, event_type, plugin, version, batch_id, cause, error, created_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.Type, event.Plugin, event.Version, event.BatchID,
		event.Cause, event.Error, event.Timestamp.UnixNano())
	if err != nil {
		return NewJournalError("cannot record lifecycle event", err)
	}
	return nil
}

// Entries returns the events of plugin in recording order, all events when
// plugin is empty. A positive limit keeps only the most recent entries.
func (j *SQLJournal) Entries(ctx context.Context, plugin string, limit int) ([]LifecycleEvent, error) {
	query := `SELECT id, event_type, plugin, version, batch_id, cause, error, created_at
        FROM plugin_lifecycle_events`
	var args []any
	if plugin != "" {
		query += ` WHERE plugin = ?`
		args = append(args, plugin)
	}
	query += ` ORDER BY seq DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, NewJournalError("cannot query lifecycle events", err)
	}
	defer func() { _ = rows.Close() }()

	var events []LifecycleEvent
	for rows.Next() {
		var (
			event     LifecycleEvent
			cause     sql.NullString
			errText   sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&event.ID, &event.Type, &event.Plugin, &event.Version, &event.BatchID,
			&cause, &errText, &createdAt); err != nil {
			return nil, NewJournalError("cannot read lifecycle event", err)
		}
		event.Cause = cause.String
		event.Error = errText.String
		event.Timestamp = time.Unix(0, createdAt)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, NewJournalError("cannot read lifecycle events", err)
	}

	for i, k := 0, len(events)-1; i < k; i, k = i+1, k-1 {
		events[i], events[k] = events[k], events[i]
	}
	return events, nil
}

// Handler returns a LifecycleEventHandler recording into the journal.
// Failures are logged, never returned to the Manager.
func (j *SQLJournal) Handler(logger Logger) LifecycleEventHandler {
	logger = NewLogger(logger)
	return func(event LifecycleEvent) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := j.Record(ctx, event); err != nil {
			logger.Warn("Failed to journal lifecycle event", "event", event.Type, "plugin", event.Plugin, "error", err)
		}
	}
}

// Driver returns the database driver name.
func (j *SQLJournal) Driver() string {
	return j.driver
}

// Close closes the database.
func (j *SQLJournal) Close() error {
	return j.db.Close()
}

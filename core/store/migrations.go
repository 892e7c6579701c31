package store

import (
	"context"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"

	"chatledger/core/utils"
)

//go:embed migrations/*.sql
var pgMigrations embed.FS

// sqliteMigrations mirrors the goose postgres migrations for the embedded
// driver. Statements must stay idempotent: they run on every start.
var sqliteMigrations = []string{
	`CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		conversation_id TEXT NOT NULL,
		conversation_kind TEXT NOT NULL DEFAULT '',
		conversation_label TEXT NOT NULL DEFAULT '',
		source_message_id INTEGER NOT NULL,
		received_at TIMESTAMP NOT NULL,
		author_id INTEGER,
		author_handle TEXT NOT NULL DEFAULT '',
		author_display_name TEXT NOT NULL DEFAULT '',
		author_role TEXT NOT NULL DEFAULT '',
		text TEXT,
		content_kind TEXT NOT NULL DEFAULT 'text',
		has_attachment INTEGER NOT NULL DEFAULT 0,
		service_action TEXT,
		reply_to_source_message_id INTEGER,
		reply_to_author_id INTEGER,
		reply_to_author_handle TEXT,
		reply_kind TEXT,
		forwarded_from_id INTEGER,
		forwarded_from_name TEXT,
		edited_at TIMESTAMP,
		raw_payload TEXT NOT NULL DEFAULT '{}'
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_events_conversation_source
		ON events(conversation_id, source_message_id);`,
	`CREATE INDEX IF NOT EXISTS idx_events_received_at ON events(received_at);`,
	`CREATE INDEX IF NOT EXISTS idx_events_reply_lookup
		ON events(conversation_id, reply_to_source_message_id);`,
	`CREATE TABLE IF NOT EXISTS classifications (
		event_id INTEGER PRIMARY KEY,
		problem_domain TEXT NOT NULL DEFAULT '',
		problem_symptom TEXT NOT NULL DEFAULT '',
		rule_id TEXT NOT NULL DEFAULT '',
		confidence REAL NOT NULL DEFAULT 0,
		ruleset_version TEXT NOT NULL DEFAULT '',
		is_unclassified INTEGER NOT NULL DEFAULT 1,
		classified_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		FOREIGN KEY(event_id) REFERENCES events(id)
	);`,
	`CREATE INDEX IF NOT EXISTS idx_classifications_backlog
		ON classifications(is_unclassified, event_id);`,
}

// ApplyMigrations brings the schema up to date: goose for postgres,
// inline statements for sqlite.
func ApplyMigrations(ctx context.Context, db *DB, logger *utils.Logger) error {
	if db.IsPostgres() {
		goose.SetBaseFS(pgMigrations)
		goose.SetLogger(goose.NopLogger())
		if err := goose.SetDialect("postgres"); err != nil {
			return err
		}
		if err := goose.UpContext(ctx, db.DB, "migrations"); err != nil {
			return fmt.Errorf("goose migrations: %w", err)
		}
		logger.Printf("postgres migrations applied")
		return nil
	}
	for i, stmt := range sqliteMigrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite migration #%d failed: %w", i+1, err)
		}
	}
	logger.Printf("sqlite migrations applied")
	return nil
}

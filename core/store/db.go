package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"chatledger/config"
	"chatledger/core/utils"
)

// DB wraps *sql.DB with the driver name so store code can keep writing
// `?` placeholders and rebind them for postgres.
type DB struct {
	*sql.DB
	driver string
}

func (d *DB) IsPostgres() bool { return d.driver == "pgx" }

// rebind rewrites `?` placeholders into `$1..$n` when running on postgres.
// Question marks inside quoted literals are not expected in this codebase.
func (d *DB) rebind(query string) string {
	if !d.IsPostgres() {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// NewDB opens the configured database. sqlite is the default and the only
// driver used in tests; postgres is selected with db_driver=postgres.
func NewDB(cfg *config.AppConfig, logger *utils.Logger) (*DB, error) {
	switch cfg.DBDriver {
	case "", "sqlite":
		path := cfg.DBPath
		if path == "" {
			return nil, fmt.Errorf("sqlite driver requires db_path")
		}
		if dir := filepath.Dir(path); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db dir: %w", err)
			}
		}
		dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", path)
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, err
		}
		// A single writer avoids SQLITE_BUSY storms under concurrent ingestion.
		db.SetMaxOpenConns(1)
		logger.Printf("sqlite database opened at %s", path)
		return &DB{DB: db, driver: "sqlite"}, nil
	case "postgres":
		if cfg.DBURL == "" {
			return nil, fmt.Errorf("postgres driver requires db_url")
		}
		db, err := sql.Open("pgx", cfg.DBURL)
		if err != nil {
			return nil, err
		}
		logger.Printf("postgres database opened")
		return &DB{DB: db, driver: "pgx"}, nil
	default:
		return nil, fmt.Errorf("unsupported db_driver %q", cfg.DBDriver)
	}
}

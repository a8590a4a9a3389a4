package core

import (
	"database/sql"
	"net/url"
	"os"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

// SQLiteDBOption tunes the connection string. Zero-valued fields fall back
// to the driver's defaults.
type SQLiteDBOption struct {
	// Mode can be ro | rw | rwc | memory.
	Mode string
	// Cache can be shared | private.
	Cache string
	// JournalMode can be DELETE | TRUNCATE | PERSIST | MEMORY | WAL | OFF.
	JournalMode string
}

func (o *SQLiteDBOption) encode() string {
	if o == nil {
		return ""
	}
	params := url.Values{}
	if o.Mode != "" {
		params.Set("mode", o.Mode)
	}
	if o.Cache != "" {
		params.Set("cache", o.Cache)
	}
	if o.JournalMode != "" {
		params.Set("journal_mode", o.JournalMode)
	}
	if len(params) == 0 {
		return ""
	}
	return "?" + params.Encode()
}

type SQLiteDB struct {
	*sql.DB
	migrationDir string
}

func NewSQLiteDB(file, migrationDir string, opts *SQLiteDBOption) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite3", "file:"+file+opts.encode())
	if err != nil {
		return nil, err
	}
	return &SQLiteDB{DB: db, migrationDir: migrationDir}, nil
}

func (db *SQLiteDB) Migrate() error {
	goose.SetBaseFS(os.DirFS(db.migrationDir))
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return goose.Up(db.DB, ".")
}

package store

import (
	"database/sql"
	"fmt"
	"net/url"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the daemon's sqlite database: the optimistic-send journal and the
// live channel checkpoints.
type DB struct {
	*sql.DB
}

// dsnOptions are applied to every connection. Outbox writes from the send path
// and checkpoint saves from the channel reader hit the same file, so a writer
// waits on the busy timeout rather than failing with SQLITE_BUSY.
var dsnOptions = url.Values{
	"_journal_mode": {"WAL"},
	"_synchronous":  {"NORMAL"},
	"_busy_timeout": {"5000"},
	"_foreign_keys": {"on"},
}

// Open opens the profile database at path.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?"+dsnOptions.Encode())
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	return &DB{db}, nil
}

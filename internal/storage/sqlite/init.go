package sqlite

import (
	"database/sql"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the SQLite database at dbPath and creates the downloads table
// if it doesn't exist. Times are stored as epoch seconds; retry_after is NULL
// unless the record is scheduled for a retry.
func InitDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS downloads (
		id INTEGER PRIMARY KEY,
		file_id TEXT UNIQUE NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		retry_after INTEGER,
		retry_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		locked_by TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`)

	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_downloads_status_retry_after
		ON downloads (status, retry_after)`)

	if err != nil {
		return nil, err
	}

	return db, nil
}

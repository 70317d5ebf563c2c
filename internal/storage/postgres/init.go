package postgres

import (
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	// Import the PostgreSQL driver.
	_ "github.com/lib/pq"
)

// InitDB connects to PostgreSQL and creates the downloads table if it
// doesn't exist. The schema matches the SQLite one: times are stored as
// epoch seconds and retry_after is NULL unless the record is scheduled.
func InitDB(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS downloads (
		id BIGSERIAL PRIMARY KEY,
		file_id TEXT UNIQUE NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		retry_after BIGINT,
		retry_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		locked_by TEXT,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`)

	if err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to create downloads table: %w", err)
	}

	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_downloads_status_retry_after
		ON downloads (status, retry_after)`)

	if err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to create downloads index: %w", err)
	}

	return db, nil
}

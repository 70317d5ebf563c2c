package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/italolelis/vod_pipeline/internal/storage"
)

// DownloadRepository stores download lifecycle records in SQLite.
type DownloadRepository struct {
	db *sql.DB
}

func NewDownloadRepository(dbConn *sql.DB) *DownloadRepository {
	return &DownloadRepository{db: dbConn}
}

const recordColumns = `file_id, status, retry_after, retry_count, last_error, locked_by, created_at, updated_at`

func (r *DownloadRepository) TrackDownload(ctx context.Context, fileID string) error {
	now := time.Now().Unix()

	res, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO downloads (file_id, status, created_at, updated_at) VALUES (?, 'pending', ?, ?)`,
		fileID, now, now,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return storage.ErrAlreadyTracked
	}

	return nil
}

func (r *DownloadRepository) GetDownload(ctx context.Context, fileID string) (*storage.DownloadRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM downloads WHERE file_id = ?`, fileID)

	record, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}

		return nil, err
	}

	return record, nil
}

func (r *DownloadRepository) DownloadsByStatus(ctx context.Context, status storage.Status) ([]storage.DownloadRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM downloads WHERE status = ? ORDER BY created_at`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectRecords(rows)
}

// DueDownloads returns scheduled records whose retry time has already passed.
func (r *DownloadRepository) DueDownloads(ctx context.Context, now time.Time) ([]storage.DownloadRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM downloads
		WHERE status = 'scheduled' AND retry_after <= ?
		ORDER BY retry_after`, now.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectRecords(rows)
}

// ClaimDownload atomically moves a pending or scheduled record to
// 'in_progress' and stamps instanceID as the owner. The claim clears
// retry_after so only scheduled records carry one.
func (r *DownloadRepository) ClaimDownload(ctx context.Context, fileID, instanceID string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE downloads
		SET status = 'in_progress', locked_by = ?, retry_after = NULL, updated_at = ?
		WHERE file_id = ? AND status IN ('pending', 'scheduled') AND (locked_by IS NULL OR locked_by = '')`,
		instanceID, time.Now().Unix(), fileID,
	)
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected > 0, nil
}

// ReleaseDownload puts a claimed record back so the next coordinator pass can
// rediscover it. Only the claim owner may release.
func (r *DownloadRepository) ReleaseDownload(ctx context.Context, fileID, instanceID string, to storage.Status, retryAfter *time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE downloads
		SET status = ?, locked_by = NULL, retry_after = ?, updated_at = ?
		WHERE file_id = ? AND status = 'in_progress' AND locked_by = ?`,
		to, epoch(retryAfter), time.Now().Unix(), fileID, instanceID,
	)

	return err
}

// UpdateDownloadStatus transitions a record unless it already reached a
// terminal state. The zero-rows case reports false so callers can absorb
// duplicate notifications.
func (r *DownloadRepository) UpdateDownloadStatus(ctx context.Context, fileID string, to storage.Status, fields storage.UpdateFields) (bool, error) {
	set := `status = ?, retry_after = ?, locked_by = NULL, updated_at = ?`
	args := []any{to, epoch(fields.RetryAfter), time.Now().Unix()}

	if fields.IncrementRetry {
		set += `, retry_count = retry_count + 1`
	}

	if fields.LastError != nil {
		set += `, last_error = ?`
		args = append(args, *fields.LastError)
	}

	args = append(args, fileID)

	res, err := r.db.ExecContext(ctx,
		`UPDATE downloads SET `+set+` WHERE file_id = ? AND status NOT IN ('completed', 'failed')`,
		args...,
	)
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected > 0, nil
}

// PurgeTerminal deletes completed and failed records that have not been
// touched since the given time.
func (r *DownloadRepository) PurgeTerminal(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM downloads WHERE status IN ('completed', 'failed') AND updated_at < ?`,
		before.Unix(),
	)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

func epoch(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}

	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*storage.DownloadRecord, error) {
	var (
		record     storage.DownloadRecord
		retryAfter sql.NullInt64
		lockedBy   sql.NullString
		createdAt  int64
		updatedAt  int64
	)

	err := row.Scan(
		&record.FileID,
		&record.Status,
		&retryAfter,
		&record.RetryCount,
		&record.LastError,
		&lockedBy,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if retryAfter.Valid {
		t := time.Unix(retryAfter.Int64, 0).UTC()
		record.RetryAfter = &t
	}

	if lockedBy.Valid {
		record.LockedBy = lockedBy.String
	}

	record.CreatedAt = time.Unix(createdAt, 0).UTC()
	record.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	return &record, nil
}

func collectRecords(rows *sql.Rows) ([]storage.DownloadRecord, error) {
	var downloads []storage.DownloadRecord

	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}

		downloads = append(downloads, *record)
	}

	return downloads, rows.Err()
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/italolelis/vod_pipeline/internal/storage"
)

// DownloadRepository stores download lifecycle records in PostgreSQL.
type DownloadRepository struct {
	db *sqlx.DB
}

func NewDownloadRepository(db *sqlx.DB) *DownloadRepository {
	return &DownloadRepository{db: db}
}

const recordColumns = `file_id, status, retry_after, retry_count, last_error, locked_by, created_at, updated_at`

// downloadRow mirrors the downloads table for sqlx scanning.
type downloadRow struct {
	FileID     string         `db:"file_id"`
	Status     string         `db:"status"`
	RetryAfter sql.NullInt64  `db:"retry_after"`
	RetryCount int            `db:"retry_count"`
	LastError  string         `db:"last_error"`
	LockedBy   sql.NullString `db:"locked_by"`
	CreatedAt  int64          `db:"created_at"`
	UpdatedAt  int64          `db:"updated_at"`
}

func (row downloadRow) record() storage.DownloadRecord {
	rec := storage.DownloadRecord{
		FileID:     row.FileID,
		Status:     storage.Status(row.Status),
		RetryCount: row.RetryCount,
		LastError:  row.LastError,
		LockedBy:   row.LockedBy.String,
		CreatedAt:  time.Unix(row.CreatedAt, 0).UTC(),
		UpdatedAt:  time.Unix(row.UpdatedAt, 0).UTC(),
	}

	if row.RetryAfter.Valid {
		t := time.Unix(row.RetryAfter.Int64, 0).UTC()
		rec.RetryAfter = &t
	}

	return rec
}

func (r *DownloadRepository) TrackDownload(ctx context.Context, fileID string) error {
	now := time.Now().Unix()

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO downloads (file_id, status, created_at, updated_at)
		VALUES ($1, 'pending', $2, $3)
		ON CONFLICT (file_id) DO NOTHING`,
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
	var row downloadRow

	err := r.db.GetContext(ctx, &row,
		`SELECT `+recordColumns+` FROM downloads WHERE file_id = $1`, fileID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}

		return nil, err
	}

	rec := row.record()

	return &rec, nil
}

func (r *DownloadRepository) DownloadsByStatus(ctx context.Context, status storage.Status) ([]storage.DownloadRecord, error) {
	var rows []downloadRow

	err := r.db.SelectContext(ctx, &rows,
		`SELECT `+recordColumns+` FROM downloads WHERE status = $1 ORDER BY created_at`, status)
	if err != nil {
		return nil, err
	}

	return collectRecords(rows), nil
}

// DueDownloads returns scheduled records whose retry time has already passed.
func (r *DownloadRepository) DueDownloads(ctx context.Context, now time.Time) ([]storage.DownloadRecord, error) {
	var rows []downloadRow

	err := r.db.SelectContext(ctx, &rows,
		`SELECT `+recordColumns+` FROM downloads
		WHERE status = 'scheduled' AND retry_after <= $1
		ORDER BY retry_after`, now.Unix())
	if err != nil {
		return nil, err
	}

	return collectRecords(rows), nil
}

// ClaimDownload atomically moves a pending or scheduled record to
// 'in_progress' and stamps instanceID as the owner. The claim clears
// retry_after so only scheduled records carry one.
func (r *DownloadRepository) ClaimDownload(ctx context.Context, fileID, instanceID string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE downloads
		SET status = 'in_progress', locked_by = $1, retry_after = NULL, updated_at = $2
		WHERE file_id = $3 AND status IN ('pending', 'scheduled') AND (locked_by IS NULL OR locked_by = '')`,
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
		SET status = $1, locked_by = NULL, retry_after = $2, updated_at = $3
		WHERE file_id = $4 AND status = 'in_progress' AND locked_by = $5`,
		to, epoch(retryAfter), time.Now().Unix(), fileID, instanceID,
	)

	return err
}

// UpdateDownloadStatus transitions a record unless it already reached a
// terminal state. The zero-rows case reports false so callers can absorb
// duplicate notifications.
func (r *DownloadRepository) UpdateDownloadStatus(ctx context.Context, fileID string, to storage.Status, fields storage.UpdateFields) (bool, error) {
	set := []string{"status = $1", "retry_after = $2", "locked_by = NULL", "updated_at = $3"}
	args := []any{to, epoch(fields.RetryAfter), time.Now().Unix()}

	if fields.IncrementRetry {
		set = append(set, "retry_count = retry_count + 1")
	}

	if fields.LastError != nil {
		args = append(args, *fields.LastError)
		set = append(set, fmt.Sprintf("last_error = $%d", len(args)))
	}

	args = append(args, fileID)

	query := fmt.Sprintf(
		`UPDATE downloads SET %s WHERE file_id = $%d AND status NOT IN ('completed', 'failed')`,
		strings.Join(set, ", "), len(args),
	)

	res, err := r.db.ExecContext(ctx, query, args...)
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
		`DELETE FROM downloads WHERE status IN ('completed', 'failed') AND updated_at < $1`,
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

func collectRecords(rows []downloadRow) []storage.DownloadRecord {
	if len(rows) == 0 {
		return nil
	}

	downloads := make([]storage.DownloadRecord, 0, len(rows))
	for _, row := range rows {
		downloads = append(downloads, row.record())
	}

	return downloads
}

package taskstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// UpsertResource is fire-and-forget: resource health/status updates happen
// on the same hot path as download workers and must not stall them.
func (s *Store) UpsertResource(r *ResourceRecord) {
	cp := *r
	s.writeAsync(func(ctx context.Context, db *sql.DB) error {
		var checkedAt any
		if !cp.CheckedAt.IsZero() {
			checkedAt = cp.CheckedAt.Unix()
		}
		_, err := db.ExecContext(ctx, `
			INSERT INTO resource (md5, type, file_name, file_size, mime, original_url, local_path, status, accessible, checked_at, download_attempts, last_error)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
			ON CONFLICT(md5) DO UPDATE SET
				local_path=excluded.local_path, status=excluded.status,
				accessible=excluded.accessible, checked_at=excluded.checked_at,
				download_attempts=excluded.download_attempts, last_error=excluded.last_error`,
			cp.MD5, cp.Type, cp.FileName, cp.FileSize, nullableString(cp.Mime), nullableString(cp.OriginalURL),
			nullableString(cp.LocalPath), cp.Status, boolToInt(cp.Accessible), checkedAt,
			cp.DownloadAttempts, nullableString(cp.LastError),
		)
		if err != nil {
			return fmt.Errorf("upsert resource: %w", err)
		}
		return nil
	})
}

// ListExpiredResources returns rows whose last health check predates
// cutoff, so a cleanup pass can remove the underlying files before
// deleting the rows.
func (s *Store) ListExpiredResources(ctx context.Context, cutoff time.Time) ([]*ResourceRecord, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT md5, type, file_name, file_size, mime, original_url, local_path, status, accessible, checked_at, download_attempts, last_error
		FROM resource WHERE checked_at IS NOT NULL AND checked_at < ?`, cutoff.Unix())
	if err != nil {
		return nil, fmt.Errorf("list expired resources: %w", err)
	}
	defer rows.Close()

	var out []*ResourceRecord
	for rows.Next() {
		var r ResourceRecord
		var mime, originalURL, localPath, lastError sql.NullString
		var accessible int
		var checkedAt sql.NullInt64
		if err := rows.Scan(&r.MD5, &r.Type, &r.FileName, &r.FileSize, &mime, &originalURL,
			&localPath, &r.Status, &accessible, &checkedAt, &r.DownloadAttempts, &lastError); err != nil {
			return nil, err
		}
		r.Mime = mime.String
		r.OriginalURL = originalURL.String
		r.LocalPath = localPath.String
		r.LastError = lastError.String
		r.Accessible = accessible != 0
		if checkedAt.Valid {
			r.CheckedAt = time.Unix(checkedAt.Int64, 0)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// DeleteExpiredResources is the opt-in cache cleanup: rows whose
// last health check predates cutoff are removed, and the caller is left to
// delete the underlying files.
func (s *Store) DeleteExpiredResources(ctx context.Context, cutoff time.Time) (int64, error) {
	var affected int64
	err := s.write(ctx, func(ctx context.Context, db *sql.DB) error {
		res, err := db.ExecContext(ctx, `DELETE FROM resource WHERE checked_at IS NOT NULL AND checked_at < ?`, cutoff.Unix())
		if err != nil {
			return fmt.Errorf("delete expired resources: %w", err)
		}
		affected, err = res.RowsAffected()
		return err
	})
	return affected, err
}

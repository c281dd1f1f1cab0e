package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/Alanimdeo/conveyor/internal/models"
)

const directoryColumns = `id, name, path, enabled, recursive, use_polling, interval_ms, ignore_dot_files`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDirectory(row rowScanner) (*models.WatchDirectory, error) {
	var d models.WatchDirectory
	var enabled, recursive, polling, dotFiles int
	var intervalMs int64
	if err := row.Scan(&d.ID, &d.Name, &d.Path, &enabled, &recursive, &polling, &intervalMs, &dotFiles); err != nil {
		return nil, err
	}
	d.Enabled = enabled != 0
	d.Recursive = recursive != 0
	d.UsePolling = polling != 0
	d.IgnoreDotFiles = dotFiles != 0
	d.Interval = millisToDuration(intervalMs)
	return &d, nil
}

// GetWatchDirectories returns every configured directory ordered by id
func (s *Store) GetWatchDirectories(ctx context.Context) ([]models.WatchDirectory, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+directoryColumns+` FROM watch_directories ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query watch directories: %w", err)
	}
	defer rows.Close()

	var dirs []models.WatchDirectory
	for rows.Next() {
		d, err := scanDirectory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan watch directory: %w", err)
		}
		dirs = append(dirs, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate watch directories: %w", err)
	}
	return dirs, nil
}

// GetWatchDirectory returns a single directory, or ErrNotFound
func (s *Store) GetWatchDirectory(ctx context.Context, id int64) (*models.WatchDirectory, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+directoryColumns+` FROM watch_directories WHERE id = ?`, id)
	d, err := scanDirectory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("watch directory %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get watch directory %d: %w", id, err)
	}
	return d, nil
}

// AddWatchDirectory inserts a directory and sets its ID
func (s *Store) AddWatchDirectory(ctx context.Context, d *models.WatchDirectory) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO watch_directories (name, path, enabled, recursive, use_polling, interval_ms, ignore_dot_files)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.Name, d.Path, boolToInt(d.Enabled), boolToInt(d.Recursive), boolToInt(d.UsePolling),
		durationToMillis(d.Interval), boolToInt(d.IgnoreDotFiles))
	if err != nil {
		if isConstraint(err, sqlite3.ErrConstraintUnique) {
			return 0, fmt.Errorf("add watch directory %s: %w", d.Path, ErrDuplicatePath)
		}
		return 0, fmt.Errorf("add watch directory: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get inserted directory id: %w", err)
	}
	d.ID = id
	return id, nil
}

// UpdateWatchDirectory overwrites every field of an existing directory
func (s *Store) UpdateWatchDirectory(ctx context.Context, d *models.WatchDirectory) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE watch_directories
		SET name = ?, path = ?, enabled = ?, recursive = ?, use_polling = ?, interval_ms = ?, ignore_dot_files = ?
		WHERE id = ?`,
		d.Name, d.Path, boolToInt(d.Enabled), boolToInt(d.Recursive), boolToInt(d.UsePolling),
		durationToMillis(d.Interval), boolToInt(d.IgnoreDotFiles), d.ID)
	if err != nil {
		if isConstraint(err, sqlite3.ErrConstraintUnique) {
			return fmt.Errorf("update watch directory %d: %w", d.ID, ErrDuplicatePath)
		}
		return fmt.Errorf("update watch directory %d: %w", d.ID, err)
	}
	return requireAffected(res, "watch directory", d.ID)
}

// RemoveWatchDirectory deletes a directory and all of its conditions in one transaction
func (s *Store) RemoveWatchDirectory(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() // no-op if committed

	if _, err := tx.ExecContext(ctx, `DELETE FROM watch_conditions WHERE directory_id = ?`, id); err != nil {
		return fmt.Errorf("delete conditions of directory %d: %w", id, err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM watch_directories WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete watch directory %d: %w", id, err)
	}
	if err := requireAffected(res, "watch directory", id); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit directory removal: %w", err)
	}
	return nil
}

// SetWatchDirectoryEnabled toggles the enabled flag of a directory
func (s *Store) SetWatchDirectoryEnabled(ctx context.Context, id int64, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE watch_directories SET enabled = ? WHERE id = ?`, boolToInt(enabled), id)
	if err != nil {
		return fmt.Errorf("set directory %d enabled: %w", id, err)
	}
	return requireAffected(res, "watch directory", id)
}

// requireAffected maps a zero-row update or delete to ErrNotFound
func requireAffected(res sql.Result, what string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", what, id, ErrNotFound)
	}
	return nil
}

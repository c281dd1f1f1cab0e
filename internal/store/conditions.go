package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/Alanimdeo/conveyor/internal/models"
)

const conditionColumns = `id, directory_id, name, enabled, priority, type, use_regexp, pattern, destination, delay_ms,
	rename_use_regexp, rename_pattern, rename_replace_value, rename_exclude_extension`

func scanCondition(row rowScanner) (*models.WatchCondition, error) {
	var c models.WatchCondition
	var enabled, useRegExp int
	var kind string
	var delayMs int64
	var renameRegExp, renameExclude sql.NullInt64
	var renamePattern, renameReplace sql.NullString

	err := row.Scan(&c.ID, &c.DirectoryID, &c.Name, &enabled, &c.Priority, &kind, &useRegExp, &c.Pattern,
		&c.Destination, &delayMs, &renameRegExp, &renamePattern, &renameReplace, &renameExclude)
	if err != nil {
		return nil, err
	}

	c.Enabled = enabled != 0
	c.UseRegExp = useRegExp != 0
	c.Type = models.FileKind(kind)
	c.Delay = millisToDuration(delayMs)

	// A rename pattern is present only when its pattern column is set
	if renamePattern.Valid {
		c.RenamePattern = &models.RenamePattern{
			UseRegExp:        renameRegExp.Valid && renameRegExp.Int64 != 0,
			Pattern:          renamePattern.String,
			ReplaceValue:     renameReplace.String,
			ExcludeExtension: renameExclude.Valid && renameExclude.Int64 != 0,
		}
	}
	return &c, nil
}

// renameArgs flattens an optional rename pattern into its four nullable columns
func renameArgs(r *models.RenamePattern) []interface{} {
	if r == nil {
		return []interface{}{nil, nil, nil, nil}
	}
	return []interface{}{boolToInt(r.UseRegExp), r.Pattern, r.ReplaceValue, boolToInt(r.ExcludeExtension)}
}

// GetWatchConditions returns the conditions of one directory ordered by priority then id.
// A directoryID of 0 returns the conditions of every directory.
func (s *Store) GetWatchConditions(ctx context.Context, directoryID int64, enabledOnly bool) ([]models.WatchCondition, error) {
	query := `SELECT ` + conditionColumns + ` FROM watch_conditions WHERE 1=1`
	var args []interface{}
	if directoryID != 0 {
		query += ` AND directory_id = ?`
		args = append(args, directoryID)
	}
	if enabledOnly {
		query += ` AND enabled = 1`
	}
	query += ` ORDER BY directory_id ASC, priority ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query watch conditions: %w", err)
	}
	defer rows.Close()

	var conds []models.WatchCondition
	for rows.Next() {
		c, err := scanCondition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan watch condition: %w", err)
		}
		conds = append(conds, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate watch conditions: %w", err)
	}
	return conds, nil
}

// GetWatchCondition returns a single condition, or ErrNotFound
func (s *Store) GetWatchCondition(ctx context.Context, id int64) (*models.WatchCondition, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+conditionColumns+` FROM watch_conditions WHERE id = ?`, id)
	c, err := scanCondition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("watch condition %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get watch condition %d: %w", id, err)
	}
	return c, nil
}

// CountEnabledConditions returns the number of enabled conditions owned by a directory
func (s *Store) CountEnabledConditions(ctx context.Context, directoryID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM watch_conditions WHERE directory_id = ? AND enabled = 1`, directoryID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count enabled conditions of directory %d: %w", directoryID, err)
	}
	return n, nil
}

// AddWatchCondition inserts a condition and sets its ID.
// The owning directory must exist.
func (s *Store) AddWatchCondition(ctx context.Context, c *models.WatchCondition) (int64, error) {
	args := []interface{}{c.DirectoryID, c.Name, boolToInt(c.Enabled), c.Priority, string(c.Type),
		boolToInt(c.UseRegExp), c.Pattern, c.Destination, durationToMillis(c.Delay)}
	args = append(args, renameArgs(c.RenamePattern)...)

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO watch_conditions (directory_id, name, enabled, priority, type, use_regexp, pattern, destination, delay_ms,
			rename_use_regexp, rename_pattern, rename_replace_value, rename_exclude_extension)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	if err != nil {
		if isConstraint(err, sqlite3.ErrConstraintForeignKey) {
			return 0, fmt.Errorf("watch directory %d: %w", c.DirectoryID, ErrNotFound)
		}
		return 0, fmt.Errorf("add watch condition: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get inserted condition id: %w", err)
	}
	c.ID = id
	return id, nil
}

// UpdateWatchCondition overwrites every field of an existing condition
func (s *Store) UpdateWatchCondition(ctx context.Context, c *models.WatchCondition) error {
	args := []interface{}{c.DirectoryID, c.Name, boolToInt(c.Enabled), c.Priority, string(c.Type),
		boolToInt(c.UseRegExp), c.Pattern, c.Destination, durationToMillis(c.Delay)}
	args = append(args, renameArgs(c.RenamePattern)...)
	args = append(args, c.ID)

	res, err := s.db.ExecContext(ctx,
		`UPDATE watch_conditions
		SET directory_id = ?, name = ?, enabled = ?, priority = ?, type = ?, use_regexp = ?, pattern = ?,
			destination = ?, delay_ms = ?, rename_use_regexp = ?, rename_pattern = ?, rename_replace_value = ?,
			rename_exclude_extension = ?
		WHERE id = ?`, args...)
	if err != nil {
		if isConstraint(err, sqlite3.ErrConstraintForeignKey) {
			return fmt.Errorf("watch directory %d: %w", c.DirectoryID, ErrNotFound)
		}
		return fmt.Errorf("update watch condition %d: %w", c.ID, err)
	}
	return requireAffected(res, "watch condition", c.ID)
}

// RemoveWatchCondition deletes a condition
func (s *Store) RemoveWatchCondition(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM watch_conditions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete watch condition %d: %w", id, err)
	}
	return requireAffected(res, "watch condition", id)
}

// SetWatchConditionEnabled toggles the enabled flag of a condition
func (s *Store) SetWatchConditionEnabled(ctx context.Context, id int64, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE watch_conditions SET enabled = ? WHERE id = ?`, boolToInt(enabled), id)
	if err != nil {
		return fmt.Errorf("set condition %d enabled: %w", id, err)
	}
	return requireAffected(res, "watch condition", id)
}

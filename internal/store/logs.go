package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Alanimdeo/conveyor/internal/models"
)

// CreateLog appends an audit log entry. A zero Date is stamped with the current time.
func (s *Store) CreateLog(ctx context.Context, entry *models.LogEntry) (int64, error) {
	if entry.Date.IsZero() {
		entry.Date = time.Now()
	}
	if entry.Level == "" {
		entry.Level = models.LogInfo
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO logs (date, directory_id, condition_id, level, message) VALUES (?, ?, ?, ?, ?)`,
		entry.Date.UnixMilli(), entry.DirectoryID, entry.ConditionID, string(entry.Level), entry.Message)
	if err != nil {
		return 0, fmt.Errorf("create log: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get inserted log id: %w", err)
	}
	entry.ID = id
	return id, nil
}

// logFilter builds the WHERE clause shared by GetLogs and CountLogs
func logFilter(q models.LogQuery) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	if q.ID != 0 {
		clauses = append(clauses, "id = ?")
		args = append(args, q.ID)
	}
	if len(q.DirectoryIDs) > 0 {
		clauses = append(clauses, "directory_id IN ("+placeholders(len(q.DirectoryIDs))+")")
		for _, id := range q.DirectoryIDs {
			args = append(args, id)
		}
	}
	if len(q.ConditionIDs) > 0 {
		clauses = append(clauses, "condition_id IN ("+placeholders(len(q.ConditionIDs))+")")
		for _, id := range q.ConditionIDs {
			args = append(args, id)
		}
	}
	if !q.From.IsZero() {
		clauses = append(clauses, "date >= ?")
		args = append(args, q.From.UnixMilli())
	}
	if !q.To.IsZero() {
		clauses = append(clauses, "date <= ?")
		args = append(args, q.To.UnixMilli())
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// GetLogs returns audit entries matching the query, newest first
func (s *Store) GetLogs(ctx context.Context, q models.LogQuery) ([]models.LogEntry, error) {
	where, args := logFilter(q)
	query := `SELECT id, date, directory_id, condition_id, level, message FROM logs` + where + ` ORDER BY date DESC, id DESC`

	if q.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, q.Limit, q.Offset)
	} else if q.Offset > 0 {
		query += ` LIMIT -1 OFFSET ?`
		args = append(args, q.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query logs: %w", err)
	}
	defer rows.Close()

	var entries []models.LogEntry
	for rows.Next() {
		var e models.LogEntry
		var dateMs int64
		var level string
		if err := rows.Scan(&e.ID, &dateMs, &e.DirectoryID, &e.ConditionID, &level, &e.Message); err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		e.Date = time.UnixMilli(dateMs)
		e.Level = models.LogLevel(level)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate logs: %w", err)
	}
	return entries, nil
}

// CountLogs returns the number of audit entries matching the query, ignoring Limit and Offset
func (s *Store) CountLogs(ctx context.Context, q models.LogQuery) (int, error) {
	where, args := logFilter(q)
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM logs`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count logs: %w", err)
	}
	return n, nil
}

// PruneLogs deletes audit entries older than before and returns how many were removed
func (s *Store) PruneLogs(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM logs WHERE date < ?`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune logs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

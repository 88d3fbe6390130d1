package report

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gofer/internal/domain"
)

// Reporter is the read-only aggregation surface over users, requests,
// and tasks. It holds no state beyond the connection and tolerates
// concurrent engine writes.
type Reporter struct {
	DB *sql.DB
}

// RequestsCreated counts requests created at or after the cutoff,
// grouped by the creator's external identity, descending by count.
func (r Reporter) RequestsCreated(ctx context.Context, since time.Time) ([]domain.ReportRow, error) {
	rows, err := r.DB.QueryContext(ctx, `
SELECT u.external_id, COUNT(*) AS n
FROM requests r
JOIN users u ON u.id = r.created_by
WHERE r.created_at >= ?
GROUP BY u.external_id
ORDER BY n DESC, u.external_id ASC`, since.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows)
}

// RequestsCompleted counts distinct requests with at least one task
// completed at or after the cutoff, grouped by the completing assignee's
// external identity, descending by count. A request with several
// completed tasks by the same assignee counts once.
func (r Reporter) RequestsCompleted(ctx context.Context, since time.Time) ([]domain.ReportRow, error) {
	rows, err := r.DB.QueryContext(ctx, `
SELECT u.external_id, COUNT(DISTINCT t.request_id) AS n
FROM tasks t
JOIN users u ON u.id = t.assigned_to
WHERE t.completed_at IS NOT NULL AND t.completed_at >= ?
GROUP BY u.external_id
ORDER BY n DESC, u.external_id ASC`, since.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows)
}

func scanRows(rows *sql.Rows) ([]domain.ReportRow, error) {
	var res []domain.ReportRow
	for rows.Next() {
		var row domain.ReportRow
		if err := rows.Scan(&row.ExternalID, &row.Count); err != nil {
			return nil, err
		}
		res = append(res, row)
	}
	return res, rows.Err()
}

// SummaryLines renders leaderboard rows as chat summary lines, one per
// user: "- <mention> - N requests created".
func SummaryLines(rows []domain.ReportRow, mentionFormat, verb string) []string {
	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		mention := fmt.Sprintf(mentionFormat, row.ExternalID)
		noun := "requests"
		if row.Count == 1 {
			noun = "request"
		}
		lines = append(lines, fmt.Sprintf("- %s - %d %s %s", mention, row.Count, noun, verb))
	}
	return lines
}

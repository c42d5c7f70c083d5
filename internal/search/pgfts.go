package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using the generated fts column on the goals table.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

func (p *PgFTS) Name() string { return "pgfts" }

// Healthy always returns true; if Postgres is down the goal store is down too.
func (p *PgFTS) Healthy() bool {
	return true
}

func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	tsQuery := "plainto_tsquery('simple', $1)"
	args := []any{q.Text, q.OrganizationID}
	where := []string{"fts @@ " + tsQuery, "organization_id = $2"}
	if q.Timeframe != "" {
		args = append(args, string(q.Timeframe))
		where = append(where, fmt.Sprintf("timeframe = $%d", len(args)))
	}
	if q.Status != "" {
		args = append(args, string(q.Status))
		where = append(where, fmt.Sprintf("coalesce(doc->>'status', 'not_started') = $%d", len(args)))
	}
	whereSQL := strings.Join(where, " AND ")

	var total int
	if err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM goals WHERE `+whereSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	dataSQL := fmt.Sprintf(`
		SELECT id, organization_id, coalesce(doc->>'title', ''),
			ts_headline('simple', coalesce(doc->>'description', ''), %s, 'MaxFragments=1,MaxWords=30'),
			timeframe, coalesce(doc->>'status', 'not_started')
		FROM goals
		WHERE %s
		ORDER BY ts_rank(fts, %s) DESC, created_at DESC
		LIMIT %d OFFSET %d`,
		tsQuery, whereSQL, tsQuery, normalizeLimit(q.Limit), max(q.Offset, 0))

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.OrganizationID, &r.Title, &r.Snippet, &r.Timeframe, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}
	return results, total, rows.Err()
}

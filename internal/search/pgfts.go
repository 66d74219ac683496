package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across goals and weekly_reviews
// using plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text, q.OwnerID}
	argN := 3

	var subQueries []string

	if q.FilterType == "" || q.FilterType == ResultGoal {
		goalWhere := "to_tsvector('english', g.title) @@ " + tsQuery + " AND g.owner_id = $2"
		if q.FilterLevel != "" {
			goalWhere += fmt.Sprintf(" AND g.level = $%d", argN)
			args = append(args, q.FilterLevel)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'goal'::text AS type, g.id, g.title,
				''::text AS snippet,
				g.level, g.status, g.owner_id,
				ts_rank(to_tsvector('english', g.title), %s) AS rank
			FROM goals g
			WHERE %s`, tsQuery, goalWhere))
	}

	if q.FilterType == "" || q.FilterType == ResultReview {
		reviewWhere := "to_tsvector('english', r.learnings || ' ' || r.alignment_reflection) @@ " +
			tsQuery + " AND r.owner_id = $2"
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'review'::text AS type, r.id,
				'Weekly review ' || to_char(r.week_start, 'YYYY-MM-DD') AS title,
				ts_headline('english', r.learnings || ' ' || r.alignment_reflection, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				''::text AS level, ''::text AS status, r.owner_id,
				ts_rank(to_tsvector('english', r.learnings || ' ' || r.alignment_reflection), %s) AS rank
			FROM weekly_reviews r
			WHERE %s`, tsQuery, tsQuery, reviewWhere))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, level, status, owner_id
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.Level, &r.Status, &r.OwnerID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]GoalRecord, []ReviewRecord, error) {
	goalRows, err := p.db.QueryContext(ctx, `
		SELECT id, title, level, status, owner_id
		FROM goals
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load goals: %w", err)
	}
	defer goalRows.Close()

	goals := make([]GoalRecord, 0)
	for goalRows.Next() {
		var g GoalRecord
		if err := goalRows.Scan(&g.ID, &g.Title, &g.Level, &g.Status, &g.OwnerID); err != nil {
			return nil, nil, fmt.Errorf("scan goal: %w", err)
		}
		goals = append(goals, g)
	}
	if err := goalRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate goals: %w", err)
	}

	reviewRows, err := p.db.QueryContext(ctx, `
		SELECT id, to_char(week_start, 'YYYY-MM-DD'),
			array_to_string(ARRAY(SELECT jsonb_array_elements_text(wins)), '; '),
			array_to_string(ARRAY(SELECT jsonb_array_elements_text(challenges)), '; '),
			learnings, owner_id
		FROM weekly_reviews
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load reviews: %w", err)
	}
	defer reviewRows.Close()

	reviews := make([]ReviewRecord, 0)
	for reviewRows.Next() {
		var r ReviewRecord
		if err := reviewRows.Scan(&r.ID, &r.WeekStart, &r.Wins, &r.Challenges, &r.Learnings, &r.OwnerID); err != nil {
			return nil, nil, fmt.Errorf("scan review: %w", err)
		}
		reviews = append(reviews, r)
	}
	if err := reviewRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate reviews: %w", err)
	}

	return goals, reviews, nil
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"goalsync/api/internal/util"
)

// PostgresStore keeps each goal as a JSONB document next to the columns used for
// equality queries. The goals_notify trigger (db/migrations) turns every write into a
// pg_notify on the goal_changes channel.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) InsertGoal(ctx context.Context, goal Goal) (string, error) {
	goal.ID = util.NewID("goal")
	doc, err := json.Marshal(goal)
	if err != nil {
		return "", fmt.Errorf("encode goal: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO goals (id, organization_id, timeframe, calendar_week, year, parent_goal_id, created_at, updated_at, doc)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, goal.ID, goal.OrganizationID, string(goal.Timeframe), goal.CalendarWeek, goal.Year,
		nullString(goal.ParentGoalID), goal.CreatedAt, goal.UpdatedAt, doc)
	if err != nil {
		return "", fmt.Errorf("insert goal: %w", err)
	}
	return goal.ID, nil
}

func (s *PostgresStore) ReplaceGoal(ctx context.Context, goal Goal) error {
	doc, err := json.Marshal(goal)
	if err != nil {
		return fmt.Errorf("encode goal: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE goals
		SET organization_id = $2, timeframe = $3, calendar_week = $4, year = $5,
			parent_goal_id = $6, created_at = $7, updated_at = $8, doc = $9
		WHERE id = $1
	`, goal.ID, goal.OrganizationID, string(goal.Timeframe), goal.CalendarWeek, goal.Year,
		nullString(goal.ParentGoalID), goal.CreatedAt, goal.UpdatedAt, doc)
	if err != nil {
		return fmt.Errorf("update goal: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresStore) ReplaceGoalIfStatus(ctx context.Context, goal Goal, expected Status) error {
	doc, err := json.Marshal(goal)
	if err != nil {
		return fmt.Errorf("encode goal: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE goals
		SET organization_id = $2, timeframe = $3, calendar_week = $4, year = $5,
			parent_goal_id = $6, created_at = $7, updated_at = $8, doc = $9
		WHERE id = $1 AND doc->>'status' = $10
	`, goal.ID, goal.OrganizationID, string(goal.Timeframe), goal.CalendarWeek, goal.Year,
		nullString(goal.ParentGoalID), goal.CreatedAt, goal.UpdatedAt, doc, string(expected))
	if err != nil {
		return fmt.Errorf("update goal: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM goals WHERE id = $1)`, goal.ID).Scan(&exists); err != nil {
		return fmt.Errorf("check goal: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrStatusMismatch
}

func (s *PostgresStore) DeleteGoal(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM goals WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete goal: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresStore) GetGoal(ctx context.Context, id string) (Goal, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM goals WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return Goal{}, ErrNotFound
	}
	if err != nil {
		return Goal{}, fmt.Errorf("get goal: %w", err)
	}
	return decodeGoal(id, doc)
}

func (s *PostgresStore) FindGoals(ctx context.Context, filter Filter) ([]Goal, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.OrganizationID != "" {
		add("organization_id = $%d", filter.OrganizationID)
	}
	if filter.Timeframe != "" {
		add("timeframe = $%d", string(filter.Timeframe))
	}
	if filter.CalendarWeek != nil {
		add("calendar_week = $%d", *filter.CalendarWeek)
	}
	if filter.Year != nil {
		add("year = $%d", *filter.Year)
	}
	if filter.ParentGoalID != "" {
		add("parent_goal_id = $%d", filter.ParentGoalID)
	}

	query := `SELECT id, doc FROM goals`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find goals: %w", err)
	}
	defer rows.Close()

	goals := []Goal{}
	for rows.Next() {
		var (
			id  string
			doc []byte
		)
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, fmt.Errorf("scan goal: %w", err)
		}
		goal, err := decodeGoal(id, doc)
		if err != nil {
			return nil, err
		}
		goals = append(goals, goal)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate goals: %w", err)
	}
	return goals, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func decodeGoal(id string, doc []byte) (Goal, error) {
	var goal Goal
	if err := json.Unmarshal(doc, &goal); err != nil {
		return Goal{}, fmt.Errorf("decode goal %s: %w", id, err)
	}
	goal.ID = id
	return goal, nil
}

func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

var _ GoalStore = (*PostgresStore)(nil)

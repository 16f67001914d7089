package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// StepCount represents dialog step usage statistics
type StepCount struct {
	Step  string
	Count int64
}

// StatsRepository handles dialog statistics persistence
type StatsRepository struct {
	db *sql.DB
}

// NewStatsRepository creates a new StatsRepository
func NewStatsRepository(db *sql.DB) *StatsRepository {
	return &StatsRepository{db: db}
}

// RecordStep records the outcome of a processed dialog step
func (r *StatsRepository) RecordStep(ctx context.Context, userID int64, step, outcome string) error {
	query := `INSERT INTO dialog_events (user_id, step, outcome, executed_at) VALUES (?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query, userID, step, outcome, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to record step: %w", err)
	}
	return nil
}

// GetStepCount returns total steps processed for a user
func (r *StatsRepository) GetStepCount(ctx context.Context, userID int64) (int64, error) {
	var count int64
	query := `SELECT COUNT(*) FROM dialog_events WHERE user_id = ?`
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&count)
	return count, err
}

// GetTotalSteps returns total steps processed for all users
func (r *StatsRepository) GetTotalSteps(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM dialog_events").Scan(&count)
	return count, err
}

// GetPopularSteps returns most used steps (top N)
func (r *StatsRepository) GetPopularSteps(ctx context.Context, limit int) ([]StepCount, error) {
	query := `
		SELECT step, COUNT(*) as count
		FROM dialog_events
		GROUP BY step
		ORDER BY count DESC, step
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get popular steps: %w", err)
	}
	defer rows.Close()

	var results []StepCount
	for rows.Next() {
		var item StepCount
		if err := rows.Scan(&item.Step, &item.Count); err != nil {
			return nil, fmt.Errorf("failed to scan step count: %w", err)
		}
		results = append(results, item)
	}

	return results, rows.Err()
}

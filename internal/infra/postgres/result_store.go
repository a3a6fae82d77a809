package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"spacescape-service/internal/domain"
	"github.com/jackc/pgx/v4/pgxpool"
)

// ResultStore persists finished games in the game_results table.
type ResultStore struct {
	pool *pgxpool.Pool
}

func NewResultStore(pool *pgxpool.Pool) *ResultStore {
	return &ResultStore{pool: pool}
}

func (s *ResultStore) RecordResult(ctx context.Context, result domain.GameResult) error {
	scores, err := json.Marshal(result.Scores)
	if err != nil {
		return fmt.Errorf("marshal scores: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO game_results (room_id, captain, scores, correct, incorrect, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		result.RoomID, result.Captain, scores, result.Correct, result.Incorrect, result.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("record result: %w", err)
	}
	return nil
}

// ListResults returns a room's results newest first.
func (s *ResultStore) ListResults(ctx context.Context, roomID string) ([]domain.GameResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT room_id, captain, scores, correct, incorrect, finished_at
		 FROM game_results WHERE room_id=$1 ORDER BY finished_at DESC, id DESC`,
		roomID,
	)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	results := make([]domain.GameResult, 0)
	for rows.Next() {
		var (
			r   domain.GameResult
			raw []byte
		)
		if err := rows.Scan(&r.RoomID, &r.Captain, &raw, &r.Correct, &r.Incorrect, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		if err := json.Unmarshal(raw, &r.Scores); err != nil {
			return nil, fmt.Errorf("unmarshal scores: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	return results, nil
}

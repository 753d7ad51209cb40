package results

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"chronocards/internal/game"
)

// Repository archives finished games in Postgres. It is optional: every
// method is safe to call on a nil receiver and becomes a no-op, so the
// server runs fine without a DATABASE_URL.
type Repository struct {
	db *sql.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	r := &Repository{db: db}
	if err := r.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *Repository) ensureSchema(ctx context.Context) error {
	q := `CREATE TABLE IF NOT EXISTS game_results (
		room_code    TEXT PRIMARY KEY,
		winner_name  TEXT NOT NULL,
		player_count INT NOT NULL,
		turn_count   INT NOT NULL,
		finished_at  TIMESTAMPTZ NOT NULL
	)`
	_, err := r.db.ExecContext(ctx, q)
	return err
}

// SaveResult upserts the final result for a room. A room code can be
// recycled across days, so the latest finish wins.
func (r *Repository) SaveResult(ctx context.Context, g game.GameResult) error {
	if r == nil || r.db == nil {
		return nil
	}
	q := `INSERT INTO game_results (
		room_code, winner_name, player_count, turn_count, finished_at
	  ) VALUES ($1,$2,$3,$4,$5)
	  ON CONFLICT (room_code) DO UPDATE SET
		winner_name=EXCLUDED.winner_name,
		player_count=EXCLUDED.player_count,
		turn_count=EXCLUDED.turn_count,
		finished_at=EXCLUDED.finished_at`
	_, err := r.db.ExecContext(ctx, q,
		g.RoomCode, g.WinnerName, g.PlayerCount, g.TurnCount, g.FinishedAt,
	)
	return err
}

// Recent returns the most recently finished games, newest first.
func (r *Repository) Recent(ctx context.Context, limit int) ([]game.GameResult, error) {
	if r == nil || r.db == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	q := `SELECT room_code, winner_name, player_count, turn_count, finished_at
	  FROM game_results ORDER BY finished_at DESC LIMIT $1`
	rows, err := r.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []game.GameResult
	for rows.Next() {
		var g game.GameResult
		if err := rows.Scan(&g.RoomCode, &g.WinnerName, &g.PlayerCount, &g.TurnCount, &g.FinishedAt); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

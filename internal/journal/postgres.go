package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/park285/Cheese-remote-engine/internal/domain"
)

// Schema creates the table used by Postgres.
const Schema = `
CREATE TABLE IF NOT EXISTS decision_rounds (
	id            UUID PRIMARY KEY,
	game_id       TEXT NOT NULL,
	system_alias  TEXT NOT NULL,
	ply           INTEGER NOT NULL,
	moves_uci     JSONB NOT NULL,
	move          TEXT NOT NULL DEFAULT '',
	resigned      BOOLEAN NOT NULL DEFAULT FALSE,
	think_time    DOUBLE PRECISION,
	latency_ms    BIGINT NOT NULL,
	error         TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS decision_rounds_game_idx ON decision_rounds (game_id, created_at DESC);`

type Postgres struct {
	db *sql.DB
}

func NewPostgres(databaseURL string) (*Postgres, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate decision_rounds: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

func (p *Postgres) Record(ctx context.Context, rt domain.RoundTrip) error {
	if strings.TrimSpace(rt.GameID) == "" {
		return ErrMissingGameID
	}
	args, err := roundArgs(rt)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO decision_rounds (
			id, game_id, system_alias, ply, moves_uci, move,
			resigned, think_time, latency_ms, error, created_at
		)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`

	_, err = p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("insert decision round: %w", err)
	}
	return nil
}

func (p *Postgres) Recent(ctx context.Context, gameID string, limit int) ([]domain.RoundTrip, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	const query = `
		SELECT
			id,
			game_id,
			system_alias,
			ply,
			moves_uci,
			move,
			resigned,
			think_time,
			latency_ms,
			error,
			created_at
		FROM decision_rounds
		WHERE game_id = $1
		ORDER BY created_at DESC, ply DESC
		LIMIT $2`

	rows, err := p.db.QueryContext(ctx, query, strings.TrimSpace(gameID), limit)
	if err != nil {
		return nil, fmt.Errorf("select decision rounds: %w", err)
	}
	defer rows.Close()

	out := make([]domain.RoundTrip, 0, limit)
	for rows.Next() {
		rt, err := scanRound(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rt)
	}
	return out, rows.Err()
}

// roundArgs returns the insert parameters $1..$11 for rt.
func roundArgs(rt domain.RoundTrip) ([]any, error) {
	moves, err := json.Marshal(nonNil(rt.Moves))
	if err != nil {
		return nil, fmt.Errorf("marshal moves_uci: %w", err)
	}
	var thinkTime sql.NullFloat64
	if rt.ThinkTime != nil {
		thinkTime = sql.NullFloat64{Float64: *rt.ThinkTime, Valid: true}
	}
	return []any{
		rt.ID,
		rt.GameID,
		rt.System,
		rt.Ply,
		moves,
		rt.Move,
		rt.Resigned,
		thinkTime,
		rt.Latency.Milliseconds(),
		rt.Error,
		rt.CreatedAt,
	}, nil
}

// rowScanner is satisfied by *sql.Rows and *sql.Row.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanRound reads one decision_rounds row in the column order of Recent.
func scanRound(sc rowScanner) (domain.RoundTrip, error) {
	var (
		rt        domain.RoundTrip
		movesJSON []byte
		thinkTime sql.NullFloat64
		latencyMS int64
	)
	if err := sc.Scan(
		&rt.ID,
		&rt.GameID,
		&rt.System,
		&rt.Ply,
		&movesJSON,
		&rt.Move,
		&rt.Resigned,
		&thinkTime,
		&latencyMS,
		&rt.Error,
		&rt.CreatedAt,
	); err != nil {
		return domain.RoundTrip{}, fmt.Errorf("scan decision round: %w", err)
	}
	if err := json.Unmarshal(movesJSON, &rt.Moves); err != nil {
		return domain.RoundTrip{}, fmt.Errorf("unmarshal moves_uci: %w", err)
	}
	if thinkTime.Valid {
		v := thinkTime.Float64
		rt.ThinkTime = &v
	}
	rt.Latency = time.Duration(latencyMS) * time.Millisecond
	return rt, nil
}

func nonNil(moves []string) []string {
	if moves == nil {
		return []string{}
	}
	return moves
}

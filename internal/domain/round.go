package domain

import "time"

// RoundTrip is one request/response exchange between an adapter and a
// decision backend, successful or not.
type RoundTrip struct {
	ID        string        `json:"id"`
	GameID    string        `json:"game_id"`
	System    string        `json:"system"`
	Ply       int           `json:"ply"`
	Moves     []string      `json:"moves"`
	Move      string        `json:"move,omitempty"`
	Resigned  bool          `json:"resigned,omitempty"`
	ThinkTime *float64      `json:"think_time,omitempty"`
	Latency   time.Duration `json:"latency_ns"`
	Error     string        `json:"error,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// Failed reports whether the exchange ended in an error.
func (r RoundTrip) Failed() bool { return r.Error != "" }

// Status is a hosted game's lifecycle state.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusFinished Status = "FINISHED"
	StatusResigned Status = "RESIGNED"
	StatusDraw     Status = "DRAW"
	StatusAborted  Status = "ABORTED"
)

// MatchSummary is the final state of a game driven by the host runner.
type MatchSummary struct {
	ID          string    `json:"id"`
	White       string    `json:"white"`
	Black       string    `json:"black"`
	TimeControl string    `json:"time_control"`
	MovesUCI    []string  `json:"moves_uci"`
	MovesSAN    []string  `json:"moves_san"`
	Result      string    `json:"result"`
	Method      string    `json:"method,omitempty"`
	Status      Status    `json:"status"`
	Error       string    `json:"error,omitempty"`
	PGN         string    `json:"pgn"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at"`
}

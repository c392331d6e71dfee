package matchctx

import (
	"fmt"
	"strings"
	"time"

	nchess "github.com/corentings/chess/v2"
)

// UnknownTimeControl is sent when the adapter was built without a match.
const UnknownTimeControl = "-"

// Opponent is the other side of a match as reported by the host.
type Opponent struct {
	Name   string
	Title  string
	Rating *int
}

// Match is the host's description of the game an adapter is created for.
type Match struct {
	ID             string
	Opponent       Opponent
	IsWhite        bool
	ClockInitial   time.Duration
	ClockIncrement time.Duration
}

// Metadata is captured once per adapter and never recomputed.
type Metadata struct {
	TimeControl string
	WhiteElo    *int
	BlackElo    *int
}

// Capture derives request metadata from the match. Only the opponent's
// rating is known; the adapter's own side is always left nil.
func Capture(m *Match) Metadata {
	if m == nil {
		return Metadata{TimeControl: UnknownTimeControl}
	}
	meta := Metadata{TimeControl: FormatTimeControl(m.ClockInitial, m.ClockIncrement)}
	rating := copyInt(m.Opponent.Rating)
	if m.IsWhite {
		meta.BlackElo = rating
	} else {
		meta.WhiteElo = rating
	}
	return meta
}

// FormatTimeControl renders "<initial_seconds>+<increment_seconds>".
func FormatTimeControl(initial, increment time.Duration) string {
	return fmt.Sprintf("%d+%d", int64(initial/time.Second), int64(increment/time.Second))
}

// GameContext is the request payload sent to a decision backend.
type GameContext struct {
	TimeControl string    `json:"time_control"`
	WhiteElo    *int      `json:"white_elo"`
	BlackElo    *int      `json:"black_elo"`
	Result      *string   `json:"result"`
	IsFinished  bool      `json:"is_finished"`
	Moves       []string  `json:"moves"`
	ThinkTimes  []float64 `json:"think_times"`
}

// Build encodes the game's move history in play order. Historical think
// times are not tracked, so every entry is zero.
func Build(meta Metadata, game *nchess.Game) GameContext {
	moves := EncodeHistory(game)
	return GameContext{
		TimeControl: meta.TimeControl,
		WhiteElo:    copyInt(meta.WhiteElo),
		BlackElo:    copyInt(meta.BlackElo),
		Result:      nil,
		IsFinished:  false,
		Moves:       moves,
		ThinkTimes:  make([]float64, len(moves)),
	}
}

// EncodeHistory returns the played moves of game as lowercase UCI strings.
func EncodeHistory(game *nchess.Game) []string {
	if game == nil {
		return []string{}
	}
	positions := game.Positions()
	moves := game.Moves()
	notation := nchess.UCINotation{}
	out := make([]string, 0, len(moves))
	for i, mv := range moves {
		if i < len(positions) {
			out = append(out, strings.ToLower(notation.Encode(positions[i], mv)))
			continue
		}
		out = append(out, strings.ToLower(mv.String()))
	}
	return out
}

// Validate checks the invariants a backend relies on.
func (g GameContext) Validate() error {
	if len(g.Moves) != len(g.ThinkTimes) {
		return fmt.Errorf("moves/think_times length mismatch: %d vs %d", len(g.Moves), len(g.ThinkTimes))
	}
	for i, t := range g.ThinkTimes {
		if t < 0 {
			return fmt.Errorf("negative think time at ply %d", i+1)
		}
	}
	return nil
}

// Replay rebuilds a game from the context's move list.
func (g GameContext) Replay() (*nchess.Game, error) {
	game := nchess.NewGame()
	notation := nchess.UCINotation{}
	for _, mv := range g.Moves {
		move, err := notation.Decode(game.Position(), strings.ToLower(strings.TrimSpace(mv)))
		if err != nil {
			return nil, fmt.Errorf("decode move %s: %w", mv, err)
		}
		if err := game.Move(move, nil); err != nil {
			return nil, fmt.Errorf("apply move %s: %w", mv, err)
		}
	}
	return game, nil
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	n := *v
	return &n
}

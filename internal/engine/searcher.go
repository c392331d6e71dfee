package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	nchess "github.com/corentings/chess/v2"
	"github.com/park285/Cheese-remote-engine/internal/wire"
)

var (
	ErrNoLegalMoves = errors.New("no legal moves")
	// ErrIllegalMove is a protocol violation: the backend answered with a
	// well-formed move that is not legal in the searched position.
	ErrIllegalMove = fmt.Errorf("%w: illegal move", wire.ErrProtocol)
	ErrUnknownPicker = errors.New("unknown move picker")
)

// InfoThinkTime is the Info key carrying the backend's reported think time
// in seconds.
const InfoThinkTime = "think_time"

// Limit holds the host's search constraints for one ply.
type Limit struct {
	Time       time.Duration
	WhiteClock time.Duration
	BlackClock time.Duration
	WhiteInc   time.Duration
	BlackInc   time.Duration
	Depth      int
	Nodes      int
}

// PlayResult is the host-facing outcome of one search.
type PlayResult struct {
	Move     *nchess.Move
	Ponder   *nchess.Move
	Resigned bool
	Info     map[string]any
}

// UCI returns the chosen move in coordinate notation, or "" when there is none.
func (r PlayResult) UCI() string {
	if r.Move == nil {
		return ""
	}
	return strings.ToLower(r.Move.String())
}

// ThinkTime returns the backend-reported think time, if any.
func (r PlayResult) ThinkTime() (float64, bool) {
	v, ok := r.Info[InfoThinkTime].(float64)
	return v, ok
}

// Searcher is the contract a host runner calls once per ply.
type Searcher interface {
	Search(ctx context.Context, game *nchess.Game, limit Limit, ponder, drawOffered bool, rootMoves []string) (PlayResult, error)
}

// legalMatch returns the legal move of game equal to mv, or nil.
func legalMatch(game *nchess.Game, mv *nchess.Move) *nchess.Move {
	if game == nil || mv == nil {
		return nil
	}
	legal := game.ValidMoves()
	for i := range legal {
		if legal[i].S1() == mv.S1() && legal[i].S2() == mv.S2() && legal[i].Promo() == mv.Promo() {
			return &legal[i]
		}
	}
	return nil
}

// IsLegal reports whether mv can be played in the game's current position.
func IsLegal(game *nchess.Game, mv *nchess.Move) bool {
	return legalMatch(game, mv) != nil
}

package engine

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	nchess "github.com/corentings/chess/v2"
)

// RandomMove plays a uniformly random legal move.
type RandomMove struct {
	mu   sync.Mutex
	rand *rand.Rand
}

func NewRandomMove(seed int64) *RandomMove {
	return &RandomMove{rand: rand.New(rand.NewSource(seed))}
}

func (r *RandomMove) SetSeed(seed int64) {
	r.mu.Lock()
	r.rand = rand.New(rand.NewSource(seed))
	r.mu.Unlock()
}

func (r *RandomMove) Search(_ context.Context, game *nchess.Game, _ Limit, _, _ bool, _ []string) (PlayResult, error) {
	moves := legalMoves(game)
	if len(moves) == 0 {
		return PlayResult{}, ErrNoLegalMoves
	}
	r.mu.Lock()
	idx := r.rand.Intn(len(moves))
	r.mu.Unlock()
	return PlayResult{Move: &moves[idx], Info: map[string]any{}}, nil
}

// Alphabetical plays the legal move whose SAN sorts first.
type Alphabetical struct{}

func (Alphabetical) Search(_ context.Context, game *nchess.Game, _ Limit, _, _ bool, _ []string) (PlayResult, error) {
	notation := nchess.AlgebraicNotation{}
	return firstBy(game, func(pos *nchess.Position, m *nchess.Move) string { return notation.Encode(pos, m) })
}

// FirstMove plays the legal move whose UCI sorts first.
type FirstMove struct{}

func (FirstMove) Search(_ context.Context, game *nchess.Game, _ Limit, _, _ bool, _ []string) (PlayResult, error) {
	notation := nchess.UCINotation{}
	return firstBy(game, func(pos *nchess.Position, m *nchess.Move) string { return strings.ToLower(notation.Encode(pos, m)) })
}

// firstBy returns the legal move with the smallest key. The position is only
// read once legal moves are known to exist.
func firstBy(game *nchess.Game, key func(*nchess.Position, *nchess.Move) string) (PlayResult, error) {
	moves := legalMoves(game)
	if len(moves) == 0 {
		return PlayResult{}, ErrNoLegalMoves
	}
	pos := game.Position()
	keys := make([]string, len(moves))
	idx := make([]int, len(moves))
	for i := range moves {
		keys[i] = key(pos, &moves[i])
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return keys[idx[a]] < keys[idx[b]] })
	return PlayResult{Move: &moves[idx[0]], Info: map[string]any{}}, nil
}

func legalMoves(game *nchess.Game) []nchess.Move {
	if game == nil || game.Outcome() != nchess.NoOutcome {
		return nil
	}
	return game.ValidMoves()
}

// NewPicker returns a baseline Searcher by name: random, alphabetical or first.
func NewPicker(name string) (Searcher, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "random":
		return NewRandomMove(time.Now().UnixNano()), nil
	case "alphabetical", "alpha":
		return Alphabetical{}, nil
	case "first", "firstmove", "":
		return FirstMove{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPicker, name)
	}
}

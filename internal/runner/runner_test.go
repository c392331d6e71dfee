package runner

import (
	"context"
	"errors"
	"strings"
	"testing"

	nchess "github.com/corentings/chess/v2"
	"github.com/park285/Cheese-remote-engine/internal/domain"
	"github.com/park285/Cheese-remote-engine/internal/engine"
	"github.com/park285/Cheese-remote-engine/internal/wire"
	"go.uber.org/zap"
)

// scripted plays fixed UCI moves in order, one per call.
type scripted struct {
	moves []string
	next  int
}

func (s *scripted) Search(_ context.Context, game *nchess.Game, _ engine.Limit, _, _ bool, _ []string) (engine.PlayResult, error) {
	mv, err := nchess.UCINotation{}.Decode(game.Position(), s.moves[s.next])
	s.next++
	if err != nil {
		return engine.PlayResult{}, err
	}
	return engine.PlayResult{Move: mv}, nil
}

type resigner struct{}

func (resigner) Search(context.Context, *nchess.Game, engine.Limit, bool, bool, []string) (engine.PlayResult, error) {
	return engine.PlayResult{Resigned: true}, nil
}

type failing struct{ err error }

func (f failing) Search(context.Context, *nchess.Game, engine.Limit, bool, bool, []string) (engine.PlayResult, error) {
	return engine.PlayResult{}, f.err
}

func TestPlayCheckmate(t *testing.T) {
	r := New(zap.NewNop())
	sum, err := r.Play(context.Background(), Game{
		ID:    "fools-mate",
		White: &scripted{moves: []string{"f2f3", "g2g4"}},
		Black: &scripted{moves: []string{"e7e5", "d8h4"}},
	})
	if err != nil {
		t.Fatalf("Play: %v", err)
	}
	if sum.Status != domain.StatusFinished || sum.Result != "0-1" || sum.Method != "checkmate" {
		t.Fatalf("unexpected summary %+v", sum)
	}
	if strings.Join(sum.MovesUCI, " ") != "f2f3 e7e5 g2g4 d8h4" {
		t.Fatalf("unexpected moves %v", sum.MovesUCI)
	}
	if sum.MovesSAN[3] != "Qh4#" {
		t.Fatalf("unexpected SAN %v", sum.MovesSAN)
	}
	if !strings.Contains(sum.PGN, "0-1") {
		t.Fatalf("pgn missing result: %q", sum.PGN)
	}
}

func TestPlayResignation(t *testing.T) {
	r := New(zap.NewNop())
	sum, err := r.Play(context.Background(), Game{White: resigner{}, Black: engine.FirstMove{}})
	if err != nil {
		t.Fatalf("Play: %v", err)
	}
	if sum.Status != domain.StatusResigned || sum.Result != "0-1" || len(sum.MovesUCI) != 0 {
		t.Fatalf("unexpected summary %+v", sum)
	}
}

func TestPlaySearchErrorAborts(t *testing.T) {
	r := New(zap.NewNop())
	cause := errors.New("backend gone")
	sum, err := r.Play(context.Background(), Game{
		White: engine.FirstMove{},
		Black: failing{err: errors.Join(wire.ErrTransport, cause)},
	})
	if !errors.Is(err, wire.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if sum == nil || sum.Status != domain.StatusAborted || sum.Error == "" || len(sum.MovesUCI) != 1 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	if sum.Result != "*" {
		t.Fatalf("aborted game must not have a result, got %q", sum.Result)
	}
}

func TestPlayIllegalMoveAborts(t *testing.T) {
	r := New(zap.NewNop())
	// e2e5 decodes but is not legal from the start position.
	sum, err := r.Play(context.Background(), Game{
		White: &scripted{moves: []string{"e2e5"}},
		Black: engine.FirstMove{},
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if sum == nil || sum.Status != domain.StatusAborted {
		t.Fatalf("unexpected summary %+v", sum)
	}
}

func TestPlayPlyLimit(t *testing.T) {
	r := New(zap.NewNop())
	sum, err := r.Play(context.Background(), Game{
		White:    engine.NewRandomMove(1),
		Black:    engine.Alphabetical{},
		MaxPlies: 10,
	})
	if err != nil {
		t.Fatalf("Play: %v", err)
	}
	if len(sum.MovesUCI) > 10 {
		t.Fatalf("ply cap ignored: %d plies", len(sum.MovesUCI))
	}
	if len(sum.MovesUCI) == 10 && (sum.Status != domain.StatusAborted || sum.Method != MethodPlyLimit) {
		t.Fatalf("unexpected summary %+v", sum)
	}
}

func TestPlayRandomGameTerminates(t *testing.T) {
	r := New(zap.NewNop())
	sum, err := r.Play(context.Background(), Game{
		White:    engine.NewRandomMove(3),
		Black:    engine.NewRandomMove(4),
		MaxPlies: 600,
	})
	if err != nil {
		t.Fatalf("Play: %v", err)
	}
	if sum.Status == domain.StatusActive {
		t.Fatalf("game left active: %+v", sum)
	}
	if len(sum.MovesUCI) != len(sum.MovesSAN) {
		t.Fatalf("move lists diverged")
	}
}

func TestPlayFromFEN(t *testing.T) {
	r := New(zap.NewNop())
	// White mates in one with Ra8#.
	sum, err := r.Play(context.Background(), Game{
		White:    &scripted{moves: []string{"a1a8"}},
		Black:    engine.FirstMove{},
		StartFEN: "6k1/5ppp/8/8/8/8/8/R5K1 w - - 0 1",
	})
	if err != nil {
		t.Fatalf("Play: %v", err)
	}
	if sum.Result != "1-0" || sum.Status != domain.StatusFinished {
		t.Fatalf("unexpected summary %+v", sum)
	}
}

func TestPlayRejectsBadSetup(t *testing.T) {
	r := New(zap.NewNop())
	if _, err := r.Play(context.Background(), Game{White: engine.FirstMove{}}); err == nil {
		t.Fatalf("expected missing searcher error")
	}
	if _, err := r.Play(context.Background(), Game{White: engine.FirstMove{}, Black: engine.FirstMove{}, StartFEN: "not a fen"}); err == nil {
		t.Fatalf("expected fen error")
	}
}

func TestPlayCancelled(t *testing.T) {
	r := New(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sum, err := r.Play(ctx, Game{White: engine.FirstMove{}, Black: engine.FirstMove{}})
	if !errors.Is(err, context.Canceled) || sum.Status != domain.StatusAborted {
		t.Fatalf("expected cancelled abort, got %v %+v", err, sum)
	}
}

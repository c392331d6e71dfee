package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	nchess "github.com/corentings/chess/v2"
	"github.com/park285/Cheese-remote-engine/internal/domain"
	"github.com/park285/Cheese-remote-engine/internal/engine"
	"github.com/park285/Cheese-remote-engine/internal/obslog"
	"go.uber.org/zap"
)

// MethodPlyLimit marks a game stopped by Game.MaxPlies.
const MethodPlyLimit = "ply_limit"

// Game describes one hosted game between two searchers.
type Game struct {
	ID          string
	White       engine.Searcher
	Black       engine.Searcher
	WhiteName   string
	BlackName   string
	TimeControl string
	StartFEN    string
	// MaxPlies stops the game unfinished after this many plies. Zero means no cap.
	MaxPlies int
	Limit    engine.Limit
}

type Runner struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *Runner {
	if logger == nil {
		logger = obslog.L()
	}
	return &Runner{logger: logger}
}

// Play drives g until it ends. A search failure aborts the game: the summary
// carries status ABORTED and the error is returned alongside it.
func (r *Runner) Play(ctx context.Context, g Game) (*domain.MatchSummary, error) {
	if g.White == nil || g.Black == nil {
		return nil, errors.New("both sides need a searcher")
	}
	game, err := newGame(g.StartFEN)
	if err != nil {
		return nil, err
	}

	sum := &domain.MatchSummary{
		ID:          g.ID,
		White:       nameOr(g.WhiteName, "white"),
		Black:       nameOr(g.BlackName, "black"),
		TimeControl: g.TimeControl,
		MovesUCI:    []string{},
		MovesSAN:    []string{},
		Status:      domain.StatusActive,
		StartedAt:   time.Now(),
	}
	r.logger.Info("game_start",
		zap.String("game_id", sum.ID),
		zap.String("white", sum.White),
		zap.String("black", sum.Black),
	)

	var playErr error
	for game.Outcome() == nchess.NoOutcome {
		if g.MaxPlies > 0 && len(sum.MovesUCI) >= g.MaxPlies {
			sum.Status = domain.StatusAborted
			sum.Method = MethodPlyLimit
			break
		}
		if err := ctx.Err(); err != nil {
			playErr = err
			break
		}

		turn := game.Position().Turn()
		side := g.White
		if turn == nchess.Black {
			side = g.Black
		}
		res, err := side.Search(ctx, game, g.Limit, false, false, nil)
		if err != nil {
			playErr = fmt.Errorf("ply %d (%s): %w", len(sum.MovesUCI)+1, turn, err)
			break
		}
		if res.Resigned {
			game.Resign(turn)
			break
		}
		if !engine.IsLegal(game, res.Move) {
			playErr = fmt.Errorf("ply %d (%s): %w: %s", len(sum.MovesUCI)+1, turn, engine.ErrIllegalMove, res.UCI())
			break
		}

		pos := game.Position()
		san := nchess.AlgebraicNotation{}.Encode(pos, res.Move)
		uci := strings.ToLower(nchess.UCINotation{}.Encode(pos, res.Move))
		if err := game.Move(res.Move, nil); err != nil {
			playErr = fmt.Errorf("ply %d (%s): %w: %s: %v", len(sum.MovesUCI)+1, turn, engine.ErrIllegalMove, uci, err)
			break
		}
		sum.MovesUCI = append(sum.MovesUCI, uci)
		sum.MovesSAN = append(sum.MovesSAN, san)
		r.logger.Debug("game_move",
			zap.String("game_id", sum.ID),
			zap.Int("ply", len(sum.MovesUCI)),
			zap.String("uci", uci),
			zap.String("san", san),
		)
	}

	finish(sum, game, playErr)
	if playErr != nil {
		r.logger.Warn("game_aborted", zap.String("game_id", sum.ID), zap.Int("plies", len(sum.MovesUCI)), zap.Error(playErr))
		return sum, playErr
	}
	r.logger.Info("game_end",
		zap.String("game_id", sum.ID),
		zap.String("status", string(sum.Status)),
		zap.String("result", sum.Result),
		zap.String("method", sum.Method),
		zap.Int("plies", len(sum.MovesUCI)),
	)
	return sum, nil
}

func finish(sum *domain.MatchSummary, game *nchess.Game, playErr error) {
	sum.EndedAt = time.Now()
	sum.Result = string(game.Outcome())
	sum.PGN = game.String()
	if playErr != nil {
		sum.Status = domain.StatusAborted
		sum.Error = playErr.Error()
		return
	}
	if game.Outcome() == nchess.NoOutcome {
		return
	}
	sum.Method = strings.ToLower(game.Method().String())
	switch {
	case game.Method() == nchess.Resignation:
		sum.Status = domain.StatusResigned
	case game.Outcome() == nchess.Draw:
		sum.Status = domain.StatusDraw
	default:
		sum.Status = domain.StatusFinished
	}
}

func newGame(fen string) (*nchess.Game, error) {
	fen = strings.TrimSpace(fen)
	if fen == "" || fen == "startpos" {
		return nchess.NewGame(), nil
	}
	opt, err := nchess.FEN(fen)
	if err != nil {
		return nil, fmt.Errorf("start fen: %w", err)
	}
	return nchess.NewGame(opt), nil
}

func nameOr(name, fallback string) string {
	if s := strings.TrimSpace(name); s != "" {
		return s
	}
	return fallback
}

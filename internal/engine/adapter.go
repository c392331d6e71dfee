package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"

	nchess "github.com/corentings/chess/v2"
	"github.com/google/uuid"
	"github.com/park285/Cheese-remote-engine/internal/domain"
	"github.com/park285/Cheese-remote-engine/internal/journal"
	"github.com/park285/Cheese-remote-engine/internal/matchctx"
	"github.com/park285/Cheese-remote-engine/internal/obslog"
	"github.com/park285/Cheese-remote-engine/internal/registry"
	"github.com/park285/Cheese-remote-engine/internal/wire"
	"go.uber.org/zap"
)

// OptionSystemAlias selects a non-default backend.
const OptionSystemAlias = "system_alias"

// Dialer opens the connection for one round trip. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Policy is the host's draw/resign configuration. The adapter only carries it.
type Policy struct {
	OfferDrawEnabled bool
	OfferDrawMoves   int
	OfferDrawScore   int
	ResignEnabled    bool
	ResignMoves      int
	ResignScore      int
}

type AdapterConfig struct {
	Registry     *registry.Registry
	Command      []string
	Options      map[string]string
	DrawOrResign Policy
	Match        *matchctx.Match
	// Timeout bounds one round trip. Zero blocks until the backend answers.
	Timeout time.Duration
	Dialer  Dialer
	Journal journal.Recorder
	Logger  *zap.Logger
}

// Adapter delegates move selection to a remote decision backend. It is
// immutable after construction; use one adapter per game.
type Adapter struct {
	system  registry.System
	command []string
	policy  Policy
	meta    matchctx.Metadata
	gameID  string
	timeout time.Duration
	dialer  Dialer
	journal journal.Recorder
	logger  *zap.Logger
}

func NewAdapter(cfg AdapterConfig) (*Adapter, error) {
	reg := cfg.Registry
	if reg == nil {
		reg = registry.Builtin()
	}
	system, err := reg.Resolve(cfg.Options[OptionSystemAlias])
	if err != nil {
		return nil, err
	}
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("round trip timeout must be >= 0: %s", cfg.Timeout)
	}

	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &net.Dialer{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = obslog.L()
	}
	gameID := ""
	if cfg.Match != nil {
		gameID = strings.TrimSpace(cfg.Match.ID)
	}

	return &Adapter{
		system:  system,
		command: append([]string(nil), cfg.Command...),
		policy:  cfg.DrawOrResign,
		meta:    matchctx.Capture(cfg.Match),
		gameID:  gameID,
		timeout: cfg.Timeout,
		dialer:  dialer,
		journal: cfg.Journal,
		logger:  logger.With(zap.String("system", system.Alias)),
	}, nil
}

func (a *Adapter) System() registry.System     { return a.system }
func (a *Adapter) Metadata() matchctx.Metadata { return a.meta }

// Search performs exactly one round trip with the backend. limit, ponder,
// drawOffered and rootMoves are accepted for the host contract but are not
// part of the request payload.
func (a *Adapter) Search(ctx context.Context, game *nchess.Game, limit Limit, ponder, drawOffered bool, rootMoves []string) (PlayResult, error) {
	if game == nil {
		return PlayResult{}, fmt.Errorf("nil game")
	}
	request := matchctx.Build(a.meta, game)
	start := time.Now()

	resp, err := a.roundTrip(ctx, request)
	var result PlayResult
	if err == nil {
		result, err = decodeResponse(game, resp)
	}

	a.record(ctx, request, result, time.Since(start), err)
	if err != nil {
		a.logger.Warn("remote_search_error",
			zap.Int("ply", len(request.Moves)+1),
			zap.Error(err),
		)
		return PlayResult{}, err
	}
	return result, nil
}

func (a *Adapter) roundTrip(ctx context.Context, request matchctx.GameContext) (wire.Message, error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	addr := a.system.Addr()
	conn, err := a.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %w", wire.ErrTransport, addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return nil, fmt.Errorf("%w: set deadline: %w", wire.ErrTransport, err)
		}
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Unix(1, 0)) })
	defer stop()

	a.logger.Info("remote_search_send",
		zap.String("addr", addr),
		zap.String("time_control", request.TimeControl),
		zap.Int("moves", len(request.Moves)),
	)
	if err := wire.Send(conn, request); err != nil {
		return nil, withContextCause(ctx, err)
	}
	resp, err := wire.Receive(conn)
	if err != nil {
		return nil, withContextCause(ctx, err)
	}
	a.logger.Info("remote_search_recv", zap.Any("response", map[string]any(resp)))
	return resp, nil
}

// withContextCause attaches the context error when the connection deadline
// fired before the context timer did.
func withContextCause(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", err, ctxErr)
	}
	if deadline, ok := ctx.Deadline(); ok && !time.Now().Before(deadline) {
		return fmt.Errorf("%w: %w", err, context.DeadlineExceeded)
	}
	return err
}

// decodeResponse maps a backend response onto the host result. A resigning
// backend may omit the move or send one that does not decode.
func decodeResponse(game *nchess.Game, resp wire.Message) (PlayResult, error) {
	resigned, err := optionalBool(resp, "resigned")
	if err != nil {
		return PlayResult{}, err
	}
	info := map[string]any{}
	if tt, ok, err := optionalSeconds(resp, InfoThinkTime); err != nil {
		return PlayResult{}, err
	} else if ok {
		info[InfoThinkTime] = tt
	}

	move, err := decodeMove(game, resp)
	if err != nil {
		if !resigned {
			return PlayResult{}, err
		}
		move = nil
	}
	return PlayResult{Move: move, Ponder: nil, Resigned: resigned, Info: info}, nil
}

func decodeMove(game *nchess.Game, resp wire.Message) (*nchess.Move, error) {
	raw, ok := resp["move"]
	if !ok || raw == nil {
		return nil, fmt.Errorf("%w: response has no move", wire.ErrProtocol)
	}
	text, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("%w: move is %T, not a string", wire.ErrProtocol, raw)
	}
	text = strings.ToLower(strings.TrimSpace(text))
	if !looksLikeUCI(text) {
		return nil, fmt.Errorf("%w: move %q is not coordinate notation", wire.ErrProtocol, text)
	}
	mv, err := nchess.UCINotation{}.Decode(game.Position(), text)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrIllegalMove, text, err)
	}
	legal := legalMatch(game, mv)
	if legal == nil {
		return nil, fmt.Errorf("%w: %s", ErrIllegalMove, text)
	}
	return legal, nil
}

// looksLikeUCI accepts <file><rank><file><rank>[promotion].
func looksLikeUCI(s string) bool {
	if len(s) != 4 && len(s) != 5 {
		return false
	}
	for i := 0; i < 4; i += 2 {
		if s[i] < 'a' || s[i] > 'h' || s[i+1] < '1' || s[i+1] > '8' {
			return false
		}
	}
	if len(s) == 5 && !strings.ContainsRune("qrbn", rune(s[4])) {
		return false
	}
	return true
}

func optionalBool(resp wire.Message, key string) (bool, error) {
	raw, ok := resp[key]
	if !ok || raw == nil {
		return false, nil
	}
	b, ok := raw.(bool)
	if !ok {
		return false, fmt.Errorf("%w: %s is %T, not a bool", wire.ErrProtocol, key, raw)
	}
	return b, nil
}

func optionalSeconds(resp wire.Message, key string) (float64, bool, error) {
	raw, ok := resp[key]
	if !ok || raw == nil {
		return 0, false, nil
	}
	var v float64
	switch n := raw.(type) {
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false, fmt.Errorf("%w: %s: %v", wire.ErrProtocol, key, err)
		}
		v = f
	case float64:
		v = n
	default:
		return 0, false, fmt.Errorf("%w: %s is %T, not a number", wire.ErrProtocol, key, raw)
	}
	if v < 0 {
		return 0, false, fmt.Errorf("%w: %s is negative", wire.ErrProtocol, key)
	}
	return v, true, nil
}

func (a *Adapter) record(ctx context.Context, request matchctx.GameContext, result PlayResult, latency time.Duration, searchErr error) {
	if a.journal == nil || a.gameID == "" {
		return
	}
	rt := domain.RoundTrip{
		ID:        uuid.NewString(),
		GameID:    a.gameID,
		System:    a.system.Alias,
		Ply:       len(request.Moves) + 1,
		Moves:     request.Moves,
		Move:      result.UCI(),
		Resigned:  result.Resigned,
		Latency:   latency,
		CreatedAt: time.Now(),
	}
	if tt, ok := result.ThinkTime(); ok {
		rt.ThinkTime = &tt
	}
	if searchErr != nil {
		rt.Error = searchErr.Error()
	}
	// The search context may already be done; journal writes get their own.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := a.journal.Record(rctx, rt); err != nil {
		a.logger.Error("round_trip_record_error", zap.String("game_id", a.gameID), zap.Error(err))
	}
}

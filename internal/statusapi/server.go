package statusapi

import (
	"context"
	"encoding/json"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/park285/Cheese-remote-engine/internal/domain"
	"github.com/park285/Cheese-remote-engine/internal/journal"
	"github.com/park285/Cheese-remote-engine/internal/obslog"
	"github.com/park285/Cheese-remote-engine/internal/registry"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

const (
	defaultRoundsLimit = 20
	maxRoundsLimit     = 1000
)

// SystemsResponse is the body of GET /systems.
type SystemsResponse struct {
	Default string            `json:"default"`
	Systems []registry.System `json:"systems"`
}

type errorBody struct {
	Error string `json:"error"`
}

// Server exposes registry, journal and game summaries over HTTP.
type Server struct {
	reg     *registry.Registry
	journal journal.Store
	logger  *zap.Logger

	mu    sync.RWMutex
	games map[string]domain.MatchSummary

	http *fasthttp.Server
}

func New(reg *registry.Registry, store journal.Store, logger *zap.Logger) *Server {
	if reg == nil {
		reg = registry.Builtin()
	}
	if store == nil {
		store = journal.NewMemory()
	}
	if logger == nil {
		logger = obslog.L()
	}
	s := &Server{reg: reg, journal: store, logger: logger, games: map[string]domain.MatchSummary{}}
	s.http = &fasthttp.Server{
		Handler:      s.Handle,
		Name:         "remote-engine",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Publish makes a game summary visible under GET /games/<id>.
func (s *Server) Publish(sum domain.MatchSummary) {
	if strings.TrimSpace(sum.ID) == "" {
		return
	}
	s.mu.Lock()
	s.games[sum.ID] = sum
	s.mu.Unlock()
}

// Serve runs the HTTP server on ln until ctx ends.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { _ = s.http.Shutdown() })
	defer stop()
	s.logger.Info("status_api_listen", zap.String("addr", ln.Addr().String()))
	if err := s.http.Serve(ln); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Handle(ctx *fasthttp.RequestCtx) {
	if !ctx.IsGet() {
		writeJSON(ctx, fasthttp.StatusMethodNotAllowed, errorBody{Error: "method not allowed"})
		return
	}
	path := strings.Trim(string(ctx.Path()), "/")
	parts := strings.Split(path, "/")

	switch {
	case path == "healthz":
		writeJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "ok"})
	case path == "systems":
		writeJSON(ctx, fasthttp.StatusOK, SystemsResponse{Default: s.reg.Default().Alias, Systems: s.reg.Systems()})
	case len(parts) == 2 && parts[0] == "games":
		s.handleGame(ctx, parts[1])
	case len(parts) == 3 && parts[0] == "games" && parts[2] == "rounds":
		s.handleRounds(ctx, parts[1])
	default:
		writeJSON(ctx, fasthttp.StatusNotFound, errorBody{Error: "not found"})
	}
}

func (s *Server) handleGame(ctx *fasthttp.RequestCtx, id string) {
	s.mu.RLock()
	sum, ok := s.games[id]
	s.mu.RUnlock()
	if !ok {
		writeJSON(ctx, fasthttp.StatusNotFound, errorBody{Error: "unknown game"})
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, sum)
}

func (s *Server) handleRounds(ctx *fasthttp.RequestCtx, id string) {
	limit := defaultRoundsLimit
	if raw := ctx.QueryArgs().Peek("limit"); len(raw) > 0 {
		n, err := strconv.Atoi(string(raw))
		if err != nil || n <= 0 {
			writeJSON(ctx, fasthttp.StatusBadRequest, errorBody{Error: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxRoundsLimit)
	}
	rctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	rounds, err := s.journal.Recent(rctx, id, limit)
	if err != nil {
		s.logger.Error("status_api_rounds_error", zap.String("game_id", id), zap.Error(err))
		writeJSON(ctx, fasthttp.StatusInternalServerError, errorBody{Error: "journal unavailable"})
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, rounds)
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, body any) {
	raw, err := json.Marshal(body)
	if err != nil {
		ctx.Error(err.Error(), fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.SetBody(raw)
}

package backendstub

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/park285/Cheese-remote-engine/internal/engine"
	"github.com/park285/Cheese-remote-engine/internal/matchctx"
	"github.com/park285/Cheese-remote-engine/internal/obslog"
	"github.com/park285/Cheese-remote-engine/internal/wire"
	"go.uber.org/zap"
)

// Response is what the stub sends back for one request.
type Response struct {
	Move      string  `json:"move,omitempty"`
	Resigned  bool    `json:"resigned"`
	ThinkTime float64 `json:"think_time"`
}

// Server is a local decision backend. It answers every request with a move
// from its picker and resigns when the position has no legal move.
type Server struct {
	picker      engine.Searcher
	logger      *zap.Logger
	readTimeout time.Duration

	wg sync.WaitGroup
}

func New(picker engine.Searcher, logger *zap.Logger) *Server {
	if picker == nil {
		picker = engine.FirstMove{}
	}
	if logger == nil {
		logger = obslog.L()
	}
	return &Server{picker: picker, logger: logger, readTimeout: 30 * time.Second}
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections until ctx ends, then waits for in-flight requests.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()
	s.logger.Info("stub_backend_listen", zap.String("addr", ln.Addr().String()))

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.wg.Wait()
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(ctx, conn)
		}()
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	start := time.Now()
	if s.readTimeout > 0 {
		_ = conn.SetDeadline(start.Add(s.readTimeout))
	}

	resp, err := s.Decide(ctx, conn)
	if err != nil {
		// closing without a reply is how the backend reports failure
		s.logger.Warn("stub_backend_request_error", zap.String("remote", conn.RemoteAddr().String()), zap.Error(err))
		return
	}
	if err := wire.Send(conn, resp); err != nil {
		s.logger.Warn("stub_backend_send_error", zap.Error(err))
		return
	}
	s.logger.Info("stub_backend_reply",
		zap.String("move", resp.Move),
		zap.Bool("resigned", resp.Resigned),
		zap.Float64("think_time", resp.ThinkTime),
	)
}

// Decide reads one request from conn and picks the reply.
func (s *Server) Decide(ctx context.Context, conn net.Conn) (Response, error) {
	start := time.Now()
	msg, err := wire.Receive(conn)
	if err != nil {
		return Response{}, err
	}
	var req matchctx.GameContext
	if err := msg.Decode(&req); err != nil {
		return Response{}, err
	}
	if err := req.Validate(); err != nil {
		return Response{}, err
	}
	game, err := req.Replay()
	if err != nil {
		return Response{}, err
	}

	res, err := s.picker.Search(ctx, game, engine.Limit{}, false, false, nil)
	switch {
	case errors.Is(err, engine.ErrNoLegalMoves):
		return Response{Resigned: true, ThinkTime: time.Since(start).Seconds()}, nil
	case err != nil:
		return Response{}, err
	}
	return Response{
		Move:      res.UCI(),
		Resigned:  res.Resigned,
		ThinkTime: time.Since(start).Seconds(),
	}, nil
}

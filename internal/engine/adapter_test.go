package engine

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	nchess "github.com/corentings/chess/v2"
	"github.com/park285/Cheese-remote-engine/internal/domain"
	"github.com/park285/Cheese-remote-engine/internal/journal"
	"github.com/park285/Cheese-remote-engine/internal/matchctx"
	"github.com/park285/Cheese-remote-engine/internal/registry"
	"github.com/park285/Cheese-remote-engine/internal/wire"
	"go.uber.org/zap"
)

// stubBackend accepts connections and answers each with handle.
type stubBackend struct {
	ln       net.Listener
	mu       sync.Mutex
	requests []wire.Message
	conns    int
}

func startStub(t *testing.T, handle func(conn net.Conn, req wire.Message)) *stubBackend {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &stubBackend{ln: ln}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				s.mu.Lock()
				s.conns++
				s.mu.Unlock()
				if handle == nil {
					return
				}
				req, err := wire.Receive(conn)
				if err != nil {
					return
				}
				s.mu.Lock()
				s.requests = append(s.requests, req)
				s.mu.Unlock()
				handle(conn, req)
			}(conn)
		}
	}()
	return s
}

func replyWith(resp map[string]any) func(net.Conn, wire.Message) {
	return func(conn net.Conn, _ wire.Message) { _ = wire.Send(conn, resp) }
}

func (s *stubBackend) reg(t *testing.T) *registry.Registry {
	t.Helper()
	host, portStr, _ := net.SplitHostPort(s.ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	reg, err := registry.New([]registry.System{
		{Alias: "stub", Host: host, Port: port},
		{Alias: "unreachable", Host: "127.0.0.1", Port: 1},
	}, "stub")
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return reg
}

func (s *stubBackend) lastRequest(t *testing.T) wire.Message {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) == 0 {
		t.Fatalf("stub received no request")
	}
	return s.requests[len(s.requests)-1]
}

func newTestAdapter(t *testing.T, s *stubBackend, cfg AdapterConfig) *Adapter {
	t.Helper()
	cfg.Registry = s.reg(t)
	cfg.Logger = zap.NewNop()
	a, err := NewAdapter(cfg)
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	return a
}

func search(a *Adapter, game *nchess.Game) (PlayResult, error) {
	return a.Search(context.Background(), game, Limit{Time: time.Second}, false, false, nil)
}

func TestSearchReturnsBackendMove(t *testing.T) {
	s := startStub(t, replyWith(map[string]any{"move": "e2e4", "resigned": false}))
	a := newTestAdapter(t, s, AdapterConfig{})

	res, err := search(a, nchess.NewGame())
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.UCI() != "e2e4" || res.Resigned || res.Ponder != nil {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(res.Info) != 0 {
		t.Fatalf("expected empty info, got %v", res.Info)
	}
	if !IsLegal(nchess.NewGame(), res.Move) {
		t.Fatalf("result move must be legal")
	}
}

func TestSearchCarriesThinkTime(t *testing.T) {
	s := startStub(t, replyWith(map[string]any{"move": "g1f3", "think_time": 2.5}))
	a := newTestAdapter(t, s, AdapterConfig{})
	res, err := search(a, nchess.NewGame())
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if tt, ok := res.ThinkTime(); !ok || tt != 2.5 {
		t.Fatalf("expected think_time 2.5, got %v", res.Info)
	}
}

func TestSearchResignedRegardlessOfMove(t *testing.T) {
	for _, move := range []any{"e2e4", "zz", nil} {
		resp := map[string]any{"resigned": true}
		if move != nil {
			resp["move"] = move
		}
		s := startStub(t, replyWith(resp))
		a := newTestAdapter(t, s, AdapterConfig{})
		res, err := search(a, nchess.NewGame())
		if err != nil {
			t.Fatalf("move=%v: Search: %v", move, err)
		}
		if !res.Resigned {
			t.Fatalf("move=%v: expected resigned result", move)
		}
	}
}

func TestSearchRequestPayload(t *testing.T) {
	s := startStub(t, replyWith(map[string]any{"move": "g1f3"}))
	rating := 1500
	a := newTestAdapter(t, s, AdapterConfig{Match: &matchctx.Match{
		ID:             "g-1",
		IsWhite:        true,
		Opponent:       matchctx.Opponent{Name: "opp", Rating: &rating},
		ClockInitial:   3 * time.Minute,
		ClockIncrement: 2 * time.Second,
	}})

	game := nchess.NewGame()
	for _, mv := range []string{"e2e4", "e7e5"} {
		if err := game.PushNotationMove(mv, nchess.UCINotation{}, nil); err != nil {
			t.Fatalf("push: %v", err)
		}
	}
	if _, err := a.Search(context.Background(), game, Limit{Depth: 12}, true, true, []string{"g1f3"}); err != nil {
		t.Fatalf("Search: %v", err)
	}

	var got matchctx.GameContext
	req := s.lastRequest(t)
	if err := req.Decode(&got); err != nil {
		t.Fatalf("decode request: %v", err)
	}
	if got.TimeControl != "180+2" || got.WhiteElo != nil || got.BlackElo == nil || *got.BlackElo != 1500 {
		t.Fatalf("unexpected metadata in request %+v", got)
	}
	if len(got.Moves) != 2 || got.Moves[0] != "e2e4" || got.Moves[1] != "e7e5" || len(got.ThinkTimes) != 2 {
		t.Fatalf("unexpected history in request %+v", got)
	}
	for _, key := range []string{"limit", "ponder", "draw_offered", "root_moves"} {
		if _, ok := req[key]; ok {
			t.Fatalf("search constraint %q must not be forwarded", key)
		}
	}
	if len(req) != 7 {
		t.Fatalf("unexpected request keys: %v", req)
	}
}

func TestSearchClosedWithoutReplyIsTransportError(t *testing.T) {
	s := startStub(t, func(net.Conn, wire.Message) {})
	a := newTestAdapter(t, s, AdapterConfig{})
	_, err := search(a, nchess.NewGame())
	if !errors.Is(err, wire.ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
}

func TestSearchClosedBeforeReadingIsTransportError(t *testing.T) {
	s := startStub(t, nil)
	a := newTestAdapter(t, s, AdapterConfig{})
	if _, err := search(a, nchess.NewGame()); !errors.Is(err, wire.ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
}

func TestSearchProtocolErrors(t *testing.T) {
	cases := map[string]map[string]any{
		"missing move":      {"resigned": false},
		"move not string":   {"move": 42},
		"not uci":           {"move": "Nf3"},
		"resigned not bool": {"move": "e2e4", "resigned": "no"},
		"think_time text":   {"move": "e2e4", "think_time": "fast"},
		"think_time neg":    {"move": "e2e4", "think_time": -1},
	}
	for name, resp := range cases {
		s := startStub(t, replyWith(resp))
		a := newTestAdapter(t, s, AdapterConfig{})
		_, err := search(a, nchess.NewGame())
		if !errors.Is(err, wire.ErrProtocol) {
			t.Fatalf("%s: expected ErrProtocol, got %v", name, err)
		}
	}
}

func TestSearchIllegalMove(t *testing.T) {
	s := startStub(t, replyWith(map[string]any{"move": "e2e5"}))
	a := newTestAdapter(t, s, AdapterConfig{})
	_, err := search(a, nchess.NewGame())
	if !errors.Is(err, ErrIllegalMove) || !errors.Is(err, wire.ErrProtocol) {
		t.Fatalf("expected ErrIllegalMove wrapping ErrProtocol, got %v", err)
	}
}

func TestSearchNonMappingResponse(t *testing.T) {
	s := startStub(t, func(conn net.Conn, _ wire.Message) {
		_, _ = conn.Write([]byte{0, 0, 0, 2, '[', ']'})
	})
	a := newTestAdapter(t, s, AdapterConfig{})
	if _, err := search(a, nchess.NewGame()); !errors.Is(err, wire.ErrProtocol) {
		t.Fatalf("expected ErrProtocol, got %v", err)
	}
}

func TestUnknownAliasFailsBeforeNetwork(t *testing.T) {
	s := startStub(t, nil)
	_, err := NewAdapter(AdapterConfig{
		Registry: s.reg(t),
		Options:  map[string]string{OptionSystemAlias: "nonexistent"},
		Logger:   zap.NewNop(),
	})
	if !errors.Is(err, registry.ErrUnknownSystem) {
		t.Fatalf("expected ErrUnknownSystem, got %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns != 0 {
		t.Fatalf("no connection expected, got %d", s.conns)
	}
}

func TestAliasSelectsSystemAndIgnoresUnknownOptions(t *testing.T) {
	s := startStub(t, nil)
	a, err := NewAdapter(AdapterConfig{
		Registry: s.reg(t),
		Options:  map[string]string{OptionSystemAlias: "unreachable", "ponder": "true"},
		Logger:   zap.NewNop(),
	})
	if err != nil {
		t.Fatalf("NewAdapter: %v", err)
	}
	if a.System().Alias != "unreachable" {
		t.Fatalf("unexpected system %+v", a.System())
	}
	if _, err := search(a, nchess.NewGame()); !errors.Is(err, wire.ErrTransport) {
		t.Fatalf("expected ErrTransport for refused dial, got %v", err)
	}
}

func TestTimeoutIsTransportError(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	s := startStub(t, func(net.Conn, wire.Message) { <-release })
	a := newTestAdapter(t, s, AdapterConfig{Timeout: 100 * time.Millisecond})

	start := time.Now()
	_, err := search(a, nchess.NewGame())
	if !errors.Is(err, wire.ErrTransport) {
		t.Fatalf("expected ErrTransport on timeout, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline cause, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("timeout not honoured")
	}
}

func TestContextCancelStopsRoundTrip(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	s := startStub(t, func(net.Conn, wire.Message) { <-release })
	a := newTestAdapter(t, s, AdapterConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	_, err := a.Search(ctx, nchess.NewGame(), Limit{}, false, false, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestNewConnectionPerSearch(t *testing.T) {
	s := startStub(t, replyWith(map[string]any{"move": "e2e4"}))
	a := newTestAdapter(t, s, AdapterConfig{})
	for i := 0; i < 3; i++ {
		if _, err := search(a, nchess.NewGame()); err != nil {
			t.Fatalf("Search #%d: %v", i, err)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns != 3 {
		t.Fatalf("expected 3 connections, got %d", s.conns)
	}
}

func TestSearchRecordsRoundTrips(t *testing.T) {
	s := startStub(t, replyWith(map[string]any{"move": "e2e4", "think_time": 0.75}))
	store := journal.NewMemory()
	a := newTestAdapter(t, s, AdapterConfig{Journal: store, Match: &matchctx.Match{ID: "g-rec"}})

	if _, err := search(a, nchess.NewGame()); err != nil {
		t.Fatalf("Search: %v", err)
	}
	rounds, err := store.Recent(context.Background(), "g-rec", 10)
	if err != nil || len(rounds) != 1 {
		t.Fatalf("expected one recorded round, got %v %v", rounds, err)
	}
	rt := rounds[0]
	if rt.Move != "e2e4" || rt.Ply != 1 || rt.System != "stub" || rt.ThinkTime == nil || *rt.ThinkTime != 0.75 || rt.Failed() {
		t.Fatalf("unexpected round %+v", rt)
	}
}

func TestNegativeTimeoutRejected(t *testing.T) {
	if _, err := NewAdapter(AdapterConfig{Timeout: -time.Second, Logger: zap.NewNop()}); err == nil {
		t.Fatalf("expected error for negative timeout")
	}
}

type countingDialer struct {
	mu    sync.Mutex
	calls int
	net.Dialer
}

func (d *countingDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	d.mu.Lock()
	d.calls++
	d.mu.Unlock()
	return d.Dialer.DialContext(ctx, network, address)
}

func TestSearchUsesInjectedDialer(t *testing.T) {
	s := startStub(t, replyWith(map[string]any{"move": "d2d4"}))
	d := &countingDialer{}
	a := newTestAdapter(t, s, AdapterConfig{Dialer: d})
	if _, err := search(a, nchess.NewGame()); err != nil {
		t.Fatalf("Search: %v", err)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.calls != 1 {
		t.Fatalf("expected one dial, got %d", d.calls)
	}
}

type failingRecorder struct {
	mu    sync.Mutex
	calls int
}

func (f *failingRecorder) Record(context.Context, domain.RoundTrip) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return errors.New("journal down")
}

func TestFailedRoundTripIsRecorded(t *testing.T) {
	s := startStub(t, func(net.Conn, wire.Message) {})
	store := journal.NewMemory()
	a := newTestAdapter(t, s, AdapterConfig{Journal: store, Match: &matchctx.Match{ID: "g-fail"}})

	if _, err := search(a, nchess.NewGame()); !errors.Is(err, wire.ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
	rounds, err := store.Recent(context.Background(), "g-fail", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(rounds) != 1 || !rounds[0].Failed() || rounds[0].Move != "" {
		t.Fatalf("expected one failed round, got %+v", rounds)
	}
}

func TestJournalErrorDoesNotChangeResult(t *testing.T) {
	s := startStub(t, replyWith(map[string]any{"move": "c2c4"}))
	rec := &failingRecorder{}
	a := newTestAdapter(t, s, AdapterConfig{Journal: rec, Match: &matchctx.Match{ID: "g-journal"}})

	res, err := search(a, nchess.NewGame())
	if err != nil {
		t.Fatalf("journal failure leaked into search: %v", err)
	}
	if res.UCI() != "c2c4" {
		t.Fatalf("unexpected move %s", res.UCI())
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.calls != 1 {
		t.Fatalf("expected one record attempt, got %d", rec.calls)
	}

	// A failing backend still reports its own error, not the journal's.
	closed := startStub(t, func(net.Conn, wire.Message) {})
	b := newTestAdapter(t, closed, AdapterConfig{Journal: rec, Match: &matchctx.Match{ID: "g-journal"}})
	if _, err := search(b, nchess.NewGame()); !errors.Is(err, wire.ErrTransport) {
		t.Fatalf("expected backend transport error, got %v", err)
	}
}

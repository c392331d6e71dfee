package main

import (
    "context"
    "errors"
    "fmt"
    "log"
    "os"
    "os/signal"
    "syscall"

    "github.com/google/uuid"
    appcfg "github.com/park285/Cheese-remote-engine/internal/config"
    "github.com/park285/Cheese-remote-engine/internal/domain"
    "github.com/park285/Cheese-remote-engine/internal/engine"
    "github.com/park285/Cheese-remote-engine/internal/enginebuilder"
    "github.com/park285/Cheese-remote-engine/internal/matchctx"
    "github.com/park285/Cheese-remote-engine/internal/obslog"
    "github.com/park285/Cheese-remote-engine/internal/runner"
    "github.com/park285/Cheese-remote-engine/internal/statusapi"
    "go.uber.org/zap"
)

func main() {
    cfg, err := appcfg.Load()
    if err != nil {
        log.Fatalf("config error: %v", err)
    }
    logCloser, err := obslog.Init(cfg.LogOptions())
    if err != nil {
        log.Fatalf("log init error: %v", err)
    }
    defer logCloser.Close()
    logger := obslog.L()

    deps, err := enginebuilder.New(cfg, logger)
    if err != nil {
        logger.Error("engine_init_error", zap.Error(err))
        os.Exit(1)
    }
    defer deps.Close()

    ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
    defer stop()

    // Status API (optional)
    var status *statusapi.Server
    statusDone := make(chan error, 1)
    if cfg.StatusAddr != "" {
        status = statusapi.New(deps.Registry, deps.Journal, logger)
        go func() { statusDone <- status.ListenAndServe(ctx, cfg.StatusAddr) }()
    }

    sum, err := playOne(ctx, cfg, deps, logger)
    if sum != nil {
        if status != nil {
            status.Publish(*sum)
        }
        fmt.Println(sum.PGN)
    }
    if err != nil && !errors.Is(err, context.Canceled) {
        logger.Error("game_error", zap.Error(err))
    }

    if status != nil {
        // keep serving results until interrupted
        logger.Info("status_api_waiting", zap.String("addr", cfg.StatusAddr))
        if serr := <-statusDone; serr != nil {
            logger.Error("status_api_error", zap.Error(serr))
        }
    }
    if err != nil {
        // os.Exit skips deferred closes
        _ = deps.Close()
        _ = logCloser.Close()
        os.Exit(1)
    }
}

func playOne(ctx context.Context, cfg *appcfg.AppConfig, deps *enginebuilder.Deps, logger *zap.Logger) (*domain.MatchSummary, error) {
    opponent, err := engine.NewPicker(cfg.OpponentEngine)
    if err != nil {
        return nil, err
    }
    gameID := uuid.NewString()
    isWhite := cfg.PlayAs == "white"
    match := &matchctx.Match{
        ID:             gameID,
        Opponent:       matchctx.Opponent{Name: cfg.OpponentName, Rating: cfg.Rating()},
        IsWhite:        isWhite,
        ClockInitial:   cfg.ClockInitial,
        ClockIncrement: cfg.ClockIncrement,
    }
    remote, err := deps.NewAdapter(match)
    if err != nil {
        return nil, err
    }

    game := runner.Game{
        ID:          gameID,
        TimeControl: remote.Metadata().TimeControl,
        MaxPlies:    cfg.MaxPlies,
    }
    remoteName := "remote:" + remote.System().Alias
    if isWhite {
        game.White, game.WhiteName = remote, remoteName
        game.Black, game.BlackName = opponent, cfg.OpponentName
    } else {
        game.White, game.WhiteName = opponent, cfg.OpponentName
        game.Black, game.BlackName = remote, remoteName
    }
    return runner.New(logger).Play(ctx, game)
}

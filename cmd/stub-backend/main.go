package main

import (
    "context"
    "log"
    "os/signal"
    "syscall"

    appcfg "github.com/park285/Cheese-remote-engine/internal/config"
    "github.com/park285/Cheese-remote-engine/internal/backendstub"
    "github.com/park285/Cheese-remote-engine/internal/engine"
    "github.com/park285/Cheese-remote-engine/internal/obslog"
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

    picker, err := engine.NewPicker(cfg.StubEngine)
    if err != nil {
        log.Fatalf("stub engine error: %v", err)
    }

    ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
    defer stop()

    srv := backendstub.New(picker, obslog.L())
    if err := srv.ListenAndServe(ctx, cfg.StubListenAddr); err != nil {
        obslog.L().Error("stub_backend_error", zap.Error(err))
    }
}

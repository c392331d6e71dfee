package main

import (
    "context"
    "fmt"
    "log"
    "net"
    "os"
    "time"

    appcfg "github.com/park285/Cheese-remote-engine/internal/config"
    "github.com/park285/Cheese-remote-engine/internal/enginebuilder"
    "github.com/park285/Cheese-remote-engine/internal/registry"
    "github.com/park285/Cheese-remote-engine/internal/statusapi"
    "go.uber.org/zap"
    "golang.org/x/sync/errgroup"
)

type probe struct {
    system  registry.System
    latency time.Duration
    err     error
}

func main() {
    cfg, err := appcfg.Load()
    if err != nil {
        log.Fatalf("config error: %v", err)
    }
    deps, err := enginebuilder.New(cfg, zap.NewNop())
    if err != nil {
        log.Fatalf("init error: %v", err)
    }
    defer deps.Close()

    ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
    defer cancel()

    systems := deps.Registry.Systems()
    results := make([]probe, len(systems))
    g, gctx := errgroup.WithContext(ctx)
    g.SetLimit(8)
    for i, sys := range systems {
        g.Go(func() error {
            results[i] = dialSystem(gctx, sys)
            return nil
        })
    }
    _ = g.Wait()

    fmt.Printf("journal: %s\n", deps.JournalKind)
    failed := 0
    def := deps.Registry.Default().Alias
    for _, r := range results {
        mark := " "
        if r.system.Alias == def {
            mark = "*"
        }
        if r.err != nil {
            failed++
            fmt.Printf("%s %-16s %-28s DOWN %v\n", mark, r.system.Alias, r.system.Addr(), r.err)
            continue
        }
        fmt.Printf("%s %-16s %-28s ok   %s\n", mark, r.system.Alias, r.system.Addr(), r.latency.Round(time.Millisecond))
    }

    if cfg.StatusAddr != "" {
        client := statusapi.NewClient(cfg.StatusAddr, statusapi.WithTimeout(3*time.Second), statusapi.WithRetry(2))
        if err := client.Health(ctx); err != nil {
            log.Printf("status api %s: %v", cfg.StatusAddr, err)
        } else {
            log.Printf("status api %s: ok", cfg.StatusAddr)
        }
    }

    if failed > 0 {
        os.Exit(1)
    }
}

func dialSystem(ctx context.Context, sys registry.System) probe {
    start := time.Now()
    var d net.Dialer
    conn, err := d.DialContext(ctx, "tcp", sys.Addr())
    if err != nil {
        return probe{system: sys, err: err}
    }
    _ = conn.Close()
    return probe{system: sys, latency: time.Since(start)}
}

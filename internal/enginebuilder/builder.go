package enginebuilder

import (
    "fmt"
    "strings"

    "github.com/park285/Cheese-remote-engine/internal/config"
    "github.com/park285/Cheese-remote-engine/internal/engine"
    "github.com/park285/Cheese-remote-engine/internal/journal"
    "github.com/park285/Cheese-remote-engine/internal/matchctx"
    "github.com/park285/Cheese-remote-engine/internal/registry"
    "go.uber.org/zap"
)

// Journal backends, in the order they are tried.
const (
    JournalRedis    = "redis"
    JournalPostgres = "postgres"
    JournalMemory   = "memory"
)

type Deps struct {
    Registry    *registry.Registry
    Journal     journal.Store
    JournalKind string

    cfg    *config.AppConfig
    logger *zap.Logger
}

func New(cfg *config.AppConfig, logger *zap.Logger) (*Deps, error) {
    if cfg == nil {
        return nil, fmt.Errorf("nil config")
    }
    if logger == nil {
        logger = zap.NewNop()
    }

    // Registry: file when configured, builtin otherwise
    reg := registry.Builtin()
    if cfg.SystemsFile != "" {
        r, err := registry.Load(cfg.SystemsFile)
        if err != nil {
            return nil, fmt.Errorf("load systems: %w", err)
        }
        reg = r
    }
    // fail on a bad alias before anything connects
    if _, err := reg.Resolve(cfg.SystemAlias); err != nil {
        return nil, err
    }

    store, kind, err := openJournal(cfg)
    if err != nil {
        return nil, err
    }
    logger.Info("engine_deps_ready",
        zap.Int("systems", len(reg.Systems())),
        zap.String("default_system", reg.Default().Alias),
        zap.String("journal", kind),
    )
    return &Deps{Registry: reg, Journal: store, JournalKind: kind, cfg: cfg, logger: logger}, nil
}

func openJournal(cfg *config.AppConfig) (journal.Store, string, error) {
    if strings.TrimSpace(cfg.RedisURL) != "" {
        s, err := journal.NewRedis(cfg.RedisURL)
        if err != nil {
            return nil, "", fmt.Errorf("init redis journal: %w", err)
        }
        return s, JournalRedis, nil
    }
    if strings.TrimSpace(cfg.DatabaseURL) != "" {
        s, err := journal.NewPostgres(cfg.DatabaseURL)
        if err != nil {
            return nil, "", fmt.Errorf("init postgres journal: %w", err)
        }
        return s, JournalPostgres, nil
    }
    return journal.NewMemory(), JournalMemory, nil
}

// NewAdapter builds a remote adapter for one game using the configured
// system alias, timeout and journal.
func (d *Deps) NewAdapter(match *matchctx.Match) (*engine.Adapter, error) {
    opts := map[string]string{}
    if d.cfg.SystemAlias != "" {
        opts[engine.OptionSystemAlias] = d.cfg.SystemAlias
    }
    return engine.NewAdapter(engine.AdapterConfig{
        Registry: d.Registry,
        Options:  opts,
        Match:    match,
        Timeout:  d.cfg.RoundTripTimeout,
        Journal:  d.Journal,
        Logger:   d.logger,
    })
}

func (d *Deps) Close() error {
    if d == nil || d.Journal == nil {
        return nil
    }
    return d.Journal.Close()
}

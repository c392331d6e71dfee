package journal

import (
    "context"
    "encoding/json"
    "fmt"
    "net/url"
    "strconv"
    "strings"
    "time"

    "github.com/redis/go-redis/v9"
    "github.com/park285/Cheese-remote-engine/internal/domain"
    "github.com/park285/Cheese-remote-engine/internal/obslog"
    "go.uber.org/zap"
)

const (
    ttlRounds     = 24 * time.Hour
    maxRoundsKept = 1000
)

type Redis struct{ rdb *redis.Client }

// NewRedis connects using a redis:// or rediss:// URL and pings the server.
func NewRedis(redisURL string) (*Redis, error) {
    if strings.TrimSpace(redisURL) == "" {
        return nil, fmt.Errorf("REDIS_URL required for redis journal")
    }
    opts, err := parseRedisURL(redisURL)
    if err != nil { return nil, err }
    rdb := redis.NewClient(opts)
    if err := rdb.Ping(context.Background()).Err(); err != nil {
        _ = rdb.Close()
        return nil, fmt.Errorf("redis ping: %w", err)
    }
    return &Redis{rdb: rdb}, nil
}

func NewRedisFromClient(rdb *redis.Client) *Redis { return &Redis{rdb: rdb} }

func (s *Redis) keyRounds(gameID string) string { return "rt:game:" + strings.TrimSpace(gameID) }

func (s *Redis) Record(ctx context.Context, rt domain.RoundTrip) error {
    if strings.TrimSpace(rt.GameID) == "" { return ErrMissingGameID }
    raw, err := json.Marshal(rt)
    if err != nil { return err }
    key := s.keyRounds(rt.GameID)
    pipe := s.rdb.TxPipeline()
    pipe.RPush(ctx, key, raw)
    pipe.LTrim(ctx, key, -maxRoundsKept, -1)
    pipe.Expire(ctx, key, ttlRounds)
    _, err = pipe.Exec(ctx)
    return err
}

func (s *Redis) Recent(ctx context.Context, gameID string, limit int) ([]domain.RoundTrip, error) {
    if limit <= 0 { limit = defaultRecentLimit }
    raws, err := s.rdb.LRange(ctx, s.keyRounds(gameID), int64(-limit), -1).Result()
    if err != nil { return nil, err }
    out := make([]domain.RoundTrip, 0, len(raws))
    for _, raw := range raws {
        var rt domain.RoundTrip
        if err := json.Unmarshal([]byte(raw), &rt); err != nil {
            obslog.L().Warn("round_trip_decode_error", zap.String("game_id", gameID), zap.Error(err))
            continue
        }
        out = append(out, rt)
    }
    return newestFirst(out, limit), nil
}

func (s *Redis) Close() error {
    if s == nil || s.rdb == nil { return nil }
    return s.rdb.Close()
}

func parseRedisURL(raw string) (*redis.Options, error) {
    u, err := url.Parse(raw)
    if err != nil { return nil, err }
    if u.Scheme != "redis" && u.Scheme != "rediss" { return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme) }
    db := 0
    if p := strings.TrimPrefix(u.Path, "/"); p != "" { if n, err := strconv.Atoi(p); err == nil { db = n } }
    pass, _ := u.User.Password()
    return &redis.Options{Addr: u.Host, Password: pass, DB: db}, nil
}

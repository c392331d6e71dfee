package journal

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/park285/Cheese-remote-engine/internal/domain"
)

const defaultRecentLimit = 20

var ErrMissingGameID = errors.New("round trip has no game id")

// Recorder persists round trips.
type Recorder interface {
	Record(ctx context.Context, rt domain.RoundTrip) error
}

// Store is a Recorder that can also list what it recorded.
type Store interface {
	Recorder
	Recent(ctx context.Context, gameID string, limit int) ([]domain.RoundTrip, error)
	Close() error
}

// memory is a development-only in-process store used when neither Redis nor
// Postgres is configured.
type memory struct {
	mu     sync.RWMutex
	byGame map[string][]domain.RoundTrip
}

func NewMemory() Store {
	return &memory{byGame: make(map[string][]domain.RoundTrip)}
}

func (m *memory) Record(ctx context.Context, rt domain.RoundTrip) error {
	key := strings.TrimSpace(rt.GameID)
	if key == "" {
		return ErrMissingGameID
	}
	rt.Moves = append([]string(nil), rt.Moves...)
	m.mu.Lock()
	m.byGame[key] = append(m.byGame[key], rt)
	m.mu.Unlock()
	return nil
}

func (m *memory) Recent(ctx context.Context, gameID string, limit int) ([]domain.RoundTrip, error) {
	m.mu.RLock()
	items := append([]domain.RoundTrip(nil), m.byGame[strings.TrimSpace(gameID)]...)
	m.mu.RUnlock()
	return newestFirst(items, limit), nil
}

func (m *memory) Close() error { return nil }

// newestFirst sorts by CreatedAt desc (ply desc on ties) and applies limit.
func newestFirst(items []domain.RoundTrip, limit int) []domain.RoundTrip {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].Ply > items[j].Ply
	})
	if len(items) > limit {
		items = items[:limit]
	}
	if items == nil {
		items = []domain.RoundTrip{}
	}
	return items
}

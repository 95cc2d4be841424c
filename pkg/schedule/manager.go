package schedule

import (
	"context"
	"log"
	"sync"
	"time"
)

// DefaultRefreshAge is the weekly schedule refresh rule: the cache is
// reused until it is a week old.
const DefaultRefreshAge = 7 * 24 * time.Hour

// Cache is the persistence surface the manager needs. *store.Store
// satisfies it.
type Cache interface {
	ReplaceSchedule(games []Game) error
	Upcoming(now time.Time) ([]Game, error)
	Game(id int64) (Game, error)
	NeedsRefresh(maxAge time.Duration) (bool, error)
}

// Fetcher fetches the schedule from the upstream API. *Client
// satisfies it.
type Fetcher interface {
	FetchSchedule(ctx context.Context) ([]Game, error)
}

// Manager serves the schedule from a local cache, refreshing it from
// the API when the cache is older than maxAge.
type Manager struct {
	fetcher Fetcher
	cache   Cache
	maxAge  time.Duration

	mu sync.Mutex // serializes refreshes
}

// NewManager creates a manager with the weekly refresh rule.
func NewManager(fetcher Fetcher, cache Cache) *Manager {
	return &Manager{
		fetcher: fetcher,
		cache:   cache,
		maxAge:  DefaultRefreshAge,
	}
}

// SetRefreshAge overrides the refresh rule.
func (m *Manager) SetRefreshAge(d time.Duration) {
	m.maxAge = d
}

// EnsureFresh refreshes the cache when it is stale.
func (m *Manager) EnsureFresh(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stale, err := m.cache.NeedsRefresh(m.maxAge)
	if err != nil {
		return err
	}
	if !stale {
		return nil
	}

	games, err := m.fetcher.FetchSchedule(ctx)
	if err != nil {
		return err
	}
	return m.cache.ReplaceSchedule(games)
}

// UpcomingGames returns the upcoming schedule, refreshing first when
// stale. A failed refresh falls back to whatever the cache still holds
// rather than failing the caller outright.
func (m *Manager) UpcomingGames(ctx context.Context) ([]Game, error) {
	refreshErr := m.EnsureFresh(ctx)

	games, err := m.cache.Upcoming(time.Now())
	if err != nil {
		if refreshErr != nil {
			return nil, refreshErr
		}
		return nil, err
	}
	if refreshErr != nil {
		if len(games) == 0 {
			return nil, refreshErr
		}
		log.Printf("[SCHEDULE] refresh failed, serving %d cached games: %v", len(games), refreshErr)
	}
	return games, nil
}

// GameByID returns one cached game, refreshing first when stale.
func (m *Manager) GameByID(ctx context.Context, id int64) (Game, error) {
	if err := m.EnsureFresh(ctx); err != nil {
		// A stale cache can still resolve the lookup.
		log.Printf("[SCHEDULE] refresh failed, trying cache: %v", err)
	}
	return m.cache.Game(id)
}

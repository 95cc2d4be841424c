package schedule

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeCache struct {
	games       []Game
	stale       bool
	replaced    int
	upcomingErr error
}

func (c *fakeCache) ReplaceSchedule(games []Game) error {
	c.games = games
	c.replaced++
	c.stale = false
	return nil
}

func (c *fakeCache) Upcoming(now time.Time) ([]Game, error) {
	if c.upcomingErr != nil {
		return nil, c.upcomingErr
	}
	return c.games, nil
}

func (c *fakeCache) Game(id int64) (Game, error) {
	for _, g := range c.games {
		if g.ID == id {
			return g, nil
		}
	}
	return Game{}, errors.New("not found")
}

func (c *fakeCache) NeedsRefresh(maxAge time.Duration) (bool, error) {
	return c.stale, nil
}

type fakeFetcher struct {
	games []Game
	err   error
	calls int
}

func (f *fakeFetcher) FetchSchedule(ctx context.Context) ([]Game, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.games, nil
}

func TestManagerRefreshesWhenStale(t *testing.T) {
	fetcher := &fakeFetcher{games: []Game{{ID: 1, HomeTeam: "Bills", AwayTeam: "Jets"}}}
	cache := &fakeCache{stale: true}
	m := NewManager(fetcher, cache)

	games, err := m.UpcomingGames(context.Background())
	if err != nil {
		t.Fatalf("UpcomingGames failed: %v", err)
	}
	if fetcher.calls != 1 {
		t.Errorf("Expected 1 fetch, got %d", fetcher.calls)
	}
	if cache.replaced != 1 {
		t.Errorf("Expected cache replaced once, got %d", cache.replaced)
	}
	if len(games) != 1 || games[0].ID != 1 {
		t.Errorf("Unexpected games: %v", games)
	}
}

func TestManagerSkipsRefreshWhenFresh(t *testing.T) {
	fetcher := &fakeFetcher{}
	cache := &fakeCache{stale: false, games: []Game{{ID: 7}}}
	m := NewManager(fetcher, cache)

	games, err := m.UpcomingGames(context.Background())
	if err != nil {
		t.Fatalf("UpcomingGames failed: %v", err)
	}
	if fetcher.calls != 0 {
		t.Errorf("Expected no fetch, got %d", fetcher.calls)
	}
	if len(games) != 1 {
		t.Errorf("Expected cached game, got %v", games)
	}
}

func TestManagerFallsBackToCacheOnFetchError(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("api down")}
	cache := &fakeCache{stale: true, games: []Game{{ID: 3}}}
	m := NewManager(fetcher, cache)

	games, err := m.UpcomingGames(context.Background())
	if err != nil {
		t.Fatalf("Expected cached fallback, got error: %v", err)
	}
	if len(games) != 1 || games[0].ID != 3 {
		t.Errorf("Unexpected games: %v", games)
	}
}

func TestManagerFetchErrorWithEmptyCache(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("api down")}
	cache := &fakeCache{stale: true}
	m := NewManager(fetcher, cache)

	if _, err := m.UpcomingGames(context.Background()); err == nil {
		t.Fatal("Expected error when fetch fails and cache is empty")
	}
}

func TestManagerGameByID(t *testing.T) {
	fetcher := &fakeFetcher{}
	cache := &fakeCache{games: []Game{{ID: 5, HomeTeam: "Chiefs", AwayTeam: "Ravens"}}}
	m := NewManager(fetcher, cache)

	game, err := m.GameByID(context.Background(), 5)
	if err != nil {
		t.Fatalf("GameByID failed: %v", err)
	}
	if game.HomeTeam != "Chiefs" {
		t.Errorf("Wrong game: %+v", game)
	}
}

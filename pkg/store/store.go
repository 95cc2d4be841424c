// Package store caches the weekly schedule and already-unlocked
// predictions in a local sqlite database, so the upstream API is only
// hit when the cache is stale. Access grants are deliberately never
// cached here; those are always read fresh from the chain.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Mostlyu/avax-nfl-predictor/pkg/prediction"
	"github.com/Mostlyu/avax-nfl-predictor/pkg/schedule"
)

// ErrNotFound is returned when a cached row does not exist.
var ErrNotFound = errors.New("not found in cache")

const schemaSQL = `
CREATE TABLE IF NOT EXISTS weekly_schedule (
	game_id      INTEGER PRIMARY KEY,
	date         TEXT NOT NULL,
	time         TEXT NOT NULL DEFAULT '',
	home_team    TEXT NOT NULL,
	away_team    TEXT NOT NULL,
	stadium      TEXT NOT NULL DEFAULT '',
	city         TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT '',
	last_updated TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS prediction_cache (
	game_id    INTEGER PRIMARY KEY,
	payload    TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS data_updates (
	update_type TEXT PRIMARY KEY,
	last_update TIMESTAMP NOT NULL
);
`

// Store is a sqlite-backed cache.
type Store struct {
	db *sql.DB
}

// Open opens (and if needed creates) the cache database at path.
// Use ":memory:" for an ephemeral cache.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("init cache schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ReplaceSchedule swaps the cached schedule for a fresh one and records
// the refresh time.
func (s *Store) ReplaceSchedule(games []schedule.Game) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM weekly_schedule`); err != nil {
		return fmt.Errorf("clear schedule: %w", err)
	}

	now := time.Now().UTC()
	for _, g := range games {
		_, err := tx.Exec(`
			INSERT OR REPLACE INTO weekly_schedule
			(game_id, date, time, home_team, away_team, stadium, city, status, last_updated)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			g.ID, g.Date, g.Time, g.HomeTeam, g.AwayTeam, g.Stadium, g.City, g.Status, now)
		if err != nil {
			return fmt.Errorf("insert game %d: %w", g.ID, err)
		}
	}

	_, err = tx.Exec(`
		INSERT OR REPLACE INTO data_updates (update_type, last_update)
		VALUES ('weekly', ?)`, now)
	if err != nil {
		return fmt.Errorf("record refresh: %w", err)
	}

	return tx.Commit()
}

// Upcoming returns cached games whose kickoff is after now, ordered by
// kickoff (unparsable kickoffs last, ties by id — the same rule the
// schedule client applies).
func (s *Store) Upcoming(now time.Time) ([]schedule.Game, error) {
	rows, err := s.db.Query(`
		SELECT game_id, date, time, home_team, away_team, stadium, city, status
		FROM weekly_schedule`)
	if err != nil {
		return nil, fmt.Errorf("query schedule: %w", err)
	}
	defer rows.Close()

	var games []schedule.Game
	for rows.Next() {
		var g schedule.Game
		if err := rows.Scan(&g.ID, &g.Date, &g.Time, &g.HomeTeam, &g.AwayTeam, &g.Stadium, &g.City, &g.Status); err != nil {
			return nil, fmt.Errorf("scan game: %w", err)
		}
		if kickoff, ok := g.Kickoff(); ok && !kickoff.After(now) {
			continue
		}
		games = append(games, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schedule: %w", err)
	}

	schedule.SortGames(games)
	return games, nil
}

// Game returns a single cached game.
func (s *Store) Game(id int64) (schedule.Game, error) {
	var g schedule.Game
	err := s.db.QueryRow(`
		SELECT game_id, date, time, home_team, away_team, stadium, city, status
		FROM weekly_schedule WHERE game_id = ?`, id).
		Scan(&g.ID, &g.Date, &g.Time, &g.HomeTeam, &g.AwayTeam, &g.Stadium, &g.City, &g.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return schedule.Game{}, ErrNotFound
	}
	if err != nil {
		return schedule.Game{}, fmt.Errorf("query game %d: %w", id, err)
	}
	return g, nil
}

// NeedsRefresh reports whether the schedule cache is older than maxAge
// (or was never filled).
func (s *Store) NeedsRefresh(maxAge time.Duration) (bool, error) {
	var last time.Time
	err := s.db.QueryRow(`
		SELECT last_update FROM data_updates WHERE update_type = 'weekly'`).Scan(&last)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return true, fmt.Errorf("query last update: %w", err)
	}
	return time.Since(last) >= maxAge, nil
}

// CachePrediction stores an unlocked prediction payload. Only call this
// after the flow confirmed the access grant.
func (s *Store) CachePrediction(eventID int64, p *prediction.Prediction) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode prediction: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO prediction_cache (game_id, payload, created_at)
		VALUES (?, ?, ?)`, eventID, string(payload), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("cache prediction %d: %w", eventID, err)
	}
	return nil
}

// CachedPrediction returns a previously unlocked prediction, or
// ErrNotFound.
func (s *Store) CachedPrediction(eventID int64) (*prediction.Prediction, error) {
	var payload string
	err := s.db.QueryRow(`
		SELECT payload FROM prediction_cache WHERE game_id = ?`, eventID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query prediction %d: %w", eventID, err)
	}

	var p prediction.Prediction
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return nil, fmt.Errorf("decode cached prediction %d: %w", eventID, err)
	}
	return &p, nil
}

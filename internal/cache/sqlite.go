package cache

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"pokealert/internal/domain"
)

// SQLite is the embedded-database cache backend.
// Params: single-connection WAL database handle and logger.
// Returns: dedup state persisted on every write.
type SQLite struct {
	db     *sql.DB
	logger *slog.Logger
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS expirations (
	kind      TEXT NOT NULL,
	entity_id TEXT NOT NULL,
	expire_at INTEGER NOT NULL,
	PRIMARY KEY (kind, entity_id)
);
CREATE TABLE IF NOT EXISTS gym_teams (
	gym_id TEXT PRIMARY KEY,
	team   INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS gym_info (
	gym_id      TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	description TEXT NOT NULL,
	image_url   TEXT NOT NULL
);
`

// NewSQLite opens or creates the cache database.
// Params: database file path and logger for write-failure diagnostics.
// Returns: ready cache or open/migrate error. The database runs on a
// single connection in WAL mode with a busy timeout, so concurrent
// reads and writes from one process serialize cleanly.
func NewSQLite(path string, logger *slog.Logger) (*SQLite, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache database: %w", err)
	}
	return &SQLite{db: db, logger: logger}, nil
}

// Expiration returns the stored lifecycle expiration for one entity.
// Params: event kind and entity id.
// Returns: expiration and presence flag.
func (s *SQLite) Expiration(kind domain.Kind, id string) (time.Time, bool) {
	var unix int64
	err := s.db.QueryRow(
		`SELECT expire_at FROM expirations WHERE kind = ? AND entity_id = ?`,
		string(kind), id,
	).Scan(&unix)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(unix, 0).UTC(), true
}

// SetExpiration stores the lifecycle expiration for one entity.
// Params: event kind, entity id, and expiration timestamp.
// Returns: none; write failures are logged so a broken database does
// not silently disable dedup.
func (s *SQLite) SetExpiration(kind domain.Kind, id string, at time.Time) {
	_, err := s.db.Exec(
		`INSERT INTO expirations (kind, entity_id, expire_at) VALUES (?, ?, ?)
		 ON CONFLICT (kind, entity_id) DO UPDATE SET expire_at = excluded.expire_at`,
		string(kind), id, at.Unix(),
	)
	if err != nil {
		s.logger.Error("cache expiration write failed",
			slog.String("kind", string(kind)),
			slog.String("id", id),
			slog.String("error", err.Error()))
	}
}

// Team returns the stored controlling team for one gym.
// Params: gym id.
// Returns: team id and presence flag.
func (s *SQLite) Team(gymID string) (int64, bool) {
	var team int64
	err := s.db.QueryRow(`SELECT team FROM gym_teams WHERE gym_id = ?`, gymID).Scan(&team)
	if err != nil {
		return 0, false
	}
	return team, true
}

// SetTeam stores the controlling team for one gym.
// Params: gym id and team id.
// Returns: none.
func (s *SQLite) SetTeam(gymID string, team int64) {
	_, err := s.db.Exec(
		`INSERT INTO gym_teams (gym_id, team) VALUES (?, ?)
		 ON CONFLICT (gym_id) DO UPDATE SET team = excluded.team`,
		gymID, team,
	)
	if err != nil {
		s.logger.Error("cache team write failed",
			slog.String("gym_id", gymID),
			slog.String("error", err.Error()))
	}
}

// GymInfo returns descriptive info for one gym.
// Params: gym id.
// Returns: stored record, or the unknown record for unseen gyms.
func (s *SQLite) GymInfo(gymID string) GymInfo {
	info := GymInfo{}
	err := s.db.QueryRow(
		`SELECT name, description, image_url FROM gym_info WHERE gym_id = ?`,
		gymID,
	).Scan(&info.Name, &info.Description, &info.ImageURL)
	if err != nil {
		return UnknownGymInfo()
	}
	return info
}

// SetGymInfo merges descriptive info for one gym.
// Params: gym id and incoming record.
// Returns: none; unknown fields never overwrite known ones.
func (s *SQLite) SetGymInfo(gymID string, info GymInfo) {
	merged := s.GymInfo(gymID).merge(info)
	_, err := s.db.Exec(
		`INSERT INTO gym_info (gym_id, name, description, image_url) VALUES (?, ?, ?, ?)
		 ON CONFLICT (gym_id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			image_url = excluded.image_url`,
		gymID, merged.Name, merged.Description, merged.ImageURL,
	)
	if err != nil {
		s.logger.Error("cache gym info write failed",
			slog.String("gym_id", gymID),
			slog.String("error", err.Error()))
	}
}

// Sweep drops every expiration entry at or past its deadline.
// Params: current time.
// Returns: number of entries dropped.
func (s *SQLite) Sweep(now time.Time) int {
	result, err := s.db.Exec(`DELETE FROM expirations WHERE expire_at <= ?`, now.Unix())
	if err != nil {
		return 0
	}
	dropped, _ := result.RowsAffected()
	return int(dropped)
}

// Save is a no-op; every write already hits the database.
// Params: none.
// Returns: nil.
func (s *SQLite) Save() error {
	return nil
}

// Close closes the database handle.
// Params: none.
// Returns: close error.
func (s *SQLite) Close() error {
	return s.db.Close()
}

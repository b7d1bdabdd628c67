// Package storage provides SQLite-backed persistence for seen events,
// pending revision records, heartbeat state, and the alert log.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rewired-gh/quakeoracle/internal/models"
	_ "modernc.org/sqlite"
)

// Storage wraps a SQLite database for all persistence operations.
type Storage struct {
	db      *sql.DB
	maxSeen int
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/quakeoracle/data.db.
func New(maxSeen int, dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "quakeoracle", "data.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	s := &Storage{db: db, maxSeen: maxSeen}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS seen_events (
			id         TEXT PRIMARY KEY,
			first_seen INTEGER NOT NULL,
			last_mag   REAL,
			has_mag    INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_seen_first_seen ON seen_events(first_seen)`,
		`CREATE TABLE IF NOT EXISTS pending_events (
			id          TEXT PRIMARY KEY,
			first_seen  INTEGER NOT NULL,
			occurred_at INTEGER NOT NULL,
			latest_mag  REAL NOT NULL,
			labels      TEXT NOT NULL DEFAULT '[]',
			expires_at  INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS heartbeat_state (
			id        INTEGER PRIMARY KEY CHECK (id = 1),
			last_key  TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS alert_log (
			id        TEXT PRIMARY KEY,
			event_id  TEXT NOT NULL,
			magnitude REAL,
			labels    TEXT NOT NULL DEFAULT '[]',
			kind      TEXT NOT NULL,
			sent_at   INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alert_log_sent_at ON alert_log(sent_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// UpsertObservation records or updates the dedup state for one identifier.
func (s *Storage) UpsertObservation(obs *models.Observation) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO seen_events (id, first_seen, last_mag, has_mag)
		VALUES (?,?,?,?)`,
		obs.EventID, obs.FirstSeen.UnixNano(), obs.LastMag, boolToInt(obs.HasMag),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert observation: %w", err)
	}
	return nil
}

// LoadObservations returns the full dedup state keyed by event identifier.
func (s *Storage) LoadObservations() (map[string]*models.Observation, error) {
	rows, err := s.db.Query(`SELECT id, first_seen, last_mag, has_mag FROM seen_events`)
	if err != nil {
		return nil, fmt.Errorf("failed to query observations: %w", err)
	}
	defer rows.Close()

	observations := make(map[string]*models.Observation)
	for rows.Next() {
		var obs models.Observation
		var firstSeenNano int64
		var lastMag sql.NullFloat64
		var hasMag int
		if err := rows.Scan(&obs.EventID, &firstSeenNano, &lastMag, &hasMag); err != nil {
			return nil, fmt.Errorf("failed to scan observation: %w", err)
		}
		obs.FirstSeen = time.Unix(0, firstSeenNano)
		obs.LastMag = lastMag.Float64
		obs.HasMag = hasMag != 0
		observations[obs.EventID] = &obs
	}
	return observations, rows.Err()
}

// DeleteObservationsBefore removes dedup entries first seen before cutoff
// and enforces the seen-set cap, oldest first.
func (s *Storage) DeleteObservationsBefore(cutoff time.Time) error {
	if _, err := s.db.Exec(`DELETE FROM seen_events WHERE first_seen < ?`, cutoff.UnixNano()); err != nil {
		return fmt.Errorf("failed to prune observations: %w", err)
	}
	_, err := s.db.Exec(`
		DELETE FROM seen_events WHERE id NOT IN (
			SELECT id FROM seen_events ORDER BY first_seen DESC LIMIT ?
		)`, s.maxSeen)
	if err != nil {
		return fmt.Errorf("failed to enforce seen-set cap: %w", err)
	}
	return nil
}

// SavePending writes or replaces one pending revision record.
func (s *Storage) SavePending(rec *models.PendingRecord) error {
	labelsJSON, err := json.Marshal(rec.Labels)
	if err != nil {
		return fmt.Errorf("failed to marshal labels: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO pending_events
			(id, first_seen, occurred_at, latest_mag, labels, expires_at)
		VALUES (?,?,?,?,?,?)`,
		rec.EventID, rec.FirstSeen.UnixNano(), rec.OccurredAt.UnixNano(),
		rec.LatestMag, string(labelsJSON), rec.ExpiresAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to save pending record: %w", err)
	}
	return nil
}

// DeletePending removes one pending record by event identifier.
func (s *Storage) DeletePending(eventID string) error {
	if _, err := s.db.Exec(`DELETE FROM pending_events WHERE id = ?`, eventID); err != nil {
		return fmt.Errorf("failed to delete pending record: %w", err)
	}
	return nil
}

// LoadPending returns all pending records keyed by event identifier.
func (s *Storage) LoadPending() (map[string]*models.PendingRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, first_seen, occurred_at, latest_mag, labels, expires_at
		FROM pending_events`)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending records: %w", err)
	}
	defer rows.Close()

	records := make(map[string]*models.PendingRecord)
	for rows.Next() {
		var rec models.PendingRecord
		var firstSeenNano, occurredAtNano, expiresAtNano int64
		var labelsJSON string
		if err := rows.Scan(&rec.EventID, &firstSeenNano, &occurredAtNano,
			&rec.LatestMag, &labelsJSON, &expiresAtNano); err != nil {
			return nil, fmt.Errorf("failed to scan pending record: %w", err)
		}
		if err := json.Unmarshal([]byte(labelsJSON), &rec.Labels); err != nil {
			return nil, fmt.Errorf("failed to unmarshal labels: %w", err)
		}
		rec.FirstSeen = time.Unix(0, firstSeenNano)
		rec.OccurredAt = time.Unix(0, occurredAtNano)
		rec.ExpiresAt = time.Unix(0, expiresAtNano)
		records[rec.EventID] = &rec
	}
	return records, rows.Err()
}

// SaveHeartbeatKey persists the last-sent heartbeat bucket key.
// Called before the external send so a crash yields a missed heartbeat,
// never a duplicate.
func (s *Storage) SaveHeartbeatKey(key string) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO heartbeat_state (id, last_key) VALUES (1, ?)`, key)
	if err != nil {
		return fmt.Errorf("failed to save heartbeat key: %w", err)
	}
	return nil
}

// LoadHeartbeatKey returns the last-sent heartbeat bucket key, or "" when
// no heartbeat was ever sent.
func (s *Storage) LoadHeartbeatKey() (string, error) {
	var key string
	err := s.db.QueryRow(`SELECT last_key FROM heartbeat_state WHERE id = 1`).Scan(&key)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load heartbeat key: %w", err)
	}
	return key, nil
}

// LogAlert appends one row to the alert log.
func (s *Storage) LogAlert(eventID string, magnitude float64, labels []string, kind string, sentAt time.Time) error {
	labelsJSON, err := json.Marshal(labels)
	if err != nil {
		return fmt.Errorf("failed to marshal labels: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO alert_log (id, event_id, magnitude, labels, kind, sent_at)
		VALUES (?,?,?,?,?,?)`,
		uuid.New().String(), eventID, magnitude, string(labelsJSON), kind, sentAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert log row: %w", err)
	}
	return nil
}

// AlertCountSince returns how many alerts were logged at or after cutoff.
func (s *Storage) AlertCountSince(cutoff time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM alert_log WHERE sent_at >= ?`, cutoff.UnixNano()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count alerts: %w", err)
	}
	return n, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

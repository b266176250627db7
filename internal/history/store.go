// Package history keeps a DuckDB log of image arrivals and alarm transitions.
package history

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/lsst-camera-dev/recent-images/internal/columns"
	"github.com/lsst-camera-dev/recent-images/internal/models"
	"github.com/marcboeker/go-duckdb"
)

// Alarm transition kinds.
const (
	KindRaised   = "raised"
	KindCleared  = "cleared"
	KindSilenced = "silenced"
)

// DefaultLimit is used when a query asks for no limit.
const DefaultLimit = 100

// Arrival is the first sighting of an image.
type Arrival struct {
	ObsID     string     `json:"obsId"`
	ObsDate   *time.Time `json:"obsDate,omitempty"`
	ImgType   string     `json:"imgType"`
	Rafts     int        `json:"rafts"`
	FirstSeen time.Time  `json:"firstSeen"`
}

// AlarmEvent is one alarm transition.
type AlarmEvent struct {
	ID           int64     `json:"id"`
	Kind         string    `json:"kind"`
	At           time.Time `json:"at"`
	AlarmSeconds int       `json:"alarmSeconds"`
}

// Store is the DuckDB-backed history.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the history database at path. An empty path keeps
// the history in memory.
func Open(path string) (*Store, error) {
	connector, err := duckdb.NewConnector(path, func(execer driver.ExecerContext) error {
		pragmas := []string{
			"PRAGMA threads=1",
			"PRAGMA enable_progress_bar=false",
		}
		for _, pragma := range pragmas {
			if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB connector: %w", err)
	}

	db := sql.OpenDB(connector)
	schema := []string{
		`CREATE TABLE IF NOT EXISTS arrivals (
			obs_id     VARCHAR PRIMARY KEY,
			obs_date   TIMESTAMP,
			img_type   VARCHAR,
			rafts      INTEGER NOT NULL,
			first_seen TIMESTAMP NOT NULL
		)`,
		`CREATE SEQUENCE IF NOT EXISTS alarm_events_seq`,
		`CREATE TABLE IF NOT EXISTS alarm_events (
			id            BIGINT DEFAULT nextval('alarm_events_seq'),
			kind          VARCHAR NOT NULL,
			at            TIMESTAMP NOT NULL,
			alarm_seconds INTEGER NOT NULL
		)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create history schema: %w", err)
		}
	}

	return &Store{db: db, now: time.Now}, nil
}

// RecordArrivals stores every record not seen before. Records already in the
// history keep their first-seen time.
func (s *Store) RecordArrivals(ctx context.Context, records []models.ImageRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin arrivals: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO arrivals (obs_id, obs_date, img_type, rafts, first_seen) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare arrivals: %w", err)
	}
	defer stmt.Close()

	seen := s.now().UTC()
	for _, r := range records {
		var obsDate sql.NullTime
		if !r.ObsDate.IsZero() {
			obsDate = sql.NullTime{Time: r.ObsDate.UTC(), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, r.ObsID, obsDate, r.ImgType, columns.CountRafts(r.RaftMask), seen); err != nil {
			return fmt.Errorf("insert arrival %s: %w", r.ObsID, err)
		}
	}
	return tx.Commit()
}

// RecordAlarm appends an alarm transition.
func (s *Store) RecordAlarm(ctx context.Context, kind string, alarmSeconds int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alarm_events (kind, at, alarm_seconds) VALUES (?, ?, ?)`,
		kind, s.now().UTC(), alarmSeconds)
	if err != nil {
		return fmt.Errorf("insert alarm event: %w", err)
	}
	return nil
}

// Arrivals returns the most recently first-seen images, newest first.
func (s *Store) Arrivals(ctx context.Context, limit int) ([]Arrival, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT obs_id, obs_date, img_type, rafts, first_seen
		   FROM arrivals
		  ORDER BY first_seen DESC, obs_date DESC NULLS LAST, obs_id DESC
		  LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query arrivals: %w", err)
	}
	defer rows.Close()

	out := make([]Arrival, 0, limit)
	for rows.Next() {
		var (
			a       Arrival
			obsDate sql.NullTime
			imgType sql.NullString
		)
		if err := rows.Scan(&a.ObsID, &obsDate, &imgType, &a.Rafts, &a.FirstSeen); err != nil {
			return nil, fmt.Errorf("scan arrival: %w", err)
		}
		if obsDate.Valid {
			t := obsDate.Time.UTC()
			a.ObsDate = &t
		}
		a.ImgType = imgType.String
		a.FirstSeen = a.FirstSeen.UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

// Alarms returns the latest alarm transitions, newest first.
func (s *Store) Alarms(ctx context.Context, limit int) ([]AlarmEvent, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, kind, at, alarm_seconds FROM alarm_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query alarm events: %w", err)
	}
	defer rows.Close()

	out := make([]AlarmEvent, 0)
	for rows.Next() {
		var ev AlarmEvent
		if err := rows.Scan(&ev.ID, &ev.Kind, &ev.At, &ev.AlarmSeconds); err != nil {
			return nil, fmt.Errorf("scan alarm event: %w", err)
		}
		ev.At = ev.At.UTC()
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

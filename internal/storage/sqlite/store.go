// Package sqlite persists perception runs, tracks, and per-frame
// observations. It is an adapter behind tracks.PersistenceSink; the
// schema is managed by embedded migrations applied on open.
package sqlite

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/dashcam.report/internal/core"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store records perception output for one run at a time.
type Store struct {
	db    *sql.DB
	runID string
}

// Open opens (or creates) the database at path and applies pending
// migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db %s: %w", path, err)
	}
	// One writer; sqlite locks the file anyway and the sink writes from
	// a single stage thread.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("init migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// DB exposes the underlying handle for monitor queries.
func (s *Store) DB() *sql.DB { return s.db }

// RunID returns the active run's id, empty before BeginRun.
func (s *Store) RunID() string { return s.runID }

// BeginRun opens a new run and makes it the target of subsequent
// RecordWorldState calls. configSnapshot is stored verbatim for later
// comparison of tuning between runs.
func (s *Store) BeginRun(configSnapshot string) (string, error) {
	runID := uuid.NewString()
	_, err := s.db.Exec(
		`INSERT INTO perception_runs (run_id, started_unix_nanos, config_snapshot) VALUES (?, ?, ?)`,
		runID, time.Now().UnixNano(), configSnapshot,
	)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	s.runID = runID
	return runID, nil
}

// EndRun stamps the active run finished.
func (s *Store) EndRun() error {
	if s.runID == "" {
		return nil
	}
	_, err := s.db.Exec(
		`UPDATE perception_runs SET finished_unix_nanos = ? WHERE run_id = ?`,
		time.Now().UnixNano(), s.runID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// RecordWorldState implements tracks.PersistenceSink. Confirmed tracks
// are upserted; observations are written only for tracks matched this
// frame (missed_frames == 0) so coasting predictions do not contaminate
// the observation history.
func (s *Store) RecordWorldState(ws *core.WorldState) error {
	if s.runID == "" {
		return fmt.Errorf("no active run")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`UPDATE perception_runs SET frames_processed = frames_processed + 1 WHERE run_id = ?`,
		s.runID,
	); err != nil {
		return fmt.Errorf("bump frame count: %w", err)
	}

	for _, track := range ws.Tracks {
		if !track.Confirmed {
			continue
		}
		if _, err := tx.Exec(
			`INSERT INTO perception_tracks
			   (run_id, track_id, class_id, class_name, confidence,
			    first_frame_id, last_frame_id, age_frames, confirmed)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1)
			 ON CONFLICT (run_id, track_id) DO UPDATE SET
			   class_id = excluded.class_id,
			   class_name = excluded.class_name,
			   confidence = excluded.confidence,
			   last_frame_id = excluded.last_frame_id,
			   age_frames = excluded.age_frames`,
			s.runID, track.ID, track.ClassID, core.ClassName(track.ClassID), track.Confidence,
			ws.FrameID, ws.FrameID, track.AgeFrames,
		); err != nil {
			return fmt.Errorf("upsert track %d: %w", track.ID, err)
		}

		if track.MissedFrames == 0 {
			if _, err := tx.Exec(
				`INSERT OR IGNORE INTO perception_track_obs
				   (run_id, track_id, frame_id, ts_unix_nanos, x, y, width, height, confidence)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				s.runID, track.ID, ws.FrameID, ws.Timestamp.UnixNano(),
				track.BBox.X, track.BBox.Y, track.BBox.W, track.BBox.H, track.Confidence,
			); err != nil {
				return fmt.Errorf("insert observation for track %d: %w", track.ID, err)
			}
		}
	}

	return tx.Commit()
}

// RunSummary describes one stored run.
type RunSummary struct {
	RunID           string
	StartedAt       time.Time
	FinishedAt      *time.Time
	FramesProcessed int
	TrackCount      int
}

// ListRuns returns stored runs, newest first.
func (s *Store) ListRuns(limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT r.run_id, r.started_unix_nanos, r.finished_unix_nanos, r.frames_processed,
		        (SELECT COUNT(*) FROM perception_tracks t WHERE t.run_id = r.run_id)
		   FROM perception_runs r
		  ORDER BY r.started_unix_nanos DESC
		  LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var rs RunSummary
		var started int64
		var finished sql.NullInt64
		if err := rows.Scan(&rs.RunID, &started, &finished, &rs.FramesProcessed, &rs.TrackCount); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		rs.StartedAt = time.Unix(0, started)
		if finished.Valid {
			t := time.Unix(0, finished.Int64)
			rs.FinishedAt = &t
		}
		out = append(out, rs)
	}
	return out, rows.Err()
}

// TrackRecord is one stored track row.
type TrackRecord struct {
	TrackID      uint64
	ClassID      int
	ClassName    string
	Confidence   float32
	LastFrameID  uint64
	AgeFrames    int
	Observations int
}

// TracksForRun returns the confirmed tracks stored for a run.
func (s *Store) TracksForRun(runID string) ([]TrackRecord, error) {
	rows, err := s.db.Query(
		`SELECT t.track_id, t.class_id, t.class_name, t.confidence, t.last_frame_id, t.age_frames,
		        (SELECT COUNT(*) FROM perception_track_obs o
		          WHERE o.run_id = t.run_id AND o.track_id = t.track_id)
		   FROM perception_tracks t
		  WHERE t.run_id = ?
		  ORDER BY t.track_id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query tracks: %w", err)
	}
	defer rows.Close()

	var out []TrackRecord
	for rows.Next() {
		var tr TrackRecord
		if err := rows.Scan(&tr.TrackID, &tr.ClassID, &tr.ClassName, &tr.Confidence,
			&tr.LastFrameID, &tr.AgeFrames, &tr.Observations); err != nil {
			return nil, fmt.Errorf("scan track: %w", err)
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

// Close ends the active run and closes the database.
func (s *Store) Close() error {
	if err := s.EndRun(); err != nil {
		s.db.Close()
		return err
	}
	return s.db.Close()
}

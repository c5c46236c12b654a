// Package tracklog persists calibrations and tracked positions to SQLite so a
// walk can be replayed after the session ends.
package tracklog

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/relabs-tech/indoor_pdr/internal/calibration"
	"github.com/relabs-tech/indoor_pdr/internal/monitoring"
	"github.com/relabs-tech/indoor_pdr/internal/pdr"
	"github.com/relabs-tech/indoor_pdr/internal/position"
)

// ErrNotFound is returned when a session has no calibration on record.
var ErrNotFound = errors.New("tracklog: not found")

//go:embed schema.sql
var schemaSQL string

// Store is a track database.
type Store struct {
	*sql.DB
}

// Calibration is one completed walkthrough.
type Calibration struct {
	SessionID  string         `json:"session_id"`
	Start      position.Point `json:"start"`
	End        position.Point `json:"end"`
	Steps      int            `json:"steps"`
	Stride     float64        `json:"stride"`
	RecordedAt time.Time      `json:"recorded_at"`
}

// Point is one tracked position. Step 0 is the calibrated end point.
type Point struct {
	Step       int            `json:"step"`
	Position   position.Point `json:"position"`
	Heading    float64        `json:"heading"`
	RecordedAt time.Time      `json:"recorded_at"`
}

// Open opens or creates the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open track log: %w", err)
	}
	// one writer; sqlite serializes anyway
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply track log schema: %w", err)
	}
	monitoring.Logf("tracklog: opened %s", path)
	return &Store{db}, nil
}

// RecordCalibration stores the calibration carried by a Tracking snapshot.
func (s *Store) RecordCalibration(ctx context.Context, snap pdr.Snapshot) error {
	query := `
		INSERT INTO pdr_calibrations (session_id, start_x, start_y, end_x, end_y, steps, stride, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.ExecContext(ctx, query, snap.SessionID,
		snap.Start.X, snap.Start.Y, snap.End.X, snap.End.Y,
		snap.StepsTaken, snap.Stride, stamp(snap.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert calibration: %w", err)
	}
	return nil
}

// RecordPoint stores the current position of a Tracking snapshot.
func (s *Store) RecordPoint(ctx context.Context, snap pdr.Snapshot) error {
	query := `
		INSERT INTO pdr_points (session_id, step, x, y, heading, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.ExecContext(ctx, query, snap.SessionID, snap.TrackedSteps,
		snap.Current.X, snap.Current.Y, snap.Heading, stamp(snap.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert track point: %w", err)
	}
	return nil
}

// LatestCalibration returns the most recent calibration of a session.
func (s *Store) LatestCalibration(ctx context.Context, sessionID string) (Calibration, error) {
	query := `
		SELECT start_x, start_y, end_x, end_y, steps, stride, recorded_at
		FROM pdr_calibrations
		WHERE session_id = ?
		ORDER BY id DESC
		LIMIT 1
	`
	c := Calibration{SessionID: sessionID}
	var ns int64
	err := s.QueryRowContext(ctx, query, sessionID).Scan(
		&c.Start.X, &c.Start.Y, &c.End.X, &c.End.Y, &c.Steps, &c.Stride, &ns)
	if errors.Is(err, sql.ErrNoRows) {
		return Calibration{}, ErrNotFound
	}
	if err != nil {
		return Calibration{}, fmt.Errorf("failed to query calibration: %w", err)
	}
	c.RecordedAt = time.Unix(0, ns).UTC()
	return c, nil
}

// Track returns every recorded point of a session in insertion order.
func (s *Store) Track(ctx context.Context, sessionID string) ([]Point, error) {
	query := `
		SELECT step, x, y, heading, recorded_at
		FROM pdr_points
		WHERE session_id = ?
		ORDER BY id
	`
	rows, err := s.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query track: %w", err)
	}
	defer rows.Close()

	points := []Point{}
	for rows.Next() {
		var p Point
		var ns int64
		if err := rows.Scan(&p.Step, &p.Position.X, &p.Position.Y, &p.Heading, &ns); err != nil {
			return nil, fmt.Errorf("failed to scan track point: %w", err)
		}
		p.RecordedAt = time.Unix(0, ns).UTC()
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read track: %w", err)
	}
	return points, nil
}

// Sessions lists the sessions that have a calibration, newest first.
func (s *Store) Sessions(ctx context.Context) ([]string, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT session_id FROM pdr_calibrations
		GROUP BY session_id
		ORDER BY MAX(id) DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func stamp(t time.Time) int64 {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UnixNano()
}

// Recorder turns a stream of snapshots into calibration and point rows.
// Snapshots are coalesced upstream, so a point is written for the latest
// position whenever the tracked step count moved.
type Recorder struct {
	store *Store

	lastState   calibration.State
	lastTracked int
}

// NewRecorder returns a Recorder writing to store.
func NewRecorder(store *Store) *Recorder {
	return &Recorder{store: store}
}

// Observe records whatever snap adds to the log.
func (r *Recorder) Observe(ctx context.Context, snap pdr.Snapshot) error {
	prev := r.lastState
	r.lastState = snap.State
	if snap.State != calibration.Tracking {
		return nil
	}

	if prev != calibration.Tracking || snap.TrackedSteps < r.lastTracked {
		r.lastTracked = snap.TrackedSteps
		if err := r.store.RecordCalibration(ctx, snap); err != nil {
			return err
		}
		return r.store.RecordPoint(ctx, snap)
	}

	if snap.TrackedSteps == r.lastTracked {
		return nil
	}
	r.lastTracked = snap.TrackedSteps
	return r.store.RecordPoint(ctx, snap)
}

// Follow records snapshots from ch until it closes or ctx is done.
func (r *Recorder) Follow(ctx context.Context, ch <-chan pdr.Snapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-ch:
			if !ok {
				return
			}
			if err := r.Observe(ctx, snap); err != nil {
				monitoring.Logf("tracklog: %v", err)
			}
		}
	}
}

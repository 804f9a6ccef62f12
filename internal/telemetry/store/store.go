// Package store implements an optional, off-by-default SQLite-backed
// session-replay log: frame start/release events, camera-pose bootstrap
// events, and delay-slot claim/release/reassign events, each timestamped
// in device or host unix-nanosecond time. Nothing in the tracking pipeline
// depends on this package; it exists purely so a session can be captured
// and replayed for debugging.
package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a migrated SQLite database used to log pipeline events for
// later replay.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at path and
// applies any pending migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("telemetry store: open %s: %w", path, err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("telemetry store: migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("telemetry store: sqlite driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("telemetry store: migrate instance: %w", err)
	}
	m.Log = &migrateLogger{}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		db.Close()
		return nil, fmt.Errorf("telemetry store: migrate up: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordFrameEvent logs a capture-frame lifecycle transition: "start",
// "captured", "dropped", "rewound", or similar, identified by the caller.
func (s *Store) RecordFrameEvent(sensorID, frameID int, stage string, recordedUnixNanos int64) error {
	_, err := s.db.Exec(
		`INSERT INTO frame_events (sensor_id, frame_id, stage, recorded_unix_nanos) VALUES (?, ?, ?, ?)`,
		sensorID, frameID, stage, recordedUnixNanos,
	)
	if err != nil {
		return fmt.Errorf("telemetry store: record frame event: %w", err)
	}
	return nil
}

// RecordBootstrapEvent logs that a sensor's camera pose was established
// (or re-established) via device-correspondence bootstrap.
func (s *Store) RecordBootstrapEvent(sensorID int, recordedUnixNanos int64) error {
	_, err := s.db.Exec(
		`INSERT INTO bootstrap_events (sensor_id, recorded_unix_nanos) VALUES (?, ?)`,
		sensorID, recordedUnixNanos,
	)
	if err != nil {
		return fmt.Errorf("telemetry store: record bootstrap event: %w", err)
	}
	return nil
}

// RecordDelaySlotEvent logs a delay-slot lifecycle event: "claim",
// "release", or "changed_exposure".
func (s *Store) RecordDelaySlotEvent(deviceID, slotID int, event string, recordedUnixNanos int64) error {
	_, err := s.db.Exec(
		`INSERT INTO delay_slot_events (device_id, slot_id, event, recorded_unix_nanos) VALUES (?, ?, ?, ?)`,
		deviceID, slotID, event, recordedUnixNanos,
	)
	if err != nil {
		return fmt.Errorf("telemetry store: record delay slot event: %w", err)
	}
	return nil
}

type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	log.Printf("[telemetry-migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool {
	return false
}

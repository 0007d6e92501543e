package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// sqliteTimeLayout is fixed-width so TEXT comparison orders chronologically.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000Z"

// SQLiteRepository implements Store on the sensor_data and actuator_control tables.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a repository on an open, migrated SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseSQLiteTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeLayout, s)
	if err != nil {
		// Rows written by other tools may use plain RFC3339.
		t, err = time.Parse(time.RFC3339Nano, s)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing created_at %q: %w", s, err)
	}
	return t.UTC(), nil
}

// InsertSensorReading appends one reading.
func (r *SQLiteRepository) InsertSensorReading(ctx context.Context, reading SensorReading) error {
	if err := ValidateReading(reading); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO sensor_data (sensor_type, value, unit, device_id, created_at) VALUES (?, ?, ?, ?, ?)",
		string(reading.Kind), reading.Value, reading.Unit, reading.DeviceID, formatSQLiteTime(r.now()),
	)
	if err != nil {
		return fmt.Errorf("inserting sensor reading: %w", err)
	}
	return nil
}

// InsertSensorRound appends the readings of one combined message in a
// single transaction, all stamped with the same created_at.
func (r *SQLiteRepository) InsertSensorRound(ctx context.Context, readings []SensorReading) error {
	if err := validateRound(readings); err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO sensor_data (sensor_type, value, unit, device_id, created_at) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("preparing sensor insert: %w", err)
	}
	defer stmt.Close()

	createdAt := formatSQLiteTime(r.now())
	for _, reading := range readings {
		if _, err := stmt.ExecContext(ctx,
			string(reading.Kind), reading.Value, reading.Unit, reading.DeviceID, createdAt,
		); err != nil {
			return fmt.Errorf("inserting %s reading: %w", reading.Kind, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing sensor round: %w", err)
	}
	return nil
}

// InsertActuatorEvent appends one actuator event.
func (r *SQLiteRepository) InsertActuatorEvent(ctx context.Context, ev ActuatorEvent) error {
	if err := ValidateEvent(ev); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO actuator_control (actuator_type, action, value, user_id, created_at) VALUES (?, ?, ?, ?, ?)",
		string(ev.Kind), string(ev.Action), nullFloat(ev.Value), nullString(ev.UserID), formatSQLiteTime(r.now()),
	)
	if err != nil {
		return fmt.Errorf("inserting actuator event: %w", err)
	}
	return nil
}

// ListSensorReadings returns readings matching q, newest first.
func (r *SQLiteRepository) ListSensorReadings(ctx context.Context, q SensorQuery) ([]SensorReading, error) {
	var (
		where []string
		args  []any
	)
	if q.Kind != "" {
		where = append(where, "sensor_type = ?")
		args = append(args, string(q.Kind))
	}
	if q.DeviceID != "" {
		where = append(where, "device_id = ?")
		args = append(args, q.DeviceID)
	}
	if !q.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, formatSQLiteTime(q.Since))
	}
	if !q.Until.IsZero() {
		where = append(where, "created_at <= ?")
		args = append(args, formatSQLiteTime(q.Until))
	}

	query := "SELECT id, sensor_type, value, unit, device_id, created_at FROM sensor_data"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, NormalizeLimit(q.Limit))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying sensor readings: %w", err)
	}
	defer rows.Close()

	readings := make([]SensorReading, 0)
	for rows.Next() {
		reading, err := scanSQLiteReading(rows)
		if err != nil {
			return nil, err
		}
		readings = append(readings, reading)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sensor readings: %w", err)
	}
	return readings, nil
}

// LatestSensorReading returns the newest reading for kind and deviceID.
func (r *SQLiteRepository) LatestSensorReading(ctx context.Context, kind SensorKind, deviceID string) (SensorReading, error) {
	readings, err := r.ListSensorReadings(ctx, SensorQuery{Kind: kind, DeviceID: deviceID, Limit: 1})
	if err != nil {
		return SensorReading{}, err
	}
	if len(readings) == 0 {
		return SensorReading{}, ErrNotFound
	}
	return readings[0], nil
}

// ListActuatorEvents returns events matching q, newest first.
func (r *SQLiteRepository) ListActuatorEvents(ctx context.Context, q ActuatorQuery) ([]ActuatorEvent, error) {
	query := "SELECT id, actuator_type, action, value, user_id, created_at FROM actuator_control"
	var args []any
	if q.Kind != "" {
		query += " WHERE actuator_type = ?"
		args = append(args, string(q.Kind))
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, NormalizeLimit(q.Limit))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying actuator events: %w", err)
	}
	defer rows.Close()

	events := make([]ActuatorEvent, 0)
	for rows.Next() {
		ev, err := scanSQLiteEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating actuator events: %w", err)
	}
	return events, nil
}

// LatestActuatorEvents returns the newest event for each actuator kind.
func (r *SQLiteRepository) LatestActuatorEvents(ctx context.Context) (map[ActuatorKind]ActuatorEvent, error) {
	latest := make(map[ActuatorKind]ActuatorEvent, len(ActuatorKinds))
	for _, k := range ActuatorKinds {
		events, err := r.ListActuatorEvents(ctx, ActuatorQuery{Kind: k, Limit: 1})
		if err != nil {
			return nil, err
		}
		if len(events) > 0 {
			latest[k] = events[0]
		}
	}
	return latest, nil
}

// HealthCheck verifies both tables are reachable.
func (r *SQLiteRepository) HealthCheck(ctx context.Context) error {
	var n int
	err := r.db.QueryRowContext(ctx,
		"SELECT (SELECT COUNT(*) FROM sensor_data WHERE 0) + (SELECT COUNT(*) FROM actuator_control WHERE 0)",
	).Scan(&n)
	if err != nil {
		return fmt.Errorf("telemetry store health check failed: %w", err)
	}
	return nil
}

// rowScanner is an interface that sql.Row and sql.Rows both implement.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteReading(row rowScanner) (SensorReading, error) {
	var (
		reading   SensorReading
		kind      string
		createdAt string
	)
	if err := row.Scan(&reading.ID, &kind, &reading.Value, &reading.Unit, &reading.DeviceID, &createdAt); err != nil {
		return SensorReading{}, fmt.Errorf("scanning sensor reading: %w", err)
	}
	reading.Kind = SensorKind(kind)

	t, err := parseSQLiteTime(createdAt)
	if err != nil {
		return SensorReading{}, err
	}
	reading.CreatedAt = t
	return reading, nil
}

func scanSQLiteEvent(row rowScanner) (ActuatorEvent, error) {
	var (
		ev        ActuatorEvent
		kind      string
		action    string
		value     sql.NullFloat64
		userID    sql.NullString
		createdAt string
	)
	if err := row.Scan(&ev.ID, &kind, &action, &value, &userID, &createdAt); err != nil {
		return ActuatorEvent{}, fmt.Errorf("scanning actuator event: %w", err)
	}
	ev.Kind = ActuatorKind(kind)
	ev.Action = Action(action)
	if value.Valid {
		v := value.Float64
		ev.Value = &v
	}
	if userID.Valid {
		u := userID.String
		ev.UserID = &u
	}

	t, err := parseSQLiteTime(createdAt)
	if err != nil {
		return ActuatorEvent{}, err
	}
	ev.CreatedAt = t
	return ev, nil
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

var _ Store = (*SQLiteRepository)(nil)

package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// pgxDB is the subset of *pgxpool.Pool used by PostgresRepository.
type pgxDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresRepository implements Store on PostgreSQL through pgx.
type PostgresRepository struct {
	db  pgxDB
	now func() time.Time
}

// NewPostgresRepository creates a repository on a migrated pool.
func NewPostgresRepository(db pgxDB) *PostgresRepository {
	return &PostgresRepository{db: db, now: time.Now}
}

const pgInsertReading = `INSERT INTO sensor_data (sensor_type, value, unit, device_id, created_at)
VALUES ($1, $2, $3, $4, $5)`

// InsertSensorReading appends one reading.
func (r *PostgresRepository) InsertSensorReading(ctx context.Context, reading SensorReading) error {
	if err := ValidateReading(reading); err != nil {
		return err
	}
	if _, err := r.db.Exec(ctx, pgInsertReading,
		string(reading.Kind), reading.Value, reading.Unit, reading.DeviceID, r.now().UTC(),
	); err != nil {
		return fmt.Errorf("inserting sensor reading: %w", err)
	}
	return nil
}

// InsertSensorRound writes all readings in one transaction with a shared created_at.
func (r *PostgresRepository) InsertSensorRound(ctx context.Context, readings []SensorReading) error {
	if err := validateRound(readings); err != nil {
		return err
	}

	createdAt := r.now().UTC()
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, reading := range readings {
			batch.Queue(pgInsertReading,
				string(reading.Kind), reading.Value, reading.Unit, reading.DeviceID, createdAt)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("inserting sensor round: %w", err)
	}
	return nil
}

// InsertActuatorEvent appends one actuator event.
func (r *PostgresRepository) InsertActuatorEvent(ctx context.Context, ev ActuatorEvent) error {
	if err := ValidateEvent(ev); err != nil {
		return err
	}
	if _, err := r.db.Exec(ctx,
		`INSERT INTO actuator_control (actuator_type, action, value, user_id, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		string(ev.Kind), string(ev.Action), ev.Value, ev.UserID, r.now().UTC(),
	); err != nil {
		return fmt.Errorf("inserting actuator event: %w", err)
	}
	return nil
}

// ListSensorReadings returns readings matching q, newest first.
func (r *PostgresRepository) ListSensorReadings(ctx context.Context, q SensorQuery) ([]SensorReading, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if q.Kind != "" {
		where = append(where, "sensor_type = "+arg(string(q.Kind)))
	}
	if q.DeviceID != "" {
		where = append(where, "device_id = "+arg(q.DeviceID))
	}
	if !q.Since.IsZero() {
		where = append(where, "created_at >= "+arg(q.Since.UTC()))
	}
	if !q.Until.IsZero() {
		where = append(where, "created_at <= "+arg(q.Until.UTC()))
	}

	query := "SELECT id, sensor_type, value, unit, device_id, created_at FROM sensor_data"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT " + arg(NormalizeLimit(q.Limit))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying sensor readings: %w", err)
	}
	readings, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (SensorReading, error) {
		var (
			reading SensorReading
			kind    string
		)
		err := row.Scan(&reading.ID, &kind, &reading.Value, &reading.Unit, &reading.DeviceID, &reading.CreatedAt)
		reading.Kind = SensorKind(kind)
		reading.CreatedAt = reading.CreatedAt.UTC()
		return reading, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning sensor readings: %w", err)
	}
	if readings == nil {
		readings = []SensorReading{}
	}
	return readings, nil
}

// LatestSensorReading returns the newest reading for kind and deviceID.
func (r *PostgresRepository) LatestSensorReading(ctx context.Context, kind SensorKind, deviceID string) (SensorReading, error) {
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
func (r *PostgresRepository) ListActuatorEvents(ctx context.Context, q ActuatorQuery) ([]ActuatorEvent, error) {
	query := "SELECT id, actuator_type, action, value, user_id, created_at FROM actuator_control"
	args := []any{}
	if q.Kind != "" {
		args = append(args, string(q.Kind))
		query += " WHERE actuator_type = $1"
	}
	args = append(args, NormalizeLimit(q.Limit))
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying actuator events: %w", err)
	}
	events, err := pgx.CollectRows(rows, scanPgEvent)
	if err != nil {
		return nil, fmt.Errorf("scanning actuator events: %w", err)
	}
	if events == nil {
		events = []ActuatorEvent{}
	}
	return events, nil
}

// LatestActuatorEvents returns the newest event for each actuator kind.
func (r *PostgresRepository) LatestActuatorEvents(ctx context.Context) (map[ActuatorKind]ActuatorEvent, error) {
	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT ON (actuator_type) id, actuator_type, action, value, user_id, created_at
		FROM actuator_control
		ORDER BY actuator_type, created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying latest actuator events: %w", err)
	}
	events, err := pgx.CollectRows(rows, scanPgEvent)
	if err != nil {
		return nil, fmt.Errorf("scanning latest actuator events: %w", err)
	}

	latest := make(map[ActuatorKind]ActuatorEvent, len(events))
	for _, ev := range events {
		latest[ev.Kind] = ev
	}
	return latest, nil
}

// HealthCheck verifies the pool can reach the telemetry tables.
func (r *PostgresRepository) HealthCheck(ctx context.Context) error {
	var one int
	err := r.db.QueryRow(ctx, "SELECT 1 FROM sensor_data LIMIT 1").Scan(&one)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("telemetry store health check failed: %w", err)
	}
	return nil
}

func scanPgEvent(row pgx.CollectableRow) (ActuatorEvent, error) {
	var (
		ev     ActuatorEvent
		kind   string
		action string
	)
	err := row.Scan(&ev.ID, &kind, &action, &ev.Value, &ev.UserID, &ev.CreatedAt)
	ev.Kind = ActuatorKind(kind)
	ev.Action = Action(action)
	ev.CreatedAt = ev.CreatedAt.UTC()
	return ev, err
}

var _ Store = (*PostgresRepository)(nil)

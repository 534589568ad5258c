package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relicwatch/relicwatch/pkg/types"
	"github.com/relicwatch/relicwatch/server/internal/alerts"
)

const schema = `
CREATE TABLE IF NOT EXISTS alerts (
	id              UUID PRIMARY KEY,
	sensor_id       TEXT NOT NULL,
	sensor_type     TEXT NOT NULL,
	location_id     TEXT NOT NULL DEFAULT '',
	relics_id       TEXT NOT NULL DEFAULT '',
	alert_type      TEXT NOT NULL,
	severity        TEXT NOT NULL,
	message         TEXT NOT NULL,
	current_reading DOUBLE PRECISION NOT NULL,
	threshold_min   DOUBLE PRECISION NOT NULL,
	threshold_max   DOUBLE PRECISION NOT NULL,
	status          TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL,
	resolved_at     TIMESTAMPTZ,
	seq             BIGSERIAL
);
ALTER TABLE alerts ADD COLUMN IF NOT EXISTS seq BIGSERIAL;
CREATE INDEX IF NOT EXISTS alerts_sensor_type_status_idx ON alerts (sensor_id, alert_type, status);
DROP INDEX IF EXISTS alerts_created_at_idx;
CREATE INDEX IF NOT EXISTS alerts_created_at_seq_idx ON alerts (created_at DESC, seq DESC);
`

const insertColumns = `id, sensor_id, sensor_type, location_id, relics_id, alert_type, severity,
	message, current_reading, threshold_min, threshold_max, status, created_at, resolved_at`

const selectColumns = `id::text, sensor_id, sensor_type, location_id, relics_id, alert_type, severity,
	message, current_reading, threshold_min, threshold_max, status, created_at, resolved_at`

// Postgres is an alerts.Store backed by a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ alerts.Store = (*Postgres)(nil)

// NewPostgres connects to dsn, pings the database and applies the schema.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Close releases the pool.
func (s *Postgres) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// SaveAlert inserts a.
func (s *Postgres) SaveAlert(ctx context.Context, a types.Alert) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO alerts (`+insertColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		a.ID, a.SensorID, a.SensorType, a.LocationID, a.RelicsID, a.AlertType, a.Severity,
		a.Message, a.CurrentReading, a.Threshold.Min, a.Threshold.Max, string(a.Status),
		a.CreatedAt, a.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("store: insert alert: %w", err)
	}
	return nil
}

// filter renders the WHERE clause for q. q.Limit is not part of it.
func filter(q types.AlertQuery) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if q.SensorID != "" {
		add("sensor_id = $%d", q.SensorID)
	}
	if q.AlertType != "" {
		add("alert_type = $%d", q.AlertType)
	}
	if q.Status != "" {
		add("status = $%d", string(q.Status))
	}
	if !q.Start.IsZero() {
		add("created_at >= $%d", q.Start)
	}
	if !q.End.IsZero() {
		add("created_at <= $%d", q.End)
	}
	if len(where) == 0 {
		return "", nil
	}
	return ` WHERE ` + strings.Join(where, " AND "), args
}

// QueryAlerts returns the alerts matching q, newest first. Alerts created
// at the same instant come back in reverse insertion order.
func (s *Postgres) QueryAlerts(ctx context.Context, q types.AlertQuery) ([]types.Alert, error) {
	where, args := filter(q)
	sql := `SELECT ` + selectColumns + ` FROM alerts` + where + ` ORDER BY created_at DESC, seq DESC`
	if q.Limit > 0 {
		args = append(args, q.Limit)
		sql += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query alerts: %w", err)
	}
	defer rows.Close()

	var out []types.Alert
	for rows.Next() {
		var (
			a      types.Alert
			status string
		)
		if err := rows.Scan(&a.ID, &a.SensorID, &a.SensorType, &a.LocationID, &a.RelicsID,
			&a.AlertType, &a.Severity, &a.Message, &a.CurrentReading,
			&a.Threshold.Min, &a.Threshold.Max, &status, &a.CreatedAt, &a.ResolvedAt); err != nil {
			return nil, fmt.Errorf("store: scan alert: %w", err)
		}
		a.Status = types.AlertStatus(status)
		a.Threshold.SensorType = a.SensorType
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: query alerts: %w", err)
	}
	return out, nil
}

// CountAlerts returns the number of alerts matching q. q.Limit is ignored.
func (s *Postgres) CountAlerts(ctx context.Context, q types.AlertQuery) (int, error) {
	where, args := filter(q)
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM alerts`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("store: count alerts: %w", err)
	}
	return n, nil
}

// UpdateAlertStatus applies the lifecycle transition described on
// alerts.Store. resolved_at is only written when it is still NULL.
func (s *Postgres) UpdateAlertStatus(ctx context.Context, id string, status types.AlertStatus, resolvedAt time.Time) (alerts.Outcome, error) {
	switch status {
	case types.AlertResolved:
		tag, err := s.pool.Exec(ctx,
			`UPDATE alerts SET status = $2, resolved_at = $3 WHERE id::text = $1 AND resolved_at IS NULL`,
			id, string(types.AlertResolved), resolvedAt)
		if err != nil {
			return alerts.NotFound, fmt.Errorf("store: resolve alert: %w", err)
		}
		if tag.RowsAffected() > 0 {
			return alerts.Changed, nil
		}
		if _, err := s.status(ctx, id); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return alerts.NotFound, nil
			}
			return alerts.NotFound, err
		}
		return alerts.Unchanged, nil

	case types.AlertActive:
		current, err := s.status(ctx, id)
		if errors.Is(err, pgx.ErrNoRows) {
			return alerts.NotFound, nil
		}
		if err != nil {
			return alerts.NotFound, err
		}
		if current == types.AlertResolved {
			return alerts.NotFound, alerts.ErrInvalidTransition
		}
		return alerts.Unchanged, nil

	default:
		return alerts.NotFound, fmt.Errorf("%w: %q", alerts.ErrInvalidStatus, status)
	}
}

// status reads the current status of alert id. A missing row yields
// pgx.ErrNoRows unwrapped.
func (s *Postgres) status(ctx context.Context, id string) (types.AlertStatus, error) {
	var current string
	err := s.pool.QueryRow(ctx, `SELECT status FROM alerts WHERE id::text = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", err
	}
	if err != nil {
		return "", fmt.Errorf("store: read alert status: %w", err)
	}
	return types.AlertStatus(current), nil
}

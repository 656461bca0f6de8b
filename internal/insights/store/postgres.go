package store

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/barnapet/smartdrive/internal/pkg/model"
	"github.com/barnapet/smartdrive/pkg/log"
	"github.com/barnapet/smartdrive/pkg/options"
)

const schema = `
CREATE TABLE IF NOT EXISTS battery_insights (
	id                    UUID PRIMARY KEY,
	vin                   TEXT NOT NULL,
	event_time            TIMESTAMPTZ NOT NULL,
	created_at            TIMESTAMPTZ NOT NULL,
	health_status         TEXT NOT NULL,
	alerts                TEXT[] NOT NULL DEFAULT '{}',
	is_valid              BOOLEAN NOT NULL,
	soh                   DOUBLE PRECISION,
	soc_at_test           DOUBLE PRECISION NOT NULL,
	battery_vmin          DOUBLE PRECISION NOT NULL,
	fuel_type             TEXT NOT NULL,
	measured_temp         DOUBLE PRECISION NOT NULL,
	temp_source           TEXT NOT NULL,
	cold_start            BOOLEAN NOT NULL,
	confirmed_failure     BOOLEAN NOT NULL,
	winter_survival_alert BOOLEAN NOT NULL,
	forecast_min          DOUBLE PRECISION,
	UNIQUE (vin, event_time)
);
CREATE INDEX IF NOT EXISTS battery_insights_vin_event_time ON battery_insights (vin, event_time DESC);
`

// NewPool opens a connection pool and checks the database is reachable.
func NewPool(ctx context.Context, opts *options.PostgresOptions) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres dsn: %w", err)
	}
	config.MaxConns = opts.MaxConns
	config.MinConns = opts.MinConns
	config.MaxConnLifetime = opts.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("cannot reach postgres at %s: %w", maskPassword(opts.DSN), err)
	}
	log.Info("Connected to postgres", "dsn", maskPassword(opts.DSN))
	return pool, nil
}

// maskPassword hides the password of a postgres:// URL. Key/value DSNs are
// reduced to their host.
func maskPassword(dsn string) string {
	if dsn == "" {
		return "<empty>"
	}
	u, err := url.Parse(dsn)
	if err != nil || u.Host == "" {
		if cfg, perr := pgx.ParseConfig(dsn); perr == nil {
			return fmt.Sprintf("host=%s dbname=%s", cfg.Host, cfg.Database)
		}
		return "<unparseable>"
	}
	return u.Redacted()
}

// Postgres is the InsightStore backed by a battery_insights table.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ InsightStore = (*Postgres)(nil)

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// EnsureSchema creates the table and its index when missing.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create insight schema: %w", err)
	}
	return nil
}

func (p *Postgres) Save(ctx context.Context, v *model.BatteryVerdict) (bool, error) {
	query := `
		INSERT INTO battery_insights (
			id, vin, event_time, created_at, health_status, alerts, is_valid,
			soh, soc_at_test, battery_vmin, fuel_type, measured_temp, temp_source,
			cold_start, confirmed_failure, winter_survival_alert, forecast_min
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (vin, event_time) DO NOTHING
	`

	alerts := v.Alerts
	if alerts == nil {
		alerts = []string{}
	}
	tag, err := p.pool.Exec(ctx, query,
		v.ID,
		v.VIN,
		v.EventTime,
		v.CreatedAt,
		string(v.Status),
		alerts,
		v.IsValid,
		v.SOH,
		v.SOC,
		v.Vmin,
		string(v.FuelType),
		v.MeasuredTemp,
		string(v.TempSource),
		v.ColdStart,
		v.ConfirmedFailure,
		v.WinterSurvivalAlert,
		v.ForecastMin,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert verdict: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (p *Postgres) GetRecent(ctx context.Context, vin string, before time.Time, limit int) ([]*model.BatteryVerdict, error) {
	query := `
		SELECT id::text, vin, event_time, created_at, health_status, alerts, is_valid,
			soh, soc_at_test, battery_vmin, fuel_type, measured_temp, temp_source,
			cold_start, confirmed_failure, winter_survival_alert, forecast_min
		FROM battery_insights
		WHERE vin = $1 AND ($2::timestamptz IS NULL OR event_time < $2)
		ORDER BY event_time DESC
		LIMIT $3
	`

	var upper *time.Time
	if !before.IsZero() {
		upper = &before
	}
	rows, err := p.pool.Query(ctx, query, vin, upper, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query verdicts: %w", err)
	}
	defer rows.Close()

	var out []*model.BatteryVerdict
	for rows.Next() {
		var (
			v                            model.BatteryVerdict
			status, fuelType, tempSource string
		)
		if err := rows.Scan(
			&v.ID,
			&v.VIN,
			&v.EventTime,
			&v.CreatedAt,
			&status,
			&v.Alerts,
			&v.IsValid,
			&v.SOH,
			&v.SOC,
			&v.Vmin,
			&fuelType,
			&v.MeasuredTemp,
			&tempSource,
			&v.ColdStart,
			&v.ConfirmedFailure,
			&v.WinterSurvivalAlert,
			&v.ForecastMin,
		); err != nil {
			return nil, fmt.Errorf("failed to scan verdict: %w", err)
		}
		v.Status = model.HealthStatus(status)
		v.FuelType = model.FuelType(fuelType)
		v.TempSource = model.TempSource(tempSource)
		out = append(out, &v)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to read verdicts: %w", err)
	}
	return out, nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

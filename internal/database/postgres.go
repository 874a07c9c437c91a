// Package database persists vehicles, dealers, listings and import runs in
// PostgreSQL, and provides an in-memory store with the same behavior for dry
// runs and tests.
package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/carvalue/internal/config"
	"github.com/JonMunkholm/carvalue/internal/core"
)

// Connect opens a connection pool sized from cfg and verifies it with a ping.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if u, err := url.Parse(cfg.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	} else {
		slog.Info("connected to database")
	}
	return pool, nil
}

// PostgresStore implements core.Store on a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ core.Store = (*PostgresStore)(nil)

// NewPostgresStore wraps pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks the pool can reach the server.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// ----------------------------------------------------------------------------
// Import side
// ----------------------------------------------------------------------------

const findDealerSQL = `
SELECT id FROM dealers
WHERE name = $1
  AND street  IS NOT DISTINCT FROM $2
  AND city    IS NOT DISTINCT FROM $3
  AND state   IS NOT DISTINCT FROM $4
  AND zip     IS NOT DISTINCT FROM $5
  AND website IS NOT DISTINCT FROM $6
LIMIT 1`

const insertDealerSQL = `
INSERT INTO dealers (name, street, city, state, zip, website)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id`

// FindOrCreateDealer looks the dealer up by its six identity fields, with
// NULL matching NULL, and inserts it when absent.
func (s *PostgresStore) FindOrCreateDealer(ctx context.Context, key core.DealerKey) (core.Dealer, error) {
	key = key.Normalize()
	args := []any{key.Name, key.Street, key.City, key.State, key.Zip, key.Website}

	var id int64
	err := s.pool.QueryRow(ctx, findDealerSQL, args...).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		err = s.pool.QueryRow(ctx, insertDealerSQL, args...).Scan(&id)
	}
	if err != nil {
		return core.Dealer{}, err
	}
	return core.Dealer{ID: id, DealerKey: key}, nil
}

const insertVehicleSQL = `
INSERT INTO vehicles (vin, year, make, model, trim, style, driven_wheels, engine, fuel_type, exterior_color, interior_color)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (vin) DO NOTHING`

const selectVehicleSQL = `
SELECT vin, year, make, model, trim, style, driven_wheels, engine, fuel_type, exterior_color, interior_color
FROM vehicles WHERE vin = $1`

// GetOrCreateVehicle inserts v unless its VIN is already stored, then returns
// the stored vehicle. The first row seen for a VIN fixes its attributes.
func (s *PostgresStore) GetOrCreateVehicle(ctx context.Context, v core.Vehicle) (core.Vehicle, error) {
	_, err := s.pool.Exec(ctx, insertVehicleSQL,
		v.VIN, v.Year, v.Make, v.Model, v.Trim, v.Style,
		v.DrivenWheels, v.Engine, v.FuelType, v.ExteriorColor, v.InteriorColor,
	)
	if err != nil {
		return core.Vehicle{}, err
	}

	var stored core.Vehicle
	err = s.pool.QueryRow(ctx, selectVehicleSQL, v.VIN).Scan(
		&stored.VIN, &stored.Year, &stored.Make, &stored.Model, &stored.Trim, &stored.Style,
		&stored.DrivenWheels, &stored.Engine, &stored.FuelType, &stored.ExteriorColor, &stored.InteriorColor,
	)
	if err != nil {
		return core.Vehicle{}, err
	}
	return stored, nil
}

var listingColumns = []string{
	"vin", "dealer_id", "price", "mileage", "used", "certified",
	"first_seen", "last_seen", "listing_status",
}

// InsertListings copies one batch into listings inside a transaction, so a
// batch is either fully stored or not at all.
func (s *PostgresStore) InsertListings(ctx context.Context, listings []core.Listing) error {
	if len(listings) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	n, err := tx.CopyFrom(ctx, pgx.Identifier{"listings"}, listingColumns,
		pgx.CopyFromSlice(len(listings), func(i int) ([]any, error) {
			l := listings[i]
			return []any{
				l.VIN, l.DealerID, numericFromDecimal(l.Price), l.Mileage,
				l.Used, l.Certified, l.FirstSeen, l.LastSeen, l.Status,
			}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copy listings: %w", err)
	}
	if int(n) != len(listings) {
		return fmt.Errorf("copied %d of %d listings", n, len(listings))
	}
	return tx.Commit(ctx)
}

// ----------------------------------------------------------------------------
// Valuation side
// ----------------------------------------------------------------------------

const comparablesSQL = `
SELECT l.id, l.vin, l.dealer_id, l.price, l.mileage, l.used, l.certified,
       l.first_seen, l.last_seen, l.listing_status,
       v.year, v.make, v.model, v.trim, v.style, v.driven_wheels, v.engine,
       v.fuel_type, v.exterior_color, v.interior_color,
       d.name, d.street, d.city, d.state, d.zip, d.website
FROM listings l
JOIN vehicles v ON v.vin = l.vin
LEFT JOIN dealers d ON d.id = l.dealer_id
WHERE v.year = $1 AND v.make = $2 AND v.model = $3
  AND l.price IS NOT NULL
  AND l.mileage IS NOT NULL
  AND ($4::text[] IS NULL OR l.listing_status = ANY($4))
ORDER BY l.price, l.id`

// Comparables returns the priced listings with mileage for one
// (year, make, model), cheapest first.
func (s *PostgresStore) Comparables(ctx context.Context, q core.ComparableQuery) ([]core.ComparableRow, error) {
	var statuses []string
	if len(q.Statuses) > 0 {
		statuses = q.Statuses
	}

	rows, err := s.pool.Query(ctx, comparablesSQL, q.Year, q.Make, q.Model, statuses)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []core.ComparableRow
	for rows.Next() {
		row, err := scanComparable(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

func scanComparable(rows pgx.Rows) (core.ComparableRow, error) {
	var (
		row        core.ComparableRow
		price      pgtype.Numeric
		dealerName pgtype.Text
		dealer     core.Dealer
	)
	l, v := &row.Listing, &row.Vehicle

	err := rows.Scan(
		&l.ID, &l.VIN, &l.DealerID, &price, &l.Mileage, &l.Used, &l.Certified,
		&l.FirstSeen, &l.LastSeen, &l.Status,
		&v.Year, &v.Make, &v.Model, &v.Trim, &v.Style, &v.DrivenWheels, &v.Engine,
		&v.FuelType, &v.ExteriorColor, &v.InteriorColor,
		&dealerName, &dealer.Street, &dealer.City, &dealer.State, &dealer.Zip, &dealer.Website,
	)
	if err != nil {
		return core.ComparableRow{}, err
	}

	v.VIN = l.VIN
	if l.Price, err = decimalFromNumeric(price); err != nil {
		return core.ComparableRow{}, fmt.Errorf("listing %d price: %w", l.ID, err)
	}
	if l.DealerID.Valid && dealerName.Valid {
		dealer.ID = l.DealerID.Int64
		dealer.Name = dealerName.String
		row.Dealer = &dealer
	}
	return row, nil
}

// ----------------------------------------------------------------------------
// Import history
// ----------------------------------------------------------------------------

const insertRunSQL = `
INSERT INTO import_runs (
    id, source, source_label, requested_by, dry_run, batch_size,
    started_at, finished_at, status, error,
    total_rows, inserted_rows, skipped_rows, skipped_reasons
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

// RecordImportRun stores the outcome of one run.
func (s *PostgresStore) RecordImportRun(ctx context.Context, run core.ImportRun) error {
	stats := run.Stats
	if stats == nil {
		stats = core.NewImportStats()
	}
	reasons, err := json.Marshal(stats.SkippedReasons)
	if err != nil {
		return fmt.Errorf("encode skipped reasons: %w", err)
	}

	var runErr pgtype.Text
	if run.Error != "" {
		runErr = pgtype.Text{String: run.Error, Valid: true}
	}

	_, err = s.pool.Exec(ctx, insertRunSQL,
		pgtype.UUID{Bytes: run.ID, Valid: true}, run.Source, run.SourceLabel, run.RequestedBy,
		run.DryRun, run.BatchSize, run.StartedAt, run.FinishedAt, string(run.Status), runErr,
		stats.TotalRows, stats.InsertedRows, stats.SkippedRows, reasons,
	)
	return err
}

const listRunsSQL = `
SELECT id, source, source_label, requested_by, dry_run, batch_size,
       started_at, finished_at, status, error,
       total_rows, inserted_rows, skipped_rows, skipped_reasons
FROM import_runs
ORDER BY started_at DESC
LIMIT $1`

// ListImportRuns returns up to limit runs, newest first. Per-row skip
// details are not persisted, so SkippedDetails is always empty.
func (s *PostgresStore) ListImportRuns(ctx context.Context, limit int) ([]core.ImportRun, error) {
	rows, err := s.pool.Query(ctx, listRunsSQL, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []core.ImportRun{}
	for rows.Next() {
		var (
			run     core.ImportRun
			id      pgtype.UUID
			status  string
			runErr  pgtype.Text
			reasons []byte
			stats   = core.NewImportStats()
		)
		err := rows.Scan(
			&id, &run.Source, &run.SourceLabel, &run.RequestedBy, &run.DryRun, &run.BatchSize,
			&run.StartedAt, &run.FinishedAt, &status, &runErr,
			&stats.TotalRows, &stats.InsertedRows, &stats.SkippedRows, &reasons,
		)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(reasons, &stats.SkippedReasons); err != nil {
			return nil, fmt.Errorf("decode skipped reasons: %w", err)
		}
		run.ID = uuid.UUID(id.Bytes)
		run.Status = core.ImportRunStatus(status)
		run.Error = runErr.String
		run.Stats = stats
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

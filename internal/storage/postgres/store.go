// Package postgres persists published package projections so the dashboard
// can query them with SQL instead of replaying chain logs.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"supplytrace/internal/model"
)

// Store provides Postgres persistence for package projections.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// UpsertPackages inserts or updates the projections for one contract.
func (s *Store) UpsertPackages(ctx context.Context, contractAddress string, packages []model.Package) error {
	if len(packages) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, pkg := range packages {
		batch.Queue(`
			INSERT INTO packages (
				contract_address, package_id, numeric_id, description, category,
				origin, destination, quantity, handler, notes, expected_date,
				temperature_requirement, current_owner, status,
				temperature_reading, created_at_ts, last_updated_ts,
				created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,now(),now())
			ON CONFLICT (contract_address, package_id)
			DO UPDATE SET
				current_owner = EXCLUDED.current_owner,
				status = EXCLUDED.status,
				temperature_reading = EXCLUDED.temperature_reading,
				last_updated_ts = EXCLUDED.last_updated_ts,
				updated_at = now()
		`,
			contractAddress,
			pkg.ID,
			int64(pkg.NumericID),
			pkg.Description,
			pkg.Category,
			pkg.Origin,
			pkg.Destination,
			pkg.Quantity,
			pkg.Handler,
			pkg.Notes,
			pkg.ExpectedDate,
			pkg.TemperatureRequirement,
			pkg.CurrentOwner,
			pkg.Status.String(),
			pkg.TemperatureReading,
			int64(pkg.CreatedAt),
			int64(pkg.LastUpdated),
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range packages {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

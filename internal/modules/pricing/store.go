// README: Pricing store backed by PostgreSQL.
package pricing

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNoRate = errors.New("no active rate for zone")

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// GetRate resolves the active rate for a zone, preferring a category-specific
// row over the zone default.
func (s *Store) GetRate(ctx context.Context, zoneID, category string) (Rate, error) {
	row := s.db.QueryRow(ctx, `
		SELECT zone_id, COALESCE(vehicle_category_id, ''), base_fare, per_km, minimum_fare, currency
		FROM rates
		WHERE zone_id = $1
		  AND is_active
		  AND (vehicle_category_id = $2 OR vehicle_category_id IS NULL)
		ORDER BY vehicle_category_id NULLS LAST
		LIMIT 1`, zoneID, category,
	)

	var r Rate
	var cat sql.NullString
	err := row.Scan(&r.ZoneID, &cat, &r.BaseFare, &r.PerKm, &r.MinimumFare, &r.Currency)
	if errors.Is(err, pgx.ErrNoRows) {
		return Rate{}, ErrNoRate
	}
	if err != nil {
		return Rate{}, err
	}
	if cat.Valid {
		r.VehicleCategory = cat.String
	}
	return r, nil
}

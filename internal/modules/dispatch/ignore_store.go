// README: Durable ignore records: driver declined a request, never re-offer.
package dispatch

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"smartline/internal/types"
)

type IgnoreStore struct {
	db *pgxpool.Pool
}

func NewIgnoreStore(db *pgxpool.Pool) *IgnoreStore {
	return &IgnoreStore{db: db}
}

// Add records a decline. Duplicate declines are a no-op.
func (s *IgnoreStore) Add(ctx context.Context, tripID, driverID types.ID) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO ignored_requests (trip_request_id, driver_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`,
		string(tripID), string(driverID),
	)
	return err
}

// IgnoredSet resolves all drivers who declined a request, for filter input.
func (s *IgnoreStore) IgnoredSet(ctx context.Context, tripID types.ID) (map[types.ID]bool, error) {
	rows, err := s.db.Query(ctx, `
		SELECT driver_id FROM ignored_requests WHERE trip_request_id = $1`,
		string(tripID),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[types.ID]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[types.ID(id)] = true
	}
	return out, rows.Err()
}

// ClearForTrip wipes ignore records, used by admin tooling to re-open a request.
func (s *IgnoreStore) ClearForTrip(ctx context.Context, tripID types.ID) error {
	_, err := s.db.Exec(ctx, `
		DELETE FROM ignored_requests WHERE trip_request_id = $1`, string(tripID))
	return err
}

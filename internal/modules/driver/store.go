// README: Driver profile store backed by PostgreSQL.
package driver

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"smartline/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const profileColumns = `
	user_id, zone_id, availability_status, travel_status, category_level,
	vehicle_categories, is_online, is_active, ride_count, parcel_count,
	fcm_token, updated_at`

func (s *Store) Get(ctx context.Context, id types.ID) (*Profile, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+profileColumns+`
		FROM driver_details
		WHERE user_id = $1`, string(id),
	)
	return scanProfile(row)
}

// GetMany loads profiles for a candidate batch in one round trip, keyed by ID.
func (s *Store) GetMany(ctx context.Context, ids []types.ID) (map[types.ID]*Profile, error) {
	if len(ids) == 0 {
		return map[types.ID]*Profile{}, nil
	}
	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = string(id)
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+profileColumns+`
		FROM driver_details
		WHERE user_id = ANY($1)`, raw,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[types.ID]*Profile, len(ids))
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out[p.UserID] = p
	}
	return out, rows.Err()
}

func (s *Store) SetAvailability(ctx context.Context, id types.ID, a Availability) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE driver_details
		SET availability_status = $1, updated_at = NOW()
		WHERE user_id = $2`, string(a), string(id),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) SetOnline(ctx context.Context, id types.ID, online bool) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE driver_details
		SET is_online = $1, updated_at = NOW()
		WHERE user_id = $2`, online, string(id),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() != 1 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) SetFCMToken(ctx context.Context, id types.ID, token string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE driver_details
		SET fcm_token = $1, updated_at = NOW()
		WHERE user_id = $2`, token, string(id),
	)
	return err
}

// setTravelStatus is a compare-and-set on the enrolment state so concurrent
// admin decisions or duplicate submissions cannot clobber each other.
func (s *Store) setTravelStatus(ctx context.Context, id types.ID, from []TravelStatus, to TravelStatus) (bool, error) {
	states := make([]string, len(from))
	for i, f := range from {
		states[i] = string(f)
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE driver_details
		SET travel_status = $1, updated_at = NOW()
		WHERE user_id = $2 AND travel_status = ANY($3)`,
		string(to), string(id), states,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// FCMTokens resolves push tokens for a set of drivers, skipping empty ones.
func (s *Store) FCMTokens(ctx context.Context, ids []types.ID) (map[types.ID]string, error) {
	if len(ids) == 0 {
		return map[types.ID]string{}, nil
	}
	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = string(id)
	}
	rows, err := s.db.Query(ctx, `
		SELECT user_id, fcm_token
		FROM driver_details
		WHERE user_id = ANY($1) AND fcm_token IS NOT NULL AND fcm_token <> ''`, raw,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[types.ID]string)
	for rows.Next() {
		var id, token string
		if err := rows.Scan(&id, &token); err != nil {
			return nil, err
		}
		out[types.ID(id)] = token
	}
	return out, rows.Err()
}

func scanProfile(row interface{ Scan(...any) error }) (*Profile, error) {
	var p Profile
	var cats []string
	var token sql.NullString
	err := row.Scan(
		&p.UserID, &p.ZoneID, &p.Availability, &p.TravelStatus, &p.CategoryLevel,
		&cats, &p.Online, &p.Active, &p.RideCount, &p.ParcelCount,
		&token, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.Categories = make([]types.ID, len(cats))
	for i, c := range cats {
		p.Categories[i] = types.ID(c)
	}
	if token.Valid {
		p.FCMToken = token.String
	}
	return &p, nil
}

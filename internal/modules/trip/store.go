// README: Trip store backed by PostgreSQL; owns the row-locked assignment transaction.
package trip

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

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

const tripColumns = `
	t.id, t.customer_id, t.driver_id, t.vehicle_category_id, t.zone_id, t.type,
	t.current_status, t.version, t.estimated_fare, t.actual_fare, t.otp,
	t.created_at, t.dispatched_at, t.accepted_at,
	t.passengers, t.luggage, t.travel_date,
	c.pickup_lat, c.pickup_lng, c.dest_lat, c.dest_lng,
	c.pickup_address, c.dest_address, c.drop_lat, c.drop_lng`

func (s *Store) Create(ctx context.Context, t *Trip) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO trip_requests (
			id, customer_id, vehicle_category_id, zone_id, type,
			current_status, version, estimated_fare, created_at,
			passengers, luggage, travel_date
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		string(t.ID), string(t.CustomerID), idPtr(t.VehicleCategory), string(t.ZoneID),
		string(t.Type), string(t.Status), t.Version, t.EstimatedFare.Amount, t.CreatedAt,
		t.Passengers, t.Luggage, t.TravelDate,
	)
	if err != nil {
		return fmt.Errorf("insert trip: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO trip_coordinates (
			trip_request_id, pickup_lat, pickup_lng, dest_lat, dest_lng,
			pickup_address, dest_address
		) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		string(t.ID), t.Pickup.Lat, t.Pickup.Lng, t.Destination.Lat, t.Destination.Lng,
		t.PickupAddress, t.DestAddress,
	)
	if err != nil {
		return fmt.Errorf("insert coordinates: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Trip, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+tripColumns+`
		FROM trip_requests t
		JOIN trip_coordinates c ON c.trip_request_id = t.id
		WHERE t.id = $1`, string(id),
	)
	return scanTrip(row)
}

// AssignDriver is the exclusive-assignment transaction. The trip row is locked
// FOR UPDATE, status and driver_id are re-checked under the lock, and the driver
// row is locked and re-checked before both are mutated. At most one concurrent
// attempt commits; all others observe AlreadyTaken or Ineligible.
func (s *Store) AssignDriver(ctx context.Context, tripID, driverID types.ID, otp string) (Outcome, *Trip, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return "", nil, err
	}
	defer tx.Rollback(ctx)

	var curStatus string
	var curDriver sql.NullString
	var tripType string
	err = tx.QueryRow(ctx, `
		SELECT current_status, driver_id, type
		FROM trip_requests
		WHERE id = $1
		FOR UPDATE`, string(tripID),
	).Scan(&curStatus, &curDriver, &tripType)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil, ErrNotFound
	}
	if err != nil {
		return "", nil, err
	}

	// Idempotent re-accept by the already assigned driver is still a losing
	// outcome for the caller: nothing changes.
	if curDriver.Valid || Status(curStatus) != StatusPending {
		return OutcomeAlreadyTaken, nil, nil
	}

	var availability string
	err = tx.QueryRow(ctx, `
		SELECT availability_status
		FROM driver_details
		WHERE user_id = $1
		FOR UPDATE`, string(driverID),
	).Scan(&availability)
	if errors.Is(err, pgx.ErrNoRows) {
		return OutcomeIneligible, nil, nil
	}
	if err != nil {
		return "", nil, err
	}
	if availability != "available" {
		return OutcomeIneligible, nil, nil
	}

	now := time.Now().UTC()
	_, err = tx.Exec(ctx, `
		UPDATE trip_requests
		SET driver_id = $1,
		    current_status = $2,
		    accepted_at = $3,
		    otp = $4,
		    version = version + 1
		WHERE id = $5`,
		string(driverID), string(StatusAccepted), now, otp, string(tripID),
	)
	if err != nil {
		return "", nil, err
	}

	if Type(tripType) == TypeParcel {
		_, err = tx.Exec(ctx, `
			UPDATE driver_details
			SET parcel_count = parcel_count + 1, updated_at = $1
			WHERE user_id = $2`, now, string(driverID))
	} else {
		_, err = tx.Exec(ctx, `
			UPDATE driver_details
			SET availability_status = 'on_trip', ride_count = 1, updated_at = $1
			WHERE user_id = $2`, now, string(driverID))
	}
	if err != nil {
		return "", nil, err
	}

	if err := appendLog(ctx, tx, &StatusLog{
		TripID:     tripID,
		FromStatus: StatusPending,
		ToStatus:   StatusAccepted,
		ActorType:  "driver",
		ActorID:    &driverID,
		CreatedAt:  now,
	}); err != nil {
		return "", nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return "", nil, err
	}

	t, err := s.Get(ctx, tripID)
	if err != nil {
		return OutcomeAssigned, nil, err
	}
	return OutcomeAssigned, t, nil
}

// transition describes one state-machine step plus its storage side effects.
type transition struct {
	TripID       types.ID
	From         Status
	To           Status
	Version      int
	ActorType    string
	ActorID      *types.ID
	CancelReason string
	NewOTP       string
	DropPoint    *types.Point
	ActualFare   *int64
	ResetDriver  *types.ID // reset availability + counters for this driver
	TripType     Type
}

// applyTransition commits a validated transition with compare-and-set semantics:
// the UPDATE only matches if status and version are unchanged since the caller
// read the trip. A zero rows-affected result means a concurrent writer won.
func (s *Store) applyTransition(ctx context.Context, tr transition) (bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	tag, err := tx.Exec(ctx, `
		UPDATE trip_requests
		SET current_status = $1,
		    version = version + 1,
		    actual_fare = COALESCE($2, actual_fare),
		    cancel_reason = COALESCE(NULLIF($3, ''), cancel_reason),
		    otp = COALESCE(NULLIF($4, ''), otp)
		WHERE id = $5 AND current_status = $6 AND version = $7`,
		string(tr.To), tr.ActualFare, tr.CancelReason, tr.NewOTP,
		string(tr.TripID), string(tr.From), tr.Version,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}

	if tr.DropPoint != nil {
		if _, err := tx.Exec(ctx, `
			UPDATE trip_coordinates
			SET drop_lat = $1, drop_lng = $2
			WHERE trip_request_id = $3`,
			tr.DropPoint.Lat, tr.DropPoint.Lng, string(tr.TripID),
		); err != nil {
			return false, err
		}
	}

	if tr.ResetDriver != nil {
		if tr.TripType == TypeParcel {
			_, err = tx.Exec(ctx, `
				UPDATE driver_details
				SET parcel_count = GREATEST(parcel_count - 1, 0), updated_at = $1
				WHERE user_id = $2`, now, string(*tr.ResetDriver))
		} else {
			_, err = tx.Exec(ctx, `
				UPDATE driver_details
				SET availability_status = 'available', ride_count = 0, updated_at = $1
				WHERE user_id = $2`, now, string(*tr.ResetDriver))
		}
		if err != nil {
			return false, err
		}
	}

	if err := appendLog(ctx, tx, &StatusLog{
		TripID:     tr.TripID,
		FromStatus: tr.From,
		ToStatus:   tr.To,
		ActorType:  tr.ActorType,
		ActorID:    tr.ActorID,
		CreatedAt:  now,
	}); err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

// MarkDispatched stamps dispatched_at once; re-dispatch keeps the original clock.
func (s *Store) MarkDispatched(ctx context.Context, id types.ID, at time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE trip_requests
		SET dispatched_at = $1
		WHERE id = $2 AND dispatched_at IS NULL`,
		at, string(id),
	)
	return err
}

// ListDispatchTimedOut returns pending trips whose dispatch clock started before
// the cutoff, oldest first. The supervisor expires them one by one.
func (s *Store) ListDispatchTimedOut(ctx context.Context, travel bool, cutoff time.Time, limit int) ([]*Trip, error) {
	typeCond := "t.type <> 'travel'"
	if travel {
		typeCond = "t.type = 'travel'"
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+tripColumns+`
		FROM trip_requests t
		JOIN trip_coordinates c ON c.trip_request_id = t.id
		WHERE t.current_status = 'pending'
		  AND t.driver_id IS NULL
		  AND t.dispatched_at IS NOT NULL
		  AND t.dispatched_at < $1
		  AND `+typeCond+`
		ORDER BY t.dispatched_at ASC
		LIMIT $2`, cutoff, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTrips(rows)
}

// PendingQuery carries the per-driver predicates for the authoritative poll path.
type PendingQuery struct {
	DriverID           types.ID
	ZoneID             types.ID
	Categories         []types.ID
	Location           types.Point
	RadiusMeters       float64
	RideCount          int
	ParcelCount        int
	ParcelFollowStatus bool
	MaxParcelAccept    int
	MaxParcelEnabled   bool
	Limit              int
	Offset             int
}

// ListPendingForDriver is the pull channel: it re-evaluates the same predicates
// the push dispatch applies, so a driver that missed every notification can still
// recover the full eligible backlog. Distance uses a spherical-law-of-cosines
// expression so the strict < radius cut happens in SQL, matching the geo index.
func (s *Store) ListPendingForDriver(ctx context.Context, q PendingQuery) ([]*Trip, error) {
	cats := make([]string, len(q.Categories))
	for i, c := range q.Categories {
		cats[i] = string(c)
	}

	// Asymmetric ride/parcel quota: a driver already carrying a ride sees no
	// further ride requests, and sees parcels only when follow-ups are enabled;
	// parcel volume is capped when configured.
	rideCond := `(t.type = 'parcel' OR $8 < 1)`
	quotaCond := `(t.type <> 'parcel' OR $7::bool OR $8 < 1)`
	parcelCap := `(t.type <> 'parcel' OR NOT $9::bool OR $10 < $11)`

	rows, err := s.db.Query(ctx, `
		SELECT `+tripColumns+`
		FROM trip_requests t
		JOIN trip_coordinates c ON c.trip_request_id = t.id
		WHERE t.current_status = 'pending'
		  AND t.driver_id IS NULL
		  AND t.zone_id = $1
		  AND t.type <> 'travel'
		  AND (t.vehicle_category_id IS NULL OR t.vehicle_category_id = ANY($2))
		  AND NOT EXISTS (
		      SELECT 1 FROM ignored_requests ir
		      WHERE ir.trip_request_id = t.id AND ir.driver_id = $3
		  )
		  AND `+rideCond+`
		  AND `+quotaCond+`
		  AND `+parcelCap+`
		  AND (
		      6371000 * acos(
		          LEAST(1.0,
		              cos(radians($4)) * cos(radians(c.pickup_lat)) *
		              cos(radians(c.pickup_lng) - radians($5)) +
		              sin(radians($4)) * sin(radians(c.pickup_lat))
		          )
		      )
		  ) < $6
		ORDER BY t.created_at ASC
		LIMIT $12 OFFSET $13`,
		string(q.ZoneID), cats, string(q.DriverID),
		q.Location.Lat, q.Location.Lng, q.RadiusMeters,
		q.ParcelFollowStatus, q.RideCount,
		q.MaxParcelEnabled, q.ParcelCount, q.MaxParcelAccept,
		q.Limit, q.Offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTrips(rows)
}

func (s *Store) HasActiveByCustomer(ctx context.Context, customerID types.ID) (bool, error) {
	row := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM trip_requests
			WHERE customer_id = $1
			  AND current_status IN ('pending','accepted','ongoing')
		)`, string(customerID),
	)
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// ActiveByDriver returns the driver's in-flight trip, or ErrNotFound.
func (s *Store) ActiveByDriver(ctx context.Context, driverID types.ID) (*Trip, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+tripColumns+`
		FROM trip_requests t
		JOIN trip_coordinates c ON c.trip_request_id = t.id
		WHERE t.driver_id = $1
		  AND t.current_status IN ('accepted','ongoing','returning')
		LIMIT 1`, string(driverID),
	)
	return scanTrip(row)
}

func (s *Store) StatusLogs(ctx context.Context, tripID types.ID) ([]StatusLog, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, trip_request_id, from_status, to_status, actor_type, actor_id, created_at
		FROM trip_status_logs
		WHERE trip_request_id = $1
		ORDER BY id ASC`, string(tripID),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []StatusLog
	for rows.Next() {
		var l StatusLog
		var actorID sql.NullString
		if err := rows.Scan(&l.ID, &l.TripID, &l.FromStatus, &l.ToStatus, &l.ActorType, &actorID, &l.CreatedAt); err != nil {
			return nil, err
		}
		if actorID.Valid {
			id := types.ID(actorID.String)
			l.ActorID = &id
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

func appendLog(ctx context.Context, tx pgx.Tx, l *StatusLog) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO trip_status_logs (
			trip_request_id, from_status, to_status, actor_type, actor_id, created_at
		) VALUES ($1,$2,$3,$4,$5,$6)`,
		string(l.TripID), string(l.FromStatus), string(l.ToStatus),
		l.ActorType, idPtr(l.ActorID), l.CreatedAt,
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrip(row rowScanner) (*Trip, error) {
	var t Trip
	var driverID, category, otp sql.NullString
	var actualFare sql.NullInt64
	var dispatchedAt, acceptedAt, travelDate sql.NullTime
	var dropLat, dropLng sql.NullFloat64

	err := row.Scan(
		&t.ID, &t.CustomerID, &driverID, &category, &t.ZoneID, &t.Type,
		&t.Status, &t.Version, &t.EstimatedFare.Amount, &actualFare, &otp,
		&t.CreatedAt, &dispatchedAt, &acceptedAt,
		&t.Passengers, &t.Luggage, &travelDate,
		&t.Pickup.Lat, &t.Pickup.Lng, &t.Destination.Lat, &t.Destination.Lng,
		&t.PickupAddress, &t.DestAddress, &dropLat, &dropLng,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if driverID.Valid {
		d := types.ID(driverID.String)
		t.DriverID = &d
	}
	if category.Valid {
		c := types.ID(category.String)
		t.VehicleCategory = &c
	}
	if otp.Valid {
		t.OTP = otp.String
	}
	if actualFare.Valid {
		v := types.Money{Amount: actualFare.Int64, Currency: t.EstimatedFare.Currency}
		t.ActualFare = &v
	}
	if dispatchedAt.Valid {
		at := dispatchedAt.Time
		t.DispatchedAt = &at
	}
	if travelDate.Valid {
		d := travelDate.Time
		t.TravelDate = &d
	}
	if acceptedAt.Valid {
		at := acceptedAt.Time
		t.AcceptedAt = &at
	}
	if dropLat.Valid && dropLng.Valid {
		p := types.Point{Lat: dropLat.Float64, Lng: dropLng.Float64}
		t.DropPoint = &p
	}
	return &t, nil
}

func scanTrips(rows pgx.Rows) ([]*Trip, error) {
	var trips []*Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		trips = append(trips, t)
	}
	return trips, rows.Err()
}

func idPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

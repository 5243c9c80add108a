package storage

import (
	"database/sql"
	"time"

	_ "github.com/lib/pq"

	"github.com/consultora1700/mubitt-san-juan/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) SaveTrip(t *models.Trip) error {
	_, err := p.db.Exec(`INSERT INTO trips(
		id, passenger_id, driver_id, pickup_lat, pickup_lon, dropoff_lat, dropoff_lon,
		status, vehicle_class, payment_ref, distance_km, duration_min,
		base_fare, distance_fare, time_fare, surge_factor, estimated_total, actual_fare,
		rating, feedback, created_at, assigned_at, arriving_at, started_at, completed_at, cancelled_at
	) VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26)`,
		t.ID, t.Request.PassengerID, nullStr(t.DriverID),
		t.Request.Pickup.Lat, t.Request.Pickup.Lon, t.Request.Dropoff.Lat, t.Request.Dropoff.Lon,
		string(t.Status), string(t.Request.Class), t.Request.PaymentRef, t.DistanceKm, t.DurationMin,
		t.Estimated.Base, t.Estimated.DistanceFare, t.Estimated.TimeFare, t.Estimated.SurgeFactor, t.Estimated.Total,
		nullFloat(t.ActualFare), nullInt(t.Rating), nullStr(t.Feedback),
		t.CreatedAt, nullTime(t.AssignedAt), nullTime(t.ArrivingAt), nullTime(t.StartedAt), nullTime(t.CompletedAt), nullTime(t.CancelledAt))
	return err
}

func (p *PostgresStore) UpdateTrip(t *models.Trip) error {
	_, err := p.db.Exec(`UPDATE trips SET
		driver_id=$1, status=$2, actual_fare=$3, rating=$4, feedback=$5,
		assigned_at=$6, arriving_at=$7, started_at=$8, completed_at=$9, cancelled_at=$10
	WHERE id=$11`,
		nullStr(t.DriverID), string(t.Status), nullFloat(t.ActualFare), nullInt(t.Rating), nullStr(t.Feedback),
		nullTime(t.AssignedAt), nullTime(t.ArrivingAt), nullTime(t.StartedAt), nullTime(t.CompletedAt), nullTime(t.CancelledAt),
		t.ID)
	return err
}

func (p *PostgresStore) GetTrip(id string) (*models.Trip, error) {
	row := p.db.QueryRow(selectTrip+` WHERE id=$1`, id)
	t, err := scanTrip(row)
	if err == sql.ErrNoRows {
		return nil, models.ErrTripNotFound
	}
	return t, err
}

func (p *PostgresStore) ListTripsByPassenger(passengerID string, limit, offset int) ([]*models.Trip, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := p.db.Query(selectTrip+` WHERE passenger_id=$1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		passengerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTrips(rows)
}

func (p *PostgresStore) ListCompletedTripsByDriver(driverID string, since time.Time) ([]*models.Trip, error) {
	rows, err := p.db.Query(selectTrip+` WHERE driver_id=$1 AND status='completed' AND completed_at >= $2`,
		driverID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTrips(rows)
}

func (p *PostgresStore) SaveDriver(d *models.Driver) error {
	_, err := p.db.Exec(`INSERT INTO drivers(
		id, name, lat, lon, online, rating, rating_count, trip_count, vehicle_class,
		vehicle_make, vehicle_model, vehicle_color, license_plate, vehicle_year,
		current_trip_id, updated_at
	) VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	ON CONFLICT (id) DO UPDATE SET
		name=EXCLUDED.name, lat=EXCLUDED.lat, lon=EXCLUDED.lon, online=EXCLUDED.online,
		rating=EXCLUDED.rating, rating_count=EXCLUDED.rating_count,
		trip_count=EXCLUDED.trip_count,
		current_trip_id=EXCLUDED.current_trip_id, updated_at=EXCLUDED.updated_at`,
		d.ID, d.Name, d.Loc.Lat, d.Loc.Lon, d.Online, d.Rating, d.RatingCount, d.TripCount, string(d.Class),
		d.Vehicle.Make, d.Vehicle.Model, d.Vehicle.Color, d.Vehicle.LicensePlate, d.Vehicle.Year,
		nullStr(d.CurrentTripID), d.Updated)
	return err
}

func (p *PostgresStore) UpdateDriver(d *models.Driver) error {
	return p.SaveDriver(d)
}

const selectTrip = `SELECT
	id, passenger_id, driver_id, pickup_lat, pickup_lon, dropoff_lat, dropoff_lon,
	status, vehicle_class, payment_ref, distance_km, duration_min,
	base_fare, distance_fare, time_fare, surge_factor, estimated_total, actual_fare,
	rating, feedback, created_at, assigned_at, arriving_at, started_at, completed_at, cancelled_at
FROM trips`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrip(row rowScanner) (*models.Trip, error) {
	var t models.Trip
	var driverID, feedback sql.NullString
	var actualFare sql.NullFloat64
	var rating sql.NullInt64
	var assignedAt, arrivingAt, startedAt, completedAt, cancelledAt sql.NullTime
	var status, class string

	err := row.Scan(
		&t.ID, &t.Request.PassengerID, &driverID,
		&t.Request.Pickup.Lat, &t.Request.Pickup.Lon, &t.Request.Dropoff.Lat, &t.Request.Dropoff.Lon,
		&status, &class, &t.Request.PaymentRef, &t.DistanceKm, &t.DurationMin,
		&t.Estimated.Base, &t.Estimated.DistanceFare, &t.Estimated.TimeFare, &t.Estimated.SurgeFactor, &t.Estimated.Total,
		&actualFare, &rating, &feedback,
		&t.CreatedAt, &assignedAt, &arrivingAt, &startedAt, &completedAt, &cancelledAt)
	if err != nil {
		return nil, err
	}
	t.Status = models.TripStatus(status)
	t.Request.Class = models.VehicleClass(class)
	t.Request.CreatedAt = t.CreatedAt
	t.DriverID = driverID.String
	t.Feedback = feedback.String
	if actualFare.Valid {
		v := actualFare.Float64
		t.ActualFare = &v
	}
	if rating.Valid {
		v := int(rating.Int64)
		t.Rating = &v
	}
	t.AssignedAt = timePtr(assignedAt)
	t.ArrivingAt = timePtr(arrivingAt)
	t.StartedAt = timePtr(startedAt)
	t.CompletedAt = timePtr(completedAt)
	t.CancelledAt = timePtr(cancelledAt)
	return &t, nil
}

func scanTrips(rows *sql.Rows) ([]*models.Trip, error) {
	var out []*models.Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

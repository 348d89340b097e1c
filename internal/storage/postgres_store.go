package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/example/trip-dispatch/internal/models"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) CreateTrip(ctx context.Context, t *models.Trip) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO trips(id, rider_id, driver_id, pickup_lat, pickup_lng, dropoff_lat, dropoff_lng, price, distance_km, duration_minutes, payment_method, status, created_at, updated_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		t.ID, t.RiderID, t.DriverID, t.Pickup.Lat, t.Pickup.Lng, t.Dropoff.Lat, t.Dropoff.Lng,
		t.Price, t.DistanceKm, t.DurationMinutes, t.PaymentMethod, t.Status, t.CreatedAt, t.UpdatedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
		return ErrTripExists
	}
	return err
}

func (p *PostgresStore) UpdateStatus(ctx context.Context, tripID, status string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE trips SET status=$1, updated_at=$2 WHERE id=$3`, status, time.Now(), tripID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrTripNotFound
	}
	return nil
}

func (p *PostgresStore) GetTrip(ctx context.Context, tripID string) (*models.Trip, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT id, rider_id, driver_id, pickup_lat, pickup_lng, dropoff_lat, dropoff_lng, price, distance_km, duration_minutes, payment_method, status, created_at, updated_at
		 FROM trips WHERE id=$1`, tripID)
	var t models.Trip
	err := row.Scan(&t.ID, &t.RiderID, &t.DriverID, &t.Pickup.Lat, &t.Pickup.Lng, &t.Dropoff.Lat, &t.Dropoff.Lng,
		&t.Price, &t.DistanceKm, &t.DurationMinutes, &t.PaymentMethod, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTripNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

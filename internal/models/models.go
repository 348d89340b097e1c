package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Role identifies which side of a trip a participant is on.
type Role string

const (
	RoleRider  Role = "rider"
	RoleDriver Role = "driver"
)

// Trip statuses as persisted by the trip store. The vocabulary comes from
// the production schema and is kept as-is.
const (
	StatusPending    = "pendiente"
	StatusAccepted   = "aceptado"
	StatusRejected   = "rechazado"
	StatusInProgress = "en_curso"
	StatusFinished   = "finalizado"
	StatusCancelled  = "cancelado"
)

// TripDetails is the rider-supplied input for a dispatch request. TripID is
// optional; when set it acts as an idempotency key, otherwise the
// coordinator assigns one.
type TripDetails struct {
	TripID          string  `json:"trip_id,omitempty"`
	RiderID         string  `json:"rider_id"`
	DriverID        string  `json:"driver_id"`
	Pickup          Coord   `json:"pickup"`
	Dropoff         Coord   `json:"dropoff"`
	Price           float64 `json:"price"`
	DistanceKm      float64 `json:"distance_km"`
	DurationMinutes float64 `json:"duration_minutes"`
	PaymentMethod   string  `json:"payment_method"`
}

// TripOffer is an in-flight dispatch attempt: the trip as presented to one
// driver's live connection, with the response deadline attached.
type TripOffer struct {
	TripID          string    `json:"trip_id"`
	RiderID         string    `json:"rider_id"`
	DriverID        string    `json:"driver_id"`
	Pickup          Coord     `json:"pickup"`
	Dropoff         Coord     `json:"dropoff"`
	Price           float64   `json:"price"`
	DistanceKm      float64   `json:"distance_km"`
	DurationMinutes float64   `json:"duration_minutes"`
	PaymentMethod   string    `json:"payment_method"`
	CreatedAt       time.Time `json:"created_at"`
	Deadline        time.Time `json:"deadline"`
}

// TripDecision informs the rider of the driver's (or the timeout's) verdict.
type TripDecision struct {
	TripID   string `json:"trip_id"`
	DriverID string `json:"driver_id"`
	Accepted bool   `json:"accepted"`
}

// LocationUpdate is one driver position report for an active trip. The same
// shape is relayed to the rider and published to the location topic.
type LocationUpdate struct {
	TripID    string    `json:"trip_id"`
	DriverID  string    `json:"driver_id"`
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Timestamp time.Time `json:"timestamp"`
}

// Trip is the durable record held by the trip store.
type Trip struct {
	ID              string
	RiderID         string
	DriverID        string
	Pickup          Coord
	Dropoff         Coord
	Price           float64
	DistanceKm      float64
	DurationMinutes float64
	PaymentMethod   string
	Status          string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ActiveTrip is the in-memory tracking state for an accepted trip. It is
// owned by the location relay from acceptance until finalize; the store
// remains the source of truth for history.
type ActiveTrip struct {
	TripID   string
	RiderID  string
	DriverID string
	Status   string
	Last     LocationUpdate
	Path     []Coord
}

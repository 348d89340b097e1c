// Package dispatch matches a confirmed trip request to a specific driver's
// live connection, bounds the driver's response window and settles exactly
// one outcome (accept, reject or timeout) per trip.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/trip-dispatch/internal/models"
	"github.com/example/trip-dispatch/internal/observability"
	"github.com/example/trip-dispatch/internal/registry"
	"github.com/example/trip-dispatch/internal/storage"
	"github.com/example/trip-dispatch/internal/timer"
	"github.com/example/trip-dispatch/internal/wire"
)

// ErrInvalidRequest marks validation failures: the request was rejected
// before any persistence or socket I/O happened.
var ErrInvalidRequest = errors.New("invalid trip request")

// Fabric is the connection surface the coordinator needs: deliver a message
// to a participant's current session or report that none exists.
type Fabric interface {
	Send(participantID string, v interface{}) error
	Connected(participantID string) bool
}

// ActiveSink receives accepted trips for live location tracking. Once a
// trip is handed over the coordinator does not touch its state again.
type ActiveSink interface {
	Track(at *models.ActiveTrip)
}

type Coordinator struct {
	store  storage.TripStore
	conns  Fabric
	timers *timer.Timers
	relay  ActiveSink
	window time.Duration
	log    *slog.Logger

	mu     sync.Mutex
	offers map[string]*models.TripOffer
}

func NewCoordinator(store storage.TripStore, conns Fabric, relay ActiveSink, window time.Duration, log *slog.Logger) *Coordinator {
	if window <= 0 {
		window = 30 * time.Second
	}
	return &Coordinator{
		store:  store,
		conns:  conns,
		timers: timer.New(),
		relay:  relay,
		window: window,
		log:    log,
		offers: make(map[string]*models.TripOffer),
	}
}

// RequestTrip validates and persists a pending trip, then offers it to the
// chosen driver if that driver has a live connection. The trip id is
// returned either way; an unreachable driver leaves the trip pending with
// no timer armed. Calling again with the same trip id is a no-op.
func (c *Coordinator) RequestTrip(ctx context.Context, details models.TripDetails) (string, error) {
	if err := validateDetails(details); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	applyDefaults(&details)

	tripID := details.TripID
	if tripID == "" {
		tripID = uuid.NewString()
	}

	c.mu.Lock()
	_, pending := c.offers[tripID]
	c.mu.Unlock()
	if pending {
		return tripID, nil
	}

	now := time.Now()
	trip := &models.Trip{
		ID:              tripID,
		RiderID:         details.RiderID,
		DriverID:        details.DriverID,
		Pickup:          details.Pickup,
		Dropoff:         details.Dropoff,
		Price:           details.Price,
		DistanceKm:      details.DistanceKm,
		DurationMinutes: details.DurationMinutes,
		PaymentMethod:   details.PaymentMethod,
		Status:          models.StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := c.store.CreateTrip(ctx, trip); err != nil {
		if errors.Is(err, storage.ErrTripExists) {
			// Duplicate request; the first call owns the offer.
			return tripID, nil
		}
		return "", fmt.Errorf("persist trip %s: %w", tripID, err)
	}

	offer := &models.TripOffer{
		TripID:          tripID,
		RiderID:         details.RiderID,
		DriverID:        details.DriverID,
		Pickup:          details.Pickup,
		Dropoff:         details.Dropoff,
		Price:           details.Price,
		DistanceKm:      details.DistanceKm,
		DurationMinutes: details.DurationMinutes,
		PaymentMethod:   details.PaymentMethod,
		CreatedAt:       now,
		Deadline:        now.Add(c.window),
	}

	// Record the offer and arm the deadline before the socket write, so a
	// driver answering within the delivery round-trip finds the timer
	// already pending instead of being discarded as late.
	c.mu.Lock()
	if _, ok := c.offers[tripID]; ok {
		c.mu.Unlock()
		return tripID, nil
	}
	c.offers[tripID] = offer
	c.mu.Unlock()

	if err := c.timers.Arm(tripID, c.window, func() { c.onTimeout(tripID) }); err != nil {
		c.log.Error("arm response timer", "trip_id", tripID, "error", err)
	}

	if err := c.conns.Send(details.DriverID, wire.Outbound{Type: wire.TypeTripOffer, Data: offer}); err != nil {
		// An undelivered offer must not time out into a rejection: disarm
		// and retract it, unless the timeout already took ownership.
		if c.timers.Cancel(tripID) {
			c.mu.Lock()
			delete(c.offers, tripID)
			c.mu.Unlock()
		}
		if errors.Is(err, registry.ErrNotConnected) {
			observability.DriversUnreachable.Inc()
			c.log.Info("driver offline, trip stays pending",
				"trip_id", tripID, "driver_id", details.DriverID)
		} else {
			c.log.Warn("offer delivery failed, trip stays pending",
				"trip_id", tripID, "driver_id", details.DriverID, "error", err)
		}
		return tripID, nil
	}
	observability.OffersEmitted.Inc()
	c.log.Info("offer emitted", "trip_id", tripID, "driver_id", details.DriverID,
		"deadline", offer.Deadline)
	return tripID, nil
}

// ResolveOffer settles a driver's decision. Cancelling the response timer
// is the serialization point: if the cancel fails, the timeout path already
// owns this trip's outcome and the decision is discarded without error.
func (c *Coordinator) ResolveOffer(ctx context.Context, tripID, driverID string, accepted bool) error {
	c.mu.Lock()
	offer := c.offers[tripID]
	c.mu.Unlock()
	if offer != nil && driverID != "" && offer.DriverID != driverID {
		c.log.Warn("response from a driver that was never offered the trip",
			"trip_id", tripID, "driver_id", driverID, "offered_to", offer.DriverID)
		return nil
	}

	if !c.timers.Cancel(tripID) {
		c.log.Info("late resolution discarded", "trip_id", tripID,
			"driver_id", driverID, "accepted", accepted)
		return nil
	}

	c.mu.Lock()
	offer = c.offers[tripID]
	delete(c.offers, tripID)
	c.mu.Unlock()

	status := models.StatusRejected
	if accepted {
		status = models.StatusAccepted
	}
	if err := c.store.UpdateStatus(ctx, tripID, status); err != nil {
		return fmt.Errorf("update trip %s to %s: %w", tripID, status, err)
	}
	if accepted {
		observability.OffersAccepted.Inc()
	} else {
		observability.OffersRejected.Inc()
	}

	riderID, pickup := c.riderAndPickup(ctx, tripID, offer)
	if accepted && c.relay != nil {
		c.relay.Track(c.acceptToActive(tripID, riderID, driverID, pickup))
	}
	c.notifyRider(riderID, models.TripDecision{TripID: tripID, DriverID: driverID, Accepted: accepted})
	return nil
}

// onTimeout is invoked by the response timer; by construction the timer
// entry is already gone, so no concurrent ResolveOffer can win this trip.
func (c *Coordinator) onTimeout(tripID string) {
	c.mu.Lock()
	offer := c.offers[tripID]
	delete(c.offers, tripID)
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.store.UpdateStatus(ctx, tripID, models.StatusRejected); err != nil {
		c.log.Error("mark trip rejected on timeout", "trip_id", tripID, "error", err)
	}
	observability.OffersTimedOut.Inc()
	c.log.Info("offer timed out", "trip_id", tripID)

	riderID, _ := c.riderAndPickup(ctx, tripID, offer)
	driverID := ""
	if offer != nil {
		driverID = offer.DriverID
	}
	c.notifyRider(riderID, models.TripDecision{TripID: tripID, DriverID: driverID, Accepted: false})
}

// OfferPending reports whether an offer is outstanding for the trip.
func (c *Coordinator) OfferPending(tripID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.offers[tripID]
	return ok
}

func (c *Coordinator) acceptToActive(tripID, riderID, driverID string, pickup models.Coord) *models.ActiveTrip {
	return &models.ActiveTrip{
		TripID:   tripID,
		RiderID:  riderID,
		DriverID: driverID,
		Status:   models.StatusAccepted,
		Last: models.LocationUpdate{
			TripID:    tripID,
			DriverID:  driverID,
			Lat:       pickup.Lat,
			Lng:       pickup.Lng,
			Timestamp: time.Now(),
		},
		Path: []models.Coord{pickup},
	}
}

// riderAndPickup prefers the in-memory offer and falls back to the store,
// mirroring the rider lookup the socket handler always had.
func (c *Coordinator) riderAndPickup(ctx context.Context, tripID string, offer *models.TripOffer) (string, models.Coord) {
	if offer != nil {
		return offer.RiderID, offer.Pickup
	}
	t, err := c.store.GetTrip(ctx, tripID)
	if err != nil {
		c.log.Warn("rider lookup failed", "trip_id", tripID, "error", err)
		return "", models.Coord{}
	}
	return t.RiderID, t.Pickup
}

func (c *Coordinator) notifyRider(riderID string, decision models.TripDecision) {
	if riderID == "" {
		return
	}
	err := c.conns.Send(riderID, wire.Outbound{Type: wire.TypeTripDecision, Data: decision})
	if errors.Is(err, registry.ErrNotConnected) {
		observability.SendsDropped.Inc()
		c.log.Info("rider offline, decision not delivered",
			"trip_id", decision.TripID, "rider_id", riderID)
	} else if err != nil {
		c.log.Warn("decision delivery failed",
			"trip_id", decision.TripID, "rider_id", riderID, "error", err)
	}
}

func validCoord(c models.Coord) bool {
	if c.Lat == 0 && c.Lng == 0 {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

func validateDetails(d models.TripDetails) error {
	var errs []error
	if d.RiderID == "" {
		errs = append(errs, fmt.Errorf("rider_id is required"))
	}
	if d.DriverID == "" {
		errs = append(errs, fmt.Errorf("driver_id is required"))
	}
	if !validCoord(d.Pickup) {
		errs = append(errs, fmt.Errorf("pickup coordinates are required"))
	}
	if !validCoord(d.Dropoff) {
		errs = append(errs, fmt.Errorf("dropoff coordinates are required"))
	}
	if d.Price <= 0 {
		errs = append(errs, fmt.Errorf("price must be > 0"))
	}
	return errors.Join(errs...)
}

func applyDefaults(d *models.TripDetails) {
	if d.PaymentMethod == "" {
		d.PaymentMethod = "efectivo"
	}
}

// Package relay forwards driver location reports to the matching rider for
// the lifetime of an active trip. Delivery is best-effort and at-most-once:
// a disconnected rider simply misses updates until it reconnects and
// re-fetches trip state.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/trip-dispatch/internal/models"
	"github.com/example/trip-dispatch/internal/observability"
	"github.com/example/trip-dispatch/internal/registry"
	"github.com/example/trip-dispatch/internal/storage"
	"github.com/example/trip-dispatch/internal/track"
	"github.com/example/trip-dispatch/internal/wire"
)

var (
	ErrTripNotActive = errors.New("trip is not active")
	ErrNotTripDriver = errors.New("location report from a different driver")
)

// Fabric is the sending side of the connection registry.
type Fabric interface {
	Send(participantID string, v interface{}) error
}

// Publisher pushes location updates onto the location topic for
// downstream consumers. Optional.
type Publisher interface {
	PublishLocation(upd models.LocationUpdate) error
}

type Relay struct {
	conns    Fabric
	store    storage.TripStore
	producer Publisher
	tracker  track.Tracker
	pathCap  int
	log      *slog.Logger

	mu    sync.Mutex
	trips map[string]*models.ActiveTrip
}

func NewRelay(conns Fabric, store storage.TripStore, log *slog.Logger) *Relay {
	return &Relay{
		conns:   conns,
		store:   store,
		pathCap: 1000,
		log:     log,
		trips:   make(map[string]*models.ActiveTrip),
	}
}

// WithProducer attaches a location-topic publisher.
func (r *Relay) WithProducer(p Publisher) *Relay {
	r.producer = p
	return r
}

// WithTracker attaches a last-known-location store.
func (r *Relay) WithTracker(t track.Tracker) *Relay {
	r.tracker = t
	return r
}

// WithPathCap bounds the in-memory location history per trip.
func (r *Relay) WithPathCap(n int) *Relay {
	if n > 0 {
		r.pathCap = n
	}
	return r
}

// Track takes ownership of an accepted trip's live state.
func (r *Relay) Track(at *models.ActiveTrip) {
	r.mu.Lock()
	r.trips[at.TripID] = at
	r.mu.Unlock()
	r.log.Info("tracking active trip", "trip_id", at.TripID,
		"rider_id", at.RiderID, "driver_id", at.DriverID)
}

// PushLocation records a driver position and forwards it to the rider.
// Exact consecutive repeats are not appended to the path; the forward is
// still attempted so a reconnected rider regains the marker immediately.
func (r *Relay) PushLocation(ctx context.Context, upd models.LocationUpdate) error {
	if upd.Timestamp.IsZero() {
		upd.Timestamp = time.Now()
	}

	r.mu.Lock()
	at, ok := r.trips[upd.TripID]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTripNotActive, upd.TripID)
	}
	if at.DriverID != upd.DriverID {
		r.mu.Unlock()
		return fmt.Errorf("%w: trip %s driver %s", ErrNotTripDriver, upd.TripID, upd.DriverID)
	}
	if at.Status == models.StatusAccepted {
		at.Status = models.StatusInProgress
	}
	pt := models.Coord{Lat: upd.Lat, Lng: upd.Lng}
	if n := len(at.Path); (n == 0 || at.Path[n-1] != pt) && n < r.pathCap {
		at.Path = append(at.Path, pt)
	}
	at.Last = upd
	riderID := at.RiderID
	r.mu.Unlock()

	if r.tracker != nil {
		if err := r.tracker.Update(ctx, upd); err != nil {
			r.log.Warn("location tracker update failed", "trip_id", upd.TripID, "error", err)
		}
	}
	if r.producer != nil {
		if err := r.producer.PublishLocation(upd); err != nil {
			r.log.Warn("location publish failed", "trip_id", upd.TripID, "error", err)
		}
	}

	err := r.conns.Send(riderID, wire.Outbound{Type: wire.TypeLocationUpdate, Data: upd})
	switch {
	case errors.Is(err, registry.ErrNotConnected):
		observability.SendsDropped.Inc()
	case err != nil:
		r.log.Warn("location forward failed", "trip_id", upd.TripID,
			"rider_id", riderID, "error", err)
	default:
		observability.LocationsRelayed.Inc()
	}
	return nil
}

// Finalize ends live tracking for the trip, persists the terminal status
// and notifies both parties if connected. Further location pushes for the
// id are rejected with ErrTripNotActive.
func (r *Relay) Finalize(ctx context.Context, tripID string) error {
	r.mu.Lock()
	at, ok := r.trips[tripID]
	if ok {
		delete(r.trips, tripID)
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrTripNotActive, tripID)
	}
	at.Status = models.StatusFinished

	if err := r.store.UpdateStatus(ctx, tripID, models.StatusFinished); err != nil {
		// In-memory state is already released; the record stays on its
		// previous status for a later reconciliation pass.
		r.log.Error("persist finished trip", "trip_id", tripID, "error", err)
	}
	observability.TripsFinalized.Inc()

	msg := wire.Outbound{Type: wire.TypeTripFinalized, Data: wire.TripFinalized{TripID: tripID}}
	for _, id := range []string{at.RiderID, at.DriverID} {
		err := r.conns.Send(id, msg)
		if errors.Is(err, registry.ErrNotConnected) {
			observability.SendsDropped.Inc()
		} else if err != nil {
			r.log.Warn("finalize notification failed", "trip_id", tripID,
				"participant_id", id, "error", err)
		}
	}
	r.log.Info("trip finalized", "trip_id", tripID)
	return nil
}

// Active returns a snapshot of the trip's live state, if tracked.
func (r *Relay) Active(tripID string) (models.ActiveTrip, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	at, ok := r.trips[tripID]
	if !ok {
		return models.ActiveTrip{}, false
	}
	cp := *at
	cp.Path = append([]models.Coord(nil), at.Path...)
	return cp, true
}

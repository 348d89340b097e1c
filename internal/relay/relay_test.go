package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/example/trip-dispatch/internal/models"
	"github.com/example/trip-dispatch/internal/registry"
	"github.com/example/trip-dispatch/internal/storage"
	"github.com/example/trip-dispatch/internal/track"
	"github.com/example/trip-dispatch/internal/wire"
)

type fakeFabric struct {
	mu     sync.Mutex
	online map[string]bool
	sent   map[string][]wire.Outbound
}

func newFakeFabric(online ...string) *fakeFabric {
	f := &fakeFabric{online: make(map[string]bool), sent: make(map[string][]wire.Outbound)}
	for _, id := range online {
		f.online[id] = true
	}
	return f
}

func (f *fakeFabric) Send(id string, v interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.online[id] {
		return registry.ErrNotConnected
	}
	f.sent[id] = append(f.sent[id], v.(wire.Outbound))
	return nil
}

func (f *fakeFabric) sentTo(id string) []wire.Outbound {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]wire.Outbound(nil), f.sent[id]...)
}

type fakeProducer struct {
	mu        sync.Mutex
	published []models.LocationUpdate
}

func (f *fakeProducer) PublishLocation(upd models.LocationUpdate) error {
	f.mu.Lock()
	f.published = append(f.published, upd)
	f.mu.Unlock()
	return nil
}

func activeTrip() *models.ActiveTrip {
	return &models.ActiveTrip{
		TripID:   "v1",
		RiderID:  "r1",
		DriverID: "d1",
		Status:   models.StatusAccepted,
	}
}

func upd(lat, lng float64) models.LocationUpdate {
	return models.LocationUpdate{TripID: "v1", DriverID: "d1", Lat: lat, Lng: lng, Timestamp: time.Now()}
}

func newTestRelay(fab *fakeFabric) (*Relay, *storage.MemoryStore) {
	store := storage.NewMemoryStore()
	_ = store.CreateTrip(context.Background(), &models.Trip{ID: "v1", RiderID: "r1", DriverID: "d1", Status: models.StatusAccepted})
	return NewRelay(fab, store, slog.New(slog.NewTextHandler(io.Discard, nil))), store
}

func TestPushForwardsToRider(t *testing.T) {
	fab := newFakeFabric("r1")
	r, _ := newTestRelay(fab)
	r.Track(activeTrip())

	if err := r.PushLocation(context.Background(), upd(4.61, -74.08)); err != nil {
		t.Fatalf("push: %v", err)
	}
	msgs := fab.sentTo("r1")
	if len(msgs) != 1 || msgs[0].Type != wire.TypeLocationUpdate {
		t.Fatalf("expected one relayed location_update, got %v", msgs)
	}
	at, ok := r.Active("v1")
	if !ok {
		t.Fatal("trip should still be tracked")
	}
	if at.Status != models.StatusInProgress {
		t.Fatalf("first push should mark the trip en_curso, got %s", at.Status)
	}
}

func TestPushDedupsConsecutiveRepeats(t *testing.T) {
	fab := newFakeFabric("r1")
	r, _ := newTestRelay(fab)
	r.Track(activeTrip())

	for i := 0; i < 2; i++ {
		if err := r.PushLocation(context.Background(), upd(4.61, -74.08)); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}
	if err := r.PushLocation(context.Background(), upd(4.62, -74.07)); err != nil {
		t.Fatalf("push: %v", err)
	}

	at, _ := r.Active("v1")
	if len(at.Path) != 2 {
		t.Fatalf("expected path of 2 after dedup, got %d", len(at.Path))
	}
	// forwards are best-effort per push, not deduplicated
	if n := len(fab.sentTo("r1")); n != 3 {
		t.Fatalf("expected 3 forwards, got %d", n)
	}
}

func TestPushFromWrongDriver(t *testing.T) {
	r, _ := newTestRelay(newFakeFabric("r1"))
	r.Track(activeTrip())

	u := upd(4.61, -74.08)
	u.DriverID = "imposter"
	if err := r.PushLocation(context.Background(), u); !errors.Is(err, ErrNotTripDriver) {
		t.Fatalf("expected ErrNotTripDriver, got %v", err)
	}
}

func TestPushForUnknownTrip(t *testing.T) {
	r, _ := newTestRelay(newFakeFabric())
	if err := r.PushLocation(context.Background(), upd(1, 1)); !errors.Is(err, ErrTripNotActive) {
		t.Fatalf("expected ErrTripNotActive, got %v", err)
	}
}

func TestOfflineRiderMissesUpdatesWithoutError(t *testing.T) {
	fab := newFakeFabric() // rider offline
	r, _ := newTestRelay(fab)
	r.Track(activeTrip())

	if err := r.PushLocation(context.Background(), upd(4.61, -74.08)); err != nil {
		t.Fatalf("push to offline rider must not error: %v", err)
	}
	if len(fab.sentTo("r1")) != 0 {
		t.Fatal("nothing should have been delivered")
	}
}

func TestPathCap(t *testing.T) {
	fab := newFakeFabric("r1")
	r, _ := newTestRelay(fab)
	r.WithPathCap(2)
	r.Track(activeTrip())

	for i := 0; i < 5; i++ {
		if err := r.PushLocation(context.Background(), upd(float64(i+1), -74.08)); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}
	at, _ := r.Active("v1")
	if len(at.Path) != 2 {
		t.Fatalf("expected capped path of 2, got %d", len(at.Path))
	}
	if at.Last.Lat != 5 {
		t.Fatalf("last location must keep advancing past the cap, got %f", at.Last.Lat)
	}
}

func TestPushFeedsTrackerAndProducer(t *testing.T) {
	fab := newFakeFabric("r1")
	r, _ := newTestRelay(fab)
	tracker := track.NewMemoryTracker()
	producer := &fakeProducer{}
	r.WithTracker(tracker).WithProducer(producer)
	r.Track(activeTrip())

	if err := r.PushLocation(context.Background(), upd(4.61, -74.08)); err != nil {
		t.Fatalf("push: %v", err)
	}
	last, err := tracker.Last(context.Background(), "v1")
	if err != nil || last.Lat != 4.61 {
		t.Fatalf("tracker not updated: %v %v", last, err)
	}
	if len(producer.published) != 1 {
		t.Fatalf("expected one published update, got %d", len(producer.published))
	}
}

func TestFinalizeStopsTrackingAndNotifiesBoth(t *testing.T) {
	fab := newFakeFabric("r1", "d1")
	r, store := newTestRelay(fab)
	r.Track(activeTrip())

	if err := r.Finalize(context.Background(), "v1"); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	trip, _ := store.GetTrip(context.Background(), "v1")
	if trip.Status != models.StatusFinished {
		t.Fatalf("expected finalizado, got %s", trip.Status)
	}
	for _, id := range []string{"r1", "d1"} {
		msgs := fab.sentTo(id)
		if len(msgs) != 1 || msgs[0].Type != wire.TypeTripFinalized {
			t.Fatalf("expected trip_finalized for %s, got %v", id, msgs)
		}
	}
	if err := r.PushLocation(context.Background(), upd(4.61, -74.08)); !errors.Is(err, ErrTripNotActive) {
		t.Fatalf("push after finalize must fail with ErrTripNotActive, got %v", err)
	}
	if _, ok := r.Active("v1"); ok {
		t.Fatal("finalized trip must release its in-memory state")
	}
}

func TestFinalizeUnknownTrip(t *testing.T) {
	r, _ := newTestRelay(newFakeFabric())
	if err := r.Finalize(context.Background(), "ghost"); !errors.Is(err, ErrTripNotActive) {
		t.Fatalf("expected ErrTripNotActive, got %v", err)
	}
}

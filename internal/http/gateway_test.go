package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/trip-dispatch/internal/models"
	"github.com/example/trip-dispatch/internal/wire"
)

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func registerParticipant(t *testing.T, s *Server, c *websocket.Conn, id string, role models.Role) {
	t.Helper()
	if err := c.WriteJSON(wire.Outbound{Type: wire.TypeRegister, Data: wire.Register{ID: id, Role: role}}); err != nil {
		t.Fatalf("register %s: %v", id, err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for !s.reg.Connected(id) {
		if time.Now().After(deadline) {
			t.Fatalf("participant %s never registered", id)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readEnvelope(t *testing.T, c *websocket.Conn) wire.Envelope {
	t.Helper()
	_ = c.SetReadDeadline(time.Now().Add(3 * time.Second))
	var env wire.Envelope
	if err := c.ReadJSON(&env); err != nil {
		t.Fatalf("read envelope: %v", err)
	}
	return env
}

func TestDispatchHappyPathOverSockets(t *testing.T) {
	s, ts := newTestServer(t, time.Minute)

	driver := dialWS(t, ts)
	rider := dialWS(t, ts)
	registerParticipant(t, s, driver, "d1", models.RoleDriver)
	registerParticipant(t, s, rider, "r1", models.RoleRider)

	resp := postTrip(t, ts, validDetails())
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var created map[string]string
	json.NewDecoder(resp.Body).Decode(&created)
	tripID := created["trip_id"]

	// driver receives the offer
	env := readEnvelope(t, driver)
	if env.Type != wire.TypeTripOffer {
		t.Fatalf("expected trip_offer, got %s", env.Type)
	}
	var offer models.TripOffer
	if err := json.Unmarshal(env.Data, &offer); err != nil {
		t.Fatalf("decode offer: %v", err)
	}
	if offer.TripID != tripID {
		t.Fatalf("offer trip id mismatch: %s vs %s", offer.TripID, tripID)
	}

	// driver accepts within the window
	if err := driver.WriteJSON(wire.Outbound{Type: wire.TypeTripResponse,
		Data: wire.TripResponse{TripID: tripID, DriverID: "d1", Accepted: true}}); err != nil {
		t.Fatalf("send response: %v", err)
	}

	// rider learns the decision
	env = readEnvelope(t, rider)
	if env.Type != wire.TypeTripDecision {
		t.Fatalf("expected trip_decision, got %s", env.Type)
	}
	var dec models.TripDecision
	json.Unmarshal(env.Data, &dec)
	if !dec.Accepted || dec.TripID != tripID {
		t.Fatalf("unexpected decision: %+v", dec)
	}

	// a location push from the driver is relayed to the rider
	if err := driver.WriteJSON(wire.Outbound{Type: wire.TypeLocationUpdate,
		Data: models.LocationUpdate{TripID: tripID, DriverID: "d1", Lat: 4.611, Lng: -74.081}}); err != nil {
		t.Fatalf("send location: %v", err)
	}
	env = readEnvelope(t, rider)
	if env.Type != wire.TypeLocationUpdate {
		t.Fatalf("expected location_update, got %s", env.Type)
	}
	var upd models.LocationUpdate
	json.Unmarshal(env.Data, &upd)
	if upd.Lat != 4.611 || upd.TripID != tripID {
		t.Fatalf("unexpected relayed location: %+v", upd)
	}

	// finalize ends tracking and notifies both sides
	if err := rider.WriteJSON(wire.Outbound{Type: wire.TypeFinalizeTrip,
		Data: wire.FinalizeTrip{TripID: tripID}}); err != nil {
		t.Fatalf("send finalize: %v", err)
	}
	for _, c := range []*websocket.Conn{rider, driver} {
		env = readEnvelope(t, c)
		if env.Type != wire.TypeTripFinalized {
			t.Fatalf("expected trip_finalized, got %s", env.Type)
		}
	}

	trip, err := s.store.GetTrip(context.Background(), tripID)
	if err != nil {
		t.Fatalf("get trip: %v", err)
	}
	if trip.Status != models.StatusFinished {
		t.Fatalf("expected finalizado, got %s", trip.Status)
	}
}

func TestDispatchTimeoutOverSockets(t *testing.T) {
	s, ts := newTestServer(t, 50*time.Millisecond)

	driver := dialWS(t, ts)
	rider := dialWS(t, ts)
	registerParticipant(t, s, driver, "d1", models.RoleDriver)
	registerParticipant(t, s, rider, "r1", models.RoleRider)

	resp := postTrip(t, ts, validDetails())
	var created map[string]string
	json.NewDecoder(resp.Body).Decode(&created)
	tripID := created["trip_id"]

	// driver sees the offer but never answers
	if env := readEnvelope(t, driver); env.Type != wire.TypeTripOffer {
		t.Fatalf("expected trip_offer, got %s", env.Type)
	}

	// rider is told the trip was rejected after the window
	env := readEnvelope(t, rider)
	if env.Type != wire.TypeTripDecision {
		t.Fatalf("expected trip_decision, got %s", env.Type)
	}
	var dec models.TripDecision
	json.Unmarshal(env.Data, &dec)
	if dec.Accepted {
		t.Fatal("timeout must reject the trip")
	}

	trip, err := s.store.GetTrip(context.Background(), tripID)
	if err != nil {
		t.Fatalf("get trip: %v", err)
	}
	if trip.Status != models.StatusRejected {
		t.Fatalf("expected rechazado, got %s", trip.Status)
	}
}

func TestUnknownAndMalformedFramesAreDropped(t *testing.T) {
	s, ts := newTestServer(t, time.Minute)

	c := dialWS(t, ts)
	registerParticipant(t, s, c, "d1", models.RoleDriver)

	if err := c.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := c.WriteJSON(wire.Outbound{Type: "viaje_asignado", Data: map[string]string{"x": "y"}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := c.WriteJSON(wire.Outbound{Type: wire.TypeLocationUpdate,
		Data: models.LocationUpdate{TripID: "no-such-trip", DriverID: "d1"}}); err != nil {
		t.Fatalf("write: %v", err)
	}

	// the connection must survive all of the above
	time.Sleep(50 * time.Millisecond)
	if !s.reg.Connected("d1") {
		t.Fatal("connection should have survived bad frames")
	}
}

func TestReconnectSupersedesOldSocket(t *testing.T) {
	s, ts := newTestServer(t, time.Minute)

	first := dialWS(t, ts)
	registerParticipant(t, s, first, "d1", models.RoleDriver)

	second := dialWS(t, ts)
	registerParticipant(t, s, second, "d1", models.RoleDriver)

	// the first socket is closed by the replacement; its disconnect must
	// not evict the fresh registration
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if !s.reg.Connected("d1") {
			t.Fatal("stale disconnect evicted the fresh session")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

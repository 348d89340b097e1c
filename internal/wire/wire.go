// Package wire defines the websocket message vocabulary shared by the
// gateway, the coordinator and the relay. Earlier client revisions used
// several names for the same events; this is the consolidated set.
package wire

import (
	"encoding/json"

	"github.com/example/trip-dispatch/internal/models"
)

const (
	TypeRegister       = "register"
	TypeTripOffer      = "trip_offer"
	TypeTripResponse   = "trip_response"
	TypeTripDecision   = "trip_decision"
	TypeLocationUpdate = "location_update"
	TypeFinalizeTrip   = "finalize_trip"
	TypeTripFinalized  = "trip_finalized"
)

// Envelope is the inbound frame: a type tag plus raw payload, decoded in
// two steps so a bad payload for one type never breaks the read loop.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Outbound is the server-to-client frame.
type Outbound struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

type Register struct {
	ID   string      `json:"id"`
	Role models.Role `json:"role"`
}

type TripResponse struct {
	TripID   string `json:"trip_id"`
	DriverID string `json:"driver_id"`
	Accepted bool   `json:"accepted"`
}

type FinalizeTrip struct {
	TripID string `json:"trip_id"`
}

type TripFinalized struct {
	TripID string `json:"trip_id"`
}

package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/trip-dispatch/internal/models"
	"github.com/example/trip-dispatch/internal/registry"
	"github.com/example/trip-dispatch/internal/relay"
	"github.com/example/trip-dispatch/internal/wire"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const maxMessageSize = 8192

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}
	s.serveSocket(conn)
}

// serveSocket runs one connection's read loop. A socket must register
// within the configured deadline; after that each frame is decoded and
// routed, and a bad frame is logged and dropped without touching other
// trips or tearing the connection down.
func (s *Server) serveSocket(conn *websocket.Conn) {
	log := s.logger.With("remote_addr", conn.RemoteAddr().String())

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.RegisterDeadline))

	var sess *registry.Session
	defer func() {
		if sess != nil {
			if s.reg.Unregister(sess) {
				log.Info("participant disconnected",
					"participant_id", sess.ParticipantID, "role", sess.Role)
			}
		}
		_ = conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn("ws read error", "error", err)
			}
			return
		}

		var env wire.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			log.Warn("malformed frame dropped", "error", err)
			continue
		}

		switch env.Type {
		case wire.TypeRegister:
			var reg wire.Register
			if err := json.Unmarshal(env.Data, &reg); err != nil || reg.ID == "" {
				log.Warn("bad register payload dropped", "error", err)
				continue
			}
			role := reg.Role
			if role != models.RoleDriver {
				role = models.RoleRider
			}
			if sess != nil && sess.ParticipantID == reg.ID {
				// re-register on the same socket; nothing to replace
				continue
			}
			sess = s.reg.Register(reg.ID, role, conn)
			_ = conn.SetReadDeadline(time.Time{})
			log.Info("participant registered", "participant_id", reg.ID, "role", role)

		case wire.TypeTripResponse:
			var resp wire.TripResponse
			if err := json.Unmarshal(env.Data, &resp); err != nil || resp.TripID == "" {
				log.Warn("bad trip_response dropped", "error", err)
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.coord.ResolveOffer(ctx, resp.TripID, resp.DriverID, resp.Accepted); err != nil {
				log.Error("resolve offer", "trip_id", resp.TripID, "error", err)
			}
			cancel()

		case wire.TypeLocationUpdate:
			var upd models.LocationUpdate
			if err := json.Unmarshal(env.Data, &upd); err != nil || upd.TripID == "" {
				log.Warn("bad location_update dropped", "error", err)
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.relay.PushLocation(ctx, upd); err != nil {
				if errors.Is(err, relay.ErrTripNotActive) || errors.Is(err, relay.ErrNotTripDriver) {
					log.Info("location update dropped", "trip_id", upd.TripID, "reason", err)
				} else {
					log.Error("push location", "trip_id", upd.TripID, "error", err)
				}
			}
			cancel()

		case wire.TypeFinalizeTrip:
			var fin wire.FinalizeTrip
			if err := json.Unmarshal(env.Data, &fin); err != nil || fin.TripID == "" {
				log.Warn("bad finalize_trip dropped", "error", err)
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.relay.Finalize(ctx, fin.TripID); err != nil {
				if errors.Is(err, relay.ErrTripNotActive) {
					log.Info("finalize for unknown trip dropped", "trip_id", fin.TripID)
				} else {
					log.Error("finalize trip", "trip_id", fin.TripID, "error", err)
				}
			}
			cancel()

		default:
			log.Warn("unknown message type dropped", "type", env.Type)
		}
	}
}

package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/trip-dispatch/internal/config"
	"github.com/example/trip-dispatch/internal/dispatch"
	"github.com/example/trip-dispatch/internal/ingest"
	"github.com/example/trip-dispatch/internal/logging"
	"github.com/example/trip-dispatch/internal/models"
	"github.com/example/trip-dispatch/internal/registry"
	"github.com/example/trip-dispatch/internal/relay"
	"github.com/example/trip-dispatch/internal/storage"
	"github.com/example/trip-dispatch/internal/track"
)

type Server struct {
	coord   *dispatch.Coordinator
	relay   *relay.Relay
	reg     *registry.Registry
	store   storage.TripStore
	tracker track.Tracker
	cfg     config.ServerConfig
	logger  *slog.Logger
	mux     *mux.Router
}

// NewServer wires the dispatch core from config: Postgres or in-memory trip
// store, Redis or in-memory location tracker, and an optional Kafka
// producer for the location topic.
func NewServer(cfg config.ServerConfig, logger *slog.Logger) *Server {
	var store storage.TripStore
	if cfg.PGDSN != "" {
		if ps, err := storage.NewPostgresStore(cfg.PGDSN); err == nil {
			store = ps
		} else {
			logger.Warn("postgres unavailable, falling back to memory store", "error", err)
		}
	}
	if store == nil {
		store = storage.NewMemoryStore()
	}

	var tracker track.Tracker
	if cfg.RedisAddr != "" {
		tracker = track.NewRedisTracker(cfg.RedisAddr, cfg.RedisPassword, "drivers_geo")
	} else {
		tracker = track.NewMemoryTracker()
	}

	reg := registry.NewRegistry()
	rel := relay.NewRelay(reg, store, logging.Component(logger, "relay")).
		WithTracker(tracker).
		WithPathCap(cfg.PathCap)
	if len(cfg.KafkaBrokers) > 0 {
		rel.WithProducer(ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic))
	}
	coord := dispatch.NewCoordinator(store, reg, rel, cfg.ResponseWindow, logging.Component(logger, "dispatch"))

	s := &Server{
		coord:   coord,
		relay:   rel,
		reg:     reg,
		store:   store,
		tracker: tracker,
		cfg:     cfg,
		logger:  logger,
		mux:     mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/trips", s.handleCreateTrip).Methods("POST")
	s.mux.HandleFunc("/api/v1/trips/{trip_id}", s.handleGetTrip).Methods("GET")
	s.mux.HandleFunc("/api/v1/trips/{trip_id}/location", s.handleGetLocation).Methods("GET")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// handleCreateTrip persists a pending trip and triggers dispatch. The trip
// id is returned whether or not the driver was reachable; the rider learns
// the outcome over its socket.
func (s *Server) handleCreateTrip(w http.ResponseWriter, r *http.Request) {
	var details models.TripDetails
	if err := json.NewDecoder(r.Body).Decode(&details); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	tripID, err := s.coord.RequestTrip(r.Context(), details)
	if err != nil {
		if errors.Is(err, dispatch.ErrInvalidRequest) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("create trip", "error", err)
		writeError(w, http.StatusInternalServerError, "could not create trip")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"trip_id": tripID})
}

type tripResponse struct {
	TripID          string       `json:"trip_id"`
	RiderID         string       `json:"rider_id"`
	DriverID        string       `json:"driver_id"`
	Pickup          models.Coord `json:"pickup"`
	Dropoff         models.Coord `json:"dropoff"`
	Price           float64      `json:"price"`
	DistanceKm      float64      `json:"distance_km"`
	DurationMinutes float64      `json:"duration_minutes"`
	PaymentMethod   string       `json:"payment_method"`
	Status          string       `json:"status"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// handleGetTrip is the reconciliation fetch: a client that was offline when
// a decision landed reads the authoritative status here.
func (s *Server) handleGetTrip(w http.ResponseWriter, r *http.Request) {
	tripID := mux.Vars(r)["trip_id"]
	t, err := s.store.GetTrip(r.Context(), tripID)
	if err != nil {
		if errors.Is(err, storage.ErrTripNotFound) {
			writeError(w, http.StatusNotFound, "trip not found")
			return
		}
		s.logger.Error("get trip", "trip_id", tripID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not read trip")
		return
	}
	writeJSON(w, http.StatusOK, tripResponse{
		TripID:          t.ID,
		RiderID:         t.RiderID,
		DriverID:        t.DriverID,
		Pickup:          t.Pickup,
		Dropoff:         t.Dropoff,
		Price:           t.Price,
		DistanceKm:      t.DistanceKm,
		DurationMinutes: t.DurationMinutes,
		PaymentMethod:   t.PaymentMethod,
		Status:          t.Status,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
	})
}

// handleGetLocation serves the last known driver position, preferring live
// relay state over the tracker.
func (s *Server) handleGetLocation(w http.ResponseWriter, r *http.Request) {
	tripID := mux.Vars(r)["trip_id"]
	if at, ok := s.relay.Active(tripID); ok && !at.Last.Timestamp.IsZero() {
		writeJSON(w, http.StatusOK, at.Last)
		return
	}
	if s.tracker != nil {
		upd, err := s.tracker.Last(r.Context(), tripID)
		if err == nil {
			writeJSON(w, http.StatusOK, upd)
			return
		}
		if !errors.Is(err, track.ErrNoLocation) {
			s.logger.Warn("tracker lookup", "trip_id", tripID, "error", err)
		}
	}
	writeError(w, http.StatusNotFound, "no location recorded for trip")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/consultora1700/mubitt-san-juan/internal/dispatch"
	"github.com/consultora1700/mubitt-san-juan/internal/ingest"
	"github.com/consultora1700/mubitt-san-juan/internal/models"
	"github.com/consultora1700/mubitt-san-juan/internal/trip"
)

// Server exposes the dispatch coordinator over HTTP. Matching itself is
// asynchronous: trip creation returns the pending trip immediately and
// offers reach drivers over their websocket session.
type Server struct {
	coord     *dispatch.Coordinator
	wsreg     *dispatch.WSRegistry
	offers    *dispatch.OfferRegistry
	fcm       *dispatch.FCMChannel     // optional
	locations *ingest.LocationProducer // optional
	logger    *slog.Logger
	mux       *mux.Router
}

type Deps struct {
	Coord     *dispatch.Coordinator
	WS        *dispatch.WSRegistry
	Offers    *dispatch.OfferRegistry
	FCM       *dispatch.FCMChannel
	Locations *ingest.LocationProducer
	Logger    *slog.Logger
}

func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	s := &Server{
		coord:     deps.Coord,
		wsreg:     deps.WS,
		offers:    deps.Offers,
		fcm:       deps.FCM,
		locations: deps.Locations,
		logger:    deps.Logger,
		mux:       mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/trips", s.handleCreateTrip).Methods("POST")
	api.HandleFunc("/trips/{trip_id}", s.handleGetTrip).Methods("GET")
	api.HandleFunc("/trips/{trip_id}/advance", s.handleAdvanceTrip).Methods("POST")
	api.HandleFunc("/trips/{trip_id}/cancel", s.handleCancelTrip).Methods("POST")
	api.HandleFunc("/trips/{trip_id}/rating", s.handleRateTrip).Methods("POST")
	api.HandleFunc("/passengers/{passenger_id}/trips", s.handleTripHistory).Methods("GET")

	api.HandleFunc("/drivers", s.handleRegisterDriver).Methods("POST")
	api.HandleFunc("/drivers/{driver_id}", s.handleGetDriver).Methods("GET")
	api.HandleFunc("/drivers/{driver_id}/status", s.handleDriverStatus).Methods("POST")
	api.HandleFunc("/drivers/{driver_id}/location", s.handleDriverLocation).Methods("POST")
	api.HandleFunc("/drivers/{driver_id}/respond", s.handleOfferResponse).Methods("POST")
	api.HandleFunc("/drivers/{driver_id}/earnings", s.handleEarnings).Methods("GET")
	if s.fcm != nil {
		api.HandleFunc("/drivers/{driver_id}/push-token", s.handlePushToken).Methods("POST")
	}

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{driver_id}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// ---- trips ----

func (s *Server) handleCreateTrip(w http.ResponseWriter, r *http.Request) {
	var req models.TripRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	t, err := s.coord.SubmitTripRequest(r.Context(), req)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, t)
}

func (s *Server) handleGetTrip(w http.ResponseWriter, r *http.Request) {
	t, err := s.coord.GetTrip(mux.Vars(r)["trip_id"])
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleAdvanceTrip(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Event string `json:"event"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	t, err := s.coord.AdvanceTrip(mux.Vars(r)["trip_id"], trip.Event(body.Event))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleCancelTrip(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Actor string `json:"actor"`
	}
	// body is optional; a bare POST cancels as the passenger
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body.Actor == "" {
		body.Actor = "passenger"
	}
	t, err := s.coord.CancelTrip(mux.Vars(r)["trip_id"], body.Actor)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	if t.DriverID != "" {
		_ = s.wsreg.Notify(t.DriverID, "trip_cancelled", t)
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleRateTrip(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Rating   int    `json:"rating"`
		Feedback string `json:"feedback"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	t, err := s.coord.RateTrip(mux.Vars(r)["trip_id"], body.Rating, body.Feedback)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleTripHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	offset := queryInt(r, "offset", 0)
	trips, err := s.coord.ListTrips(mux.Vars(r)["passenger_id"], limit, offset)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"trips":  trips,
		"limit":  limit,
		"offset": offset,
	})
}

// ---- drivers ----

func (s *Server) handleRegisterDriver(w http.ResponseWriter, r *http.Request) {
	var d models.Driver
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	out, err := s.coord.RegisterDriver(d)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleGetDriver(w http.ResponseWriter, r *http.Request) {
	d, err := s.coord.GetDriver(mux.Vars(r)["driver_id"])
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleDriverStatus(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Online bool `json:"online"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	driverID := mux.Vars(r)["driver_id"]
	if err := s.coord.SetDriverOnline(driverID, body.Online); err != nil {
		s.writeDomainError(w, err)
		return
	}
	if !body.Online {
		s.wsreg.Remove(driverID)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDriverLocation(w http.ResponseWriter, r *http.Request) {
	driverID := mux.Vars(r)["driver_id"]
	var loc models.Coord
	if err := json.NewDecoder(r.Body).Decode(&loc); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := s.coord.ReportLocation(driverID, loc); err != nil {
		s.writeDomainError(w, err)
		return
	}
	if s.locations != nil {
		u := ingest.LocationUpdate{DriverID: driverID, Loc: loc, Updated: time.Now()}
		if err := s.locations.PublishLocation(u); err != nil {
			s.logger.Warn("location publish failed", "driver_id", driverID, "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleOfferResponse(w http.ResponseWriter, r *http.Request) {
	driverID := mux.Vars(r)["driver_id"]
	var body struct {
		OfferID string `json:"offer_id"`
		Accept  bool   `json:"accept"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := s.coord.DriverRespond(driverID, body.OfferID, body.Accept); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"offer_id": body.OfferID, "accepted": body.Accept})
}

func (s *Server) handleEarnings(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 7)
	sum, err := s.coord.Earnings(mux.Vars(r)["driver_id"], days)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handlePushToken(w http.ResponseWriter, r *http.Request) {
	driverID := mux.Vars(r)["driver_id"]
	if _, err := s.coord.GetDriver(driverID); err != nil {
		s.writeDomainError(w, err)
		return
	}
	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Token == "" {
		writeError(w, http.StatusBadRequest, "token required")
		return
	}
	s.fcm.RegisterToken(driverID, body.Token)
	w.WriteHeader(http.StatusNoContent)
}

// ---- websocket ----

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["driver_id"]
	if _, err := s.coord.GetDriver(id); err != nil {
		s.writeDomainError(w, err)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return // Upgrade already wrote the response
	}
	s.wsreg.Add(id, conn)

	// a reconnecting driver may have missed its in-flight offer
	if offer, ok := s.offers.PendingFor(id); ok {
		if err := s.wsreg.Deliver(offer); err != nil {
			s.logger.Warn("offer redelivery failed", "driver_id", id, "error", err)
		}
	}

	go s.readPump(id, conn)
}

// readPump drains inbound frames so close/ping handling runs, and drops
// the session when the connection dies.
func (s *Server) readPump(id string, conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			s.wsreg.RemoveConn(id, conn)
			return
		}
	}
}

// ---- helpers ----

func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case models.IsInvalidInput(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrTripNotFound),
		errors.Is(err, models.ErrDriverNotFound),
		errors.Is(err, models.ErrOfferNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case models.IsIllegalTransition(err),
		errors.Is(err, models.ErrDriverUnavailable),
		errors.Is(err, models.ErrStaleOffer):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, models.ErrOfferExpired):
		writeError(w, http.StatusGone, err.Error())
	case errors.Is(err, models.ErrNoDriversAvailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func newID() string { return uuid.NewString() }

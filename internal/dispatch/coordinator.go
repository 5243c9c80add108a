package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/consultora1700/mubitt-san-juan/internal/eta"
	"github.com/consultora1700/mubitt-san-juan/internal/fare"
	"github.com/consultora1700/mubitt-san-juan/internal/geo"
	"github.com/consultora1700/mubitt-san-juan/internal/match"
	"github.com/consultora1700/mubitt-san-juan/internal/models"
	"github.com/consultora1700/mubitt-san-juan/internal/observability"
	"github.com/consultora1700/mubitt-san-juan/internal/payments"
	"github.com/consultora1700/mubitt-san-juan/internal/storage"
	"github.com/consultora1700/mubitt-san-juan/internal/trip"
)

// Area is the service boundary; coordinates outside it are rejected.
// The zero value disables the check.
type Area struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
}

// SanJuanArea is the default service boundary.
var SanJuanArea = Area{MinLat: -32.0, MaxLat: -31.0, MinLon: -69.0, MaxLon: -68.0}

func (a Area) Contains(c models.Coord) bool {
	if a == (Area{}) {
		return true
	}
	return c.Lat >= a.MinLat && c.Lat <= a.MaxLat && c.Lon >= a.MinLon && c.Lon <= a.MaxLon
}

// Matcher is the match engine surface the coordinator drives.
type Matcher interface {
	FindMatch(ctx context.Context, t *models.Trip) (*models.MatchOffer, error)
}

type Deps struct {
	Logger   *slog.Logger
	Geo      geo.Index
	Eta      *eta.Estimator
	Fare     *fare.Calculator
	Surge    *fare.SurgeEstimator
	Store    storage.Store
	Offers   *OfferRegistry
	Events   Events
	Payments payments.Client // optional
	Area     Area
}

// Coordinator owns the authoritative Driver and Trip tables. Mutations
// to a single trip are serialized on that trip's lock; driver location
// updates and unrelated trips proceed in parallel under the short
// table lock. The driver table's availability (CurrentTripID plus the
// reservation held by an in-flight offer) is the single source of
// truth for "assignable".
type Coordinator struct {
	logger   *slog.Logger
	geo      geo.Index
	eta      *eta.Estimator
	fare     *fare.Calculator
	surge    *fare.SurgeEstimator
	store    storage.Store
	offers   *OfferRegistry
	events   Events
	payments payments.Client
	area     Area
	matcher  Matcher

	mu            sync.RWMutex
	drivers       map[string]*driverEntry
	trips         map[string]*tripEntry
	pendingTrips  int
	onlineDrivers int
}

type driverEntry struct {
	d          models.Driver
	reservedBy string // trip id holding assignment rights during an offer
}

type tripEntry struct {
	mu          sync.Mutex
	t           models.Trip
	sm          *trip.Machine
	cancelMatch context.CancelFunc
	holdID      string // payment hold, set after assignment
}

func NewCoordinator(deps Deps) *Coordinator {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Events == nil {
		deps.Events = NopEvents{}
	}
	return &Coordinator{
		logger:   deps.Logger,
		geo:      deps.Geo,
		eta:      deps.Eta,
		fare:     deps.Fare,
		surge:    deps.Surge,
		store:    deps.Store,
		offers:   deps.Offers,
		events:   deps.Events,
		payments: deps.Payments,
		area:     deps.Area,
		drivers:  make(map[string]*driverEntry),
		trips:    make(map[string]*tripEntry),
	}
}

// SetMatcher wires the engine after construction; the engine's driver
// pool is the coordinator itself.
func (c *Coordinator) SetMatcher(m Matcher) { c.matcher = m }

// ---- driver lifecycle ----

func (c *Coordinator) RegisterDriver(d models.Driver) (models.Driver, error) {
	if !d.Class.Valid() {
		return models.Driver{}, models.InvalidInput("vehicle_class", "unknown class "+string(d.Class))
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Rating == 0 {
		d.Rating = 5.0
	}
	d.Online = false
	d.CurrentTripID = ""
	d.Updated = time.Now()

	c.mu.Lock()
	c.drivers[d.ID] = &driverEntry{d: d}
	c.mu.Unlock()

	if err := c.store.SaveDriver(&d); err != nil {
		c.logger.Error("driver persist failed", "driver_id", d.ID, "error", err)
	}
	return d, nil
}

func (c *Coordinator) SetDriverOnline(driverID string, online bool) error {
	c.mu.Lock()
	e, ok := c.drivers[driverID]
	if !ok {
		c.mu.Unlock()
		return models.ErrDriverNotFound
	}
	if !online && (e.d.CurrentTripID != "" || e.reservedBy != "") {
		c.mu.Unlock()
		return fmt.Errorf("driver %s has an active trip: %w", driverID, models.ErrDriverUnavailable)
	}
	if e.d.Online != online {
		if online {
			c.onlineDrivers++
			observability.DriversOnline.Inc()
		} else {
			c.onlineDrivers--
			observability.DriversOnline.Dec()
		}
	}
	e.d.Online = online
	e.d.Updated = time.Now()
	d := e.d
	c.mu.Unlock()

	if online {
		c.geo.Upsert(d.ID, d.Loc, d.Updated)
	} else {
		c.geo.Remove(d.ID)
	}
	if err := c.store.UpdateDriver(&d); err != nil {
		c.logger.Error("driver persist failed", "driver_id", d.ID, "error", err)
	}
	return nil
}

// ReportLocation is the high-frequency write path: driver table and geo
// index only, never blocking on trip or matching work.
func (c *Coordinator) ReportLocation(driverID string, loc models.Coord) error {
	if err := c.validateCoord("location", loc); err != nil {
		return err
	}
	now := time.Now()

	c.mu.Lock()
	e, ok := c.drivers[driverID]
	if !ok {
		c.mu.Unlock()
		return models.ErrDriverNotFound
	}
	e.d.Loc = loc
	e.d.Updated = now
	online := e.d.Online
	c.mu.Unlock()

	if online {
		c.geo.Upsert(driverID, loc, now)
	}
	return nil
}

func (c *Coordinator) GetDriver(driverID string) (models.Driver, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.drivers[driverID]
	if !ok {
		return models.Driver{}, models.ErrDriverNotFound
	}
	return e.d, nil
}

// ---- trip lifecycle ----

func (c *Coordinator) SubmitTripRequest(ctx context.Context, req models.TripRequest) (models.Trip, error) {
	if req.PassengerID == "" {
		return models.Trip{}, models.InvalidInput("passenger_id", "required")
	}
	if !req.Class.Valid() {
		return models.Trip{}, models.InvalidInput("vehicle_class", "unknown class "+string(req.Class))
	}
	if err := c.validateCoord("pickup", req.Pickup); err != nil {
		return models.Trip{}, err
	}
	if err := c.validateCoord("dropoff", req.Dropoff); err != nil {
		return models.Trip{}, err
	}

	now := time.Now()
	req.CreatedAt = now

	distanceKm, durationMin := c.eta.Plan(req.Pickup, req.Dropoff)
	surge := c.surge.Factor(c.demand())
	est, err := c.fare.Estimate(distanceKm, durationMin, req.Class, surge)
	if err != nil {
		return models.Trip{}, err
	}

	t := models.Trip{
		ID:          uuid.NewString(),
		Request:     req,
		Status:      models.TripPending,
		DistanceKm:  distanceKm,
		DurationMin: durationMin,
		Estimated:   est,
		CreatedAt:   now,
	}

	mctx, cancel := context.WithCancel(context.Background())
	entry := &tripEntry{t: t, sm: trip.NewMachine(now), cancelMatch: cancel}

	c.mu.Lock()
	c.trips[t.ID] = entry
	c.pendingTrips++
	c.mu.Unlock()

	if err := c.store.SaveTrip(&t); err != nil {
		c.logger.Error("trip persist failed", "trip_id", t.ID, "error", err)
	}
	c.events.TripStatusChanged(t)
	observability.TripTransitions.WithLabelValues(string(models.TripPending)).Inc()

	go c.runMatch(mctx, t.ID)

	c.logger.Info("trip requested",
		"trip_id", t.ID,
		"passenger_id", req.PassengerID,
		"class", string(req.Class),
		"estimated_total", est.Total,
		"surge", est.SurgeFactor,
	)
	return t, nil
}

func (c *Coordinator) runMatch(ctx context.Context, tripID string) {
	entry, err := c.tripEntry(tripID)
	if err != nil {
		return
	}
	entry.mu.Lock()
	snapshot := entry.t
	cancel := entry.cancelMatch
	entry.mu.Unlock()
	if cancel != nil {
		defer cancel()
	}

	offer, err := c.matcher.FindMatch(ctx, &snapshot)
	switch {
	case err == nil:
		c.events.OfferIssued(*offer)
		c.completeAssignment(entry, offer)
	case errors.Is(err, models.ErrNoDriversAvailable):
		observability.MatchFailures.Inc()
		c.logger.Warn("no drivers available", "trip_id", tripID)
	case errors.Is(err, context.Canceled):
		// trip cancelled while matching
	default:
		c.logger.Error("match failed", "trip_id", tripID, "error", err)
	}
}

// completeAssignment converts an accepted offer into an assignment. If
// the trip was cancelled in the window after acceptance the driver is
// released untouched.
func (c *Coordinator) completeAssignment(entry *tripEntry, offer *models.MatchOffer) {
	entry.mu.Lock()
	_, at, err := entry.sm.Apply(trip.EventMatched, time.Now())
	if err != nil {
		entry.mu.Unlock()
		c.Release(offer.DriverID, offer.TripID)
		return
	}
	entry.t.Status = models.TripAssigned
	entry.t.DriverID = offer.DriverID
	entry.t.AssignedAt = &at
	snapshot := entry.t
	entry.mu.Unlock()

	c.mu.Lock()
	if e, ok := c.drivers[offer.DriverID]; ok {
		e.reservedBy = ""
		e.d.CurrentTripID = offer.TripID
	}
	c.pendingTrips--
	c.mu.Unlock()

	observability.TripTransitions.WithLabelValues(string(models.TripAssigned)).Inc()
	if err := c.store.UpdateTrip(&snapshot); err != nil {
		c.logger.Error("trip persist failed", "trip_id", snapshot.ID, "error", err)
	}
	c.events.DriverAssigned(snapshot)
	c.events.TripStatusChanged(snapshot)
	c.holdFare(entry, snapshot)

	c.logger.Info("driver assigned", "trip_id", snapshot.ID, "driver_id", offer.DriverID, "offer_id", offer.ID)
}

func (c *Coordinator) holdFare(entry *tripEntry, t models.Trip) {
	if c.payments == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		holdID, err := c.payments.Hold(ctx, t.Estimated.Total, t.Request.PaymentRef)
		if err != nil {
			c.logger.Error("fare hold failed", "trip_id", t.ID, "error", err)
			return
		}
		entry.mu.Lock()
		entry.holdID = holdID
		entry.mu.Unlock()
	}()
}

// DriverRespond resolves a pending offer. Late or duplicate responses
// get OfferExpired/StaleOffer; the caller's tables are never corrupted
// because assignment happens only through the engine's reservation.
func (c *Coordinator) DriverRespond(driverID, offerID string, accept bool) error {
	return c.offers.Respond(driverID, offerID, accept)
}

// AdvanceTrip applies a driver-side lifecycle event: arrival, start, or
// completion. Assignment and cancellation have their own entry points.
func (c *Coordinator) AdvanceTrip(tripID string, ev trip.Event) (models.Trip, error) {
	switch ev {
	case trip.EventArrived, trip.EventStarted, trip.EventCompleted:
	default:
		return models.Trip{}, models.InvalidInput("event", "unsupported trip event "+string(ev))
	}
	entry, err := c.tripEntry(tripID)
	if err != nil {
		return models.Trip{}, err
	}

	entry.mu.Lock()
	status, at, err := entry.sm.Apply(ev, time.Now())
	if err != nil {
		entry.mu.Unlock()
		return models.Trip{}, err
	}
	entry.t.Status = status
	switch status {
	case models.TripArriving:
		entry.t.ArrivingAt = &at
	case models.TripInProgress:
		entry.t.StartedAt = &at
	case models.TripCompleted:
		entry.t.CompletedAt = &at
		c.finalizeFare(&entry.t, at)
	}
	snapshot := entry.t
	holdID := entry.holdID
	entry.mu.Unlock()

	observability.TripTransitions.WithLabelValues(string(status)).Inc()
	if status == models.TripCompleted {
		c.releaseDriver(snapshot.DriverID, tripID, true)
		if c.payments != nil && holdID != "" && snapshot.ActualFare != nil {
			c.captureFare(snapshot.ID, holdID, *snapshot.ActualFare)
		}
	}
	if err := c.store.UpdateTrip(&snapshot); err != nil {
		c.logger.Error("trip persist failed", "trip_id", tripID, "error", err)
	}
	c.events.TripStatusChanged(snapshot)
	return snapshot, nil
}

// finalizeFare recomputes the fare from the billed distance and the
// measured ride duration, with the surge locked at request time.
func (c *Coordinator) finalizeFare(t *models.Trip, completedAt time.Time) {
	durationMin := t.DurationMin
	if t.StartedAt != nil {
		measured := int(math.Ceil(completedAt.Sub(*t.StartedAt).Minutes()))
		if measured > 0 {
			durationMin = measured
		}
	}
	final, err := c.fare.Estimate(t.DistanceKm, durationMin, t.Request.Class, t.Estimated.SurgeFactor)
	if err != nil {
		c.logger.Error("final fare failed", "trip_id", t.ID, "error", err)
		total := t.Estimated.Total
		t.ActualFare = &total
		return
	}
	t.ActualFare = &final.Total
}

func (c *Coordinator) captureFare(tripID, holdID string, amount float64) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.payments.Capture(ctx, holdID, amount); err != nil {
			c.logger.Error("fare capture failed", "trip_id", tripID, "error", err)
		}
	}()
}

// CancelTrip cancels a trip on behalf of the passenger or the system.
// A pending match (including an outstanding offer) is torn down and the
// driver becomes assignable again without delay.
func (c *Coordinator) CancelTrip(tripID, actor string) (models.Trip, error) {
	entry, err := c.tripEntry(tripID)
	if err != nil {
		return models.Trip{}, err
	}

	entry.mu.Lock()
	wasPending := entry.t.Status == models.TripPending
	_, at, err := entry.sm.Apply(trip.EventCancelled, time.Now())
	if err != nil {
		entry.mu.Unlock()
		return models.Trip{}, err
	}
	entry.t.Status = models.TripCancelled
	entry.t.CancelledAt = &at
	driverID := entry.t.DriverID
	holdID := entry.holdID
	snapshot := entry.t
	cancelMatch := entry.cancelMatch
	entry.mu.Unlock()

	if cancelMatch != nil {
		cancelMatch()
	}
	c.mu.Lock()
	if wasPending {
		c.pendingTrips--
	}
	c.mu.Unlock()
	if driverID != "" {
		c.releaseDriver(driverID, tripID, false)
	}
	if c.payments != nil && holdID != "" {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := c.payments.Release(ctx, holdID); err != nil {
				c.logger.Error("fare release failed", "trip_id", tripID, "error", err)
			}
		}()
	}

	observability.TripTransitions.WithLabelValues(string(models.TripCancelled)).Inc()
	if err := c.store.UpdateTrip(&snapshot); err != nil {
		c.logger.Error("trip persist failed", "trip_id", tripID, "error", err)
	}
	c.events.TripStatusChanged(snapshot)
	c.logger.Info("trip cancelled", "trip_id", tripID, "actor", actor)
	return snapshot, nil
}

// RateTrip records a passenger rating for a completed trip and folds it
// into the driver's running average.
func (c *Coordinator) RateTrip(tripID string, rating int, feedback string) (models.Trip, error) {
	if rating < 1 || rating > 5 {
		return models.Trip{}, models.InvalidInput("rating", "must be between 1 and 5")
	}
	entry, err := c.tripEntry(tripID)
	if err != nil {
		return models.Trip{}, err
	}

	entry.mu.Lock()
	if entry.t.Status != models.TripCompleted {
		status := entry.t.Status
		entry.mu.Unlock()
		return models.Trip{}, &models.IllegalTransitionError{From: status, Event: "rate_trip"}
	}
	if entry.t.Rating != nil {
		entry.mu.Unlock()
		return models.Trip{}, models.InvalidInput("rating", "trip already rated")
	}
	entry.t.Rating = &rating
	entry.t.Feedback = feedback
	snapshot := entry.t
	entry.mu.Unlock()

	// average over ratings received, not trips driven; the first rating
	// replaces the registration default
	c.mu.Lock()
	if e, ok := c.drivers[snapshot.DriverID]; ok {
		e.d.RatingCount++
		e.d.Rating += (float64(rating) - e.d.Rating) / float64(e.d.RatingCount)
		d := e.d
		c.mu.Unlock()
		if err := c.store.UpdateDriver(&d); err != nil {
			c.logger.Error("driver persist failed", "driver_id", d.ID, "error", err)
		}
	} else {
		c.mu.Unlock()
	}

	if err := c.store.UpdateTrip(&snapshot); err != nil {
		c.logger.Error("trip persist failed", "trip_id", tripID, "error", err)
	}
	return snapshot, nil
}

func (c *Coordinator) GetTrip(tripID string) (models.Trip, error) {
	if entry, err := c.tripEntry(tripID); err == nil {
		entry.mu.Lock()
		defer entry.mu.Unlock()
		return entry.t, nil
	}
	t, err := c.store.GetTrip(tripID)
	if err != nil {
		return models.Trip{}, err
	}
	return *t, nil
}

func (c *Coordinator) ListTrips(passengerID string, limit, offset int) ([]*models.Trip, error) {
	return c.store.ListTripsByPassenger(passengerID, limit, offset)
}

// ---- earnings ----

type DailyEarnings struct {
	Date     string  `json:"date"`
	Trips    int     `json:"trips"`
	Earnings float64 `json:"earnings"`
}

type EarningsSummary struct {
	PeriodDays    int             `json:"period_days"`
	TotalEarnings float64         `json:"total_earnings"`
	AveragePerDay float64         `json:"average_per_day"`
	TotalTrips    int             `json:"total_trips"`
	Daily         []DailyEarnings `json:"daily_breakdown"`
}

// Earnings aggregates a driver's completed trips over the last N days,
// oldest day first.
func (c *Coordinator) Earnings(driverID string, days int) (EarningsSummary, error) {
	if days <= 0 {
		days = 7
	}
	if _, err := c.GetDriver(driverID); err != nil {
		return EarningsSummary{}, err
	}

	now := time.Now()
	since := now.AddDate(0, 0, -(days - 1)).Truncate(24 * time.Hour)
	trips, err := c.store.ListCompletedTripsByDriver(driverID, since)
	if err != nil {
		return EarningsSummary{}, err
	}

	byDay := make(map[string]*DailyEarnings, days)
	summary := EarningsSummary{PeriodDays: days}
	for i := days - 1; i >= 0; i-- {
		date := now.AddDate(0, 0, -i).Format("2006-01-02")
		summary.Daily = append(summary.Daily, DailyEarnings{Date: date})
		byDay[date] = &summary.Daily[len(summary.Daily)-1]
	}
	for _, t := range trips {
		if t.CompletedAt == nil || t.ActualFare == nil {
			continue
		}
		day, ok := byDay[t.CompletedAt.Format("2006-01-02")]
		if !ok {
			continue
		}
		day.Trips++
		day.Earnings += *t.ActualFare
		summary.TotalTrips++
		summary.TotalEarnings += *t.ActualFare
	}
	summary.AveragePerDay = summary.TotalEarnings / float64(days)
	return summary, nil
}

// ---- match.DriverPool ----

// Candidates returns assignable drivers near the pickup: online, no
// current trip, not reserved, matching vehicle class, position within
// the liveness window.
func (c *Coordinator) Candidates(center models.Coord, radiusKm float64, class models.VehicleClass, limit int) []match.Candidate {
	entries := c.geo.QueryNearby(center, radiusKm, limit*2)

	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]match.Candidate, 0, len(entries))
	for _, ge := range entries {
		e, ok := c.drivers[ge.DriverID]
		if !ok {
			continue
		}
		if !e.d.Online || e.d.CurrentTripID != "" || e.reservedBy != "" {
			continue
		}
		if e.d.Class != class {
			continue
		}
		out = append(out, match.Candidate{Driver: e.d, DistanceKm: ge.DistanceKm})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Reserve grants exclusive assignment rights on a driver to one trip.
// Compare-and-swap under the table lock: assign only if still free.
func (c *Coordinator) Reserve(driverID, tripID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.drivers[driverID]
	if !ok || !e.d.Online || e.d.CurrentTripID != "" {
		return false
	}
	if e.reservedBy != "" && e.reservedBy != tripID {
		return false
	}
	e.reservedBy = tripID
	return true
}

// Release drops a reservation if tripID still holds it.
func (c *Coordinator) Release(driverID, tripID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.drivers[driverID]; ok && e.reservedBy == tripID {
		e.reservedBy = ""
	}
}

// releaseDriver clears a driver's assignment after trip completion or
// cancellation. completed additionally bumps the trip counter.
func (c *Coordinator) releaseDriver(driverID, tripID string, completed bool) {
	c.mu.Lock()
	e, ok := c.drivers[driverID]
	if !ok {
		c.mu.Unlock()
		return
	}
	if e.d.CurrentTripID == tripID {
		e.d.CurrentTripID = ""
	}
	if e.reservedBy == tripID {
		e.reservedBy = ""
	}
	if completed {
		e.d.TripCount++
	}
	d := e.d
	c.mu.Unlock()

	if err := c.store.UpdateDriver(&d); err != nil {
		c.logger.Error("driver persist failed", "driver_id", driverID, "error", err)
	}
}

// ---- helpers ----

func (c *Coordinator) tripEntry(tripID string) (*tripEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.trips[tripID]
	if !ok {
		return nil, models.ErrTripNotFound
	}
	return entry, nil
}

func (c *Coordinator) demand() fare.DemandSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return fare.DemandSnapshot{PendingTrips: c.pendingTrips, OnlineDrivers: c.onlineDrivers}
}

func (c *Coordinator) validateCoord(field string, coord models.Coord) error {
	if coord.Lat < -90 || coord.Lat > 90 || coord.Lon < -180 || coord.Lon > 180 {
		return models.InvalidInput(field, "malformed coordinates")
	}
	if !c.area.Contains(coord) {
		return models.InvalidInput(field, "outside service area")
	}
	return nil
}

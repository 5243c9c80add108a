package match

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/consultora1700/mubitt-san-juan/internal/models"
	"github.com/consultora1700/mubitt-san-juan/internal/observability"
)

// Candidate is an assignable driver with its distance to the pickup.
type Candidate struct {
	Driver     models.Driver
	DistanceKm float64
}

// DriverPool is implemented by the coordinator over the driver table
// and the geo index. Reserve is the compare-and-swap that grants the
// engine exclusive assignment rights on a driver; it fails when the
// driver is offline, gone stale, or already held for another trip.
type DriverPool interface {
	Candidates(center models.Coord, radiusKm float64, class models.VehicleClass, limit int) []Candidate
	Reserve(driverID, tripID string) bool
	Release(driverID, tripID string)
}

// Offers delivers an offer to its driver and blocks until the driver
// responds or ctx expires. The returned bool is the driver's decision.
type Offers interface {
	Issue(ctx context.Context, offer *models.MatchOffer) (bool, error)
}

type Config struct {
	InitialRadiusKm float64
	MaxRadiusKm     float64
	CandidateLimit  int
	OfferTimeout    time.Duration
	RetryBudget     int
	DistanceWeight  float64
	RatingWeight    float64
}

func DefaultConfig() Config {
	return Config{
		InitialRadiusKm: 2,
		MaxRadiusKm:     16,
		CandidateLimit:  10,
		OfferTimeout:    15 * time.Second,
		RetryBudget:     8,
		DistanceWeight:  1.0,
		RatingWeight:    0.5,
	}
}

// Engine matches one trip to one driver: expanding-radius search,
// ranked sequential offers, bounded retries.
type Engine struct {
	Pool   DriverPool
	Offers Offers
	Cfg    Config
}

func NewEngine(pool DriverPool, offers Offers, cfg Config) *Engine {
	if cfg.InitialRadiusKm <= 0 {
		cfg = DefaultConfig()
	}
	return &Engine{Pool: pool, Offers: offers, Cfg: cfg}
}

// FindMatch runs the offer loop for a pending trip. It returns the
// accepted offer, ErrNoDriversAvailable when candidates or the retry
// budget are exhausted, or ctx.Err() when the trip was cancelled while
// matching. The reserved driver is released on every non-accept path.
func (e *Engine) FindMatch(ctx context.Context, t *models.Trip) (*models.MatchOffer, error) {
	start := time.Now()
	tried := make(map[string]bool)
	attempts := 0

	radius := e.Cfg.InitialRadiusKm
	for {
		for _, c := range e.rank(t, radius, tried) {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if attempts >= e.Cfg.RetryBudget {
				return nil, models.ErrNoDriversAvailable
			}
			tried[c.Driver.ID] = true

			if !e.Pool.Reserve(c.Driver.ID, t.ID) {
				// lost the driver to a concurrent trip; not an attempt
				continue
			}
			attempts++

			offer := e.buildOffer(t, c)
			observability.OffersIssued.Inc()

			octx, cancel := context.WithTimeout(ctx, e.Cfg.OfferTimeout)
			accepted, err := e.Offers.Issue(octx, offer)
			cancel()

			if ctx.Err() != nil {
				// trip cancelled mid-offer: free the driver immediately
				e.Pool.Release(c.Driver.ID, t.ID)
				return nil, ctx.Err()
			}
			switch {
			case err != nil && errors.Is(err, context.DeadlineExceeded):
				offer.Outcome = models.OfferExpired
				observability.OffersExpired.Inc()
			case err != nil:
				offer.Outcome = models.OfferExpired
			case accepted:
				offer.Outcome = models.OfferAccepted
				observability.MatchesTotal.Inc()
				observability.MatchLatency.Observe(time.Since(start).Seconds())
				return offer, nil
			default:
				offer.Outcome = models.OfferRejected
				observability.OffersRejected.Inc()
			}
			e.Pool.Release(c.Driver.ID, t.ID)
		}

		if radius >= e.Cfg.MaxRadiusKm {
			return nil, models.ErrNoDriversAvailable
		}
		radius *= 2
		if radius > e.Cfg.MaxRadiusKm {
			radius = e.Cfg.MaxRadiusKm
		}
	}
}

// rank scores untried candidates within radius. Closer and higher
// rated win: score = w1*distance_km + w2*(5 - rating).
func (e *Engine) rank(t *models.Trip, radiusKm float64, tried map[string]bool) []scored {
	cands := e.Pool.Candidates(t.Request.Pickup, radiusKm, t.Request.Class, e.Cfg.CandidateLimit)
	out := make([]scored, 0, len(cands))
	for _, c := range cands {
		if tried[c.Driver.ID] {
			continue
		}
		s := e.Cfg.DistanceWeight*c.DistanceKm + e.Cfg.RatingWeight*(5.0-c.Driver.Rating)
		out = append(out, scored{Candidate: c, score: s})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].score < out[j].score })
	return out
}

type scored struct {
	Candidate
	score float64
}

func (e *Engine) buildOffer(t *models.Trip, c scored) *models.MatchOffer {
	now := time.Now()
	return &models.MatchOffer{
		ID:         uuid.NewString(),
		TripID:     t.ID,
		DriverID:   c.Driver.ID,
		DistanceKm: c.DistanceKm,
		EtaSeconds: c.DistanceKm / 30.0 * 3600.0,
		Score:      c.score,
		IssuedAt:   now,
		ExpiresAt:  now.Add(e.Cfg.OfferTimeout),
		Outcome:    models.OfferPending,
	}
}

package fare

import (
	"math"

	"github.com/consultora1700/mubitt-san-juan/internal/models"
)

// Rate card in ARS. Base fare depends on vehicle class; distance and
// time rates are class-independent.
type Config struct {
	BaseFares map[models.VehicleClass]float64
	PerKm     float64
	PerMin    float64
	MinSurge  float64
	MaxSurge  float64
	Currency  string
}

func DefaultConfig() Config {
	return Config{
		BaseFares: map[models.VehicleClass]float64{
			models.VehicleEconomy: 400,
			models.VehicleComfort: 500,
			models.VehicleXL:      650,
		},
		PerKm:    120,
		PerMin:   18,
		MinSurge: 1.0,
		MaxSurge: 3.0,
		Currency: "ARS",
	}
}

// Calculator computes fare estimates. It is deterministic: the surge
// factor is an input, produced by SurgeEstimator from a demand
// snapshot, never generated here.
type Calculator struct {
	cfg Config
}

func NewCalculator(cfg Config) *Calculator {
	if cfg.BaseFares == nil {
		cfg = DefaultConfig()
	}
	return &Calculator{cfg: cfg}
}

// Estimate prices a trip: (base + distance + time) * surge, surge
// clamped to the configured range, total rounded to cents.
func (c *Calculator) Estimate(distanceKm float64, durationMin int, class models.VehicleClass, surge float64) (models.FareEstimate, error) {
	if distanceKm < 0 {
		return models.FareEstimate{}, models.InvalidInput("distance_km", "must be non-negative")
	}
	if durationMin < 0 {
		return models.FareEstimate{}, models.InvalidInput("duration_min", "must be non-negative")
	}
	base, ok := c.cfg.BaseFares[class]
	if !ok {
		return models.FareEstimate{}, models.InvalidInput("vehicle_class", "unknown class "+string(class))
	}

	surge = c.Clamp(surge)
	est := models.FareEstimate{
		Base:         base,
		DistanceFare: distanceKm * c.cfg.PerKm,
		TimeFare:     float64(durationMin) * c.cfg.PerMin,
		SurgeFactor:  surge,
		Currency:     c.cfg.Currency,
	}
	est.Total = round2((est.Base + est.DistanceFare + est.TimeFare) * surge)
	return est, nil
}

// Clamp bounds a surge factor to the configured range.
func (c *Calculator) Clamp(surge float64) float64 {
	return math.Min(math.Max(surge, c.cfg.MinSurge), c.cfg.MaxSurge)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// DemandSnapshot is the observable demand signal: how many trips are
// waiting for a driver against how many drivers are online.
type DemandSnapshot struct {
	PendingTrips  int
	OnlineDrivers int
}

// SurgeEstimator derives a surge factor from demand. Supply meeting
// demand yields 1.0; each whole unit of excess demand per driver adds
// Slope, clamped to the calculator's range.
type SurgeEstimator struct {
	cfg   Config
	Slope float64
}

func NewSurgeEstimator(cfg Config) *SurgeEstimator {
	if cfg.BaseFares == nil {
		cfg = DefaultConfig()
	}
	return &SurgeEstimator{cfg: cfg, Slope: 0.5}
}

func (s *SurgeEstimator) Factor(d DemandSnapshot) float64 {
	drivers := d.OnlineDrivers
	if drivers < 1 {
		drivers = 1
	}
	ratio := float64(d.PendingTrips) / float64(drivers)
	surge := s.cfg.MinSurge
	if ratio > 1 {
		surge = 1 + s.Slope*(ratio-1)
	}
	return math.Min(math.Max(surge, s.cfg.MinSurge), s.cfg.MaxSurge)
}

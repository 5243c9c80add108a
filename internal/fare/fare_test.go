package fare

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consultora1700/mubitt-san-juan/internal/models"
)

func TestEstimateEconomyBaseline(t *testing.T) {
	c := NewCalculator(DefaultConfig())
	est, err := c.Estimate(5, 15, models.VehicleEconomy, 1.0)
	require.NoError(t, err)
	assert.Equal(t, 400.0, est.Base)
	assert.Equal(t, 600.0, est.DistanceFare)
	assert.Equal(t, 270.0, est.TimeFare)
	assert.Equal(t, 1.0, est.SurgeFactor)
	assert.Equal(t, 1270.0, est.Total)
	assert.Equal(t, "ARS", est.Currency)
}

func TestEstimatePerClassBases(t *testing.T) {
	c := NewCalculator(DefaultConfig())
	cases := []struct {
		class models.VehicleClass
		base  float64
	}{
		{models.VehicleEconomy, 400},
		{models.VehicleComfort, 500},
		{models.VehicleXL, 650},
	}
	for _, tc := range cases {
		est, err := c.Estimate(2, 10, tc.class, 1.0)
		require.NoError(t, err, string(tc.class))
		assert.Equal(t, tc.base, est.Base, string(tc.class))
	}
}

func TestEstimateSurgeClamped(t *testing.T) {
	c := NewCalculator(DefaultConfig())

	est, err := c.Estimate(5, 15, models.VehicleEconomy, 10.0)
	require.NoError(t, err)
	assert.Equal(t, 3.0, est.SurgeFactor)
	assert.Equal(t, 3810.0, est.Total)

	est, err = c.Estimate(5, 15, models.VehicleEconomy, 0.2)
	require.NoError(t, err)
	assert.Equal(t, 1.0, est.SurgeFactor)
}

func TestEstimateRejectsInvalidInput(t *testing.T) {
	c := NewCalculator(DefaultConfig())

	_, err := c.Estimate(-1, 10, models.VehicleEconomy, 1.0)
	assert.True(t, models.IsInvalidInput(err))

	_, err = c.Estimate(5, -1, models.VehicleEconomy, 1.0)
	assert.True(t, models.IsInvalidInput(err))

	_, err = c.Estimate(5, 10, models.VehicleClass("limousine"), 1.0)
	assert.True(t, models.IsInvalidInput(err))
}

func TestSurgeFactorFromDemand(t *testing.T) {
	s := NewSurgeEstimator(DefaultConfig())

	// supply covers demand
	assert.Equal(t, 1.0, s.Factor(DemandSnapshot{PendingTrips: 3, OnlineDrivers: 10}))
	// 2x demand -> 1 + 0.5
	assert.Equal(t, 1.5, s.Factor(DemandSnapshot{PendingTrips: 20, OnlineDrivers: 10}))
	// extreme demand clamps at max
	assert.Equal(t, 3.0, s.Factor(DemandSnapshot{PendingTrips: 100, OnlineDrivers: 1}))
	// no drivers online counts as one to keep the ratio finite
	assert.Equal(t, 1.5, s.Factor(DemandSnapshot{PendingTrips: 2, OnlineDrivers: 0}))
}

func TestSurgeDeterministic(t *testing.T) {
	s := NewSurgeEstimator(DefaultConfig())
	d := DemandSnapshot{PendingTrips: 7, OnlineDrivers: 4}
	first := s.Factor(d)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, s.Factor(d))
	}
}

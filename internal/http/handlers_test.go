package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consultora1700/mubitt-san-juan/internal/dispatch"
	"github.com/consultora1700/mubitt-san-juan/internal/eta"
	"github.com/consultora1700/mubitt-san-juan/internal/fare"
	"github.com/consultora1700/mubitt-san-juan/internal/geo"
	"github.com/consultora1700/mubitt-san-juan/internal/match"
	"github.com/consultora1700/mubitt-san-juan/internal/models"
	"github.com/consultora1700/mubitt-san-juan/internal/storage"
)

func newTestServer(t *testing.T) (*Server, *dispatch.Coordinator, *dispatch.OfferRegistry) {
	t.Helper()
	cfg := fare.DefaultConfig()
	wsreg := dispatch.NewWSRegistry()
	offers := dispatch.NewOfferRegistry(wsreg)
	coord := dispatch.NewCoordinator(dispatch.Deps{
		Geo:    geo.NewMemoryIndex(time.Minute),
		Eta:    &eta.Estimator{},
		Fare:   fare.NewCalculator(cfg),
		Surge:  fare.NewSurgeEstimator(cfg),
		Store:  storage.NewMemoryStore(),
		Offers: offers,
		Area:   dispatch.SanJuanArea,
	})
	ecfg := match.DefaultConfig()
	ecfg.OfferTimeout = 100 * time.Millisecond
	coord.SetMatcher(match.NewEngine(coord, offers, ecfg))
	srv := NewServer(Deps{Coord: coord, WS: wsreg, Offers: offers})
	return srv, coord, offers
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func TestCreateTripReturnsPendingWithEstimate(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doJSON(t, srv, "POST", "/api/v1/trips", models.TripRequest{
		PassengerID: "p1",
		Pickup:      models.Coord{Lat: -31.5375, Lon: -68.5364},
		Dropoff:     models.Coord{Lat: -31.5441, Lon: -68.5504},
		Class:       models.VehicleEconomy,
	})
	require.Equal(t, http.StatusAccepted, rec.Code)

	var trip models.Trip
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &trip))
	assert.Equal(t, models.TripPending, trip.Status)
	assert.NotEmpty(t, trip.ID)
	assert.Greater(t, trip.Estimated.Total, 0.0)

	rec = doJSON(t, srv, "GET", "/api/v1/trips/"+trip.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateTripRejectsBadInput(t *testing.T) {
	srv, _, _ := newTestServer(t)

	// outside the service area
	rec := doJSON(t, srv, "POST", "/api/v1/trips", models.TripRequest{
		PassengerID: "p1",
		Pickup:      models.Coord{Lat: -34.6, Lon: -58.4},
		Dropoff:     models.Coord{Lat: -31.54, Lon: -68.55},
		Class:       models.VehicleEconomy,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// unknown vehicle class
	rec = doJSON(t, srv, "POST", "/api/v1/trips", map[string]any{
		"passenger_id":  "p1",
		"pickup":        models.Coord{Lat: -31.5375, Lon: -68.5364},
		"dropoff":       models.Coord{Lat: -31.5441, Lon: -68.5504},
		"vehicle_class": "helicopter",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetTripNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doJSON(t, srv, "GET", "/api/v1/trips/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDriverLifecycleOverHTTP(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := doJSON(t, srv, "POST", "/api/v1/drivers", models.Driver{
		Name:  "Marta",
		Class: models.VehicleEconomy,
		Loc:   models.Coord{Lat: -31.5375, Lon: -68.5364},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var d models.Driver
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	require.NotEmpty(t, d.ID)
	assert.False(t, d.Online)

	rec = doJSON(t, srv, "POST", "/api/v1/drivers/"+d.ID+"/status", map[string]bool{"online": true})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, srv, "POST", "/api/v1/drivers/"+d.ID+"/location", models.Coord{Lat: -31.540, Lon: -68.540})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, srv, "GET", "/api/v1/drivers/"+d.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	assert.True(t, d.Online)
	assert.InDelta(t, -31.540, d.Loc.Lat, 1e-9)
}

func TestOfferResponseOverHTTP(t *testing.T) {
	srv, coord, offers := newTestServer(t)

	d, err := coord.RegisterDriver(models.Driver{ID: "d1", Class: models.VehicleEconomy, Loc: models.Coord{Lat: -31.5375, Lon: -68.5364}})
	require.NoError(t, err)
	require.NoError(t, coord.SetDriverOnline(d.ID, true))
	require.NoError(t, coord.ReportLocation(d.ID, d.Loc))

	rec := doJSON(t, srv, "POST", "/api/v1/trips", models.TripRequest{
		PassengerID: "p1",
		Pickup:      models.Coord{Lat: -31.5375, Lon: -68.5364},
		Dropoff:     models.Coord{Lat: -31.5441, Lon: -68.5504},
		Class:       models.VehicleEconomy,
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	var trip models.Trip
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &trip))

	var offer models.MatchOffer
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		var found bool
		if offer, found = offers.PendingFor("d1"); found {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	require.NotEmpty(t, offer.ID, "no offer issued")

	rec = doJSON(t, srv, "POST", "/api/v1/drivers/d1/respond", map[string]any{
		"offer_id": offer.ID,
		"accept":   true,
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	// responding again to the same offer is stale
	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rec = doJSON(t, srv, "POST", "/api/v1/drivers/d1/respond", map[string]any{
			"offer_id": offer.ID,
			"accept":   true,
		})
		if rec.Code != http.StatusOK {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	assert.Contains(t, []int{http.StatusConflict, http.StatusGone}, rec.Code)
}

func TestTripHistoryPagination(t *testing.T) {
	srv, _, _ := newTestServer(t)

	for i := 0; i < 3; i++ {
		rec := doJSON(t, srv, "POST", "/api/v1/trips", models.TripRequest{
			PassengerID: "frequent",
			Pickup:      models.Coord{Lat: -31.5375, Lon: -68.5364},
			Dropoff:     models.Coord{Lat: -31.5441, Lon: -68.5504},
			Class:       models.VehicleEconomy,
		})
		require.Equal(t, http.StatusAccepted, rec.Code)
	}

	rec := doJSON(t, srv, "GET", "/api/v1/passengers/frequent/trips?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page struct {
		Trips []models.Trip `json:"trips"`
		Limit int           `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Len(t, page.Trips, 2)
	assert.Equal(t, 2, page.Limit)
}

func TestPushTokenRegistration(t *testing.T) {
	_, coord, offers := newTestServer(t)
	srv := NewServer(Deps{
		Coord:  coord,
		WS:     dispatch.NewWSRegistry(),
		Offers: offers,
		FCM:    dispatch.NewFCMChannel("https://fcm.example/v1/send", "key"),
	})

	d, err := coord.RegisterDriver(models.Driver{Name: "Ana", Class: models.VehicleEconomy, Loc: models.Coord{Lat: -31.54, Lon: -68.54}})
	require.NoError(t, err)

	rec := doJSON(t, srv, "POST", "/api/v1/drivers/"+d.ID+"/push-token", map[string]string{"token": "device-token-1"})
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, srv, "POST", "/api/v1/drivers/"+d.ID+"/push-token", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv, "POST", "/api/v1/drivers/ghost/push-token", map[string]string{"token": "x"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthz(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := doJSON(t, srv, "GET", "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

package httpapi

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consultora1700/mubitt-san-juan/internal/dispatch"
	"github.com/consultora1700/mubitt-san-juan/internal/models"
)

type wsFrame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func dialWS(t *testing.T, ts *httptest.Server, driverID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/" + driverID
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err, "ws dial failed")
	if resp != nil {
		resp.Body.Close()
	}
	return conn
}

func onlineDriver(t *testing.T, coord *dispatch.Coordinator, id string) {
	t.Helper()
	loc := models.Coord{Lat: -31.5375, Lon: -68.5364}
	_, err := coord.RegisterDriver(models.Driver{ID: id, Class: models.VehicleEconomy, Loc: loc})
	require.NoError(t, err)
	require.NoError(t, coord.SetDriverOnline(id, true))
	require.NoError(t, coord.ReportLocation(id, loc))
}

func TestWSUpgradeThroughMiddleware(t *testing.T) {
	srv, coord, _ := newTestServer(t)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	onlineDriver(t, coord, "d1")
	conn := dialWS(t, ts, "d1")
	defer conn.Close()
}

func TestOfferDeliveredOverWS(t *testing.T) {
	srv, coord, _ := newTestServer(t)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	onlineDriver(t, coord, "d1")
	conn := dialWS(t, ts, "d1")
	defer conn.Close()

	rec := doJSON(t, srv, "POST", "/api/v1/trips", models.TripRequest{
		PassengerID: "p1",
		Pickup:      models.Coord{Lat: -31.5375, Lon: -68.5364},
		Dropoff:     models.Coord{Lat: -31.5441, Lon: -68.5504},
		Class:       models.VehicleEconomy,
	})
	require.Equal(t, 202, rec.Code)

	// the engine re-issues on expiry; accept whichever offer is current
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var frame wsFrame
		require.NoError(t, conn.ReadJSON(&frame))
		require.Equal(t, "match_offer", frame.Type)

		var offer models.MatchOffer
		require.NoError(t, json.Unmarshal(frame.Payload, &offer))
		assert.Equal(t, "d1", offer.DriverID)
		require.NotEmpty(t, offer.ID)

		rec = doJSON(t, srv, "POST", "/api/v1/drivers/d1/respond", map[string]any{
			"offer_id": offer.ID,
			"accept":   true,
		})
		if rec.Code == 200 {
			return
		}
	}
	t.Fatal("never accepted an offer")
}

func TestReconnectRedeliversPendingOffer(t *testing.T) {
	srv, coord, offers := newTestServer(t)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	onlineDriver(t, coord, "d1")

	// trip submitted while the driver has no session
	rec := doJSON(t, srv, "POST", "/api/v1/trips", models.TripRequest{
		PassengerID: "p1",
		Pickup:      models.Coord{Lat: -31.5375, Lon: -68.5364},
		Dropoff:     models.Coord{Lat: -31.5441, Lon: -68.5504},
		Class:       models.VehicleEconomy,
	})
	require.Equal(t, 202, rec.Code)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := offers.PendingFor("d1"); ok {
			break
		}
		time.Sleep(2 * time.Millisecond)
	}
	_, ok := offers.PendingFor("d1")
	require.True(t, ok, "no offer outstanding")

	// connecting now must replay the in-flight offer
	conn := dialWS(t, ts, "d1")
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame wsFrame
	require.NoError(t, conn.ReadJSON(&frame))
	assert.Equal(t, "match_offer", frame.Type)
}

func TestClosedSessionIsRemoved(t *testing.T) {
	srv, coord, _ := newTestServer(t)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	onlineDriver(t, coord, "d1")
	conn := dialWS(t, ts, "d1")
	require.NoError(t, srv.wsreg.Deliver(models.MatchOffer{DriverID: "d1"}))

	conn.Close()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if srv.wsreg.Deliver(models.MatchOffer{DriverID: "d1"}) != nil {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("session still registered after close")
}

func TestWSRejectsUnknownDriver(t *testing.T) {
	srv, _, _ := newTestServer(t)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/ghost"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, 404, resp.StatusCode)
}

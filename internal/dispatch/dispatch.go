package dispatch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/consultora1700/mubitt-san-juan/internal/models"
)

// WebhookChannel notifies a driver-app backend over plain HTTP. Used in
// deployments where the driver fleet is fronted by its own gateway
// rather than connecting to our websocket directly.
type WebhookChannel struct {
	Endpoint string
	Client   *http.Client
}

func NewWebhookChannel(endpoint string) *WebhookChannel {
	return &WebhookChannel{Endpoint: endpoint, Client: &http.Client{Timeout: 2 * time.Second}}
}

func (d *WebhookChannel) Deliver(offer models.MatchOffer) error {
	b, err := json.Marshal(map[string]any{"trip_id": offer.TripID, "offer": offer})
	if err != nil {
		return err
	}
	resp, err := d.Client.Post(d.Endpoint, "application/json", bytes.NewReader(b))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	return nil
}

package dispatch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/consultora1700/mubitt-san-juan/internal/models"
)

// FCMChannel posts offers to the FCM HTTPv1 endpoint. Device tokens are
// registered by the driver app when it comes online.
type FCMChannel struct {
	Endpoint string
	Key      string
	Client   *http.Client

	mu     sync.RWMutex
	tokens map[string]string // driverID -> device token
}

func NewFCMChannel(endpoint, key string) *FCMChannel {
	return &FCMChannel{
		Endpoint: endpoint,
		Key:      key,
		Client:   &http.Client{Timeout: 3 * time.Second},
		tokens:   make(map[string]string),
	}
}

func (f *FCMChannel) RegisterToken(driverID, token string) {
	f.mu.Lock()
	f.tokens[driverID] = token
	f.mu.Unlock()
}

func (f *FCMChannel) Deliver(offer models.MatchOffer) error {
	f.mu.RLock()
	token, ok := f.tokens[offer.DriverID]
	f.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no device token for driver %s", offer.DriverID)
	}

	body := map[string]any{"message": map[string]any{
		"token": token,
		"data":  map[string]any{"trip_id": offer.TripID, "offer": offer},
	}}
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, f.Endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if f.Key != "" {
		req.Header.Set("Authorization", "Bearer "+f.Key)
	}
	resp, err := f.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("fcm status %d", resp.StatusCode)
	}
	return nil
}

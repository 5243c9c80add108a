package dispatch

import (
	"context"
	"log/slog"

	"github.com/consultora1700/mubitt-san-juan/internal/models"
)

// Events receives lifecycle notifications for telemetry and rider/driver
// notification collaborators. Implementations must not block; the
// coordinator calls them on mutation paths.
type Events interface {
	TripStatusChanged(t models.Trip)
	OfferIssued(o models.MatchOffer)
	DriverAssigned(t models.Trip)
}

// NopEvents discards everything.
type NopEvents struct{}

func (NopEvents) TripStatusChanged(models.Trip) {}
func (NopEvents) OfferIssued(models.MatchOffer) {}
func (NopEvents) DriverAssigned(models.Trip) {}

// EventPublisher is the subset of the kafka producer used for events.
type EventPublisher interface {
	PublishEvent(ctx context.Context, eventType, key string, payload any) error
}

// StreamEvents fans trip lifecycle events out to a message stream,
// fire-and-forget. Publish errors are logged and dropped.
type StreamEvents struct {
	Producer EventPublisher
	Logger   *slog.Logger
}

func (s *StreamEvents) TripStatusChanged(t models.Trip) {
	s.publish("trip_status_changed", t.ID, t)
}

func (s *StreamEvents) OfferIssued(o models.MatchOffer) {
	s.publish("match_offer_issued", o.TripID, o)
}

func (s *StreamEvents) DriverAssigned(t models.Trip) {
	s.publish("driver_assigned", t.ID, t)
}

func (s *StreamEvents) publish(eventType, key string, payload any) {
	go func() {
		if err := s.Producer.PublishEvent(context.Background(), eventType, key, payload); err != nil && s.Logger != nil {
			s.Logger.Warn("event publish failed", "event", eventType, "key", key, "error", err)
		}
	}()
}

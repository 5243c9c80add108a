package trip

import (
	"time"

	"github.com/consultora1700/mubitt-san-juan/internal/models"
)

// Event drives the trip lifecycle.
type Event string

const (
	EventMatched  Event = "driver_matched"
	EventArrived  Event = "driver_arrived"
	EventStarted  Event = "trip_started"
	EventCompleted Event = "trip_completed"
	EventCancelled Event = "cancelled"
)

// transitions is the only legal state table. Anything missing here is
// an illegal transition; terminal states have no outgoing edges.
var transitions = map[models.TripStatus]map[Event]models.TripStatus{
	models.TripPending: {
		EventMatched:   models.TripAssigned,
		EventCancelled: models.TripCancelled,
	},
	models.TripAssigned: {
		EventArrived:   models.TripArriving,
		EventCancelled: models.TripCancelled,
	},
	models.TripArriving: {
		EventStarted:   models.TripInProgress,
		EventCancelled: models.TripCancelled,
	},
	models.TripInProgress: {
		EventCompleted: models.TripCompleted,
	},
}

// Next returns the target status for an event, or IllegalTransition.
func Next(from models.TripStatus, ev Event) (models.TripStatus, error) {
	if to, ok := transitions[from][ev]; ok {
		return to, nil
	}
	return from, &models.IllegalTransitionError{From: from, Event: string(ev)}
}

// CanCancel reports whether a trip in the given status may still be
// cancelled by the passenger or the system.
func CanCancel(from models.TripStatus) bool {
	_, ok := transitions[from][EventCancelled]
	return ok
}

// Machine owns the lifecycle of one trip. It is not concurrency-safe
// on its own; the coordinator serializes all access per trip.
type Machine struct {
	status models.TripStatus
	lastAt time.Time
}

func NewMachine(createdAt time.Time) *Machine {
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	return &Machine{status: models.TripPending, lastAt: createdAt}
}

func (m *Machine) Status() models.TripStatus { return m.status }

// LastTransition is the timestamp of the most recent applied event.
func (m *Machine) LastTransition() time.Time { return m.lastAt }

// Apply advances the machine. On an illegal event the state and
// timestamp are left untouched. Transition timestamps are monotonic:
// a clock reading behind the previous transition is clamped to it.
func (m *Machine) Apply(ev Event, now time.Time) (models.TripStatus, time.Time, error) {
	next, err := Next(m.status, ev)
	if err != nil {
		return m.status, m.lastAt, err
	}
	if now.Before(m.lastAt) {
		now = m.lastAt
	}
	m.status = next
	m.lastAt = now
	return next, now, nil
}

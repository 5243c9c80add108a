package trip

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consultora1700/mubitt-san-juan/internal/models"
)

func TestHappyPath(t *testing.T) {
	m := NewMachine(time.Now())
	steps := []struct {
		ev   Event
		want models.TripStatus
	}{
		{EventMatched, models.TripAssigned},
		{EventArrived, models.TripArriving},
		{EventStarted, models.TripInProgress},
		{EventCompleted, models.TripCompleted},
	}
	for _, s := range steps {
		got, _, err := m.Apply(s.ev, time.Now())
		require.NoError(t, err, string(s.ev))
		assert.Equal(t, s.want, got)
	}
}

func TestCancelReachability(t *testing.T) {
	cancellable := []models.TripStatus{models.TripPending, models.TripAssigned, models.TripArriving}
	for _, from := range cancellable {
		got, err := Next(from, EventCancelled)
		require.NoError(t, err, string(from))
		assert.Equal(t, models.TripCancelled, got)
	}

	for _, from := range []models.TripStatus{models.TripInProgress, models.TripCompleted, models.TripCancelled} {
		_, err := Next(from, EventCancelled)
		assert.True(t, models.IsIllegalTransition(err), string(from))
		assert.False(t, CanCancel(from), string(from))
	}
}

func TestTerminalStatesAbsorbing(t *testing.T) {
	events := []Event{EventMatched, EventArrived, EventStarted, EventCompleted, EventCancelled}
	for _, terminal := range []models.TripStatus{models.TripCompleted, models.TripCancelled} {
		for _, ev := range events {
			got, err := Next(terminal, ev)
			assert.True(t, models.IsIllegalTransition(err), "%s/%s", terminal, ev)
			assert.Equal(t, terminal, got)
		}
	}
}

func TestIllegalEventLeavesStateUnchanged(t *testing.T) {
	m := NewMachine(time.Now())
	before := m.LastTransition()

	_, _, err := m.Apply(EventStarted, time.Now())
	assert.True(t, models.IsIllegalTransition(err))
	assert.Equal(t, models.TripPending, m.Status())
	assert.Equal(t, before, m.LastTransition())
}

func TestMonotonicTimestamps(t *testing.T) {
	created := time.Now()
	m := NewMachine(created)

	// a clock reading behind the previous transition is clamped
	_, at, err := m.Apply(EventMatched, created.Add(-time.Second))
	require.NoError(t, err)
	assert.False(t, at.Before(created))

	_, at2, err := m.Apply(EventArrived, at.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, at2.Before(at))
}

package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// VehicleClass selects the rate card for a trip.
type VehicleClass string

const (
	VehicleEconomy VehicleClass = "economy"
	VehicleComfort VehicleClass = "comfort"
	VehicleXL      VehicleClass = "xl"
)

func (c VehicleClass) Valid() bool {
	switch c {
	case VehicleEconomy, VehicleComfort, VehicleXL:
		return true
	}
	return false
}

type VehicleInfo struct {
	Make         string `json:"make"`
	Model        string `json:"model"`
	Color        string `json:"color"`
	LicensePlate string `json:"license_plate"`
	Year         int    `json:"year"`
}

// Driver is the authoritative driver record owned by the coordinator.
// CurrentTripID is empty unless the driver is reserved by or assigned
// to exactly one trip.
type Driver struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Loc           Coord        `json:"loc"`
	Updated       time.Time    `json:"updated"`
	Online        bool         `json:"online"`
	Rating        float64      `json:"rating"` // 0..5
	RatingCount   int          `json:"rating_count"`
	TripCount     int          `json:"trip_count"`
	Class         VehicleClass `json:"vehicle_class"`
	Vehicle       VehicleInfo  `json:"vehicle_info"`
	CurrentTripID string       `json:"current_trip_id,omitempty"`
}

// TripRequest is immutable once created.
type TripRequest struct {
	PassengerID string       `json:"passenger_id"`
	Pickup      Coord        `json:"pickup"`
	Dropoff     Coord        `json:"dropoff"`
	Class       VehicleClass `json:"vehicle_class"`
	PaymentRef  string       `json:"payment_ref"`
	CreatedAt   time.Time    `json:"created_at"`
}

type TripStatus string

const (
	TripPending    TripStatus = "pending"
	TripAssigned   TripStatus = "assigned"
	TripArriving   TripStatus = "arriving"
	TripInProgress TripStatus = "in_progress"
	TripCompleted  TripStatus = "completed"
	TripCancelled  TripStatus = "cancelled"
)

// Terminal reports whether the status is absorbing.
func (s TripStatus) Terminal() bool {
	return s == TripCompleted || s == TripCancelled
}

// Assigned reports whether the status implies a driver is attached.
func (s TripStatus) Assigned() bool {
	switch s {
	case TripAssigned, TripArriving, TripInProgress, TripCompleted:
		return true
	}
	return false
}

type FareEstimate struct {
	Base         float64 `json:"base_fare"`
	DistanceFare float64 `json:"distance_fare"`
	TimeFare     float64 `json:"time_fare"`
	SurgeFactor  float64 `json:"surge_factor"`
	Total        float64 `json:"total_fare"`
	Currency     string  `json:"currency"`
}

type Trip struct {
	ID          string       `json:"id"`
	Request     TripRequest  `json:"request"`
	DriverID    string       `json:"driver_id,omitempty"`
	Status      TripStatus   `json:"status"`
	DistanceKm  float64      `json:"distance_km"`
	DurationMin int          `json:"estimated_duration_min"`
	Estimated   FareEstimate `json:"estimated_fare"`
	ActualFare  *float64     `json:"actual_fare,omitempty"`
	Rating      *int         `json:"rating,omitempty"`
	Feedback    string       `json:"feedback,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	AssignedAt  *time.Time `json:"assigned_at,omitempty"`
	ArrivingAt  *time.Time `json:"arriving_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
}

type OfferOutcome string

const (
	OfferPending  OfferOutcome = "pending"
	OfferAccepted OfferOutcome = "accepted"
	OfferRejected OfferOutcome = "rejected"
	OfferExpired  OfferOutcome = "expired"
)

// MatchOffer is a time-bounded proposal of one trip to one driver. It
// exists only while matching for that trip is in flight.
type MatchOffer struct {
	ID         string       `json:"offer_id"`
	TripID     string       `json:"trip_id"`
	DriverID   string       `json:"driver_id"`
	DistanceKm float64      `json:"distance_km"`
	EtaSeconds float64      `json:"eta_seconds"`
	Score      float64      `json:"score"`
	IssuedAt   time.Time    `json:"issued_at"`
	ExpiresAt  time.Time    `json:"expires_at"`
	Outcome    OfferOutcome `json:"outcome"`
}

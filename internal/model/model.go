// Package model defines the domain types used across the application.
package model

import "time"

// Phase is the coarse lifecycle stage of one train occurrence.
type Phase string

// Observable train phases, in rough chronological order.
const (
	PhaseScheduled     Phase = "scheduled"
	PhaseDepartingSoon Phase = "departing_soon"
	PhaseInTransit     Phase = "in_transit"
	PhaseArrived       Phase = "arrived"
	PhaseCancelled     Phase = "cancelled"
)

// Terminal reports whether no further status changes are expected.
func (p Phase) Terminal() bool {
	return p == PhaseArrived || p == PhaseCancelled
}

// Route identifies a directed station pair.
type Route struct {
	DepartureStation string
	ArrivalStation   string
}

func (r Route) String() string {
	return r.DepartureStation + "->" + r.ArrivalStation
}

// StatusSnapshot is the observed state of one train occurrence at one
// polling instant. Snapshots are immutable; a new one is produced on every
// successful provider query and compared against the previous.
type StatusSnapshot struct {
	ScheduledDeparture time.Time `json:"scheduled_departure"`
	ScheduledArrival   time.Time `json:"scheduled_arrival"`
	DelayMinutes       *int      `json:"delay_minutes,omitempty"`
	Phase              Phase     `json:"phase"`
	TransferStations   []string  `json:"transfer_stations,omitempty"`
}

// Delay returns the observed delay in minutes, treating unknown as zero.
func (s StatusSnapshot) Delay() int {
	if s.DelayMinutes == nil {
		return 0
	}
	return *s.DelayMinutes
}

// Preferences selects which notification kinds a subscription wants.
// Cancellations are always delivered regardless of preferences.
type Preferences struct {
	OnDepartureSoon bool
	OnDelayChange   bool
	OnArrival       bool
}

// Subscription is a recurring watch on one route at one departure time.
type Subscription struct {
	ID             int64
	ChatID         int64
	Route          Route
	Weekdays       []time.Weekday
	DepartureTime  string // "15:04", local time of day
	StartDate      *time.Time
	EndDate        *time.Time
	Prefs          Preferences
	DelayThreshold int
	Paused         bool
	IsActive       bool
	LastStatus     *StatusSnapshot
	LastChecked    *time.Time
	CreatedAt      time.Time
}

// NotificationKind tags the reason a notification was produced.
type NotificationKind string

// Supported notification kinds.
const (
	KindDelayIncreased    NotificationKind = "delay_increased"
	KindDelayCleared      NotificationKind = "delay_cleared"
	KindDepartureImminent NotificationKind = "departure_imminent"
	KindArrived           NotificationKind = "arrived"
	KindCancelled         NotificationKind = "cancelled"
)

// NotificationEvent is the verdict of the change detector for one
// subscription. It is consumed once by the dispatcher and discarded.
type NotificationEvent struct {
	Kind         NotificationKind
	Subscription Subscription
	Snapshot     StatusSnapshot
}

// DispatchRecord is the durable trace of one notification send attempt.
type DispatchRecord struct {
	ID             int64
	SubscriptionID int64
	Kind           NotificationKind
	Message        string
	SentAt         time.Time
}

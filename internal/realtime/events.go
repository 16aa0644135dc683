// Package realtime carries dispatch events to connected clients. Core
// services publish through the Publisher interface; the hub fans payloads
// out to the subscribers of a channel.
package realtime

import (
	"encoding/json"
	"strings"
	"time"
)

// Event type tags.
const (
	TypeAccepted          = "accepted"
	TypeCompleted         = "completed"
	TypeReleased          = "released"
	TypeCancelled         = "cancelled"
	TypeDriverLocation    = "driver.location"
	TypeRequesterLocation = "requester.location"
	TypeProximityAlert    = "proximity.alert"
	TypeDriverOffline     = "driver.offline"
	TypeSubscribed        = "subscribed"
	TypeUnsubscribed      = "unsubscribed"
	TypeError             = "error"
)

// Channel names.
const (
	GlobalChannel = "global"

	bookingChannelPrefix  = "booking:"
	identityChannelPrefix = "identity:"
)

// BookingChannel returns the channel every party of a booking listens on.
func BookingChannel(bookingID string) string {
	return bookingChannelPrefix + bookingID
}

// IdentityChannel returns the private channel of a requester, driver or observer.
func IdentityChannel(identityID string) string {
	return identityChannelPrefix + identityID
}

// ValidChannel reports whether name is a global, booking or identity channel.
func ValidChannel(name string) bool {
	if name == GlobalChannel {
		return true
	}
	for _, prefix := range []string{bookingChannelPrefix, identityChannelPrefix} {
		if id, ok := strings.CutPrefix(name, prefix); ok {
			return validID(id)
		}
	}
	return false
}

// Event is one of the outbound event variants below.
type Event interface {
	EventType() string
	event()
}

// AcceptedEvent is published on a booking channel when a driver takes it.
type AcceptedEvent struct {
	DriverID string `json:"driverId"`
}

// CompletedEvent is published on the booking channel with an empty body and
// on the global channel with the booking id.
type CompletedEvent struct {
	BookingID string `json:"bookingId,omitempty"`
}

// ReleasedEvent is published when the driver hands a booking back.
type ReleasedEvent struct{}

// CancelledEvent is published when the requester withdraws a pending booking.
type CancelledEvent struct{}

// LocationEvent relays a live position.
type LocationEvent struct {
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Timestamp time.Time `json:"timestamp"`
}

// DriverLocationEvent is a driver position relayed on a booking channel.
type DriverLocationEvent LocationEvent

// RequesterLocationEvent is a requester position relayed on a booking channel.
type RequesterLocationEvent LocationEvent

// ProximityAlertEvent tells an observer a booking's route passes nearby.
type ProximityAlertEvent struct {
	BookingID      string  `json:"bookingId"`
	DistanceMeters float64 `json:"distanceMeters"`
}

// DriverOfflineEvent tells a driver they were taken off duty.
type DriverOfflineEvent struct {
	Reason string `json:"reason"`
}

// SubscriptionEvent acknowledges a subscribe or unsubscribe request.
type SubscriptionEvent struct {
	Channel    string `json:"channel"`
	subscribed bool
}

// ErrorEvent reports a rejected inbound message to its sender only.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (AcceptedEvent) EventType() string          { return TypeAccepted }
func (CompletedEvent) EventType() string         { return TypeCompleted }
func (ReleasedEvent) EventType() string          { return TypeReleased }
func (CancelledEvent) EventType() string         { return TypeCancelled }
func (DriverLocationEvent) EventType() string    { return TypeDriverLocation }
func (RequesterLocationEvent) EventType() string { return TypeRequesterLocation }
func (ProximityAlertEvent) EventType() string    { return TypeProximityAlert }
func (DriverOfflineEvent) EventType() string     { return TypeDriverOffline }
func (ErrorEvent) EventType() string             { return TypeError }

func (e SubscriptionEvent) EventType() string {
	if e.subscribed {
		return TypeSubscribed
	}
	return TypeUnsubscribed
}

func (AcceptedEvent) event()          {}
func (CompletedEvent) event()         {}
func (ReleasedEvent) event()          {}
func (CancelledEvent) event()         {}
func (DriverLocationEvent) event()    {}
func (RequesterLocationEvent) event() {}
func (ProximityAlertEvent) event()    {}
func (DriverOfflineEvent) event()     {}
func (SubscriptionEvent) event()      {}
func (ErrorEvent) event()             {}

// Envelope is the wire form of every outbound message.
type Envelope struct {
	Type      string          `json:"type"`
	Channel   string          `json:"channel,omitempty"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// Encode wraps evt in an envelope addressed to channel.
func Encode(channel string, evt Event, now time.Time) ([]byte, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{
		Type:      evt.EventType(),
		Channel:   channel,
		Data:      data,
		Timestamp: now.UTC(),
	})
}

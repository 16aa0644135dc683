package realtime

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"dispatch/internal/geo"
)

// ErrInvalidPayload is returned for inbound messages that are malformed or
// not one of the known variants.
var ErrInvalidPayload = errors.New("invalid payload")

// Inbound message type tags.
const (
	InboundSubscribe         = "subscribe"
	InboundUnsubscribe       = "unsubscribe"
	InboundDriverLocation    = "driver.location"
	InboundRequesterLocation = "requester.location"
	InboundDuty              = "duty"
)

const maxIDLength = 128

// Inbound is one of the client message variants below.
type Inbound interface {
	InboundType() string
}

// SubscribeMessage asks to join a channel.
type SubscribeMessage struct {
	Channel string
}

// UnsubscribeMessage asks to leave a channel.
type UnsubscribeMessage struct {
	Channel string
}

// DriverLocationMessage streams the sending driver's position. BookingID is
// optional; without it the position goes to every booking the driver holds.
type DriverLocationMessage struct {
	BookingID string
	Point     geo.Point
}

// RequesterLocationMessage streams the sending requester's position for a booking.
type RequesterLocationMessage struct {
	BookingID string
	Point     geo.Point
}

// DutyMessage toggles the sending driver's duty state.
type DutyMessage struct {
	OnDuty bool
}

func (SubscribeMessage) InboundType() string         { return InboundSubscribe }
func (UnsubscribeMessage) InboundType() string       { return InboundUnsubscribe }
func (DriverLocationMessage) InboundType() string    { return InboundDriverLocation }
func (RequesterLocationMessage) InboundType() string { return InboundRequesterLocation }
func (DutyMessage) InboundType() string              { return InboundDuty }

type rawInbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type channelPayload struct {
	Channel string `json:"channel"`
}

type locationPayload struct {
	BookingID string   `json:"bookingId"`
	Lat       *float64 `json:"lat"`
	Lng       *float64 `json:"lng"`
}

type dutyPayload struct {
	OnDuty *bool `json:"onDuty"`
}

// DecodeInbound parses and validates a client frame. Every failure wraps
// ErrInvalidPayload.
func DecodeInbound(frame []byte) (Inbound, error) {
	var raw rawInbound
	if err := json.Unmarshal(frame, &raw); err != nil {
		return nil, invalid("malformed json")
	}

	switch raw.Type {
	case InboundSubscribe, InboundUnsubscribe:
		var p channelPayload
		if err := decodeStrict(raw.Data, &p); err != nil {
			return nil, err
		}
		if !ValidChannel(p.Channel) {
			return nil, invalid("unknown channel %q", p.Channel)
		}
		if raw.Type == InboundSubscribe {
			return SubscribeMessage{Channel: p.Channel}, nil
		}
		return UnsubscribeMessage{Channel: p.Channel}, nil

	case InboundDriverLocation, InboundRequesterLocation:
		var p locationPayload
		if err := decodeStrict(raw.Data, &p); err != nil {
			return nil, err
		}
		if p.Lat == nil || p.Lng == nil {
			return nil, invalid("lat and lng are required")
		}
		pt := geo.Point{Lat: *p.Lat, Lng: *p.Lng}
		if !pt.Valid() {
			return nil, invalid("coordinates out of range")
		}
		if p.BookingID != "" && !validID(p.BookingID) {
			return nil, invalid("malformed bookingId")
		}
		if raw.Type == InboundDriverLocation {
			return DriverLocationMessage{BookingID: p.BookingID, Point: pt}, nil
		}
		if p.BookingID == "" {
			return nil, invalid("bookingId is required")
		}
		return RequesterLocationMessage{BookingID: p.BookingID, Point: pt}, nil

	case InboundDuty:
		var p dutyPayload
		if err := decodeStrict(raw.Data, &p); err != nil {
			return nil, err
		}
		if p.OnDuty == nil {
			return nil, invalid("onDuty is required")
		}
		return DutyMessage{OnDuty: *p.OnDuty}, nil

	case "":
		return nil, invalid("missing type")
	default:
		return nil, invalid("unknown type %q", raw.Type)
	}
}

func decodeStrict(data json.RawMessage, dest any) error {
	if len(data) == 0 {
		return invalid("missing data")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return invalid("malformed data")
	}
	return nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidPayload, fmt.Sprintf(format, args...))
}

// validID accepts identifiers made of letters, digits, '-', '_' and '.'.
func validID(id string) bool {
	if id == "" || len(id) > maxIDLength {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
		default:
			return false
		}
	}
	return true
}

// ValidID reports whether id is acceptable as a booking or identity id.
func ValidID(id string) bool {
	return validID(id)
}

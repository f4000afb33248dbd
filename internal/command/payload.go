package command

import (
	"fmt"
	"time"
)

// Payload is the kind-specific body of a command. The set of
// implementations is closed to this package.
type Payload interface {
	Kind() Kind
	validate() error
}

// Referencer is implemented by payloads that point at another entity,
// possibly by a temp id that has not been confirmed by the server yet.
type Referencer interface {
	EntityRef() string
	WithEntityRef(id string) Payload
}

// StartDuty opens a duty for a vehicle. The duty id is assigned by the
// server; offline the command carries a temp id instead.
type StartDuty struct {
	VehicleID  string    `json:"vehicle_id"`
	OdometerKm float64   `json:"odometer_km"`
	StartedAt  time.Time `json:"started_at"`
	Latitude   float64   `json:"latitude,omitempty"`
	Longitude  float64   `json:"longitude,omitempty"`
}

func (StartDuty) Kind() Kind { return KindStartDuty }

func (p StartDuty) validate() error {
	if p.VehicleID == "" {
		return fmt.Errorf("vehicle_id is required")
	}
	if p.OdometerKm < 0 {
		return fmt.Errorf("odometer_km must not be negative")
	}
	return nil
}

// EndDuty closes a duty.
type EndDuty struct {
	DutyID     string    `json:"duty_id"`
	OdometerKm float64   `json:"odometer_km"`
	EndedAt    time.Time `json:"ended_at"`
	Notes      string    `json:"notes,omitempty"`
}

func (EndDuty) Kind() Kind { return KindEndDuty }

func (p EndDuty) validate() error {
	if p.DutyID == "" {
		return fmt.Errorf("duty_id is required")
	}
	if p.OdometerKm < 0 {
		return fmt.Errorf("odometer_km must not be negative")
	}
	return nil
}

func (p EndDuty) EntityRef() string { return p.DutyID }

func (p EndDuty) WithEntityRef(id string) Payload {
	p.DutyID = id
	return p
}

// LocationPoint is one GPS fix.
type LocationPoint struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Heading    *float64  `json:"heading,omitempty"`  // degrees, 0-360
	Speed      *float64  `json:"speed,omitempty"`    // m/s
	Accuracy   *float64  `json:"accuracy,omitempty"` // meters
	RecordedAt time.Time `json:"recorded_at"`
}

// LocationBatch uploads buffered GPS fixes, optionally tied to a duty.
type LocationBatch struct {
	DutyID string          `json:"duty_id,omitempty"`
	Points []LocationPoint `json:"points"`
}

func (LocationBatch) Kind() Kind { return KindLocationBatch }

func (p LocationBatch) validate() error {
	if len(p.Points) == 0 {
		return fmt.Errorf("at least one point is required")
	}
	for i, pt := range p.Points {
		if pt.Latitude < -90 || pt.Latitude > 90 {
			return fmt.Errorf("points[%d].latitude %v out of range", i, pt.Latitude)
		}
		if pt.Longitude < -180 || pt.Longitude > 180 {
			return fmt.Errorf("points[%d].longitude %v out of range", i, pt.Longitude)
		}
	}
	return nil
}

func (p LocationBatch) EntityRef() string { return p.DutyID }

func (p LocationBatch) WithEntityRef(id string) Payload {
	if p.DutyID != "" {
		p.DutyID = id
	}
	return p
}

// PushTokenUpdate registers the device's push notification token.
type PushTokenUpdate struct {
	Token    string `json:"token"`
	Platform string `json:"platform,omitempty"`
}

func (PushTokenUpdate) Kind() Kind { return KindPushTokenUpdate }

func (p PushTokenUpdate) validate() error {
	if p.Token == "" {
		return fmt.Errorf("token is required")
	}
	return nil
}

// AcceptAssignment accepts a dispatch assignment, optionally on a duty.
type AcceptAssignment struct {
	AssignmentID string    `json:"assignment_id"`
	DutyID       string    `json:"duty_id,omitempty"`
	AcceptedAt   time.Time `json:"accepted_at"`
}

func (AcceptAssignment) Kind() Kind { return KindAcceptAssignment }

func (p AcceptAssignment) validate() error {
	if p.AssignmentID == "" {
		return fmt.Errorf("assignment_id is required")
	}
	return nil
}

func (p AcceptAssignment) EntityRef() string { return p.DutyID }

func (p AcceptAssignment) WithEntityRef(id string) Payload {
	if p.DutyID != "" {
		p.DutyID = id
	}
	return p
}

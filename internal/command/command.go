// Package command defines the offline-capable actions a driver can take and
// their serialized form in the queue.
package command

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Kind identifies the action a command performs.
type Kind string

const (
	KindStartDuty        Kind = "start_duty"
	KindEndDuty          Kind = "end_duty"
	KindLocationBatch    Kind = "location_batch"
	KindPushTokenUpdate  Kind = "push_token_update"
	KindAcceptAssignment Kind = "accept_assignment"
)

// Kinds lists every command kind in a stable order.
var Kinds = []Kind{KindStartDuty, KindEndDuty, KindLocationBatch, KindPushTokenUpdate, KindAcceptAssignment}

// Priority returns the scheduling priority of the kind. Duty start/end are
// user-initiated and must always be attempted; location batches are bulk
// telemetry and yield to everything else.
func (k Kind) Priority() Priority {
	switch k {
	case KindStartDuty, KindEndDuty:
		return PriorityCritical
	case KindAcceptAssignment:
		return PriorityHigh
	case KindPushTokenUpdate:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Command is an immutable description of one offline-capable action.
type Command struct {
	IdempotencyKey string
	CreatedAt      time.Time
	// TempEntityID is the placeholder id of the entity this command creates,
	// set only for creating commands (StartDuty).
	TempEntityID string
	Payload      Payload
}

// Kind returns the kind of the command's payload.
func (c Command) Kind() Kind {
	if c.Payload == nil {
		return ""
	}
	return c.Payload.Kind()
}

// EntityRef returns the entity id the command refers to, or "" if the
// payload does not reference another entity.
func (c Command) EntityRef() string {
	if r, ok := c.Payload.(Referencer); ok {
		return r.EntityRef()
	}
	return ""
}

// WithEntityRef returns a copy of the command whose entity reference is
// replaced by id. Commands without a reference are returned unchanged.
func (c Command) WithEntityRef(id string) Command {
	if r, ok := c.Payload.(Referencer); ok {
		c.Payload = r.WithEntityRef(id)
	}
	return c
}

// ChainKey groups commands that must execute strictly in enqueue order.
// Commands with an empty chain key are independent of everything else.
func (c Command) ChainKey() string {
	switch p := c.Payload.(type) {
	case StartDuty:
		if c.TempEntityID != "" {
			return "duty:" + c.TempEntityID
		}
		return ""
	case EndDuty:
		return "duty:" + p.DutyID
	case LocationBatch:
		// Location batches never share a chain with duty start/end so a
		// low-priority backlog can't hold back a critical EndDuty. Each
		// duty gets its own chain so a duty awaiting confirmation doesn't
		// hold back uploads for the others.
		if p.DutyID != "" {
			return "location:" + p.DutyID
		}
		return "location"
	case PushTokenUpdate:
		return "push-token"
	case AcceptAssignment:
		return "assignment:" + p.AssignmentID
	}
	return ""
}

// Validate checks that the command is complete enough to enqueue.
func (c Command) Validate() error {
	if c.IdempotencyKey == "" {
		return fmt.Errorf("command: idempotency key is required")
	}
	if c.Payload == nil {
		return fmt.Errorf("command: payload is required")
	}
	if c.TempEntityID != "" && !IsTempID(c.TempEntityID) {
		return fmt.Errorf("command: temp entity id %q must start with %q", c.TempEntityID, TempIDPrefix)
	}
	if err := c.Payload.validate(); err != nil {
		return fmt.Errorf("command: %s: %w", c.Kind(), err)
	}
	return nil
}

// envelope is the persisted JSON form of a Command.
type envelope struct {
	Kind           Kind            `json:"kind"`
	IdempotencyKey string          `json:"idempotency_key"`
	CreatedAt      time.Time       `json:"created_at"`
	TempEntityID   string          `json:"temp_entity_id,omitempty"`
	Payload        json.RawMessage `json:"payload"`
}

// Encode serializes the command for storage.
func Encode(c Command) ([]byte, error) {
	if c.Payload == nil {
		return nil, fmt.Errorf("command: encode: payload is required")
	}
	payload, err := json.Marshal(c.Payload)
	if err != nil {
		return nil, fmt.Errorf("command: encode %s payload: %w", c.Kind(), err)
	}
	data, err := json.Marshal(envelope{
		Kind:           c.Kind(),
		IdempotencyKey: c.IdempotencyKey,
		CreatedAt:      c.CreatedAt,
		TempEntityID:   c.TempEntityID,
		Payload:        payload,
	})
	if err != nil {
		return nil, fmt.Errorf("command: encode: %w", err)
	}
	return data, nil
}

// Decode parses a command previously produced by Encode.
func Decode(data []byte) (Command, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Command{}, fmt.Errorf("command: decode: %w", err)
	}
	payload, err := DecodePayload(env.Kind, env.Payload)
	if err != nil {
		return Command{}, err
	}
	return Command{
		IdempotencyKey: env.IdempotencyKey,
		CreatedAt:      env.CreatedAt,
		TempEntityID:   env.TempEntityID,
		Payload:        payload,
	}, nil
}

// DecodePayload parses the JSON body of a kind's payload.
func DecodePayload(kind Kind, raw json.RawMessage) (Payload, error) {
	var (
		p   Payload
		err error
	)
	switch kind {
	case KindStartDuty:
		var v StartDuty
		err = json.Unmarshal(raw, &v)
		p = v
	case KindEndDuty:
		var v EndDuty
		err = json.Unmarshal(raw, &v)
		p = v
	case KindLocationBatch:
		var v LocationBatch
		err = json.Unmarshal(raw, &v)
		p = v
	case KindPushTokenUpdate:
		var v PushTokenUpdate
		err = json.Unmarshal(raw, &v)
		p = v
	case KindAcceptAssignment:
		var v AcceptAssignment
		err = json.Unmarshal(raw, &v)
		p = v
	default:
		return nil, fmt.Errorf("command: decode: unknown kind %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("command: decode %s payload: %w", kind, err)
	}
	return p, nil
}

// ParseKind converts user input such as "end-duty" or "end_duty" to a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	if !k.Valid() {
		return "", fmt.Errorf("command: unknown kind %q", s)
	}
	return k, nil
}

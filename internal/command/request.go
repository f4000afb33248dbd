package command

import (
	"encoding/json"
	"fmt"
	"time"
)

// Request is the caller-facing JSON form of a new command. Key and temp id
// are optional; Build mints them when absent.
type Request struct {
	Kind           Kind            `json:"kind"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	TempEntityID   string          `json:"temp_entity_id,omitempty"`
	Payload        json.RawMessage `json:"payload"`
}

// Build turns r into a validated Command.
func (r Request) Build() (Command, error) {
	kind, err := ParseKind(string(r.Kind))
	if err != nil {
		return Command{}, err
	}
	if len(r.Payload) == 0 {
		return Command{}, fmt.Errorf("command: %s: payload is required", kind)
	}
	payload, err := DecodePayload(kind, r.Payload)
	if err != nil {
		return Command{}, err
	}

	c := Command{
		IdempotencyKey: r.IdempotencyKey,
		CreatedAt:      time.Now(),
		TempEntityID:   r.TempEntityID,
		Payload:        payload,
	}
	if c.IdempotencyKey == "" {
		c.IdempotencyKey = NewIdempotencyKey()
	}
	if kind == KindStartDuty && c.TempEntityID == "" {
		c.TempEntityID = NewTempID()
	}
	if kind != KindStartDuty && c.TempEntityID != "" {
		return Command{}, fmt.Errorf("command: %s does not create an entity; temp_entity_id must be empty", kind)
	}
	if err := c.Validate(); err != nil {
		return Command{}, err
	}
	return c, nil
}

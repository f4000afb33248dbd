package command

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// TempIDPrefix marks locally minted entity ids.
const TempIDPrefix = "tmp-"

// NewIdempotencyKey returns a fresh key for one logical action.
func NewIdempotencyKey() string {
	return uuid.NewString()
}

// NewTempID mints a placeholder id for an entity created offline.
func NewTempID() string {
	return TempIDPrefix + uuid.NewString()
}

// IsTempID reports whether id was minted locally and still needs
// reconciliation with a server id.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// New wraps payload in a Command with a fresh idempotency key.
func New(payload Payload) Command {
	return Command{
		IdempotencyKey: NewIdempotencyKey(),
		CreatedAt:      time.Now(),
		Payload:        payload,
	}
}

// NewStartDuty builds a StartDuty command with a fresh temp duty id. The
// returned id can be referenced by later commands before the server has
// confirmed the duty.
func NewStartDuty(p StartDuty) (Command, string) {
	c := New(p)
	c.TempEntityID = NewTempID()
	return c, c.TempEntityID
}

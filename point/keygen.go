package point

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// KeyGenerator produces unique record identifiers.
type KeyGenerator interface {
	NewID() string
}

// UUIDKeys issues time-ordered UUIDv7 keys as 32 hex characters. Keys
// created later sort later, which keeps the allocation tie-break by ID
// close to creation order.
type UUIDKeys struct{}

func (UUIDKeys) NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return hex.EncodeToString(id[:])
}

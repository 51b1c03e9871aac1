package ledger

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
)

// IDGenerator produces entity identifiers.
type IDGenerator func() string

// NewID returns a random UUID. If the system's secure random source fails it
// falls back to a timestamp plus a pseudo-random suffix.
func NewID() string {
	id, err := uuid.NewRandom()
	if err != nil {
		return fallbackID(time.Now())
	}
	return id.String()
}

func fallbackID(now time.Time) string {
	return fmt.Sprintf("id-%d-%x", now.UnixMilli(), rand.Uint64())
}

/*
store.go - Persistence and notification interfaces

PURPOSE:
  The ledger never touches storage or the user directly. The action layer
  receives a Persister (one durable key-value slot holding the serialized
  State) and a Notifier (success/warning/error/info messages for the user).

PERSISTENCE CONTRACT:
  - Load returns (nil, nil) when nothing has been saved yet
  - Corrupt content is not the Persister's problem: MigrateJSON turns it
    into a default state
  - Save failures are logged by the caller and never surfaced

IMPLEMENTATIONS:
  - ledger/store/memory.go: In-memory slot for tests
  - store/sqlite/sqlite.go: SQLite documents table
  - store/redis/redis.go: Redis key

SEE ALSO:
  - notify/: Notifier implementations
  - tutor/engine.go: The only caller
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// PERSISTER - One durable slot
// =============================================================================

type Persister interface {
	// Load returns the last saved document, or nil if there is none.
	Load(ctx context.Context) ([]byte, error)

	// Save replaces the stored document.
	Save(ctx context.Context, doc []byte) error
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

const (
	DefaultNotificationDuration = 4 * time.Second
	ErrorNotificationDuration   = 5 * time.Second
)

// DurationFor is how long a notification of the given severity stays up.
func DurationFor(s Severity) time.Duration {
	if s == SeverityError {
		return ErrorNotificationDuration
	}
	return DefaultNotificationDuration
}

type Notification struct {
	ID       int64         `json:"id"`
	Severity Severity      `json:"severity"`
	Message  string        `json:"message"`
	Duration time.Duration `json:"duration"`
	At       time.Time     `json:"at"`
}

// ExpiresAt is when the notification auto-dismisses.
func (n Notification) ExpiresAt() time.Time {
	return n.At.Add(n.Duration)
}

type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

// Discard drops every notification.
var Discard Notifier = NotifierFunc(func(Notification) {})

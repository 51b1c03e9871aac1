/*
Package notify provides sinks for the notifications the action layer emits.

SINKS:
  Board: in-memory toast board; notifications auto-dismiss after their
         duration and can be listed or dismissed by the UI
  Log:   structured log line per notification (zap)
  AMQP:  JSON message per notification on a durable RabbitMQ queue
  Multi: fan-out to several sinks

All sinks are best-effort: a sink never blocks or fails the command that
produced the notification.
*/
package notify

import (
	"sync"
	"time"

	"github.com/warp/tutor-ledger/ledger"
)

// BoardCapacity bounds how many notifications a Board remembers.
const BoardCapacity = 100

// =============================================================================
// BOARD - In-memory toast list
// =============================================================================

type Board struct {
	mu     sync.Mutex
	lastID int64
	items  []ledger.Notification
	now    func() time.Time
}

func NewBoard() *Board {
	return &Board{now: time.Now}
}

func (b *Board) Notify(n ledger.Notification) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastID++
	n.ID = b.lastID
	if n.Duration <= 0 {
		n.Duration = ledger.DurationFor(n.Severity)
	}
	if n.At.IsZero() {
		n.At = b.now()
	}
	b.items = append(b.items, n)
	if over := len(b.items) - BoardCapacity; over > 0 {
		b.items = append([]ledger.Notification(nil), b.items[over:]...)
	}
}

// Active returns the notifications not yet dismissed at now, oldest first.
func (b *Board) Active(now time.Time) []ledger.Notification {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := []ledger.Notification{}
	for _, n := range b.items {
		if now.Before(n.ExpiresAt()) {
			out = append(out, n)
		}
	}
	return out
}

// All returns every remembered notification, oldest first.
func (b *Board) All() []ledger.Notification {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]ledger.Notification(nil), b.items...)
}

// Last returns the most recent notification.
func (b *Board) Last() (ledger.Notification, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) == 0 {
		return ledger.Notification{}, false
	}
	return b.items[len(b.items)-1], true
}

// Dismiss removes a notification before it expires.
func (b *Board) Dismiss(id int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, n := range b.items {
		if n.ID == id {
			b.items = append(b.items[:i:i], b.items[i+1:]...)
			return true
		}
	}
	return false
}

// =============================================================================
// MULTI - Fan-out
// =============================================================================

type Multi []ledger.Notifier

func (m Multi) Notify(n ledger.Notification) {
	for _, sink := range m {
		if sink != nil {
			sink.Notify(n)
		}
	}
}

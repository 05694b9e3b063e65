// internal/broadcast/observer.go
package broadcast

import (
	"sync"

	"github.com/google/uuid"
	"github.com/jason-s-yu/lampstand/internal/models"
)

// Observer is one local view of a session. Its copy only ever moves forward
// in version, and Updates always ends on the newest snapshot even when the
// reader falls behind.
type Observer struct {
	sessionID uuid.UUID
	sync      *Synchronizer

	mu      sync.Mutex
	current *models.Snapshot
	updates chan *models.Snapshot
	closed  bool
}

// SessionID returns the observed session.
func (o *Observer) SessionID() uuid.UUID { return o.sessionID }

// Updates delivers each snapshot that replaced the local copy. The channel
// is closed when the observer stops.
func (o *Observer) Updates() <-chan *models.Snapshot { return o.updates }

// Current returns the local copy.
func (o *Observer) Current() *models.Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current
}

// Reconcile replaces the local copy with snap if snap is newer. It reports
// whether the copy changed.
func (o *Observer) Reconcile(snap *models.Snapshot) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed || snap == nil {
		return false
	}
	if o.current != nil && snap.Session.Version <= o.current.Session.Version {
		return false
	}
	o.current = snap

	// latest wins: drop an unread older snapshot rather than block
	select {
	case o.updates <- snap:
	default:
		select {
		case <-o.updates:
		default:
		}
		o.updates <- snap
	}
	return true
}

// Close detaches the observer.
func (o *Observer) Close() {
	o.sync.remove(o)
	o.shutdown()
}

func (o *Observer) shutdown() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	close(o.updates)
}

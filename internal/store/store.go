// internal/store/store.go
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jason-s-yu/lampstand/internal/models"
)

var (
	// ErrNotFound is returned when no session exists under the given id.
	ErrNotFound = errors.New("session not found")
	// ErrVersionConflict is returned by Commit when the stored version no
	// longer matches the caller's expected version.
	ErrVersionConflict = errors.New("session version conflict")
	// ErrExists is returned by Create when the id is already taken.
	ErrExists = errors.New("session already exists")
)

// Event names the kind of mutation a notification announces. Receivers treat
// it as a hint only and always re-read the full snapshot.
type Event string

const (
	EventCreated      Event = "session_created"
	EventJoined       Event = "player_joined"
	EventStarted      Event = "session_started"
	EventMoveResolved Event = "move_resolved"
	EventTurnSkipped  Event = "turn_skipped"
	EventCompleted    Event = "session_completed"
)

// Notification is published after every commit.
type Notification struct {
	SessionID uuid.UUID `json:"session_id"`
	Version   int64     `json:"version"`
	Event     Event     `json:"event,omitempty"`
}

// Change is a whole-aggregate write: the new session document, every player
// whose state changed and the moves to append to the log.
type Change struct {
	Session models.Session
	Players []models.Player
	Moves   []models.Move
	Event   Event
}

// Store is the shared state container. Every mutation goes through Commit,
// which is a compare-and-set on the session version.
type Store interface {
	// Create writes a brand new snapshot at version 1.
	Create(ctx context.Context, snap *models.Snapshot) error
	// Load returns a consistent full read of the session.
	Load(ctx context.Context, id uuid.UUID) (*models.Snapshot, error)
	// Commit applies change iff the stored version equals expected. The
	// committed session carries version expected+1.
	Commit(ctx context.Context, expected int64, change Change) error
	// Subscribe delivers a notification for each commit on the session until
	// ctx is done or the subscription is closed.
	Subscribe(ctx context.Context, id uuid.UUID) (Subscription, error)
}

// Subscription is a live notification feed for one session.
type Subscription interface {
	C() <-chan Notification
	Close() error
}

// internal/models/session.go
package models

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a Session. Transitions only move forward:
// waiting -> active -> completed.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
)

// Session is the authoritative document for one game. Players and moves are
// stored alongside it and joined into a Snapshot on read.
type Session struct {
	ID     uuid.UUID `json:"id"`
	Mode   string    `json:"mode"`
	Topic  string    `json:"topic"`
	Status Status    `json:"status"`
	HostID uuid.UUID `json:"host_id"`

	// CurrentTurn is only set while the session is active.
	CurrentTurn *uuid.UUID `json:"current_turn,omitempty"`

	// PlayerOrder is registration order and drives the turn rotation.
	PlayerOrder []uuid.UUID `json:"player_order"`

	// TurnSeq increments every time the turn changes hands so a verdict judged
	// against an older turn can be detected and dropped.
	TurnSeq int64 `json:"turn_seq"`

	// Version is the compare-and-set token, bumped on every commit.
	Version int64 `json:"version"`

	StartingInventory int        `json:"starting_inventory"`
	WinnerID          *uuid.UUID `json:"winner_id,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// IsHolder reports whether playerID currently holds the turn.
func (s *Session) IsHolder(playerID uuid.UUID) bool {
	return s.CurrentTurn != nil && *s.CurrentTurn == playerID
}

// Snapshot is a full read of a session: the session document, every player in
// registration order and the complete move log.
type Snapshot struct {
	Session Session  `json:"session"`
	Players []Player `json:"players"`
	Moves   []Move   `json:"moves"`
}

// Player returns a pointer into the snapshot's player slice, or nil.
func (s *Snapshot) Player(id uuid.UUID) *Player {
	for i := range s.Players {
		if s.Players[i].ID == id {
			return &s.Players[i]
		}
	}
	return nil
}

// PlayerByIdentity finds the player bound to an external identity.
func (s *Snapshot) PlayerByIdentity(identity string) *Player {
	for i := range s.Players {
		if s.Players[i].Identity == identity {
			return &s.Players[i]
		}
	}
	return nil
}

// Clone returns a deep copy so callers can mutate the result freely.
func (s *Snapshot) Clone() *Snapshot {
	out := &Snapshot{
		Session: s.Session,
		Players: make([]Player, len(s.Players)),
		Moves:   make([]Move, len(s.Moves)),
	}
	out.Session.PlayerOrder = append([]uuid.UUID(nil), s.Session.PlayerOrder...)
	out.Session.CurrentTurn = copyID(s.Session.CurrentTurn)
	out.Session.WinnerID = copyID(s.Session.WinnerID)
	out.Session.StartedAt = copyTime(s.Session.StartedAt)
	out.Session.CompletedAt = copyTime(s.Session.CompletedAt)
	copy(out.Players, s.Players)
	copy(out.Moves, s.Moves)
	return out
}

func copyID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

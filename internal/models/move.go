// internal/models/move.go
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Verdict is the judge's three-way outcome for one move.
type Verdict string

const (
	VerdictApproved Verdict = "approved"
	VerdictPartial  Verdict = "partial"
	VerdictRejected Verdict = "rejected"
)

// ParseVerdict matches judge output case-insensitively, accepting a few
// common synonyms.
func ParseVerdict(s string) (Verdict, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "approved", "approve", "correct", "accepted":
		return VerdictApproved, nil
	case "partial", "partially_correct", "partially correct":
		return VerdictPartial, nil
	case "rejected", "reject", "incorrect", "wrong":
		return VerdictRejected, nil
	}
	return "", fmt.Errorf("unknown verdict %q", s)
}

// AdvancesTurn reports whether this verdict hands the turn to the next player.
func (v Verdict) AdvancesTurn() bool {
	return v == VerdictApproved || v == VerdictRejected
}

// Move is an immutable entry in a session's move log.
type Move struct {
	ID            uuid.UUID `json:"id"`
	SessionID     uuid.UUID `json:"session_id"`
	AuthorID      uuid.UUID `json:"author_id"`
	Index         int       `json:"index"`
	TurnSeq       int64     `json:"turn_seq"`
	Card          Card      `json:"card"`
	Rationale     string    `json:"rationale"`
	Verdict       Verdict   `json:"verdict"`
	Feedback      string    `json:"feedback"`
	PointsAwarded int       `json:"points_awarded"`
	Timestamp     time.Time `json:"timestamp"`
}

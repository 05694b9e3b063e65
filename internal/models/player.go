package models

import (
	"time"

	"github.com/google/uuid"
)

// Player is a participant's mutable state within one session. The account
// behind Identity belongs to the identity provider, not to the session.
type Player struct {
	ID          uuid.UUID `json:"id"`
	Identity    string    `json:"identity"`
	DisplayName string    `json:"display_name"`

	InventoryRemaining int `json:"inventory_remaining"`
	Score              int `json:"score"`

	// SkipNextTurn is set on the third consecutive rejection and cleared when
	// the rotation next reaches this player.
	SkipNextTurn          bool `json:"skip_next_turn"`
	ConsecutiveRejections int  `json:"consecutive_rejections"`
	SkipsServed           int  `json:"skips_served"`

	JoinedAt time.Time `json:"joined_at"`
}

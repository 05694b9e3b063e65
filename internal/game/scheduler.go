// internal/game/scheduler.go
package game

import (
	"github.com/google/uuid"
	"github.com/jason-s-yu/lampstand/internal/models"
)

// Advance hands the turn to the next player in registration order, wrapping
// after the last. A player carrying the skip flag is visited, has the flag
// consumed, and is passed over. Returns the players who forfeited, in the
// order they were visited.
func Advance(snap *models.Snapshot) []uuid.UUID {
	order := snap.Session.PlayerOrder
	n := len(order)
	if n == 0 {
		snap.Session.CurrentTurn = nil
		return nil
	}

	start := indexOf(order, snap.Session.CurrentTurn)
	var forfeited []uuid.UUID

	// Each flag is consumed on its first visit, so one full lap plus one step
	// always reaches an unflagged player.
	for step := 1; step <= n+1; step++ {
		candidate := order[(start+step)%n]
		p := snap.Player(candidate)
		if p == nil {
			continue
		}
		if p.SkipNextTurn {
			p.SkipNextTurn = false
			p.SkipsServed++
			forfeited = append(forfeited, candidate)
			continue
		}
		next := candidate
		snap.Session.CurrentTurn = &next
		snap.Session.TurnSeq++
		return forfeited
	}

	// unreachable while every id in order has a player
	snap.Session.CurrentTurn = nil
	return forfeited
}

// indexOf returns the position of id in order, or -1 so that the first step
// lands on order[0].
func indexOf(order []uuid.UUID, id *uuid.UUID) int {
	if id == nil {
		return -1
	}
	for i, pid := range order {
		if pid == *id {
			return i
		}
	}
	return -1
}

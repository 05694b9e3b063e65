// internal/game/score.go
package game

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/lampstand/internal/models"
)

// ApplyScore credits an approved move: the awarded points are added and one
// card leaves the player's inventory. Other verdicts leave the player as is.
func ApplyScore(p models.Player, v models.Verdict, points int) models.Player {
	if v != models.VerdictApproved {
		return p
	}
	if points > 0 {
		p.Score += points
	}
	if p.InventoryRemaining > 0 {
		p.InventoryRemaining--
	}
	return p
}

// WinOutcome is the result of a win check.
type WinOutcome struct {
	Completed bool
	WinnerID  *uuid.UUID
}

// CheckWin reports the winner without touching the snapshot. The session is
// won by the first player, in registration order, whose inventory is empty.
// A completed session always reports its recorded winner.
func CheckWin(snap *models.Snapshot) WinOutcome {
	if snap.Session.Status == models.StatusCompleted {
		return WinOutcome{Completed: true, WinnerID: snap.Session.WinnerID}
	}
	for _, pid := range snap.Session.PlayerOrder {
		p := snap.Player(pid)
		if p != nil && p.InventoryRemaining == 0 {
			winner := pid
			return WinOutcome{Completed: true, WinnerID: &winner}
		}
	}
	return WinOutcome{}
}

// EvaluateWin applies CheckWin to the snapshot, completing an active session.
// Running it again without new moves is a no-op.
func EvaluateWin(snap *models.Snapshot, now time.Time) WinOutcome {
	out := CheckWin(snap)
	if !out.Completed || snap.Session.Status == models.StatusCompleted {
		return out
	}
	snap.Session.Status = models.StatusCompleted
	snap.Session.WinnerID = out.WinnerID
	snap.Session.CurrentTurn = nil
	snap.Session.CompletedAt = &now
	return out
}

// Standing is one row of the final ranking.
type Standing struct {
	Rank               int       `json:"rank"`
	PlayerID           uuid.UUID `json:"player_id"`
	DisplayName        string    `json:"display_name"`
	InventoryRemaining int       `json:"inventory_remaining"`
	Score              int       `json:"score"`
}

// Ranking orders players by fewest cards left, then highest score. Players
// equal on both share a rank and the next rank is skipped (1, 1, 3).
func Ranking(snap *models.Snapshot) []Standing {
	out := make([]Standing, len(snap.Players))
	for i, p := range snap.Players {
		out[i] = Standing{
			PlayerID:           p.ID,
			DisplayName:        p.DisplayName,
			InventoryRemaining: p.InventoryRemaining,
			Score:              p.Score,
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].InventoryRemaining != out[j].InventoryRemaining {
			return out[i].InventoryRemaining < out[j].InventoryRemaining
		}
		return out[i].Score > out[j].Score
	})
	for i := range out {
		if i > 0 && out[i].InventoryRemaining == out[i-1].InventoryRemaining && out[i].Score == out[i-1].Score {
			out[i].Rank = out[i-1].Rank
		} else {
			out[i].Rank = i + 1
		}
	}
	return out
}

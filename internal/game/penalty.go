package game

import "github.com/jason-s-yu/lampstand/internal/models"

// RejectionsBeforeSkip is the streak length that costs a player their next turn.
const RejectionsBeforeSkip = 3

// ApplyPenalty updates the rejection streak and skip flag for one verdict.
// The streak restarts once it triggers a skip.
func ApplyPenalty(p models.Player, v models.Verdict) models.Player {
	switch v {
	case models.VerdictApproved:
		p.ConsecutiveRejections = 0
	case models.VerdictRejected:
		p.ConsecutiveRejections++
		if p.ConsecutiveRejections >= RejectionsBeforeSkip {
			p.SkipNextTurn = true
			p.ConsecutiveRejections = 0
		}
	}
	return p
}

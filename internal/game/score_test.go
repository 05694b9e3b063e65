package game

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/lampstand/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyScore(t *testing.T) {
	p := models.Player{Score: 3, InventoryRemaining: 2}

	p = ApplyScore(p, models.VerdictApproved, 2)
	assert.Equal(t, 5, p.Score)
	assert.Equal(t, 1, p.InventoryRemaining)

	for _, v := range []models.Verdict{models.VerdictPartial, models.VerdictRejected} {
		out := ApplyScore(p, v, 4)
		assert.Equal(t, p, out, "verdict %s", v)
	}

	// negative awards never lower the score
	out := ApplyScore(p, models.VerdictApproved, -10)
	assert.Equal(t, 5, out.Score)

	out = ApplyScore(models.Player{}, models.VerdictApproved, 1)
	assert.Zero(t, out.InventoryRemaining)
}

func TestEvaluateWinIsIdempotent(t *testing.T) {
	snap := rotation(3)
	order := snap.Session.PlayerOrder
	for i := range snap.Players {
		snap.Players[i].InventoryRemaining = 2
	}

	assert.False(t, EvaluateWin(snap, time.Now()).Completed)
	assert.Equal(t, models.StatusActive, snap.Session.Status)

	// two players empty at once: registration order decides
	snap.Player(order[2]).InventoryRemaining = 0
	snap.Player(order[1]).InventoryRemaining = 0

	first := EvaluateWin(snap, time.Now())
	require.True(t, first.Completed)
	assert.Equal(t, order[1], *first.WinnerID)
	assert.Equal(t, models.StatusCompleted, snap.Session.Status)
	assert.Nil(t, snap.Session.CurrentTurn)
	completedAt := *snap.Session.CompletedAt

	// later state changes cannot move the recorded winner
	snap.Player(order[0]).InventoryRemaining = 0
	second := EvaluateWin(snap, time.Now().Add(time.Hour))
	assert.Equal(t, first, second)
	assert.Equal(t, order[1], *snap.Session.WinnerID)
	assert.Equal(t, completedAt, *snap.Session.CompletedAt)
	assert.Equal(t, models.StatusCompleted, snap.Session.Status)
}

func TestRanking(t *testing.T) {
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New(), uuid.New()}
	snap := &models.Snapshot{Players: []models.Player{
		{ID: ids[0], DisplayName: "a", InventoryRemaining: 2, Score: 9},
		{ID: ids[1], DisplayName: "b", InventoryRemaining: 0, Score: 1},
		{ID: ids[2], DisplayName: "c", InventoryRemaining: 2, Score: 9},
		{ID: ids[3], DisplayName: "d", InventoryRemaining: 2, Score: 12},
	}}

	got := Ranking(snap)
	require.Len(t, got, 4)

	assert.Equal(t, ids[1], got[0].PlayerID)
	assert.Equal(t, 1, got[0].Rank)
	assert.Equal(t, ids[3], got[1].PlayerID)
	assert.Equal(t, 2, got[1].Rank)
	// a and c tie on both keys
	assert.Equal(t, 3, got[2].Rank)
	assert.Equal(t, 3, got[3].Rank)
	assert.Equal(t, ids[0], got[2].PlayerID)
	assert.Equal(t, ids[2], got[3].PlayerID)
}

package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jason-s-yu/lampstand/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, time.Hour), mr
}

// eachStore runs fn against both implementations.
func eachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryStore()) })
	t.Run("redis", func(t *testing.T) {
		s, _ := newTestRedisStore(t)
		fn(t, s)
	})
}

func sampleSnapshot() *models.Snapshot {
	host := uuid.New()
	return &models.Snapshot{
		Session: models.Session{
			ID:                uuid.New(),
			Mode:              "classic",
			Topic:             "Gospels",
			Status:            models.StatusWaiting,
			HostID:            host,
			PlayerOrder:       []uuid.UUID{host},
			StartingInventory: 3,
			CreatedAt:         time.Now().UTC().Truncate(time.Millisecond),
		},
		Players: []models.Player{{ID: host, Identity: "alice", DisplayName: "Alice", InventoryRemaining: 3}},
	}
}

func TestCreateAndLoad(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		snap := sampleSnapshot()
		require.NoError(t, s.Create(ctx, snap))

		got, err := s.Load(ctx, snap.Session.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.Session.Version)
		assert.Equal(t, snap.Session.Topic, got.Session.Topic)
		require.Len(t, got.Players, 1)
		assert.Equal(t, "alice", got.Players[0].Identity)
		assert.Empty(t, got.Moves)

		assert.ErrorIs(t, s.Create(ctx, snap), ErrExists)

		_, err = s.Load(ctx, uuid.New())
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestCommitIsCompareAndSet(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		snap := sampleSnapshot()
		require.NoError(t, s.Create(ctx, snap))

		guest := models.Player{ID: uuid.New(), Identity: "bob", InventoryRemaining: 3}
		next := snap.Session
		next.PlayerOrder = append(next.PlayerOrder, guest.ID)
		require.NoError(t, s.Commit(ctx, 1, Change{Session: next, Players: []models.Player{guest}, Event: EventJoined}))

		// a second writer still holding version 1 loses
		stale := snap.Session
		stale.Topic = "overwritten"
		assert.ErrorIs(t, s.Commit(ctx, 1, Change{Session: stale}), ErrVersionConflict)

		got, err := s.Load(ctx, snap.Session.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), got.Session.Version)
		assert.Equal(t, "Gospels", got.Session.Topic)
		require.Len(t, got.Players, 2)
		assert.Equal(t, "bob", got.Players[1].Identity)

		_, err = s.Load(ctx, uuid.New())
		assert.ErrorIs(t, err, ErrNotFound)
		missing := models.Session{ID: uuid.New()}
		assert.ErrorIs(t, s.Commit(ctx, 1, Change{Session: missing}), ErrNotFound)
	})
}

func TestCommitAppendsMovesInOrder(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		snap := sampleSnapshot()
		require.NoError(t, s.Create(ctx, snap))
		host := snap.Players[0].ID

		for i := 0; i < 3; i++ {
			m := models.Move{
				ID:        uuid.New(),
				SessionID: snap.Session.ID,
				AuthorID:  host,
				Index:     i,
				Card:      models.NewCard(models.VerseCard{Reference: "Ps 23"}),
				Verdict:   models.VerdictPartial,
			}
			require.NoError(t, s.Commit(ctx, int64(i+1), Change{Session: snap.Session, Moves: []models.Move{m}}))
		}

		got, err := s.Load(ctx, snap.Session.ID)
		require.NoError(t, err)
		require.Len(t, got.Moves, 3)
		for i, m := range got.Moves {
			assert.Equal(t, i, m.Index)
			assert.IsType(t, models.VerseCard{}, m.Card.Payload)
		}
		assert.Equal(t, int64(4), got.Session.Version)
	})
}

func TestSubscribeReceivesCommits(t *testing.T) {
	eachStore(t, func(t *testing.T, s Store) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		snap := sampleSnapshot()
		require.NoError(t, s.Create(ctx, snap))

		sub, err := s.Subscribe(ctx, snap.Session.ID)
		require.NoError(t, err)
		defer sub.Close()

		require.NoError(t, s.Commit(ctx, 1, Change{Session: snap.Session, Event: EventStarted}))

		select {
		case n := <-sub.C():
			assert.Equal(t, snap.Session.ID, n.SessionID)
			assert.Equal(t, int64(2), n.Version)
			assert.Equal(t, EventStarted, n.Event)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for notification")
		}
	})
}

func TestRedisKeysExpire(t *testing.T) {
	s, mr := newTestRedisStore(t)
	snap := sampleSnapshot()
	require.NoError(t, s.Create(context.Background(), snap))

	assert.True(t, mr.Exists(s.sessionKey(snap.Session.ID)))
	mr.FastForward(2 * time.Hour)
	assert.False(t, mr.Exists(s.sessionKey(snap.Session.ID)))
}

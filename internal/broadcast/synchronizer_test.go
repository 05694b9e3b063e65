package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/jason-s-yu/lampstand/internal/models"
	"github.com/jason-s-yu/lampstand/internal/store"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seed(t *testing.T, st store.Store) *models.Snapshot {
	t.Helper()
	host := uuid.New()
	snap := &models.Snapshot{
		Session: models.Session{
			ID:          uuid.New(),
			Status:      models.StatusWaiting,
			HostID:      host,
			PlayerOrder: []uuid.UUID{host},
		},
		Players: []models.Player{{ID: host, Identity: "host", InventoryRemaining: 5}},
	}
	require.NoError(t, st.Create(context.Background(), snap))
	return snap
}

// bumpScore commits a score change for the host at the given version.
func bumpScore(t *testing.T, st store.Store, snap *models.Snapshot, version int64, score int) {
	t.Helper()
	p := snap.Players[0]
	p.Score = score
	require.NoError(t, st.Commit(context.Background(), version, store.Change{
		Session: snap.Session,
		Players: []models.Player{p},
		Event:   store.EventMoveResolved,
	}))
}

func next(t *testing.T, o *Observer) *models.Snapshot {
	t.Helper()
	select {
	case snap, ok := <-o.Updates():
		require.True(t, ok, "updates closed")
		return snap
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
	return nil
}

func stores(t *testing.T) map[string]store.Store {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return map[string]store.Store{
		"memory": store.NewMemoryStore(),
		"redis":  store.NewRedisStore(client, time.Hour),
	}
}

func TestObserverFollowsCommits(t *testing.T) {
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			logger, _ := test.NewNullLogger()
			s := New(st, logger)
			defer s.Close()

			snap := seed(t, st)
			o, err := s.Observe(context.Background(), snap.Session.ID)
			require.NoError(t, err)
			defer o.Close()

			first := next(t, o)
			assert.Equal(t, int64(1), first.Session.Version)

			bumpScore(t, st, snap, 1, 7)
			got := next(t, o)
			assert.Equal(t, int64(2), got.Session.Version)
			assert.Equal(t, 7, got.Players[0].Score)
			assert.Equal(t, got, o.Current())
		})
	}
}

func TestSlowObserverEndsOnLatest(t *testing.T) {
	st := store.NewMemoryStore()
	s := New(st, nil)
	defer s.Close()

	snap := seed(t, st)
	o, err := s.Observe(context.Background(), snap.Session.ID)
	require.NoError(t, err)
	defer o.Close()

	for v := int64(1); v <= 3; v++ {
		bumpScore(t, st, snap, v, int(v)*10)
	}

	require.Eventually(t, func() bool {
		return o.Current().Session.Version == 4
	}, 2*time.Second, 10*time.Millisecond)

	got := next(t, o)
	assert.Equal(t, int64(4), got.Session.Version)
	assert.Equal(t, 30, got.Players[0].Score)
}

func TestReconcileNeverMovesBackwards(t *testing.T) {
	st := store.NewMemoryStore()
	s := New(st, nil)
	defer s.Close()

	snap := seed(t, st)
	o, err := s.Observe(context.Background(), snap.Session.ID)
	require.NoError(t, err)
	defer o.Close()

	newer := snap.Clone()
	newer.Session.Version = 9
	assert.True(t, o.Reconcile(newer))

	older := snap.Clone()
	older.Session.Version = 3
	assert.False(t, o.Reconcile(older))
	assert.False(t, o.Reconcile(newer.Clone()), "same version is not a change")
	assert.Equal(t, int64(9), o.Current().Session.Version)
}

func TestObserversShareOneFeed(t *testing.T) {
	st := store.NewMemoryStore()
	s := New(st, nil)
	defer s.Close()

	snap := seed(t, st)
	id := snap.Session.ID
	a, err := s.Observe(context.Background(), id)
	require.NoError(t, err)
	b, err := s.Observe(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 2, s.ObserverCount(id))

	bumpScore(t, st, snap, 1, 1)
	for _, o := range []*Observer{a, b} {
		require.Eventually(t, func() bool {
			return o.Current().Session.Version == 2
		}, 2*time.Second, 10*time.Millisecond)
	}

	a.Close()
	assert.Equal(t, 1, s.ObserverCount(id))
	b.Close()
	assert.Equal(t, 0, s.ObserverCount(id))

	_, open := <-drain(a)
	assert.False(t, open)
}

func TestObserveMissingSession(t *testing.T) {
	s := New(store.NewMemoryStore(), nil)
	defer s.Close()

	missing := uuid.New()
	_, err := s.Observe(context.Background(), missing)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Zero(t, s.ObserverCount(missing))
}

func TestClosedSynchronizer(t *testing.T) {
	st := store.NewMemoryStore()
	s := New(st, nil)
	snap := seed(t, st)

	o, err := s.Observe(context.Background(), snap.Session.ID)
	require.NoError(t, err)
	s.Close()

	_, open := <-drain(o)
	assert.False(t, open)

	_, err = s.Observe(context.Background(), snap.Session.ID)
	assert.ErrorIs(t, err, ErrClosed)
}

// drain empties buffered snapshots and returns the channel for a final read.
func drain(o *Observer) <-chan *models.Snapshot {
	ch := o.Updates()
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return ch
			}
		default:
			return ch
		}
	}
}

// flakyStore wraps a MemoryStore and can hold, fail or serve stale Loads.
type flakyStore struct {
	*store.MemoryStore

	mu        sync.Mutex
	loads     int
	failNext  int
	staleNext int
	stale     *models.Snapshot
	gate      chan struct{}
	waiting   chan struct{}
}

func newFlakyStore() *flakyStore {
	return &flakyStore{MemoryStore: store.NewMemoryStore(), waiting: make(chan struct{}, 8)}
}

func (f *flakyStore) Load(ctx context.Context, id uuid.UUID) (*models.Snapshot, error) {
	f.mu.Lock()
	f.loads++
	gate := f.gate
	if f.failNext > 0 {
		f.failNext--
		f.mu.Unlock()
		return nil, errors.New("connection reset")
	}
	if f.staleNext > 0 && f.stale != nil {
		f.staleNext--
		stale := f.stale.Clone()
		f.mu.Unlock()
		return stale, nil
	}
	f.mu.Unlock()

	if gate != nil {
		f.waiting <- struct{}{}
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.MemoryStore.Load(ctx, id)
}

func (f *flakyStore) set(fn func(f *flakyStore)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *flakyStore) loadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads
}

func hasEntry(hook *test.Hook, level logrus.Level, msg string) bool {
	for _, e := range hook.AllEntries() {
		if e.Level == level && e.Message == msg {
			return true
		}
	}
	return false
}

func TestDepartingObserverDoesNotFailSharedRead(t *testing.T) {
	st := newFlakyStore()
	logger, _ := test.NewNullLogger()
	s := New(st, logger)
	defer s.Close()

	snap := seed(t, st)
	id := snap.Session.ID
	o, err := s.Observe(context.Background(), id)
	require.NoError(t, err)
	defer o.Close()
	next(t, o)

	gate := make(chan struct{})
	st.set(func(f *flakyStore) { f.gate = gate })

	// a second viewer starts the shared read and then leaves mid-read
	leaving, cancel := context.WithCancel(context.Background())
	observed := make(chan error, 1)
	go func() {
		_, err := s.Observe(leaving, id)
		observed <- err
	}()
	<-st.waiting

	bumpScore(t, st, snap, 1, 4)
	// let the feed pick up the notification and join the in-flight read
	time.Sleep(50 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-observed, context.Canceled)

	st.set(func(f *flakyStore) { f.gate = nil })
	close(gate)

	got := next(t, o)
	assert.Equal(t, int64(2), got.Session.Version)
	assert.Equal(t, 4, got.Players[0].Score)
}

func TestStaleReadCatchesUp(t *testing.T) {
	st := newFlakyStore()
	s := New(st, nil)
	defer s.Close()

	snap := seed(t, st)
	o, err := s.Observe(context.Background(), snap.Session.ID)
	require.NoError(t, err)
	defer o.Close()
	first := next(t, o)

	st.set(func(f *flakyStore) { f.stale, f.staleNext = first, 1 })
	before := st.loadCount()
	bumpScore(t, st, snap, 1, 9)

	got := next(t, o)
	assert.Equal(t, int64(2), got.Session.Version)
	assert.GreaterOrEqual(t, st.loadCount()-before, 2, "stale read is followed by another")
}

func TestPersistentlyStaleReadIsLogged(t *testing.T) {
	st := newFlakyStore()
	logger, hook := test.NewNullLogger()
	s := New(st, logger)
	defer s.Close()

	snap := seed(t, st)
	o, err := s.Observe(context.Background(), snap.Session.ID)
	require.NoError(t, err)
	defer o.Close()
	first := next(t, o)

	st.set(func(f *flakyStore) { f.stale, f.staleNext = first, maxCatchUp })
	bumpScore(t, st, snap, 1, 9)

	require.Eventually(t, func() bool {
		return hasEntry(hook, logrus.WarnLevel, "re-read still behind notification")
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), o.Current().Session.Version)

	var entry *logrus.Entry
	for _, e := range hook.AllEntries() {
		if e.Message == "re-read still behind notification" {
			entry = e
			break
		}
	}
	require.NotNil(t, entry)
	assert.Equal(t, int64(1), entry.Data["read"])
	assert.Equal(t, int64(2), entry.Data["notified"])
}

func TestFailedReReadIsRetried(t *testing.T) {
	st := newFlakyStore()
	logger, hook := test.NewNullLogger()
	s := New(st, logger)
	defer s.Close()

	snap := seed(t, st)
	o, err := s.Observe(context.Background(), snap.Session.ID)
	require.NoError(t, err)
	defer o.Close()
	next(t, o)

	st.set(func(f *flakyStore) { f.failNext = 2 })
	bumpScore(t, st, snap, 1, 3)

	got := next(t, o)
	assert.Equal(t, int64(2), got.Session.Version)
	assert.True(t, hasEntry(hook, logrus.WarnLevel, "re-read after notification failed, retrying"))
	assert.False(t, hasEntry(hook, logrus.ErrorLevel, "giving up on re-read after notification"))
}

func TestObserveWhileLastObserverLeaves(t *testing.T) {
	st := store.NewMemoryStore()
	s := New(st, nil)
	defer s.Close()

	snap := seed(t, st)
	id := snap.Session.ID
	version := int64(1)
	for i := 0; i < 100; i++ {
		a, err := s.Observe(context.Background(), id)
		require.NoError(t, err)

		done := make(chan struct{})
		go func() {
			a.Close()
			close(done)
		}()
		b, err := s.Observe(context.Background(), id)
		require.NoError(t, err)
		<-done

		bumpScore(t, st, snap, version, i)
		version++
		require.Eventually(t, func() bool {
			return b.Current().Session.Version == version
		}, 2*time.Second, 5*time.Millisecond, "iteration %d", i)
		b.Close()
	}
	assert.Zero(t, s.ObserverCount(id))
}

// internal/store/memory.go
package store

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/jason-s-yu/lampstand/internal/models"
)

// MemoryStore is a process-local Store. It backs tests and single-node runs
// without Redis, applying the same version check as RedisStore.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*models.Snapshot
	subs     map[uuid.UUID]map[*memorySubscription]struct{}
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[uuid.UUID]*models.Snapshot),
		subs:     make(map[uuid.UUID]map[*memorySubscription]struct{}),
	}
}

func (m *MemoryStore) Create(ctx context.Context, snap *models.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := snap.Session.ID
	if _, ok := m.sessions[id]; ok {
		return ErrExists
	}
	snap.Session.Version = 1
	m.sessions[id] = snap.Clone()
	m.notifyLocked(Notification{SessionID: id, Version: 1, Event: EventCreated})
	return nil
}

func (m *MemoryStore) Load(ctx context.Context, id uuid.UUID) (*models.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return snap.Clone(), nil
}

func (m *MemoryStore) Commit(ctx context.Context, expected int64, change Change) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := change.Session.ID
	cur, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	if cur.Session.Version != expected {
		return ErrVersionConflict
	}

	next := cur.Clone()
	next.Session = change.Session
	next.Session.Version = expected + 1
	for _, p := range change.Players {
		if existing := next.Player(p.ID); existing != nil {
			*existing = p
		} else {
			next.Players = append(next.Players, p)
		}
	}
	next.Moves = append(next.Moves, change.Moves...)

	// hold the roster in registration order, the same shape RedisStore.Load returns
	ordered := make([]models.Player, 0, len(next.Session.PlayerOrder))
	for _, pid := range next.Session.PlayerOrder {
		if p := next.Player(pid); p != nil {
			ordered = append(ordered, *p)
		}
	}
	next.Players = ordered

	m.sessions[id] = next.Clone()
	m.notifyLocked(Notification{SessionID: id, Version: next.Session.Version, Event: change.Event})
	return nil
}

func (m *MemoryStore) Subscribe(ctx context.Context, id uuid.UUID) (Subscription, error) {
	sub := &memorySubscription{
		store: m,
		id:    id,
		out:   make(chan Notification, 16),
		done:  make(chan struct{}),
	}

	m.mu.Lock()
	if m.subs[id] == nil {
		m.subs[id] = make(map[*memorySubscription]struct{})
	}
	m.subs[id][sub] = struct{}{}
	m.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			_ = sub.Close()
		case <-sub.done:
		}
	}()
	return sub, nil
}

// notifyLocked never blocks on a slow subscriber; a full buffer drops the
// notification since the next one triggers the same full re-read.
func (m *MemoryStore) notifyLocked(n Notification) {
	for sub := range m.subs[n.SessionID] {
		select {
		case sub.out <- n:
		default:
		}
	}
}

type memorySubscription struct {
	store *MemoryStore
	id    uuid.UUID
	out   chan Notification
	done  chan struct{}
	once  sync.Once
}

func (s *memorySubscription) C() <-chan Notification { return s.out }

func (s *memorySubscription) Close() error {
	s.once.Do(func() {
		s.store.mu.Lock()
		delete(s.store.subs[s.id], s)
		if len(s.store.subs[s.id]) == 0 {
			delete(s.store.subs, s.id)
		}
		s.store.mu.Unlock()
		close(s.done)
		close(s.out)
	})
	return nil
}

// internal/broadcast/synchronizer.go
package broadcast

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/jason-s-yu/lampstand/internal/models"
	"github.com/jason-s-yu/lampstand/internal/store"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// ErrClosed is returned when observing through a stopped Synchronizer.
var ErrClosed = errors.New("synchronizer closed")

const (
	// maxCatchUp bounds re-reads when a shared read lands behind the
	// notification that triggered it.
	maxCatchUp = 3

	// readTimeout bounds one shared full read.
	readTimeout = 10 * time.Second

	retryInitialInterval = 50 * time.Millisecond
	retryMaxInterval     = 2 * time.Second
	// retryWindow is how long a feed keeps retrying one re-read.
	retryWindow = time.Minute
)

// Synchronizer turns store notifications into full snapshots for local
// observers. One subscription per session is shared by every observer of
// that session, and each notification causes one full re-read.
type Synchronizer struct {
	store  store.Store
	logger logrus.FieldLogger
	reads  singleflight.Group

	mu     sync.Mutex
	feeds  map[uuid.UUID]*feed
	closed bool
}

type feed struct {
	id        uuid.UUID
	sub       store.Subscription
	cancel    context.CancelFunc
	observers map[*Observer]struct{}
}

// New returns a Synchronizer reading from st.
func New(st store.Store, logger logrus.FieldLogger) *Synchronizer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Synchronizer{
		store:  st,
		logger: logger,
		feeds:  make(map[uuid.UUID]*feed),
	}
}

// Observe registers a new observer of a session and primes it with the
// current snapshot. Close the observer when done.
func (s *Synchronizer) Observe(ctx context.Context, sessionID uuid.UUID) (*Observer, error) {
	o := &Observer{
		sessionID: sessionID,
		sync:      s,
		updates:   make(chan *models.Snapshot, 1),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	f, ok := s.feeds[sessionID]
	if !ok {
		// subscribe before the first read so no commit slips between them
		feedCtx, cancel := context.WithCancel(context.Background())
		sub, err := s.store.Subscribe(feedCtx, sessionID)
		if err != nil {
			cancel()
			s.mu.Unlock()
			return nil, err
		}
		f = &feed{id: sessionID, sub: sub, cancel: cancel, observers: make(map[*Observer]struct{})}
		s.feeds[sessionID] = f
		go s.run(feedCtx, f)
	}
	f.observers[o] = struct{}{}
	s.mu.Unlock()

	snap, err := s.refresh(ctx, sessionID, 0)
	if err != nil {
		o.Close()
		return nil, err
	}
	o.Reconcile(snap)
	return o, nil
}

// Close stops every feed and closes all observers.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	s.closed = true
	feeds := make([]*feed, 0, len(s.feeds))
	for _, f := range s.feeds {
		feeds = append(feeds, f)
	}
	s.mu.Unlock()

	for _, f := range feeds {
		s.stopFeed(f)
	}
}

// ObserverCount reports how many local observers a session has.
func (s *Synchronizer) ObserverCount(sessionID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.feeds[sessionID]; ok {
		return len(f.observers)
	}
	return 0
}

func (s *Synchronizer) run(ctx context.Context, f *feed) {
	defer s.stopFeed(f)
	log := s.logger.WithField("session_id", f.id)

	for {
		var n store.Notification
		select {
		case <-ctx.Done():
			return
		case note, ok := <-f.sub.C():
			if !ok {
				return
			}
			n = note
		}

		// one re-read covers every notification already queued
	drain:
		for {
			select {
			case more, ok := <-f.sub.C():
				if !ok {
					break drain
				}
				if more.Version > n.Version {
					n = more
				}
			default:
				break drain
			}
		}

		snap, err := s.refreshWithRetry(ctx, f.id, n.Version, log)
		if err != nil {
			if ctx.Err() == nil {
				log.WithError(err).WithField("version", n.Version).Error("giving up on re-read after notification")
			}
			continue
		}
		s.fanOut(f, snap)
	}
}

// refreshWithRetry re-reads with exponential backoff so a transient store
// failure delays a notification instead of dropping it. A session that no
// longer exists is not retried.
func (s *Synchronizer) refreshWithRetry(ctx context.Context, sessionID uuid.UUID, minVersion int64, log logrus.FieldLogger) (*models.Snapshot, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialInterval
	b.MaxInterval = retryMaxInterval

	return backoff.Retry(ctx, func() (*models.Snapshot, error) {
		snap, err := s.refresh(ctx, sessionID, minVersion)
		if errors.Is(err, store.ErrNotFound) {
			return nil, backoff.Permanent(err)
		}
		return snap, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(retryWindow),
		backoff.WithNotify(func(err error, wait time.Duration) {
			log.WithError(err).WithField("retry_in", wait).Warn("re-read after notification failed, retrying")
		}),
	)
}

// refresh performs a full read, collapsing concurrent reads of the same
// session. The shared read runs detached from ctx so one caller going away
// cannot fail it for the others; each caller stops waiting on its own ctx.
// A shared read may have begun before the commit announced with minVersion,
// so it retries until it has caught up.
func (s *Synchronizer) refresh(ctx context.Context, sessionID uuid.UUID, minVersion int64) (*models.Snapshot, error) {
	var snap *models.Snapshot
	for i := 0; i < maxCatchUp; i++ {
		ch := s.reads.DoChan(sessionID.String(), func() (interface{}, error) {
			readCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), readTimeout)
			defer cancel()
			return s.store.Load(readCtx, sessionID)
		})
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res := <-ch:
			if res.Err != nil {
				return nil, res.Err
			}
			snap = res.Val.(*models.Snapshot)
		}
		if snap.Session.Version >= minVersion {
			// readers share the result, hand each caller its own copy
			return snap.Clone(), nil
		}
	}
	s.logger.WithFields(logrus.Fields{
		"session_id": sessionID,
		"read":       snap.Session.Version,
		"notified":   minVersion,
	}).Warn("re-read still behind notification")
	return snap.Clone(), nil
}

func (s *Synchronizer) fanOut(f *feed, snap *models.Snapshot) {
	s.mu.Lock()
	observers := make([]*Observer, 0, len(f.observers))
	for o := range f.observers {
		observers = append(observers, o)
	}
	s.mu.Unlock()

	for _, o := range observers {
		o.Reconcile(snap)
	}
}

// remove detaches o. The last observer out unregisters the feed in the same
// critical section, so a concurrent Observe starts a fresh feed instead of
// joining one being torn down.
func (s *Synchronizer) remove(o *Observer) {
	s.mu.Lock()
	f, ok := s.feeds[o.sessionID]
	if !ok {
		s.mu.Unlock()
		return
	}
	if _, mine := f.observers[o]; !mine {
		s.mu.Unlock()
		return
	}
	delete(f.observers, o)
	if len(f.observers) > 0 {
		s.mu.Unlock()
		return
	}
	delete(s.feeds, f.id)
	s.mu.Unlock()

	f.cancel()
	_ = f.sub.Close()
}

// stopFeed tears a feed down and closes whatever observers it still has.
func (s *Synchronizer) stopFeed(f *feed) {
	s.mu.Lock()
	if cur, ok := s.feeds[f.id]; !ok || cur != f {
		s.mu.Unlock()
		return
	}
	delete(s.feeds, f.id)
	observers := make([]*Observer, 0, len(f.observers))
	for o := range f.observers {
		observers = append(observers, o)
	}
	s.mu.Unlock()

	f.cancel()
	_ = f.sub.Close()
	for _, o := range observers {
		o.shutdown()
	}
}

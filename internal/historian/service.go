// internal/historian/service.go is an asynchronous archiver that pops records
// from the Redis queue and persists them to PostgreSQL in batches.
package historian

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/lampstand/internal/cache"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Source yields queued records. Pop returns (nil, nil) when nothing arrived
// within timeout.
type Source interface {
	Pop(ctx context.Context, timeout time.Duration) (*cache.Record, error)
}

// Sink persists records.
type Sink interface {
	WriteBatch(ctx context.Context, recs []cache.Record) error
	MarkAbandoned(ctx context.Context, sessionID uuid.UUID) (bool, error)
}

// Options tunes the service. Zero values take the defaults.
type Options struct {
	Logger        logrus.FieldLogger
	BatchSize     int
	FlushInterval time.Duration
	// Inactivity is how long a session may go without records before it is
	// marked abandoned.
	Inactivity    time.Duration
	SweepInterval time.Duration
	PopTimeout    time.Duration
	Clock         func() time.Time
}

// Service drains a Source into a Sink and sweeps idle sessions.
type Service struct {
	source Source
	sink   Sink
	logger logrus.FieldLogger

	batchSize     int
	maxPending    int
	flushInterval time.Duration
	inactivity    time.Duration
	sweepInterval time.Duration
	popTimeout    time.Duration
	now           func() time.Time

	// lastActivity maps uuid.UUID -> time.Time for sessions still in progress
	lastActivity sync.Map

	batchMu sync.Mutex
	batch   []cache.Record
}

// New builds a Service.
func New(source Source, sink Sink, opts Options) *Service {
	s := &Service{
		source:        source,
		sink:          sink,
		logger:        opts.Logger,
		batchSize:     opts.BatchSize,
		flushInterval: opts.FlushInterval,
		inactivity:    opts.Inactivity,
		sweepInterval: opts.SweepInterval,
		popTimeout:    opts.PopTimeout,
		now:           opts.Clock,
	}
	if s.logger == nil {
		s.logger = logrus.StandardLogger()
	}
	if s.batchSize <= 0 {
		s.batchSize = 20
	}
	if s.flushInterval <= 0 {
		s.flushInterval = 500 * time.Millisecond
	}
	if s.inactivity <= 0 {
		s.inactivity = 10 * time.Minute
	}
	if s.sweepInterval <= 0 {
		s.sweepInterval = time.Minute
	}
	if s.popTimeout <= 0 {
		s.popTimeout = 3 * time.Second
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.maxPending = s.batchSize * 50
	s.batch = make([]cache.Record, 0, s.batchSize)
	return s
}

// Run blocks until ctx is cancelled, then flushes what is left.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("historian started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.readLoop(gctx) })
	g.Go(func() error { return s.flushLoop(gctx) })
	g.Go(func() error { return s.inactivityLoop(gctx) })
	err := g.Wait()

	// final flush gets its own deadline since ctx is already done
	flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.Flush(flushCtx)

	s.logger.Info("historian stopped")
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (s *Service) readLoop(ctx context.Context) error {
	for ctx.Err() == nil {
		rec, err := s.source.Pop(ctx, s.popTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.WithError(err).Error("pop failed")
			// avoid spinning on a broken connection
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
			}
			continue
		}
		if rec == nil {
			continue
		}
		s.track(*rec)
		if s.append(*rec) {
			s.Flush(ctx)
		}
	}
	return nil
}

func (s *Service) flushLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Flush(ctx)
		}
	}
}

func (s *Service) inactivityLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// track records activity; a completed session no longer needs watching.
func (s *Service) track(rec cache.Record) {
	if rec.Kind == cache.KindResult {
		s.lastActivity.Delete(rec.SessionID)
		return
	}
	s.lastActivity.Store(rec.SessionID, s.now())
}

// append adds a record and reports whether the batch is full.
func (s *Service) append(rec cache.Record) bool {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()
	s.batch = append(s.batch, rec)
	return len(s.batch) >= s.batchSize
}

// Flush writes the pending batch. A failed batch stays queued for the next
// flush, up to a cap after which the oldest records are dropped.
func (s *Service) Flush(ctx context.Context) {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()

	if len(s.batch) == 0 {
		return
	}
	pending := make([]cache.Record, len(s.batch))
	copy(pending, s.batch)

	if err := s.sink.WriteBatch(ctx, pending); err != nil {
		s.logger.WithError(err).WithField("records", len(pending)).Error("flush failed")
		if over := len(s.batch) - s.maxPending; over > 0 {
			s.logger.WithField("dropped", over).Warn("historian backlog full, dropping oldest records")
			s.batch = append(s.batch[:0], s.batch[over:]...)
		}
		return
	}
	s.batch = s.batch[:0]
	s.logger.WithField("records", len(pending)).Debug("flushed batch")
}

// Pending returns the number of records waiting to be written.
func (s *Service) Pending() int {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()
	return len(s.batch)
}

// Sweep marks sessions idle past the inactivity threshold as abandoned.
func (s *Service) Sweep(ctx context.Context) {
	now := s.now()
	s.lastActivity.Range(func(key, val interface{}) bool {
		sessionID, ok1 := key.(uuid.UUID)
		last, ok2 := val.(time.Time)
		if !ok1 || !ok2 || now.Sub(last) <= s.inactivity {
			return true
		}
		// make sure the session row exists before flagging it
		s.Flush(ctx)
		changed, err := s.sink.MarkAbandoned(ctx, sessionID)
		if err != nil {
			s.logger.WithError(err).WithField("session_id", sessionID).Error("failed to mark session abandoned")
			return true
		}
		s.lastActivity.Delete(sessionID)
		if changed {
			s.logger.WithField("session_id", sessionID).Info("marked session abandoned after inactivity")
		}
		return true
	})
}

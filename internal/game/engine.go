// internal/game/engine.go
package game

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/lampstand/internal/cache"
	"github.com/jason-s-yu/lampstand/internal/judge"
	"github.com/jason-s-yu/lampstand/internal/models"
	"github.com/jason-s-yu/lampstand/internal/store"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultJudgeTimeout      = 20 * time.Second
	DefaultMaxCommitRetries  = 5
	DefaultStartingInventory = 5
)

// Recorder receives archive records after each commit. Publishing is best
// effort and never affects the game.
type Recorder interface {
	Publish(ctx context.Context, rec cache.Record) error
}

// Options tunes an Engine. Zero values fall back to the defaults above.
type Options struct {
	Logger            logrus.FieldLogger
	Recorder          Recorder
	JudgeTimeout      time.Duration
	MaxCommitRetries  int
	StartingInventory int
	Clock             func() time.Time

	// OnCommitConflict is called every time a commit loses the version race.
	OnCommitConflict func(sessionID uuid.UUID, attempt int)
}

// Engine owns every mutation of a session. All reads and writes go through
// the store, so any number of engines may serve the same sessions.
type Engine struct {
	store    store.Store
	judge    judge.Judge
	recorder Recorder
	logger   logrus.FieldLogger
	tracer   trace.Tracer

	judgeTimeout      time.Duration
	maxRetries        int
	startingInventory int
	now               func() time.Time
	onConflict        func(uuid.UUID, int)
}

// NewEngine wires an engine over a store and a judge.
func NewEngine(st store.Store, j judge.Judge, opts Options) *Engine {
	e := &Engine{
		store:             st,
		judge:             j,
		recorder:          opts.Recorder,
		logger:            opts.Logger,
		tracer:            otel.Tracer("github.com/jason-s-yu/lampstand/internal/game"),
		judgeTimeout:      opts.JudgeTimeout,
		maxRetries:        opts.MaxCommitRetries,
		startingInventory: opts.StartingInventory,
		now:               opts.Clock,
		onConflict:        opts.OnCommitConflict,
	}
	if e.logger == nil {
		e.logger = logrus.StandardLogger()
	}
	if e.judgeTimeout <= 0 {
		e.judgeTimeout = DefaultJudgeTimeout
	}
	if e.maxRetries <= 0 {
		e.maxRetries = DefaultMaxCommitRetries
	}
	if e.startingInventory <= 0 {
		e.startingInventory = DefaultStartingInventory
	}
	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}
	return e
}

// Snapshot returns the current authoritative state of a session.
func (e *Engine) Snapshot(ctx context.Context, sessionID uuid.UUID) (*models.Snapshot, error) {
	return e.load(ctx, sessionID)
}

// Ranking returns the standings for a session in any state.
func (e *Engine) Ranking(ctx context.Context, sessionID uuid.UUID) ([]Standing, error) {
	snap, err := e.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return Ranking(snap), nil
}

func (e *Engine) load(ctx context.Context, sessionID uuid.UUID) (*models.Snapshot, error) {
	snap, err := e.store.Load(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	return snap, nil
}

// mutation computes a change from the latest snapshot. It must not modify cur.
type mutation func(cur *models.Snapshot) (store.Change, error)

// commit runs m against snap and writes the result with compare-and-set. On a
// version conflict it reloads and runs m again against the fresh state, so m
// is where preconditions are rechecked.
func (e *Engine) commit(ctx context.Context, snap *models.Snapshot, m mutation) (store.Change, error) {
	id := snap.Session.ID
	cur := snap
	for attempt := 1; ; attempt++ {
		change, err := m(cur)
		if err != nil {
			return store.Change{}, err
		}

		err = e.store.Commit(ctx, cur.Session.Version, change)
		if err == nil {
			change.Session.Version = cur.Session.Version + 1
			return change, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) {
			return store.Change{}, fmt.Errorf("commit session %s: %w", id, err)
		}

		e.logger.WithFields(logrus.Fields{
			"session_id": id,
			"version":    cur.Session.Version,
			"attempt":    attempt,
		}).Debug("commit conflict, reloading")
		if e.onConflict != nil {
			e.onConflict(id, attempt)
		}
		if attempt >= e.maxRetries {
			return store.Change{}, fmt.Errorf("%w: %w", ErrSessionBusy, ErrTurnAdvanceConflict)
		}

		if cur, err = e.load(ctx, id); err != nil {
			return store.Change{}, err
		}
	}
}

// record publishes archive records off the request path.
func (e *Engine) record(recs ...cache.Record) {
	if e.recorder == nil || len(recs) == 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, rec := range recs {
			if err := e.recorder.Publish(ctx, rec); err != nil {
				e.logger.WithFields(logrus.Fields{
					"session_id": rec.SessionID,
					"kind":       rec.Kind,
				}).WithError(err).Warn("failed to publish historian record")
			}
		}
	}()
}

func moveRecord(m models.Move) cache.Record {
	return cache.Record{
		Kind:      cache.KindMove,
		SessionID: m.SessionID,
		Timestamp: m.Timestamp.UnixMilli(),
		Move: &cache.MoveRecord{
			MoveID:        m.ID,
			Index:         m.Index,
			TurnSeq:       m.TurnSeq,
			AuthorID:      m.AuthorID,
			Card:          m.Card,
			Rationale:     m.Rationale,
			Verdict:       m.Verdict,
			Feedback:      m.Feedback,
			PointsAwarded: m.PointsAwarded,
		},
	}
}

func resultRecord(snap *models.Snapshot, at time.Time) cache.Record {
	standings := Ranking(snap)
	rows := make([]cache.StandingRecord, 0, len(standings))
	for _, s := range standings {
		identity := ""
		if p := snap.Player(s.PlayerID); p != nil {
			identity = p.Identity
		}
		rows = append(rows, cache.StandingRecord{
			PlayerID:           s.PlayerID,
			Identity:           identity,
			DisplayName:        s.DisplayName,
			Rank:               s.Rank,
			Score:              s.Score,
			InventoryRemaining: s.InventoryRemaining,
		})
	}
	return cache.Record{
		Kind:      cache.KindResult,
		SessionID: snap.Session.ID,
		Timestamp: at.UnixMilli(),
		Result: &cache.ResultRecord{
			Mode:      snap.Session.Mode,
			Topic:     snap.Session.Topic,
			WinnerID:  snap.Session.WinnerID,
			Standings: rows,
		},
	}
}

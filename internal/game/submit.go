// internal/game/submit.go
package game

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jason-s-yu/lampstand/internal/cache"
	"github.com/jason-s-yu/lampstand/internal/judge"
	"github.com/jason-s-yu/lampstand/internal/models"
	"github.com/jason-s-yu/lampstand/internal/store"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// MaxRationaleLength caps the free-text rationale, in runes.
const MaxRationaleLength = 2000

// Outcome says what a submission did.
type Outcome string

const (
	// OutcomeJudged means the move was judged and committed.
	OutcomeJudged Outcome = "judged"
	// OutcomeTurnSkipped means the caller carried a skip flag and forfeited
	// the turn. The judge was not called.
	OutcomeTurnSkipped Outcome = "turn_skipped"
)

// SubmitResult reports a committed submission.
type SubmitResult struct {
	Outcome Outcome      `json:"outcome"`
	Move    *models.Move `json:"move,omitempty"`

	// Forfeited lists players whose turn was skipped while the turn advanced.
	Forfeited []uuid.UUID `json:"forfeited,omitempty"`

	NextTurn  *uuid.UUID `json:"next_turn,omitempty"`
	Completed bool       `json:"completed"`
	WinnerID  *uuid.UUID `json:"winner_id,omitempty"`
	Version   int64      `json:"version"`
}

// Submit plays a card for the current turn holder. The judge call happens
// outside any lock; the verdict is then committed with compare-and-set. If
// the turn moved on while the judge was thinking, the verdict is dropped and
// ErrNotYourTurn returned.
func (e *Engine) Submit(ctx context.Context, sessionID, playerID uuid.UUID, card models.Card, rationale string) (*SubmitResult, error) {
	ctx, span := e.tracer.Start(ctx, "game.Submit", trace.WithAttributes(
		attribute.String("session.id", sessionID.String()),
		attribute.String("player.id", playerID.String()),
	))
	defer span.End()

	log := e.logger.WithFields(logrus.Fields{
		"session_id": sessionID,
		"player_id":  playerID,
	})

	snap, err := e.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := checkTurn(snap, playerID); err != nil {
		return nil, err
	}
	if snap.Player(playerID).SkipNextTurn {
		return e.forfeit(ctx, snap, playerID, log)
	}
	if err := validateMove(card, rationale); err != nil {
		return nil, err
	}

	verdict, err := e.evaluate(ctx, snap, card, rationale)
	if err != nil {
		log.WithError(err).Warn("judge unavailable, move discarded")
		span.RecordError(err)
		span.SetStatus(codes.Error, "judge unavailable")
		return nil, fmt.Errorf("%w: %w", ErrJudgeUnavailable, err)
	}

	pending := models.Move{
		ID:            uuid.New(),
		SessionID:     sessionID,
		AuthorID:      playerID,
		TurnSeq:       snap.Session.TurnSeq,
		Card:          card,
		Rationale:     rationale,
		Verdict:       verdict.Verdict,
		Feedback:      verdict.Feedback,
		PointsAwarded: verdict.PointsAwarded,
		Timestamp:     e.now(),
	}

	var (
		result *SubmitResult
		final  *models.Snapshot
	)
	change, err := e.commit(ctx, snap, func(cur *models.Snapshot) (store.Change, error) {
		next, res, err := resolveMove(cur, pending, e.now())
		if err != nil {
			return store.Change{}, err
		}
		result, final = res, next
		event := store.EventMoveResolved
		if res.Completed {
			event = store.EventCompleted
		}
		return store.Change{Session: next.Session, Players: next.Players, Moves: []models.Move{*res.Move}, Event: event}, nil
	})
	if err != nil {
		log.WithError(err).Info("verdict not committed")
		return nil, err
	}
	result.Version = change.Session.Version
	final.Session.Version = change.Session.Version

	recs := []cache.Record{moveRecord(*result.Move)}
	if result.Completed {
		recs = append(recs, resultRecord(final, e.now()))
	}
	e.record(recs...)

	log.WithFields(logrus.Fields{
		"verdict":   result.Move.Verdict,
		"points":    result.Move.PointsAwarded,
		"next_turn": result.NextTurn,
		"forfeited": len(result.Forfeited),
		"completed": result.Completed,
		"version":   result.Version,
	}).Info("move resolved")
	return result, nil
}

// forfeit consumes the caller's skip flag and passes the turn on.
func (e *Engine) forfeit(ctx context.Context, snap *models.Snapshot, playerID uuid.UUID, log logrus.FieldLogger) (*SubmitResult, error) {
	turnSeq := snap.Session.TurnSeq
	var result *SubmitResult
	change, err := e.commit(ctx, snap, func(cur *models.Snapshot) (store.Change, error) {
		if err := checkTurn(cur, playerID); err != nil {
			return store.Change{}, err
		}
		if cur.Session.TurnSeq != turnSeq || !cur.Player(playerID).SkipNextTurn {
			return store.Change{}, ErrNotYourTurn
		}
		next := cur.Clone()
		p := next.Player(playerID)
		p.SkipNextTurn = false
		p.SkipsServed++
		forfeited := append([]uuid.UUID{playerID}, Advance(next)...)
		result = &SubmitResult{
			Outcome:   OutcomeTurnSkipped,
			Forfeited: forfeited,
			NextTurn:  next.Session.CurrentTurn,
		}
		return store.Change{Session: next.Session, Players: next.Players, Event: store.EventTurnSkipped}, nil
	})
	if err != nil {
		return nil, err
	}
	result.Version = change.Session.Version

	log.WithField("next_turn", result.NextTurn).Info("turn forfeited")
	return result, nil
}

// evaluate calls the judge under the engine's timeout.
func (e *Engine) evaluate(ctx context.Context, snap *models.Snapshot, card models.Card, rationale string) (judge.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.judgeTimeout)
	defer cancel()

	start := time.Now()
	res, err := e.judge.Evaluate(ctx, judge.Request{
		SessionTopic: snap.Session.Topic,
		Card:         card,
		Rationale:    rationale,
		GameMode:     snap.Session.Mode,
	})
	if err == nil {
		// a judge that ignores its context still loses once the deadline passes
		err = ctx.Err()
	}
	if err != nil {
		return judge.Result{}, err
	}
	if !res.Valid() {
		return judge.Result{}, fmt.Errorf("%w: verdict %q", judge.ErrMalformedResponse, res.Verdict)
	}

	e.logger.WithFields(logrus.Fields{
		"session_id": snap.Session.ID,
		"verdict":    res.Verdict,
		"took":       time.Since(start),
	}).Debug("judge replied")
	return res.Clamp(), nil
}

// resolveMove applies a judged move to a copy of cur. The move only lands if
// its author still holds the same turn it was judged for.
func resolveMove(cur *models.Snapshot, move models.Move, now time.Time) (*models.Snapshot, *SubmitResult, error) {
	if err := checkTurn(cur, move.AuthorID); err != nil {
		return nil, nil, err
	}
	if cur.Session.TurnSeq != move.TurnSeq {
		return nil, nil, ErrNotYourTurn
	}

	next := cur.Clone()
	p := next.Player(move.AuthorID)
	*p = ApplyPenalty(*p, move.Verdict)
	*p = ApplyScore(*p, move.Verdict, move.PointsAwarded)

	move.Index = len(next.Moves)
	next.Moves = append(next.Moves, move)

	res := &SubmitResult{Outcome: OutcomeJudged, Move: &move}

	win := EvaluateWin(next, now)
	if win.Completed {
		res.Completed = true
		res.WinnerID = win.WinnerID
		return next, res, nil
	}
	if move.Verdict.AdvancesTurn() {
		res.Forfeited = Advance(next)
	}
	res.NextTurn = next.Session.CurrentTurn
	return next, res, nil
}

func checkTurn(snap *models.Snapshot, playerID uuid.UUID) error {
	if snap.Session.Status != models.StatusActive {
		return ErrSessionNotActive
	}
	if snap.Player(playerID) == nil {
		return ErrPlayerNotFound
	}
	if !snap.Session.IsHolder(playerID) {
		return ErrNotYourTurn
	}
	return nil
}

func validateMove(card models.Card, rationale string) error {
	if err := card.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if strings.TrimSpace(rationale) == "" {
		return fmt.Errorf("%w: rationale is required", ErrInvalidPayload)
	}
	if utf8.RuneCountInString(rationale) > MaxRationaleLength {
		return fmt.Errorf("%w: rationale longer than %d characters", ErrInvalidPayload, MaxRationaleLength)
	}
	return nil
}

// internal/judge/judge.go
package judge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jason-s-yu/lampstand/internal/models"
)

// ErrMalformedResponse is returned when the oracle answers with something
// that cannot be read as a verdict.
var ErrMalformedResponse = errors.New("malformed judge response")

// Request is everything the oracle sees about one move.
type Request struct {
	SessionTopic string      `json:"session_topic"`
	Card         models.Card `json:"card"`
	Rationale    string      `json:"rationale"`
	GameMode     string      `json:"game_mode"`
}

// Result is a normalized verdict.
type Result struct {
	Verdict       models.Verdict `json:"verdict"`
	Feedback      string         `json:"feedback"`
	PointsAwarded int            `json:"points_awarded"`
}

// Judge evaluates a single move. Implementations hold no game state.
type Judge interface {
	Evaluate(ctx context.Context, req Request) (Result, error)
}

// Func adapts a plain function to the Judge interface.
type Func func(ctx context.Context, req Request) (Result, error)

func (f Func) Evaluate(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}

// RawVerdict is the oracle's answer before normalization.
type RawVerdict struct {
	Verdict       string `json:"verdict"`
	Feedback      string `json:"feedback"`
	PointsAwarded int    `json:"points_awarded"`
}

// Normalize turns a raw answer into a Result. Unknown verdicts are malformed.
func Normalize(raw RawVerdict) (Result, error) {
	v, err := models.ParseVerdict(raw.Verdict)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return Result{
		Verdict:       v,
		Feedback:      strings.TrimSpace(raw.Feedback),
		PointsAwarded: raw.PointsAwarded,
	}.Clamp(), nil
}

// Clamp enforces the point rules: never negative, and zero unless approved.
func (r Result) Clamp() Result {
	if r.Verdict != models.VerdictApproved || r.PointsAwarded < 0 {
		r.PointsAwarded = 0
	}
	return r
}

// Valid reports whether the verdict is one of the three known outcomes.
func (r Result) Valid() bool {
	switch r.Verdict {
	case models.VerdictApproved, models.VerdictPartial, models.VerdictRejected:
		return true
	}
	return false
}

func categoryOf(c models.Card) string {
	if c.Payload == nil {
		return ""
	}
	return string(c.Payload.Category())
}

// internal/game/errors.go
package game

// GameError is a caller-facing failure. Every value is a sentinel so callers
// compare with errors.Is after any amount of wrapping.
type GameError struct {
	Code      string
	Message   string
	Retryable bool
}

func (e *GameError) Error() string {
	return e.Message
}

var (
	ErrSessionNotFound  = &GameError{Code: "SESSION_NOT_FOUND", Message: "session not found"}
	ErrPlayerNotFound   = &GameError{Code: "PLAYER_NOT_FOUND", Message: "you are not a player in this session"}
	ErrSessionNotActive = &GameError{Code: "SESSION_NOT_ACTIVE", Message: "session is not accepting moves"}
	ErrSessionStarted   = &GameError{Code: "SESSION_STARTED", Message: "session has already started"}
	ErrNotHost          = &GameError{Code: "NOT_HOST", Message: "only the host can start the session"}
	ErrNoPlayers        = &GameError{Code: "NO_PLAYERS", Message: "session needs at least one player"}
	ErrNotYourTurn      = &GameError{Code: "NOT_YOUR_TURN", Message: "it is not your turn"}
	ErrInvalidPayload   = &GameError{Code: "INVALID_PAYLOAD", Message: "invalid move"}
	ErrJudgeUnavailable = &GameError{Code: "JUDGE_UNAVAILABLE", Message: "judge unavailable, try again", Retryable: true}

	// ErrTurnAdvanceConflict is internal: it triggers a reload and retry and
	// only escapes as ErrSessionBusy.
	ErrTurnAdvanceConflict = &GameError{Code: "TURN_ADVANCE_CONFLICT", Message: "turn advanced concurrently", Retryable: true}
	ErrSessionBusy         = &GameError{Code: "SESSION_BUSY", Message: "session busy, try again", Retryable: true}
)

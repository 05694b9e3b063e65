package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/jason-s-yu/lampstand/internal/auth"
	"github.com/jason-s-yu/lampstand/internal/game"
	"github.com/sirupsen/logrus"
)

// maxBodyBytes caps request bodies; a rationale is at most a few KB.
const maxBodyBytes = 64 << 10

// errorBody is the JSON shape of every failed response.
type errorBody struct {
	Type      string `json:"type"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

var errUnauthenticated = &game.GameError{Code: "UNAUTHENTICATED", Message: "missing or invalid auth token"}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps an engine error onto an HTTP status and its GameError.
// Anything unrecognized is a 500.
func statusFor(err error) (int, *game.GameError) {
	var ge *game.GameError
	if !errors.As(err, &ge) {
		return http.StatusInternalServerError, &game.GameError{Code: "INTERNAL", Message: "internal error"}
	}
	switch ge {
	case game.ErrSessionNotFound:
		return http.StatusNotFound, ge
	case game.ErrPlayerNotFound, game.ErrNotHost:
		return http.StatusForbidden, ge
	case game.ErrSessionNotActive, game.ErrNotYourTurn, game.ErrNoPlayers, game.ErrSessionStarted:
		return http.StatusConflict, ge
	case game.ErrInvalidPayload:
		return http.StatusBadRequest, ge
	case game.ErrJudgeUnavailable, game.ErrSessionBusy, game.ErrTurnAdvanceConflict:
		return http.StatusServiceUnavailable, ge
	case errUnauthenticated:
		return http.StatusUnauthorized, ge
	}
	return http.StatusInternalServerError, ge
}

// writeError logs server-side failures and writes the error body. Client
// errors carry the full message; server errors only the public one.
func writeError(w http.ResponseWriter, logger logrus.FieldLogger, err error) {
	status, ge := statusFor(err)
	msg := ge.Message
	if status < http.StatusInternalServerError {
		msg = err.Error()
	} else {
		logger.WithError(err).WithField("code", ge.Code).Warn("request failed")
	}
	writeJSON(w, status, errorBody{
		Type:      "error",
		Code:      ge.Code,
		Message:   msg,
		Retryable: ge.Retryable,
	})
}

// sessionID parses the {id} path segment.
func sessionID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, game.ErrSessionNotFound
	}
	return id, nil
}

// identity authenticates the caller.
func identity(r *http.Request) (string, error) {
	id, err := auth.IdentityFromRequest(r)
	if err != nil || id == "" {
		return "", errUnauthenticated
	}
	return id, nil
}

// decodeBody reads an optional JSON body into v. An empty body is allowed.
func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", game.ErrInvalidPayload, err)
	}
	return nil
}

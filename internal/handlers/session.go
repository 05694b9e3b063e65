// internal/handlers/session.go
package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/jason-s-yu/lampstand/internal/game"
	"github.com/jason-s-yu/lampstand/internal/models"
)

type createSessionRequest struct {
	Mode              string `json:"mode"`
	Topic             string `json:"topic"`
	DisplayName       string `json:"display_name"`
	StartingInventory int    `json:"starting_inventory"`
}

type joinSessionRequest struct {
	DisplayName string `json:"display_name"`
}

type submitMoveRequest struct {
	Card      models.Card `json:"card"`
	Rationale string      `json:"rationale"`
}

// CreateSessionHandler creates a waiting session with the caller as host.
func (s *SessionServer) CreateSessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ident, err := identity(r)
		if err != nil {
			writeError(w, s.Logger, err)
			return
		}
		var req createSessionRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, s.Logger, err)
			return
		}

		snap, err := s.Engine.CreateSession(r.Context(), game.CreateParams{
			HostIdentity:      ident,
			HostName:          req.DisplayName,
			Mode:              req.Mode,
			Topic:             req.Topic,
			StartingInventory: req.StartingInventory,
		})
		if err != nil {
			writeError(w, s.Logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, snap)
	}
}

// JoinSessionHandler seats the caller. Joining twice returns the same seat.
func (s *SessionServer) JoinSessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := sessionID(r)
		if err != nil {
			writeError(w, s.Logger, err)
			return
		}
		ident, err := identity(r)
		if err != nil {
			writeError(w, s.Logger, err)
			return
		}
		var req joinSessionRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, s.Logger, err)
			return
		}

		player, err := s.Engine.Join(r.Context(), id, ident, req.DisplayName)
		if err != nil {
			writeError(w, s.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, player)
	}
}

// StartSessionHandler starts a waiting session. Host only.
func (s *SessionServer) StartSessionHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, player, ok := s.seat(w, r)
		if !ok {
			return
		}
		snap, err := s.Engine.Start(r.Context(), id, player.ID)
		if err != nil {
			writeError(w, s.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

// SubmitMoveHandler plays a card for the caller's turn. The response waits
// on the judge.
func (s *SessionServer) SubmitMoveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, player, ok := s.seat(w, r)
		if !ok {
			return
		}
		var req submitMoveRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, s.Logger, err)
			return
		}

		res, err := s.Engine.Submit(r.Context(), id, player.ID, req.Card, req.Rationale)
		if err != nil {
			writeError(w, s.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// SessionStateHandler returns the full snapshot to a seated player.
func (s *SessionServer) SessionStateHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _, ok := s.seat(w, r)
		if !ok {
			return
		}
		snap, err := s.Engine.Snapshot(r.Context(), id)
		if err != nil {
			writeError(w, s.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

// RankingHandler returns current standings.
func (s *SessionServer) RankingHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _, ok := s.seat(w, r)
		if !ok {
			return
		}
		standings, err := s.Engine.Ranking(r.Context(), id)
		if err != nil {
			writeError(w, s.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, standings)
	}
}

// seat resolves the session id and the caller's player, writing the error
// response itself when either fails.
func (s *SessionServer) seat(w http.ResponseWriter, r *http.Request) (uuid.UUID, *models.Player, bool) {
	sid, err := sessionID(r)
	if err != nil {
		writeError(w, s.Logger, err)
		return uuid.Nil, nil, false
	}
	ident, err := identity(r)
	if err != nil {
		writeError(w, s.Logger, err)
		return uuid.Nil, nil, false
	}
	player, err := s.Engine.PlayerForIdentity(r.Context(), sid, ident)
	if err != nil {
		writeError(w, s.Logger, err)
		return uuid.Nil, nil, false
	}
	return sid, player, true
}

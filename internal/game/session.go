// internal/game/session.go
package game

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jason-s-yu/lampstand/internal/models"
	"github.com/jason-s-yu/lampstand/internal/store"
	"github.com/sirupsen/logrus"
)

// errAlreadySeated stops a join commit when the identity already has a seat.
var errAlreadySeated = errors.New("already seated")

// CreateParams describes a new session. The host joins as the first player.
type CreateParams struct {
	HostIdentity      string
	HostName          string
	Mode              string
	Topic             string
	StartingInventory int
}

// CreateSession stores a new waiting session with the host seated.
func (e *Engine) CreateSession(ctx context.Context, params CreateParams) (*models.Snapshot, error) {
	if strings.TrimSpace(params.HostIdentity) == "" {
		return nil, fmt.Errorf("%w: host identity is required", ErrInvalidPayload)
	}
	inventory := params.StartingInventory
	if inventory <= 0 {
		inventory = e.startingInventory
	}

	now := e.now()
	host := models.Player{
		ID:                 uuid.New(),
		Identity:           params.HostIdentity,
		DisplayName:        displayName(params.HostName, params.HostIdentity),
		InventoryRemaining: inventory,
		JoinedAt:           now,
	}
	snap := &models.Snapshot{
		Session: models.Session{
			ID:                uuid.New(),
			Mode:              params.Mode,
			Topic:             params.Topic,
			Status:            models.StatusWaiting,
			HostID:            host.ID,
			PlayerOrder:       []uuid.UUID{host.ID},
			StartingInventory: inventory,
			CreatedAt:         now,
		},
		Players: []models.Player{host},
	}

	if err := e.store.Create(ctx, snap); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	e.logger.WithFields(logrus.Fields{
		"session_id": snap.Session.ID,
		"host_id":    host.ID,
		"topic":      snap.Session.Topic,
	}).Info("session created")
	return snap, nil
}

// Join seats identity in a waiting session. Joining again with the same
// identity returns the existing player.
func (e *Engine) Join(ctx context.Context, sessionID uuid.UUID, identity, name string) (*models.Player, error) {
	if strings.TrimSpace(identity) == "" {
		return nil, fmt.Errorf("%w: identity is required", ErrInvalidPayload)
	}
	snap, err := e.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var joined models.Player
	existing := false
	_, err = e.commit(ctx, snap, func(cur *models.Snapshot) (store.Change, error) {
		if p := cur.PlayerByIdentity(identity); p != nil {
			joined, existing = *p, true
			return store.Change{}, errAlreadySeated
		}
		if cur.Session.Status != models.StatusWaiting {
			return store.Change{}, ErrSessionStarted
		}
		joined = models.Player{
			ID:                 uuid.New(),
			Identity:           identity,
			DisplayName:        displayName(name, identity),
			InventoryRemaining: cur.Session.StartingInventory,
			JoinedAt:           e.now(),
		}
		next := cur.Clone()
		next.Session.PlayerOrder = append(next.Session.PlayerOrder, joined.ID)
		return store.Change{Session: next.Session, Players: []models.Player{joined}, Event: store.EventJoined}, nil
	})
	if existing {
		return &joined, nil
	}
	if err != nil {
		return nil, err
	}

	e.logger.WithFields(logrus.Fields{
		"session_id": sessionID,
		"player_id":  joined.ID,
	}).Info("player joined")
	return &joined, nil
}

// Start moves a waiting session to active and gives the first registered
// player the turn. Only the host may start.
func (e *Engine) Start(ctx context.Context, sessionID, playerID uuid.UUID) (*models.Snapshot, error) {
	snap, err := e.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var started *models.Snapshot
	change, err := e.commit(ctx, snap, func(cur *models.Snapshot) (store.Change, error) {
		if cur.Session.HostID != playerID {
			return store.Change{}, ErrNotHost
		}
		if cur.Session.Status != models.StatusWaiting {
			return store.Change{}, ErrSessionStarted
		}
		if len(cur.Session.PlayerOrder) == 0 {
			return store.Change{}, ErrNoPlayers
		}
		next := cur.Clone()
		now := e.now()
		first := next.Session.PlayerOrder[0]
		next.Session.Status = models.StatusActive
		next.Session.CurrentTurn = &first
		next.Session.TurnSeq = 1
		next.Session.StartedAt = &now
		started = next
		return store.Change{Session: next.Session, Event: store.EventStarted}, nil
	})
	if err != nil {
		return nil, err
	}
	started.Session.Version = change.Session.Version

	e.logger.WithFields(logrus.Fields{
		"session_id": sessionID,
		"players":    len(started.Players),
		"first_turn": started.Session.CurrentTurn,
	}).Info("session started")
	return started, nil
}

// PlayerForIdentity resolves the caller's seat in a session.
func (e *Engine) PlayerForIdentity(ctx context.Context, sessionID uuid.UUID, identity string) (*models.Player, error) {
	snap, err := e.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	p := snap.PlayerByIdentity(identity)
	if p == nil {
		return nil, ErrPlayerNotFound
	}
	out := *p
	return &out, nil
}

func displayName(name, identity string) string {
	if n := strings.TrimSpace(name); n != "" {
		return n
	}
	return identity
}

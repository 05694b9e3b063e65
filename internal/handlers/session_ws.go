// internal/handlers/session_ws.go
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/jason-s-yu/lampstand/internal/broadcast"
	"github.com/jason-s-yu/lampstand/internal/game"
	"github.com/jason-s-yu/lampstand/internal/middleware"
	"github.com/jason-s-yu/lampstand/internal/models"
	"github.com/jason-s-yu/lampstand/internal/store"
	"github.com/sirupsen/logrus"
)

// Subprotocol is the websocket subprotocol observers must request.
const Subprotocol = "session"

// SnapshotMessage is pushed to observers on connect and after every change.
type SnapshotMessage struct {
	Type     string           `json:"type"`
	Snapshot *models.Snapshot `json:"snapshot"`
}

// SessionWSHandler upgrades to a websocket and streams snapshots of one
// session to one of its players. The socket is read-only: anything the client sends is discarded
// and moves go through POST /session/move.
func (s *SessionServer) SessionWSHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _, ok := s.seat(w, r)
		if !ok {
			return
		}

		// observe before upgrading so a missing session is a plain 404
		obs, err := s.Sync.Observe(r.Context(), id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				err = game.ErrSessionNotFound
			}
			writeError(w, s.Logger, err)
			return
		}
		defer obs.Close()

		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{Subprotocol},
			OriginPatterns: s.OriginPatterns,
		})
		if err != nil {
			s.Logger.WithError(err).WithField("session_id", id).Warn("websocket accept failed")
			return
		}
		defer c.Close(websocket.StatusInternalError, "observer exited")

		if c.Subprotocol() != Subprotocol {
			c.Close(BadSubprotocolError, "client must use the 'session' subprotocol")
			return
		}
		middleware.LogWebSocketConnect(s.Logger, r.RemoteAddr, r.URL.Path)

		// the client never sends anything; CloseRead notices when it leaves
		ctx := c.CloseRead(r.Context())
		err = s.stream(ctx, c, obs)
		middleware.LogWebSocketDisconnect(s.Logger, r.RemoteAddr, r.URL.Path, err)
	}
}

// stream writes every snapshot the observer receives until the client goes
// away or the session completes.
func (s *SessionServer) stream(ctx context.Context, c *websocket.Conn, obs *broadcast.Observer) error {
	log := s.Logger.WithField("session_id", obs.SessionID())
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-obs.Updates():
			if !ok {
				c.Close(ObserverClosedError, "server shutting down")
				return nil
			}
			if err := s.write(ctx, c, snap); err != nil {
				return err
			}
			log.WithFields(logrus.Fields{
				"version": snap.Session.Version,
				"status":  snap.Session.Status,
			}).Debug("pushed snapshot")
			if snap.Session.Status == models.StatusCompleted {
				c.Close(websocket.StatusNormalClosure, "session completed")
				return nil
			}
		}
	}
}

func (s *SessionServer) write(ctx context.Context, c *websocket.Conn, snap *models.Snapshot) error {
	timeout := s.WriteTimeout
	if timeout <= 0 {
		timeout = DefaultWriteTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return wsjson.Write(ctx, c, SnapshotMessage{Type: "snapshot", Snapshot: snap})
}

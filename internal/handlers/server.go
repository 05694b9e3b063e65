// internal/handlers/server.go
package handlers

import (
	"net/http"
	"time"

	"github.com/jason-s-yu/lampstand/internal/broadcast"
	"github.com/jason-s-yu/lampstand/internal/game"
	"github.com/jason-s-yu/lampstand/internal/middleware"
	"github.com/sirupsen/logrus"
)

// DefaultWriteTimeout bounds a single websocket write.
const DefaultWriteTimeout = 5 * time.Second

// SessionServer holds what the session endpoints share: the engine that
// mutates sessions and the synchronizer that feeds observers.
type SessionServer struct {
	Engine *game.Engine
	Sync   *broadcast.Synchronizer
	Logger logrus.FieldLogger

	// OriginPatterns are passed to websocket.Accept. Empty means same origin only.
	OriginPatterns []string
	WriteTimeout   time.Duration
}

// NewSessionServer wires the endpoints to an engine and synchronizer.
func NewSessionServer(engine *game.Engine, sync *broadcast.Synchronizer, logger logrus.FieldLogger, origins []string) *SessionServer {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &SessionServer{
		Engine:         engine,
		Sync:           sync,
		Logger:         logger,
		OriginPatterns: origins,
		WriteTimeout:   DefaultWriteTimeout,
	}
}

// Routes returns the full HTTP surface wrapped in request logging.
func (s *SessionServer) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /ping", PingHandler)

	mux.HandleFunc("POST /session/create", s.CreateSessionHandler())
	mux.HandleFunc("POST /session/join/{id}", s.JoinSessionHandler())
	mux.HandleFunc("POST /session/start/{id}", s.StartSessionHandler())
	mux.HandleFunc("POST /session/move/{id}", s.SubmitMoveHandler())
	mux.HandleFunc("GET /session/state/{id}", s.SessionStateHandler())
	mux.HandleFunc("GET /session/ranking/{id}", s.RankingHandler())
	mux.HandleFunc("GET /session/ws/{id}", s.SessionWSHandler())

	return middleware.LogMiddleware(s.Logger)(mux)
}

// PingHandler answers liveness checks.
func PingHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

package socket

import (
	"context"
	"net/http"

	socketio "github.com/googollee/go-socket.io"
	"go.uber.org/zap"

	"vibin_matcher/models"
	"vibin_matcher/utils"
)

const (
	namespace  = "/"
	matchEvent = "match"
)

// Server pushes match notifications to connected clients. A client joins
// its own room by emitting "join" with {"userId": "..."}.
type Server struct {
	IO     *socketio.Server
	Logger *zap.Logger
}

// NewSocketServer initializes and returns a new Socket.IO server
func NewSocketServer(logger *zap.Logger) *Server {
	s := &Server{IO: socketio.NewServer(nil), Logger: utils.OrNop(logger)}

	s.IO.OnConnect(namespace, func(c socketio.Conn) error {
		s.Logger.Debug("socket connected", zap.String("socketId", c.ID()))
		return nil
	})

	s.IO.OnEvent(namespace, "join", func(c socketio.Conn, data map[string]string) {
		userID := data["userId"]
		if userID == "" {
			s.Logger.Warn("join without userId", zap.String("socketId", c.ID()))
			return
		}
		c.Join(userRoom(userID))
		s.Logger.Debug("socket joined", zap.String("socketId", c.ID()), zap.String("userId", userID))
	})

	s.IO.OnError(namespace, func(c socketio.Conn, err error) {
		s.Logger.Warn("socket error", zap.Error(err))
	})

	s.IO.OnDisconnect(namespace, func(c socketio.Conn, reason string) {
		s.Logger.Debug("socket disconnected", zap.String("socketId", c.ID()), zap.String("reason", reason))
	})

	return s
}

// NotifyMatch sends the match to every connection of userID
func (s *Server) NotifyMatch(ctx context.Context, userID string, match models.Match) error {
	if !s.IO.BroadcastToRoom(namespace, userRoom(userID), matchEvent, match) {
		s.Logger.Debug("no socket namespace for match event", zap.String("userId", userID))
	}
	return nil
}

// Serve runs the socket.io event loop until Close
func (s *Server) Serve() error {
	return s.IO.Serve()
}

func (s *Server) Close() error {
	return s.IO.Close()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.IO.ServeHTTP(w, r)
}

func userRoom(userID string) string {
	return "user:" + userID
}

// Package transport carries the shared object map and presence over
// websockets: the server side joins connections to rooms, the client side
// implements the client core's Backend and presence Channel.
package transport

import (
	"net/http"
	"strings"
	"time"

	"whiteboard/internal/handlers"
	"whiteboard/internal/logger"
	"whiteboard/internal/metrics"
	"whiteboard/internal/middleware"
	"whiteboard/internal/protocol"
	"whiteboard/internal/room"
	"whiteboard/internal/user"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10 // Send pings at 90% of pong deadline
)

// Server upgrades HTTP requests and runs one read loop per connection.
type Server struct {
	upgrader    websocket.Upgrader
	config      *middleware.RateLimit
	sessionMgr  *user.SessionManager
	roomManager *room.Manager
	msgRouter   *handlers.MessageRouter
	auth        *Authenticator
	authTimeout time.Duration
}

func NewServer(
	allowedOrigins []string,
	config *middleware.RateLimit,
	sessionMgr *user.SessionManager,
	roomManager *room.Manager,
	msgRouter *handlers.MessageRouter,
) *Server {
	return &Server{
		upgrader: websocket.Upgrader{
			CheckOrigin: originChecker(allowedOrigins),
		},
		config:      config,
		sessionMgr:  sessionMgr,
		roomManager: roomManager,
		msgRouter:   msgRouter,
		auth:        NewAuthenticator(sessionMgr),
		authTimeout: 5 * time.Second,
	}
}

// originChecker: CORS for browsers. Requests without an Origin header come
// from non-browser clients and are allowed; "*" allows every origin.
func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			a = strings.TrimSpace(a)
			if a == "*" || a == origin {
				return true
			}
		}
		return false
	}
}

// HandleWebSocket: upgrades HTTP to WebSocket, authenticates and joins the
// room named by ?room=
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	roomCode := r.URL.Query().Get("room")
	if !room.ValidRoomCode(roomCode) {
		http.Error(w, "invalid room code", http.StatusBadRequest)
		return
	}

	w.Header().Set("X-Content-Type-Options", "nosniff")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	result, err := s.auth.Authenticate(conn, s.authTimeout)
	if err != nil {
		logger.Warn("authentication failed", zap.String("ip", middleware.GetClientIP(r)), zap.Error(err))
		return
	}
	session := result.Session
	u := user.NewUser(session, conn)

	if err := u.WriteJSON(&protocol.Envelope{
		Type:   protocol.TypeAuthenticated,
		UserID: u.ID,
		Token:  session.SessionToken, // client stores it for reconnects
	}); err != nil {
		logger.Warn("auth response failed", zap.String("user", u.ID), zap.Error(err))
		return
	}

	rm, err := s.roomManager.JoinRoom(roomCode, session, u, s.config)
	if err != nil {
		logger.Warn("join failed", zap.String("room", roomCode), zap.String("user", u.ID), zap.Error(err))
		u.WriteJSON(protocol.Error(err.Error()))
		return
	}

	metrics.Connections.Inc()
	defer func() {
		metrics.Connections.Dec()
		rm.Leave(u)
		s.sessionMgr.Touch(u.ID)
		logger.Info("user left", zap.String("room", roomCode), zap.String("user", u.ID))
	}()

	if err := u.WriteJSON(&protocol.Envelope{
		Type:     protocol.TypeRoomJoined,
		Color:    rm.GetUserColor(u.ID),
		RoomCode: roomCode,
	}); err != nil {
		logger.Warn("room joined response failed", zap.String("user", u.ID), zap.Error(err))
		return
	}
	logger.Info("user joined", zap.String("room", roomCode), zap.String("user", u.ID), zap.Bool("resumed", result.Resumed))

	s.run(conn, rm, u)
}

// run: message loop for one connection
func (s *Server) run(conn *websocket.Conn, rm *room.Room, u *user.User) {
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	pingTicker := time.NewTicker(pingPeriod)
	defer pingTicker.Stop()

	done := make(chan struct{})
	defer close(done)

	go func() {
		for {
			select {
			case <-pingTicker.C:
				if err := u.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("read failed", zap.String("user", u.ID), zap.Error(err))
			}
			return
		}

		if !s.config.ValidateMessageSize(len(msg)) {
			metrics.Rejected.WithLabelValues("size").Inc()
			logger.Warn("message too large", zap.String("user", u.ID), zap.Int("bytes", len(msg)))
			continue
		}

		if err := s.msgRouter.Route(rm, u, msg); err != nil {
			logger.Debug("message dropped", zap.String("user", u.ID), zap.Error(err))
		}
	}
}

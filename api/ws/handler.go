package ws

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kasuganosora/rotation/cache"
	"github.com/kasuganosora/rotation/config"
	"github.com/kasuganosora/rotation/game/agent"
	mw "github.com/kasuganosora/rotation/middleware"
)

// Handler is the Gin handler for GET /ws/decisions.
type Handler struct {
	pubsub   cache.PubSub
	agents   AgentLister
	router   *Router
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a new WebSocket Handler and registers its message
// handlers on router.
// sec.AllowedOrigins controls which WebSocket origins are accepted.
// An empty slice permits all origins (development only).
func NewHandler(
	pubsub cache.PubSub,
	agents AgentLister,
	sec config.SecurityConfig,
	router *Router,
	logger *zap.Logger,
) *Handler {
	h := &Handler{
		pubsub: pubsub,
		agents: agents,
		router: router,
		logger: logger,
	}
	allowed := sec.AllowedOrigins
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true // dev mode: allow all
			}
			origin := r.Header.Get("Origin")
			for _, o := range allowed {
				if o == origin {
					return true
				}
			}
			return false
		},
	}
	h.registerHandlers(router)
	return h
}

// ServeWS handles GET /ws/decisions?token=<jwt>.
// Routes should be protected by the Auth middleware.
func (h *Handler) ServeWS(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}

	sess := NewSession(uuid.NewString(), mw.GetOperator(c), conn, h.logger)
	msgCh, unsub, err := h.pubsub.Subscribe(c.Request.Context(), agent.DecisionChannel)
	if err != nil {
		h.logger.Error("ws subscribe failed", zap.Error(err))
		sess.Close()
		return
	}
	h.logger.Info("stream connected",
		zap.String("session", sess.ID),
		zap.String("operator", sess.Operator))

	go h.forward(sess, msgCh)
	sess.Send("connected", gin.H{"session": sess.ID, "run_id": h.agents.RunID()})

	// Blocks until the connection closes.
	h.readPump(sess)
	unsub()
	h.logger.Info("stream disconnected", zap.String("session", sess.ID))
}

// forward relays published decisions that pass the session's filter.
func (h *Handler) forward(s *Session, msgCh <-chan *cache.Message) {
	for {
		select {
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			ev, err := agent.DecodeEvent(msg.Payload)
			if err != nil || !s.Wants(ev) {
				continue
			}
			s.Send("decision", ev)
		case <-s.Done:
			return
		}
	}
}

// readPump reads messages from the WebSocket connection and dispatches them.
func (h *Handler) readPump(s *Session) {
	defer s.Close()

	s.SetReadDeadline()
	s.Conn.SetPongHandler(func(string) error {
		s.SetReadDeadline()
		return nil
	})

	for {
		_, raw, err := s.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived) {
				h.logger.Warn("ws unexpected close",
					zap.String("session", s.ID),
					zap.Error(err))
			}
			return
		}
		// Reset read deadline on any message (heartbeat or otherwise).
		s.SetReadDeadline()
		h.router.Dispatch(s, raw)
	}
}

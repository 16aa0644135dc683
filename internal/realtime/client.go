package realtime

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"dispatch/internal/logger"
	"dispatch/internal/observability"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// InboundHandler applies validated client messages that are not channel
// membership changes.
type InboundHandler interface {
	HandleInbound(ctx context.Context, sender *Subscriber, msg Inbound) error
}

// ErrorCoder maps a handler error to the code sent back to the client.
type ErrorCoder interface {
	ErrorCode(err error) string
}

// Server upgrades HTTP requests to websocket sessions attached to the hub.
type Server struct {
	bus        *Bus
	handler    InboundHandler
	log        logger.ILogger
	sendBuffer int
	upgrader   websocket.Upgrader
}

// NewServer creates a websocket server.
func NewServer(bus *Bus, handler InboundHandler, log logger.ILogger, sendBuffer int) *Server {
	return &Server{
		bus:        bus,
		handler:    handler,
		log:        log,
		sendBuffer: sendBuffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeWS upgrades the request and joins the identity channel of the
// already authenticated caller.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request, identity string) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warning("websocket upgrade failed", logger.Error(err))
		return
	}

	sub := NewSubscriber(uuid.NewString(), identity, s.sendBuffer)
	hub := s.bus.Hub()
	if identity != "" {
		hub.Join(sub, IdentityChannel(identity))
	}
	observability.RealtimeConnections.Inc()
	s.log.Info("realtime client connected",
		logger.String("subscriber", sub.ID),
		logger.String("identity", identity))

	go s.writePump(conn, sub)
	go s.readPump(conn, sub)
}

func (s *Server) readPump(conn *websocket.Conn, sub *Subscriber) {
	hub := s.bus.Hub()
	defer func() {
		hub.Remove(sub)
		_ = conn.Close()
		observability.RealtimeConnections.Dec()
		s.log.Info("realtime client disconnected", logger.String("subscriber", sub.ID))
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.log.Warning("websocket read error", logger.String("subscriber", sub.ID), logger.Error(err))
			}
			return
		}
		s.dispatch(sub, frame)
	}
}

// dispatch decodes one frame and applies it. Failures are reported to the
// sender and the frame is dropped.
func (s *Server) dispatch(sub *Subscriber, frame []byte) {
	msg, err := DecodeInbound(frame)
	if err != nil {
		observability.RealtimeInvalidTotal.Inc()
		s.reject(sub, err)
		return
	}

	hub := s.bus.Hub()
	switch m := msg.(type) {
	case SubscribeMessage:
		hub.Join(sub, m.Channel)
		s.bus.SendTo(sub, SubscriptionEvent{Channel: m.Channel, subscribed: true})
	case UnsubscribeMessage:
		hub.Leave(sub, m.Channel)
		s.bus.SendTo(sub, SubscriptionEvent{Channel: m.Channel})
	default:
		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		defer cancel()
		if err := s.handler.HandleInbound(ctx, sub, msg); err != nil {
			s.reject(sub, err)
		}
	}
}

func (s *Server) reject(sub *Subscriber, err error) {
	code := "rejected"
	if errors.Is(err, ErrInvalidPayload) {
		code = "invalid_payload"
	} else if coder, ok := s.handler.(ErrorCoder); ok {
		code = coder.ErrorCode(err)
	}
	s.bus.SendTo(sub, ErrorEvent{Code: code, Message: err.Error()})
}

func (s *Server) writePump(conn *websocket.Conn, sub *Subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case msg, ok := <-sub.Messages():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

package gateway

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	maxFrameSize = 4096
)

// frame is the wire shape in both directions: a kind plus free-form payload.
// Inbound frames become intents; outbound ones come off the world outbox.
type frame struct {
	Kind string         `json:"kind"`
	Data map[string]any `json:"data,omitempty"`
}

// Session is one websocket client. Network I/O runs in the two pump
// goroutines; the tick goroutine only touches the out queue through Send.
type Session struct {
	ID   string
	conn *websocket.Conn

	out chan frame

	closeCh   chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool

	log *zap.Logger
}

func newSession(conn *websocket.Conn, id string, outSize int, log *zap.Logger) *Session {
	return &Session{
		ID:      id,
		conn:    conn,
		out:     make(chan frame, outSize),
		closeCh: make(chan struct{}),
		log:     log.With(zap.String("session", id)),
	}
}

// send queues an outbound frame without blocking. A full queue means the
// client is not keeping up; it gets disconnected rather than stalling the
// tick.
func (s *Session) send(f frame) bool {
	if s.closed.Load() {
		return false
	}
	select {
	case s.out <- f:
		return true
	default:
		s.log.Warn("out queue full, dropping slow client")
		s.close()
		return false
	}
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.closeCh)
		s.conn.Close()
	})
}

// readPump decodes inbound frames and hands them to the gateway until the
// connection dies. Runs in its own goroutine; owns all reads.
func (s *Session) readPump(g *Gateway) {
	defer func() {
		g.unregister(s)
		s.close()
	}()

	s.conn.SetReadLimit(maxFrameSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var f frame
		if err := s.conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) && !s.closed.Load() {
				s.log.Debug("read error", zap.Error(err))
			}
			return
		}
		g.dispatch(s, f)
	}
}

// writePump owns all writes: queued frames, keepalive pings, and the final
// close message.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.close()
	}()

	for {
		select {
		case f := <-s.out:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(f); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.closeCh:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

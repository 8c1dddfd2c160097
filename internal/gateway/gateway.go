package gateway

import (
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/driftmud/server/internal/sim"
)

const defaultOutQueue = 64

// Gateway accepts websocket clients, forwards their frames to the scheduler
// as intents, and carries outbound frames back. It is the process's
// SessionSource and MessageSink: the tick goroutine drains joins and leaves
// at input and pushes frames at output, while the pump goroutines only ever
// touch the registry under the mutex.
type Gateway struct {
	log      *zap.Logger
	submit   func(sim.Intent) error
	outSize  int
	upgrader websocket.Upgrader

	mu       sync.Mutex
	sessions map[string]*Session
	joined   []string
	left     []string
}

func New(log *zap.Logger, submit func(sim.Intent) error, outSize int) *Gateway {
	if outSize <= 0 {
		outSize = defaultOutQueue
	}
	return &Gateway{
		log:     log,
		submit:  submit,
		outSize: outSize,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		sessions: make(map[string]*Session),
	}
}

// ServeWS upgrades one HTTP request into a session and starts its pumps.
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Debug("upgrade failed", zap.Error(err))
		return
	}
	s := newSession(conn, uuid.NewString(), g.outSize, g.log)

	g.mu.Lock()
	g.sessions[s.ID] = s
	g.joined = append(g.joined, s.ID)
	g.mu.Unlock()

	g.log.Info("client connected",
		zap.String("session", s.ID), zap.String("remote", r.RemoteAddr))

	go s.writePump()
	go s.readPump(g)
}

// dispatch turns an inbound frame into an intent. Submission failures go
// straight back to the client; the world never saw the frame.
func (g *Gateway) dispatch(s *Session, f frame) {
	err := g.submit(sim.Intent{Session: s.ID, Kind: f.Kind, Data: f.Data})
	if err != nil {
		s.send(frame{Kind: "error", Data: map[string]any{
			"intent": f.Kind,
			"reason": err.Error(),
		}})
	}
}

func (g *Gateway) unregister(s *Session) {
	g.mu.Lock()
	if g.sessions[s.ID] == s {
		delete(g.sessions, s.ID)
		g.left = append(g.left, s.ID)
	}
	g.mu.Unlock()
	g.log.Info("client disconnected", zap.String("session", s.ID))
}

// DrainJoined hands the tick goroutine the sessions that connected since the
// last drain.
func (g *Gateway) DrainJoined() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := g.joined
	g.joined = nil
	return out
}

// DrainLeft hands over the sessions that disconnected since the last drain.
func (g *Gateway) DrainLeft() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := g.left
	g.left = nil
	return out
}

// Send queues a frame for one session. False means the session is gone or
// was dropped for falling behind.
func (g *Gateway) Send(session, kind string, data map[string]any) bool {
	g.mu.Lock()
	s, ok := g.sessions[session]
	g.mu.Unlock()
	if !ok {
		return false
	}
	return s.send(frame{Kind: kind, Data: data})
}

// Broadcast queues a frame for every connected session.
func (g *Gateway) Broadcast(kind string, data map[string]any) {
	g.mu.Lock()
	all := make([]*Session, 0, len(g.sessions))
	for _, s := range g.sessions {
		all = append(all, s)
	}
	g.mu.Unlock()

	f := frame{Kind: kind, Data: data}
	for _, s := range all {
		s.send(f)
	}
}

func (g *Gateway) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sessions)
}

// CloseAll disconnects every client. Shutdown path.
func (g *Gateway) CloseAll() {
	g.mu.Lock()
	all := make([]*Session, 0, len(g.sessions))
	for _, s := range g.sessions {
		all = append(all, s)
	}
	g.mu.Unlock()

	for _, s := range all {
		s.close()
	}
}

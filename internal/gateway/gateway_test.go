package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/driftmud/server/internal/sim"
)

type submitRecorder struct {
	mu      sync.Mutex
	intents []sim.Intent
	err     error
}

func (s *submitRecorder) submit(it sim.Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.intents = append(s.intents, it)
	return nil
}

func (s *submitRecorder) all() []sim.Intent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sim.Intent(nil), s.intents...)
}

func dialTestGateway(t *testing.T, g *Gateway) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(g.ServeWS))
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func drainOne(t *testing.T, drain func() []string) string {
	t.Helper()
	var got []string
	require.Eventually(t, func() bool {
		got = append(got, drain()...)
		return len(got) >= 1
	}, 2*time.Second, 10*time.Millisecond)
	require.Len(t, got, 1)
	return got[0]
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestSessionJoinIntentLeave(t *testing.T) {
	rec := &submitRecorder{}
	g := New(zap.NewNop(), rec.submit, 8)
	conn := dialTestGateway(t, g)

	session := drainOne(t, g.DrainJoined)
	assert.Equal(t, 1, g.Count())

	require.NoError(t, conn.WriteJSON(frame{
		Kind: "move",
		Data: map[string]any{"dx": 1, "dy": 0},
	}))
	require.Eventually(t, func() bool {
		return len(rec.all()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	it := rec.all()[0]
	assert.Equal(t, session, it.Session)
	assert.Equal(t, "move", it.Kind)
	assert.Equal(t, float64(1), it.Data["dx"]) // JSON numbers decode as float64

	conn.Close()
	left := drainOne(t, g.DrainLeft)
	assert.Equal(t, session, left)
	assert.Equal(t, 0, g.Count())
}

func TestSendTargetsOneSessionBroadcastHitsAll(t *testing.T) {
	rec := &submitRecorder{}
	g := New(zap.NewNop(), rec.submit, 8)
	conn1 := dialTestGateway(t, g)
	first := drainOne(t, g.DrainJoined)
	conn2 := dialTestGateway(t, g)
	_ = drainOne(t, g.DrainJoined)

	require.True(t, g.Send(first, "welcome", map[string]any{"zone": "meadow"}))
	f := readFrame(t, conn1)
	assert.Equal(t, "welcome", f.Kind)
	assert.Equal(t, "meadow", f.Data["zone"])

	g.Broadcast("say", map[string]any{"text": "hi"})
	for _, conn := range []*websocket.Conn{conn1, conn2} {
		f := readFrame(t, conn)
		assert.Equal(t, "say", f.Kind)
	}

	assert.False(t, g.Send("nope", "welcome", nil))
}

func TestSubmitFailureComesBackAsErrorFrame(t *testing.T) {
	rec := &submitRecorder{err: sim.ErrBacklogFull}
	g := New(zap.NewNop(), rec.submit, 8)
	conn := dialTestGateway(t, g)
	_ = drainOne(t, g.DrainJoined)

	require.NoError(t, conn.WriteJSON(frame{Kind: "say", Data: map[string]any{"text": "x"}}))
	f := readFrame(t, conn)
	assert.Equal(t, "error", f.Kind)
	assert.Equal(t, "say", f.Data["intent"])
	assert.Contains(t, f.Data["reason"], "backlog")
}

func TestCloseAllDisconnectsClients(t *testing.T) {
	rec := &submitRecorder{}
	g := New(zap.NewNop(), rec.submit, 8)
	conn := dialTestGateway(t, g)
	_ = drainOne(t, g.DrainJoined)

	g.CloseAll()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	_ = drainOne(t, g.DrainLeft)
	assert.Equal(t, 0, g.Count())
}

func TestRequireAdmin(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("sesame"), bcrypt.MinCost)
	require.NoError(t, err)
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	handler := RequireAdmin(zap.NewNop(), string(hash), ok)

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"wrong token", "Bearer wrong", http.StatusUnauthorized},
		{"good token", "Bearer sesame", http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/status", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			assert.Equal(t, tc.want, rr.Code)
		})
	}

	t.Run("disabled without hash", func(t *testing.T) {
		rr := httptest.NewRecorder()
		RequireAdmin(zap.NewNop(), "", ok).
			ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/status", nil))
		assert.Equal(t, http.StatusForbidden, rr.Code)
	})
}

func TestWriteErrorMapsStateConflicts(t *testing.T) {
	rr := httptest.NewRecorder()
	writeError(rr, sim.ErrAlreadyRunning)
	assert.Equal(t, http.StatusConflict, rr.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, sim.ErrAlreadyRunning.Error(), body["error"])
}

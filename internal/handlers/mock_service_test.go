package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"machine_control/internal/messages"
	"machine_control/internal/models"
	"machine_control/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// ---- Service Mocks ----

type mockControl struct {
	state          models.MachineState
	lastTempUpdate time.Time
	connections    int

	registerErr   error
	registered    []service.Connection
	unregistered  int
	appliedCalls  int
	lastApplied   messages.ClientMessage
	snapshotCalls int
}

func (m *mockControl) Register(ctx context.Context, conn service.Connection) error {
	if m.registerErr != nil {
		return m.registerErr
	}
	m.registered = append(m.registered, conn)
	return nil
}
func (m *mockControl) Unregister(conn service.Connection) { m.unregistered++ }
func (m *mockControl) ApplyClientUpdate(ctx context.Context, conn service.Connection, msg messages.ClientMessage) error {
	m.appliedCalls++
	m.lastApplied = msg
	return nil
}
func (m *mockControl) MergeTemperature(ctx context.Context, celsius float64) error {
	m.state.Temperature = celsius
	return nil
}
func (m *mockControl) Broadcast(ctx context.Context) []service.SendResult { return nil }
func (m *mockControl) Snapshot() (models.MachineState, time.Time) {
	m.snapshotCalls++
	return m.state, m.lastTempUpdate
}
func (m *mockControl) ConnectionCount() int { return m.connections }

// ---- Shared Test Helpers ----

func newTestRouter(s *service.Service) *gin.Engine {
	return newTestRouterWithOptions(s, DefaultOptions())
}

func newTestRouterWithOptions(s *service.Service, opts Options) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(s, nil, opts)
	return h.InitRoutes()
}

// newWSServer serves the full router backed by a real manager.
func newWSServer(t *testing.T, opts Options) (*service.ControlManager, *httptest.Server) {
	t.Helper()
	mgr := service.NewControlManager(
		models.MachineState{MotorSpeed: 0, ValveState: false, Temperature: 20.0},
		nil,
		service.WithSendTimeout(time.Second),
	)
	srv := httptest.NewServer(newTestRouterWithOptions(&service.Service{Control: mgr}, opts))
	t.Cleanup(func() {
		mgr.Close()
		srv.Close()
	})
	return mgr, srv
}

func wsURL(srv *httptest.Server) string {
	u, _ := url.Parse(srv.URL)
	u.Scheme = "ws"
	u.Path = "/ws"
	return u.String()
}

func dialWS(t *testing.T, srv *httptest.Server, header http.Header) *websocket.Conn {
	t.Helper()
	dialer := websocket.Dialer{HandshakeTimeout: 2 * time.Second}
	conn, _, err := dialer.Dial(wsURL(srv), header)
	if err != nil {
		t.Fatalf("dial error: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readServerMessage(t *testing.T, conn *websocket.Conn) messages.ServerMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	msg, err := messages.DecodeServerMessage(raw)
	if err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	return msg
}

package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/jobpilot/browserd/internal/domain/registry"
	"github.com/jobpilot/browserd/internal/infrastructure/logging"
	"github.com/jobpilot/browserd/internal/shared/types"
)

type fakeArbiter struct {
	mu          sync.Mutex
	validToken  string
	holder      registry.Role
	disconnects []registry.Role
}

func (a *fakeArbiter) ValidateViewerToken(sessionID, token string) (bool, registry.Role) {
	if token == a.validToken && token != "" {
		return true, registry.RoleUser
	}
	return false, ""
}

func (a *fakeArbiter) RequestControl(sessionID string, requester registry.Role) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.holder == "" || a.holder == requester {
		a.holder = requester
		return true
	}
	return false
}

func (a *fakeArbiter) ReleaseControl(sessionID string, requester registry.Role) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.holder == requester {
		a.holder = ""
	}
}

func (a *fakeArbiter) HandleSocketDisconnect(sessionID string, role registry.Role) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.disconnects = append(a.disconnects, role)
	if a.holder == role {
		a.holder = ""
	}
}

type fakeCommands struct {
	mu   sync.Mutex
	cmds []types.UserCommand
	out  interface{}
}

func (c *fakeCommands) Execute(ctx context.Context, sessionID string, cmd types.UserCommand) (interface{}, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cmds = append(c.cmds, cmd)
	return c.out, nil
}

func newTestServer(t *testing.T) (*Channel, *fakeArbiter, *fakeCommands, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	arbiter := &fakeArbiter{validToken: "tok_good"}
	commands := &fakeCommands{}
	channel := NewChannel(arbiter, commands, logging.NewNop())

	router := gin.New()
	router.GET("/api/browser/events", channel.Handle)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	t.Cleanup(channel.Close)
	return channel, arbiter, commands, srv
}

func dial(t *testing.T, srv *httptest.Server, sessionID, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") +
		"/api/browser/events?sessionId=" + sessionID + "&token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) types.AutomationEvent {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event types.AutomationEvent
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	return event
}

func waitForViewers(t *testing.T, ch *Channel, sessionID string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if ch.SessionViewers(sessionID) == n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected %d viewers for %s, got %d", n, sessionID, ch.SessionViewers(sessionID))
}

func TestAdmissionRequiresValidToken(t *testing.T) {
	_, _, _, srv := newTestServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") +
		"/api/browser/events?sessionId=s1&token=tok_forged"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected dial to be rejected")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 before upgrade, got %+v", resp)
	}
}

func TestAdmissionRequiresSessionID(t *testing.T) {
	_, _, _, srv := newTestServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/browser/events?token=tok_good"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected dial to be rejected")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %+v", resp)
	}
}

func TestBroadcastReachesOnlySessionViewers(t *testing.T) {
	channel, _, _, srv := newTestServer(t)

	watcher := dial(t, srv, "s1", "tok_good")
	other := dial(t, srv, "s2", "tok_good")
	waitForViewers(t, channel, "s1", 1)
	waitForViewers(t, channel, "s2", 1)

	channel.Broadcast(types.NewEvent("s1", types.EventProgress, map[string]interface{}{
		"step": "opening job board",
	}))

	event := readEvent(t, watcher)
	if event.Type != types.EventProgress || event.SessionID != "s1" {
		t.Errorf("unexpected event %+v", event)
	}

	_ = other.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var stray types.AutomationEvent
	if err := other.ReadJSON(&stray); err == nil {
		t.Errorf("viewer of s2 must not receive s1 events, got %+v", stray)
	}
}

func TestBroadcastPreservesOrder(t *testing.T) {
	channel, _, _, srv := newTestServer(t)
	conn := dial(t, srv, "s1", "tok_good")
	waitForViewers(t, channel, "s1", 1)

	for i := 0; i < 20; i++ {
		channel.Broadcast(types.NewEvent("s1", types.EventProgress, map[string]interface{}{
			"seq": i,
		}))
	}

	for i := 0; i < 20; i++ {
		event := readEvent(t, conn)
		if int(event.Payload["seq"].(float64)) != i {
			t.Fatalf("event %d arrived out of order: %+v", i, event)
		}
	}
}

func TestTakeControlBroadcastsTakeover(t *testing.T) {
	channel, arbiter, _, srv := newTestServer(t)
	conn := dial(t, srv, "s1", "tok_good")
	waitForViewers(t, channel, "s1", 1)

	if err := conn.WriteJSON(map[string]string{"type": "take_control"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	event := readEvent(t, conn)
	if event.Type != types.EventUserTakeover {
		t.Fatalf("expected takeover event, got %+v", event)
	}
	arbiter.mu.Lock()
	holder := arbiter.holder
	arbiter.mu.Unlock()
	if holder != registry.RoleUser {
		t.Errorf("arbiter should record the user as holder, got %q", holder)
	}
}

func TestTakeControlDeniedWhenHeld(t *testing.T) {
	channel, arbiter, _, srv := newTestServer(t)
	arbiter.holder = registry.RoleViewer
	conn := dial(t, srv, "s1", "tok_good")
	waitForViewers(t, channel, "s1", 1)

	_ = conn.WriteJSON(map[string]string{"type": "take_control"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame struct {
		Type   string       `json:"type"`
		Result types.Result `json:"result"`
	}
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if frame.Type != "control_denied" || frame.Result.Success {
		t.Errorf("expected control_denied failure, got %+v", frame)
	}
}

func TestUserCommandDispatch(t *testing.T) {
	channel, _, commands, srv := newTestServer(t)
	commands.out = "done"
	conn := dial(t, srv, "s1", "tok_good")
	waitForViewers(t, channel, "s1", 1)

	err := conn.WriteJSON(types.InboundFrame{
		Type:    "user_command",
		Command: &types.UserCommand{Action: types.ActionClick, Selector: "#apply"},
	})
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame struct {
		Type   string       `json:"type"`
		Result types.Result `json:"result"`
	}
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if frame.Type != "command_result" || !frame.Result.Success {
		t.Fatalf("expected successful command_result, got %+v", frame)
	}

	commands.mu.Lock()
	defer commands.mu.Unlock()
	if len(commands.cmds) != 1 || commands.cmds[0].Selector != "#apply" {
		t.Errorf("command not dispatched, got %+v", commands.cmds)
	}
}

func TestMalformedFrameGetsErrorReply(t *testing.T) {
	channel, _, _, srv := newTestServer(t)
	conn := dial(t, srv, "s1", "tok_good")
	waitForViewers(t, channel, "s1", 1)

	_ = conn.WriteMessage(websocket.TextMessage, []byte("{not json"))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame struct {
		Type string `json:"type"`
	}
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if frame.Type != "error" {
		t.Errorf("expected error frame, got %+v", frame)
	}
}

func TestDisconnectNotifiesArbiter(t *testing.T) {
	channel, arbiter, _, srv := newTestServer(t)
	conn := dial(t, srv, "s1", "tok_good")
	waitForViewers(t, channel, "s1", 1)

	_ = conn.Close()
	waitForViewers(t, channel, "s1", 0)

	arbiter.mu.Lock()
	defer arbiter.mu.Unlock()
	if len(arbiter.disconnects) != 1 || arbiter.disconnects[0] != registry.RoleUser {
		t.Errorf("expected disconnect notification for user, got %v", arbiter.disconnects)
	}
}

func TestCloseDisconnectsAllClients(t *testing.T) {
	channel, _, _, srv := newTestServer(t)
	a := dial(t, srv, "s1", "tok_good")
	b := dial(t, srv, "s2", "tok_good")
	waitForViewers(t, channel, "s1", 1)
	waitForViewers(t, channel, "s2", 1)

	channel.Close()

	for _, conn := range []*websocket.Conn{a, b} {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		if _, _, err := conn.ReadMessage(); err == nil {
			t.Error("expected connection to be closed")
		}
	}
}

// A reply or broadcast racing a disconnect must be dropped silently.
// unregister signals the write pump instead of closing the send channel, so
// a late send can never hit a closed channel.
func TestLateSendAfterDisconnectIsDropped(t *testing.T) {
	channel, _, _, srv := newTestServer(t)
	_ = dial(t, srv, "s1", "tok_good")
	waitForViewers(t, channel, "s1", 1)

	channel.mu.RLock()
	var cl *client
	for c := range channel.clients["s1"] {
		cl = c
	}
	channel.mu.RUnlock()
	if cl == nil {
		t.Fatal("expected a registered client")
	}

	channel.Close()
	waitForViewers(t, channel, "s1", 0)

	// Both paths used to reach a closed channel; now they no-op.
	channel.reply(cl, "command_result", types.Failure("connection gone"))
	channel.Broadcast(types.NewEvent("s1", types.EventProgress, map[string]interface{}{
		"step": 1,
	}))
}

func TestEventEncoding(t *testing.T) {
	event := types.NewEvent("s1", types.EventComplete, map[string]interface{}{"found": 3})
	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if !strings.Contains(string(data), `"type":"automation_complete"`) {
		t.Errorf("unexpected encoding %s", data)
	}
}

// Package ws implements the realtime event channel: one websocket endpoint
// multiplexed by session id, fanning automation events out to viewers and
// relaying human commands back in.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/jobpilot/browserd/internal/domain/registry"
	"github.com/jobpilot/browserd/internal/infrastructure/logging"
	"github.com/jobpilot/browserd/internal/shared/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 32 * 1024
	sendBuffer     = 64
	commandTimeout = 45 * time.Second
)

// CommandHandler executes human-issued browser commands. The browser
// controller implements it.
type CommandHandler interface {
	Execute(ctx context.Context, sessionID string, cmd types.UserCommand) (interface{}, error)
}

// Arbiter is the slice of the registry the channel needs: admission and
// control-lock arbitration.
type Arbiter interface {
	ValidateViewerToken(sessionID, token string) (bool, registry.Role)
	RequestControl(sessionID string, requester registry.Role) bool
	ReleaseControl(sessionID string, requester registry.Role)
	HandleSocketDisconnect(sessionID string, role registry.Role)
}

// Metrics is the optional instrumentation surface.
type Metrics interface {
	SetWSConnections(n int)
	RecordWSMessage(direction string)
}

// Channel fans events out to the websocket clients of each session.
type Channel struct {
	arbiter  Arbiter
	commands CommandHandler
	logger   *logging.Logger
	metrics  Metrics
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]map[*client]struct{}
	total   int
}

// client is one connected viewer socket. Writes go through send so each
// client observes events in broadcast order. send is never closed; done
// signals the write pump instead, so a late reply or broadcast can race
// unregister without panicking.
type client struct {
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	once      sync.Once
	sessionID string
	role      registry.Role
}

// NewChannel creates an event channel.
func NewChannel(arbiter Arbiter, commands CommandHandler, logger *logging.Logger) *Channel {
	return &Channel{
		arbiter:  arbiter,
		commands: commands,
		logger:   logger.Named("ws"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The token query param is the admission check; origin is not.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[string]map[*client]struct{}),
	}
}

// WithMetrics attaches instrumentation.
func (ch *Channel) WithMetrics(m Metrics) *Channel {
	ch.metrics = m
	return ch
}

// Handle is the gin endpoint for GET /api/browser/events. Admission is
// checked before the upgrade so rejected clients get a plain HTTP status.
func (ch *Channel) Handle(c *gin.Context) {
	sessionID := c.Query("sessionId")
	token := c.Query("token")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, types.Failure("sessionId is required"))
		return
	}

	ok, role := ch.arbiter.ValidateViewerToken(sessionID, token)
	if !ok {
		c.JSON(http.StatusUnauthorized, types.Failure("invalid or expired viewer token"))
		return
	}

	conn, err := ch.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		ch.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	cl := &client{
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
		done:      make(chan struct{}),
		sessionID: sessionID,
		role:      role,
	}
	ch.register(cl)
	ch.logger.Info("viewer connected",
		zap.String("session_id", sessionID),
		zap.String("role", string(role)),
	)

	go ch.writePump(cl)
	ch.readPump(cl)
}

// Broadcast delivers an event to every client of its session. Slow clients
// are dropped rather than allowed to stall the rest.
func (ch *Channel) Broadcast(event types.AutomationEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		ch.logger.Error("failed to encode event", zap.Error(err))
		return
	}

	ch.mu.RLock()
	var stalled []*client
	for cl := range ch.clients[event.SessionID] {
		select {
		case cl.send <- data:
		default:
			stalled = append(stalled, cl)
		}
	}
	ch.mu.RUnlock()

	for _, cl := range stalled {
		ch.logger.Warn("dropping stalled viewer", zap.String("session_id", cl.sessionID))
		ch.unregister(cl)
	}
	if ch.metrics != nil {
		ch.metrics.RecordWSMessage("out")
	}
}

// SessionViewers returns how many clients watch a session.
func (ch *Channel) SessionViewers(sessionID string) int {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return len(ch.clients[sessionID])
}

// Close disconnects every client. Used at shutdown.
func (ch *Channel) Close() {
	ch.mu.Lock()
	all := make([]*client, 0, ch.total)
	for _, set := range ch.clients {
		for cl := range set {
			all = append(all, cl)
		}
	}
	ch.mu.Unlock()

	for _, cl := range all {
		ch.unregister(cl)
	}
}

func (ch *Channel) register(cl *client) {
	ch.mu.Lock()
	set, ok := ch.clients[cl.sessionID]
	if !ok {
		set = make(map[*client]struct{})
		ch.clients[cl.sessionID] = set
	}
	set[cl] = struct{}{}
	ch.total++
	total := ch.total
	ch.mu.Unlock()

	if ch.metrics != nil {
		ch.metrics.SetWSConnections(total)
	}
}

func (ch *Channel) unregister(cl *client) {
	ch.mu.Lock()
	set, ok := ch.clients[cl.sessionID]
	if ok {
		if _, present := set[cl]; present {
			delete(set, cl)
			ch.total--
			if len(set) == 0 {
				delete(ch.clients, cl.sessionID)
			}
		} else {
			ok = false
		}
	}
	total := ch.total
	ch.mu.Unlock()

	if !ok {
		return
	}

	cl.once.Do(func() { close(cl.done) })
	_ = cl.conn.Close()
	if ch.metrics != nil {
		ch.metrics.SetWSConnections(total)
	}

	// A vanished control holder must not wedge the session.
	ch.arbiter.HandleSocketDisconnect(cl.sessionID, cl.role)
}

func (ch *Channel) readPump(cl *client) {
	defer ch.unregister(cl)

	cl.conn.SetReadLimit(maxMessageSize)
	_ = cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := cl.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				ch.logger.Warn("viewer read error",
					zap.String("session_id", cl.sessionID), zap.Error(err))
			}
			return
		}
		if ch.metrics != nil {
			ch.metrics.RecordWSMessage("in")
		}
		ch.dispatch(cl, data)
	}
}

func (ch *Channel) writePump(cl *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = cl.conn.Close()
	}()

	for {
		select {
		case <-cl.done:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = cl.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case data := <-cl.send:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// dispatch handles one inbound frame from a viewer.
func (ch *Channel) dispatch(cl *client, data []byte) {
	var frame types.InboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		ch.reply(cl, "error", types.Failure("malformed frame"))
		return
	}

	switch frame.Type {
	case "take_control":
		if ch.arbiter.RequestControl(cl.sessionID, cl.role) {
			ch.Broadcast(types.NewEvent(cl.sessionID, types.EventUserTakeover, map[string]interface{}{
				"role": string(cl.role),
			}))
		} else {
			ch.reply(cl, "control_denied", types.Failure("control is held by another party"))
		}

	case "release_control":
		ch.arbiter.ReleaseControl(cl.sessionID, cl.role)
		ch.Broadcast(types.NewEvent(cl.sessionID, types.EventUserRelease, map[string]interface{}{
			"role": string(cl.role),
		}))

	case "user_command":
		if frame.Command == nil {
			ch.reply(cl, "command_result", types.Failure("user_command requires a command body"))
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		out, err := ch.commands.Execute(ctx, cl.sessionID, *frame.Command)
		if err != nil {
			ch.reply(cl, "command_result", types.Failure(err.Error()))
			return
		}
		ch.reply(cl, "command_result", types.Success(map[string]interface{}{
			"action": frame.Command.Action,
			"result": out,
		}))

	default:
		ch.reply(cl, "error", types.Failure("unknown frame type "+frame.Type))
	}
}

// reply sends a direct frame to one client, outside the broadcast stream.
func (ch *Channel) reply(cl *client, frameType string, result *types.Result) {
	payload, err := json.Marshal(map[string]interface{}{
		"type":   frameType,
		"result": result,
	})
	if err != nil {
		return
	}
	select {
	case cl.send <- payload:
	default:
	}
}

package discord

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tinyland-inc/bridgeclaw/pkg/logger"
)

// frameAction is the explicit result of handling one gateway frame,
// consumed by the connection loop via ordinary control flow.
type frameAction int

const (
	actionContinue frameAction = iota
	actionReconnect
	actionFatal
)

const (
	reconnectDelay   = 5 * time.Second
	dialTimeout      = 10 * time.Second
	writeWait        = 10 * time.Second
	identifyDeadline = 30 * time.Second

	// Consecutive handshakes without a valid HELLO before the endpoint is
	// declared unusable.
	maxHelloFailures = 3
)

// Gateway maintains one persistent gateway connection: connect,
// authenticate, heartbeat, dispatch, and reconnect with session
// resumption. All session state is owned by the connection goroutine;
// nothing outside this type mutates it.
type Gateway struct {
	token      string
	intents    int
	gatewayURL string
	dialer     *websocket.Dialer
	retryDelay time.Duration

	onReady    func(readyData)
	onDispatch func(eventType string, data json.RawMessage)

	// Session state. Guarded by mu: the heartbeat goroutine reads the
	// sequence while the read loop advances it.
	mu            sync.Mutex
	conn          *websocket.Conn
	seq           int64
	hasSeq        bool
	lastDispatch  int64
	hasDispatched bool
	sessionID     string
	resumeURL     string
	ackPending    bool

	// helloFailures is touched only by the connection goroutine.
	helloFailures int

	closeOnce sync.Once
	closed    chan struct{}
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithGatewayURL overrides the canonical gateway endpoint. Tests point
// this at a local fake server.
func WithGatewayURL(url string) GatewayOption {
	return func(g *Gateway) { g.gatewayURL = url }
}

// WithIntents overrides the requested intent bitmask.
func WithIntents(intents int) GatewayOption {
	return func(g *Gateway) { g.intents = intents }
}

// WithReconnectDelay overrides the pause between connection attempts.
func WithReconnectDelay(d time.Duration) GatewayOption {
	return func(g *Gateway) { g.retryDelay = d }
}

func NewGateway(token string, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		token:      token,
		intents:    intentGuildMessages | intentDirectMessages | intentMessageContent,
		gatewayURL: defaultGatewayURL,
		dialer:     &websocket.Dialer{HandshakeTimeout: dialTimeout},
		retryDelay: reconnectDelay,
		closed:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// OnReady registers the READY callback. Must be set before Run.
func (g *Gateway) OnReady(fn func(sessionID, resumeURL string, botUser User)) {
	g.onReady = func(rd readyData) { fn(rd.SessionID, rd.ResumeGatewayURL, rd.User) }
}

// OnDispatch registers the dispatch callback. Events are delivered in
// non-decreasing sequence order; duplicates replayed during resume are
// dropped. Must be set before Run.
func (g *Gateway) OnDispatch(fn func(eventType string, data json.RawMessage)) {
	g.onDispatch = fn
}

// Run connects and processes gateway frames until ctx is cancelled or
// Close is called. Transient failures reconnect internally; Run returns
// only on cancellation, close, or a fatal protocol error.
func (g *Gateway) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-g.closed:
			return nil
		default:
		}

		action := g.connectOnce(ctx)
		if action == actionFatal {
			return fmt.Errorf("gateway: unrecoverable protocol error")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-g.closed:
			return nil
		case <-time.After(g.retryDelay):
			logger.InfoC("discord", "gateway reconnecting")
		}
	}
}

// Close is idempotent: it stops the connection loop and closes the
// transport. The heartbeat goroutine dies with its connection.
func (g *Gateway) Close() {
	g.closeOnce.Do(func() {
		close(g.closed)
		g.mu.Lock()
		if g.conn != nil {
			g.conn.Close()
		}
		g.mu.Unlock()
	})
}

// connectOnce runs one full connection lifecycle:
// Connecting → AwaitingHello → Identifying/Resuming → Connected.
func (g *Gateway) connectOnce(ctx context.Context) frameAction {
	g.mu.Lock()
	dialURL := g.gatewayURL
	if g.resumeURL != "" {
		dialURL = g.resumeURL
	}
	g.mu.Unlock()

	conn, _, err := g.dialer.DialContext(ctx, dialURL, nil)
	if err != nil {
		logger.WarnCF("discord", "gateway dial failed", map[string]any{"error": err.Error()})
		g.invalidateResumeURL()
		return actionReconnect
	}
	defer conn.Close()

	g.mu.Lock()
	g.conn = conn
	g.ackPending = false
	g.mu.Unlock()

	select {
	case <-g.closed:
		return actionReconnect
	default:
	}

	// AwaitingHello: the server speaks first.
	conn.SetReadDeadline(time.Now().Add(identifyDeadline))
	var hello payload
	if err := conn.ReadJSON(&hello); err != nil {
		g.invalidateResumeURL()
		return actionReconnect
	}
	if hello.Op != opHello {
		return g.helloFailure(map[string]any{"op": hello.Op})
	}
	var hd helloData
	if err := json.Unmarshal(hello.D, &hd); err != nil || hd.HeartbeatInterval <= 0 {
		return g.helloFailure(map[string]any{"reason": "malformed payload"})
	}
	g.helloFailures = 0

	// Identifying/Resuming.
	if err := g.authenticate(conn); err != nil {
		g.invalidateResumeURL()
		return actionReconnect
	}

	// Heartbeat sub-task, cancelled with this connection.
	hbCtx, hbCancel := context.WithCancel(ctx)
	defer hbCancel()
	go g.heartbeatLoop(hbCtx, conn, time.Duration(hd.HeartbeatInterval)*time.Millisecond)

	// Connected: read frames until something ends the connection.
	for {
		select {
		case <-ctx.Done():
			return actionReconnect
		case <-g.closed:
			return actionReconnect
		default:
		}

		conn.SetReadDeadline(time.Now().Add(time.Duration(hd.HeartbeatInterval)*time.Millisecond*2 + time.Minute))
		var frame payload
		if err := conn.ReadJSON(&frame); err != nil {
			select {
			case <-g.closed:
				return actionReconnect
			default:
			}
			logger.WarnCF("discord", "gateway read error", map[string]any{"error": err.Error()})
			// The cached resume endpoint may be what failed; fall back to
			// the canonical endpoint next cycle. Session id and sequence
			// survive for a RESUME attempt.
			g.invalidateResumeURL()
			return actionReconnect
		}

		if action := g.handleFrame(conn, frame); action != actionContinue {
			return action
		}
	}
}

// authenticate sends RESUME when a session id and sequence are both known,
// IDENTIFY otherwise.
func (g *Gateway) authenticate(conn *websocket.Conn) error {
	g.mu.Lock()
	sessionID := g.sessionID
	seq := g.seq
	canResume := sessionID != "" && g.hasSeq
	g.mu.Unlock()

	if canResume {
		logger.InfoCF("discord", "resuming session", map[string]any{"seq": seq})
		d, _ := json.Marshal(resumeData{Token: g.token, SessionID: sessionID, Seq: seq})
		return g.writeJSON(conn, payload{Op: opResume, D: d})
	}

	d, _ := json.Marshal(identifyData{
		Token:   g.token,
		Intents: g.intents,
		Properties: map[string]string{
			"os": "linux", "browser": "bridgeclaw", "device": "bridgeclaw",
		},
	})
	return g.writeJSON(conn, payload{Op: opIdentify, D: d})
}

// helloFailure counts consecutive handshakes that never produced a valid
// HELLO. A stale resume endpoint or a transient garbage frame earns a
// retry against the canonical endpoint; a persistently broken endpoint is
// fatal.
func (g *Gateway) helloFailure(fields map[string]any) frameAction {
	g.helloFailures++
	fields["failures"] = g.helloFailures
	if g.helloFailures >= maxHelloFailures {
		logger.ErrorCF("discord", "no valid HELLO, giving up", fields)
		return actionFatal
	}
	logger.WarnCF("discord", "no valid HELLO", fields)
	g.invalidateResumeURL()
	return actionReconnect
}

// handleFrame processes one frame and reports how the loop should proceed.
func (g *Gateway) handleFrame(conn *websocket.Conn, frame payload) frameAction {
	if frame.S != nil {
		g.mu.Lock()
		g.seq = *frame.S
		g.hasSeq = true
		g.mu.Unlock()
	}

	switch frame.Op {
	case opDispatch:
		g.handleDispatch(frame)
		return actionContinue

	case opHeartbeat:
		// Server-requested immediate heartbeat.
		g.sendHeartbeat(conn)
		return actionContinue

	case opHeartbeatAck:
		g.mu.Lock()
		g.ackPending = false
		g.mu.Unlock()
		return actionContinue

	case opReconnect:
		// The server asks for a resume cycle; keep session state and the
		// resume URL it handed out.
		logger.InfoC("discord", "gateway reconnect requested")
		return actionReconnect

	case opInvalidSession:
		var resumable bool
		json.Unmarshal(frame.D, &resumable)
		if !resumable {
			logger.WarnC("discord", "session invalidated, will re-identify")
			g.resetSession()
		}
		return actionReconnect

	default:
		return actionContinue
	}
}

// handleDispatch delivers one dispatch event, suppressing duplicates
// replayed under resume. The watermark advances only on delivery, so
// ordering to the callback is non-decreasing.
func (g *Gateway) handleDispatch(frame payload) {
	if frame.S != nil {
		g.mu.Lock()
		if g.hasDispatched && *frame.S <= g.lastDispatch {
			g.mu.Unlock()
			logger.DebugCF("discord", "duplicate dispatch dropped", map[string]any{"seq": *frame.S})
			return
		}
		g.lastDispatch = *frame.S
		g.hasDispatched = true
		g.mu.Unlock()
	}

	if frame.T == "READY" {
		var rd readyData
		if err := json.Unmarshal(frame.D, &rd); err == nil {
			g.mu.Lock()
			g.sessionID = rd.SessionID
			g.resumeURL = rd.ResumeGatewayURL
			g.mu.Unlock()
			logger.InfoCF("discord", "gateway ready", map[string]any{
				"user": rd.User.Username, "session": rd.SessionID,
			})
			if g.onReady != nil {
				g.onReady(rd)
			}
		}
		return
	}

	if frame.T == "RESUMED" {
		logger.InfoC("discord", "session resumed")
		return
	}

	if g.onDispatch != nil {
		g.onDispatch(frame.T, frame.D)
	}
}

// heartbeatLoop sends a heartbeat every interval. A tick that finds the
// previous heartbeat unacknowledged treats the connection as dead and
// closes it, which unblocks the read loop into a reconnect.
func (g *Gateway) heartbeatLoop(ctx context.Context, conn *websocket.Conn, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.mu.Lock()
			pending := g.ackPending
			g.mu.Unlock()
			if pending {
				logger.WarnC("discord", "heartbeat ack missed, dropping connection")
				conn.Close()
				return
			}
			if err := g.sendHeartbeat(conn); err != nil {
				return
			}
			g.mu.Lock()
			g.ackPending = true
			g.mu.Unlock()
		}
	}
}

func (g *Gateway) sendHeartbeat(conn *websocket.Conn) error {
	g.mu.Lock()
	var d json.RawMessage
	if g.hasSeq {
		d, _ = json.Marshal(g.seq)
	} else {
		d = json.RawMessage("null")
	}
	g.mu.Unlock()
	return g.writeJSON(conn, payload{Op: opHeartbeat, D: d})
}

// writeJSON serializes writes: the read loop, the heartbeat goroutine,
// and authenticate all write to the same connection.
func (g *Gateway) writeJSON(conn *websocket.Conn, v any) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

func (g *Gateway) invalidateResumeURL() {
	g.mu.Lock()
	g.resumeURL = ""
	g.mu.Unlock()
}

// resetSession clears all resumption state after an unresumable
// invalidation; the next connection performs a fresh IDENTIFY.
func (g *Gateway) resetSession() {
	g.mu.Lock()
	g.sessionID = ""
	g.resumeURL = ""
	g.hasSeq = false
	g.seq = 0
	g.hasDispatched = false
	g.lastDispatch = 0
	g.mu.Unlock()
}

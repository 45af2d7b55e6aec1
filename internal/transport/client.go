package transport

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/k-ranasinghe/voice-agent/internal/observability"
	"github.com/k-ranasinghe/voice-agent/internal/protocol"
	"github.com/k-ranasinghe/voice-agent/internal/reliability"
	"github.com/k-ranasinghe/voice-agent/internal/session"
)

// Conversation modes.
const (
	ModeVoice = "voice"
	ModeText  = "text"
)

// ConnState describes where the client sits in its connection
// lifecycle. CallStatus on the session store tracks the call; ConnState
// tracks the socket.
type ConnState string

const (
	StateIdle                 ConnState = "idle"
	StateConnected            ConnState = "connected"
	StateDisconnectedClean    ConnState = "disconnected_clean"
	StateDisconnectedAbnormal ConnState = "disconnected_abnormal"
	StateReconnecting         ConnState = "reconnecting"
	StateExhausted            ConnState = "exhausted"
)

var ErrNotConnected = errors.New("transport: not connected")

// StateSink is the slice of the session store the transport writes to.
type StateSink interface {
	SetSessionID(string)
	SetCallStatus(session.CallStatus)
	SetAgentStatus(session.AgentStatus)
	ApplyTranscript(speaker session.Speaker, text string, final bool, ts time.Time) session.TranscriptMessage
	ApplyStateDelta(session.StateDelta)
}

// Handler receives a parsed inbound message after built-in dispatch has
// updated the session store. Handlers run on the read-loop goroutine in
// registration order, so inbound ordering is preserved.
type Handler func(msg any)

type Config struct {
	VoiceURL    string
	TextURL     string
	DialTimeout time.Duration
	Schedule    reliability.Schedule
}

// Client owns at most one websocket connection to the agent and the
// reconnect machinery around it.
type Client struct {
	cfg     Config
	store   StateSink
	metrics *observability.Metrics
	dialer  *websocket.Dialer

	handlersMu sync.RWMutex
	handlers   map[protocol.MessageType][]Handler

	listenerMu    sync.RWMutex
	stateListener func(ConnState)

	mu             sync.Mutex
	writeMu        sync.Mutex
	conn           *websocket.Conn
	state          ConnState
	mode           string
	userClosed     bool
	established    bool
	failures       int
	reconnectTimer *time.Timer
	dialStartedAt  time.Time
	downSince      time.Time
}

func NewClient(cfg Config, store StateSink, metrics *observability.Metrics) *Client {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if len(cfg.Schedule) == 0 {
		cfg.Schedule = reliability.DefaultSchedule()
	}
	return &Client{
		cfg:     cfg,
		store:   store,
		metrics: metrics,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.DialTimeout,
		},
		handlers: make(map[protocol.MessageType][]Handler),
		state:    StateIdle,
	}
}

// On registers a handler for one inbound message type. Registration is
// expected before Connect; it is safe afterwards too.
func (c *Client) On(t protocol.MessageType, h Handler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers[t] = append(c.handlers[t], h)
}

func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnStateChange registers an observer for connection state transitions.
// The observer runs on its own goroutine and may call back into the
// client; delivery order between rapid transitions is not guaranteed.
func (c *Client) OnStateChange(fn func(ConnState)) {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()
	c.stateListener = fn
}

// setStateLocked records a transition and notifies the observer.
// Caller holds c.mu.
func (c *Client) setStateLocked(s ConnState) {
	if c.state == s {
		return
	}
	c.state = s
	c.listenerMu.RLock()
	fn := c.stateListener
	c.listenerMu.RUnlock()
	if fn != nil {
		go fn(s)
	}
}

// Connect dials the endpoint for the given mode. A client that already
// owns a connection tears it down first. The initial dial is
// synchronous: a failure here is returned to the caller and does not
// consume the reconnect schedule.
func (c *Client) Connect(ctx context.Context, mode string) error {
	endpoint, err := c.endpointFor(mode)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.cancelTimerLocked()
	c.teardownLocked(true)
	c.userClosed = false
	c.failures = 0
	c.setStateLocked(StateIdle)
	c.mode = mode
	c.dialStartedAt = time.Now()
	c.downSince = time.Time{}
	c.mu.Unlock()

	c.store.SetCallStatus(session.CallConnecting)

	dctx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	defer cancel()
	conn, _, err := c.dialer.DialContext(dctx, endpoint, nil)
	if err != nil {
		c.store.SetCallStatus(session.CallIdle)
		return fmt.Errorf("dial %s: %w", endpoint, err)
	}

	c.mu.Lock()
	if c.userClosed {
		c.mu.Unlock()
		_ = conn.Close()
		return errors.New("transport: closed during connect")
	}
	c.installConnLocked(conn)
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.CallsStarted.WithLabelValues(mode).Inc()
	}
	log.Printf("transport: connected to %s", endpoint)

	// Text mode has no server handshake: the session exists as soon as
	// the socket opens, under a locally generated id.
	if mode == ModeText {
		c.store.SetSessionID("text-" + uuid.NewString())
		c.markEstablished(conn)
	}
	return nil
}

// Disconnect ends the call from our side: one stop message, a normal
// close frame, and no reconnection. Safe to call from any state, any
// number of times.
func (c *Client) Disconnect() {
	c.mu.Lock()
	alreadyClosed := c.userClosed && c.conn == nil && c.reconnectTimer == nil
	c.userClosed = true
	c.cancelTimerLocked()
	c.teardownLocked(true)
	c.setStateLocked(StateDisconnectedClean)
	c.mu.Unlock()

	if alreadyClosed {
		return
	}
	c.store.SetCallStatus(session.CallEnded)
	if c.metrics != nil {
		c.metrics.ActiveCall.Set(0)
	}
	log.Printf("transport: disconnected")
}

// Close makes Client an io.Closer for deferred teardown.
func (c *Client) Close() error {
	c.Disconnect()
	return nil
}

// SendText submits one user utterance. The server does not echo text
// input back, so the local transcript is updated here after a
// successful write.
func (c *Client) SendText(text string) error {
	msg, err := protocol.NewTextMessage(text)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	err = conn.WriteJSON(msg)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("send text: %w", err)
	}

	c.countMessage("outbound", string(protocol.TypeText))
	c.store.ApplyTranscript(session.SpeakerUser, text, true, time.Now().UTC())
	return nil
}

// SendAudioFrame writes one binary PCM frame, fire and forget. Frames
// offered while the connection is down are dropped silently; live audio
// has no value by the time a reconnect lands.
func (c *Client) SendAudioFrame(frame []byte) {
	c.mu.Lock()
	conn := c.conn
	ready := conn != nil && !c.userClosed
	c.mu.Unlock()
	if !ready {
		if c.metrics != nil {
			c.metrics.FramesDropped.Inc()
		}
		return
	}

	c.writeMu.Lock()
	err := conn.WriteMessage(websocket.BinaryMessage, frame)
	c.writeMu.Unlock()
	if err != nil {
		// The read loop sees the dead connection and handles it.
		return
	}
	c.countMessage("outbound", "audio_frame")
}

func (c *Client) endpointFor(mode string) (string, error) {
	switch mode {
	case ModeVoice:
		if c.cfg.VoiceURL == "" {
			return "", errors.New("transport: voice endpoint not configured")
		}
		return c.cfg.VoiceURL, nil
	case ModeText:
		if c.cfg.TextURL == "" {
			return "", errors.New("transport: text endpoint not configured")
		}
		return c.cfg.TextURL, nil
	default:
		return "", fmt.Errorf("transport: unknown mode %q", mode)
	}
}

// installConnLocked wires a freshly dialed connection in and starts its
// read loop. Caller holds c.mu.
func (c *Client) installConnLocked(conn *websocket.Conn) {
	c.conn = conn
	c.established = false
	c.setStateLocked(StateConnected)
	go c.readLoop(conn)
}

// teardownLocked closes the current connection, optionally with the
// stop/normal-close goodbye. Caller holds c.mu.
func (c *Client) teardownLocked(graceful bool) {
	conn := c.conn
	c.conn = nil
	c.established = false
	if conn == nil {
		return
	}
	if graceful {
		c.writeMu.Lock()
		_ = conn.WriteJSON(protocol.NewStopMessage())
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		c.writeMu.Unlock()
		c.countMessage("outbound", string(protocol.TypeStop))
	}
	_ = conn.Close()
}

func (c *Client) cancelTimerLocked() {
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleClose(conn, err)
			return
		}
		c.dispatch(conn, data)
	}
}

func (c *Client) dispatch(conn *websocket.Conn, data []byte) {
	c.mu.Lock()
	stale := c.conn != conn
	c.mu.Unlock()
	if stale {
		return
	}

	msg, err := protocol.ParseServerMessage(data)
	if err != nil {
		if errors.Is(err, protocol.ErrUnsupportedType) {
			return
		}
		log.Printf("transport: dropping malformed message: %v", err)
		return
	}

	c.markEstablished(conn)

	t := messageTypeOf(msg)
	c.countMessage("inbound", string(t))

	switch m := msg.(type) {
	case protocol.Session:
		c.store.SetSessionID(m.SessionID)
	case protocol.Transcript:
		c.store.ApplyTranscript(session.Speaker(m.Speaker), m.Text, m.IsFinal, m.Time())
	case protocol.Status:
		c.store.SetAgentStatus(session.AgentStatus(m.Status))
	case protocol.StateUpdate:
		c.store.ApplyStateDelta(session.StateDelta{
			Intent:              m.Intent,
			Authenticated:       m.Authenticated,
			FlowStage:           m.FlowStage,
			EscalationRequested: m.EscalationRequested,
		})
	case protocol.ErrorMessage:
		log.Printf("transport: agent error: %s", m.Message)
		c.store.SetAgentStatus(session.AgentError)
	}

	c.invokeHandlers(t, msg)
}

// markEstablished completes the open: the failure counter resets and
// the call goes active. Voice mode reaches this on the first server
// message, text mode immediately after the dial.
func (c *Client) markEstablished(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn != conn || c.established {
		c.mu.Unlock()
		return
	}
	c.established = true
	c.failures = 0
	c.setStateLocked(StateConnected)
	dialStarted := c.dialStartedAt
	down := c.downSince
	c.dialStartedAt = time.Time{}
	c.downSince = time.Time{}
	c.mu.Unlock()

	c.store.SetCallStatus(session.CallActive)
	if c.metrics == nil {
		return
	}
	c.metrics.ActiveCall.Set(1)
	if !down.IsZero() {
		c.metrics.ObserveStage(observability.StageReconnect, time.Since(down))
	} else if !dialStarted.IsZero() {
		c.metrics.ObserveStage(observability.StageConnect, time.Since(dialStarted))
	}
}

func (c *Client) handleClose(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		// Replaced or deliberately closed; whoever did it owns the state.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.established = false
	_ = conn.Close()

	if c.userClosed {
		c.setStateLocked(StateDisconnectedClean)
		c.mu.Unlock()
		return
	}

	code := closeCode(err)
	if !reliability.IsAbnormalCloseCode(code) {
		c.setStateLocked(StateDisconnectedClean)
		c.cancelTimerLocked()
		c.mu.Unlock()

		log.Printf("transport: server ended the session")
		c.store.SetCallStatus(session.CallEnded)
		if c.metrics != nil {
			c.metrics.ActiveCall.Set(0)
		}
		return
	}

	c.setStateLocked(StateDisconnectedAbnormal)
	c.downSince = time.Now()
	log.Printf("transport: abnormal disconnect (code %d): %v", code, err)
	c.scheduleReconnectLocked()
	c.mu.Unlock()
}

// scheduleReconnectLocked arms the single reconnect timer or declares
// exhaustion. Caller holds c.mu.
func (c *Client) scheduleReconnectLocked() {
	c.cancelTimerLocked()
	c.failures++
	delay, ok := c.cfg.Schedule.Delay(c.failures)
	if !ok {
		c.setStateLocked(StateExhausted)
		log.Printf("transport: reconnect schedule exhausted after %d consecutive failures", c.failures)
		c.store.SetCallStatus(session.CallEnded)
		if c.metrics != nil {
			c.metrics.ActiveCall.Set(0)
			c.metrics.MarkIndicator("reconnect_exhausted")
		}
		return
	}
	c.setStateLocked(StateReconnecting)
	log.Printf("transport: reconnecting in %s (failure %d)", delay, c.failures)
	c.reconnectTimer = time.AfterFunc(delay, c.redial)
}

func (c *Client) redial() {
	c.mu.Lock()
	if c.userClosed || c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	mode := c.mode
	c.mu.Unlock()

	endpoint, err := c.endpointFor(mode)
	if err != nil {
		return
	}

	if c.metrics != nil {
		c.metrics.ReconnectAttempts.Inc()
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.DialTimeout)
	conn, _, err := c.dialer.DialContext(ctx, endpoint, nil)
	cancel()

	c.mu.Lock()
	if c.userClosed {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		log.Printf("transport: reconnect dial failed: %v", err)
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		return
	}
	c.installConnLocked(conn)
	c.mu.Unlock()

	log.Printf("transport: reconnected to %s", endpoint)
	if mode == ModeText {
		c.store.SetSessionID("text-" + uuid.NewString())
		c.markEstablished(conn)
	}
}

func (c *Client) invokeHandlers(t protocol.MessageType, msg any) {
	c.handlersMu.RLock()
	hs := c.handlers[t]
	c.handlersMu.RUnlock()
	for _, h := range hs {
		h(msg)
	}
}

func (c *Client) countMessage(direction, messageType string) {
	if c.metrics == nil {
		return
	}
	c.metrics.WSMessages.WithLabelValues(direction, messageType).Inc()
}

func messageTypeOf(msg any) protocol.MessageType {
	switch msg.(type) {
	case protocol.Session:
		return protocol.TypeSession
	case protocol.Transcript:
		return protocol.TypeTranscript
	case protocol.Status:
		return protocol.TypeStatus
	case protocol.StateUpdate:
		return protocol.TypeStateUpdate
	case protocol.Audio:
		return protocol.TypeAudio
	case protocol.AudioEnd:
		return protocol.TypeAudioEnd
	case protocol.ErrorMessage:
		return protocol.TypeError
	default:
		return ""
	}
}

func closeCode(err error) int {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return websocket.CloseAbnormalClosure
}

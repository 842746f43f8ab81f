// Package stream owns the persistent connection to the tag report source:
// handshake, heartbeat, staleness detection, bounded-backoff reconnect,
// redirect handling, and clean teardown. All faults short of reconnect
// exhaustion surface only as state-change events, never as errors to the
// caller.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"rtls-stream/internal/config"
	"rtls-stream/internal/models"
)

const writeWait = 10 * time.Second

// SubscriptionSource supplies the chunked subscription set sent after the
// transport opens.
type SubscriptionSource interface {
	Subscriptions(ctx context.Context) []models.Subscription
}

type MessageHandler func(msg map[string]interface{})

type StateHandler func(state models.ConnectionState, status string)

// Manager runs the connection state machine:
//
//	disconnected -> connecting -> connected -> {reconnecting -> connecting}* -> disconnected|failed
//
// It holds at most two sub-connections: the control connection and, after
// a PortRedirect in secondary mode, a data connection that becomes the
// primary report source while control keeps carrying heartbeats.
type Manager struct {
	cfg    config.StreamConfig
	source SubscriptionSource
	dialer Dialer
	logger zerolog.Logger

	mu             sync.Mutex
	state          models.ConnectionState
	attempt        int
	generation     int
	closing        bool
	control        Conn
	data           Conn
	messageHandler MessageHandler
	stateHandler   StateHandler
	reconnectTimer *time.Timer
	subscribeTimer *time.Timer
	heartbeatTimer *time.Timer
	endStreamAck   chan struct{}
	endStreamReqID string

	writeMu sync.Mutex
}

func NewManager(cfg config.StreamConfig, source SubscriptionSource, dialer Dialer, logger zerolog.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		source: source,
		dialer: dialer,
		logger: logger,
		state:  models.StateDisconnected,
	}
}

// OnMessage registers the sole consumer of decoded report messages.
// Registering again detaches the previous handler.
func (m *Manager) OnMessage(handler MessageHandler) {
	m.mu.Lock()
	m.messageHandler = handler
	m.mu.Unlock()
}

// OnStateChange registers a state-transition observer.
func (m *Manager) OnStateChange(handler StateHandler) {
	m.mu.Lock()
	m.stateHandler = handler
	m.mu.Unlock()
}

func (m *Manager) State() models.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect is idempotent: a no-op while connected or connecting. From any
// other state it resets the attempt counter and opens the transport. A
// failed open does not surface an error; the manager slides into the
// reconnect path.
func (m *Manager) Connect() {
	m.mu.Lock()
	if m.state == models.StateConnected || m.state == models.StateConnecting {
		m.mu.Unlock()
		return
	}
	m.closing = false
	m.attempt = 0
	m.stopTimersLocked()
	m.generation++
	gen := m.generation
	notify := m.transitionLocked(models.StateConnecting, "opening transport")
	m.mu.Unlock()

	notify()
	go m.dial(gen)
}

func (m *Manager) dial(gen int) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ConnectTimeout)
	defer cancel()

	conn, err := m.dialer.Dial(ctx, m.cfg.URL())

	m.mu.Lock()
	if gen != m.generation || m.closing {
		m.mu.Unlock()
		if err == nil {
			_ = conn.Close()
		}
		return
	}

	if err != nil {
		m.logger.Warn().Err(err).Str("url", m.cfg.URL()).Msg("Transport open failed")
		notify := m.scheduleReconnectLocked(fmt.Sprintf("transport open failed: %v", err))
		m.mu.Unlock()
		notify()
		return
	}

	m.control = conn
	m.attempt = 0
	notify := m.transitionLocked(models.StateConnected, "transport open")
	m.armHeartbeatWatchdogLocked(gen)

	// The peer reports open before it accepts writes; give it a beat
	// before the subscription handshake.
	m.subscribeTimer = time.AfterFunc(m.cfg.SubscribeDelay, func() {
		m.sendSubscriptions(gen)
	})
	m.mu.Unlock()

	notify()
	go m.readLoop(conn, gen, "control")
}

func (m *Manager) readLoop(conn Conn, gen int, role string) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			m.handleConnLoss(conn, gen, err)
			return
		}
		m.dispatch(conn, gen, payload)
	}
}

func (m *Manager) dispatch(conn Conn, gen int, payload []byte) {
	var msg map[string]interface{}
	if err := json.Unmarshal(payload, &msg); err != nil {
		m.logger.Warn().Err(err).Msg("Dropping undecodable message")
		return
	}

	msgType, _ := msg["type"].(string)
	switch msgType {
	case msgTypeHeartbeat:
		m.handleHeartbeat(conn, gen, msg)
	case msgTypeReport:
		m.mu.Lock()
		handler := m.messageHandler
		m.mu.Unlock()
		if handler != nil {
			handler(msg)
		}
	case msgTypeResponse:
		m.handleResponse(msg)
	case msgTypeRedirect:
		m.handleRedirect(gen, msg)
	default:
		m.logger.Debug().Str("type", msgType).Msg("Dropping unrecognized message type")
	}
}

// handleHeartbeat echoes the correlation id back immediately and re-arms
// the staleness watchdog.
func (m *Manager) handleHeartbeat(conn Conn, gen int, msg map[string]interface{}) {
	echo := heartbeatEcho{
		Type:   msgTypeHeartbeat,
		TS:     time.Now().UnixMilli(),
		Source: m.cfg.SourceID,
		Data:   heartbeatData{HeartbeatID: heartbeatID(msg)},
	}
	if err := m.writeJSON(conn, echo); err != nil {
		m.logger.Warn().Err(err).Msg("Heartbeat echo failed")
	}

	m.mu.Lock()
	if gen == m.generation && m.state == models.StateConnected {
		m.armHeartbeatWatchdogLocked(gen)
	}
	m.mu.Unlock()
}

// armHeartbeatWatchdogLocked force-closes the connection if no heartbeat
// arrives within the timeout window. This catches silently-dead sockets
// that never emit a close event.
func (m *Manager) armHeartbeatWatchdogLocked(gen int) {
	if m.heartbeatTimer != nil {
		m.heartbeatTimer.Stop()
	}
	m.heartbeatTimer = time.AfterFunc(m.cfg.HeartbeatTimeout, func() {
		m.mu.Lock()
		if gen != m.generation || m.closing || m.state != models.StateConnected {
			m.mu.Unlock()
			return
		}
		m.logger.Warn().
			Dur("timeout", m.cfg.HeartbeatTimeout).
			Msg("No heartbeat within timeout, forcing reconnect")
		m.teardownLocked()
		notify := m.scheduleReconnectLocked("heartbeat timeout")
		m.mu.Unlock()
		notify()
	})
}

func (m *Manager) handleResponse(msg map[string]interface{}) {
	reqID, _ := msg["reqid"].(string)
	m.logger.Debug().Str("reqid", reqID).Msg("Subscription acknowledged")

	m.mu.Lock()
	if m.endStreamAck != nil && (reqID == "" || reqID == m.endStreamReqID) {
		close(m.endStreamAck)
		m.endStreamAck = nil
	}
	m.mu.Unlock()
}

// handleRedirect opens a second transport on the instructed port. In
// secondary mode the control connection stays open for heartbeats and the
// new connection becomes the primary report source; in replace mode the
// new connection supersedes control entirely.
func (m *Manager) handleRedirect(gen int, msg map[string]interface{}) {
	port, ok := redirectPort(msg)
	if !ok {
		m.logger.Warn().Msg("PortRedirect without usable port, ignoring")
		return
	}

	url := fmt.Sprintf("ws://%s:%d%s", m.cfg.Host, port, m.cfg.Path)
	m.logger.Info().
		Str("mode", m.cfg.RedirectMode).
		Str("url", url).
		Msg("Following stream redirect")

	go m.dialRedirect(gen, url)
}

func (m *Manager) dialRedirect(gen int, url string) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ConnectTimeout)
	defer cancel()

	conn, err := m.dialer.Dial(ctx, url)
	if err != nil {
		// Keep the original connection; reports continue on it.
		m.logger.Error().Err(err).Str("url", url).Msg("Redirect dial failed")
		return
	}

	m.mu.Lock()
	if gen != m.generation || m.closing {
		m.mu.Unlock()
		_ = conn.Close()
		return
	}

	if m.cfg.RedirectMode == "replace" {
		old := m.control
		m.control = conn
		m.mu.Unlock()
		if old != nil {
			_ = old.Close()
		}
	} else {
		if m.data != nil {
			_ = m.data.Close()
		}
		m.data = conn
		m.mu.Unlock()
	}

	go m.readLoop(conn, gen, "data")
}

func (m *Manager) sendSubscriptions(gen int) {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ConnectTimeout)
	defer cancel()

	subscriptions := m.source.Subscriptions(ctx)

	m.mu.Lock()
	if gen != m.generation || m.closing || m.state != models.StateConnected || m.control == nil {
		m.mu.Unlock()
		return
	}
	conn := m.control
	m.mu.Unlock()

	if len(subscriptions) == 0 {
		m.logger.Warn().Msg("No subscriptions to send, stream will stay silent")
		return
	}

	for _, subscription := range subscriptions {
		if err := m.writeJSON(conn, newBeginStream(subscription)); err != nil {
			m.logger.Error().Err(err).
				Str("reqid", subscription.RequestID).
				Msg("Subscription send failed")
			m.handleConnLoss(conn, gen, err)
			return
		}
	}

	m.logger.Info().
		Int("subscriptions", len(subscriptions)).
		Msg("Subscription handshake sent")
}

func (m *Manager) handleConnLoss(conn Conn, gen int, err error) {
	m.mu.Lock()
	if gen != m.generation || m.closing || (conn != m.control && conn != m.data) {
		// A superseded or already torn-down connection; nothing to do.
		m.mu.Unlock()
		return
	}

	m.teardownLocked()

	var notify func()
	if isNormalClose(err) {
		notify = m.transitionLocked(models.StateDisconnected, "stream closed by peer")
	} else {
		notify = m.scheduleReconnectLocked(fmt.Sprintf("connection lost: %v", err))
	}
	m.mu.Unlock()
	notify()
}

// scheduleReconnectLocked moves to reconnecting (or failed once the
// attempt budget is exhausted) and arms the backoff timer.
func (m *Manager) scheduleReconnectLocked(reason string) func() {
	if m.attempt >= m.cfg.MaxReconnectAttempts {
		return m.transitionLocked(models.StateFailed,
			"reconnect attempts exhausted; call Connect() to retry")
	}

	delay := NextDelay(m.attempt, m.cfg.ReconnectBase, m.cfg.ReconnectCap)
	m.attempt++
	m.generation++
	gen := m.generation

	notify := m.transitionLocked(models.StateReconnecting,
		fmt.Sprintf("%s; retrying in %s", reason, delay))

	m.reconnectTimer = time.AfterFunc(delay, func() {
		m.mu.Lock()
		if gen != m.generation || m.closing {
			m.mu.Unlock()
			return
		}
		retryNotify := m.transitionLocked(models.StateConnecting, "reconnecting")
		m.mu.Unlock()
		retryNotify()
		m.dial(gen)
	})

	return notify
}

// Disconnect sends EndStream if connected, waits for the acknowledgment up
// to the configured timeout, then closes the transport unconditionally.
// Safe to call from any state; cancels all pending timers.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.closing = true
	m.stopTimersLocked()

	conn := m.control
	var ack chan struct{}
	var reqID string
	if m.state == models.StateConnected && conn != nil {
		ack = make(chan struct{})
		reqID = uuid.NewString()
		m.endStreamAck = ack
		m.endStreamReqID = reqID
	}
	m.mu.Unlock()

	if ack != nil {
		if err := m.writeJSON(conn, newEndStream(reqID)); err != nil {
			m.logger.Warn().Err(err).Msg("EndStream send failed")
		} else {
			select {
			case <-ack:
			case <-time.After(m.cfg.DisconnectTimeout):
				m.logger.Warn().Msg("EndStream acknowledgment timed out")
			}
		}
	}

	m.mu.Lock()
	m.teardownLocked()
	m.endStreamAck = nil
	notify := m.transitionLocked(models.StateDisconnected, "disconnected")
	m.mu.Unlock()
	notify()
}

// teardownLocked closes both sub-connections, cancels timers, and bumps
// the generation so in-flight goroutines and timer callbacks become
// no-ops.
func (m *Manager) teardownLocked() {
	m.stopTimersLocked()
	if m.control != nil {
		_ = m.control.Close()
		m.control = nil
	}
	if m.data != nil {
		_ = m.data.Close()
		m.data = nil
	}
	m.generation++
}

func (m *Manager) stopTimersLocked() {
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	if m.subscribeTimer != nil {
		m.subscribeTimer.Stop()
		m.subscribeTimer = nil
	}
	if m.heartbeatTimer != nil {
		m.heartbeatTimer.Stop()
		m.heartbeatTimer = nil
	}
}

// transitionLocked updates the state and returns the observer notification
// to run after the lock is released.
func (m *Manager) transitionLocked(state models.ConnectionState, status string) func() {
	if m.state == state {
		return func() {}
	}
	m.state = state
	handler := m.stateHandler

	m.logger.Info().
		Str("state", string(state)).
		Str("status", status).
		Msg("Connection state changed")

	if handler == nil {
		return func() {}
	}
	return func() { handler(state, status) }
}

func (m *Manager) writeJSON(conn Conn, v interface{}) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

func isNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure)
}

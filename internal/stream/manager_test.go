package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"rtls-stream/internal/config"
	"rtls-stream/internal/models"
)

type fakeConn struct {
	mu        sync.Mutex
	inbound   chan []byte
	readErr   error
	writes    []map[string]interface{}
	writeErr  error
	closed    bool
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbound: make(chan []byte, 16)}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	payload, ok := <-c.inbound
	if !ok {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.readErr != nil {
			return 0, nil, c.readErr
		}
		return 0, nil, errors.New("use of closed network connection")
	}
	return websocket.TextMessage, payload, nil
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}

	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return err
	}
	c.writes = append(c.writes, decoded)
	return nil
}

func (c *fakeConn) SetWriteDeadline(t time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.inbound) })
	return nil
}

// push queues an inbound message, quietly dropping it if the connection
// was already closed so tests cannot race against teardown.
func (c *fakeConn) push(t *testing.T, msg map[string]interface{}) {
	t.Helper()
	payload, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal inbound message: %v", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.inbound <- payload
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// failWith terminates the read loop with a specific error.
func (c *fakeConn) failWith(err error) {
	c.mu.Lock()
	c.readErr = err
	c.closed = true
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.inbound) })
}

func (c *fakeConn) writeSnapshot() []map[string]interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]interface{}, len(c.writes))
	copy(out, c.writes)
	return out
}

type dialResult struct {
	conn *fakeConn
	err  error
}

type fakeDialer struct {
	mu      sync.Mutex
	results []dialResult
	urls    []string
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, url)
	if len(d.results) == 0 {
		return nil, errors.New("no more test connections")
	}
	result := d.results[0]
	d.results = d.results[1:]
	if result.err != nil {
		return nil, result.err
	}
	return result.conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

type fakeSource struct {
	subscriptions []models.Subscription
}

func (s *fakeSource) Subscriptions(ctx context.Context) []models.Subscription {
	return s.subscriptions
}

type stateRecorder struct {
	mu     sync.Mutex
	states []models.ConnectionState
}

func (r *stateRecorder) handle(state models.ConnectionState, status string) {
	r.mu.Lock()
	r.states = append(r.states, state)
	r.mu.Unlock()
}

func (r *stateRecorder) snapshot() []models.ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.ConnectionState, len(r.states))
	copy(out, r.states)
	return out
}

func testStreamConfig() config.StreamConfig {
	return config.StreamConfig{
		Host:                 "localhost",
		Port:                 8002,
		Path:                 "/ws/RealTimeManager",
		ConnectTimeout:       100 * time.Millisecond,
		SubscribeDelay:       5 * time.Millisecond,
		HeartbeatTimeout:     time.Minute,
		DisconnectTimeout:    200 * time.Millisecond,
		ReconnectBase:        10 * time.Millisecond,
		ReconnectCap:         40 * time.Millisecond,
		MaxReconnectAttempts: 2,
		RedirectMode:         "secondary",
		SourceID:             "trackd-test",
	}
}

func testSubscription() models.Subscription {
	return models.Subscription{ZoneID: 449, DeviceIDs: []string{"T1", "T2"}, RequestID: "req-1"}
}

func newTestManager(cfg config.StreamConfig, dialer Dialer) *Manager {
	source := &fakeSource{subscriptions: []models.Subscription{testSubscription()}}
	return NewManager(cfg, source, dialer, zerolog.New(io.Discard))
}

func waitFor(t *testing.T, what string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestConnectSendsSubscriptionHandshake(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{results: []dialResult{{conn: conn}}}
	m := newTestManager(testStreamConfig(), dialer)
	defer m.Disconnect()

	m.Connect()

	waitFor(t, "connected state", func() bool { return m.State() == models.StateConnected })
	waitFor(t, "handshake write", func() bool { return len(conn.writeSnapshot()) >= 1 })

	write := conn.writeSnapshot()[0]
	if write["type"] != "request" || write["request"] != "BeginStream" {
		t.Errorf("handshake = %v, want BeginStream request", write)
	}
	if write["zone_id"] != float64(449) {
		t.Errorf("zone_id = %v, want 449", write["zone_id"])
	}
}

func TestConnectIsIdempotent(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{results: []dialResult{{conn: conn}}}
	m := newTestManager(testStreamConfig(), dialer)
	defer m.Disconnect()

	m.Connect()
	waitFor(t, "connected state", func() bool { return m.State() == models.StateConnected })

	m.Connect()
	m.Connect()
	time.Sleep(20 * time.Millisecond)

	if dialer.dialCount() != 1 {
		t.Errorf("dial count = %d, want 1", dialer.dialCount())
	}
}

func TestDialFailureRetriesThenFails(t *testing.T) {
	dialer := &fakeDialer{results: []dialResult{
		{err: errors.New("connection refused")},
		{err: errors.New("connection refused")},
		{err: errors.New("connection refused")},
	}}
	recorder := &stateRecorder{}
	m := newTestManager(testStreamConfig(), dialer)
	m.OnStateChange(recorder.handle)

	m.Connect()

	waitFor(t, "failed state", func() bool { return m.State() == models.StateFailed })

	// Two reconnect attempts were allowed before giving up: three dials total.
	if dialer.dialCount() != 3 {
		t.Errorf("dial count = %d, want 3", dialer.dialCount())
	}

	sawReconnecting := false
	for _, state := range recorder.snapshot() {
		if state == models.StateReconnecting {
			sawReconnecting = true
		}
	}
	if !sawReconnecting {
		t.Error("never observed reconnecting state")
	}

	// No automatic retries out of failed.
	time.Sleep(100 * time.Millisecond)
	if m.State() != models.StateFailed {
		t.Errorf("state left failed without Connect(): %s", m.State())
	}
}

func TestConnectResetsAttemptsAfterFailed(t *testing.T) {
	dialer := &fakeDialer{results: []dialResult{
		{err: errors.New("refused")},
		{err: errors.New("refused")},
		{err: errors.New("refused")},
		{conn: newFakeConn()},
	}}
	m := newTestManager(testStreamConfig(), dialer)
	defer m.Disconnect()

	m.Connect()
	waitFor(t, "failed state", func() bool { return m.State() == models.StateFailed })

	m.Connect()
	waitFor(t, "connected state", func() bool { return m.State() == models.StateConnected })
}

func TestAttemptCounterResetsOnConnected(t *testing.T) {
	dialer := &fakeDialer{results: []dialResult{
		{err: errors.New("refused")},
		{conn: newFakeConn()},
	}}
	m := newTestManager(testStreamConfig(), dialer)
	defer m.Disconnect()

	m.Connect()
	waitFor(t, "connected state", func() bool { return m.State() == models.StateConnected })

	m.mu.Lock()
	attempt := m.attempt
	m.mu.Unlock()
	if attempt != 0 {
		t.Errorf("attempt counter = %d after connect, want 0", attempt)
	}
}

func TestHeartbeatEchoedVerbatim(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{results: []dialResult{{conn: conn}}}
	m := newTestManager(testStreamConfig(), dialer)
	defer m.Disconnect()

	m.Connect()
	waitFor(t, "connected state", func() bool { return m.State() == models.StateConnected })

	conn.push(t, map[string]interface{}{
		"type": "HeartBeat",
		"data": map[string]interface{}{"heartbeat_id": "hb-42"},
	})

	waitFor(t, "heartbeat echo", func() bool {
		for _, write := range conn.writeSnapshot() {
			if write["type"] == "HeartBeat" {
				return true
			}
		}
		return false
	})

	var echo map[string]interface{}
	for _, write := range conn.writeSnapshot() {
		if write["type"] == "HeartBeat" {
			echo = write
		}
	}

	data, _ := echo["data"].(map[string]interface{})
	if data["heartbeat_id"] != "hb-42" {
		t.Errorf("echoed heartbeat_id = %v, want hb-42", data["heartbeat_id"])
	}
	if echo["source"] != "trackd-test" {
		t.Errorf("echo source = %v, want trackd-test", echo["source"])
	}
	if _, ok := echo["ts"].(float64); !ok {
		t.Errorf("echo ts = %v, want numeric timestamp", echo["ts"])
	}
}

func TestReportForwardingAndUnknownTypesDropped(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{results: []dialResult{{conn: conn}}}
	m := newTestManager(testStreamConfig(), dialer)
	defer m.Disconnect()

	var mu sync.Mutex
	var received []map[string]interface{}
	m.OnMessage(func(msg map[string]interface{}) {
		mu.Lock()
		received = append(received, msg)
		mu.Unlock()
	})

	m.Connect()
	waitFor(t, "connected state", func() bool { return m.State() == models.StateConnected })

	conn.push(t, map[string]interface{}{"type": "FutureThing", "payload": "x"})
	conn.push(t, map[string]interface{}{"type": "GISData", "ID": "T1", "X": 10.0, "Y": 20.0})

	waitFor(t, "report delivery", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	})

	mu.Lock()
	defer mu.Unlock()
	if received[0]["ID"] != "T1" {
		t.Errorf("forwarded message = %v", received[0])
	}
}

func TestHeartbeatWatchdogForcesReconnect(t *testing.T) {
	cfg := testStreamConfig()
	cfg.HeartbeatTimeout = 30 * time.Millisecond

	conn := newFakeConn()
	dialer := &fakeDialer{results: []dialResult{{conn: conn}, {conn: newFakeConn()}}}
	m := newTestManager(cfg, dialer)
	defer m.Disconnect()

	m.Connect()
	waitFor(t, "connected state", func() bool { return m.State() == models.StateConnected })

	// No heartbeats arrive; the watchdog must close the socket and reconnect.
	waitFor(t, "second dial", func() bool { return dialer.dialCount() >= 2 })

	if !conn.isClosed() {
		t.Error("stale connection was not force-closed")
	}
}

func TestNormalCloseDoesNotReconnect(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{results: []dialResult{{conn: conn}}}
	m := newTestManager(testStreamConfig(), dialer)

	m.Connect()
	waitFor(t, "connected state", func() bool { return m.State() == models.StateConnected })

	conn.failWith(&websocket.CloseError{Code: websocket.CloseNormalClosure})

	waitFor(t, "disconnected state", func() bool { return m.State() == models.StateDisconnected })

	time.Sleep(60 * time.Millisecond)
	if dialer.dialCount() != 1 {
		t.Errorf("dial count = %d after normal close, want 1", dialer.dialCount())
	}
}

func TestAbnormalCloseReconnects(t *testing.T) {
	first := newFakeConn()
	second := newFakeConn()
	dialer := &fakeDialer{results: []dialResult{{conn: first}, {conn: second}}}
	m := newTestManager(testStreamConfig(), dialer)
	defer m.Disconnect()

	m.Connect()
	waitFor(t, "connected state", func() bool { return m.State() == models.StateConnected })

	first.failWith(&websocket.CloseError{Code: websocket.CloseAbnormalClosure})

	waitFor(t, "reconnected", func() bool {
		return dialer.dialCount() == 2 && m.State() == models.StateConnected
	})
}

func TestDisconnectSendsEndStreamAndAwaitsAck(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{results: []dialResult{{conn: conn}}}
	m := newTestManager(testStreamConfig(), dialer)
	recorder := &stateRecorder{}
	m.OnStateChange(recorder.handle)

	m.Connect()
	waitFor(t, "connected state", func() bool { return m.State() == models.StateConnected })

	// Acknowledge the EndStream as soon as it appears.
	go func() {
		for i := 0; i < 500; i++ {
			for _, write := range conn.writeSnapshot() {
				if write["request"] == "EndStream" {
					reqID, _ := write["reqid"].(string)
					conn.push(t, map[string]interface{}{"type": "response", "reqid": reqID})
					return
				}
			}
			time.Sleep(time.Millisecond)
		}
	}()

	start := time.Now()
	m.Disconnect()
	elapsed := time.Since(start)

	if m.State() != models.StateDisconnected {
		t.Errorf("state = %s after disconnect, want disconnected", m.State())
	}
	if elapsed >= testStreamConfig().DisconnectTimeout {
		t.Errorf("disconnect waited the full timeout (%s) despite an ack", elapsed)
	}
	if !conn.isClosed() {
		t.Error("transport left open after disconnect")
	}

	// No dangling timers: the state must not move again.
	before := len(recorder.snapshot())
	time.Sleep(100 * time.Millisecond)
	if after := len(recorder.snapshot()); after != before {
		t.Errorf("state changed after teardown: %v", recorder.snapshot())
	}
	if dialer.dialCount() != 1 {
		t.Errorf("reconnect fired after explicit disconnect: %d dials", dialer.dialCount())
	}
}

func TestDisconnectTimesOutWithoutAck(t *testing.T) {
	cfg := testStreamConfig()
	cfg.DisconnectTimeout = 30 * time.Millisecond

	conn := newFakeConn()
	dialer := &fakeDialer{results: []dialResult{{conn: conn}}}
	m := newTestManager(cfg, dialer)

	m.Connect()
	waitFor(t, "connected state", func() bool { return m.State() == models.StateConnected })

	m.Disconnect()

	if m.State() != models.StateDisconnected {
		t.Errorf("state = %s, want disconnected even without an ack", m.State())
	}
	if !conn.isClosed() {
		t.Error("transport left open after disconnect timeout")
	}
}

func TestDisconnectIsSafeFromAnyState(t *testing.T) {
	m := newTestManager(testStreamConfig(), &fakeDialer{})

	m.Disconnect()
	if m.State() != models.StateDisconnected {
		t.Errorf("state = %s, want disconnected", m.State())
	}
}

func TestRedirectSecondaryMode(t *testing.T) {
	control := newFakeConn()
	data := newFakeConn()
	dialer := &fakeDialer{results: []dialResult{{conn: control}, {conn: data}}}
	m := newTestManager(testStreamConfig(), dialer)
	defer m.Disconnect()

	var mu sync.Mutex
	var received []map[string]interface{}
	m.OnMessage(func(msg map[string]interface{}) {
		mu.Lock()
		received = append(received, msg)
		mu.Unlock()
	})

	m.Connect()
	waitFor(t, "connected state", func() bool { return m.State() == models.StateConnected })

	control.push(t, map[string]interface{}{"type": "PortRedirect", "port": float64(8101)})

	waitFor(t, "redirect dial", func() bool { return dialer.dialCount() == 2 })

	dialer.mu.Lock()
	redirectURL := dialer.urls[1]
	dialer.mu.Unlock()
	if !strings.Contains(redirectURL, ":8101") {
		t.Errorf("redirect url = %s, want port 8101", redirectURL)
	}

	// Reports flow from the data connection; control stays open for
	// heartbeats.
	data.push(t, map[string]interface{}{"type": "GISData", "ID": "T9", "X": 1.0, "Y": 2.0})

	waitFor(t, "report from data connection", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	})

	if control.isClosed() {
		t.Error("control connection closed in secondary redirect mode")
	}
}

func TestRedirectReplaceMode(t *testing.T) {
	cfg := testStreamConfig()
	cfg.RedirectMode = "replace"

	control := newFakeConn()
	replacement := newFakeConn()
	dialer := &fakeDialer{results: []dialResult{{conn: control}, {conn: replacement}}}
	m := newTestManager(cfg, dialer)
	defer m.Disconnect()

	m.Connect()
	waitFor(t, "connected state", func() bool { return m.State() == models.StateConnected })

	control.push(t, map[string]interface{}{"type": "PortRedirect", "port": float64(8101)})

	waitFor(t, "control replaced", func() bool { return control.isClosed() })

	if m.State() != models.StateConnected {
		t.Errorf("state = %s after replace redirect, want connected", m.State())
	}
}

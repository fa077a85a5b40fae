package curvecare

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

// ============================================================================
// Wire format
// ============================================================================

// Envelope is the wire format for all realtime events and commands.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type realtimeCommand struct {
	Type      string `json:"type"`
	Payload   any    `json:"payload"`
	RequestID string `json:"requestId,omitempty"`
}

// AuthenticatedPayload is the first event on a new connection.
type AuthenticatedPayload struct {
	UserID string `json:"userId"`
}

// MessageBatchPayload carries newly created messages for a subscribed group.
// Only additions are streamed; edits and deletes are picked up by the next
// full fetch.
type MessageBatchPayload struct {
	GroupID  string    `json:"groupId"`
	Messages []Message `json:"messages"`
}

// PongPayload is the response to a ping command.
type PongPayload struct {
	RequestID string `json:"requestId"`
}

// RealtimeErrorPayload is sent when a server-side error occurs.
type RealtimeErrorPayload struct {
	Message string `json:"message"`
}

// ============================================================================
// Configuration
// ============================================================================

// RealtimeConfig configures the realtime client.
type RealtimeConfig struct {
	Token                string
	AutoReconnect        bool
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	HeartbeatInterval    time.Duration
}

func (c *RealtimeConfig) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 25 * time.Second
	}
}

// ErrNotConnected is returned by commands issued while the websocket is down.
var ErrNotConnected = errors.New("realtime: not connected")

// RealtimeState represents the connection state.
type RealtimeState string

const (
	StateDisconnected RealtimeState = "disconnected"
	StateConnecting   RealtimeState = "connecting"
	StateConnected    RealtimeState = "connected"
	StateReconnecting RealtimeState = "reconnecting"
)

// ============================================================================
// Reconnector
// ============================================================================

type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	attempt     int
	connectedAt time.Time
}

func newReconnector(config *RealtimeConfig) *reconnector {
	return &reconnector{
		baseDelay:   config.ReconnectBaseDelay,
		maxDelay:    config.ReconnectMaxDelay,
		maxAttempts: config.MaxReconnectAttempts,
	}
}

func (r *reconnector) shouldReconnect() bool {
	return r.maxAttempts == 0 || r.attempt < r.maxAttempts
}

func (r *reconnector) markConnected() {
	r.connectedAt = time.Now()
}

func (r *reconnector) nextDelay() time.Duration {
	if !r.connectedAt.IsZero() && time.Since(r.connectedAt) > 60*time.Second {
		r.attempt = 0
	}
	jitter := time.Duration(rand.Float64() * float64(r.baseDelay) * 0.5)
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt))+float64(jitter),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

// ============================================================================
// RealtimeClient
// ============================================================================

// rtSub is one active server-side group subscription.
type rtSub struct {
	after   time.Time
	onBatch func([]Message)
}

// RealtimeClient streams group message batches over a websocket, with
// auto-reconnect and heartbeat. It implements the SubscribeFunc contract
// used by LiveManager; subscriptions survive reconnects and resume from the
// newest timestamp each batch advanced to.
type RealtimeClient struct {
	baseURL string
	config  *RealtimeConfig
	log     zerolog.Logger

	mu               sync.Mutex
	conn             *websocket.Conn
	state            RealtimeState
	intentionalClose bool
	cancelFn         context.CancelFunc

	subsMu sync.Mutex
	subs   map[string]*rtSub

	recon *reconnector

	pingCounter  int
	pendingMu    sync.Mutex
	pendingPings map[string]chan PongPayload
}

// NewRealtimeClient creates a realtime client against the given API base
// URL. Call Connect to establish the connection.
func NewRealtimeClient(baseURL string, config *RealtimeConfig) *RealtimeClient {
	cfg := *config
	cfg.defaults()
	return &RealtimeClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		config:       &cfg,
		log:          zerolog.Nop(),
		state:        StateDisconnected,
		subs:         make(map[string]*rtSub),
		recon:        newReconnector(&cfg),
		pendingPings: make(map[string]chan PongPayload),
	}
}

// State returns the current connection state.
func (rc *RealtimeClient) State() RealtimeState {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.state
}

// Connect establishes the websocket connection and performs the
// authentication handshake (the server's first event must be
// "authenticated").
func (rc *RealtimeClient) Connect(ctx context.Context) error {
	rc.mu.Lock()
	if rc.state == StateConnected || rc.state == StateConnecting {
		rc.mu.Unlock()
		return nil
	}
	rc.state = StateConnecting
	rc.intentionalClose = false
	rc.mu.Unlock()

	wsURL := strings.Replace(rc.baseURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL += "/ws?token=" + rc.config.Token

	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		rc.setState(StateDisconnected)
		return fmt.Errorf("websocket dial: %w", err)
	}

	_, data, err := conn.Read(ctx)
	if err != nil {
		conn.Close(websocket.StatusNormalClosure, "")
		rc.setState(StateDisconnected)
		return fmt.Errorf("read auth event: %w", err)
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Type != "authenticated" {
		conn.Close(websocket.StatusNormalClosure, "")
		rc.setState(StateDisconnected)
		return fmt.Errorf("expected 'authenticated', got '%s'", env.Type)
	}

	rc.mu.Lock()
	rc.conn = conn
	rc.state = StateConnected
	rc.mu.Unlock()
	rc.recon.markConnected()

	connCtx, cancel := context.WithCancel(context.Background())
	rc.mu.Lock()
	rc.cancelFn = cancel
	rc.mu.Unlock()

	rc.resubscribeAll(connCtx)

	go rc.readLoop(connCtx)
	go rc.heartbeatLoop(connCtx)

	return nil
}

// Disconnect gracefully closes the connection.
func (rc *RealtimeClient) Disconnect() error {
	rc.mu.Lock()
	rc.intentionalClose = true
	if rc.cancelFn != nil {
		rc.cancelFn()
		rc.cancelFn = nil
	}
	conn := rc.conn
	rc.conn = nil
	rc.state = StateDisconnected
	rc.mu.Unlock()

	rc.clearPendingPings()

	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	return nil
}

// Subscribe starts (or re-registers) a server-side subscription for a group,
// streaming batches of messages created after the given time. The returned
// cancel function stops the subscription. Registration always succeeds; if
// the connection is down the subscription activates on the next reconnect.
func (rc *RealtimeClient) Subscribe(groupID string, after time.Time, onBatch func([]Message)) (func(), error) {
	sub := &rtSub{after: after, onBatch: onBatch}

	rc.subsMu.Lock()
	rc.subs[groupID] = sub
	rc.subsMu.Unlock()

	if rc.State() == StateConnected {
		if err := rc.sendSubscribe(context.Background(), groupID, after); err != nil {
			rc.log.Debug().Err(err).Str("group", groupID).Msg("subscribe command failed; will retry on reconnect")
		}
	}

	cancel := func() {
		rc.subsMu.Lock()
		delete(rc.subs, groupID)
		rc.subsMu.Unlock()

		if rc.State() == StateConnected {
			_ = rc.send(context.Background(), &realtimeCommand{
				Type:    "group.unsubscribe",
				Payload: map[string]string{"groupId": groupID},
			})
		}
	}
	return cancel, nil
}

func (rc *RealtimeClient) sendSubscribe(ctx context.Context, groupID string, after time.Time) error {
	return rc.send(ctx, subscribeCommand(groupID, after))
}

// subscribeCommand scopes the subscription to live (non-deleted) messages
// created after the given time; deletions reach clients through the next
// full fetch, never the stream, including replays after a reconnect.
func subscribeCommand(groupID string, after time.Time) *realtimeCommand {
	return &realtimeCommand{
		Type: "group.subscribe",
		Payload: map[string]any{
			"groupId": groupID,
			"after":   after.UTC().Format(time.RFC3339Nano),
			"limit":   liveBatchLimit,
			"deleted": false,
		},
	}
}

// resubscribeAll re-issues subscribe commands after a (re)connect, resuming
// each group from the newest timestamp it has observed.
func (rc *RealtimeClient) resubscribeAll(ctx context.Context) {
	rc.subsMu.Lock()
	pending := make(map[string]time.Time, len(rc.subs))
	for groupID, sub := range rc.subs {
		pending[groupID] = sub.after
	}
	rc.subsMu.Unlock()

	for groupID, after := range pending {
		if err := rc.sendSubscribe(ctx, groupID, after); err != nil {
			rc.log.Debug().Err(err).Str("group", groupID).Msg("resubscribe failed")
		}
	}
}

// send writes a command to the websocket.
func (rc *RealtimeClient) send(ctx context.Context, cmd *realtimeCommand) error {
	rc.mu.Lock()
	conn := rc.conn
	rc.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// Ping sends a ping and waits for the matching pong.
func (rc *RealtimeClient) Ping(ctx context.Context) (*PongPayload, error) {
	rc.mu.Lock()
	rc.pingCounter++
	requestID := fmt.Sprintf("ping-%d", rc.pingCounter)
	rc.mu.Unlock()

	ch := make(chan PongPayload, 1)
	rc.pendingMu.Lock()
	rc.pendingPings[requestID] = ch
	rc.pendingMu.Unlock()

	err := rc.send(ctx, &realtimeCommand{
		Type:    "ping",
		Payload: map[string]string{"requestId": requestID},
	})
	if err != nil {
		rc.dropPendingPing(requestID)
		return nil, err
	}

	select {
	case pong := <-ch:
		return &pong, nil
	case <-time.After(10 * time.Second):
		rc.dropPendingPing(requestID)
		return nil, fmt.Errorf("ping timeout")
	case <-ctx.Done():
		rc.dropPendingPing(requestID)
		return nil, ctx.Err()
	}
}

func (rc *RealtimeClient) readLoop(ctx context.Context) {
	for {
		rc.mu.Lock()
		conn := rc.conn
		rc.mu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.Read(ctx)
		if err != nil {
			rc.mu.Lock()
			intentional := rc.intentionalClose
			rc.mu.Unlock()
			if intentional {
				return
			}

			rc.teardownConn()
			rc.log.Debug().Err(err).Msg("realtime connection lost")

			if rc.config.AutoReconnect && rc.recon.shouldReconnect() {
				rc.scheduleReconnect()
			}
			return
		}

		var env Envelope
		if json.Unmarshal(data, &env) != nil {
			continue
		}
		rc.dispatch(env)
	}
}

func (rc *RealtimeClient) dispatch(env Envelope) {
	switch env.Type {
	case "message.batch":
		var p MessageBatchPayload
		if json.Unmarshal(env.Payload, &p) != nil {
			return
		}
		rc.subsMu.Lock()
		sub := rc.subs[p.GroupID]
		if sub != nil {
			for _, m := range p.Messages {
				if ts, ok := m.CreatedTime(); ok && ts.After(sub.after) {
					sub.after = ts
				}
			}
		}
		rc.subsMu.Unlock()
		if sub != nil {
			sub.onBatch(p.Messages)
		}

	case "pong":
		var p PongPayload
		if json.Unmarshal(env.Payload, &p) == nil && p.RequestID != "" {
			rc.pendingMu.Lock()
			ch, ok := rc.pendingPings[p.RequestID]
			if ok {
				delete(rc.pendingPings, p.RequestID)
			}
			rc.pendingMu.Unlock()
			if ok {
				ch <- p
			}
		}

	case "error":
		var p RealtimeErrorPayload
		if json.Unmarshal(env.Payload, &p) == nil {
			rc.log.Warn().Str("message", p.Message).Msg("realtime server error")
		}
	}
}

func (rc *RealtimeClient) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(rc.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if rc.State() != StateConnected {
				return
			}

			if _, err := rc.Ping(ctx); err != nil {
				// Heartbeat failed; force close so the read loop notices
				// and reconnects.
				rc.mu.Lock()
				conn := rc.conn
				rc.mu.Unlock()
				if conn != nil {
					conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				}
				return
			}
		}
	}
}

func (rc *RealtimeClient) scheduleReconnect() {
	delay := rc.recon.nextDelay()
	rc.setState(StateReconnecting)
	rc.log.Debug().Dur("delay", delay).Int("attempt", rc.recon.attempt).Msg("realtime reconnecting")

	time.Sleep(delay)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err := rc.Connect(ctx)
	cancel()
	if err != nil {
		if rc.config.AutoReconnect && rc.recon.shouldReconnect() {
			rc.scheduleReconnect()
		} else {
			rc.setState(StateDisconnected)
			rc.log.Warn().Err(err).Msg("realtime reconnect gave up")
		}
	}
}

// teardownConn marks the connection lost and cancels its context so the
// heartbeat and read loops of the dead connection exit instead of outliving
// a fast reconnect.
func (rc *RealtimeClient) teardownConn() {
	rc.mu.Lock()
	rc.state = StateDisconnected
	rc.conn = nil
	if rc.cancelFn != nil {
		rc.cancelFn()
		rc.cancelFn = nil
	}
	rc.mu.Unlock()
}

func (rc *RealtimeClient) setState(s RealtimeState) {
	rc.mu.Lock()
	rc.state = s
	rc.mu.Unlock()
}

func (rc *RealtimeClient) dropPendingPing(requestID string) {
	rc.pendingMu.Lock()
	delete(rc.pendingPings, requestID)
	rc.pendingMu.Unlock()
}

func (rc *RealtimeClient) clearPendingPings() {
	rc.pendingMu.Lock()
	for k, ch := range rc.pendingPings {
		close(ch)
		delete(rc.pendingPings, k)
	}
	rc.pendingMu.Unlock()
}

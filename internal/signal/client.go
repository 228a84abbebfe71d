package signal

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/Shahil-8848/GuffGaff-client/internal/domain"
)

const (
	// handshakeTimeout bounds the websocket dial, matching the relay's
	// transport timeout.
	handshakeTimeout = 20 * time.Second

	// reconnectBackoff is the fixed delay between transport reconnection
	// attempts.
	reconnectBackoff = 2 * time.Second

	// maxReconnectAttempts bounds transport-level reconnection. Once
	// exhausted the channel stays down and Send drops everything.
	maxReconnectAttempts = 5

	pingPeriod = 30 * time.Second
)

// envelope is the wire format for every relay event.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type subscription struct {
	id int
	fn domain.EventHandler
}

// Client is the websocket signaling channel to the relay. It reconnects
// transparently with fixed backoff and a bounded attempt count; consumers
// only observe a connect-error event per failed attempt.
type Client struct {
	url     string
	dialer  *websocket.Dialer
	backoff time.Duration

	// mu guards conn, connected, reconnecting, and serializes writes.
	mu           sync.Mutex
	conn         *websocket.Conn
	connected    bool
	reconnecting bool

	hmu      sync.Mutex
	handlers map[string][]subscription
	nextID   int

	closed    chan struct{}
	closeOnce sync.Once
}

var _ domain.Signaler = (*Client)(nil)

// NewClient creates a signaling client for the given ws:// or wss:// URL.
// The connection is not established until Connect is called.
func NewClient(url string) *Client {
	return &Client{
		url: url,
		dialer: &websocket.Dialer{
			HandshakeTimeout: handshakeTimeout,
		},
		backoff:  reconnectBackoff,
		handlers: make(map[string][]subscription),
		closed:   make(chan struct{}),
	}
}

// Connect dials the relay and starts the read loop. Calling it while
// already connected, or while the internal reconnect loop owns the
// redial, is a no-op: at most one underlying transport exists.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected || c.reconnecting {
		return nil
	}
	select {
	case <-c.closed:
		return fmt.Errorf("signal client closed")
	default:
	}

	log.Debug().Str("module", "signal").Str("url", c.url).Msg("connecting")

	conn, _, err := c.dialer.Dial(c.url, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}
	c.conn = conn
	c.connected = true

	go c.readLoop(conn)
	go c.pingLoop(conn)

	return nil
}

// Connected reports whether the transport is currently up.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Send emits an event with the given payload. If the channel is not
// connected the event is dropped; this client does not queue.
func (c *Client) Send(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("event", event).Msg("marshal payload")
		return
	}
	raw, err := json.Marshal(envelope{Event: event, Data: data})
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("event", event).Msg("marshal envelope")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		log.Debug().Str("module", "signal").Str("event", event).Msg("not connected, event dropped")
		return
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("event", event).Msg("write")
	}
}

// On registers a handler for an event. Handlers fire in registration order.
func (c *Client) On(event string, fn domain.EventHandler) domain.Subscription {
	c.hmu.Lock()
	defer c.hmu.Unlock()

	c.nextID++
	c.handlers[event] = append(c.handlers[event], subscription{id: c.nextID, fn: fn})
	return domain.Subscription{Event: event, ID: c.nextID}
}

// Off removes a handler registered with On.
func (c *Client) Off(sub domain.Subscription) {
	c.hmu.Lock()
	defer c.hmu.Unlock()

	subs := c.handlers[sub.Event]
	for i, s := range subs {
		if s.id == sub.ID {
			c.handlers[sub.Event] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Close shuts down the transport. Idempotent.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	if c.conn != nil {
		c.conn.Close()
	}
}

// readLoop reads and dispatches events until the transport drops, then
// hands off to the reconnect loop.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
				return
			default:
			}
			log.Warn().Err(err).Str("module", "signal").Msg("read error, reconnecting")
			c.mu.Lock()
			c.connected = false
			c.reconnecting = true
			c.mu.Unlock()
			c.reconnect()
			return
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Error().Err(err).Str("module", "signal").Msg("unmarshal envelope")
			continue
		}
		c.dispatch(env.Event, env.Data)
	}
}

// reconnect redials with fixed backoff up to maxReconnectAttempts. Each
// failed attempt surfaces one connect-error event; exhaustion surfaces a
// final connect-error and closes the channel for good.
func (c *Client) reconnect() {
	defer func() {
		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()
	}()

	var lastErr error
	for attempt := 1; attempt <= maxReconnectAttempts; attempt++ {
		select {
		case <-c.closed:
			return
		case <-time.After(c.backoff):
		}

		conn, _, err := c.dialer.Dial(c.url, nil)
		if err != nil {
			lastErr = err
			log.Warn().Err(err).Str("module", "signal").Int("attempt", attempt).Msg("reconnect failed")
			c.emitConnectError(attempt, err)
			continue
		}

		c.mu.Lock()
		select {
		case <-c.closed:
			c.mu.Unlock()
			conn.Close()
			return
		default:
		}
		c.conn = conn
		c.connected = true
		c.mu.Unlock()

		log.Info().Str("module", "signal").Int("attempt", attempt).Msg("reconnected")
		go c.readLoop(conn)
		go c.pingLoop(conn)
		return
	}

	log.Error().Str("module", "signal").Msg("reconnect attempts exhausted")
	c.emitConnectError(maxReconnectAttempts, fmt.Errorf("reconnect attempts exhausted: %w", lastErr))
	c.Close()
}

func (c *Client) emitConnectError(attempt int, err error) {
	data, merr := json.Marshal(domain.ConnectErrorPayload{Attempt: attempt, Error: err.Error()})
	if merr != nil {
		return
	}
	c.dispatch(domain.EventConnectError, data)
}

// dispatch runs handlers for an event in registration order. Events are
// dispatched sequentially from the read loop, so consumers see them in
// arrival order.
func (c *Client) dispatch(event string, data json.RawMessage) {
	c.hmu.Lock()
	subs := make([]subscription, len(c.handlers[event]))
	copy(subs, c.handlers[event])
	c.hmu.Unlock()

	for _, s := range subs {
		s.fn(data)
	}
}

func (c *Client) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.conn != conn || !c.connected {
				c.mu.Unlock()
				return
			}
			err := conn.WriteControl(
				websocket.PingMessage,
				[]byte{},
				time.Now().Add(5*time.Second),
			)
			c.mu.Unlock()
			if err != nil {
				log.Debug().Err(err).Str("module", "signal").Msg("ping error")
				return
			}
		}
	}
}

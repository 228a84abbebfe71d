package signal

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Shahil-8848/GuffGaff-client/internal/domain"
)

// relayStub is a minimal websocket endpoint that records upgrades and
// lets tests push events to the connected client.
type relayStub struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    []*websocket.Conn
	upgrades int
}

func newRelayStub(t *testing.T) *relayStub {
	t.Helper()
	r := &relayStub{}
	r.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := r.upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		r.mu.Lock()
		r.conns = append(r.conns, conn)
		r.upgrades++
		r.mu.Unlock()
	}))
	t.Cleanup(r.srv.Close)
	return r
}

func (r *relayStub) url() string {
	return "ws" + strings.TrimPrefix(r.srv.URL, "http")
}

func (r *relayStub) upgradeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.upgrades
}

// latest returns the most recent client connection, waiting for one to
// appear.
func (r *relayStub) latest(t *testing.T) *websocket.Conn {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		n := len(r.conns)
		var conn *websocket.Conn
		if n > 0 {
			conn = r.conns[n-1]
		}
		r.mu.Unlock()
		if conn != nil {
			return conn
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no client connection")
	return nil
}

func (r *relayStub) push(t *testing.T, event string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	raw, err := json.Marshal(envelope{Event: event, Data: data})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	if err := r.latest(t).WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("push event: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestConnectIsIdempotent(t *testing.T) {
	relay := newRelayStub(t)
	c := NewClient(relay.url())
	defer c.Close()

	if err := c.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := c.Connect(); err != nil {
		t.Fatalf("second connect: %v", err)
	}

	if !c.Connected() {
		t.Error("client not connected")
	}
	if n := relay.upgradeCount(); n != 1 {
		t.Errorf("got %d upgrades, want 1", n)
	}
}

func TestHandlersFireInRegistrationOrder(t *testing.T) {
	relay := newRelayStub(t)
	c := NewClient(relay.url())
	defer c.Close()

	var mu sync.Mutex
	var order []string
	c.On("waiting", func(json.RawMessage) {
		mu.Lock()
		order = append(order, "first")
		mu.Unlock()
	})
	c.On("waiting", func(json.RawMessage) {
		mu.Lock()
		order = append(order, "second")
		mu.Unlock()
	})

	if err := c.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	relay.push(t, "waiting", nil)

	waitFor(t, "both handlers", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	})
	mu.Lock()
	defer mu.Unlock()
	if order[0] != "first" || order[1] != "second" {
		t.Errorf("dispatch order = %v", order)
	}
}

func TestHandlerReceivesPayload(t *testing.T) {
	relay := newRelayStub(t)
	c := NewClient(relay.url())
	defer c.Close()

	var mu sync.Mutex
	var got domain.MatchPayload
	var seen bool
	c.On(domain.EventMatch, func(data json.RawMessage) {
		mu.Lock()
		defer mu.Unlock()
		if err := json.Unmarshal(data, &got); err != nil {
			t.Errorf("unmarshal match: %v", err)
		}
		seen = true
	})

	if err := c.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	relay.push(t, domain.EventMatch, domain.MatchPayload{PartnerID: "partner-1"})

	waitFor(t, "match event", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen
	})
	mu.Lock()
	defer mu.Unlock()
	if got.PartnerID != "partner-1" {
		t.Errorf("partner id = %q", got.PartnerID)
	}
}

func TestOffRemovesHandler(t *testing.T) {
	relay := newRelayStub(t)
	c := NewClient(relay.url())
	defer c.Close()

	var calls int32
	var mu sync.Mutex
	sub := c.On("waiting", func(json.RawMessage) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	var kept int32
	c.On("waiting", func(json.RawMessage) {
		mu.Lock()
		kept++
		mu.Unlock()
	})
	c.Off(sub)

	if err := c.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	relay.push(t, "waiting", nil)

	waitFor(t, "remaining handler", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return kept == 1
	})
	mu.Lock()
	defer mu.Unlock()
	if calls != 0 {
		t.Errorf("removed handler fired %d times", calls)
	}
}

func TestSendDeliversEnvelope(t *testing.T) {
	relay := newRelayStub(t)
	c := NewClient(relay.url())
	defer c.Close()

	if err := c.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	c.Send(domain.EventOffer, domain.OfferPayload{
		PeerID: "self",
		Offer:  domain.SDPPayload{Type: "offer", SDP: "v=0"},
	})

	conn := relay.latest(t)
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("server read: %v", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Event != domain.EventOffer {
		t.Errorf("event = %q", env.Event)
	}
	var p domain.OfferPayload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	if p.PeerID != "self" || p.Offer.SDP != "v=0" {
		t.Errorf("payload = %+v", p)
	}
}

func TestSendWhileDisconnectedDrops(t *testing.T) {
	c := NewClient("ws://127.0.0.1:1/ws")
	defer c.Close()

	// Must not panic or block.
	c.Send(domain.EventFindMatch, nil)
	if c.Connected() {
		t.Error("client claims connected")
	}
}

func TestReconnectAfterTransportDrop(t *testing.T) {
	relay := newRelayStub(t)
	c := NewClient(relay.url())
	c.backoff = 10 * time.Millisecond
	defer c.Close()

	var mu sync.Mutex
	var seen bool
	c.On("waiting", func(json.RawMessage) {
		mu.Lock()
		seen = true
		mu.Unlock()
	})

	if err := c.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}

	relay.latest(t).Close()

	waitFor(t, "second upgrade", func() bool { return relay.upgradeCount() >= 2 })
	waitFor(t, "connected again", c.Connected)

	relay.push(t, "waiting", nil)
	waitFor(t, "event on new transport", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen
	})
}

func TestReconnectExhaustionClosesChannel(t *testing.T) {
	relay := newRelayStub(t)
	c := NewClient(relay.url())
	c.backoff = 10 * time.Millisecond
	defer c.Close()

	var mu sync.Mutex
	var got []domain.ConnectErrorPayload
	c.On(domain.EventConnectError, func(data json.RawMessage) {
		var p domain.ConnectErrorPayload
		if err := json.Unmarshal(data, &p); err != nil {
			t.Errorf("unmarshal connect error: %v", err)
			return
		}
		mu.Lock()
		got = append(got, p)
		mu.Unlock()
	})

	if err := c.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}

	// Stop accepting redials, then drop the live connection so the read
	// loop notices and every reconnect attempt fails.
	relay.srv.Listener.Close()
	relay.latest(t).Close()

	waitFor(t, "exhausted reconnect attempts", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) >= maxReconnectAttempts+1
	})
	mu.Lock()
	if len(got) != maxReconnectAttempts+1 {
		t.Fatalf("got %d connect-error events, want %d", len(got), maxReconnectAttempts+1)
	}
	for i := 0; i < maxReconnectAttempts; i++ {
		if got[i].Attempt != i+1 {
			t.Errorf("attempt %d reported as %d", i+1, got[i].Attempt)
		}
	}
	final := got[maxReconnectAttempts]
	mu.Unlock()
	if final.Attempt != maxReconnectAttempts {
		t.Errorf("final attempt = %d, want %d", final.Attempt, maxReconnectAttempts)
	}
	if !strings.Contains(final.Error, "exhausted") {
		t.Errorf("final error = %q, want exhaustion notice", final.Error)
	}

	if c.Connected() {
		t.Error("client claims connected after exhausting attempts")
	}
	if err := c.Connect(); err == nil {
		t.Error("connect succeeded on an exhausted channel")
	}
}

func TestConnectDuringReconnectIsNoOp(t *testing.T) {
	relay := newRelayStub(t)
	c := NewClient(relay.url())
	c.backoff = 300 * time.Millisecond
	defer c.Close()

	if err := c.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	relay.latest(t).Close()

	waitFor(t, "drop noticed", func() bool { return !c.Connected() })

	// Mid-backoff the reconnect loop owns the redial; Connect must not
	// open a second transport alongside it.
	if err := c.Connect(); err != nil {
		t.Fatalf("connect during reconnect: %v", err)
	}
	if n := relay.upgradeCount(); n != 1 {
		t.Fatalf("connect dialed a second transport: %d upgrades", n)
	}

	waitFor(t, "reconnected", c.Connected)
	if n := relay.upgradeCount(); n != 2 {
		t.Errorf("got %d upgrades, want 2", n)
	}
}

func TestConnectAfterCloseFails(t *testing.T) {
	relay := newRelayStub(t)
	c := NewClient(relay.url())

	if err := c.Connect(); err != nil {
		t.Fatalf("connect: %v", err)
	}
	c.Close()
	c.Close()

	if err := c.Connect(); err == nil {
		t.Fatal("connect after close succeeded")
	}
}

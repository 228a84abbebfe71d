package relay

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/Shahil-8848/GuffGaff-client/internal/domain"
)

type sentEvent struct {
	event   string
	payload any
}

// mockSignaler is an in-process Signaler: Send records, emit dispatches to
// registered handlers the way the transport would.
type mockSignaler struct {
	mu       sync.Mutex
	sent     []sentEvent
	handlers map[string][]handlerEntry
	nextID   int
}

type handlerEntry struct {
	id int
	fn domain.EventHandler
}

func newMockSignaler() *mockSignaler {
	return &mockSignaler{handlers: make(map[string][]handlerEntry)}
}

func (m *mockSignaler) Connect() error  { return nil }
func (m *mockSignaler) Connected() bool { return true }
func (m *mockSignaler) Close()          {}

func (m *mockSignaler) Send(event string, payload any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentEvent{event: event, payload: payload})
}

func (m *mockSignaler) On(event string, fn domain.EventHandler) domain.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.handlers[event] = append(m.handlers[event], handlerEntry{id: m.nextID, fn: fn})
	return domain.Subscription{Event: event, ID: m.nextID}
}

func (m *mockSignaler) Off(sub domain.Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.handlers[sub.Event]
	for i, e := range entries {
		if e.id == sub.ID {
			m.handlers[sub.Event] = append(entries[:i:i], entries[i+1:]...)
			return
		}
	}
}

func (m *mockSignaler) emit(t *testing.T, event string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal %s: %v", event, err)
	}
	m.mu.Lock()
	entries := make([]handlerEntry, len(m.handlers[event]))
	copy(entries, m.handlers[event])
	m.mu.Unlock()
	for _, e := range entries {
		e.fn(data)
	}
}

func (m *mockSignaler) sentEvents(event string) []sentEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []sentEvent
	for _, e := range m.sent {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

func TestInboundChatForwarded(t *testing.T) {
	sig := newMockSignaler()
	var got []domain.ChatMessage
	a := New(sig, "self", func(msg domain.ChatMessage) { got = append(got, msg) }, nil)
	a.Start()
	defer a.Close()

	sig.emit(t, domain.EventChatMessage, domain.ChatMessage{
		Text: "hello", Timestamp: 1700000000000, Sender: "partner",
	})

	if len(got) != 1 {
		t.Fatalf("got %d chat messages, want 1", len(got))
	}
	if got[0].Text != "hello" || got[0].Sender != "partner" {
		t.Errorf("message = %+v", got[0])
	}
}

func TestSendChatStampsMessage(t *testing.T) {
	sig := newMockSignaler()
	a := New(sig, "self-id", nil, nil)
	a.Start()
	defer a.Close()

	a.SendChat("  hi there  ")

	sent := sig.sentEvents(domain.EventChatMessage)
	if len(sent) != 1 {
		t.Fatalf("got %d sends, want 1", len(sent))
	}
	msg, ok := sent[0].payload.(domain.ChatMessage)
	if !ok {
		t.Fatalf("payload type %T", sent[0].payload)
	}
	if msg.Text != "hi there" {
		t.Errorf("text = %q, want trimmed", msg.Text)
	}
	if msg.Sender != "self-id" {
		t.Errorf("sender = %q", msg.Sender)
	}
	if msg.Timestamp == 0 {
		t.Error("timestamp not stamped")
	}
}

func TestSendChatDropsBlank(t *testing.T) {
	sig := newMockSignaler()
	a := New(sig, "self", nil, nil)
	a.Start()
	defer a.Close()

	a.SendChat("")
	a.SendChat("   \t ")

	if sent := sig.sentEvents(domain.EventChatMessage); len(sent) != 0 {
		t.Fatalf("blank messages sent: %d", len(sent))
	}
}

func TestStatsCachedAndForwarded(t *testing.T) {
	sig := newMockSignaler()
	var got []domain.StatsUpdate
	a := New(sig, "self", nil, func(s domain.StatsUpdate) { got = append(got, s) })
	a.Start()
	defer a.Close()

	if s := a.Stats(); s != (domain.StatsUpdate{}) {
		t.Errorf("initial stats = %+v", s)
	}

	sig.emit(t, domain.EventStatsUpdate, domain.StatsUpdate{
		TotalUsers: 10, WaitingUsers: 3, ActivePartnerships: 2,
	})

	if len(got) != 1 {
		t.Fatalf("got %d stats callbacks, want 1", len(got))
	}
	if s := a.Stats(); s.TotalUsers != 10 || s.WaitingUsers != 3 || s.ActivePartnerships != 2 {
		t.Errorf("cached stats = %+v", s)
	}
}

func TestBadPayloadIgnored(t *testing.T) {
	sig := newMockSignaler()
	var chats int
	a := New(sig, "self", func(domain.ChatMessage) { chats++ }, nil)
	a.Start()
	defer a.Close()

	sig.mu.Lock()
	entries := append([]handlerEntry(nil), sig.handlers[domain.EventChatMessage]...)
	sig.mu.Unlock()
	for _, e := range entries {
		e.fn(json.RawMessage(`{not json`))
	}

	if chats != 0 {
		t.Errorf("malformed payload reached callback %d times", chats)
	}
}

func TestCloseUnsubscribes(t *testing.T) {
	sig := newMockSignaler()
	var chats int
	a := New(sig, "self", func(domain.ChatMessage) { chats++ }, nil)
	a.Start()
	a.Close()
	a.Close()

	sig.emit(t, domain.EventChatMessage, domain.ChatMessage{Text: "late"})
	if chats != 0 {
		t.Errorf("closed adapter received %d messages", chats)
	}
}

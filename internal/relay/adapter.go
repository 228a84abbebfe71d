// Package relay forwards text messages and aggregate usage counters
// between the signaling channel and presentation. It carries no
// negotiation logic.
package relay

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Shahil-8848/GuffGaff-client/internal/domain"
)

// Adapter bridges chat-message and stats-update events to presentation
// callbacks and sends outbound chat.
type Adapter struct {
	signaler domain.Signaler
	selfID   string

	onChat  func(domain.ChatMessage)
	onStats func(domain.StatsUpdate)

	mu    sync.Mutex
	stats domain.StatsUpdate
	subs  []domain.Subscription
}

// New creates an adapter. Either callback may be nil.
func New(signaler domain.Signaler, selfID string, onChat func(domain.ChatMessage), onStats func(domain.StatsUpdate)) *Adapter {
	return &Adapter{
		signaler: signaler,
		selfID:   selfID,
		onChat:   onChat,
		onStats:  onStats,
	}
}

// Start subscribes to the relayed events.
func (a *Adapter) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.subs = []domain.Subscription{
		a.signaler.On(domain.EventChatMessage, a.onChatMessage),
		a.signaler.On(domain.EventStatsUpdate, a.onStatsUpdate),
	}
}

// SendChat stamps and emits a text message. Blank messages are dropped.
func (a *Adapter) SendChat(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	a.signaler.Send(domain.EventChatMessage, domain.ChatMessage{
		Text:      text,
		Timestamp: time.Now().UnixMilli(),
		Sender:    a.selfID,
	})
}

// Stats returns the last aggregate counters received from the relay.
func (a *Adapter) Stats() domain.StatsUpdate {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// Close removes the subscriptions. Idempotent.
func (a *Adapter) Close() {
	a.mu.Lock()
	subs := a.subs
	a.subs = nil
	a.mu.Unlock()

	for _, sub := range subs {
		a.signaler.Off(sub)
	}
}

func (a *Adapter) onChatMessage(data json.RawMessage) {
	var msg domain.ChatMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("bad chat payload")
		return
	}
	if a.onChat != nil {
		a.onChat(msg)
	}
}

func (a *Adapter) onStatsUpdate(data json.RawMessage) {
	var stats domain.StatsUpdate
	if err := json.Unmarshal(data, &stats); err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("bad stats payload")
		return
	}
	a.mu.Lock()
	a.stats = stats
	a.mu.Unlock()
	if a.onStats != nil {
		a.onStats(stats)
	}
}

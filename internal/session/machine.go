package session

import (
	"fmt"
	"sync"

	rtc "github.com/Shahil-8848/GuffGaff-client/internal/webrtc"
)

// State is the session lifecycle state. Illegal combinations such as
// connected-and-waiting are unrepresentable: every Status field derives
// from exactly one State.
type State int

const (
	StateIdle State = iota
	StateWaiting
	StateNegotiating
	StateConnected
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaiting:
		return "waiting"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Status is the read-mostly snapshot consumed by presentation. Only the
// Machine writes it; all other components report events.
type Status struct {
	State             State
	IsConnected       bool
	IsWaiting         bool
	StatusText        string
	ErrText           string
	Initiator         bool
	ReconnectAttempts int
}

// Event is a report from one of the session's components.
type Event interface{ isEvent() }

type SearchStarted struct{}
type RelayWaiting struct{}
type PartnerMatched struct{ Initiator bool }
type NegotiationStarted struct{}
type NegotiationFailed struct{ Err error }
type IceConnected struct{}
type IceInterrupted struct{}
type IceFailed struct{}
type PartnerLeft struct{}
type SignalLost struct{ Err error }
type Fatal struct{ Err error }
type SessionClosed struct{}

func (SearchStarted) isEvent()      {}
func (RelayWaiting) isEvent()       {}
func (PartnerMatched) isEvent()     {}
func (NegotiationStarted) isEvent() {}
func (NegotiationFailed) isEvent()  {}
func (IceConnected) isEvent()       {}
func (IceInterrupted) isEvent()     {}
func (IceFailed) isEvent()          {}
func (PartnerLeft) isEvent()        {}
func (SignalLost) isEvent()         {}
func (Fatal) isEvent()              {}
func (SessionClosed) isEvent()      {}

// Machine reduces component events into the Status snapshot. Events that
// are not legal in the current state are ignored.
type Machine struct {
	ceiling int

	mu         sync.Mutex
	state      State
	initiator  bool
	attempts   int
	statusText string
	errText    string
	listener   func(Status)
}

// NewMachine creates a machine in the Idle state with the standard
// reconnect ceiling.
func NewMachine() *Machine {
	return &Machine{ceiling: rtc.ReconnectCeiling, statusText: "Idle"}
}

// SetListener registers a callback fired after every applied event, with
// the fresh snapshot.
func (m *Machine) SetListener(fn func(Status)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listener = fn
}

// Status returns the current snapshot.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusLocked()
}

// CanFindPartner reports whether a find-new-partner request is accepted.
// Requests are rejected while waiting for a match or mid-negotiation.
func (m *Machine) CanFindPartner() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state != StateWaiting && m.state != StateNegotiating
}

// Apply reduces one event into the snapshot and returns it.
func (m *Machine) Apply(ev Event) Status {
	m.mu.Lock()

	switch ev := ev.(type) {
	case SearchStarted:
		if m.state != StateWaiting && m.state != StateNegotiating {
			m.state = StateWaiting
			m.initiator = false
			m.errText = ""
			m.statusText = "Looking for a partner"
		}

	case RelayWaiting:
		if m.state == StateWaiting {
			m.statusText = "Waiting for a partner"
		}

	case PartnerMatched:
		if m.state == StateWaiting || m.state == StateIdle {
			m.state = StateNegotiating
			m.initiator = ev.Initiator
			m.statusText = "Partner found, connecting"
		}

	case NegotiationStarted:
		if m.state == StateConnected {
			m.state = StateNegotiating
			m.statusText = "Renegotiating connection"
		}

	case NegotiationFailed:
		// Non-fatal: the handle stays intact for a later attempt.
		m.errText = ev.Err.Error()
		m.statusText = "Negotiation error"

	case IceConnected:
		if m.state == StateNegotiating || m.state == StateReconnecting || m.state == StateConnected {
			m.state = StateConnected
			m.attempts = 0
			m.errText = ""
			m.statusText = "Connected to partner"
		}

	case IceInterrupted:
		if m.state == StateConnected || m.state == StateNegotiating {
			m.statusText = "Connection interrupted, attempting to restore"
		}

	case IceFailed:
		if m.state == StateNegotiating || m.state == StateConnected || m.state == StateReconnecting {
			if m.attempts < m.ceiling {
				m.attempts++
				m.state = StateReconnecting
				m.statusText = "Connection lost, finding a new partner"
			} else {
				m.state = StateFailed
				m.errText = fmt.Sprintf("connection failed after %d attempts", m.attempts)
				m.statusText = "Connection failed"
			}
		}

	case PartnerLeft:
		if m.state != StateIdle {
			m.state = StateIdle
			m.initiator = false
			m.statusText = "Partner left"
		}

	case SignalLost:
		m.statusText = "Signaling connection lost, retrying"
		m.errText = ev.Err.Error()

	case Fatal:
		m.state = StateFailed
		m.errText = ev.Err.Error()
		m.statusText = "Session failed"

	case SessionClosed:
		m.state = StateIdle
		m.initiator = false
		m.statusText = "Disconnected"
	}

	st := m.statusLocked()
	listener := m.listener
	m.mu.Unlock()

	if listener != nil {
		listener(st)
	}
	return st
}

func (m *Machine) statusLocked() Status {
	return Status{
		State:             m.state,
		IsConnected:       m.state == StateConnected,
		IsWaiting:         m.state == StateWaiting,
		StatusText:        m.statusText,
		ErrText:           m.errText,
		Initiator:         m.initiator,
		ReconnectAttempts: m.attempts,
	}
}
